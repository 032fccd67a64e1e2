// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat manages conversation state: sessions, transcripts,
// persistence, and the streaming consumer that folds completion
// deltas into committed messages.
//
// State lives behind the Store interface (memory, flat files, or
// SQLite); every mutation persists synchronously. Completions run
// outside the Manager lock and commit under a per-session generation
// counter, so a response that outlives its conversation (cleared,
// edited, regenerated, switched away) is dropped instead of landing
// in the wrong place.
package chat
