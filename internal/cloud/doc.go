// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cloud talks to the OpenRouter chat completions API.
//
// Client.Chat returns a complete trimmed answer; Client.ChatStream
// returns the raw SSE body for the sse package to reframe.
// BuildMessages applies the history rule (last 20 entries, user and
// assistant roles only, idempotent user-message append) that every
// upstream request goes through.
package cloud
