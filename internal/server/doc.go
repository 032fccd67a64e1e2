// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server implements the kbchat HTTP API: knowledge-grounded
// chat completions (JSON and SSE streaming), prompt improvement, and
// the model catalog, behind a recovery/security/logging/rate-limit
// middleware chain.
package server
