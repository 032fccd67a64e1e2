// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package prompt assembles the grounding system prompt sent upstream.
package prompt

import "strings"

// System builds the system prompt from the assembled knowledge blob
// and optional custom instructions. It is a pure function: the same
// inputs always produce the same prompt.
//
// The custom section is appended only when custom is non-empty after
// trimming; otherwise the output is exactly the base template.
func System(knowledge, custom string) string {
	var sb strings.Builder
	sb.WriteString("You are a helpful and knowledgeable AI assistant. Your responses should be based on the following knowledge base. Be concise, friendly, and accurate.\n\n")
	sb.WriteString("KNOWLEDGE BASE:\n")
	sb.WriteString(knowledge)
	sb.WriteString("\n\nINSTRUCTIONS:\n")
	sb.WriteString("- Answer questions based on the knowledge provided above\n")
	sb.WriteString("- Be concise and clear (aim for 2-4 sentences unless more detail is needed)\n")
	sb.WriteString("- Be friendly and professional in tone\n")
	sb.WriteString("- If asked about something not in your knowledge base, politely say you don't have that information\n")
	sb.WriteString("- Never make up information that isn't in your knowledge base\n")
	sb.WriteString("- Format responses nicely with markdown when helpful\n")
	sb.WriteString("- You have access to the conversation history - use it to maintain context")

	if trimmed := strings.TrimSpace(custom); trimmed != "" {
		sb.WriteString("\n\nADDITIONAL INSTRUCTIONS FROM USER:\n")
		sb.WriteString(trimmed)
	}
	return sb.String()
}

// Improve is the instruction wrapper used by the prompt-improvement
// endpoint: it asks the model to rewrite a user prompt to be clearer
// and more specific, returning only the rewritten prompt.
func Improve(raw string) string {
	return "Please improve and enhance this prompt to be clearer, more specific, and more effective. " +
		"Only return the improved prompt itself, nothing else - no explanations, no quotes, just the improved prompt text:\n\n" + raw
}
