// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package prompt

import (
	"strings"
	"testing"
)

func TestSystem_ContainsKnowledge(t *testing.T) {
	got := System("--- faq.md ---\nWidgets cost $5.", "")

	if !strings.Contains(got, "KNOWLEDGE BASE:\n--- faq.md ---\nWidgets cost $5.") {
		t.Errorf("knowledge blob not embedded:\n%s", got)
	}
	if !strings.HasPrefix(got, "You are a helpful and knowledgeable AI assistant.") {
		t.Errorf("unexpected prompt opening:\n%s", got)
	}
}

func TestSystem_NoCustomSectionWhenEmpty(t *testing.T) {
	for _, custom := range []string{"", "   ", "\n\t "} {
		got := System("kb", custom)
		if strings.Contains(got, "ADDITIONAL INSTRUCTIONS FROM USER:") {
			t.Errorf("custom section present for custom=%q", custom)
		}
		if !strings.HasSuffix(got, "use it to maintain context") {
			t.Errorf("prompt should end with the base template for custom=%q", custom)
		}
	}
}

func TestSystem_AppendsTrimmedCustom(t *testing.T) {
	got := System("kb", "  Always answer in French.  ")

	if !strings.HasSuffix(got, "ADDITIONAL INSTRUCTIONS FROM USER:\nAlways answer in French.") {
		t.Errorf("custom section missing or untrimmed:\n%s", got)
	}
}

func TestSystem_Pure(t *testing.T) {
	a := System("kb", "custom")
	b := System("kb", "custom")
	if a != b {
		t.Error("System is not deterministic")
	}
}

func TestImprove_WrapsPrompt(t *testing.T) {
	got := Improve("tell me about widgets")
	if !strings.HasSuffix(got, ":\n\ntell me about widgets") {
		t.Errorf("Improve = %q", got)
	}
	if !strings.HasPrefix(got, "Please improve and enhance this prompt") {
		t.Errorf("Improve = %q", got)
	}
}
