// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package knowledge

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

// =============================================================================
// LOAD TESTS
// =============================================================================

func TestLoad_ConcatenatesWithDelimiters(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "about.md", "We sell widgets.")
	writeFile(t, dir, "faq.txt", "Q: how?\nA: yes.")

	got := Load(dir)

	want := "\n--- about.md ---\nWe sell widgets.\n" +
		"\n--- faq.txt ---\nQ: how?\nA: yes.\n"
	if got != want {
		t.Errorf("Load = %q, want %q", got, want)
	}
}

func TestLoad_SortedByFilename(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "zz.md", "last")
	writeFile(t, dir, "aa.md", "first")

	got := Load(dir)
	if strings.Index(got, "aa.md") > strings.Index(got, "zz.md") {
		t.Errorf("files not sorted: %q", got)
	}
}

func TestLoad_IgnoresOtherExtensions(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "notes.md", "kept")
	writeFile(t, dir, "image.png", "binary")
	writeFile(t, dir, "data.json", "{}")

	got := Load(dir)
	if strings.Contains(got, "image.png") || strings.Contains(got, "data.json") {
		t.Errorf("non-knowledge files included: %q", got)
	}
	if !strings.Contains(got, "kept") {
		t.Errorf("markdown file missing: %q", got)
	}
}

func TestLoad_EmptyDirSentinel(t *testing.T) {
	got := Load(t.TempDir())
	if got != NoFiles {
		t.Errorf("Load = %q, want %q", got, NoFiles)
	}
}

func TestLoad_OnlyIgnoredFilesSentinel(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "readme.html", "<p>hi</p>")

	if got := Load(dir); got != NoFiles {
		t.Errorf("Load = %q, want %q", got, NoFiles)
	}
}

func TestLoad_MissingDirSentinel(t *testing.T) {
	got := Load(filepath.Join(t.TempDir(), "does-not-exist"))
	if got != Unavailable {
		t.Errorf("Load = %q, want %q", got, Unavailable)
	}
}

func TestLoad_SkipsSubdirectories(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "nested.md"), 0755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, dir, "top.md", "top level")

	got := Load(dir)
	if !strings.Contains(got, "top level") {
		t.Errorf("top-level file missing: %q", got)
	}
	if strings.Contains(got, "--- nested.md ---") {
		t.Errorf("directory was concatenated as a file: %q", got)
	}
}

func TestLoad_NormalizesToNFC(t *testing.T) {
	dir := t.TempDir()
	// "é" as 'e' + combining acute (NFD).
	writeFile(t, dir, "accents.txt", "café")

	got := Load(dir)
	if !strings.Contains(got, "café") {
		t.Errorf("content not NFC-normalized: %q", got)
	}
}

func TestDirLoader(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.md", "v1")

	l := DirLoader{Dir: dir}
	if !strings.Contains(l.Knowledge(), "v1") {
		t.Fatal("initial load missing content")
	}

	// Stateless loader sees changes immediately.
	writeFile(t, dir, "a.md", "v2")
	if !strings.Contains(l.Knowledge(), "v2") {
		t.Error("DirLoader did not re-read changed file")
	}
}

// =============================================================================
// WATCHER TESTS
// =============================================================================

func TestWatcher_CachesAndInvalidates(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.md", "v1")

	w, err := NewWatcher(dir, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Close()
	if err := w.Watch(); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	if !strings.Contains(w.Knowledge(), "v1") {
		t.Fatal("initial knowledge missing content")
	}

	writeFile(t, dir, "a.md", "v2")
	w.Invalidate()
	time.Sleep(20 * time.Millisecond)

	if !strings.Contains(w.Knowledge(), "v2") {
		t.Error("knowledge not reloaded after invalidation")
	}
}

func TestWatcher_ServesStaleDuringDebounce(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.md", "v1")

	w, err := NewWatcher(dir, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if !strings.Contains(w.Knowledge(), "v1") {
		t.Fatal("initial knowledge missing content")
	}

	writeFile(t, dir, "a.md", "v2")
	w.Invalidate()

	// Inside the debounce window the cached blob is returned.
	if !strings.Contains(w.Knowledge(), "v1") {
		t.Error("expected stale blob during debounce window")
	}
}

func TestWatcher_ColdCacheLoadsDespiteDebounce(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.md", "v1")

	w, err := NewWatcher(dir, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	// With nothing cached yet there is no stale blob to serve; the
	// first read loads regardless of a pending invalidation.
	w.Invalidate()
	if !strings.Contains(w.Knowledge(), "v1") {
		t.Error("cold cache should load immediately")
	}
}
