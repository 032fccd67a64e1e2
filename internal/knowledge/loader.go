// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package knowledge loads the local knowledge base that grounds every
// chat completion.
//
// The knowledge base is a flat directory of .md and .txt files. Load
// concatenates them into a single blob with per-file delimiters, so
// the prompt assembler can drop it straight into the system prompt.
// Load never fails: an unreadable directory or an empty one yields a
// sentinel string the model can relay to the user.
package knowledge

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Sentinel blobs returned when knowledge cannot be assembled.
const (
	// NoFiles is returned when the directory holds no .md or .txt files.
	NoFiles = "No knowledge files found."
	// Unavailable is returned when the directory cannot be read at all.
	Unavailable = "Knowledge base unavailable."
)

// Loader provides the assembled knowledge blob. Implementations may
// cache; Load on the zero-cost DirLoader re-reads every call.
type Loader interface {
	Knowledge() string
}

// Load reads every .md and .txt file directly under dir (sorted by
// filename) and concatenates them as:
//
//	\n--- <filename> ---\n<content>\n
//
// Files that fail to read are skipped. Content is normalized to
// Unicode NFC so the assembled blob is byte-stable across
// differently-encoded sources. Load never returns an error.
func Load(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Unavailable
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if ext == ".md" || ext == ".txt" {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return NoFiles
	}
	sort.Strings(names)

	var sb strings.Builder
	loaded := 0
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		sb.WriteString("\n--- ")
		sb.WriteString(name)
		sb.WriteString(" ---\n")
		sb.WriteString(norm.NFC.String(string(data)))
		sb.WriteString("\n")
		loaded++
	}
	if loaded == 0 {
		return NoFiles
	}
	return sb.String()
}

// DirLoader is the stateless Loader: every call re-reads the
// directory. Use Watcher for a cached variant.
type DirLoader struct {
	Dir string
}

// Knowledge implements Loader.
func (d DirLoader) Knowledge() string {
	return Load(d.Dir)
}
