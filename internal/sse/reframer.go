// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package sse reframes the upstream completion event stream into the
// simplified events kbchat serves to its own clients.
//
// The upstream speaks OpenAI-style server-sent events: lines of
// "data: <json>" where the JSON carries choices[0].delta.content,
// terminated by "data: [DONE]". A Reframer consumes raw network
// chunks at arbitrary boundaries, buffering partial lines, and emits
// one Event per content delta plus a terminal Event for [DONE].
package sse

import (
	"bytes"
	"encoding/json"
	"io"
)

// dataPrefix marks payload lines in the upstream stream.
var dataPrefix = []byte("data: ")

// doneSentinel terminates the upstream stream.
const doneSentinel = "[DONE]"

// Event is a reframed stream event: either a content delta or the
// terminal marker.
type Event struct {
	Content string `json:"content,omitempty"`
	Done    bool   `json:"-"`
}

// streamChunk mirrors the subset of the upstream delta frame we use.
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Reframer is a stateful transducer over raw upstream bytes. It is
// not safe for concurrent use; each stream gets its own Reframer.
type Reframer struct {
	buf  []byte
	done bool
}

// NewReframer returns a fresh Reframer.
func NewReframer() *Reframer {
	return &Reframer{}
}

// Done reports whether the terminal event has been emitted. Once
// done, Feed ignores all further input.
func (r *Reframer) Done() bool {
	return r.done
}

// Feed consumes a chunk of raw upstream bytes and returns the events
// completed by it. A line split across chunks produces its event only
// when its trailing newline arrives; feeding byte-by-byte yields the
// same events as feeding the whole stream at once.
func (r *Reframer) Feed(chunk []byte) []Event {
	if r.done {
		return nil
	}
	r.buf = append(r.buf, chunk...)

	var events []Event
	for {
		i := bytes.IndexByte(r.buf, '\n')
		if i < 0 {
			return events
		}
		line := r.buf[:i]
		r.buf = r.buf[i+1:]

		ev, ok := r.parseLine(line)
		if !ok {
			continue
		}
		events = append(events, ev)
		if ev.Done {
			r.buf = nil
			return events
		}
	}
}

// Close processes any buffered trailing line (a final payload the
// upstream sent without a newline) and returns its events.
func (r *Reframer) Close() []Event {
	if r.done || len(r.buf) == 0 {
		return nil
	}
	line := r.buf
	r.buf = nil
	if ev, ok := r.parseLine(line); ok {
		return []Event{ev}
	}
	return nil
}

// parseLine turns one complete line into an event. Lines without the
// data prefix, payloads with malformed JSON, and empty deltas all
// yield no event.
func (r *Reframer) parseLine(line []byte) (Event, bool) {
	line = bytes.TrimSuffix(line, []byte("\r"))
	if !bytes.HasPrefix(line, dataPrefix) {
		return Event{}, false
	}
	payload := bytes.TrimSpace(line[len(dataPrefix):])

	if string(payload) == doneSentinel {
		r.done = true
		return Event{Done: true}, true
	}

	var chunk streamChunk
	if err := json.Unmarshal(payload, &chunk); err != nil {
		// Malformed frames are dropped; the stream goes on.
		return Event{}, false
	}
	if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
		return Event{}, false
	}
	return Event{Content: chunk.Choices[0].Delta.Content}, true
}

// Pipe drives reader through a fresh Reframer, calling emit for every
// event. It returns after the terminal event, at end of stream, or on
// the first error from reader or emit.
func Pipe(reader io.Reader, emit func(Event) error) error {
	r := NewReframer()
	buf := make([]byte, 4096)

	for {
		n, err := reader.Read(buf)
		if n > 0 {
			for _, ev := range r.Feed(buf[:n]) {
				if emitErr := emit(ev); emitErr != nil {
					return emitErr
				}
				if ev.Done {
					return nil
				}
			}
		}
		if err == io.EOF {
			for _, ev := range r.Close() {
				if emitErr := emit(ev); emitErr != nil {
					return emitErr
				}
			}
			return nil
		}
		if err != nil {
			return err
		}
	}
}
