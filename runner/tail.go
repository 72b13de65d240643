// Copyright 2024 Finatext Ltd.
//
//    Licensed under the Apache License, Version 2.0 (the "License"); you may
//    not use this file except in compliance with the License. You may obtain
//    a copy of the License at
//
//         http://www.apache.org/licenses/LICENSE-2.0
//
//    Unless required by applicable law or agreed to in writing, software
//    distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
//    WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
//    License for the specific language governing permissions and limitations
//    under the License.

package runner

import (
	"bytes"
	"sync"
	"unicode/utf8"
)

// DefaultTailSize matches the check-run summary limit, leaving room for
// the markdown wrapper around the output.
const DefaultTailSize = 64 * 1024

// TailBuffer keeps the last maxSize bytes written to it. Eviction is
// line-aligned so the surviving text starts at a line boundary; a single
// line longer than the buffer is truncated at a rune boundary instead.
type TailBuffer struct {
	mu      sync.Mutex
	buf     []byte
	maxSize int
	dropped bool
}

func NewTailBuffer(maxSize int) *TailBuffer {
	if maxSize <= 0 {
		maxSize = DefaultTailSize
	}
	return &TailBuffer{maxSize: maxSize}
}

// Write never fails; it is the io.Writer side of the job's combined
// output.
func (t *TailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf = append(t.buf, p...)
	if len(t.buf) <= t.maxSize {
		return len(p), nil
	}
	t.dropped = true

	// Drop whole lines from the front until the tail fits.
	excess := len(t.buf) - t.maxSize
	cut := bytes.IndexByte(t.buf[excess:], '\n')
	if cut < 0 {
		// One giant line; keep the last maxSize bytes on a rune boundary.
		start := len(t.buf) - t.maxSize
		for start < len(t.buf) && !utf8.RuneStart(t.buf[start]) {
			start++
		}
		t.buf = append(t.buf[:0:0], t.buf[start:]...)
		return len(p), nil
	}
	t.buf = append(t.buf[:0:0], t.buf[excess+cut+1:]...)
	return len(p), nil
}

// String returns the retained tail.
func (t *TailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

// Truncated reports whether any output was evicted.
func (t *TailBuffer) Truncated() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dropped
}
