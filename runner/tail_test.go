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
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTailBufferSmallWrite(t *testing.T) {
	tail := NewTailBuffer(1024)
	n, err := tail.Write([]byte("hello\nworld\n"))
	assert.NoError(t, err)
	assert.Equal(t, 12, n)
	assert.Equal(t, "hello\nworld\n", tail.String())
	assert.False(t, tail.Truncated())
}

func TestTailBufferDropsWholeLines(t *testing.T) {
	tail := NewTailBuffer(32)
	for i := 0; i < 10; i++ {
		fmt.Fprintf(tail, "line-%02d\n", i)
	}

	out := tail.String()
	assert.True(t, tail.Truncated())
	assert.LessOrEqual(t, len(out), 32)
	// The survivor starts at a line boundary and ends with the last line.
	assert.True(t, strings.HasPrefix(out, "line-"), out)
	assert.True(t, strings.HasSuffix(out, "line-09\n"), out)
	assert.NotContains(t, out, "line-00")
}

func TestTailBufferGiantLine(t *testing.T) {
	tail := NewTailBuffer(64)
	_, err := tail.Write([]byte(strings.Repeat("あ", 100)))
	assert.NoError(t, err)

	out := tail.String()
	assert.True(t, tail.Truncated())
	assert.LessOrEqual(t, len(out), 64)
	assert.True(t, utf8.ValidString(out))
	assert.NotEmpty(t, out)
}

func TestTailBufferManySmallWrites(t *testing.T) {
	tail := NewTailBuffer(128)
	for i := 0; i < 1000; i++ {
		fmt.Fprintf(tail, "entry %d\n", i)
	}
	out := tail.String()
	assert.LessOrEqual(t, len(out), 128)
	assert.True(t, strings.HasSuffix(out, "entry 999\n"), out)
}
