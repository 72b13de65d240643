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

package util

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTruncateUTF8(t *testing.T) {
	assert.Equal(t, "abc", TruncateUTF8("abc", 10))
	assert.Equal(t, "abc", TruncateUTF8("abcdef", 3))
	assert.Equal(t, "", TruncateUTF8("abc", 0))
}

func TestTruncateUTF8RuneBoundary(t *testing.T) {
	// "héllo" with é as two bytes; cutting at 2 must not split it.
	s := "héllo"
	out := TruncateUTF8(s, 2)
	assert.Equal(t, "h", out)
	assert.True(t, utf8.ValidString(out))

	long := strings.Repeat("あ", 100) // 3 bytes each
	out = TruncateUTF8(long, 64)
	assert.True(t, utf8.ValidString(out))
	assert.LessOrEqual(t, len(out), 64)
	assert.Equal(t, 63, len(out))
}
