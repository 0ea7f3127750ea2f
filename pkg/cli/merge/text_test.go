/* Copyright 2025 Notevault Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package merge

import (
	"strings"
	"testing"

	"github.com/notevault/notevault/pkg/assert"
)

func TestMergeTextNonOverlapping(t *testing.T) {
	testCases := []struct {
		name     string
		base     string
		local    string
		remote   string
		expected string
	}{
		{
			name:     "local edits a line, remote appends",
			base:     "line one\nline two\nline three",
			local:    "line one\nline two edited\nline three",
			remote:   "line one\nline two\nline three\nline four",
			expected: "line one\nline two edited\nline three\nline four",
		},
		{
			name:     "local appends, remote edits a line",
			base:     "line one\nline two",
			local:    "line one\nline two\nline three",
			remote:   "line one\nline two edited",
			expected: "line one\nline two edited\nline three",
		},
		{
			name:     "edits at opposite ends",
			base:     "alpha\nbravo\ncharlie\ndelta\necho",
			local:    "alpha edited\nbravo\ncharlie\ndelta\necho",
			remote:   "alpha\nbravo\ncharlie\ndelta\necho edited",
			expected: "alpha edited\nbravo\ncharlie\ndelta\necho edited",
		},
		{
			name:     "both delete the same line",
			base:     "alpha\nbravo\ncharlie",
			local:    "alpha\ncharlie",
			remote:   "alpha\ncharlie",
			expected: "alpha\ncharlie",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result := mergeText(tc.base, tc.local, tc.remote)

			assert.Equal(t, result.conflict, false, "should merge without conflict")
			assert.Equal(t, result.text, tc.expected, "merged text mismatch")
		})
	}
}

func TestMergeTextConflict(t *testing.T) {
	base := "line one\nline two\nline three"
	local := "line one\nlocal version\nline three"
	remote := "line one\nremote version\nline three"

	result := mergeText(base, local, remote)

	assert.Equal(t, result.conflict, true, "should report a conflict")

	expected := strings.Join([]string{
		"line one",
		ConflictMarkerLocal,
		"local version",
		ConflictMarkerSeparator,
		"remote version",
		ConflictMarkerRemote,
		"line three",
	}, "\n")
	assert.Equal(t, result.text, expected, "conflict text mismatch")
}

func TestMergeTextAutoResolveExtension(t *testing.T) {
	// remote extends exactly what local wrote; take the longer side
	base := "line one"
	local := "line one\nline two"
	remote := "line one\nline two\nline three"

	result := mergeText(base, local, remote)

	assert.Equal(t, result.conflict, false, "should auto-resolve")
	assert.Equal(t, result.text, "line one\nline two\nline three", "merged text mismatch")
}

func TestMergeTextAutoResolveSplice(t *testing.T) {
	// the shorter side rewrote the last shared line while the longer side
	// kept appending after it
	base := "line one"
	local := "line one\nsecond line\nthird line"
	remote := "line one\nsecond line edited"

	result := mergeText(base, local, remote)

	assert.Equal(t, result.conflict, false, "should auto-resolve")
	assert.Equal(t, result.text, "line one\nsecond line edited\nthird line", "merged text mismatch")
}

func TestMergeTextNewlineOnlyConflict(t *testing.T) {
	// the sides differ only in blank lines; prefer the side with more
	base := "alpha\nbravo"
	local := "alpha\n\nbravo"
	remote := "alpha\n\n\nbravo"

	result := mergeText(base, local, remote)

	assert.Equal(t, result.conflict, false, "should not report a conflict")
	assert.Equal(t, result.text, "alpha\n\n\nbravo", "merged text mismatch")
}

func TestMergeTextCoalescing(t *testing.T) {
	testCases := []struct {
		name            string
		sharedLineCount int
		expectedBlocks  int
	}{
		{
			name:            "conflicts separated by three shared lines coalesce",
			sharedLineCount: 3,
			expectedBlocks:  1,
		},
		{
			name:            "conflicts separated by four shared lines stay apart",
			sharedLineCount: 4,
			expectedBlocks:  2,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			shared := make([]string, 0, tc.sharedLineCount)
			for i := 0; i < tc.sharedLineCount; i++ {
				shared = append(shared, "shared line")
			}

			build := func(first, last string) string {
				lines := append([]string{first}, shared...)
				lines = append(lines, last)
				return strings.Join(lines, "\n")
			}

			base := build("first base", "last base")
			local := build("first local", "last local")
			remote := build("first remote", "last remote")

			result := mergeText(base, local, remote)

			assert.Equal(t, result.conflict, true, "should report a conflict")
			assert.Equal(t, strings.Count(result.text, ConflictMarkerLocal), tc.expectedBlocks, "conflict block count mismatch")
			assert.Equal(t, strings.Count(result.text, ConflictMarkerRemote), tc.expectedBlocks, "conflict block count mismatch")
		})
	}
}

func TestMergeTextMarkerTrimming(t *testing.T) {
	// lines shared by both sides of a conflict hoist out of the marker block
	base := "old title\nold body"
	local := "new title\nlocal body"
	remote := "new title\nremote body"

	result := mergeText(base, local, remote)

	assert.Equal(t, result.conflict, true, "should report a conflict")

	expected := strings.Join([]string{
		"new title",
		ConflictMarkerLocal,
		"local body",
		ConflictMarkerSeparator,
		"remote body",
		ConflictMarkerRemote,
	}, "\n")
	assert.Equal(t, result.text, expected, "conflict text mismatch")
}

func TestDiff3StableRegions(t *testing.T) {
	base := []string{"a", "b", "c"}

	chunks := diff3(base, base, base)

	assert.Equal(t, len(chunks), 1, "chunk count mismatch")
	assert.DeepEqual(t, chunks[0].ok, []string{"a", "b", "c"}, "stable chunk mismatch")
}

func TestDiff3AgreeingChanges(t *testing.T) {
	base := []string{"a", "b", "c"}
	both := []string{"a", "x", "c"}

	chunks := diff3(base, both, both)

	var merged []string
	for _, c := range chunks {
		if c.conflict != nil {
			t.Fatal("identical changes should not conflict")
		}
		merged = append(merged, c.ok...)
	}
	assert.DeepEqual(t, merged, []string{"a", "x", "c"}, "merged lines mismatch")
}
