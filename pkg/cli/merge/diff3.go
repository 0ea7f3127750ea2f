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

	"github.com/notevault/notevault/pkg/cli/utils/diff"
)

// chunk is one region of a three-way merge. Either ok holds lines agreed
// on by all sides, or conflict holds the diverging segments.
type chunk struct {
	ok       []string
	conflict *conflictChunk
}

type conflictChunk struct {
	local  []string
	base   []string
	remote []string
}

// hunk is one changed region between the base and one side, in line offsets
type hunk struct {
	baseStart, baseLen int
	sideStart, sideLen int
}

func joinLines(lines []string) string {
	// a trailing newline keeps every line newline-terminated so that diff
	// segments always split cleanly into whole lines
	return strings.Join(lines, "\n") + "\n"
}

// lineHunks computes the changed regions between the base lines and one
// side's lines
func lineHunks(base, side []string) []hunk {
	diffs := diff.Do(joinLines(base), joinLines(side))

	var hunks []hunk
	var cur *hunk
	basePos, sidePos := 0, 0

	for _, d := range diffs {
		n := strings.Count(d.Text, "\n")

		switch d.Type {
		case diff.DiffEqual:
			if cur != nil {
				hunks = append(hunks, *cur)
				cur = nil
			}
			basePos += n
			sidePos += n
		case diff.DiffDelete:
			if cur == nil {
				cur = &hunk{baseStart: basePos, sideStart: sidePos}
			}
			cur.baseLen += n
			basePos += n
		case diff.DiffInsert:
			if cur == nil {
				cur = &hunk{baseStart: basePos, sideStart: sidePos}
			}
			cur.sideLen += n
			sidePos += n
		}
	}
	if cur != nil {
		hunks = append(hunks, *cur)
	}

	return hunks
}

// sideCursor walks one side's hunks while tracking the offset between side
// and base positions in the stable region after the last consumed hunk
type sideCursor struct {
	lines []string
	hunks []hunk
	idx   int
	delta int
}

func (c *sideCursor) exhausted() bool {
	return c.idx >= len(c.hunks)
}

func (c *sideCursor) headStart() int {
	return c.hunks[c.idx].baseStart
}

// consume advances past hunks that start at or before the group end,
// extending the group end to cover them. Reports whether a hunk was taken.
func (c *sideCursor) consume(end *int) bool {
	if c.exhausted() || c.hunks[c.idx].baseStart > *end {
		return false
	}

	h := c.hunks[c.idx]
	if e := h.baseStart + h.baseLen; e > *end {
		*end = e
	}
	c.delta = (h.sideStart + h.sideLen) - (h.baseStart + h.baseLen)
	c.idx++

	return true
}

func linesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}

// diff3 merges two sets of changes against a common base into a chunk
// sequence. Regions changed on only one side resolve to that side; regions
// changed on both sides resolve when the changes agree and conflict
// otherwise.
func diff3(base, local, remote []string) []chunk {
	lc := &sideCursor{lines: local, hunks: lineHunks(base, local)}
	rc := &sideCursor{lines: remote, hunks: lineHunks(base, remote)}

	var chunks []chunk
	pos := 0

	for !lc.exhausted() || !rc.exhausted() {
		start := -1
		if !lc.exhausted() {
			start = lc.headStart()
		}
		if !rc.exhausted() && (start == -1 || rc.headStart() < start) {
			start = rc.headStart()
		}

		if start > pos {
			chunks = append(chunks, chunk{ok: base[pos:start]})
		}

		localFrom := start + lc.delta
		remoteFrom := start + rc.delta

		end := start
		localChanged, remoteChanged := false, false
		for {
			tookLocal := lc.consume(&end)
			tookRemote := rc.consume(&end)
			localChanged = localChanged || tookLocal
			remoteChanged = remoteChanged || tookRemote
			if !tookLocal && !tookRemote {
				break
			}
		}

		localSeg := lc.lines[localFrom : end+lc.delta]
		remoteSeg := rc.lines[remoteFrom : end+rc.delta]

		switch {
		case localChanged && remoteChanged:
			if linesEqual(localSeg, remoteSeg) {
				chunks = append(chunks, chunk{ok: localSeg})
			} else {
				chunks = append(chunks, chunk{conflict: &conflictChunk{
					local:  localSeg,
					base:   base[start:end],
					remote: remoteSeg,
				}})
			}
		case localChanged:
			chunks = append(chunks, chunk{ok: localSeg})
		default:
			chunks = append(chunks, chunk{ok: remoteSeg})
		}

		pos = end
	}

	if pos < len(base) {
		chunks = append(chunks, chunk{ok: base[pos:]})
	}

	return chunks
}
