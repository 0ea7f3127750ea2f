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
)

const (
	// ConflictMarkerLocal opens the local side of an unresolved conflict block
	ConflictMarkerLocal = "<<<<<<< HEAD (Local)"
	// ConflictMarkerSeparator separates the local and remote sides
	ConflictMarkerSeparator = "======="
	// ConflictMarkerRemote closes the remote side
	ConflictMarkerRemote = ">>>>>>> REMOTE"

	// conflicts separated by this many shared lines or fewer are merged
	// into a single conflict block
	maxSharedLinesToCoalesce = 3
)

type textMergeResult struct {
	text     string
	conflict bool
}

func splitLines(text string) []string {
	return strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
}

// mergeText performs a three-way text merge. Non-overlapping edits are
// combined; overlapping edits are auto-resolved where one side extends the
// other, and otherwise surface as conflict marker blocks.
func mergeText(base, local, remote string) textMergeResult {
	chunks := diff3(splitLines(base), splitLines(local), splitLines(remote))
	chunks = coalesceConflicts(chunks)

	var merged []string
	hasConflict := false

	for _, c := range chunks {
		if c.conflict == nil {
			merged = append(merged, c.ok...)
			continue
		}

		localLines := c.conflict.local
		remoteLines := c.conflict.remote

		if isNewlineOnlyConflict(localLines, remoteLines) {
			if len(localLines) >= len(remoteLines) {
				merged = append(merged, localLines...)
			} else {
				merged = append(merged, remoteLines...)
			}
			continue
		}

		if resolution, ok := autoResolveConflict(localLines, remoteLines); ok {
			merged = append(merged, resolution...)
			continue
		}

		cleaned := cleanupConflict(localLines, remoteLines)

		// both sides empty after trimming means the sides were identical
		if len(cleaned.local) == 0 && len(cleaned.remote) == 0 {
			merged = append(merged, localLines...)
			continue
		}

		hasConflict = true

		merged = append(merged, cleaned.sharedPrefix...)
		merged = append(merged, ConflictMarkerLocal)
		merged = append(merged, cleaned.local...)
		merged = append(merged, ConflictMarkerSeparator)
		merged = append(merged, cleaned.remote...)
		merged = append(merged, ConflictMarkerRemote)
		merged = append(merged, cleaned.sharedSuffix...)
	}

	return textMergeResult{
		text:     strings.Join(merged, "\n"),
		conflict: hasConflict,
	}
}

type cleanedConflict struct {
	local        []string
	remote       []string
	sharedPrefix []string
	sharedSuffix []string
}

// cleanupConflict hoists lines shared by both sides out of the conflict
// block so that markers wrap only the lines that actually differ
func cleanupConflict(localLines, remoteLines []string) cleanedConflict {
	prefixLen := 0
	minLen := len(localLines)
	if len(remoteLines) < minLen {
		minLen = len(remoteLines)
	}
	for prefixLen < minLen && localLines[prefixLen] == remoteLines[prefixLen] {
		prefixLen++
	}

	sharedPrefix := localLines[:prefixLen]
	localTrimmed := localLines[prefixLen:]
	remoteTrimmed := remoteLines[prefixLen:]

	suffixLen := 0
	minTrimmedLen := len(localTrimmed)
	if len(remoteTrimmed) < minTrimmedLen {
		minTrimmedLen = len(remoteTrimmed)
	}
	for suffixLen < minTrimmedLen &&
		localTrimmed[len(localTrimmed)-1-suffixLen] == remoteTrimmed[len(remoteTrimmed)-1-suffixLen] {
		suffixLen++
	}

	return cleanedConflict{
		local:        localTrimmed[:len(localTrimmed)-suffixLen],
		remote:       remoteTrimmed[:len(remoteTrimmed)-suffixLen],
		sharedPrefix: sharedPrefix,
		sharedSuffix: localTrimmed[len(localTrimmed)-suffixLen:],
	}
}

// isNewlineOnlyConflict reports whether the sides differ only in blank
// lines, or in blank lines plus identical content
func isNewlineOnlyConflict(localLines, remoteLines []string) bool {
	localNonEmpty := nonEmptyLines(localLines)
	remoteNonEmpty := nonEmptyLines(remoteLines)

	if len(localNonEmpty) == 0 && len(remoteNonEmpty) == 0 {
		return true
	}
	if len(localNonEmpty) == len(remoteNonEmpty) {
		return linesEqual(localNonEmpty, remoteNonEmpty)
	}
	if len(localNonEmpty) == 0 || len(remoteNonEmpty) == 0 {
		return true
	}

	return false
}

func nonEmptyLines(lines []string) []string {
	var ret []string
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			ret = append(ret, line)
		}
	}

	return ret
}

// autoResolveConflict resolves conflicts where one side is a pure prefix
// extension of the other, or where the shorter side rewrites the last
// shared line and the longer side appends after it
func autoResolveConflict(localLines, remoteLines []string) ([]string, bool) {
	localTrimmed := trimTrailingEmpty(localLines)
	remoteTrimmed := trimTrailingEmpty(remoteLines)

	if len(localTrimmed) <= len(remoteTrimmed) && linesEqual(localTrimmed, remoteTrimmed[:len(localTrimmed)]) {
		return remoteLines, true
	}
	if len(remoteTrimmed) <= len(localTrimmed) && linesEqual(remoteTrimmed, localTrimmed[:len(remoteTrimmed)]) {
		return localLines, true
	}

	shorter, longer := localTrimmed, remoteTrimmed
	longerOriginal := remoteLines
	if len(localTrimmed) > len(remoteTrimmed) {
		shorter, longer = remoteTrimmed, localTrimmed
		longerOriginal = localLines
	}

	// splice: both sides agree up to the shorter side's last line, which
	// the shorter side changed while the longer side kept going
	if len(shorter) > 0 && len(longer) > len(shorter) {
		if linesEqual(shorter[:len(shorter)-1], longer[:len(shorter)-1]) &&
			shorter[len(shorter)-1] != longer[len(shorter)-1] {
			resolution := make([]string, 0, len(longerOriginal))
			resolution = append(resolution, shorter...)
			resolution = append(resolution, longer[len(shorter):]...)
			resolution = append(resolution, longerOriginal[len(longer):]...)

			return resolution, true
		}
	}

	return nil, false
}

func trimTrailingEmpty(lines []string) []string {
	lastNonEmpty := len(lines) - 1
	for lastNonEmpty >= 0 && strings.TrimSpace(lines[lastNonEmpty]) == "" {
		lastNonEmpty--
	}

	return lines[:lastNonEmpty+1]
}

// coalesceConflicts merges conflicts separated only by short runs of shared
// lines into a single conflict, duplicating the shared lines on both sides.
// Separate conflict blocks with interleaved shared context read worse than
// one slightly larger block.
func coalesceConflicts(chunks []chunk) []chunk {
	if len(chunks) <= 1 {
		return chunks
	}

	var ret []chunk

	for i := 0; i < len(chunks); i++ {
		cur := chunks[i]

		if cur.conflict == nil {
			ret = append(ret, cur)
			continue
		}

		group := []chunk{cur}
		j := i + 1
		foundSharedBetween := false

		for j < len(chunks) {
			next := chunks[j]

			if next.conflict != nil {
				group = append(group, next)
				j++
				continue
			}

			if len(next.ok) <= maxSharedLinesToCoalesce && j+1 < len(chunks) && chunks[j+1].conflict != nil {
				group = append(group, next)
				foundSharedBetween = true
				j++
				continue
			}

			break
		}

		if len(group) > 1 && foundSharedBetween {
			ret = append(ret, mergeConflictChunks(group))
			i = j - 1
		} else {
			ret = append(ret, cur)
		}
	}

	return ret
}

func mergeConflictChunks(group []chunk) chunk {
	var localLines, baseLines, remoteLines []string

	for _, c := range group {
		if c.conflict != nil {
			localLines = append(localLines, c.conflict.local...)
			baseLines = append(baseLines, c.conflict.base...)
			remoteLines = append(remoteLines, c.conflict.remote...)
		} else {
			localLines = append(localLines, c.ok...)
			baseLines = append(baseLines, c.ok...)
			remoteLines = append(remoteLines, c.ok...)
		}
	}

	return chunk{conflict: &conflictChunk{
		local:  localLines,
		base:   baseLines,
		remote: remoteLines,
	}}
}
