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

// Package merge resolves conflicts between concurrently edited copies of a
// note. Text items go through a three-way line merge, history items are
// unioned, and metadata items are merged field by field.
package merge

import (
	"time"

	"github.com/notevault/notevault/pkg/cli/consts"
	"github.com/notevault/notevault/pkg/clock"
)

// MergeType records which side a merged item was taken from
type MergeType string

const (
	// MergeTypeBase marks an item taken from the common ancestor
	MergeTypeBase MergeType = "base"
	// MergeTypeLocal marks an item taken from the local side
	MergeTypeLocal MergeType = "local"
	// MergeTypeRemote marks an item taken from the remote side
	MergeTypeRemote MergeType = "remote"
	// MergeTypeMerged marks an item combined from both sides
	MergeTypeMerged MergeType = "merged"
)

// Item is a decrypted note item taking part in a merge. Data holds the
// item's decoded JSON payload.
type Item struct {
	Type      string
	Version   int64
	Data      map[string]interface{}
	MergeType MergeType
}

// Note is a set of decrypted items under merge
type Note struct {
	Items []Item
}

// Item returns the item of the given type tagged with the given merge
// type, or nil
func (n Note) Item(typ string, mergeType MergeType) *Item {
	for i := range n.Items {
		if n.Items[i].Type == typ {
			n.Items[i].MergeType = mergeType
			return &n.Items[i]
		}
	}

	return nil
}

// Resolver merges diverged copies of a note
type Resolver struct {
	clock clock.Clock
}

// NewResolver creates a Resolver using the given clock for merge timestamps
func NewResolver(c clock.Clock) Resolver {
	return Resolver{clock: c}
}

// Resolve merges local and remote copies of a note that diverged from a
// common base. The result carries per-item merge types so that callers can
// tell combined items from one-sided ones.
func (r Resolver) Resolve(base, local, remote Note) Note {
	var merged Note

	baseText := base.Item(consts.ItemTypeText, MergeTypeBase)
	localText := local.Item(consts.ItemTypeText, MergeTypeLocal)
	remoteText := remote.Item(consts.ItemTypeText, MergeTypeRemote)
	baseHistory := base.Item(consts.ItemTypeHistory, MergeTypeBase)
	localHistory := local.Item(consts.ItemTypeHistory, MergeTypeLocal)
	remoteHistory := remote.Item(consts.ItemTypeHistory, MergeTypeRemote)
	baseMetadata := base.Item(consts.ItemTypeMetadata, MergeTypeBase)
	localMetadata := local.Item(consts.ItemTypeMetadata, MergeTypeLocal)
	remoteMetadata := remote.Item(consts.ItemTypeMetadata, MergeTypeRemote)

	var mergedText *Item
	if baseText != nil || localText != nil || remoteText != nil {
		mergedText = r.mergeTextItem(baseText, localText, remoteText)
		if mergedText != nil {
			merged.Items = append(merged.Items, *mergedText)
		}
	}

	if baseHistory != nil || localHistory != nil || remoteHistory != nil {
		mergedHistory := r.mergeHistoryItem(baseHistory, localHistory, remoteHistory, mergedText)
		if mergedHistory != nil {
			merged.Items = append(merged.Items, *mergedHistory)
		}
	}

	if baseMetadata != nil || localMetadata != nil || remoteMetadata != nil {
		mergedMetadata := r.mergeMetadataItem(baseMetadata, localMetadata, remoteMetadata)
		if mergedMetadata != nil {
			merged.Items = append(merged.Items, *mergedMetadata)
		}
	}

	// items of other types cannot be combined; prefer the local copy
	for _, item := range local.Items {
		if isMergedType(item.Type) {
			continue
		}
		item.MergeType = MergeTypeLocal
		merged.Items = append(merged.Items, item)
	}
	for _, item := range remote.Items {
		if isMergedType(item.Type) || local.Item(item.Type, MergeTypeLocal) != nil {
			continue
		}
		item.MergeType = MergeTypeRemote
		merged.Items = append(merged.Items, item)
	}

	return merged
}

func isMergedType(typ string) bool {
	return typ == consts.ItemTypeText || typ == consts.ItemTypeHistory || typ == consts.ItemTypeMetadata
}

func itemText(item *Item) string {
	if item == nil || item.Data == nil {
		return ""
	}
	text, _ := item.Data["text"].(string)

	return text
}

func maxVersion(items ...*Item) int64 {
	var ret int64
	for _, item := range items {
		if item != nil && item.Version > ret {
			ret = item.Version
		}
	}

	return ret
}

func (r Resolver) mergeTextItem(baseItem, localItem, remoteItem *Item) *Item {
	if baseItem == nil && localItem == nil && remoteItem == nil {
		return nil
	}

	baseText := itemText(baseItem)
	localText := itemText(localItem)
	remoteText := itemText(remoteItem)

	if localText == remoteText {
		if localItem != nil {
			return localItem
		}
		return remoteItem
	}
	if baseText == localText {
		return remoteItem
	}
	if baseText == remoteText {
		return localItem
	}

	result := mergeText(baseText, localText, remoteText)

	return &Item{
		Type:      consts.ItemTypeText,
		Version:   maxVersion(localItem, remoteItem),
		Data:      map[string]interface{}{"text": result.text},
		MergeType: MergeTypeMerged,
	}
}

func itemHistory(item *Item) []interface{} {
	if item == nil || item.Data == nil {
		return nil
	}
	active, _ := item.Data["active"].([]interface{})

	return active
}

func entryField(entry interface{}, field string) string {
	m, ok := entry.(map[string]interface{})
	if !ok {
		return ""
	}
	v, _ := m[field].(string)

	return v
}

func parseEntryTime(entry interface{}) time.Time {
	t, err := time.Parse(time.RFC3339Nano, entryField(entry, "timestamp"))
	if err != nil {
		return time.Time{}
	}

	return t
}

// mergeHistoryItem unions the history entries of all three sides, dropping
// duplicates by timestamp and text. When the text merge combined both
// sides, a synthetic entry records the merge result.
func (r Resolver) mergeHistoryItem(baseItem, localItem, remoteItem, mergedText *Item) *Item {
	var all []interface{}
	all = append(all, itemHistory(baseItem)...)
	all = append(all, itemHistory(localItem)...)
	all = append(all, itemHistory(remoteItem)...)

	type entryKey struct {
		timestamp string
		text      string
	}
	seen := map[entryKey]bool{}
	var unique []interface{}
	for _, entry := range all {
		key := entryKey{entryField(entry, "timestamp"), entryField(entry, "text")}
		if seen[key] {
			continue
		}
		seen[key] = true
		unique = append(unique, entry)
	}

	// sort ascending by timestamp; the slice is small
	for i := 1; i < len(unique); i++ {
		for j := i; j > 0 && parseEntryTime(unique[j]).Before(parseEntryTime(unique[j-1])); j-- {
			unique[j], unique[j-1] = unique[j-1], unique[j]
		}
	}

	if mergedText != nil && mergedText.MergeType == MergeTypeMerged {
		unique = append(unique, map[string]interface{}{
			"timestamp": r.clock.Now().UTC().Format(time.RFC3339),
			"username":  "merge",
			"text":      itemText(mergedText),
		})
	}

	return &Item{
		Type:      consts.ItemTypeHistory,
		Version:   maxVersion(localItem, remoteItem),
		Data:      map[string]interface{}{"active": unique},
		MergeType: MergeTypeMerged,
	}
}

func itemNotes(item *Item) []string {
	if item == nil || item.Data == nil {
		return nil
	}
	raw, _ := item.Data["notes"].([]interface{})

	ret := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			ret = append(ret, s)
		}
	}

	return ret
}

func itemTitle(item *Item) string {
	if item == nil || item.Data == nil {
		return ""
	}
	title, _ := item.Data["title"].(string)

	return title
}

// mergeMetadataItem merges the child note list as a set algebra over both
// sides' additions and removals, and takes the local title when both sides
// renamed. Fields other than notes and title are carried from the local
// side.
func (r Resolver) mergeMetadataItem(baseItem, localItem, remoteItem *Item) *Item {
	if baseItem == nil && localItem == nil && remoteItem == nil {
		return nil
	}

	mergedNotes := mergeNotesArray(itemNotes(baseItem), itemNotes(localItem), itemNotes(remoteItem))
	mergedTitle := mergeTitle(itemTitle(baseItem), itemTitle(localItem), itemTitle(remoteItem))

	data := map[string]interface{}{}
	for _, source := range []*Item{baseItem, remoteItem, localItem} {
		if source == nil {
			continue
		}
		for k, v := range source.Data {
			data[k] = v
		}
	}

	notes := make([]interface{}, len(mergedNotes))
	for i, id := range mergedNotes {
		notes[i] = id
	}
	data["notes"] = notes
	data["title"] = mergedTitle

	return &Item{
		Type:      consts.ItemTypeMetadata,
		Version:   maxVersion(localItem, remoteItem),
		Data:      data,
		MergeType: MergeTypeMerged,
	}
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}

	return false
}

// mergeNotesArray applies both sides' additions and removals relative to
// the base list. A note removed remotely survives when the local side
// added it, and vice versa.
func mergeNotesArray(baseNotes, localNotes, remoteNotes []string) []string {
	var localAdded, localRemoved, remoteAdded, remoteRemoved []string

	for _, n := range localNotes {
		if !contains(baseNotes, n) {
			localAdded = append(localAdded, n)
		}
	}
	for _, n := range baseNotes {
		if !contains(localNotes, n) {
			localRemoved = append(localRemoved, n)
		}
	}
	for _, n := range remoteNotes {
		if !contains(baseNotes, n) {
			remoteAdded = append(remoteAdded, n)
		}
	}
	for _, n := range baseNotes {
		if !contains(remoteNotes, n) {
			remoteRemoved = append(remoteRemoved, n)
		}
	}

	var merged []string
	for _, n := range baseNotes {
		if contains(localRemoved, n) {
			continue
		}
		merged = append(merged, n)
	}
	merged = append(merged, localAdded...)

	var filtered []string
	for _, n := range merged {
		if contains(remoteRemoved, n) && !contains(localAdded, n) {
			continue
		}
		filtered = append(filtered, n)
	}
	for _, n := range remoteAdded {
		if contains(localRemoved, n) {
			continue
		}
		filtered = append(filtered, n)
	}

	var ret []string
	for _, n := range filtered {
		if !contains(ret, n) {
			ret = append(ret, n)
		}
	}

	return ret
}

func mergeTitle(baseTitle, localTitle, remoteTitle string) string {
	if localTitle == remoteTitle {
		if localTitle != "" {
			return localTitle
		}
		return baseTitle
	}

	if baseTitle == localTitle {
		if remoteTitle != "" {
			return remoteTitle
		}
		return baseTitle
	}
	if baseTitle == remoteTitle {
		if localTitle != "" {
			return localTitle
		}
		return baseTitle
	}

	// both sides renamed to different titles; local wins
	if localTitle != "" {
		return localTitle
	}
	if remoteTitle != "" {
		return remoteTitle
	}

	return baseTitle
}
