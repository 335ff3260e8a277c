package graph

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
)

// Change summary operations.
const (
	OpCreate  = "create"
	OpPatch   = "patch"
	OpDelete  = "delete"
	OpRestore = "restore"
)

// ChangeSummary records what a version changed relative to the one it supersedes.
// Property paths are JSON-pointer style top-level paths ("/name").
type ChangeSummary struct {
	Op            string                 `json:"op"`
	Added         map[string]any         `json:"added,omitempty"`
	Removed       []string               `json:"removed,omitempty"`
	Updated       map[string]ValueChange `json:"updated,omitempty"`
	Paths         []string               `json:"paths,omitempty"`
	LabelsAdded   []string               `json:"labels_added,omitempty"`
	LabelsRemoved []string               `json:"labels_removed,omitempty"`
	Fields        []string               `json:"fields,omitempty"` // non-property fields (weight, validity, endpoints)
}

// ValueChange is one updated property.
type ValueChange struct {
	From any `json:"from"`
	To   any `json:"to"`
}

// Empty reports whether the summary records no change at all.
func (c *ChangeSummary) Empty() bool {
	return c == nil || (len(c.Paths) == 0 && len(c.LabelsAdded) == 0 && len(c.LabelsRemoved) == 0 && len(c.Fields) == 0)
}

// LabelDelta adds and removes labels. Removal wins when a label is in both.
type LabelDelta struct {
	Add    []string `json:"add,omitempty"`
	Remove []string `json:"remove,omitempty"`
}

// normalizeProperties round-trips props through JSON so values have the same
// Go types they have after a database read (float64 numbers, []any arrays).
func normalizeProperties(props map[string]any) (map[string]any, error) {
	if len(props) == 0 {
		return map[string]any{}, nil
	}
	data, err := json.Marshal(props)
	if err != nil {
		return nil, fmt.Errorf("encode properties: %w", err)
	}
	out := make(map[string]any, len(props))
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode properties: %w", err)
	}
	return out, nil
}

// mergeProperties applies a top-level delta to base. A nil value removes the key.
func mergeProperties(base, delta map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(delta))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range delta {
		if v == nil {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}
	return merged
}

// normalizeLabels dedupes and sorts labels, dropping empty strings.
func normalizeLabels(labels []string) []string {
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		if l != "" {
			out = append(out, l)
		}
	}
	sort.Strings(out)
	return slices.Compact(out)
}

// applyLabelDelta returns the new label set plus what was actually added and removed.
func applyLabelDelta(current []string, delta LabelDelta) (labels, added, removed []string) {
	set := make(map[string]bool, len(current))
	for _, l := range current {
		set[l] = true
	}
	drop := make(map[string]bool, len(delta.Remove))
	for _, l := range delta.Remove {
		drop[l] = true
	}
	for _, l := range normalizeLabels(delta.Add) {
		if !set[l] && !drop[l] {
			set[l] = true
			added = append(added, l)
		}
	}
	for _, l := range normalizeLabels(delta.Remove) {
		if set[l] {
			delete(set, l)
			removed = append(removed, l)
		}
	}
	labels = make([]string, 0, len(set))
	for l := range set {
		labels = append(labels, l)
	}
	return normalizeLabels(labels), added, removed
}

// diffProperties fills the property part of a change summary.
func diffProperties(summary *ChangeSummary, oldProps, newProps map[string]any) {
	for k, newVal := range newProps {
		path := "/" + k
		oldVal, exists := oldProps[k]
		switch {
		case !exists:
			if summary.Added == nil {
				summary.Added = make(map[string]any)
			}
			summary.Added[path] = newVal
			summary.Paths = append(summary.Paths, path)
		case !jsonEqual(oldVal, newVal):
			if summary.Updated == nil {
				summary.Updated = make(map[string]ValueChange)
			}
			summary.Updated[path] = ValueChange{From: oldVal, To: newVal}
			summary.Paths = append(summary.Paths, path)
		}
	}
	for k := range oldProps {
		if _, exists := newProps[k]; !exists {
			path := "/" + k
			summary.Removed = append(summary.Removed, path)
			summary.Paths = append(summary.Paths, path)
		}
	}
	sort.Strings(summary.Removed)
	sort.Strings(summary.Paths)
}

// jsonEqual compares two values by their JSON encoding.
func jsonEqual(a, b any) bool {
	aJSON, _ := json.Marshal(a)
	bJSON, _ := json.Marshal(b)
	return bytes.Equal(aJSON, bJSON)
}

// computeContentHash hashes the properties for deduplication. encoding/json
// writes map keys sorted, so equal property sets hash equally.
func computeContentHash(properties map[string]any) []byte {
	if properties == nil {
		properties = map[string]any{}
	}
	data, _ := json.Marshal(properties)
	hash := sha256.Sum256(data)
	return hash[:]
}
