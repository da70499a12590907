package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// ScopeKind discriminates the run scope variant.
type ScopeKind string

const (
	ScopeGlobal    ScopeKind = "global"
	ScopeFeeds     ScopeKind = "feeds"
	ScopeItems     ScopeKind = "items"
	ScopeTimeRange ScopeKind = "timerange"
)

// RunScope is a tagged variant selecting which items a run covers. The scope
// is resolved to a concrete item-id list at preview time; the resolved list,
// not the scope, is authoritative for the run.
type RunScope struct {
	Kind    ScopeKind  `json:"kind"`
	FeedIDs []int64    `json:"feed_ids,omitempty"`
	ItemIDs []int64    `json:"item_ids,omitempty"`
	Start   *time.Time `json:"start,omitempty"`
	End     *time.Time `json:"end,omitempty"`
}

// GlobalScope covers every item in the corpus.
func GlobalScope() RunScope {
	return RunScope{Kind: ScopeGlobal}
}

// FeedScope covers the items of the given feeds.
func FeedScope(feedIDs ...int64) RunScope {
	return RunScope{Kind: ScopeFeeds, FeedIDs: feedIDs}
}

// ItemScope covers exactly the given items.
func ItemScope(itemIDs ...int64) RunScope {
	return RunScope{Kind: ScopeItems, ItemIDs: itemIDs}
}

// TimeRangeScope covers items published within [start, end).
func TimeRangeScope(start, end time.Time) RunScope {
	return RunScope{Kind: ScopeTimeRange, Start: &start, End: &end}
}

// Validate checks that the variant carries the fields its kind requires.
func (s RunScope) Validate() error {
	switch s.Kind {
	case ScopeGlobal:
		return nil
	case ScopeFeeds:
		if len(s.FeedIDs) == 0 {
			return fmt.Errorf("feeds scope requires at least one feed id")
		}
		return nil
	case ScopeItems:
		if len(s.ItemIDs) == 0 {
			return fmt.Errorf("items scope requires at least one item id")
		}
		return nil
	case ScopeTimeRange:
		if s.Start == nil || s.End == nil {
			return fmt.Errorf("timerange scope requires start and end")
		}
		if !s.End.After(*s.Start) {
			return fmt.Errorf("timerange scope end must be after start")
		}
		return nil
	default:
		return fmt.Errorf("unknown scope kind: %q", s.Kind)
	}
}

// Value serializes the scope for a JSON column.
func (s RunScope) Value() ([]byte, error) {
	return json.Marshal(s)
}

// ScanScope deserializes a scope from a JSON column.
func ScanScope(data []byte) (RunScope, error) {
	var s RunScope
	if err := json.Unmarshal(data, &s); err != nil {
		return RunScope{}, fmt.Errorf("failed to decode run scope: %w", err)
	}
	return s, nil
}
