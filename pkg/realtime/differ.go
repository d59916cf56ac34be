package realtime

import (
	"maps"
	"slices"

	"github.com/nicktill/webpulse/pkg/counter"
)

// Diff is the subset of a snapshot that changed since the previous tick.
// Absent fields mean "unchanged"; pointer fields distinguish "zero" from
// "unchanged". The feed is incremental: ActionsFeed carries only records not
// present in the previous snapshot, and RecentActionsFirstTs is a cursor on
// the newest item so subscribers can detect gaps.
type Diff struct {
	EPM                  *int64                 `json:"epm,omitempty"`
	ActiveSessions       *int                   `json:"activeSessions,omitempty"`
	TopPages             []PageCount            `json:"topPages,omitempty"`
	Actions              map[string]int64       `json:"actions,omitempty"`
	ActionsFeed          []counter.ActionRecord `json:"actionsFeed,omitempty"`
	RecentActionsFirstTs *string                `json:"recentActionsFirstTs,omitempty"`
}

// Empty reports whether the diff carries no changes at all. Empty diffs are
// never emitted.
func (d Diff) Empty() bool {
	return d.EPM == nil && d.ActiveSessions == nil && d.TopPages == nil &&
		d.Actions == nil && d.ActionsFeed == nil && d.RecentActionsFirstTs == nil
}

// ComputeDiff compares next against prev field by field. topPages is compared
// order-sensitively: a rank change alone is a change worth emitting.
func ComputeDiff(prev, next Snapshot) Diff {
	var diff Diff

	if prev.EPM != next.EPM {
		epm := next.EPM
		diff.EPM = &epm
	}
	if prev.ActiveSessions != next.ActiveSessions {
		n := next.ActiveSessions
		diff.ActiveSessions = &n
	}
	if !slices.Equal(prev.TopPages, next.TopPages) {
		diff.TopPages = next.TopPages
		if diff.TopPages == nil {
			diff.TopPages = []PageCount{}
		}
	}
	if !maps.Equal(prev.Actions, next.Actions) {
		diff.Actions = next.Actions
		if diff.Actions == nil {
			diff.Actions = map[string]int64{}
		}
	}

	prevFirst := firstTs(prev.RecentActions)
	nextFirst := firstTs(next.RecentActions)
	if prevFirst != nextFirst {
		seen := make(map[counter.ActionRecord]struct{}, len(prev.RecentActions))
		for _, rec := range prev.RecentActions {
			seen[rec] = struct{}{}
		}
		var fresh []counter.ActionRecord
		for _, rec := range next.RecentActions {
			if _, ok := seen[rec]; !ok {
				fresh = append(fresh, rec)
			}
		}
		if len(fresh) > 0 {
			diff.ActionsFeed = fresh
		}
		cursor := nextFirst
		diff.RecentActionsFirstTs = &cursor
	}

	return diff
}

func firstTs(recs []counter.ActionRecord) string {
	if len(recs) == 0 {
		return ""
	}
	return recs[0].Ts
}
