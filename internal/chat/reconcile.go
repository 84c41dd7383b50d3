package chat

import (
	"sort"

	"github.com/lwei-dev/nchat/internal/status"
)

// Outcome describes what reconciling an incoming record did to the list.
type Outcome int

const (
	// OutcomeUnchanged: the record was already present and identical, or a
	// duplicate image observation. List and fields untouched.
	OutcomeUnchanged Outcome = iota
	// OutcomeMerged: the record was present; differing fields were folded
	// into the stored copy. List length untouched.
	OutcomeMerged
	// OutcomeReplaced: an outstanding provisional record was replaced by
	// this confirmed record. List length untouched.
	OutcomeReplaced
	// OutcomeAppended: a logical message not seen before; appended.
	OutcomeAppended
)

func (o Outcome) String() string {
	switch o {
	case OutcomeUnchanged:
		return "unchanged"
	case OutcomeMerged:
		return "merged"
	case OutcomeReplaced:
		return "replaced"
	case OutcomeAppended:
		return "appended"
	}
	return "unknown"
}

// Reconcile merges the incoming record m into the conversation list.
//
// Every insert path funnels through here: optimistic sends, send
// confirmations, relay echoes and backfill pages. The tiers run in order
// and stop at the first match, which makes the function idempotent and
// order-insensitive: whichever of the RPC result and the relay echo
// arrives first wins the provisional replacement, and the loser degrades
// to an exact-id no-op. There is no reject outcome; anything that matches
// nothing is appended so the list always converges.
//
// The returned slice is always sorted ascending by timestamp with ties in
// insertion order, and never holds two records with the same id.
func Reconcile(list []Message, m Message, win MatchWindows) ([]Message, Outcome) {
	m = Normalize(m)

	// Tier 1: same id observed again (self-echo, retransmit, retry).
	for i := range list {
		if list[i].ID == m.ID {
			if merged := mergeFields(&list[i], m); merged {
				return list, OutcomeMerged
			}
			return list, OutcomeUnchanged
		}
	}

	// Tier 2: the same physical upload observed under two ids.
	if m.Type == TypeImage && m.MediaURL != "" {
		for i := range list {
			if list[i].Type == TypeImage && list[i].MediaURL == m.MediaURL {
				return list, OutcomeUnchanged
			}
		}
	}

	// Tier 3: a confirmed record resolving an outstanding provisional one.
	for i := range list {
		if win.MatchesProvisional(list[i], m) {
			list[i] = m
			sortConversation(list)
			return list, OutcomeReplaced
		}
	}

	// Tier 4: genuinely new.
	list = append(list, m)
	sortConversation(list)
	return dedupeByID(list), OutcomeAppended
}

// mergeFields folds differing fields of m into the stored record. Unset
// incoming fields never erase stored ones, and status only moves along
// valid lifecycle edges. Reports whether anything changed.
func mergeFields(stored *Message, m Message) bool {
	changed := false
	if m.MediaURL != "" && m.MediaURL != stored.MediaURL {
		stored.MediaURL = m.MediaURL
		changed = true
	}
	if m.Type != "" && m.Type != stored.Type {
		stored.Type = m.Type
		if m.Type == TypeImage {
			stored.Content = ""
		}
		changed = true
	}
	if m.Content != "" && m.Content != stored.Content && stored.Type != TypeImage {
		stored.Content = m.Content
		changed = true
	}
	if m.Status != stored.Status && status.CanAdvance(stored.Status, m.Status) {
		stored.Status = m.Status
		changed = true
	}
	return changed
}

// sortConversation orders ascending by timestamp; the stable sort keeps
// insertion order for equal timestamps.
func sortConversation(list []Message) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Timestamp < list[j].Timestamp
	})
}

// dedupeByID drops later duplicates of an id, keeping the first occurrence.
// Tiers 1-3 should make duplicates impossible; this is the final safety
// net the append path runs.
func dedupeByID(list []Message) []Message {
	seen := make(map[string]struct{}, len(list))
	out := list[:0]
	for _, m := range list {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		out = append(out, m)
	}
	return out
}
