package chat

import (
	"strings"
	"time"
)

// MatchWindows bounds how far apart in time a provisional record and a
// confirmed record may sit and still be considered the same logical
// message. The values are tuning constants, not protocol guarantees: two
// genuinely distinct sends of identical text inside the window will be
// collapsed, which callers can observe via OutcomeReplaced.
type MatchWindows struct {
	// Text pairs tolerate the full relay round-trip latency.
	Text time.Duration
	// Image pairs are sent right after their upload resolves, so the
	// window is much tighter.
	Image time.Duration
}

// DefaultMatchWindows mirrors the windows the original client shipped with.
func DefaultMatchWindows() MatchWindows {
	return MatchWindows{
		Text:  60 * time.Second,
		Image: 10 * time.Second,
	}
}

// MatchesProvisional reports whether the outstanding provisional record p
// plausibly is the same logical message as the confirmed record m.
//
// Text: same sender/receiver pair, equal trimmed content, timestamps within
// the text window.
//
// Image: same sender and type, and either timestamps within the image
// window or p's upload still in flight (no MediaURL) while m carries one —
// the shape of an upload resolving into its confirmed event.
func (w MatchWindows) MatchesProvisional(p, m Message) bool {
	if !p.Provisional() || m.Provisional() {
		return false
	}
	if p.Type != m.Type {
		return false
	}

	switch p.Type {
	case TypeImage:
		if p.Sender != m.Sender {
			return false
		}
		if withinWindow(p.Timestamp, m.Timestamp, w.Image) {
			return true
		}
		return p.MediaURL == "" && m.MediaURL != ""
	default:
		if p.Sender != m.Sender || p.Receiver != m.Receiver {
			return false
		}
		if strings.TrimSpace(p.Content) != strings.TrimSpace(m.Content) {
			return false
		}
		return withinWindow(p.Timestamp, m.Timestamp, w.Text)
	}
}

func withinWindow(a, b int64, w time.Duration) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= int64(w/time.Second)
}
