package chat

import (
	"testing"

	"github.com/lwei-dev/nchat/internal/status"
)

const (
	alice = "npub1alice"
	bob   = "npub1bob"
)

func text(id string, ts int64, content string, st status.Status) Message {
	return Message{
		ID: id, Sender: alice, Receiver: bob,
		Content: content, Timestamp: ts, Status: st, Type: TypeText,
	}
}

func image(id string, ts int64, mediaURL string, st status.Status) Message {
	return Message{
		ID: id, Sender: alice, Receiver: bob,
		Timestamp: ts, Status: st, Type: TypeImage, MediaURL: mediaURL,
	}
}

func reconcileAll(t *testing.T, msgs ...Message) []Message {
	t.Helper()
	var list []Message
	for _, m := range msgs {
		list, _ = Reconcile(list, m, DefaultMatchWindows())
	}
	return list
}

func TestExactIDIdempotent(t *testing.T) {
	m := text("E1", 1000, "hi", status.Sent)
	list, out := Reconcile(nil, m, DefaultMatchWindows())
	if out != OutcomeAppended {
		t.Fatalf("first insert outcome = %s, want appended", out)
	}
	list, out = Reconcile(list, m, DefaultMatchWindows())
	if out != OutcomeUnchanged {
		t.Errorf("second insert outcome = %s, want unchanged", out)
	}
	if len(list) != 1 {
		t.Fatalf("len = %d, want 1", len(list))
	}
}

func TestExactIDMergesDifferingFields(t *testing.T) {
	list := reconcileAll(t, image("E1", 1000, "", status.Pending))

	upd := image("E1", 1000, "https://media/u1", status.Sent)
	list, out := Reconcile(list, upd, DefaultMatchWindows())
	if out != OutcomeMerged {
		t.Fatalf("outcome = %s, want merged", out)
	}
	if len(list) != 1 {
		t.Fatalf("len = %d, want 1 (tier 1 never changes length)", len(list))
	}
	if list[0].MediaURL != "https://media/u1" {
		t.Errorf("mediaURL = %q, want merged value", list[0].MediaURL)
	}
	if list[0].Status != status.Sent {
		t.Errorf("status = %s, want sent", list[0].Status)
	}
}

func TestExactIDNeverErasesWithUnsetFields(t *testing.T) {
	list := reconcileAll(t, image("E1", 1000, "https://media/u1", status.Sent))

	// A later echo without the media reference must not blank it.
	echo := image("E1", 1000, "", status.Sent)
	list, out := Reconcile(list, echo, DefaultMatchWindows())
	if out != OutcomeUnchanged {
		t.Errorf("outcome = %s, want unchanged", out)
	}
	if list[0].MediaURL != "https://media/u1" {
		t.Errorf("mediaURL = %q, want preserved", list[0].MediaURL)
	}
}

func TestExactIDStatusIsMonotonic(t *testing.T) {
	list := reconcileAll(t, text("E1", 1000, "hi", status.Read))

	// Stray late "sent" echo must not downgrade a read record.
	stray := text("E1", 1000, "hi", status.Sent)
	list, out := Reconcile(list, stray, DefaultMatchWindows())
	if out != OutcomeUnchanged {
		t.Errorf("outcome = %s, want unchanged", out)
	}
	if list[0].Status != status.Read {
		t.Errorf("status = %s, want read", list[0].Status)
	}
}

func TestImageMediaURLDedup(t *testing.T) {
	list := reconcileAll(t, image("E1", 1000, "https://media/u1", status.Sent))

	// Same upload observed under a different event id.
	dup := image("E2", 1004, "https://media/u1", status.Sent)
	list, out := Reconcile(list, dup, DefaultMatchWindows())
	if out != OutcomeUnchanged {
		t.Errorf("outcome = %s, want unchanged", out)
	}
	if len(list) != 1 {
		t.Errorf("len = %d, want 1", len(list))
	}
}

func TestProvisionalTextReplacement(t *testing.T) {
	prov := text("local-abc", 1000, "hi", status.Pending)
	conf := text("E1", 1002, "hi", status.Sent)

	list := reconcileAll(t, prov)
	list, out := Reconcile(list, conf, DefaultMatchWindows())
	if out != OutcomeReplaced {
		t.Fatalf("outcome = %s, want replaced", out)
	}
	if len(list) != 1 {
		t.Fatalf("len = %d, want 1", len(list))
	}
	if list[0].ID != "E1" || list[0].Status != status.Sent {
		t.Errorf("record = %+v, want authoritative id E1, status sent", list[0])
	}
}

// TestProvisionalConvergenceEitherOrder is the core race property: the RPC
// confirmation and the relay echo carry the same authoritative record and
// arrive in no guaranteed order; both orders, and both together, converge
// to one stored record.
func TestProvisionalConvergenceEitherOrder(t *testing.T) {
	prov := text("local-abc", 1000, "hi", status.Pending)
	conf := text("E1", 1000, "hi", status.Sent)
	echo := text("E1", 1000, "hi", status.Sent)

	orders := map[string][]Message{
		"confirm-then-echo": {prov, conf, echo},
		"echo-then-confirm": {prov, echo, conf},
		"echo-only":         {prov, echo},
	}
	for name, msgs := range orders {
		t.Run(name, func(t *testing.T) {
			list := reconcileAll(t, msgs...)
			if len(list) != 1 {
				t.Fatalf("len = %d, want 1", len(list))
			}
			if list[0].ID != "E1" {
				t.Errorf("id = %q, want E1", list[0].ID)
			}
			if list[0].Status == status.Pending {
				t.Error("status still pending after confirmation")
			}
		})
	}
}

func TestProvisionalImageReplacementByResolvingUpload(t *testing.T) {
	// Upload still in flight: no media reference, timestamps 3s apart.
	prov := image("local-img", 2000, "", status.Pending)
	conf := image("E9", 2003, "https://media/u1", status.Sent)

	list := reconcileAll(t, prov)
	list, out := Reconcile(list, conf, DefaultMatchWindows())
	if out != OutcomeReplaced {
		t.Fatalf("outcome = %s, want replaced", out)
	}
	if list[0].ID != "E9" || list[0].MediaURL != "https://media/u1" {
		t.Errorf("record = %+v, want E9 with resolved media url", list[0])
	}
}

func TestProvisionalTextOutsideWindowAppends(t *testing.T) {
	prov := text("local-abc", 1000, "hi", status.Pending)
	late := text("E1", 1100, "hi", status.Sent) // 100s later, window is 60s

	list := reconcileAll(t, prov, late)
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2 (outside window is a distinct message)", len(list))
	}
}

func TestProvisionalDifferentContentAppends(t *testing.T) {
	prov := text("local-abc", 1000, "hi", status.Pending)
	other := text("E1", 1001, "hello", status.Sent)

	list := reconcileAll(t, prov, other)
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2", len(list))
	}
}

func TestProvisionalContentComparedTrimmed(t *testing.T) {
	prov := text("local-abc", 1000, "hi ", status.Pending)
	conf := text("E1", 1001, " hi", status.Sent)

	list := reconcileAll(t, prov, conf)
	if len(list) != 1 {
		t.Fatalf("len = %d, want 1 (content compared trimmed)", len(list))
	}
}

func TestIncomingImageDoesNotConsumeLocalUpload(t *testing.T) {
	prov := image("local-img", 2000, "", status.Pending)
	// Counterpart sends an image at nearly the same moment.
	theirs := Message{
		ID: "E7", Sender: bob, Receiver: alice,
		Timestamp: 2001, Status: status.Delivered, Type: TypeImage,
		MediaURL: "https://media/theirs",
	}

	list := reconcileAll(t, prov, theirs)
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2 (their image must not replace our pending upload)", len(list))
	}
}

func TestAppendKeepsAscendingOrder(t *testing.T) {
	list := reconcileAll(t,
		text("E2", 2000, "second", status.Sent),
		text("E1", 1000, "first", status.Sent),
		text("E3", 3000, "third", status.Sent),
	)
	if len(list) != 3 {
		t.Fatalf("len = %d, want 3", len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i-1].Timestamp > list[i].Timestamp {
			t.Fatalf("list not ascending at %d: %d > %d", i, list[i-1].Timestamp, list[i].Timestamp)
		}
	}
}

func TestEqualTimestampsKeepInsertionOrder(t *testing.T) {
	list := reconcileAll(t,
		text("E1", 1000, "first", status.Sent),
		text("E2", 1000, "second", status.Sent),
	)
	if list[0].ID != "E1" || list[1].ID != "E2" {
		t.Errorf("order = [%s %s], want [E1 E2]", list[0].ID, list[1].ID)
	}
}

func TestNormalizeOnEntry(t *testing.T) {
	m := Message{
		ID: "E1", Sender: alice, Receiver: bob,
		Content: "📷 Image: https://media/u1", Timestamp: 1000,
		Status: status.Sent, Type: TypeImage, MediaURL: "https://media/u1",
	}
	list, _ := Reconcile(nil, m, DefaultMatchWindows())
	if list[0].Content != "" {
		t.Errorf("content = %q, want blanked for image", list[0].Content)
	}

	untyped := Message{ID: "E2", Sender: alice, Receiver: bob, Content: "x", Timestamp: 1001, Status: status.Sent}
	list, _ = Reconcile(list, untyped, DefaultMatchWindows())
	if list[1].Type != TypeText {
		t.Errorf("type = %q, want coerced to text", list[1].Type)
	}
}
