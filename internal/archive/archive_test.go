package archive

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/lwei-dev/nchat/internal/chat"
	"github.com/lwei-dev/nchat/internal/status"
)

const (
	me      = "npub1me"
	contact = "npub1contact"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func msg(id string, ts int64) chat.Message {
	return chat.Message{
		ID: id, Sender: me, Receiver: contact,
		Content: "body " + id, Timestamp: ts,
		Status: status.Sent, Type: chat.TypeText,
	}
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)

	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}
}

func TestSaveMessageIdempotent(t *testing.T) {
	db := testDB(t)

	inserted, err := db.SaveMessage(msg("E1", 1000))
	if err != nil {
		t.Fatal(err)
	}
	if !inserted {
		t.Error("first save should insert")
	}

	inserted, err = db.SaveMessage(msg("E1", 1000))
	if err != nil {
		t.Fatal(err)
	}
	if inserted {
		t.Error("second save of the same id should be a no-op")
	}

	got, err := db.ListMessages(contact, me, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Errorf("got %d messages, want 1", len(got))
	}
}

func TestSaveMessageSkipsProvisional(t *testing.T) {
	db := testDB(t)

	inserted, err := db.SaveMessage(chat.Message{
		ID: chat.NewProvisionalID(), Sender: me, Receiver: contact,
		Content: "unconfirmed", Timestamp: 1000,
		Status: status.Pending, Type: chat.TypeText,
	})
	if err != nil {
		t.Fatal(err)
	}
	if inserted {
		t.Error("provisional records must not be archived")
	}
}

func TestSaveMessageRespectsTombstone(t *testing.T) {
	db := testDB(t)

	if _, err := db.SaveMessage(msg("E1", 1000)); err != nil {
		t.Fatal(err)
	}
	if err := db.DeleteMessage("E1"); err != nil {
		t.Fatal(err)
	}

	// A relay re-sync delivers the deleted event again.
	inserted, err := db.SaveMessage(msg("E1", 1000))
	if err != nil {
		t.Fatal(err)
	}
	if inserted {
		t.Error("tombstoned message must not be resurrected")
	}
	got, _ := db.ListMessages(contact, me, 10, 0)
	if len(got) != 0 {
		t.Errorf("got %d messages, want 0", len(got))
	}
}

func TestListMessagesPagination(t *testing.T) {
	db := testDB(t)
	for i := 0; i < 7; i++ {
		m := msg(fmt.Sprintf("E%d", i), int64(1000+i))
		if i%2 == 0 {
			m.Sender, m.Receiver = contact, me
		}
		if _, err := db.SaveMessage(m); err != nil {
			t.Fatal(err)
		}
	}

	// Head page: newest 3, oldest first within the page.
	page, err := db.ListMessages(contact, me, 3, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 3 {
		t.Fatalf("got %d, want 3", len(page))
	}
	if page[0].ID != "E4" || page[2].ID != "E6" {
		t.Errorf("page = [%s..%s], want [E4..E6]", page[0].ID, page[2].ID)
	}

	// Next older page.
	page, err = db.ListMessages(contact, me, 3, 3)
	if err != nil {
		t.Fatal(err)
	}
	if page[0].ID != "E1" || page[2].ID != "E3" {
		t.Errorf("page = [%s..%s], want [E1..E3]", page[0].ID, page[2].ID)
	}

	// Both directions of the conversation are included.
	all, err := db.ListMessages(contact, me, 100, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 7 {
		t.Errorf("got %d, want 7 (both directions)", len(all))
	}
}

func TestHistorySourceServesStore(t *testing.T) {
	db := testDB(t)
	for i := 0; i < 5; i++ {
		if _, err := db.SaveMessage(msg(fmt.Sprintf("E%d", i), int64(1000+i))); err != nil {
			t.Fatal(err)
		}
	}

	src := db.History(me)
	page, err := src.FetchPage(context.Background(), contact, 3, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 3 || page[0].ID != "E2" {
		t.Errorf("page = %+v, want newest 3 starting at E2", page)
	}
}

func TestUpdateStatusAndMarkAllRead(t *testing.T) {
	db := testDB(t)

	// Two unread incoming, one already read, one outgoing.
	in1 := msg("E1", 1000)
	in1.Sender, in1.Receiver, in1.Status = contact, me, status.Delivered
	in2 := msg("E2", 1001)
	in2.Sender, in2.Receiver, in2.Status = contact, me, status.Delivered
	in3 := msg("E3", 1002)
	in3.Sender, in3.Receiver, in3.Status = contact, me, status.Read
	out := msg("E4", 1003)
	for _, m := range []chat.Message{in1, in2, in3, out} {
		if _, err := db.SaveMessage(m); err != nil {
			t.Fatal(err)
		}
	}

	ids, err := db.MarkAllRead(contact, me)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 {
		t.Fatalf("marked %d, want 2 (E3 already read, E4 outgoing)", len(ids))
	}

	got, err := db.GetMessage("E1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != status.Read {
		t.Errorf("E1 status = %s, want read", got.Status)
	}
	outGot, _ := db.GetMessage("E4")
	if outGot.Status != status.Sent {
		t.Errorf("outgoing status = %s, want untouched sent", outGot.Status)
	}

	// Second pass finds nothing.
	ids, err = db.MarkAllRead(contact, me)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 0 {
		t.Errorf("second MarkAllRead returned %d ids, want 0", len(ids))
	}
}

func TestDeleteConversation(t *testing.T) {
	db := testDB(t)
	other := "npub1other"
	if _, err := db.SaveMessage(msg("E1", 1000)); err != nil {
		t.Fatal(err)
	}
	keep := msg("E2", 1001)
	keep.Receiver = other
	if _, err := db.SaveMessage(keep); err != nil {
		t.Fatal(err)
	}

	if err := db.DeleteConversation(contact, me); err != nil {
		t.Fatal(err)
	}

	got, _ := db.ListMessages(contact, me, 10, 0)
	if len(got) != 0 {
		t.Errorf("conversation not emptied, %d left", len(got))
	}
	kept, _ := db.ListMessages(other, me, 10, 0)
	if len(kept) != 1 {
		t.Errorf("other conversation affected, %d left, want 1", len(kept))
	}

	// Every removed id is tombstoned.
	deleted, err := db.IsDeleted("E1")
	if err != nil {
		t.Fatal(err)
	}
	if !deleted {
		t.Error("E1 should be tombstoned after conversation delete")
	}
}

func TestMediaURLRoundTrip(t *testing.T) {
	db := testDB(t)
	img := chat.Message{
		ID: "E1", Sender: me, Receiver: contact,
		Timestamp: 1000, Status: status.Sent,
		Type: chat.TypeImage, MediaURL: "https://media/u1#frag",
	}
	if _, err := db.SaveMessage(img); err != nil {
		t.Fatal(err)
	}
	got, err := db.GetMessage("E1")
	if err != nil {
		t.Fatal(err)
	}
	if got.MediaURL != "https://media/u1#frag" {
		t.Errorf("mediaURL = %q, want full url with fragment", got.MediaURL)
	}
	if got.Content != "" {
		t.Errorf("content = %q, want blank for image", got.Content)
	}

	text, _ := db.GetMessage("missing")
	if text != nil {
		t.Error("GetMessage(missing) should return nil")
	}
}

func TestSyncState(t *testing.T) {
	db := testDB(t)

	v, err := db.GetState("last_sync_time")
	if err != nil {
		t.Fatal(err)
	}
	if v != "" {
		t.Errorf("unset state = %q, want empty", v)
	}

	if err := db.SetState("last_sync_time", "1700000000"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetState("last_sync_time", "1700000100"); err != nil {
		t.Fatal(err)
	}
	v, err = db.GetState("last_sync_time")
	if err != nil {
		t.Fatal(err)
	}
	if v != "1700000100" {
		t.Errorf("state = %q, want latest value", v)
	}
}

func TestCleanupOldMessages(t *testing.T) {
	db := testDB(t)

	old := msg("E1", time.Now().Add(-10*24*time.Hour).Unix())
	recent := msg("E2", time.Now().Unix())
	for _, m := range []chat.Message{old, recent} {
		if _, err := db.SaveMessage(m); err != nil {
			t.Fatal(err)
		}
	}

	n, err := db.CleanupOldMessages(7 * 24 * time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("removed %d, want 1", n)
	}
	stats, err := db.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if stats.Messages != 1 {
		t.Errorf("messages = %d, want 1", stats.Messages)
	}
}

func TestJanitorRunOnce(t *testing.T) {
	db := testDB(t)

	old := msg("E1", time.Now().Add(-10*24*time.Hour).Unix())
	if _, err := db.SaveMessage(old); err != nil {
		t.Fatal(err)
	}
	if err := db.DeleteMessage("E2"); err != nil { // creates a tombstone only
		t.Fatal(err)
	}

	j := NewJanitor(db, time.Hour, 7*24*time.Hour, nil)
	j.RunOnce()

	stats, err := db.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if stats.Messages != 0 {
		t.Errorf("messages = %d, want 0 after cleanup", stats.Messages)
	}
	// The fresh tombstone survives until its retention passes.
	if stats.Tombstones != 1 {
		t.Errorf("tombstones = %d, want 1", stats.Tombstones)
	}
}
