package eventlog

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/ignite/mailroom/internal/domain"
	"github.com/ignite/mailroom/internal/suppression"
)

func event(messageID string, typ domain.EventType, recipient string) domain.Event {
	return domain.NewEvent(messageID, typ, recipient, "subject")
}

func TestRecordAndQuery(t *testing.T) {
	l := New(0, nil)

	l.Record(event("m1", domain.EventQueued, "a@example.com"))
	l.Record(event("m1", domain.EventSent, "a@example.com"))
	l.Record(event("m2", domain.EventQueued, "b@example.com"))

	if l.Len() != 3 {
		t.Fatalf("len = %d, want 3", l.Len())
	}

	got := l.Query(Filter{MessageID: "m1"})
	if len(got) != 2 {
		t.Fatalf("m1 events = %d, want 2", len(got))
	}
	if got[0].Type != domain.EventQueued || got[1].Type != domain.EventSent {
		t.Error("events not in recording order")
	}

	got = l.Query(Filter{Type: domain.EventQueued})
	if len(got) != 2 {
		t.Errorf("queued events = %d, want 2", len(got))
	}
	got = l.Query(Filter{Recipient: "b@example.com"})
	if len(got) != 1 {
		t.Errorf("recipient events = %d, want 1", len(got))
	}
	got = l.Query(Filter{Limit: 1})
	if len(got) != 1 {
		t.Errorf("limited events = %d, want 1", len(got))
	}
}

func TestQueryTimeWindow(t *testing.T) {
	l := New(0, nil)

	old := event("m1", domain.EventSent, "a@example.com")
	old.Timestamp = time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	recent := event("m2", domain.EventSent, "b@example.com")
	recent.Timestamp = time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	l.Record(old)
	l.Record(recent)

	got := l.Query(Filter{Since: time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC)})
	if len(got) != 1 || got[0].MessageID != "m2" {
		t.Fatalf("since filter returned %v", got)
	}
	got = l.Query(Filter{Until: time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC)})
	if len(got) != 1 || got[0].MessageID != "m1" {
		t.Fatalf("until filter returned %v", got)
	}
}

func TestRetentionCeilingDropsOldest(t *testing.T) {
	l := New(3, nil)

	for _, id := range []string{"m1", "m2", "m3", "m4"} {
		l.Record(event(id, domain.EventSent, "a@example.com"))
	}

	if l.Len() != 3 {
		t.Fatalf("len = %d, want ceiling 3", l.Len())
	}
	if got := l.Query(Filter{MessageID: "m1"}); len(got) != 0 {
		t.Error("oldest event must be dropped at the ceiling")
	}
	if got := l.Query(Filter{MessageID: "m4"}); len(got) != 1 {
		t.Error("newest event must be retained")
	}
}

func TestRecent(t *testing.T) {
	l := New(0, nil)
	for _, id := range []string{"m1", "m2", "m3"} {
		l.Record(event(id, domain.EventSent, "a@example.com"))
	}

	got := l.Recent(2)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].MessageID != "m3" || got[1].MessageID != "m2" {
		t.Error("Recent must return newest first")
	}

	if got := l.Recent(10); len(got) != 3 {
		t.Errorf("oversized n returned %d events, want all 3", len(got))
	}
}

func TestPurgeByAge(t *testing.T) {
	l := New(0, nil)
	current := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return current }

	old := event("m1", domain.EventSent, "a@example.com")
	old.Timestamp = current.Add(-48 * time.Hour)
	fresh := event("m2", domain.EventSent, "b@example.com")
	fresh.Timestamp = current.Add(-1 * time.Hour)
	l.Record(old)
	l.Record(fresh)

	removed := l.Purge(24 * time.Hour)
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if l.Len() != 1 {
		t.Fatalf("len = %d, want 1", l.Len())
	}
	if got := l.Query(Filter{MessageID: "m2"}); len(got) != 1 {
		t.Error("fresh event must survive purge")
	}
}

func TestHardBounceRoutesToSuppression(t *testing.T) {
	reg := suppression.NewRegistry()
	l := New(0, reg)

	e := event("m1", domain.EventHardBounce, "gone@example.com")
	e.Error = "550 user unknown"
	l.Record(e)

	if !reg.IsSuppressed("gone@example.com") {
		t.Fatal("hard bounce event must suppress the recipient")
	}
	rec, err := reg.Bounce("gone@example.com")
	if err != nil {
		t.Fatalf("Bounce: %v", err)
	}
	if rec.Type != domain.BounceHard || rec.Reason != "550 user unknown" {
		t.Errorf("bounce record = %+v", rec)
	}
}

func TestSoftBouncesRouteAndAccumulate(t *testing.T) {
	reg := suppression.NewRegistry()
	l := New(0, reg)

	for i := 0; i < suppression.SoftBounceLimit; i++ {
		if i < suppression.SoftBounceLimit-1 && reg.IsSuppressed("full@example.com") {
			t.Fatalf("suppressed after only %d soft bounces", i)
		}
		e := event("m1", domain.EventSoftBounce, "full@example.com")
		e.Error = "452 mailbox full"
		l.Record(e)
	}

	if !reg.IsSuppressed("full@example.com") {
		t.Fatal("repeated soft bounces must suppress the recipient")
	}
}

func TestComplaintRoutesToSuppression(t *testing.T) {
	reg := suppression.NewRegistry()
	l := New(0, reg)

	l.Record(event("m1", domain.EventComplaint, "angry@example.com"))

	if !reg.IsSuppressed("angry@example.com") {
		t.Fatal("spam complaint event must suppress the recipient")
	}
	rec, err := reg.Complaint("angry@example.com")
	if err != nil {
		t.Fatalf("Complaint: %v", err)
	}
	if rec.MessageID != "m1" {
		t.Errorf("messageID = %q, want m1", rec.MessageID)
	}
}

func TestUnsubscribeRoutesToSuppression(t *testing.T) {
	reg := suppression.NewRegistry()
	l := New(0, reg)

	l.Record(event("m1", domain.EventUnsubscribed, "done@example.com"))

	if !reg.IsSuppressed("done@example.com") {
		t.Fatal("unsubscribe event must suppress the recipient")
	}
	reason, _ := reg.Reason("done@example.com")
	if reason != domain.ReasonUnsubscribe {
		t.Errorf("reason = %s, want unsubscribed", reason)
	}
}

func TestNonSignalEventsDoNotTouchSuppression(t *testing.T) {
	reg := suppression.NewRegistry()
	l := New(0, reg)

	for _, typ := range []domain.EventType{
		domain.EventQueued, domain.EventSent, domain.EventDelivered,
		domain.EventOpened, domain.EventClicked, domain.EventFailed,
	} {
		l.Record(event("m1", typ, "ok@example.com"))
	}

	if reg.Count() != 0 {
		t.Fatalf("suppression count = %d, want 0", reg.Count())
	}
}

func TestExportJSON(t *testing.T) {
	l := New(0, nil)
	l.Record(event("m1", domain.EventSent, "a@example.com"))
	l.Record(event("m2", domain.EventFailed, "b@example.com"))

	var buf bytes.Buffer
	if err := l.Export(&buf, Filter{}); err != nil {
		t.Fatalf("Export: %v", err)
	}

	var decoded []domain.Event
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("export is not valid JSON: %v", err)
	}
	if len(decoded) != 2 {
		t.Fatalf("exported %d events, want 2", len(decoded))
	}
	if decoded[0].MessageID != "m1" {
		t.Errorf("first exported event = %s, want m1", decoded[0].MessageID)
	}
}
