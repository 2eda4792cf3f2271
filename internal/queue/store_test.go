package queue

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ignite/mailroom/internal/domain"
)

func testMessage(t *testing.T, to string) *domain.Message {
	t.Helper()
	msg, err := domain.NewMessage(domain.MessageSpec{
		From:     domain.NewAddress("sender@example.com"),
		To:       []domain.Address{domain.NewAddress(to)},
		Subject:  "hello",
		TextBody: "body",
	})
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	return msg
}

func newTestStore() (*Store, *time.Time) {
	st := NewStore(DefaultRetryPolicy(), 0)
	current := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	st.now = func() time.Time { return current }
	return st, &current
}

func TestEnqueueDefaults(t *testing.T) {
	st, clock := newTestStore()

	item, err := st.Enqueue(testMessage(t, "user@example.com"), EnqueueOptions{})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if item.Status != domain.QueuePending {
		t.Errorf("status = %s, want pending", item.Status)
	}
	if item.MaxAttempts != 3 {
		t.Errorf("maxAttempts = %d, want policy default 3", item.MaxAttempts)
	}
	if item.Attempts != 0 {
		t.Errorf("attempts = %d, want 0", item.Attempts)
	}
	if !item.ScheduledAt.Equal(*clock) {
		t.Errorf("scheduledAt = %v, want now", item.ScheduledAt)
	}
	if item.ID == "" {
		t.Error("id not assigned")
	}
}

func TestEnqueueCapacity(t *testing.T) {
	st := NewStore(DefaultRetryPolicy(), 2)

	for i := 0; i < 2; i++ {
		if _, err := st.Enqueue(testMessage(t, "user@example.com"), EnqueueOptions{}); err != nil {
			t.Fatalf("Enqueue %d: %v", i, err)
		}
	}
	_, err := st.Enqueue(testMessage(t, "user@example.com"), EnqueueOptions{})
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
	if st.Size() != 2 {
		t.Errorf("size = %d, want 2", st.Size())
	}
}

func TestScheduleHoldsUntilDue(t *testing.T) {
	st, clock := newTestStore()

	sendAt := clock.Add(1 * time.Hour)
	item, err := st.Schedule(testMessage(t, "later@example.com"), sendAt, EnqueueOptions{})
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	if got := st.SelectEligible(10); len(got) != 0 {
		t.Fatalf("eligible before due time = %d items, want 0", len(got))
	}

	*clock = clock.Add(1 * time.Hour)
	got := st.SelectEligible(10)
	if len(got) != 1 || got[0].ID != item.ID {
		t.Fatalf("eligible at due time = %v, want the scheduled item", got)
	}
}

func TestSelectEligibleOrdering(t *testing.T) {
	st, clock := newTestStore()
	base := *clock

	// Same priority, earlier schedule wins; higher priority beats both.
	early, _ := st.Enqueue(testMessage(t, "a@example.com"), EnqueueOptions{
		Priority: 1, ScheduledAt: base.Add(-2 * time.Minute),
	})
	late, _ := st.Enqueue(testMessage(t, "b@example.com"), EnqueueOptions{
		Priority: 1, ScheduledAt: base.Add(-1 * time.Minute),
	})
	urgent, _ := st.Enqueue(testMessage(t, "c@example.com"), EnqueueOptions{
		Priority: 9, ScheduledAt: base,
	})

	got := st.SelectEligible(10)
	if len(got) != 3 {
		t.Fatalf("eligible = %d items, want 3", len(got))
	}
	wantOrder := []string{urgent.ID, early.ID, late.ID}
	for i, want := range wantOrder {
		if got[i].ID != want {
			t.Errorf("position %d: got %s, want %s", i, got[i].ID, want)
		}
	}
}

func TestSelectEligibleTieBreakByID(t *testing.T) {
	st, clock := newTestStore()
	base := *clock

	for i := 0; i < 5; i++ {
		if _, err := st.Enqueue(testMessage(t, "tie@example.com"), EnqueueOptions{
			Priority: 3, ScheduledAt: base,
		}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	first := st.SelectEligible(5)
	second := st.SelectEligible(5)
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Fatalf("ordering not deterministic at position %d", i)
		}
	}
	for i := 1; i < len(first); i++ {
		if first[i-1].ID >= first[i].ID {
			t.Fatalf("ids not ascending at position %d", i)
		}
	}
}

func TestSelectEligibleRespectsLimit(t *testing.T) {
	st, _ := newTestStore()
	for i := 0; i < 10; i++ {
		if _, err := st.Enqueue(testMessage(t, "user@example.com"), EnqueueOptions{}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	if got := st.SelectEligible(4); len(got) != 4 {
		t.Fatalf("eligible = %d items, want 4", len(got))
	}
}

func TestClaimTransitions(t *testing.T) {
	st, _ := newTestStore()
	item, _ := st.Enqueue(testMessage(t, "user@example.com"), EnqueueOptions{})

	claimed, err := st.Claim(item.ID, "worker-1")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if claimed.Status != domain.QueueProcessing {
		t.Errorf("status = %s, want processing", claimed.Status)
	}
	if claimed.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", claimed.Attempts)
	}
	if claimed.WorkerID != "worker-1" {
		t.Errorf("workerID = %q, want worker-1", claimed.WorkerID)
	}
	if claimed.ClaimToken == 0 {
		t.Error("claim token not issued")
	}
	if claimed.StartedAt == nil {
		t.Error("startedAt not stamped")
	}

	if _, err := st.Claim(item.ID, "worker-2"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("second claim err = %v, want ErrInvalidState", err)
	}
}

func TestClaimNotFound(t *testing.T) {
	st, _ := newTestStore()
	if _, err := st.Claim("missing", "worker-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestConcurrentClaimSingleWinner(t *testing.T) {
	st, _ := newTestStore()
	item, _ := st.Enqueue(testMessage(t, "contested@example.com"), EnqueueOptions{})

	const racers = 50
	var wg sync.WaitGroup
	wins := make(chan string, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if _, err := st.Claim(item.ID, fmt.Sprintf("worker-%d", n)); err == nil {
				wins <- fmt.Sprintf("worker-%d", n)
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	var winners []string
	for w := range wins {
		winners = append(winners, w)
	}
	if len(winners) != 1 {
		t.Fatalf("winners = %d, want exactly 1", len(winners))
	}

	got, _ := st.Get(item.ID)
	if got.Attempts != 1 {
		t.Errorf("attempts = %d, want 1 after a single successful claim", got.Attempts)
	}
}

func TestMarkSent(t *testing.T) {
	st, _ := newTestStore()
	item, _ := st.Enqueue(testMessage(t, "user@example.com"), EnqueueOptions{})
	claimed, _ := st.Claim(item.ID, "worker-1")

	if err := st.MarkSent(item.ID, claimed.ClaimToken); err != nil {
		t.Fatalf("MarkSent: %v", err)
	}

	got, _ := st.Get(item.ID)
	if got.Status != domain.QueueSent {
		t.Errorf("status = %s, want sent", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("completedAt not stamped")
	}
	if got.WorkerID != "" {
		t.Errorf("workerID = %q, want cleared", got.WorkerID)
	}

	// The token was consumed; replay is rejected.
	if err := st.MarkSent(item.ID, claimed.ClaimToken); !errors.Is(err, ErrStaleClaim) {
		t.Fatalf("replay err = %v, want ErrStaleClaim", err)
	}
}

func TestMarkFailedRetryableDefers(t *testing.T) {
	st, clock := newTestStore()
	item, _ := st.Enqueue(testMessage(t, "user@example.com"), EnqueueOptions{})
	claimed, _ := st.Claim(item.ID, "worker-1")

	if err := st.MarkFailed(item.ID, claimed.ClaimToken, "SMTP timeout"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	got, _ := st.Get(item.ID)
	if got.Status != domain.QueueDeferred {
		t.Fatalf("status = %s, want deferred", got.Status)
	}
	if got.LastError != "SMTP timeout" {
		t.Errorf("lastError = %q", got.LastError)
	}
	if got.NextRetryAt == nil {
		t.Fatal("nextRetryAt not set")
	}
	wantRetry := clock.Add(st.Policy().DelayFor(1))
	if !got.NextRetryAt.Equal(wantRetry) {
		t.Errorf("nextRetryAt = %v, want %v", got.NextRetryAt, wantRetry)
	}

	// Not eligible until the backoff expires.
	if eligible := st.SelectEligible(10); len(eligible) != 0 {
		t.Fatalf("deferred item eligible before backoff expiry")
	}
	*clock = clock.Add(st.Policy().DelayFor(1))
	if eligible := st.SelectEligible(10); len(eligible) != 1 {
		t.Fatalf("deferred item not eligible after backoff expiry")
	}
}

func TestMarkFailedNonRetryableFinalizes(t *testing.T) {
	st, _ := newTestStore()
	item, _ := st.Enqueue(testMessage(t, "user@example.com"), EnqueueOptions{})
	claimed, _ := st.Claim(item.ID, "worker-1")

	if err := st.MarkFailed(item.ID, claimed.ClaimToken, "550 mailbox does not exist"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	got, _ := st.Get(item.ID)
	if got.Status != domain.QueueFailed {
		t.Fatalf("status = %s, want failed on non-retryable error", got.Status)
	}
	if got.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", got.Attempts)
	}
	if got.CompletedAt == nil {
		t.Error("completedAt not stamped")
	}
}

func TestMarkFailedExhaustsAttempts(t *testing.T) {
	st, clock := newTestStore()
	item, _ := st.Enqueue(testMessage(t, "user@example.com"), EnqueueOptions{})

	for attempt := 1; attempt <= 3; attempt++ {
		claimed, err := st.Claim(item.ID, "worker-1")
		if err != nil {
			t.Fatalf("Claim attempt %d: %v", attempt, err)
		}
		if err := st.MarkFailed(item.ID, claimed.ClaimToken, "connection refused"); err != nil {
			t.Fatalf("MarkFailed attempt %d: %v", attempt, err)
		}
		*clock = clock.Add(2 * time.Hour)
	}

	got, _ := st.Get(item.ID)
	if got.Status != domain.QueueFailed {
		t.Fatalf("status = %s, want failed after exhausting attempts", got.Status)
	}
	if got.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", got.Attempts)
	}
	if _, err := st.Claim(item.ID, "worker-1"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("claim on failed item err = %v, want ErrInvalidState", err)
	}
}

func TestCancelPending(t *testing.T) {
	st, _ := newTestStore()
	item, _ := st.Enqueue(testMessage(t, "user@example.com"), EnqueueOptions{})

	if err := st.Cancel(item.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	got, _ := st.Get(item.ID)
	if got.Status != domain.QueueCancelled {
		t.Fatalf("status = %s, want cancelled", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("completedAt not stamped")
	}
}

func TestCancelSentRejected(t *testing.T) {
	st, _ := newTestStore()
	item, _ := st.Enqueue(testMessage(t, "user@example.com"), EnqueueOptions{})
	claimed, _ := st.Claim(item.ID, "worker-1")
	if err := st.MarkSent(item.ID, claimed.ClaimToken); err != nil {
		t.Fatalf("MarkSent: %v", err)
	}

	if err := st.Cancel(item.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("err = %v, want ErrInvalidState", err)
	}
}

func TestCancelInvalidatesOutstandingClaim(t *testing.T) {
	st, _ := newTestStore()
	item, _ := st.Enqueue(testMessage(t, "user@example.com"), EnqueueOptions{})
	claimed, _ := st.Claim(item.ID, "worker-1")

	if err := st.Cancel(item.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	// The worker finishing late must not resurrect the cancelled item.
	if err := st.MarkSent(item.ID, claimed.ClaimToken); !errors.Is(err, ErrStaleClaim) {
		t.Fatalf("MarkSent after cancel err = %v, want ErrStaleClaim", err)
	}
	if err := st.MarkFailed(item.ID, claimed.ClaimToken, "too late"); !errors.Is(err, ErrStaleClaim) {
		t.Fatalf("MarkFailed after cancel err = %v, want ErrStaleClaim", err)
	}

	got, _ := st.Get(item.ID)
	if got.Status != domain.QueueCancelled {
		t.Fatalf("status = %s, cancelled item must stay cancelled", got.Status)
	}
}

func TestRetryResetsTerminalItem(t *testing.T) {
	st, _ := newTestStore()
	item, _ := st.Enqueue(testMessage(t, "user@example.com"), EnqueueOptions{})
	claimed, _ := st.Claim(item.ID, "worker-1")
	if err := st.MarkFailed(item.ID, claimed.ClaimToken, "550 rejected"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}

	if err := st.Retry(item.ID); err != nil {
		t.Fatalf("Retry: %v", err)
	}

	got, _ := st.Get(item.ID)
	if got.Status != domain.QueuePending {
		t.Errorf("status = %s, want pending", got.Status)
	}
	if got.Attempts != 0 {
		t.Errorf("attempts = %d, want 0", got.Attempts)
	}
	if got.LastError != "" {
		t.Errorf("lastError = %q, want cleared", got.LastError)
	}
	if got.NextRetryAt != nil || got.CompletedAt != nil {
		t.Error("retry must clear retry and completion stamps")
	}
}

func TestRetryRejectsNonTerminal(t *testing.T) {
	st, _ := newTestStore()
	item, _ := st.Enqueue(testMessage(t, "user@example.com"), EnqueueOptions{})

	if err := st.Retry(item.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("retry on pending err = %v, want ErrInvalidState", err)
	}
	claimed, _ := st.Claim(item.ID, "worker-1")
	if err := st.MarkSent(item.ID, claimed.ClaimToken); err != nil {
		t.Fatalf("MarkSent: %v", err)
	}
	if err := st.Retry(item.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("retry on sent err = %v, want ErrInvalidState", err)
	}
}

func TestSetPriority(t *testing.T) {
	st, _ := newTestStore()
	item, _ := st.Enqueue(testMessage(t, "user@example.com"), EnqueueOptions{})

	if err := st.SetPriority(item.ID, 7); err != nil {
		t.Fatalf("SetPriority: %v", err)
	}
	got, _ := st.Get(item.ID)
	if got.Priority != 7 {
		t.Errorf("priority = %d, want 7", got.Priority)
	}
	if err := st.SetPriority("missing", 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCleanupRemovesOldTerminalItems(t *testing.T) {
	st, clock := newTestStore()

	old, _ := st.Enqueue(testMessage(t, "old@example.com"), EnqueueOptions{})
	claimed, _ := st.Claim(old.ID, "worker-1")
	if err := st.MarkSent(old.ID, claimed.ClaimToken); err != nil {
		t.Fatalf("MarkSent: %v", err)
	}

	*clock = clock.Add(48 * time.Hour)
	fresh, _ := st.Enqueue(testMessage(t, "fresh@example.com"), EnqueueOptions{})

	removed := st.Cleanup(24 * time.Hour)
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, err := st.Get(old.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("old item still present")
	}
	if _, err := st.Get(fresh.ID); err != nil {
		t.Errorf("pending item must survive cleanup: %v", err)
	}
}

func TestListByStatus(t *testing.T) {
	st, _ := newTestStore()
	for i := 0; i < 3; i++ {
		if _, err := st.Enqueue(testMessage(t, "user@example.com"), EnqueueOptions{}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	item, _ := st.Enqueue(testMessage(t, "done@example.com"), EnqueueOptions{})
	claimed, _ := st.Claim(item.ID, "worker-1")
	if err := st.MarkSent(item.ID, claimed.ClaimToken); err != nil {
		t.Fatalf("MarkSent: %v", err)
	}

	if got := st.List(domain.QueuePending, 0, 0); len(got) != 3 {
		t.Errorf("pending = %d, want 3", len(got))
	}
	if got := st.List(domain.QueueSent, 0, 0); len(got) != 1 {
		t.Errorf("sent = %d, want 1", len(got))
	}
	if got := st.List(domain.QueuePending, 2, 0); len(got) != 2 {
		t.Errorf("limited pending = %d, want 2", len(got))
	}
	if got := st.List(domain.QueuePending, 0, 5); got != nil {
		t.Errorf("offset past end = %v, want nil", got)
	}
}

func TestSearch(t *testing.T) {
	st, _ := newTestStore()
	if _, err := st.Enqueue(testMessage(t, "alice@example.com"), EnqueueOptions{}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := st.Enqueue(testMessage(t, "bob@example.org"), EnqueueOptions{}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if got := st.Search("ALICE", 10); len(got) != 1 {
		t.Errorf("search by recipient = %d, want 1", len(got))
	}
	if got := st.Search("hello", 10); len(got) != 2 {
		t.Errorf("search by subject = %d, want 2", len(got))
	}
	if got := st.Search("hello", 1); len(got) != 1 {
		t.Errorf("search limit = %d, want 1", len(got))
	}
}

func TestSnapshotsAreIsolated(t *testing.T) {
	st, _ := newTestStore()
	item, _ := st.Enqueue(testMessage(t, "user@example.com"), EnqueueOptions{})

	got, _ := st.Get(item.ID)
	got.Status = domain.QueueFailed
	got.Attempts = 99

	reread, _ := st.Get(item.ID)
	if reread.Status != domain.QueuePending || reread.Attempts != 0 {
		t.Fatal("mutating a snapshot must not affect the store")
	}
}
