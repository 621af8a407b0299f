package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func newTestMemory(limit int) (*Memory, *time.Time) {
	m := NewMemory(limit)
	now := time.Unix(1_700_000_000, 0)
	m.now = func() time.Time { return now }
	return m, &now
}

func mustPut(t *testing.T, m *Memory, token string, ref MediaRef, ttl time.Duration) {
	t.Helper()
	if err := m.Put(context.Background(), token, ref, ttl); err != nil {
		t.Fatal(err)
	}
}

func TestMemoryPutGetTTL(t *testing.T) {
	ctx := context.Background()
	m, now := newTestMemory(10)

	size := int64(1234)
	ref := MediaRef{FileID: "f1", FileName: "a.mkv", FileSize: &size, Access: AccessNormal}
	mustPut(t, m, "tok1", ref, time.Hour)

	got, ok, err := m.Get(ctx, "tok1")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.FileID != "f1" || got.FileSize == nil || *got.FileSize != 1234 {
		t.Fatalf("ref mismatch: %+v", got)
	}

	*now = now.Add(time.Hour - time.Second)
	if _, ok, _ := m.Get(ctx, "tok1"); !ok {
		t.Fatal("expired too early")
	}
	*now = now.Add(2 * time.Second)
	if _, ok, _ := m.Get(ctx, "tok1"); ok {
		t.Fatal("token should have expired")
	}

	// no TTL = no expiry
	mustPut(t, m, "tok2", ref, 0)
	*now = now.Add(1000 * time.Hour)
	if _, ok, _ := m.Get(ctx, "tok2"); !ok {
		t.Fatal("zero-ttl token expired")
	}
}

func TestMemoryGetMissing(t *testing.T) {
	m, _ := newTestMemory(10)
	if _, ok, err := m.Get(context.Background(), "nope"); ok || err != nil {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
}

func TestMemoryRecencyOrderAndCap(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMemory(3)
	for i := 0; i < 5; i++ {
		mustPut(t, m, fmt.Sprintf("t%d", i), MediaRef{FileID: fmt.Sprintf("f%d", i)}, 0)
	}
	got, err := m.ListRecent(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("len=%d want 3", len(got))
	}
	for i, want := range []string{"t4", "t3", "t2"} {
		if got[i].Token != want {
			t.Fatalf("pos %d = %s want %s", i, got[i].Token, want)
		}
	}

	// re-putting an existing token must not duplicate the history entry
	mustPut(t, m, "t4", MediaRef{FileID: "f4b"}, 0)
	got, _ = m.ListRecent(ctx, 0)
	if len(got) != 3 || got[0].Ref.FileID != "f4b" {
		t.Fatalf("idempotent overwrite broke history: %+v", got)
	}
}

func TestMemorySections(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMemory(10)

	sec, err := m.CreateSection(ctx, "Movies")
	if err != nil {
		t.Fatal(err)
	}
	if sec.ID != "movies" || sec.Name != "Movies" {
		t.Fatalf("section %+v", sec)
	}
	if _, err := m.CreateSection(ctx, "  movies "); !errors.Is(err, ErrSectionExists) {
		t.Fatalf("duplicate normalized name: err=%v", err)
	}
	if _, err := m.CreateSection(ctx, ""); !errors.Is(err, ErrSectionExists) {
		t.Fatalf("empty name: err=%v", err)
	}

	mustPut(t, m, "in-sec", MediaRef{FileID: "f", SectionID: sec.ID}, 0)
	mustPut(t, m, "no-sec", MediaRef{FileID: "g"}, 0)
	items, err := m.ListSection(ctx, sec.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].Token != "in-sec" {
		t.Fatalf("section items: %+v", items)
	}

	if err := m.SetCurrentSection(ctx, sec); err != nil {
		t.Fatal(err)
	}
	cur, ok, _ := m.CurrentSection(ctx)
	if !ok || cur.ID != sec.ID {
		t.Fatalf("current %+v ok=%v", cur, ok)
	}

	deleted, err := m.DeleteSection(ctx, "MOVIES")
	if err != nil || !deleted {
		t.Fatalf("delete: %v %v", deleted, err)
	}
	if _, ok, _ := m.CurrentSection(ctx); ok {
		t.Fatal("current section survived deletion")
	}
	if deleted, _ := m.DeleteSection(ctx, "movies"); deleted {
		t.Fatal("double delete reported true")
	}
}

func TestMemoryCredits(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMemory(10)

	if bal, _ := m.Credits(ctx, 7); bal != 0 {
		t.Fatalf("fresh balance %d", bal)
	}
	if bal, err := m.AddCredits(ctx, 7, 5); err != nil || bal != 5 {
		t.Fatalf("add: %d %v", bal, err)
	}
	if bal, _ := m.AddCredits(ctx, 7, -3); bal != 5 {
		t.Fatal("negative add must be a no-op")
	}

	ok, bal, err := m.ChargeCredits(ctx, 7, 2)
	if err != nil || !ok || bal != 3 {
		t.Fatalf("charge: ok=%v bal=%d err=%v", ok, bal, err)
	}
	ok, bal, _ = m.ChargeCredits(ctx, 7, 10)
	if ok || bal != 3 {
		t.Fatalf("overcharge: ok=%v bal=%d", ok, bal)
	}
	ok, bal, _ = m.ChargeCredits(ctx, 7, 0)
	if !ok || bal != 3 {
		t.Fatalf("zero charge: ok=%v bal=%d", ok, bal)
	}

	balances, _ := m.CreditBalances(ctx, 0)
	if len(balances) != 1 || balances[0].UserID != 7 || balances[0].Credits != 3 {
		t.Fatalf("balances: %+v", balances)
	}
}

func TestMemoryChargeConcurrent(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMemory(10)
	const user, start, workers = int64(1), int64(50), 100

	if _, err := m.AddCredits(ctx, user, start); err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := int64(0)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, bal, err := m.ChargeCredits(ctx, user, 1)
			if err != nil {
				t.Error(err)
				return
			}
			if bal < 0 {
				t.Errorf("balance went negative: %d", bal)
			}
			if ok {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if succeeded != start {
		t.Fatalf("%d charges succeeded, want %d", succeeded, start)
	}
	if bal, _ := m.Credits(ctx, user); bal != 0 {
		t.Fatalf("final balance %d", bal)
	}
}

func TestMemoryPaymentLifecycle(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMemory(10)

	p1, err := m.CreatePaymentRequest(ctx, 42, 3.5, 10)
	if err != nil {
		t.Fatal(err)
	}
	p2, _ := m.CreatePaymentRequest(ctx, 42, 0.35, 1)
	if p2.ID <= p1.ID {
		t.Fatalf("ids not monotonic: %d then %d", p1.ID, p2.ID)
	}
	if p1.Status != PayPending {
		t.Fatalf("new status %s", p1.Status)
	}

	if _, err := m.SetPaymentStatus(ctx, p1.ID, PaySubmitted, "utr:123", 0); err != nil {
		t.Fatal(err)
	}
	got, err := m.SetPaymentStatus(ctx, p1.ID, PayApproved, "", 99)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != PayApproved || got.AdminID != 99 {
		t.Fatalf("approved: %+v", got)
	}
	if bal, _ := m.Credits(ctx, 42); bal != 10 {
		t.Fatalf("credits after approve: %d", bal)
	}

	// approving twice grants once
	if _, err := m.SetPaymentStatus(ctx, p1.ID, PayApproved, "", 99); !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("double approve: %v", err)
	}
	if bal, _ := m.Credits(ctx, 42); bal != 10 {
		t.Fatalf("double approve granted again: %d", bal)
	}
	// rejecting an approved request fails and leaves the balance alone
	if _, err := m.SetPaymentStatus(ctx, p1.ID, PayRejected, "", 99); !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("reject after approve: %v", err)
	}
	if bal, _ := m.Credits(ctx, 42); bal != 10 {
		t.Fatalf("balance moved: %d", bal)
	}

	// submitted -> pending is not a legal move
	if _, err := m.SetPaymentStatus(ctx, p2.ID, PaySubmitted, "", 0); err != nil {
		t.Fatal(err)
	}
	if _, err := m.SetPaymentStatus(ctx, p2.ID, PayPending, "", 0); !errors.Is(err, ErrBadTransition) {
		t.Fatalf("submitted->pending: %v", err)
	}

	if _, err := m.SetPaymentStatus(ctx, 9999, PayApproved, "", 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing id: %v", err)
	}

	all, _ := m.ListPaymentRequests(ctx, "", 0)
	if len(all) != 2 || all[0].ID != p2.ID {
		t.Fatalf("list: %+v", all)
	}
	approved, _ := m.ListPaymentRequests(ctx, PayApproved, 0)
	if len(approved) != 1 || approved[0].ID != p1.ID {
		t.Fatalf("filtered list: %+v", approved)
	}
}

func TestMemoryConcurrentApprove(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMemory(10)
	req, _ := m.CreatePaymentRequest(ctx, 5, 1, 100)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.SetPaymentStatus(ctx, req.ID, PayApproved, "", 1); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("%d approvals succeeded", wins)
	}
	if bal, _ := m.Credits(ctx, 5); bal != 100 {
		t.Fatalf("credits granted %d times", bal/100)
	}
}

func TestMemoryPayPlanAndUPI(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMemory(10)

	plan, err := m.PayPlan(ctx)
	if err != nil || plan.Price != DefaultPlanPrice || plan.Text != DefaultPlanText {
		t.Fatalf("defaults: %+v %v", plan, err)
	}
	if err := m.SetPayPlan(ctx, PayPlan{Price: 0.5, Text: "custom"}); err != nil {
		t.Fatal(err)
	}
	plan, _ = m.PayPlan(ctx)
	if plan.Price != 0.5 || plan.Text != "custom" {
		t.Fatalf("plan: %+v", plan)
	}

	if id, _ := m.UPIID(ctx); id != "" {
		t.Fatal("fresh upi not empty")
	}
	if err := m.SetUPIID(ctx, "pay@bank"); err != nil {
		t.Fatal(err)
	}
	if id, _ := m.UPIID(ctx); id != "pay@bank" {
		t.Fatalf("upi %q", id)
	}
}

func TestMemoryPendingUTR(t *testing.T) {
	ctx := context.Background()
	m, now := newTestMemory(10)

	if err := m.MarkPendingUTR(ctx, 8, 3, 30*time.Minute); err != nil {
		t.Fatal(err)
	}
	id, ok, _ := m.PendingUTR(ctx, 8)
	if !ok || id != 3 {
		t.Fatalf("pending: id=%d ok=%v", id, ok)
	}
	*now = now.Add(31 * time.Minute)
	if _, ok, _ := m.PendingUTR(ctx, 8); ok {
		t.Fatal("pending utr survived its ttl")
	}

	_ = m.MarkPendingUTR(ctx, 9, 4, time.Hour)
	_ = m.ClearPendingUTR(ctx, 9)
	if _, ok, _ := m.PendingUTR(ctx, 9); ok {
		t.Fatal("clear did not clear")
	}
}

func TestMemoryViewsAndReactions(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMemory(10)

	total, unique, err := m.IncrementView(ctx, "tok", "1.2.3.4")
	if err != nil || total != 1 || unique != 1 {
		t.Fatalf("first view: %d %d %v", total, unique, err)
	}
	total, unique, _ = m.IncrementView(ctx, "tok", "1.2.3.4")
	if total != 2 || unique != 1 {
		t.Fatalf("repeat viewer: %d %d", total, unique)
	}
	total, unique, _ = m.IncrementView(ctx, "tok", "5.6.7.8")
	if total != 3 || unique != 2 {
		t.Fatalf("second viewer: %d %d", total, unique)
	}

	likes, dislikes, mine, _ := m.SetReaction(ctx, "tok", 1, ReactionLike)
	if likes != 1 || dislikes != 0 || mine != ReactionLike {
		t.Fatalf("like: %d %d %d", likes, dislikes, mine)
	}
	// idempotent
	likes, _, _, _ = m.SetReaction(ctx, "tok", 1, ReactionLike)
	if likes != 1 {
		t.Fatalf("double like counted: %d", likes)
	}
	// switching sides moves the vote
	likes, dislikes, mine, _ = m.SetReaction(ctx, "tok", 1, ReactionDislike)
	if likes != 0 || dislikes != 1 || mine != ReactionDislike {
		t.Fatalf("switch: %d %d %d", likes, dislikes, mine)
	}
	// clearing
	likes, dislikes, mine, _ = m.SetReaction(ctx, "tok", 1, ReactionNone)
	if likes != 0 || dislikes != 0 || mine != ReactionNone {
		t.Fatalf("clear: %d %d %d", likes, dislikes, mine)
	}

	_, _, _, _ = m.SetReaction(ctx, "tok", 2, ReactionLike)
	likes, dislikes, mine, _ = m.Reactions(ctx, "tok", 1)
	if likes != 1 || dislikes != 0 || mine != ReactionNone {
		t.Fatalf("other user's vote: %d %d %d", likes, dislikes, mine)
	}
}

func TestMemoryNegativeLimits(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestMemory(10)
	mustPut(t, m, "tok", MediaRef{FileID: "f", SectionID: "movies"}, 0)
	if _, err := m.CreatePaymentRequest(ctx, 1, 1, 1); err != nil {
		t.Fatal(err)
	}
	_, _ = m.AddCredits(ctx, 1, 5)

	if got, err := m.ListRecent(ctx, -1); err != nil || len(got) != 1 {
		t.Fatalf("ListRecent(-1): %d %v", len(got), err)
	}
	if got, err := m.ListSection(ctx, "movies", -5); err != nil || len(got) != 1 {
		t.Fatalf("ListSection(-5): %d %v", len(got), err)
	}
	if got, err := m.ListPaymentRequests(ctx, "", -1); err != nil || len(got) != 1 {
		t.Fatalf("ListPaymentRequests(-1): %d %v", len(got), err)
	}
	if got, err := m.CreditBalances(ctx, -1); err != nil || len(got) != 1 {
		t.Fatalf("CreditBalances(-1): %d %v", len(got), err)
	}
}

func TestMemorySweep(t *testing.T) {
	ctx := context.Background()
	m, now := newTestMemory(10)

	mustPut(t, m, "short", MediaRef{FileID: "a"}, time.Minute)
	mustPut(t, m, "long", MediaRef{FileID: "b"}, time.Hour)
	mustPut(t, m, "forever", MediaRef{FileID: "c"}, 0)
	_ = m.MarkPendingUTR(ctx, 1, 1, time.Minute)

	*now = now.Add(2 * time.Minute)
	if n := m.Sweep(*now); n != 2 {
		t.Fatalf("swept %d want 2", n)
	}
	if _, ok, _ := m.Get(ctx, "long"); !ok {
		t.Fatal("live token swept")
	}
	if _, ok, _ := m.Get(ctx, "forever"); !ok {
		t.Fatal("eternal token swept")
	}
	recent, _ := m.ListRecent(ctx, 0)
	if len(recent) != 2 {
		t.Fatalf("recent after sweep: %d", len(recent))
	}
}
