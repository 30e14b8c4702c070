package token

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/chainpass/core/internal/models"
	"github.com/chainpass/core/internal/pkg/fault"
	"github.com/chainpass/core/internal/store"
)

func newTestService() (*Service, *store.Memory) {
	st := store.NewMemory()
	return NewService(st, zap.NewNop()), st
}

func issueChainToken(t *testing.T, svc *Service, ttl time.Duration) *models.TokenModel {
	t.Helper()
	tok, err := svc.Issue(context.Background(), IssueParams{
		SessionID: "s1",
		Type:      models.TokenChain,
		ChainID:   "c1",
		HolderID:  "stu1",
		Seq:       0,
		TTL:       ttl,
		SingleUse: true,
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return tok
}

func TestIssueAndValidate(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService()
	tok := issueChainToken(t, svc, time.Minute)

	got, err := svc.Validate(context.Background(), tok.ID)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if got.Status != models.TokenActive {
		t.Fatalf("expected ACTIVE, got %s", got.Status)
	}
	if got.Tag == "" {
		t.Fatal("expected precondition tag")
	}
}

func TestValidateUnknownToken(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService()
	_, err := svc.Validate(context.Background(), "nope")
	if !fault.IsCode(err, fault.CodeTokenNotFound) {
		t.Fatalf("expected TOKEN_NOT_FOUND, got %v", err)
	}
}

func TestValidateLazyExpiry(t *testing.T) {
	t.Parallel()
	svc, st := newTestService()
	tok := issueChainToken(t, svc, time.Minute)

	svc.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err := svc.Validate(context.Background(), tok.ID)
	if !fault.IsCode(err, fault.CodeTokenExpired) {
		t.Fatalf("expected TOKEN_EXPIRED, got %v", err)
	}

	stored, err := st.GetToken(context.Background(), tok.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != models.TokenExpired {
		t.Fatalf("expected lazy transition to EXPIRED, got %s", stored.Status)
	}
}

func TestConsumeHappyPath(t *testing.T) {
	t.Parallel()
	svc, st := newTestService()
	tok := issueChainToken(t, svc, time.Minute)

	if err := svc.Consume(context.Background(), tok, tok.Tag, "stu2"); err != nil {
		t.Fatalf("consume: %v", err)
	}
	stored, _ := st.GetToken(context.Background(), tok.ID)
	if stored.Status != models.TokenUsed {
		t.Fatalf("expected USED, got %s", stored.Status)
	}
	if stored.UsedBy != "stu2" {
		t.Fatalf("expected UsedBy stu2, got %q", stored.UsedBy)
	}
	if stored.UsedAt == nil {
		t.Fatal("expected UsedAt")
	}
}

func TestConsumeStaleTagConflicts(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService()
	tok := issueChainToken(t, svc, time.Minute)

	observed := *tok
	if err := svc.Consume(context.Background(), tok, tok.Tag, "stu2"); err != nil {
		t.Fatalf("first consume: %v", err)
	}
	err := svc.Consume(context.Background(), &observed, observed.Tag, "stu3")
	if !fault.IsCode(err, fault.CodeConflict) {
		t.Fatalf("expected CONFLICT, got %v", err)
	}
}

func TestConcurrentConsumeSingleWinner(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService()
	tok := issueChainToken(t, svc, time.Minute)

	const scanners = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0

	for i := 0; i < scanners; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			observed := *tok
			if err := svc.Consume(context.Background(), &observed, tok.Tag, "stu"); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one consumption winner, got %d", wins)
	}
}

func TestConsumeMultiUseTokenKeepsItActive(t *testing.T) {
	t.Parallel()
	svc, st := newTestService()
	tok, err := svc.Issue(context.Background(), IssueParams{
		SessionID: "s1",
		Type:      models.TokenSession,
		TTL:       time.Minute,
		SingleUse: false,
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := svc.Consume(context.Background(), tok, tok.Tag, "stu"); err != nil {
			t.Fatalf("consume %d: %v", i+1, err)
		}
	}
	stored, _ := st.GetToken(context.Background(), tok.ID)
	if stored.Status != models.TokenActive {
		t.Fatalf("multi-use token should stay ACTIVE, got %s", stored.Status)
	}
}

func TestRevoke(t *testing.T) {
	t.Parallel()
	svc, st := newTestService()
	tok := issueChainToken(t, svc, time.Minute)

	if err := svc.Revoke(context.Background(), tok.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	stored, _ := st.GetToken(context.Background(), tok.ID)
	if stored.Status != models.TokenRevoked {
		t.Fatalf("expected REVOKED, got %s", stored.Status)
	}

	// Idempotent on terminal tokens and silent on missing ones.
	if err := svc.Revoke(context.Background(), tok.ID); err != nil {
		t.Fatalf("revoke again: %v", err)
	}
	if err := svc.Revoke(context.Background(), "missing"); err != nil {
		t.Fatalf("revoke missing: %v", err)
	}

	_, err := svc.Validate(context.Background(), tok.ID)
	if !fault.IsCode(err, fault.CodeTokenRevoked) {
		t.Fatalf("expected TOKEN_REVOKED, got %v", err)
	}
}
