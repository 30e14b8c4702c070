package chain

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/chainpass/core/internal/models"
	"github.com/chainpass/core/internal/modules/token"
	"github.com/chainpass/core/internal/pkg/fault"
	"github.com/chainpass/core/internal/store"
)

func newTestService() (*Service, *token.Service, *store.Memory) {
	st := store.NewMemory()
	tokens := token.NewService(st, zap.NewNop())
	return NewService(st, tokens, zap.NewNop()), tokens, st
}

func testSession(t *testing.T, st *store.Memory, ownerTransfer bool) *models.SessionModel {
	t.Helper()
	s := &models.SessionModel{
		ClassID:       "class1",
		TeacherID:     "teach1",
		Status:        models.SessionActive,
		StartAt:       time.Now(),
		OwnerTransfer: ownerTransfer,
	}
	if err := st.InsertSession(context.Background(), s); err != nil {
		t.Fatalf("insert session: %v", err)
	}
	return s
}

func TestSeedStartsAtSeqZero(t *testing.T) {
	t.Parallel()
	svc, _, st := newTestService()
	session := testSession(t, st, true)

	ch, baton, err := svc.Seed(context.Background(), session, models.ChainEntry, "stu1", 20*time.Second)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if ch.LastSeq != 0 || baton.Seq != 0 {
		t.Fatalf("expected chain and baton at seq 0, got %d/%d", ch.LastSeq, baton.Seq)
	}
	if ch.State != models.ChainActive {
		t.Fatalf("expected ACTIVE, got %s", ch.State)
	}
	if ch.LastHolder != "stu1" || baton.HolderID != "stu1" {
		t.Fatal("expected first holder on chain and baton")
	}
	if ch.ActiveTokenID != baton.ID {
		t.Fatal("expected chain to track its outstanding baton")
	}
	if baton.Type != models.TokenChain {
		t.Fatalf("expected CHAIN baton for entry phase, got %s", baton.Type)
	}
}

func TestSeedExitPhaseIssuesExitBaton(t *testing.T) {
	t.Parallel()
	svc, _, st := newTestService()
	session := testSession(t, st, true)

	_, baton, err := svc.Seed(context.Background(), session, models.ChainExit, "stu1", 20*time.Second)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if baton.Type != models.TokenExitChain {
		t.Fatalf("expected EXIT_CHAIN baton, got %s", baton.Type)
	}
}

func TestAdvanceIncrementsSeqAndHandsOff(t *testing.T) {
	t.Parallel()
	svc, tokens, st := newTestService()
	session := testSession(t, st, true)
	ch, baton, err := svc.Seed(context.Background(), session, models.ChainEntry, "stu1", 20*time.Second)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := tokens.Consume(context.Background(), baton, baton.Tag, "stu2"); err != nil {
		t.Fatalf("consume: %v", err)
	}
	next, err := svc.Advance(context.Background(), session, ch, baton, "stu2", 20*time.Second)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}

	if ch.LastSeq != 1 {
		t.Fatalf("expected lastSeq 1, got %d", ch.LastSeq)
	}
	if ch.LastHolder != "stu2" {
		t.Fatalf("expected handoff to scanner, got %s", ch.LastHolder)
	}
	if next.Seq != 1 || next.HolderID != "stu2" {
		t.Fatalf("expected new baton seq 1 for stu2, got %d/%s", next.Seq, next.HolderID)
	}
}

func TestAdvanceWithoutOwnerTransferKeepsHolder(t *testing.T) {
	t.Parallel()
	svc, tokens, st := newTestService()
	session := testSession(t, st, false)
	ch, baton, err := svc.Seed(context.Background(), session, models.ChainEntry, "stu1", 20*time.Second)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := tokens.Consume(context.Background(), baton, baton.Tag, "stu2"); err != nil {
		t.Fatalf("consume: %v", err)
	}
	next, err := svc.Advance(context.Background(), session, ch, baton, "stu2", 20*time.Second)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if next.HolderID != "stu1" {
		t.Fatalf("expected baton to stay with stu1, got %s", next.HolderID)
	}
	if ch.LastHolder != "stu1" {
		t.Fatalf("expected chain holder stu1, got %s", ch.LastHolder)
	}
}

func TestAdvanceRevivesStalledChain(t *testing.T) {
	t.Parallel()
	svc, tokens, st := newTestService()
	session := testSession(t, st, true)
	ch, baton, err := svc.Seed(context.Background(), session, models.ChainEntry, "stu1", 20*time.Second)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	stalled := *ch
	stalled.State = models.ChainStalled
	if err := st.UpdateChain(context.Background(), &stalled, ch.Tag); err != nil {
		t.Fatalf("flag stalled: %v", err)
	}
	*ch = stalled

	if err := tokens.Consume(context.Background(), baton, baton.Tag, "stu2"); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if _, err := svc.Advance(context.Background(), session, ch, baton, "stu2", 20*time.Second); err != nil {
		t.Fatalf("a relay racing the stall sweep must still land: %v", err)
	}
	if ch.State != models.ChainActive {
		t.Fatalf("expected revival to ACTIVE, got %s", ch.State)
	}
}

func TestAdvanceRejectsCompletedChain(t *testing.T) {
	t.Parallel()
	svc, _, st := newTestService()
	session := testSession(t, st, true)
	ch, baton, err := svc.Seed(context.Background(), session, models.ChainEntry, "stu1", 20*time.Second)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := svc.Complete(context.Background(), ch.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	completed, _ := st.GetChain(context.Background(), ch.ID)
	_, err = svc.Advance(context.Background(), session, completed, baton, "stu2", 20*time.Second)
	if !fault.IsCode(err, fault.CodeChainNotActive) {
		t.Fatalf("expected CHAIN_NOT_ACTIVE, got %v", err)
	}
}

func TestReseedBumpsIndexAndRevokesBaton(t *testing.T) {
	t.Parallel()
	svc, _, st := newTestService()
	session := testSession(t, st, true)
	ch, baton, err := svc.Seed(context.Background(), session, models.ChainEntry, "stu1", 20*time.Second)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	reseeded, fresh, err := svc.Reseed(context.Background(), session, ch.ID, "stu5", 20*time.Second)
	if err != nil {
		t.Fatalf("reseed: %v", err)
	}
	if reseeded.Index != 1 {
		t.Fatalf("expected index 1, got %d", reseeded.Index)
	}
	if reseeded.LastSeq != 0 || fresh.Seq != 0 {
		t.Fatalf("expected seq reset, got %d/%d", reseeded.LastSeq, fresh.Seq)
	}
	if reseeded.LastHolder != "stu5" {
		t.Fatalf("expected new holder, got %s", reseeded.LastHolder)
	}

	old, _ := st.GetToken(context.Background(), baton.ID)
	if old.Status != models.TokenRevoked {
		t.Fatalf("expected old baton REVOKED, got %s", old.Status)
	}
}

func TestCompleteIsIdempotent(t *testing.T) {
	t.Parallel()
	svc, _, st := newTestService()
	session := testSession(t, st, true)
	ch, _, err := svc.Seed(context.Background(), session, models.ChainEntry, "stu1", 20*time.Second)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, err := svc.Complete(context.Background(), ch.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	again, err := svc.Complete(context.Background(), ch.ID)
	if err != nil {
		t.Fatalf("second complete: %v", err)
	}
	if again.State != models.ChainCompleted {
		t.Fatalf("expected COMPLETED, got %s", again.State)
	}
}

func TestDetectStall(t *testing.T) {
	t.Parallel()
	now := time.Now()
	quiet := &models.ChainModel{State: models.ChainActive, LastAt: now.Add(-3 * time.Minute)}
	if !DetectStall(quiet, 2*time.Minute, now) {
		t.Fatal("expected stall past the threshold")
	}

	fresh := &models.ChainModel{State: models.ChainActive, LastAt: now.Add(-time.Minute)}
	if DetectStall(fresh, 2*time.Minute, now) {
		t.Fatal("expected no stall inside the threshold")
	}

	completed := &models.ChainModel{State: models.ChainCompleted, LastAt: now.Add(-time.Hour)}
	if DetectStall(completed, 2*time.Minute, now) {
		t.Fatal("non-active chains never stall")
	}
}
