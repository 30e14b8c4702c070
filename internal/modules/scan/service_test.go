package scan

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/chainpass/core/internal/models"
	"github.com/chainpass/core/internal/modules/anticheat"
	"github.com/chainpass/core/internal/modules/attendance"
	"github.com/chainpass/core/internal/modules/chain"
	"github.com/chainpass/core/internal/modules/token"
	"github.com/chainpass/core/internal/pkg/fault"
	"github.com/chainpass/core/internal/pkg/identity"
	"github.com/chainpass/core/internal/pkg/notify"
	"github.com/chainpass/core/internal/store"
)

type fixture struct {
	svc    *Service
	tokens *token.Service
	chains *chain.Service
	st     *store.Memory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemory()
	logger := zap.NewNop()
	tokens := token.NewService(st, logger)
	chains := chain.NewService(st, tokens, logger)
	att := attendance.NewService(st, logger)
	limiter := anticheat.NewLimiter(time.Minute, 100)
	svc := NewService(st, tokens, chains, att, limiter, notify.Nop{}, 20*time.Second, logger)
	return &fixture{svc: svc, tokens: tokens, chains: chains, st: st}
}

func (f *fixture) session(t *testing.T, mutate func(*models.SessionModel)) *models.SessionModel {
	t.Helper()
	s := &models.SessionModel{
		ClassID:           "class1",
		TeacherID:         "teach1",
		Status:            models.SessionActive,
		StartAt:           time.Now().Add(-10 * time.Minute),
		LateCutoffMinutes: 15,
		OwnerTransfer:     true,
	}
	if mutate != nil {
		mutate(s)
	}
	if err := f.st.InsertSession(context.Background(), s); err != nil {
		t.Fatalf("insert session: %v", err)
	}
	return s
}

func (f *fixture) seedEntry(t *testing.T, session *models.SessionModel, holder string) (*models.ChainModel, *models.TokenModel) {
	t.Helper()
	ch, baton, err := f.chains.Seed(context.Background(), session, models.ChainEntry, holder, 20*time.Second)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return ch, baton
}

func student(id string) identity.Identity {
	return identity.Identity{UserID: id, Role: identity.RoleStudent}
}

func TestRelayScanCreditsHolderAndAdvances(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	session := f.session(t, nil)
	_, baton := f.seedEntry(t, session, "stu1")

	result, err := f.svc.Scan(context.Background(), student("stu2"), session.ID, baton.ID, baton.Tag, Metadata{Fingerprint: "fp2", IP: "1.1.1.1"})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}

	if result.CreditedStudent != "stu1" {
		t.Fatalf("relay must credit the previous holder, got %s", result.CreditedStudent)
	}
	if result.CreditedStatus != string(models.EntryPresent) {
		t.Fatalf("expected PRESENT_ENTRY, got %s", result.CreditedStatus)
	}
	if result.Chain.LastSeq != 1 || result.Chain.LastHolder != "stu2" {
		t.Fatalf("expected chain at seq 1 held by stu2, got %d/%s", result.Chain.LastSeq, result.Chain.LastHolder)
	}
	if result.NextToken == nil || result.NextToken.Seq != 1 || result.NextToken.HolderID != "stu2" {
		t.Fatal("expected replacement baton seq 1 for stu2")
	}

	record, err := f.st.GetRecord(context.Background(), session.ID, "stu1")
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if record.EntryStatus != models.EntryPresent {
		t.Fatalf("expected stu1 PRESENT_ENTRY, got %s", record.EntryStatus)
	}

	logs, _ := f.st.ListScanLogs(context.Background(), session.ID, 10)
	if len(logs) != 1 || logs[0].Result != models.ScanAccepted {
		t.Fatal("expected one accepted scan log")
	}
}

func TestConcurrentRelayScansOneWinner(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	session := f.session(t, nil)
	_, baton := f.seedEntry(t, session, "stu1")

	const scanners = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0

	for i := 0; i < scanners; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			scanner := student("scanner" + string(rune('a'+i)))
			_, err := f.svc.Scan(context.Background(), scanner, session.ID, baton.ID, baton.Tag, Metadata{IP: "1.1.1.1"})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
				return
			}
			code := fault.CodeOf(err)
			if code != fault.CodeConflict && code != fault.CodeTokenUsed {
				t.Errorf("loser must observe CONFLICT or USED, got %s", code)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one winning scan, got %d", wins)
	}
}

func TestSelfScanRejectedForRelay(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	session := f.session(t, nil)
	_, baton := f.seedEntry(t, session, "stu1")

	_, err := f.svc.Scan(context.Background(), student("stu1"), session.ID, baton.ID, baton.Tag, Metadata{})
	if !fault.IsCode(err, fault.CodeIneligibleStudent) {
		t.Fatalf("expected INELIGIBLE_STUDENT, got %v", err)
	}

	// The rejection never spends the token.
	stored, _ := f.st.GetToken(context.Background(), baton.ID)
	if stored.Status != models.TokenActive {
		t.Fatalf("expected baton still ACTIVE, got %s", stored.Status)
	}
}

func TestTeacherCannotScan(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	session := f.session(t, nil)
	_, baton := f.seedEntry(t, session, "stu1")

	teacher := identity.Identity{UserID: "teach1", Role: identity.RoleTeacher}
	_, err := f.svc.Scan(context.Background(), teacher, session.ID, baton.ID, baton.Tag, Metadata{})
	if !fault.IsCode(err, fault.CodeIneligibleStudent) {
		t.Fatalf("expected INELIGIBLE_STUDENT, got %v", err)
	}
}

func TestGeofenceRejectionIsLoggedWithoutSpendingToken(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	session := f.session(t, func(s *models.SessionModel) {
		s.Geofence = &models.Geofence{Latitude: 52.52, Longitude: 13.405, RadiusMeters: 50, Mandatory: true}
	})
	_, baton := f.seedEntry(t, session, "stu1")

	far := &anticheat.GPSFix{Latitude: 48.8566, Longitude: 2.3522}
	_, err := f.svc.Scan(context.Background(), student("stu2"), session.ID, baton.ID, baton.Tag, Metadata{GPS: far})
	if !fault.IsCode(err, fault.CodeGeofenceViolation) {
		t.Fatalf("expected GEOFENCE_VIOLATION, got %v", err)
	}

	stored, _ := f.st.GetToken(context.Background(), baton.ID)
	if stored.Status != models.TokenActive {
		t.Fatalf("rejected scan must not spend the token, got %s", stored.Status)
	}
	logs, _ := f.st.ListScanLogs(context.Background(), session.ID, 10)
	if len(logs) != 1 || logs[0].Result != models.ScanRejected || logs[0].ErrorCode != fault.CodeGeofenceViolation {
		t.Fatal("expected one rejected scan log carrying the violation code")
	}
}

func TestScanOnEndedSessionRejected(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	session := f.session(t, nil)
	_, baton := f.seedEntry(t, session, "stu1")

	ended := *session
	ended.Status = models.SessionEnded
	if err := f.st.UpdateSession(context.Background(), &ended, session.Tag); err != nil {
		t.Fatalf("end session: %v", err)
	}

	_, err := f.svc.Scan(context.Background(), student("stu2"), session.ID, baton.ID, baton.Tag, Metadata{})
	if !fault.IsCode(err, fault.CodeSessionEnded) {
		t.Fatalf("expected SESSION_ENDED, got %v", err)
	}
}

func TestLateEntryScanCreditsScanner(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	session := f.session(t, func(s *models.SessionModel) {
		s.LateEntryActive = true
	})

	tok, err := f.tokens.Issue(context.Background(), token.IssueParams{
		SessionID: session.ID,
		Type:      models.TokenLateEntry,
		TTL:       90 * time.Second,
		SingleUse: true,
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	result, err := f.svc.Scan(context.Background(), student("stu9"), session.ID, tok.ID, tok.Tag, Metadata{})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if result.CreditedStudent != "stu9" {
		t.Fatalf("broadcast flows credit the scanner, got %s", result.CreditedStudent)
	}
	if result.CreditedStatus != string(models.EntryLate) {
		t.Fatalf("expected LATE_ENTRY, got %s", result.CreditedStatus)
	}
	if result.NextToken != nil {
		t.Fatal("broadcast flows never hand out a replacement baton")
	}
}

func TestLateEntryScanRejectedWhenFlowInactive(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	session := f.session(t, nil)

	tok, err := f.tokens.Issue(context.Background(), token.IssueParams{
		SessionID: session.ID,
		Type:      models.TokenLateEntry,
		TTL:       90 * time.Second,
		SingleUse: true,
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	_, err = f.svc.Scan(context.Background(), student("stu9"), session.ID, tok.ID, tok.Tag, Metadata{})
	if !fault.IsCode(err, fault.CodeRotationNotActive) {
		t.Fatalf("expected ROTATION_NOT_ACTIVE, got %v", err)
	}
}

func TestExitChainScanCreditsScannerExit(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	session := f.session(t, func(s *models.SessionModel) {
		s.ExitWindowMinutes = 10
	})
	_, baton, err := f.chains.Seed(context.Background(), session, models.ChainExit, "stu1", 20*time.Second)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	result, err := f.svc.Scan(context.Background(), student("stu2"), session.ID, baton.ID, baton.Tag, Metadata{})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if result.CreditedStudent != "stu2" {
		t.Fatalf("exit relay credits the scanner, got %s", result.CreditedStudent)
	}

	record, err := f.st.GetRecord(context.Background(), session.ID, "stu2")
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if !record.ExitVerified {
		t.Fatal("expected exit verified for the scanner")
	}
}

func TestTokenFromAnotherSessionRejected(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	sessionA := f.session(t, nil)
	sessionB := f.session(t, nil)
	_, baton := f.seedEntry(t, sessionA, "stu1")

	_, err := f.svc.Scan(context.Background(), student("stu2"), sessionB.ID, baton.ID, baton.Tag, Metadata{})
	if !fault.IsCode(err, fault.CodeBadRequest) {
		t.Fatalf("expected BAD_REQUEST, got %v", err)
	}
}
