// Package session is the teacher-facing control surface: session lifecycle,
// chain seeding, rotating-flow control, and the read surface over chains,
// records and scan logs.
package session

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/chainpass/core/internal/models"
	"github.com/chainpass/core/internal/modules/attendance"
	"github.com/chainpass/core/internal/modules/chain"
	"github.com/chainpass/core/internal/modules/token"
	"github.com/chainpass/core/internal/pkg/fault"
	"github.com/chainpass/core/internal/pkg/identity"
	"github.com/chainpass/core/internal/pkg/notify"
	"github.com/chainpass/core/internal/store"
)

// Defaults fill in session settings the teacher did not supply.
type Defaults struct {
	LateCutoffMinutes int
	ExitWindowMinutes int
	ChainTokenTTL     int
	RotatingTokenTTL  time.Duration
	SessionTokenTTL   time.Duration
}

// Service implements the teacher control operations.
type Service struct {
	store      store.Store
	tokens     *token.Service
	chains     *chain.Service
	attendance *attendance.Service
	publisher  notify.Publisher
	defaults   Defaults
	logger     *zap.Logger
	now        func() time.Time
}

// NewService creates a session service.
func NewService(st store.Store, tokens *token.Service, chains *chain.Service, att *attendance.Service, pub notify.Publisher, defaults Defaults, logger *zap.Logger) *Service {
	return &Service{
		store:      st,
		tokens:     tokens,
		chains:     chains,
		attendance: att,
		publisher:  pub,
		defaults:   defaults,
		logger:     logger.Named("SessionService"),
		now:        time.Now,
	}
}

// Create opens a new session owned by the calling teacher.
func (s *Service) Create(ctx context.Context, ident identity.Identity, dto *CreateDTO) (*models.SessionModel, error) {
	if ident.Role != identity.RoleTeacher {
		return nil, fault.New(fault.KindAuth, fault.CodeForbidden, "only teachers can create sessions")
	}

	startAt := s.now()
	if dto.StartAt != nil {
		startAt = *dto.StartAt
	}
	session := &models.SessionModel{
		ClassID:           dto.ClassID,
		TeacherID:         ident.UserID,
		Status:            models.SessionActive,
		StartAt:           startAt,
		LateCutoffMinutes: orDefault(dto.LateCutoffMinutes, s.defaults.LateCutoffMinutes),
		ExitWindowMinutes: orDefault(dto.ExitWindowMinutes, s.defaults.ExitWindowMinutes),
		ChainTokenTTL:     orDefault(dto.ChainTokenTTL, s.defaults.ChainTokenTTL),
		OwnerTransfer:     dto.OwnerTransfer == nil || *dto.OwnerTransfer,
		Geofence:          dto.Geofence,
		Wifi:              dto.Wifi,
	}
	if err := s.store.InsertSession(ctx, session); err != nil {
		return nil, fault.Internal(err)
	}
	s.logger.Info("session created",
		zap.String("session", session.ID),
		zap.String("class", session.ClassID),
		zap.String("teacher", session.TeacherID))
	return session, nil
}

// Get returns a session by id.
func (s *Service) Get(ctx context.Context, id string) (*models.SessionModel, error) {
	session, err := s.store.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fault.New(fault.KindResource, fault.CodeSessionNotFound, "session does not exist")
		}
		return nil, fault.Internal(err)
	}
	return session, nil
}

// End transitions the session to ENDED and runs the attendance fold. Ending
// an already-ended session only re-runs the fold, which is idempotent.
func (s *Service) End(ctx context.Context, ident identity.Identity, id string, roster []string) ([]models.AttendanceRecordModel, error) {
	session, err := s.owned(ctx, ident, id)
	if err != nil {
		return nil, err
	}

	if session.Status == models.SessionActive {
		now := s.now()
		next := *session
		next.Status = models.SessionEnded
		next.EndAt = &now
		if err := s.store.UpdateSession(ctx, &next, session.Tag); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return nil, fault.New(fault.KindResource, fault.CodeConflict, "session changed underneath you, re-fetch and retry")
			}
			return nil, fault.Internal(err)
		}
		session = &next
	}

	records, err := s.attendance.Finalize(ctx, session, roster)
	if err != nil {
		return nil, err
	}
	for i := range records {
		s.publisher.Publish(ctx, notify.TopicAttendanceUpdate, notify.AttendanceUpdate{
			SessionID: session.ID,
			StudentID: records[i].StudentID,
			Status:    string(records[i].Final),
			Final:     true,
		})
	}
	s.logger.Info("session ended",
		zap.String("session", session.ID),
		zap.Int("records", len(records)))
	return records, nil
}

// SeedChain starts a relay. A relay needs a holder and at least one other
// student to scan them, so fewer than two eligible students is an error.
func (s *Service) SeedChain(ctx context.Context, ident identity.Identity, id string, dto *SeedChainDTO) (*SeededChain, error) {
	session, err := s.ownedActive(ctx, ident, id)
	if err != nil {
		return nil, err
	}
	if dto.Phase != models.ChainEntry && dto.Phase != models.ChainExit {
		return nil, fault.New(fault.KindValidation, fault.CodeBadRequest, "phase must be ENTRY or EXIT")
	}
	if len(dto.HolderIDs) < 2 {
		return nil, fault.New(fault.KindBusiness, fault.CodeInsufficientStudents, "a chain needs at least two eligible students")
	}

	ch, tok, err := s.chains.Seed(ctx, session, dto.Phase, dto.HolderIDs[0], s.chainTTL(session))
	if err != nil {
		return nil, err
	}
	s.publishChain(ctx, ch)
	return &SeededChain{Chain: ch, Token: tok}, nil
}

// ReseedChain restarts a stalled or abandoned chain under a new holder.
func (s *Service) ReseedChain(ctx context.Context, ident identity.Identity, id, chainID string, dto *ReseedChainDTO) (*SeededChain, error) {
	session, err := s.ownedActive(ctx, ident, id)
	if err != nil {
		return nil, err
	}
	if len(dto.HolderIDs) == 0 {
		return nil, fault.New(fault.KindValidation, fault.CodeBadRequest, "holder_ids must not be empty")
	}

	ch, tok, err := s.chains.Reseed(ctx, session, chainID, dto.HolderIDs[0], s.chainTTL(session))
	if err != nil {
		return nil, err
	}
	s.publishChain(ctx, ch)
	return &SeededChain{Chain: ch, Token: tok}, nil
}

// CompleteChain closes a relay; its outstanding baton is revoked.
func (s *Service) CompleteChain(ctx context.Context, ident identity.Identity, id, chainID string) (*models.ChainModel, error) {
	if _, err := s.owned(ctx, ident, id); err != nil {
		return nil, err
	}
	ch, err := s.chains.Complete(ctx, chainID)
	if err != nil {
		return nil, err
	}
	s.publishChain(ctx, ch)
	return ch, nil
}

// IssueSessionToken mints the teacher-displayed broadcast code. It is
// multi-use: scanning it credits a plain entry without spending it.
func (s *Service) IssueSessionToken(ctx context.Context, ident identity.Identity, id string, ttlSeconds int) (*models.TokenModel, error) {
	session, err := s.ownedActive(ctx, ident, id)
	if err != nil {
		return nil, err
	}
	ttl := s.defaults.SessionTokenTTL
	if ttlSeconds > 0 {
		ttl = time.Duration(ttlSeconds) * time.Second
	}
	return s.tokens.Issue(ctx, token.IssueParams{
		SessionID: session.ID,
		Type:      models.TokenSession,
		TTL:       ttl,
		SingleUse: false,
	})
}

// StartRotation turns on a rotating broadcast flow and mints its first
// token. The rotation sweep keeps replacing it until the flow is stopped.
func (s *Service) StartRotation(ctx context.Context, ident identity.Identity, id string, flow models.TokenType) (*models.TokenModel, error) {
	session, err := s.ownedActive(ctx, ident, id)
	if err != nil {
		return nil, err
	}
	if flow != models.TokenLateEntry && flow != models.TokenEarlyLeave {
		return nil, fault.New(fault.KindValidation, fault.CodeBadRequest, "flow must be LATE_ENTRY or EARLY_LEAVE")
	}

	tok, err := s.tokens.Issue(ctx, token.IssueParams{
		SessionID: session.ID,
		Type:      flow,
		TTL:       s.defaults.RotatingTokenTTL,
		SingleUse: true,
	})
	if err != nil {
		return nil, err
	}

	next := *session
	switch flow {
	case models.TokenLateEntry:
		next.LateEntryActive = true
		next.LateEntryTokenID = tok.ID
	case models.TokenEarlyLeave:
		next.EarlyLeaveActive = true
		next.EarlyLeaveTokenID = tok.ID
	}
	if err := s.store.UpdateSession(ctx, &next, session.Tag); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, fault.New(fault.KindResource, fault.CodeConflict, "session changed underneath you, re-fetch and retry")
		}
		return nil, fault.Internal(err)
	}
	return tok, nil
}

// StopRotation turns a rotating flow off and revokes its current token.
func (s *Service) StopRotation(ctx context.Context, ident identity.Identity, id string, flow models.TokenType) error {
	session, err := s.owned(ctx, ident, id)
	if err != nil {
		return err
	}

	next := *session
	var current string
	switch flow {
	case models.TokenLateEntry:
		current = session.LateEntryTokenID
		next.LateEntryActive = false
		next.LateEntryTokenID = ""
	case models.TokenEarlyLeave:
		current = session.EarlyLeaveTokenID
		next.EarlyLeaveActive = false
		next.EarlyLeaveTokenID = ""
	default:
		return fault.New(fault.KindValidation, fault.CodeBadRequest, "flow must be LATE_ENTRY or EARLY_LEAVE")
	}

	if err := s.store.UpdateSession(ctx, &next, session.Tag); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return fault.New(fault.KindResource, fault.CodeConflict, "session changed underneath you, re-fetch and retry")
		}
		return fault.Internal(err)
	}
	if current != "" {
		if err := s.tokens.Revoke(ctx, current); err != nil {
			s.logger.Warn("rotating token revoke failed",
				zap.String("session", session.ID),
				zap.String("token", current),
				zap.Error(err))
		}
	}
	return nil
}

// Chains lists the session's relays.
func (s *Service) Chains(ctx context.Context, ident identity.Identity, id string) ([]models.ChainModel, error) {
	if _, err := s.owned(ctx, ident, id); err != nil {
		return nil, err
	}
	chains, err := s.store.ListChains(ctx, id)
	if err != nil {
		return nil, fault.Internal(err)
	}
	return chains, nil
}

// Records lists the session's attendance records.
func (s *Service) Records(ctx context.Context, ident identity.Identity, id string) ([]models.AttendanceRecordModel, error) {
	if _, err := s.owned(ctx, ident, id); err != nil {
		return nil, err
	}
	return s.attendance.List(ctx, id)
}

// ScanLogs lists the session's most recent scan attempts.
func (s *Service) ScanLogs(ctx context.Context, ident identity.Identity, id string, limit int) ([]models.ScanLogModel, error) {
	if _, err := s.owned(ctx, ident, id); err != nil {
		return nil, err
	}
	logs, err := s.store.ListScanLogs(ctx, id, limit)
	if err != nil {
		return nil, fault.Internal(err)
	}
	return logs, nil
}

// owned loads the session and verifies the caller is its teacher.
func (s *Service) owned(ctx context.Context, ident identity.Identity, id string) (*models.SessionModel, error) {
	session, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if ident.Role != identity.RoleTeacher || session.TeacherID != ident.UserID {
		return nil, fault.New(fault.KindAuth, fault.CodeForbidden, "you do not own this session")
	}
	return session, nil
}

// ownedActive additionally rejects mutations on ended sessions.
func (s *Service) ownedActive(ctx context.Context, ident identity.Identity, id string) (*models.SessionModel, error) {
	session, err := s.owned(ctx, ident, id)
	if err != nil {
		return nil, err
	}
	if session.Status != models.SessionActive {
		return nil, fault.New(fault.KindBusiness, fault.CodeSessionEnded, "session has ended")
	}
	return session, nil
}

func (s *Service) chainTTL(session *models.SessionModel) time.Duration {
	if session.ChainTokenTTL > 0 {
		return time.Duration(session.ChainTokenTTL) * time.Second
	}
	return time.Duration(s.defaults.ChainTokenTTL) * time.Second
}

func (s *Service) publishChain(ctx context.Context, ch *models.ChainModel) {
	s.publisher.Publish(ctx, notify.TopicChainUpdate, notify.ChainUpdate{
		ChainID:    ch.ID,
		SessionID:  ch.SessionID,
		Phase:      string(ch.Phase),
		LastHolder: ch.LastHolder,
		LastSeq:    ch.LastSeq,
		State:      string(ch.State),
	})
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
