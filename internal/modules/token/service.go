// Package token owns the single-use token lifecycle: issuance, validation,
// atomic consumption, and revocation. Consumption is the sole concurrency
// primitive of the whole system: every scan supplies the precondition tag it
// last observed and races resolve to exactly one winner.
package token

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/chainpass/core/internal/models"
	"github.com/chainpass/core/internal/pkg/fault"
	"github.com/chainpass/core/internal/store"
)

// Service is the token lifecycle manager.
type Service struct {
	store  store.Store
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a token service.
func NewService(st store.Store, logger *zap.Logger) *Service {
	return &Service{store: st, logger: logger.Named("TokenService"), now: time.Now}
}

// IssueParams describes the token to mint.
type IssueParams struct {
	SessionID string
	Type      models.TokenType
	ChainID   string
	HolderID  string
	Seq       int
	TTL       time.Duration
	SingleUse bool
}

// Issue mints a fresh ACTIVE token. Callers guarantee by construction that
// at most one ACTIVE token exists per (chain, seq) position.
func (s *Service) Issue(ctx context.Context, p IssueParams) (*models.TokenModel, error) {
	t := &models.TokenModel{
		SessionID: p.SessionID,
		Type:      p.Type,
		Status:    models.TokenActive,
		ChainID:   p.ChainID,
		HolderID:  p.HolderID,
		Seq:       p.Seq,
		SingleUse: p.SingleUse,
		ExpiresAt: s.now().Add(p.TTL),
	}
	if err := s.store.InsertToken(ctx, t); err != nil {
		return nil, fault.Internal(err)
	}
	return t, nil
}

// Validate classifies the token's current state. An ACTIVE token past its
// expiry is lazily transitioned to EXPIRED as a side effect; a lost race on
// that write is ignored since the other writer decided the state first.
func (s *Service) Validate(ctx context.Context, tokenID string) (*models.TokenModel, error) {
	t, err := s.store.GetToken(ctx, tokenID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fault.New(fault.KindValidation, fault.CodeTokenNotFound, "token does not exist")
		}
		return nil, fault.Internal(err)
	}

	switch t.Status {
	case models.TokenUsed:
		return nil, fault.New(fault.KindValidation, fault.CodeTokenUsed, "token already used")
	case models.TokenRevoked:
		return nil, fault.New(fault.KindValidation, fault.CodeTokenRevoked, "token has been revoked")
	case models.TokenExpired:
		return nil, fault.New(fault.KindValidation, fault.CodeTokenExpired, "token has expired")
	}

	if s.now().After(t.ExpiresAt) {
		expired := *t
		expired.Status = models.TokenExpired
		if err := s.store.UpdateToken(ctx, &expired, t.Tag); err != nil && !errors.Is(err, store.ErrConflict) {
			s.logger.Warn("lazy expiry write failed", zap.String("token", t.ID), zap.Error(err))
		}
		return nil, fault.New(fault.KindValidation, fault.CodeTokenExpired, "token has expired")
	}
	return t, nil
}

// Consume transitions the token ACTIVE -> USED, but only when expectedTag
// matches the stored precondition tag. A mismatch means another scanner
// committed first and surfaces as CONFLICT; the caller must re-fetch and,
// if appropriate, retry against the replacement token.
func (s *Service) Consume(ctx context.Context, t *models.TokenModel, expectedTag, scannerID string) error {
	// Multi-use broadcast tokens stay ACTIVE across scans; they are retired
	// by expiry or revocation, never by consumption.
	if !t.SingleUse {
		return nil
	}
	now := s.now()
	next := *t
	next.Status = models.TokenUsed
	next.UsedAt = &now
	next.UsedBy = scannerID

	err := s.store.UpdateToken(ctx, &next, expectedTag)
	switch {
	case err == nil:
		*t = next
		return nil
	case errors.Is(err, store.ErrConflict):
		return fault.New(fault.KindResource, fault.CodeConflict, "token was consumed by another scan, rescan the current code")
	case errors.Is(err, store.ErrNotFound):
		return fault.New(fault.KindValidation, fault.CodeTokenNotFound, "token does not exist")
	default:
		return fault.Internal(err)
	}
}

// Revoke administratively invalidates a token, e.g. when its chain is
// reseeded. Safe to call on already-terminal tokens.
func (s *Service) Revoke(ctx context.Context, tokenID string) error {
	t, err := s.store.GetToken(ctx, tokenID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fault.Internal(err)
	}
	if t.Status != models.TokenActive {
		return nil
	}
	next := *t
	next.Status = models.TokenRevoked
	if err := s.store.UpdateToken(ctx, &next, t.Tag); err != nil && !errors.Is(err, store.ErrConflict) {
		return fault.Internal(err)
	}
	return nil
}
