// Package rotation is the periodic sweep over active sessions: it replaces
// rotating broadcast tokens before they lapse and flags relays that have
// gone quiet. It never reseeds a stalled chain on its own; a scan may be
// racing the sweep and discarding it silently would lose a legitimate relay.
package rotation

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/chainpass/core/internal/models"
	"github.com/chainpass/core/internal/modules/chain"
	"github.com/chainpass/core/internal/modules/token"
	"github.com/chainpass/core/internal/pkg/notify"
	"github.com/chainpass/core/internal/store"
)

// Service runs the rotation and stall sweep.
type Service struct {
	store     store.Store
	tokens    *token.Service
	publisher notify.Publisher
	logger    *zap.Logger

	interval       time.Duration
	rotatingTTL    time.Duration
	stallThreshold time.Duration
	now            func() time.Time
}

// NewService creates a rotation service. interval is the sweep cadence,
// rotatingTTL the lifetime of replacement tokens, stallThreshold the quiet
// period after which a chain is flagged.
func NewService(st store.Store, tokens *token.Service, pub notify.Publisher, interval, rotatingTTL, stallThreshold time.Duration, logger *zap.Logger) *Service {
	return &Service{
		store:          st,
		tokens:         tokens,
		publisher:      pub,
		logger:         logger.Named("RotationService"),
		interval:       interval,
		rotatingTTL:    rotatingTTL,
		stallThreshold: stallThreshold,
		now:            time.Now,
	}
}

// Sweep processes every active session once. Per-session failures are
// logged and do not abort the rest of the sweep; the first error is
// returned so the scheduler records the tick as failed.
func (s *Service) Sweep(ctx context.Context) error {
	sessions, err := s.store.ListActiveSessions(ctx)
	if err != nil {
		return err
	}

	var first error
	for i := range sessions {
		if err := s.sweepSession(ctx, &sessions[i]); err != nil {
			s.logger.Error("session sweep failed",
				zap.String("session", sessions[i].ID),
				zap.Error(err))
			if first == nil {
				first = err
			}
		}
	}
	return first
}

func (s *Service) sweepSession(ctx context.Context, session *models.SessionModel) error {
	if err := s.rotateFlows(ctx, session); err != nil {
		return err
	}
	return s.flagStalls(ctx, session)
}

// rotateFlows replaces each active rotating token that is no longer
// scannable or is within one sweep interval of expiry. The superseded token
// is left to expire naturally since a scan may be mid-consumption on it.
func (s *Service) rotateFlows(ctx context.Context, session *models.SessionModel) error {
	type flow struct {
		typ     models.TokenType
		active  bool
		tokenID string
		set     func(next *models.SessionModel, tokenID string)
	}
	flows := []flow{
		{
			typ:     models.TokenLateEntry,
			active:  session.LateEntryActive,
			tokenID: session.LateEntryTokenID,
			set:     func(next *models.SessionModel, id string) { next.LateEntryTokenID = id },
		},
		{
			typ:     models.TokenEarlyLeave,
			active:  session.EarlyLeaveActive,
			tokenID: session.EarlyLeaveTokenID,
			set:     func(next *models.SessionModel, id string) { next.EarlyLeaveTokenID = id },
		},
	}

	for _, f := range flows {
		if !f.active {
			continue
		}
		if !s.needsReplacement(ctx, f.tokenID) {
			continue
		}

		replacement, err := s.tokens.Issue(ctx, token.IssueParams{
			SessionID: session.ID,
			Type:      f.typ,
			TTL:       s.rotatingTTL,
			SingleUse: true,
		})
		if err != nil {
			return err
		}

		next := *session
		f.set(&next, replacement.ID)
		if err := s.store.UpdateSession(ctx, &next, session.Tag); err != nil {
			// A teacher action or a concurrent sweep won the pointer; the
			// minted token simply expires unused.
			if errors.Is(err, store.ErrConflict) {
				s.logger.Debug("rotation lost session update race",
					zap.String("session", session.ID),
					zap.String("flow", string(f.typ)))
				return nil
			}
			return err
		}
		*session = next
		s.logger.Info("rotated token",
			zap.String("session", session.ID),
			zap.String("flow", string(f.typ)),
			zap.String("token", replacement.ID))
	}
	return nil
}

// needsReplacement reports whether the pointed-at token can no longer carry
// the flow through the next sweep interval.
func (s *Service) needsReplacement(ctx context.Context, tokenID string) bool {
	if tokenID == "" {
		return true
	}
	t, err := s.store.GetToken(ctx, tokenID)
	if err != nil {
		// Missing pointer target; mint a fresh one rather than leave the
		// flow dead.
		return true
	}
	if t.Status != models.TokenActive {
		return true
	}
	return s.now().Add(s.interval).After(t.ExpiresAt)
}

// flagStalls marks quiet ACTIVE chains STALLED and raises a stall alert.
func (s *Service) flagStalls(ctx context.Context, session *models.SessionModel) error {
	chains, err := s.store.ListChains(ctx, session.ID)
	if err != nil {
		return err
	}

	now := s.now()
	for i := range chains {
		c := &chains[i]
		if c.State != models.ChainActive {
			continue
		}
		if !chain.DetectStall(c, s.stallThreshold, now) {
			continue
		}

		next := *c
		next.State = models.ChainStalled
		if err := s.store.UpdateChain(ctx, &next, c.Tag); err != nil {
			// A scan advanced the chain between listing and flagging; it
			// is not stalled after all.
			if errors.Is(err, store.ErrConflict) {
				continue
			}
			return err
		}
		s.logger.Warn("chain stalled",
			zap.String("session", session.ID),
			zap.String("chain", c.ID),
			zap.Int("last_seq", c.LastSeq))
		s.publisher.Publish(ctx, notify.TopicStallAlert, notify.StallAlert{
			ChainID:   c.ID,
			SessionID: session.ID,
		})
	}
	return nil
}
