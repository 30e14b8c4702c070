// Package chain owns chain state: seeding, relay advancement, stall
// detection, and reseeding. A chain never moves backwards: LastSeq grows by
// exactly one per successful relay and the outstanding baton always carries
// the chain's current LastSeq.
package chain

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/chainpass/core/internal/models"
	"github.com/chainpass/core/internal/modules/token"
	"github.com/chainpass/core/internal/pkg/fault"
	"github.com/chainpass/core/internal/store"
)

// Service is the chain state machine.
type Service struct {
	store  store.Store
	tokens *token.Service
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a chain service.
func NewService(st store.Store, tokens *token.Service, logger *zap.Logger) *Service {
	return &Service{store: st, tokens: tokens, logger: logger.Named("ChainService"), now: time.Now}
}

func tokenTypeFor(phase models.ChainPhase) models.TokenType {
	if phase == models.ChainExit {
		return models.TokenExitChain
	}
	return models.TokenChain
}

// Seed creates a brand-new chain for the session with the given first
// holder and issues the seq-0 baton. The outstanding baton always carries
// the chain's LastSeq; both start at zero.
func (s *Service) Seed(ctx context.Context, session *models.SessionModel, phase models.ChainPhase, holderID string, ttl time.Duration) (*models.ChainModel, *models.TokenModel, error) {
	c := &models.ChainModel{
		SessionID:  session.ID,
		Phase:      phase,
		Index:      0,
		State:      models.ChainActive,
		LastHolder: holderID,
		LastSeq:    0,
		LastAt:     s.now(),
	}
	if err := s.store.InsertChain(ctx, c); err != nil {
		return nil, nil, fault.Internal(err)
	}

	t, err := s.tokens.Issue(ctx, token.IssueParams{
		SessionID: session.ID,
		Type:      tokenTypeFor(phase),
		ChainID:   c.ID,
		HolderID:  holderID,
		Seq:       c.LastSeq,
		TTL:       ttl,
		SingleUse: true,
	})
	if err != nil {
		return nil, nil, err
	}

	next := *c
	next.ActiveTokenID = t.ID
	if err := s.store.UpdateChain(ctx, &next, c.Tag); err != nil {
		return nil, nil, fault.Internal(err)
	}
	*c = next
	return c, t, nil
}

// Advance moves the chain forward after a successful baton consumption:
// LastSeq becomes consumed seq + 1 and the replacement baton carries that
// same seq. The next baton goes to the scanner when the session transfers
// ownership, or stays with the current holder otherwise.
func (s *Service) Advance(ctx context.Context, session *models.SessionModel, c *models.ChainModel, consumed *models.TokenModel, scannerID string, ttl time.Duration) (*models.TokenModel, error) {
	// A relay landing on a STALLED chain is legitimate and revives it;
	// only a completed chain refuses to move.
	if c.State == models.ChainCompleted {
		return nil, fault.New(fault.KindBusiness, fault.CodeChainNotActive, "chain is completed")
	}

	nextHolder := scannerID
	if !session.OwnerTransfer {
		nextHolder = consumed.HolderID
	}

	baton, err := s.tokens.Issue(ctx, token.IssueParams{
		SessionID: session.ID,
		Type:      tokenTypeFor(c.Phase),
		ChainID:   c.ID,
		HolderID:  nextHolder,
		Seq:       consumed.Seq + 1,
		TTL:       ttl,
		SingleUse: true,
	})
	if err != nil {
		return nil, err
	}

	// The caller won the baton, so nothing else advances this chain; the
	// only writer that can race us here is the stall sweep retagging the
	// row. Re-read and retry once on conflict so the winning relay lands.
	for attempt := 0; attempt < 2; attempt++ {
		next := *c
		next.State = models.ChainActive
		next.LastSeq = consumed.Seq + 1
		next.LastHolder = nextHolder
		next.LastAt = s.now()
		next.ActiveTokenID = baton.ID
		err := s.store.UpdateChain(ctx, &next, c.Tag)
		if err == nil {
			*c = next
			return baton, nil
		}
		if !errors.Is(err, store.ErrConflict) || attempt == 1 {
			// The winning consumption already happened; a chain write
			// failure here is not a business outcome and must surface for
			// manual retry.
			return nil, fault.Internal(err)
		}
		fresh, getErr := s.store.GetChain(ctx, c.ID)
		if getErr != nil {
			return nil, fault.Internal(getErr)
		}
		if fresh.State == models.ChainCompleted {
			return nil, fault.New(fault.KindBusiness, fault.CodeChainNotActive, "chain is completed")
		}
		*c = *fresh
	}
	return nil, fault.Internal(errors.New("chain advance retries exhausted"))
}

// Reseed revokes the outstanding baton and restarts the chain as a new
// instance: index+1, seq reset, fresh holder. Used for manual teacher
// recovery of stalled chains.
func (s *Service) Reseed(ctx context.Context, session *models.SessionModel, chainID, holderID string, ttl time.Duration) (*models.ChainModel, *models.TokenModel, error) {
	c, err := s.store.GetChain(ctx, chainID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, fault.New(fault.KindResource, fault.CodeChainNotFound, "chain does not exist")
		}
		return nil, nil, fault.Internal(err)
	}
	if c.State == models.ChainCompleted {
		return nil, nil, fault.New(fault.KindBusiness, fault.CodeChainNotActive, "chain is completed")
	}

	if c.ActiveTokenID != "" {
		if err := s.tokens.Revoke(ctx, c.ActiveTokenID); err != nil {
			return nil, nil, err
		}
	}

	baton, err := s.tokens.Issue(ctx, token.IssueParams{
		SessionID: session.ID,
		Type:      tokenTypeFor(c.Phase),
		ChainID:   c.ID,
		HolderID:  holderID,
		Seq:       0,
		TTL:       ttl,
		SingleUse: true,
	})
	if err != nil {
		return nil, nil, err
	}

	next := *c
	next.Index++
	next.State = models.ChainActive
	next.LastHolder = holderID
	next.LastSeq = 0
	next.LastAt = s.now()
	next.ActiveTokenID = baton.ID
	if err := s.store.UpdateChain(ctx, &next, c.Tag); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, nil, fault.New(fault.KindResource, fault.CodeConflict, "chain changed concurrently, re-fetch and retry")
		}
		return nil, nil, fault.Internal(err)
	}
	*c = next
	return c, baton, nil
}

// Complete marks the chain COMPLETED and revokes its outstanding baton.
func (s *Service) Complete(ctx context.Context, chainID string) (*models.ChainModel, error) {
	c, err := s.store.GetChain(ctx, chainID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fault.New(fault.KindResource, fault.CodeChainNotFound, "chain does not exist")
		}
		return nil, fault.Internal(err)
	}
	if c.State == models.ChainCompleted {
		return c, nil
	}

	if c.ActiveTokenID != "" {
		if err := s.tokens.Revoke(ctx, c.ActiveTokenID); err != nil {
			return nil, err
		}
	}

	next := *c
	next.State = models.ChainCompleted
	if err := s.store.UpdateChain(ctx, &next, c.Tag); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, fault.New(fault.KindResource, fault.CodeConflict, "chain changed concurrently, re-fetch and retry")
		}
		return nil, fault.Internal(err)
	}
	*c = next
	return c, nil
}

// DetectStall reports whether the chain has seen no successful relay for
// longer than threshold. Pure; the rotation sweep applies the transition.
func DetectStall(c *models.ChainModel, threshold time.Duration, now time.Time) bool {
	if c.State != models.ChainActive {
		return false
	}
	return now.Sub(c.LastAt) > threshold
}
