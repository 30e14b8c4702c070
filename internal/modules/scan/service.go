// Package scan orchestrates one scan attempt end to end: anti-cheat
// validation, atomic token consumption, chain advancement, attendance
// crediting, audit logging, and event publication. Token consumption is the
// single concurrency decision point; everything before it is side-effect
// free and everything after it either lands or surfaces as an internal
// error for manual retry (the retried request is then rejected USED, never
// double-applied).
package scan

import (
	"context"
	"errors"
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

// Metadata is the client-reported context of a scan attempt.
type Metadata struct {
	Fingerprint string
	IP          string
	GPS         *anticheat.GPSFix
	Wifi        *anticheat.WifiReading
}

// Service is the scan processor.
type Service struct {
	store      store.Store
	tokens     *token.Service
	chains     *chain.Service
	attendance *attendance.Service
	limiter    *anticheat.Limiter
	publisher  notify.Publisher
	logger     *zap.Logger
	chainTTL   time.Duration
	now        func() time.Time
}

// NewService creates a scan processor.
func NewService(st store.Store, tokens *token.Service, chains *chain.Service, att *attendance.Service, limiter *anticheat.Limiter, pub notify.Publisher, chainTTL time.Duration, logger *zap.Logger) *Service {
	return &Service{
		store:      st,
		tokens:     tokens,
		chains:     chains,
		attendance: att,
		limiter:    limiter,
		publisher:  pub,
		logger:     logger.Named("ScanService"),
		chainTTL:   chainTTL,
		now:        time.Now,
	}
}

// Scan processes one attempt. Every outcome, accepted or rejected, leaves a
// scan log entry before returning.
func (s *Service) Scan(ctx context.Context, ident identity.Identity, sessionID, tokenID, expectedTag string, meta Metadata) (*Result, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, s.reject(ctx, nil, sessionID, tokenID, "", ident, meta,
				fault.New(fault.KindResource, fault.CodeSessionNotFound, "session does not exist"))
		}
		return nil, fault.Internal(err)
	}
	if session.Status != models.SessionActive {
		return nil, s.reject(ctx, nil, sessionID, tokenID, "", ident, meta,
			fault.New(fault.KindBusiness, fault.CodeSessionEnded, "session has ended"))
	}

	// Flow determination and audience check need the token row; nothing is
	// mutated until consumption.
	tok, err := s.store.GetToken(ctx, tokenID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, s.reject(ctx, nil, sessionID, tokenID, "", ident, meta,
				fault.New(fault.KindValidation, fault.CodeTokenNotFound, "token does not exist"))
		}
		return nil, fault.Internal(err)
	}
	if tok.SessionID != session.ID {
		return nil, s.reject(ctx, tok, sessionID, tokenID, "", ident, meta,
			fault.New(fault.KindValidation, fault.CodeBadRequest, "token does not belong to this session"))
	}

	if err := s.checkAudience(ident, tok); err != nil {
		return nil, s.reject(ctx, tok, sessionID, tokenID, "", ident, meta, err)
	}

	// Anti-cheat runs before consumption so rejected attempts never spend
	// the token.
	if err := s.limiter.Allow(meta.Fingerprint, meta.IP); err != nil {
		return nil, s.reject(ctx, tok, sessionID, tokenID, "", ident, meta, err)
	}
	if err := anticheat.CheckGeofence(session.Geofence, meta.GPS); err != nil {
		return nil, s.reject(ctx, tok, sessionID, tokenID, "", ident, meta, err)
	}
	if err := anticheat.CheckWifi(session.Wifi, meta.Wifi); err != nil {
		return nil, s.reject(ctx, tok, sessionID, tokenID, "", ident, meta, err)
	}

	// Rotating broadcast codes are only scannable while their flow is on.
	if tok.Type == models.TokenLateEntry && !session.LateEntryActive ||
		tok.Type == models.TokenEarlyLeave && !session.EarlyLeaveActive {
		return nil, s.reject(ctx, tok, sessionID, tokenID, "", ident, meta,
			fault.New(fault.KindBusiness, fault.CodeRotationNotActive, "this flow is not currently active"))
	}

	// A relay on a completed chain is refused before the baton is spent.
	var ch *models.ChainModel
	if tok.IsRelay() {
		ch, err = s.store.GetChain(ctx, tok.ChainID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, s.reject(ctx, tok, sessionID, tokenID, "", ident, meta,
					fault.New(fault.KindResource, fault.CodeChainNotFound, "chain does not exist"))
			}
			return nil, fault.Internal(err)
		}
		if ch.State == models.ChainCompleted {
			return nil, s.reject(ctx, tok, sessionID, tokenID, "", ident, meta,
				fault.New(fault.KindBusiness, fault.CodeChainNotActive, "chain is completed"))
		}
	}

	validated, err := s.tokens.Validate(ctx, tokenID)
	if err != nil {
		return nil, s.reject(ctx, tok, sessionID, tokenID, "", ident, meta, err)
	}
	tok = validated

	if err := s.tokens.Consume(ctx, tok, expectedTag, ident.UserID); err != nil {
		return nil, s.reject(ctx, tok, sessionID, tokenID, "", ident, meta, err)
	}

	// The baton is spent: this scan won. Remaining failures are internal,
	// never business rejections.
	result, err := s.applyFlow(ctx, session, ch, tok, ident)
	if err != nil {
		s.logger.Error("post-consumption mutation failed",
			zap.String("session", session.ID),
			zap.String("token", tok.ID),
			zap.Error(err))
		s.writeLog(ctx, tok, sessionID, tokenID, fault.CodeInternal, err.Error(), ident, meta, models.ScanRejected)
		return nil, fault.Internal(err)
	}

	s.writeLog(ctx, tok, sessionID, tokenID, "", "", ident, meta, models.ScanAccepted)
	return result, nil
}

// checkAudience rejects callers the token was not meant for. Relay batons
// must not be consumed by their own holder; broadcast tokens have no holder
// restriction. Teachers do not earn attendance.
func (s *Service) checkAudience(ident identity.Identity, tok *models.TokenModel) error {
	if ident.Role != identity.RoleStudent {
		return fault.New(fault.KindBusiness, fault.CodeIneligibleStudent, "only students can scan attendance codes")
	}
	if tok.IsRelay() && tok.HolderID == ident.UserID {
		return fault.New(fault.KindBusiness, fault.CodeIneligibleStudent, "a holder cannot scan their own code")
	}
	return nil
}

func (s *Service) applyFlow(ctx context.Context, session *models.SessionModel, ch *models.ChainModel, tok *models.TokenModel, ident identity.Identity) (*Result, error) {
	now := s.now()
	ttl := s.chainTTL
	if session.ChainTokenTTL > 0 {
		ttl = time.Duration(session.ChainTokenTTL) * time.Second
	}

	switch tok.Type {
	case models.TokenChain:
		// The relay credits the previous holder: the scanner proved the
		// holder was present by reaching their screen.
		record, err := s.attendance.CreditEntry(ctx, session, tok.HolderID, now)
		if err != nil {
			return nil, err
		}
		baton, err := s.chains.Advance(ctx, session, ch, tok, ident.UserID, ttl)
		if err != nil {
			return nil, err
		}
		s.publishChain(ctx, ch)
		s.publishAttendance(ctx, session.ID, tok.HolderID, string(record.EntryStatus), false)
		return s.relayResult(tok.Type, tok.HolderID, string(record.EntryStatus), ch, baton), nil

	case models.TokenExitChain:
		if _, err := s.attendance.CreditExit(ctx, session, ident.UserID, now); err != nil {
			return nil, err
		}
		baton, err := s.chains.Advance(ctx, session, ch, tok, ident.UserID, ttl)
		if err != nil {
			return nil, err
		}
		s.publishChain(ctx, ch)
		s.publishAttendance(ctx, session.ID, ident.UserID, "EXIT_VERIFIED", false)
		return s.relayResult(tok.Type, ident.UserID, "EXIT_VERIFIED", ch, baton), nil

	case models.TokenLateEntry:
		record, err := s.attendance.CreditLateEntry(ctx, session, ident.UserID, now)
		if err != nil {
			return nil, err
		}
		s.publishAttendance(ctx, session.ID, ident.UserID, string(record.EntryStatus), false)
		return &Result{Flow: tok.Type, CreditedStudent: ident.UserID, CreditedStatus: string(record.EntryStatus)}, nil

	case models.TokenEarlyLeave:
		if _, err := s.attendance.CreditEarlyLeave(ctx, session, ident.UserID, now); err != nil {
			return nil, err
		}
		s.publishAttendance(ctx, session.ID, ident.UserID, string(models.FinalEarlyLeave), false)
		return &Result{Flow: tok.Type, CreditedStudent: ident.UserID, CreditedStatus: string(models.FinalEarlyLeave)}, nil

	case models.TokenSession:
		// Teacher-displayed bootstrap code: a plain broadcast entry.
		record, err := s.attendance.CreditEntry(ctx, session, ident.UserID, now)
		if err != nil {
			return nil, err
		}
		s.publishAttendance(ctx, session.ID, ident.UserID, string(record.EntryStatus), false)
		return &Result{Flow: tok.Type, CreditedStudent: ident.UserID, CreditedStatus: string(record.EntryStatus)}, nil

	default:
		return nil, fault.New(fault.KindValidation, fault.CodeBadRequest, "unknown token type")
	}
}

func (s *Service) relayResult(flow models.TokenType, credited, status string, ch *models.ChainModel, baton *models.TokenModel) *Result {
	return &Result{
		Flow:            flow,
		CreditedStudent: credited,
		CreditedStatus:  status,
		Chain:           ch,
		NextToken: &TokenRef{
			ID:        baton.ID,
			Tag:       baton.Tag,
			Seq:       baton.Seq,
			HolderID:  baton.HolderID,
			ExpiresAt: baton.ExpiresAt,
		},
	}
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

func (s *Service) publishAttendance(ctx context.Context, sessionID, studentID, status string, final bool) {
	s.publisher.Publish(ctx, notify.TopicAttendanceUpdate, notify.AttendanceUpdate{
		SessionID: sessionID,
		StudentID: studentID,
		Status:    status,
		Final:     final,
	})
}

// reject audits the failed attempt and passes the rejection through.
func (s *Service) reject(ctx context.Context, tok *models.TokenModel, sessionID, tokenID, detail string, ident identity.Identity, meta Metadata, cause error) error {
	if detail == "" {
		detail = cause.Error()
	}
	s.writeLog(ctx, tok, sessionID, tokenID, fault.CodeOf(cause), detail, ident, meta, models.ScanRejected)
	return cause
}

func (s *Service) writeLog(ctx context.Context, tok *models.TokenModel, sessionID, tokenID, code, detail string, ident identity.Identity, meta Metadata, result models.ScanResult) {
	entry := &models.ScanLogModel{
		SessionID:   sessionID,
		TokenID:     tokenID,
		ScannerID:   ident.UserID,
		Fingerprint: meta.Fingerprint,
		IP:          meta.IP,
		BSSID:       wifiBSSID(meta.Wifi),
		Result:      result,
		ErrorCode:   code,
		ErrorDetail: detail,
		Timestamp:   s.now(),
	}
	if tok != nil {
		entry.Flow = tok.Type
		entry.HolderID = tok.HolderID
	}
	if meta.GPS != nil {
		lat, lon := meta.GPS.Latitude, meta.GPS.Longitude
		entry.Latitude = &lat
		entry.Longitude = &lon
	}
	// The audit trail is best-effort on the rejection path but an accepted
	// scan without its log entry is still an accepted scan.
	if err := s.store.AppendScanLog(ctx, entry); err != nil {
		s.logger.Error("scan log write failed", zap.String("token", tokenID), zap.Error(err))
	}
}

func wifiBSSID(w *anticheat.WifiReading) string {
	if w == nil {
		return ""
	}
	return w.BSSID
}
