// Package attendance accumulates per-student entry/exit signals during a
// session and folds them into one final status when the session ends.
package attendance

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/chainpass/core/internal/models"
	"github.com/chainpass/core/internal/pkg/fault"
	"github.com/chainpass/core/internal/store"
)

// Record mutations race only when the same student is credited through two
// flows at once, so a short conditional-update loop is enough.
const maxUpsertAttempts = 3

// Service maintains attendance records and runs the final aggregation.
type Service struct {
	store  store.Store
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates an attendance service.
func NewService(st store.Store, logger *zap.Logger) *Service {
	return &Service{store: st, logger: logger.Named("AttendanceService"), now: time.Now}
}

// CreditEntry records a student's entry. Late or on-time is decided against
// the session's late cutoff. A student already credited keeps their first
// entry; re-crediting is a no-op.
func (s *Service) CreditEntry(ctx context.Context, session *models.SessionModel, studentID string, at time.Time) (*models.AttendanceRecordModel, error) {
	status := models.EntryPresent
	if at.After(session.LateCutoff()) {
		status = models.EntryLate
	}
	return s.upsert(ctx, session.ID, studentID, func(r *models.AttendanceRecordModel) {
		if r.EntryStatus != "" {
			return
		}
		r.EntryStatus = status
		r.EntryAt = &at
	})
}

// CreditLateEntry records entry through the late-entry broadcast flow.
func (s *Service) CreditLateEntry(ctx context.Context, session *models.SessionModel, studentID string, at time.Time) (*models.AttendanceRecordModel, error) {
	return s.upsert(ctx, session.ID, studentID, func(r *models.AttendanceRecordModel) {
		if r.EntryStatus != "" {
			return
		}
		r.EntryStatus = models.EntryLate
		r.EntryAt = &at
	})
}

// CreditExit marks the student's exit as verified.
func (s *Service) CreditExit(ctx context.Context, session *models.SessionModel, studentID string, at time.Time) (*models.AttendanceRecordModel, error) {
	return s.upsert(ctx, session.ID, studentID, func(r *models.AttendanceRecordModel) {
		if r.ExitVerified {
			return
		}
		r.ExitVerified = true
		r.ExitAt = &at
	})
}

// CreditEarlyLeave records an early departure.
func (s *Service) CreditEarlyLeave(ctx context.Context, session *models.SessionModel, studentID string, at time.Time) (*models.AttendanceRecordModel, error) {
	return s.upsert(ctx, session.ID, studentID, func(r *models.AttendanceRecordModel) {
		if r.EarlyLeaveAt != nil {
			return
		}
		r.EarlyLeaveAt = &at
	})
}

func (s *Service) upsert(ctx context.Context, sessionID, studentID string, mutate func(*models.AttendanceRecordModel)) (*models.AttendanceRecordModel, error) {
	for attempt := 0; attempt < maxUpsertAttempts; attempt++ {
		r, err := s.store.GetRecord(ctx, sessionID, studentID)
		if errors.Is(err, store.ErrNotFound) {
			fresh := &models.AttendanceRecordModel{SessionID: sessionID, StudentID: studentID}
			mutate(fresh)
			if insErr := s.store.InsertRecord(ctx, fresh); insErr != nil {
				if errors.Is(insErr, store.ErrConflict) {
					continue // lost the first-write race, re-fetch
				}
				return nil, fault.Internal(insErr)
			}
			return fresh, nil
		}
		if err != nil {
			return nil, fault.Internal(err)
		}

		next := *r
		mutate(&next)
		if err := s.store.UpdateRecord(ctx, &next, r.Tag); err != nil {
			if errors.Is(err, store.ErrConflict) {
				continue
			}
			return nil, fault.Internal(err)
		}
		return &next, nil
	}
	return nil, fault.New(fault.KindResource, fault.CodeConflict, "attendance record changed concurrently")
}

// FinalStatusFor folds one record into its final status. Rules apply in
// exactly this order; the raw signals are not mutually exclusive.
func FinalStatusFor(session *models.SessionModel, r *models.AttendanceRecordModel) models.FinalStatus {
	switch {
	case r.EarlyLeaveAt != nil:
		return models.FinalEarlyLeave
	case r.EntryStatus != "" && session.RequiresExit() && !r.ExitVerified:
		return models.FinalLeftEarly
	case r.EntryStatus == models.EntryLate:
		return models.FinalLate
	case r.EntryStatus == models.EntryPresent:
		return models.FinalPresent
	default:
		return models.FinalAbsent
	}
}

// Finalize computes final statuses for every record of an ended session.
// Roster students with no record at all are finalized ABSENT. Idempotent:
// recomputation from the same source signals yields identical statuses, so
// re-running after a partial failure is safe.
func (s *Service) Finalize(ctx context.Context, session *models.SessionModel, roster []string) ([]models.AttendanceRecordModel, error) {
	records, err := s.store.ListRecords(ctx, session.ID)
	if err != nil {
		return nil, fault.Internal(err)
	}

	seen := make(map[string]struct{}, len(records))
	now := s.now()
	out := make([]models.AttendanceRecordModel, 0, len(records)+len(roster))

	for i := range records {
		r := records[i]
		seen[r.StudentID] = struct{}{}
		final := FinalStatusFor(session, &r)
		if r.Final == final {
			out = append(out, r)
			continue
		}
		next := r
		next.Final = final
		next.FinalizedAt = &now
		if err := s.store.UpdateRecord(ctx, &next, r.Tag); err != nil {
			if errors.Is(err, store.ErrConflict) {
				s.logger.Warn("record changed during finalization, skipping",
					zap.String("session", session.ID), zap.String("student", r.StudentID))
				out = append(out, r)
				continue
			}
			return nil, fault.Internal(err)
		}
		out = append(out, next)
	}

	for _, studentID := range roster {
		if _, ok := seen[studentID]; ok {
			continue
		}
		absent := &models.AttendanceRecordModel{
			SessionID:   session.ID,
			StudentID:   studentID,
			Final:       models.FinalAbsent,
			FinalizedAt: &now,
		}
		if err := s.store.InsertRecord(ctx, absent); err != nil {
			if errors.Is(err, store.ErrConflict) {
				continue // record appeared concurrently, next run settles it
			}
			return nil, fault.Internal(err)
		}
		out = append(out, *absent)
	}
	return out, nil
}

// List returns all attendance records for a session.
func (s *Service) List(ctx context.Context, sessionID string) ([]models.AttendanceRecordModel, error) {
	records, err := s.store.ListRecords(ctx, sessionID)
	if err != nil {
		return nil, fault.Internal(err)
	}
	return records, nil
}
