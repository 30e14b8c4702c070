// Package store is the keyed entity store with conditional writes. All
// cross-request coordination happens through the precondition tag: a
// conditional update succeeds only when the caller supplies the currently
// stored tag, so at most one writer wins per (entity, tag) pair.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/chainpass/core/internal/models"
)

var (
	// ErrNotFound means no entity exists under the requested key.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict means the precondition tag did not match the stored one:
	// another writer committed first. Never retried internally; callers must
	// re-fetch state before trying again.
	ErrConflict = errors.New("store: precondition tag mismatch")
)

// RetryPolicy bounds internal retries of transient backend failures.
// Applied uniformly at the store boundary, never to tag conflicts.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy retries twice with jittered exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second}
}

// Store is the persistence contract for the attendance core. Update methods
// compare expectedTag against the stored tag and replace it with a fresh one
// on success, writing the new tag back into the passed struct.
type Store interface {
	GetSession(ctx context.Context, id string) (*models.SessionModel, error)
	InsertSession(ctx context.Context, s *models.SessionModel) error
	UpdateSession(ctx context.Context, s *models.SessionModel, expectedTag string) error
	ListActiveSessions(ctx context.Context) ([]models.SessionModel, error)

	GetToken(ctx context.Context, id string) (*models.TokenModel, error)
	InsertToken(ctx context.Context, t *models.TokenModel) error
	UpdateToken(ctx context.Context, t *models.TokenModel, expectedTag string) error

	GetChain(ctx context.Context, id string) (*models.ChainModel, error)
	InsertChain(ctx context.Context, c *models.ChainModel) error
	UpdateChain(ctx context.Context, c *models.ChainModel, expectedTag string) error
	ListChains(ctx context.Context, sessionID string) ([]models.ChainModel, error)

	GetRecord(ctx context.Context, sessionID, studentID string) (*models.AttendanceRecordModel, error)
	InsertRecord(ctx context.Context, r *models.AttendanceRecordModel) error
	UpdateRecord(ctx context.Context, r *models.AttendanceRecordModel, expectedTag string) error
	ListRecords(ctx context.Context, sessionID string) ([]models.AttendanceRecordModel, error)

	AppendScanLog(ctx context.Context, l *models.ScanLogModel) error
	ListScanLogs(ctx context.Context, sessionID string, limit int) ([]models.ScanLogModel, error)
}
