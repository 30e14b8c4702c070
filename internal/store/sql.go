package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"math/rand"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"

	"github.com/chainpass/core/internal/models"
)

// SQL implements Store on a relational database through gorm. Conditional
// updates compile to `UPDATE ... WHERE id = ? AND tag = ?`; a zero row count
// is classified into ErrNotFound or ErrConflict by a follow-up read.
type SQL struct {
	db    *gorm.DB
	retry RetryPolicy
}

// NewSQL wraps a gorm connection with the given retry policy.
func NewSQL(db *gorm.DB, retry RetryPolicy) *SQL {
	if retry.MaxAttempts < 1 {
		retry = DefaultRetryPolicy()
	}
	return &SQL{db: db, retry: retry}
}

func (s *SQL) GetSession(ctx context.Context, id string) (*models.SessionModel, error) {
	out := &models.SessionModel{}
	return out, s.get(ctx, out, id)
}

func (s *SQL) InsertSession(ctx context.Context, m *models.SessionModel) error {
	return s.insert(ctx, m)
}

func (s *SQL) UpdateSession(ctx context.Context, m *models.SessionModel, expectedTag string) error {
	return s.conditionalUpdate(ctx, m, &m.Versioned, &models.SessionModel{}, m.ID, expectedTag)
}

func (s *SQL) ListActiveSessions(ctx context.Context) ([]models.SessionModel, error) {
	var out []models.SessionModel
	err := s.withRetry(ctx, func() error {
		return s.db.WithContext(ctx).Where("status = ?", models.SessionActive).Find(&out).Error
	})
	return out, err
}

func (s *SQL) GetToken(ctx context.Context, id string) (*models.TokenModel, error) {
	out := &models.TokenModel{}
	return out, s.get(ctx, out, id)
}

func (s *SQL) InsertToken(ctx context.Context, m *models.TokenModel) error {
	return s.insert(ctx, m)
}

func (s *SQL) UpdateToken(ctx context.Context, m *models.TokenModel, expectedTag string) error {
	return s.conditionalUpdate(ctx, m, &m.Versioned, &models.TokenModel{}, m.ID, expectedTag)
}

func (s *SQL) GetChain(ctx context.Context, id string) (*models.ChainModel, error) {
	out := &models.ChainModel{}
	return out, s.get(ctx, out, id)
}

func (s *SQL) InsertChain(ctx context.Context, m *models.ChainModel) error {
	return s.insert(ctx, m)
}

func (s *SQL) UpdateChain(ctx context.Context, m *models.ChainModel, expectedTag string) error {
	return s.conditionalUpdate(ctx, m, &m.Versioned, &models.ChainModel{}, m.ID, expectedTag)
}

func (s *SQL) ListChains(ctx context.Context, sessionID string) ([]models.ChainModel, error) {
	var out []models.ChainModel
	err := s.withRetry(ctx, func() error {
		return s.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("created_at ASC").Find(&out).Error
	})
	return out, err
}

func (s *SQL) GetRecord(ctx context.Context, sessionID, studentID string) (*models.AttendanceRecordModel, error) {
	out := &models.AttendanceRecordModel{}
	err := s.withRetry(ctx, func() error {
		err := s.db.WithContext(ctx).
			Where("session_id = ? AND student_id = ?", sessionID, studentID).
			First(out).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQL) InsertRecord(ctx context.Context, m *models.AttendanceRecordModel) error {
	return s.insert(ctx, m)
}

func (s *SQL) UpdateRecord(ctx context.Context, m *models.AttendanceRecordModel, expectedTag string) error {
	return s.conditionalUpdate(ctx, m, &m.Versioned, &models.AttendanceRecordModel{}, m.ID, expectedTag)
}

func (s *SQL) ListRecords(ctx context.Context, sessionID string) ([]models.AttendanceRecordModel, error) {
	var out []models.AttendanceRecordModel
	err := s.withRetry(ctx, func() error {
		return s.db.WithContext(ctx).Where("session_id = ?", sessionID).Find(&out).Error
	})
	return out, err
}

func (s *SQL) AppendScanLog(ctx context.Context, m *models.ScanLogModel) error {
	return s.withRetry(ctx, func() error {
		return s.db.WithContext(ctx).Create(m).Error
	})
}

func (s *SQL) ListScanLogs(ctx context.Context, sessionID string, limit int) ([]models.ScanLogModel, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []models.ScanLogModel
	err := s.withRetry(ctx, func() error {
		return s.db.WithContext(ctx).
			Where("session_id = ?", sessionID).
			Order("timestamp DESC").
			Limit(limit).
			Find(&out).Error
	})
	return out, err
}

func (s *SQL) get(ctx context.Context, dest interface{}, id string) error {
	return s.withRetry(ctx, func() error {
		err := s.db.WithContext(ctx).First(dest, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	})
}

func (s *SQL) insert(ctx context.Context, m interface{}) error {
	return s.withRetry(ctx, func() error {
		err := s.db.WithContext(ctx).Create(m).Error
		if isDuplicateKey(err) {
			return ErrConflict
		}
		return err
	})
}

// conditionalUpdate writes the full row guarded by the stored tag. The
// model's tag is replaced before the write so the persisted row and the
// caller's struct end up carrying the fresh tag together.
func (s *SQL) conditionalUpdate(ctx context.Context, m interface{}, v *models.Versioned, scope interface{}, id, expectedTag string) error {
	v.Retag()
	v.UpdatedAt = time.Now()
	err := s.withRetry(ctx, func() error {
		res := s.db.WithContext(ctx).
			Model(scope).
			Where("id = ? AND tag = ?", id, expectedTag).
			Select("*").
			Omit("id", "created_at").
			Updates(m)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := s.db.WithContext(ctx).Model(scope).Where("id = ?", id).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return ErrNotFound
			}
			return ErrConflict
		}
		return nil
	})
	if err != nil {
		// Restore the caller-observed tag so a re-fetch and retry sees
		// consistent state.
		v.Tag = expectedTag
	}
	return err
}

func (s *SQL) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < s.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoffDelay(s.retry, attempt)):
			}
		}
		err = fn()
		if err == nil || !isTransient(err) {
			return err
		}
	}
	return err
}

// backoffDelay computes exponential backoff with full jitter, capped at
// MaxDelay.
func backoffDelay(p RetryPolicy, attempt int) time.Duration {
	d := p.BaseDelay << (attempt - 1)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(d))) + d/2
}

func isTransient(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, mysqlDriver.ErrInvalidConn) {
		return true
	}
	var me *mysqlDriver.MySQLError
	if errors.As(err, &me) {
		// lock wait timeout, deadlock
		return me.Number == 1205 || me.Number == 1213
	}
	return false
}

func isDuplicateKey(err error) bool {
	var me *mysqlDriver.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}

var _ Store = (*SQL)(nil)
