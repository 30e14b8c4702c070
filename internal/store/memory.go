package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chainpass/core/internal/models"
)

// Memory implements Store entirely in process. It honors the same
// conditional-update contract as the SQL store and backs the test suite.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]models.SessionModel
	tokens   map[string]models.TokenModel
	chains   map[string]models.ChainModel
	records  map[string]models.AttendanceRecordModel // keyed session/student
	logs     []models.ScanLogModel
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]models.SessionModel),
		tokens:   make(map[string]models.TokenModel),
		chains:   make(map[string]models.ChainModel),
		records:  make(map[string]models.AttendanceRecordModel),
	}
}

func recordKey(sessionID, studentID string) string { return sessionID + "/" + studentID }

func stampVersioned(v *models.Versioned) {
	now := time.Now()
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	if v.Tag == "" {
		v.Tag = uuid.New().String()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = now
	}
	v.UpdatedAt = now
}

func (m *Memory) GetSession(_ context.Context, id string) (*models.SessionModel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := s
	return &out, nil
}

func (m *Memory) InsertSession(_ context.Context, s *models.SessionModel) error {
	stampVersioned(&s.Versioned)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[s.ID]; exists {
		return ErrConflict
	}
	m.sessions[s.ID] = *s
	return nil
}

func (m *Memory) UpdateSession(_ context.Context, s *models.SessionModel, expectedTag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.sessions[s.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Tag != expectedTag {
		return ErrConflict
	}
	s.Retag()
	s.UpdatedAt = time.Now()
	m.sessions[s.ID] = *s
	return nil
}

func (m *Memory) ListActiveSessions(_ context.Context) ([]models.SessionModel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.SessionModel
	for _, s := range m.sessions {
		if s.Status == models.SessionActive {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) GetToken(_ context.Context, id string) (*models.TokenModel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tokens[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := t
	return &out, nil
}

func (m *Memory) InsertToken(_ context.Context, t *models.TokenModel) error {
	stampVersioned(&t.Versioned)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.tokens[t.ID]; exists {
		return ErrConflict
	}
	m.tokens[t.ID] = *t
	return nil
}

func (m *Memory) UpdateToken(_ context.Context, t *models.TokenModel, expectedTag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.tokens[t.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Tag != expectedTag {
		return ErrConflict
	}
	t.Retag()
	t.UpdatedAt = time.Now()
	m.tokens[t.ID] = *t
	return nil
}

func (m *Memory) GetChain(_ context.Context, id string) (*models.ChainModel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.chains[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := c
	return &out, nil
}

func (m *Memory) InsertChain(_ context.Context, c *models.ChainModel) error {
	stampVersioned(&c.Versioned)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.chains[c.ID]; exists {
		return ErrConflict
	}
	m.chains[c.ID] = *c
	return nil
}

func (m *Memory) UpdateChain(_ context.Context, c *models.ChainModel, expectedTag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.chains[c.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Tag != expectedTag {
		return ErrConflict
	}
	c.Retag()
	c.UpdatedAt = time.Now()
	m.chains[c.ID] = *c
	return nil
}

func (m *Memory) ListChains(_ context.Context, sessionID string) ([]models.ChainModel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.ChainModel
	for _, c := range m.chains {
		if c.SessionID == sessionID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) GetRecord(_ context.Context, sessionID, studentID string) (*models.AttendanceRecordModel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[recordKey(sessionID, studentID)]
	if !ok {
		return nil, ErrNotFound
	}
	out := r
	return &out, nil
}

func (m *Memory) InsertRecord(_ context.Context, r *models.AttendanceRecordModel) error {
	stampVersioned(&r.Versioned)
	m.mu.Lock()
	defer m.mu.Unlock()
	key := recordKey(r.SessionID, r.StudentID)
	if _, exists := m.records[key]; exists {
		return ErrConflict
	}
	m.records[key] = *r
	return nil
}

func (m *Memory) UpdateRecord(_ context.Context, r *models.AttendanceRecordModel, expectedTag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := recordKey(r.SessionID, r.StudentID)
	cur, ok := m.records[key]
	if !ok {
		return ErrNotFound
	}
	if cur.Tag != expectedTag {
		return ErrConflict
	}
	r.Retag()
	r.UpdatedAt = time.Now()
	m.records[key] = *r
	return nil
}

func (m *Memory) ListRecords(_ context.Context, sessionID string) ([]models.AttendanceRecordModel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.AttendanceRecordModel
	for _, r := range m.records {
		if r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out, nil
}

func (m *Memory) AppendScanLog(_ context.Context, l *models.ScanLogModel) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, *l)
	return nil
}

func (m *Memory) ListScanLogs(_ context.Context, sessionID string, limit int) ([]models.ScanLogModel, error) {
	if limit <= 0 {
		limit = 100
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.ScanLogModel
	for i := len(m.logs) - 1; i >= 0 && len(out) < limit; i-- {
		if m.logs[i].SessionID == sessionID {
			out = append(out, m.logs[i])
		}
	}
	return out, nil
}

var _ Store = (*Memory)(nil)
