// Package notify is the fire-and-forget event sink. Delivery is
// best-effort over redis pub/sub; nothing in the core depends on a publish
// succeeding.
package notify

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	redisc "github.com/chainpass/core/internal/pkg/redis"
)

// Topics published by the attendance core.
const (
	TopicAttendanceUpdate = "attendance_update"
	TopicChainUpdate      = "chain_update"
	TopicStallAlert       = "stall_alert"
)

// AttendanceUpdate reports a student's partial or final status.
type AttendanceUpdate struct {
	SessionID string `json:"session_id"`
	StudentID string `json:"student_id"`
	Status    string `json:"status"`
	Final     bool   `json:"final"`
}

// ChainUpdate reports a chain's state after a relay or transition.
type ChainUpdate struct {
	ChainID    string `json:"chain_id"`
	SessionID  string `json:"session_id"`
	Phase      string `json:"phase"`
	LastHolder string `json:"last_holder"`
	LastSeq    int    `json:"last_seq"`
	State      string `json:"state"`
}

// StallAlert flags a chain with no recent relay activity.
type StallAlert struct {
	ChainID   string `json:"chain_id"`
	SessionID string `json:"session_id"`
}

// Publisher delivers events to interested listeners, best-effort.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload interface{})
}

// Redis publishes events on redis pub/sub channels, one channel per topic.
type Redis struct {
	rc     *redisc.Client
	prefix string
	logger *zap.Logger
}

// NewRedis creates a redis-backed publisher.
func NewRedis(rc *redisc.Client, logger *zap.Logger) *Redis {
	return &Redis{rc: rc, prefix: "cp:events:", logger: logger.Named("Notify")}
}

func (r *Redis) Publish(ctx context.Context, topic string, payload interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		r.logger.Warn("marshal event failed", zap.String("topic", topic), zap.Error(err))
		return
	}
	if err := r.rc.Publish(ctx, r.prefix+topic, body); err != nil {
		r.logger.Warn("publish failed", zap.String("topic", topic), zap.Error(err))
	}
}

// Nop drops all events. Used in tests and when redis is not configured.
type Nop struct{}

func (Nop) Publish(context.Context, string, interface{}) {}

var (
	_ Publisher = (*Redis)(nil)
	_ Publisher = Nop{}
)
