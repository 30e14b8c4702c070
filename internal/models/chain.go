package models

import "time"

// ChainPhase distinguishes the entry relay from the exit relay.
type ChainPhase string

const (
	ChainEntry ChainPhase = "ENTRY"
	ChainExit  ChainPhase = "EXIT"
)

// ChainState is the lifecycle state of one chain instance.
type ChainState string

const (
	ChainActive    ChainState = "ACTIVE"
	ChainStalled   ChainState = "STALLED"
	ChainCompleted ChainState = "COMPLETED"
)

// ChainModel is an ordered relay of tokens passed student-to-student.
// LastSeq is monotonically non-decreasing per (id, index); the chain's
// active token always carries the current LastSeq. Reseeding bumps Index and resets
// the sequence; chains are state-transitioned, never deleted.
type ChainModel struct {
	Versioned
	SessionID  string     `json:"session_id" gorm:"index;not null"`
	Phase      ChainPhase `json:"phase"      gorm:"not null"`
	Index      int        `json:"index"      gorm:"column:idx;not null"`
	State      ChainState `json:"state"      gorm:"index;not null;default:ACTIVE"`
	LastHolder string     `json:"last_holder" gorm:"type:char(36)"`
	LastSeq    int        `json:"last_seq"`
	LastAt     time.Time  `json:"last_at"`
	// ActiveTokenID tracks the outstanding baton so reseeds can revoke it.
	ActiveTokenID string `json:"active_token_id" gorm:"type:char(36)"`
}

func (ChainModel) TableName() string { return "chains" }
