package models

import "time"

// TokenType discriminates the attendance flow a token belongs to.
type TokenType string

const (
	// TokenSession is the teacher-displayed code that bootstraps a session.
	TokenSession TokenType = "SESSION"
	// TokenChain is a relay baton for the entry chain.
	TokenChain TokenType = "CHAIN"
	// TokenExitChain is a relay baton for the exit chain.
	TokenExitChain TokenType = "EXIT_CHAIN"
	// TokenLateEntry is a rotating broadcast code for late arrivals.
	TokenLateEntry TokenType = "LATE_ENTRY"
	// TokenEarlyLeave is a rotating broadcast code for early departures.
	TokenEarlyLeave TokenType = "EARLY_LEAVE"
)

// TokenStatus is the consumption state of a token.
type TokenStatus string

const (
	TokenActive  TokenStatus = "ACTIVE"
	TokenUsed    TokenStatus = "USED"
	TokenExpired TokenStatus = "EXPIRED"
	TokenRevoked TokenStatus = "REVOKED"
)

// TokenModel is a single-use QR payload. A token leaves ACTIVE exactly once;
// status and precondition tag change together under the store's conditional
// update. Rotation supersedes tokens by creating new ones, never by
// resurrecting old ones.
type TokenModel struct {
	Versioned
	SessionID string      `json:"session_id" gorm:"index;not null"`
	Type      TokenType   `json:"type"       gorm:"not null"`
	Status    TokenStatus `json:"status"     gorm:"index;not null;default:ACTIVE"`
	ChainID   string      `json:"chain_id,omitempty"  gorm:"index"`
	HolderID  string      `json:"holder_id,omitempty" gorm:"index"`
	Seq       int         `json:"seq"`
	SingleUse bool        `json:"single_use" gorm:"default:true"`
	ExpiresAt time.Time   `json:"expires_at" gorm:"index;not null"`
	UsedAt    *time.Time  `json:"used_at,omitempty"`
	UsedBy    string      `json:"used_by,omitempty" gorm:"type:char(36)"`
}

func (TokenModel) TableName() string { return "tokens" }

// IsRelay reports whether the token is passed student-to-student rather than
// broadcast from a fixed display.
func (t *TokenModel) IsRelay() bool {
	return t.Type == TokenChain || t.Type == TokenExitChain
}
