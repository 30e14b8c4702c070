package scan

import (
	"time"

	"github.com/chainpass/core/internal/models"
)

// RequestDTO is the HTTP payload for a scan attempt.
type RequestDTO struct {
	SessionID   string   `json:"session_id" binding:"required"`
	TokenID     string   `json:"token_id"   binding:"required"`
	Tag         string   `json:"tag"        binding:"required"`
	Fingerprint string   `json:"fingerprint"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	BSSID       string   `json:"bssid"`
	SSID        string   `json:"ssid"`
}

// TokenRef is the replacement baton handed to the new holder.
type TokenRef struct {
	ID        string    `json:"id"`
	Tag       string    `json:"tag"`
	Seq       int       `json:"seq"`
	HolderID  string    `json:"holder_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Result describes a successful scan.
type Result struct {
	Flow            models.TokenType   `json:"flow"`
	CreditedStudent string             `json:"credited_student"`
	CreditedStatus  string             `json:"credited_status"`
	Chain           *models.ChainModel `json:"chain,omitempty"`
	NextToken       *TokenRef          `json:"next_token,omitempty"`
}
