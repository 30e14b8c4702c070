package session

import (
	"time"

	"github.com/chainpass/core/internal/models"
)

// CreateDTO configures a new session.
type CreateDTO struct {
	ClassID           string             `json:"class_id" binding:"required"`
	StartAt           *time.Time         `json:"start_at"`
	LateCutoffMinutes int                `json:"late_cutoff_minutes"`
	ExitWindowMinutes int                `json:"exit_window_minutes"`
	ChainTokenTTL     int                `json:"chain_token_ttl_seconds"`
	OwnerTransfer     *bool              `json:"owner_transfer"`
	Geofence          *models.Geofence   `json:"geofence"`
	Wifi              *models.WifiPolicy `json:"wifi"`
}

// EndDTO optionally supplies the class roster so students with no scan at
// all finalize as absent.
type EndDTO struct {
	Roster []string `json:"roster"`
}

// SeedChainDTO starts a relay for the given phase. The first listed student
// becomes the initial holder.
type SeedChainDTO struct {
	Phase     models.ChainPhase `json:"phase"      binding:"required"`
	HolderIDs []string          `json:"holder_ids" binding:"required"`
}

// ReseedChainDTO restarts a chain with a fresh holder.
type ReseedChainDTO struct {
	HolderIDs []string `json:"holder_ids" binding:"required"`
}

// SessionTokenDTO mints the teacher-displayed broadcast code.
type SessionTokenDTO struct {
	TTLSeconds int `json:"ttl_seconds"`
}

// SeededChain is the response for seed and reseed operations.
type SeededChain struct {
	Chain *models.ChainModel `json:"chain"`
	Token *models.TokenModel `json:"token"`
}
