package models

import "time"

// SessionStatus is the lifecycle state of a class session.
type SessionStatus string

const (
	SessionActive SessionStatus = "ACTIVE"
	SessionEnded  SessionStatus = "ENDED"
)

// Geofence is a circular allowed area for scans.
type Geofence struct {
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	RadiusMeters float64 `json:"radius_meters"`
	// Mandatory rejects scans that report no GPS fix at all.
	Mandatory bool `json:"mandatory"`
}

// WifiPolicy restricts scans to an allowlist of access points.
type WifiPolicy struct {
	AllowedBSSIDs []string `json:"allowed_bssids"`
	AllowedSSIDs  []string `json:"allowed_ssids"`
	// Mandatory rejects scans that report no Wi-Fi reading at all.
	Mandatory bool `json:"mandatory"`
}

// SessionModel is one sitting of a class with its attendance configuration.
// Status transitions ACTIVE -> ENDED exactly once; sessions are retained
// for history and never deleted.
type SessionModel struct {
	Versioned
	ClassID   string        `json:"class_id"   gorm:"index;not null"`
	TeacherID string        `json:"teacher_id" gorm:"index;not null"`
	Status    SessionStatus `json:"status"     gorm:"index;not null;default:ACTIVE"`
	StartAt   time.Time     `json:"start_at"   gorm:"not null"`
	EndAt     *time.Time    `json:"end_at"`

	LateCutoffMinutes int  `json:"late_cutoff_minutes"`
	ExitWindowMinutes int  `json:"exit_window_minutes"`
	ChainTokenTTL     int  `json:"chain_token_ttl_seconds"`
	OwnerTransfer     bool `json:"owner_transfer" gorm:"default:true"`

	Geofence *Geofence   `json:"geofence,omitempty" gorm:"serializer:json"`
	Wifi     *WifiPolicy `json:"wifi,omitempty"     gorm:"serializer:json"`

	// Rotating broadcast flows. The token id fields are advanced by the
	// rotation sweep; everything else is teacher-controlled.
	LateEntryActive   bool   `json:"late_entry_active"`
	LateEntryTokenID  string `json:"late_entry_token_id"  gorm:"type:char(36)"`
	EarlyLeaveActive  bool   `json:"early_leave_active"`
	EarlyLeaveTokenID string `json:"early_leave_token_id" gorm:"type:char(36)"`
}

func (SessionModel) TableName() string { return "sessions" }

// RequiresExit reports whether students must verify their exit for this
// session. A zero exit window disables exit verification entirely.
func (s *SessionModel) RequiresExit() bool { return s.ExitWindowMinutes > 0 }

// LateCutoff returns the instant after which entries count as late.
func (s *SessionModel) LateCutoff() time.Time {
	return s.StartAt.Add(time.Duration(s.LateCutoffMinutes) * time.Minute)
}
