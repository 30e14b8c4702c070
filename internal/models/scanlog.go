package models

import "time"

// ScanResult is the outcome recorded for a scan attempt.
type ScanResult string

const (
	ScanAccepted ScanResult = "ACCEPTED"
	ScanRejected ScanResult = "REJECTED"
)

// ScanLogModel is the append-only audit trail of scan attempts, accepted or
// rejected. Rows are write-once; retention is an operational concern outside
// this service.
type ScanLogModel struct {
	Base
	SessionID   string     `json:"session_id" gorm:"index;not null"`
	Flow        TokenType  `json:"flow"       gorm:"not null"`
	TokenID     string     `json:"token_id"   gorm:"index"`
	HolderID    string     `json:"holder_id"  gorm:"type:char(36)"`
	ScannerID   string     `json:"scanner_id" gorm:"index;not null"`
	Fingerprint string     `json:"fingerprint"`
	IP          string     `json:"ip"`
	Latitude    *float64   `json:"latitude,omitempty"`
	Longitude   *float64   `json:"longitude,omitempty"`
	BSSID       string     `json:"bssid,omitempty"`
	Result      ScanResult `json:"result"     gorm:"index;not null"`
	ErrorCode   string     `json:"error_code,omitempty"`
	ErrorDetail string     `json:"error_detail,omitempty"`
	Timestamp   time.Time  `json:"timestamp"  gorm:"index;not null"`
}

func (ScanLogModel) TableName() string { return "scan_logs" }
