package models

import "time"

// EntryStatus records how a student entered the session.
type EntryStatus string

const (
	EntryPresent EntryStatus = "PRESENT_ENTRY"
	EntryLate    EntryStatus = "LATE_ENTRY"
)

// FinalStatus is the aggregated outcome computed at session end.
type FinalStatus string

const (
	FinalPresent    FinalStatus = "PRESENT"
	FinalLate       FinalStatus = "LATE"
	FinalLeftEarly  FinalStatus = "LEFT_EARLY"
	FinalEarlyLeave FinalStatus = "EARLY_LEAVE"
	FinalAbsent     FinalStatus = "ABSENT"
)

// AttendanceRecordModel accumulates a student's entry/exit signals during a
// session and is finalized exactly once by the aggregator. Keyed by
// (session id, student id).
type AttendanceRecordModel struct {
	Versioned
	SessionID string `json:"session_id" gorm:"uniqueIndex:uq_session_student;not null"`
	StudentID string `json:"student_id" gorm:"uniqueIndex:uq_session_student;not null"`

	EntryStatus  EntryStatus `json:"entry_status,omitempty"`
	EntryAt      *time.Time  `json:"entry_at,omitempty"`
	ExitVerified bool        `json:"exit_verified"`
	ExitAt       *time.Time  `json:"exit_at,omitempty"`
	EarlyLeaveAt *time.Time  `json:"early_leave_at,omitempty"`

	Final       FinalStatus `json:"final_status,omitempty" gorm:"index"`
	FinalizedAt *time.Time  `json:"finalized_at,omitempty"`
}

func (AttendanceRecordModel) TableName() string { return "attendance_records" }
