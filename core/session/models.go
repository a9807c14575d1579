package session

import (
	"errors"
	"time"

	"github.com/labtrack/labtrack/core"
)

// Kind discriminates the two parallel session flows. Both run through
// the same workflow against the same collections, scoped by this value.
type Kind string

const (
	KindRegular Kind = "regular"
	KindGuest   Kind = "guest"
)

var errUnknownKind = errors.New("unknown session kind")

func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindRegular, KindGuest:
		return Kind(s), nil
	}
	return "", errUnknownKind
}

// State is the singleton lifecycle record for one session kind.
type State struct {
	Kind         Kind      `json:"kind"`
	SessionID    string    `json:"session_id"`
	Active       bool      `json:"active"`
	PracticeID   string    `json:"practice_id"`
	SubjectName  string    `json:"subject_name"`
	TeacherID    string    `json:"teacher_id"`
	StartTime    time.Time `json:"start_time"` // UTC
	EndTime      time.Time `json:"end_time"`   // UTC
	AutoRepaired bool      `json:"auto_repaired"`
}

// Consistent reports whether an active state carries everything an open
// session requires. An active state failing this check is an orphan
// artifact and only the reconciliation routine may act on it.
func (s State) Consistent() bool {
	if !s.Active {
		return true
	}
	return s.PracticeID != "" && s.TeacherID != "" && !s.StartTime.IsZero()
}

// Record is one student check-in, explicitly tied to its session.
type Record struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	Kind        Kind      `json:"kind"`
	StudentID   string    `json:"student_id"`
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	EquipmentID string    `json:"equipment_id"`
	Career      string    `json:"career"`
	Group       string    `json:"group"`
	Semester    string    `json:"semester"`
	Shift       string    `json:"shift"`
	CheckedInAt time.Time `json:"checked_in_at"` // UTC
}

type TeacherInfo struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// Archive is the immutable historical record written once per session
// close. PendingPurge marks an archive whose live records have not been
// deleted yet; reconciliation resumes such half-finished closes.
type Archive struct {
	ID              string      `json:"id"` // the session id
	Kind            Kind        `json:"kind"`
	SubjectName     string      `json:"subject_name"`
	PracticeTitle   string      `json:"practice_title"`
	Date            string      `json:"date"` // YYYY-MM-DD
	StartTime       time.Time   `json:"start_time"` // UTC
	EndTime         time.Time   `json:"end_time"`   // UTC
	Teacher         TeacherInfo `json:"teacher"`
	TotalAttendance int         `json:"total_attendance"`
	Students        []Record    `json:"students"`
	PendingPurge    bool        `json:"pending_purge"`
}

// StartSession is the teacher's "start class" form.
type StartSession struct {
	PracticeID string `json:"practice_id" validate:"required"`
}

func (ss *StartSession) Validate() error {
	ss.PracticeID = core.CleanString(ss.PracticeID)
	return core.Validate.Struct(ss)
}

// CheckIn is the student-facing check-in form.
type CheckIn struct {
	StudentID   string `json:"student_id" validate:"required,matric"`
	EquipmentID string `json:"equipment_id" validate:"required"`
}

func (ci *CheckIn) Validate() error {
	ci.StudentID = core.CleanString(ci.StudentID)
	ci.EquipmentID = core.CleanString(ci.EquipmentID)
	return core.Validate.Struct(ci)
}

// ReconcileReport summarizes one orphan-reconciliation run.
type ReconcileReport struct {
	Kind            Kind `json:"kind"`
	Skipped         bool `json:"skipped"`
	Repaired        bool `json:"repaired"`
	ResumedArchives int  `json:"resumed_archives"`
	PurgedRecords   int  `json:"purged_records"`
}
