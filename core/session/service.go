package session

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"time"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"

	"github.com/labtrack/labtrack/core"
	"github.com/labtrack/labtrack/core/audit"
	"github.com/labtrack/labtrack/core/equipment"
	"github.com/labtrack/labtrack/core/student"
	"github.com/labtrack/labtrack/core/subject"
	"github.com/labtrack/labtrack/core/user"
)

var (
	ErrSessionActive    = errors.New("a session is already active")
	ErrSessionNotActive = errors.New("no session is active")
	ErrRecordNotFound   = errors.New("attendance record not found")
	ErrArchiveNotFound  = errors.New("archived session not found")

	errUnitOutOfService = errors.New("equipment unit is out of service")
	errUnitOccupied     = errors.New("equipment unit is already occupied")
	errAlreadyCheckedIn = errors.New("student already checked in to this session")
)

type (
	// Repository persists the lifecycle state, the live log and the
	// archive collections. SaveArchive writes the archive document and
	// its class-information summary in one atomic batch; the batch
	// delete operations are atomic too.
	Repository interface {
		GetState(ctx context.Context, kind Kind) (State, error) // inactive zero State when absent
		SaveState(ctx context.Context, st State) error

		LiveRecords(ctx context.Context, kind Kind) ([]Record, error)
		WatchLiveRecords(ctx context.Context, kind Kind) (<-chan []Record, error)
		CreateRecord(ctx context.Context, rec Record) error
		GetRecord(ctx context.Context, id string) (Record, error)
		DeleteRecordsByID(ctx context.Context, ids ...string) error

		SaveArchive(ctx context.Context, arc Archive) error
		ClearPendingPurge(ctx context.Context, archiveID string) error
		PendingArchives(ctx context.Context, kind Kind) ([]Archive, error)
		QueryArchives(ctx context.Context, kind Kind) ([]Archive, error) // newest first
		GetArchive(ctx context.Context, id string) (Archive, error)
	}

	Service struct {
		repo     Repository
		students *student.Service
		subjects *subject.Service
		equip    *equipment.Service
		users    *user.Service
		audits   *audit.Service
		mailSvc  core.EmailService
		logger   core.Logger
	}
)

func NewService(
	repo Repository,
	students *student.Service,
	subjects *subject.Service,
	equip *equipment.Service,
	users *user.Service,
	audits *audit.Service,
	mailSvc core.EmailService,
	logger core.Logger,
) *Service {
	return &Service{
		repo:     repo,
		students: students,
		subjects: subjects,
		equip:    equip,
		users:    users,
		audits:   audits,
		mailSvc:  mailSvc,
		logger:   logger,
	}
}

// Active returns the current lifecycle state for a session kind.
func (svc *Service) Active(ctx context.Context, kind Kind) (State, error) {
	return svc.repo.GetState(ctx, kind)
}

// Start opens a session of the given kind. Only one session per kind
// may be open at a time.
func (svc *Service) Start(ctx context.Context, kind Kind, teacherID string, ss StartSession) (State, error) {
	if err := ss.Validate(); err != nil {
		return State{}, err
	}

	st, err := svc.repo.GetState(ctx, kind)
	if err != nil {
		return State{}, err
	}
	if st.Active {
		return State{}, ErrSessionActive
	}

	prac, err := svc.subjects.GetPractice(ctx, ss.PracticeID)
	if err != nil {
		if err == subject.ErrPracticeNotFound {
			return State{}, core.NewValidationError(err, core.FieldError{Field: "practice_id", Error: err.Error()})
		}
		return State{}, err
	}
	sub, err := svc.subjects.GetByID(ctx, prac.SubjectID)
	if err != nil {
		return State{}, err
	}

	st = State{
		Kind:        kind,
		SessionID:   uuid.New().String(),
		Active:      true,
		PracticeID:  prac.ID,
		SubjectName: sub.Name,
		TeacherID:   teacherID,
		StartTime:   time.Now().UTC(),
	}
	if err := svc.repo.SaveState(ctx, st); err != nil {
		return State{}, err
	}

	svc.recordAudit(ctx, audit.ActionSessionStarted, teacherID,
		fmt.Sprintf("%s session %s for %q (practice %d)", kind, st.SessionID, sub.Name, prac.Number))
	return st, nil
}

// CheckIn appends one attendance record to the live log. The student
// must exist, the unit must be serviceable and free, and the student
// must not already be checked in to the open session.
func (svc *Service) CheckIn(ctx context.Context, kind Kind, ci CheckIn) (Record, error) {
	if err := ci.Validate(); err != nil {
		return Record{}, err
	}

	st, err := svc.repo.GetState(ctx, kind)
	if err != nil {
		return Record{}, err
	}
	if !st.Active {
		return Record{}, ErrSessionNotActive
	}

	std, err := svc.students.GetByID(ctx, ci.StudentID)
	if err != nil {
		if err == student.ErrNotFound {
			return Record{}, core.NewValidationError(err, core.FieldError{Field: "student_id", Error: err.Error()})
		}
		return Record{}, err
	}

	unit, err := svc.equip.Get(ctx, ci.EquipmentID)
	if err != nil {
		if err == equipment.ErrUnitNotFound {
			return Record{}, core.NewValidationError(err, core.FieldError{Field: "equipment_id", Error: err.Error()})
		}
		return Record{}, err
	}
	if unit.OutOfService {
		return Record{}, core.NewValidationError(errUnitOutOfService, core.FieldError{Field: "equipment_id", Error: errUnitOutOfService.Error()})
	}
	if unit.InUse {
		return Record{}, core.NewValidationError(errUnitOccupied, core.FieldError{Field: "equipment_id", Error: errUnitOccupied.Error()})
	}

	live, err := svc.repo.LiveRecords(ctx, kind)
	if err != nil {
		return Record{}, err
	}
	for _, rec := range live {
		if rec.SessionID == st.SessionID && rec.StudentID == std.ID {
			return Record{}, core.NewValidationError(errAlreadyCheckedIn, core.FieldError{Field: "student_id", Error: errAlreadyCheckedIn.Error()})
		}
	}

	rec := Record{
		ID:          uuid.New().String(),
		SessionID:   st.SessionID,
		Kind:        kind,
		StudentID:   std.ID,
		FirstName:   std.FirstName,
		LastName:    std.LastName,
		EquipmentID: unit.ID,
		Career:      std.Career,
		Group:       std.Group,
		Semester:    std.Semester,
		Shift:       std.Shift,
		CheckedInAt: time.Now().UTC(),
	}
	if err := svc.repo.CreateRecord(ctx, rec); err != nil {
		return Record{}, err
	}
	if err := svc.equip.SetInUse(ctx, unit.ID, true); err != nil {
		svc.logger.Warn(fmt.Sprintf("session: marking unit %s in use: %v", unit.ID, err))
	}
	return rec, nil
}

// Attendance returns the live log for a session kind.
func (svc *Service) Attendance(ctx context.Context, kind Kind) ([]Record, error) {
	return svc.repo.LiveRecords(ctx, kind)
}

// Watch streams live-log snapshots until ctx is cancelled.
func (svc *Service) Watch(ctx context.Context, kind Kind) (<-chan []Record, error) {
	return svc.repo.WatchLiveRecords(ctx, kind)
}

// RemoveRecord deletes one live record and frees its unit.
func (svc *Service) RemoveRecord(ctx context.Context, kind Kind, id string) error {
	rec, err := svc.repo.GetRecord(ctx, id)
	if err != nil {
		return err
	}
	if rec.Kind != kind {
		return ErrRecordNotFound
	}
	if err := svc.repo.DeleteRecordsByID(ctx, id); err != nil {
		return err
	}
	if err := svc.equip.SetInUse(ctx, rec.EquipmentID, false); err != nil {
		svc.logger.Warn(fmt.Sprintf("session: freeing unit %s: %v", rec.EquipmentID, err))
	}
	return nil
}

// Stop closes the open session: the live log is snapshotted into an
// immutable archive (marked pending-purge until the live records are
// deleted), equipment is freed, and the teacher is emailed a report.
// An archive that exists with pending_purge still set means the purge
// failed mid-way; the reconciliation routine resumes it.
func (svc *Service) Stop(ctx context.Context, kind Kind, actor string) (Archive, error) {
	st, err := svc.repo.GetState(ctx, kind)
	if err != nil {
		return Archive{}, err
	}
	if !st.Active {
		return Archive{}, ErrSessionNotActive
	}

	st.Active = false
	st.EndTime = time.Now().UTC()
	if err := svc.repo.SaveState(ctx, st); err != nil {
		return Archive{}, err
	}

	snapshot, err := svc.repo.LiveRecords(ctx, kind)
	if err != nil {
		return Archive{}, err
	}
	students := make([]Record, 0, len(snapshot))
	for _, rec := range snapshot {
		if rec.SessionID == st.SessionID {
			students = append(students, rec)
		}
	}

	arc := Archive{
		ID:              st.SessionID,
		Kind:            kind,
		SubjectName:     st.SubjectName,
		Date:            st.StartTime.Format("2006-01-02"),
		StartTime:       st.StartTime,
		EndTime:         st.EndTime,
		Teacher:         TeacherInfo{ID: st.TeacherID},
		TotalAttendance: len(students),
		Students:        students,
		PendingPurge:    true,
	}
	if prac, err := svc.subjects.GetPractice(ctx, st.PracticeID); err == nil {
		arc.PracticeTitle = prac.Title
	} else {
		svc.logger.Warn(fmt.Sprintf("session: resolving practice %s: %v", st.PracticeID, err))
	}
	var teacher user.User
	if teacher, err = svc.users.GetByID(ctx, st.TeacherID); err == nil {
		arc.Teacher.FirstName = teacher.FirstName
		arc.Teacher.LastName = teacher.LastName
	} else {
		svc.logger.Warn(fmt.Sprintf("session: resolving teacher %s: %v", st.TeacherID, err))
	}

	if err := svc.repo.SaveArchive(ctx, arc); err != nil {
		return Archive{}, pkgerrors.Wrap(err, "archiving session")
	}

	ids := make([]string, 0, len(students))
	for _, rec := range students {
		ids = append(ids, rec.ID)
	}
	if len(ids) > 0 {
		if err := svc.repo.DeleteRecordsByID(ctx, ids...); err != nil {
			// the archive is safe; a later reconciliation run resumes the purge
			return Archive{}, pkgerrors.Wrap(err, "purging live records")
		}
	}
	if err := svc.repo.ClearPendingPurge(ctx, arc.ID); err != nil {
		return Archive{}, err
	}
	arc.PendingPurge = false

	if err := svc.equip.ResetAllToAvailable(ctx); err != nil {
		svc.logger.Warn(fmt.Sprintf("session: resetting equipment: %v", err))
	}

	svc.sendReport(arc, teacher)
	svc.recordAudit(ctx, audit.ActionSessionClosed, actor,
		fmt.Sprintf("%s session %s archived with %d attendees", kind, arc.ID, arc.TotalAttendance))
	return arc, nil
}

func (svc *Service) Archives(ctx context.Context, kind Kind) ([]Archive, error) {
	return svc.repo.QueryArchives(ctx, kind)
}

func (svc *Service) GetArchive(ctx context.Context, id string) (Archive, error) {
	return svc.repo.GetArchive(ctx, id)
}

// Reconcile cleans up artifacts of unclean shutdowns for one session
// kind: it resumes half-finished archive purges, deletes orphaned live
// records and frees equipment. A genuinely open session is left alone
// unless force is set; force also repairs an active state that is
// missing the fields an open session requires.
func (svc *Service) Reconcile(ctx context.Context, kind Kind, actor string, force bool) (ReconcileReport, error) {
	report := ReconcileReport{Kind: kind}

	st, err := svc.repo.GetState(ctx, kind)
	if err != nil {
		return report, err
	}
	if st.Active && st.Consistent() && !force {
		report.Skipped = true
		return report, nil
	}
	if force && st.Active && !st.Consistent() {
		st.Active = false
		st.EndTime = time.Now().UTC()
		st.AutoRepaired = true
		if err := svc.repo.SaveState(ctx, st); err != nil {
			return report, pkgerrors.Wrap(err, "repairing session state")
		}
		report.Repaired = true
		svc.recordAudit(ctx, audit.ActionSessionRepaired, actor,
			fmt.Sprintf("force-closed inconsistent %s session %s", kind, st.SessionID))
	}

	pending, err := svc.repo.PendingArchives(ctx, kind)
	if err != nil {
		return report, err
	}
	for _, arc := range pending {
		ids := make([]string, 0, len(arc.Students))
		for _, rec := range arc.Students {
			ids = append(ids, rec.ID)
		}
		if len(ids) > 0 {
			if err := svc.repo.DeleteRecordsByID(ctx, ids...); err != nil {
				return report, pkgerrors.Wrapf(err, "resuming purge of archive %s", arc.ID)
			}
		}
		if err := svc.repo.ClearPendingPurge(ctx, arc.ID); err != nil {
			return report, err
		}
		report.ResumedArchives++
	}

	live, err := svc.repo.LiveRecords(ctx, kind)
	if err != nil {
		return report, err
	}
	if len(live) > 0 {
		ids := make([]string, 0, len(live))
		for _, rec := range live {
			ids = append(ids, rec.ID)
		}
		if err := svc.repo.DeleteRecordsByID(ctx, ids...); err != nil {
			return report, pkgerrors.Wrap(err, "purging orphaned records")
		}
		report.PurgedRecords = len(live)
	}

	if err := svc.equip.ResetAllToAvailable(ctx); err != nil {
		svc.logger.Warn(fmt.Sprintf("session: resetting equipment: %v", err))
	}

	if report.Repaired || report.ResumedArchives > 0 || report.PurgedRecords > 0 {
		svc.recordAudit(ctx, audit.ActionOrphansPurged, actor,
			fmt.Sprintf("%s: purged %d orphaned records, resumed %d pending archives", kind, report.PurgedRecords, report.ResumedArchives))
	}
	return report, nil
}

func (svc *Service) recordAudit(ctx context.Context, action, actor, details string) {
	if svc.audits == nil {
		return
	}
	if err := svc.audits.Record(ctx, action, actor, details); err != nil {
		svc.logger.Warn(fmt.Sprintf("session: recording audit entry: %v", err))
	}
}

// sendReport emails the attendance report to the session's teacher.
// Failures are logged; a lost email never fails the close.
func (svc *Service) sendReport(arc Archive, teacher user.User) {
	if svc.mailSvc == nil || teacher.Email == "" {
		return
	}
	buf, err := BuildReportCSV(arc)
	if err != nil {
		svc.logger.Error(fmt.Sprintf("session: building report: %v", err), err)
		return
	}
	msg := &core.EmailMessage{
		To:      []mail.Address{{Name: teacher.Name(), Address: teacher.Email}},
		Subject: fmt.Sprintf("%s - Attendance report - %s (%s)", core.Conf.AppName, arc.SubjectName, arc.Date),
		TextContent: fmt.Sprintf(
			"Attendance report for %s, practice %q.\nSession closed at %s with %d attendees.",
			arc.SubjectName, arc.PracticeTitle, arc.EndTime.Format(time.RFC1123), arc.TotalAttendance,
		),
	}
	if err := msg.Attach(buf, fmt.Sprintf("attendance-%s.csv", arc.Date), "text/csv"); err != nil {
		svc.logger.Error(fmt.Sprintf("session: attaching report: %v", err), err)
		return
	}
	svc.mailSvc.SendMessages(msg)
}
