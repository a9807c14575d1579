package session_test

import (
	"context"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/labtrack/labtrack/core"
	"github.com/labtrack/labtrack/core/audit"
	"github.com/labtrack/labtrack/core/equipment"
	"github.com/labtrack/labtrack/core/session"
	"github.com/labtrack/labtrack/core/student"
	"github.com/labtrack/labtrack/core/subject"
	"github.com/labtrack/labtrack/core/user"
	"github.com/labtrack/labtrack/storage/docstore"
	"github.com/labtrack/labtrack/storage/docstore/inmem"
)

type emailSvcMock struct {
	mu   sync.Mutex
	msgs []*core.EmailMessage
}

func (svc *emailSvcMock) SendMessages(messages ...*core.EmailMessage) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	svc.msgs = append(svc.msgs, messages...)
}

type testApp struct {
	store    core.DocStore
	sessions *session.Service
	sessRepo session.Repository
	students *student.Service
	subjects *subject.Service
	equip    *equipment.Service
	users    *user.Service
	audits   *audit.Service
	mailSvc  *emailSvcMock
}

func setup(t *testing.T) *testApp {
	t.Helper()

	store := inmem.NewStore()
	logger := core.StdLogger{Std: log.New(io.Discard, "", 0)}
	mailSvc := &emailSvcMock{}

	students := student.NewService(docstore.NewStudentRepository(store))
	subjects := subject.NewService(docstore.NewSubjectRepository(store))
	equip := equipment.NewService(docstore.NewEquipmentRepository(store))
	users := user.NewService(docstore.NewUserRepository(store))
	audits := audit.NewService(docstore.NewAuditRepository(store))
	sessRepo := docstore.NewSessionRepository(store)
	sessions := session.NewService(sessRepo, students, subjects, equip, users, audits, mailSvc, logger)

	return &testApp{
		store:    store,
		sessions: sessions,
		sessRepo: sessRepo,
		students: students,
		subjects: subjects,
		equip:    equip,
		users:    users,
		audits:   audits,
		mailSvc:  mailSvc,
	}
}

func createStudent(t *testing.T, app *testApp, id, first, last string) student.Student {
	t.Helper()
	std, err := app.students.Create(context.Background(), student.NewStudent{
		ID:        id,
		FirstName: first,
		LastName:  last,
		Career:    "Software Engineering",
		Group:     "A",
		Semester:  "5",
		Shift:     "morning",
	})
	if err != nil {
		t.Fatalf("createStudent() failed: %v", err)
	}
	return std
}

func createPractice(t *testing.T, app *testApp) subject.Practice {
	t.Helper()
	ctx := context.Background()
	sub, err := app.subjects.Create(ctx, subject.NewSubject{Name: "Operating Systems"})
	if err != nil {
		t.Fatalf("createPractice() failed: %v", err)
	}
	prac, err := app.subjects.AddPractice(ctx, sub.ID, subject.NewPractice{Number: 3, Title: "Process Scheduling"})
	if err != nil {
		t.Fatalf("createPractice() failed: %v", err)
	}
	return prac
}

func createTeacher(t *testing.T, app *testApp) user.User {
	t.Helper()
	usr, err := app.users.Create(context.Background(), user.NewUser{
		FirstName:       "Grace",
		LastName:        "Hopper",
		Username:        "ghopper",
		Email:           "ghopper@test.lab",
		Password:        "LePassword007!",
		PasswordConfirm: "LePassword007!",
		Roles:           []string{user.RoleTeacher},
	})
	if err != nil {
		t.Fatalf("createTeacher() failed: %v", err)
	}
	return usr
}

func startSession(t *testing.T, app *testApp, kind session.Kind) (session.State, user.User) {
	t.Helper()
	teacher := createTeacher(t, app)
	prac := createPractice(t, app)
	st, err := app.sessions.Start(context.Background(), kind, teacher.ID, session.StartSession{PracticeID: prac.ID})
	if err != nil {
		t.Fatalf("startSession() failed: %v", err)
	}
	return st, teacher
}

func Test_sessionService_Start(t *testing.T) {
	app := setup(t)
	ctx := context.Background()

	teacher := createTeacher(t, app)
	prac := createPractice(t, app)

	if _, err := app.sessions.Start(ctx, session.KindRegular, teacher.ID, session.StartSession{}); err == nil {
		t.Error("Start() with no practice should fail validation")
	}
	if _, err := app.sessions.Start(ctx, session.KindRegular, teacher.ID, session.StartSession{PracticeID: "nope"}); err == nil {
		t.Error("Start() with unknown practice should fail")
	}

	st, err := app.sessions.Start(ctx, session.KindRegular, teacher.ID, session.StartSession{PracticeID: prac.ID})
	if err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if !st.Active {
		t.Error("Start() state should be active")
	}
	if st.SessionID == "" {
		t.Error("Start() should assign a session id")
	}
	if st.SubjectName != "Operating Systems" {
		t.Errorf("Start() subject = %q; want %q", st.SubjectName, "Operating Systems")
	}

	// only one open session per kind
	if _, err := app.sessions.Start(ctx, session.KindRegular, teacher.ID, session.StartSession{PracticeID: prac.ID}); err != session.ErrSessionActive {
		t.Errorf("Start() on active session: err = %v; want %v", err, session.ErrSessionActive)
	}

	// guest flow is independent
	if _, err := app.sessions.Start(ctx, session.KindGuest, teacher.ID, session.StartSession{PracticeID: prac.ID}); err != nil {
		t.Errorf("Start(guest) alongside regular failed: %v", err)
	}
}

func Test_sessionService_CheckIn(t *testing.T) {
	app := setup(t)
	ctx := context.Background()

	std := createStudent(t, app, "12345678", "Ada", "Lovelace")
	if _, err := app.equip.ReplaceRoster(ctx, 3); err != nil {
		t.Fatalf("ReplaceRoster() failed: %v", err)
	}

	// no active session yet
	ci := session.CheckIn{StudentID: std.ID, EquipmentID: "1"}
	if _, err := app.sessions.CheckIn(ctx, session.KindRegular, ci); err != session.ErrSessionNotActive {
		t.Fatalf("CheckIn() without session: err = %v; want %v", err, session.ErrSessionNotActive)
	}

	st, _ := startSession(t, app, session.KindRegular)

	rec, err := app.sessions.CheckIn(ctx, session.KindRegular, ci)
	if err != nil {
		t.Fatalf("CheckIn() failed: %v", err)
	}
	if rec.SessionID != st.SessionID {
		t.Errorf("CheckIn() record session = %q; want %q", rec.SessionID, st.SessionID)
	}
	if rec.FirstName != "Ada" || rec.Career != "Software Engineering" {
		t.Errorf("CheckIn() should denormalize student info, got %+v", rec)
	}

	// unit is now occupied
	unit, err := app.equip.Get(ctx, "1")
	if err != nil {
		t.Fatalf("Get(unit) failed: %v", err)
	}
	if !unit.InUse {
		t.Error("CheckIn() should mark the unit in use")
	}

	// same student twice
	if _, err := app.sessions.CheckIn(ctx, session.KindRegular, session.CheckIn{StudentID: std.ID, EquipmentID: "2"}); err == nil {
		t.Error("CheckIn() duplicate student should fail")
	}

	// occupied unit
	std2 := createStudent(t, app, "87654321", "Alan", "Turing")
	if _, err := app.sessions.CheckIn(ctx, session.KindRegular, session.CheckIn{StudentID: std2.ID, EquipmentID: "1"}); err == nil {
		t.Error("CheckIn() on occupied unit should fail")
	}

	// out-of-service unit
	if _, err := app.equip.ToggleService(ctx, "3"); err != nil {
		t.Fatalf("ToggleService() failed: %v", err)
	}
	if _, err := app.sessions.CheckIn(ctx, session.KindRegular, session.CheckIn{StudentID: std2.ID, EquipmentID: "3"}); err == nil {
		t.Error("CheckIn() on out-of-service unit should fail")
	}

	// unknown student
	if _, err := app.sessions.CheckIn(ctx, session.KindRegular, session.CheckIn{StudentID: "99999999", EquipmentID: "2"}); err == nil {
		t.Error("CheckIn() with unknown student should fail")
	}

	live, err := app.sessions.Attendance(ctx, session.KindRegular)
	if err != nil {
		t.Fatalf("Attendance() failed: %v", err)
	}
	if len(live) != 1 {
		t.Errorf("Attendance() len = %d; want 1", len(live))
	}
}

func Test_sessionService_RemoveRecord(t *testing.T) {
	app := setup(t)
	ctx := context.Background()

	std := createStudent(t, app, "12345678", "Ada", "Lovelace")
	if _, err := app.equip.ReplaceRoster(ctx, 2); err != nil {
		t.Fatalf("ReplaceRoster() failed: %v", err)
	}
	startSession(t, app, session.KindRegular)

	rec, err := app.sessions.CheckIn(ctx, session.KindRegular, session.CheckIn{StudentID: std.ID, EquipmentID: "1"})
	if err != nil {
		t.Fatalf("CheckIn() failed: %v", err)
	}

	if err := app.sessions.RemoveRecord(ctx, session.KindGuest, rec.ID); err != session.ErrRecordNotFound {
		t.Errorf("RemoveRecord() with wrong kind: err = %v; want %v", err, session.ErrRecordNotFound)
	}
	if err := app.sessions.RemoveRecord(ctx, session.KindRegular, rec.ID); err != nil {
		t.Fatalf("RemoveRecord() failed: %v", err)
	}

	live, _ := app.sessions.Attendance(ctx, session.KindRegular)
	if len(live) != 0 {
		t.Errorf("live log len = %d after removal; want 0", len(live))
	}
	unit, _ := app.equip.Get(ctx, "1")
	if unit.InUse {
		t.Error("RemoveRecord() should free the unit")
	}
}

func Test_sessionService_Stop(t *testing.T) {
	app := setup(t)
	ctx := context.Background()

	if _, err := app.sessions.Stop(ctx, session.KindRegular, "nobody"); err != session.ErrSessionNotActive {
		t.Fatalf("Stop() without session: err = %v; want %v", err, session.ErrSessionNotActive)
	}

	std1 := createStudent(t, app, "12345678", "Ada", "Lovelace")
	std2 := createStudent(t, app, "87654321", "Alan", "Turing")
	if _, err := app.equip.ReplaceRoster(ctx, 3); err != nil {
		t.Fatalf("ReplaceRoster() failed: %v", err)
	}
	st, teacher := startSession(t, app, session.KindRegular)

	// unit 3 is down for repair; closing the session must not revive it
	if _, err := app.equip.ToggleService(ctx, "3"); err != nil {
		t.Fatalf("ToggleService() failed: %v", err)
	}

	for i, std := range []student.Student{std1, std2} {
		eqID := []string{"1", "2"}[i]
		if _, err := app.sessions.CheckIn(ctx, session.KindRegular, session.CheckIn{StudentID: std.ID, EquipmentID: eqID}); err != nil {
			t.Fatalf("CheckIn(%s) failed: %v", std.ID, err)
		}
	}

	arc, err := app.sessions.Stop(ctx, session.KindRegular, teacher.ID)
	if err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}

	// archive completeness
	if arc.ID != st.SessionID {
		t.Errorf("archive id = %q; want session id %q", arc.ID, st.SessionID)
	}
	if arc.TotalAttendance != 2 || len(arc.Students) != 2 {
		t.Errorf("archive attendance = %d/%d records; want 2/2", arc.TotalAttendance, len(arc.Students))
	}
	if arc.PendingPurge {
		t.Error("archive should not be pending purge after a clean close")
	}
	if arc.SubjectName != "Operating Systems" || arc.PracticeTitle != "Process Scheduling" {
		t.Errorf("archive header = %q/%q", arc.SubjectName, arc.PracticeTitle)
	}
	if arc.Teacher.FirstName != "Grace" {
		t.Errorf("archive teacher = %+v", arc.Teacher)
	}

	// state closed
	now, err := app.sessions.Active(ctx, session.KindRegular)
	if err != nil {
		t.Fatalf("Active() failed: %v", err)
	}
	if now.Active {
		t.Error("state should be inactive after Stop()")
	}
	if now.EndTime.IsZero() {
		t.Error("state should carry an end time after Stop()")
	}

	// live log purged, equipment freed
	live, _ := app.sessions.Attendance(ctx, session.KindRegular)
	if len(live) != 0 {
		t.Errorf("live log len = %d after Stop(); want 0", len(live))
	}
	units, _ := app.equip.List(ctx)
	for _, u := range units {
		if u.InUse {
			t.Errorf("unit %s still in use after Stop()", u.ID)
		}
		if wantOut := u.ID == "3"; u.OutOfService != wantOut {
			t.Errorf("unit %s OutOfService = %t after Stop(); want %t", u.ID, u.OutOfService, wantOut)
		}
	}

	// archived copy is retrievable
	stored, err := app.sessions.GetArchive(ctx, arc.ID)
	if err != nil {
		t.Fatalf("GetArchive() failed: %v", err)
	}
	if len(stored.Students) != 2 {
		t.Errorf("stored archive has %d records; want 2", len(stored.Students))
	}

	// report email went to the teacher
	app.mailSvc.mu.Lock()
	defer app.mailSvc.mu.Unlock()
	if len(app.mailSvc.msgs) != 1 {
		t.Fatalf("sent %d report emails; want 1", len(app.mailSvc.msgs))
	}
	msg := app.mailSvc.msgs[0]
	if msg.To[0].Address != teacher.Email {
		t.Errorf("report sent to %q; want %q", msg.To[0].Address, teacher.Email)
	}
	if !msg.HasAttachments() {
		t.Error("report email should carry the CSV attachment")
	}
}

func Test_sessionService_Reconcile(t *testing.T) {
	ctx := context.Background()

	t.Run("active session is left alone", func(t *testing.T) {
		app := setup(t)
		startSession(t, app, session.KindRegular)

		report, err := app.sessions.Reconcile(ctx, session.KindRegular, "system", false)
		if err != nil {
			t.Fatalf("Reconcile() failed: %v", err)
		}
		if !report.Skipped {
			t.Error("Reconcile() should skip a consistent active session")
		}
		st, _ := app.sessions.Active(ctx, session.KindRegular)
		if !st.Active {
			t.Error("Reconcile() must not close a live session")
		}
	})

	t.Run("orphaned records are purged", func(t *testing.T) {
		app := setup(t)
		if _, err := app.equip.ReplaceRoster(ctx, 2); err != nil {
			t.Fatalf("ReplaceRoster() failed: %v", err)
		}
		if err := app.equip.SetInUse(ctx, "1", true); err != nil {
			t.Fatalf("SetInUse() failed: %v", err)
		}

		// leftovers of a crashed run: records without an active session
		for i, id := range []string{"a", "b"} {
			rec := session.Record{
				ID: id, SessionID: "dead-session", Kind: session.KindRegular,
				StudentID: "1234567" + []string{"1", "2"}[i], FirstName: "X", LastName: "Y",
				EquipmentID: "1", CheckedInAt: time.Now().UTC(),
			}
			if err := app.sessRepo.CreateRecord(ctx, rec); err != nil {
				t.Fatalf("CreateRecord() failed: %v", err)
			}
		}

		report, err := app.sessions.Reconcile(ctx, session.KindRegular, "system", false)
		if err != nil {
			t.Fatalf("Reconcile() failed: %v", err)
		}
		if report.PurgedRecords != 2 {
			t.Errorf("purged %d records; want 2", report.PurgedRecords)
		}
		live, _ := app.sessions.Attendance(ctx, session.KindRegular)
		if len(live) != 0 {
			t.Errorf("live log len = %d; want 0", len(live))
		}
		unit, _ := app.equip.Get(ctx, "1")
		if unit.InUse {
			t.Error("Reconcile() should free equipment")
		}
	})

	t.Run("pending purge archives are resumed", func(t *testing.T) {
		app := setup(t)

		rec := session.Record{
			ID: "r1", SessionID: "s1", Kind: session.KindRegular,
			StudentID: "12345678", FirstName: "Ada", LastName: "Lovelace",
			EquipmentID: "1", CheckedInAt: time.Now().UTC(),
		}
		if err := app.sessRepo.CreateRecord(ctx, rec); err != nil {
			t.Fatalf("CreateRecord() failed: %v", err)
		}
		arc := session.Archive{
			ID: "s1", Kind: session.KindRegular, SubjectName: "OS", Date: "2026-08-31",
			StartTime: time.Now().UTC(), EndTime: time.Now().UTC(),
			TotalAttendance: 1, Students: []session.Record{rec}, PendingPurge: true,
		}
		if err := app.sessRepo.SaveArchive(ctx, arc); err != nil {
			t.Fatalf("SaveArchive() failed: %v", err)
		}

		report, err := app.sessions.Reconcile(ctx, session.KindRegular, "system", false)
		if err != nil {
			t.Fatalf("Reconcile() failed: %v", err)
		}
		if report.ResumedArchives != 1 {
			t.Errorf("resumed %d archives; want 1", report.ResumedArchives)
		}

		stored, err := app.sessions.GetArchive(ctx, "s1")
		if err != nil {
			t.Fatalf("GetArchive() failed: %v", err)
		}
		if stored.PendingPurge {
			t.Error("pending purge flag should be cleared")
		}
		if len(stored.Students) != 1 {
			t.Errorf("archive lost its records: %d; want 1", len(stored.Students))
		}
		live, _ := app.sessions.Attendance(ctx, session.KindRegular)
		if len(live) != 0 {
			t.Errorf("live log len = %d; want 0", len(live))
		}
	})

	t.Run("force repairs an inconsistent active state", func(t *testing.T) {
		app := setup(t)

		broken := session.State{
			Kind: session.KindRegular, SessionID: "s-broken", Active: true,
			// practice, teacher and start time all missing
		}
		if err := app.sessRepo.SaveState(ctx, broken); err != nil {
			t.Fatalf("SaveState() failed: %v", err)
		}

		// without force the state stays untouched
		if _, err := app.sessions.Reconcile(ctx, session.KindRegular, "system", false); err != nil {
			t.Fatalf("Reconcile() failed: %v", err)
		}
		st, _ := app.sessions.Active(ctx, session.KindRegular)
		if !st.Active {
			t.Fatal("non-forced Reconcile() must not repair state")
		}

		report, err := app.sessions.Reconcile(ctx, session.KindRegular, "system", true)
		if err != nil {
			t.Fatalf("Reconcile(force) failed: %v", err)
		}
		if !report.Repaired {
			t.Error("Reconcile(force) should report the repair")
		}
		st, _ = app.sessions.Active(ctx, session.KindRegular)
		if st.Active {
			t.Error("repaired state should be inactive")
		}
		if !st.AutoRepaired {
			t.Error("repaired state should be flagged auto-repaired")
		}
		if st.EndTime.IsZero() {
			t.Error("repaired state should carry an end time")
		}
	})

	t.Run("kinds are isolated", func(t *testing.T) {
		app := setup(t)

		rec := session.Record{
			ID: "g1", SessionID: "dead", Kind: session.KindGuest,
			StudentID: "12345678", EquipmentID: "1", CheckedInAt: time.Now().UTC(),
		}
		if err := app.sessRepo.CreateRecord(ctx, rec); err != nil {
			t.Fatalf("CreateRecord() failed: %v", err)
		}

		report, err := app.sessions.Reconcile(ctx, session.KindRegular, "system", false)
		if err != nil {
			t.Fatalf("Reconcile() failed: %v", err)
		}
		if report.PurgedRecords != 0 {
			t.Errorf("regular reconcile purged %d guest records; want 0", report.PurgedRecords)
		}
		live, _ := app.sessions.Attendance(ctx, session.KindGuest)
		if len(live) != 1 {
			t.Errorf("guest live log len = %d; want 1", len(live))
		}
	})
}

func Test_sessionService_Watch(t *testing.T) {
	app := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	std := createStudent(t, app, "12345678", "Ada", "Lovelace")
	if _, err := app.equip.ReplaceRoster(ctx, 1); err != nil {
		t.Fatalf("ReplaceRoster() failed: %v", err)
	}
	startSession(t, app, session.KindRegular)

	ch, err := app.sessions.Watch(ctx, session.KindRegular)
	if err != nil {
		t.Fatalf("Watch() failed: %v", err)
	}
	// initial empty snapshot
	select {
	case recs := <-ch:
		if len(recs) != 0 {
			t.Errorf("initial snapshot len = %d; want 0", len(recs))
		}
	case <-time.After(time.Second):
		t.Fatal("no initial snapshot")
	}

	if _, err := app.sessions.CheckIn(ctx, session.KindRegular, session.CheckIn{StudentID: std.ID, EquipmentID: "1"}); err != nil {
		t.Fatalf("CheckIn() failed: %v", err)
	}

	deadline := time.After(time.Second)
	for {
		select {
		case recs := <-ch:
			if len(recs) == 1 && recs[0].StudentID == std.ID {
				return
			}
		case <-deadline:
			t.Fatal("never observed the check-in on the watch channel")
		}
	}
}
