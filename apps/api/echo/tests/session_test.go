package tests

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/labtrack/labtrack/core/session"
	"github.com/labtrack/labtrack/core/student"
	"github.com/labtrack/labtrack/core/subject"
	"github.com/labtrack/labtrack/core/user"
	testutil "github.com/labtrack/labtrack/tests"
)

type sessionFixture struct {
	app *testApp

	teacher user.User
	prac    subject.Practice
	std1    student.Student
	std2    student.Student

	teacherToken string
	techToken    string
	adminToken   string
}

func setupSession(t *testing.T) *sessionFixture {
	t.Helper()

	app := setup(t)
	ctx := context.Background()

	f := &sessionFixture{app: app}
	f.teacher = testutil.CreateUser(t, app.usrRepo, "Grace", "Hopper", "ghopper", "ghopper@test.lab",
		"", []string{user.RoleTeacher}, true)
	tech := testutil.CreateUser(t, app.usrRepo, "Mary", "Jackson", "mjackson", "mjackson@test.lab",
		"", []string{user.RoleTech}, true)
	admin := testutil.CreateUser(t, app.usrRepo, "Ada", "Root", "root", "root@test.lab",
		"", []string{user.RoleAdmin}, true)
	f.teacherToken = getToken(t, f.teacher)
	f.techToken = getToken(t, tech)
	f.adminToken = getToken(t, admin)

	sub, err := app.subjects.Create(ctx, subject.NewSubject{Name: "Operating Systems"})
	if err != nil {
		t.Fatalf("subjects.Create() failed: %v", err)
	}
	f.prac, err = app.subjects.AddPractice(ctx, sub.ID, subject.NewPractice{Number: 3, Title: "Process Scheduling"})
	if err != nil {
		t.Fatalf("subjects.AddPractice() failed: %v", err)
	}

	if _, err = app.equip.ReplaceRoster(ctx, 3); err != nil {
		t.Fatalf("equip.ReplaceRoster() failed: %v", err)
	}

	newStd := func(id, first, last string) student.Student {
		std, err := app.students.Create(ctx, student.NewStudent{
			ID: id, FirstName: first, LastName: last,
			Career: "Computer Systems", Group: "3A", Semester: "3", Shift: "morning",
		})
		if err != nil {
			t.Fatalf("students.Create() failed: %v", err)
		}
		return std
	}
	f.std1 = newStd("12345678", "Ada", "Lovelace")
	f.std2 = newStd("87654321", "Alan", "Turing")

	return f
}

func Test_sessionApi_guards(t *testing.T) {
	f := setupSession(t)

	startBody := marchallObj(t, session.StartSession{PracticeID: f.prac.ID})
	checkInBody := marchallObj(t, session.CheckIn{StudentID: f.std1.ID, EquipmentID: "1"})

	tests := []httpTest{
		{
			name: "unknown kind", path: "/v1/sessions/lol",
			wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "not found"}),
		},
		{
			name: "start: auth required", method: http.MethodPost, path: "/v1/sessions/regular/start", body: startBody,
			wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken),
		},
		{
			name: "start: teacher required", method: http.MethodPost, path: "/v1/sessions/regular/start", body: startBody,
			token: f.techToken, wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name: "start: practice required", method: http.MethodPost, path: "/v1/sessions/regular/start",
			body: []byte("{}"), token: f.teacherToken, wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"practice_id": "this field is required"}),
		},
		{
			name: "start: unknown practice", method: http.MethodPost, path: "/v1/sessions/regular/start",
			body:  marchallObj(t, session.StartSession{PracticeID: "lol"}),
			token: f.teacherToken, wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"practice_id": "practice not found"}),
		},
		{
			name: "checkin: no open session", method: http.MethodPost, path: "/v1/sessions/regular/checkin", body: checkInBody,
			wantCode: http.StatusConflict, wantData: marchallObj(t, httpErr{Error: "no session is active"}),
		},
		{
			name: "stop: no open session", method: http.MethodPost, path: "/v1/sessions/regular/stop",
			token: f.teacherToken, wantCode: http.StatusConflict, wantData: marchallObj(t, httpErr{Error: "no session is active"}),
		},
		{
			name: "reconcile: admin required", method: http.MethodPost, path: "/v1/sessions/regular/reconcile",
			token: f.teacherToken, wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name: "archives: auth required", path: "/v1/archives",
			wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken),
		},
		{
			name: "archives: unknown id", path: "/v1/archives/lol", token: f.techToken,
			wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "archived session not found"}),
		},
	}
	runHTTPTests(t, f.app, tests)
}

func Test_sessionApi_lifecycle(t *testing.T) {
	f := setupSession(t)
	app := f.app

	do := func(t *testing.T, method, path, token string, body []byte, wantCode int) []byte {
		t.Helper()
		req, rec := newAuthRequest(method, path, token, body)
		app.app.ServeHTTP(rec, req)
		if rec.Code != wantCode {
			t.Fatalf("%s %s: code = %v; want %v; body = %s", method, path, rec.Code, wantCode, rec.Body.String())
		}
		return rec.Body.Bytes()
	}

	// the kiosk sees an idle session
	var st session.State
	if err := json.Unmarshal(do(t, http.MethodGet, "/v1/sessions/regular", "", nil, http.StatusOK), &st); err != nil {
		t.Fatal(err)
	}
	if st.Active {
		t.Error("expected no active session")
	}

	// the teacher opens the class
	startBody := marchallObj(t, session.StartSession{PracticeID: f.prac.ID})
	if err := json.Unmarshal(do(t, http.MethodPost, "/v1/sessions/regular/start", f.teacherToken, startBody, http.StatusCreated), &st); err != nil {
		t.Fatal(err)
	}
	if !st.Active || st.SubjectName != "Operating Systems" || st.TeacherID != f.teacher.ID {
		t.Errorf("unexpected session state: %+v", st)
	}

	// only one open session per kind; the guest flow is unaffected
	do(t, http.MethodPost, "/v1/sessions/regular/start", f.teacherToken, startBody, http.StatusConflict)
	var guestSt session.State
	if err := json.Unmarshal(do(t, http.MethodGet, "/v1/sessions/guest", "", nil, http.StatusOK), &guestSt); err != nil {
		t.Fatal(err)
	}
	if guestSt.Active {
		t.Error("expected no active guest session")
	}

	// students check in from the kiosk, un-authed
	checkIn := func(stdID, eqID string) []byte {
		return marchallObj(t, session.CheckIn{StudentID: stdID, EquipmentID: eqID})
	}
	var rec session.Record
	if err := json.Unmarshal(do(t, http.MethodPost, "/v1/sessions/regular/checkin", "", checkIn(f.std1.ID, "2"), http.StatusCreated), &rec); err != nil {
		t.Fatal(err)
	}
	if rec.SessionID != st.SessionID || rec.FirstName != "Ada" || rec.Career != "Computer Systems" {
		t.Errorf("unexpected record: %+v", rec)
	}

	dupBody := do(t, http.MethodPost, "/v1/sessions/regular/checkin", "", checkIn(f.std1.ID, "3"), http.StatusBadRequest)
	if ok, _ := jsonBytesEqual(t, dupBody, marchallObj(t, map[string]string{"student_id": "student already checked in to this session"})); !ok {
		t.Errorf("unexpected duplicate check-in error: %s", dupBody)
	}
	occBody := do(t, http.MethodPost, "/v1/sessions/regular/checkin", "", checkIn(f.std2.ID, "2"), http.StatusBadRequest)
	if ok, _ := jsonBytesEqual(t, occBody, marchallObj(t, map[string]string{"equipment_id": "equipment unit is already occupied"})); !ok {
		t.Errorf("unexpected occupied-unit error: %s", occBody)
	}

	var live []session.Record
	if err := json.Unmarshal(do(t, http.MethodGet, "/v1/sessions/regular/attendance", "", nil, http.StatusOK), &live); err != nil {
		t.Fatal(err)
	}
	if len(live) != 1 {
		t.Fatalf("expected 1 live record, got %d", len(live))
	}

	// the teacher strikes the record; the unit is freed for re-use
	do(t, http.MethodDelete, "/v1/sessions/regular/attendance/"+rec.ID, f.teacherToken, nil, http.StatusNoContent)
	do(t, http.MethodDelete, "/v1/sessions/regular/attendance/"+rec.ID, f.teacherToken, nil, http.StatusNotFound)
	do(t, http.MethodPost, "/v1/sessions/regular/checkin", "", checkIn(f.std2.ID, "2"), http.StatusCreated)

	// closing the session archives the snapshot
	var arc session.Archive
	if err := json.Unmarshal(do(t, http.MethodPost, "/v1/sessions/regular/stop", f.teacherToken, nil, http.StatusOK), &arc); err != nil {
		t.Fatal(err)
	}
	if arc.ID != st.SessionID || arc.TotalAttendance != 1 || arc.PendingPurge {
		t.Errorf("unexpected archive: %+v", arc)
	}
	if arc.PracticeTitle != "Process Scheduling" || arc.Teacher.LastName != "Hopper" {
		t.Errorf("unexpected archive header: %+v", arc)
	}

	if err := json.Unmarshal(do(t, http.MethodGet, "/v1/sessions/regular", "", nil, http.StatusOK), &st); err != nil {
		t.Fatal(err)
	}
	if st.Active {
		t.Error("expected session to be closed")
	}
	if err := json.Unmarshal(do(t, http.MethodGet, "/v1/sessions/regular/attendance", "", nil, http.StatusOK), &live); err != nil {
		t.Fatal(err)
	}
	if len(live) != 0 {
		t.Errorf("expected an empty live log, got %d records", len(live))
	}

	// history is available to staff
	var arcs []session.Archive
	if err := json.Unmarshal(do(t, http.MethodGet, "/v1/archives?kind=regular", f.techToken, nil, http.StatusOK), &arcs); err != nil {
		t.Fatal(err)
	}
	if len(arcs) != 1 || arcs[0].ID != arc.ID {
		t.Errorf("unexpected archives: %+v", arcs)
	}
	do(t, http.MethodGet, "/v1/archives/"+arc.ID, f.techToken, nil, http.StatusOK)

	// the CSV report
	req, rr := newAuthRequest(http.MethodGet, "/v1/archives/"+arc.ID+"/report", f.techToken)
	app.app.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("report: code = %v; body = %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get(echo.HeaderContentType); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("report Content-Type = %s", ct)
	}
	if cd := rr.Header().Get(echo.HeaderContentDisposition); !strings.Contains(cd, "attendance-"+arc.Date+".csv") {
		t.Errorf("report Content-Disposition = %s", cd)
	}
	lines := strings.Split(strings.TrimSpace(rr.Body.String()), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "matric,") {
		t.Errorf("unexpected report body: %s", rr.Body.String())
	}

	// nothing left for reconciliation to do
	var report session.ReconcileReport
	if err := json.Unmarshal(do(t, http.MethodPost, "/v1/sessions/regular/reconcile", f.adminToken, nil, http.StatusOK), &report); err != nil {
		t.Fatal(err)
	}
	if report.Skipped || report.Repaired || report.ResumedArchives != 0 || report.PurgedRecords != 0 {
		t.Errorf("unexpected reconcile report: %+v", report)
	}
}
