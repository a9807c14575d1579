package tests

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"

	echoapi "github.com/labtrack/labtrack/apps/api/echo"
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

var errMissingToken = httpErr{Error: "missing or malformed jwt"}

type testApp struct {
	app echoapi.Server

	usrRepo  user.Repository
	users    *user.Service
	students *student.Service
	subjects *subject.Service
	equip    *equipment.Service
	sessions *session.Service
	audits   *audit.Service
}

func setup(t *testing.T) *testApp {
	t.Helper()

	core.Conf.Debug = false
	core.Conf.TestMode = true

	store := inmem.NewStore()
	t.Cleanup(func() { _ = store.Close() })
	logger := core.StdLogger{Std: log.New(io.Discard, "", 0)}

	usrRepo := docstore.NewUserRepository(store)
	usrSvc := user.NewService(usrRepo)
	stdSvc := student.NewService(docstore.NewStudentRepository(store))
	subSvc := subject.NewService(docstore.NewSubjectRepository(store))
	eqSvc := equipment.NewService(docstore.NewEquipmentRepository(store))
	auditSvc := audit.NewService(docstore.NewAuditRepository(store))
	sessSvc := session.NewService(
		docstore.NewSessionRepository(store),
		stdSvc, subSvc, eqSvc, usrSvc, auditSvc, nil /* mailSvc */, logger,
	)

	app := echoapi.NewServer(&echoapi.Options{
		DisableReqLogs: true,
		Logger:         logger,
		SignalShutdown: func() {},
		UserSvc:        usrSvc,
		StudentSvc:     stdSvc,
		SubjectSvc:     subSvc,
		EquipmentSvc:   eqSvc,
		SessionSvc:     sessSvc,
		AuditSvc:       auditSvc,
	})

	return &testApp{
		app:      app,
		usrRepo:  usrRepo,
		users:    usrSvc,
		students: stdSvc,
		subjects: subSvc,
		equip:    eqSvc,
		sessions: sessSvc,
		audits:   auditSvc,
	}
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

func getToken(t *testing.T, usr user.User) string {
	t.Helper()

	claims := echoapi.GetUserClaims(usr)
	token, err := echoapi.GenerateToken(claims)
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	t.Helper()

	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj() failed: %v", err)
	}
	return data
}

func marchallList(t *testing.T, objs ...interface{}) []byte {
	t.Helper()

	if objs == nil {
		objs = []interface{}{} // marshal the no-args case as [] rather than null
	}
	data, err := json.Marshal(objs)
	if err != nil {
		t.Fatalf("marchallList() failed: %v", err)
	}
	return data
}

func jsonBytesEqual(t *testing.T, b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	if reflect.DeepEqual(j1, j2) {
		return true, nil
	}
	if j1 == nil || j2 == nil {
		return false, nil
	}
	return assert.ElementsMatch(t, j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	t.Helper()

	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(t, rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}

func runHTTPTests(t *testing.T, app *testApp, tests []httpTest) {
	t.Helper()

	for _, tt := range tests {
		if tt.method == "" {
			tt.method = http.MethodGet
		}
		if tt.wantCode == 0 {
			tt.wantCode = http.StatusOK
		}

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			app.app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}
