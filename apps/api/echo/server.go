package echoapi

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/labtrack/labtrack/core"
	"github.com/labtrack/labtrack/core/audit"
	"github.com/labtrack/labtrack/core/equipment"
	"github.com/labtrack/labtrack/core/session"
	"github.com/labtrack/labtrack/core/student"
	"github.com/labtrack/labtrack/core/subject"
	"github.com/labtrack/labtrack/core/user"
)

type (
	Options struct {
		Address        string
		DisableReqLogs bool
		Logger         core.Logger
		SignalShutdown func()

		UserSvc      *user.Service
		StudentSvc   *student.Service
		SubjectSvc   *subject.Service
		EquipmentSvc *equipment.Service
		SessionSvc   *session.Service
		AuditSvc     *audit.Service
	}

	Server interface {
		http.Handler
		Start()
		Stop(context.Context) error
	}

	server struct {
		opts *Options
		app  *echo.Echo
	}
)

var _ Server = (*server)(nil)

func NewServer(opts *Options) Server {
	s := &server{
		opts: opts,
		app:  echo.New(),
	}
	s.setup()
	return s
}

func (s *server) setup() {
	s.app.Pre(middleware.RemoveTrailingSlash())
	if !s.opts.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(core.Conf.Debug || core.Conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.opts.Logger, s.opts.SignalShutdown)
	s.app.Debug = core.Conf.Debug

	s.app.GET("/", home)

	v1 := s.app.Group("/v1")
	jwt := middleware.JWTWithConfig(appJWTConfig)

	registerUserAPI(v1, jwt, s.opts.UserSvc, s.opts.AuditSvc)
	registerStudentAPI(v1, jwt, s.opts.StudentSvc)
	registerSubjectAPI(v1, jwt, s.opts.SubjectSvc)
	registerEquipmentAPI(v1, jwt, s.opts.EquipmentSvc, s.opts.AuditSvc)
	registerSessionAPI(v1, jwt, s.opts.SessionSvc)
	registerAuditAPI(v1, jwt, s.opts.AuditSvc)
}

func (s *server) Start() {
	s.app.Logger.Fatal(s.app.Start(s.opts.Address))
}

func (s *server) Stop(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to the LabTrack API!")
}
