package echoapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/labtrack/labtrack/core/session"
	"github.com/labtrack/labtrack/core/user"
)

type sessionApi struct {
	svc *session.Service
}

func registerSessionAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *session.Service) {
	api := sessionApi{svc: svc}

	sg := g.Group("/sessions/:kind")

	// the check-in kiosk runs un-authed
	sg.GET("", api.state)
	sg.POST("/checkin", api.checkIn)
	sg.GET("/attendance", api.attendance)
	sg.GET("/attendance/watch", api.watchAttendance)

	// middleware is attached per-route: an empty-prefix sub-group would
	// register catch-all routes that shadow the un-authed GET above
	sg.POST("/start", api.start, jwt, roleMiddleware(user.RoleTeacher))
	sg.POST("/stop", api.stop, jwt, roleMiddleware(user.RoleTeacher))
	sg.DELETE("/attendance/:id", api.removeRecord, jwt, roleMiddleware(user.RoleTeacher))
	sg.POST("/reconcile", api.reconcile, jwt, adminMiddleware())

	hg := g.Group("/archives", jwt, roleMiddleware(user.RoleTeacher, user.RoleTech))
	hg.GET("", api.queryArchives)
	hg.GET("/:id", api.retrieveArchive)
	hg.GET("/:id/report", api.downloadReport)
}

func bindKind(ctx echo.Context) (session.Kind, error) {
	kind, err := session.ParseKind(ctx.Param("kind"))
	if err != nil {
		return "", errHttpNotFound
	}
	return kind, nil
}

func (api *sessionApi) state(ctx echo.Context) error {
	kind, err := bindKind(ctx)
	if err != nil {
		return err
	}
	st, err := api.svc.Active(ctx.Request().Context(), kind)
	if err != nil {
		return errors.Wrap(err, "getting session state")
	}
	return ctx.JSON(http.StatusOK, st)
}

func (api *sessionApi) start(ctx echo.Context) error {
	kind, err := bindKind(ctx)
	if err != nil {
		return err
	}
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	var data session.StartSession
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to StartSession")
	}

	st, err := api.svc.Start(ctx.Request().Context(), kind, claims.Subject, data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, st)
}

func (api *sessionApi) checkIn(ctx echo.Context) error {
	kind, err := bindKind(ctx)
	if err != nil {
		return err
	}

	var data session.CheckIn
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to CheckIn")
	}

	rec, err := api.svc.CheckIn(ctx.Request().Context(), kind, data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, rec)
}

func (api *sessionApi) attendance(ctx echo.Context) error {
	kind, err := bindKind(ctx)
	if err != nil {
		return err
	}
	recs, err := api.svc.Attendance(ctx.Request().Context(), kind)
	if err != nil {
		return errors.Wrap(err, "querying attendance")
	}
	if recs == nil {
		recs = []session.Record{}
	}
	return ctx.JSON(http.StatusOK, recs)
}

// watchAttendance streams live-log snapshots as server-sent events.
func (api *sessionApi) watchAttendance(ctx echo.Context) error {
	kind, err := bindKind(ctx)
	if err != nil {
		return err
	}

	reqCtx := ctx.Request().Context()
	ch, err := api.svc.Watch(reqCtx, kind)
	if err != nil {
		return errors.Wrap(err, "subscribing to attendance")
	}

	res := ctx.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(res)
	for recs := range ch {
		if _, err := fmt.Fprint(res, "data: "); err != nil {
			return nil // client went away
		}
		if err := enc.Encode(recs); err != nil {
			return nil
		}
		_, _ = fmt.Fprint(res, "\n")
		res.Flush()
	}
	return nil
}

func (api *sessionApi) removeRecord(ctx echo.Context) error {
	kind, err := bindKind(ctx)
	if err != nil {
		return err
	}
	if err := api.svc.RemoveRecord(ctx.Request().Context(), kind, ctx.Param("id")); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *sessionApi) stop(ctx echo.Context) error {
	kind, err := bindKind(ctx)
	if err != nil {
		return err
	}
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	arc, err := api.svc.Stop(ctx.Request().Context(), kind, claims.Subject)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, arc)
}

func (api *sessionApi) reconcile(ctx echo.Context) error {
	kind, err := bindKind(ctx)
	if err != nil {
		return err
	}
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	force, _ := strconv.ParseBool(ctx.QueryParam("force"))

	report, err := api.svc.Reconcile(ctx.Request().Context(), kind, claims.Subject, force)
	if err != nil {
		return errors.Wrap(err, "reconciling session")
	}
	return ctx.JSON(http.StatusOK, report)
}

func (api *sessionApi) queryArchives(ctx echo.Context) error {
	kind := session.Kind(ctx.QueryParam("kind")) // empty means all kinds
	if kind != "" {
		var err error
		if kind, err = session.ParseKind(string(kind)); err != nil {
			return errHttpNotFound
		}
	}
	arcs, err := api.svc.Archives(ctx.Request().Context(), kind)
	if err != nil {
		return errors.Wrap(err, "querying archives")
	}
	if arcs == nil {
		arcs = []session.Archive{}
	}
	return ctx.JSON(http.StatusOK, arcs)
}

func (api *sessionApi) retrieveArchive(ctx echo.Context) error {
	arc, err := api.svc.GetArchive(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, arc)
}

// downloadReport renders an archived session as a CSV attendance sheet.
func (api *sessionApi) downloadReport(ctx echo.Context) error {
	arc, err := api.svc.GetArchive(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	buf, err := session.BuildReportCSV(arc)
	if err != nil {
		return errors.Wrap(err, "building report")
	}

	ctx.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf(`attachment; filename="attendance-%s.csv"`, arc.Date))
	return ctx.Blob(http.StatusOK, "text/csv", buf.Bytes())
}
