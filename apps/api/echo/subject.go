package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/labtrack/labtrack/core/subject"
	"github.com/labtrack/labtrack/core/user"
)

type subjectApi struct {
	svc *subject.Service
}

func registerSubjectAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *subject.Service) {
	api := subjectApi{svc: svc}

	sg := g.Group("/subjects", jwt, roleMiddleware(user.RoleTeacher, user.RoleTech))
	sg.GET("", api.query)
	sg.POST("", api.create, adminMiddleware())
	sg.GET("/:id", api.retrieve)
	sg.PUT("/:id", api.rename, adminMiddleware())
	sg.DELETE("/:id", api.destroy, adminMiddleware())

	sg.GET("/:id/practices", api.queryPractices)
	sg.POST("/:id/practices", api.addPractice, roleMiddleware(user.RoleTeacher))

	pg := g.Group("/practices", jwt, roleMiddleware(user.RoleTeacher, user.RoleTech))
	pg.GET("/:id", api.retrievePractice)
	pg.DELETE("/:id", api.destroyPractice, roleMiddleware(user.RoleTeacher))
}

func (api *subjectApi) query(ctx echo.Context) error {
	subs, err := api.svc.QueryAll(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "querying subjects")
	}
	if subs == nil {
		subs = []subject.Subject{}
	}
	return ctx.JSON(http.StatusOK, subs)
}

func (api *subjectApi) create(ctx echo.Context) error {
	var data subject.NewSubject
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewSubject")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	sub, err := api.svc.Create(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating subject")
	}
	return ctx.JSON(http.StatusCreated, sub)
}

func (api *subjectApi) retrieve(ctx echo.Context) error {
	sub, err := api.svc.GetByID(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, sub)
}

func (api *subjectApi) rename(ctx echo.Context) error {
	var data subject.NewSubject
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewSubject")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	sub, err := api.svc.Rename(ctx.Request().Context(), ctx.Param("id"), data.Name)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, sub)
}

func (api *subjectApi) destroy(ctx echo.Context) error {
	if _, err := api.svc.GetByID(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return err
	}
	if err := api.svc.Delete(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting subject")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *subjectApi) queryPractices(ctx echo.Context) error {
	if _, err := api.svc.GetByID(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return err
	}
	pracs, err := api.svc.QueryPractices(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "querying practices")
	}
	if pracs == nil {
		pracs = []subject.Practice{}
	}
	return ctx.JSON(http.StatusOK, pracs)
}

func (api *subjectApi) addPractice(ctx echo.Context) error {
	var data subject.NewPractice
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewPractice")
	}
	if err := data.Validate(); err != nil {
		return err
	}

	prac, err := api.svc.AddPractice(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, prac)
}

func (api *subjectApi) retrievePractice(ctx echo.Context) error {
	prac, err := api.svc.GetPractice(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, prac)
}

func (api *subjectApi) destroyPractice(ctx echo.Context) error {
	if _, err := api.svc.GetPractice(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return err
	}
	if err := api.svc.DeletePractice(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting practice")
	}
	return ctx.NoContent(http.StatusNoContent)
}
