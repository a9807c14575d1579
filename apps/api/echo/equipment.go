package echoapi

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/labtrack/labtrack/core/audit"
	"github.com/labtrack/labtrack/core/equipment"
	"github.com/labtrack/labtrack/core/user"
)

type equipmentApi struct {
	svc    *equipment.Service
	audits *audit.Service
}

func registerEquipmentAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc *equipment.Service, audits *audit.Service) {
	api := equipmentApi{svc: svc, audits: audits}

	eg := g.Group("/equipment")

	// the check-in kiosk reads availability without auth
	eg.GET("", api.query)

	// middleware is attached per-route: an empty-prefix sub-group would
	// register catch-all routes that shadow the un-authed GET above
	eg.PUT("/roster", api.replaceRoster, jwt, roleMiddleware(user.RoleTech))
	eg.POST("/:id/toggle-service", api.toggleService, jwt, roleMiddleware(user.RoleTech))
}

func (api *equipmentApi) query(ctx echo.Context) error {
	units, err := api.svc.List(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "listing equipment")
	}
	if units == nil {
		units = []equipment.Unit{}
	}
	return ctx.JSON(http.StatusOK, units)
}

func (api *equipmentApi) replaceRoster(ctx echo.Context) error {
	var data RosterRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to RosterRequest")
	}

	units, err := api.svc.ReplaceRoster(ctx.Request().Context(), data.Count)
	if err != nil {
		return err
	}

	if claims, err := getContextClaims(ctx); err == nil {
		_ = api.audits.Record(ctx.Request().Context(), audit.ActionRosterReplaced, claims.Subject,
			fmt.Sprintf("roster replaced with %d units", data.Count))
	}
	return ctx.JSON(http.StatusOK, units)
}

func (api *equipmentApi) toggleService(ctx echo.Context) error {
	unit, err := api.svc.ToggleService(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, unit)
}

type RosterRequest struct {
	Count int `json:"count"`
}
