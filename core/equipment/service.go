package equipment

import (
	"context"
	"errors"
	"strconv"

	"github.com/labtrack/labtrack/core"
)

var (
	ErrUnitNotFound = errors.New("equipment unit not found")

	errInvalidCount = errors.New("count must be a positive integer")
)

// Unit is a single lab workstation. OutOfService is a maintenance flag
// toggled by technicians; InUse is transient and tied to the open
// session, cleared wholesale when the session closes.
type Unit struct {
	ID           string `json:"id"`
	OutOfService bool   `json:"out_of_service"`
	InUse        bool   `json:"in_use"`
}

type (
	// Repository persists one document per unit; ReplaceUnits and
	// SaveUnits are atomic batches.
	Repository interface {
		GetUnit(ctx context.Context, id string) (Unit, error)
		ListUnits(ctx context.Context) ([]Unit, error)
		SaveUnit(ctx context.Context, unit Unit) error
		SaveUnits(ctx context.Context, units []Unit) error
		ReplaceUnits(ctx context.Context, units []Unit) error
	}

	Service struct {
		repo Repository
	}
)

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (svc *Service) List(ctx context.Context) ([]Unit, error) {
	return svc.repo.ListUnits(ctx)
}

func (svc *Service) Get(ctx context.Context, id string) (Unit, error) {
	return svc.repo.GetUnit(ctx, id)
}

// ReplaceRoster overwrites the whole roster with `count` fresh units,
// ids "1".."count". Prior unit identities and their service flags are
// discarded.
func (svc *Service) ReplaceRoster(ctx context.Context, count int) ([]Unit, error) {
	if count <= 0 {
		return nil, core.NewValidationError(errInvalidCount, core.FieldError{Field: "count", Error: errInvalidCount.Error()})
	}

	units := make([]Unit, 0, count)
	for i := 1; i <= count; i++ {
		units = append(units, Unit{ID: strconv.Itoa(i)})
	}
	if err := svc.repo.ReplaceUnits(ctx, units); err != nil {
		return nil, err
	}
	return units, nil
}

// ToggleService flips the maintenance flag on one unit.
func (svc *Service) ToggleService(ctx context.Context, id string) (Unit, error) {
	unit, err := svc.repo.GetUnit(ctx, id)
	if err != nil {
		return Unit{}, err
	}
	unit.OutOfService = !unit.OutOfService
	if err := svc.repo.SaveUnit(ctx, unit); err != nil {
		return Unit{}, err
	}
	return unit, nil
}

// SetInUse marks a unit as occupied (or freed) by a checked-in student.
func (svc *Service) SetInUse(ctx context.Context, id string, inUse bool) error {
	unit, err := svc.repo.GetUnit(ctx, id)
	if err != nil {
		return err
	}
	if unit.InUse == inUse {
		return nil
	}
	unit.InUse = inUse
	return svc.repo.SaveUnit(ctx, unit)
}

// ResetAllToAvailable clears the transient in-use flag on every unit in
// one batch; maintenance flags are untouched.
func (svc *Service) ResetAllToAvailable(ctx context.Context) error {
	units, err := svc.repo.ListUnits(ctx)
	if err != nil {
		return err
	}
	changed := make([]Unit, 0, len(units))
	for _, u := range units {
		if u.InUse {
			u.InUse = false
			changed = append(changed, u)
		}
	}
	if len(changed) == 0 {
		return nil
	}
	return svc.repo.SaveUnits(ctx, changed)
}
