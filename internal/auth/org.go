package auth

import (
	"context"
	"database/sql"
	"errors"

	orgrepo "coldchain-cloud/internal/org/infrastructure/postgres"
)

var (
	// ErrOrganizationMismatch indicates the resource belongs to a
	// different organization.
	ErrOrganizationMismatch = errors.New("organization mismatch")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("resource not found")
)

// UnitOrganizationChecker validates unit ownership.
type UnitOrganizationChecker interface {
	EnsureUnitOrganization(ctx context.Context, organizationID, unitID string) error
}

// UnitChecker checks unit ownership against the organizational store.
type UnitChecker struct {
	repo *orgrepo.UnitRepository
}

// NewUnitChecker constructs a UnitChecker.
func NewUnitChecker(db *sql.DB) *UnitChecker {
	if db == nil {
		return nil
	}
	return &UnitChecker{repo: orgrepo.NewUnitRepository(db)}
}

// EnsureUnitOrganization verifies the unit belongs to the organization.
func (c *UnitChecker) EnsureUnitOrganization(ctx context.Context, organizationID, unitID string) error {
	if c == nil || c.repo == nil {
		return nil
	}
	if organizationID == "" || unitID == "" {
		return nil
	}
	unit, err := c.repo.Get(ctx, unitID)
	if err != nil {
		return err
	}
	if unit == nil {
		return ErrNotFound
	}
	if unit.OrganizationID != organizationID {
		return ErrOrganizationMismatch
	}
	return nil
}
