// Package repository defines interfaces for data access operations.
// This package provides abstractions for database operations, allowing
// different backend implementations (SQLite, PostgreSQL) to be swapped
// without changing application code.
//
// Status transitions on upload records are conditional on the prior status,
// so two writers racing for the same record produce exactly one winner.
package repository

import (
	"errors"
)

// Common errors returned by repository operations.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicateKey is returned when an insert violates a uniqueness constraint.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrConcurrentModification is returned when a conditional update finds
	// the record in a different state than expected.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNilDatabase is returned when a nil database connection is provided.
	ErrNilDatabase = errors.New("nil database connection")
)

// DatabaseType identifies the backend behind a Repositories set.
type DatabaseType string

const (
	DatabaseTypeSQLite     DatabaseType = "sqlite"
	DatabaseTypePostgreSQL DatabaseType = "postgresql"
)

// PaginationOptions provides common pagination parameters.
type PaginationOptions struct {
	Limit  int
	Offset int
}

// DefaultPagination returns default pagination options (limit 50, offset 0).
func DefaultPagination() PaginationOptions {
	return PaginationOptions{
		Limit:  50,
		Offset: 0,
	}
}

// Normalize clamps the options into a valid range.
func (p PaginationOptions) Normalize() PaginationOptions {
	if p.Limit <= 0 {
		p.Limit = DefaultPagination().Limit
	}
	if p.Limit > 100 {
		p.Limit = 100
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}
