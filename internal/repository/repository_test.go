package repository

import (
	"testing"
)

func TestDefaultPagination(t *testing.T) {
	opts := DefaultPagination()

	if opts.Limit != 50 {
		t.Errorf("DefaultPagination().Limit = %d, want 50", opts.Limit)
	}

	if opts.Offset != 0 {
		t.Errorf("DefaultPagination().Offset = %d, want 0", opts.Offset)
	}
}

func TestPaginationOptions_Normalize(t *testing.T) {
	tests := []struct {
		name string
		in   PaginationOptions
		want PaginationOptions
	}{
		{"zero limit uses default", PaginationOptions{}, PaginationOptions{Limit: 50}},
		{"limit capped", PaginationOptions{Limit: 500, Offset: 3}, PaginationOptions{Limit: 100, Offset: 3}},
		{"negative offset", PaginationOptions{Limit: 10, Offset: -4}, PaginationOptions{Limit: 10}},
		{"in range", PaginationOptions{Limit: 20, Offset: 40}, PaginationOptions{Limit: 20, Offset: 40}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.in.Normalize(); got != tt.want {
				t.Errorf("Normalize() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestErrorVariables(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{"ErrNotFound", ErrNotFound, "entity not found"},
		{"ErrDuplicateKey", ErrDuplicateKey, "duplicate key"},
		{"ErrConcurrentModification", ErrConcurrentModification, "concurrent modification detected"},
		{"ErrInvalidInput", ErrInvalidInput, "invalid input"},
		{"ErrNilDatabase", ErrNilDatabase, "nil database connection"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Error() != tt.wantMsg {
				t.Errorf("%s.Error() = %q, want %q", tt.name, tt.err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestRepositories_Close(t *testing.T) {
	called := false
	repos := &Repositories{Cleanup: func() { called = true }}
	repos.Close()
	if !called {
		t.Error("Close() should run Cleanup")
	}

	var nilRepos *Repositories
	nilRepos.Close() // must not panic
	(&Repositories{}).Close()
}
