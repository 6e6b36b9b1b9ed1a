package postgres

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/lib/pq"

	"payments/internal/repository"
)

func TestTranslate(t *testing.T) {
	other := errors.New("connection reset")

	testCases := []struct {
		name string
		in   error
		want error
	}{
		{"nil", nil, nil},
		{"no rows", sql.ErrNoRows, repository.ErrNotFound},
		{"unique violation", &pq.Error{Code: "23505"}, repository.ErrDuplicate},
		{"other pq error", &pq.Error{Code: "23503"}, nil},
		{"passthrough", other, other},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := translate(tc.in)
			if tc.want == nil {
				if tc.in == nil && got != nil {
					t.Errorf("expected nil, got %v", got)
				}
				if tc.in != nil && (errors.Is(got, repository.ErrNotFound) || errors.Is(got, repository.ErrDuplicate)) {
					t.Errorf("expected untranslated error, got %v", got)
				}
				return
			}
			if !errors.Is(got, tc.want) {
				t.Errorf("expected %v, got %v", tc.want, got)
			}
		})
	}
}
