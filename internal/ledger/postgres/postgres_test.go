package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/joao-fontenele/retailcore/internal/ledger"
)

func TestClassify(t *testing.T) {
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name   string
		parent context.Context
		err    error
		want   error
	}{
		{"unique violation", context.Background(), &pq.Error{Code: "23505"}, ledger.ErrConflict},
		{"serialization failure", context.Background(), &pq.Error{Code: "40001"}, ledger.ErrTransient},
		{"deadlock", context.Background(), &pq.Error{Code: "40P01"}, ledger.ErrTransient},
		{"lock timeout", context.Background(), &pq.Error{Code: "55P03"}, ledger.ErrTransient},
		{"connection failure", context.Background(), &pq.Error{Code: "08006"}, ledger.ErrTransient},
		{"bad conn", context.Background(), driver.ErrBadConn, ledger.ErrTransient},
		{"tx deadline", context.Background(), context.DeadlineExceeded, ledger.ErrTransient},
		{"already classified", context.Background(), fmt.Errorf("order: %w", ledger.ErrNotFound), ledger.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, classify(tt.parent, tt.err), tt.want)
		})
	}

	t.Run("check violation passes through", func(t *testing.T) {
		err := classify(context.Background(), &pq.Error{Code: "23514"})
		assert.False(t, ledger.IsTransient(err))
		assert.NotErrorIs(t, err, ledger.ErrConflict)
	})

	t.Run("caller gave up", func(t *testing.T) {
		err := classify(cancelled, context.DeadlineExceeded)
		assert.False(t, ledger.IsTransient(err))
	})

	t.Run("business error passes through", func(t *testing.T) {
		business := errors.New("insufficient stock")
		assert.Same(t, business, classify(context.Background(), business))
	})

	assert.NoError(t, classify(context.Background(), nil))
}
