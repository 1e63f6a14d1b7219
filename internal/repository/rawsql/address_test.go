package rawsql

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/charmntreats/addressvault/pkg/errors"
)

func TestNewAddressRepository_RequiresDSN(t *testing.T) {
	_, err := NewAddressRepository("  ")
	assert.Error(t, err)
}

func TestAddressRepository_OpenFailureIsTransport(t *testing.T) {
	repo, err := NewAddressRepository("postgres://example/db")
	require.NoError(t, err)
	repo.openDB = func(string, string) (*sql.DB, error) {
		return nil, errors.New("unknown driver")
	}

	_, err = repo.List(context.Background(), "owner-1")
	require.Error(t, err)
	assert.True(t, apperrors.IsTransport(err))
	assert.Equal(t, sql.DBStats{}, repo.Stats())
}

func TestAddressRepository_UnreachableIsTransport(t *testing.T) {
	repo, err := NewAddressRepository("postgres://u:p@127.0.0.1:1/addresses?sslmode=disable&connect_timeout=1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	err = repo.Delete(ctx, "addr-1")
	require.Error(t, err)
	assert.True(t, apperrors.IsTransport(err))
	assert.False(t, apperrors.IsNotFound(err))

	// A failed connection attempt is retried on the next call.
	calls := 0
	repo.openDB = func(driver, dsn string) (*sql.DB, error) {
		calls++
		return sql.Open(driver, dsn)
	}
	_, err = repo.GetDefault(ctx, "owner-1")
	assert.True(t, apperrors.IsTransport(err))
	assert.Equal(t, 1, calls)
}

func TestAddressRepository_CloseWithoutConnection(t *testing.T) {
	repo, err := NewAddressRepository("postgres://example/db")
	require.NoError(t, err)
	assert.NoError(t, repo.Close())
}

func TestFail_ServerRejectionIsConflict(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transport bool
		conflict  bool
	}{
		{"exclusion", &pq.Error{Code: "23P01", Constraint: "addresses_one_default_per_owner"}, false, true},
		{"unique", &pq.Error{Code: "23505"}, false, true},
		{"serialization", &pq.Error{Code: "40001"}, false, true},
		{"admin shutdown", &pq.Error{Code: "57P01"}, true, false},
		{"bad connection", errors.New("driver: bad connection"), true, false},
		{"canceled", context.Canceled, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := fail("commit transaction", tt.err)
			assert.Equal(t, tt.transport, apperrors.IsTransport(err))
			assert.Equal(t, tt.conflict, errors.Is(err, apperrors.ErrConflict))
			if tt.conflict {
				assert.Equal(t, http.StatusConflict, apperrors.HTTPStatus(err))
			}
		})
	}
}
