package rawsql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/charmntreats/addressvault/internal/domain"
	"github.com/charmntreats/addressvault/internal/repository"
	"github.com/charmntreats/addressvault/pkg/database"
	apperrors "github.com/charmntreats/addressvault/pkg/errors"
)

// TierName identifies this store in errors, logs and metrics.
const TierName = "secondary"

const defaultConnectTimeout = 5 * time.Second

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// AddressRepository implements repository.AddressStore on PostgreSQL through
// database/sql and lib/pq, an independent driver stack from the primary tier.
// The connection is opened on first use, so a driver or network failure at
// startup surfaces as a transport error on the first call instead of
// preventing the process from starting.
type AddressRepository struct {
	dsn    string
	openDB sqlOpenFunc
	now    func() time.Time

	mu sync.Mutex
	db *sql.DB
}

var _ repository.AddressStore = (*AddressRepository)(nil)

// NewAddressRepository creates a lazily connected repository.
func NewAddressRepository(dsn string) (*AddressRepository, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("secondary tier dsn is empty")
	}
	return &AddressRepository{
		dsn:    dsn,
		openDB: sql.Open,
		now:    func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}, nil
}

// ensureReady opens and pings the database once. A failed attempt is not
// remembered; the next call tries again.
func (r *AddressRepository) ensureReady(ctx context.Context) (*sql.DB, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.db != nil {
		return r.db, nil
	}

	db, err := r.openDB("postgres", r.dsn)
	if err != nil {
		return nil, apperrors.Unavailable(TierName, fmt.Errorf("open: %w", err))
	}
	pingCtx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fail("ping", err)
	}
	db.SetMaxOpenConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)
	r.db = db
	return db, nil
}

// Ping checks connectivity for the readiness endpoint.
func (r *AddressRepository) Ping(ctx context.Context) error {
	db, err := r.ensureReady(ctx)
	if err != nil {
		return err
	}
	return db.PingContext(ctx)
}

// Stats exposes connection pool statistics. It is zero until the first
// successful connection.
func (r *AddressRepository) Stats() sql.DBStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.db == nil {
		return sql.DBStats{}
	}
	return r.db.Stats()
}

func (r *AddressRepository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	return err
}

// fail maps a lib/pq error onto the tier error model. A statement the server
// refused is a conflict, not an outage.
func fail(op string, err error) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) || errors.Is(err, context.Canceled) {
		return err
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && database.IsRejectionCode(string(pqErr.Code)) {
		return apperrors.Rejected(TierName, fmt.Errorf("%s: %w", op, err))
	}
	return apperrors.Unavailable(TierName, fmt.Errorf("%s: %w", op, err))
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func exec(ctx context.Context, db execer, op, query string) (int64, error) {
	ctx, done := database.TraceQuery(ctx, op, query)
	res, err := db.ExecContext(ctx, query)
	done(err)
	if err != nil {
		return 0, fail(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fail(op, err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAddress(row rowScanner) (domain.Address, error) {
	var (
		a    domain.Address
		kind string
	)
	err := row.Scan(&a.ID, &a.OwnerID, &kind, &a.RecipientName, &a.Street, &a.City,
		&a.Region, &a.PostalCode, &a.Phone, &a.IsDefault, &a.CreatedAt, &a.UpdatedAt)
	a.Kind = domain.Kind(kind)
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return a, err
}

func (r *AddressRepository) inTx(ctx context.Context, owners []string, fn func(tx *sql.Tx) error) error {
	db, err := r.ensureReady(ctx)
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fail("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, owner := range owners {
		if _, err := exec(ctx, tx, "lock_owner", lockOwnerQuery(owner)); err != nil {
			return err
		}
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fail("commit transaction", err)
	}
	return nil
}

func (r *AddressRepository) List(ctx context.Context, ownerID string) ([]domain.Address, error) {
	db, err := r.ensureReady(ctx)
	if err != nil {
		return nil, err
	}
	query := listQuery(ownerID)
	ctx, done := database.TraceQuery(ctx, "list_addresses", query)
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		done(err)
		return nil, fail("list addresses", err)
	}
	defer rows.Close()

	addresses := []domain.Address{}
	for rows.Next() {
		a, err := scanAddress(rows)
		if err != nil {
			done(err)
			return nil, fail("scan address row", err)
		}
		addresses = append(addresses, a)
	}
	err = rows.Err()
	done(err)
	if err != nil {
		return nil, fail("iterate address rows", err)
	}
	return addresses, nil
}

func (r *AddressRepository) Add(ctx context.Context, addr domain.Address) (*domain.Address, error) {
	now := r.now()
	addr.ID = domain.NewID()
	addr.CreatedAt = now
	addr.UpdatedAt = now

	err := r.inTx(ctx, []string{addr.OwnerID}, func(tx *sql.Tx) error {
		var count int
		query := countQuery(addr.OwnerID)
		qctx, done := database.TraceQuery(ctx, "count_addresses", query)
		err := tx.QueryRowContext(qctx, query).Scan(&count)
		done(err)
		if err != nil {
			return fail("count addresses", err)
		}
		if count == 0 {
			addr.IsDefault = true
		}
		if addr.IsDefault {
			if _, err := exec(ctx, tx, "clear_defaults", clearDefaultsQuery(addr.OwnerID, addr.ID, now)); err != nil {
				return err
			}
		}
		_, err = exec(ctx, tx, "insert_address", insertQuery(addr))
		return err
	})
	if err != nil {
		return nil, err
	}
	return &addr, nil
}

// Update locks the owner before the row, like every other writer that can
// move the default.
func (r *AddressRepository) Update(ctx context.Context, id string, patch domain.AddressPatch) (*domain.Address, error) {
	db, err := r.ensureReady(ctx)
	if err != nil {
		return nil, err
	}
	query := ownerQuery(id)
	qctx, done := database.TraceQuery(ctx, "get_address_owner", query)
	var owner string
	err = db.QueryRowContext(qctx, query).Scan(&owner)
	done(err)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("address", id)
		}
		return nil, fail("get address owner", err)
	}

	var updated domain.Address
	err = r.inTx(ctx, []string{owner}, func(tx *sql.Tx) error {
		query := selectForUpdateQuery(id, owner)
		qctx, done := database.TraceQuery(ctx, "lock_address", query)
		a, err := scanAddress(tx.QueryRowContext(qctx, query))
		done(err)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperrors.NotFound("address", id)
			}
			return fail("get address", err)
		}

		now := r.now()
		patch.Apply(&a)
		a.UpdatedAt = now

		if patch.SetsDefault() {
			if _, err := exec(ctx, tx, "clear_defaults", clearDefaultsQuery(a.OwnerID, a.ID, now)); err != nil {
				return err
			}
		}
		n, err := exec(ctx, tx, "update_address", updateQuery(a))
		if err != nil {
			return err
		}
		if n == 0 {
			return apperrors.NotFound("address", id)
		}
		updated = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (r *AddressRepository) Delete(ctx context.Context, id string) error {
	db, err := r.ensureReady(ctx)
	if err != nil {
		return err
	}
	n, err := exec(ctx, db, "delete_address", deleteQuery(id))
	if err != nil {
		return err
	}
	if n == 0 {
		return apperrors.NotFound("address", id)
	}
	return nil
}

func (r *AddressRepository) SetDefault(ctx context.Context, id, ownerID string) error {
	return r.inTx(ctx, []string{ownerID}, func(tx *sql.Tx) error {
		n, err := exec(ctx, tx, "set_default", setDefaultQuery(id, ownerID, r.now()))
		if err != nil {
			return err
		}
		if n == 0 {
			return apperrors.NotFound("address", id)
		}
		return nil
	})
}

func (r *AddressRepository) GetDefault(ctx context.Context, ownerID string) (*domain.Address, error) {
	db, err := r.ensureReady(ctx)
	if err != nil {
		return nil, err
	}
	query := getDefaultQuery(ownerID)
	qctx, done := database.TraceQuery(ctx, "get_default_address", query)
	a, err := scanAddress(db.QueryRowContext(qctx, query))
	done(err)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fail("get default address", err)
	}
	return &a, nil
}

func (r *AddressRepository) Import(ctx context.Context, addrs []domain.Address) error {
	batch, defaults := repository.NormalizeImport(addrs)
	if len(batch) == 0 {
		return nil
	}
	now := r.now()

	owners := make([]string, 0, len(batch))
	seen := make(map[string]bool, len(batch))
	for _, a := range batch {
		if !seen[a.OwnerID] {
			seen[a.OwnerID] = true
			owners = append(owners, a.OwnerID)
		}
	}
	sort.Strings(owners)

	return r.inTx(ctx, owners, func(tx *sql.Tx) error {
		for _, owner := range owners {
			keep, ok := defaults[owner]
			if !ok {
				continue
			}
			if _, err := exec(ctx, tx, "clear_defaults", clearDefaultsQuery(owner, keep, now)); err != nil {
				return err
			}
		}
		for _, a := range batch {
			created := a.CreatedAt
			if created.IsZero() {
				created = now
			}
			if _, err := exec(ctx, tx, "upsert_address", upsertQuery(a, created, now)); err != nil {
				return err
			}
		}
		return nil
	})
}
