package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/charmntreats/addressvault/internal/domain"
	"github.com/charmntreats/addressvault/internal/repository"
	"github.com/charmntreats/addressvault/pkg/database"
	apperrors "github.com/charmntreats/addressvault/pkg/errors"
)

// TierName identifies this store in errors, logs and metrics.
const TierName = "primary"

const addressColumns = `id, owner_id, kind, recipient_name, street, city, region, postal_code, phone, is_default, created_at, updated_at`

// AddressRepository implements repository.AddressStore on PostgreSQL through
// pgx. Multi-statement operations run in a transaction holding a per-owner
// advisory lock.
type AddressRepository struct {
	pool database.DBTX
	now  func() time.Time
}

var _ repository.AddressStore = (*AddressRepository)(nil)

// NewAddressRepository creates a new PostgreSQL-backed address repository.
func NewAddressRepository(pool database.DBTX) *AddressRepository {
	return &AddressRepository{
		pool: pool,
		now:  func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAddress(row rowScanner) (domain.Address, error) {
	var (
		a    domain.Address
		kind string
	)
	err := row.Scan(
		&a.ID,
		&a.OwnerID,
		&kind,
		&a.RecipientName,
		&a.Street,
		&a.City,
		&a.Region,
		&a.PostalCode,
		&a.Phone,
		&a.IsDefault,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	a.Kind = domain.Kind(kind)
	return a, err
}

// fail maps a driver error onto the tier error model. Domain errors and
// caller cancellation pass through untouched. A statement the server refused
// is a conflict; anything else means the tier could not serve the call.
func fail(op string, err error) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) || errors.Is(err, context.Canceled) {
		return err
	}
	if database.IsRejection(err) {
		return apperrors.Rejected(TierName, fmt.Errorf("%s: %w", op, err))
	}
	return apperrors.Unavailable(TierName, fmt.Errorf("%s: %w", op, err))
}

func (r *AddressRepository) exec(ctx context.Context, db database.DBTX, op, query string, args ...any) (int64, error) {
	ctx, done := database.TraceQuery(ctx, op, query)
	ct, err := db.Exec(ctx, query, args...)
	done(err)
	if err != nil {
		return 0, fail(op, err)
	}
	return ct.RowsAffected(), nil
}

// withOwnerTx runs fn in a transaction serialized against every other
// writer for the same owners. Locks are taken in sorted order.
func (r *AddressRepository) withOwnerTx(ctx context.Context, owners []string, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fail("begin transaction", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, owner := range owners {
		if _, err := r.exec(ctx, tx, "lock_owner", `SELECT pg_advisory_xact_lock(hashtext($1))`, owner); err != nil {
			return err
		}
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fail("commit transaction", err)
	}
	return nil
}

const clearDefaultsQuery = `UPDATE addresses SET is_default = false, updated_at = $3 WHERE owner_id = $1 AND is_default AND id <> $2`

// List returns all addresses owned by ownerID.
func (r *AddressRepository) List(ctx context.Context, ownerID string) ([]domain.Address, error) {
	query := `SELECT ` + addressColumns + `
		FROM addresses
		WHERE owner_id = $1
		ORDER BY is_default DESC, updated_at DESC, id`

	ctx, done := database.TraceQuery(ctx, "list_addresses", query)
	rows, err := r.pool.Query(ctx, query, ownerID)
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

// Add inserts a new address. The owner's first address becomes the default.
func (r *AddressRepository) Add(ctx context.Context, addr domain.Address) (*domain.Address, error) {
	now := r.now()
	addr.ID = domain.NewID()
	addr.CreatedAt = now
	addr.UpdatedAt = now

	err := r.withOwnerTx(ctx, []string{addr.OwnerID}, func(tx pgx.Tx) error {
		var count int
		countQuery := `SELECT COUNT(*) FROM addresses WHERE owner_id = $1`
		qctx, done := database.TraceQuery(ctx, "count_addresses", countQuery)
		err := tx.QueryRow(qctx, countQuery, addr.OwnerID).Scan(&count)
		done(err)
		if err != nil {
			return fail("count addresses", err)
		}
		if count == 0 {
			addr.IsDefault = true
		}

		if addr.IsDefault {
			if _, err := r.exec(ctx, tx, "clear_defaults", clearDefaultsQuery, addr.OwnerID, addr.ID, now); err != nil {
				return err
			}
		}

		query := `INSERT INTO addresses (` + addressColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
		_, err = r.exec(ctx, tx, "insert_address", query,
			addr.ID,
			addr.OwnerID,
			string(addr.Kind),
			addr.RecipientName,
			addr.Street,
			addr.City,
			addr.Region,
			addr.PostalCode,
			addr.Phone,
			addr.IsDefault,
			addr.CreatedAt,
			addr.UpdatedAt,
		)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &addr, nil
}

// Update merges patch into an existing address. The owner lock is taken
// before the row lock, in the same order as SetDefault and Import.
func (r *AddressRepository) Update(ctx context.Context, id string, patch domain.AddressPatch) (*domain.Address, error) {
	ownerQuery := `SELECT owner_id FROM addresses WHERE id = $1`
	qctx, done := database.TraceQuery(ctx, "get_address_owner", ownerQuery)
	var owner string
	err := r.pool.QueryRow(qctx, ownerQuery, id).Scan(&owner)
	done(err)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("address", id)
		}
		return nil, fail("get address owner", err)
	}

	var a domain.Address
	err = r.withOwnerTx(ctx, []string{owner}, func(tx pgx.Tx) error {
		query := `SELECT ` + addressColumns + ` FROM addresses WHERE id = $1 AND owner_id = $2 FOR UPDATE`
		qctx, done := database.TraceQuery(ctx, "lock_address", query)
		var err error
		a, err = scanAddress(tx.QueryRow(qctx, query, id, owner))
		done(err)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperrors.NotFound("address", id)
			}
			return fail("get address", err)
		}

		now := r.now()
		patch.Apply(&a)
		a.UpdatedAt = now

		if patch.SetsDefault() {
			if _, err := r.exec(ctx, tx, "clear_defaults", clearDefaultsQuery, a.OwnerID, a.ID, now); err != nil {
				return err
			}
		}

		update := `UPDATE addresses
			SET kind = $1, recipient_name = $2, street = $3, city = $4, region = $5,
			    postal_code = $6, phone = $7, is_default = $8, updated_at = $9
			WHERE id = $10`
		n, err := r.exec(ctx, tx, "update_address", update,
			string(a.Kind),
			a.RecipientName,
			a.Street,
			a.City,
			a.Region,
			a.PostalCode,
			a.Phone,
			a.IsDefault,
			a.UpdatedAt,
			a.ID,
		)
		if err != nil {
			return err
		}
		if n == 0 {
			return apperrors.NotFound("address", id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Delete removes an address by id.
func (r *AddressRepository) Delete(ctx context.Context, id string) error {
	n, err := r.exec(ctx, r.pool, "delete_address", `DELETE FROM addresses WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return apperrors.NotFound("address", id)
	}
	return nil
}

// SetDefault clears the owner's other defaults and flags id, in one transaction.
func (r *AddressRepository) SetDefault(ctx context.Context, id, ownerID string) error {
	now := r.now()
	return r.withOwnerTx(ctx, []string{ownerID}, func(tx pgx.Tx) error {
		if _, err := r.exec(ctx, tx, "clear_defaults", clearDefaultsQuery, ownerID, id, now); err != nil {
			return err
		}
		n, err := r.exec(ctx, tx, "set_default",
			`UPDATE addresses SET is_default = true, updated_at = $3 WHERE id = $1 AND owner_id = $2`,
			id, ownerID, now)
		if err != nil {
			return err
		}
		if n == 0 {
			return apperrors.NotFound("address", id)
		}
		return nil
	})
}

// GetDefault returns the owner's default address or nil.
func (r *AddressRepository) GetDefault(ctx context.Context, ownerID string) (*domain.Address, error) {
	query := `SELECT ` + addressColumns + ` FROM addresses WHERE owner_id = $1 AND is_default LIMIT 1`
	qctx, done := database.TraceQuery(ctx, "get_default_address", query)
	a, err := scanAddress(r.pool.QueryRow(qctx, query, ownerID))
	done(err)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fail("get default address", err)
	}
	return &a, nil
}

// Import upserts addrs by id in a single transaction. The incoming record wins
// and its updated_at is refreshed.
func (r *AddressRepository) Import(ctx context.Context, addrs []domain.Address) error {
	batch, defaults := repository.NormalizeImport(addrs)
	if len(batch) == 0 {
		return nil
	}
	now := r.now()
	owners := batchOwners(batch)

	return r.withOwnerTx(ctx, owners, func(tx pgx.Tx) error {
		for _, owner := range owners {
			keep, ok := defaults[owner]
			if !ok {
				continue
			}
			if _, err := r.exec(ctx, tx, "clear_defaults", clearDefaultsQuery, owner, keep, now); err != nil {
				return err
			}
		}

		query := `INSERT INTO addresses (` + addressColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (id) DO UPDATE SET
				owner_id = EXCLUDED.owner_id,
				kind = EXCLUDED.kind,
				recipient_name = EXCLUDED.recipient_name,
				street = EXCLUDED.street,
				city = EXCLUDED.city,
				region = EXCLUDED.region,
				postal_code = EXCLUDED.postal_code,
				phone = EXCLUDED.phone,
				is_default = EXCLUDED.is_default,
				updated_at = EXCLUDED.updated_at`
		for _, a := range batch {
			created := a.CreatedAt
			if created.IsZero() {
				created = now
			}
			if _, err := r.exec(ctx, tx, "upsert_address", query,
				a.ID,
				a.OwnerID,
				string(a.Kind),
				a.RecipientName,
				a.Street,
				a.City,
				a.Region,
				a.PostalCode,
				a.Phone,
				a.IsDefault,
				created,
				now,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

func batchOwners(batch []domain.Address) []string {
	seen := make(map[string]struct{}, len(batch))
	owners := make([]string, 0, len(batch))
	for _, a := range batch {
		if _, ok := seen[a.OwnerID]; ok {
			continue
		}
		seen[a.OwnerID] = struct{}{}
		owners = append(owners, a.OwnerID)
	}
	sort.Strings(owners)
	return owners
}
