package local

import (
	"context"
	"time"

	"github.com/charmntreats/addressvault/internal/domain"
	"github.com/charmntreats/addressvault/internal/localstore"
	"github.com/charmntreats/addressvault/internal/repository"
	apperrors "github.com/charmntreats/addressvault/pkg/errors"
)

// TierName identifies this store in errors, logs and metrics.
const TierName = "local"

// CollectionKey is the single local store key holding every owner's addresses.
const CollectionKey = "addresses"

// AddressRepository keeps all addresses in one local collection and filters
// by owner in memory. Every write is one read-modify-write critical section,
// so clearing the old default and setting the new one can never interleave
// with another writer.
type AddressRepository struct {
	coll *localstore.Collection[domain.Address]
	now  func() time.Time
}

var _ repository.AddressStore = (*AddressRepository)(nil)

func NewAddressRepository(store *localstore.Store) *AddressRepository {
	return &AddressRepository{
		coll: localstore.NewCollection(store, CollectionKey, "address",
			func(a *domain.Address) *string { return &a.ID }),
		now: func() time.Time { return time.Now().UTC() },
	}
}

func clearDefaults(items []domain.Address, ownerID, keepID string, now time.Time) {
	for i := range items {
		if items[i].OwnerID == ownerID && items[i].IsDefault && items[i].ID != keepID {
			items[i].IsDefault = false
			items[i].UpdatedAt = now
		}
	}
}

func (r *AddressRepository) List(ctx context.Context, ownerID string) ([]domain.Address, error) {
	items, err := r.coll.All(ctx)
	if err != nil {
		return nil, err
	}
	out := []domain.Address{}
	for _, a := range items {
		if a.OwnerID == ownerID {
			out = append(out, a)
		}
	}
	domain.SortForList(out)
	return out, nil
}

func (r *AddressRepository) Add(ctx context.Context, addr domain.Address) (*domain.Address, error) {
	now := r.now()
	addr.ID = domain.NewID()
	addr.CreatedAt = now
	addr.UpdatedAt = now

	err := r.coll.Mutate(ctx, func(items []domain.Address) ([]domain.Address, error) {
		owned := false
		for _, a := range items {
			if a.OwnerID == addr.OwnerID {
				owned = true
				break
			}
		}
		if !owned {
			addr.IsDefault = true
		}
		if addr.IsDefault {
			clearDefaults(items, addr.OwnerID, addr.ID, now)
		}
		return append(items, addr), nil
	})
	if err != nil {
		return nil, err
	}
	return &addr, nil
}

func (r *AddressRepository) Update(ctx context.Context, id string, patch domain.AddressPatch) (*domain.Address, error) {
	var updated domain.Address
	err := r.coll.Mutate(ctx, func(items []domain.Address) ([]domain.Address, error) {
		i := indexOf(items, id)
		if i < 0 {
			return nil, apperrors.NotFound("address", id)
		}
		now := r.now()
		patch.Apply(&items[i])
		items[i].UpdatedAt = now
		if patch.SetsDefault() {
			clearDefaults(items, items[i].OwnerID, id, now)
		}
		updated = items[i]
		return items, nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (r *AddressRepository) Delete(ctx context.Context, id string) error {
	return r.coll.RemoveItem(ctx, id)
}

func (r *AddressRepository) SetDefault(ctx context.Context, id, ownerID string) error {
	return r.coll.Mutate(ctx, func(items []domain.Address) ([]domain.Address, error) {
		i := indexOf(items, id)
		if i < 0 || items[i].OwnerID != ownerID {
			return nil, apperrors.NotFound("address", id)
		}
		now := r.now()
		clearDefaults(items, ownerID, id, now)
		items[i].IsDefault = true
		items[i].UpdatedAt = now
		return items, nil
	})
}

func (r *AddressRepository) GetDefault(ctx context.Context, ownerID string) (*domain.Address, error) {
	items, err := r.coll.All(ctx)
	if err != nil {
		return nil, err
	}
	for _, a := range items {
		if a.OwnerID == ownerID && a.IsDefault {
			return &a, nil
		}
	}
	return nil, nil
}

// Import merges addrs into the collection. A record whose id is already
// present replaces the local one; others are appended. When the batch names
// a default for an owner, every other local default of that owner is cleared.
func (r *AddressRepository) Import(ctx context.Context, addrs []domain.Address) error {
	batch, defaults := repository.NormalizeImport(addrs)
	if len(batch) == 0 {
		return nil
	}
	return r.coll.Mutate(ctx, func(items []domain.Address) ([]domain.Address, error) {
		now := r.now()
		for _, in := range batch {
			in.UpdatedAt = now
			if i := indexOf(items, in.ID); i >= 0 {
				if in.CreatedAt.IsZero() {
					in.CreatedAt = items[i].CreatedAt
				}
				items[i] = in
				continue
			}
			if in.CreatedAt.IsZero() {
				in.CreatedAt = now
			}
			items = append(items, in)
		}
		for owner, keep := range defaults {
			clearDefaults(items, owner, keep, now)
		}
		return items, nil
	})
}

func indexOf(items []domain.Address, id string) int {
	for i := range items {
		if items[i].ID == id {
			return i
		}
	}
	return -1
}
