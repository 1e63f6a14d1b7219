package repository

import (
	"context"

	"github.com/charmntreats/addressvault/internal/domain"
)

// AddressStore is the contract every address tier implements.
//
// Implementations report a missing record with apperrors.NotFound and a
// backend that cannot be reached with apperrors.Unavailable. The coordinator
// relies on that distinction to decide whether to try another tier.
type AddressStore interface {
	// List returns the owner's addresses, default first, then most recently
	// updated. An owner without addresses gets an empty slice.
	List(ctx context.Context, ownerID string) ([]domain.Address, error)

	// Add stores a new address under a freshly assigned id. The owner's
	// first address always becomes the default.
	Add(ctx context.Context, addr domain.Address) (*domain.Address, error)

	// Update merges patch into the address with the given id.
	Update(ctx context.Context, id string, patch domain.AddressPatch) (*domain.Address, error)

	// Delete removes the address. Deleting the default leaves the owner
	// without one.
	Delete(ctx context.Context, id string) error

	// SetDefault makes id the owner's only default address.
	SetDefault(ctx context.Context, id, ownerID string) error

	// GetDefault returns the owner's default address, or nil when there is none.
	GetDefault(ctx context.Context, ownerID string) (*domain.Address, error)

	// Import upserts addresses by id. Records without an id are skipped.
	// Importing the same batch twice leaves the same state as importing it once.
	Import(ctx context.Context, addrs []domain.Address) error
}

// NormalizeImport drops records without an id, keeps the last record for a
// repeated id and keeps at most one default per owner (the last one seen).
// It returns the cleaned batch in input order and the owners whose batch
// carries a default.
func NormalizeImport(addrs []domain.Address) ([]domain.Address, map[string]string) {
	lastByID := make(map[string]int, len(addrs))
	for i, a := range addrs {
		if a.ID != "" {
			lastByID[a.ID] = i
		}
	}

	out := make([]domain.Address, 0, len(lastByID))
	defaults := make(map[string]string)
	for i, a := range addrs {
		if a.ID == "" || lastByID[a.ID] != i {
			continue
		}
		if a.IsDefault {
			defaults[a.OwnerID] = a.ID
		}
		out = append(out, a)
	}
	for i := range out {
		if out[i].IsDefault && defaults[out[i].OwnerID] != out[i].ID {
			out[i].IsDefault = false
		}
	}
	return out, defaults
}
