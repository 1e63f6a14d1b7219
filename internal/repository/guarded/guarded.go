// Package guarded puts a circuit breaker in front of a remote address tier.
// Only transport failures count against the breaker; not-found and other
// domain outcomes pass through without affecting it. While the breaker is
// open, calls fail fast with a transport error so the coordinator moves on
// to the next tier without waiting on a dead backend.
package guarded

import (
	"context"
	"log/slog"

	"github.com/charmntreats/addressvault/internal/domain"
	"github.com/charmntreats/addressvault/internal/repository"
	"github.com/charmntreats/addressvault/pkg/breaker"
	apperrors "github.com/charmntreats/addressvault/pkg/errors"
)

type AddressStore struct {
	tier string
	next repository.AddressStore
	cb   *breaker.Breaker
}

var _ repository.AddressStore = (*AddressStore)(nil)

// New wraps next. cfg.IsFailure is replaced with apperrors.IsTransport.
func New(tier string, next repository.AddressStore, cfg breaker.Config, logger *slog.Logger) *AddressStore {
	cfg.Name = tier
	cfg.IsFailure = apperrors.IsTransport
	return &AddressStore{
		tier: tier,
		next: next,
		cb:   breaker.New(cfg, logger),
	}
}

// Breaker exposes the underlying breaker for health reporting.
func (s *AddressStore) Breaker() *breaker.Breaker { return s.cb }

func (s *AddressStore) mapErr(err error) error {
	if breaker.IsRejected(err) {
		return apperrors.Unavailable(s.tier, err)
	}
	return err
}

func (s *AddressStore) List(ctx context.Context, ownerID string) ([]domain.Address, error) {
	out, err := breaker.Execute(s.cb, func() ([]domain.Address, error) {
		return s.next.List(ctx, ownerID)
	})
	return out, s.mapErr(err)
}

func (s *AddressStore) Add(ctx context.Context, addr domain.Address) (*domain.Address, error) {
	out, err := breaker.Execute(s.cb, func() (*domain.Address, error) {
		return s.next.Add(ctx, addr)
	})
	return out, s.mapErr(err)
}

func (s *AddressStore) Update(ctx context.Context, id string, patch domain.AddressPatch) (*domain.Address, error) {
	out, err := breaker.Execute(s.cb, func() (*domain.Address, error) {
		return s.next.Update(ctx, id, patch)
	})
	return out, s.mapErr(err)
}

func (s *AddressStore) Delete(ctx context.Context, id string) error {
	return s.mapErr(breaker.Run(s.cb, func() error {
		return s.next.Delete(ctx, id)
	}))
}

func (s *AddressStore) SetDefault(ctx context.Context, id, ownerID string) error {
	return s.mapErr(breaker.Run(s.cb, func() error {
		return s.next.SetDefault(ctx, id, ownerID)
	}))
}

func (s *AddressStore) GetDefault(ctx context.Context, ownerID string) (*domain.Address, error) {
	out, err := breaker.Execute(s.cb, func() (*domain.Address, error) {
		return s.next.GetDefault(ctx, ownerID)
	})
	return out, s.mapErr(err)
}

func (s *AddressStore) Import(ctx context.Context, addrs []domain.Address) error {
	return s.mapErr(breaker.Run(s.cb, func() error {
		return s.next.Import(ctx, addrs)
	}))
}
