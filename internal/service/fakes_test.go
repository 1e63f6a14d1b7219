package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/charmntreats/addressvault/internal/domain"
	"github.com/charmntreats/addressvault/internal/localstore"
	"github.com/charmntreats/addressvault/internal/repository"
	"github.com/charmntreats/addressvault/internal/repository/local"
	apperrors "github.com/charmntreats/addressvault/pkg/errors"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeTier behaves like a working remote backed by its own in-memory store
// until err is set, after which every call fails with err.
type fakeTier struct {
	store repository.AddressStore

	mu    sync.Mutex
	err   error
	calls int
}

func newFakeTier() *fakeTier {
	return &fakeTier{store: newMemoryStore(0)}
}

func downTier(name string) *fakeTier {
	t := newFakeTier()
	t.err = apperrors.Unavailable(name, errors.New("connection refused"))
	return t
}

func newMemoryStore(quota int64) *local.AddressRepository {
	return local.NewAddressRepository(localstore.NewStore(localstore.NewMemoryBackend(), quota))
}

func (f *fakeTier) enter() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func (f *fakeTier) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeTier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeTier) List(ctx context.Context, ownerID string) ([]domain.Address, error) {
	if err := f.enter(); err != nil {
		return nil, err
	}
	return f.store.List(ctx, ownerID)
}

func (f *fakeTier) Add(ctx context.Context, addr domain.Address) (*domain.Address, error) {
	if err := f.enter(); err != nil {
		return nil, err
	}
	return f.store.Add(ctx, addr)
}

func (f *fakeTier) Update(ctx context.Context, id string, patch domain.AddressPatch) (*domain.Address, error) {
	if err := f.enter(); err != nil {
		return nil, err
	}
	return f.store.Update(ctx, id, patch)
}

func (f *fakeTier) Delete(ctx context.Context, id string) error {
	if err := f.enter(); err != nil {
		return err
	}
	return f.store.Delete(ctx, id)
}

func (f *fakeTier) SetDefault(ctx context.Context, id, ownerID string) error {
	if err := f.enter(); err != nil {
		return err
	}
	return f.store.SetDefault(ctx, id, ownerID)
}

func (f *fakeTier) GetDefault(ctx context.Context, ownerID string) (*domain.Address, error) {
	if err := f.enter(); err != nil {
		return nil, err
	}
	return f.store.GetDefault(ctx, ownerID)
}

func (f *fakeTier) Import(ctx context.Context, addrs []domain.Address) error {
	if err := f.enter(); err != nil {
		return err
	}
	return f.store.Import(ctx, addrs)
}

// --- Mock Event Publisher ---

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishAddressCreated(ctx context.Context, a *domain.Address) error {
	return m.Called(ctx, a).Error(0)
}

func (m *mockPublisher) PublishAddressUpdated(ctx context.Context, a *domain.Address) error {
	return m.Called(ctx, a).Error(0)
}

func (m *mockPublisher) PublishAddressDeleted(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockPublisher) PublishDefaultChanged(ctx context.Context, id, ownerID string) error {
	return m.Called(ctx, id, ownerID).Error(0)
}

type fixture struct {
	svc       *AddressService
	primary   *fakeTier
	secondary *fakeTier
	local     repository.AddressStore
	breaker   *LocalOnlyBreaker
}

func newFixture(primary, secondary *fakeTier, localStore repository.AddressStore, startLocalOnly bool, events EventPublisher) *fixture {
	if localStore == nil {
		localStore = newMemoryStore(0)
	}
	b := NewLocalOnlyBreaker(startLocalOnly, discardLogger)
	svc := NewAddressService(
		[]Tier{{Name: "primary", Store: primary}, {Name: "secondary", Store: secondary}},
		localStore, b, events, discardLogger,
	)
	return &fixture{svc: svc, primary: primary, secondary: secondary, local: localStore, breaker: b}
}

func sample(owner string) domain.Address {
	return domain.Address{
		OwnerID:       owner,
		Kind:          domain.KindHome,
		RecipientName: "Ana Silva",
		Street:        "Rua das Flores 12",
		City:          "Porto",
		Region:        "Porto",
		PostalCode:    "4050-262",
		Phone:         "+351 912 345 678",
	}
}
