package service

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/charmntreats/addressvault/internal/domain"
	"github.com/charmntreats/addressvault/internal/localstore"
	apperrors "github.com/charmntreats/addressvault/pkg/errors"
)

// ---------------------------------------------------------------------------
// Cascade and local-only mode
// ---------------------------------------------------------------------------

func TestFallbackDeterminism(t *testing.T) {
	f := newFixture(downTier("primary"), downTier("secondary"), nil, false, nil)
	ctx := context.Background()

	list, err := f.svc.ListAddresses(ctx, "o1")
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.True(t, f.svc.LocalOnly())
	assert.Equal(t, 1, f.primary.callCount())
	assert.Equal(t, 1, f.secondary.callCount())

	added, err := f.svc.AddAddress(ctx, sample("o1"))
	require.NoError(t, err)
	city := "Faro"
	_, err = f.svc.UpdateAddress(ctx, added.ID, domain.AddressPatch{City: &city})
	require.NoError(t, err)
	require.NoError(t, f.svc.SetDefaultAddress(ctx, added.ID, "o1"))
	def, err := f.svc.GetDefaultAddress(ctx, "o1")
	require.NoError(t, err)
	require.NotNil(t, def)
	assert.Equal(t, "Faro", def.City)
	require.NoError(t, f.svc.DeleteAddress(ctx, added.ID))

	assert.Equal(t, 1, f.primary.callCount(), "remote tiers are never retried")
	assert.Equal(t, 1, f.secondary.callCount())

	// Even a recovered remote is not consulted again.
	f.primary.setErr(nil)
	_, err = f.svc.ListAddresses(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, 1, f.primary.callCount())
}

func TestIndependentBreakersPerService(t *testing.T) {
	down := newFixture(downTier("primary"), downTier("secondary"), nil, false, nil)
	up := newFixture(newFakeTier(), newFakeTier(), nil, false, nil)

	_, err := down.svc.ListAddresses(context.Background(), "o1")
	require.NoError(t, err)

	assert.True(t, down.svc.LocalOnly())
	assert.False(t, up.svc.LocalOnly())
}

func TestStartLocalOnly(t *testing.T) {
	f := newFixture(newFakeTier(), newFakeTier(), nil, true, nil)

	_, err := f.svc.AddAddress(context.Background(), sample("o1"))
	require.NoError(t, err)

	assert.Zero(t, f.primary.callCount())
	assert.Zero(t, f.secondary.callCount())
	reason, at := f.breaker.Reason()
	assert.NotEmpty(t, reason)
	assert.False(t, at.IsZero())
}

func TestPrimaryDown_SecondaryServesAndMirrors(t *testing.T) {
	f := newFixture(downTier("primary"), newFakeTier(), nil, false, nil)
	ctx := context.Background()

	added, err := f.svc.AddAddress(ctx, sample("o1"))
	require.NoError(t, err)
	assert.False(t, f.svc.LocalOnly())

	remote, err := f.secondary.store.List(ctx, "o1")
	require.NoError(t, err)
	require.Len(t, remote, 1)
	assert.Equal(t, added.ID, remote[0].ID)

	mirrored, err := f.local.List(ctx, "o1")
	require.NoError(t, err)
	require.Len(t, mirrored, 1)
	assert.Equal(t, added.ID, mirrored[0].ID, "mirror keeps the remote id")
}

func TestSecondaryEmptyRead_TripsAndServesLocal(t *testing.T) {
	localStore := newMemoryStore(0)
	seeded, err := localStore.Add(context.Background(), sample("o1"))
	require.NoError(t, err)

	f := newFixture(downTier("primary"), newFakeTier(), localStore, false, nil)

	list, err := f.svc.ListAddresses(context.Background(), "o1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, seeded.ID, list[0].ID)
	assert.True(t, f.svc.LocalOnly())
}

func TestPrimaryEmptyRead_UsesLocalWithoutTripping(t *testing.T) {
	localStore := newMemoryStore(0)
	seeded, err := localStore.Add(context.Background(), sample("o1"))
	require.NoError(t, err)

	f := newFixture(newFakeTier(), newFakeTier(), localStore, false, nil)
	ctx := context.Background()

	list, err := f.svc.ListAddresses(ctx, "o1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, seeded.ID, list[0].ID)

	def, err := f.svc.GetDefaultAddress(ctx, "o1")
	require.NoError(t, err)
	require.NotNil(t, def)
	assert.Equal(t, seeded.ID, def.ID)

	assert.False(t, f.svc.LocalOnly())
	assert.Zero(t, f.secondary.callCount())
}

func TestPrimaryEmptyRead_BothEmpty(t *testing.T) {
	f := newFixture(newFakeTier(), newFakeTier(), nil, false, nil)

	list, err := f.svc.ListAddresses(context.Background(), "o1")
	require.NoError(t, err)
	assert.Empty(t, list)
	def, err := f.svc.GetDefaultAddress(context.Background(), "o1")
	require.NoError(t, err)
	assert.Nil(t, def)
	assert.False(t, f.svc.LocalOnly())
}

func TestRemoteReadIsImportedLocally(t *testing.T) {
	f := newFixture(newFakeTier(), newFakeTier(), nil, false, nil)
	ctx := context.Background()

	remote, err := f.primary.store.Add(ctx, sample("o1"))
	require.NoError(t, err)

	list, err := f.svc.ListAddresses(ctx, "o1")
	require.NoError(t, err)
	require.Len(t, list, 1)

	local, err := f.local.List(ctx, "o1")
	require.NoError(t, err)
	require.Len(t, local, 1)
	assert.Equal(t, remote.ID, local[0].ID)
	assert.True(t, domain.SameContent(*remote, local[0]))
}

func TestNotFoundIsTerminal(t *testing.T) {
	f := newFixture(newFakeTier(), newFakeTier(), nil, false, nil)
	ctx := context.Background()
	city := "Faro"

	_, err := f.svc.UpdateAddress(ctx, "nonexistent-id", domain.AddressPatch{City: &city})
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))

	assert.True(t, apperrors.IsNotFound(f.svc.DeleteAddress(ctx, "nonexistent-id")))
	assert.True(t, apperrors.IsNotFound(f.svc.SetDefaultAddress(ctx, "nonexistent-id", "o1")))

	assert.Zero(t, f.secondary.callCount(), "not-found never falls back")
	assert.False(t, f.svc.LocalOnly())

	local, err := f.local.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, local)
}

func TestNotFoundIsTerminal_LocalOnly(t *testing.T) {
	f := newFixture(newFakeTier(), newFakeTier(), nil, true, nil)
	city := "Faro"

	_, err := f.svc.UpdateAddress(context.Background(), "nonexistent-id", domain.AddressPatch{City: &city})
	assert.True(t, apperrors.IsNotFound(err))
}

func TestConflictIsTerminal(t *testing.T) {
	primary := newFakeTier()
	f := newFixture(primary, newFakeTier(), nil, false, nil)
	ctx := context.Background()

	a, err := f.svc.AddAddress(ctx, sample("o1"))
	require.NoError(t, err)

	primary.setErr(apperrors.Rejected("primary",
		errors.New(`violates exclusion constraint "addresses_one_default_per_owner"`)))
	setDefault := true
	_, err = f.svc.UpdateAddress(ctx, a.ID, domain.AddressPatch{IsDefault: &setDefault})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrConflict))
	assert.Equal(t, http.StatusConflict, apperrors.HTTPStatus(err))

	_, err = f.svc.AddAddress(ctx, sample("o1"))
	assert.True(t, errors.Is(err, apperrors.ErrConflict))

	assert.Zero(t, f.secondary.callCount(), "a refused write never falls back")
	assert.False(t, f.svc.LocalOnly())

	local, err := f.local.List(ctx, "o1")
	require.NoError(t, err)
	assert.Len(t, local, 1, "nothing is written locally for a refused change")
}

func TestCanceledContextNeverTrips(t *testing.T) {
	primary := newFakeTier()
	primary.setErr(context.Canceled)
	f := newFixture(primary, newFakeTier(), nil, false, nil)

	_, err := f.svc.ListAddresses(context.Background(), "o1")
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, f.svc.LocalOnly())
	assert.Zero(t, f.secondary.callCount())
}

func TestExpiredContextNeverTrips(t *testing.T) {
	f := newFixture(downTier("primary"), downTier("secondary"), nil, false, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.ListAddresses(ctx, "o1")
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, f.svc.LocalOnly())
}

// ---------------------------------------------------------------------------
// Write-through mirror
// ---------------------------------------------------------------------------

func TestWritesAreMirrored(t *testing.T) {
	f := newFixture(newFakeTier(), newFakeTier(), nil, false, nil)
	ctx := context.Background()

	a, err := f.svc.AddAddress(ctx, sample("o1"))
	require.NoError(t, err)
	b, err := f.svc.AddAddress(ctx, sample("o1"))
	require.NoError(t, err)

	city := "Coimbra"
	_, err = f.svc.UpdateAddress(ctx, b.ID, domain.AddressPatch{City: &city})
	require.NoError(t, err)
	require.NoError(t, f.svc.SetDefaultAddress(ctx, b.ID, "o1"))

	def, err := f.local.GetDefault(ctx, "o1")
	require.NoError(t, err)
	require.NotNil(t, def)
	assert.Equal(t, b.ID, def.ID)
	assert.Equal(t, "Coimbra", def.City)

	require.NoError(t, f.svc.DeleteAddress(ctx, a.ID))
	local, err := f.local.List(ctx, "o1")
	require.NoError(t, err)
	require.Len(t, local, 1)
	assert.Equal(t, b.ID, local[0].ID)

	assert.Zero(t, f.secondary.callCount())
}

func TestSetDefaultMirror_CopiesRecordMissingLocally(t *testing.T) {
	primary := newFakeTier()
	f := newFixture(primary, newFakeTier(), nil, false, nil)
	ctx := context.Background()

	old, err := f.svc.AddAddress(ctx, sample("o1"))
	require.NoError(t, err)
	require.True(t, old.IsDefault)

	// Written to the primary by another instance; this one never read it.
	other, err := primary.store.Add(ctx, sample("o1"))
	require.NoError(t, err)

	require.NoError(t, f.svc.SetDefaultAddress(ctx, other.ID, "o1"))

	f.breaker.Trip("test")
	def, err := f.svc.GetDefaultAddress(ctx, "o1")
	require.NoError(t, err)
	require.NotNil(t, def)
	assert.Equal(t, other.ID, def.ID, "local tier follows the remote default switch")

	local, err := f.local.List(ctx, "o1")
	require.NoError(t, err)
	assert.Len(t, local, 2)
	assert.Equal(t, 1, domain.CountDefaults(local, "o1"))
}

func TestDeleteMirror_IgnoresMissingLocalRecord(t *testing.T) {
	f := newFixture(newFakeTier(), newFakeTier(), nil, false, nil)
	ctx := context.Background()
	before := testutil.ToFloat64(mirrorFailures.WithLabelValues("delete"))

	remote, err := f.primary.store.Add(ctx, sample("o1"))
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteAddress(ctx, remote.ID))
	assert.Equal(t, before, testutil.ToFloat64(mirrorFailures.WithLabelValues("delete")))
}

func TestMirrorFailureIsBestEffort(t *testing.T) {
	f := newFixture(newFakeTier(), newFakeTier(), newMemoryStore(64), false, nil)
	before := testutil.ToFloat64(mirrorFailures.WithLabelValues("add"))

	added, err := f.svc.AddAddress(context.Background(), sample("o1"))
	require.NoError(t, err, "the remote write stands")
	assert.NotEmpty(t, added.ID)
	assert.Equal(t, before+1, testutil.ToFloat64(mirrorFailures.WithLabelValues("add")))
	assert.False(t, f.svc.LocalOnly())
}

func TestLocalStorageErrorIsTerminalInLocalOnly(t *testing.T) {
	f := newFixture(newFakeTier(), newFakeTier(), newMemoryStore(64), true, nil)

	_, err := f.svc.AddAddress(context.Background(), sample("o1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, localstore.ErrQuotaExceeded)
	assert.Equal(t, 503, apperrors.HTTPStatus(err))
}

// ---------------------------------------------------------------------------
// Behaviour seen by callers
// ---------------------------------------------------------------------------

func TestAddAddress_Validation(t *testing.T) {
	f := newFixture(newFakeTier(), newFakeTier(), nil, false, nil)
	ctx := context.Background()

	_, err := f.svc.AddAddress(ctx, domain.Address{Kind: domain.KindHome})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	in := sample("o1")
	in.Kind = "Castle"
	_, err = f.svc.AddAddress(ctx, in)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	in.Kind = ""
	added, err := f.svc.AddAddress(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, domain.KindHome, added.Kind)

	bad := domain.Kind("Castle")
	_, err = f.svc.UpdateAddress(ctx, added.ID, domain.AddressPatch{Kind: &bad})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.Zero(t, f.secondary.callCount())
}

func TestRoundTrip(t *testing.T) {
	for name, startLocalOnly := range map[string]bool{"remote": false, "local-only": true} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(newFakeTier(), newFakeTier(), nil, startLocalOnly, nil)
			ctx := context.Background()

			in := sample("o1")
			in.IsDefault = true
			added, err := f.svc.AddAddress(ctx, in)
			require.NoError(t, err)
			assert.NotEmpty(t, added.ID)
			assert.False(t, added.CreatedAt.IsZero())
			assert.False(t, added.UpdatedAt.IsZero())

			list, err := f.svc.ListAddresses(ctx, "o1")
			require.NoError(t, err)
			require.Len(t, list, 1)
			want := in
			want.ID = added.ID
			assert.True(t, domain.SameContent(want, list[0]))
		})
	}
}

func TestScenario_FirstAddressBecomesDefault(t *testing.T) {
	f := newFixture(newFakeTier(), newFakeTier(), nil, false, nil)

	in := sample("o1")
	in.IsDefault = false
	added, err := f.svc.AddAddress(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, added.IsDefault)
}

func TestScenario_SwitchDefault(t *testing.T) {
	f := newFixture(newFakeTier(), newFakeTier(), nil, false, nil)
	ctx := context.Background()

	a, err := f.svc.AddAddress(ctx, sample("o1"))
	require.NoError(t, err)
	b, err := f.svc.AddAddress(ctx, sample("o1"))
	require.NoError(t, err)

	require.NoError(t, f.svc.SetDefaultAddress(ctx, b.ID, "o1"))

	list, err := f.svc.ListAddresses(ctx, "o1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	byID := map[string]bool{}
	for _, x := range list {
		byID[x.ID] = x.IsDefault
	}
	assert.False(t, byID[a.ID])
	assert.True(t, byID[b.ID])
	assert.Equal(t, 1, domain.CountDefaults(list, "o1"))
}

func TestScenario_DeleteDefaultLeavesNone(t *testing.T) {
	f := newFixture(newFakeTier(), newFakeTier(), nil, false, nil)
	ctx := context.Background()

	a, err := f.svc.AddAddress(ctx, sample("o1"))
	require.NoError(t, err)
	_, err = f.svc.AddAddress(ctx, sample("o1"))
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteAddress(ctx, a.ID))

	def, err := f.svc.GetDefaultAddress(ctx, "o1")
	require.NoError(t, err)
	assert.Nil(t, def)
}

func TestEnsureOwned(t *testing.T) {
	f := newFixture(newFakeTier(), newFakeTier(), nil, false, nil)
	ctx := context.Background()

	a, err := f.svc.AddAddress(ctx, sample("o1"))
	require.NoError(t, err)

	assert.NoError(t, f.svc.EnsureOwned(ctx, "o1", a.ID))
	assert.True(t, apperrors.IsNotFound(f.svc.EnsureOwned(ctx, "o2", a.ID)))
}

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

func TestEventsArePublished(t *testing.T) {
	pub := &mockPublisher{}
	f := newFixture(newFakeTier(), newFakeTier(), nil, false, pub)
	ctx := context.Background()

	pub.On("PublishAddressCreated", mock.Anything, mock.AnythingOfType("*domain.Address")).Return(nil).Twice()
	pub.On("PublishAddressUpdated", mock.Anything, mock.AnythingOfType("*domain.Address")).Return(nil).Once()
	pub.On("PublishDefaultChanged", mock.Anything, mock.Anything, "o1").Return(nil).Once()
	pub.On("PublishAddressDeleted", mock.Anything, mock.Anything).Return(nil).Once()

	a, err := f.svc.AddAddress(ctx, sample("o1"))
	require.NoError(t, err)
	b, err := f.svc.AddAddress(ctx, sample("o1"))
	require.NoError(t, err)
	city := "Faro"
	_, err = f.svc.UpdateAddress(ctx, a.ID, domain.AddressPatch{City: &city})
	require.NoError(t, err)
	require.NoError(t, f.svc.SetDefaultAddress(ctx, b.ID, "o1"))
	require.NoError(t, f.svc.DeleteAddress(ctx, a.ID))

	pub.AssertExpectations(t)
}

func TestEventFailureDoesNotFailWrite(t *testing.T) {
	pub := &mockPublisher{}
	pub.On("PublishAddressCreated", mock.Anything, mock.Anything).Return(errors.New("broker down"))
	f := newFixture(newFakeTier(), newFakeTier(), nil, false, pub)

	_, err := f.svc.AddAddress(context.Background(), sample("o1"))
	assert.NoError(t, err)
}

func TestNoEventOnFailure(t *testing.T) {
	pub := &mockPublisher{}
	f := newFixture(newFakeTier(), newFakeTier(), nil, false, pub)

	err := f.svc.DeleteAddress(context.Background(), "missing")
	assert.True(t, apperrors.IsNotFound(err))
	pub.AssertNotCalled(t, "PublishAddressDeleted", mock.Anything, mock.Anything)
}
