package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/charmntreats/addressvault/internal/domain"
	"github.com/charmntreats/addressvault/internal/repository"
	apperrors "github.com/charmntreats/addressvault/pkg/errors"
	"github.com/charmntreats/addressvault/pkg/logger"
	"github.com/charmntreats/addressvault/pkg/tracing"
)

const tracerName = "github.com/charmntreats/addressvault/internal/service"

// LocalTierName labels the local tier in logs and metrics.
const LocalTierName = "local"

// Tier is a named remote address store.
type Tier struct {
	Name  string
	Store repository.AddressStore
}

// EventPublisher receives address lifecycle notifications. Publishing is
// best-effort: a failure is logged and never fails the operation.
type EventPublisher interface {
	PublishAddressCreated(ctx context.Context, a *domain.Address) error
	PublishAddressUpdated(ctx context.Context, a *domain.Address) error
	PublishAddressDeleted(ctx context.Context, id string) error
	PublishDefaultChanged(ctx context.Context, id, ownerID string) error
}

// AddressService is the single entry point for address persistence. It tries
// each remote tier in order, falls back on transport failures, copies every
// remote result into the local tier and, once the remote tiers are judged
// unusable, serves everything from the local tier for the rest of the
// process.
type AddressService struct {
	remotes []Tier
	local   Tier
	breaker *LocalOnlyBreaker
	events  EventPublisher
	logger  *slog.Logger
}

// NewAddressService creates a coordinator over remotes (tried in order) and
// local. events may be nil.
func NewAddressService(
	remotes []Tier,
	local repository.AddressStore,
	breaker *LocalOnlyBreaker,
	events EventPublisher,
	logger *slog.Logger,
) *AddressService {
	return &AddressService{
		remotes: remotes,
		local:   Tier{Name: LocalTierName, Store: local},
		breaker: breaker,
		events:  events,
		logger:  logger,
	}
}

// LocalOnly reports whether remote tiers have been abandoned.
func (s *AddressService) LocalOnly() bool {
	return s.breaker.Active()
}

// ---------------------------------------------------------------------------
// Public API
// ---------------------------------------------------------------------------

// ListAddresses returns the owner's addresses, default first.
func (s *AddressService) ListAddresses(ctx context.Context, ownerID string) (out []domain.Address, err error) {
	ctx, span := s.startSpan(ctx, "ListAddresses", ownerID)
	defer func() { tracing.EndSpan(span, err) }()

	return read(ctx, s, readOp[[]domain.Address]{
		name: "list",
		call: func(ctx context.Context, st repository.AddressStore) ([]domain.Address, error) {
			return st.List(ctx, ownerID)
		},
		empty:    func(v []domain.Address) bool { return len(v) == 0 },
		toImport: func(v []domain.Address) []domain.Address { return v },
	})
}

// GetDefaultAddress returns the owner's default address, or nil when the
// owner has none.
func (s *AddressService) GetDefaultAddress(ctx context.Context, ownerID string) (out *domain.Address, err error) {
	ctx, span := s.startSpan(ctx, "GetDefaultAddress", ownerID)
	defer func() { tracing.EndSpan(span, err) }()

	return read(ctx, s, readOp[*domain.Address]{
		name: "get_default",
		call: func(ctx context.Context, st repository.AddressStore) (*domain.Address, error) {
			return st.GetDefault(ctx, ownerID)
		},
		empty:    func(v *domain.Address) bool { return v == nil },
		toImport: func(v *domain.Address) []domain.Address { return []domain.Address{*v} },
	})
}

// AddAddress stores a new address. Any id or timestamps on addr are replaced
// by the tier that stores it.
func (s *AddressService) AddAddress(ctx context.Context, addr domain.Address) (out *domain.Address, err error) {
	ctx, span := s.startSpan(ctx, "AddAddress", addr.OwnerID)
	defer func() { tracing.EndSpan(span, err) }()

	if addr.OwnerID == "" {
		return nil, apperrors.InvalidInput("owner id is required")
	}
	if addr.Kind == "" {
		addr.Kind = domain.KindHome
	}
	if !addr.Kind.Valid() {
		return nil, apperrors.InvalidInput(fmt.Sprintf("unknown address kind %q", addr.Kind))
	}

	out, err = write(ctx, s, writeOp[*domain.Address]{
		name: "add",
		call: func(ctx context.Context, st repository.AddressStore) (*domain.Address, error) {
			return st.Add(ctx, addr)
		},
		mirror: func(ctx context.Context, local repository.AddressStore, _ Tier, v *domain.Address) error {
			return local.Import(ctx, []domain.Address{*v})
		},
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, "address.created", func(ctx context.Context) error {
		return s.events.PublishAddressCreated(ctx, out)
	})
	return out, nil
}

// UpdateAddress merges patch into the address with the given id.
func (s *AddressService) UpdateAddress(ctx context.Context, id string, patch domain.AddressPatch) (out *domain.Address, err error) {
	ctx, span := s.startSpan(ctx, "UpdateAddress", "")
	span.SetAttributes(attribute.String("address.id", id))
	defer func() { tracing.EndSpan(span, err) }()

	if patch.Kind != nil && !patch.Kind.Valid() {
		return nil, apperrors.InvalidInput(fmt.Sprintf("unknown address kind %q", *patch.Kind))
	}

	out, err = write(ctx, s, writeOp[*domain.Address]{
		name: "update",
		call: func(ctx context.Context, st repository.AddressStore) (*domain.Address, error) {
			return st.Update(ctx, id, patch)
		},
		mirror: func(ctx context.Context, local repository.AddressStore, _ Tier, v *domain.Address) error {
			return local.Import(ctx, []domain.Address{*v})
		},
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, "address.updated", func(ctx context.Context) error {
		return s.events.PublishAddressUpdated(ctx, out)
	})
	return out, nil
}

// DeleteAddress removes the address. A nil error means it existed and is gone.
func (s *AddressService) DeleteAddress(ctx context.Context, id string) (err error) {
	ctx, span := s.startSpan(ctx, "DeleteAddress", "")
	span.SetAttributes(attribute.String("address.id", id))
	defer func() { tracing.EndSpan(span, err) }()

	_, err = write(ctx, s, writeOp[struct{}]{
		name: "delete",
		call: func(ctx context.Context, st repository.AddressStore) (struct{}, error) {
			return struct{}{}, st.Delete(ctx, id)
		},
		mirror: func(ctx context.Context, local repository.AddressStore, _ Tier, _ struct{}) error {
			if err := local.Delete(ctx, id); err != nil && !apperrors.IsNotFound(err) {
				return err
			}
			return nil
		},
	})
	if err != nil {
		return err
	}
	s.publish(ctx, "address.deleted", func(ctx context.Context) error {
		return s.events.PublishAddressDeleted(ctx, id)
	})
	return nil
}

// SetDefaultAddress makes id the owner's only default address. A nil error
// means the switch happened.
func (s *AddressService) SetDefaultAddress(ctx context.Context, id, ownerID string) (err error) {
	ctx, span := s.startSpan(ctx, "SetDefaultAddress", ownerID)
	span.SetAttributes(attribute.String("address.id", id))
	defer func() { tracing.EndSpan(span, err) }()

	_, err = write(ctx, s, writeOp[struct{}]{
		name: "set_default",
		call: func(ctx context.Context, st repository.AddressStore) (struct{}, error) {
			return struct{}{}, st.SetDefault(ctx, id, ownerID)
		},
		mirror: func(ctx context.Context, local repository.AddressStore, source Tier, _ struct{}) error {
			err := local.SetDefault(ctx, id, ownerID)
			if !apperrors.IsNotFound(err) {
				return err
			}
			// The address never reached the local tier. Copy the owner's
			// records, new default included, from the tier that switched it.
			list, err := callTier(ctx, source, "set_default_mirror",
				func(ctx context.Context, st repository.AddressStore) ([]domain.Address, error) {
					return st.List(ctx, ownerID)
				})
			if err != nil {
				return err
			}
			return local.Import(ctx, list)
		},
	})
	if err != nil {
		return err
	}
	s.publish(ctx, "address.default_changed", func(ctx context.Context) error {
		return s.events.PublishDefaultChanged(ctx, id, ownerID)
	})
	return nil
}

// EnsureOwned returns not-found unless id is one of the owner's addresses.
func (s *AddressService) EnsureOwned(ctx context.Context, ownerID, id string) error {
	list, err := s.ListAddresses(ctx, ownerID)
	if err != nil {
		return err
	}
	for _, a := range list {
		if a.ID == id {
			return nil
		}
	}
	return apperrors.NotFound("address", id)
}

// ---------------------------------------------------------------------------
// Cascade
// ---------------------------------------------------------------------------

type readOp[T any] struct {
	name     string
	call     func(ctx context.Context, st repository.AddressStore) (T, error)
	empty    func(T) bool
	toImport func(T) []domain.Address
}

type writeOp[T any] struct {
	name   string
	call   func(ctx context.Context, st repository.AddressStore) (T, error)
	mirror func(ctx context.Context, local repository.AddressStore, source Tier, v T) error
}

// read serves a read from the first remote tier that answers. Data from a
// remote tier is copied into the local tier. An empty answer from the first
// tier is replaced by local data when local has some; an empty answer from a
// later tier, or no answer at all, switches to local-only mode.
func read[T any](ctx context.Context, s *AddressService, op readOp[T]) (T, error) {
	if s.breaker.Active() {
		return serveLocal(ctx, s, op.name, op.call)
	}

	var zero T
	for i, tier := range s.remotes {
		v, err := callTier(ctx, tier, op.name, op.call)
		if err != nil {
			if err := s.skipTier(ctx, tier, op.name, err); err != nil {
				return zero, err
			}
			continue
		}

		if !op.empty(v) {
			s.mirror(ctx, op.name, tier.Name, func(ctx context.Context) error {
				return s.local.Store.Import(ctx, op.toImport(v))
			})
			setServedBy(ctx, tier.Name)
			return v, nil
		}

		if i == 0 {
			lv, lerr := callTier(ctx, s.local, op.name, op.call)
			if lerr != nil {
				logger.WithContext(ctx, s.logger).Warn("local lookup after empty remote read failed",
					slog.String("operation", op.name),
					slog.String("error", lerr.Error()),
				)
			} else if !op.empty(lv) {
				setServedBy(ctx, s.local.Name)
				return lv, nil
			}
			setServedBy(ctx, tier.Name)
			return v, nil
		}

		s.breaker.Trip(fmt.Sprintf("%s tier returned no data for %s", tier.Name, op.name))
		return serveLocal(ctx, s, op.name, op.call)
	}

	s.breaker.Trip(fmt.Sprintf("all remote tiers unavailable during %s", op.name))
	return serveLocal(ctx, s, op.name, op.call)
}

// write applies a write to the first remote tier that accepts it and mirrors
// the result into the local tier before returning. When every remote tier is
// unavailable the service switches to local-only mode and the write goes to
// the local tier.
func write[T any](ctx context.Context, s *AddressService, op writeOp[T]) (T, error) {
	if s.breaker.Active() {
		return serveLocal(ctx, s, op.name, op.call)
	}

	var zero T
	for _, tier := range s.remotes {
		v, err := callTier(ctx, tier, op.name, op.call)
		if err != nil {
			if err := s.skipTier(ctx, tier, op.name, err); err != nil {
				return zero, err
			}
			continue
		}
		s.mirror(ctx, op.name, tier.Name, func(ctx context.Context) error {
			return op.mirror(ctx, s.local.Store, tier, v)
		})
		setServedBy(ctx, tier.Name)
		return v, nil
	}

	s.breaker.Trip(fmt.Sprintf("all remote tiers unavailable during %s", op.name))
	return serveLocal(ctx, s, op.name, op.call)
}

func serveLocal[T any](ctx context.Context, s *AddressService, op string, call func(context.Context, repository.AddressStore) (T, error)) (T, error) {
	v, err := callTier(ctx, s.local, op, call)
	if err == nil {
		setServedBy(ctx, s.local.Name)
	}
	return v, err
}

// callTier runs one call against one tier, tagging the context with the tier
// name so queries and logs below can report it.
func callTier[T any](ctx context.Context, tier Tier, op string, call func(context.Context, repository.AddressStore) (T, error)) (T, error) {
	start := time.Now()
	v, err := call(logger.WithTier(ctx, tier.Name), tier.Store)
	tierCallDuration.WithLabelValues(tier.Name, op).Observe(time.Since(start).Seconds())
	tierCalls.WithLabelValues(tier.Name, op, outcome(err)).Inc()
	return v, err
}

// skipTier decides whether err lets the cascade move past tier. It returns
// nil to continue, or the error to surface.
func (s *AddressService) skipTier(ctx context.Context, tier Tier, op string, err error) error {
	if !apperrors.IsTransport(err) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	fallbacks.WithLabelValues(tier.Name, op).Inc()
	logger.WithContext(ctx, s.logger).Warn("address tier unavailable, trying next",
		slog.String("tier", tier.Name),
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
	return nil
}

// mirror copies a remote result into the local tier. Failures are logged and
// counted; the remote result stands.
func (s *AddressService) mirror(ctx context.Context, op, from string, fn func(ctx context.Context) error) {
	if err := fn(logger.WithTier(ctx, s.local.Name)); err != nil {
		mirrorFailures.WithLabelValues(op).Inc()
		logger.WithContext(ctx, s.logger).Warn("failed to mirror remote result into local tier",
			slog.String("operation", op),
			slog.String("source_tier", from),
			slog.String("error", err.Error()),
		)
	}
}

func (s *AddressService) publish(ctx context.Context, event string, fn func(ctx context.Context) error) {
	if s.events == nil {
		return
	}
	if err := fn(ctx); err != nil {
		logger.WithContext(ctx, s.logger).Error("failed to publish address event",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (s *AddressService) startSpan(ctx context.Context, name, ownerID string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{attribute.Bool("address.local_only", s.breaker.Active())}
	if ownerID != "" {
		attrs = append(attrs, attribute.String("address.owner_id", ownerID))
	}
	return tracing.StartSpan(ctx, tracerName, "AddressService."+name, attrs...)
}

func setServedBy(ctx context.Context, tier string) {
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("address.served_by", tier))
}
