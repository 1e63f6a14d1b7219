package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/charmntreats/addressvault/internal/domain"
	pkgkafka "github.com/charmntreats/addressvault/pkg/kafka"
	"github.com/charmntreats/addressvault/pkg/logger"
)

// Kafka topics for address domain events.
var (
	TopicAddressCreated        = pkgkafka.Topic("address", "created")
	TopicAddressUpdated        = pkgkafka.Topic("address", "updated")
	TopicAddressDeleted        = pkgkafka.Topic("address", "deleted")
	TopicAddressDefaultChanged = pkgkafka.Topic("address", "default_changed")
)

// AggregateTypeAddress is the aggregate type carried by every address event.
const AggregateTypeAddress = "address"

// SourceAddressService identifies events originating from this service.
const SourceAddressService = "address-service"

// Publisher is the part of *pkgkafka.Producer the event producer needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// AddressData is the payload for address.created and address.updated.
type AddressData struct {
	ID        string `json:"id"`
	OwnerID   string `json:"owner_id"`
	Kind      string `json:"kind"`
	City      string `json:"city"`
	Region    string `json:"region,omitempty"`
	IsDefault bool   `json:"is_default"`
}

// AddressDeletedData is the payload for address.deleted.
type AddressDeletedData struct {
	ID string `json:"id"`
}

// DefaultChangedData is the payload for address.default_changed.
type DefaultChangedData struct {
	ID      string `json:"id"`
	OwnerID string `json:"owner_id"`
}

// Producer publishes address domain events to Kafka.
type Producer struct {
	kafka  Publisher
	logger *slog.Logger
}

// NewProducer creates a new event producer for the address service.
func NewProducer(kafka Publisher, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishAddressCreated publishes an address.created event.
func (p *Producer) PublishAddressCreated(ctx context.Context, a *domain.Address) error {
	return p.publish(ctx, TopicAddressCreated, a.ID, a.OwnerID, addressData(a))
}

// PublishAddressUpdated publishes an address.updated event.
func (p *Producer) PublishAddressUpdated(ctx context.Context, a *domain.Address) error {
	return p.publish(ctx, TopicAddressUpdated, a.ID, a.OwnerID, addressData(a))
}

// PublishAddressDeleted publishes an address.deleted event.
func (p *Producer) PublishAddressDeleted(ctx context.Context, id string) error {
	return p.publish(ctx, TopicAddressDeleted, id, "", AddressDeletedData{ID: id})
}

// PublishDefaultChanged publishes an address.default_changed event.
func (p *Producer) PublishDefaultChanged(ctx context.Context, id, ownerID string) error {
	return p.publish(ctx, TopicAddressDefaultChanged, id, ownerID, DefaultChangedData{ID: id, OwnerID: ownerID})
}

// publish keys events by owner when it is known, so one owner's default
// switches reach consumers in order.
func (p *Producer) publish(ctx context.Context, topic, addressID, ownerID string, data any) error {
	event, err := pkgkafka.NewEvent(topic, AggregateTypeAddress, addressID, SourceAddressService, data,
		pkgkafka.WithOwner(ownerID),
		pkgkafka.WithCorrelationID(logger.CorrelationIDFromContext(ctx)),
	)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}

	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published address event",
		slog.String("topic", topic),
		slog.String("address_id", addressID),
	)
	return nil
}

func addressData(a *domain.Address) AddressData {
	return AddressData{
		ID:        a.ID,
		OwnerID:   a.OwnerID,
		Kind:      string(a.Kind),
		City:      a.City,
		Region:    a.Region,
		IsDefault: a.IsDefault,
	}
}
