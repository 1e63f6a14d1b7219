package kafka

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type cityChanged struct {
	AddressID string `json:"address_id"`
	City      string `json:"city"`
}

func TestNewEvent_Envelope(t *testing.T) {
	e, err := NewEvent("storefront.address.updated", "address", "addr-7", "address-service",
		cityChanged{AddressID: "addr-7", City: "Braga"},
		WithOwner("owner-3"), WithCorrelationID("corr-9"))
	require.NoError(t, err)

	assert.NotEmpty(t, e.EventID)
	assert.Equal(t, EnvelopeVersion, e.Version)
	assert.Equal(t, "owner-3", e.OwnerID)
	assert.Equal(t, "corr-9", e.CorrelationID)
	assert.WithinDuration(t, time.Now(), e.OccurredAt, 2*time.Second)
	assert.JSONEq(t, `{"address_id":"addr-7","city":"Braga"}`, string(e.Data))
}

func TestNewEvent_Rejects(t *testing.T) {
	_, err := NewEvent("storefront.address.deleted", "address", "", "address-service", nil)
	assert.Error(t, err, "aggregate id is required")

	_, err = NewEvent("storefront.address.created", "address", "addr-1", "address-service", func() {})
	assert.Error(t, err, "payload must be JSON encodable")
}

func TestEvent_PartitionKey(t *testing.T) {
	withOwner, err := NewEvent("t", "address", "addr-1", "s", nil, WithOwner("owner-1"))
	require.NoError(t, err)
	assert.Equal(t, "owner-1", string(withOwner.PartitionKey()))

	bare, err := NewEvent("t", "address", "addr-1", "s", nil)
	require.NoError(t, err)
	assert.Equal(t, "addr-1", string(bare.PartitionKey()))
}

func TestDecodeEvent(t *testing.T) {
	e, err := DecodeEvent([]byte(`{"event_id":"e1","event_type":"storefront.address.default_changed",
		"aggregate_id":"addr-2","owner_id":"owner-1","version":1,"data":{"id":"addr-2","owner_id":"owner-1"}}`))
	require.NoError(t, err)
	assert.Equal(t, "owner-1", e.OwnerID)

	var data struct {
		ID string `json:"id"`
	}
	require.NoError(t, e.DecodeData(&data))
	assert.Equal(t, "addr-2", data.ID)

	_, err = DecodeEvent([]byte(`{"event_id":"e2","version":2}`))
	assert.ErrorContains(t, err, "unsupported envelope version")

	_, err = DecodeEvent([]byte(`{broken`))
	assert.Error(t, err)
}
