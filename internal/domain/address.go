package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind labels an address. It carries no uniqueness constraint.
type Kind string

const (
	KindHome  Kind = "Home"
	KindWork  Kind = "Work"
	KindOther Kind = "Other"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindHome, KindWork, KindOther:
		return true
	}
	return false
}

// ParseKind parses a kind case-insensitively.
func ParseKind(s string) (Kind, error) {
	for _, k := range []Kind{KindHome, KindWork, KindOther} {
		if strings.EqualFold(s, string(k)) {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown address kind %q", s)
}

// Address is a customer shipping address. ID and timestamps are assigned by
// the storage tier that creates the record.
type Address struct {
	ID            string    `json:"id"`
	OwnerID       string    `json:"owner_id"`
	Kind          Kind      `json:"kind"`
	RecipientName string    `json:"recipient_name"`
	Street        string    `json:"street"`
	City          string    `json:"city"`
	Region        string    `json:"region"`
	PostalCode    string    `json:"postal_code"`
	Phone         string    `json:"phone"`
	IsDefault     bool      `json:"is_default"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// AddressPatch is a partial update. Nil fields are left unchanged.
type AddressPatch struct {
	Kind          *Kind   `json:"kind,omitempty"`
	RecipientName *string `json:"recipient_name,omitempty"`
	Street        *string `json:"street,omitempty"`
	City          *string `json:"city,omitempty"`
	Region        *string `json:"region,omitempty"`
	PostalCode    *string `json:"postal_code,omitempty"`
	Phone         *string `json:"phone,omitempty"`
	IsDefault     *bool   `json:"is_default,omitempty"`
}

// SetsDefault reports whether the patch promotes the address to default.
func (p AddressPatch) SetsDefault() bool {
	return p.IsDefault != nil && *p.IsDefault
}

// Apply merges the non-nil fields of p into a. Timestamps are not touched.
func (p AddressPatch) Apply(a *Address) {
	if p.Kind != nil {
		a.Kind = *p.Kind
	}
	if p.RecipientName != nil {
		a.RecipientName = *p.RecipientName
	}
	if p.Street != nil {
		a.Street = *p.Street
	}
	if p.City != nil {
		a.City = *p.City
	}
	if p.Region != nil {
		a.Region = *p.Region
	}
	if p.PostalCode != nil {
		a.PostalCode = *p.PostalCode
	}
	if p.Phone != nil {
		a.Phone = *p.Phone
	}
	if p.IsDefault != nil {
		a.IsDefault = *p.IsDefault
	}
}

// NewID returns a fresh address id.
func NewID() string {
	return uuid.NewString()
}

// SameContent reports whether a and b hold the same caller-visible fields,
// ignoring timestamps.
func SameContent(a, b Address) bool {
	a.CreatedAt, a.UpdatedAt = time.Time{}, time.Time{}
	b.CreatedAt, b.UpdatedAt = time.Time{}, time.Time{}
	return a == b
}

// SortForList orders addresses the way every tier lists them: the default
// first, then most recently updated. Ties fall back to id for a stable order.
func SortForList(addrs []Address) {
	sort.SliceStable(addrs, func(i, j int) bool {
		if addrs[i].IsDefault != addrs[j].IsDefault {
			return addrs[i].IsDefault
		}
		if !addrs[i].UpdatedAt.Equal(addrs[j].UpdatedAt) {
			return addrs[i].UpdatedAt.After(addrs[j].UpdatedAt)
		}
		return addrs[i].ID < addrs[j].ID
	})
}

// CountDefaults returns how many of addrs owned by ownerID are flagged default.
func CountDefaults(addrs []Address, ownerID string) int {
	n := 0
	for _, a := range addrs {
		if a.OwnerID == ownerID && a.IsDefault {
			n++
		}
	}
	return n
}
