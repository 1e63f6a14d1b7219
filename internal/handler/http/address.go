package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/charmntreats/addressvault/internal/domain"
	"github.com/charmntreats/addressvault/pkg/httputil"
	"github.com/charmntreats/addressvault/pkg/middleware"
	"github.com/charmntreats/addressvault/pkg/validator"
)

// AddressService is the part of the address coordinator the HTTP layer uses.
type AddressService interface {
	ListAddresses(ctx context.Context, ownerID string) ([]domain.Address, error)
	GetDefaultAddress(ctx context.Context, ownerID string) (*domain.Address, error)
	AddAddress(ctx context.Context, addr domain.Address) (*domain.Address, error)
	UpdateAddress(ctx context.Context, id string, patch domain.AddressPatch) (*domain.Address, error)
	DeleteAddress(ctx context.Context, id string) error
	SetDefaultAddress(ctx context.Context, id, ownerID string) error
	EnsureOwned(ctx context.Context, ownerID, id string) error
}

// AddressHandler serves the owner-scoped address endpoints.
type AddressHandler struct {
	service AddressService
	logger  *slog.Logger
}

// NewAddressHandler creates a new address handler.
func NewAddressHandler(service AddressService, logger *slog.Logger) *AddressHandler {
	return &AddressHandler{service: service, logger: logger}
}

// --- Request DTOs ---

// CreateAddressRequest is the JSON request body for creating an address.
type CreateAddressRequest struct {
	Kind          string `json:"kind" validate:"omitempty,oneof=Home Work Other home work other"`
	RecipientName string `json:"recipient_name" validate:"required,notblank,max=200"`
	Street        string `json:"street" validate:"required,notblank,max=500"`
	City          string `json:"city" validate:"required,notblank,max=100"`
	Region        string `json:"region" validate:"omitempty,max=100"`
	PostalCode    string `json:"postal_code" validate:"required,notblank,max=20"`
	Phone         string `json:"phone" validate:"omitempty,phone"`
	IsDefault     bool   `json:"is_default"`
}

// UpdateAddressRequest is the JSON request body for updating an address.
// Omitted fields keep their current value.
type UpdateAddressRequest struct {
	Kind          *string `json:"kind" validate:"omitempty,oneof=Home Work Other home work other"`
	RecipientName *string `json:"recipient_name" validate:"omitempty,notblank,max=200"`
	Street        *string `json:"street" validate:"omitempty,notblank,max=500"`
	City          *string `json:"city" validate:"omitempty,notblank,max=100"`
	Region        *string `json:"region" validate:"omitempty,max=100"`
	PostalCode    *string `json:"postal_code" validate:"omitempty,notblank,max=20"`
	Phone         *string `json:"phone" validate:"omitempty,phone"`
	IsDefault     *bool   `json:"is_default"`
}

func (req CreateAddressRequest) toDomain(ownerID string) domain.Address {
	kind := domain.KindHome
	if req.Kind != "" {
		kind, _ = domain.ParseKind(req.Kind)
	}
	return domain.Address{
		OwnerID:       ownerID,
		Kind:          kind,
		RecipientName: req.RecipientName,
		Street:        req.Street,
		City:          req.City,
		Region:        req.Region,
		PostalCode:    req.PostalCode,
		Phone:         req.Phone,
		IsDefault:     req.IsDefault,
	}
}

func (req UpdateAddressRequest) toPatch() domain.AddressPatch {
	patch := domain.AddressPatch{
		RecipientName: req.RecipientName,
		Street:        req.Street,
		City:          req.City,
		Region:        req.Region,
		PostalCode:    req.PostalCode,
		Phone:         req.Phone,
		IsDefault:     req.IsDefault,
	}
	if req.Kind != nil {
		if k, err := domain.ParseKind(*req.Kind); err == nil {
			patch.Kind = &k
		}
	}
	return patch
}

// --- Handlers ---

// List handles GET /api/v1/addresses
func (h *AddressHandler) List(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}

	addresses, err := h.service.ListAddresses(r.Context(), ownerID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: addresses})
}

// GetDefault handles GET /api/v1/addresses/default
func (h *AddressHandler) GetDefault(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}

	addr, err := h.service.GetDefaultAddress(r.Context(), ownerID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	if addr == nil {
		httputil.WriteJSON(w, http.StatusNotFound, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "NOT_FOUND", Message: "no default address"},
		})
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: addr})
}

// Create handles POST /api/v1/addresses
func (h *AddressHandler) Create(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return
	}

	var req CreateAddressRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	addr, err := h.service.AddAddress(r.Context(), req.toDomain(ownerID))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: addr})
}

// Update handles PUT /api/v1/addresses/{id}
func (h *AddressHandler) Update(w http.ResponseWriter, r *http.Request) {
	ownerID, id, ok := h.ownedAddress(w, r)
	if !ok {
		return
	}

	var req UpdateAddressRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}
	if err := h.service.EnsureOwned(r.Context(), ownerID, id); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	addr, err := h.service.UpdateAddress(r.Context(), id, req.toPatch())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: addr})
}

// Delete handles DELETE /api/v1/addresses/{id}
func (h *AddressHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ownerID, id, ok := h.ownedAddress(w, r)
	if !ok {
		return
	}
	if err := h.service.EnsureOwned(r.Context(), ownerID, id); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	if err := h.service.DeleteAddress(r.Context(), id); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// SetDefault handles PUT /api/v1/addresses/{id}/default
func (h *AddressHandler) SetDefault(w http.ResponseWriter, r *http.Request) {
	ownerID, id, ok := h.ownedAddress(w, r)
	if !ok {
		return
	}

	if err := h.service.SetDefaultAddress(r.Context(), id, ownerID); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *AddressHandler) owner(w http.ResponseWriter, r *http.Request) (string, bool) {
	ownerID := middleware.OwnerIDFromContext(r.Context())
	if ownerID == "" {
		httputil.WriteJSON(w, http.StatusUnauthorized, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "UNAUTHORIZED", Message: "user not authenticated"},
		})
		return "", false
	}
	return ownerID, true
}

func (h *AddressHandler) ownedAddress(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	ownerID, ok := h.owner(w, r)
	if !ok {
		return "", "", false
	}
	id := chi.URLParam(r, "id")
	if id == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "address id is required"},
		})
		return "", "", false
	}
	return ownerID, id, true
}
