// Package handler exposes the capacity allocator to the booking service.
// Every route here is mounted behind the system role.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"badal/internal/capacity/models"
	id "badal/pkg/domain"
	dErrors "badal/pkg/domain-errors"
	"badal/pkg/platform/httputil"
	"badal/pkg/requestcontext"
)

type Service interface {
	TryReserveSlot(ctx context.Context, providerID id.ProviderID, bookingID id.BookingID) (*models.ReserveResult, error)
	ReleaseSlot(ctx context.Context, providerID id.ProviderID, reservationID id.ReservationID) (*models.ReleaseResult, error)
	ReleaseForBooking(ctx context.Context, providerID id.ProviderID, bookingID id.BookingID) (*models.ReleaseResult, error)
	ListActiveReservations(ctx context.Context, providerID id.ProviderID) ([]*models.Reservation, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/internal/providers/{providerID}/reservations", h.HandleReserve)
	r.Get("/internal/providers/{providerID}/reservations", h.HandleListActive)
	r.Delete("/internal/providers/{providerID}/reservations/{reservationID}", h.HandleRelease)
	r.Post("/internal/providers/{providerID}/bookings/{bookingID}/release", h.HandleReleaseForBooking)
}

type ReserveRequest struct {
	BookingID string `json:"booking_id"`

	bookingID id.BookingID
}

func (r *ReserveRequest) Validate() error {
	parsed, err := id.ParseBookingID(r.BookingID)
	if err != nil {
		return err
	}
	r.bookingID = parsed
	return nil
}

type reservationListResponse struct {
	Reservations []*models.Reservation `json:"reservations"`
	Count        int                   `json:"count"`
}

func (h *Handler) HandleReserve(w http.ResponseWriter, r *http.Request) {
	providerID, ok := h.providerParam(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[ReserveRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	res, err := h.service.TryReserveSlot(ctx, providerID, req.bookingID)
	if err != nil {
		h.fail(w, r, "reserve slot failed", err)
		return
	}
	status := http.StatusCreated
	if res.Existing {
		status = http.StatusOK
	}
	httputil.WriteJSON(w, status, res)
}

func (h *Handler) HandleListActive(w http.ResponseWriter, r *http.Request) {
	providerID, ok := h.providerParam(w, r)
	if !ok {
		return
	}
	list, err := h.service.ListActiveReservations(r.Context(), providerID)
	if err != nil {
		h.fail(w, r, "list reservations failed", err)
		return
	}
	if list == nil {
		list = []*models.Reservation{}
	}
	httputil.WriteJSON(w, http.StatusOK, reservationListResponse{Reservations: list, Count: len(list)})
}

func (h *Handler) HandleRelease(w http.ResponseWriter, r *http.Request) {
	providerID, ok := h.providerParam(w, r)
	if !ok {
		return
	}
	reservationID, err := id.ParseReservationID(chi.URLParam(r, "reservationID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	res, err := h.service.ReleaseSlot(r.Context(), providerID, reservationID)
	if err != nil {
		h.fail(w, r, "release slot failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) HandleReleaseForBooking(w http.ResponseWriter, r *http.Request) {
	providerID, ok := h.providerParam(w, r)
	if !ok {
		return
	}
	bookingID, err := id.ParseBookingID(chi.URLParam(r, "bookingID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	res, err := h.service.ReleaseForBooking(r.Context(), providerID, bookingID)
	if err != nil {
		h.fail(w, r, "release for booking failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *Handler) providerParam(w http.ResponseWriter, r *http.Request) (id.ProviderID, bool) {
	providerID, err := id.ParseProviderID(chi.URLParam(r, "providerID"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.ProviderID{}, false
	}
	return providerID, true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	ctx := r.Context()
	level := slog.LevelWarn
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		level = slog.LevelError
	}
	h.logger.Log(ctx, level, msg,
		"request_id", requestcontext.RequestID(ctx),
		"path", r.URL.Path,
		"error", err,
	)
	httputil.WriteError(w, err)
}
