package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"badal/internal/ritual/device"
	"badal/internal/ritual/models"
	id "badal/pkg/domain"
	dErrors "badal/pkg/domain-errors"
	"badal/pkg/platform/httputil"
	"badal/pkg/requestcontext"
)

type Service interface {
	AppendEvent(ctx context.Context, actor id.Actor, bookingID id.BookingID, step string, stepOrder int, ev models.Evidence) (*models.RitualEvent, error)
	MarkVerified(ctx context.Context, actor id.Actor, eventID id.RitualEventID, notes string) (*models.RitualEvent, error)
	ListByBooking(ctx context.Context, actor id.Actor, bookingID id.BookingID) ([]*models.RitualEvent, error)
	ListFlagged(ctx context.Context, actor id.Actor, limit int) ([]*models.RitualEvent, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterProviderRoutes mounts the routes a provider uses while performing
// a booking. Listing is shared with reviewers.
func (h *Handler) RegisterProviderRoutes(r chi.Router) {
	r.Post("/bookings/{bookingID}/ritual-events", h.HandleAppend)
	r.Get("/bookings/{bookingID}/ritual-events", h.HandleListByBooking)
}

func (h *Handler) RegisterReviewerRoutes(r chi.Router) {
	r.Get("/admin/ritual-events/flagged", h.HandleListFlagged)
	r.Post("/admin/ritual-events/{eventID}/verify", h.HandleVerify)
}

type eventListResponse struct {
	Events []*models.RitualEvent `json:"events"`
	Count  int                   `json:"count"`
}

func toList(events []*models.RitualEvent) eventListResponse {
	if events == nil {
		events = []*models.RitualEvent{}
	}
	return eventListResponse{Events: events, Count: len(events)}
}

func (h *Handler) HandleAppend(w http.ResponseWriter, r *http.Request) {
	bookingID, ok := h.bookingParam(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[AppendEventRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	ev := req.evidence
	ev.ClientPlatform = device.ParseUserAgent(requestcontext.UserAgent(ctx))

	e, err := h.service.AppendEvent(ctx, requestcontext.Actor(ctx), bookingID, req.RitualStep, req.StepOrder, ev)
	if err != nil {
		h.fail(w, r, "append ritual event failed", err)
		return
	}
	if e.IsFlagged {
		h.logger.InfoContext(ctx, "ritual event flagged",
			"request_id", requestcontext.RequestID(ctx),
			"event_id", e.ID,
			"flag_reason", e.FlagReason,
		)
	}
	httputil.WriteJSON(w, http.StatusCreated, e)
}

func (h *Handler) HandleListByBooking(w http.ResponseWriter, r *http.Request) {
	bookingID, ok := h.bookingParam(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	list, err := h.service.ListByBooking(ctx, requestcontext.Actor(ctx), bookingID)
	if err != nil {
		h.fail(w, r, "list ritual events failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toList(list))
}

func (h *Handler) HandleListFlagged(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "limit must be a positive integer"))
			return
		}
		limit = n
	}
	list, err := h.service.ListFlagged(ctx, requestcontext.Actor(ctx), limit)
	if err != nil {
		h.fail(w, r, "list flagged events failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toList(list))
}

func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	eventID, err := id.ParseRitualEventID(chi.URLParam(r, "eventID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[VerifyRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	e, err := h.service.MarkVerified(ctx, requestcontext.Actor(ctx), eventID, req.Notes)
	if err != nil {
		h.fail(w, r, "verify ritual event failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, e)
}

func (h *Handler) bookingParam(w http.ResponseWriter, r *http.Request) (id.BookingID, bool) {
	bookingID, err := id.ParseBookingID(chi.URLParam(r, "bookingID"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.BookingID{}, false
	}
	return bookingID, true
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
