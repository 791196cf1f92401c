// Package handler serves certificate issuance to the booking service and
// anonymous verification to the public.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"badal/internal/certificate/models"
	id "badal/pkg/domain"
	dErrors "badal/pkg/domain-errors"
	"badal/pkg/platform/httputil"
	"badal/pkg/requestcontext"
)

type Issuer interface {
	IssueCertificate(ctx context.Context, actor id.Actor, bookingID id.BookingID) (*models.IssueResult, error)
}

type Verifier interface {
	Verify(ctx context.Context, code string) (*models.PublicCertificateView, error)
}

type Handler struct {
	issuer   Issuer
	verifier Verifier
	logger   *slog.Logger
}

func New(issuer Issuer, verifier Verifier, logger *slog.Logger) *Handler {
	return &Handler{issuer: issuer, verifier: verifier, logger: logger}
}

// RegisterSystemRoutes mounts issuance. Callers must hold the system or an
// admin role.
func (h *Handler) RegisterSystemRoutes(r chi.Router) {
	r.Post("/internal/bookings/{bookingID}/certificate", h.HandleIssue)
}

// RegisterPublicRoutes mounts verification. No authentication.
func (h *Handler) RegisterPublicRoutes(r chi.Router) {
	r.Get("/verify", h.HandleVerify)
}

func (h *Handler) HandleIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	bookingID, err := id.ParseBookingID(chi.URLParam(r, "bookingID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	res, err := h.issuer.IssueCertificate(ctx, requestcontext.Actor(ctx), bookingID)
	if err != nil {
		level := slog.LevelWarn
		if dErrors.CodeOf(err) == dErrors.CodeInternal {
			level = slog.LevelError
		}
		h.logger.Log(ctx, level, "issue certificate failed",
			"request_id", requestcontext.RequestID(ctx),
			"booking_id", bookingID.String(),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	status := http.StatusCreated
	if res.Reissued {
		status = http.StatusOK
	}
	httputil.WriteJSON(w, status, res)
}

type invalidResponse struct {
	Valid bool `json:"valid"`
}

// HandleVerify answers every failure with the same body so callers learn
// nothing beyond "not valid".
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	view, err := h.verifier.Verify(ctx, r.URL.Query().Get("code"))
	if err != nil {
		if !dErrors.HasCode(err, dErrors.CodeNotFound) {
			h.logger.ErrorContext(ctx, "certificate verification failed",
				"request_id", requestcontext.RequestID(ctx),
				"error", err,
			)
		}
		httputil.WriteJSON(w, http.StatusNotFound, invalidResponse{Valid: false})
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	httputil.WriteJSON(w, http.StatusOK, view)
}
