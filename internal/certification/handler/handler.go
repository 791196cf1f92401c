package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"badal/internal/certification/models"
	"badal/internal/trust"
	id "badal/pkg/domain"
	dErrors "badal/pkg/domain-errors"
	"badal/pkg/platform/httputil"
	"badal/pkg/requestcontext"
)

// Service is the certification lifecycle the handler drives.
type Service interface {
	Get(ctx context.Context, actor id.Actor, providerID id.ProviderID) (*models.PilgrimCertification, error)
	ListByStatus(ctx context.Context, actor id.Actor, status models.Status) ([]*models.PilgrimCertification, error)
	ListSuspensionRecommendations(ctx context.Context, actor id.Actor) ([]*models.PilgrimCertification, error)
	CapacityUsage(ctx context.Context, actor id.Actor, providerID id.ProviderID) (*models.CapacityUsage, error)
	UpdateDraft(ctx context.Context, actor id.Actor, providerID id.ProviderID, draft models.Draft) (*models.PilgrimCertification, error)
	Submit(ctx context.Context, actor id.Actor, providerID id.ProviderID) (*models.PilgrimCertification, error)
	Approve(ctx context.Context, actor id.Actor, providerID id.ProviderID, notes string) (*models.PilgrimCertification, error)
	Return(ctx context.Context, actor id.Actor, providerID id.ProviderID, notes string) (*models.PilgrimCertification, error)
	Suspend(ctx context.Context, actor id.Actor, providerID id.ProviderID, reason string) (*models.PilgrimCertification, error)
	Reinstate(ctx context.Context, actor id.Actor, providerID id.ProviderID, target models.Status) (*models.PilgrimCertification, error)
	RecordViolation(ctx context.Context, actor id.Actor, providerID id.ProviderID, severity trust.Severity, reason string) (*models.PilgrimCertification, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterProviderRoutes mounts the routes a provider uses on their own record.
func (h *Handler) RegisterProviderRoutes(r chi.Router) {
	r.Get("/pilgrim/certification", h.HandleGetOwn)
	r.Put("/pilgrim/certification", h.HandleUpdateDraft)
	r.Post("/pilgrim/certification/submit", h.HandleSubmit)
	r.Get("/pilgrim/certification/capacity", h.HandleCapacity)
}

// RegisterReviewerRoutes mounts the scholar and admin review routes.
func (h *Handler) RegisterReviewerRoutes(r chi.Router) {
	r.Get("/admin/certifications", h.HandleList)
	r.Get("/admin/certifications/recommendations", h.HandleRecommendations)
	r.Get("/admin/certifications/{providerID}", h.HandleGet)
	r.Post("/admin/certifications/{providerID}/approve", h.HandleApprove)
	r.Post("/admin/certifications/{providerID}/return", h.HandleReturn)
	r.Post("/admin/certifications/{providerID}/suspend", h.HandleSuspend)
	r.Post("/admin/certifications/{providerID}/reinstate", h.HandleReinstate)
	r.Post("/admin/certifications/{providerID}/violations", h.HandleViolation)
}

func selfProvider(actor id.Actor) id.ProviderID {
	return id.ProviderID(actor.ID)
}

func (h *Handler) HandleGetOwn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := requestcontext.Actor(ctx)
	c, err := h.service.Get(ctx, actor, selfProvider(actor))
	if err != nil {
		h.fail(w, r, "get certification failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(c))
}

func (h *Handler) HandleUpdateDraft(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	actor := requestcontext.Actor(ctx)

	req, ok := httputil.DecodeAndPrepare[DraftRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	c, err := h.service.UpdateDraft(ctx, actor, selfProvider(actor), req.Draft())
	if err != nil {
		h.fail(w, r, "update draft failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(c))
}

func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := requestcontext.Actor(ctx)
	c, err := h.service.Submit(ctx, actor, selfProvider(actor))
	if err != nil {
		h.fail(w, r, "submit failed", err)
		return
	}
	h.logger.InfoContext(ctx, "certification submitted",
		"request_id", requestcontext.RequestID(ctx),
		"provider_id", c.ProviderID,
	)
	httputil.WriteJSON(w, http.StatusOK, toResponse(c))
}

func (h *Handler) HandleCapacity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := requestcontext.Actor(ctx)
	usage, err := h.service.CapacityUsage(ctx, actor, selfProvider(actor))
	if err != nil {
		h.fail(w, r, "capacity usage failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, usage)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := models.StatusUnderReview
	if raw := r.URL.Query().Get("status"); raw != "" {
		parsed, err := models.ParseStatus(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		status = parsed
	}
	list, err := h.service.ListByStatus(ctx, requestcontext.Actor(ctx), status)
	if err != nil {
		h.fail(w, r, "list certifications failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toListResponse(list))
}

func (h *Handler) HandleRecommendations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	list, err := h.service.ListSuspensionRecommendations(ctx, requestcontext.Actor(ctx))
	if err != nil {
		h.fail(w, r, "list recommendations failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toListResponse(list))
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	providerID, ok := h.providerParam(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	c, err := h.service.Get(ctx, requestcontext.Actor(ctx), providerID)
	if err != nil {
		h.fail(w, r, "get certification failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(c))
}

func (h *Handler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	providerID, ok := h.providerParam(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[NotesRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	c, err := h.service.Approve(ctx, requestcontext.Actor(ctx), providerID, req.Notes)
	if err != nil {
		h.fail(w, r, "approve failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(c))
}

func (h *Handler) HandleReturn(w http.ResponseWriter, r *http.Request) {
	providerID, ok := h.providerParam(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[NotesRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	c, err := h.service.Return(ctx, requestcontext.Actor(ctx), providerID, req.Notes)
	if err != nil {
		h.fail(w, r, "return failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(c))
}

func (h *Handler) HandleSuspend(w http.ResponseWriter, r *http.Request) {
	providerID, ok := h.providerParam(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[SuspendRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	c, err := h.service.Suspend(ctx, requestcontext.Actor(ctx), providerID, req.Reason)
	if err != nil {
		h.fail(w, r, "suspend failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(c))
}

func (h *Handler) HandleReinstate(w http.ResponseWriter, r *http.Request) {
	providerID, ok := h.providerParam(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[ReinstateRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	c, err := h.service.Reinstate(ctx, requestcontext.Actor(ctx), providerID, req.target)
	if err != nil {
		h.fail(w, r, "reinstate failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(c))
}

func (h *Handler) HandleViolation(w http.ResponseWriter, r *http.Request) {
	providerID, ok := h.providerParam(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[ViolationRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	c, err := h.service.RecordViolation(ctx, requestcontext.Actor(ctx), providerID, req.severity, req.Reason)
	if err != nil {
		h.fail(w, r, "record violation failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(c))
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
