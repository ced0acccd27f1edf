package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"idresolve/internal/contact/models"
	"idresolve/pkg/platform/httputil"
	"idresolve/pkg/requestcontext"
)

// Service defines the contact operations the handler serves.
type Service interface {
	Identify(ctx context.Context, email, phoneNumber string) (models.Identity, error)
	Lookup(ctx context.Context, id models.ContactID) (models.Identity, error)
}

// Handler serves the contact identity endpoints.
type Handler struct {
	logger  *slog.Logger
	service Service
	limit   []func(http.Handler) http.Handler
}

// New creates a contact Handler. limit wraps the identify routes only.
func New(service Service, logger *slog.Logger, limit ...func(http.Handler) http.Handler) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:  logger,
		service: service,
		limit:   limit,
	}
}

// Register mounts the contact routes on r, both at the root and under /api.
func (h *Handler) Register(r chi.Router) {
	routes := func(r chi.Router) {
		r.With(h.limit...).Post("/identify", h.handleIdentify)
		r.Get("/contacts/{id}", h.handleGetContact)
	}
	r.Group(routes)
	r.Route("/api", routes)
}

func (h *Handler) handleIdentify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[IdentifyRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	identity, err := h.service.Identify(ctx, string(req.Email), string(req.PhoneNumber))
	if err != nil {
		// The service has already logged the cause.
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, NewIdentityResponse(identity))
}

func (h *Handler) handleGetContact(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := models.ParseContactID(chi.URLParam(r, "id"))
	if err != nil {
		h.logger.WarnContext(ctx, "invalid contact id",
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, err)
		return
	}

	identity, err := h.service.Lookup(ctx, id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, NewIdentityResponse(identity))
}
