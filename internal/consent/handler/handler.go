package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	consentmodels "healthvault/internal/consent/models"
	"healthvault/pkg/platform/httputil"
)

// Catalogue is the read-only surface of the consent ledger exposed over HTTP.
type Catalogue interface {
	GetConsentDefinitions() []consentmodels.Definition
	PolicyVersion() string
}

// Handler serves the static consent catalogue. It never reads user records.
type Handler struct {
	logger    *slog.Logger
	catalogue Catalogue
}

// New creates a new consent Handler.
func New(catalogue Catalogue, logger *slog.Logger) *Handler {
	return &Handler{
		logger:    logger,
		catalogue: catalogue,
	}
}

// DefinitionsResponse is the body of GET /v1/consent/definitions.
type DefinitionsResponse struct {
	PolicyVersion string                     `json:"policy_version"`
	Definitions   []consentmodels.Definition `json:"definitions"`
}

// Register registers the consent routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/v1/consent/definitions", h.handleDefinitions)
}

func (h *Handler) handleDefinitions(w http.ResponseWriter, r *http.Request) {
	defs := h.catalogue.GetConsentDefinitions()
	h.logger.DebugContext(r.Context(), "consent definitions served", "count", len(defs))
	httputil.WriteJSON(w, http.StatusOK, DefinitionsResponse{
		PolicyVersion: h.catalogue.PolicyVersion(),
		Definitions:   defs,
	})
}
