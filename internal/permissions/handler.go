package permissions

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/glueful/accessd/internal/rbac"
	"github.com/glueful/accessd/internal/shared"
)

// Handler wires HTTP endpoints for the permission catalog.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Post("/", h.handleEnsure)
	r.Get("/{slug}", h.handleGet)
	r.Delete("/{slug}", h.handleDelete)
}

type permissionView struct {
	Slug         string `json:"slug"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	Category     string `json:"category,omitempty"`
	ResourceType string `json:"resource_type,omitempty"`
	IsSystem     bool   `json:"is_system"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	page, _ := strconv.Atoi(query.Get("page"))
	perPage, _ := strconv.Atoi(query.Get("per_page"))
	perms, pagination, err := h.service.List(r.Context(), ListFilters{
		Category: query.Get("category"),
		Search:   query.Get("q"),
		Page:     page,
		PerPage:  perPage,
	})
	if err != nil {
		h.logger.Error("list permissions", slog.Any("error", err))
		h.writeError(w, http.StatusInternalServerError, "could not list permissions")
		return
	}
	views := make([]permissionView, 0, len(perms))
	for _, perm := range perms {
		views = append(views, toView(perm))
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"permissions": views,
		"pagination": map[string]int{
			"page":        pagination.Page,
			"per_page":    pagination.PerPage,
			"total":       pagination.Total,
			"total_pages": pagination.TotalPages,
		},
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	perm, err := h.service.Get(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		h.mapError(w, err, "get permission")
		return
	}
	h.writeJSON(w, http.StatusOK, toView(*perm))
}

type ensureRequest struct {
	Slug         string `json:"slug" validate:"required"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	Category     string `json:"category"`
	ResourceType string `json:"resource_type"`
}

func (h *Handler) handleEnsure(w http.ResponseWriter, r *http.Request) {
	var req ensureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	perm, err := h.service.Ensure(r.Context(), CreateInput{
		Slug:         req.Slug,
		Name:         req.Name,
		Description:  req.Description,
		Category:     req.Category,
		ResourceType: req.ResourceType,
	})
	if err != nil {
		h.mapError(w, err, "ensure permission")
		return
	}
	h.writeJSON(w, http.StatusCreated, toView(*perm))
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "slug")); err != nil {
		h.mapError(w, err, "delete permission")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) mapError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "permission not found")
	case errors.Is(err, rbac.ErrSystemProtected):
		h.writeError(w, http.StatusForbidden, "system permission is protected")
	case errors.Is(err, shared.ErrValidation):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		h.writeError(w, http.StatusInternalServerError, op+" failed")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("encode response", slog.Any("error", err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

func toView(perm Permission) permissionView {
	return permissionView{
		Slug:         perm.Slug,
		Name:         perm.Name,
		Description:  perm.Description,
		Category:     perm.Category,
		ResourceType: perm.ResourceType,
		IsSystem:     perm.IsSystem,
	}
}
