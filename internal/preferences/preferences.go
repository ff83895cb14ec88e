// Package preferences stores the global settings shared by every instance.
package preferences

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/aura-webinar/recordings/internal/models"
	"github.com/aura-webinar/recordings/pkg/apperr"
	"github.com/aura-webinar/recordings/pkg/dualwrite"
	"github.com/aura-webinar/recordings/pkg/response"
)

var preferencesKey = dualwrite.Key{Path: "global/preferences.json", CacheKey: "preferences:global"}

// Repository persists the global preferences as one entity.
type Repository struct {
	store    *dualwrite.Store
	validate *validator.Validate
}

// NewRepository creates a preferences repository on store.
func NewRepository(store *dualwrite.Store) *Repository {
	return &Repository{store: store, validate: validator.New()}
}

// Get returns the stored preferences, or the defaults when none were saved.
func (r *Repository) Get(ctx context.Context) (models.Preferences, error) {
	var p models.Preferences
	err := r.store.Get(ctx, preferencesKey, &p)
	if errors.Is(err, dualwrite.ErrNotFound) {
		return models.DefaultPreferences(), nil
	}
	if err != nil {
		return models.Preferences{}, err
	}
	return p, nil
}

// Save validates and stores p.
func (r *Repository) Save(ctx context.Context, p models.Preferences) error {
	if err := r.validate.Struct(p); err != nil {
		return apperr.Wrap(apperr.KindValidation, "invalid preferences: "+err.Error(), err)
	}
	return r.store.Save(ctx, preferencesKey, p)
}

// Handler handles the preferences endpoints.
type Handler struct {
	repo   *Repository
	logger *zap.Logger
}

// NewHandler creates a preferences handler.
func NewHandler(repo *Repository, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, logger: logger}
}

// Get handles GET /preferences.
func (h *Handler) Get(c *gin.Context) {
	p, err := h.repo.Get(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, p)
}

// Update handles PUT /preferences (admin only).
func (h *Handler) Update(c *gin.Context) {
	var p models.Preferences
	if err := c.ShouldBindJSON(&p); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if err := h.repo.Save(c.Request.Context(), p); err != nil {
		h.logger.Warn("save preferences failed", zap.Error(err))
		response.Error(c, err)
		return
	}
	response.OK(c, p)
}
