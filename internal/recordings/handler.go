package recordings

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/aura-webinar/recordings/internal/middleware"
	"github.com/aura-webinar/recordings/internal/models"
	"github.com/aura-webinar/recordings/pkg/response"
)

// StartRequest is the body for POST /recordings.
type StartRequest struct {
	RoomID string `json:"roomId" binding:"required"`
}

// Handler handles recording HTTP endpoints.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a recordings handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

func scopeOf(c *gin.Context) Scope {
	return Scope{RoomID: middleware.RoomScope(c)}
}

// Start handles POST /recordings.
func (h *Handler) Start(c *gin.Context) {
	var req StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	rec, err := h.svc.Start(c.Request.Context(), req.RoomID, scopeOf(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, rec.Public())
}

// Stop handles POST /recordings/:recordingId/stop. 202: the engine is still finalizing.
func (h *Handler) Stop(c *gin.Context) {
	rec, err := h.svc.Stop(c.Request.Context(), c.Param("recordingId"), scopeOf(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, rec.Public())
}

// Get handles GET /recordings/:recordingId.
func (h *Handler) Get(c *gin.Context) {
	rec, err := h.svc.Get(c.Request.Context(), c.Param("recordingId"), scopeOf(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, rec.Public())
}

// List handles GET /recordings?roomId=.
func (h *Handler) List(c *gin.Context) {
	roomID := c.Query("roomId")
	if roomID == "" {
		roomID = middleware.RoomScope(c)
	}
	recs, err := h.svc.List(c.Request.Context(), roomID, scopeOf(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	out := make([]models.Recording, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Public())
	}
	response.OK(c, out)
}

// Delete handles DELETE /recordings/:recordingId.
func (h *Handler) Delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("recordingId"), scopeOf(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// BulkDelete handles DELETE /recordings?recordingIds=a,b,c. A fully successful batch answers 200 with the
// deleted ids; a partial one answers 400 with the deleted ids and the per-id failures.
func (h *Handler) BulkDelete(c *gin.Context) {
	ids, err := ParseIDList(c.Query("recordingIds"))
	if err != nil {
		response.Error(c, err)
		return
	}
	result, err := h.svc.BulkDelete(c.Request.Context(), ids, scopeOf(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	if result.Complete() {
		response.OK(c, gin.H{"deleted": result.Deleted})
		return
	}
	c.JSON(http.StatusBadRequest, response.Body{
		Success: false,
		Error:   "some recordings could not be deleted",
		Data:    result,
	})
}

// MediaURL handles GET /recordings/:recordingId/media-url?secret=. Authorized by the recording secret.
func (h *Handler) MediaURL(c *gin.Context) {
	url, err := h.svc.MediaURL(c.Request.Context(), c.Param("recordingId"), c.Query("secret"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"url": url})
}
