package rooms

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/recordings/internal/models"
	"github.com/aura-webinar/recordings/pkg/response"
)

// CreateRequest is the body for POST /rooms.
type CreateRequest struct {
	RoomName string `json:"roomName" binding:"required,max=128"`
}

// Handler handles room HTTP endpoints.
type Handler struct {
	repo    *Repository
	baseURL string
	logger  *zap.Logger
}

// NewHandler creates a room handler. baseURL prefixes the generated access URLs.
func NewHandler(repo *Repository, baseURL string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, baseURL: strings.TrimRight(baseURL, "/"), logger: logger}
}

// Create handles POST /rooms.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	roomID := NewRoomID(req.RoomName)
	room := &models.Room{
		RoomID:       roomID,
		RoomName:     req.RoomName,
		ModeratorURL: h.accessURL(roomID),
		SpeakerURL:   h.accessURL(roomID),
		CreatedAt:    time.Now().UTC(),
	}
	if err := h.repo.Save(c.Request.Context(), room); err != nil {
		h.logger.Error("save room failed", zap.String("room_id", roomID), zap.Error(err))
		response.Error(c, err)
		return
	}
	response.Created(c, room)
}

// Get handles GET /rooms/:roomId.
func (h *Handler) Get(c *gin.Context) {
	room, err := h.repo.Get(c.Request.Context(), c.Param("roomId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, room)
}

// Delete handles DELETE /rooms/:roomId.
func (h *Handler) Delete(c *gin.Context) {
	roomID := c.Param("roomId")
	if _, err := h.repo.Get(c.Request.Context(), roomID); err != nil {
		response.Error(c, err)
		return
	}
	if err := h.repo.Delete(c.Request.Context(), roomID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

func (h *Handler) accessURL(roomID string) string {
	secret := strings.ReplaceAll(uuid.NewString(), "-", "")
	return h.baseURL + "/room/" + roomID + "?secret=" + secret
}
