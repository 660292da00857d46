// Package http holds the read-only REST handlers next to the WebSocket gateway.
package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/WatchParty/internal/core"
	"github.com/dkeye/WatchParty/internal/domain"
	"github.com/dkeye/WatchParty/internal/history"
)

// RoomStats is what the handlers need from the room registry.
type RoomStats interface {
	Get(id domain.RoomID) (core.RoomService, bool)
	List() []core.RoomInfo
	Stats() (rooms, members int)
}

type Handlers struct {
	Rooms        RoomStats
	History      history.Store
	Sessions     func() int
	DefaultLimit int
}

type StatsResponse struct {
	Rooms       int `json:"rooms"`
	Members     int `json:"members"`
	Connections int `json:"connections"`
}

type MembersResponse struct {
	Room    domain.RoomID    `json:"room"`
	Members []core.MemberDTO `json:"members"`
	Count   int              `json:"count"`
}

type MessagesResponse struct {
	Room     domain.RoomID        `json:"room"`
	Messages []domain.ChatMessage `json:"messages"`
}

func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/rooms", h.ListRooms)
	r.GET("/stats", h.Stats)
	r.GET("/rooms/:id/members", h.Members)
	r.GET("/rooms/:id/messages", h.Messages)
}

func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handlers) ListRooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": h.Rooms.List()})
}

func (h *Handlers) Stats(c *gin.Context) {
	rooms, members := h.Rooms.Stats()
	resp := StatsResponse{Rooms: rooms, Members: members}
	if h.Sessions != nil {
		resp.Connections = h.Sessions()
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handlers) Members(c *gin.Context) {
	id, ok := roomParam(c)
	if !ok {
		return
	}
	resp := MembersResponse{Room: id, Members: []core.MemberDTO{}}
	if room, found := h.Rooms.Get(id); found {
		resp.Members = room.MembersSnapshot()
		resp.Count = len(resp.Members)
	}
	c.JSON(http.StatusOK, resp)
}

// Messages returns the newest page of a room's chat, oldest first.
func (h *Handlers) Messages(c *gin.Context) {
	id, ok := roomParam(c)
	if !ok {
		return
	}
	limit := h.DefaultLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}

	msgs, err := h.History.List(c.Request.Context(), id, history.ClampLimit(limit))
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Str("room", string(id)).Msg("history list")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "history unavailable"})
		return
	}
	c.JSON(http.StatusOK, MessagesResponse{Room: id, Messages: msgs})
}

func roomParam(c *gin.Context) (domain.RoomID, bool) {
	id := domain.RoomID(c.Param("id"))
	if err := id.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", false
	}
	return id, true
}
