package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yoockh/thinkprobe/internal/cache"
	"github.com/yoockh/thinkprobe/internal/events"
	"github.com/yoockh/thinkprobe/internal/utils"
)

// LiveHandler serves the cached live state of a session, which may be running
// in another process on the device.
type LiveHandler struct {
	cache cache.Cache
}

func NewLiveHandler(c cache.Cache) *LiveHandler {
	return &LiveHandler{cache: c}
}

func (h *LiveHandler) Get(c *gin.Context) {
	const op = "LiveHandler.Get"

	id := c.Param("session_id")
	if id == "" {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "missing session_id", nil))
		return
	}

	var st events.LiveState
	hit, err := h.cache.GetJSON(c.Request.Context(), events.LiveKey(id), &st)
	if err != nil {
		writeError(c, utils.E(utils.CodeUnavailable, op, "live state unavailable", err))
		return
	}
	if !hit {
		writeError(c, utils.E(utils.CodeNotFound, op, "no live state for session", nil))
		return
	}
	c.Set("session_id", id)
	c.JSON(http.StatusOK, st)
}
