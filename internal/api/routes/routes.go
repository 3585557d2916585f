package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/yoockh/thinkprobe/internal/api/handlers"
)

type Deps struct {
	Session *handlers.SessionHandler
	WS      *handlers.WSHandler
	// optional; needs a shared cache
	Live *handlers.LiveHandler
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "pong"})
	})

	s := r.Group("/session")
	s.POST("/start", d.Session.Start)
	s.GET("", d.Session.Get)
	s.POST("/mode", d.Session.SetMode)
	s.POST("/frequency", d.Session.SetFrequency)
	s.POST("/mute", d.Session.Mute)
	s.POST("/unmute", d.Session.Unmute)
	s.POST("/end/confirm", d.Session.ConfirmEnd)
	s.POST("/end/dismiss", d.Session.DismissEnd)
	s.POST("/stop", d.Session.Stop)
	if d.Live != nil {
		s.GET("/:session_id/live", d.Live.Get)
	}

	r.GET("/ws/session", d.WS.SessionWS)
}
