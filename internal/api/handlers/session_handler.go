package handlers

import (
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yoockh/thinkprobe/internal/models"
	"github.com/yoockh/thinkprobe/internal/services"
	"github.com/yoockh/thinkprobe/internal/utils"
)

type SessionHandler struct {
	svc services.SessionService
}

func NewSessionHandler(svc services.SessionService) *SessionHandler {
	return &SessionHandler{svc: svc}
}

type StartSessionRequest struct {
	Problem   string `json:"problem"`
	Mode      string `json:"mode"`      // off|passive|active
	Frequency string `json:"frequency"` // rare|balanced|frequent
	EEG       bool   `json:"eeg"`
}

type ModeRequest struct {
	Mode string `json:"mode" binding:"required"`
}

type FrequencyRequest struct {
	Frequency string `json:"frequency" binding:"required"`
}

type MuteRequest struct {
	DurationMS int64 `json:"duration_ms" binding:"required"`
}

type StopResponse struct {
	Session     *models.Session `json:"session"`
	AudioFormat string          `json:"audio_format"`
	AudioBytes  int             `json:"audio_bytes"`
	AudioURL    string          `json:"audio_url,omitempty"`
	EEGChannels []string        `json:"eeg_channels,omitempty"`
}

func (h *SessionHandler) Start(c *gin.Context) {
	var req StartSessionRequest
	if !bindJSON(c, "SessionHandler.Start", &req) {
		return
	}

	st, err := h.svc.Start(c.Request.Context(), services.StartRequest{
		Problem:   req.Problem,
		Mode:      models.Mode(req.Mode),
		Frequency: models.Frequency(req.Frequency),
		EEG:       req.EEG,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.Set("session_id", st.SessionID)
	c.JSON(http.StatusOK, st)
}

func (h *SessionHandler) Get(c *gin.Context) {
	st, err := h.svc.Get(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *SessionHandler) SetMode(c *gin.Context) {
	const op = "SessionHandler.SetMode"

	var req ModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "mode is required", err))
		return
	}
	m, ok := models.ParseMode(req.Mode)
	if !ok {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "mode must be off, passive or active", nil))
		return
	}
	if err := h.svc.SetMode(c.Request.Context(), m); err != nil {
		writeError(c, err)
		return
	}
	h.Get(c)
}

func (h *SessionHandler) SetFrequency(c *gin.Context) {
	const op = "SessionHandler.SetFrequency"

	var req FrequencyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "frequency is required", err))
		return
	}
	f, ok := models.ParseFrequency(req.Frequency)
	if !ok {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "frequency must be rare, balanced or frequent", nil))
		return
	}
	if err := h.svc.SetFrequency(c.Request.Context(), f); err != nil {
		writeError(c, err)
		return
	}
	h.Get(c)
}

func (h *SessionHandler) Mute(c *gin.Context) {
	const op = "SessionHandler.Mute"

	var req MuteRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.DurationMS <= 0 {
		writeError(c, utils.E(utils.CodeInvalidArgument, op, "duration_ms must be > 0", err))
		return
	}
	until, err := h.svc.Mute(c.Request.Context(), time.Duration(req.DurationMS)*time.Millisecond)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"muted_until": until})
}

func (h *SessionHandler) Unmute(c *gin.Context) {
	if err := h.svc.Unmute(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	h.Get(c)
}

func (h *SessionHandler) DismissEnd(c *gin.Context) {
	if err := h.svc.DismissEnd(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	h.Get(c)
}

func (h *SessionHandler) ConfirmEnd(c *gin.Context) {
	a, err := h.svc.ConfirmEnd(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.Set("session_id", a.Session.SessionID)
	c.JSON(http.StatusOK, stopResponse(a))
}

func (h *SessionHandler) Stop(c *gin.Context) {
	a, err := h.svc.Stop(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.Set("session_id", a.Session.SessionID)
	c.JSON(http.StatusOK, stopResponse(a))
}

func stopResponse(a *models.SessionArtifacts) StopResponse {
	out := StopResponse{
		Session:     a.Session,
		AudioFormat: a.AudioFormat,
		AudioBytes:  len(a.Audio),
		AudioURL:    a.AudioURL,
	}
	for ch := range a.EEGSamples {
		out.EEGChannels = append(out.EEGChannels, ch)
	}
	sort.Strings(out.EEGChannels)
	return out
}
