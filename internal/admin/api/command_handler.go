package api

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"sidgate/internal/codec"
)

func keys(m map[string]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ListCommands 可用的预设和命令名
func (h *Handler) ListCommands(c *gin.Context) {
	commands := append(keys(codec.ConfigButtons), keys(codec.SimpleCommands)...)
	sort.Strings(commands)
	c.JSON(http.StatusOK, gin.H{
		"presets":  keys(codec.Presets),
		"commands": commands,
		"playback": []string{"play", "resume", "pause", "stop", "load"},
	})
}

func (h *Handler) ApplyPreset(c *gin.Context) {
	if err := h.gw.ApplyPreset(c.Request.Context(), c.Param("name")); err != nil {
		h.deviceError(c, "preset", err)
		return
	}
	ok(c)
}

func (h *Handler) RunCommand(c *gin.Context) {
	if err := h.gw.RunCommand(c.Request.Context(), c.Param("name")); err != nil {
		h.deviceError(c, "command", err)
		return
	}
	ok(c)
}

// ToggleMute 静音开关, 播放中也可以使用
func (h *Handler) ToggleMute(c *gin.Context) {
	if err := h.gw.ToggleMute(c.Request.Context()); err != nil {
		h.deviceError(c, "toggle_mute", err)
		return
	}
	c.JSON(http.StatusOK, h.state())
}

// Playback 播放方通知: play, resume, pause, stop, load
func (h *Handler) Playback(c *gin.Context) {
	if err := h.gw.Playback(c.Request.Context(), c.Param("event")); err != nil {
		h.deviceError(c, "playback", err)
		return
	}
	c.JSON(http.StatusOK, h.state())
}
