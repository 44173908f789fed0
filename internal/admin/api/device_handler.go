package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"sidgate/internal/admin/model"
	"sidgate/internal/link"
)

func (h *Handler) state() model.DeviceState {
	l := h.gw.Link()
	version, supported := h.gw.Version()
	st := model.DeviceState{
		State:     l.State().String(),
		Version:   version,
		Supported: supported,
		Session:   h.gw.Session().State().String(),
		Playback:  l.PlaybackActive(),
		Muted:     h.gw.Session().Muted(),
	}
	if id, ok := l.Identity(); ok {
		st.Identity = &id
	}
	return st
}

// GetDevice 连接状态和固件版本
func (h *Handler) GetDevice(c *gin.Context) {
	c.JSON(http.StatusOK, h.state())
}

// DiscoverDevices 列出可用设备, 不改变连接状态
func (h *Handler) DiscoverDevices(c *gin.Context) {
	ids, err := h.gw.Link().Discover(c.Request.Context())
	if err != nil {
		h.deviceError(c, "discover", err)
		return
	}
	if ids == nil {
		ids = []link.Identity{}
	}
	c.JSON(http.StatusOK, ids)
}

// ConnectDevice HTTP 请求本身就是一次用户操作
func (h *Handler) ConnectDevice(c *gin.Context) {
	id, err := h.gw.Connect(c.Request.Context(), link.NewUserGesture("admin:"+c.ClientIP()))
	if err != nil {
		h.deviceError(c, "connect", err)
		return
	}
	h.logger.Info("管理接口连接设备", zap.String("device", id.Name()))
	c.JSON(http.StatusOK, h.state())
}

func (h *Handler) DisconnectDevice(c *gin.Context) {
	if err := h.gw.Disconnect(); err != nil {
		h.logger.Warn("断开设备时出错", zap.Error(err))
	}
	c.JSON(http.StatusOK, h.state())
}

// ForgetDevice 断开并删除保存的设备标识
func (h *Handler) ForgetDevice(c *gin.Context) {
	h.gw.ForgetVersion()
	if err := h.gw.Link().Forget(); err != nil {
		errorResponse(c, http.StatusInternalServerError, "删除设备标识失败: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, h.state())
}
