package api

import (
	"bytes"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"sidgate/internal/admin/model"
	"sidgate/internal/regmap"
)

// GetConfig 从设备读取配置, 返回解码结果和规则检查
func (h *Handler) GetConfig(c *gin.Context) {
	report, err := h.gw.Retrieve(c.Request.Context())
	if err != nil {
		h.deviceError(c, "retrieve", err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// ApplyConfig 整块写入 (WRITE_CONFIG), 不保存
func (h *Handler) ApplyConfig(c *gin.Context) {
	var req model.ApplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "无效的请求数据: "+err.Error())
		return
	}
	blob, err := hex.DecodeString(strings.TrimSpace(req.Raw))
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "raw 不是合法的十六进制: "+err.Error())
		return
	}
	if err := h.gw.ApplyConfig(c.Request.Context(), blob); err != nil {
		h.deviceError(c, "apply_config", err)
		return
	}
	h.cachedView(c)
}

// cachedView 返回会话中缓存的配置, 没有缓存时只返回 OK
func (h *Handler) cachedView(c *gin.Context) {
	view, err := h.gw.Session().View()
	if err != nil {
		ok(c)
		return
	}
	c.JSON(http.StatusOK, view)
}

// GetFields 字段表, 读取过配置时带上当前值
func (h *Handler) GetFields(c *gin.Context) {
	blob := h.gw.Session().Blob()
	specs := regmap.Fields()
	out := make([]model.FieldInfo, 0, len(specs))
	for _, f := range specs {
		info := model.FieldInfo{
			Name:     f.Name,
			Group:    f.Group,
			Offset:   f.Offset,
			Mode:     f.Mode.String(),
			Writable: f.Writable(),
		}
		switch {
		case f.Domain != nil:
			info.Values = f.Domain.Values()
		case f.Clock:
			info.Values = regmap.ClockRates.Values()
		}
		if blob != nil {
			if v, err := regmap.DecodeField(blob, f.Name); err == nil {
				info.Current = &v
			}
		}
		out = append(out, info)
	}
	c.JSON(http.StatusOK, out)
}

// SetField 修改单个字段 (SET_CONFIG)
func (h *Handler) SetField(c *gin.Context) {
	name := c.Param("name")
	var req model.SetFieldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "无效的请求数据: "+err.Error())
		return
	}
	ctx := c.Request.Context()
	var err error
	switch {
	case req.Value != nil:
		err = h.gw.SetConfigItem(ctx, name, *req.Value)
	case req.Text != "":
		err = h.gw.SetConfigText(ctx, name, req.Text)
	default:
		errorResponse(c, http.StatusBadRequest, "value 和 text 不能同时为空")
		return
	}
	if err != nil {
		h.deviceError(c, "set_config", err)
		return
	}
	if blob := h.gw.Session().Blob(); blob != nil {
		if v, err := regmap.DecodeField(blob, name); err == nil {
			c.JSON(http.StatusOK, v)
			return
		}
	}
	ok(c)
}

// SetClock 设置时钟频率, value 为 Hz 或者下标
func (h *Handler) SetClock(c *gin.Context) {
	var req model.ClockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "无效的请求数据: "+err.Error())
		return
	}
	if err := h.gw.SetClock(c.Request.Context(), req.Value); err != nil {
		h.deviceError(c, "set_clock", err)
		return
	}
	ok(c)
}

// SaveConfig 保存到 flash, reboot 为 true 时设备会重启
func (h *Handler) SaveConfig(c *gin.Context) {
	var req model.SaveRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		errorResponse(c, http.StatusBadRequest, "无效的请求数据: "+err.Error())
		return
	}
	if err := h.gw.SaveConfig(c.Request.Context(), req.Reboot); err != nil {
		h.deviceError(c, "save_config", err)
		return
	}
	h.logger.Info("配置已保存", zap.Bool("reboot", req.Reboot))
	ok(c)
}

func (h *Handler) ResetConfig(c *gin.Context) {
	if err := h.gw.ResetConfig(c.Request.Context()); err != nil {
		h.deviceError(c, "reset_config", err)
		return
	}
	ok(c)
}

func (h *Handler) ReloadConfig(c *gin.Context) {
	if err := h.gw.ReloadConfig(c.Request.Context()); err != nil {
		h.deviceError(c, "reload_config", err)
		return
	}
	ok(c)
}

// DetectSIDs 重新检测 SID 类型, 返回新的配置
func (h *Handler) DetectSIDs(c *gin.Context) {
	report, err := h.gw.DetectSIDs(c.Request.Context())
	if err != nil {
		h.deviceError(c, "detect_sids", err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// ToggleAudio 单声道/立体声切换
func (h *Handler) ToggleAudio(c *gin.Context) {
	if err := h.gw.ToggleAudio(c.Request.Context()); err != nil {
		h.deviceError(c, "toggle_audio", err)
		return
	}
	h.cachedView(c)
}

// ExportConfig 以 YAML 下载最近读取的配置
func (h *Handler) ExportConfig(c *gin.Context) {
	var buf bytes.Buffer
	if err := h.gw.ExportProfile(&buf); err != nil {
		h.deviceError(c, "export", err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="usbsid-config.yaml"`)
	c.Data(http.StatusOK, "application/x-yaml; charset=utf-8", buf.Bytes())
}

// ImportConfig 请求体为 YAML, ?save=true 时写入后保存
func (h *Handler) ImportConfig(c *gin.Context) {
	save, _ := strconv.ParseBool(c.DefaultQuery("save", "false"))
	view, err := h.gw.ImportProfile(c.Request.Context(), c.Request.Body, save)
	if err != nil {
		h.deviceError(c, "import", err)
		return
	}
	c.JSON(http.StatusOK, model.ImportResult{View: view, Saved: save})
}
