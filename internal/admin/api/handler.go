package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"sidgate/internal"
	"sidgate/internal/codec"
	"sidgate/internal/link"
	"sidgate/internal/pkg"
	"sidgate/internal/profile"
	"sidgate/internal/regmap"
	"sidgate/internal/session"
)

// Handler 管理接口, 所有设备操作都经过 Gateway
type Handler struct {
	gw     *internal.Gateway
	logger *zap.Logger
}

func NewHandler(ctx context.Context, gw *internal.Gateway) *Handler {
	return &Handler{gw: gw, logger: pkg.LoggerFromContext(ctx)}
}

// 错误到 HTTP 状态码, 按顺序匹配
var statusCodes = []struct {
	err  error
	code int
}{
	{session.ErrBusy, http.StatusConflict},
	{session.ErrNoConfig, http.StatusConflict},
	{session.ErrPlaybackActive, http.StatusLocked},
	{session.ErrUnsupportedFirmware, http.StatusPreconditionFailed},
	{session.ErrUnknownCommand, http.StatusNotFound},
	{regmap.ErrUnknownField, http.StatusNotFound},
	{regmap.ErrOutOfRange, http.StatusBadRequest},
	{regmap.ErrReadOnlyField, http.StatusBadRequest},
	{regmap.ErrUnsupportedClock, http.StatusBadRequest},
	{regmap.ErrBlobSize, http.StatusBadRequest},
	{profile.ErrEmptyProfile, http.StatusBadRequest},
	{profile.ErrInvalidProfile, http.StatusBadRequest},
	{codec.ErrInvalidFunctionCode, http.StatusBadRequest},
	{codec.ErrPayloadTooLong, http.StatusBadRequest},
	{codec.ErrMalformedConfigFrame, http.StatusBadGateway},
	{codec.ErrMalformedVersionFrame, http.StatusBadGateway},
	{link.ErrNoUserGesture, http.StatusBadRequest},
	{link.ErrNoSavedIdentity, http.StatusNotFound},
	{link.ErrNotFound, http.StatusNotFound},
	{link.ErrTransport, http.StatusServiceUnavailable},
	{context.DeadlineExceeded, http.StatusGatewayTimeout},
}

// StatusCode 设备错误对应的 HTTP 状态码, 未知错误为 500
func StatusCode(err error) int {
	for _, s := range statusCodes {
		if errors.Is(err, s.err) {
			return s.code
		}
	}
	return http.StatusInternalServerError
}

// errorResponse 统一错误返回
func errorResponse(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{"error": message})
}

// deviceError 设备操作失败, error 为给用户看的状态文本, detail 为原始错误
func (h *Handler) deviceError(c *gin.Context, op string, err error) {
	code := StatusCode(err)
	if code >= http.StatusInternalServerError {
		h.logger.Error("设备操作失败", zap.String("op", op), zap.Error(err))
	} else {
		h.logger.Debug("设备操作被拒绝", zap.String("op", op), zap.Int("code", code), zap.Error(err))
	}
	c.JSON(code, gin.H{"error": session.Status(err), "detail": err.Error()})
}

func ok(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": session.Status(nil)})
}
