package router

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"sidgate/internal/admin/api"
)

// SetupRouter 配置 Gin 路由, metrics 不为 nil 时挂载到 /metrics
func SetupRouter(h *api.Handler, metrics http.Handler) *gin.Engine {
	r := gin.Default()

	// 配置 CORS, 页面和管理接口可能不同源
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"*"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	corsConfig.ExposeHeaders = []string{"Content-Disposition"}
	r.Use(cors.New(corsConfig))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	if metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics))
	}

	apiV1 := r.Group("/api/v1")
	{
		// 设备连接
		device := apiV1.Group("/device")
		{
			device.GET("", h.GetDevice)                    // GET /api/v1/device
			device.DELETE("", h.ForgetDevice)              // DELETE /api/v1/device (删除保存的标识)
			device.GET("/discover", h.DiscoverDevices)     // GET /api/v1/device/discover
			device.POST("/connect", h.ConnectDevice)       // POST /api/v1/device/connect
			device.POST("/disconnect", h.DisconnectDevice) // POST /api/v1/device/disconnect
			device.POST("/mute", h.ToggleMute)             // POST /api/v1/device/mute
		}

		// 配置读写
		config := apiV1.Group("/config")
		{
			config.GET("", h.GetConfig)             // GET /api/v1/config (从设备读取)
			config.PUT("", h.ApplyConfig)           // PUT /api/v1/config {"raw": "30..."}
			config.GET("/fields", h.GetFields)      // GET /api/v1/config/fields
			config.PUT("/fields/:name", h.SetField) // PUT /api/v1/config/fields/:name {"value"|"text"}
			config.PUT("/clock", h.SetClock)        // PUT /api/v1/config/clock {"value": 985248}
			config.POST("/save", h.SaveConfig)      // POST /api/v1/config/save {"reboot": false}
			config.POST("/reset", h.ResetConfig)    // POST /api/v1/config/reset
			config.POST("/reload", h.ReloadConfig)  // POST /api/v1/config/reload
			config.POST("/detect", h.DetectSIDs)    // POST /api/v1/config/detect
			config.POST("/audio", h.ToggleAudio)    // POST /api/v1/config/audio
			config.GET("/export", h.ExportConfig)   // GET /api/v1/config/export
			config.POST("/import", h.ImportConfig)  // POST /api/v1/config/import?save=true
		}

		apiV1.GET("/commands", h.ListCommands)      // GET /api/v1/commands
		apiV1.POST("/presets/:name", h.ApplyPreset) // POST /api/v1/presets/:name
		apiV1.POST("/commands/:name", h.RunCommand) // POST /api/v1/commands/:name
		apiV1.POST("/playback/:event", h.Playback)  // POST /api/v1/playback/:event
	}

	return r
}
