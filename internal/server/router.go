package server

import (
	"net/http"
	"time"

	"linechat/internal/config"
	"linechat/internal/history"
	"linechat/internal/hub"
	"linechat/internal/metrics"
	"linechat/internal/mw"
	"linechat/internal/session"
	"linechat/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// SetupRouter 统一初始化 Gin 中间件、历史查询接口以及 WebSocket 端点。
func SetupRouter(cfg config.Config, store *history.Store, h *hub.Hub, co *session.Coordinator) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env))
	// 控制单个 IP 的请求速率，历史接口没有鉴权，不能被刷爆。
	r.Use(mw.RateLimit(rate.Every(time.Second/20), 40))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/get_history", func(c *gin.Context) {
		msgs, err := store.ListRecent()
		if err != nil {
			log.Error().Err(err).Msg("get history")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load history"})
			return
		}
		c.JSON(http.StatusOK, msgs)
	})

	r.POST("/clear_history", func(c *gin.Context) {
		if err := store.Clear(); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "failed to clear history"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "success", "message": "history cleared"})
	})

	r.GET("/ws", ws.Serve(h, co))

	// 静态聊天页面，由前端自己调用 /get_history 拉取历史。
	r.StaticFile("/", "./web/index.html")
	r.Static("/static", "./web/static")

	return r
}
