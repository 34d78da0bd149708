package http

import (
	"context"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/huddlekit/huddle/internal/adapters/ws"
	"github.com/huddlekit/huddle/internal/config"
	"github.com/huddlekit/huddle/internal/core"
	"github.com/huddlekit/huddle/internal/hub"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = uuid.NewString()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, h *hub.Hub) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("HuddleSessions", store))
	r.Use(ClientTokenMiddleware())

	// Stateless probe clients hit before opening the signaling socket.
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")

	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, h.Rooms.List())
	})

	// Clients fetch ICE settings from here instead of carrying their own.
	api.GET("/config", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"stun_server": cfg.STUNServer})
	})

	api.GET("/ws/signal", func(c *gin.Context) {
		handleSignal(ctx, cfg, h, c)
	})

	return r
}

func handleSignal(ctx context.Context, cfg *config.Config, h *hub.Hub, c *gin.Context) {
	sid := core.SessionID(c.GetString("client_token"))
	log.Info().Str("module", "adapters.http").Str("sid", string(sid)).Msg("new WS connection")

	sock, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.http").Msg("ws upgrade")
		return
	}

	connCtx, cancel := context.WithCancel(ctx)
	conn := ws.NewConn(sock, func() {
		cancel()
		h.Detach(sid)
	})
	h.Attach(sid, conn)

	go conn.WriteLoop(connCtx)
	go conn.ReadLoop(connCtx, cfg.ReadLimit, func(data []byte) {
		h.HandleMessage(sid, data)
	})
}
