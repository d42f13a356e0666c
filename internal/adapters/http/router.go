package http

import (
	"context"
	"net/http"

	"github.com/dkeye/Live/internal/adapters/signal"
	"github.com/dkeye/Live/internal/app"
	"github.com/dkeye/Live/internal/app/orch"
	"github.com/dkeye/Live/internal/config"
	"github.com/dkeye/Live/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

// ClientTokenMiddleware tags every request with a long-lived browser token.
// The token is kept in the session when one is configured, in a plain cookie
// otherwise.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		var sess sessions.Session
		if _, ok := c.Get(sessions.DefaultKey); ok {
			sess = sessions.Default(c)
		}
		var token string
		if sess != nil {
			token, _ = sess.Get("client_token").(string)
		}
		if token == "" {
			token, _ = c.Cookie("ct")
		}
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		if sess != nil && sess.Get("client_token") != token {
			sess.Set("client_token", token)
			if err := sess.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("save session")
			}
		}
		c.Set("client_token", token)
		c.Next()
	}
}

type liveListing struct {
	Rooms     []app.LiveRoomInfo `json:"rooms"`
	Elsewhere []domain.RoomID    `json:"elsewhere,omitempty"`
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	if cfg.Secret != "" {
		store := cookie.NewStore([]byte(cfg.Secret))
		r.Use(sessions.Sessions("LiveSessions", store))
	} else {
		log.Warn().Str("module", "adapters.http").Msg("no session secret, sessions disabled")
	}
	r.Use(ClientTokenMiddleware())

	if cfg.StaticPath != "" {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(cfg.StaticPath + "/index.html")
		})
	}

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	ctrl := signal.NewSignalWSController(o, signal.Options{
		ReadLimit:    cfg.ReadLimit,
		PingPeriod:   cfg.PingPeriod,
		SendBuffer:   cfg.SendBuffer,
		ChatLimit:    cfg.Chat.RateLimit,
		ChatInterval: cfg.Chat.RateInterval,
	})

	api := r.Group("/api")

	api.GET("/ws/signal", func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("client", c.GetString("client_token")).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})

	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"connections": o.Registry.ConnectionCount(),
		})
	})

	// GET /api/live lists the broadcasts of this process with their audience,
	// plus rooms the status index knows are live on other processes.
	api.GET("/live", func(c *gin.Context) {
		rooms := o.LiveRooms()
		if rooms == nil {
			rooms = []app.LiveRoomInfo{}
		}
		c.JSON(http.StatusOK, liveListing{
			Rooms:     rooms,
			Elsewhere: o.RemoteLiveRooms(c.Request.Context()),
		})
	})

	return r
}
