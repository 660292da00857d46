package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/WatchParty/internal/adapters/signal"
	"github.com/dkeye/WatchParty/internal/admission"
	"github.com/dkeye/WatchParty/internal/app/orch"
	"github.com/dkeye/WatchParty/internal/config"
	"github.com/dkeye/WatchParty/internal/history"
	rest "github.com/dkeye/WatchParty/internal/transport/http"
)

// Deps is everything the router serves. A nil Admission means AllowAll.
type Deps struct {
	Orch      *orch.Orchestrator
	Rooms     rest.RoomStats
	History   history.Store
	Admission admission.Checker
}

const sessionName = "WatchPartySessions"

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware keeps a stable per-browser token in the cookie session.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		token, _ := session.Get(signal.ClientTokenKey).(string)
		if token == "" {
			token = genClientToken()
			session.Set(signal.ClientTokenKey, token)
			if err := session.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("session save")
			}
		}
		c.Set(signal.ClientTokenKey, token)
		c.Next()
	}
}

// AdmissionMiddleware rejects the upgrade unless the checker admits ?userId=.
// The admitted id is remembered in the session and handed to the gateway.
func AdmissionMiddleware(checker admission.Checker) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Query("userId")
		ok, err := checker.Allowed(c.Request.Context(), userID)
		switch {
		case errors.Is(err, admission.ErrEmptyUserID):
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "userId required"})
			return
		case err != nil:
			log.Error().Err(err).Str("module", "adapters.http").Str("user", userID).Msg("admission check")
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "plan check unavailable"})
			return
		case !ok:
			log.Info().Str("module", "adapters.http").Str("user", userID).Msg("no active plan")
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "no active plan"})
			return
		}
		if userID != "" {
			session := sessions.Default(c)
			session.Set(signal.UserIDKey, userID)
			if err := session.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("session save")
			}
			c.Set(signal.UserIDKey, userID)
		}
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, deps Deps) *gin.Engine {
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true})
	r.Use(sessions.Sessions(sessionName, store))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})
	r.GET("/health", rest.Health)

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	api := r.Group("/api")

	handlers := &rest.Handlers{
		Rooms:        deps.Rooms,
		History:      deps.History,
		Sessions:     deps.Orch.Registry.Count,
		DefaultLimit: cfg.History.DefaultLimit,
	}
	handlers.Register(api)

	ctrl := signal.NewSignalWSController(deps.Orch, signal.OptionsFromConfig(cfg.Signal))
	checker := deps.Admission
	if checker == nil {
		checker = admission.AllowAll{}
	}
	api.GET("/ws", AdmissionMiddleware(checker), func(c *gin.Context) {
		log.Debug().Str("module", "adapters.http").Str("token", c.GetString(signal.ClientTokenKey)).Msg("ws endpoint hit")
		ctrl.HandleSignal(ctx, c)
	})

	return r
}
