// Package server assembles the HTTP API from the feature handlers.
package server

import (
	"net/http"

	"github.com/callfairy/callfairy/pkg/callfairy/access"
	"github.com/callfairy/callfairy/pkg/callfairy/admin"
	"github.com/callfairy/callfairy/pkg/callfairy/agents"
	"github.com/callfairy/callfairy/pkg/callfairy/apikeys"
	"github.com/callfairy/callfairy/pkg/callfairy/auth"
	"github.com/callfairy/callfairy/pkg/callfairy/config"
	"github.com/callfairy/callfairy/pkg/callfairy/logging"
	"github.com/callfairy/callfairy/pkg/callfairy/mailer"
	"github.com/callfairy/callfairy/pkg/callfairy/metrics"
	"github.com/callfairy/callfairy/pkg/callfairy/organisations"
	"github.com/callfairy/callfairy/pkg/callfairy/permissions"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Deps are the collaborators the router needs. Mailer and Google may be nil.
type Deps struct {
	Config *config.Config
	DB     *gorm.DB
	Log    *zap.Logger
	Mailer mailer.Mailer
	Google auth.GoogleVerifier
}

// NewRouter builds the gin engine serving the API, health and metrics.
func NewRouter(d Deps) *gin.Engine {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	if d.Mailer == nil {
		d.Mailer = mailer.NewLogMailer(log)
	}
	cfg := d.Config
	auth.Configure(cfg.JWT)
	metrics.Init()

	svc := access.NewService(d.DB, log)

	r := gin.New()
	r.Use(gin.Recovery(), logging.RequestID(), logging.AccessLog(log.Named("http")), metrics.Instrument())

	health := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": cfg.App.Name})
	}
	r.GET("/health", health)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api")
	api.GET("/health", health)

	authHandler := auth.NewHandler(svc, d.Mailer, d.Google, log, auth.Options{
		Debug:            cfg.App.Debug,
		BaseURL:          cfg.App.BaseURL,
		EmailTokenTTL:    cfg.Auth.EmailTokenTTL,
		PasswordResetTTL: cfg.Auth.PasswordResetTTL,
		TOTPIssuer:       cfg.Auth.TOTPIssuer,
	})
	limiter := auth.NewRateLimiter(cfg.Auth.RateLimitRPS, cfg.Auth.RateLimitBurst)
	authHandler.RegisterPublicRoutes(api.Group("/auth", limiter.Middleware()))

	// JWT or API key, then the user is reloaded so role changes apply at once.
	authenticated := []gin.HandlerFunc{apikeys.CombinedAuthMiddleware(d.DB), auth.LoadUser(svc)}
	authHandler.RegisterRoutes(api.Group("/auth", authenticated...))

	// Managing keys needs an interactive session.
	apikeys.NewHandler(svc, log).RegisterRoutes(api.Group("", auth.AuthMiddleware(), auth.LoadUser(svc)))

	protected := api.Group("", authenticated...)
	organisations.NewHandler(svc, log).RegisterRoutes(protected)
	agents.NewHandler(svc, log).RegisterRoutes(protected)
	permissions.NewHandler(svc, log).RegisterRoutes(protected)
	admin.NewHandler(svc, log).RegisterRoutes(protected)

	return r
}
