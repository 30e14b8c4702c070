// Package app wires configuration, storage, services, HTTP routes and the
// rotation scheduler into one runnable unit.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/chainpass/core/internal/config"
	"github.com/chainpass/core/internal/database"
	"github.com/chainpass/core/internal/middleware"
	"github.com/chainpass/core/internal/modules/anticheat"
	"github.com/chainpass/core/internal/modules/attendance"
	"github.com/chainpass/core/internal/modules/chain"
	"github.com/chainpass/core/internal/modules/rotation"
	"github.com/chainpass/core/internal/modules/scan"
	"github.com/chainpass/core/internal/modules/session"
	"github.com/chainpass/core/internal/modules/token"
	pkgcron "github.com/chainpass/core/internal/pkg/cron"
	"github.com/chainpass/core/internal/pkg/identity"
	jwtpkg "github.com/chainpass/core/internal/pkg/jwt"
	"github.com/chainpass/core/internal/pkg/notify"
	pkgredis "github.com/chainpass/core/internal/pkg/redis"
	"github.com/chainpass/core/internal/store"
)

// App holds all application dependencies.
type App struct {
	cfg    *config.AppConfig
	router *gin.Engine
	db     *gorm.DB
	logger *zap.Logger
	cancel context.CancelFunc
	sched  *pkgcron.Scheduler
}

// New initializes the application: config, database, redis, services,
// routes, scheduler.
func New(logger *zap.Logger, cfg *config.AppConfig) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	secret := strings.TrimSpace(cfg.JWTSecret)
	if secret == "" {
		logger.Warn("jwt_secret is empty, using built-in default secret")
	}
	verifier := jwtpkg.NewVerifier(secret)

	db, err := database.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	rc, err := pkgredis.Connect(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}

	if cfg.IsDev() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))
	router.Use(cors.New(corsConfig(cfg)))
	router.Use(middleware.RateLimit(rc.Raw()))

	att := cfg.Attendance
	st := store.NewSQL(db, store.DefaultRetryPolicy())
	publisher := notify.NewRedis(rc, logger)

	tokenSvc := token.NewService(st, logger)
	chainSvc := chain.NewService(st, tokenSvc, logger)
	attendanceSvc := attendance.NewService(st, logger)
	limiter := anticheat.NewLimiter(
		time.Duration(att.RateLimitWindowSeconds)*time.Second,
		att.RateLimitMaxAttempts,
	)
	scanSvc := scan.NewService(st, tokenSvc, chainSvc, attendanceSvc, limiter, publisher,
		time.Duration(att.ChainTokenTTLSeconds)*time.Second, logger)
	sessionSvc := session.NewService(st, tokenSvc, chainSvc, attendanceSvc, publisher,
		session.Defaults{
			LateCutoffMinutes: att.LateCutoffMinutes,
			ExitWindowMinutes: att.ExitWindowMinutes,
			ChainTokenTTL:     att.ChainTokenTTLSeconds,
			RotatingTokenTTL:  time.Duration(att.RotatingTTLSeconds) * time.Second,
			SessionTokenTTL:   time.Duration(att.SessionTokenTTLSeconds) * time.Second,
		}, logger)
	rotationSvc := rotation.NewService(st, tokenSvc, publisher,
		time.Duration(att.RotationIntervalSeconds)*time.Second,
		time.Duration(att.RotatingTTLSeconds)*time.Second,
		time.Duration(att.StallThresholdSeconds)*time.Second,
		logger)

	ctx, cancel := context.WithCancel(context.Background())
	sched := pkgcron.New()
	registerCronJobs(sched, rotationSvc, time.Duration(att.RotationIntervalSeconds)*time.Second)
	sched.Start(ctx)

	app := &App{cfg: cfg, router: router, db: db, logger: logger, cancel: cancel, sched: sched}
	app.registerRoutes(sessionSvc, scanSvc, verifier, identity.ClaimsResolver{})

	return app, nil
}

// Addr returns the listen address.
func (a *App) Addr() string { return fmt.Sprintf(":%d", a.cfg.Port) }

// Router returns the HTTP handler.
func (a *App) Router() http.Handler { return a.router }

// Shutdown stops background goroutines.
func (a *App) Shutdown() { a.cancel() }

func corsConfig(cfg *config.AppConfig) cors.Config {
	c := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
	}
	if len(cfg.AllowedOrigins) > 0 && !cfg.IsDev() {
		allowed := cfg.AllowedOrigins
		c.AllowOriginFunc = func(origin string) bool {
			return originAllowed(allowed, origin)
		}
	} else {
		c.AllowOriginFunc = func(string) bool { return true }
	}
	return c
}

// originAllowed matches an Origin header against the configured list.
// Entries may be exact hosts or "*.example.com" wildcards.
func originAllowed(allowed []string, origin string) bool {
	host := origin
	if u, err := url.Parse(origin); err == nil && u.Host != "" {
		host = u.Host
	}
	for _, entry := range allowed {
		if entry == host || entry == origin {
			return true
		}
		if rest, ok := strings.CutPrefix(entry, "*."); ok && strings.HasSuffix(host, "."+rest) {
			return true
		}
	}
	return false
}
