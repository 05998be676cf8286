package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"call-signaling/internal/audit"
	"call-signaling/internal/auth"
	"call-signaling/internal/calls"
	"call-signaling/internal/config"
	"call-signaling/internal/groups"
	"call-signaling/internal/httpapi"
	"call-signaling/internal/media"
	"call-signaling/internal/negotiation"
	"call-signaling/internal/quality"
	"call-signaling/internal/reporting"
	"call-signaling/internal/signaling"
	"call-signaling/migrations"
	"call-signaling/pkg/logger"
	"call-signaling/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
)

// socketCapTTL bounds how long a crashed node's socket slots linger in Redis.
const socketCapTTL = 6 * time.Hour

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	// Storage
	var (
		store     calls.Store
		auditRepo audit.Repository
		db        *sql.DB
	)
	switch cfg.DB.Backend {
	case config.StoreBackendMemory:
		log.Warn("using in-memory session store; state is lost on restart")
		store = calls.NewMemoryStore()
		auditRepo = audit.NewMemoryRepo()
	default:
		db, err = utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
		if err != nil {
			log.Error("postgres init failed", "err", err)
			os.Exit(1)
		}
		defer db.Close()

		if cfg.DB.AutoMigrate {
			if err := utils.Migrate(rootCtx, db, migrations.FS, log); err != nil {
				log.Error("migrations failed", "err", err)
				os.Exit(1)
			}
		}
		store = calls.NewPostgresStore(db)
		auditRepo = audit.NewPostgresRepo(db)
	}

	// Signaling
	hub := signaling.NewHub(log)
	var (
		transport signaling.Transport = hub
		latest    quality.LatestStore = quality.NewMemoryLatest()
		rdb       *redis.Client
		sockets   httpapi.SocketLimiter
	)
	if cfg.Signaling.Backend == config.SignalingBackendRedis {
		rdb, err = utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()

		fanout := signaling.NewRedisTransport(rdb, log)
		transport = fanout
		latest = quality.NewRedisLatest(rdb, quality.DefaultRetention)
		if cfg.Signaling.MaxSocketsPerUser > 0 {
			sockets = httpapi.RedisSocketLimiter{RDB: rdb, Limit: cfg.Signaling.MaxSocketsPerUser, TTL: socketCapTTL}
		}

		go func() {
			if err := fanout.Subscribe(rootCtx, hub); err != nil {
				log.Error("signal subscriber stopped", "err", err)
				stop()
			}
		}()
	}

	// Domain services
	auditSvc := audit.NewService(auditRepo)
	signals := signaling.NewDispatcher(transport, calls.Roster(store), log)
	callOpts := calls.Options{
		RingTimeout: cfg.Calls.RingTimeout,
		Audit:       calls.AuditAdapter{Audit: auditSvc},
	}
	if members := groups.NewClient(cfg.Groups.MembershipURL, cfg.Groups.Timeout); members.IsEnabled() {
		callOpts.Members = members
	} else {
		log.Info("group membership lookup disabled; only invitees may join group calls")
	}
	callSvc := calls.NewService(store, signals, callOpts)
	sweeper := calls.NewSweeper(callSvc, cfg.Calls.SweepInterval, cfg.Calls.SweepMaxBackoff, log)
	sweeper.Start(rootCtx)
	defer sweeper.Stop()

	h := httpapi.Handlers{
		Auth:        authManager,
		Calls:       callSvc,
		Relay:       negotiation.NewRelay(callSvc, signals),
		Quality:     quality.NewMonitor(callSvc, latest, signals, cfg.Quality.StaleAfter),
		Reporting:   reporting.NewService(store),
		Audit:       auditSvc,
		Sweeper:     sweeper,
		Hub:         hub,
		Sockets:     sockets,
		BaseContext: rootCtx,
		AllowLogin:  !cfg.IsProduction(),
	}
	webhook := media.WebhookHandler{Secret: cfg.Media.WebhookSecret, Calls: callSvc}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	r.Use(httpapi.ClientIP())

	registerPublicRoutes(r, db, webhook)
	registerAuthRoutes(r, h)
	registerProtectedRoutes(r, auth.RequireAccessToken(authManager), h)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "store", cfg.DB.Backend, "signaling", cfg.Signaling.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	// Hijacked websockets are not tracked by Shutdown; they close via BaseContext.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}
