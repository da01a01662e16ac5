package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crmdesk-backend/internal/auth"
	"crmdesk-backend/internal/cache"
	"crmdesk-backend/internal/config"
	"crmdesk-backend/internal/db"
	"crmdesk-backend/internal/dealclose"
	"crmdesk-backend/internal/jobs"
	"crmdesk-backend/internal/leads"
	"crmdesk-backend/internal/metrics"
	"crmdesk-backend/internal/middleware"
	"crmdesk-backend/internal/notifications"
	"crmdesk-backend/internal/realtime"
	"crmdesk-backend/internal/stages"
	"crmdesk-backend/internal/tasks"
	"crmdesk-backend/internal/users"
	"crmdesk-backend/internal/validation"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, cols, err := db.Connect(ctx, cfg.MongoURI, cfg.MongoDB)
	if err != nil {
		logger.Error("mongo connection failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("mongo connected")
	defer client.Disconnect(context.Background())

	if err := db.EnsureIndexes(ctx, cols); err != nil {
		logger.Error("index creation failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	var cacheStore cache.Cache = cache.NewNoop()
	if cfg.RedisURL != "" || cfg.RedisAddr != "" {
		var redisCache *cache.RedisCache
		var err error
		if cfg.RedisURL != "" {
			redisCache, err = cache.NewRedisFromURL(cfg.RedisURL)
		} else {
			redisCache = cache.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		}
		if err != nil {
			logger.Error("redis connection failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		if err := redisCache.Ping(ctx); err != nil {
			logger.Error("redis connection failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		logger.Info("redis connected")
		defer redisCache.Close()
		cacheStore = redisCache
	}

	jwtManager := &auth.Manager{
		Secret:     []byte(cfg.JWTSecret),
		AccessTTL:  time.Duration(cfg.AccessTTLMinutes) * time.Minute,
		RefreshTTL: time.Duration(cfg.RefreshTTLMinutes) * time.Minute,
		Issuer:     "crmdesk-backend",
	}

	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	hub := realtime.NewHub(logger)
	go hub.Run(appCtx)
	wsHandler := realtime.NewHandler(hub, jwtManager, cfg.FrontendOrigins, logger)

	val := validation.New()
	txn := db.NewTxnRunner(client)
	cacheTTL := time.Duration(cfg.CacheTTLSeconds) * time.Second

	userRepo := users.NewRepository(cols.Users)
	leadRepo := leads.NewRepository(cols.Leads)
	stageRepo := stages.NewRepository(cols.Stages)
	dealRepo := dealclose.NewMongoRepository(cols.DealCloseRequests)
	notificationRepo := notifications.NewRepository(cols.Notifications)
	taskRepo := tasks.NewMongoRepository(cols.Tasks)

	notificationService := notifications.NewService(notificationRepo, hub, cacheStore, cacheTTL, cfg.Timezone)
	stageService := stages.NewService(stageRepo, leadRepo, txn, cacheStore, cacheTTL, hub, cfg.Timezone)
	leadService := leads.NewService(leadRepo, stageRepo, userRepo, cfg.Timezone, logger)
	dealService := dealclose.NewService(dealRepo, leadRepo, userRepo, stageService,
		notificationService, hub, txn, cfg.GracePeriod, cfg.Timezone, logger)
	taskService := tasks.NewService(taskRepo, notificationService, hub, cfg.Timezone, logger)

	stageHandler := stages.NewHandler(stageService, val, logger)
	leadHandler := leads.NewHandler(leadService, val, logger)
	dealHandler := dealclose.NewHandler(dealService, val, logger)
	notificationHandler := notifications.NewHandler(notificationService, logger)
	taskHandler := tasks.NewHandler(taskService, val, logger)

	scheduler := jobs.NewScheduler(userRepo, userRepo, taskService, dealService,
		notificationService, hub, cfg.Timezone, logger)
	if err := scheduler.Start(); err != nil {
		logger.Error("scheduler start failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer scheduler.Stop()

	r := chi.NewRouter()
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.CORS(cfg.FrontendOrigins))
	r.Use(metrics.Middleware)
	r.Use(chiMiddleware.Timeout(30 * time.Second))

	mutationLimiter := middleware.NewRateLimiter(cfg.RateLimitMutations, time.Duration(cfg.RateLimitWindowSec)*time.Second)

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(middleware.Auth(jwtManager))

		api.Route("/stages", func(sr chi.Router) {
			sr.Get("/", stageHandler.List)
			sr.Group(func(admin chi.Router) {
				admin.Use(middleware.RequireRoles(users.AdminRoles()...))
				admin.Use(mutationLimiter.Middleware)
				admin.Post("/", stageHandler.Create)
				admin.Patch("/reorder", stageHandler.Reorder)
				admin.Patch("/{id}", stageHandler.Update)
				admin.Delete("/{id}", stageHandler.Delete)
			})
		})

		api.Route("/leads", func(lr chi.Router) {
			lr.Get("/", leadHandler.List)
			lr.Get("/{id}", leadHandler.Get)
			lr.Group(func(mut chi.Router) {
				mut.Use(mutationLimiter.Middleware)
				mut.Post("/", leadHandler.Create)
				mut.Patch("/{id}", leadHandler.Update)
				mut.Patch("/{id}/stage", leadHandler.MoveStage)
				mut.Post("/{id}/notes", leadHandler.AddNote)
				mut.With(middleware.RequireRoles(users.AdminRoles()...)).Delete("/{id}", leadHandler.Delete)
			})
		})

		api.Route("/deal-close-requests", func(dr chi.Router) {
			dr.Get("/", dealHandler.List)
			dr.Group(func(mut chi.Router) {
				mut.Use(mutationLimiter.Middleware)
				mut.Post("/create", dealHandler.RequestClose)
				mut.Post("/mark-lost", dealHandler.MarkLost)
				mut.Delete("/delete/{leadId}", dealHandler.Withdraw)
				mut.With(middleware.RequireRoles(users.AdminRoles()...)).Patch("/approve/{requestId}", dealHandler.Approve)
				mut.With(middleware.RequireRoles(users.AdminRoles()...)).Patch("/reject/{requestId}", dealHandler.Reject)
			})
		})

		api.Route("/notifications", func(nr chi.Router) {
			nr.Get("/", notificationHandler.List)
			nr.Get("/unread-count", notificationHandler.UnreadCount)
			nr.Patch("/mark-all-read", notificationHandler.MarkAllAsRead)
			nr.Patch("/{id}/mark-read", notificationHandler.MarkAsRead)
			nr.With(middleware.RequireRoles(users.AdminRoles()...)).Delete("/{id}", notificationHandler.Delete)
		})

		api.Route("/tasks", func(tr chi.Router) {
			tr.Get("/", taskHandler.List)
			tr.Get("/{id}", taskHandler.Get)
			tr.Group(func(mut chi.Router) {
				mut.Use(mutationLimiter.Middleware)
				mut.Post("/", taskHandler.Create)
				mut.Patch("/{id}", taskHandler.Update)
				mut.Patch("/{id}/status", taskHandler.Update)
				mut.Delete("/{id}", taskHandler.Delete)
			})
		})
	})

	r.Get("/ws", wsHandler.ServeWS)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: r,
	}

	go func() {
		logger.Info("server started", slog.String("addr", cfg.ServerAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.String("error", err.Error()))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.String("error", err.Error()))
	}
	appCancel()
}
