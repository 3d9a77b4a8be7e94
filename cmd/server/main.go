package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tarot-system/internal/auth"
	"tarot-system/internal/config"
	"tarot-system/internal/database"
	"tarot-system/internal/handlers"
	"tarot-system/internal/kafka"
	"tarot-system/internal/logger"
	"tarot-system/internal/models"
	"tarot-system/internal/notify"
	"tarot-system/internal/realtime"
	"tarot-system/internal/redis"
	"tarot-system/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

// Фабричные функции для подключения внешних сервисов (подменяемые в тестах).
var (
	dbConnect        = database.Connect
	dbMigrate        = database.Migrate
	redisConnect     = redis.Connect
	newKafkaProducer = kafka.NewProducer
	newKafkaConsumer = kafka.NewConsumer
	newNotifier      = notify.New
	kafkaHealthCheck = handlers.CheckKafkaHealth
	loadConfig       = config.Load
	newLogger        = logger.New
)

// application агрегирует собранные зависимости.
type application struct {
	cfg      *config.Config
	log      *logger.Logger
	db       *database.DB
	redis    *redis.Client
	producer *kafka.Producer
	consumer *kafka.Consumer
	sweeper  *services.SessionSweeper
	router   chi.Router
	server   *http.Server
}

// routeHandlers - обработчики, из которых собирается роутер.
type routeHandlers struct {
	health      *handlers.HealthHandler
	rateLimit   *handlers.RateLimitHandler
	users       *handlers.UserHandler
	consultants *handlers.ConsultantHandler
	sessions    *handlers.SessionHandler
	purchases   *handlers.PurchaseHandler
	coupons     *handlers.CouponHandler
	loyalty     *handlers.LoyaltyHandler
	dashboard   *handlers.DashboardHandler
	events      *handlers.EventsHandler
}

// routeMiddleware - middleware, зависящие от конфигурации.
type routeMiddleware struct {
	verifier    auth.TokenVerifier
	serviceKey  string
	limiter     handlers.MiddlewareLimiter
	idempotency handlers.IdempotencyGuard
}

func main() {
	// .env опционален: в контейнере переменные приходят из окружения
	_ = godotenv.Load()

	app, err := buildApplication()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build app: %v\n", err)
		os.Exit(1)
	}
	app.log.Info("Starting tarot system server...")

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	if app.cfg.Sweeper.Enabled {
		app.sweeper.Start(ctx)
	}

	go func() {
		app.log.WithField("address", app.server.Addr).Info("HTTP server starting")
		if err := app.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.log.WithError(err).Fatal("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	app.log.Info("Shutting down server...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = app.consumer.Stop()
	if err := app.server.Shutdown(shutdownCtx); err != nil {
		app.log.WithError(err).Error("Server forced to shutdown")
	}
	_ = app.producer.Close()
	_ = app.redis.Close()
	_ = app.db.Close()
	app.log.Info("Server exited")
}

// buildApplication создает все зависимости (подменяемые в тестах).
func buildApplication() (*application, error) {
	cfg := loadConfig()
	log := newLogger(&cfg.Logger)

	if err := config.LoadBusinessRules(cfg.Business.RulesFile, &cfg.Business); err != nil {
		return nil, err
	}
	if err := cfg.Business.Validate(); err != nil {
		return nil, fmt.Errorf("invalid business rules: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		log.Warn("AUTH_JWT_SECRET is empty, user tokens will be rejected")
	}

	db, err := dbConnect(&cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}

	if cfg.Database.AutoMigrate {
		if err := dbMigrate(db, log); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("db migrate: %w", err)
		}
	}

	redisClient, err := redisConnect(&cfg.Redis, log)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("redis connect: %w", err)
	}

	producer, err := newKafkaProducer(&cfg.Kafka, log)
	if err != nil {
		_ = redisClient.Close()
		_ = db.Close()
		return nil, fmt.Errorf("kafka producer: %w", err)
	}

	consumer, err := newKafkaConsumer(&cfg.Kafka, log)
	if err != nil {
		_ = producer.Close()
		_ = redisClient.Close()
		_ = db.Close()
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}

	notifier, err := newNotifier(&cfg.Telegram, log)
	if err != nil {
		log.WithError(err).Warn("Telegram notifier unavailable, continuing without it")
		notifier = notify.NoopNotifier{}
	}

	pricingService := services.NewPricingService(cfg.Pricing.PricePerMinute, cfg.Pricing.MinPurchaseMinutes, cfg.Pricing.MaxPurchaseMinutes)
	couponService := services.NewCouponService(db, log)
	loyaltyService := services.NewLoyaltyService(db, log)
	userService := services.NewUserService(db, log)
	consultantService := services.NewConsultantService(db, redisClient, log, producer, &cfg.Cache)
	sessionService := services.NewSessionService(db, log, loyaltyService, producer, cfg.Business)
	purchaseService := services.NewPurchaseService(db, log, pricingService, couponService, producer, cfg.Pix)
	dashboardService := services.NewDashboardService(db, redisClient, log, &cfg.Dashboard)
	rateLimiter := services.NewRateLimiter(redisClient, log, &cfg.RateLimit)
	idempotencyGuard := services.NewIdempotencyGuard(redisClient, log, &cfg.Idempotency)
	sweeper := services.NewSessionSweeper(sessionService, consultantService, log, &cfg.Sweeper)
	hub := realtime.NewHub(log)

	routes := &routeHandlers{
		health:      handlers.NewHealthHandler(db, redisClient, cfg.Kafka.Brokers, kafkaHealthCheck),
		rateLimit:   handlers.NewRateLimitHandler(rateLimiter, log, &cfg.RateLimit),
		users:       handlers.NewUserHandler(userService, log),
		consultants: handlers.NewConsultantHandler(consultantService, log),
		sessions:    handlers.NewSessionHandler(sessionService, log),
		purchases:   handlers.NewPurchaseHandler(purchaseService, log),
		coupons:     handlers.NewCouponHandler(couponService, log),
		loyalty:     handlers.NewLoyaltyHandler(loyaltyService, log),
		dashboard:   handlers.NewDashboardHandler(dashboardService, log, &cfg.Dashboard),
		events:      handlers.NewEventsHandler(hub, log, 0),
	}
	mw := &routeMiddleware{
		verifier:    auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.AdminRole),
		serviceKey:  cfg.Auth.ServiceKey,
		limiter:     rateLimiter,
		idempotency: idempotencyGuard,
	}

	registerEventHandlers(consumer, hub, notifier, consultantService, log)
	if err := consumer.Start(); err != nil {
		_ = consumer.Stop()
		_ = producer.Close()
		_ = redisClient.Close()
		_ = db.Close()
		return nil, fmt.Errorf("kafka consumer start: %w", err)
	}

	router := setupRoutes(routes, mw, log)
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	return &application{
		cfg:      cfg,
		log:      log,
		db:       db,
		redis:    redisClient,
		producer: producer,
		consumer: consumer,
		sweeper:  sweeper,
		router:   router,
		server:   server,
	}, nil
}

// setupRoutes настраивает маршруты HTTP сервера
func setupRoutes(h *routeHandlers, mw *routeMiddleware, log *logger.Logger) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	// Health check endpoints
	r.Get("/health", h.health.Health)
	r.Get("/health/readiness", h.health.Readiness)
	r.Get("/health/liveness", h.health.Liveness)

	rateLimited := handlers.RateLimitMiddleware(mw.limiter, log)
	idempotent := handlers.IdempotencyMiddleware(mw.idempotency, log)

	r.Route("/api", func(api chi.Router) {
		// Публичный каталог тарологов
		api.Group(func(public chi.Router) {
			public.Use(rateLimited)
			public.Get("/consultants", h.consultants.ListConsultants)
			public.Get("/consultants/{id}", h.consultants.GetConsultant)
			public.Get("/rate-limit/status", h.rateLimit.Status)
		})

		api.Group(func(private chi.Router) {
			private.Use(auth.RequireAuth(mw.verifier, mw.serviceKey))

			// SSE без rate limit: соединение одно и долгое
			private.Get("/events", h.events.Stream)

			private.Group(func(user chi.Router) {
				user.Use(rateLimited)

				user.Get("/me", h.users.Me)
				user.Put("/me", h.users.UpdateMe)

				user.Post("/sessions", h.sessions.RequestSession)
				user.Get("/sessions", h.sessions.ListSessions)
				user.Get("/sessions/{id}", h.sessions.GetSession)
				user.Post("/sessions/{id}/finalize", h.sessions.FinalizeSession)
				user.Post("/sessions/{id}/review", h.sessions.ReviewSession)

				user.With(idempotent).Post("/purchases", h.purchases.CreatePurchase)
				user.Get("/purchases", h.purchases.ListPurchases)
				user.Get("/purchases/{id}", h.purchases.GetPurchase)

				user.Post("/coupons/validate", h.coupons.ValidateCoupon)

				user.Get("/loyalty/progress", h.loyalty.Progress)
				user.Get("/loyalty/grants", h.loyalty.ListGrants)

				user.Group(func(admin chi.Router) {
					admin.Use(auth.RequireAdmin)

					admin.Get("/users", h.users.ListUsers)
					admin.Get("/users/{id}", h.users.GetUser)
					admin.With(idempotent).Post("/users/{id}/credit", h.users.CreditMinutes)

					admin.Post("/consultants", h.consultants.CreateConsultant)
					admin.Put("/consultants/{id}", h.consultants.UpdateConsultant)
					admin.Put("/consultants/{id}/status", h.consultants.UpdateStatus)

					admin.Post("/sessions/{id}/accept", h.sessions.AcceptSession)
					admin.Post("/sessions/{id}/decline", h.sessions.DeclineSession)
					admin.Post("/sessions/{id}/bonus", h.sessions.GrantBonus)

					admin.With(idempotent).Post("/purchases/{id}/approve", h.purchases.ApprovePurchase)
					admin.Post("/purchases/{id}/cancel", h.purchases.CancelPurchase)

					admin.Get("/coupons", h.coupons.ListCoupons)
					admin.Post("/coupons", h.coupons.CreateCoupon)
					admin.Get("/coupons/{id}", h.coupons.GetCoupon)
					admin.Put("/coupons/{id}", h.coupons.UpdateCoupon)
					admin.Delete("/coupons/{id}", h.coupons.DeleteCoupon)
					admin.Get("/coupons/{id}/redemptions", h.coupons.ListRedemptions)

					admin.Get("/loyalty/configurations", h.loyalty.ListConfigurations)
					admin.Post("/loyalty/configurations", h.loyalty.CreateConfiguration)
					admin.Get("/loyalty/configurations/{id}", h.loyalty.GetConfiguration)
					admin.Put("/loyalty/configurations/{id}", h.loyalty.UpdateConfiguration)
					admin.Delete("/loyalty/configurations/{id}", h.loyalty.DeleteConfiguration)
					admin.With(idempotent).Post("/loyalty/accrue", h.loyalty.Accrue)

					admin.Get("/admin/dashboard", h.dashboard.GetSummary)
				})
			})
		})
	})

	return r
}

// cacheInvalidator сбрасывает кеш каталога тарологов
type cacheInvalidator interface {
	InvalidateCache(ctx context.Context)
}

// eventBroadcaster раздаёт события подписчикам SSE
type eventBroadcaster interface {
	Broadcast(event models.Event) int
}

// registerEventHandlers регистрирует обработчики событий Kafka
func registerEventHandlers(consumer *kafka.Consumer, hub eventBroadcaster, notifier notify.Notifier, consultants cacheInvalidator, log *logger.Logger) {
	// Статус таролога меняют и консультации, и sweeper: кеш каталога сбрасывается по событию
	consumer.RegisterHandler(models.EventTypeConsultantStatusChanged, func(ctx context.Context, event *models.Event) error {
		consultants.InvalidateCache(ctx)
		return nil
	})

	consumer.RegisterHandler(kafka.AnyEvent, func(ctx context.Context, event *models.Event) error {
		delivered := hub.Broadcast(*event)
		log.WithFields(map[string]interface{}{
			"event_id":   event.ID,
			"event_type": event.Type,
			"delivered":  delivered,
		}).Debug("Event broadcast to subscribers")

		if err := notifier.HandleEvent(ctx, event); err != nil {
			// Уведомление не критично: событие не переигрывается
			log.WithError(err).WithField("event_id", event.ID).Warn("Failed to notify operators")
		}
		return nil
	})
}

// requestLogger пишет одну запись на запрос
func requestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			log.WithRequestID(middleware.GetReqID(r.Context())).WithFields(map[string]interface{}{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      ww.Status(),
				"bytes":       ww.BytesWritten(),
				"duration_ms": time.Since(start).Milliseconds(),
			}).Info("HTTP request")
		})
	}
}

// corsMiddleware разрешает запросы из веб-клиента
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Idempotency-Key, "+auth.ServiceKeyHeader)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
