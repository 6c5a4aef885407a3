package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/shopagent/shopagent/internal/config"
	"github.com/shopagent/shopagent/internal/dispatch"
	"github.com/shopagent/shopagent/internal/events"
	"github.com/shopagent/shopagent/internal/fallback"
	"github.com/shopagent/shopagent/internal/gateway"
	"github.com/shopagent/shopagent/internal/handlers"
	"github.com/shopagent/shopagent/internal/logging"
	"github.com/shopagent/shopagent/internal/middleware/auth"
	"github.com/shopagent/shopagent/internal/middleware/logmw"
	"github.com/shopagent/shopagent/internal/mykafka"
	"github.com/shopagent/shopagent/internal/search"
	"github.com/shopagent/shopagent/internal/service"
	"github.com/shopagent/shopagent/internal/service/chat"
	"github.com/shopagent/shopagent/internal/service/membership"
	"github.com/shopagent/shopagent/internal/service/order"
	"github.com/shopagent/shopagent/internal/service/payment"
	"github.com/shopagent/shopagent/internal/service/user"
	httpserver "github.com/shopagent/shopagent/internal/transport/http"
)

func main() {
	configuration, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	logger := logging.New(configuration.LOG_LEVEL)

	db, err := config.InitDB()
	if err != nil {
		log.Fatalf("db init: %v", err)
	}

	ctx := context.Background()
	rdb, err := config.InitRedis(ctx, configuration)
	if err != nil {
		log.Fatalf("redis init: %v", err)
	}

	prod, err := mykafka.NewProducer(configuration.KAFKA_BROKERS, []string{
		events.TopicOrderEvents, events.TopicChatEvents, events.TopicNotificationJobs,
	})
	if err != nil {
		log.Fatalf("kafka init: %v", err)
	}

	esClient, err := search.NewClient(configuration.ES_URL, configuration.ES_USER, configuration.ES_PASSWORD)
	if err != nil {
		logger.Warn("elasticsearch unavailable, admin search falls back to the database", "error", err)
		esClient = nil
	}

	bus := &events.RedisBus{RDB: rdb, Producer: prod, Log: logger}
	gw := gateway.NewHTTPGateway(configuration.GATEWAY_URL)
	orderSearch := &search.OrderSearch{ES: esClient, DB: db}

	locks := &service.KeyedMutex{}
	orderSvc := order.NewService(db, bus, gw, orderSearch, locks)
	chatSvc := chat.NewService(db, bus, &chat.RedisTypingStore{RDB: rdb}, locks)
	memberSvc := membership.NewService(db, locks)
	userSvc := user.NewService(db, rdb, locks)
	paymentSvc := payment.NewService(db, gw, orderSvc, locks)

	tokens := &auth.TokenService{
		DB:            db,
		JWTSecret:     []byte(configuration.JWT_SECRET),
		RefreshSecret: []byte(configuration.REFRESH_SECRET),
	}

	dispatcher := dispatch.NewDispatcher(configuration.KAFKA_BROKERS, "notification-dispatch", &dispatch.LogNotifier{Log: logger}, logger)
	dispatchCtx, stopDispatch := context.WithCancel(ctx)
	dispatcher.Start(dispatchCtx)

	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("db handle: %v", err)
	}
	probe := fallback.NewProber(sqlDB)

	e := echo.New()
	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover(), middleware.RequestID())
	e.Use(logmw.RequestLogger(logger))
	e.Use(fallback.Middleware(probe))

	deps := httpserver.Deps{
		DB:     db,
		Tokens: tokens,
		AuthHandler: &handlers.AuthHandler{
			DB:     db,
			Users:  userSvc,
			Tokens: tokens,
		},
		OrderHandler:      &handlers.OrderHandler{DB: db, Svc: orderSvc},
		AdminHandler:      &handlers.AdminHandler{DB: db, Orders: orderSvc, Users: userSvc, Search: orderSearch},
		ChatHandler:       &handlers.ChatHandler{DB: db, Svc: chatSvc},
		MembershipHandler: &handlers.MembershipHandler{DB: db, Svc: memberSvc},
		PaymentHandler:    &handlers.PaymentHandler{DB: db, Svc: paymentSvc},
		DashboardHandler: &handlers.DashboardHandler{
			DB:            db,
			Memberships:   memberSvc,
			DefaultLocale: configuration.DEFAULT_LOCALE,
		},
	}
	httpserver.Register(e, &deps)

	srv := &http.Server{
		Addr:         ":8080",
		Handler:      e,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	stopDispatch()
	dispatcher.Stop()

	if err := sqlDB.Close(); err != nil {
		logger.Error("db close error", "error", err)
	}
	if err := rdb.Close(); err != nil {
		logger.Error("redis close error", "error", err)
	}
	if err := prod.Close(); err != nil {
		logger.Error("kafka close error", "error", err)
	}

	logger.Info("shutdown complete")
}
