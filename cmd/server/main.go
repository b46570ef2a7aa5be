package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ventra-system/config"
	"ventra-system/internal/alert"
	"ventra-system/internal/database"
	"ventra-system/internal/gateway/handlers"
	"ventra-system/internal/gateway/middleware"
	"ventra-system/internal/ledger"
	"ventra-system/internal/production"
	"ventra-system/internal/scheduler"
	"ventra-system/pkg/logger"
)

func main() {
	cfg := config.LoadConfig()

	baseLogger := logger.Must(logger.New())
	defer func() { _ = baseLogger.Sync() }()
	zap.ReplaceGlobals(baseLogger)

	db, err := database.NewConnection(cfg.DB.DSN())
	if err != nil {
		baseLogger.Fatal("failed to connect to database", zap.Error(err))
	}
	if err := database.Migrate(db); err != nil {
		baseLogger.Fatal("failed to migrate database", zap.Error(err))
	}

	redisClient := config.NewRedisClient(cfg.Redis)
	defer func() { _ = redisClient.Close() }()

	ledgerSvc := ledger.NewService(db, redisClient, logger.Named(baseLogger, "svc.ledger"))
	productionSvc := production.NewService(db, ledgerSvc, logger.Named(baseLogger, "svc.production"))
	alertSvc := alert.NewService(db, logger.Named(baseLogger, "svc.alert"))

	sched := scheduler.NewScheduler(cfg.Scheduler, db, alertSvc, logger.Named(baseLogger, "scheduler"))
	sched.Start()
	defer sched.Stop()

	engine := setupRouter(ledgerSvc, productionSvc, alertSvc, baseLogger)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		baseLogger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			baseLogger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	baseLogger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		baseLogger.Error("forced shutdown", zap.Error(err))
	}
}

func setupRouter(
	ledgerSvc *ledger.Service,
	productionSvc *production.Service,
	alertSvc *alert.Service,
	baseLogger *zap.Logger,
) *gin.Engine {
	r := gin.New()

	r.Use(middleware.CORS())
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(middleware.RateLimit())

	ledgerHandler := handlers.NewLedgerHTTPHandler(ledgerSvc, logger.Named(baseLogger, "handlers.ledger"))
	productionHandler := handlers.NewProductionHTTPHandler(productionSvc, logger.Named(baseLogger, "handlers.production"))
	alertHandler := handlers.NewAlertHTTPHandler(alertSvc, logger.Named(baseLogger, "handlers.alert"))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	protected := r.Group("/api/v1")
	protected.Use(middleware.JWTAuth())
	{
		stock := protected.Group("/stock")
		{
			stock.POST("/reserve", ledgerHandler.Reserve)
			stock.POST("/release", ledgerHandler.Release)
			stock.POST("/adjust", ledgerHandler.Adjust)
			stock.POST("/transfer", ledgerHandler.Transfer)
			stock.GET("/:itemId", ledgerHandler.GetStock)
		}

		protected.GET("/transactions", ledgerHandler.ListTransactions)
		protected.GET("/movements", ledgerHandler.ListMovements)

		items := protected.Group("/items")
		{
			items.GET("/:itemId/valuation", ledgerHandler.Valuation)
			items.GET("/:itemId/replenishment", ledgerHandler.Replenishment)
			items.GET("/:itemId/batches", productionHandler.IngredientBatches)
		}

		batches := protected.Group("/production/batches")
		{
			batches.POST("", productionHandler.CreateBatch)
			batches.GET("", productionHandler.ListBatches)
			batches.GET("/:id", productionHandler.GetBatch)
			batches.POST("/:id/start", productionHandler.StartBatch)
			batches.POST("/:id/complete", productionHandler.CompleteBatch)
			batches.POST("/:id/cancel", productionHandler.CancelBatch)
			batches.GET("/:id/transactions", productionHandler.BatchTransactions)
		}

		alerts := protected.Group("/alerts")
		{
			alerts.GET("", alertHandler.ListAlerts)
			alerts.POST("/:id/resolve", alertHandler.ResolveAlert)
		}
	}

	return r
}
