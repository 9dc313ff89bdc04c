package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/cedrick13bienvenue/prescripto-sub000/internal/config"
	"github.com/cedrick13bienvenue/prescripto-sub000/internal/handler"
	pharmacyHandler "github.com/cedrick13bienvenue/prescripto-sub000/internal/handler/pharmacy"
	prescriptionHandler "github.com/cedrick13bienvenue/prescripto-sub000/internal/handler/prescription"
	"github.com/cedrick13bienvenue/prescripto-sub000/internal/middleware"
	"github.com/cedrick13bienvenue/prescripto-sub000/internal/repository/postgres"
	"github.com/cedrick13bienvenue/prescripto-sub000/internal/router"
	pharmacylogService "github.com/cedrick13bienvenue/prescripto-sub000/internal/service/pharmacylog"
	prescriptionService "github.com/cedrick13bienvenue/prescripto-sub000/internal/service/prescription"
	tokenService "github.com/cedrick13bienvenue/prescripto-sub000/internal/service/token"
	"github.com/cedrick13bienvenue/prescripto-sub000/pkg/auth"
	"github.com/cedrick13bienvenue/prescripto-sub000/pkg/metrics"
	"github.com/cedrick13bienvenue/prescripto-sub000/pkg/qrcode"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Initialize database
	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	// Initialize repositories
	baseRepo := postgres.NewBaseRepository(db)
	prescriptionRepo := postgres.NewPrescriptionRepository(baseRepo)
	tokenRepo := postgres.NewTokenRepository(baseRepo)
	logRepo := postgres.NewPharmacyLogRepository(baseRepo)

	// Initialize token codec
	codec, err := tokenService.NewCodec(cfg.Token.Secret, cfg.Token.KeySalt)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize token codec")
	}

	m := metrics.NewMetrics("prescripto", "api")

	// Initialize services
	prescriptionSvc := prescriptionService.NewService(
		prescriptionRepo, tokenRepo, logRepo, codec, cfg.Token.TTL(), m,
	)
	pharmacylogSvc := pharmacylogService.NewService(logRepo)

	// Initialize middleware
	jwtSvc := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpiryHours)
	authMiddleware := middleware.NewAuthMiddleware(jwtSvc)
	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Rate:  rate.Limit(cfg.RateLimit.RequestsPerSecond),
		Burst: cfg.RateLimit.Burst,
	})

	// Initialize handlers
	renderer := qrcode.NewPNGRenderer()
	healthHandler := handler.NewHealthHandler(db)
	rxHandler := prescriptionHandler.NewHandler(prescriptionSvc, renderer)
	phHandler := pharmacyHandler.NewHandler(prescriptionSvc, pharmacylogSvc)

	// Setup router
	r := router.NewRouter(authMiddleware, rateLimiter, healthHandler, rxHandler, phHandler)
	r.Setup()

	// Create server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r.Engine(),
	}

	// Start server
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()
	log.Info().Int("port", cfg.Server.Port).Msg("server started")

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server exited properly")
}
