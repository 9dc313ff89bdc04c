package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cedrick13bienvenue/prescripto-sub000/internal/handler"
	"github.com/cedrick13bienvenue/prescripto-sub000/internal/handler/pharmacy"
	"github.com/cedrick13bienvenue/prescripto-sub000/internal/handler/prescription"
	"github.com/cedrick13bienvenue/prescripto-sub000/internal/middleware"
)

type Router struct {
	engine              *gin.Engine
	authMiddleware      *middleware.AuthMiddleware
	rateLimiter         *middleware.RateLimiter
	healthHandler       *handler.HealthHandler
	prescriptionHandler *prescription.Handler
	pharmacyHandler     *pharmacy.Handler
}

func NewRouter(
	authMiddleware *middleware.AuthMiddleware,
	rateLimiter *middleware.RateLimiter,
	healthHandler *handler.HealthHandler,
	prescriptionHandler *prescription.Handler,
	pharmacyHandler *pharmacy.Handler,
) *Router {
	return &Router{
		engine:              gin.New(),
		authMiddleware:      authMiddleware,
		rateLimiter:         rateLimiter,
		healthHandler:       healthHandler,
		prescriptionHandler: prescriptionHandler,
		pharmacyHandler:     pharmacyHandler,
	}
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}

func (r *Router) Setup() {
	handler.RegisterValidations()

	r.engine.Use(middleware.RequestID())
	r.engine.Use(middleware.Logger())
	r.engine.Use(middleware.Recovery())

	r.engine.GET("/health/live", r.healthHandler.Live)
	r.engine.GET("/health/ready", r.healthHandler.Ready)
	r.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.engine.Group("/api/v1",
		r.rateLimiter.RateLimit(),
		r.authMiddleware.Authenticate(),
	)
	r.prescriptionHandler.RegisterRoutes(api)

	// Pharmacy workflow routes are restricted to pharmacist actors.
	pharmacyAPI := r.engine.Group("/api/v1",
		r.rateLimiter.RateLimit(),
		r.authMiddleware.Authenticate(),
		r.authMiddleware.RequireActorType("pharmacist"),
	)
	r.pharmacyHandler.RegisterRoutes(pharmacyAPI)
}
