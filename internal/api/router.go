package api

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/elitemodel/backoffice/internal/cache"
	"github.com/elitemodel/backoffice/internal/middleware"
	"github.com/elitemodel/backoffice/internal/models"
	"github.com/elitemodel/backoffice/internal/reconciliation"
	"github.com/elitemodel/backoffice/internal/version"
)

const (
	defaultNotifyTimeout = 15 * time.Second
	defaultCheckTimeout  = 120 * time.Second
)

type reconcileRunner interface {
	Run(ctx context.Context) (reconciliation.Result, error)
}

type referenceIssuer interface {
	Issue(ctx context.Context) (string, error)
}

type applicationStore interface {
	Create(ctx context.Context, app *models.Application) error
	PaymentReferenceExists(ctx context.Context, ref string) (bool, error)
}

type submissionNotifier interface {
	ApplicationSubmitted(ctx context.Context, app *models.Application) error
}

type pinger interface {
	PingContext(ctx context.Context) error
}

// Deps lists the collaborators the HTTP surface needs. Nil members disable
// the routes that depend on them with a 503.
type Deps struct {
	Reconciler    reconcileRunner
	Issuer        referenceIssuer
	Applications  applicationStore
	Notifier      submissionNotifier
	Status        cache.JSONStore
	DB            pinger
	Gatherer      prometheus.Gatherer
	Logger        *log.Logger
	NotifyTimeout time.Duration
	// CheckTimeout bounds a pass started from the API.
	CheckTimeout  time.Duration
}

type Router struct {
	engine *gin.Engine
	deps   Deps
	logger *log.Logger
}

func NewRouter(deps Deps) *Router {
	if deps.Logger == nil {
		deps.Logger = log.Default()
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	if deps.NotifyTimeout <= 0 {
		deps.NotifyTimeout = defaultNotifyTimeout
	}
	if deps.CheckTimeout <= 0 {
		deps.CheckTimeout = defaultCheckTimeout
	}
	engine := gin.Default()
	engine.Use(middleware.RequestID(), requestMetrics())
	return &Router{engine: engine, deps: deps, logger: deps.Logger}
}

func (r *Router) SetupRoutes() {
	r.engine.GET("/health", r.healthCheck)
	r.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(r.deps.Gatherer, promhttp.HandlerOpts{})))

	api := r.engine.Group("/api")
	{
		payments := api.Group("/payments")
		{
			payments.GET("/check", r.handlePaymentCheck)
			payments.GET("/reference", r.handlePaymentReference)
			payments.GET("/status", r.handlePaymentStatus)
		}

		api.POST("/applications", r.handleCreateApplication)
	}
}

func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}

func (r *Router) healthCheck(c *gin.Context) {
	if r.deps.DB != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := r.deps.DB.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "Database connection failed",
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "elite-backoffice",
		"version": version.GetInfo(),
	})
}

func unavailable(c *gin.Context, what string) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": what + " unavailable"})
}
