package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/civicfix/backend/internal/config"
	"github.com/civicfix/backend/internal/db"
	"github.com/civicfix/backend/internal/dedup"
	"github.com/civicfix/backend/internal/http/handlers"
	"github.com/civicfix/backend/internal/http/middleware"
	"github.com/civicfix/backend/internal/live"
	"github.com/civicfix/backend/internal/routing"
	"github.com/civicfix/backend/internal/service"
	"github.com/civicfix/backend/internal/sla"

	_ "github.com/civicfix/backend/docs"
)

// Deps are the pipeline components the HTTP layer calls into.
type Deps struct {
	Store  db.TicketStore
	Triage *service.TriageService
	Dedup  *dedup.Coordinator
	Router *routing.Classifier
	SLA    *sla.Engine
}

func Router(cfg config.Config, deps Deps, logger zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("civicfix-backend"))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.MaxMultipartMemory = cfg.MaxUploadSizeMB << 20

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "Idempotency-Key", middleware.AdminKeyHeader, middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	origins := allowedOrigins(cfg.CORSAllowed)
	if len(origins) == 0 {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = origins
	}
	r.Use(cors.New(corsCfg))

	h := &handlers.Handler{
		Store:  deps.Store,
		Triage: deps.Triage,
		Dedup:  deps.Dedup,
		Router: deps.Router,
		SLA:    deps.SLA,
		Live: live.Options{
			Router:         deps.Router,
			Dedup:          deps.Dedup,
			Logger:         logger.With().Str("component", "live").Logger(),
			RoutingDelay:   cfg.LiveRoutingDelay,
			DuplicateDelay: cfg.LiveDuplicateDelay,
		},
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(origins),
		},
		Validator:       validator.New(),
		Logger:          logger,
		MaxUploadBytes:  cfg.MaxUploadSizeMB << 20,
		HotIssueUpvotes: cfg.HotIssueUpvotes,
	}

	r.GET("/healthz", h.Healthz)

	api := r.Group("/api")
	{
		api.POST("/tickets/report", h.ReportIssue)
		api.POST("/tickets/analyze", h.AnalyzeImage)
		api.POST("/tickets/check-duplicate", h.CheckDuplicate)
		api.GET("/tickets", h.TicketsList)
		api.GET("/tickets/hot", h.HotIssues)
		api.GET("/tickets/:id", h.TicketDetails)
		api.PUT("/tickets/:id/upvote", h.Upvote)
		api.POST("/routing/analyze", h.RoutingAnalyze)
		api.GET("/live", h.Live)
	}

	admin := api.Group("")
	admin.Use(middleware.AdminKey(cfg.AdminKey))
	{
		admin.PUT("/tickets/:id/status", h.UpdateStatus)
		admin.POST("/sla/resolve", h.ResolveSLA)
	}

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return r
}

// allowedOrigins returns nil for "*" or an empty setting.
func allowedOrigins(raw string) []string {
	var out []string
	for _, o := range strings.Split(raw, ",") {
		o = strings.TrimSpace(o)
		if o == "*" {
			return nil
		}
		if o != "" {
			out = append(out, o)
		}
	}
	return out
}

func originChecker(origins []string) func(r *http.Request) bool {
	if len(origins) == 0 {
		return func(r *http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range origins {
			if strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}
