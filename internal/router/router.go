package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-session-engine/internal/config"
	"github.com/stemsi/exstem-session-engine/internal/handler"
	"github.com/stemsi/exstem-session-engine/internal/middleware"
	"github.com/stemsi/exstem-session-engine/internal/response"
	"github.com/stemsi/exstem-session-engine/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Session   *handler.SessionHandler
	Grace     *handler.GraceHandler
	Resume    *handler.ResumeHandler
	Suspicion *handler.SuspicionHandler
	WS        *handler.WSHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Apply brotli middleware globally.
	router.Use(middleware.Brotli())

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// Rate limiter for session mutations (120 requests per minute per IP:
	// answer updates arrive continuously during an exam).
	sessionLimiter := middleware.NewRateLimiter(120, time.Minute)

	// ─── 1. Student Group (JWT) ────────────────────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(
		middleware.RequireStudentJWT(authService),
		sessionLimiter.Middleware(),
	)
	{
		studentAPI.POST("/sessions", handlers.Session.Create)
		studentAPI.GET("/sessions/:session_id", handlers.Session.Get)
		studentAPI.GET("/sessions/:session_id/state", handlers.Session.State)
		studentAPI.POST("/sessions/:session_id/start", handlers.Session.Start)
		studentAPI.POST("/sessions/:session_id/answers", handlers.Session.UpdateAnswer)
		studentAPI.POST("/sessions/:session_id/navigate", handlers.Session.Navigate)
		studentAPI.POST("/sessions/:session_id/pause", handlers.Session.Pause)
		studentAPI.POST("/sessions/:session_id/resume-now", handlers.Session.Resume)
		studentAPI.POST("/sessions/:session_id/complete", handlers.Session.Complete)

		studentAPI.POST("/sessions/:session_id/grace", handlers.Grace.Request)

		studentAPI.GET("/sessions/:session_id/resume", handlers.Resume.Evaluate)
		studentAPI.POST("/sessions/:session_id/resume", handlers.Resume.Execute)
	}

	// ─── 2. WebSocket Group (Student WS Auth) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireStudentWSAuth(authService))
	{
		ws.GET("/student/sessions/:session_id/stream", handlers.WS.SessionStream)
	}

	// ─── 3. Teacher Group (JWT) ────────────────────────────────────────
	adminAPI := router.Group("/api/v1/admin")
	adminAPI.Use(middleware.RequireTeacherJWT(authService))
	{
		adminAPI.GET("/sessions/:session_id", handlers.Session.Get)
		adminAPI.POST("/sessions/:session_id/terminate", handlers.Session.Terminate)

		adminAPI.GET("/sessions/:session_id/grace", handlers.Grace.List)
		adminAPI.POST("/grace/:grace_id/approve", handlers.Grace.Approve)
		adminAPI.POST("/grace/:grace_id/reject", handlers.Grace.Reject)

		adminAPI.POST("/sessions/:session_id/suspicion", handlers.Suspicion.Analyze)
		adminAPI.GET("/sessions/:session_id/suspicion", handlers.Suspicion.ListFindings)
	}

	return router
}
