package router

import (
	"net/http"
	"time"

	"github.com/admitly/admitexam-backend/internal/config"
	"github.com/admitly/admitexam-backend/internal/handler"
	"github.com/admitly/admitexam-backend/internal/middleware"
	"github.com/admitly/admitexam-backend/internal/response"
	"github.com/admitly/admitexam-backend/internal/service"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth        *handler.AuthHandler
	Exam        *handler.ExamHandler
	QuestionSet *handler.QuestionSetHandler
	WS          *handler.WSHandler
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

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// ─── 1. Auth Group (Public) ────────────────────────────────────────
	auth := router.Group("/api/v1/auth")
	{
		auth.POST("/candidate/login", handlers.Auth.CandidateLogin)
		auth.POST("/admin/login", handlers.Auth.AdminLogin)
	}

	// ─── 2. Candidate Group (JWT) ──────────────────────────────────────
	examAPI := router.Group("/api/v1/exam")
	examAPI.Use(middleware.RequireCandidateJWT(authService))
	{
		examAPI.POST("/start", handlers.Exam.StartExam)
		examAPI.POST("/submit", handlers.Exam.SubmitExam)
		examAPI.GET("/history", handlers.Exam.GetHistory)
		examAPI.GET("/sessions/:session_id", handlers.Exam.GetSessionDetail)
	}

	// ─── 3. WebSocket Group (Candidate WS Auth) ────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireCandidateWSAuth(authService))
	{
		ws.GET("/exam/clock", handlers.WS.ExamClockStream)
	}

	// ─── 4. Admin Group (JWT) ──────────────────────────────────────────
	adminAPI := router.Group("/api/v1/admin")
	adminAPI.Use(middleware.RequireAdminJWT(authService))
	{
		adminAPI.POST("/question-sets", handlers.QuestionSet.CreateSet)
		adminAPI.GET("/question-sets", handlers.QuestionSet.ListSets)
		adminAPI.GET("/question-sets/:id", handlers.QuestionSet.GetSet)
	}

	return router
}
