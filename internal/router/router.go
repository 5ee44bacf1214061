package router

import (
	"log/slog"
	"net/http"

	"Lee_Social/internal/handler"
	"Lee_Social/internal/metrics"
	"Lee_Social/internal/middleware"
	"Lee_Social/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Deps is everything the HTTP layer needs from the wiring in cmd/api.
type Deps struct {
	Auth      *service.AuthService
	Users     *service.UserService
	Email     *service.EmailService
	Community *service.CommunityService
	Tokens    middleware.TokenParser
	Gatherer  prometheus.Gatherer
	Logger    *slog.Logger
}

func InitRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(d.Logger), middleware.Metrics())

	auth := handler.NewAuthHandler(d.Auth, d.Logger)
	user := handler.NewUserHandler(d.Users, d.Logger)
	email := handler.NewEmailHandler(d.Email, d.Logger)
	community := handler.NewCommunityHandler(d.Community, d.Logger)
	requireAuth := middleware.AuthMiddleware(d.Tokens)

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(metrics.Handler(d.Gatherer)))
	}

	// 邮件相关接口
	emailGroup := r.Group("/api/email")
	{
		emailGroup.POST("/:scope/code", email.SendCode)
	}

	// 用户相关接口
	userGroup := r.Group("/api/users")
	{
		userGroup.POST("/register", user.Register)
		userGroup.POST("/verify-email", user.VerifyEmail)
		userGroup.POST("/reset-password", user.ResetPassword)
		userGroup.POST("/change-password", requireAuth, user.ChangePassword)
		userGroup.GET("/me", requireAuth, user.Me)
		userGroup.PATCH("/me", requireAuth, user.UpdateMe)
	}

	// token相关接口
	authGroup := r.Group("/api/auth")
	{
		authGroup.POST("/login", auth.Login)
		authGroup.POST("/refresh", auth.Refresh)
		authGroup.POST("/logout", auth.Logout)
		authGroup.GET("/me", requireAuth, auth.Me)
	}

	// 社区相关接口
	communityGroup := r.Group("/api/communities")
	{
		communityGroup.GET("", community.List)
		communityGroup.POST("", requireAuth, community.Create)
		communityGroup.GET("/mine", requireAuth, community.Mine)

		one := communityGroup.Group("/:id", requireAuth)
		one.GET("", community.Get)
		one.POST("/join", community.Join)
		one.POST("/leave", community.Leave)
		one.PUT("/members/role", community.UpdateRole)
		one.GET("/members", community.Members)
		one.POST("/invites", community.CreateInvite)
		one.GET("/invites", community.Invites)
		one.DELETE("/invites/:inviteId", community.RevokeInvite)
	}

	return r
}
