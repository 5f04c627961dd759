package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/arcom/internal/config"
	"github.com/wfunc/arcom/internal/database"
	apperrors "github.com/wfunc/arcom/internal/errors"
	"github.com/wfunc/arcom/internal/middleware"
	"github.com/wfunc/arcom/internal/service"
	"github.com/wfunc/arcom/internal/utils"
	ws "github.com/wfunc/arcom/internal/websocket"
	"go.uber.org/zap"
)

// Dependencies 路由依赖，TransferLogs 与 Hub 未启用时为空
type Dependencies struct {
	Config       *config.Config
	Link         *service.LinkService
	TransferLogs *service.TransferLogService
	Hub          *ws.Hub
	Auth         service.AuthService
}

// Router API路由器
type Router struct {
	engine         *gin.Engine
	deps           Dependencies
	authMiddleware *middleware.AuthMiddleware
	log            *zap.Logger
	started        time.Time
}

// NewRouter 创建路由器
func NewRouter(deps Dependencies, log *zap.Logger) *Router {
	gin.SetMode(ginMode(deps.Config.Server.Mode))
	engine := gin.New()

	// 全局中间件
	engine.Use(middleware.RequestID())
	engine.Use(middleware.Recovery())
	engine.Use(middleware.Logger())

	router := &Router{
		engine:         engine,
		deps:           deps,
		authMiddleware: middleware.NewAuthMiddleware(deps.Auth, deps.Config.Security.JWT.Enabled),
		log:            log,
		started:        time.Now(),
	}
	router.setupRoutes()
	return router
}

// ginMode 将服务运行模式映射为 gin 模式
func ginMode(mode string) string {
	switch mode {
	case "production", "release":
		return gin.ReleaseMode
	case "test":
		return gin.TestMode
	default:
		return gin.DebugMode
	}
}

// setupRoutes 设置路由
func (r *Router) setupRoutes() {
	// 健康检查
	r.engine.GET("/health", r.healthCheck)

	registerOpenAPIRoutes(r.engine)
	registerSwaggerRoutes(r.engine)

	v1 := r.engine.Group("/api/v1")
	{
		// 认证（不需要令牌）
		if r.authMiddleware.Enabled() {
			authHandler := NewAuthHandler(r.deps.Auth)
			auth := v1.Group("/auth")
			auth.POST("/login", authHandler.Login)
			auth.POST("/refresh", authHandler.RefreshToken)
			auth.GET("/me", r.authMiddleware.RequireAuth(), authHandler.Me)
		}

		// 串口链路：查询允许所有角色，收发需要操作员
		linkHandler := NewLinkHandler(r.deps.Link)
		link := v1.Group("/link")
		link.Use(r.authMiddleware.RequireAuth())
		{
			link.GET("/status", linkHandler.Status)
			link.GET("/types", linkHandler.Types)

			operate := link.Group("")
			operate.Use(r.authMiddleware.RequireRole(utils.RoleOperator))
			operate.POST("/write", linkHandler.Write)
			operate.POST("/read", linkHandler.Read)
			operate.POST("/transfer", linkHandler.Transfer)
			operate.POST("/flush", linkHandler.Flush)
		}

		// 收发记录
		if r.deps.TransferLogs != nil {
			logHandler := NewTransferLogHandler(r.deps.TransferLogs)
			logs := v1.Group("/transfer-logs")
			logs.Use(r.authMiddleware.RequireAuth())
			{
				logs.GET("", logHandler.QueryLogs)
				logs.GET("/latest", logHandler.GetLatestLogs)
				logs.GET("/stats", logHandler.GetStats)
				logs.GET("/errors", logHandler.GetErrorLogs)
				logs.GET("/export", logHandler.ExportLogs)
				logs.GET("/request/:request_id", logHandler.GetByRequestID)
				logs.GET("/:id", logHandler.GetByID)
				logs.POST("/cleanup", r.authMiddleware.RequireRole(utils.RoleOperator), logHandler.CleanupLogs)
			}
		}
	}

	// 实时监控
	if r.deps.Hub != nil {
		path := r.deps.Config.WebSocket.Path
		if path == "" {
			path = "/ws/link"
		}
		r.engine.GET(path, r.authMiddleware.RequireAuth(), r.serveWS)
	}

	// 404处理
	r.engine.NoRoute(func(c *gin.Context) {
		middleware.AbortWithError(c, apperrors.New(apperrors.ErrNotFound, "接口不存在"))
	})
}

// healthCheck 健康检查
func (r *Router) healthCheck(c *gin.Context) {
	status := r.deps.Link.Status()
	body := gin.H{
		"status":   "healthy",
		"uptime":   time.Since(r.started).Round(time.Second).String(),
		"link":     status,
		"database": database.IsConnected(),
	}
	if r.deps.Hub != nil {
		body["ws_clients"] = r.deps.Hub.GetOnlineCount()
	}

	code := http.StatusOK
	if status.Enabled && !status.Connected {
		body["status"] = "degraded"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, body)
}

// serveWS 升级为监控连接
func (r *Router) serveWS(c *gin.Context) {
	user, _ := middleware.GetUsername(c)
	if err := r.deps.Hub.ServeWS(c.Writer, c.Request, user); err != nil {
		r.log.Warn("监控连接建立失败", zap.String("ip", c.ClientIP()), zap.Error(err))
	}
}

// Handler 返回 http.Handler
func (r *Router) Handler() http.Handler {
	return r.engine
}

// GetEngine 获取Gin引擎（用于测试）
func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
