package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	apperrors "github.com/wfunc/arcom/internal/errors"
	"github.com/wfunc/arcom/internal/service"
	"github.com/wfunc/arcom/internal/utils"
)

// 上下文键
const (
	ContextKeyUsername = "username"
	ContextKeyRole     = "role"
	ContextKeyToken    = "token"
)

// AuthMiddleware JWT认证中间件
type AuthMiddleware struct {
	authService service.AuthService
	enabled     bool
}

// NewAuthMiddleware 创建认证中间件，enabled 为 false 时所有请求直接放行
func NewAuthMiddleware(authService service.AuthService, enabled bool) *AuthMiddleware {
	return &AuthMiddleware{
		authService: authService,
		enabled:     enabled && authService != nil,
	}
}

// Enabled 是否启用认证
func (m *AuthMiddleware) Enabled() bool {
	return m.enabled
}

// RequireAuth 需要认证的中间件
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return m.RequireRole()
}

// OptionalAuth 可选认证的中间件（不强制要求登录）
func (m *AuthMiddleware) OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.enabled {
			c.Next()
			return
		}
		if token := extractToken(c); token != "" {
			if claims, err := m.authService.ValidateToken(c.Request.Context(), token); err == nil {
				setClaims(c, claims, token)
			}
		}
		c.Next()
	}
}

// RequireRole 需要特定角色的中间件，不传角色时只要求登录
func (m *AuthMiddleware) RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.enabled {
			c.Next()
			return
		}

		token := extractToken(c)
		if token == "" {
			AbortWithError(c, apperrors.New(apperrors.ErrAuthentication, "缺少认证令牌"))
			return
		}

		claims, err := m.authService.ValidateToken(c.Request.Context(), token)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		if len(roles) > 0 && !hasAnyRole(claims.Role, roles) {
			AbortWithError(c, apperrors.Newf(apperrors.ErrPermissionDenied, "角色 %s 无权访问", claims.Role))
			return
		}

		setClaims(c, claims, token)
		c.Next()
	}
}

func setClaims(c *gin.Context, claims *utils.JWTClaims, token string) {
	c.Set(ContextKeyUsername, claims.Username)
	c.Set(ContextKeyRole, claims.Role)
	c.Set(ContextKeyToken, token)
}

func hasAnyRole(role string, roles []string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// extractToken 从请求中提取令牌
func extractToken(c *gin.Context) string {
	// 1. Authorization: Bearer
	if bearer := c.GetHeader("Authorization"); bearer != "" {
		parts := strings.SplitN(bearer, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
	}

	// 2. X-Access-Token
	if token := c.GetHeader("X-Access-Token"); token != "" {
		return token
	}

	// 3. Cookie
	if token, err := c.Cookie("access_token"); err == nil && token != "" {
		return token
	}

	// 4. Query参数，浏览器WebSocket无法设置请求头
	return c.Query("token")
}

// GetUsername 从上下文获取用户名
func GetUsername(c *gin.Context) (string, bool) {
	return c.GetString(ContextKeyUsername), c.GetString(ContextKeyUsername) != ""
}

// GetUserRole 从上下文获取用户角色
func GetUserRole(c *gin.Context) (string, bool) {
	return c.GetString(ContextKeyRole), c.GetString(ContextKeyRole) != ""
}

// IsAuthenticated 检查是否已认证
func IsAuthenticated(c *gin.Context) bool {
	_, ok := GetUsername(c)
	return ok
}
