package service

import (
	"context"
	"errors"

	"github.com/wfunc/arcom/internal/config"
	apperrors "github.com/wfunc/arcom/internal/errors"
	"github.com/wfunc/arcom/internal/logger"
	"github.com/wfunc/arcom/internal/utils"
	"go.uber.org/zap"
)

// AuthService 操作员认证服务接口
type AuthService interface {
	Login(ctx context.Context, req *LoginRequest) (*AuthResponse, error)
	RefreshToken(ctx context.Context, refreshToken string) (*AuthResponse, error)
	ValidateToken(ctx context.Context, token string) (*utils.JWTClaims, error)
	IssueToken(username, role string) (*AuthResponse, error)
}

// LoginRequest 登录请求
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// AuthResponse 认证响应
type AuthResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"` // 秒
	Username     string `json:"username"`
	Role         string `json:"role"`
}

// authService 认证服务实现
type authService struct {
	operators  map[string]config.OperatorConfig
	jwtManager *utils.JWTManager
	log        *zap.Logger
}

// NewAuthService 创建认证服务
func NewAuthService(operators []config.OperatorConfig, jwtManager *utils.JWTManager) AuthService {
	m := make(map[string]config.OperatorConfig, len(operators))
	for _, op := range operators {
		if op.Role == "" {
			op.Role = utils.RoleOperator
		}
		m[op.Username] = op
	}
	return &authService{
		operators:  m,
		jwtManager: jwtManager,
		log:        logger.WithModule("auth"),
	}
}

// Login 操作员登录
func (s *authService) Login(ctx context.Context, req *LoginRequest) (*AuthResponse, error) {
	op, ok := s.operators[req.Username]
	if !ok {
		s.log.Warn("登录失败：操作员不存在", zap.String("username", req.Username))
		return nil, apperrors.New(apperrors.ErrAuthentication, "用户名或密码错误")
	}

	valid, err := utils.VerifyPassword(req.Password, op.PasswordHash)
	if err != nil {
		s.log.Error("操作员密码哈希无效", zap.String("username", req.Username), zap.Error(err))
		return nil, apperrors.New(apperrors.ErrAuthentication, "用户名或密码错误")
	}
	if !valid {
		s.log.Warn("登录失败：密码错误", zap.String("username", req.Username))
		return nil, apperrors.New(apperrors.ErrAuthentication, "用户名或密码错误")
	}

	s.log.Info("操作员登录", zap.String("username", op.Username), zap.String("role", op.Role))
	return s.IssueToken(op.Username, op.Role)
}

// IssueToken 直接签发令牌（arcomd -token）
func (s *authService) IssueToken(username, role string) (*AuthResponse, error) {
	access, err := s.jwtManager.GenerateAccessToken(username, role)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrUnknown, "签发访问令牌失败")
	}
	refresh, err := s.jwtManager.GenerateRefreshToken(username, role)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrUnknown, "签发刷新令牌失败")
	}
	return &AuthResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.jwtManager.GetTokenExpiry(utils.TokenTypeAccess).Seconds()),
		Username:     username,
		Role:         role,
	}, nil
}

// RefreshToken 刷新访问令牌
func (s *authService) RefreshToken(ctx context.Context, refreshToken string) (*AuthResponse, error) {
	claims, err := s.jwtManager.ValidateToken(refreshToken)
	if err != nil {
		return nil, tokenError(err)
	}
	if claims.TokenType != utils.TokenTypeRefresh {
		return nil, apperrors.New(apperrors.ErrTokenInvalid, "不是刷新令牌")
	}
	return s.IssueToken(claims.Username, claims.Role)
}

// ValidateToken 验证访问令牌
func (s *authService) ValidateToken(ctx context.Context, token string) (*utils.JWTClaims, error) {
	claims, err := s.jwtManager.ValidateAccessToken(token)
	if err != nil {
		return nil, tokenError(err)
	}
	return claims, nil
}

func tokenError(err error) error {
	if errors.Is(err, utils.ErrExpiredToken) {
		return apperrors.Wrap(err, apperrors.ErrTokenExpired)
	}
	return apperrors.Wrap(err, apperrors.ErrTokenInvalid, err.Error())
}
