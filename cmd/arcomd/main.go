package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/wfunc/arcom/internal/api"
	"github.com/wfunc/arcom/internal/arcom"
	"github.com/wfunc/arcom/internal/config"
	"github.com/wfunc/arcom/internal/database"
	apperrors "github.com/wfunc/arcom/internal/errors"
	"github.com/wfunc/arcom/internal/logger"
	"github.com/wfunc/arcom/internal/repository"
	"github.com/wfunc/arcom/internal/service"
	"github.com/wfunc/arcom/internal/utils"
	ws "github.com/wfunc/arcom/internal/websocket"
	"go.uber.org/zap"
)

// 版本信息
var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Server 守护进程实例
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	logs *service.TransferLogService
	hub  *ws.Hub
	link *service.LinkService
	http *http.Server

	ctx    context.Context
	cancel context.CancelFunc
}

func main() {
	// 命令行参数
	var (
		configPath   = flag.String("config", "", "配置文件路径")
		showVersion  = flag.Bool("version", false, "显示版本信息")
		issueToken   = flag.String("token", "", "为指定操作员签发令牌后退出")
		tokenRole    = flag.String("role", utils.RoleOperator, "配合 -token 使用的角色")
		hashPassword = flag.String("hash-password", "", "输出密码的 argon2id 哈希后退出")
	)
	flag.Parse()

	if *showVersion {
		printVersion()
		return
	}

	if *hashPassword != "" {
		hash, err := utils.HashPassword(*hashPassword)
		if err != nil {
			fmt.Fprintf(os.Stderr, "生成哈希失败: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}

	// 加载配置
	if err := config.Init(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	cfg := config.Get()

	if *issueToken != "" {
		auth := service.NewAuthService(nil, utils.NewJWTManagerFromConfig(cfg.Security.JWT))
		resp, err := auth.IssueToken(*issueToken, *tokenRole)
		if err != nil {
			fmt.Fprintf(os.Stderr, "签发令牌失败: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(resp.AccessToken)
		return
	}

	// 初始化日志系统
	if err := logger.Init(&cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Cleanup()

	server := NewServer(cfg)
	if err := server.Start(); err != nil {
		logger.Error("服务启动失败", zap.Error(err))
		server.Shutdown()
		os.Exit(1)
	}

	server.WaitForShutdown()

	if err := server.Shutdown(); err != nil {
		logger.Error("服务关闭失败", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("服务已安全关闭")
}

// NewServer 创建服务实例
func NewServer(cfg *config.Config) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:    cfg,
		logger: logger.GetLogger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start 按 数据库 → 收发日志 → 监控Hub → 串口链路 → HTTP 的顺序启动
func (s *Server) Start() error {
	s.logger.Info("正在启动 arcomd...",
		zap.String("version", Version),
		zap.String("mode", s.cfg.Server.Mode),
		zap.String("config", config.ConfigFile()))

	if err := s.initDatabase(); err != nil {
		return err
	}

	var observers []arcom.Observer
	if s.cfg.TransferLog.Enabled && database.DB != nil {
		s.logs = service.NewTransferLogService(repository.NewTransferLogRepository(database.DB), s.cfg.TransferLog)
		observers = append(observers, s.logs)
	}
	if s.cfg.WebSocket.Enabled {
		s.hub = ws.NewHub(s.cfg.WebSocket, s.cfg.TransferLog.MaxHexBytes, logger.WithModule("websocket"))
		go s.hub.Run()
		observers = append(observers, s.hub)
	}

	s.link = service.NewLinkService(s.cfg.Serial, nil, observers...)
	if s.hub != nil {
		s.hub.SetStatusProvider(func() interface{} { return s.link.Status() })
	}
	if s.cfg.Serial.Enabled {
		if err := s.link.Start(s.ctx); err != nil {
			return apperrors.Wrap(err, apperrors.ErrSerialPortOpen, "启动串口链路失败")
		}
	}

	var auth service.AuthService
	if s.cfg.Security.JWT.Enabled {
		auth = service.NewAuthService(s.cfg.Security.Operators, utils.NewJWTManagerFromConfig(s.cfg.Security.JWT))
	}

	router := api.NewRouter(api.Dependencies{
		Config:       s.cfg,
		Link:         s.link,
		TransferLogs: s.logs,
		Hub:          s.hub,
		Auth:         auth,
	}, logger.WithModule("http"))

	s.http = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      router.Handler(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}
	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP服务异常退出", zap.Error(err))
			s.cancel()
		}
	}()

	// 监听配置变化
	config.Watch(s.reloadConfig)

	s.logger.Info("服务启动成功",
		zap.String("http", s.cfg.Server.Addr()),
		zap.Bool("serial", s.cfg.Serial.Enabled),
		zap.Bool("transfer_log", s.logs != nil),
		zap.Bool("websocket", s.hub != nil),
		zap.Bool("auth", auth != nil))
	return nil
}

// initDatabase 初始化数据库
func (s *Server) initDatabase() error {
	if !s.cfg.Database.Enabled {
		s.logger.Info("数据库未启用，收发记录不落盘")
		return nil
	}

	if err := database.Init(&s.cfg.Database); err != nil {
		return apperrors.Wrap(err, apperrors.ErrDatabaseConnect, "初始化数据库连接失败")
	}
	if s.cfg.Database.AutoMigrate {
		s.logger.Info("执行数据库自动迁移...")
		if err := database.AutoMigrate(); err != nil {
			return apperrors.Wrap(err, apperrors.ErrDatabaseConnect, "数据库迁移失败")
		}
	}
	return nil
}

// WaitForShutdown 等待退出信号或内部错误
func (s *Server) WaitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		s.logger.Info("收到退出信号", zap.String("signal", sig.String()))
	case <-s.ctx.Done():
	}
}

// Shutdown 优雅关闭，顺序与启动相反
func (s *Server) Shutdown() error {
	s.logger.Info("正在优雅关闭服务...")
	s.cancel()

	timeout := s.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var firstErr error
	if s.http != nil {
		if err := s.http.Shutdown(ctx); err != nil {
			s.logger.Warn("HTTP服务关闭超时", zap.Error(err))
			firstErr = apperrors.Wrap(err, apperrors.ErrTimeout, "关闭超时")
		}
	}
	if s.link != nil {
		if err := s.link.Stop(); err != nil {
			s.logger.Error("关闭串口失败", zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if s.hub != nil {
		s.hub.Stop()
	}
	if s.logs != nil {
		s.logs.Close()
	}
	if err := database.Close(); err != nil {
		s.logger.Error("关闭数据库失败", zap.Error(err))
	}
	return firstErr
}

// reloadConfig 应用可热更新的配置项
func (s *Server) reloadConfig(newCfg *config.Config) {
	if newCfg.Log.Level != s.cfg.Log.Level {
		logger.SetLevel(newCfg.Log.Level)
		s.logger.Info("日志级别已更新", zap.String("level", newCfg.Log.Level))
	}
	if newCfg.Serial != s.cfg.Serial {
		s.logger.Warn("串口配置已变化，重启后生效")
	}
	s.cfg.Log = newCfg.Log
}

// printVersion 打印版本信息
func printVersion() {
	fmt.Printf("arcomd 串口收发守护进程\n")
	fmt.Printf("版本: %s\n", Version)
	fmt.Printf("构建时间: %s\n", BuildTime)
	fmt.Printf("Git提交: %s\n", GitCommit)
	fmt.Printf("Go版本: %s\n", runtime.Version())
	fmt.Printf("操作系统: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}
