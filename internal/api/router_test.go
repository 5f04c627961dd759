package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/wfunc/arcom/internal/arcom"
	"github.com/wfunc/arcom/internal/config"
	"github.com/wfunc/arcom/internal/middleware"
	"github.com/wfunc/arcom/internal/repository"
	"github.com/wfunc/arcom/internal/service"
	"github.com/wfunc/arcom/internal/utils"
	ws "github.com/wfunc/arcom/internal/websocket"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RouterTestSuite 接口测试套件，串口使用内存回环
type RouterTestSuite struct {
	suite.Suite
	db       *gorm.DB
	logs     *service.TransferLogService
	link     *service.LinkService
	hub      *ws.Hub
	router   *Router
	operator string
	viewer   string
}

func (s *RouterTestSuite) SetupTest() {
	hash, err := utils.HashPasswordWithConfig("bench-pass", &utils.PasswordConfig{Time: 1, Memory: 1024, Threads: 1, KeyLen: 16})
	s.Require().NoError(err)

	cfg := &config.Config{
		Server: config.ServerConfig{Mode: "test"},
		Serial: config.SerialConfig{
			Enabled:       true,
			MockMode:      true,
			BaudRate:      115200,
			ReadTimeout:   100 * time.Millisecond,
			PollInterval:  5 * time.Millisecond,
			RetryTimes:    1,
			RetryInterval: time.Millisecond,
			MaxReadBytes:  1024,
			MaxWriteBytes: 1024,
		},
		TransferLog: config.TransferLogConfig{Enabled: true, FlushInterval: time.Hour, RetentionDays: 30},
		WebSocket:   config.WebSocketConfig{Enabled: true, Path: "/ws/link"},
		Security: config.SecurityConfig{
			JWT: config.JWTConfig{Enabled: true, Secret: "secret", Issuer: "arcomd", ExpireHours: 1},
			Operators: []config.OperatorConfig{
				{Username: "bench", PasswordHash: hash},
				{Username: "monitor", PasswordHash: hash, Role: utils.RoleViewer},
			},
		},
	}

	s.db = repository.SetupTestDB()
	s.logs = service.NewTransferLogService(repository.NewTransferLogRepository(s.db), cfg.TransferLog)
	s.hub = ws.NewHub(cfg.WebSocket, 0, zap.NewNop())
	go s.hub.Run()
	s.link = service.NewLinkService(cfg.Serial, nil, s.logs, s.hub)
	s.Require().NoError(s.link.Start(context.Background()))

	auth := service.NewAuthService(cfg.Security.Operators, utils.NewJWTManagerFromConfig(cfg.Security.JWT))
	s.router = NewRouter(Dependencies{
		Config:       cfg,
		Link:         s.link,
		TransferLogs: s.logs,
		Hub:          s.hub,
		Auth:         auth,
	}, zap.NewNop())

	s.operator = s.login("bench")
	s.viewer = s.login("monitor")
}

func (s *RouterTestSuite) TearDownTest() {
	s.link.Stop()
	s.logs.Close()
	s.hub.Stop()
	repository.CleanupTestDB(s.db)
}

func (s *RouterTestSuite) login(username string) string {
	w := s.do(http.MethodPost, "/api/v1/auth/login", "", map[string]string{"username": username, "password": "bench-pass"})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	var resp service.AuthResponse
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.AccessToken
}

func (s *RouterTestSuite) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.Handler().ServeHTTP(w, req)
	return w
}

func (s *RouterTestSuite) decode(w *httptest.ResponseRecorder, v interface{}) {
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func (s *RouterTestSuite) errorCode(w *httptest.ResponseRecorder) int {
	var resp struct {
		Error struct {
			Code int `json:"code"`
		} `json:"error"`
	}
	s.decode(w, &resp)
	return resp.Error.Code
}

func (s *RouterTestSuite) TestHealth() {
	w := s.do(http.MethodGet, "/health", "", nil)
	s.Equal(http.StatusOK, w.Code)

	var body map[string]interface{}
	s.decode(w, &body)
	s.Equal("healthy", body["status"])
}

func (s *RouterTestSuite) TestRequiresToken() {
	w := s.do(http.MethodGet, "/api/v1/link/status", "", nil)
	s.Equal(http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodGet, "/api/v1/link/status", s.viewer, nil)
	s.Equal(http.StatusOK, w.Code)

	var status service.LinkStatus
	s.decode(w, &status)
	s.True(status.Started)
	s.True(status.Connected)
}

func (s *RouterTestSuite) TestViewerCannotWrite() {
	w := s.do(http.MethodPost, "/api/v1/link/write", s.viewer, WriteRequest{})
	s.Equal(http.StatusForbidden, w.Code)
}

func (s *RouterTestSuite) TestTransfer() {
	req := map[string]interface{}{
		"segments": []map[string]interface{}{
			{"type": "UINT16", "values": []int{5, 5, 5}},
			{"type": "int8", "values": []int{-1}},
		},
		"reads": []map[string]interface{}{
			{"type": "uint16", "count": 3},
			{"type": "int8", "count": 1},
		},
	}
	w := s.do(http.MethodPost, "/api/v1/link/transfer", s.operator, req)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	var resp LinkResponse
	s.decode(w, &resp)
	s.Equal(7, resp.Sent)
	s.Equal([][]int64{{5, 5, 5}, {-1}}, resp.Values)
	s.NotEmpty(resp.RequestID)
	s.Equal(resp.RequestID, w.Header().Get(middleware.HeaderRequestID))

	// 同一请求的收发记录
	s.logs.Flush()
	w = s.do(http.MethodGet, "/api/v1/transfer-logs/request/"+resp.RequestID, s.viewer, nil)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	var logs struct {
		Count int `json:"count"`
		Data  []struct {
			Direction string `json:"direction"`
			HexData   string `json:"hex_data"`
		} `json:"data"`
	}
	s.decode(w, &logs)
	s.Require().Equal(2, logs.Count)
	s.Equal("SEND", logs.Data[0].Direction)
	s.Equal("050005000500ff", logs.Data[0].HexData)
	s.Equal("RECEIVE", logs.Data[1].Direction)
}

func (s *RouterTestSuite) TestWriteThenRead() {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/link/write",
		bytes.NewBufferString(`{"segments":[{"type":"uint32","values":[500,4294967295]}]}`))
	req.Header.Set("Authorization", "Bearer "+s.operator)
	req.Header.Set(middleware.HeaderRequestID, "bench-1")
	w := httptest.NewRecorder()
	s.router.Handler().ServeHTTP(w, req)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	var resp LinkResponse
	s.decode(w, &resp)
	s.Equal("bench-1", resp.RequestID)
	s.Equal(8, resp.Sent)

	w = s.do(http.MethodPost, "/api/v1/link/read", s.operator, ReadRequest{Reads: []arcom.Want{arcom.Read(2, arcom.TagUint32)}})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	s.decode(w, &resp)
	s.Equal([][]int64{{500, 4294967295}}, resp.Values)
}

func (s *RouterTestSuite) TestCodecErrors() {
	w := s.do(http.MethodPost, "/api/v1/link/write", s.operator, map[string]interface{}{
		"segments": []map[string]interface{}{{"type": "float", "values": []int{1}}},
	})
	s.Equal(http.StatusBadRequest, w.Code)
	s.Equal(3100, s.errorCode(w))

	w = s.do(http.MethodPost, "/api/v1/link/write", s.operator, map[string]interface{}{
		"segments": []map[string]interface{}{{"type": "uint8", "values": []int{256}}},
	})
	s.Equal(http.StatusBadRequest, w.Code)
	s.Equal(3101, s.errorCode(w))

	w = s.do(http.MethodPost, "/api/v1/link/write", s.operator, map[string]interface{}{})
	s.Equal(http.StatusBadRequest, w.Code)
	s.Equal(3103, s.errorCode(w))

	w = s.do(http.MethodPost, "/api/v1/link/read", s.operator, "not an object")
	s.Equal(http.StatusBadRequest, w.Code)
	s.Equal(1001, s.errorCode(w))
}

func (s *RouterTestSuite) TestSizeLimits() {
	// 数量溢出 int
	w := s.do(http.MethodPost, "/api/v1/link/read", s.operator, map[string]interface{}{
		"reads": []map[string]interface{}{{"type": "uint32", "count": int64(1) << 61}},
	})
	s.Equal(http.StatusBadRequest, w.Code)
	s.Equal(3104, s.errorCode(w))

	w = s.do(http.MethodPost, "/api/v1/link/read", s.operator, map[string]interface{}{
		"reads": []map[string]interface{}{{"type": "uint32", "count": 257}},
	})
	s.Equal(http.StatusBadRequest, w.Code)
	s.Equal(3104, s.errorCode(w))

	w = s.do(http.MethodPost, "/api/v1/link/write", s.operator, map[string]interface{}{
		"segments": []map[string]interface{}{{"type": "uint16", "values": make([]int, 513)}},
	})
	s.Equal(http.StatusBadRequest, w.Code)
	s.Equal(3104, s.errorCode(w))

	w = s.do(http.MethodPost, "/api/v1/link/read", s.operator, map[string]interface{}{
		"reads": []map[string]interface{}{{"type": "uint8", "count": -1}},
	})
	s.Equal(http.StatusBadRequest, w.Code)
	s.Equal(1001, s.errorCode(w))
}

func (s *RouterTestSuite) TestReadTimeout() {
	w := s.do(http.MethodPost, "/api/v1/link/read", s.operator, map[string]interface{}{
		"reads": []map[string]interface{}{{"type": "uint16", "count": 1}},
	})
	s.Equal(http.StatusGatewayTimeout, w.Code)
	s.Equal(3003, s.errorCode(w))

	w = s.do(http.MethodPost, "/api/v1/link/flush", s.operator, nil)
	s.Equal(http.StatusOK, w.Code)
}

func (s *RouterTestSuite) TestTransferLogs() {
	for i := 0; i < 3; i++ {
		w := s.do(http.MethodPost, "/api/v1/link/write", s.operator, map[string]interface{}{
			"segments": []map[string]interface{}{{"type": "uint8", "values": []int{i}}},
		})
		s.Require().Equal(http.StatusOK, w.Code)
	}
	s.logs.Flush()

	w := s.do(http.MethodGet, "/api/v1/transfer-logs?direction=send&page=1&page_size=2", s.viewer, nil)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	var list struct {
		Data       []map[string]interface{} `json:"data"`
		Pagination repository.Pagination    `json:"pagination"`
	}
	s.decode(w, &list)
	s.Len(list.Data, 2)
	s.Equal(int64(3), list.Pagination.Total)

	id := int(list.Data[0]["id"].(float64))
	w = s.do(http.MethodGet, fmt.Sprintf("/api/v1/transfer-logs/%d", id), s.viewer, nil)
	s.Equal(http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/api/v1/transfer-logs/99999", s.viewer, nil)
	s.Equal(http.StatusNotFound, w.Code)

	w = s.do(http.MethodGet, "/api/v1/transfer-logs/stats", s.viewer, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var stats struct {
		Stats struct {
			TotalSend int64 `json:"total_send"`
			BytesSent int64 `json:"bytes_sent"`
		} `json:"stats"`
	}
	s.decode(w, &stats)
	s.Equal(int64(3), stats.Stats.TotalSend)
	s.Equal(int64(3), stats.Stats.BytesSent)

	w = s.do(http.MethodGet, "/api/v1/transfer-logs/stats?start_time=yesterday", s.viewer, nil)
	s.Equal(http.StatusBadRequest, w.Code)

	w = s.do(http.MethodGet, "/api/v1/transfer-logs/export", s.viewer, nil)
	s.Equal(http.StatusOK, w.Code)
	s.Contains(w.Header().Get("Content-Disposition"), "transfer_logs_export.json")

	w = s.do(http.MethodPost, "/api/v1/transfer-logs/cleanup", s.viewer, nil)
	s.Equal(http.StatusForbidden, w.Code)

	w = s.do(http.MethodPost, "/api/v1/transfer-logs/cleanup", s.operator, CleanupRequest{RetentionDays: 1})
	s.Equal(http.StatusOK, w.Code)
}

func (s *RouterTestSuite) TestNoRoute() {
	w := s.do(http.MethodGet, "/api/v1/unknown", "", nil)
	s.Equal(http.StatusNotFound, w.Code)
	s.Equal(1002, s.errorCode(w))
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterTestSuite))
}
