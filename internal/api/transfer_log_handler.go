package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	apperrors "github.com/wfunc/arcom/internal/errors"
	"github.com/wfunc/arcom/internal/middleware"
	"github.com/wfunc/arcom/internal/models"
	"github.com/wfunc/arcom/internal/repository"
	"github.com/wfunc/arcom/internal/service"
	"gorm.io/gorm"
)

// TransferLogHandler 收发记录处理器
type TransferLogHandler struct {
	service *service.TransferLogService
}

// NewTransferLogHandler 创建收发记录处理器
func NewTransferLogHandler(service *service.TransferLogService) *TransferLogHandler {
	return &TransferLogHandler{service: service}
}

// CleanupRequest 清理请求，0 表示使用配置的保留天数
type CleanupRequest struct {
	RetentionDays int `json:"retention_days" form:"retention_days"`
}

// parseQuery 解析过滤参数
func parseQuery(c *gin.Context) (*models.TransferLogQuery, error) {
	query := &models.TransferLogQuery{
		Direction: strings.ToUpper(c.Query("direction")),
		Port:      c.Query("port"),
		Tags:      c.Query("tags"),
		RequestID: c.Query("request_id"),
		SessionID: c.Query("session_id"),
		OrderBy:   c.Query("order_by"),
	}

	var err error
	if query.StartTime, err = parseTime(c, "start_time"); err != nil {
		return nil, err
	}
	if query.EndTime, err = parseTime(c, "end_time"); err != nil {
		return nil, err
	}
	if v := c.Query("has_error"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, apperrors.Newf(apperrors.ErrInvalidParam, "has_error=%q", v)
		}
		query.HasError = &b
	}
	return query, nil
}

func parseTime(c *gin.Context, key string) (*time.Time, error) {
	v := c.Query(key)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrInvalidParam, "%s 需要 RFC3339 格式", key)
	}
	return &t, nil
}

func queryInt(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.DefaultQuery(key, strconv.Itoa(def)))
	if err != nil {
		return def
	}
	return v
}

func dbError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.Wrap(err, apperrors.ErrNotFound, "记录不存在")
	}
	return apperrors.Wrap(err, apperrors.ErrDatabaseQuery, err.Error())
}

// QueryLogs 分页查询收发记录
// @Summary 查询收发记录
// @Tags TransferLog
// @Produce json
// @Param direction query string false "SEND / RECEIVE"
// @Param port query string false "串口"
// @Param request_id query string false "请求ID"
// @Param has_error query bool false "只看错误"
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/transfer-logs [get]
func (h *TransferLogHandler) QueryLogs(c *gin.Context) {
	query, err := parseQuery(c)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	page := repository.NewPagination(queryInt(c, "page", 1), queryInt(c, "page_size", 20))
	page.Apply(query)

	logs, total, err := h.service.Query(query)
	if err != nil {
		middleware.AbortWithError(c, dbError(err))
		return
	}
	page.Total = total

	c.JSON(http.StatusOK, gin.H{
		"data":       logs,
		"pagination": page,
	})
}

// GetLatestLogs 获取最新记录
// @Summary 最新收发记录
// @Tags TransferLog
// @Produce json
// @Param limit query int false "数量"
// @Param direction query string false "SEND / RECEIVE"
// @Router /api/v1/transfer-logs/latest [get]
func (h *TransferLogHandler) GetLatestLogs(c *gin.Context) {
	logs, err := h.service.GetLatestLogs(queryInt(c, "limit", 20), strings.ToUpper(c.Query("direction")))
	if err != nil {
		middleware.AbortWithError(c, dbError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":  logs,
		"count": len(logs),
	})
}

// GetStats 获取统计信息
// @Summary 收发统计
// @Tags TransferLog
// @Produce json
// @Param start_time query string false "RFC3339"
// @Param end_time query string false "RFC3339"
// @Success 200 {object} models.TransferLogStats
// @Router /api/v1/transfer-logs/stats [get]
func (h *TransferLogHandler) GetStats(c *gin.Context) {
	start, err := parseTime(c, "start_time")
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	end, err := parseTime(c, "end_time")
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	stats, err := h.service.GetStats(start, end)
	if err != nil {
		middleware.AbortWithError(c, dbError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"stats":      stats,
		"session_id": h.service.SessionID(),
		"dropped":    h.service.Dropped(),
	})
}

// GetErrorLogs 获取错误记录
// @Summary 错误记录
// @Tags TransferLog
// @Produce json
// @Router /api/v1/transfer-logs/errors [get]
func (h *TransferLogHandler) GetErrorLogs(c *gin.Context) {
	logs, err := h.service.GetErrorLogs(queryInt(c, "limit", 50))
	if err != nil {
		middleware.AbortWithError(c, dbError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":  logs,
		"count": len(logs),
	})
}

// GetByID 按ID获取记录
// @Summary 获取单条记录
// @Tags TransferLog
// @Produce json
// @Param id path int true "记录ID"
// @Success 200 {object} models.TransferLog
// @Failure 404 {object} errors.ErrorResponse
// @Router /api/v1/transfer-logs/{id} [get]
func (h *TransferLogHandler) GetByID(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		middleware.AbortWithError(c, apperrors.Newf(apperrors.ErrInvalidParam, "id=%q", c.Param("id")))
		return
	}

	log, err := h.service.GetByID(uint(id))
	if err != nil {
		middleware.AbortWithError(c, dbError(err))
		return
	}
	c.JSON(http.StatusOK, log)
}

// GetByRequestID 获取一次请求的全部收发
// @Summary 按请求ID查询
// @Tags TransferLog
// @Produce json
// @Param request_id path string true "请求ID"
// @Router /api/v1/transfer-logs/request/{request_id} [get]
func (h *TransferLogHandler) GetByRequestID(c *gin.Context) {
	logs, err := h.service.GetByRequestID(c.Param("request_id"))
	if err != nil {
		middleware.AbortWithError(c, dbError(err))
		return
	}
	if len(logs) == 0 {
		middleware.AbortWithError(c, apperrors.New(apperrors.ErrNotFound, "请求没有收发记录"))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":  logs,
		"count": len(logs),
	})
}

// CleanupLogs 清理旧记录
// @Summary 清理旧记录
// @Tags TransferLog
// @Accept json
// @Produce json
// @Param request body CleanupRequest false "保留天数"
// @Router /api/v1/transfer-logs/cleanup [post]
func (h *TransferLogHandler) CleanupLogs(c *gin.Context) {
	var req CleanupRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBind(&req); err != nil {
			middleware.AbortWithError(c, apperrors.Wrap(err, apperrors.ErrInvalidParam, err.Error()))
			return
		}
	}
	if req.RetentionDays < 0 {
		middleware.AbortWithError(c, apperrors.New(apperrors.ErrInvalidParam, "保留天数不能为负数"))
		return
	}

	// 先落盘缓冲中的记录
	h.service.Flush()
	count, err := h.service.CleanupOldLogs(req.RetentionDays)
	if err != nil {
		middleware.AbortWithError(c, apperrors.Wrap(err, apperrors.ErrDatabaseDelete, err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "清理成功",
		"deleted": count,
	})
}

// ExportLogs 导出记录
// @Summary 导出收发记录
// @Tags TransferLog
// @Produce json
// @Param limit query int false "最多导出条数"
// @Router /api/v1/transfer-logs/export [get]
func (h *TransferLogHandler) ExportLogs(c *gin.Context) {
	query, err := parseQuery(c)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	query.Limit = queryInt(c, "limit", 1000)

	h.service.Flush()
	data, err := h.service.ExportLogs(query)
	if err != nil {
		middleware.AbortWithError(c, dbError(err))
		return
	}

	c.Header("Content-Disposition", "attachment; filename=transfer_logs_export.json")
	c.Data(http.StatusOK, "application/json", data)
}
