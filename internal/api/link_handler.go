package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/arcom/internal/arcom"
	apperrors "github.com/wfunc/arcom/internal/errors"
	"github.com/wfunc/arcom/internal/middleware"
	"github.com/wfunc/arcom/internal/service"
)

// LinkHandler 串口链路处理器
type LinkHandler struct {
	link *service.LinkService
}

// NewLinkHandler 创建串口链路处理器
func NewLinkHandler(link *service.LinkService) *LinkHandler {
	return &LinkHandler{link: link}
}

// WriteRequest 写入请求
type WriteRequest struct {
	Segments []arcom.Segment `json:"segments"`
}

// ReadRequest 读取请求
type ReadRequest struct {
	Reads []arcom.Want `json:"reads"`
}

// TransferRequest 先写后读
type TransferRequest struct {
	Segments []arcom.Segment `json:"segments"`
	Reads    []arcom.Want    `json:"reads"`
}

// LinkResponse 收发结果
type LinkResponse struct {
	Success   bool      `json:"success"`
	RequestID string    `json:"request_id"`
	Sent      int       `json:"sent,omitempty"` // 字节
	Values    [][]int64 `json:"values,omitempty"`
}

// TypeInfo 类型标签说明
type TypeInfo struct {
	Type   string `json:"type"`
	Width  int    `json:"width"`
	Min    int64  `json:"min"`
	Max    int64  `json:"max"`
	Signed bool   `json:"signed"`
}

// Status 链路状态
// @Summary 链路状态
// @Tags Link
// @Produce json
// @Success 200 {object} service.LinkStatus
// @Router /api/v1/link/status [get]
func (h *LinkHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.link.Status())
}

// Types 支持的类型标签
// @Summary 支持的类型标签
// @Tags Link
// @Produce json
// @Success 200 {array} TypeInfo
// @Router /api/v1/link/types [get]
func (h *LinkHandler) Types(c *gin.Context) {
	tags := arcom.Tags()
	out := make([]TypeInfo, 0, len(tags))
	for _, t := range tags {
		out = append(out, TypeInfo{Type: t.String(), Width: t.Width(), Min: t.Min(), Max: t.Max(), Signed: t.Signed()})
	}
	c.JSON(http.StatusOK, out)
}

// Write 发送数值段
// @Summary 发送数值段
// @Tags Link
// @Accept json
// @Produce json
// @Param request body WriteRequest true "数值段"
// @Success 200 {object} LinkResponse
// @Failure 400 {object} errors.ErrorResponse
// @Router /api/v1/link/write [post]
func (h *LinkHandler) Write(c *gin.Context) {
	var req WriteRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.normalizeSegments(req.Segments); err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	if err := h.link.Write(c.Request.Context(), req.Segments); err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, LinkResponse{
		Success:   true,
		RequestID: middleware.GetRequestID(c),
		Sent:      arcom.EncodedLen(req.Segments...),
	})
}

// Read 读取声明的数值段
// @Summary 读取数值段
// @Tags Link
// @Accept json
// @Produce json
// @Param request body ReadRequest true "读取声明"
// @Success 200 {object} LinkResponse
// @Failure 504 {object} errors.ErrorResponse
// @Router /api/v1/link/read [post]
func (h *LinkHandler) Read(c *gin.Context) {
	var req ReadRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.normalizeWants(req.Reads); err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	values, err := h.link.Read(c.Request.Context(), req.Reads)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, LinkResponse{
		Success:   true,
		RequestID: middleware.GetRequestID(c),
		Values:    values,
	})
}

// Transfer 先写后读
// @Summary 先写后读
// @Tags Link
// @Accept json
// @Produce json
// @Param request body TransferRequest true "数值段与读取声明"
// @Success 200 {object} LinkResponse
// @Router /api/v1/link/transfer [post]
func (h *LinkHandler) Transfer(c *gin.Context) {
	var req TransferRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.normalizeSegments(req.Segments); err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	if err := h.normalizeWants(req.Reads); err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	values, err := h.link.Transfer(c.Request.Context(), req.Segments, req.Reads)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, LinkResponse{
		Success:   true,
		RequestID: middleware.GetRequestID(c),
		Sent:      arcom.EncodedLen(req.Segments...),
		Values:    values,
	})
}

// Flush 丢弃输入缓冲
// @Summary 丢弃输入缓冲
// @Tags Link
// @Produce json
// @Success 200 {object} LinkResponse
// @Router /api/v1/link/flush [post]
func (h *LinkHandler) Flush(c *gin.Context) {
	if err := h.link.Flush(); err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, LinkResponse{Success: true, RequestID: middleware.GetRequestID(c)})
}

func bindJSON(c *gin.Context, v interface{}) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		middleware.AbortWithError(c, apperrors.Wrap(err, apperrors.ErrInvalidParam, err.Error()))
		return false
	}
	return true
}

// normalizeSegments 统一标签大小写，空请求或超出写入上限视为参数错误
func (h *LinkHandler) normalizeSegments(segs []arcom.Segment) error {
	if len(segs) == 0 {
		return apperrors.New(apperrors.ErrArgsFormat, "segments 不能为空")
	}
	for i := range segs {
		tag, err := arcom.ParseTypeTag(string(segs[i].Tag))
		if err != nil {
			return arcom.WrapCodecError(err)
		}
		segs[i].Tag = tag
	}
	_, maxWrite := h.link.Limits()
	return arcom.WrapCodecError(arcom.CheckLimit(arcom.EncodedLen(segs...), maxWrite))
}

func (h *LinkHandler) normalizeWants(wants []arcom.Want) error {
	if len(wants) == 0 {
		return apperrors.New(apperrors.ErrArgsFormat, "reads 不能为空")
	}
	for i := range wants {
		tag, err := arcom.ParseTypeTag(string(wants[i].Tag))
		if err != nil {
			return arcom.WrapCodecError(err)
		}
		wants[i].Tag = tag
	}
	if err := arcom.ValidateWants(wants...); err != nil {
		return arcom.WrapCodecError(err)
	}
	maxRead, _ := h.link.Limits()
	return arcom.WrapCodecError(arcom.CheckLimit(arcom.WantLen(wants...), maxRead))
}
