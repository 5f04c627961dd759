package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/suite"
)

// ErrorsTestSuite 错误包测试套件
type ErrorsTestSuite struct {
	suite.Suite
}

// 测试创建新错误
func (suite *ErrorsTestSuite) TestNew() {
	err := New(ErrInvalidParam)
	suite.NotNil(err)
	suite.Equal(ErrInvalidParam, err.Code)
	suite.Equal("无效的参数", err.Message)
	suite.Empty(err.Details)

	err = New(ErrUnknownTypeTag, "float64")
	suite.Equal(ErrUnknownTypeTag, err.Code)
	suite.Equal("未知的类型标签", err.Message)
	suite.Equal("float64", err.Details)

	// 多个详情
	err = New(ErrSerialPortOpen, "打开失败", "端口: COM3", "波特率: 115200")
	suite.Equal("打开失败; 端口: COM3; 波特率: 115200", err.Details)
}

// 测试格式化错误创建
func (suite *ErrorsTestSuite) TestNewf() {
	err := Newf(ErrValueRange, "值 %d 超出 %s 范围", 70000, "uint16")
	suite.Equal(ErrValueRange, err.Code)
	suite.Equal("值 70000 超出 uint16 范围", err.Details)
}

// 测试错误包装
func (suite *ErrorsTestSuite) TestWrap() {
	originalErr := errors.New("原始错误")
	wrappedErr := Wrap(originalErr, ErrSerialPortRead)
	suite.NotNil(wrappedErr)
	suite.Equal(ErrSerialPortRead, wrappedErr.Code)
	suite.Equal("原始错误", wrappedErr.Details)
	suite.Equal(originalErr, wrappedErr.Cause)

	suite.Nil(Wrap(nil, ErrUnknown))

	// 包装已有的AppError，保留原始错误码
	appErr := New(ErrSerialTimeout, "等待 400 字节")
	wrappedAppErr := Wrap(appErr, ErrSerialPortRead, "读取 uint16x100")
	suite.Equal(ErrSerialTimeout, wrappedAppErr.Code)
	suite.Contains(wrappedAppErr.Details, "读取 uint16x100")

	// 经过 fmt.Errorf 包装后仍能识别
	chained := fmt.Errorf("link: %w", New(ErrDeviceBusy))
	suite.Equal(ErrDeviceBusy, Wrap(chained, ErrUnknown).Code)
}

// 测试格式化错误包装
func (suite *ErrorsTestSuite) TestWrapf() {
	originalErr := errors.New("no such file or directory")
	wrappedErr := Wrapf(originalErr, ErrSerialPortOpen, "串口 %s 打开失败", "/dev/ttyACM0")
	suite.Equal(ErrSerialPortOpen, wrappedErr.Code)
	suite.Equal("串口 /dev/ttyACM0 打开失败", wrappedErr.Details)
	suite.Equal(originalErr, wrappedErr.Cause)
	suite.True(errors.Is(wrappedErr, originalErr))
}

// 测试错误码判断
func (suite *ErrorsTestSuite) TestIs() {
	err := New(ErrPermissionDenied)
	suite.True(Is(err, ErrPermissionDenied))
	suite.False(Is(err, ErrNotFound))
	suite.False(Is(nil, ErrPermissionDenied))
	suite.False(Is(errors.New("标准错误"), ErrUnknown))
	suite.True(Is(fmt.Errorf("wrapped: %w", New(ErrSerialTimeout)), ErrSerialTimeout))
}

// 测试获取错误码
func (suite *ErrorsTestSuite) TestGetCode() {
	suite.Equal(ErrTokenExpired, GetCode(New(ErrTokenExpired)))
	suite.Equal(ErrUnknown, GetCode(errors.New("标准错误")))
	suite.Equal(ErrorCode(0), GetCode(nil))
}

// 测试错误消息
func (suite *ErrorsTestSuite) TestError() {
	err := &AppError{
		Code:    ErrNotFound,
		Message: "资源未找到",
	}
	suite.Equal("[1002] 资源未找到", err.Error())

	err.Details = "日志ID: 123"
	suite.Equal("[1002] 资源未找到: 日志ID: 123", err.Error())
}

// 测试Unwrap
func (suite *ErrorsTestSuite) TestUnwrap() {
	originalErr := errors.New("原始错误")
	suite.Equal(originalErr, Wrap(originalErr, ErrUnknown).Unwrap())
	suite.Nil(New(ErrUnknown).Unwrap())
}

// 测试WithCause
func (suite *ErrorsTestSuite) TestWithCause() {
	cause := errors.New("SQL语法错误")
	err := New(ErrDatabaseQuery).WithCause(cause)
	suite.Equal(cause, err.Cause)
	suite.Equal("SQL语法错误", err.Details)

	err2 := New(ErrDatabaseQuery, "查询失败").WithCause(cause)
	suite.Equal("查询失败", err2.Details)
}

// 测试HTTP状态码映射
func (suite *ErrorsTestSuite) TestHTTPStatus() {
	testCases := []struct {
		code     ErrorCode
		expected int
	}{
		{ErrInvalidParam, 400},
		{ErrUnknownTypeTag, 400},
		{ErrValueRange, 400},
		{ErrArgsFormat, 400},
		{ErrTooLarge, 400},
		{ErrAlreadyExists, 400},
		{ErrNotFound, 404},
		{ErrPermissionDenied, 403},
		{ErrSerialTimeout, 504},
		{ErrDeviceOffline, 503},
		{ErrDeviceBusy, 409},
		{ErrAuthentication, 401},
		{ErrDatabaseConnect, 503},
		{ErrSerialPortWrite, 500},
	}

	for _, tc := range testCases {
		err := New(tc.code)
		suite.Equal(tc.expected, err.HTTPStatus(), "错误码 %d 应该返回HTTP状态码 %d", tc.code, tc.expected)
	}
}

// 测试可重试判断
func (suite *ErrorsTestSuite) TestIsRetryable() {
	for _, code := range []ErrorCode{ErrTimeout, ErrSerialTimeout, ErrDeviceOffline, ErrDeviceBusy} {
		suite.True(IsRetryable(New(code)), "错误码 %d 应该是可重试的", code)
	}
	for _, code := range []ErrorCode{ErrInvalidParam, ErrUnknownTypeTag, ErrValueRange} {
		suite.False(IsRetryable(New(code)), "错误码 %d 不应该是可重试的", code)
	}
	suite.False(IsRetryable(nil))
}

// 测试严重错误判断
func (suite *ErrorsTestSuite) TestIsCritical() {
	for _, code := range []ErrorCode{ErrDatabaseConnect, ErrSerialPortOpen, ErrConfigLoad} {
		suite.True(IsCritical(New(code)))
	}
	suite.False(IsCritical(New(ErrSerialTimeout)))
	suite.False(IsCritical(nil))
}

// 测试调用栈捕获
func (suite *ErrorsTestSuite) TestStackCapture() {
	err := New(ErrUnknown)
	suite.NotEmpty(err.Stack)
	suite.NotEmpty(err.GetStack())
}

// 测试错误响应
func (suite *ErrorsTestSuite) TestErrorResponse() {
	err := New(ErrNotFound, "日志不存在")
	response := NewErrorResponse(err, "req-123")

	suite.False(response.Success)
	suite.Equal(err, response.Error)
	suite.Equal("req-123", response.RequestID)
	suite.Greater(response.Timestamp, int64(0))
}

// 测试未知错误码
func (suite *ErrorsTestSuite) TestUnknownErrorCode() {
	err := New(ErrorCode(99999))
	suite.Equal(ErrorCode(99999), err.Code)
	suite.Equal("未知错误", err.Message)
}

// 测试串口与编解码错误消息
func (suite *ErrorsTestSuite) TestSerialErrors() {
	messages := map[ErrorCode]string{
		ErrSerialPortOpen:  "串口打开失败",
		ErrSerialPortWrite: "串口写入失败",
		ErrSerialPortRead:  "串口读取失败",
		ErrSerialTimeout:   "串口通信超时",
		ErrSerialClosed:    "串口已关闭",
		ErrUnknownTypeTag:  "未知的类型标签",
		ErrValueRange:      "数值超出类型范围",
		ErrLengthMismatch:  "数据长度不匹配",
	}

	for code, expectedMsg := range messages {
		suite.Equal(expectedMsg, New(code).Message)
	}
}

func TestErrorsSuite(t *testing.T) {
	suite.Run(t, new(ErrorsTestSuite))
}
