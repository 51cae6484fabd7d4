package errs

import (
	"errors"
	"strconv"
	"strings"

	pkgerr "github.com/pkg/errors"
)

// 错误码分段：10xxx 为 DM 核心
const (
	CodeValidation       = 10001 // 本地校验失败（空内容、自发自收）
	CodeStoreUnavailable = 10002 // 存储/传输层故障，读路径可重试
	CodeChannelDropped   = 10003 // 推送订阅意外断开（内部恢复，不上抛给用户）
	CodeSessionClosed    = 10004 // 会话已关闭，拒绝后续操作
)

var (
	ErrValidation       = NewCodeError(CodeValidation, "validation failed")
	ErrStoreUnavailable = NewCodeError(CodeStoreUnavailable, "store unavailable")
	ErrChannelDropped   = NewCodeError(CodeChannelDropped, "delivery channel dropped")
	ErrSessionClosed    = NewCodeError(CodeSessionClosed, "session closed")
)

type CodeError struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

func NewCodeError(code int, msg string) *CodeError {
	return &CodeError{Code: code, Msg: msg}
}

func (e *CodeError) Error() string {
	v := make([]string, 0, 3)
	v = append(v, strconv.Itoa(e.Code), e.Msg)
	if e.Detail != "" {
		v = append(v, e.Detail)
	}
	return strings.Join(v, " ")
}

// WithDetail 返回带补充说明的副本，原错误保持不变。
func (e *CodeError) WithDetail(detail string) *CodeError {
	d := detail
	if e.Detail != "" {
		d = e.Detail + ", " + detail
	}
	return &CodeError{Code: e.Code, Msg: e.Msg, Detail: d}
}

// Wrap 在保留错误码的同时挂上底层原因（pkg/errors 记录堆栈）。
func (e *CodeError) Wrap(cause error) error {
	if cause == nil {
		return e
	}
	return pkgerr.Wrap(&causedError{code: e, cause: cause}, e.Msg)
}

// WrapMsg 同 Wrap，附加一段说明文本。
func (e *CodeError) WrapMsg(cause error, msg string) error {
	return e.WithDetail(msg).Wrap(cause)
}

// Is 支持 errors.Is(err, ErrXxx)：按错误码比对。
func (e *CodeError) Is(err error) bool {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Code == e.Code
	}
	var cz *causedError
	if errors.As(err, &cz) {
		return cz.code.Code == e.Code
	}
	return false
}

// Code 提取任意错误的错误码；非 CodeError 返回 0。
func Code(err error) int {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Code
	}
	var cz *causedError
	if errors.As(err, &cz) {
		return cz.code.Code
	}
	return 0
}

type causedError struct {
	code  *CodeError
	cause error
}

func (c *causedError) Error() string { return c.code.Error() + ": " + c.cause.Error() }
func (c *causedError) Unwrap() error { return c.cause }
func (c *causedError) Is(err error) bool {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Code == c.code.Code
	}
	return false
}
