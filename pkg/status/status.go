// Package status 定义了账本核心统一的错误分类。
// 所有跨包传播的错误都应该能通过 CodeOf 归类，
// 同步循环依赖这个分类决定 重试 / 丢弃 / 停止。
package status

import (
	"fmt"

	"github.com/pkg/errors"

	"ledgervault/pkg/types"
)

// Code 是错误类别
type Code int

const (
	OK Code = iota
	NotFound
	ParseError
	IllegalState
	IOError
	NetworkError
	Unrecoverable
)

func (c Code) String() string {
	switch c {
	case OK:
		return "OK"
	case NotFound:
		return "NOT_FOUND"
	case ParseError:
		return "PARSE_ERROR"
	case IllegalState:
		return "ILLEGAL_STATE"
	case IOError:
		return "IO_ERROR"
	case NetworkError:
		return "NETWORK_ERROR"
	case Unrecoverable:
		return "UNRECOVERABLE"
	default:
		return fmt.Sprintf("CODE(%d)", int(c))
	}
}

// Error 携带错误类别，NETWORK_ERROR / UNRECOVERABLE 还会携带出错的通道
type Error struct {
	Code    Code
	Channel types.Channel
	err     error
}

func (e *Error) Error() string {
	prefix := e.Code.String()
	if e.Channel != "" {
		prefix = prefix + "[" + string(e.Channel) + "]"
	}
	if e.err == nil {
		return prefix
	}
	return prefix + ": " + e.err.Error()
}

func (e *Error) Unwrap() error { return e.err }

// Is 按类别比较：errors.Is(err, status.ErrNotFound) 对任何 NOT_FOUND 都成立。
// 目标带 Channel 时还要求通道一致。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != e.Code {
		return false
	}
	return t.Channel == "" || t.Channel == e.Channel
}

// 哨兵错误，只用于 errors.Is 比较
var (
	ErrNotFound      = &Error{Code: NotFound}
	ErrParse         = &Error{Code: ParseError}
	ErrIllegalState  = &Error{Code: IllegalState}
	ErrIO            = &Error{Code: IOError}
	ErrNetwork       = &Error{Code: NetworkError}
	ErrUnrecoverable = &Error{Code: Unrecoverable}
)

// New 创建一个带堆栈的分类错误
func New(code Code, msg string) error {
	return &Error{Code: code, err: errors.New(msg)}
}

// Errorf 同 New，支持格式化
func Errorf(code Code, format string, args ...any) error {
	return &Error{Code: code, err: errors.Errorf(format, args...)}
}

// Wrap 给底层错误打上类别。已分类的错误保留原类别，只追加上下文。
func Wrap(code Code, err error, msg string) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return &Error{Code: se.Code, Channel: se.Channel, err: errors.Wrap(err, msg)}
	}
	return &Error{Code: code, err: errors.Wrap(err, msg)}
}

// Network 把通道错误归类为 NETWORK_ERROR 并记录通道。
// 已是 UNRECOVERABLE / PARSE_ERROR 等的错误只补上通道。
func Network(channel types.Channel, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		if se.Channel == channel {
			return err
		}
		return &Error{Code: se.Code, Channel: channel, err: err}
	}
	return &Error{Code: NetworkError, Channel: channel, err: errors.WithStack(err)}
}

// Unrecoverablef 创建一个通道级的不可恢复错误 (例如凭证被吊销)
func Unrecoverablef(channel types.Channel, format string, args ...any) error {
	return &Error{Code: Unrecoverable, Channel: channel, err: errors.Errorf(format, args...)}
}

// CodeOf 返回错误的类别。nil 为 OK；未分类的错误 (包括 ctx 取消) 按 IO_ERROR 处理。
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return IOError
}

// ChannelOf 返回错误携带的通道，没有则为空
func ChannelOf(err error) types.Channel {
	var se *Error
	if errors.As(err, &se) {
		return se.Channel
	}
	return ""
}

// IsRetryable 判断同步循环是否应该按退避策略重试
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case IOError, NetworkError, NotFound:
		return true
	default:
		return false
	}
}
