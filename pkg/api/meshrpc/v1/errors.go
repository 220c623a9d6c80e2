package meshrpc

import (
	"context"
	"errors"

	lvstatus "ledgervault/pkg/status"
	"ledgervault/pkg/types"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ToGRPC 把内部错误类别映射为 gRPC 状态码，服务端返回前调用
func ToGRPC(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	var code codes.Code
	switch lvstatus.CodeOf(err) {
	case lvstatus.NotFound:
		code = codes.NotFound
	case lvstatus.ParseError:
		code = codes.InvalidArgument
	case lvstatus.IllegalState:
		code = codes.FailedPrecondition
	case lvstatus.NetworkError:
		code = codes.Unavailable
	case lvstatus.Unrecoverable:
		code = codes.PermissionDenied
	default:
		code = codes.Internal
	}
	if errors.Is(err, context.Canceled) {
		code = codes.Canceled
	}
	return status.Error(code, err.Error())
}

// FromGRPC 把客户端收到的 gRPC 错误还原为对端通道上的内部错误
func FromGRPC(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return lvstatus.Network(types.ChannelP2P, err)
	}
	var code lvstatus.Code
	switch st.Code() {
	case codes.NotFound:
		code = lvstatus.NotFound
	case codes.InvalidArgument:
		code = lvstatus.ParseError
	case codes.FailedPrecondition:
		code = lvstatus.IllegalState
	default:
		// 对端的凭证问题不是本地通道的终态，连接类错误都按网络错误重试
		code = lvstatus.NetworkError
	}
	return lvstatus.Network(types.ChannelP2P, lvstatus.New(code, st.Message()))
}
