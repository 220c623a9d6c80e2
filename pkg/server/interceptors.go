package server

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
)

// MaxMessageSize 与客户端保持一致
const MaxMessageSize = 64 * 1024 * 1024

// NewServer 创建带日志和 panic 恢复拦截器的 gRPC 服务器
func NewServer(log logrus.FieldLogger) *grpc.Server {
	return grpc.NewServer(
		grpc.MaxRecvMsgSize(MaxMessageSize),
		grpc.MaxSendMsgSize(MaxMessageSize),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		// 恢复放在最里层，panic 转成的错误也会被记录
		grpc.ChainUnaryInterceptor(UnaryLoggingInterceptor(log), UnaryRecoveryInterceptor(log)),
		grpc.ChainStreamInterceptor(StreamLoggingInterceptor(log), StreamRecoveryInterceptor(log)),
	)
}

// =============================================================================
// 1. Logging Interceptor (结构化日志)
// =============================================================================

func UnaryLoggingInterceptor(log logrus.FieldLogger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logRPC(log, "Unary", info.FullMethod, time.Since(start), err)
		return resp, err
	}
}

func StreamLoggingInterceptor(log logrus.FieldLogger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		logRPC(log, "Stream", info.FullMethod, time.Since(start), err)
		return err
	}
}

// logRPC 统一的日志打印逻辑
func logRPC(log logrus.FieldLogger, kind, method string, duration time.Duration, err error) {
	code := status.Code(err)
	entry := log.WithFields(logrus.Fields{
		"kind":   kind,
		"method": method,
		"code":   code.String(),
		"dur":    duration,
	})

	switch code {
	case codes.OK:
		entry.Debug("gRPC request")
	case codes.Internal, codes.Unknown:
		entry.WithError(err).Error("gRPC request")
	default:
		// NotFound 这种业务错误算 Warn
		entry.WithError(err).Warn("gRPC request")
	}
}

// =============================================================================
// 2. Recovery Interceptor
// =============================================================================

func UnaryRecoveryInterceptor(log logrus.FieldLogger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = recoverFromPanic(log, info.FullMethod, r)
			}
		}()
		return handler(ctx, req)
	}
}

func StreamRecoveryInterceptor(log logrus.FieldLogger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = recoverFromPanic(log, info.FullMethod, r)
			}
		}()
		return handler(srv, ss)
	}
}

func recoverFromPanic(log logrus.FieldLogger, method string, p any) error {
	log.WithFields(logrus.Fields{
		"method": method,
		"panic":  p,
		"stack":  string(debug.Stack()),
	}).Error("panic recovered")
	// 返回 Internal 错误而不是直接断开连接
	return status.Errorf(codes.Internal, "internal server error: panic recovered")
}
