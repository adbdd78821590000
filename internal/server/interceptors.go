package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// LoggingInterceptor logs the method, duration and error of every unary
// RPC. Health checks are logged at debug level.
func LoggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		duration := time.Since(start)

		switch {
		case err != nil:
			logger.Error("rpc completed", "method", info.FullMethod, "duration", duration, "error", err)
		case info.FullMethod == healthCheckMethod:
			logger.Debug("rpc completed", "method", info.FullMethod, "duration", duration)
		default:
			logger.Info("rpc completed", "method", info.FullMethod, "duration", duration)
		}
		return resp, err
	}
}

// RecoveryInterceptor turns a panic in a handler into codes.Internal and
// logs the stack.
func RecoveryInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic recovered in gRPC handler",
					"method", info.FullMethod,
					"panic", fmt.Sprintf("%v", r),
					"stack", string(debug.Stack()),
				)
				err = status.Errorf(codes.Internal, "internal server error")
			}
		}()
		return handler(ctx, req)
	}
}

// healthCheckMethod is exempt from authentication.
const healthCheckMethod = "/grpc.health.v1.Health/Check"

// AuthInterceptor returns a gRPC unary interceptor that checks the
// "authorization" metadata header with auth. When auth is disabled all
// requests pass through. The health check is always exempt.
func AuthInterceptor(auth *Authenticator) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		if !auth.Enabled() || info.FullMethod == healthCheckMethod {
			return handler(ctx, req)
		}

		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing metadata")
		}

		var provided string
		if vals := md.Get("authorization"); len(vals) > 0 {
			provided = vals[0]
		}
		if err := auth.Check(provided); err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}

		return handler(ctx, req)
	}
}

// AuthMiddleware wraps an http.Handler and checks the Authorization header
// with auth. When auth is disabled all requests pass through. GET /v1/health
// is always exempt.
func AuthMiddleware(auth *Authenticator, next http.Handler) http.Handler {
	if !auth.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && r.URL.Path == "/v1/health" {
			next.ServeHTTP(w, r)
			return
		}
		if err := auth.Check(r.Header.Get("Authorization")); err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}
