package grpc

import (
	"context"
	"crypto/subtle"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"heatsurface/broker/internal/config"
	"heatsurface/broker/internal/logging"
)

// SharedSecretMetadataKey carries the shared secret in shared_secret mode.
const SharedSecretMetadataKey = "x-heat-shared-secret"

// ServerOptions translates the configured authentication mode into server
// options. Every mode also installs the stream logging interceptor.
func ServerOptions(cfg *config.Config, logger *logging.Logger) ([]grpc.ServerOption, error) {
	if cfg == nil {
		return nil, errors.New("grpc config required")
	}
	if logger == nil {
		logger = logging.L()
	}
	interceptors := []grpc.StreamServerInterceptor{LoggingStreamInterceptor(logger)}
	var opts []grpc.ServerOption

	switch cfg.GRPCAuthMode {
	case config.GRPCAuthModeNone, "":
		logger.Warn("gRPC authentication disabled")
	case config.GRPCAuthModeMTLS:
		creds, err := LoadMTLSCredentials(cfg.GRPCServerCertPath, cfg.GRPCServerKeyPath, cfg.GRPCClientCAPath)
		if err != nil {
			return nil, err
		}
		opts = append(opts, grpc.Creds(creds))
		logger.Info("gRPC mTLS enabled")
	case config.GRPCAuthModeSharedSecret:
		interceptors = append(interceptors, SharedSecretStreamInterceptor(cfg.GRPCSharedSecret))
		logger.Info("gRPC shared-secret authentication enabled")
	default:
		return nil, fmt.Errorf("unsupported grpc auth mode %q", cfg.GRPCAuthMode)
	}
	return append(opts, grpc.ChainStreamInterceptor(interceptors...)), nil
}

// SharedSecretStreamInterceptor rejects streams that do not present secret,
// either under SharedSecretMetadataKey or as a bearer token.
func SharedSecretStreamInterceptor(secret string) grpc.StreamServerInterceptor {
	expected := []byte(strings.TrimSpace(secret))
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if len(expected) == 0 {
			return status.Error(codes.Unauthenticated, "shared secret not configured")
		}
		md, ok := metadata.FromIncomingContext(ss.Context())
		if !ok {
			return status.Error(codes.Unauthenticated, "missing metadata")
		}
		candidate := extractSharedSecret(md)
		if candidate == "" {
			return status.Error(codes.Unauthenticated, "missing shared secret")
		}
		if subtle.ConstantTimeCompare([]byte(candidate), expected) != 1 {
			return status.Error(codes.Unauthenticated, "invalid shared secret")
		}
		return handler(srv, ss)
	}
}

func extractSharedSecret(md metadata.MD) string {
	for _, value := range md.Get(SharedSecretMetadataKey) {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	for _, value := range md.Get("authorization") {
		if len(value) > 7 && strings.EqualFold(value[:7], "bearer ") {
			if token := strings.TrimSpace(value[7:]); token != "" {
				return token
			}
		}
	}
	return ""
}

// tracedStream swaps the stream context for one carrying the trace logger.
type tracedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *tracedStream) Context() context.Context { return s.ctx }

// LoggingStreamInterceptor attaches a trace-scoped logger to each stream and
// logs its outcome.
func LoggingStreamInterceptor(base *logging.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		var incoming string
		if md, ok := metadata.FromIncomingContext(ss.Context()); ok {
			if values := md.Get(strings.ToLower(logging.TraceIDHeader)); len(values) > 0 {
				incoming = values[0]
			}
		}
		ctx, logger, _ := logging.WithTrace(ss.Context(), base, incoming)
		started := time.Now()
		err := handler(srv, &tracedStream{ServerStream: ss, ctx: ctx})
		fields := []logging.Field{
			logging.String("method", info.FullMethod),
			logging.String("code", status.Code(err).String()),
			logging.Duration("elapsed", time.Since(started)),
		}
		if err != nil && status.Code(err) != codes.Canceled {
			logger.Warn("grpc stream ended with error", append(fields, logging.Error(err))...)
		} else {
			logger.Info("grpc stream finished", fields...)
		}
		return err
	}
}

// LoadMTLSCredentials builds server credentials that require client
// certificates signed by the CA bundle at caPath.
func LoadMTLSCredentials(certPath, keyPath, caPath string) (credentials.TransportCredentials, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("load server keypair: %w", err)
	}
	caBytes, err := os.ReadFile(caPath)
	if err != nil {
		return nil, fmt.Errorf("read client ca: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caBytes) {
		return nil, errors.New("failed to parse client ca bundle")
	}
	return credentials.NewTLS(&tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    pool,
		MinVersion:   tls.VersionTLS12,
	}), nil
}
