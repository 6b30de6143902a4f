package grpc

import (
	"context"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// TokenVerifier resolves a session token to a user id. *userauth.SessionIssuer satisfies it.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// InterceptorConfig configures the auth interceptor behavior.
type InterceptorConfig struct {
	Verifier TokenVerifier

	// MetadataKey is where the token is read from. Defaults to "authorization".
	MetadataKey string

	// RequireAuth when true rejects unauthenticated requests.
	// When false, requests proceed but UserIDFromContext returns empty.
	RequireAuth bool

	// PublicMethods is a set of method names that don't require auth.
	// Keys should be full method names like "/package.Service/Method".
	PublicMethods map[string]bool
}

// NewInterceptorConfig returns a config that requires auth except for publicMethods
func NewInterceptorConfig(verifier TokenVerifier, publicMethods ...string) *InterceptorConfig {
	config := &InterceptorConfig{
		Verifier:      verifier,
		RequireAuth:   true,
		PublicMethods: make(map[string]bool),
	}
	for _, method := range publicMethods {
		config.PublicMethods[method] = true
	}
	return config
}

// OptionalAuthConfig returns a config that allows unauthenticated requests.
func OptionalAuthConfig(verifier TokenVerifier) *InterceptorConfig {
	return &InterceptorConfig{Verifier: verifier, PublicMethods: make(map[string]bool)}
}

func (c *InterceptorConfig) ensureDefaults() {
	if c.MetadataKey == "" {
		c.MetadataKey = DefaultMetadataKeyAuthorization
	}
	if c.PublicMethods == nil {
		c.PublicMethods = make(map[string]bool)
	}
}

// authenticate returns ctx with the caller's user id, or an Unauthenticated status
func (c *InterceptorConfig) authenticate(ctx context.Context, fullMethod string) (context.Context, error) {
	required := c.RequireAuth && !c.PublicMethods[fullMethod]
	token := tokenFromIncomingContext(ctx, c.MetadataKey)
	if token == "" {
		if required {
			return nil, status.Error(codes.Unauthenticated, "authentication required")
		}
		return ctx, nil
	}
	if c.Verifier == nil {
		slog.Warn("no token verifier configured", "method", fullMethod)
		return nil, status.Error(codes.Internal, "authentication not configured")
	}
	userID, err := c.Verifier.Verify(token)
	if err != nil {
		if required {
			return nil, status.Error(codes.Unauthenticated, "invalid token")
		}
		return ctx, nil
	}
	return ContextWithUserID(ctx, userID), nil
}

// UnaryAuthInterceptor returns a gRPC unary interceptor that verifies the session token.
func UnaryAuthInterceptor(config *InterceptorConfig) grpc.UnaryServerInterceptor {
	if config == nil {
		config = &InterceptorConfig{RequireAuth: true}
	}
	config.ensureDefaults()

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := config.authenticate(ctx, info.FullMethod)
		if err != nil {
			return nil, err
		}
		resp, err := handler(ctx, req)
		if err != nil {
			return nil, StatusFromError(err)
		}
		return resp, nil
	}
}

// StreamAuthInterceptor returns a gRPC stream interceptor that verifies the session token.
func StreamAuthInterceptor(config *InterceptorConfig) grpc.StreamServerInterceptor {
	if config == nil {
		config = &InterceptorConfig{RequireAuth: true}
	}
	config.ensureDefaults()

	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := config.authenticate(ss.Context(), info.FullMethod)
		if err != nil {
			return err
		}
		if err := handler(srv, &authedStream{ServerStream: ss, ctx: ctx}); err != nil {
			return StatusFromError(err)
		}
		return nil
	}
}

type authedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authedStream) Context() context.Context {
	return s.ctx
}
