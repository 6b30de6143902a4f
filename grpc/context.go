// Package grpc carries session tokens over gRPC metadata and authenticates
// incoming calls with the same tokens the HTTP API issues.
package grpc

import (
	"context"
	"strings"

	"google.golang.org/grpc/metadata"
)

// DefaultMetadataKeyAuthorization is the metadata key the session token travels in
const DefaultMetadataKeyAuthorization = "authorization"

type userIDKey struct{}

// UserIDFromContext returns the user id placed in ctx by the auth interceptors,
// or the empty string for unauthenticated calls.
func UserIDFromContext(ctx context.Context) string {
	userID, _ := ctx.Value(userIDKey{}).(string)
	return userID
}

// ContextWithUserID returns a copy of ctx carrying userID
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// IsAuthenticated returns true if there is an authenticated user in the context.
func IsAuthenticated(ctx context.Context) bool {
	return UserIDFromContext(ctx) != ""
}

// TokenToOutgoingContext attaches a session token to outgoing call metadata
func TokenToOutgoingContext(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, DefaultMetadataKeyAuthorization, "Bearer "+token)
}

// tokenFromIncomingContext reads the token from incoming metadata under key.
// Both "Bearer <token>" and the bare token are accepted.
func tokenFromIncomingContext(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get(key)
	if len(values) == 0 {
		return ""
	}
	value := strings.TrimSpace(values[0])
	if len(value) > 7 && strings.EqualFold(value[:7], "bearer ") {
		return strings.TrimSpace(value[7:])
	}
	return value
}
