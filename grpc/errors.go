package grpc

import (
	"errors"

	"github.com/panyam/userauth"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// CodeForKind maps an error kind to the matching gRPC code
func CodeForKind(kind userauth.ErrorKind) codes.Code {
	switch kind {
	case userauth.KindValidation, userauth.KindMissingInput, userauth.KindInvalidToken,
		userauth.KindInvalidChallenge, userauth.KindIncorrectOTP:
		return codes.InvalidArgument
	case userauth.KindUnauthorized, userauth.KindOAuthProvider:
		return codes.Unauthenticated
	case userauth.KindForbidden, userauth.KindInvalidOAuthState:
		return codes.PermissionDenied
	case userauth.KindNotFound:
		return codes.NotFound
	case userauth.KindConflict:
		return codes.AlreadyExists
	case userauth.KindExpired:
		return codes.FailedPrecondition
	default:
		return codes.Internal
	}
}

// StatusFromError converts err into a gRPC status error.
// Errors that already carry a status pass through; internal causes are never exposed.
func StatusFromError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	var ae *userauth.AuthError
	if !errors.As(err, &ae) {
		return status.Error(codes.Internal, "An error occurred.")
	}
	code := CodeForKind(ae.Kind)
	if code == codes.Internal {
		return status.Error(code, "An error occurred.")
	}
	return status.Error(code, ae.Message)
}
