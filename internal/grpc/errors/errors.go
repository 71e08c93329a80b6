// Package errors builds the gRPC status errors Depi returns for each
// entry in its error taxonomy (spec §7): InvalidSession, NotAuthorized,
// NotFound, Conflict, ValidationError and StorageError.
package errors

import (
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/protoadapt"
)

func New(code codes.Code, msg string, details ...protoadapt.MessageV1) *status.Status {
	s, err := status.New(code, msg).WithDetails(details...)
	if err != nil {
		return status.New(codes.Internal, "internal error")
	}
	return s
}

// InvalidSession is returned when a sessionId is unknown or expired; the
// client must call Login again.
func InvalidSession() *status.Status {
	return New(codes.Unauthenticated, "session is unknown or has expired, please log in again", &errdetails.ErrorInfo{
		Domain: "depi",
		Reason: "INVALID_SESSION",
	})
}

// NotAuthorized is returned when the authorization evaluator denies a
// capability check.
func NotAuthorized(operation string) *status.Status {
	return New(codes.PermissionDenied, "not authorized to perform "+operation, &errdetails.ErrorInfo{
		Domain: "depi",
		Reason: "NOT_AUTHORIZED",
	})
}

// NotFound is returned when a named branch, tag, resource or group is
// absent.
func NotFound(kind, identifier string) *status.Status {
	return New(codes.NotFound, kind+" not found: "+identifier, &errdetails.ErrorInfo{
		Domain: "depi",
		Reason: "NOT_FOUND",
	})
}

// Conflict is returned for immutable-tag mutation attempts, blackboard
// version mismatches at save time, and duplicate branch/tag names.
func Conflict(msg string) *status.Status {
	return New(codes.FailedPrecondition, msg, &errdetails.ErrorInfo{
		Domain: "depi",
		Reason: "CONFLICT",
	})
}

// ValidationError is returned for malformed patterns or missing
// required fields.
func ValidationError(msg string) *status.Status {
	return New(codes.InvalidArgument, msg, &errdetails.ErrorInfo{
		Domain: "depi",
		Reason: "VALIDATION_ERROR",
	})
}

// StorageError is returned when a backend operation fails; the
// enclosing transaction has already been aborted by the time this is
// constructed.
func StorageError(err error) *status.Status {
	return New(codes.Internal, "storage operation failed: "+err.Error(), &errdetails.ErrorInfo{
		Domain: "depi",
		Reason: "STORAGE_ERROR",
	})
}

func Internal() *status.Status {
	return New(
		codes.Internal,
		"internal error encountered while processing the request",
		&errdetails.ErrorInfo{
			Domain: "depi",
			Reason: "INTERNAL_ERROR",
		},
	)
}
