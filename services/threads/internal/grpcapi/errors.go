package grpcapi

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/example/nonprofit-platform/services/threads/internal/thread"
)

const errorDomain = "threads"

// fieldForCode names the request field a validation code refers to.
var fieldForCode = map[string]string{
	"BODY_EMPTY":            "body",
	"BODY_TOO_LONG":         "body",
	"CONTENT_ITEM_REQUIRED": "content_item_id",
	"PARENT_MISMATCH":       "parent_id",
	"INVALID_CURSOR":        "cursor",
	"INVALID_DECISION":      "decision",
}

func errWithInfo(c codes.Code, reason, msg string) error {
	st := status.New(c, msg)
	st2, err := st.WithDetails(&errdetails.ErrorInfo{Reason: reason, Domain: errorDomain})
	if err != nil {
		return st.Err()
	}
	return st2.Err()
}

func errInvalidArgument(reason, msg string) error {
	st := status.New(codes.InvalidArgument, msg)
	info := &errdetails.ErrorInfo{Reason: reason, Domain: errorDomain}

	bad := &errdetails.BadRequest{}
	if field, ok := fieldForCode[reason]; ok {
		bad.FieldViolations = append(bad.FieldViolations, &errdetails.BadRequest_FieldViolation{Field: field, Description: msg})
	}

	st2, err := st.WithDetails(info, bad)
	if err != nil {
		return st.Err()
	}
	return st2.Err()
}

// toStatus maps engine errors onto gRPC status codes.
func toStatus(log *zap.Logger, method string, err error) error {
	var ve *thread.ValidationError
	switch {
	case errors.As(err, &ve):
		return errInvalidArgument(ve.Code, ve.Message)
	case errors.Is(err, thread.ErrNotFound):
		return errWithInfo(codes.NotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, thread.ErrForbidden):
		return errWithInfo(codes.PermissionDenied, "FORBIDDEN", err.Error())
	case errors.Is(err, thread.ErrConflict):
		return errWithInfo(codes.Aborted, "CONFLICT", err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "request cancelled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "request timed out")
	default:
		log.Error("threads rpc failed", zap.String("method", method), zap.Error(err))
		return errWithInfo(codes.Internal, "INTERNAL", "internal error")
	}
}
