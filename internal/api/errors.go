package api

import (
	"errors"

	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"

	"github.com/matheus3301/offsync/internal/conflict"
	"github.com/matheus3301/offsync/internal/payload"
	"github.com/matheus3301/offsync/internal/store"
)

// toStatus maps engine errors onto gRPC codes.
func toStatus(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case payload.IsInvalid(err), errors.Is(err, conflict.ErrManualDataRequired):
		return grpcstatus.Errorf(codes.InvalidArgument, "%s: %v", op, err)
	case errors.Is(err, store.ErrNotFound):
		return grpcstatus.Errorf(codes.NotFound, "%s: %v", op, err)
	case store.IsStoreError(err):
		return grpcstatus.Errorf(codes.Internal, "%s: %v", op, err)
	default:
		return grpcstatus.Errorf(codes.Unknown, "%s: %v", op, err)
	}
}
