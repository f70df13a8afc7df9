package rpc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"timelock/internal/paxos"
	"timelock/internal/storage"
)

// ErrCorruptionDetected is returned by a peer that rejects requests because
// it detected corruption.
var ErrCorruptionDetected = errors.New("corruption detected")

// alwaysAdmitted are the services served even after corruption is detected:
// corruption reports and history, and the side-effect free clock reading.
var alwaysAdmitted = []string{
	"/" + corruptionServiceName + "/",
	"/" + clockServiceName + "/",
}

// AdmissionInterceptor rejects every RPC outside the corruption and clock
// services once shouldReject returns true.
func AdmissionInterceptor(shouldReject func() bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !admitted(info.FullMethod) && shouldReject() {
			return nil, status.Error(codes.FailedPrecondition, ErrCorruptionDetected.Error())
		}
		return handler(ctx, req)
	}
}

func admitted(fullMethod string) bool {
	for _, prefix := range alwaysAdmitted {
		if strings.HasPrefix(fullMethod, prefix) {
			return true
		}
	}
	return false
}

// toStatus converts a service error into a gRPC status error.
func toStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, paxos.ErrConflictingValue):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, storage.ErrInvalidSeq), errors.Is(err, storage.ErrInvalidName):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// fromStatus restores the sentinel errors callers test for.
func fromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.FailedPrecondition {
		return err
	}
	if st.Message() == ErrCorruptionDetected.Error() {
		return ErrCorruptionDetected
	}
	return fmt.Errorf("%s: %w", st.Message(), paxos.ErrConflictingValue)
}
