package grpc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/louisbranch/ledgerwallet/internal/platform/timeouts"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// ErrNotServing is reported while the health service answers with a status
// other than SERVING.
var ErrNotServing = errors.New("health status is not SERVING")

// WaitForHealth probes the health service until it reports SERVING for
// service or ctx ends. Probes back off exponentially from 200ms to one
// second. A replica without a health service fails immediately.
func WaitForHealth(ctx context.Context, conn *gogrpc.ClientConn, service string, logf func(string, ...any)) error {
	if conn == nil {
		return fmt.Errorf("gRPC connection is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	client := grpc_health_v1.NewHealthClient(conn)
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxInterval = time.Second

	var lastErr error
	probe := func() (grpc_health_v1.HealthCheckResponse_ServingStatus, error) {
		callCtx, cancel := context.WithTimeout(ctx, timeouts.HealthProbe)
		defer cancel()
		resp, err := client.Check(callCtx, &grpc_health_v1.HealthCheckRequest{Service: service})
		switch {
		case status.Code(err) == codes.Unimplemented:
			return 0, backoff.Permanent(fmt.Errorf("replica has no health service: %w", err))
		case err != nil:
			if ctx.Err() == nil {
				lastErr = err
			}
			return 0, err
		case resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING:
			lastErr = fmt.Errorf("%w: %s", ErrNotServing, resp.GetStatus())
			return resp.GetStatus(), lastErr
		}
		return resp.GetStatus(), nil
	}
	notify := func(err error, next time.Duration) {
		if logf != nil {
			logf("waiting for gRPC health %q: %v (retry in %s)", service, err, next.Round(time.Millisecond))
		}
	}

	if _, err := backoff.Retry(ctx, probe, backoff.WithBackOff(policy), backoff.WithNotify(notify)); err != nil {
		if ctx.Err() != nil && lastErr != nil {
			return fmt.Errorf("wait for gRPC health: %w (last probe: %v)", ctx.Err(), lastErr)
		}
		return fmt.Errorf("wait for gRPC health: %w", err)
	}
	if logf != nil {
		logf("gRPC health for %q is SERVING", service)
	}
	return nil
}
