// Package grpc opens client connections to ledger replicas and waits until
// they report healthy.
package grpc

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// Stage names the step of a dial that failed.
type Stage string

const (
	// StageConnect covers client construction and reaching READY.
	StageConnect Stage = "connect"
	// StageHealth covers the health service probe.
	StageHealth Stage = "health"
)

// DialError reports which stage of reaching a replica failed.
type DialError struct {
	Addr  string
	Stage Stage
	Err   error
}

func (e *DialError) Error() string {
	if e == nil {
		return "replica dial error"
	}
	return fmt.Sprintf("replica %s %s: %v", e.Addr, e.Stage, e.Err)
}

func (e *DialError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ClientDialOptions returns transport and tracing options for a replica
// client. A nil creds dials in plaintext.
func ClientDialOptions(creds credentials.TransportCredentials) []gogrpc.DialOption {
	if creds == nil {
		creds = insecure.NewCredentials()
	}
	return []gogrpc.DialOption{
		gogrpc.WithTransportCredentials(creds),
		gogrpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}
}

// Dial creates a client for addr, waits for the connection to become READY
// and then for the health service to report SERVING for service. timeout
// bounds the whole sequence; the connection is closed on any failure.
func Dial(ctx context.Context, addr, service string, timeout time.Duration, logf func(string, ...any), opts ...gogrpc.DialOption) (*gogrpc.ClientConn, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	conn, err := gogrpc.NewClient(addr, opts...)
	if err != nil {
		return nil, &DialError{Addr: addr, Stage: StageConnect, Err: err}
	}
	if err := waitReady(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, &DialError{Addr: addr, Stage: StageConnect, Err: err}
	}
	if err := WaitForHealth(ctx, conn, service, logf); err != nil {
		_ = conn.Close()
		return nil, &DialError{Addr: addr, Stage: StageHealth, Err: err}
	}
	return conn, nil
}

func waitReady(ctx context.Context, conn *gogrpc.ClientConn) error {
	conn.Connect()
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Shutdown:
			return fmt.Errorf("connection shut down")
		}
		if !conn.WaitForStateChange(ctx, state) {
			return fmt.Errorf("connection stuck in %s: %w", state, ctx.Err())
		}
	}
}
