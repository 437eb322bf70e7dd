// Package timeouts defines shared timeout constants used by the wallet.
package timeouts

import "time"

// GRPCDial caps the wait time when dialing the ledger and checking its health.
const GRPCDial = 2 * time.Second

// RootKeyFetch caps the root-of-trust handshake with a local ledger replica.
const RootKeyFetch = 2 * time.Second

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long an HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second

// HealthProbe bounds a single health check call against a replica.
const HealthProbe = time.Second
