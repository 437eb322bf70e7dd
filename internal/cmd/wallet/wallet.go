// Package wallet parses wallet command configuration, connects to the ledger
// and starts the HTTP surface.
package wallet

import (
	"context"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/louisbranch/ledgerwallet/internal/ledger/connector"
	"github.com/louisbranch/ledgerwallet/internal/ledger/identity"
	"github.com/louisbranch/ledgerwallet/internal/ledger/ledgeridl"
	entrypoint "github.com/louisbranch/ledgerwallet/internal/platform/cmd"
	apperrors "github.com/louisbranch/ledgerwallet/internal/platform/errors"
	"github.com/louisbranch/ledgerwallet/internal/services/wallet/app"
	"github.com/louisbranch/ledgerwallet/internal/services/wallet/view"
)

// Config holds wallet command configuration. Variables are read with the
// LEDGER_WALLET_ prefix.
type Config struct {
	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:"localhost:8080"`
	Host         string        `env:"HOST" envDefault:"http://127.0.0.1:4943"`
	ServiceID    string        `env:"SERVICE_ID" envDefault:"by6od-j4aaa-aaaaa-qaadq-cai"`
	RootKey      string        `env:"ROOT_KEY"`
	FetchRootKey string        `env:"FETCH_ROOT_KEY" envDefault:"auto"`
	IdentitySeed string        `env:"IDENTITY_SEED"`
	DialTimeout  time.Duration `env:"DIAL_TIMEOUT" envDefault:"2s"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP listen address")
	fs.StringVar(&cfg.Host, "host", cfg.Host, "Ledger replica URL")
	fs.StringVar(&cfg.ServiceID, "service-id", cfg.ServiceID, "Wallet ledger service principal")
	fs.StringVar(&cfg.FetchRootKey, "fetch-root-key", cfg.FetchRootKey, "Root key fetch mode: auto, always or never")
	fs.DurationVar(&cfg.DialTimeout, "dial-timeout", cfg.DialTimeout, "Ledger dial and health check timeout")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run connects to the ledger and serves the wallet until ctx ends.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceWallet, func(ctx context.Context) error {
		v, closeSession, err := Connect(ctx, cfg, log.Printf)
		if err != nil {
			return err
		}
		defer closeSession()

		server, err := app.NewServer(ctx, app.Config{HTTPAddr: cfg.HTTPAddr, View: v, Logger: log.Default()})
		if err != nil {
			return fmt.Errorf("init wallet server: %w", err)
		}
		defer server.Close()

		log.Printf("wallet listening on %s ledger=%s state=%s", server.Addr(), cfg.Host, v.Snapshot().State)
		if err := server.ListenAndServe(ctx); err != nil {
			return fmt.Errorf("serve wallet: %w", err)
		}
		return nil
	})
}

// Connect builds the caller identity, opens the ledger session and binds the
// wallet handle. When the ledger cannot be reached the returned view is the
// blocking unavailable state; configuration mistakes are returned as errors.
func Connect(ctx context.Context, cfg Config, logf func(string, ...any)) (*view.View, func(), error) {
	if logf == nil {
		logf = log.Printf
	}
	noop := func() {}

	mode, err := connector.ParseRootKeyMode(cfg.FetchRootKey)
	if err != nil {
		return nil, noop, err
	}
	rootKey, err := decodeRootKey(cfg.RootKey)
	if err != nil {
		return nil, noop, err
	}
	id, err := buildIdentity(cfg.IdentitySeed)
	if err != nil {
		return nil, noop, err
	}

	session, err := connector.InitializeSession(ctx, connector.Options{
		Endpoint:    cfg.Host,
		Identity:    id,
		RootKey:     rootKey,
		RootKeyMode: mode,
		DialTimeout: cfg.DialTimeout,
		Logf:        logf,
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrConnection) {
			logf("ledger unavailable: %v", err)
			return view.Unavailable(err, view.WithLogger(logf)), noop, nil
		}
		return nil, noop, err
	}

	handle, err := connector.CreateHandle(session, ledgeridl.MustLoad(), cfg.ServiceID)
	if err != nil {
		_ = session.Close()
		return nil, noop, fmt.Errorf("bind wallet ledger: %w", err)
	}

	logf("ledger session ready endpoint=%s principal=%s service=%s", session.Endpoint(), session.Principal(), handle.ServiceID())
	v := view.New(handle, view.WithPrincipal(session.Principal()), view.WithLogger(logf))
	return v, func() { _ = session.Close() }, nil
}

func decodeRootKey(value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("decode root key: %w", err)
	}
	return key, nil
}

func buildIdentity(seed string) (identity.Identity, error) {
	if strings.TrimSpace(seed) != "" {
		return identity.FromSeedPhrase(seed)
	}
	return identity.Generate()
}
