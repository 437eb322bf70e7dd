// Package main starts the wallet web service.
//
// The process holds one ledger session and one wallet identity for its whole
// life and serves the wallet page to every browser pointed at it.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	walletcmd "github.com/louisbranch/ledgerwallet/internal/cmd/wallet"
	"github.com/louisbranch/ledgerwallet/internal/platform/config"
	entrypoint "github.com/louisbranch/ledgerwallet/internal/platform/cmd"
)

func main() {
	cfg, err := walletcmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}
	log.SetPrefix(entrypoint.LogPrefix(entrypoint.ServiceWallet))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := walletcmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
