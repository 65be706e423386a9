package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/workmesh/realtime/internal/log"
	"github.com/workmesh/realtime/internal/stubserver"
)

func main() {
	var (
		addr     string
		secret   string
		logLevel string
		tokenTTL time.Duration
	)

	root := &cobra.Command{
		Use:   "stubserver",
		Short: "In-memory development gateway for the realtime client",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := log.New(logLevel)
			srv := stubserver.New(stubserver.Options{
				Addr:     addr,
				Secret:   []byte(secret),
				TokenTTL: tokenTTL,
			}, logger)
			return srv.Run()
		},
	}

	root.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	root.Flags().StringVar(&secret, "secret", "dev-secret", "token signing secret")
	root.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.Flags().DurationVar(&tokenTTL, "token-ttl", 24*time.Hour, "minted token lifetime")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
