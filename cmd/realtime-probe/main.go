// realtime-probe is a line-oriented client for poking at a gateway: it logs
// in with a bearer token, opens one conversation, tails its message log, and
// sends stdin lines as chat messages.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/workmesh/realtime/internal/app"
	"github.com/workmesh/realtime/internal/config"
	"github.com/workmesh/realtime/internal/log"
	"github.com/workmesh/realtime/internal/realtime"
)

func main() {
	var (
		configPath string
		token      string
		room       string
		overrides  config.Config
	)

	root := &cobra.Command{
		Use:   "realtime-probe",
		Short: "Connect to a realtime gateway and chat from the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, token, room, overrides)
		},
	}

	root.Flags().StringVar(&configPath, "config", "", "config file path")
	root.Flags().StringVar(&token, "token", "", "bearer credential")
	root.Flags().StringVar(&room, "room", "", "conversation id to open")
	root.Flags().StringVar(&overrides.WSEndpoint, "ws-endpoint", "", "gateway WebSocket URL (overrides config)")
	root.Flags().StringVar(&overrides.APIEndpoint, "api-endpoint", "", "REST base URL (overrides config)")
	root.Flags().StringVar(&overrides.LogLevel, "log-level", "", "log level (overrides config)")
	root.MarkFlagRequired("token")
	root.MarkFlagRequired("room")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(configPath, token, room string, overrides config.Config) error {
	bootLog := log.New("info")
	cfg, _, err := config.Load(bootLog, configPath)
	if err != nil {
		return err
	}
	cfg.UpdateFrom(overrides)
	logger := log.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session, err := app.Login(ctx, cfg, token, logger)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	defer session.Close(context.Background())

	conv, err := session.Chat().Open(ctx, realtime.Conversation{ID: room})
	if err != nil {
		return fmt.Errorf("open conversation: %w", err)
	}
	stream := session.Streams().Get(conv.ID)
	if _, err := stream.LoadHistory(ctx, 1, cfg.HistoryPageSize); err != nil {
		logger.Warn().Err(err).Msg("history unavailable")
	}

	fmt.Printf("Opened %q as %s. Type and press Enter to send, Ctrl+C to exit.\n",
		conv.Title, session.Identity().DisplayName)

	go tail(ctx, session, stream)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		session.Typing().NotifyTyping(ctx, conv.ID)
		if _, err := stream.Send(ctx, line, nil, conv.CounterpartID); err != nil {
			fmt.Printf("  !! send failed: %v\n", err)
		}
		if ctx.Err() != nil {
			break
		}
	}
	return scanner.Err()
}

// tail prints messages as they land in the stream, plus unread counters.
func tail(ctx context.Context, session *app.Session, stream *realtime.Stream) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	printed := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		msgs := stream.Messages()
		for ; printed < len(msgs); printed++ {
			m := msgs[printed]
			marker := ""
			if m.Delivery == realtime.DeliveryFailed {
				marker = " [failed]"
			}
			fmt.Printf("[%s] %s: %s%s\n", m.CreatedAt.Format("15:04:05"), m.SenderName, m.Body, marker)
		}
		for _, u := range session.Typing().TypingUsers(stream.Room()) {
			fmt.Printf("  .. %s is typing\n", u.Name)
		}
	}
}
