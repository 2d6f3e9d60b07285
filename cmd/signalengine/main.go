// Command signalengine runs the multi-tenant trading-signal engine: it
// restores active sessions from storage, listens for Telegram commands to
// start/stop per-user strategies, and streams exchange trades through each
// user's candle aggregator and strategy instance.
//
// Grounded on the teacher's cmd/polybot/main.go for the overall startup
// sequence (load .env, load config, open database, construct bot, block on
// signal), adapted to cobra subcommands per the ecosystem convention the
// rest of the retrieval pack uses for CLI entry points.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/chainsignal/signalengine/internal/config"
	"github.com/chainsignal/signalengine/internal/executor"
	"github.com/chainsignal/signalengine/internal/notify"
	"github.com/chainsignal/signalengine/internal/reconciler"
	"github.com/chainsignal/signalengine/internal/session"
	"github.com/chainsignal/signalengine/internal/store"
	"github.com/chainsignal/signalengine/internal/streammanager"
	"github.com/chainsignal/signalengine/internal/strategy"
)

var version = "dev"

func main() {
	_ = godotenv.Load()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	root := &cobra.Command{
		Use:   "signalengine",
		Short: "Multi-tenant trading-signal engine",
	}
	root.AddCommand(runCmd(), sessionsCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		log.Fatal().Err(err).Msg("signalengine exited with error")
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the engine version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}

func runCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the engine: restore sessions and listen for Telegram commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "optional YAML config file overlaying environment defaults")
	return cmd
}

func sessionsCmd() *cobra.Command {
	sessions := &cobra.Command{Use: "sessions", Short: "Inspect persisted sessions"}
	sessions.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List active sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			s, err := store.New(cfg.DatabasePath)
			if err != nil {
				return err
			}
			active, err := s.ActiveSessions()
			if err != nil {
				return err
			}
			for _, sess := range active {
				fmt.Printf("%s\tuser=%d\tpair=%s\ttimeframe=%s\tstarted=%s\n", sess.ID, sess.UserID, sess.Pair, sess.Timeframe, sess.StartedAt.Format("2006-01-02T15:04:05Z07:00"))
			}
			return nil
		},
	})
	return sessions
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	st, err := store.New(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	sender, err := notify.New(cfg.TelegramToken)
	if err != nil {
		return fmt.Errorf("connect telegram: %w", err)
	}

	streams := streammanager.New(map[string]string{streammanager.DefaultExchange: cfg.BinanceWSURL}, cfg.StreamBufferCapacity)
	recon := reconciler.New(st, sender, cfg.DefaultSignalQuantity)
	registry := executor.New()
	sessions := session.New(st, registry, streams, recon)

	registerCommands(sender, sessions, st)

	restored, failed := sessions.RestoreActiveSessions(ctx)
	log.Info().Int("restored", restored).Int("failed", failed).Msg("startup session restoration complete")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gCtx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		sender.ListenForCommands(gCtx)
		return nil
	})

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")
	sender.Stop()
	cancel()
	return g.Wait()
}

func registerCommands(sender *notify.Sender, sessions *session.Manager, st *store.Store) {
	sender.OnCommand("status", func(ctx context.Context, userID int64, args string) string {
		trades, err := st.TradesByUser(userID, 5)
		if err != nil {
			return "failed to load trade history"
		}
		return fmt.Sprintf("%d recent trades on file", len(trades))
	})

	sender.OnCommand("stop", func(ctx context.Context, userID int64, args string) string {
		if err := sessions.Stop(userID); err != nil {
			return fmt.Sprintf("could not stop session: %v", err)
		}
		return "session stopped"
	})

	sender.OnCommand("rsi", func(ctx context.Context, userID int64, args string) string {
		cfg := strategy.Config{
			Type:       strategy.KindRSI,
			Pair:       "BTCUSDT",
			Timeframe:  "1m",
			Parameters: map[string]float64{"period": 14},
		}
		if args != "" {
			cfg.Pair = args
		}
		if err := sessions.Start(ctx, userID, cfg); err != nil {
			return fmt.Sprintf("could not start session: %v", err)
		}
		return fmt.Sprintf("started RSI(14) strategy on %s", cfg.Pair)
	})
}
