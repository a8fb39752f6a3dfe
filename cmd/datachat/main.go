package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/datachat/internal/catalog"
	"github.com/gosuda/datachat/internal/chat"
	"github.com/gosuda/datachat/internal/cli"
	"github.com/gosuda/datachat/internal/config"
	"github.com/gosuda/datachat/internal/console"
	"github.com/gosuda/datachat/internal/logging"
	"github.com/gosuda/datachat/internal/notify"
	"github.com/gosuda/datachat/internal/server"
	"github.com/gosuda/datachat/internal/store/memory"
	redisstore "github.com/gosuda/datachat/internal/store/redis"
	"github.com/gosuda/datachat/internal/transport"
)

// broker is the snapshot fan-out shared by the console, the REPL and the bridge.
type broker interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error)
	Close() error
}

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
}

func run() error {
	// Load configuration from environment.
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// Logs go to stderr; stdout belongs to the REPL.
	logCloser := logging.Setup(cfg.Log, os.Stderr)
	defer logCloser.Close()

	// Graceful shutdown on SIGINT / SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Snapshot broker: Redis when configured, in-process otherwise.
	var snapshots broker
	if cfg.Redis.Addr != "" {
		pubsub, redisErr := redisstore.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if redisErr != nil {
			return redisErr
		}
		snapshots = pubsub
		log.Info().Str("addr", cfg.Redis.Addr).Msg("publishing snapshots to redis")
	} else {
		snapshots = memory.NewBroker()
	}
	defer snapshots.Close()

	// Notifications: always logged, also posted to Slack when configured.
	notifiers := notify.NewRegistry()
	notifiers.Register(notify.NewLogNotifier(nil))
	if cfg.Slack.BotToken != "" {
		notifiers.Register(notify.NewSlackNotifierFromToken(cfg.Slack.BotToken, cfg.Slack.Channel))
		log.Info().Str("channel", cfg.Slack.Channel).Msg("slack notifications enabled")
	}

	client := chat.New(cfg.Backend.ChatURL(), chat.WithTransportOptions(
		transport.WithReconnectDelay(cfg.Backend.ReconnectDelay),
		transport.WithDialTimeout(cfg.Backend.DialTimeout),
		transport.WithPingInterval(cfg.Backend.PingInterval),
		transport.WithReadLimit(cfg.Backend.ReadLimit),
	))
	defer client.Close()

	con := console.New(client, console.WithPublisher(snapshots), console.WithNotifier(notifiers))
	defer con.Close()
	cat := catalog.New(cfg.Backend.APIURL, catalog.WithCacheTTL(cfg.Backend.CatalogTTL))

	client.Start()
	log.Info().Str("url", cfg.Backend.ChatURL()).Str("session_id", con.SessionID().String()).Msg("connecting to backend")

	// Optional bridge for browser UIs.
	var srv *server.Server
	if cfg.Server.Addr != "" {
		srv = server.New(ctx, &cfg.Server, con, cat, snapshots)
		go func() {
			log.Info().Str("addr", cfg.Server.Addr).Msg("starting bridge server")
			if startErr := srv.Start(ctx); startErr != nil {
				log.Error().Err(startErr).Msg("server error")
				cancel()
			}
		}()
	}

	repl := cli.New(os.Stdin, color.Output, con, cat, snapshots, cli.WithColor(!color.NoColor))
	if replErr := repl.Run(ctx); replErr != nil {
		return replErr
	}
	log.Info().Msg("shutting down")

	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
			return shutdownErr
		}
	}

	log.Info().Msg("stopped")
	return nil
}
