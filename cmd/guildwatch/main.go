package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/guildwatch/guildwatch/internal/audit"
	"github.com/guildwatch/guildwatch/internal/config"
	"github.com/guildwatch/guildwatch/internal/correlate"
	"github.com/guildwatch/guildwatch/internal/dispatch"
	"github.com/guildwatch/guildwatch/internal/domain"
	"github.com/guildwatch/guildwatch/internal/feed"
	"github.com/guildwatch/guildwatch/internal/flood"
	"github.com/guildwatch/guildwatch/internal/pipeline"
	"github.com/guildwatch/guildwatch/internal/server"
	"github.com/guildwatch/guildwatch/internal/sink"
	"github.com/guildwatch/guildwatch/internal/sink/discord"
	gwslack "github.com/guildwatch/guildwatch/internal/sink/slack"
	redisstore "github.com/guildwatch/guildwatch/internal/store/redis"
	slacklib "github.com/slack-go/slack"
)

// feedRetryInterval paces reconnects after the feed socket drops.
const feedRetryInterval = 5 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
}

func run() error {
	// Initialize structured logging from environment.
	logLevel := os.Getenv("GUILDWATCH_LOG_LEVEL")
	level, parseErr := zerolog.ParseLevel(logLevel)
	if parseErr != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	logFormat := os.Getenv("GUILDWATCH_LOG_FORMAT")
	if logFormat == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}

	ctx := context.Background()

	// Load configuration from environment.
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if cfg.Feed.URL == "" {
		return errors.New("GUILDWATCH_FEED_URL is required")
	}

	// Claim and dedup stores: Redis when configured, in-process otherwise.
	// Claims outlive the correlation window so late duplicate requests
	// still lose the race against the original owner.
	claimTTL := 2 * cfg.Correlation.Window

	var claims domain.ClaimStore
	var dedup domain.DedupCache
	if cfg.Redis.Addr != "" {
		store, storeErr := redisstore.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if storeErr != nil {
			return storeErr
		}
		defer store.Close()

		claims = store.Claims(claimTTL)
		dedup = store.Dedup(cfg.Dispatch.DedupTTL)
	} else {
		claims = audit.NewMemoryClaims(claimTTL)
		dedup = audit.NewMemoryDedup(cfg.Dispatch.DedupTTL)
	}

	// Audit trail client.
	trail := audit.NewRESTTrail(cfg.Trail.BaseURL, cfg.Trail.Token, &http.Client{
		Timeout: cfg.Trail.Timeout,
	})

	correlator := correlate.New(trail, claims, correlate.Config{
		Epsilon:        cfg.Correlation.Epsilon,
		MaxAttempts:    cfg.Correlation.MaxAttempts,
		InitialBackoff: cfg.Correlation.InitialBackoff,
		MaxBackoff:     cfg.Correlation.MaxBackoff,
		FetchLimit:     cfg.Correlation.FetchLimit,
		FetchRate:      cfg.Correlation.FetchRate,
		FetchBurst:     cfg.Correlation.FetchBurst,
		MaxInFlight:    cfg.Correlation.MaxInFlight,
	})

	// Notification sink for the configured platform.
	eventSink, err := buildSink(cfg.Sink)
	if err != nil {
		return err
	}
	log.Info().Str("platform", eventSink.Platform()).Msg("sink configured")

	dispatcher := dispatch.New(dispatch.Config{
		BufferSize:  cfg.Dispatch.BufferSize,
		EmitTimeout: cfg.Dispatch.EmitTimeout,
	}, eventSink, dedup)

	coalescer := flood.NewCoalescer(cfg.Flood.CoalesceWindow, func(ev *domain.AuditEvent) {
		dispatcher.Dispatch(ctx, ev)
	})

	scanner := flood.NewMentionScanner(cfg.Flood.MentionThreshold)

	pipe := pipeline.New(pipeline.Config{
		CorrelationWindow: cfg.Correlation.Window,
	}, correlator, coalescer, scanner)

	consumer := feed.NewConsumer(cfg.Feed.URL, cfg.Feed.Token, pipe)

	srv := server.New(cfg.Server)

	// Graceful shutdown on SIGINT / SIGTERM.
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Str("addr", cfg.Server.Addr).Msg("starting ops server")
		return srv.Start(gctx)
	})

	g.Go(func() error {
		// The feed session is expected to drop occasionally; reconnect
		// until shutdown.
		for {
			runErr := consumer.Run(gctx)
			if gctx.Err() != nil {
				return nil
			}
			log.Error().Err(runErr).Msg("feed disconnected, reconnecting")

			select {
			case <-gctx.Done():
				return nil
			case <-time.After(feedRetryInterval):
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	<-gctx.Done()
	log.Info().Msg("shutting down")

	// Drain in pipeline order: stop producing requests, flush held
	// coalesce groups, then let the dispatcher empty its buffer.
	pipe.Close()
	coalescer.Close()
	dispatcher.Close()

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info().Uint64("dropped", dispatcher.Dropped()).Msg("stopped")
	return nil
}

// buildSink constructs the sink for the configured platform.
func buildSink(cfg config.SinkConfig) (sink.Sink, error) {
	switch cfg.Platform {
	case "discord":
		client, err := discord.NewRESTClient(cfg.DiscordToken)
		if err != nil {
			return nil, err
		}
		return discord.NewDiscordSink(client, cfg.ChannelID), nil
	case "slack":
		return gwslack.NewSlackSink(slacklib.New(cfg.SlackToken), cfg.ChannelID), nil
	default:
		return sink.LogSink{}, nil
	}
}
