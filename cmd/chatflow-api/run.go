package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukex/chatflow/pkg/channels"
	"github.com/dukex/chatflow/pkg/channels/telegram"
	"github.com/dukex/chatflow/pkg/channels/webchat"
	"github.com/dukex/chatflow/pkg/channels/whatsapp"
	"github.com/dukex/chatflow/pkg/cmd"
	"github.com/dukex/chatflow/pkg/credentials"
	"github.com/dukex/chatflow/pkg/delay"
	"github.com/dukex/chatflow/pkg/flow"
	"github.com/dukex/chatflow/pkg/log"
	"github.com/dukex/chatflow/pkg/models"
	"github.com/dukex/chatflow/pkg/otelhelper"
	"github.com/dukex/chatflow/pkg/presence"
	"github.com/dukex/chatflow/pkg/services"
	"github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"
)

const defaultPort = 9091

func RunAPICommand() *cli.Command {
	return &cli.Command{
		Name:    "run",
		Aliases: []string{"r"},
		Usage:   "Start the API server",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			databaseURLFlag(),
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for quota counters and the channel credentials cache; in-process when empty",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers",
				Value:   "localhost:9092",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.IntFlag{
				Name:    "daily-chat-quota",
				Usage:   "New chat sessions allowed per tenant per day (0 disables the quota)",
				Sources: cli.EnvVars("DAILY_CHAT_QUOTA"),
			},
			&cli.DurationFlag{
				Name:    "credentials-ttl",
				Usage:   "How long channel credentials are cached",
				Value:   credentials.DefaultTTL,
				Sources: cli.EnvVars("CREDENTIALS_TTL"),
			},
			&cli.IntFlag{
				Name:    "step-budget",
				Usage:   "Maximum nodes executed per interpreter run",
				Value:   flow.DefaultStepBudget,
				Sources: cli.EnvVars("STEP_BUDGET"),
			},
			&cli.BoolFlag{
				Name:    "otel-enabled",
				Usage:   "Export traces over OTLP HTTP",
				Sources: cli.EnvVars("OTEL_ENABLED"),
			},
			logLevelFlag(),
			logFormatFlag(),
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			logger := log.WithModule("api")
			logger.InfoContext(ctx, "Initializing chatflow API")

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			tracer := otelhelper.Default()
			if command.Bool("otel-enabled") {
				t, err := otelhelper.NewTracer(ctx, "chatflow-api")
				if err != nil {
					return fmt.Errorf("failed to initialize tracer: %w", err)
				}

				tracer = t
			}

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			redisClient, err := cmd.NewRedisClient(command.String("redis-url"))
			if err != nil {
				return err
			}

			if redisClient != nil {
				defer func() { _ = redisClient.Close() }()
			}

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), logger)
			if err != nil {
				return err
			}

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			if err := subscribeEventLog(ctx, eventBus, log.WithModule("session_events")); err != nil {
				return fmt.Errorf("failed to subscribe to session events: %w", err)
			}

			cache := cmd.NewCredentialsCache(persistence.ChannelConfigRepository(), redisClient,
				command.Duration("credentials-ttl"), log.WithModule("credentials_cache"))

			httpClient := &http.Client{Timeout: channels.SendTimeout}

			registry := channels.NewRegistry(cache)
			registry.RegisterStatic(models.ChannelWebchat, webchat.NewSender(log.WithModule("webchat")))
			registry.Register(models.ChannelTelegram, telegram.Factory(httpClient))
			registry.Register(models.ChannelWhatsApp, whatsapp.Factory(httpClient))

			chat, scheduler := newChat(services.ChatConfig{
				Persistence:    persistence,
				Sender:         registry,
				ChannelConfigs: cache,
				Quota:          cmd.NewQuota(redisClient, int64(command.Int("daily-chat-quota"))),
				Events:         eventBus,
				Logger:         log.WithModule("chat_service"),
				Tracer:         tracer,
			}, command.Int("step-budget"), tracer)

			if err := scheduler.Start(ctx); err != nil {
				return fmt.Errorf("failed to start delay scheduler: %w", err)
			}

			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()

				if err := scheduler.Stop(shutdownCtx); err != nil {
					logger.ErrorContext(ctx, "Failed to stop delay scheduler", "error", err)
				}
			}()

			api := NewAPI(logger, persistence, chat, cache, presence.NewRegistry(presence.DefaultTTL))

			return api.Start(ctx, command.Int("port"))
		},
	}
}

// newChat builds the chat service and the delay scheduler that feeds
// continuations back into it.
func newChat(cfg services.ChatConfig, stepBudget int, tracer trace.Tracer) (*services.Chat, *delay.Scheduler) {
	var chat *services.Chat

	scheduler := delay.NewScheduler(func(ctx context.Context, c flow.Continuation) error {
		return chat.RunContinuation(ctx, c)
	}, log.WithModule("delay"))

	cfg.Interpreter = flow.NewInterpreter(flow.Config{
		Templates:  cfg.Persistence.TemplateRepository(),
		Schedules:  cfg.Persistence.ScheduleRepository(),
		HTTPClient: &http.Client{},
		StepBudget: stepBudget,
		Logger:     log.WithModule("interpreter"),
		Tracer:     tracer,
	})
	cfg.Delays = scheduler

	chat = services.NewChat(cfg)

	return chat, scheduler
}

func isServerClosed(err error) bool {
	return err == nil || errors.Is(err, http.ErrServerClosed)
}
