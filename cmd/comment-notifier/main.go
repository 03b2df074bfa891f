// Package main is the entry point for the comment notification service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shineum/comment-notifier/internal/comment"
	"github.com/shineum/comment-notifier/internal/config"
	"github.com/shineum/comment-notifier/internal/httpapi"
	"github.com/shineum/comment-notifier/internal/llm"
	"github.com/shineum/comment-notifier/internal/notifier"
	"github.com/shineum/comment-notifier/internal/provider"
	"github.com/shineum/comment-notifier/internal/provider/ses"
	"github.com/shineum/comment-notifier/internal/provider/smtp"
	"github.com/shineum/comment-notifier/internal/provider/stdout"
	"github.com/shineum/comment-notifier/internal/queue"
	"github.com/shineum/comment-notifier/internal/review"
	"github.com/shineum/comment-notifier/internal/serverchan"
	"github.com/shineum/comment-notifier/internal/smtpclient"
	"github.com/shineum/comment-notifier/internal/summary"
)

// queueDrainTimeout bounds how long shutdown waits for queued mails.
const queueDrainTimeout = 2 * time.Minute

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file (optional)")
	envFile := flag.String("env-file", "", "path to a .env file loaded before the environment (optional)")
	testMail := flag.String("test-mail", "", "send one test mail to this address and exit")
	flag.Parse()

	if *envFile != "" {
		if err := config.LoadEnvFile(*envFile); err != nil {
			slog.Error("failed to load env file", "error", err)
			os.Exit(1)
		}
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Logging.Level)

	if *testMail != "" {
		os.Exit(runTestMail(cfg, *testMail))
	}

	if err := run(cfg); err != nil {
		slog.Error("comment-notifier failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	prov, err := selectProvider(cfg)
	if err != nil {
		return err
	}

	n, q, err := buildNotifier(cfg, prov)
	if err != nil {
		return err
	}

	var summarizer httpapi.Summarizer
	if cfg.SummaryConfigured() {
		summarizer = summary.New(llm.New(llm.Config{
			URL:     cfg.Summary.APIURL,
			APIKey:  cfg.Summary.APIKey,
			Model:   cfg.Summary.Model,
			Timeout: summary.Timeout,
		}), cfg.Summary.Prompt, cfg.Summary.MaxInput)
	}

	server := httpapi.NewServer(cfg.HTTP.Listen, httpapi.NewHandler(httpapi.Options{
		Notifier:   n,
		Summarizer: summarizer,
		Token:      cfg.HTTP.Token,
		QueueLen:   q.Len,
	}))

	slog.Info("starting comment-notifier",
		"listen", cfg.HTTP.Listen,
		"provider", prov.Name(),
		"review", cfg.ReviewConfigured(),
		"summary", cfg.SummaryConfigured(),
		"serverchan", cfg.ServerChanConfigured(),
		"token_required", cfg.HTTP.Token != "",
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	serveErr := server.Serve(ctx)
	stop()

	drainCtx, cancel := context.WithTimeout(context.Background(), queueDrainTimeout)
	defer cancel()
	if err := q.Close(drainCtx); err != nil {
		slog.Warn("mail queue not fully drained", "error", err)
	}

	if serveErr != nil {
		return fmt.Errorf("HTTP server: %w", serveErr)
	}
	slog.Info("comment-notifier stopped")
	return nil
}

func buildNotifier(cfg *config.Config, prov provider.Provider) (*notifier.Notifier, *queue.Queue, error) {
	ncfg, err := notifierConfig(cfg)
	if err != nil {
		return nil, nil, err
	}

	statuses := comment.NewStatusBook(0)
	q := queue.New(prov, statuses, queue.Options{})

	deps := notifier.Deps{
		Queue:    q,
		Sender:   prov,
		Statuses: statuses,
	}
	if cfg.ReviewConfigured() {
		deps.Reviewer = review.New(llm.New(llm.Config{
			URL:    cfg.Review.APIURL,
			APIKey: cfg.Review.APIKey,
			Model:  cfg.Review.Model,
		}), cfg.Review.Prompt)
	}
	if cfg.ServerChanConfigured() {
		deps.Pusher = serverchan.New(cfg.ServerChan.SendKey)
	}

	return notifier.New(ncfg, deps), q, nil
}

// runTestMail sends one message synchronously and returns the exit code.
// Over SMTP the protocol transcript is printed as well.
func runTestMail(cfg *config.Config, to string) int {
	ncfg, err := notifierConfig(cfg)
	if err != nil {
		slog.Error("failed to load mail templates", "error", err)
		return 1
	}

	if cfg.SelectedProvider() == config.ProviderSMTP {
		conn, err := cfg.SMTPConnection()
		if err != nil {
			slog.Error("invalid SMTP settings", "error", err)
			return 1
		}
		conn.Debug = true

		e := notifier.New(ncfg, notifier.Deps{}).TestMessage(to)
		transcript, err := smtpclient.New(conn).Send(context.Background(), e)
		fmt.Println(transcript.String())
		if err != nil {
			slog.Error("test mail failed", "kind", smtpclient.KindOf(err).String(), "error", err)
			return 1
		}
		fmt.Printf("test mail sent to %s, Message-ID %s\n", to, e.MessageID)
		return 0
	}

	prov, err := selectProvider(cfg)
	if err != nil {
		slog.Error("failed to set up provider", "error", err)
		return 1
	}
	n := notifier.New(ncfg, notifier.Deps{Sender: prov})
	if _, err := n.TestMail(context.Background(), to); err != nil {
		slog.Error("test mail failed", "error", err)
		return 1
	}
	fmt.Printf("test mail sent to %s via %s\n", to, prov.Name())
	return 0
}

func notifierConfig(cfg *config.Config) (notifier.Config, error) {
	body, err := comment.LoadBody(cfg.Mail.BodyFile)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		SiteTitle:     cfg.Site.Title,
		SiteURL:       cfg.Site.URL,
		OwnerID:       cfg.Site.OwnerID,
		SenderName:    cfg.Sender.Name,
		SenderAddress: cfg.Sender.Address,
		Subject:       cfg.Mail.Subject,
		Body:          body,
		OwnerTag:      cfg.Mail.OwnerTag,
		PushTitle:     cfg.ServerChan.Title,
		PushContent:   cfg.ServerChan.Content,
		PushTags:      cfg.ServerChan.Tags,
		PushShort:     cfg.ServerChan.Short,
		SkipOwner:     cfg.ServerChan.SkipOwner,
	}, nil
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger configures the global slog logger with JSON output and the
// specified log level.
func setupLogger(level string) {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

var errUnknownProvider = errors.New("unknown provider")

// selectProvider builds the mail backend named by the configuration.
func selectProvider(cfg *config.Config) (provider.Provider, error) {
	switch name := cfg.SelectedProvider(); name {
	case config.ProviderSMTP:
		conn, err := cfg.SMTPConnection()
		if err != nil {
			return nil, fmt.Errorf("invalid SMTP settings: %w", err)
		}
		slog.Info("using SMTP provider",
			"host", conn.Host,
			"port", conn.Port,
			"security", conn.Security.String(),
			"auth", conn.AuthEnabled(),
		)
		return smtp.New(conn, slog.Default()), nil

	case config.ProviderSES:
		slog.Info("using AWS SES provider", "region", cfg.SES.Region)
		p, err := ses.New(context.Background(), ses.Config{
			Region:          cfg.SES.Region,
			AccessKeyID:     cfg.SES.AccessKeyID,
			SecretAccessKey: cfg.SES.SecretAccessKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create SES provider: %w", err)
		}
		return p, nil

	case config.ProviderStdout:
		slog.Info("using stdout provider")
		return stdout.New(), nil

	default:
		return nil, fmt.Errorf("%w: %q", errUnknownProvider, name)
	}
}
