// Command conversed serves the conversational API: HTTP for the
// request/reply path, websockets for incremental delivery.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	// Ensure API Key is loaded
	_ "github.com/joho/godotenv/autoload"

	"github.com/learnloop/converse/auth"
	"github.com/learnloop/converse/chat"
	"github.com/learnloop/converse/config"
	"github.com/learnloop/converse/internal/broker"
	"github.com/learnloop/converse/pkg/natsx"
	"github.com/learnloop/converse/pkg/slogx"
	"github.com/learnloop/converse/provider"
	"github.com/learnloop/converse/provider/openai"
	"github.com/learnloop/converse/server"
	"github.com/learnloop/converse/store"
	"github.com/phsym/zeroslog"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var log zerolog.Logger

func init() {
	output := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Stamp}
	log = zerolog.New(output).With().Timestamp().Logger()
	slog.SetDefault(slog.New(
		zeroslog.NewHandler(log, &zeroslog.HandlerOptions{Level: slog.LevelInfo}),
	))
}

func main() {
	defaultConfig := os.Getenv("CONVERSE_CONFIG")
	if defaultConfig == "" {
		defaultConfig = "conversed.toml"
	}
	configPath := flag.String("config", defaultConfig, "path to the TOML config file")
	issueToken := flag.String("issue-token", "", "mint an API token for the given user id and exit")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *issueToken != "" {
		if err := issueTokenE(ctx, *configPath, *issueToken); err != nil {
			slog.Error("failed to issue token", slogx.Error(err))
			os.Exit(1)
		}
		return
	}

	if err := mainE(ctx, *configPath); err != nil {
		slog.Error("conversed exited", slogx.Error(err))
		os.Exit(1)
	}
}

// issueTokenE mints a bearer token against the configured database. The
// raw token is printed once; only its digest is stored.
func issueTokenE(ctx context.Context, configPath, userID string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	token, err := st.CreateToken(ctx, userID)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

func mainE(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	// The remote provider probes its endpoint at construction time, so
	// build it lazily and at most once per process.
	remote := sync.OnceValues(func() (provider.Provider, error) {
		return openai.New(openai.Config{
			APIKey:   cfg.OpenAI.APIKey,
			BaseURL:  cfg.OpenAI.BaseURL,
			Model:    cfg.OpenAI.Model,
			Flavor:   cfg.OpenAI.Flavor,
			ProxyURL: cfg.OpenAI.ProxyURL,
		})
	})

	svc, err := chat.New(
		chat.WithStore(st),
		chat.WithSelector(provider.Selector{
			Default: cfg.DefaultProvider,
			Echo:    provider.Echo{},
			Remote:  remote,
		}),
		chat.WithDefaults(cfg.Params()),
	)
	if err != nil {
		return err
	}

	groups, err := buildBroker(cfg)
	if err != nil {
		return err
	}

	srv, err := server.New(
		server.WithAddr(cfg.Listen),
		server.WithService(svc),
		server.WithStore(st),
		server.WithVerifier(auth.StoreVerifier{Tokens: st}),
		server.WithBroker(groups),
	)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func buildBroker(cfg config.Config) (broker.Broker, error) {
	if cfg.NATS.URL == "" {
		return broker.Local(), nil
	}
	nc, err := natsx.NewClient(cfg.NATS.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	slog.Info("using nats broker", slog.String("url", cfg.NATS.URL))
	return broker.NATS(nc), nil
}
