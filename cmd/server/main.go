package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/npezzotti/go-chatrelay/internal/api"
	"github.com/npezzotti/go-chatrelay/internal/config"
	"github.com/npezzotti/go-chatrelay/internal/server"
	"github.com/npezzotti/go-chatrelay/internal/stats"
)

const shutdownTimeout = 10 * time.Second

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	addr           string
	allowedOrigins stringSliceFlag
	typingTimeout  time.Duration
	rateLimit      float64
	rateBurst      int
	sendBuffer     int
)

func main() {
	logger := log.New(os.Stderr, "[go-chatrelay] ", log.LstdFlags)

	if err := config.LoadEnvFile(".env"); err != nil {
		logger.Fatal("env:", err)
	}

	defaultTimeout, err := config.DurationEnv("RELAY_TYPING_TIMEOUT", config.DefaultTypingTimeout)
	if err != nil {
		logger.Fatal("env:", err)
	}
	defaultRate, err := config.FloatEnv("RELAY_RATE_LIMIT", config.DefaultRateLimit)
	if err != nil {
		logger.Fatal("env:", err)
	}
	defaultBurst, err := config.IntEnv("RELAY_RATE_BURST", config.DefaultRateBurst)
	if err != nil {
		logger.Fatal("env:", err)
	}
	defaultBuffer, err := config.IntEnv("RELAY_SEND_BUFFER", config.DefaultSendBuffer)
	if err != nil {
		logger.Fatal("env:", err)
	}

	flag.StringVar(&addr, "addr", config.StringEnv("RELAY_ADDR", "localhost:8000"), "server address")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS and websocket upgrades")
	flag.DurationVar(&typingTimeout, "typing-timeout", defaultTimeout, "how long a typing session lasts without a refresh")
	flag.Float64Var(&rateLimit, "rate-limit", defaultRate, "inbound events per second allowed per connection")
	flag.IntVar(&rateBurst, "rate-burst", defaultBurst, "inbound event burst allowed per connection")
	flag.IntVar(&sendBuffer, "send-buffer", defaultBuffer, "outbound events queued per connection before dropping")
	flag.Parse()

	if len(allowedOrigins) == 0 {
		allowedOrigins = config.StringsEnv("RELAY_ALLOWED_ORIGINS", nil)
	}

	cfg, err := config.NewConfig(addr, allowedOrigins, typingTimeout, rateLimit, rateBurst, sendBuffer)
	if err != nil {
		logger.Fatal("config:", err)
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)
	statsUpdater.Publish("chatrelay-stats")

	chatServer, err := server.NewChatServer(logger, cfg, statsUpdater)
	if err != nil {
		logger.Fatal("new chat server:", err)
	}

	app := api.NewRelayApp(mux, logger, chatServer, cfg)

	statsUpdater.Run()

	go func() {
		if err := app.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalln("server:", err)
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			"relay": func(ctx context.Context) error {
				if err := app.Shutdown(ctx); err != nil {
					return err
				}

				logger.Println("shutting down chat server...")
				if err := chatServer.Shutdown(ctx); err != nil {
					return err
				}

				statsUpdater.Stop()
				logger.Println("shutdown complete")
				return nil
			},
		},
	)

	os.Exit(<-wait)
}
