package config

import (
	"errors"
	"fmt"
	"time"
)

const (
	DefaultTypingTimeout = 2000 * time.Millisecond
	DefaultRateLimit     = 20
	DefaultRateBurst     = 40
	DefaultSendBuffer    = 256
)

type Config struct {
	ServerAddr     string
	AllowedOrigins []string
	// TypingTimeout is how long a typing session lasts without a refresh.
	TypingTimeout time.Duration
	// RateLimit is the sustained number of inbound events per second accepted
	// from one connection, with bursts of up to RateBurst.
	RateLimit      float64
	RateBurst      int
	SendBufferSize int
}

func NewConfig(serverAddr string, allowedOrigins []string, typingTimeout time.Duration, rateLimit float64, rateBurst, sendBuffer int) (*Config, error) {
	if serverAddr == "" {
		return nil, errors.New("server address cannot be empty")
	}
	if typingTimeout <= 0 {
		return nil, fmt.Errorf("typing timeout must be positive, got %s", typingTimeout)
	}
	if rateLimit <= 0 {
		return nil, fmt.Errorf("rate limit must be positive, got %v", rateLimit)
	}
	if rateBurst < 1 {
		return nil, fmt.Errorf("rate burst must be at least 1, got %d", rateBurst)
	}
	if sendBuffer < 1 {
		return nil, fmt.Errorf("send buffer must be at least 1, got %d", sendBuffer)
	}

	return &Config{
		ServerAddr:     serverAddr,
		AllowedOrigins: allowedOrigins,
		TypingTimeout:  typingTimeout,
		RateLimit:      rateLimit,
		RateBurst:      rateBurst,
		SendBufferSize: sendBuffer,
	}, nil
}
