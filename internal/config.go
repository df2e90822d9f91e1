package internal

import (
	"fmt"
	"time"
)

type Config struct {
	JWTSecret      string        `env:"JWT_SECRET,required=true"`
	TokenTTL       time.Duration `env:"TOKEN_TTL,default=12h"`
	BadgerFilepath string        `env:"BADGER_FILEPATH,required=true"`
	LogLevel       string        `env:"LOG_LEVEL,default=INFO"`
	Host           string        `env:"HOST,default=0.0.0.0"`
	HTTPPort       int           `env:"HTTP_PORT,default=8080"`
	GRPCPort       int           `env:"GRPC_PORT,default=9090"`
	DebugPort      int           `env:"DEBUG_PORT,default=8081"`

	ConnectionBufferSize int           `env:"CONNECTION_BUFFER_SIZE,default=64"`
	ReadTimeout          time.Duration `env:"READ_TIMEOUT,default=60s"`
	AckTimeout           time.Duration `env:"ACK_TIMEOUT,default=1s"`
	SinkTimeout          time.Duration `env:"SINK_TIMEOUT,default=5s"`
	FanoutConcurrency    int           `env:"FANOUT_CONCURRENCY,default=16"`
	ReplayBuffer         int           `env:"REPLAY_BUFFER,default=256"`
	ReplayBatch          int           `env:"REPLAY_BATCH,default=100"`
	ConversationTTL      time.Duration `env:"CONVERSATION_TTL,default=0s"`
	ExpiryInterval       time.Duration `env:"EXPIRY_INTERVAL,default=1m"`
	RestartInterval      time.Duration `env:"RESTART_INTERVAL,default=1s"`
	ShutdownTimeout      time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`

	RedisURL        string        `env:"REDIS_URL"`
	BookedTTL       time.Duration `env:"BOOKED_TTL,default=720h"`
	IdentityURL     string        `env:"IDENTITY_URL"`
	IdentityTimeout time.Duration `env:"IDENTITY_TIMEOUT,default=3s"`

	OperatorName         string `env:"OPERATOR_NAME,default=operator"`
	OperatorPasswordHash string `env:"OPERATOR_PASSWORD_HASH"`
}

// Validate rejects values the environment parser accepts but the hub cannot run with.
func (c Config) Validate() error {
	if len(c.JWTSecret) < 16 {
		return fmt.Errorf("JWT_SECRET must be at least 16 characters")
	}
	if c.ConnectionBufferSize <= 0 {
		return fmt.Errorf("CONNECTION_BUFFER_SIZE must be positive, got %d", c.ConnectionBufferSize)
	}
	if c.FanoutConcurrency <= 0 {
		return fmt.Errorf("FANOUT_CONCURRENCY must be positive, got %d", c.FanoutConcurrency)
	}
	if c.ConversationTTL < 0 {
		return fmt.Errorf("CONVERSATION_TTL must not be negative, got %s", c.ConversationTTL)
	}
	if c.ConversationTTL > 0 && c.ExpiryInterval <= 0 {
		return fmt.Errorf("EXPIRY_INTERVAL must be positive when CONVERSATION_TTL is set")
	}
	return nil
}
