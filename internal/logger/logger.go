// README: zap logger construction and the field helpers used across modules.
package logger

import (
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"ridemarket/internal/types"
)

type Config struct {
	Level  string
	Format string // "json" or "console"
}

// New builds a production logger for format "json" and a development one
// otherwise.
func New(cfg Config) (*zap.Logger, error) {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(strings.ToLower(cfg.Level))); err != nil {
		level.SetLevel(zapcore.InfoLevel)
	}

	var zc zap.Config
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.TimeKey = "ts"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	zc.Level = level
	return zc.Build()
}

// OrNop lets constructors accept a nil logger.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

func String(key, val string) zap.Field               { return zap.String(key, val) }
func Int(key string, val int) zap.Field              { return zap.Int(key, val) }
func Int64(key string, val int64) zap.Field          { return zap.Int64(key, val) }
func Bool(key string, val bool) zap.Field            { return zap.Bool(key, val) }
func Duration(key string, d time.Duration) zap.Field { return zap.Duration(key, d) }
func Err(err error) zap.Field                        { return zap.Error(err) }
func ID(key string, id types.ID) zap.Field           { return zap.String(key, string(id)) }

func Actor(a types.Actor) zap.Field {
	return zap.String("actor", string(a.Role)+":"+string(a.ID))
}
