package observability

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const ServiceName = "storefront"

type LoggerOptions struct {
	Env   string // dev/prod
	Level string
}

// NewLogger は JSON（prod）か読みやすい形式（dev）の zap ロガーを返す
func NewLogger(opts LoggerOptions) (*zap.Logger, error) {
	var cfg zap.Config
	if opts.Env == "prod" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(ParseLevel(opts.Level))
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	log, err := cfg.Build(zap.Fields(
		zap.String("service", ServiceName),
		zap.String("env", opts.Env),
	))
	if err != nil {
		return nil, err
	}
	return log, nil
}

func ParseLevel(lvl string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
