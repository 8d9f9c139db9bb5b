package middleware

import (
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/saiset-co/sai-webserver/types"
	"github.com/saiset-co/sai-webserver/utils"
)

var sensitiveHeaders = map[string]bool{
	"authorization": true,
	"x-api-key":     true,
	"cookie":        true,
	"set-cookie":    true,
}

type LoggingMiddleware struct {
	Base
	logger        types.Logger
	loggingConfig *LoggingConfig
	skipPaths     map[string]bool
	level         zapcore.Level
}

type LoggingConfig struct {
	LogLevel   string   `json:"log_level"`
	LogHeaders bool     `json:"log_headers"`
	LogBody    bool     `json:"log_body"`
	SkipPaths  []string `json:"skip_paths"`
}

func NewLoggingMiddleware(params map[string]interface{}, logger types.Logger) *LoggingMiddleware {
	var loggingConfig = &LoggingConfig{
		LogLevel:   "info",
		LogHeaders: false,
		LogBody:    false,
	}

	if params != nil {
		err := utils.UnmarshalConfig(params, loggingConfig)
		if err != nil {
			logger.Error("Failed to unmarshal Logging middleware config", zap.Error(err))
		}
	}

	level, err := zapcore.ParseLevel(loggingConfig.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	skipPaths := make(map[string]bool, len(loggingConfig.SkipPaths))
	for _, path := range loggingConfig.SkipPaths {
		skipPaths[path] = true
	}

	return &LoggingMiddleware{
		Base:          NewBase(KindLogging, types.PhasePreController, WithBefore(KindCORS, KindRateLimit, KindAuth)),
		logger:        logger,
		loggingConfig: loggingConfig,
		skipPaths:     skipPaths,
		level:         level,
	}
}

func (l *LoggingMiddleware) Apply(c *types.Context) error {
	if l.skipPaths[c.Path()] {
		return nil
	}

	start := time.Now()
	l.logRequest(c)

	c.OnFinish(func(c *types.Context, err error) {
		l.logResponse(c, time.Since(start), err)
	})

	return nil
}

func (l *LoggingMiddleware) logRequest(c *types.Context) {
	fields := []zap.Field{
		zap.String("method", c.Method()),
		zap.String("path", c.Path()),
		zap.String("remote_addr", c.RemoteAddr()),
		zap.String("user_agent", c.Header("User-Agent")),
	}

	if query := c.Query().Encode(); query != "" {
		fields = append(fields, zap.String("query", query))
	}

	if requestID := RequestID(c); requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}

	if l.loggingConfig.LogHeaders {
		fields = append(fields, zap.Any("headers", l.sanitizeHeaders(c)))
	}

	l.logger.Log(l.level, "Request started", fields...)
}

func (l *LoggingMiddleware) logResponse(c *types.Context, duration time.Duration, err error) {
	fields := []zap.Field{
		zap.String("method", c.Method()),
		zap.String("path", c.Path()),
		zap.Int("status", c.Status()),
		zap.Duration("duration", duration),
	}

	if requestID := RequestID(c); requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}

	if l.loggingConfig.LogBody {
		if body, ok := c.ResponseBody().([]byte); ok && len(body) > 0 {
			if len(body) > 1000 {
				fields = append(fields, zap.String("response", string(body[:1000])+"..."))
				fields = append(fields, zap.Int("response_body_truncated", len(body)))
			} else {
				fields = append(fields, zap.String("response", string(body)))
			}
		}
	}

	switch {
	case err != nil:
		l.logger.Error("Request failed", append(fields, zap.Error(err))...)
	case c.Status() >= 500:
		l.logger.Error("Request completed", fields...)
	case c.Status() >= 400:
		l.logger.Warn("Request completed", fields...)
	default:
		l.logger.Log(l.level, "Request completed", fields...)
	}
}

func (l *LoggingMiddleware) sanitizeHeaders(c *types.Context) map[string]string {
	headers := make(map[string]string, len(c.Headers()))
	for key, values := range c.Headers() {
		if sensitiveHeaders[strings.ToLower(key)] {
			headers[key] = "[REDACTED]"
			continue
		}
		headers[key] = strings.Join(values, ", ")
	}
	return headers
}
