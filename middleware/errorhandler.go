package middleware

import (
	"errors"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-webserver/types"
	"github.com/saiset-co/sai-webserver/utils"
)

type ErrorHandlerMiddleware struct {
	Base
	logger             types.Logger
	errorHandlerConfig *ErrorHandlerConfig
}

type ErrorHandlerConfig struct {
	ExposeErrors bool `json:"expose_errors"`
}

func NewErrorHandlerMiddleware(params map[string]interface{}, logger types.Logger) *ErrorHandlerMiddleware {
	var errorHandlerConfig = &ErrorHandlerConfig{}

	if params != nil {
		err := utils.UnmarshalConfig(params, errorHandlerConfig)
		if err != nil {
			logger.Error("Failed to unmarshal ErrorHandler middleware config", zap.Error(err))
		}
	}

	return &ErrorHandlerMiddleware{
		Base:               NewBase(KindErrorHandler, types.PhasePostController, WithBefore(KindCacheStore, KindCompression)),
		logger:             logger,
		errorHandlerConfig: errorHandlerConfig,
	}
}

// ApplyError renders the pending fault as a JSON error response and clears it.
func (e *ErrorHandlerMiddleware) ApplyError(c *types.Context, err error) error {
	status := types.StatusOf(err)

	message := ""
	var httpErr *types.HTTPError
	switch {
	case errors.As(err, &httpErr):
		message = httpErr.Error()
	case e.errorHandlerConfig.ExposeErrors:
		message = err.Error()
	case status >= 500:
		message = "An unexpected error occurred"
	}

	fields := []zap.Field{
		zap.String("method", c.Method()),
		zap.String("path", c.Path()),
		zap.Int("status", status),
	}
	if requestID := RequestID(c); requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}

	if status >= 500 {
		e.logger.ErrorWithErrStack("Request fault", err, fields...)
	} else {
		e.logger.Warn("Request rejected", append(fields, zap.Error(err))...)
	}

	c.SetStatus(status)
	c.ResponseHeader().Del("Content-Encoding")
	c.SetHeader("Content-Type", types.ContentTypeJSON)
	utils.SetNoCacheHeaders(c.ResponseHeader())
	c.SetResponseBody(utils.NewErrorResponse(status, message))

	return nil
}
