package middleware

import (
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-webserver/types"
	"github.com/saiset-co/sai-webserver/utils"
)

var bodyMethods = map[string]bool{
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

type BodyLimitMiddleware struct {
	Base
	logger          types.Logger
	bodyLimitConfig *BodyLimitConfig
	message         string
}

type BodyLimitConfig struct {
	MaxBodySize int64 `json:"max_body_size"`
}

func NewBodyLimitMiddleware(params map[string]interface{}, logger types.Logger) *BodyLimitMiddleware {
	var bodyLimitConfig = &BodyLimitConfig{
		MaxBodySize: 1024 * 1024,
	}

	if params != nil {
		err := utils.UnmarshalConfig(params, bodyLimitConfig)
		if err != nil {
			logger.Error("Failed to unmarshal BodyLimit middleware config", zap.Error(err))
		}
	}

	return &BodyLimitMiddleware{
		Base:            NewBase(KindBodyLimit, types.PhasePreController, WithBefore(KindJSONBody)),
		logger:          logger,
		bodyLimitConfig: bodyLimitConfig,
		message:         fmt.Sprintf("Request body exceeds maximum size of %d bytes", bodyLimitConfig.MaxBodySize),
	}
}

func (bl *BodyLimitMiddleware) Apply(c *types.Context) error {
	if !bodyMethods[c.Method()] {
		return nil
	}

	size := int64(len(c.RawBody()))
	if declared, err := strconv.ParseInt(c.Header("Content-Length"), 10, 64); err == nil && declared > size {
		size = declared
	}

	if size <= bl.bodyLimitConfig.MaxBodySize {
		return nil
	}

	bl.logger.Warn("Request body too large",
		zap.String("path", c.Path()),
		zap.Int64("size", size),
		zap.Int64("max_size", bl.bodyLimitConfig.MaxBodySize))

	c.SetHeader("Connection", "close")
	return respond(c, http.StatusRequestEntityTooLarge, bl.message)
}
