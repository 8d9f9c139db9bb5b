package middleware

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-webserver/types"
	"github.com/saiset-co/sai-webserver/utils"
)

const RequestIDKey = "request_id"

type RequestIDMiddleware struct {
	Base
	logger          types.Logger
	requestIDConfig *RequestIDConfig
}

type RequestIDConfig struct {
	Header string `json:"header"`
}

func NewRequestIDMiddleware(params map[string]interface{}, logger types.Logger) *RequestIDMiddleware {
	var requestIDConfig = &RequestIDConfig{
		Header: "X-Request-ID",
	}

	if params != nil {
		err := utils.UnmarshalConfig(params, requestIDConfig)
		if err != nil {
			logger.Error("Failed to unmarshal RequestID middleware config", zap.Error(err))
		}
	}

	return &RequestIDMiddleware{
		Base:            NewBase(KindRequestID, types.PhasePreController, WithBefore(KindLogging)),
		logger:          logger,
		requestIDConfig: requestIDConfig,
	}
}

func (r *RequestIDMiddleware) Apply(c *types.Context) error {
	id := c.Header(r.requestIDConfig.Header)
	if id == "" {
		id = uuid.NewString()
	}

	c.Set(RequestIDKey, id)
	c.SetHeader(r.requestIDConfig.Header, id)

	return nil
}

// RequestID returns the id assigned to c, or an empty string.
func RequestID(c *types.Context) string {
	if value, ok := c.Get(RequestIDKey); ok {
		if id, ok := value.(string); ok {
			return id
		}
	}
	return ""
}
