package middleware

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-webserver/types"
	"github.com/saiset-co/sai-webserver/utils"
)

type JSONBodyMiddleware struct {
	Base
	logger         types.Logger
	jsonBodyConfig *JSONBodyConfig
}

type JSONBodyConfig struct {
	RequireContentType bool `json:"require_content_type"`
}

func NewJSONBodyMiddleware(params map[string]interface{}, logger types.Logger) *JSONBodyMiddleware {
	var jsonBodyConfig = &JSONBodyConfig{
		RequireContentType: true,
	}

	if params != nil {
		err := utils.UnmarshalConfig(params, jsonBodyConfig)
		if err != nil {
			logger.Error("Failed to unmarshal JSONBody middleware config", zap.Error(err))
		}
	}

	return &JSONBodyMiddleware{
		Base:           NewBase(KindJSONBody, types.PhasePreController),
		logger:         logger,
		jsonBodyConfig: jsonBodyConfig,
	}
}

// Apply parses a JSON request body into Context.RequestBody.
func (j *JSONBodyMiddleware) Apply(c *types.Context) error {
	raw := c.RawBody()
	if len(raw) == 0 {
		return nil
	}

	if j.jsonBodyConfig.RequireContentType && !isJSONContentType(c.Header("Content-Type")) {
		return nil
	}

	var body interface{}
	if err := utils.Unmarshal(raw, &body); err != nil {
		j.logger.Debug("Malformed JSON body", zap.String("path", c.Path()), zap.Error(err))
		return respond(c, http.StatusBadRequest, "Malformed JSON body")
	}

	c.SetRequestBody(body)
	return nil
}

func isJSONContentType(contentType string) bool {
	mediaType, _, _ := strings.Cut(contentType, ";")
	mediaType = strings.ToLower(strings.TrimSpace(mediaType))
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}
