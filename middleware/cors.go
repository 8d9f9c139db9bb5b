package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-webserver/types"
	"github.com/saiset-co/sai-webserver/utils"
)

const (
	varyOrigin    = "Origin"
	varyPreflight = "Origin, Access-Control-Request-Method, Access-Control-Request-Headers"
)

type CORSMiddleware struct {
	Base
	logger            types.Logger
	corsConfig        *CORSConfig
	allowsAll         bool
	allowedOriginsMap map[string]bool
	wildcardDomains   []string
	allowedMethods    string
	allowedHeaders    string
	exposedHeaders    string
	maxAge            string
}

type CORSConfig struct {
	ExposedHeaders   []string `json:"exposed_headers"`
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`
	MaxAge           int      `json:"max_age"`
}

func NewCORSMiddleware(params map[string]interface{}, logger types.Logger) *CORSMiddleware {
	var corsConfig = &CORSConfig{
		ExposedHeaders:   []string{},
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-API-Key", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           86400,
	}

	if params != nil {
		err := utils.UnmarshalConfig(params, corsConfig)
		if err != nil {
			logger.Error("Failed to unmarshal CORS middleware config", zap.Error(err))
		}
	}

	cm := &CORSMiddleware{
		Base:       NewBase(KindCORS, types.PhasePreController, WithBefore(KindAuth, KindRateLimit)),
		logger:     logger,
		corsConfig: corsConfig,
	}

	cm.precompileConfiguration()

	return cm
}

func (cm *CORSMiddleware) Apply(c *types.Context) error {
	origin := c.Header("Origin")
	if origin == "" {
		return nil
	}

	if !cm.isOriginAllowed(origin) {
		cm.logger.Warn("CORS request blocked",
			zap.String("origin", origin),
			zap.String("method", c.Method()),
			zap.String("path", c.Path()))

		return respond(c, http.StatusForbidden, "Origin not allowed")
	}

	if c.Method() == http.MethodOptions && c.Header("Access-Control-Request-Method") != "" {
		return cm.preflight(c, origin)
	}

	cm.addCORSHeaders(c, origin)
	return nil
}

func (cm *CORSMiddleware) isOriginAllowed(origin string) bool {
	if cm.allowsAll {
		return true
	}

	if cm.allowedOriginsMap[origin] {
		return true
	}

	host := origin
	if idx := strings.Index(host, "://"); idx >= 0 {
		host = host[idx+3:]
	}

	for _, domain := range cm.wildcardDomains {
		if matchesWildcardDomain(host, domain) {
			return true
		}
	}

	return false
}

func matchesWildcardDomain(host, domain string) bool {
	if host == domain {
		return true
	}

	suffix := "." + domain
	if strings.HasSuffix(host, suffix) {
		prefixLen := len(host) - len(suffix)
		if prefixLen > 0 {
			return host[prefixLen-1] != '.'
		}
	}

	return false
}

func (cm *CORSMiddleware) allowOrigin(c *types.Context, origin string) {
	if cm.allowsAll && !cm.corsConfig.AllowCredentials {
		c.SetHeader("Access-Control-Allow-Origin", "*")
	} else {
		c.SetHeader("Access-Control-Allow-Origin", origin)
	}

	if cm.corsConfig.AllowCredentials {
		c.SetHeader("Access-Control-Allow-Credentials", "true")
	}
}

func (cm *CORSMiddleware) addCORSHeaders(c *types.Context, origin string) {
	cm.allowOrigin(c, origin)

	if cm.exposedHeaders != "" {
		c.SetHeader("Access-Control-Expose-Headers", cm.exposedHeaders)
	}

	c.ResponseHeader().Add("Vary", varyOrigin)
}

// preflight answers an OPTIONS preflight and finalizes the response.
func (cm *CORSMiddleware) preflight(c *types.Context, origin string) error {
	cm.allowOrigin(c, origin)

	c.SetHeader("Access-Control-Allow-Methods", cm.allowedMethods)
	c.SetHeader("Access-Control-Allow-Headers", cm.allowedHeaders)
	c.SetHeader("Access-Control-Max-Age", cm.maxAge)
	c.SetHeader("Vary", varyPreflight)
	c.SetStatus(http.StatusNoContent)

	return c.Finalize()
}

func (cm *CORSMiddleware) precompileConfiguration() {
	cm.allowsAll = len(cm.corsConfig.AllowedOrigins) == 1 && cm.corsConfig.AllowedOrigins[0] == "*"

	if !cm.allowsAll {
		cm.allowedOriginsMap = make(map[string]bool, len(cm.corsConfig.AllowedOrigins))
		cm.wildcardDomains = make([]string, 0)

		for _, origin := range cm.corsConfig.AllowedOrigins {
			if strings.HasPrefix(origin, "*.") {
				cm.wildcardDomains = append(cm.wildcardDomains, strings.TrimPrefix(origin, "*."))
			} else {
				cm.allowedOriginsMap[origin] = true
			}
		}
	}

	cm.allowedMethods = strings.Join(cm.corsConfig.AllowedMethods, ", ")
	cm.allowedHeaders = strings.Join(cm.corsConfig.AllowedHeaders, ", ")
	cm.exposedHeaders = strings.Join(cm.corsConfig.ExposedHeaders, ", ")
	cm.maxAge = strconv.Itoa(cm.corsConfig.MaxAge)
}
