package middleware

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-webserver/types"
	"github.com/saiset-co/sai-webserver/utils"
)

const AuthSubjectKey = "authenticated_user"

type AuthMiddleware struct {
	Base
	logger     types.Logger
	provider   authProvider
	authConfig *AuthConfig
	skipPaths  map[string]bool
}

type AuthConfig struct {
	Provider  string   `json:"provider"`
	Realm     string   `json:"realm"`
	Tokens    []string `json:"tokens"`
	Username  string   `json:"username"`
	Password  string   `json:"password"`
	SkipPaths []string `json:"skip_paths"`
}

func NewAuthMiddleware(params map[string]interface{}, logger types.Logger) (*AuthMiddleware, error) {
	var authConfig = &AuthConfig{
		Provider: "token",
		Realm:    "Protected Area",
	}

	if params != nil {
		err := utils.UnmarshalConfig(params, authConfig)
		if err != nil {
			logger.Error("Failed to unmarshal Auth middleware config", zap.Error(err))
			return nil, err
		}
	}

	var provider authProvider
	switch authConfig.Provider {
	case "token":
		if len(authConfig.Tokens) == 0 {
			return nil, types.Errorf(types.ErrConfigValidateFailed, "auth: token provider requires tokens")
		}
		provider = NewTokenAuthProvider(authConfig.Realm, authConfig.Tokens...)
	case "basic":
		if authConfig.Username == "" {
			return nil, types.Errorf(types.ErrConfigValidateFailed, "auth: basic provider requires username")
		}
		provider = NewBasicAuthProvider(authConfig.Realm, authConfig.Username, authConfig.Password)
	default:
		return nil, types.Errorf(types.ErrConfigValidateFailed, "auth: unknown provider %s", authConfig.Provider)
	}

	skipPaths := make(map[string]bool, len(authConfig.SkipPaths))
	for _, path := range authConfig.SkipPaths {
		skipPaths[path] = true
	}

	return &AuthMiddleware{
		Base:       NewBase(KindAuth, types.PhasePreController, WithBefore(KindJSONBody, KindCacheLookup)),
		logger:     logger,
		provider:   provider,
		authConfig: authConfig,
		skipPaths:  skipPaths,
	}, nil
}

func (a *AuthMiddleware) Apply(c *types.Context) error {
	if c.Method() == http.MethodOptions || a.skipPaths[c.Path()] {
		return nil
	}

	subject, err := a.provider.Authenticate(c)
	if err == nil {
		c.Set(AuthSubjectKey, subject)
		a.logger.Debug("Authentication successful",
			zap.String("path", c.Path()),
			zap.String("provider_type", a.provider.Type()))
		return nil
	}

	a.logger.Warn("Authentication failed",
		zap.String("path", c.Path()),
		zap.String("provider_type", a.provider.Type()),
		zap.Error(err))

	c.SetHeader("WWW-Authenticate", a.provider.Challenge())
	utils.SetNoCacheHeaders(c.ResponseHeader())

	return respond(c, http.StatusUnauthorized, "Authentication required")
}
