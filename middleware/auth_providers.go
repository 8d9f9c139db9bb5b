package middleware

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/saiset-co/sai-webserver/types"
)

type authProvider interface {
	Type() string
	Authenticate(c *types.Context) (string, error)
	Challenge() string
}

type TokenAuthProvider struct {
	tokens [][]byte
	realm  string
}

func NewTokenAuthProvider(realm string, tokens ...string) *TokenAuthProvider {
	p := &TokenAuthProvider{realm: realm}
	for _, token := range tokens {
		if token != "" {
			p.tokens = append(p.tokens, []byte(token))
		}
	}
	return p
}

func (p *TokenAuthProvider) Type() string {
	return "token"
}

func (p *TokenAuthProvider) Authenticate(c *types.Context) (string, error) {
	token := extractToken(c)
	if token == "" {
		return "", types.Errorf(types.ErrAuthTokenInvalid, "token missing")
	}

	for _, expected := range p.tokens {
		if subtle.ConstantTimeCompare([]byte(token), expected) == 1 {
			return "token", nil
		}
	}

	return "", types.Errorf(types.ErrAuthTokenInvalid, "token rejected")
}

func (p *TokenAuthProvider) Challenge() string {
	return fmt.Sprintf(`Bearer realm="%s"`, p.realm)
}

func extractToken(c *types.Context) string {
	if key := c.Header("X-API-Key"); key != "" {
		return key
	}

	if token := c.Header("Token"); token != "" {
		return token
	}

	authHeader := c.Header("Authorization")
	if authHeader == "" {
		return ""
	}

	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}

	if strings.HasPrefix(authHeader, "Token ") {
		return strings.TrimPrefix(authHeader, "Token ")
	}

	return ""
}

type BasicAuthProvider struct {
	username string
	password string
	realm    string
}

func NewBasicAuthProvider(realm, username, password string) *BasicAuthProvider {
	return &BasicAuthProvider{
		username: username,
		password: password,
		realm:    realm,
	}
}

func (p *BasicAuthProvider) Type() string {
	return "basic"
}

func (p *BasicAuthProvider) Authenticate(c *types.Context) (string, error) {
	authHeader := c.Header("Authorization")
	if !strings.HasPrefix(authHeader, "Basic ") {
		return "", types.Errorf(types.ErrAuthTokenInvalid, "basic authentication required")
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(authHeader, "Basic "))
	if err != nil {
		return "", types.Errorf(types.ErrAuthTokenInvalid, "invalid authentication encoding")
	}

	username, password, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return "", types.Errorf(types.ErrAuthTokenInvalid, "invalid authentication format")
	}

	userMatch := subtle.ConstantTimeCompare([]byte(username), []byte(p.username))
	passMatch := subtle.ConstantTimeCompare([]byte(password), []byte(p.password))
	if userMatch&passMatch != 1 {
		return "", types.Errorf(types.ErrAuthTokenInvalid, "invalid username or password")
	}

	return username, nil
}

func (p *BasicAuthProvider) Challenge() string {
	return fmt.Sprintf(`Basic realm="%s"`, p.realm)
}
