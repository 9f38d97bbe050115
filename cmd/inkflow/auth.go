package main

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/BaSui01/inkflow/api/handlers"
	"github.com/BaSui01/inkflow/config"
	"github.com/BaSui01/inkflow/types"
)

// tokenVerifier 解析 HS256/RS256 token 并取出用户 ID.
type tokenVerifier struct {
	secret []byte
	pub    *rsa.PublicKey
	parser *jwt.Parser
}

func newTokenVerifier(cfg config.JWTConfig, logger *zap.Logger) *tokenVerifier {
	v := &tokenVerifier{secret: []byte(cfg.Secret)}
	if cfg.PublicKey != "" {
		pub, err := parseRSAPublicKey(cfg.PublicKey)
		if err != nil {
			logger.Warn("RS256 verification disabled", zap.Error(err))
		}
		v.pub = pub
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256", "RS256"})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	v.parser = jwt.NewParser(opts...)
	return v
}

func (v *tokenVerifier) key(t *jwt.Token) (any, error) {
	switch alg := t.Method.Alg(); {
	case alg == "HS256" && len(v.secret) > 0:
		return v.secret, nil
	case alg == "RS256" && v.pub != nil:
		return v.pub, nil
	default:
		return nil, fmt.Errorf("no key for %s", alg)
	}
}

var errNoSubject = errors.New("token has no subject")

// userID user_id 声明优先于 sub.
func (v *tokenVerifier) userID(raw string) (string, error) {
	claims := jwt.MapClaims{}
	if _, err := v.parser.ParseWithClaims(raw, claims, v.key); err != nil {
		return "", err
	}
	switch id := claims["user_id"].(type) {
	case string:
		if id != "" {
			return id, nil
		}
	case float64:
		return strconv.FormatFloat(id, 'f', 0, 64), nil
	}
	if sub, _ := claims.GetSubject(); sub != "" {
		return sub, nil
	}
	return "", errNoSubject
}

// JWTAuth 校验 Bearer token 并把用户 ID 写入 context. GET 请求还接受 ?token=,
// 给 <img> 和 WebSocket 用. 未配置密钥时所有请求以 AnonymousUser 身份放行.
func JWTAuth(cfg config.JWTConfig, logger *zap.Logger) Middleware {
	if !cfg.Enabled() {
		anon := cfg.AnonymousUser
		if anon == "" {
			anon = handlers.AnonymousUser
		}
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				next.ServeHTTP(w, r.WithContext(types.WithUserID(r.Context(), anon)))
			})
		}
	}

	v := newTokenVerifier(cfg, logger)
	deny := func(w http.ResponseWriter, r *http.Request, msg string) {
		handlers.WriteErrorMessage(w, r, http.StatusUnauthorized, types.ErrUnauthorized, msg, nil)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				deny(w, r, "missing or malformed Authorization header")
				return
			}
			uid, err := v.userID(raw)
			switch {
			case errors.Is(err, errNoSubject):
				deny(w, r, err.Error())
				return
			case err != nil:
				logger.Debug("jwt rejected", zap.Error(err))
				deny(w, r, "invalid or expired token")
				return
			}
			next.ServeHTTP(w, r.WithContext(types.WithUserID(r.Context(), uid)))
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if h == "" {
		if r.Method == http.MethodGet {
			return r.URL.Query().Get("token")
		}
		return ""
	}
	tok, ok := strings.CutPrefix(h, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(tok)
}

func parseRSAPublicKey(pemText string) (*rsa.PublicKey, error) {
	pub, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pemText))
	if err != nil {
		return nil, fmt.Errorf("parse RSA public key: %w", err)
	}
	return pub, nil
}
