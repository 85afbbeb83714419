// internal/service/coupon/interfaces/auth.go
package interfaces

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"nexus-coupon/internal/pkg/logger"
	"nexus-coupon/internal/service/coupon/domain"
)

// Claims 是管理后台令牌携带的声明。Tenants 以租户 slug 为键，值为角色名。
// Platform 为 true 的令牌属于平台运营，对所有租户拥有 owner 权限。
type Claims struct {
	Tenants  map[string]string `json:"tenants,omitempty"`
	Platform bool              `json:"platform,omitempty"`
	jwt.RegisteredClaims
}

// RoleFor 返回声明在某个租户下的角色
func (c *Claims) RoleFor(slug string) domain.Role {
	if c == nil {
		return domain.RoleNone
	}
	if c.Platform {
		return domain.RoleOwner
	}
	return domain.ParseRole(c.Tenants[slug])
}

type claimsKey struct{}

// ClaimsFromContext 取出已验证的声明，未登录时返回 nil
func ClaimsFromContext(ctx context.Context) *Claims {
	c, _ := ctx.Value(claimsKey{}).(*Claims)
	return c
}

// Authenticator 校验 HS256 签名的 Bearer 令牌
type Authenticator struct {
	secret []byte
	issuer string
}

// NewAuthenticator 创建认证器，issuer 为空时不校验 iss
func NewAuthenticator(secret, issuer string) *Authenticator {
	return &Authenticator{secret: []byte(secret), issuer: issuer}
}

// Parse 解析并验证令牌
func (a *Authenticator) Parse(token string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "parse token")
	}
	return claims, nil
}

// Sign 签发令牌，主要给运维脚本和测试使用
func (a *Authenticator) Sign(claims *Claims, ttl time.Duration) (string, error) {
	now := time.Now()
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	if a.issuer != "" {
		claims.Issuer = a.issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Authenticate 要求请求携带有效令牌
func (a *Authenticator) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := a.fromRequest(r)
		if err != nil || claims == nil {
			if err != nil {
				logger.Ctx(r.Context()).Debug().Err(err).Msg("rejecting bearer token")
			}
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	})
}

// Optional 在携带令牌时解析声明，不携带时照常放行
func (a *Authenticator) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := a.fromRequest(r)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			return
		}
		if claims != nil {
			r = r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims))
		}
		next.ServeHTTP(w, r)
	})
}

// fromRequest 优先读取 Authorization 头。浏览器发起 WebSocket 握手时无法设置请求头，
// 因此升级请求也接受 access_token 查询参数。
func (a *Authenticator) fromRequest(r *http.Request) (*Claims, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		if token := r.URL.Query().Get("access_token"); token != "" && websocket.IsWebSocketUpgrade(r) {
			return a.Parse(token)
		}
		return nil, nil
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return nil, errors.New("malformed authorization header")
	}
	return a.Parse(token)
}

// RequireRole 要求调用者在 URL 中的租户下至少拥有 min 角色
func RequireRole(min domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			slug := chi.URLParam(r, "slug")
			if !ClaimsFromContext(r.Context()).RoleFor(slug).AtLeast(min) {
				writeJSON(w, http.StatusForbidden, map[string]string{"error": "Forbidden: requires " + min.String() + " role"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequirePlatform 只允许平台运营访问
func RequirePlatform(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c := ClaimsFromContext(r.Context()); c == nil || !c.Platform {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "Forbidden: platform operators only"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
