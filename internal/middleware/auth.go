// Package middleware содержит HTTP middleware маркетплейса.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nishidshajib/tradbazar/internal/model"
)

type contextKey string

const identityKey contextKey = "identity"

const (
	authCookieName = "auth_token"
	authCookieTTL  = 30 * 24 * time.Hour
	bearerPrefix   = "Bearer "
)

// AuthMiddleware проверяет подписанный токен пользователя из cookie или заголовка Authorization.
// Токен имеет вид "<user_id>.<role>.<hmac>".
type AuthMiddleware struct {
	secretKey []byte
}

// NewAuthMiddleware создаёт AuthMiddleware. Пустой секрет заменяется случайным ключом процесса.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-secret-key")
		}
	}

	return &AuthMiddleware{
		secretKey: key,
	}
}

// Middleware проверяет токен и кладёт model.Identity в контекст запроса.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := tokenFromRequest(r)
		if token == "" {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		who, ok := a.parseToken(token)
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), identityKey, who)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole пропускает только пользователей с одной из перечисленных ролей.
// Должен стоять после Middleware.
func RequireRole(roles ...model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			who, ok := GetIdentityFromContext(r.Context())
			if !ok {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			for _, role := range roles {
				if who.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		})
	}
}

// SetAuthCookie устанавливает cookie авторизации и возвращает значение токена.
func (a *AuthMiddleware) SetAuthCookie(w http.ResponseWriter, who model.Identity) string {
	value := a.sign(who)

	cookie := &http.Cookie{
		Name:     authCookieName,
		Value:    value,
		Path:     "/",
		Expires:  time.Now().Add(authCookieTTL),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	http.SetCookie(w, cookie)
	return value
}

func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, bearerPrefix) {
		return strings.TrimSpace(strings.TrimPrefix(h, bearerPrefix))
	}
	if cookie, err := r.Cookie(authCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

func (a *AuthMiddleware) sign(who model.Identity) string {
	payload := strconv.FormatInt(who.UserID, 10) + "." + string(who.Role)
	return payload + "." + a.mac(payload)
}

func (a *AuthMiddleware) mac(payload string) string {
	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func (a *AuthMiddleware) parseToken(token string) (model.Identity, bool) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return model.Identity{}, false
	}

	payload := parts[0] + "." + parts[1]
	if !hmac.Equal([]byte(parts[2]), []byte(a.mac(payload))) {
		return model.Identity{}, false
	}

	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return model.Identity{}, false
	}
	role := model.Role(parts[1])
	if !role.Valid() {
		return model.Identity{}, false
	}

	return model.Identity{UserID: id, Role: role}, true
}

// GetIdentityFromContext извлекает аутентифицированного пользователя из контекста запроса.
func GetIdentityFromContext(ctx context.Context) (model.Identity, bool) {
	who, ok := ctx.Value(identityKey).(model.Identity)
	return who, ok
}

// WithIdentity кладёт пользователя в контекст. Используется в тестах обработчиков.
func WithIdentity(ctx context.Context, who model.Identity) context.Context {
	return context.WithValue(ctx, identityKey, who)
}
