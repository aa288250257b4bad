package serverutils

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

// UserIDLocal is the Locals key holding the caller's uuid.UUID.
const UserIDLocal = "user_id"

// IdentityResolver turns a bearer token into a user id. It never fails a
// request: anything it cannot verify is treated as anonymous.
type IdentityResolver struct {
	secret []byte
	ttl    time.Duration
	cache  *cache.Cache
	now    func() time.Time
}

func NewIdentityResolver(secret string, ttl time.Duration) *IdentityResolver {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &IdentityResolver{
		secret: []byte(secret),
		ttl:    ttl,
		cache:  cache.New(ttl, 2*ttl),
		now:    time.Now,
	}
}

func (r *IdentityResolver) Resolve(authorization string) (uuid.UUID, bool) {
	if len(r.secret) == 0 {
		return uuid.Nil, false
	}

	tokenStr, ok := strings.CutPrefix(authorization, "Bearer ")
	if !ok {
		return uuid.Nil, false
	}
	tokenStr = strings.TrimSpace(tokenStr)
	if tokenStr == "" {
		return uuid.Nil, false
	}

	if cached, found := r.cache.Get(tokenStr); found {
		return cached.(uuid.UUID), true
	}

	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		return r.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(r.now))
	if err != nil || !token.Valid {
		return uuid.Nil, false
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return uuid.Nil, false
	}
	raw, ok := claims["user_id"].(string)
	if !ok {
		return uuid.Nil, false
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}

	r.remember(tokenStr, userID, claims)
	return userID, true
}

// remember caches a verified token, never beyond its own expiry.
func (r *IdentityResolver) remember(tokenStr string, userID uuid.UUID, claims jwt.MapClaims) {
	ttl := r.ttl
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		if left := exp.Sub(r.now()); left < ttl {
			ttl = left
		}
	}
	if ttl <= 0 {
		return
	}
	r.cache.Set(tokenStr, userID, ttl)
}

// IdentityMiddleware stores the caller's id in Locals when the request
// carries a valid token. Anonymous requests pass through untouched.
func IdentityMiddleware(r *IdentityResolver) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		if userID, ok := r.Resolve(ctx.Get(fiber.HeaderAuthorization)); ok {
			ctx.Locals(UserIDLocal, userID)
		}
		return ctx.Next()
	}
}

// UserIDFromContext returns nil for anonymous callers.
func UserIDFromContext(ctx *fiber.Ctx) *uuid.UUID {
	userID, ok := ctx.Locals(UserIDLocal).(uuid.UUID)
	if !ok {
		return nil
	}
	return &userID
}
