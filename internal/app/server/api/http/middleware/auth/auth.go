package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
	"golang.org/x/exp/slog"
)

// Actor is the authenticated caller: the user and the clinic (tenant) the
// token was issued for. Tenant resolution proper lives outside this service;
// the token is the hand-off format.
type Actor struct {
	UserID   uuid.UUID `json:"user_id"`
	ClinicID uuid.UUID `json:"clinic_id"`
}

type contextKey string

const ActorKey contextKey = "actor"

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

type tokenClaims struct {
	Actor
	ExpiresAt int64 `json:"exp"`
}

// TokenCodec issues and verifies HMAC-SHA256 signed bearer tokens of the
// form base64url(claims).base64url(signature).
type TokenCodec struct {
	secret []byte
}

func NewTokenCodec(secret string) *TokenCodec {
	return &TokenCodec{secret: []byte(secret)}
}

func (c *TokenCodec) Issue(actor Actor, ttl time.Duration) (string, error) {
	claims := tokenClaims{Actor: actor, ExpiresAt: time.Now().Add(ttl).Unix()}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}

	encoded := base64.RawURLEncoding.EncodeToString(payload)
	return encoded + "." + c.sign(encoded), nil
}

func (c *TokenCodec) Verify(token string) (Actor, error) {
	encoded, sig, ok := strings.Cut(token, ".")
	if !ok {
		return Actor{}, ErrInvalidToken
	}
	if !hmac.Equal([]byte(c.sign(encoded)), []byte(sig)) {
		return Actor{}, ErrInvalidToken
	}

	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return Actor{}, ErrInvalidToken
	}
	var claims tokenClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return Actor{}, ErrInvalidToken
	}
	if time.Now().Unix() > claims.ExpiresAt {
		return Actor{}, ErrExpiredToken
	}
	if claims.UserID == uuid.Nil || claims.ClinicID == uuid.Nil {
		return Actor{}, ErrInvalidToken
	}

	return claims.Actor, nil
}

func (c *TokenCodec) sign(payload string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

type Auth struct {
	codec *TokenCodec
	log   *slog.Logger
}

func New(codec *TokenCodec, log *slog.Logger) *Auth {
	return &Auth{
		codec: codec,
		log:   log.With("component", "auth_middleware"),
	}
}

// Middleware возвращает middleware для Huma с сигнатурой func(ctx Context, next func(Context))
func (a *Auth) Middleware() func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		token := ctx.Header("Authorization")

		if len(token) < 7 || token[:7] != "Bearer " {
			a.unauthorized(ctx, "missing bearer token")
			return
		}

		actor, err := a.codec.Verify(token[7:])
		if err != nil {
			a.log.Warn("token rejected", "error", err)
			a.unauthorized(ctx, "invalid token")
			return
		}

		newCtx := context.WithValue(ctx.Context(), ActorKey, actor)
		next(huma.WithContext(ctx, newCtx))
	}
}

func (a *Auth) unauthorized(ctx huma.Context, reason string) {
	ctx.SetStatus(http.StatusUnauthorized)
	ctx.SetHeader("Content-Type", "application/json")

	w := ctx.BodyWriter()
	if err := json.NewEncoder(w).Encode(map[string]string{
		"error": "Unauthorized",
	}); err != nil {
		a.log.Error("write unauthorized response", "error", err, "reason", reason)
	}
}

// GetActor extracts the authenticated actor placed in the context by the
// middleware.
func GetActor(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(ActorKey).(Actor)
	return actor, ok
}
