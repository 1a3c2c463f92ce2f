package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"contact_flow_app_go/models"
	"contact_flow_app_go/services"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

const (
	// GrantCookieName holds the signed list of requests this browser unlocked
	GrantCookieName = "request_access"
	// ContextKeyGrants is the context key for the granted requests
	ContextKeyGrants = "request_grants"
	// DefaultGrantLifetime is used when no lifetime is configured
	DefaultGrantLifetime = time.Hour
	// MinGrantLifetime is the shortest lifetime accepted
	MinGrantLifetime = 30 * time.Minute
	// maxGrants bounds the cookie size
	maxGrants = 50

	grantPrefix      = "request-access::"
	grantSecretKey   = "request_grant_secret"
	grantLifetimeKey = "request_grant_lifetime"
)

var errInvalidGrant = errors.New("invalid access grant")

// grantClaims maps request-access markers to the token binding each grant
// was earned with
type grantClaims struct {
	Grants map[string]string `json:"grants"`
	jwt.RegisteredClaims
}

// GrantMarker is the session marker stored for one request
func GrantMarker(requestID uint) string {
	return grantPrefix + strconv.FormatUint(uint64(requestID), 10)
}

func parseMarker(marker string) (uint, bool) {
	if !strings.HasPrefix(marker, grantPrefix) {
		return 0, false
	}
	id, err := strconv.ParseUint(strings.TrimPrefix(marker, grantPrefix), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

// RequestAccess reads the grant cookie into the context. A tampered or
// expired cookie is dropped. Lifetimes below 30 minutes are raised to it.
func RequestAccess(secret string, lifetime time.Duration) echo.MiddlewareFunc {
	if lifetime <= 0 {
		lifetime = DefaultGrantLifetime
	}
	if lifetime < MinGrantLifetime {
		lifetime = MinGrantLifetime
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set(grantSecretKey, secret)
			c.Set(grantLifetimeKey, lifetime)
			cookie, err := c.Cookie(GrantCookieName)
			if err != nil || cookie.Value == "" {
				return next(c)
			}
			grants, err := parseGrantToken(secret, cookie.Value)
			if err != nil {
				clearGrantCookie(c)
				return next(c)
			}
			c.Set(ContextKeyGrants, grants)
			return next(c)
		}
	}
}

// GetGrants returns the requests this browser already verified a token for,
// with the binding of the token each grant was earned with
func GetGrants(c echo.Context) map[uint]string {
	grants, ok := c.Get(ContextKeyGrants).(map[uint]string)
	if !ok {
		return nil
	}
	return grants
}

// GetGrantedIDs returns the granted request IDs in ascending order
func GetGrantedIDs(c echo.Context) []uint {
	grants := GetGrants(c)
	ids := make([]uint, 0, len(grants))
	for id := range grants {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// GrantRequestAccess remembers that the caller proved access to the request's
// current token. Rotating the token invalidates the grant.
func GrantRequestAccess(c echo.Context, request *models.Request) error {
	binding := services.GrantBinding(request)
	if binding == "" {
		return fmt.Errorf("request %d has no access token", request.ID)
	}

	current := GetGrants(c)
	if current[request.ID] == binding {
		return nil
	}
	grants := make(map[uint]string, len(current)+1)
	for id, b := range current {
		grants[id] = b
	}
	grants[request.ID] = binding

	// Drop the oldest requests first, newer IDs were submitted later
	if len(grants) > maxGrants {
		ids := make([]uint, 0, len(grants))
		for id := range grants {
			if id != request.ID {
				ids = append(ids, id)
			}
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids[:len(grants)-maxGrants] {
			delete(grants, id)
		}
	}
	return writeGrants(c, grants)
}

// RevokeRequestAccess forgets a request, for example after it was deleted
func RevokeRequestAccess(c echo.Context, requestID uint) error {
	current := GetGrants(c)
	if _, ok := current[requestID]; !ok {
		return nil
	}
	grants := make(map[uint]string, len(current))
	for id, b := range current {
		if id != requestID {
			grants[id] = b
		}
	}
	return writeGrants(c, grants)
}

func writeGrants(c echo.Context, grants map[uint]string) error {
	secret, _ := c.Get(grantSecretKey).(string)
	if secret == "" {
		return fmt.Errorf("request access middleware not installed")
	}
	lifetime, _ := c.Get(grantLifetimeKey).(time.Duration)
	if lifetime <= 0 {
		lifetime = DefaultGrantLifetime
	}
	c.Set(ContextKeyGrants, grants)
	if len(grants) == 0 {
		clearGrantCookie(c)
		return nil
	}

	token, err := signGrantToken(secret, grants, time.Now(), lifetime)
	if err != nil {
		return err
	}
	c.SetCookie(&http.Cookie{
		Name:     GrantCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(lifetime.Seconds()),
		HttpOnly: true,
		Secure:   isProduction(c),
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func clearGrantCookie(c echo.Context) {
	c.SetCookie(&http.Cookie{
		Name:     GrantCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   isProduction(c),
		SameSite: http.SameSiteLaxMode,
	})
}

func signGrantToken(secret string, grants map[uint]string, now time.Time, lifetime time.Duration) (string, error) {
	markers := make(map[string]string, len(grants))
	for id, binding := range grants {
		markers[GrantMarker(id)] = binding
	}
	claims := &grantClaims{
		Grants: markers,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign access grant: %w", err)
	}
	return signed, nil
}

func parseGrantToken(secret, tokenString string) (map[uint]string, error) {
	claims := &grantClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return nil, errInvalidGrant
	}

	grants := make(map[uint]string, len(claims.Grants))
	for marker, binding := range claims.Grants {
		if id, ok := parseMarker(marker); ok && binding != "" {
			grants[id] = binding
		}
	}
	return grants, nil
}
