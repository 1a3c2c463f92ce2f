package middleware

import (
	"net/http"

	"contact_flow_app_go/config"
	"contact_flow_app_go/db"
	"contact_flow_app_go/models"
	"contact_flow_app_go/services"

	"github.com/labstack/echo/v4"
)

const (
	// SessionCookieName is the name of the staff session cookie
	SessionCookieName = "contact_desk_session"
	// ContextKeyUser is the context key for the authenticated user
	ContextKeyUser = "user"
	// ContextKeyProfile is the context key for the user's staff profile
	ContextKeyProfile = "profile"
	// ContextKeySession is the context key for the session
	ContextKeySession = "session"
	// AccessTokenHeader carries a request access token for API clients
	AccessTokenHeader = "X-Access-Token"
)

// LoadUser attaches the signed-in user to the context when a valid session
// cookie is present. Anonymous requests pass through untouched.
func LoadUser() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cookie, err := c.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				return next(c)
			}
			session, err := services.ValidateSession(db.DB, cookie.Value)
			if err != nil || !session.User.IsActive {
				clearSessionCookie(c)
				return next(c)
			}
			c.Set(ContextKeyUser, &session.User)
			c.Set(ContextKeySession, session)
			return next(c)
		}
	}
}

// RequireAuth is middleware that requires authentication
func RequireAuth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return LoadUser()(func(c echo.Context) error {
			if GetCurrentUser(c) == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "Authentication required")
			}
			return next(c)
		})
	}
}

// RequireStaff resolves the staff profile of the signed-in user. It must run
// after RequireAuth.
func RequireStaff() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user := GetCurrentUser(c)
			if user == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "Authentication required")
			}
			profile, err := services.ResolveProfile(db.DB, user)
			if err != nil {
				services.LogSecurityEvent("STAFF_PROFILE_MISSING", user.ID, c.Request().URL.Path)
				return echo.NewHTTPError(http.StatusForbidden, "No staff profile")
			}
			c.Set(ContextKeyProfile, profile)
			return next(c)
		}
	}
}

// RequireRole is middleware that requires specific roles. Superusers pass
// every role check.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user := GetCurrentUser(c)
			profile := GetCurrentProfile(c)
			if user == nil || profile == nil {
				return echo.NewHTTPError(http.StatusForbidden, "Insufficient permissions")
			}
			if user.IsSuperuser {
				return next(c)
			}

			for _, role := range roles {
				if profile.Role == role {
					return next(c)
				}
			}
			return echo.NewHTTPError(http.StatusForbidden, "Insufficient permissions")
		}
	}
}

// GetCurrentUser retrieves the current user from context
func GetCurrentUser(c echo.Context) *models.User {
	user, ok := c.Get(ContextKeyUser).(*models.User)
	if !ok {
		return nil
	}
	return user
}

// GetCurrentProfile retrieves the staff profile from context
func GetCurrentProfile(c echo.Context) *models.StaffProfile {
	profile, ok := c.Get(ContextKeyProfile).(*models.StaffProfile)
	if !ok {
		return nil
	}
	return profile
}

// GetCurrentSession retrieves the session from context
func GetCurrentSession(c echo.Context) *models.Session {
	session, ok := c.Get(ContextKeySession).(*models.Session)
	if !ok {
		return nil
	}
	return session
}

// AccessToken returns the request access token sent with the call, looking
// at the header, the query string and the form in that order
func AccessToken(c echo.Context) string {
	if token := c.Request().Header.Get(AccessTokenHeader); token != "" {
		return token
	}
	if token := c.QueryParam("access"); token != "" {
		return token
	}
	return c.FormValue("access")
}

// GetPrincipal describes the caller for the access policy
func GetPrincipal(c echo.Context) services.Principal {
	user := GetCurrentUser(c)
	profile := GetCurrentProfile(c)
	if user != nil && profile == nil {
		// Staff reaching public routes are resolved lazily
		if p, err := services.ResolveProfile(db.DB, user); err == nil {
			profile = p
			c.Set(ContextKeyProfile, profile)
		} else {
			user = nil
		}
	}
	return services.Principal{
		User:      user,
		Profile:   profile,
		Token:     AccessToken(c),
		Grants:    GetGrants(c),
		IPAddress: c.RealIP(),
		UserAgent: c.Request().UserAgent(),
	}
}

// SetSessionCookie stores the staff session token
func SetSessionCookie(c echo.Context, session *models.Session) {
	c.SetCookie(&http.Cookie{
		Name:     SessionCookieName,
		Value:    session.Token,
		Path:     "/",
		MaxAge:   int(services.DefaultSessionDuration.Seconds()),
		HttpOnly: true,
		Secure:   isProduction(c),
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie removes the staff session cookie
func ClearSessionCookie(c echo.Context) {
	clearSessionCookie(c)
}

// clearSessionCookie clears the session cookie
func clearSessionCookie(c echo.Context) {
	c.SetCookie(&http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   isProduction(c),
		SameSite: http.SameSiteLaxMode,
	})
}

func isProduction(c echo.Context) bool {
	if cfg, ok := c.Get("config").(*config.Config); ok {
		return cfg.Environment == "production"
	}
	return false
}
