package handlers

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"contact_flow_app_go/db"
	"contact_flow_app_go/middleware"
	"contact_flow_app_go/models"
	"contact_flow_app_go/services"

	"github.com/labstack/echo/v4"
)

// LoginHandler signs a staff member in. Repeated failures from one client
// block it for the configured duration.
func LoginHandler(c echo.Context) error {
	cfg := getConfig(c)
	email := strings.TrimSpace(c.FormValue("email"))
	password := c.FormValue("password")
	if email == "" || password == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Email and password are required")
	}

	guard := services.NewLoginGuard(throttleStore(), cfg.LoginMaxAttempts, cfg.LoginBlockDuration)
	client := c.RealIP()
	if err := guard.Blocked(client); err != nil {
		var terr *services.ThrottledError
		if errors.As(err, &terr) {
			services.RecordLoginAttempt("blocked")
			return throttled(c, terr)
		}
		return respondError(err)
	}

	user, err := services.AuthenticateStaff(db.DB, email, password)
	if err != nil {
		if !errors.Is(err, services.ErrInvalidCredentials) {
			return respondError(err)
		}
		services.RecordLoginAttempt("failure")
		services.LogSecurityEvent("LOGIN_FAILED", "", fmt.Sprintf("email=%s ip=%s", email, client))
		services.Monitor.TrackFailure(services.FailureLogin, client)

		left, failErr := guard.Fail(client)
		if failErr != nil {
			var terr *services.ThrottledError
			if errors.As(failErr, &terr) {
				return throttled(c, terr)
			}
			return respondError(failErr)
		}
		return echo.NewHTTPError(http.StatusUnauthorized, map[string]interface{}{
			"error":         msgInvalidCreds,
			"attempts_left": left,
		})
	}

	if err := guard.Succeed(client); err != nil {
		log.Printf("[WARNING] Failed to reset login failures: %v", err)
	}

	session, err := services.CreateSession(db.DB, user.ID, client, c.Request().UserAgent())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to create session")
	}
	middleware.SetSessionCookie(c, session)
	services.RecordLoginAttempt("success")

	p := services.Principal{User: user, IPAddress: client, UserAgent: c.Request().UserAgent()}
	if profile, err := services.ResolveProfile(db.DB, user); err == nil {
		p.Profile = profile
	}
	services.LogAuditEvent(db.DB, services.AuditFromPrincipal(p), models.AuditActionLogin, nil, "Signed in")

	return c.JSON(http.StatusOK, map[string]interface{}{
		"user":    user,
		"profile": p.Profile,
	})
}

// LogoutHandler ends the staff session
func LogoutHandler(c echo.Context) error {
	if session := middleware.GetCurrentSession(c); session != nil {
		if err := services.DeleteSession(db.DB, session.Token); err != nil {
			log.Printf("[WARNING] Failed to delete session: %v", err)
		}
		services.LogAuditEvent(db.DB, middleware.GetAuditContext(c), models.AuditActionLogout, nil, "Signed out")
	}
	middleware.ClearSessionCookie(c)
	return c.NoContent(http.StatusNoContent)
}

// CurrentStaffHandler returns the signed-in staff member
func CurrentStaffHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"user":    middleware.GetCurrentUser(c),
		"profile": middleware.GetCurrentProfile(c),
	})
}

// CSRFTokenHandler hands the CSRF token to API clients that use the session cookie
func CSRFTokenHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"csrf_token": middleware.GetCSRFToken(c)})
}
