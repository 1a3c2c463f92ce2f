package handlers

import (
	"errors"
	"fmt"
	"log"
	"mime"
	"net/http"
	"strings"

	"contact_flow_app_go/db"
	"contact_flow_app_go/middleware"
	"contact_flow_app_go/models"
	"contact_flow_app_go/services"

	"github.com/labstack/echo/v4"
)

// fallbackThrottle is used when the server did not install a shared store
var fallbackThrottle = services.NewMemoryThrottleStore()

func throttleStore() services.ThrottleStore {
	if services.Throttle != nil {
		return services.Throttle
	}
	return fallbackThrottle
}

// requestView is what a token holder or staff member sees of one request
type requestView struct {
	Request    *models.Request   `json:"request"`
	Activities []models.Activity `json:"activities"`
	Editable   bool              `json:"editable"`
}

// respondAccessError hides every anonymous denial behind the same message
func respondAccessError(p services.Principal, err error) error {
	if !p.IsStaff() && errors.Is(err, services.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, msgInvalidAccess)
	}
	return respondError(err)
}

// SubmitRequestHandler stores a contact form submission and emails the access token
func SubmitRequestHandler(c echo.Context) error {
	cfg := getConfig(c)
	input := services.RequestInput{
		FirstName:   c.FormValue("first_name"),
		LastName:    c.FormValue("last_name"),
		Phone:       c.FormValue("phone"),
		Email:       c.FormValue("email"),
		Company:     c.FormValue("company"),
		CompanyName: c.FormValue("company_name"),
		Message:     c.FormValue("message"),
	}

	throttle := services.NewSubmissionThrottle(throttleStore(), cfg.ContactFormThrottle)
	keys := throttle.Keys(c.RealIP(), input.Email)
	if err := throttle.Check(keys); err != nil {
		var terr *services.ThrottledError
		if errors.As(err, &terr) {
			return throttled(c, terr)
		}
		return respondError(err)
	}

	if err := services.CheckCaptcha(cfg.TurnstileSecretKey, c.FormValue("cf-turnstile-response"), c.RealIP()); err != nil {
		return respondError(err)
	}

	uploads, closeUploads, err := readUploads(c)
	if err != nil {
		return err
	}
	defer closeUploads()

	var createdBy *string
	if user := middleware.GetCurrentUser(c); user != nil {
		createdBy = &user.ID
	}

	request, token, err := services.NewRequestService(db.DB, cfg).CreateRequest(c.Request().Context(), input, uploads, createdBy)
	if err != nil {
		return respondError(err)
	}

	if err := throttle.Record(keys); err != nil {
		log.Printf("[WARNING] Failed to record submission throttle: %v", err)
	}
	if err := middleware.GrantRequestAccess(c, request); err != nil {
		log.Printf("[WARNING] Failed to grant access to request %d: %v", request.ID, err)
	}

	return c.JSON(http.StatusCreated, map[string]interface{}{
		"id":      request.ID,
		"token":   token,
		"message": msgSubmitted,
		"url":     fmt.Sprintf("/r/%d", request.ID),
	})
}

// PublicFeedHandler returns the latest public activity across all requests
func PublicFeedHandler(c echo.Context) error {
	feed, err := services.PublicFeed(db.DB, getConfig(c).PublicFeedSize)
	if err != nil {
		return respondError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"activities": feed})
}

// AccessGateHandler trades a request number and access code for a session grant
func AccessGateHandler(c echo.Context) error {
	id, err := optionalUint(c.FormValue("id"))
	if err != nil || id == nil {
		return echo.NewHTTPError(http.StatusBadRequest, msgInvalidRequestID)
	}
	token := strings.TrimSpace(c.FormValue("access"))

	request, err := services.GetRequest(db.DB, *id, false)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			services.RecordTokenCheck(services.ErrTokenInvalid)
			services.Monitor.TrackFailure(services.FailureAccessToken, c.RealIP())
			return echo.NewHTTPError(http.StatusNotFound, msgInvalidAccess)
		}
		return respondError(err)
	}

	checkErr := services.Tokens.Check(request, token)
	services.RecordTokenCheck(checkErr)
	if checkErr != nil {
		services.Monitor.TrackFailure(services.FailureAccessToken, c.RealIP())
		return respondError(checkErr)
	}

	if err := middleware.GrantRequestAccess(c, request); err != nil {
		return respondError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"id":  request.ID,
		"url": fmt.Sprintf("/r/%d", request.ID),
	})
}

// ViewRequestHandler shows a request to its token holder. A valid ?access=
// token is remembered in the session so later visits need no token, until
// the token is rotated or expires.
func ViewRequestHandler(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	cfg := getConfig(c)
	p := middleware.GetPrincipal(c)

	request, err := services.GetRequest(db.DB, id, p.IsAdmin())
	if err != nil {
		return respondAccessError(p, err)
	}
	if !p.IsStaff() && !request.AccessEnabled {
		return echo.NewHTTPError(http.StatusForbidden, msgAccessDisabled)
	}

	if !p.IsStaff() {
		switch {
		case p.Token != "" && !p.HasGrant(request):
			checkErr := services.Tokens.Check(request, p.Token)
			services.RecordTokenCheck(checkErr)
			if checkErr != nil {
				services.Monitor.TrackFailure(services.FailureAccessToken, c.RealIP())
				return respondError(checkErr)
			}
			if err := middleware.GrantRequestAccess(c, request); err != nil {
				log.Printf("[WARNING] Failed to grant access to request %d: %v", id, err)
			}
			p.Grants = middleware.GetGrants(c)
		case p.HasGrant(request) && services.Tokens.IsExpired(request):
			return respondError(services.ErrTokenExpired)
		}
	}

	if err := services.Authorize(services.Tokens, p, request, services.PermView); err != nil {
		return respondAccessError(p, err)
	}

	activities, err := services.RequestActivities(db.DB, id, !p.IsStaff())
	if err != nil {
		return respondError(err)
	}

	editable := services.CanEdit(services.Tokens, p, request)
	if !p.IsStaff() {
		editable = editable && cfg.AllowPublicEdits
	}
	return c.JSON(http.StatusOK, requestView{Request: request, Activities: activities, Editable: editable})
}

// PublicUpdateHandler applies a token holder's edit while the request is new
func PublicUpdateHandler(c echo.Context) error {
	cfg := getConfig(c)
	if !cfg.AllowPublicEdits {
		return echo.NewHTTPError(http.StatusForbidden, msgEditsDisabled)
	}
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	p := middleware.GetPrincipal(c)

	cooldown := services.NewSubmissionThrottle(throttleStore(), cfg.PublicEditCooldown)
	keys := []string{fmt.Sprintf("public-edit::%d", id)}
	if err := cooldown.Check(keys); err != nil {
		var terr *services.ThrottledError
		if errors.As(err, &terr) {
			terr.Message = msgEditCooldown
			return throttled(c, terr)
		}
		return respondError(err)
	}

	uploads, closeUploads, err := readUploads(c)
	if err != nil {
		return err
	}
	defer closeUploads()

	upd := services.PublicUpdate{
		FirstName:       formField(c, "first_name"),
		LastName:        formField(c, "last_name"),
		Phone:           formField(c, "phone"),
		Email:           formField(c, "email"),
		Company:         formField(c, "company"),
		CompanyName:     formField(c, "company_name"),
		Message:         formField(c, "message"),
		ExpectedVersion: formVersion(c),
	}
	request, err := services.NewRequestService(db.DB, cfg).PublicUpdateRequest(c.Request().Context(), p, id, upd, uploads)
	if err != nil {
		return respondAccessError(p, err)
	}

	if err := cooldown.Record(keys); err != nil {
		log.Printf("[WARNING] Failed to record edit cooldown: %v", err)
	}
	if !p.HasGrant(request) {
		if err := middleware.GrantRequestAccess(c, request); err != nil {
			log.Printf("[WARNING] Failed to grant access to request %d: %v", id, err)
		}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message": msgUpdateReceived,
		"request": request,
	})
}

// PublicDeleteHandler lets a token holder withdraw a request that is still new
func PublicDeleteHandler(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	p := middleware.GetPrincipal(c)

	if err := services.NewRequestService(db.DB, getConfig(c)).PublicDeleteRequest(c.Request().Context(), p, id); err != nil {
		return respondAccessError(p, err)
	}
	if err := middleware.RevokeRequestAccess(c, id); err != nil {
		log.Printf("[WARNING] Failed to revoke access to request %d: %v", id, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"message": msgRequestDeleted})
}

// DownloadAttachmentHandler streams an attachment to staff or the token holder
func DownloadAttachmentHandler(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	p := middleware.GetPrincipal(c)

	download, err := services.OpenAttachment(c.Request().Context(), db.DB, services.Storage, services.Tokens, p, id)
	if err != nil {
		return respondAccessError(p, err)
	}
	defer download.Body.Close()

	header := c.Response().Header()
	header.Set("X-Content-Type-Options", "nosniff")
	header.Set(echo.HeaderContentDisposition, mime.FormatMediaType("attachment", map[string]string{
		"filename": download.Attachment.OriginalName,
	}))
	return c.Stream(http.StatusOK, download.Attachment.ContentType, download.Body)
}

// MyRequestsHandler lists the requests this browser unlocked and can still open
func MyRequestsHandler(c echo.Context) error {
	session := services.Principal{Grants: middleware.GetGrants(c)}
	requests, err := services.FilterByIDs(db.DB, middleware.GetGrantedIDs(c))
	if err != nil {
		return respondError(err)
	}
	visible := make([]models.Request, 0, len(requests))
	for i := range requests {
		if services.CanView(services.Tokens, session, &requests[i]) {
			visible = append(visible, requests[i])
		}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"requests": visible})
}
