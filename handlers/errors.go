package handlers

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"contact_flow_app_go/config"
	"contact_flow_app_go/services"

	"github.com/labstack/echo/v4"
)

// User facing messages
const (
	msgSubmitted        = "Your request has been sent. We will process it within 48 hours and contact you afterwards."
	msgUpdateReceived   = "Update received."
	msgRequestDeleted   = "Your request has been deleted."
	msgInvalidAccess    = "Invalid request number or access code."
	msgTokenExpired     = "This access link has expired. Ask us to send you a new one."
	msgAccessDisabled   = "Access disabled"
	msgLocked           = "This request is already being processed and can no longer be changed."
	msgVersionConflict  = "The request was changed in the meantime. Reload it and try again."
	msgDeliveryFailed   = "We could not send the confirmation email. Please try again later."
	msgEditsDisabled    = "Public edits are disabled."
	msgEditCooldown     = "Please wait before submitting another update."
	msgAccessReset      = "Access link has been reset. New token: %s"
	msgInvalidCreds     = "Invalid email or password"
	msgNothingSelected  = "Select at least one request."
	msgInvalidAction    = "Unknown action."
	msgInvalidRequestID = "Invalid request ID"
)

// getConfig returns the configuration set by the server on every request
func getConfig(c echo.Context) *config.Config {
	if cfg, ok := c.Get("config").(*config.Config); ok {
		return cfg
	}
	return &config.Config{}
}

// respondError maps service errors onto HTTP errors. Unknown errors are logged
// and reported as 500 without details.
func respondError(err error) error {
	var verr *services.ValidationError
	var terr *services.ThrottledError

	switch {
	case errors.As(err, &verr):
		return echo.NewHTTPError(http.StatusBadRequest, map[string]string{
			"error": verr.Message,
			"field": verr.Field,
		})
	case errors.As(err, &terr):
		return echo.NewHTTPError(http.StatusTooManyRequests, terr.Message)
	case errors.Is(err, services.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "Not found")
	case errors.Is(err, services.ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, "Forbidden")
	case errors.Is(err, services.ErrLocked):
		return echo.NewHTTPError(http.StatusForbidden, map[string]string{
			"error":   "locked",
			"message": msgLocked,
		})
	case errors.Is(err, services.ErrVersionConflict):
		return echo.NewHTTPError(http.StatusConflict, msgVersionConflict)
	case errors.Is(err, services.ErrTokenExpired):
		return echo.NewHTTPError(http.StatusForbidden, msgTokenExpired)
	case errors.Is(err, services.ErrAccessDisabled):
		return echo.NewHTTPError(http.StatusForbidden, msgAccessDisabled)
	case errors.Is(err, services.ErrTokenInvalid):
		return echo.NewHTTPError(http.StatusNotFound, msgInvalidAccess)
	case errors.Is(err, services.ErrEmptySelection):
		return echo.NewHTTPError(http.StatusBadRequest, msgNothingSelected)
	case errors.Is(err, services.ErrInvalidAction):
		return echo.NewHTTPError(http.StatusBadRequest, msgInvalidAction)
	case errors.Is(err, services.ErrDeliveryFailed):
		return echo.NewHTTPError(http.StatusServiceUnavailable, msgDeliveryFailed)
	}

	log.Printf("[ERROR] %v", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "Internal server error")
}

// throttled answers with 429 and a Retry-After header
func throttled(c echo.Context, err *services.ThrottledError) error {
	c.Response().Header().Set("Retry-After", strconv.Itoa(err.RetryAfterSeconds()))
	return echo.NewHTTPError(http.StatusTooManyRequests, err.Message)
}

// paramID parses a numeric path parameter
func paramID(c echo.Context, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, msgInvalidRequestID)
	}
	return uint(id), nil
}

// optionalUint parses an optional numeric form or query value
func optionalUint(value string) (*uint, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	id, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return nil, err
	}
	v := uint(id)
	return &v, nil
}

// formIDs parses the selected request IDs of a panel form. Unparseable values
// are skipped.
func formIDs(c echo.Context, name string) []uint {
	params, err := c.FormParams()
	if err != nil {
		return nil
	}
	var ids []uint
	for _, raw := range params[name] {
		if id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64); err == nil && id > 0 {
			ids = append(ids, uint(id))
		}
	}
	return ids
}

// formField returns a pointer to a form value, nil when the field was not sent
func formField(c echo.Context, name string) *string {
	params, err := c.FormParams()
	if err != nil {
		return nil
	}
	values, ok := params[name]
	if !ok || len(values) == 0 {
		return nil
	}
	v := values[0]
	return &v
}

// formBool parses a checkbox style value, nil when the field was not sent
func formBool(c echo.Context, name string) *bool {
	raw := formField(c, name)
	if raw == nil {
		return nil
	}
	var v bool
	switch strings.ToLower(strings.TrimSpace(*raw)) {
	case "1", "true", "on", "yes":
		v = true
	}
	return &v
}

// formVersion reads the version the client edited, 0 when absent
func formVersion(c echo.Context) int {
	v, _ := strconv.Atoi(c.FormValue("version"))
	return v
}

// readUploads opens the files sent under the attachments field. The closer
// must be called once the service returned.
func readUploads(c echo.Context) ([]*services.Upload, func(), error) {
	form, err := c.MultipartForm()
	if err != nil || form == nil {
		// Not a multipart body, nothing attached
		return nil, func() {}, nil
	}
	uploads, closeAll, err := services.OpenUploads(form.File["attachments"])
	if err != nil {
		return nil, func() {}, echo.NewHTTPError(http.StatusBadRequest, "Failed to read attachments")
	}
	return uploads, closeAll, nil
}

// pageParam parses the page query parameter, 1 when absent or invalid
func pageParam(c echo.Context) int {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	if page < 1 {
		page = 1
	}
	return page
}
