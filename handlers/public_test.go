package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"testing"
	"time"

	"contact_flow_app_go/config"
	"contact_flow_app_go/middleware"
	"contact_flow_app_go/models"
	"contact_flow_app_go/services"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitRequestHandler(t *testing.T) {
	env := setupTestEnv(t, nil)
	browser := env.client()

	rec := browser.postForm("/submit", submitForm())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	assert.Equal(t, msgSubmitted, body["message"])
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)
	id := uint(body["id"].(float64))
	assert.Equal(t, requestPath(id), body["url"])

	var stored models.Request
	require.NoError(t, env.DB.First(&stored, id).Error)
	assert.Equal(t, "anna@example.com", stored.Email)
	assert.Equal(t, models.StatusNew, stored.Status)
	assert.True(t, services.Tokens.Verify(&stored, token))

	sent := env.Mailer.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, []string{"anna@example.com"}, sent[0].To)

	t.Run("browser keeps access to the new request", func(t *testing.T) {
		assert.Contains(t, browser.cookies, middleware.GrantCookieName)
		rec := browser.get(requestPath(id))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, true, decodeBody(t, rec)["editable"])
	})

	t.Run("second submission is throttled", func(t *testing.T) {
		rec := browser.postForm("/submit", submitForm())
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	})
}

func TestSubmitRequestHandlerValidation(t *testing.T) {
	env := setupTestEnv(t, nil)

	form := submitForm()
	form.Set("email", "not-an-email")
	rec := env.client().postForm("/submit", form)
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Equal(t, "email", decodeBody(t, rec)["field"])

	var count int64
	env.DB.Model(&models.Request{}).Count(&count)
	assert.Zero(t, count)

	// A rejected form does not count against the throttle
	rec = env.client().postForm("/submit", submitForm())
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestSubmitRequestHandlerDeliveryFailure(t *testing.T) {
	env := setupTestEnv(t, nil)
	env.Mailer.err = errors.New("provider unavailable")

	rec := env.client().postForm("/submit", submitForm())
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, msgDeliveryFailed, decodeBody(t, rec)["message"])

	var count int64
	env.DB.Model(&models.Request{}).Count(&count)
	assert.Zero(t, count)
}

func TestAttachmentUploadAndDownload(t *testing.T) {
	env := setupTestEnv(t, nil)
	browser := env.client()
	content := []byte("floor plan notes")

	rec := browser.postMultipart(t, "/submit", submitForm(), "notes.txt", content)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := uint(decodeBody(t, rec)["id"].(float64))

	var attachment models.Attachment
	require.NoError(t, env.DB.Where("request_id = ?", id).First(&attachment).Error)
	assert.Equal(t, "notes.txt", attachment.OriginalName)

	path := fmt.Sprintf("/attachments/%d", attachment.ID)

	t.Run("holder downloads", func(t *testing.T) {
		rec := browser.get(path)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, string(content), readAll(t, rec.Body))
		assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
		assert.Contains(t, rec.Header().Get(echo.HeaderContentDisposition), "notes.txt")
	})

	t.Run("stranger gets not found", func(t *testing.T) {
		rec := env.client().get(path)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestAccessGateHandler(t *testing.T) {
	env := setupTestEnv(t, nil)
	request, token := seedRequest(t, env, nil)
	id := fmt.Sprintf("%d", request.ID)

	t.Run("wrong code", func(t *testing.T) {
		rec := env.client().postForm("/access", url.Values{"id": {id}, "access": {"wrong"}})
		require.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, msgInvalidAccess, decodeBody(t, rec)["message"])
	})

	t.Run("unknown request looks the same", func(t *testing.T) {
		rec := env.client().postForm("/access", url.Values{"id": {"9999"}, "access": {token}})
		require.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, msgInvalidAccess, decodeBody(t, rec)["message"])
	})

	t.Run("missing id", func(t *testing.T) {
		rec := env.client().postForm("/access", url.Values{"access": {token}})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("valid code grants the browser", func(t *testing.T) {
		browser := env.client()
		rec := browser.postForm("/access", url.Values{"id": {id}, "access": {token}})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, requestPath(request.ID), decodeBody(t, rec)["url"])

		rec = browser.get(requestPath(request.ID))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("expired code", func(t *testing.T) {
		expired, expiredToken := seedRequest(t, env, func(r *models.Request) {
			past := time.Now().Add(-time.Hour)
			r.AccessTokenExpiresAt = &past
		})
		rec := env.client().postForm("/access", url.Values{"id": {fmt.Sprintf("%d", expired.ID)}, "access": {expiredToken}})
		require.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, msgTokenExpired, decodeBody(t, rec)["message"])
	})

	t.Run("disabled access", func(t *testing.T) {
		disabled, disabledToken := seedRequest(t, env, func(r *models.Request) {
			r.AccessEnabled = false
		})
		rec := env.client().postForm("/access", url.Values{"id": {fmt.Sprintf("%d", disabled.ID)}, "access": {disabledToken}})
		require.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, msgAccessDisabled, decodeBody(t, rec)["message"])
	})
}

func TestViewRequestHandler(t *testing.T) {
	env := setupTestEnv(t, nil)
	request, token := seedRequest(t, env, nil)

	_, err := services.LogActivity(env.DB, services.ActivityInput{
		RequestID: request.ID, Type: models.ActivitySystem, Message: "Request created", IsPublic: true,
	})
	require.NoError(t, err)
	_, err = services.LogActivity(env.DB, services.ActivityInput{
		RequestID: request.ID, Type: models.ActivityComment, Message: "Internal note", IsPublic: false,
	})
	require.NoError(t, err)

	t.Run("token in the query unlocks and is remembered", func(t *testing.T) {
		browser := env.client()
		rec := browser.get(requestPath(request.ID) + "?access=" + url.QueryEscape(token))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		body := decodeBody(t, rec)
		activities, _ := body["activities"].([]interface{})
		assert.Len(t, activities, 1, "internal entries stay hidden")
		assert.Equal(t, true, body["editable"])

		rec = browser.get(requestPath(request.ID))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("no token", func(t *testing.T) {
		rec := env.client().get(requestPath(request.ID))
		require.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, msgInvalidAccess, decodeBody(t, rec)["message"])
	})

	t.Run("access disabled", func(t *testing.T) {
		disabled, disabledToken := seedRequest(t, env, func(r *models.Request) {
			r.AccessEnabled = false
		})
		rec := env.client().get(requestPath(disabled.ID) + "?access=" + url.QueryEscape(disabledToken))
		require.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, msgAccessDisabled, decodeBody(t, rec)["message"])
	})

	t.Run("locked request is not editable", func(t *testing.T) {
		locked, lockedToken := seedRequest(t, env, func(r *models.Request) {
			r.Status = models.StatusInProgress
		})
		rec := env.client().get(requestPath(locked.ID) + "?access=" + url.QueryEscape(lockedToken))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, false, decodeBody(t, rec)["editable"])
	})
}

func TestPublicUpdateHandler(t *testing.T) {
	env := setupTestEnv(t, nil)
	request, token := seedRequest(t, env, nil)

	browser := env.client()
	browser.headers[middleware.AccessTokenHeader] = token

	rec := browser.postForm(requestPath(request.ID), url.Values{"message": {"Updated <b>details</b>"}, "version": {"1"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, msgUpdateReceived, decodeBody(t, rec)["message"])

	var stored models.Request
	require.NoError(t, env.DB.First(&stored, request.ID).Error)
	assert.Equal(t, "Updated details", stored.Message)
	assert.Equal(t, 2, stored.Version)

	changes, err := services.RequestChangeLog(env.DB, request.ID)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, models.FieldMessage, changes[0].Field)

	t.Run("cooldown between updates", func(t *testing.T) {
		rec := browser.postForm(requestPath(request.ID), url.Values{"message": {"Again"}})
		require.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, msgEditCooldown, decodeBody(t, rec)["message"])
	})

	t.Run("stale version", func(t *testing.T) {
		other, otherToken := seedRequest(t, env, nil)
		holder := env.client()
		holder.headers[middleware.AccessTokenHeader] = otherToken
		rec := holder.postForm(requestPath(other.ID), url.Values{"message": {"Edit"}, "version": {"7"}})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("locked once staff picked it up", func(t *testing.T) {
		locked, lockedToken := seedRequest(t, env, func(r *models.Request) {
			r.Status = models.StatusInProgress
		})
		holder := env.client()
		holder.headers[middleware.AccessTokenHeader] = lockedToken
		rec := holder.postForm(requestPath(locked.ID), url.Values{"message": {"Edit"}})
		require.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "locked", decodeBody(t, rec)["error"])
	})

	t.Run("wrong token", func(t *testing.T) {
		other, _ := seedRequest(t, env, nil)
		holder := env.client()
		holder.headers[middleware.AccessTokenHeader] = "wrong"
		rec := holder.postForm(requestPath(other.ID), url.Values{"message": {"Edit"}})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestPublicUpdateHandlerDisabled(t *testing.T) {
	env := setupTestEnv(t, func(cfg *config.Config) { cfg.AllowPublicEdits = false })
	request, token := seedRequest(t, env, nil)

	holder := env.client()
	holder.headers[middleware.AccessTokenHeader] = token
	rec := holder.postForm(requestPath(request.ID), url.Values{"message": {"Edit"}})
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, msgEditsDisabled, decodeBody(t, rec)["message"])

	rec = holder.get(requestPath(request.ID))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decodeBody(t, rec)["editable"])
}

func TestPublicDeleteHandler(t *testing.T) {
	env := setupTestEnv(t, nil)
	request, token := seedRequest(t, env, nil)

	holder := env.client()
	holder.headers[middleware.AccessTokenHeader] = token
	rec := holder.postForm(requestPath(request.ID)+"/delete", url.Values{})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, msgRequestDeleted, decodeBody(t, rec)["message"])

	var stored models.Request
	require.NoError(t, env.DB.First(&stored, request.ID).Error)
	assert.True(t, stored.IsDeleted)

	rec = holder.get(requestPath(request.ID))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPublicFeedAndMyRequests(t *testing.T) {
	env := setupTestEnv(t, nil)
	browser := env.client()

	rec := browser.postForm("/submit", submitForm())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decodeBody(t, rec)["id"]

	rec = browser.get("/feed")
	require.Equal(t, http.StatusOK, rec.Code)
	feed, _ := decodeBody(t, rec)["activities"].([]interface{})
	assert.Len(t, feed, 1)

	rec = browser.get("/my-requests")
	require.Equal(t, http.StatusOK, rec.Code)
	mine, _ := decodeBody(t, rec)["requests"].([]interface{})
	require.Len(t, mine, 1)
	assert.Equal(t, id, mine[0].(map[string]interface{})["id"])

	rec = env.client().get("/my-requests")
	require.Equal(t, http.StatusOK, rec.Code)
	others, _ := decodeBody(t, rec)["requests"].([]interface{})
	assert.Empty(t, others)
}

// unlock trades the token for a session grant and checks the browser can open the request
func unlock(t *testing.T, browser *testClient, request *models.Request, token string) {
	t.Helper()
	rec := browser.postForm("/access", url.Values{"id": {fmt.Sprintf("%d", request.ID)}, "access": {token}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = browser.get(requestPath(request.ID))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func myRequests(t *testing.T, browser *testClient) []interface{} {
	t.Helper()
	rec := browser.get("/my-requests")
	require.Equal(t, http.StatusOK, rec.Code)
	requests, _ := decodeBody(t, rec)["requests"].([]interface{})
	return requests
}

func TestSessionGrantEndsOnRotation(t *testing.T) {
	env := setupTestEnv(t, nil)
	request, oldToken := seedRequest(t, env, nil)

	browser := env.client()
	unlock(t, browser, request, oldToken)
	require.Len(t, myRequests(t, browser), 1)

	staff, _ := env.staffClient(t, models.RoleAdmin, nil)
	rec := staff.postForm(fmt.Sprintf("/staff/requests/%d", request.ID), url.Values{"action": {"reset_access"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	newToken, _ := decodeBody(t, rec)["token"].(string)
	require.NotEmpty(t, newToken)

	t.Run("view is denied", func(t *testing.T) {
		rec := browser.get(requestPath(request.ID))
		require.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, msgInvalidAccess, decodeBody(t, rec)["message"])

		rec = browser.get(requestPath(request.ID) + "?access=" + url.QueryEscape(oldToken))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("edit is denied", func(t *testing.T) {
		rec := browser.postForm(requestPath(request.ID), url.Values{"message": {"Edit after reset"}})
		require.Equal(t, http.StatusNotFound, rec.Code)

		var stored models.Request
		require.NoError(t, env.DB.First(&stored, request.ID).Error)
		assert.Equal(t, "Hello", stored.Message)
	})

	t.Run("not listed", func(t *testing.T) {
		assert.Empty(t, myRequests(t, browser))
	})

	t.Run("new token unlocks again", func(t *testing.T) {
		rec := browser.get(requestPath(request.ID) + "?access=" + url.QueryEscape(newToken))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		rec = browser.get(requestPath(request.ID))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, myRequests(t, browser), 1)
	})
}

func TestSessionGrantEndsOnExpiry(t *testing.T) {
	env := setupTestEnv(t, nil)
	request, token := seedRequest(t, env, nil)

	browser := env.client()
	unlock(t, browser, request, token)

	past := time.Now().Add(-time.Minute)
	require.NoError(t, env.DB.Model(&models.Request{}).Where("id = ?", request.ID).
		Update("access_token_expires_at", past).Error)

	rec := browser.get(requestPath(request.ID))
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, msgTokenExpired, decodeBody(t, rec)["message"])

	rec = browser.postForm(requestPath(request.ID), url.Values{"message": {"Edit after expiry"}})
	require.Equal(t, http.StatusNotFound, rec.Code)

	var stored models.Request
	require.NoError(t, env.DB.First(&stored, request.ID).Error)
	assert.Equal(t, "Hello", stored.Message)

	assert.Empty(t, myRequests(t, browser))
}

func TestSessionGrantCookieLifetime(t *testing.T) {
	env := setupTestEnv(t, func(cfg *config.Config) { cfg.AccessGrantLifetime = 45 * time.Minute })
	request, token := seedRequest(t, env, nil)

	browser := env.client()
	unlock(t, browser, request, token)

	cookie := browser.cookies[middleware.GrantCookieName]
	require.NotNil(t, cookie)
	assert.Equal(t, int((45 * time.Minute).Seconds()), cookie.MaxAge)
}
