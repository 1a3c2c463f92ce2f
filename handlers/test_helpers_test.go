package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"contact_flow_app_go/config"
	"contact_flow_app_go/db"
	"contact_flow_app_go/middleware"
	"contact_flow_app_go/models"
	"contact_flow_app_go/services"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testPassword = "password123"

// recordingMailer keeps every sent email and fails when err is set
type recordingMailer struct {
	mu   sync.Mutex
	sent []*services.Email
	err  error
}

func (m *recordingMailer) Send(email *services.Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, email)
	return nil
}

func (m *recordingMailer) Sent() []*services.Email {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*services.Email(nil), m.sent...)
}

// testEnv is a router wired to a private database and fresh providers
type testEnv struct {
	DB     *gorm.DB
	Config *config.Config
	Mailer *recordingMailer
	Echo   *echo.Echo
}

func testConfig() *config.Config {
	return &config.Config{
		Environment:         "test",
		AppURL:              "http://localhost:8080",
		SessionSecret:       "test-session-secret-0123456789abcdef",
		AccessTokenTTL:      services.DefaultAccessTokenTTL,
		AccessTokenLength:   services.DefaultAccessTokenLength,
		AccessTokenHashCost: bcrypt.MinCost,
		AccessGrantLifetime: time.Hour,
		ContactFormThrottle: 30 * time.Second,
		PublicEditCooldown:  time.Minute,
		LoginMaxAttempts:    3,
		LoginBlockDuration:  5 * time.Minute,
		AttachMaxSizeMB:     5,
		PublicFeedSize:      5,
		AllowPublicEdits:    true,
	}
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	// Shared cache so the async audit writer sees the same database
	dsn := "file:mem_" + uuid.New().String() + "?mode=memory&cache=shared&_busy_timeout=5000"
	testDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, testDB.AutoMigrate(models.All()...))

	db.DB = testDB
	t.Cleanup(func() {
		if sqlDB, err := testDB.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return testDB
}

// setupTestEnv installs the global providers and mounts every route.
// mutate may adjust the configuration before the routes are registered.
func setupTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}

	env := &testEnv{DB: setupTestDB(t), Config: cfg, Mailer: &recordingMailer{}}
	services.Tokens = services.NewTokenService(cfg.AccessTokenTTL, cfg.AccessTokenLength, cfg.AccessTokenHashCost)
	services.Storage = services.NewLocalStorage(t.TempDir())
	services.Mail = env.Mailer
	services.Throttle = services.NewMemoryThrottleStore()
	services.InitSecurityMonitor()

	e := echo.New()
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set("config", cfg)
			return next(c)
		}
	})
	RegisterRoutes(e, cfg)
	env.Echo = e
	return env
}

// testClient is a browser: it keeps cookies and default headers between calls
type testClient struct {
	e       *echo.Echo
	cookies map[string]*http.Cookie
	headers map[string]string
}

func (env *testEnv) client() *testClient {
	return &testClient{e: env.Echo, cookies: map[string]*http.Cookie{}, headers: map[string]string{}}
}

func (tc *testClient) send(req *http.Request) *httptest.ResponseRecorder {
	for k, v := range tc.headers {
		req.Header.Set(k, v)
	}
	for _, cookie := range tc.cookies {
		req.AddCookie(&http.Cookie{Name: cookie.Name, Value: cookie.Value})
	}
	rec := httptest.NewRecorder()
	tc.e.ServeHTTP(rec, req)

	for _, cookie := range rec.Result().Cookies() {
		if cookie.MaxAge < 0 || cookie.Value == "" {
			delete(tc.cookies, cookie.Name)
			continue
		}
		tc.cookies[cookie.Name] = cookie
	}
	return rec
}

func (tc *testClient) get(target string) *httptest.ResponseRecorder {
	return tc.send(httptest.NewRequest(http.MethodGet, target, nil))
}

func (tc *testClient) postForm(target string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	return tc.send(req)
}

// postMultipart sends form fields plus one text file under "attachments"
func (tc *testClient) postMultipart(t *testing.T, target string, form url.Values, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for key, values := range form {
		for _, v := range values {
			require.NoError(t, w.WriteField(key, v))
		}
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="attachments"; filename="%s"`, filename))
	header.Set("Content-Type", "text/plain")
	part, err := w.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	return tc.send(req)
}

// staffClient creates a staff account, signs it in and picks up the CSRF token
func (env *testEnv) staffClient(t *testing.T, role string, departmentID *uint) (*testClient, *models.User) {
	t.Helper()
	email := uuid.New().String() + "@example.com"
	user, err := services.CreateStaffUser(env.DB, "Staff "+role, email, testPassword, role, departmentID, false)
	require.NoError(t, err)

	tc := env.client()
	rec := tc.postForm("/login", url.Values{"email": {email}, "password": {testPassword}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = tc.get("/staff/csrf")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	token, _ := decodeBody(t, rec)["csrf_token"].(string)
	require.NotEmpty(t, token)
	tc.headers[middleware.CSRFHeader] = token
	return tc, user
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func readAll(t *testing.T, r io.Reader) string {
	t.Helper()
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(b)
}

func submitForm() url.Values {
	return url.Values{
		"first_name": {"Anna"},
		"last_name":  {"Nowak"},
		"phone":      {"+48500100200"},
		"email":      {"Anna@Example.com"},
		"company":    {models.CompanyTwo},
		"message":    {"Please send an offer"},
	}
}

// seedRequest inserts a request with a known token and returns both
func seedRequest(t *testing.T, env *testEnv, mutate func(*models.Request)) (*models.Request, string) {
	t.Helper()
	request := &models.Request{
		FirstName:     "Jan",
		LastName:      "Kowalski",
		Phone:         "+48123456789",
		Email:         "jan@example.com",
		Company:       models.CompanyOne,
		Message:       "Hello",
		Status:        models.StatusNew,
		AccessEnabled: true,
		Version:       1,
	}
	token, err := services.Tokens.Issue(env.DB, request)
	require.NoError(t, err)
	if mutate != nil {
		mutate(request)
	}
	require.NoError(t, env.DB.Create(request).Error)
	// gorm skips zero-value bools that have a default on insert
	require.NoError(t, env.DB.Model(request).Updates(map[string]interface{}{
		"access_enabled": request.AccessEnabled,
		"is_deleted":     request.IsDeleted,
	}).Error)
	return request, token
}

func seedDepartment(t *testing.T, env *testEnv, name string) *models.Department {
	t.Helper()
	department, err := services.CreateDepartment(env.DB, name)
	require.NoError(t, err)
	return department
}

func requestPath(id uint) string {
	return fmt.Sprintf("/r/%d", id)
}

func idStrings(ids ...uint) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, fmt.Sprintf("%d", id))
	}
	return out
}
