package services

import (
	"bytes"
	"testing"
	"time"

	"contact_flow_app_go/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestDB opens a private in-memory database with every table migrated.
// The shared cache keeps all pool connections on the same database.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:mem_" + uuid.New().String() + "?mode=memory&cache=shared&_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.All()...))

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

// testClock is a settable clock for token expiry tests
type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestTokens() *TokenService {
	return NewTokenService(DefaultAccessTokenTTL, DefaultAccessTokenLength, bcrypt.MinCost)
}

// newTestService wires a request service with local storage and a mailer
// that accepts everything unless the test sets other expectations
func newTestService(t *testing.T, db *gorm.DB, mailer Mailer) *RequestService {
	t.Helper()
	return &RequestService{
		DB:      db,
		Tokens:  newTestTokens(),
		Storage: NewLocalStorage(t.TempDir()),
		Mailer:  mailer,
		Rules:   testRules(),
		AppURL:  "https://desk.example.com",
	}
}

func validInput() RequestInput {
	return RequestInput{
		FirstName: "Anna",
		LastName:  "Nowak",
		Phone:     "+48500100200",
		Email:     "Anna@Example.com",
		Company:   models.CompanyTwo,
		Message:   "Please send an offer",
	}
}

// seedRequest inserts a request with a known token and returns both
func seedRequest(t *testing.T, db *gorm.DB, tokens *TokenService, mutate func(*models.Request)) (*models.Request, string) {
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
	token, err := tokens.Issue(db, request)
	require.NoError(t, err)
	if mutate != nil {
		mutate(request)
	}
	require.NoError(t, db.Create(request).Error)
	// gorm skips zero-value bools that have a default on insert
	require.NoError(t, db.Model(request).Updates(map[string]interface{}{
		"access_enabled": request.AccessEnabled,
		"is_deleted":     request.IsDeleted,
	}).Error)
	return request, token
}

func seedDepartment(t *testing.T, db *gorm.DB, name string) *models.Department {
	t.Helper()
	department, err := CreateDepartment(db, name)
	require.NoError(t, err)
	return department
}

// seedStaff creates a user with a profile and returns its principal
func seedStaff(t *testing.T, db *gorm.DB, role string, departmentID *uint) Principal {
	t.Helper()
	user := &models.User{
		Name:     "Staff " + role,
		Email:    uuid.New().String() + "@example.com",
		Password: "x",
		IsActive: true,
	}
	require.NoError(t, db.Create(user).Error)
	profile := &models.StaffProfile{UserID: user.ID, Role: role, DepartmentID: departmentID}
	require.NoError(t, db.Create(profile).Error)
	return Principal{User: user, Profile: profile, IPAddress: "127.0.0.1"}
}

func newUpload(name, contentType string, content []byte) *Upload {
	return &Upload{
		Filename:    name,
		ContentType: contentType,
		Size:        int64(len(content)),
		Body:        bytes.NewReader(content),
	}
}

func uintPtr(v uint) *uint { return &v }

func strPtr(v string) *string { return &v }

func boolPtr(v bool) *bool { return &v }
