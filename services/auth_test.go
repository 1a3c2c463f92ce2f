package services

import (
	"testing"
	"time"

	"contact_flow_app_go/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordHashing(t *testing.T) {
	password := "SecretPass123!"

	hash, err := HashPassword(password)
	assert.NoError(t, err)
	assert.NotEmpty(t, hash)
	assert.NotEqual(t, password, hash)

	assert.True(t, CheckPassword(password, hash))
	assert.False(t, CheckPassword("WrongPass", hash))
}

func TestAuthenticateStaff(t *testing.T) {
	db := setupTestDB(t)
	user, err := CreateStaffUser(db, "Maria", "Maria@Example.com", "correct-horse", models.RoleAdmin, nil, false)
	require.NoError(t, err)

	t.Run("Valid credentials", func(t *testing.T) {
		got, err := AuthenticateStaff(db, " maria@example.com ", "correct-horse")
		require.NoError(t, err)
		assert.Equal(t, user.ID, got.ID)
		assert.NotNil(t, got.LastLoginAt)
	})

	t.Run("Wrong password", func(t *testing.T) {
		_, err := AuthenticateStaff(db, "maria@example.com", "nope")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("Unknown email", func(t *testing.T) {
		_, err := AuthenticateStaff(db, "ghost@example.com", "correct-horse")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("Inactive account", func(t *testing.T) {
		require.NoError(t, db.Model(user).Update("is_active", false).Error)
		_, err := AuthenticateStaff(db, "maria@example.com", "correct-horse")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	})
}

func TestSessionLifecycle(t *testing.T) {
	db := setupTestDB(t)
	user, err := CreateStaffUser(db, "Ola", "ola@example.com", "password123", models.RoleAdmin, nil, false)
	require.NoError(t, err)

	session, err := CreateSession(db, user.ID, "127.0.0.1", "TestAgent")
	require.NoError(t, err)
	assert.NotEmpty(t, session.Token)
	assert.Equal(t, user.ID, session.UserID)
	assert.WithinDuration(t, time.Now().Add(DefaultSessionDuration), session.ExpiresAt, 10*time.Second)

	valid, err := ValidateSession(db, session.Token)
	require.NoError(t, err)
	assert.Equal(t, session.ID, valid.ID)
	assert.Equal(t, "ola@example.com", valid.User.Email)

	invalid, err := ValidateSession(db, "invalid-token")
	assert.Error(t, err)
	assert.Nil(t, invalid)
	assert.Contains(t, err.Error(), "session not found")

	require.NoError(t, DeleteSession(db, session.Token))
	deleted, err := ValidateSession(db, session.Token)
	assert.Error(t, err)
	assert.Nil(t, deleted)
}

func TestSessionExpiry(t *testing.T) {
	db := setupTestDB(t)

	token := "expired-token"
	require.NoError(t, db.Create(&models.Session{
		ID:        "sess-expired",
		UserID:    "user-exp",
		Token:     token,
		ExpiresAt: time.Now().Add(-1 * time.Hour),
	}).Error)

	sess, err := ValidateSession(db, token)
	assert.Error(t, err)
	assert.Equal(t, "session expired", err.Error())
	assert.Nil(t, sess)

	var count int64
	db.Model(&models.Session{}).Where("token = ?", token).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestCleanupExpiredSessions(t *testing.T) {
	db := setupTestDB(t)

	db.Create(&models.Session{ID: "sess-valid", UserID: "u", Token: "valid", ExpiresAt: time.Now().Add(time.Hour)})
	db.Create(&models.Session{ID: "sess-expired-1", UserID: "u", Token: "exp1", ExpiresAt: time.Now().Add(-time.Hour)})
	db.Create(&models.Session{ID: "sess-expired-2", UserID: "u", Token: "exp2", ExpiresAt: time.Now().Add(-2 * time.Hour)})

	require.NoError(t, CleanupExpiredSessions(db))

	var remaining []models.Session
	db.Find(&remaining)
	require.Len(t, remaining, 1)
	assert.Equal(t, "sess-valid", remaining[0].ID)
}

func TestDeleteAllUserSessions(t *testing.T) {
	db := setupTestDB(t)
	expires := time.Now().Add(time.Hour)

	db.Create(&models.Session{ID: "s1", UserID: "target", Token: "t1", ExpiresAt: expires})
	db.Create(&models.Session{ID: "s2", UserID: "target", Token: "t2", ExpiresAt: expires})
	db.Create(&models.Session{ID: "s3", UserID: "other", Token: "t3", ExpiresAt: expires})

	require.NoError(t, DeleteAllUserSessions(db, "target"))

	var count int64
	db.Model(&models.Session{}).Where("user_id = ?", "target").Count(&count)
	assert.Equal(t, int64(0), count)
	db.Model(&models.Session{}).Where("user_id = ?", "other").Count(&count)
	assert.Equal(t, int64(1), count)
}
