package services

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"contact_flow_app_go/models"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	// MinAccessTokenLength and MaxAccessTokenLength bound the raw token size
	MinAccessTokenLength = 32
	MaxAccessTokenLength = 48
	// DefaultAccessTokenLength is used when no length is configured
	DefaultAccessTokenLength = 40
	// DefaultAccessTokenTTL is how long an issued token stays valid
	DefaultAccessTokenTTL = 72 * time.Hour
	// MaxTokenAttempts bounds the collision retries of a single issuance
	MaxTokenAttempts = 10
)

// TokenService issues and verifies the access tokens that let a submitter
// manage their request without an account. Only bcrypt hashes are stored.
type TokenService struct {
	TTL      time.Duration // Zero means tokens never expire
	Length   int
	HashCost int
	Now      func() time.Time
	// Entropy feeds token generation; nil means crypto/rand
	Entropy io.Reader
}

// Tokens is the global token service instance
var Tokens *TokenService

// NewTokenService creates a token service, clamping the length to 32..48
func NewTokenService(ttl time.Duration, length, hashCost int) *TokenService {
	if length == 0 {
		length = DefaultAccessTokenLength
	}
	if length < MinAccessTokenLength {
		length = MinAccessTokenLength
	}
	if length > MaxAccessTokenLength {
		length = MaxAccessTokenLength
	}
	if hashCost < bcrypt.MinCost || hashCost > bcrypt.MaxCost {
		hashCost = BcryptCost
	}
	if ttl < 0 {
		ttl = 0
	}
	return &TokenService{
		TTL:      ttl,
		Length:   length,
		HashCost: hashCost,
		Now:      time.Now,
	}
}

// GenerateToken returns a random URL-safe token of the configured length
func (s *TokenService) GenerateToken() (string, error) {
	nbytes := (s.Length*3 + 3) / 4
	buf := make([]byte, nbytes)
	entropy := s.Entropy
	if entropy == nil {
		entropy = rand.Reader
	}
	if _, err := io.ReadFull(entropy, buf); err != nil {
		return "", fmt.Errorf("failed to generate access token: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(buf)
	return token[:s.Length], nil
}

// HashToken returns the salted bcrypt hash of a raw token
func (s *TokenService) HashToken(raw string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), s.HashCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash access token: %w", err)
	}
	return string(hash), nil
}

// Issue assigns a fresh token to a request that has not been saved yet and
// returns the raw value. The caller persists the request.
func (s *TokenService) Issue(tx *gorm.DB, request *models.Request) (string, error) {
	token, hash, err := s.generateUnique(tx, request.ID)
	if err != nil {
		return "", err
	}
	request.AccessTokenHash = hash
	request.AccessTokenLookup = TokenLookup(token)
	request.AccessTokenExpiresAt = s.expiry()
	return token, nil
}

// Rotate replaces the stored hash and expiry in a single UPDATE, which
// invalidates the previous token, and returns the new raw value.
func (s *TokenService) Rotate(tx *gorm.DB, request *models.Request) (string, error) {
	if request.ID == 0 {
		return "", fmt.Errorf("cannot rotate token of unsaved request")
	}

	token, hash, err := s.generateUnique(tx, request.ID)
	if err != nil {
		return "", err
	}
	expiresAt := s.expiry()
	now := s.Now()

	result := tx.Model(&models.Request{}).
		Where("id = ?", request.ID).
		Updates(map[string]interface{}{
			"access_token_hash":       hash,
			"access_token_lookup":     TokenLookup(token),
			"access_token_expires_at": expiresAt,
			"updated_at":              now,
			"version":                 gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return "", fmt.Errorf("failed to rotate access token: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return "", ErrNotFound
	}

	request.AccessTokenHash = hash
	request.AccessTokenLookup = TokenLookup(token)
	request.AccessTokenExpiresAt = expiresAt
	request.UpdatedAt = now
	request.Version++
	return token, nil
}

// Verify reports whether candidate grants access to the request. It never
// errors; every failure cause yields false.
func (s *TokenService) Verify(request *models.Request, candidate string) bool {
	return s.Check(request, candidate) == nil
}

// Check verifies candidate and tells expired, disabled and invalid apart so
// the caller can pick a user message. Callers must deny on any error.
func (s *TokenService) Check(request *models.Request, candidate string) error {
	if request == nil || candidate == "" || request.AccessTokenHash == "" || request.IsDeleted {
		return ErrTokenInvalid
	}
	if !request.AccessEnabled {
		return ErrAccessDisabled
	}
	if s.IsExpired(request) {
		return ErrTokenExpired
	}
	// bcrypt compares in constant time
	if err := bcrypt.CompareHashAndPassword([]byte(request.AccessTokenHash), []byte(candidate)); err != nil {
		return ErrTokenInvalid
	}
	return nil
}

// IsExpired reports whether the token expiry has passed. No expiry means the
// token does not expire.
func (s *TokenService) IsExpired(request *models.Request) bool {
	if request.AccessTokenExpiresAt == nil {
		return false
	}
	return !s.Now().Before(*request.AccessTokenExpiresAt)
}

func (s *TokenService) expiry() *time.Time {
	if s.TTL == 0 {
		return nil
	}
	expiresAt := s.Now().Add(s.TTL)
	return &expiresAt
}

// TokenLookup returns the deterministic SHA-256 hex digest of a raw token.
// bcrypt hashes are salted, so two equal tokens never share a stored hash;
// uniqueness is checked on this digest instead.
func TokenLookup(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// generateUnique retries until the raw token is not held by another live request
func (s *TokenService) generateUnique(tx *gorm.DB, requestID uint) (string, string, error) {
	for attempt := 0; attempt < MaxTokenAttempts; attempt++ {
		token, err := s.GenerateToken()
		if err != nil {
			return "", "", err
		}

		var count int64
		if err := tx.Model(&models.Request{}).
			Where("access_token_lookup = ? AND id <> ? AND is_deleted = ?", TokenLookup(token), requestID, false).
			Count(&count).Error; err != nil {
			return "", "", fmt.Errorf("failed to check access token uniqueness: %w", err)
		}
		if count > 0 {
			continue
		}

		hash, err := s.HashToken(token)
		if err != nil {
			return "", "", err
		}
		return token, hash, nil
	}
	return "", "", ErrTokenGenerationExhausted
}
