package services

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"contact_flow_app_go/models"

	"gorm.io/gorm"
)

// ThrottleStore is a keyed counter store whose entries expire on their own
type ThrottleStore interface {
	// Hit increments the counter of key, starting a fresh window when no live entry exists
	Hit(key string, window time.Duration) (int, time.Time, error)
	// Get returns the live entry of key; ok is false when there is none
	Get(key string) (count int, expiresAt time.Time, ok bool, err error)
	Set(key string, count int, ttl time.Duration) error
	Reset(key string) error
}

// Throttle is the global throttle store
var Throttle ThrottleStore

// MemoryThrottleStore keeps entries in process memory
type MemoryThrottleStore struct {
	mu      sync.Mutex
	entries map[string]models.ThrottleEntry
	Now     func() time.Time
}

// NewMemoryThrottleStore creates an empty in-memory store
func NewMemoryThrottleStore() *MemoryThrottleStore {
	return &MemoryThrottleStore{
		entries: make(map[string]models.ThrottleEntry),
		Now:     time.Now,
	}
}

func (m *MemoryThrottleStore) Hit(key string, window time.Duration) (int, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.Now()
	entry, exists := m.entries[key]
	if !exists || entry.IsExpired(now) {
		entry = models.ThrottleEntry{Key: key, Count: 0, ExpiresAt: now.Add(window)}
	}
	entry.Count++
	m.entries[key] = entry
	return entry.Count, entry.ExpiresAt, nil
}

func (m *MemoryThrottleStore) Get(key string) (int, time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.entries[key]
	if !exists || entry.IsExpired(m.Now()) {
		return 0, time.Time{}, false, nil
	}
	return entry.Count, entry.ExpiresAt, true, nil
}

func (m *MemoryThrottleStore) Set(key string, count int, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = models.ThrottleEntry{Key: key, Count: count, ExpiresAt: m.Now().Add(ttl)}
	return nil
}

func (m *MemoryThrottleStore) Reset(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// Prune removes expired entries
func (m *MemoryThrottleStore) Prune() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.Now()
	for key, entry := range m.entries {
		if entry.IsExpired(now) {
			delete(m.entries, key)
		}
	}
}

// DBThrottleStore keeps entries in the database so limits survive restarts
// and are shared by every server instance
type DBThrottleStore struct {
	DB  *gorm.DB
	Now func() time.Time
}

// NewDBThrottleStore creates a database backed store
func NewDBThrottleStore(db *gorm.DB) *DBThrottleStore {
	return &DBThrottleStore{DB: db, Now: time.Now}
}

func (s *DBThrottleStore) Hit(key string, window time.Duration) (int, time.Time, error) {
	var entry models.ThrottleEntry
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		now := s.Now()
		err := tx.Where("throttle_key = ?", key).First(&entry).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if errors.Is(err, gorm.ErrRecordNotFound) || entry.IsExpired(now) {
			entry = models.ThrottleEntry{Key: key, Count: 1, ExpiresAt: now.Add(window)}
			return tx.Save(&entry).Error
		}
		entry.Count++
		return tx.Model(&models.ThrottleEntry{}).Where("throttle_key = ?", key).Update("count", entry.Count).Error
	})
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to record throttle hit: %w", err)
	}
	return entry.Count, entry.ExpiresAt, nil
}

func (s *DBThrottleStore) Get(key string) (int, time.Time, bool, error) {
	var entry models.ThrottleEntry
	err := s.DB.Where("throttle_key = ?", key).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, time.Time{}, false, nil
	}
	if err != nil {
		return 0, time.Time{}, false, fmt.Errorf("failed to read throttle entry: %w", err)
	}
	if entry.IsExpired(s.Now()) {
		return 0, time.Time{}, false, nil
	}
	return entry.Count, entry.ExpiresAt, true, nil
}

func (s *DBThrottleStore) Set(key string, count int, ttl time.Duration) error {
	entry := models.ThrottleEntry{Key: key, Count: count, ExpiresAt: s.Now().Add(ttl)}
	if err := s.DB.Save(&entry).Error; err != nil {
		return fmt.Errorf("failed to write throttle entry: %w", err)
	}
	return nil
}

func (s *DBThrottleStore) Reset(key string) error {
	return s.DB.Where("throttle_key = ?", key).Delete(&models.ThrottleEntry{}).Error
}

// Prune removes expired entries
func (s *DBThrottleStore) Prune() error {
	return s.DB.Where("expires_at <= ?", s.Now()).Delete(&models.ThrottleEntry{}).Error
}

// ThrottledError reports how long the caller has to wait
type ThrottledError struct {
	RetryAfter time.Duration
	Message    string
}

func (e *ThrottledError) Error() string {
	return e.Message
}

// RetryAfterSeconds rounds the wait up to whole seconds, at least one
func (e *ThrottledError) RetryAfterSeconds() int {
	return int(math.Max(1, math.Ceil(e.RetryAfter.Seconds())))
}

// HashedKey builds a store key without keeping the raw identifier
func HashedKey(prefix, identifier string) string {
	if identifier == "" {
		identifier = "anonymous"
	}
	digest := sha256.Sum256([]byte(identifier))
	return prefix + ":" + hex.EncodeToString(digest[:])
}

// SubmissionThrottle spaces out public form submissions per client IP and per
// email address
type SubmissionThrottle struct {
	Store  ThrottleStore
	Window time.Duration
	Now    func() time.Time
}

// NewSubmissionThrottle creates a submission throttle
func NewSubmissionThrottle(store ThrottleStore, window time.Duration) *SubmissionThrottle {
	return &SubmissionThrottle{Store: store, Window: window, Now: time.Now}
}

// Keys returns the store keys of a submission
func (t *SubmissionThrottle) Keys(ip, email string) []string {
	keys := []string{HashedKey("contact_form:ip", ip)}
	if email = strings.ToLower(strings.TrimSpace(email)); email != "" {
		keys = append(keys, HashedKey("contact_form:email", email))
	}
	return keys
}

// Check returns a ThrottledError when any key saw a submission inside the window
func (t *SubmissionThrottle) Check(keys []string) error {
	if t.Window <= 0 {
		return nil
	}
	now := t.Now()
	var remaining time.Duration
	for _, key := range keys {
		_, expiresAt, ok, err := t.Store.Get(key)
		if err != nil {
			return err
		}
		if ok && expiresAt.Sub(now) > remaining {
			remaining = expiresAt.Sub(now)
		}
	}
	if remaining > 0 {
		e := &ThrottledError{RetryAfter: remaining}
		e.Message = fmt.Sprintf("Please wait %d s before submitting the form again.", e.RetryAfterSeconds())
		return e
	}
	return nil
}

// Record starts the window for every key after a successful submission
func (t *SubmissionThrottle) Record(keys []string) error {
	if t.Window <= 0 {
		return nil
	}
	for _, key := range keys {
		if err := t.Store.Set(key, 1, t.Window); err != nil {
			return err
		}
	}
	return nil
}

// loginFailureTTL bounds how long failed attempts are remembered without a block
const loginFailureTTL = 24 * time.Hour

// LoginGuard blocks a client after too many failed sign-ins
type LoginGuard struct {
	Store       ThrottleStore
	MaxAttempts int
	Block       time.Duration
}

// NewLoginGuard creates a login guard
func NewLoginGuard(store ThrottleStore, maxAttempts int, block time.Duration) *LoginGuard {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &LoginGuard{Store: store, MaxAttempts: maxAttempts, Block: block}
}

// Blocked returns a ThrottledError while the client is blocked
func (g *LoginGuard) Blocked(client string) error {
	_, expiresAt, ok, err := g.Store.Get(HashedKey("login:block", client))
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	return blockedError(time.Until(expiresAt))
}

// Fail records a failed attempt. It returns the attempts left, or a
// ThrottledError when this failure triggered a block.
func (g *LoginGuard) Fail(client string) (int, error) {
	failKey := HashedKey("login:fail", client)
	count, _, err := g.Store.Hit(failKey, loginFailureTTL)
	if err != nil {
		return 0, err
	}
	if count < g.MaxAttempts {
		return g.MaxAttempts - count, nil
	}

	if err := g.Store.Set(HashedKey("login:block", client), 1, g.Block); err != nil {
		return 0, err
	}
	if err := g.Store.Reset(failKey); err != nil {
		return 0, err
	}
	LogSecurityEvent("LOGIN_BLOCKED", "", fmt.Sprintf("client blocked for %s after %d failed attempts", g.Block, count))
	return 0, blockedError(g.Block)
}

// Succeed clears the failure counter
func (g *LoginGuard) Succeed(client string) error {
	return g.Store.Reset(HashedKey("login:fail", client))
}

func blockedError(remaining time.Duration) *ThrottledError {
	total := int(math.Max(0, remaining.Seconds()))
	return &ThrottledError{
		RetryAfter: remaining,
		Message:    fmt.Sprintf("Too many failed attempts. Try again in %02d:%02d.", total/60, total%60),
	}
}
