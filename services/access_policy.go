package services

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"contact_flow_app_go/models"

	"gorm.io/gorm"
)

// Permission is an operation a caller wants to perform on a request
type Permission string

const (
	PermView     Permission = "view"
	PermEdit     Permission = "edit"
	PermDownload Permission = "download"
)

// Principal identifies the caller of a request-level operation. Staff callers
// carry a User and Profile; anonymous callers carry a token and/or the
// session grants, keyed by request ID with the binding they were earned with.
type Principal struct {
	User      *models.User
	Profile   *models.StaffProfile
	Token     string
	Grants    map[uint]string
	IPAddress string
	UserAgent string
}

// IsStaff reports whether the caller signed in as staff
func (p Principal) IsStaff() bool {
	return p.User != nil
}

// IsAdmin reports whether the caller bypasses department scoping
func (p Principal) IsAdmin() bool {
	if p.User != nil && p.User.IsSuperuser {
		return true
	}
	return p.User != nil && p.Profile.IsAdmin()
}

// IsEmployee reports whether the caller is department-scoped staff
func (p Principal) IsEmployee() bool {
	return p.User != nil && !p.IsAdmin() && p.Profile != nil && p.Profile.Role == models.RoleEmployee
}

// ActorID returns the user ID recorded on activities, nil for anonymous callers
func (p Principal) ActorID() *string {
	if p.User == nil {
		return nil
	}
	id := p.User.ID
	return &id
}

// HasGrant reports whether the session verified the request's current token.
// A grant earned with a token that was rotated since no longer matches.
func (p Principal) HasGrant(request *models.Request) bool {
	if request == nil {
		return false
	}
	binding, ok := p.Grants[request.ID]
	if !ok || binding == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(binding), []byte(GrantBinding(request))) == 1
}

// GrantBinding ties a session grant to the token hash held when it was
// issued. It changes whenever the token is rotated.
func GrantBinding(request *models.Request) string {
	if request.AccessTokenHash == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(request.AccessTokenHash))
	return hex.EncodeToString(sum[:8])
}

// Authorize applies the access rules in precedence order: admin, department
// scoped employee, token holder. Staff denials are ErrForbidden, anonymous
// denials are ErrNotFound so IDs cannot be probed.
func Authorize(tokens *TokenService, p Principal, request *models.Request, perm Permission) error {
	if request == nil {
		return ErrNotFound
	}

	if p.IsAdmin() {
		return nil
	}

	if p.IsStaff() && p.Profile != nil {
		if request.IsDeleted {
			return ErrNotFound
		}
		if !sameDepartment(p.Profile.DepartmentID, request.DepartmentID) {
			return ErrForbidden
		}
		return nil
	}

	if !holderAccess(tokens, p, request) {
		return ErrNotFound
	}
	if perm == PermEdit && !request.IsEditableByHolder() {
		return ErrLocked
	}
	return nil
}

// CanView reports whether the caller may see the request
func CanView(tokens *TokenService, p Principal, request *models.Request) bool {
	return Authorize(tokens, p, request, PermView) == nil
}

// CanEdit reports whether the caller may change the request
func CanEdit(tokens *TokenService, p Principal, request *models.Request) bool {
	return Authorize(tokens, p, request, PermEdit) == nil
}

// CanDownload reports whether the caller may fetch an attachment of the request
func CanDownload(tokens *TokenService, p Principal, request *models.Request) bool {
	return Authorize(tokens, p, request, PermDownload) == nil
}

// holderAccess checks the anonymous path. A session grant stands in for a
// fresh token check only while the token it was earned with is current and
// unexpired; the kill switch and trash always apply.
func holderAccess(tokens *TokenService, p Principal, request *models.Request) bool {
	if request.IsDeleted || !request.AccessEnabled {
		return false
	}
	if p.HasGrant(request) && !tokenExpired(tokens, request) {
		return true
	}
	if tokens == nil || p.Token == "" {
		return false
	}
	return tokens.Verify(request, p.Token)
}

func tokenExpired(tokens *TokenService, request *models.Request) bool {
	if tokens != nil {
		return tokens.IsExpired(request)
	}
	return request.AccessTokenExpiresAt != nil && !time.Now().Before(*request.AccessTokenExpiresAt)
}

func sameDepartment(a, b *uint) bool {
	return a != nil && b != nil && *a == *b
}

// ResolveProfile loads the staff profile of a user. Superusers without a
// profile get an admin profile created on first use.
func ResolveProfile(db *gorm.DB, user *models.User) (*models.StaffProfile, error) {
	if user == nil {
		return nil, ErrForbidden
	}

	var profile models.StaffProfile
	err := db.Where("user_id = ?", user.ID).First(&profile).Error
	if err == nil {
		return &profile, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to load staff profile: %w", err)
	}

	if !user.IsSuperuser {
		return nil, ErrForbidden
	}

	profile = models.StaffProfile{UserID: user.ID, Role: models.RoleAdmin}
	if err := db.Create(&profile).Error; err != nil {
		return nil, fmt.Errorf("failed to create admin profile: %w", err)
	}
	return &profile, nil
}

// ScopeRequests restricts a request query to what the caller may list
func ScopeRequests(query *gorm.DB, p Principal) *gorm.DB {
	if p.IsAdmin() {
		return query
	}
	if p.IsStaff() && p.Profile != nil && p.Profile.DepartmentID != nil {
		return query.Where("requests.department_id = ?", *p.Profile.DepartmentID)
	}
	return query.Where("1 = 0")
}
