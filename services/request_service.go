package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log"
	"strings"
	"time"

	"contact_flow_app_go/config"
	"contact_flow_app_go/models"

	"github.com/microcosm-cc/bluemonday"
	"gorm.io/gorm"
)

// Sort options of the request listings
const (
	SortNewest  = "newest"
	SortOldest  = "oldest"
	SortStatus  = "status"
	SortCompany = "company"
)

var textPolicy = bluemonday.StrictPolicy()

// RequestInput carries the submitter fields of a request. Lengths count
// characters, not bytes.
type RequestInput struct {
	FirstName   string `json:"first_name" validate:"required,max=100"`
	LastName    string `json:"last_name" validate:"required,max=100"`
	Phone       string `json:"phone" validate:"required,max=20"`
	Email       string `json:"email" validate:"required,max=254,email"`
	Company     string `json:"company" validate:"company"`
	CompanyName string `json:"company_name" validate:"max=255"`
	Message     string `json:"message" validate:"required,max=10000"`
}

// Normalize trims every field, lowercases the email and strips markup from
// the free-text fields
func (in *RequestInput) Normalize() {
	in.FirstName = cleanText(in.FirstName)
	in.LastName = cleanText(in.LastName)
	in.Phone = strings.TrimSpace(in.Phone)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Company = strings.TrimSpace(in.Company)
	in.CompanyName = cleanText(in.CompanyName)
	in.Message = cleanText(in.Message)
}

// Validate checks that the required fields are present and well formed
func (in *RequestInput) Validate() error {
	return validateStruct(in)
}

// cleanText strips markup and keeps the text as typed, entities decoded
func cleanText(s string) string {
	return strings.TrimSpace(html.UnescapeString(textPolicy.Sanitize(s)))
}

// StaffUpdate holds the fields staff may change. Nil fields are left as is.
type StaffUpdate struct {
	Status        *string
	SetDepartment bool
	DepartmentID  *uint
	AccessEnabled *bool
	FinalChanges  *string
	FinalResponse *string
	// ExpectedVersion guards against overwriting a concurrent edit; 0 skips the check
	ExpectedVersion int
}

// PublicUpdate holds the fields a token holder may change
type PublicUpdate struct {
	FirstName       *string
	LastName        *string
	Phone           *string
	Email           *string
	Company         *string
	CompanyName     *string
	Message         *string
	ExpectedVersion int
}

// RequestService runs the request lifecycle: creation, staff and holder edits,
// access resets. Each mutation and its history entries share a transaction.
type RequestService struct {
	DB               *gorm.DB
	Tokens           *TokenService
	Storage          StorageProvider
	Mailer           Mailer
	Rules            AttachmentRules
	AppURL           string
	NotifyRecipients []string
}

// NewRequestService wires a request service from the global providers
func NewRequestService(db *gorm.DB, cfg *config.Config) *RequestService {
	return &RequestService{
		DB:               db,
		Tokens:           Tokens,
		Storage:          Storage,
		Mailer:           Mail,
		Rules:            AttachmentRulesFromConfig(cfg),
		AppURL:           cfg.AppURL,
		NotifyRecipients: NotificationRecipients(cfg),
	}
}

// CreateRequest stores a submission with its attachments, issues the access
// token and emails it. When delivery fails the request is removed again and
// ErrDeliveryFailed is returned, since the token is the submitter's only way back.
func (s *RequestService) CreateRequest(ctx context.Context, input RequestInput, uploads []*Upload, createdBy *string) (*models.Request, string, error) {
	input.Normalize()
	if err := input.Validate(); err != nil {
		return nil, "", err
	}
	if err := ValidateAttachments(s.Rules, uploads); err != nil {
		return nil, "", err
	}

	request := &models.Request{
		FirstName:     input.FirstName,
		LastName:      input.LastName,
		Phone:         input.Phone,
		Email:         input.Email,
		Company:       input.Company,
		CompanyName:   input.CompanyName,
		Message:       input.Message,
		Status:        models.StatusNew,
		AccessEnabled: true,
		CreatedByID:   createdBy,
		Version:       1,
	}

	var token string
	var storedKeys []string
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		token, err = s.Tokens.Issue(tx, request)
		if err != nil {
			return err
		}
		if err := tx.Create(request).Error; err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}

		if _, err := LogActivity(tx, ActivityInput{
			RequestID: request.ID,
			Type:      models.ActivitySystem,
			Message:   "Request created",
			ActorID:   createdBy,
			IsPublic:  true,
			Meta:      map[string]interface{}{"status": request.Status},
		}); err != nil {
			return err
		}

		storedKeys, err = s.storeAttachments(ctx, tx, request, uploads, createdBy, false)
		return err
	})
	if err != nil {
		s.deleteObjects(ctx, storedKeys)
		return nil, "", err
	}

	if err := s.deliver(request, token); err != nil {
		log.Printf("[ERROR] Failed to send emails for request %d, rolling back: %v", request.ID, err)
		if delErr := s.DB.Transaction(func(tx *gorm.DB) error {
			_, delErr := deleteRequestRows(tx, []uint{request.ID})
			return delErr
		}); delErr != nil {
			log.Printf("[ERROR] Failed to remove request %d after delivery failure: %v", request.ID, delErr)
		}
		s.deleteObjects(ctx, storedKeys)
		return nil, "", fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	RequestsCreated.WithLabelValues(request.Company).Inc()
	return request, token, nil
}

// deliver sends the token email and the internal notification
func (s *RequestService) deliver(request *models.Request, token string) error {
	if s.Mailer == nil {
		return nil
	}

	email, err := BuildAccessTokenEmail(request, token, s.AppURL)
	if err != nil {
		return err
	}
	if err := s.Mailer.Send(email); err != nil {
		return err
	}

	link := strings.TrimSuffix(s.AppURL, "/") + fmt.Sprintf("/staff/requests/%d", request.ID)
	notice, err := BuildCompanyNotificationEmail(request, link, s.NotifyRecipients)
	if err != nil {
		return err
	}
	if notice != nil {
		return s.Mailer.Send(notice)
	}
	return nil
}

// storeAttachments uploads files and records them with a file_upload entry each.
// The returned keys let the caller remove the objects when the transaction fails.
func (s *RequestService) storeAttachments(ctx context.Context, tx *gorm.DB, request *models.Request, uploads []*Upload, uploadedBy *string, public bool) ([]string, error) {
	var keys []string
	for _, up := range uploads {
		if up == nil {
			continue
		}
		if s.Storage == nil {
			return keys, fmt.Errorf("storage not configured")
		}

		key := GenerateAttachmentKey(request.ID, up.Filename)
		result, err := s.Storage.UploadReader(ctx, up.Body, key, up.ContentType, up.Size)
		if err != nil {
			return keys, fmt.Errorf("failed to store attachment: %w", err)
		}
		keys = append(keys, key)

		attachment := models.Attachment{
			RequestID:    request.ID,
			StorageKey:   key,
			OriginalName: up.Filename,
			ContentType:  up.ContentType,
			Size:         result.FileSize,
			UploadedByID: uploadedBy,
		}
		if err := tx.Create(&attachment).Error; err != nil {
			return keys, fmt.Errorf("failed to record attachment: %w", err)
		}

		if _, err := LogActivity(tx, ActivityInput{
			RequestID: request.ID,
			Type:      models.ActivityFileUpload,
			Message:   "Uploaded " + attachment.OriginalName,
			ActorID:   uploadedBy,
			IsPublic:  public,
			Meta: map[string]interface{}{
				"attachment_id": attachment.ID,
				"content_type":  attachment.ContentType,
			},
		}); err != nil {
			return keys, err
		}
	}
	return keys, nil
}

func (s *RequestService) deleteObjects(ctx context.Context, keys []string) {
	if s.Storage == nil {
		return
	}
	for _, key := range keys {
		if err := s.Storage.Delete(ctx, key); err != nil {
			log.Printf("[WARNING] Failed to delete stored object %s: %v", key, err)
		}
	}
}

// StaffUpdateRequest applies a staff edit. Status, department and access
// changes each append their history entry in the same transaction; a status
// set to its current value is not logged.
func (s *RequestService) StaffUpdateRequest(ctx context.Context, p Principal, id uint, upd StaffUpdate, uploads []*Upload) (*models.Request, error) {
	if !p.IsStaff() {
		return nil, ErrForbidden
	}

	request, err := GetRequest(s.DB, id, true)
	if err != nil {
		return nil, err
	}
	if err := Authorize(s.Tokens, p, request, PermEdit); err != nil {
		return nil, err
	}
	if upd.ExpectedVersion != 0 && upd.ExpectedVersion != request.Version {
		return nil, ErrVersionConflict
	}
	if upd.Status != nil && !models.IsValidStatus(*upd.Status) {
		return nil, NewValidationError("status", "select a valid status")
	}
	if upd.SetDepartment && !p.IsAdmin() {
		return nil, ErrForbidden
	}
	if err := ValidateAttachments(s.Rules, uploads); err != nil {
		return nil, err
	}

	now := time.Now()
	updates := map[string]interface{}{}
	var entries []ActivityInput
	actor := p.ActorID()

	if upd.Status != nil && *upd.Status != request.Status {
		updates["status"] = *upd.Status
		entries = append(entries, ActivityInput{
			RequestID: request.ID,
			Type:      models.ActivityStatusChange,
			Message:   "Status changed to " + *upd.Status,
			ActorID:   actor,
			Meta:      statusMeta(request.Status, *upd.Status),
		})
	}

	if upd.SetDepartment && !sameOptionalID(upd.DepartmentID, request.DepartmentID) {
		if upd.DepartmentID != nil {
			var count int64
			if err := s.DB.Model(&models.Department{}).Where("id = ?", *upd.DepartmentID).Count(&count).Error; err != nil {
				return nil, err
			}
			if count == 0 {
				return nil, NewValidationError("department_id", "department does not exist")
			}
		}
		updates["department_id"] = upd.DepartmentID
		var deptMeta interface{}
		if upd.DepartmentID != nil {
			deptMeta = *upd.DepartmentID
		}
		entries = append(entries, ActivityInput{
			RequestID: request.ID,
			Type:      models.ActivityAssignment,
			Message:   "Department reassigned",
			ActorID:   actor,
			Meta:      map[string]interface{}{"department_id": deptMeta},
		})
	}

	if upd.AccessEnabled != nil && *upd.AccessEnabled != request.AccessEnabled {
		updates["access_enabled"] = *upd.AccessEnabled
		state := "disabled"
		if *upd.AccessEnabled {
			state = "enabled"
		}
		entries = append(entries, ActivityInput{
			RequestID: request.ID,
			Type:      models.ActivitySystem,
			Message:   "Access " + state,
			ActorID:   actor,
		})
	}

	if upd.FinalChanges != nil && cleanText(*upd.FinalChanges) != request.FinalChanges {
		updates["final_changes"] = cleanText(*upd.FinalChanges)
	}
	if upd.FinalResponse != nil && cleanText(*upd.FinalResponse) != request.FinalResponse {
		updates["final_response"] = cleanText(*upd.FinalResponse)
	}

	if len(updates) == 0 && len(uploads) == 0 {
		return request, nil
	}

	oldValues := auditSnapshot(request)
	var storedKeys []string
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		if len(updates) > 0 {
			if err := conditionalUpdate(tx, request, updates, now); err != nil {
				return err
			}
		}
		if err := logActivities(tx, entries); err != nil {
			return err
		}

		var err error
		storedKeys, err = s.storeAttachments(ctx, tx, request, uploads, actor, false)
		if err != nil {
			return err
		}

		action := models.AuditActionUpdate
		if _, ok := updates["status"]; ok {
			action = models.AuditActionStatusChange
		}
		return LogAudit(tx, AuditFromPrincipal(p), action, &request.ID,
			fmt.Sprintf("Updated request #%d", request.ID), oldValues, updates)
	})
	if err != nil {
		s.deleteObjects(ctx, storedKeys)
		return nil, err
	}

	return GetRequest(s.DB, id, true)
}

// PublicUpdateRequest applies a token holder's edit. Only new requests can be
// edited; the status guard is part of the UPDATE so a concurrent staff change
// wins and the holder gets ErrLocked.
func (s *RequestService) PublicUpdateRequest(ctx context.Context, p Principal, id uint, upd PublicUpdate, uploads []*Upload) (*models.Request, error) {
	request, err := GetRequest(s.DB, id, false)
	if err != nil {
		return nil, err
	}
	if err := Authorize(s.Tokens, p, request, PermEdit); err != nil {
		return nil, err
	}
	if upd.ExpectedVersion != 0 && upd.ExpectedVersion != request.Version {
		return nil, ErrVersionConflict
	}

	input := RequestInput{
		FirstName:   pick(upd.FirstName, request.FirstName),
		LastName:    pick(upd.LastName, request.LastName),
		Phone:       pick(upd.Phone, request.Phone),
		Email:       pick(upd.Email, request.Email),
		Company:     pick(upd.Company, request.Company),
		CompanyName: pick(upd.CompanyName, request.CompanyName),
		Message:     pick(upd.Message, request.Message),
	}
	input.Normalize()
	if err := input.Validate(); err != nil {
		return nil, err
	}
	if err := ValidateAttachments(s.Rules, uploads); err != nil {
		return nil, err
	}

	fields := []struct {
		name     string
		previous string
		current  string
	}{
		{models.FieldFirstName, request.FirstName, input.FirstName},
		{models.FieldLastName, request.LastName, input.LastName},
		{models.FieldPhone, request.Phone, input.Phone},
		{models.FieldEmail, request.Email, input.Email},
		{models.FieldCompany, request.Company, input.Company},
		{models.FieldCompanyName, request.CompanyName, input.CompanyName},
		{models.FieldMessage, request.Message, input.Message},
	}

	updates := map[string]interface{}{}
	var changes []models.ClientChangeLog
	for _, f := range fields {
		if f.previous == f.current {
			continue
		}
		updates[f.name] = f.current
		changes = append(changes, models.ClientChangeLog{
			RequestID:     request.ID,
			Field:         f.name,
			PreviousValue: f.previous,
			NewValue:      f.current,
		})
	}

	if len(updates) == 0 && len(uploads) == 0 {
		return request, nil
	}

	var storedKeys []string
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		if err := conditionalUpdate(tx, request, updates, time.Now(), holderEditable); err != nil {
			return err
		}
		if len(changes) > 0 {
			if err := tx.Create(&changes).Error; err != nil {
				return fmt.Errorf("failed to record changes: %w", err)
			}
		}

		var err error
		storedKeys, err = s.storeAttachments(ctx, tx, request, uploads, nil, true)
		if err != nil {
			return err
		}

		_, err = LogActivity(tx, ActivityInput{
			RequestID: request.ID,
			Type:      models.ActivityComment,
			Message:   "Public update submitted",
			IsPublic:  true,
		})
		return err
	})
	if err != nil {
		s.deleteObjects(ctx, storedKeys)
		return nil, s.explainConflict(id, err)
	}

	return GetRequest(s.DB, id, false)
}

// PublicDeleteRequest moves a token holder's own request to the trash while
// it is still new
func (s *RequestService) PublicDeleteRequest(ctx context.Context, p Principal, id uint) error {
	request, err := GetRequest(s.DB, id, false)
	if err != nil {
		return err
	}
	if err := Authorize(s.Tokens, p, request, PermEdit); err != nil {
		return err
	}

	err = s.DB.Transaction(func(tx *gorm.DB) error {
		if err := conditionalUpdate(tx, request, map[string]interface{}{"is_deleted": true}, time.Now(), holderEditable); err != nil {
			return err
		}
		_, err := LogActivity(tx, ActivityInput{
			RequestID: request.ID,
			Type:      models.ActivitySystem,
			Message:   "Request deleted by submitter",
		})
		return err
	})
	return s.explainConflict(id, err)
}

// ResetAccess rotates the access token of a request on behalf of staff and
// returns the new raw token
func (s *RequestService) ResetAccess(ctx context.Context, p Principal, id uint) (string, error) {
	if !p.IsStaff() {
		return "", ErrForbidden
	}
	request, err := GetRequest(s.DB, id, true)
	if err != nil {
		return "", err
	}
	if err := Authorize(s.Tokens, p, request, PermEdit); err != nil {
		return "", err
	}

	var token string
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		var err error
		token, err = s.Tokens.Rotate(tx, request)
		if err != nil {
			return err
		}
		if _, err := LogActivity(tx, ActivityInput{
			RequestID: request.ID,
			Type:      models.ActivitySystem,
			Message:   "Access link reset",
			ActorID:   p.ActorID(),
		}); err != nil {
			return err
		}
		return LogAudit(tx, AuditFromPrincipal(p), models.AuditActionResetAccess, &request.ID,
			fmt.Sprintf("Reset access link of request #%d", request.ID), nil, nil)
	})
	if err != nil {
		return "", err
	}

	TokenRotations.Inc()
	return token, nil
}

// explainConflict turns a failed guarded update into ErrLocked when the
// request left the new status in the meantime
func (s *RequestService) explainConflict(id uint, err error) error {
	if !errors.Is(err, ErrVersionConflict) {
		return err
	}
	var current models.Request
	if lookupErr := s.DB.Select("id", "status", "is_deleted").First(&current, id).Error; lookupErr != nil {
		return ErrNotFound
	}
	if current.IsDeleted {
		return ErrNotFound
	}
	if current.Status != models.StatusNew {
		return ErrLocked
	}
	return err
}

// holderEditable limits an update to rows a token holder may still change
func holderEditable(db *gorm.DB) *gorm.DB {
	return db.Where("status = ? AND is_deleted = ? AND access_enabled = ?", models.StatusNew, false, true)
}

// conditionalUpdate writes updates only if the row still has the version that
// was read, bumping version and updated_at. Scopes add guard conditions.
func conditionalUpdate(tx *gorm.DB, request *models.Request, updates map[string]interface{}, now time.Time, guards ...func(*gorm.DB) *gorm.DB) error {
	values := make(map[string]interface{}, len(updates)+2)
	for k, v := range updates {
		values[k] = v
	}
	values["updated_at"] = now
	values["version"] = gorm.Expr("version + 1")

	result := tx.Model(&models.Request{}).
		Where("id = ? AND version = ?", request.ID, request.Version).
		Scopes(guards...).
		Updates(values)
	if result.Error != nil {
		return fmt.Errorf("failed to update request: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrVersionConflict
	}
	return nil
}

func pick(value *string, fallback string) string {
	if value == nil {
		return fallback
	}
	return *value
}

func sameOptionalID(a, b *uint) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// GetRequest loads a request with its department and attachments
func GetRequest(db *gorm.DB, id uint, includeDeleted bool) (*models.Request, error) {
	query := db.Preload("Department").Preload("Attachments")
	if !includeDeleted {
		query = query.Where("is_deleted = ?", false)
	}

	var request models.Request
	if err := query.First(&request, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &request, nil
}

// ListOptions filters and orders request listings
type ListOptions struct {
	Sort         string
	Company      string
	Status       string
	DepartmentID *uint
}

func applyListOptions(query *gorm.DB, opts ListOptions) *gorm.DB {
	if opts.Company != "" && opts.Company != "all" {
		query = query.Where("requests.company = ?", opts.Company)
	}
	if opts.Status != "" && models.IsValidStatus(opts.Status) {
		query = query.Where("requests.status = ?", opts.Status)
	}
	if opts.DepartmentID != nil {
		query = query.Where("requests.department_id = ?", *opts.DepartmentID)
	}

	switch opts.Sort {
	case SortOldest:
		return query.Order("requests.created_at ASC").Order("requests.id ASC")
	case SortStatus:
		return query.Order("requests.status ASC").Order("requests.created_at DESC").Order("requests.id DESC")
	case SortCompany:
		return query.Order("requests.company ASC").Order("requests.created_at DESC").Order("requests.id DESC")
	default:
		return query.Order("requests.created_at DESC").Order("requests.id DESC")
	}
}

// ListRequests returns requests outside the trash, newest first unless
// another sort is asked for
func ListRequests(db *gorm.DB, opts ListOptions) ([]models.Request, error) {
	var requests []models.Request
	err := applyListOptions(db.Model(&models.Request{}).Where("requests.is_deleted = ?", false), opts).
		Preload("Attachments").
		Find(&requests).Error
	return requests, err
}

// FilterByIDs returns the requests of ids that are not in the trash, newest first
func FilterByIDs(db *gorm.DB, ids []uint) ([]models.Request, error) {
	if len(ids) == 0 {
		return []models.Request{}, nil
	}
	var requests []models.Request
	err := db.Where("id IN ? AND is_deleted = ?", ids, false).
		Order("created_at DESC").Order("id DESC").
		Find(&requests).Error
	return requests, err
}

// ListDeleted returns the trash, most recently changed first
func ListDeleted(db *gorm.DB) ([]models.Request, error) {
	var requests []models.Request
	err := db.Where("is_deleted = ?", true).
		Preload("Attachments").
		Order("updated_at DESC").Order("id DESC").
		Find(&requests).Error
	return requests, err
}

// ListStaffRequests returns one page of the requests the caller may see.
// Employees only ever see their department, whatever filter they send.
func ListStaffRequests(db *gorm.DB, p Principal, opts ListOptions, page, pageSize int) ([]models.Request, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	if !p.IsAdmin() {
		opts.DepartmentID = nil
	}

	query := ScopeRequests(db.Model(&models.Request{}).Where("requests.is_deleted = ?", false), p)
	query = applyListOptions(query, opts)

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var requests []models.Request
	err := query.Preload("Department").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&requests).Error
	return requests, total, err
}

// RequestChangeLog returns the submitter's field edits of a request, oldest first
func RequestChangeLog(db *gorm.DB, requestID uint) ([]models.ClientChangeLog, error) {
	var changes []models.ClientChangeLog
	err := db.Where("request_id = ?", requestID).
		Order("created_at ASC").Order("id ASC").
		Find(&changes).Error
	return changes, err
}
