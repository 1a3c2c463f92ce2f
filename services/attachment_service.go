package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"contact_flow_app_go/models"

	"gorm.io/gorm"
)

// AttachmentDownload is an open attachment ready to be streamed
type AttachmentDownload struct {
	Attachment models.Attachment
	Body       io.ReadCloser
}

// OpenAttachment checks download permission on the parent request and opens
// the stored object. Staff downloads are written to the audit log.
func OpenAttachment(ctx context.Context, db *gorm.DB, storage StorageProvider, tokens *TokenService, p Principal, id uint) (*AttachmentDownload, error) {
	var attachment models.Attachment
	if err := db.First(&attachment, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load attachment: %w", err)
	}

	request, err := GetRequest(db, attachment.RequestID, p.IsAdmin())
	if err != nil {
		return nil, err
	}
	if err := Authorize(tokens, p, request, PermDownload); err != nil {
		return nil, err
	}
	if storage == nil {
		return nil, ErrNotFound
	}

	body, _, err := storage.Get(ctx, attachment.StorageKey)
	if err != nil {
		log.Printf("[WARNING] Attachment %d object %s unavailable: %v", attachment.ID, attachment.StorageKey, err)
		return nil, ErrNotFound
	}

	if p.IsStaff() {
		LogAuditEvent(db, AuditFromPrincipal(p), models.AuditActionDownload, &request.ID,
			fmt.Sprintf("Downloaded attachment %s", attachment.OriginalName))
	}
	return &AttachmentDownload{Attachment: attachment, Body: body}, nil
}

// PruneMissingAttachments removes attachment rows whose stored object no
// longer exists. With dryRun set it only reports them.
func PruneMissingAttachments(ctx context.Context, db *gorm.DB, storage StorageProvider, dryRun bool) ([]models.Attachment, error) {
	var attachments []models.Attachment
	if err := db.Order("id ASC").Find(&attachments).Error; err != nil {
		return nil, fmt.Errorf("failed to list attachments: %w", err)
	}

	var missing []models.Attachment
	for _, a := range attachments {
		exists, err := storage.Exists(ctx, a.StorageKey)
		if err != nil {
			return missing, fmt.Errorf("failed to check %s: %w", a.StorageKey, err)
		}
		if !exists {
			missing = append(missing, a)
		}
	}
	if dryRun || len(missing) == 0 {
		return missing, nil
	}

	ids := make([]uint, 0, len(missing))
	for _, a := range missing {
		ids = append(ids, a.ID)
	}
	if err := db.Where("id IN ?", ids).Delete(&models.Attachment{}).Error; err != nil {
		return nil, fmt.Errorf("failed to delete attachment rows: %w", err)
	}
	return missing, nil
}
