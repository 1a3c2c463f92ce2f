package services

import (
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"path/filepath"
	"strings"

	"contact_flow_app_go/config"
)

// Upload is an attachment received with a submission or an edit
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// AttachmentRules limits what may be attached to a request
type AttachmentRules struct {
	MaxTotalSize      int64 // bytes, across all files of one submission
	AllowedTypes      []string
	AllowedExtensions []string
}

// AttachmentRulesFromConfig builds the upload limits from configuration
func AttachmentRulesFromConfig(cfg *config.Config) AttachmentRules {
	return AttachmentRules{
		MaxTotalSize:      int64(cfg.AttachMaxSizeMB) * 1024 * 1024,
		AllowedTypes:      cfg.AttachAllowedTypes,
		AllowedExtensions: cfg.AttachAllowedExtensions,
	}
}

// ValidateAttachments checks the combined size, content type and extension of
// every upload. Missing content types are guessed from the extension.
func ValidateAttachments(rules AttachmentRules, uploads []*Upload) error {
	var total int64
	for _, up := range uploads {
		if up == nil {
			continue
		}
		if up.Size < 0 {
			return NewValidationError("attachments", "unable to determine file size")
		}
		total += up.Size
		if rules.MaxTotalSize > 0 && total > rules.MaxTotalSize {
			return NewValidationError("attachments",
				fmt.Sprintf("combined attachments exceed the %d MB limit", rules.MaxTotalSize/(1024*1024)))
		}

		ext := strings.ToLower(filepath.Ext(up.Filename))
		if len(rules.AllowedExtensions) > 0 && !contains(rules.AllowedExtensions, ext) {
			return NewValidationError("attachments", fmt.Sprintf("files with extension %q are not allowed", ext))
		}

		up.ContentType = DetectContentType(up.ContentType, up.Filename)
		if len(rules.AllowedTypes) > 0 && !contains(rules.AllowedTypes, up.ContentType) {
			return NewValidationError("attachments", fmt.Sprintf("files of type %s are not allowed", up.ContentType))
		}
	}
	return nil
}

// DetectContentType keeps a declared media type, dropping parameters, or
// guesses one from the file name
func DetectContentType(declared, filename string) string {
	if declared != "" {
		if mediaType, _, err := mime.ParseMediaType(declared); err == nil {
			return mediaType
		}
	}
	if guess := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); guess != "" {
		if mediaType, _, err := mime.ParseMediaType(guess); err == nil {
			return mediaType
		}
	}
	return "application/octet-stream"
}

// OpenUploads opens multipart files as uploads. The returned closer releases
// every opened file.
func OpenUploads(files []*multipart.FileHeader) ([]*Upload, func(), error) {
	var opened []multipart.File
	closeAll := func() {
		for _, f := range opened {
			f.Close()
		}
	}

	uploads := make([]*Upload, 0, len(files))
	for _, fh := range files {
		src, err := fh.Open()
		if err != nil {
			closeAll()
			return nil, func() {}, fmt.Errorf("failed to open uploaded file: %w", err)
		}
		opened = append(opened, src)
		uploads = append(uploads, &Upload{
			Filename:    filepath.Base(fh.Filename),
			ContentType: fh.Header.Get("Content-Type"),
			Size:        fh.Size,
			Body:        src,
		})
	}
	return uploads, closeAll, nil
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if strings.EqualFold(item, value) {
			return true
		}
	}
	return false
}
