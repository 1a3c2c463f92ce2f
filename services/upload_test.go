package services

import (
	"bytes"
	"io"
	"mime/multipart"
	"net/textproto"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createMockFileHeader(filename string, content []byte, contentType string) *multipart.FileHeader {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="attachments"; filename="`+filename+`"`)
	header.Set("Content-Type", contentType)
	part, _ := writer.CreatePart(header)
	part.Write(content)
	writer.Close()

	reader := multipart.NewReader(body, writer.Boundary())
	form, _ := reader.ReadForm(10 * 1024 * 1024)
	return form.File["attachments"][0]
}

func testRules() AttachmentRules {
	return AttachmentRules{
		MaxTotalSize:      1024,
		AllowedTypes:      []string{"application/pdf", "image/jpeg", "image/png", "text/plain"},
		AllowedExtensions: []string{".pdf", ".png", ".jpg", ".jpeg", ".txt"},
	}
}

func TestValidateAttachments(t *testing.T) {
	t.Run("Valid files", func(t *testing.T) {
		uploads := []*Upload{
			{Filename: "scan.pdf", ContentType: "application/pdf", Size: 100},
			{Filename: "photo.JPG", ContentType: "image/jpeg", Size: 200},
		}
		assert.NoError(t, ValidateAttachments(testRules(), uploads))
	})

	t.Run("Combined size over limit", func(t *testing.T) {
		uploads := []*Upload{
			{Filename: "a.pdf", ContentType: "application/pdf", Size: 600},
			{Filename: "b.pdf", ContentType: "application/pdf", Size: 600},
		}
		err := ValidateAttachments(testRules(), uploads)
		require.Error(t, err)
		var vErr *ValidationError
		assert.ErrorAs(t, err, &vErr)
		assert.Equal(t, "attachments", vErr.Field)
	})

	t.Run("Extension not allowed", func(t *testing.T) {
		uploads := []*Upload{{Filename: "tool.exe", ContentType: "application/pdf", Size: 10}}
		err := ValidateAttachments(testRules(), uploads)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not allowed")
	})

	t.Run("Content type not allowed", func(t *testing.T) {
		uploads := []*Upload{{Filename: "page.pdf", ContentType: "text/html", Size: 10}}
		err := ValidateAttachments(testRules(), uploads)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "text/html")
	})

	t.Run("Missing content type is guessed", func(t *testing.T) {
		up := &Upload{Filename: "scan.pdf", Size: 10}
		assert.NoError(t, ValidateAttachments(testRules(), []*Upload{up}))
		assert.Equal(t, "application/pdf", up.ContentType)
	})

	t.Run("No files", func(t *testing.T) {
		assert.NoError(t, ValidateAttachments(testRules(), nil))
	})
}

func TestDetectContentType(t *testing.T) {
	assert.Equal(t, "text/plain", DetectContentType("text/plain; charset=utf-8", "notes.txt"))
	assert.Equal(t, "image/png", DetectContentType("", "image.png"))
	assert.Equal(t, "application/octet-stream", DetectContentType("", "noext"))
}

func TestOpenUploads(t *testing.T) {
	fh := createMockFileHeader("report.pdf", []byte("%PDF-1.4 body"), "application/pdf")

	uploads, closeAll, err := OpenUploads([]*multipart.FileHeader{fh})
	require.NoError(t, err)
	defer closeAll()

	require.Len(t, uploads, 1)
	assert.Equal(t, "report.pdf", uploads[0].Filename)
	assert.Equal(t, "application/pdf", uploads[0].ContentType)
	assert.Equal(t, int64(len("%PDF-1.4 body")), uploads[0].Size)

	data, err := io.ReadAll(uploads[0].Body)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "%PDF"))
}
