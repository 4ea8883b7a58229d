package api

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/phrazzld/fintrack-api/internal/domain"
)

// multipartOverhead is the allowance for form fields and part headers on
// top of the file limit.
const multipartOverhead = 64 << 10

// errUploadTooLarge is returned when the request body exceeds its limit.
var errUploadTooLarge = errors.New("upload exceeds the size limit")

// fileUpload is a single-file multipart submission.
type fileUpload struct {
	AccountID   uuid.UUID
	FileName    string
	ContentType string
	Content     []byte
	Fields      map[string]string
}

// readFileUpload reads the "file" part and the "account_id" field of a
// multipart request. Bodies above maxBytes plus form overhead are rejected.
func readFileUpload(w http.ResponseWriter, r *http.Request, maxBytes int64, fields ...string) (*fileUpload, error) {
	if r.ContentLength > maxBytes+multipartOverhead {
		return nil, errUploadTooLarge
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+multipartOverhead)
	if err := r.ParseMultipartForm(maxBytes + multipartOverhead); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, errUploadTooLarge
		}
		return nil, domain.NewValidationError("body", "must be a multipart form", domain.ErrInvalidFormat)
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	accountID, err := uuid.Parse(strings.TrimSpace(r.FormValue("account_id")))
	if err != nil {
		return nil, domain.NewValidationError("account_id", "must be a UUID", domain.ErrInvalidID)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, domain.NewValidationError("file", "is required", domain.ErrValidation)
	}
	defer func() { _ = file.Close() }()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read uploaded file: %w", err)
	}

	contentType := header.Header.Get("Content-Type")
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		contentType = mediaType
	}

	up := &fileUpload{
		AccountID:   accountID,
		FileName:    header.Filename,
		ContentType: contentType,
		Content:     content,
		Fields:      make(map[string]string, len(fields)),
	}
	for _, name := range fields {
		up.Fields[name] = r.FormValue(name)
	}
	return up, nil
}
