package imagefile

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

var (
	ErrEmpty           = errors.New("image is empty")
	ErrUnsupportedType = errors.New("unsupported image type")
)

// DefaultAllowedTypes lists the media types accepted when no explicit list is configured.
var DefaultAllowedTypes = []string{"image/jpeg", "image/png", "image/webp"}

// File is a validated source image. It is never mutated after construction.
type File struct {
	Data     []byte
	MIMEType string
	Name     string
}

// New validates data against the allowed media types and returns a File.
// The declared type must be allowed and must agree with the sniffed content type;
// an empty declared type is replaced by the sniffed one.
func New(name, declaredType string, data []byte, allowed []string) (*File, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	if len(allowed) == 0 {
		allowed = DefaultAllowedTypes
	}

	detected := mimetype.Detect(data)
	declared := normalizeType(declaredType)
	if declared == "" {
		declared = normalizeType(detected.String())
	}
	if !isAllowed(declared, allowed) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, declared)
	}
	if !detected.Is(declared) {
		return nil, fmt.Errorf("%w: declared %s but content is %s", ErrUnsupportedType, declared, detected.String())
	}

	return &File{Data: data, MIMEType: declared, Name: strings.TrimSpace(name)}, nil
}

// Base64 returns the standard base64 encoding of the image bytes.
func (f *File) Base64() string {
	return base64.StdEncoding.EncodeToString(f.Data)
}

func normalizeType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if i := strings.IndexByte(t, ';'); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	if t == "image/jpg" {
		return "image/jpeg"
	}
	return t
}

func isAllowed(t string, allowed []string) bool {
	for _, a := range allowed {
		if normalizeType(a) == t {
			return true
		}
	}
	return false
}
