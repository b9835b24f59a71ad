// Package imagecheck performs structural validation of uploaded scan images.
//
// Only metadata and the leading bytes are inspected; nothing is decoded, so the
// check is constant time regardless of what the payload claims to contain.
package imagecheck

import (
	"bytes"
	"fmt"
)

// MaxBytes is the largest accepted image (2 MiB).
const MaxBytes = 2 << 20

// ContentTypeJPEG is the only accepted declared content type.
const ContentTypeJPEG = "image/jpeg"

// jpegSOI is the JPEG start-of-image marker plus the first marker prefix.
var jpegSOI = []byte{0xFF, 0xD8, 0xFF}

// Reason identifies why an image was rejected. Values are sent to clients.
type Reason string

const (
	ReasonEmpty            Reason = "empty"
	ReasonWrongContentType Reason = "wrong_content_type"
	ReasonTooLarge         Reason = "too_large"
	ReasonBadMagicBytes    Reason = "bad_magic_bytes"
)

// ValidationError reports a rejected image.
type ValidationError struct {
	Reason Reason
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid image: %s", e.Reason)
}

// Message is a short human-readable description for the response body.
func (e *ValidationError) Message() string {
	switch e.Reason {
	case ReasonEmpty:
		return "image is empty"
	case ReasonWrongContentType:
		return "only JPEG images are accepted"
	case ReasonTooLarge:
		return "image exceeds the 2 MB limit"
	case ReasonBadMagicBytes:
		return "file does not appear to be a valid JPEG"
	default:
		return "invalid image"
	}
}

// Validate checks data cheapest-first: empty, declared content type, size, magic bytes.
// contentType may be empty when the client declared none; otherwise it must be exactly
// image/jpeg. Returns *ValidationError on rejection.
func Validate(data []byte, contentType string) error {
	if len(data) == 0 {
		return &ValidationError{Reason: ReasonEmpty}
	}
	if contentType != "" && contentType != ContentTypeJPEG {
		return &ValidationError{Reason: ReasonWrongContentType}
	}
	if len(data) > MaxBytes {
		return &ValidationError{Reason: ReasonTooLarge}
	}
	if !bytes.HasPrefix(data, jpegSOI) {
		return &ValidationError{Reason: ReasonBadMagicBytes}
	}
	return nil
}
