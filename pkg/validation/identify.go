package validation

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"sadhana-metering/pkg/api"
)

var supportedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/gif":  true,
}

// IdentifyRequestValidator validates image identification requests
type IdentifyRequestValidator struct {
	MaxImageBytes int
}

func NewIdentifyRequestValidator(maxImageBytes int) *IdentifyRequestValidator {
	return &IdentifyRequestValidator{MaxImageBytes: maxImageBytes}
}

// ValidateIdentifyRequest checks the mime type and returns the decoded image.
// A data URL prefix on the payload is tolerated.
func (v *IdentifyRequestValidator) ValidateIdentifyRequest(req api.IdentifyRequest) ([]byte, error) {
	if !supportedImageTypes[req.MimeType] {
		return nil, fmt.Errorf("mime_type must be one of image/jpeg, image/png, image/webp, image/gif; got %q", req.MimeType)
	}

	payload := req.Image
	if i := strings.Index(payload, ";base64,"); strings.HasPrefix(payload, "data:") && i >= 0 {
		payload = payload[i+len(";base64,"):]
	}
	if payload == "" {
		return nil, errors.New("image cannot be empty")
	}
	if v.MaxImageBytes > 0 && base64.StdEncoding.DecodedLen(len(payload)) > v.MaxImageBytes+2 {
		return nil, fmt.Errorf("image must be at most %d bytes", v.MaxImageBytes)
	}

	image, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("image must be base64 encoded: %w", err)
	}
	if v.MaxImageBytes > 0 && len(image) > v.MaxImageBytes {
		return nil, fmt.Errorf("image must be at most %d bytes, got %d", v.MaxImageBytes, len(image))
	}
	return image, nil
}
