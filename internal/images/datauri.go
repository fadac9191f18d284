package images

import (
	"encoding/base64"
	"errors"
	"strings"

	"chatimport/internal/capture"
)

var (
	errNotDataURI   = errors.New("not a data URI")
	errNotBase64    = errors.New("data URI is not base64 encoded")
	errNotImageData = errors.New("data URI is not an image")
	errEmptyPayload = errors.New("data URI has an empty payload")
)

// IsDataURI reports whether raw is an inline data URL.
func IsDataURI(raw string) bool {
	return len(raw) >= 5 && strings.EqualFold(raw[:5], "data:")
}

// DecodeDataURI decodes a base64 image data URI such as
// "data:image/png;base64,iVBOR...".
func DecodeDataURI(raw string) (*Image, error) {
	if !IsDataURI(raw) {
		return nil, errNotDataURI
	}
	meta, payload, ok := strings.Cut(raw[5:], ",")
	if !ok {
		return nil, errors.New("data URI has no payload separator")
	}

	params := strings.Split(meta, ";")
	mediaType := capture.MediaType(params[0])
	if !strings.EqualFold(strings.TrimSpace(params[len(params)-1]), "base64") {
		return nil, errNotBase64
	}
	if !strings.HasPrefix(mediaType, "image/") {
		return nil, errNotImageData
	}

	payload = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, payload)

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		var rawErr error
		data, rawErr = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		if rawErr != nil {
			return nil, err
		}
	}
	if len(data) == 0 {
		return nil, errEmptyPayload
	}
	return &Image{Data: data, ContentType: mediaType}, nil
}
