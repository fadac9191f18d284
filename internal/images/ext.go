package images

import (
	"net/url"
	"path"
	"strings"

	"chatimport/internal/capture"
)

var extByMediaType = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
	"image/jpg":  "jpg",
	"image/gif":  "gif",
	"image/webp": "webp",
}

var extBySuffix = map[string]string{
	".png":  "png",
	".jpg":  "jpg",
	".jpeg": "jpg",
	".gif":  "gif",
	".webp": "webp",
}

var mediaTypeByExt = map[string]string{
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"gif":  "image/gif",
	"webp": "image/webp",
}

// Extension picks a file extension from the content type, then from the URL
// path suffix, and defaults to png.
func Extension(contentType, rawURL string) string {
	if ext, ok := extByMediaType[capture.MediaType(contentType)]; ok {
		return ext
	}
	if !IsDataURI(rawURL) {
		if u, err := url.Parse(rawURL); err == nil {
			if ext, ok := extBySuffix[strings.ToLower(path.Ext(u.Path))]; ok {
				return ext
			}
		}
	}
	return "png"
}

// MimeType returns the attachment MIME type: the declared image type when
// there is one, otherwise the type implied by ext.
func MimeType(contentType, ext string) string {
	if mt := capture.MediaType(contentType); strings.HasPrefix(mt, "image/") {
		return mt
	}
	if mt, ok := mediaTypeByExt[ext]; ok {
		return mt
	}
	return "image/png"
}
