package chat

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"

	"ykchat/internal/pkg/errs"
)

const (
	// DefaultMaxImageSizeMB is the image size limit when none is configured.
	DefaultMaxImageSizeMB = 5

	// ThumbnailWidth is the width of generated thumbnails; height keeps the aspect ratio.
	ThumbnailWidth = 320

	// MaxImagePixels caps width*height as declared in the image header.
	MaxImagePixels = 40_000_000
)

// AllowedMIMETypes lists the image types accepted for upload.
var AllowedMIMETypes = map[string]struct{}{
	"image/jpeg": {},
	"image/png":  {},
	"image/gif":  {},
}

// ExtToMIME maps file extensions to their MIME types.
var ExtToMIME = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
}

// Image is an image payload handed to SendImage.
type Image struct {
	// FileName is the original file name; its base name ends up in the blob key.
	FileName string

	// ContentType is the declared MIME type. When empty it is derived from FileName.
	ContentType string

	Data []byte
}

// ImageInfo describes a validated image.
type ImageInfo struct {
	ContentType string
	Width       int
	Height      int
}

// ValidateImageSize checks size against maxBytes.
func ValidateImageSize(size, maxBytes int64) *errs.CustomError {
	if size <= 0 {
		return errs.NewError(errs.ErrInvalidParams)
	}

	if size > maxBytes {
		return errs.NewError(errs.ErrFileSizeTooLarge, maxBytes>>20)
	}

	return nil
}

// ValidateImageType checks that mimeType is allowed and agrees with the extension of fileName.
func ValidateImageType(fileName, mimeType string) *errs.CustomError {
	lowerMimeType := strings.ToLower(strings.TrimSpace(mimeType))

	if _, ok := AllowedMIMETypes[lowerMimeType]; !ok {
		return errs.NewError(errs.ErrInvalidImage)
	}

	expectedMIME, ok := ExtToMIME[strings.ToLower(filepath.Ext(fileName))]
	if !ok || expectedMIME != lowerMimeType {
		return errs.NewError(errs.ErrInvalidImage)
	}

	return nil
}

// ValidateImageDimensions rejects empty images and images above MaxImagePixels.
func ValidateImageDimensions(width, height int) *errs.CustomError {
	if width <= 0 || height <= 0 {
		return errs.NewError(errs.ErrInvalidImage)
	}

	if int64(width)*int64(height) > MaxImagePixels {
		return errs.NewError(errs.ErrInvalidImage)
	}

	return nil
}

// InspectImage validates img and decodes it. The header is checked against
// MaxImagePixels before any pixel data is decoded.
func InspectImage(img Image, maxBytes int64) (ImageInfo, image.Image, *errs.CustomError) {
	if err := ValidateImageSize(int64(len(img.Data)), maxBytes); err != nil {
		return ImageInfo{}, nil, err
	}

	contentType := img.ContentType
	if contentType == "" {
		contentType = ExtToMIME[strings.ToLower(filepath.Ext(img.FileName))]
	}

	if err := ValidateImageType(img.FileName, contentType); err != nil {
		return ImageInfo{}, nil, err
	}

	config, _, err := image.DecodeConfig(bytes.NewReader(img.Data))
	if err != nil {
		return ImageInfo{}, nil, errs.NewError(errs.ErrInvalidImage)
	}

	if err := ValidateImageDimensions(config.Width, config.Height); err != nil {
		return ImageInfo{}, nil, err
	}

	decoded, err := imaging.Decode(bytes.NewReader(img.Data), imaging.AutoOrientation(true))
	if err != nil {
		return ImageInfo{}, nil, errs.NewError(errs.ErrInvalidImage)
	}

	bounds := decoded.Bounds()

	return ImageInfo{
		ContentType: strings.ToLower(contentType),
		Width:       bounds.Dx(),
		Height:      bounds.Dy(),
	}, decoded, nil
}

// Thumbnail renders a JPEG of ThumbnailWidth pixels wide, or nil when the image
// is already that narrow.
func Thumbnail(decoded image.Image) ([]byte, error) {
	if decoded.Bounds().Dx() <= ThumbnailWidth {
		return nil, nil
	}

	thumb := imaging.Resize(decoded, ThumbnailWidth, 0, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG); err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}

	return buf.Bytes(), nil
}
