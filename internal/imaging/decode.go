// Package imaging turns base64 request payloads into RGB images.
package imaging

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"strings"

	// Registered decoders.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// MaxPixels caps the declared width*height of a payload. Larger headers are
// rejected before any pixel buffer is allocated.
const MaxPixels = 89_478_485

var (
	// ErrEmptyPayload is returned for a blank image string.
	ErrEmptyPayload = errors.New("empty image payload")
	// ErrDecode is returned when the payload is not valid base64 or not a supported image.
	ErrDecode = errors.New("failed to decode image")
)

// Decode parses an image payload. The payload is either bare base64 or a data
// URI ("data:image/png;base64,...") in which case everything up to the first
// comma is discarded. The result is always an opaque *image.RGBA.
func Decode(payload string) (*image.RGBA, error) {
	raw, err := DecodeBase64(payload)
	if err != nil {
		return nil, err
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return nil, fmt.Errorf("%w: %dx%d image exceeds %d pixels", ErrDecode, cfg.Width, cfg.Height, MaxPixels)
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return ToRGB(img), nil
}

// DecodeBase64 strips an optional data-URI header and decodes the rest.
// Padded and unpadded standard encodings are both accepted, as is the URL-safe
// alphabet. Whitespace (line-wrapped base64) is ignored.
func DecodeBase64(payload string) ([]byte, error) {
	if _, data, ok := strings.Cut(payload, ","); ok {
		payload = data
	}
	payload = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, payload)
	if payload == "" {
		return nil, ErrEmptyPayload
	}

	var lastErr error
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		b, err := enc.DecodeString(payload)
		if err == nil {
			return b, nil
		}
		if lastErr == nil {
			lastErr = err
		}
	}
	return nil, fmt.Errorf("%w: invalid base64: %v", ErrDecode, lastErr)
}

// ToRGB converts any image to an opaque RGBA with bounds starting at (0,0).
// Alpha is dropped rather than composited, so transparent pixels keep their
// underlying color.
func ToRGB(src image.Image) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			c := color.NRGBAModel.Convert(src.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			i := dst.PixOffset(x, y)
			dst.Pix[i+0] = c.R
			dst.Pix[i+1] = c.G
			dst.Pix[i+2] = c.B
			dst.Pix[i+3] = 0xff
		}
	}
	return dst
}
