package imaging

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func sample() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	img.Set(0, 0, color.NRGBA{R: 255, A: 255})
	img.Set(1, 0, color.NRGBA{G: 255, A: 255})
	img.Set(2, 1, color.NRGBA{B: 200, A: 0})
	return img
}

func TestDecode(t *testing.T) {
	raw := encodePNG(t, sample())
	b64 := base64.StdEncoding.EncodeToString(raw)

	t.Run("bare and data URI decode identically", func(t *testing.T) {
		bare, err := Decode(b64)
		if err != nil {
			t.Fatalf("Decode(bare) error = %v", err)
		}
		uri, err := Decode("data:image/png;base64," + b64)
		if err != nil {
			t.Fatalf("Decode(data URI) error = %v", err)
		}
		if !bytes.Equal(bare.Pix, uri.Pix) {
			t.Error("data URI decoded to different pixels")
		}
	})

	t.Run("result is opaque RGB", func(t *testing.T) {
		img, err := Decode(b64)
		if err != nil {
			t.Fatal(err)
		}
		if img.Bounds() != image.Rect(0, 0, 3, 2) {
			t.Errorf("bounds = %v", img.Bounds())
		}
		if got := img.RGBAAt(0, 0); got != (color.RGBA{R: 255, A: 255}) {
			t.Errorf("pixel (0,0) = %v", got)
		}
		for i := 3; i < len(img.Pix); i += 4 {
			if img.Pix[i] != 0xff {
				t.Fatalf("alpha at byte %d = %d", i, img.Pix[i])
			}
		}
	})

	t.Run("unpadded and wrapped base64", func(t *testing.T) {
		raw := base64.RawStdEncoding.EncodeToString(encodePNG(t, sample()))
		if _, err := Decode(raw); err != nil {
			t.Errorf("unpadded: %v", err)
		}
		wrapped := b64[:10] + "\n" + b64[10:]
		if _, err := Decode(wrapped); err != nil {
			t.Errorf("wrapped: %v", err)
		}
	})

	t.Run("jpeg", func(t *testing.T) {
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, 8, 8)), nil); err != nil {
			t.Fatal(err)
		}
		img, err := Decode(base64.StdEncoding.EncodeToString(buf.Bytes()))
		if err != nil {
			t.Fatalf("Decode(jpeg) error = %v", err)
		}
		if img.Bounds().Dx() != 8 {
			t.Errorf("width = %d", img.Bounds().Dx())
		}
	})
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    error
	}{
		{"empty", "", ErrEmptyPayload},
		{"empty data URI", "data:image/png;base64,", ErrEmptyPayload},
		{"not base64", "!!!not-base64!!!", ErrDecode},
		{"not an image", base64.StdEncoding.EncodeToString([]byte("hello world")), ErrDecode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.payload)
			if !errors.Is(err, tt.want) {
				t.Errorf("Decode() error = %v, want %v", err, tt.want)
			}
		})
	}
}

// oversizedPNG returns a valid 1x1 PNG whose IHDR claims w x h.
func oversizedPNG(t *testing.T, w, h uint32) []byte {
	t.Helper()
	data := encodePNG(t, image.NewNRGBA(image.Rect(0, 0, 1, 1)))
	if string(data[12:16]) != "IHDR" {
		t.Fatalf("unexpected first chunk %q", data[12:16])
	}
	binary.BigEndian.PutUint32(data[16:20], w)
	binary.BigEndian.PutUint32(data[20:24], h)
	binary.BigEndian.PutUint32(data[29:33], crc32.ChecksumIEEE(data[12:29]))
	return data
}

func TestDecode_RejectsOversizedHeader(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString(oversizedPNG(t, 16000, 16000))

	cfg, _, err := image.DecodeConfig(bytes.NewReader(oversizedPNG(t, 16000, 16000)))
	if err != nil || cfg.Width != 16000 {
		t.Fatalf("patched header not readable: %v %+v", err, cfg)
	}

	_, err = Decode(payload)
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("Decode() error = %v, want ErrDecode", err)
	}

	// The cap only looks at the header, small images are unaffected.
	if _, err := Decode(base64.StdEncoding.EncodeToString(oversizedPNG(t, 1, 1))); err != nil {
		t.Errorf("1x1 image rejected: %v", err)
	}
}

func TestToRGB_OffsetBounds(t *testing.T) {
	src := image.NewRGBA(image.Rect(5, 5, 7, 6))
	src.Set(6, 5, color.RGBA{R: 10, G: 20, B: 30, A: 255})

	dst := ToRGB(src)
	if dst.Bounds() != image.Rect(0, 0, 2, 1) {
		t.Fatalf("bounds = %v", dst.Bounds())
	}
	if got := dst.RGBAAt(1, 0); got != (color.RGBA{R: 10, G: 20, B: 30, A: 255}) {
		t.Errorf("pixel = %v", got)
	}
}
