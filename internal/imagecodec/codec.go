// Package imagecodec turns uploaded image bytes into the canonical payload sent
// to the model: decoded, re-encoded as PNG and base64 encoded.
package imagecodec

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Accepted declared formats. jpg and jpeg both map to the JPEG decoder.
const (
	FormatPNG  = "png"
	FormatJPG  = "jpg"
	FormatJPEG = "jpeg"
)

// DecodeError reports bytes that are not a readable png/jpeg image, or a
// declared format outside the accepted set.
type DecodeError struct {
	Format string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	msg := "decode image"
	if e.Format != "" {
		msg += " (" + e.Format + ")"
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsDecodeError reports whether err carries a *DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// EncodedPayload is the transport-ready form of one upload.
type EncodedPayload struct {
	PNG          []byte
	Base64       string
	Width        int
	Height       int
	SourceFormat string
}

// DataURI renders the payload for inline previews.
func (p EncodedPayload) DataURI() string {
	if p.Base64 == "" {
		return ""
	}
	return "data:image/png;base64," + p.Base64
}

// Summary is a short human readable description used in logs.
func (p EncodedPayload) Summary() string {
	return fmt.Sprintf("png %dx%d from %s, %d bytes", p.Width, p.Height, p.SourceFormat, len(p.PNG))
}

// Options tunes the optional normalisation steps. The zero value keeps the
// decoded bitmap untouched.
type Options struct {
	// MaxDimension downsizes images whose longest side exceeds it; 0 disables.
	MaxDimension int
	// AutoOrient applies the EXIF orientation tag of JPEG inputs.
	AutoOrient bool
	// MaxPixels caps width*height as declared by the image header, checked
	// before any pixel data is allocated. 0 means DefaultMaxPixels.
	MaxPixels int
}

// DefaultMaxPixels is roughly a 48MP photo.
const DefaultMaxPixels = 50_000_000

type Codec struct {
	opts Options
}

func NewCodec(opts Options) *Codec {
	if opts.MaxDimension < 0 {
		opts.MaxDimension = 0
	}
	if opts.MaxPixels <= 0 {
		opts.MaxPixels = DefaultMaxPixels
	}
	return &Codec{opts: opts}
}

// Encode converts with the default options.
func Encode(raw []byte, declaredFormat string) (EncodedPayload, error) {
	return NewCodec(Options{}).Encode(raw, declaredFormat)
}

// NormalizeFormat lowercases a declared format or file extension and reports
// whether it is accepted.
func NormalizeFormat(declared string) (string, bool) {
	f := strings.ToLower(strings.TrimSpace(declared))
	f = strings.TrimPrefix(f, ".")
	switch f {
	case FormatPNG, FormatJPG, FormatJPEG:
		return f, true
	default:
		return f, false
	}
}

func (c *Codec) Encode(raw []byte, declaredFormat string) (EncodedPayload, error) {
	format, ok := NormalizeFormat(declaredFormat)
	if !ok {
		return EncodedPayload{}, &DecodeError{Format: format, Reason: "unsupported format, expected png, jpg or jpeg"}
	}
	if len(raw) == 0 {
		return EncodedPayload{}, &DecodeError{Format: format, Reason: "empty upload"}
	}
	detected := mimetype.Detect(raw)
	var (
		decodeConfig func(io.Reader) (image.Config, error)
		decode       func(io.Reader) (image.Image, error)
	)
	switch {
	case detected.Is("image/png"):
		decodeConfig, decode = png.DecodeConfig, png.Decode
	case detected.Is("image/jpeg"):
		decodeConfig, decode = jpeg.DecodeConfig, jpeg.Decode
	default:
		return EncodedPayload{}, &DecodeError{Format: format, Reason: "content is " + detected.String() + ", not png or jpeg"}
	}
	// 先读头部尺寸，避免按伪造的宽高分配内存
	hdr, err := decodeConfig(bytes.NewReader(raw))
	if err != nil {
		return EncodedPayload{}, &DecodeError{Format: format, Reason: "corrupt image data", Err: err}
	}
	if pixels := int64(hdr.Width) * int64(hdr.Height); pixels > int64(c.opts.MaxPixels) {
		return EncodedPayload{}, &DecodeError{
			Format: format,
			Reason: fmt.Sprintf("image too large: %dx%d exceeds %d pixels", hdr.Width, hdr.Height, c.opts.MaxPixels),
		}
	}
	img, err := decode(bytes.NewReader(raw))
	if err != nil {
		return EncodedPayload{}, &DecodeError{Format: format, Reason: "corrupt image data", Err: err}
	}
	if detected.Is("image/jpeg") && c.opts.AutoOrient {
		img = applyOrientation(img, readOrientation(raw))
	}
	if c.opts.MaxDimension > 0 {
		img = downscale(img, c.opts.MaxDimension)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return EncodedPayload{}, &DecodeError{Format: format, Reason: "re-encode as png", Err: err}
	}
	bounds := img.Bounds()
	return EncodedPayload{
		PNG:          buf.Bytes(),
		Base64:       base64.StdEncoding.EncodeToString(buf.Bytes()),
		Width:        bounds.Dx(),
		Height:       bounds.Dy(),
		SourceFormat: format,
	}, nil
}

// DecodePayload reverses the transport encoding; used by previews and tests.
func DecodePayload(b64 string) (image.Image, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("base64: %w", err)
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("png: %w", err)
	}
	return img, nil
}
