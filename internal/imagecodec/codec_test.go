package imagecodec

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBitmap(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 17), G: uint8(y * 29), B: uint8((x + y) * 7), A: 255})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}))
	return buf.Bytes()
}

func assertPixelEqual(t *testing.T, want, got image.Image) {
	t.Helper()
	require.Equal(t, want.Bounds().Size(), got.Bounds().Size())
	wb, gb := want.Bounds(), got.Bounds()
	for y := 0; y < wb.Dy(); y++ {
		for x := 0; x < wb.Dx(); x++ {
			wr, wg, wbl, wa := want.At(wb.Min.X+x, wb.Min.Y+y).RGBA()
			gr, gg, gbl, ga := got.At(gb.Min.X+x, gb.Min.Y+y).RGBA()
			// compare at 8 bits per channel, the precision png stores
			if wr>>8 != gr>>8 || wg>>8 != gg>>8 || wbl>>8 != gbl>>8 || wa>>8 != ga>>8 {
				t.Fatalf("pixel (%d,%d) differs", x, y)
			}
		}
	}
}

func TestEncodePNGRoundTripIsPixelExact(t *testing.T) {
	src := testBitmap(13, 7)
	payload, err := Encode(encodePNG(t, src), "PNG")
	require.NoError(t, err)

	assert.Equal(t, 13, payload.Width)
	assert.Equal(t, 7, payload.Height)
	assert.Equal(t, "png", payload.SourceFormat)
	assert.Equal(t, base64.StdEncoding.EncodeToString(payload.PNG), payload.Base64)

	decoded, err := DecodePayload(payload.Base64)
	require.NoError(t, err)
	assertPixelEqual(t, src, decoded)
}

func TestEncodeJPEGProducesPNGPayload(t *testing.T) {
	raw := encodeJPEG(t, testBitmap(20, 10))
	for _, declared := range []string{"jpg", "jpeg", ".JPG"} {
		payload, err := Encode(raw, declared)
		require.NoError(t, err, declared)

		decoded, err := DecodePayload(payload.Base64)
		require.NoError(t, err)
		assert.Equal(t, image.Pt(20, 10), decoded.Bounds().Size())

		original, err := jpeg.Decode(bytes.NewReader(raw))
		require.NoError(t, err)
		// the re-encode is lossless, so the payload equals the decoded jpeg
		assertPixelEqual(t, original, decoded)
	}
}

func TestEncodeRejectsUnsupportedDeclaredFormat(t *testing.T) {
	for _, declared := range []string{"gif", "webp", "", "bmp"} {
		_, err := Encode(encodePNG(t, testBitmap(2, 2)), declared)
		require.Error(t, err, declared)
		assert.True(t, IsDecodeError(err))
		assert.Contains(t, err.Error(), "unsupported format")
	}
}

func TestEncodeRejectsEmptyAndGarbage(t *testing.T) {
	_, err := Encode(nil, "png")
	assert.True(t, IsDecodeError(err))
	assert.Contains(t, err.Error(), "empty upload")

	_, err = Encode([]byte("definitely not an image"), "jpg")
	assert.True(t, IsDecodeError(err))
}

func TestEncodeRejectsMismatchedContent(t *testing.T) {
	var buf bytes.Buffer
	pal := image.NewPaletted(image.Rect(0, 0, 2, 2), []color.Color{color.Black, color.White})
	require.NoError(t, gif.Encode(&buf, pal, nil))

	_, err := Encode(buf.Bytes(), "png")
	require.Error(t, err)
	assert.True(t, IsDecodeError(err))
	assert.Contains(t, err.Error(), "image/gif")
}

func TestEncodeRejectsTruncatedPNG(t *testing.T) {
	raw := encodePNG(t, testBitmap(8, 8))
	_, err := Encode(raw[:len(raw)/2], "png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt image data")
}

func TestCodecDownscalesWhenConfigured(t *testing.T) {
	codec := NewCodec(Options{MaxDimension: 10})
	payload, err := codec.Encode(encodePNG(t, testBitmap(40, 20)), "png")
	require.NoError(t, err)
	assert.Equal(t, 10, payload.Width)
	assert.Equal(t, 5, payload.Height)

	small, err := codec.Encode(encodePNG(t, testBitmap(6, 3)), "png")
	require.NoError(t, err)
	assert.Equal(t, 6, small.Width)
}

func TestApplyOrientationMapsCorners(t *testing.T) {
	src := testBitmap(3, 2)
	tl, tr, bl, br := image.Pt(0, 0), image.Pt(2, 0), image.Pt(0, 1), image.Pt(2, 1)

	cases := []struct {
		orientation int
		size        image.Point
		// where each source corner lands: tl, tr, bl, br
		want [4]image.Point
	}{
		{2, image.Pt(3, 2), [4]image.Point{{2, 0}, {0, 0}, {2, 1}, {0, 1}}},
		{3, image.Pt(3, 2), [4]image.Point{{2, 1}, {0, 1}, {2, 0}, {0, 0}}},
		{4, image.Pt(3, 2), [4]image.Point{{0, 1}, {2, 1}, {0, 0}, {2, 0}}},
		{5, image.Pt(2, 3), [4]image.Point{{0, 0}, {0, 2}, {1, 0}, {1, 2}}},
		{6, image.Pt(2, 3), [4]image.Point{{1, 0}, {1, 2}, {0, 0}, {0, 2}}},
		{7, image.Pt(2, 3), [4]image.Point{{1, 2}, {1, 0}, {0, 2}, {0, 0}}},
		{8, image.Pt(2, 3), [4]image.Point{{0, 2}, {0, 0}, {1, 2}, {1, 0}}},
	}
	for _, tc := range cases {
		out := applyOrientation(src, tc.orientation)
		require.Equal(t, tc.size, out.Bounds().Size(), "orientation %d", tc.orientation)
		for i, from := range []image.Point{tl, tr, bl, br} {
			to := tc.want[i]
			assert.Equal(t,
				color.RGBAModel.Convert(src.At(from.X, from.Y)),
				color.RGBAModel.Convert(out.At(to.X, to.Y)),
				"orientation %d: %v should land on %v", tc.orientation, from, to)
		}
	}

	assert.Same(t, image.Image(src), applyOrientation(src, 1))
	assert.Same(t, image.Image(src), applyOrientation(src, 9))
	assert.Equal(t, 1, readOrientation([]byte("no exif here")))
}

// pngHeaderOnly builds a png that declares w x h RGBA pixels but carries no
// image data.
func pngHeaderOnly(w, h uint32) []byte {
	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	chunk := func(typ string, data []byte) {
		_ = binary.Write(&buf, binary.BigEndian, uint32(len(data)))
		body := append([]byte(typ), data...)
		buf.Write(body)
		_ = binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(body))
	}
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], w)
	binary.BigEndian.PutUint32(ihdr[4:8], h)
	ihdr[8] = 8 // bit depth
	ihdr[9] = 6 // truecolor with alpha
	chunk("IHDR", ihdr)
	chunk("IEND", nil)
	return buf.Bytes()
}

func TestEncodeRejectsOversizedHeaderBeforeDecoding(t *testing.T) {
	raw := pngHeaderOnly(30000, 30000)
	require.Less(t, len(raw), 100)

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	_, err := Encode(raw, "png")
	runtime.ReadMemStats(&after)

	require.Error(t, err)
	assert.True(t, IsDecodeError(err))
	assert.Contains(t, err.Error(), "image too large")
	assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(16<<20))
}

func TestCodecMaxPixelsIsConfigurable(t *testing.T) {
	raw := encodePNG(t, testBitmap(13, 7))

	_, err := NewCodec(Options{MaxPixels: 90}).Encode(raw, "png")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "13x7 exceeds 90 pixels")

	payload, err := NewCodec(Options{MaxPixels: 91}).Encode(raw, "png")
	require.NoError(t, err)
	assert.Equal(t, 13, payload.Width)
}

func TestDataURI(t *testing.T) {
	assert.Equal(t, "", EncodedPayload{}.DataURI())
	assert.Equal(t, "data:image/png;base64,QUJD", EncodedPayload{Base64: "QUJD"}.DataURI())
}
