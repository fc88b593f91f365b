package images

import (
	"bytes"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/chai2010/webp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	img := solid(8, 6, color.RGBA{G: 200, A: 255})

	var pngBuf bytes.Buffer
	require.NoError(t, png.Encode(&pngBuf, img))

	var webpBuf bytes.Buffer
	require.NoError(t, webp.Encode(&webpBuf, img, &webp.Options{Lossless: true}))

	tests := []struct {
		name   string
		data   []byte
		format ImageFormat
	}{
		{name: "png", data: pngBuf.Bytes(), format: FormatPNG},
		{name: "webp", data: webpBuf.Bytes(), format: FormatWebP},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decoded, format, err := Decode(tt.data)
			require.NoError(t, err)
			assert.Equal(t, tt.format, format)
			assert.Equal(t, 8, decoded.Bounds().Dx())
			assert.Equal(t, 6, decoded.Bounds().Dy())
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	_, _, err := Decode(nil)
	assert.ErrorIs(t, err, ErrEmptyImage)

	_, _, err = Decode([]byte("definitely not an image"))
	assert.Error(t, err)
}

func TestDecodeFile(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, solid(4, 4, color.RGBA{B: 255, A: 255})))

	path := filepath.Join(t.TempDir(), "frame.png")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

	img, format, err := DecodeFile(path)
	require.NoError(t, err)
	assert.Equal(t, FormatPNG, format)
	assert.Equal(t, 4, img.Bounds().Dx())

	_, _, err = DecodeFile(filepath.Join(t.TempDir(), "missing.png"))
	assert.Error(t, err)
}
