package imagefile

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func encodeJPEG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, 2, 2)), nil))
	return buf.Bytes()
}

func TestNewAcceptsSupportedImages(t *testing.T) {
	pngData := encodePNG(t)
	f, err := New(" ad.png ", "image/png", pngData, nil)
	require.NoError(t, err)
	assert.Equal(t, "image/png", f.MIMEType)
	assert.Equal(t, "ad.png", f.Name)
	assert.Equal(t, base64.StdEncoding.EncodeToString(pngData), f.Base64())

	f, err = New("photo.jpg", "image/jpg", encodeJPEG(t), nil)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", f.MIMEType)
}

func TestNewSniffsMissingType(t *testing.T) {
	f, err := New("upload", "", encodePNG(t), nil)
	require.NoError(t, err)
	assert.Equal(t, "image/png", f.MIMEType)
}

func TestNewRejects(t *testing.T) {
	_, err := New("empty.png", "image/png", nil, nil)
	require.ErrorIs(t, err, ErrEmpty)

	_, err = New("doc.gif", "image/gif", []byte("GIF89a...."), nil)
	require.ErrorIs(t, err, ErrUnsupportedType)

	_, err = New("fake.png", "image/png", []byte("definitely not an image"), nil)
	require.ErrorIs(t, err, ErrUnsupportedType)

	_, err = New("ad.png", "image/png", encodePNG(t), []string{"image/jpeg"})
	require.ErrorIs(t, err, ErrUnsupportedType)
}
