package service

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttachmentKeys(t *testing.T) {
	key := AttachmentObjectKey("alice", "Holiday Photo.PNG")
	assert.True(t, strings.HasPrefix(key, "attachments/alice/"))
	assert.True(t, strings.HasSuffix(key, ".png"))
	assert.True(t, OwnsAttachment("alice", key))
	assert.False(t, OwnsAttachment("bob", key))
	assert.False(t, OwnsAttachment("alice", "attachments/alice/../bob/x.png"))

	assert.Equal(t, "attachments/alice/abc_thumb.jpg", ThumbnailKey("attachments/alice/abc.png"))
	assert.NotContains(t, AttachmentObjectKey("alice", "weird.extensionthatistoolong"), ".extension")
}

func TestMakeThumbnail(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 800, 400))
	for x := 0; x < 800; x++ {
		for y := 0; y < 400; y++ {
			src.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, src))

	thumb, err := MakeThumbnail(&buf)
	require.NoError(t, err)

	img, err := imaging.Decode(bytes.NewReader(thumb))
	require.NoError(t, err)
	assert.Equal(t, 320, img.Bounds().Dx())
	assert.Equal(t, 320, img.Bounds().Dy())

	_, err = MakeThumbnail(strings.NewReader("not an image"))
	assert.Error(t, err)
}
