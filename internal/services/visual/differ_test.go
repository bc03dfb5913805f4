package visual

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func solidImage(t *testing.T, w, h int, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
	}
	return encodePNG(t, img)
}

// imageWithBlock paints a base color and overwrites one rectangle with a
// second color.
func imageWithBlock(t *testing.T, w, h int, base, block color.RGBA, rect image.Rectangle) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := base
			if image.Pt(x, y).In(rect) {
				c = block
			}
			i := img.PixOffset(x, y)
			img.Pix[i+0] = c.R
			img.Pix[i+1] = c.G
			img.Pix[i+2] = c.B
			img.Pix[i+3] = c.A
		}
	}
	return encodePNG(t, img)
}

func TestCompareIdenticalImages(t *testing.T) {
	d := NewDiffer(arbor.NewLogger())
	white := solidImage(t, 64, 64, color.RGBA{255, 255, 255, 255})

	result, err := d.Compare(white, white)
	require.NoError(t, err)
	assert.Zero(t, result.DiffPercent)
	assert.Empty(t, result.DiffImage)
}

func TestCompareQuarterChanged(t *testing.T) {
	d := NewDiffer(arbor.NewLogger())
	white := color.RGBA{255, 255, 255, 255}
	red := color.RGBA{200, 0, 0, 255}

	baseline := solidImage(t, 100, 100, white)
	current := imageWithBlock(t, 100, 100, white, red, image.Rect(0, 0, 50, 50))

	result, err := d.Compare(baseline, current)
	require.NoError(t, err)
	assert.InDelta(t, 25.0, result.DiffPercent, 0.01)
	assert.NotEmpty(t, result.DiffImage)
}

func TestCompareIgnoresSubToleranceNoise(t *testing.T) {
	d := NewDiffer(arbor.NewLogger())
	baseline := solidImage(t, 32, 32, color.RGBA{100, 100, 100, 255})
	current := solidImage(t, 32, 32, color.RGBA{105, 104, 103, 255})

	result, err := d.Compare(baseline, current)
	require.NoError(t, err)
	assert.Zero(t, result.DiffPercent)
	assert.Empty(t, result.DiffImage)
}

func TestCompareScalesMismatchedSizes(t *testing.T) {
	d := NewDiffer(arbor.NewLogger())
	blue := color.RGBA{0, 0, 200, 255}

	baseline := solidImage(t, 64, 64, blue)
	current := solidImage(t, 128, 128, blue)

	result, err := d.Compare(baseline, current)
	require.NoError(t, err)
	assert.Zero(t, result.DiffPercent)
}

func TestCompareDiffImageHighlightsChange(t *testing.T) {
	d := NewDiffer(arbor.NewLogger())
	white := color.RGBA{255, 255, 255, 255}
	black := color.RGBA{0, 0, 0, 255}

	baseline := solidImage(t, 40, 40, white)
	current := imageWithBlock(t, 40, 40, white, black, image.Rect(10, 10, 20, 20))

	result, err := d.Compare(baseline, current)
	require.NoError(t, err)
	require.NotEmpty(t, result.DiffImage)

	diff, err := png.Decode(bytes.NewReader(result.DiffImage))
	require.NoError(t, err)
	assert.Equal(t, 40, diff.Bounds().Dx())
	assert.Equal(t, 40, diff.Bounds().Dy())

	r, g, b, _ := diff.At(15, 15).RGBA()
	assert.Equal(t, uint32(255), r>>8)
	assert.Equal(t, uint32(40), g>>8)
	assert.Equal(t, uint32(40), b>>8)

	// Unchanged corner is faded gray, not red.
	r, g, b, _ = diff.At(0, 0).RGBA()
	assert.Equal(t, r, g)
	assert.Equal(t, g, b)
}

func TestCompareRejectsInvalidPNG(t *testing.T) {
	d := NewDiffer(arbor.NewLogger())
	white := solidImage(t, 8, 8, color.RGBA{255, 255, 255, 255})

	_, err := d.Compare([]byte("not a png"), white)
	assert.Error(t, err)

	_, err = d.Compare(white, []byte("not a png"))
	assert.Error(t, err)
}
