package visual

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"github.com/ternarybob/arbor"
	xdraw "golang.org/x/image/draw"

	"github.com/ternarybob/vigil/internal/interfaces"
)

// perChannelTolerance absorbs sub-visible rendering noise (font smoothing,
// GPU rounding) so only real pixel changes count toward the diff percent.
const perChannelTolerance = 10

// Differ compares a current page snapshot against its stored baseline pixel
// by pixel and renders a highlight image of the changed regions.
type Differ struct {
	logger arbor.ILogger
}

// NewDiffer creates a pixel differ.
func NewDiffer(logger arbor.ILogger) *Differ {
	return &Differ{logger: logger}
}

// Compare decodes both PNGs and reports the percentage of pixels that
// differ beyond the tolerance. When the current snapshot has different
// dimensions it is scaled to the baseline's bounds first. A highlight image
// (changed pixels in red over a faded grayscale of the baseline) is
// returned only when at least one pixel changed.
func (d *Differ) Compare(baselinePNG, currentPNG []byte) (*interfaces.DiffResult, error) {
	baseImg, err := png.Decode(bytes.NewReader(baselinePNG))
	if err != nil {
		return nil, fmt.Errorf("failed to decode baseline image: %w", err)
	}
	curImg, err := png.Decode(bytes.NewReader(currentPNG))
	if err != nil {
		return nil, fmt.Errorf("failed to decode current image: %w", err)
	}

	base := toRGBA(baseImg)
	cur := toRGBA(curImg)

	if !cur.Bounds().Eq(base.Bounds()) {
		d.logger.Debug().
			Int("baseline_width", base.Bounds().Dx()).
			Int("baseline_height", base.Bounds().Dy()).
			Int("current_width", cur.Bounds().Dx()).
			Int("current_height", cur.Bounds().Dy()).
			Msg("Snapshot dimensions differ, scaling current to baseline")
		cur = scaleTo(cur, base.Bounds())
	}

	total := base.Bounds().Dx() * base.Bounds().Dy()
	if total == 0 {
		return nil, fmt.Errorf("baseline image has no pixels")
	}

	highlight := image.NewRGBA(base.Bounds())
	changed := 0
	for i := 0; i < len(base.Pix); i += 4 {
		if pixelChanged(base.Pix[i:i+4], cur.Pix[i:i+4]) {
			changed++
			highlight.Pix[i+0] = 255
			highlight.Pix[i+1] = 40
			highlight.Pix[i+2] = 40
			highlight.Pix[i+3] = 255
			continue
		}
		// Fade unchanged content so the red regions stand out.
		lum := (299*int(base.Pix[i]) + 587*int(base.Pix[i+1]) + 114*int(base.Pix[i+2])) / 1000
		faded := uint8(128 + lum/2)
		highlight.Pix[i+0] = faded
		highlight.Pix[i+1] = faded
		highlight.Pix[i+2] = faded
		highlight.Pix[i+3] = 255
	}

	result := &interfaces.DiffResult{
		DiffPercent: float64(changed) / float64(total) * 100,
	}

	if changed > 0 {
		var buf bytes.Buffer
		if err := png.Encode(&buf, highlight); err != nil {
			return nil, fmt.Errorf("failed to encode diff image: %w", err)
		}
		result.DiffImage = buf.Bytes()
	}

	d.logger.Debug().
		Int("changed_pixels", changed).
		Int("total_pixels", total).
		Float64("diff_percent", result.DiffPercent).
		Msg("Snapshot comparison finished")

	return result, nil
}

func pixelChanged(a, b []uint8) bool {
	for c := 0; c < 4; c++ {
		if absDiff(a[c], b[c]) > perChannelTolerance {
			return true
		}
	}
	return false
}

func absDiff(a, b uint8) uint8 {
	if a > b {
		return a - b
	}
	return b - a
}

// toRGBA re-draws any decoded image into a zero-origin RGBA buffer so the
// comparison loop can index Pix directly.
func toRGBA(src image.Image) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Draw(dst, dst.Bounds(), src, b.Min, xdraw.Src)
	return dst
}

func scaleTo(src *image.RGBA, bounds image.Rectangle) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)
	return dst
}
