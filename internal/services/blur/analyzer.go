package blur

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"

	"github.com/ternarybob/arbor"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/ternarybob/vigil/internal/interfaces"
)

// Gradient magnitudes below weakEdge are flat regions; between weakEdge and
// strongEdge they are the soft shoulders a blur smears across an edge.
const (
	weakEdgeThreshold   = 10.0
	strongEdgeThreshold = 30.0
)

// Analyzer computes two sharpness signals from an image: the variance of
// its Laplacian (low on blurry images) and the share of soft edge pixels
// among all edge pixels (high on blurry images). Thresholding the signals
// is the caller's decision.
type Analyzer struct {
	logger arbor.ILogger
}

// NewAnalyzer creates a blur analyzer.
func NewAnalyzer(logger arbor.ILogger) *Analyzer {
	return &Analyzer{logger: logger}
}

// AnalyzeImage decodes the image (PNG, JPEG, GIF, BMP or WebP) and returns
// its blur signals. Images smaller than 3x3 cannot carry the convolution
// kernels and are rejected.
func (a *Analyzer) AnalyzeImage(data []byte) (*interfaces.BlurAnalysis, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width < 3 || height < 3 {
		return nil, fmt.Errorf("image too small to analyze (%dx%d)", width, height)
	}

	gray := grayscale(img)

	analysis := &interfaces.BlurAnalysis{
		Variance:         laplacianVariance(gray, width, height),
		SpatialBlurRatio: spatialBlurRatio(gray, width, height),
	}

	a.logger.Debug().
		Str("format", format).
		Int("width", width).
		Int("height", height).
		Float64("variance", analysis.Variance).
		Float64("spatial_blur_ratio", analysis.SpatialBlurRatio).
		Msg("Image analyzed")

	return analysis, nil
}

// grayscale flattens the image into row-major luminance values.
func grayscale(img image.Image) []float64 {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	gray := make([]float64, width*height)
	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			gray[i] = (299*float64(r>>8) + 587*float64(g>>8) + 114*float64(b>>8)) / 1000
			i++
		}
	}
	return gray
}

// laplacianVariance convolves the 4-neighbor Laplacian kernel over the
// interior and returns the variance of the responses. Sharp detail produces
// strong responses; blur flattens them toward zero.
func laplacianVariance(gray []float64, width, height int) float64 {
	count := 0
	sum := 0.0
	sumSq := 0.0

	for y := 1; y < height-1; y++ {
		for x := 1; x < width-1; x++ {
			i := y*width + x
			lap := 4*gray[i] - gray[i-1] - gray[i+1] - gray[i-width] - gray[i+width]
			sum += lap
			sumSq += lap * lap
			count++
		}
	}

	if count == 0 {
		return 0
	}
	mean := sum / float64(count)
	return sumSq/float64(count) - mean*mean
}

// spatialBlurRatio classifies every interior pixel by central-difference
// gradient magnitude and returns soft edges as a share of all edges. A
// crisp edge concentrates its gradient in strong pixels; a blurred edge
// spreads it across a band of soft ones.
func spatialBlurRatio(gray []float64, width, height int) float64 {
	strong := 0
	soft := 0

	for y := 1; y < height-1; y++ {
		for x := 1; x < width-1; x++ {
			i := y*width + x
			gx := (gray[i+1] - gray[i-1]) / 2
			gy := (gray[i+width] - gray[i-width]) / 2
			magnitude := math.Sqrt(gx*gx + gy*gy)

			switch {
			case magnitude >= strongEdgeThreshold:
				strong++
			case magnitude >= weakEdgeThreshold:
				soft++
			}
		}
	}

	edges := strong + soft
	if edges == 0 {
		return 0
	}
	return float64(soft) / float64(edges)
}
