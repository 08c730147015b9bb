package underline

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"

	"quotebook/ocr"
)

const (
	paperGray  = 240
	inkGray    = 20
	pencilGray = 150
)

// testPage is a synthetic photographed page: light paper, printed text as
// solid ink blocks and pencil marks as mid-gray strokes.
type testPage struct {
	img *image.Gray
}

func newTestPage(width, height int) *testPage {
	img := image.NewGray(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.Gray{Y: paperGray}}, image.Point{}, draw.Src)
	return &testPage{img: img}
}

func (p *testPage) fill(x0, y0, x1, y1 int, v uint8) {
	draw.Draw(p.img, image.Rect(x0, y0, x1, y1), &image.Uniform{C: color.Gray{Y: v}}, image.Point{}, draw.Src)
}

// text prints an ink block for the region and returns it.
func (p *testPage) text(r ocr.TextRegion) ocr.TextRegion {
	b := p.img.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())
	p.fill(int(r.BoundingBox.Left*w), int((1-r.BoundingBox.Top)*h), int(r.BoundingBox.Right*w), int((1-r.BoundingBox.Bottom)*h), inkGray)
	return r
}

// pencil draws a two pixel high stroke from column x0 to x1 at row y.
func (p *testPage) pencil(x0, x1, y int) {
	p.fill(x0, y, x1, y+2, pencilGray)
}

func (p *testPage) png(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, p.img))
	return buf.Bytes()
}

func region(text string, left, right, top, bottom float64) ocr.TextRegion {
	return ocr.TextRegion{
		Text:        text,
		BoundingBox: ocr.BoundingBox{Left: left, Right: right, Top: top, Bottom: bottom},
		Confidence:  0.95,
	}
}

// fakeProvider returns fixed regions regardless of the image.
type fakeProvider struct {
	regions []ocr.TextRegion
	err     error
	calls   int
}

func (f *fakeProvider) Recognize(ctx context.Context, imageContent []byte) (*ocr.Recognition, error) {
	f.calls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	return &ocr.Recognition{Regions: f.regions}, nil
}
