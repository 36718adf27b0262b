package source

import (
	"fmt"
	"image"
	"image/color"
	"time"

	"gocv.io/x/gocv"
)

var (
	colorBar  = color.RGBA{R: 255, G: 160, B: 0, A: 255}
	colorText = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// Pattern grabs synthetic frames at a fixed rate, for running without a
// camera. Each frame shows a sweeping bar and its frame number.
type Pattern struct {
	size     image.Point
	frameDur time.Duration

	n    int
	next time.Time
}

func NewPattern(size image.Point, fps int) *Pattern {
	if fps <= 0 {
		fps = 15
	}
	return &Pattern{
		size:     size,
		frameDur: time.Second / time.Duration(fps),
	}
}

func (p *Pattern) Grab(img *Image) error {
	// Pace like a real device.
	now := time.Now()
	if p.next.IsZero() || now.Sub(p.next) > p.frameDur {
		p.next = now
	}
	if d := p.next.Sub(now); d > 0 {
		time.Sleep(d)
	}
	p.next = p.next.Add(p.frameDur)

	if img.Mat.Cols() != p.size.X || img.Mat.Rows() != p.size.Y {
		img.Mat.Close()
		img.Mat = gocv.NewMatWithSize(p.size.Y, p.size.X, gocv.MatTypeCV8UC3)
	}
	img.Mat.SetTo(gocv.NewScalar(32, 32, 32, 0))

	w := p.size.X / 8
	x := (p.n * 4) % (p.size.X + w)
	gocv.Rectangle(&img.Mat, image.Rect(x-w, 0, x, p.size.Y), colorBar, -1)
	gocv.PutText(&img.Mat, fmt.Sprintf("frame %d", p.n), image.Point{X: 8, Y: p.size.Y - 12},
		gocv.FontHersheySimplex, 0.8, colorText, 2)
	p.n++
	return nil
}

func (p *Pattern) Size() image.Point {
	return p.size
}

func (p *Pattern) Close() error {
	return nil
}
