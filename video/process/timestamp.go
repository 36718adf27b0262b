package process

import (
	"image"
	"image/color"
	"time"

	"gocv.io/x/gocv"

	"framegrab/video/source"
)

var (
	colorTime = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	colorBG   = color.RGBA{R: 0, G: 0, B: 0, A: 255}
)

const (
	timestampScale     = 0.5
	timestampThickness = 1
	timestampPad       = 2
)

// DrawTimestamp labels img in its top left corner with name and the capture
// time t.
func DrawTimestamp(name string, img *source.Image, t time.Time) {
	if img.Mat.Empty() {
		return
	}
	text := name + " - " + t.Format("2006-01-02 15:04:05.000 MST")
	font := gocv.FontHersheySimplex

	sz := gocv.GetTextSize(text, font, timestampScale, timestampThickness)
	box := image.Rect(0, 0, sz.X+timestampPad*2, sz.Y+timestampPad*2)

	gocv.Rectangle(&img.Mat, box, colorBG, -1)
	gocv.PutText(&img.Mat, text, image.Point{X: timestampPad, Y: sz.Y + timestampPad}, font, timestampScale, colorTime, timestampThickness)
}
