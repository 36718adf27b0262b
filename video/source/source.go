package source

import (
	"image"

	"gocv.io/x/gocv"
)

// Image is a frame buffer owned by a capture pool. Its Mat is reused from
// frame to frame and is only valid while the request it came with is held.
type Image struct {
	Mat gocv.Mat
}

func (i *Image) Size() image.Point {
	return image.Point{X: i.Mat.Cols(), Y: i.Mat.Rows()}
}

func (i *Image) Close() error {
	return i.Mat.Close()
}

// NewImages allocates n empty frame buffers.
func NewImages(n int) []*Image {
	imgs := make([]*Image, n)
	for i := range imgs {
		imgs[i] = &Image{Mat: gocv.NewMat()}
	}
	return imgs
}
