package process

import (
	"image"

	"gocv.io/x/gocv"
	"go.uber.org/multierr"

	"framegrab/video/source"
)

// Chain runs the optional per-frame stages in order: undistort, resize and
// face detection. Stages left nil or zero are skipped. A Chain keeps its own
// output buffers and must only be used by one goroutine.
type Chain struct {
	Undistort *Undistorter
	Faces     *FaceDetector

	// Size is the output size; zero keeps the input size.
	Size image.Point

	undistorted *source.Image
	resized     *source.Image
}

// Apply processes in and returns the result, which is in itself when no
// stage changes the frame. The returned image is valid until the next Apply.
func (c *Chain) Apply(in *source.Image) *source.Image {
	out := in
	if c.Undistort != nil {
		if c.undistorted == nil {
			c.undistorted = &source.Image{Mat: gocv.NewMat()}
		}
		c.Undistort.Apply(out.Mat, &c.undistorted.Mat)
		out = c.undistorted
	}
	if c.Size != (image.Point{}) && out.Size() != c.Size {
		if c.resized == nil {
			c.resized = &source.Image{Mat: gocv.NewMat()}
		}
		Resize(out, c.resized, c.Size)
		out = c.resized
	}
	if c.Faces != nil {
		DrawFaces(&out.Mat, c.Faces.Detect(out.Mat))
	}
	return out
}

// Resize scales src into dst.
func Resize(src, dst *source.Image, size image.Point) {
	if src.Mat.Empty() {
		return
	}
	gocv.Resize(src.Mat, &dst.Mat, size, 0, 0, gocv.InterpolationLinear)
}

func (c *Chain) Close() error {
	var err error
	for _, img := range []*source.Image{c.undistorted, c.resized} {
		if img != nil {
			err = multierr.Append(err, img.Close())
		}
	}
	if c.Undistort != nil {
		err = multierr.Append(err, c.Undistort.Close())
	}
	if c.Faces != nil {
		err = multierr.Append(err, c.Faces.Close())
	}
	return err
}
