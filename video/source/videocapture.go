package source

import (
	"image"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

var ErrReadFailed = errors.New("video capture read failed")

// VideoCapture grabs frames from an OpenCV capture device, file or stream.
type VideoCapture struct {
	URI string
	cap *gocv.VideoCapture
}

// NewVideoCapture opens uri, which is either a numeric device id or anything
// OpenCV can open as a file or stream. A positive fps caps the device rate.
func NewVideoCapture(uri string, fps int) (*VideoCapture, error) {
	cap, err := gocv.OpenVideoCapture(uri)
	if err != nil {
		return nil, errors.Wrapf(err, "open video capture %q", uri)
	}
	if fps > 0 {
		cap.Set(gocv.VideoCaptureFPS, float64(fps))
	}
	return &VideoCapture{
		URI: uri,
		cap: cap,
	}, nil
}

func (v *VideoCapture) Grab(img *Image) error {
	if ok := v.cap.Read(&img.Mat); !ok || img.Mat.Empty() {
		return errors.Wrap(ErrReadFailed, v.URI)
	}
	return nil
}

func (v *VideoCapture) Size() image.Point {
	return image.Point{
		X: int(v.cap.Get(gocv.VideoCaptureFrameWidth)),
		Y: int(v.cap.Get(gocv.VideoCaptureFrameHeight)),
	}
}

func (v *VideoCapture) Close() error {
	return v.cap.Close()
}
