package process

import (
	"image"
	"image/color"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"gocv.io/x/gocv"
)

var (
	colorFace = color.RGBA{R: 255, G: 0, B: 255, A: 255}

	facesDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "framegrab",
		Name:      "faces_detected_total",
		Help:      "Faces found by the cascade classifier.",
	}, []string{"session"})
)

// FaceDetector finds faces with a Haar cascade on an equalized gray copy of
// each frame. It is not safe for concurrent use.
type FaceDetector struct {
	name       string
	classifier gocv.CascadeClassifier
	gray       gocv.Mat
}

// NewFaceDetector loads a cascade file such as
// haarcascade_frontalface_alt2.xml.
func NewFaceDetector(name, cascadePath string) (*FaceDetector, error) {
	c := gocv.NewCascadeClassifier()
	if !c.Load(cascadePath) {
		c.Close()
		return nil, errors.Errorf("unable to load cascade %v", cascadePath)
	}
	return &FaceDetector{
		name:       name,
		classifier: c,
		gray:       gocv.NewMat(),
	}, nil
}

// Detect returns the faces found in a BGR frame.
func (d *FaceDetector) Detect(img gocv.Mat) []image.Rectangle {
	if img.Empty() {
		return nil
	}
	gocv.CvtColor(img, &d.gray, gocv.ColorBGRToGray)
	gocv.EqualizeHist(d.gray, &d.gray)
	faces := d.classifier.DetectMultiScale(d.gray)
	facesDetected.WithLabelValues(d.name).Add(float64(len(faces)))
	return faces
}

// Center returns the center of the first face, and false if there is none.
func Center(faces []image.Rectangle) (image.Point, bool) {
	if len(faces) == 0 {
		return image.Point{}, false
	}
	f := faces[0]
	return image.Point{X: f.Min.X + f.Dx()/2, Y: f.Min.Y + f.Dy()/2}, true
}

// DrawFaces outlines every face on img.
func DrawFaces(img *gocv.Mat, faces []image.Rectangle) {
	for _, f := range faces {
		gocv.Rectangle(img, f, colorFace, 2)
	}
}

func (d *FaceDetector) Close() error {
	d.gray.Close()
	return d.classifier.Close()
}
