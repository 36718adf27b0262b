package process

import (
	"image"
	"image/color"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// Undistorter removes lens distortion from frames of one size using
// precomputed remap tables.
type Undistorter struct {
	size       image.Point
	map1, map2 gocv.Mat
}

func matFrom(rows, cols int, v []float64) gocv.Mat {
	m := gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV64F)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			m.SetDoubleAt(r, c, v[r*cols+c])
		}
	}
	return m
}

// NewUndistorter builds remap tables for frames of size from a row-major
// camera matrix and distortion coefficients (k1 k2 p1 p2 k3). newCameraMatrix, if
// set, is the camera matrix of the rectified output.
func NewUndistorter(cameraMatrix [9]float64, distortion [5]float64, newCameraMatrix *[9]float64, size image.Point) (*Undistorter, error) {
	if cameraMatrix[0] <= 0 || cameraMatrix[4] <= 0 {
		return nil, errors.Errorf("focal lengths must be positive, got fx=%v fy=%v", cameraMatrix[0], cameraMatrix[4])
	}
	camera := matFrom(3, 3, cameraMatrix[:])
	defer camera.Close()
	dist := matFrom(1, 5, distortion[:])
	defer dist.Close()
	rect := matFrom(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
	defer rect.Close()
	newCamera := camera
	if newCameraMatrix != nil {
		newCamera = matFrom(3, 3, newCameraMatrix[:])
		defer newCamera.Close()
	}

	u := &Undistorter{
		size: size,
		map1: gocv.NewMat(),
		map2: gocv.NewMat(),
	}
	gocv.InitUndistortRectifyMap(camera, dist, rect, newCamera, size, int(gocv.MatTypeCV32F), u.map1, u.map2)
	return u, nil
}

// Apply writes the rectified src into dst. Frames of another size than the
// calibration are copied unchanged.
func (u *Undistorter) Apply(src gocv.Mat, dst *gocv.Mat) {
	if src.Cols() != u.size.X || src.Rows() != u.size.Y {
		src.CopyTo(dst)
		return
	}
	gocv.Remap(src, dst, &u.map1, &u.map2, gocv.InterpolationLinear, gocv.BorderConstant, color.RGBA{})
}

func (u *Undistorter) Close() error {
	u.map1.Close()
	return u.map2.Close()
}
