package config

import (
	"time"

	"github.com/pkg/errors"
)

const (
	ModeBuffered = "buffered"
	ModeDirect   = "direct"
)

type Config struct {
	// Name labels the acquisition session, its logs and metrics.
	Name string

	// URI is a device id, a file or stream URI, or "pattern".
	URI string

	// Buffers is the number of frame buffers cycled by the capture pool.
	Buffers int
	FPS     int

	// PatternWidth and PatternHeight size the synthetic pattern source.
	PatternWidth  int
	PatternHeight int

	// ManualStartStop starts and stops device streaming with the session
	// instead of keeping it running while the device is open.
	ManualStartStop bool

	// Mode is "buffered" (result queue and consumer) or "direct" (handler on
	// the acquisition goroutine).
	Mode string

	// If zero, the result queue is unbounded.
	QueueSizeMax int

	PollIntervalMs int
	JPEGQuality    int

	// OutputWidth and OutputHeight resize published frames. Zero keeps the
	// capture size.
	OutputWidth  int
	OutputHeight int

	// FaceCascade is a Haar cascade file; faces are outlined when set.
	FaceCascade string

	// Calibration enables lens undistortion.
	Calibration *Calibration
}

// Calibration describes a lens with a 3x3 row-major camera matrix and five
// distortion coefficients (k1 k2 p1 p2 k3). NewCameraMatrix, if set, is the
// camera matrix of the rectified output.
type Calibration struct {
	CameraMatrix    [9]float64
	Distortion      [5]float64
	NewCameraMatrix *[9]float64
}

func (c *Calibration) Validate() error {
	if c.CameraMatrix[0] <= 0 || c.CameraMatrix[4] <= 0 {
		return errors.Errorf("focal lengths must be positive, got fx=%v fy=%v", c.CameraMatrix[0], c.CameraMatrix[4])
	}
	if c.NewCameraMatrix != nil && (c.NewCameraMatrix[0] <= 0 || c.NewCameraMatrix[4] <= 0) {
		return errors.New("new camera matrix focal lengths must be positive")
	}
	return nil
}

// Default returns the configuration used for fields missing from the file.
func Default() *Config {
	return &Config{
		Name:           "cam",
		URI:            "pattern",
		Buffers:        4,
		FPS:            15,
		PatternWidth:   640,
		PatternHeight:  480,
		Mode:           ModeBuffered,
		QueueSizeMax:   16,
		PollIntervalMs: 200,
		JPEGQuality:    80,
	}
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

func (c *Config) Validate() error {
	switch {
	case c.URI == "":
		return errors.New("URI must be set")
	case c.Buffers < 1:
		return errors.Errorf("Buffers must be at least 1, got %d", c.Buffers)
	case c.Mode != ModeBuffered && c.Mode != ModeDirect:
		return errors.Errorf("Mode must be %q or %q, got %q", ModeBuffered, ModeDirect, c.Mode)
	case c.QueueSizeMax < 0:
		return errors.Errorf("QueueSizeMax must not be negative, got %d", c.QueueSizeMax)
	case c.PollIntervalMs < 1:
		return errors.Errorf("PollIntervalMs must be positive, got %d", c.PollIntervalMs)
	case c.JPEGQuality < 1 || c.JPEGQuality > 100:
		return errors.Errorf("JPEGQuality must be within [1, 100], got %d", c.JPEGQuality)
	case c.PatternWidth < 1 || c.PatternHeight < 1:
		return errors.Errorf("pattern size must be positive, got %dx%d", c.PatternWidth, c.PatternHeight)
	case c.OutputWidth < 0 || c.OutputHeight < 0 || (c.OutputWidth == 0) != (c.OutputHeight == 0):
		return errors.Errorf("output size must be both zero or both positive, got %dx%d", c.OutputWidth, c.OutputHeight)
	}
	if c.Calibration != nil {
		return errors.Wrap(c.Calibration.Validate(), "Calibration")
	}
	return nil
}
