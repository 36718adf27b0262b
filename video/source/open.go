package source

import (
	"image"

	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"framegrab/video/pool"
)

// PatternURI selects the synthetic Pattern grabber instead of a device.
const PatternURI = "pattern"

type Options struct {
	Name string
	URI  string

	// Buffers is the number of frame buffers in the pool.
	Buffers int
	FPS     int

	// Size is only used by the pattern grabber; devices report their own.
	Size image.Point

	ManualStartStop bool
}

type grabber interface {
	pool.Grabber[*Image]
	Size() image.Point
}

// Device is a buffer pool over one capture device. It is the acquisition
// source for a session.
type Device struct {
	*pool.Pool[*Image]

	Size   image.Point
	images []*Image
}

// Open builds a Device from o.URI.
func Open(o Options) (*Device, error) {
	var g grabber
	if o.URI == PatternURI {
		g = NewPattern(o.Size, o.FPS)
	} else {
		vc, err := NewVideoCapture(o.URI, o.FPS)
		if err != nil {
			return nil, err
		}
		g = vc
	}
	d := &Device{
		Size:   g.Size(),
		images: NewImages(o.Buffers),
	}
	d.Pool = pool.New(d.images, pool.Grabber[*Image](g), pool.Options{
		Name:            o.Name,
		ManualStartStop: o.ManualStartStop,
	})
	log.WithField("pool", o.Name).Infof("Opened %v (%dx%d) with %d buffers", o.URI, d.Size.X, d.Size.Y, o.Buffers)
	return d, nil
}

// Close closes the pool and frees the frame buffers. All requests must have
// been released.
func (d *Device) Close() error {
	err := d.Pool.Close()
	for _, img := range d.images {
		err = multierr.Append(err, img.Close())
	}
	return err
}
