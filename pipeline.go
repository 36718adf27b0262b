package main

import (
	"image"

	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"framegrab/acquire"
	"framegrab/config"
	"framegrab/video/pool"
	"framegrab/video/process"
	"framegrab/video/sink"
	"framegrab/video/source"
)

type frameRequest = acquire.Request[*pool.Buffer[*source.Image]]

// pipeline is one device, its session and the streams it publishes to.
type pipeline struct {
	name    string
	dev     *source.Device
	session *acquire.Session[*pool.Buffer[*source.Image]]
	chain   *process.Chain

	raw     *sink.MJPEGStream
	stamped *sink.MJPEGStream

	// done is closed once the buffered consumer exits.
	done chan struct{}
}

func startPipeline(c *config.Config, mjpeg *sink.MJPEGServer) (*pipeline, error) {
	dev, err := source.Open(source.Options{
		Name:            c.Name,
		URI:             c.URI,
		Buffers:         c.Buffers,
		FPS:             c.FPS,
		Size:            image.Point{X: c.PatternWidth, Y: c.PatternHeight},
		ManualStartStop: c.ManualStartStop,
	})
	if err != nil {
		return nil, err
	}

	chain, err := newChain(c, dev.Size)
	if err != nil {
		if cerr := dev.Close(); cerr != nil {
			log.Errorf("Failed to close %v: %v", c.Name, cerr)
		}
		return nil, err
	}

	mjpeg.Quality = c.JPEGQuality
	p := &pipeline{
		name: c.Name,
		dev:  dev,
		session: acquire.NewSession[*pool.Buffer[*source.Image]](dev, acquire.Options{
			Name:         c.Name,
			QueueSizeMax: c.QueueSizeMax,
			PollInterval: c.PollInterval(),
		}),
		chain:   chain,
		raw:     mjpeg.NewStream("raw"),
		stamped: mjpeg.NewStream("default"),
		done:    make(chan struct{}),
	}

	if c.Mode == config.ModeDirect {
		close(p.done)
		err = p.session.StartFunc(p.publish)
	} else {
		if err = p.session.Start(); err == nil {
			go p.consume()
		} else {
			close(p.done)
		}
	}
	if err != nil {
		p.close()
		return nil, err
	}
	log.Infof("Started %s acquisition from %v", c.Mode, c.URI)
	return p, nil
}

func newChain(c *config.Config, size image.Point) (*process.Chain, error) {
	chain := &process.Chain{Size: image.Point{X: c.OutputWidth, Y: c.OutputHeight}}
	if cal := c.Calibration; cal != nil {
		u, err := process.NewUndistorter(cal.CameraMatrix, cal.Distortion, cal.NewCameraMatrix, size)
		if err != nil {
			return nil, err
		}
		chain.Undistort = u
	}
	if c.FaceCascade != "" {
		f, err := process.NewFaceDetector(c.Name, c.FaceCascade)
		if err != nil {
			chain.Close()
			return nil, err
		}
		chain.Faces = f
	}
	return chain, nil
}

func (p *pipeline) consume() {
	defer close(p.done)
	for {
		r, ok := p.session.WaitForNextBlocking()
		if !ok {
			return
		}
		p.publish(r)
		r.Release()
	}
}

func (p *pipeline) publish(r *frameRequest) {
	b := r.Buffer()
	p.raw.Put(b.Frame.Mat, b.Time)
	out := p.chain.Apply(b.Frame)
	process.DrawTimestamp(p.name, out, b.Time)
	p.stamped.Put(out.Mat, b.Time)
}

func (p *pipeline) stats() acquire.Stats {
	return p.session.Stats()
}

// stop halts acquisition, releases everything still queued and closes the
// device.
func (p *pipeline) stop() {
	p.session.Stop()
	p.session.TerminateWaitForNext()
	<-p.done
	for {
		r, ok := p.session.WaitForNext(0)
		if !ok {
			break
		}
		r.Release()
	}
	p.close()
}

func (p *pipeline) close() {
	p.raw.Close()
	p.stamped.Close()
	err := multierr.Append(p.dev.Close(), p.chain.Close())
	if err != nil {
		log.Errorf("Failed to close %v: %v", p.name, err)
	}
}
