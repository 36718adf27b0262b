package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.viam.com/test"
)

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	test.That(t, c.Validate(), test.ShouldBeNil)
	test.That(t, c.PollInterval(), test.ShouldEqual, 200*time.Millisecond)
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		edit func(c *Config)
		msg  string
	}{
		{func(c *Config) { c.URI = "" }, "URI"},
		{func(c *Config) { c.Buffers = 0 }, "Buffers"},
		{func(c *Config) { c.Mode = "polling" }, "Mode"},
		{func(c *Config) { c.QueueSizeMax = -1 }, "QueueSizeMax"},
		{func(c *Config) { c.PollIntervalMs = 0 }, "PollIntervalMs"},
		{func(c *Config) { c.JPEGQuality = 101 }, "JPEGQuality"},
		{func(c *Config) { c.PatternHeight = 0 }, "pattern size"},
		{func(c *Config) { c.OutputWidth = 320 }, "output size"},
		{func(c *Config) { c.OutputWidth, c.OutputHeight = -1, 240 }, "output size"},
		{func(c *Config) { c.Calibration = &Calibration{} }, "Calibration: focal lengths"},
	} {
		c := Default()
		tc.edit(c)
		err := c.Validate()
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, tc.msg)
	}
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	test.That(t, os.WriteFile(path, []byte(body), 0o644), test.ShouldBeNil)
}

func TestLoadRejectsBadFiles(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	test.That(t, Load(ctx, filepath.Join(dir, "missing.json")), test.ShouldNotBeNil)

	unknown := filepath.Join(dir, "unknown.json")
	writeFile(t, unknown, `{"Camera": "front"}`)
	test.That(t, Load(ctx, unknown), test.ShouldNotBeNil)

	invalid := filepath.Join(dir, "invalid.json")
	writeFile(t, invalid, `{"Mode": "sometimes"}`)
	err := Load(ctx, invalid)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "invalid config")
}

func TestLoadAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "framegrab.json")
	writeFile(t, path, `{"Name": "front", "Buffers": 2}`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 4)
	OnChange(func(c *Config) { changes <- c })

	test.That(t, Load(ctx, path), test.ShouldBeNil)
	c := Get()
	test.That(t, c.Name, test.ShouldEqual, "front")
	test.That(t, c.Buffers, test.ShouldEqual, 2)
	// Fields missing from the file keep their defaults.
	test.That(t, c.Mode, test.ShouldEqual, ModeBuffered)
	test.That(t, c.JPEGQuality, test.ShouldEqual, 80)
	test.That(t, c.Calibration, test.ShouldBeNil)

	// Give the watcher time to start.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, path, `{"Name": "back", "Mode": "direct", "OutputWidth": 320, "OutputHeight": 240,
		"Calibration": {"CameraMatrix": [425.4, 0, 381.6, 0, 425.4, 231.3, 0, 0, 1], "Distortion": [-0.269, 0.055, -0.0006, 0.0015, 0]}}`)

	select {
	case c := <-changes:
		test.That(t, c.Name, test.ShouldEqual, "back")
		test.That(t, c.Mode, test.ShouldEqual, ModeDirect)
		test.That(t, c.OutputWidth, test.ShouldEqual, 320)
		test.That(t, c.Calibration, test.ShouldNotBeNil)
		test.That(t, c.Calibration.Distortion[0], test.ShouldEqual, -0.269)
		test.That(t, Get().Name, test.ShouldEqual, "back")
	case <-time.After(5 * time.Second):
		t.Fatal("config change was not observed")
	}
}
