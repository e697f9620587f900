package sim

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/opd-ai/pepperlink/media"
	"github.com/sirupsen/logrus"
)

// Camera defaults.
const (
	DefaultWidth   = 320
	DefaultHeight  = 240
	DefaultFPS     = 15
	DefaultQuality = 75
)

// ErrAlreadyRunning indicates Start was called on a running device.
var ErrAlreadyRunning = errors.New("sim: device already running")

// CameraConfig configures the test pattern camera.
type CameraConfig struct {
	Width   int
	Height  int
	FPS     int
	Quality int
}

// DefaultCameraConfig returns the default configuration.
func DefaultCameraConfig() CameraConfig {
	return CameraConfig{Width: DefaultWidth, Height: DefaultHeight, FPS: DefaultFPS, Quality: DefaultQuality}
}

// Camera emits JPEG test patterns at a fixed rate. Timestamps are
// microseconds since Start.
type Camera struct {
	cfg   CameraConfig
	clock clock.Clock

	mu      sync.Mutex
	stop    chan struct{}
	wg      sync.WaitGroup
	emitted int
}

// NewCamera creates a camera. A nil clock uses the wall clock.
func NewCamera(cfg CameraConfig, clk clock.Clock) *Camera {
	def := DefaultCameraConfig()
	if cfg.Width <= 0 || cfg.Height <= 0 {
		cfg.Width, cfg.Height = def.Width, def.Height
	}
	if cfg.FPS <= 0 {
		cfg.FPS = def.FPS
	}
	if cfg.Quality <= 0 || cfg.Quality > 100 {
		cfg.Quality = def.Quality
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Camera{cfg: cfg, clock: clk}
}

// Interval is the time between frames.
func (c *Camera) Interval() time.Duration {
	return time.Second / time.Duration(c.cfg.FPS)
}

// Start begins emitting frames.
func (c *Camera) Start(emit func(media.FramePacket)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		return ErrAlreadyRunning
	}
	if emit == nil {
		return errors.New("emit cannot be nil")
	}

	stop := make(chan struct{})
	c.stop = stop
	started := c.clock.Now()
	ticker := c.clock.Ticker(c.Interval())

	logrus.WithFields(logrus.Fields{
		"function": "Camera.Start",
		"width":    c.cfg.Width,
		"height":   c.cfg.Height,
		"fps":      c.cfg.FPS,
	}).Info("Test pattern camera started")

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer ticker.Stop()
		for n := 0; ; n++ {
			select {
			case <-stop:
				return
			case now := <-ticker.C:
				payload, err := c.frame(n)
				if err != nil {
					logrus.WithFields(logrus.Fields{
						"function": "Camera.Start",
						"frame":    n,
						"error":    err.Error(),
					}).Error("Failed to encode test pattern")
					continue
				}
				emit(media.FramePacket{
					CaptureTimestampMicros: uint64(now.Sub(started).Microseconds()),
					Payload:                payload,
				})
				c.mu.Lock()
				c.emitted++
				c.mu.Unlock()
			}
		}
	}()
	return nil
}

// Stop ends capture and waits for the emitting goroutine.
func (c *Camera) Stop() error {
	c.mu.Lock()
	stop := c.stop
	c.stop = nil
	c.mu.Unlock()
	if stop == nil {
		return nil
	}
	close(stop)
	c.wg.Wait()
	return nil
}

// Emitted returns the number of frames emitted since creation.
func (c *Camera) Emitted() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.emitted
}

// frame draws a gray background with a border, a color band that cycles
// over time and a bar that sweeps across the image.
func (c *Camera) frame(n int) ([]byte, error) {
	w, h := c.cfg.Width, c.cfg.Height
	img := image.NewRGBA(image.Rect(0, 0, w, h))

	phase := float64(n) / float64(c.cfg.FPS)
	band := color.RGBA{
		R: uint8(128 + 100*math.Sin(phase)),
		G: uint8(128 + 100*math.Sin(phase+2*math.Pi/3)),
		B: uint8(128 + 100*math.Sin(phase+4*math.Pi/3)),
		A: 255,
	}
	bar := (n * 8) % w

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			switch {
			case x == 0 || y == 0 || x == w-1 || y == h-1:
				img.SetRGBA(x, y, color.RGBA{235, 235, 235, 255})
			case x >= bar && x < bar+8:
				img.SetRGBA(x, y, color.RGBA{16, 16, 16, 255})
			case y < h/4:
				img.SetRGBA(x, y, band)
			default:
				img.SetRGBA(x, y, color.RGBA{128, 128, 128, 255})
			}
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: c.cfg.Quality}); err != nil {
		return nil, fmt.Errorf("encode frame %d: %w", n, err)
	}
	return buf.Bytes(), nil
}
