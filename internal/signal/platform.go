package signal

import (
	"context"
	"errors"
)

// ErrUnsupported marks a capability the client does not offer at all.
var ErrUnsupported = errors.New("signal: capability unsupported")

// Platform is the set of browser capabilities the collectors probe.
type Platform interface {
	Environment() (Environment, error)
	Graphics() (GraphicsContext, error)
	Raster() (RasterSurface, error)
	Audio() (AudioGraph, error)
}

// Environment carries the plain navigator/screen/Intl readings.
// Zero values mean the browser did not expose the field.
type Environment struct {
	UserAgent        string
	Language         string
	Platform         string
	ScreenWidth      int
	ScreenHeight     int
	DevicePixelRatio float64
	Timezone         string
	DoNotTrack       *string
	Plugins          []string
}

// GraphicsContext is a hardware-accelerated rendering context.
type GraphicsContext interface {
	// DebugRendererInfo reads the unmasked vendor and renderer strings.
	DebugRendererInfo() (vendor, renderer string, err error)
}

// RasterSurface is an offscreen 2D surface.
type RasterSurface interface {
	FillText(text, font string, x, y int) error
	Encode() (string, error)
}

// AudioGraph is an oscillator -> analyser -> processor chain. Callers must
// Stop, Disconnect and Close it on every path once it has been obtained.
type AudioGraph interface {
	Start(frequency float64) error
	Capture(ctx context.Context, n int) ([]float32, error)
	Stop()
	Disconnect()
	Close() error
}
