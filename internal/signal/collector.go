package signal

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shortontech/dnaguard/internal/digest"
)

// Collector probes one capability and yields a value per signal it owns.
type Collector interface {
	Signals() []Name
	Collect(ctx context.Context, p Platform) []Value
}

// Run invokes c and guarantees one value per owned signal. A panic or a
// malformed result marks every owned signal as errored.
func Run(ctx context.Context, c Collector, p Platform) (out []Value) {
	names := c.Signals()
	defer func() {
		if r := recover(); r != nil {
			out = erroredN(len(names))
		}
	}()
	vals := c.Collect(ctx, p)
	if len(vals) != len(names) {
		return erroredN(len(names))
	}
	return vals
}

func erroredN(n int) []Value {
	out := make([]Value, n)
	for i := range out {
		out[i] = Errored()
	}
	return out
}

func fill(n int, v Value) []Value {
	out := make([]Value, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// EnvironmentCollector reads the navigator, screen and Intl descriptors.
type EnvironmentCollector struct{}

var environmentSignals = []Name{UserAgent, Language, PlatformName, Screen, DevicePixelRatio, Timezone, DoNotTrack, Plugins}

func (EnvironmentCollector) Signals() []Name { return environmentSignals }

func (EnvironmentCollector) Collect(_ context.Context, p Platform) []Value {
	env, err := p.Environment()
	if errors.Is(err, ErrUnsupported) {
		return fill(len(environmentSignals), Unavailable())
	}
	if err != nil {
		return erroredN(len(environmentSignals))
	}

	screen := Unavailable()
	if env.ScreenWidth > 0 && env.ScreenHeight > 0 {
		screen = OK(fmt.Sprintf("%dx%d", env.ScreenWidth, env.ScreenHeight))
	}
	dpr := Unavailable()
	if env.DevicePixelRatio > 0 {
		dpr = OK(formatNumber(env.DevicePixelRatio))
	}
	dnt := OK("unspecified")
	if env.DoNotTrack != nil {
		dnt = OK(*env.DoNotTrack)
	}

	return []Value{
		nonEmpty(env.UserAgent),
		nonEmpty(env.Language),
		nonEmpty(env.Platform),
		screen,
		dpr,
		nonEmpty(env.Timezone),
		dnt,
		OK(strings.Join(env.Plugins, ",")),
	}
}

func nonEmpty(s string) Value {
	if s == "" {
		return Unavailable()
	}
	return OK(s)
}

// GraphicsCollector reads the unmasked GPU vendor and renderer.
type GraphicsCollector struct{}

func (GraphicsCollector) Signals() []Name { return []Name{WebGL} }

func (GraphicsCollector) Collect(_ context.Context, p Platform) []Value {
	gl, err := p.Graphics()
	if err != nil || gl == nil {
		return []Value{Unavailable()}
	}
	vendor, renderer, err := gl.DebugRendererInfo()
	if err != nil {
		return []Value{Errored()}
	}
	return []Value{OK(vendor + "|" + renderer)}
}

// Fixed raster probe parameters.
const (
	RasterText = "DNA-fingerprint <canvas> 1.0"
	RasterFont = "14px 'Arial'"
	RasterX    = 2
	RasterY    = 15
)

// RasterCollector draws a fixed string and returns the encoded pixels.
type RasterCollector struct{}

func (RasterCollector) Signals() []Name { return []Name{Canvas} }

func (RasterCollector) Collect(_ context.Context, p Platform) []Value {
	surface, err := p.Raster()
	if err != nil || surface == nil {
		return []Value{Errored()}
	}
	if err := surface.FillText(RasterText, RasterFont, RasterX, RasterY); err != nil {
		return []Value{Errored()}
	}
	data, err := surface.Encode()
	if err != nil || data == "" {
		return []Value{Errored()}
	}
	return []Value{OK(data)}
}

// Fixed audio probe parameters.
const (
	AudioFrequency = 10000
	AudioSamples   = 50
)

// AudioCollector digests the first AudioSamples processed samples of a
// fixed-frequency oscillator.
type AudioCollector struct{}

func (AudioCollector) Signals() []Name { return []Name{Audio} }

func (c AudioCollector) Collect(ctx context.Context, p Platform) []Value {
	return []Value{c.collect(ctx, p)}
}

func (AudioCollector) collect(ctx context.Context, p Platform) Value {
	graph, err := p.Audio()
	if err != nil || graph == nil {
		return Errored()
	}
	defer teardown(graph)

	if err := graph.Start(AudioFrequency); err != nil {
		return Errored()
	}
	samples, err := graph.Capture(ctx, AudioSamples)
	if err != nil || len(samples) < AudioSamples {
		return Errored()
	}
	return OK(digest.DigestString(FormatSamples(samples[:AudioSamples])))
}

// teardown releases the graph; each step runs even if an earlier one panics.
func teardown(g AudioGraph) {
	safely(g.Stop)
	safely(g.Disconnect)
	safely(func() { _ = g.Close() })
}

func safely(fn func()) {
	defer func() { _ = recover() }()
	fn()
}

// FormatSamples renders samples the way a browser stringifies a Float32Array:
// comma separated, each value widened to float64 and printed in shortest form.
func FormatSamples(samples []float32) string {
	parts := make([]string, len(samples))
	for i, s := range samples {
		parts[i] = formatNumber(float64(s))
	}
	return strings.Join(parts, ",")
}

// formatNumber follows ECMAScript Number#toString for finite values.
func formatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == 0:
		return "0"
	}
	abs := f
	if abs < 0 {
		abs = -abs
	}
	if abs >= 1e21 || abs < 1e-6 {
		s := strconv.FormatFloat(f, 'e', -1, 64)
		mant, exp, _ := strings.Cut(s, "e")
		sign := exp[:1]
		digits := strings.TrimLeft(exp[1:], "0")
		return mant + "e" + sign + digits
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
