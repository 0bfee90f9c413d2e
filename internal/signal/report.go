package signal

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Limits applied to reports posted by the collector script.
const (
	MaxPlugins     = 256
	MaxCanvasBytes = 2 << 20
	MaxFieldBytes  = 4 << 10
)

// Separator joins canonical values into a fingerprint. Reported values may
// not contain it.
const Separator = "\x1f"

// Report is the raw reading posted by /dna.js. A nil section means the
// browser lacks that capability; a non-empty Error means it threw.
type Report struct {
	Environment *EnvironmentReport `json:"environment,omitempty"`
	WebGL       *WebGLReport       `json:"webgl,omitempty"`
	Canvas      *CanvasReport      `json:"canvas,omitempty"`
	Audio       *AudioReport       `json:"audio,omitempty"`
}

type EnvironmentReport struct {
	UserAgent        string   `json:"userAgent"`
	Language         string   `json:"language"`
	Platform         string   `json:"platform"`
	ScreenWidth      int      `json:"screenWidth"`
	ScreenHeight     int      `json:"screenHeight"`
	DevicePixelRatio float64  `json:"devicePixelRatio"`
	Timezone         string   `json:"timezone"`
	DoNotTrack       *string  `json:"doNotTrack"`
	Plugins          []string `json:"plugins"`
}

type WebGLReport struct {
	Supported bool   `json:"supported"`
	Vendor    string `json:"vendor,omitempty"`
	Renderer  string `json:"renderer,omitempty"`
	Error     string `json:"error,omitempty"`
}

type CanvasReport struct {
	Text    string `json:"text,omitempty"`
	Font    string `json:"font,omitempty"`
	DataURL string `json:"dataUrl,omitempty"`
	Error   string `json:"error,omitempty"`
}

type AudioReport struct {
	Frequency float64   `json:"frequency,omitempty"`
	Samples   []float64 `json:"samples,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Validate rejects reports that exceed the size limits or carry the join
// separator in a reported value.
func (r *Report) Validate() error {
	if r == nil {
		return errors.New("report is required")
	}
	if env := r.Environment; env != nil {
		for name, v := range map[string]string{
			"userAgent": env.UserAgent, "language": env.Language,
			"platform": env.Platform, "timezone": env.Timezone,
		} {
			if len(v) > MaxFieldBytes {
				return fmt.Errorf("environment.%s exceeds %d bytes", name, MaxFieldBytes)
			}
		}
		if len(env.Plugins) > MaxPlugins {
			return fmt.Errorf("environment.plugins exceeds %d entries", MaxPlugins)
		}
		if env.ScreenWidth < 0 || env.ScreenHeight < 0 || env.DevicePixelRatio < 0 {
			return errors.New("environment: negative screen metrics")
		}
	}
	if name, ok := r.firstSeparator(); ok {
		return fmt.Errorf("%s contains a reserved control character", name)
	}
	if r.WebGL != nil && (len(r.WebGL.Vendor) > MaxFieldBytes || len(r.WebGL.Renderer) > MaxFieldBytes) {
		return fmt.Errorf("webgl strings exceed %d bytes", MaxFieldBytes)
	}
	if r.Canvas != nil && len(r.Canvas.DataURL) > MaxCanvasBytes {
		return fmt.Errorf("canvas.dataUrl exceeds %d bytes", MaxCanvasBytes)
	}
	if r.Audio != nil && r.Audio.Error == "" && len(r.Audio.Samples) > 0 && len(r.Audio.Samples) < AudioSamples {
		return fmt.Errorf("audio.samples has %d entries, need %d", len(r.Audio.Samples), AudioSamples)
	}
	return nil
}

// firstSeparator names the first reported value that contains Separator.
func (r *Report) firstSeparator() (string, bool) {
	type field struct{ name, value string }
	var fields []field
	if env := r.Environment; env != nil {
		fields = append(fields,
			field{"environment.userAgent", env.UserAgent},
			field{"environment.language", env.Language},
			field{"environment.platform", env.Platform},
			field{"environment.timezone", env.Timezone},
		)
		if env.DoNotTrack != nil {
			fields = append(fields, field{"environment.doNotTrack", *env.DoNotTrack})
		}
		for _, p := range env.Plugins {
			fields = append(fields, field{"environment.plugins", p})
		}
	}
	if gl := r.WebGL; gl != nil {
		fields = append(fields, field{"webgl.vendor", gl.Vendor}, field{"webgl.renderer", gl.Renderer})
	}
	if c := r.Canvas; c != nil {
		fields = append(fields, field{"canvas.dataUrl", c.DataURL})
	}
	for _, f := range fields {
		if strings.Contains(f.value, Separator) {
			return f.name, true
		}
	}
	return "", false
}

// Platform exposes the report as the capability set the collectors probe.
func (r *Report) Platform() Platform { return reportPlatform{r: r} }

type reportPlatform struct{ r *Report }

func (p reportPlatform) Environment() (Environment, error) {
	env := p.r.Environment
	if env == nil {
		return Environment{}, ErrUnsupported
	}
	return Environment{
		UserAgent:        env.UserAgent,
		Language:         env.Language,
		Platform:         env.Platform,
		ScreenWidth:      env.ScreenWidth,
		ScreenHeight:     env.ScreenHeight,
		DevicePixelRatio: env.DevicePixelRatio,
		Timezone:         env.Timezone,
		DoNotTrack:       env.DoNotTrack,
		Plugins:          env.Plugins,
	}, nil
}

func (p reportPlatform) Graphics() (GraphicsContext, error) {
	gl := p.r.WebGL
	if gl == nil || !gl.Supported {
		return nil, ErrUnsupported
	}
	return reportedGraphics{gl}, nil
}

func (p reportPlatform) Raster() (RasterSurface, error) {
	if p.r.Canvas == nil {
		return nil, ErrUnsupported
	}
	return &reportedRaster{c: p.r.Canvas}, nil
}

func (p reportPlatform) Audio() (AudioGraph, error) {
	if p.r.Audio == nil {
		return nil, ErrUnsupported
	}
	return &reportedAudio{a: p.r.Audio}, nil
}

type reportedGraphics struct{ gl *WebGLReport }

func (g reportedGraphics) DebugRendererInfo() (string, string, error) {
	if g.gl.Error != "" {
		return "", "", errors.New(g.gl.Error)
	}
	if g.gl.Vendor == "" && g.gl.Renderer == "" {
		return "", "", errors.New("debug renderer info unavailable")
	}
	return g.gl.Vendor, g.gl.Renderer, nil
}

// reportedRaster replays a canvas the browser already drew. It refuses to
// vouch for pixels drawn with different text or font than requested.
type reportedRaster struct {
	c     *CanvasReport
	drawn bool
}

func (s *reportedRaster) FillText(text, font string, _, _ int) error {
	if s.c.Error != "" {
		return errors.New(s.c.Error)
	}
	if (s.c.Text != "" && s.c.Text != text) || (s.c.Font != "" && s.c.Font != font) {
		return fmt.Errorf("canvas drawn with %q/%q, want %q/%q", s.c.Text, s.c.Font, text, font)
	}
	s.drawn = true
	return nil
}

func (s *reportedRaster) Encode() (string, error) {
	if !s.drawn {
		return "", errors.New("canvas not drawn")
	}
	if s.c.DataURL == "" {
		return "", errors.New("empty canvas data")
	}
	return s.c.DataURL, nil
}

// reportedAudio replays samples captured by the browser's audio graph.
type reportedAudio struct {
	a       *AudioReport
	started bool
	closed  bool
}

func (g *reportedAudio) Start(frequency float64) error {
	if g.closed {
		return errors.New("audio graph closed")
	}
	if g.a.Error != "" {
		return errors.New(g.a.Error)
	}
	if g.a.Frequency != 0 && g.a.Frequency != frequency {
		return fmt.Errorf("oscillator ran at %v Hz, want %v Hz", g.a.Frequency, frequency)
	}
	g.started = true
	return nil
}

func (g *reportedAudio) Capture(ctx context.Context, n int) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !g.started || g.closed {
		return nil, errors.New("audio graph not running")
	}
	if len(g.a.Samples) < n {
		return nil, fmt.Errorf("captured %d samples, need %d", len(g.a.Samples), n)
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(g.a.Samples[i])
	}
	return out, nil
}

func (g *reportedAudio) Stop()       { g.started = false }
func (g *reportedAudio) Disconnect() {}
func (g *reportedAudio) Close() error {
	g.closed = true
	return nil
}
