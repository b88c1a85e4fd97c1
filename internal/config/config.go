// Package config handles viewer configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/Faultbox/tilestream/pkg/tile"
)

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid config")

// Config holds all viewer settings.
type Config struct {
	Window  WindowConfig  `yaml:"window"`
	Terrain TerrainConfig `yaml:"terrain"`
	Raster  RasterConfig  `yaml:"raster"`
	LOD     LODConfig     `yaml:"lod"`
	Blend   BlendConfig   `yaml:"blend"`
	View    ViewConfig    `yaml:"view"`
	Logging LoggingConfig `yaml:"logging"`
}

// WindowConfig holds display settings.
type WindowConfig struct {
	Width      int  `yaml:"width"`
	Height     int  `yaml:"height"`
	Fullscreen bool `yaml:"fullscreen"`
	VSync      bool `yaml:"vsync"`
	FPSLimit   int  `yaml:"fps_limit"`
}

// TerrainConfig selects the quantized-mesh source and how it is streamed.
// Endpoint wins over the ion settings when both are set.
type TerrainConfig struct {
	Endpoint   string `yaml:"endpoint"`
	IonServer  string `yaml:"ion_server"`
	IonAssetID int    `yaml:"ion_asset_id"`
	IonToken   string `yaml:"ion_token"`

	Projection string `yaml:"projection"` // geographic | mercator
	Origin     string `yaml:"origin"`     // tms | xyz

	MaxZoom         uint32        `yaml:"max_zoom"`
	MaxConcurrent   int           `yaml:"max_concurrent"`
	CacheSize       int           `yaml:"cache_size"`
	FailureCooldown time.Duration `yaml:"failure_cooldown"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`

	Exaggeration    float64 `yaml:"exaggeration"`
	SkirtMinDepth   float64 `yaml:"skirt_min_depth"`
	SkirtDepthScale float64 `yaml:"skirt_depth_scale"`
}

// RasterConfig describes the basemap tile source.
type RasterConfig struct {
	URL            string        `yaml:"url"`
	Subdomains     []string      `yaml:"subdomains"`
	MaxZoom        uint32        `yaml:"max_zoom"`
	MaxEntries     int           `yaml:"max_entries"`
	MaxConcurrent  int           `yaml:"max_concurrent"`
	MaxTextureSize int           `yaml:"max_texture_size"`
	PreloadRetry   time.Duration `yaml:"preload_retry"`
}

// LODConfig tunes tile set refinement.
type LODConfig struct {
	BaseZoom      uint32  `yaml:"base_zoom"`
	SplitRatio    float64 `yaml:"split_ratio"`
	TileBudget    int     `yaml:"tile_budget"`
	MoveThreshold float64 `yaml:"move_threshold"`
}

// BlendConfig tunes cross-resolution blending.
type BlendConfig struct {
	Fraction     float64 `yaml:"fraction"`
	SkirtEpsilon float64 `yaml:"skirt_epsilon"`
	GridSize     int     `yaml:"grid_size"`
}

// ViewConfig is the initial camera position.
type ViewConfig struct {
	Lon    float64 `yaml:"lon"`
	Lat    float64 `yaml:"lat"`
	Height float64 `yaml:"height"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
	JSON    bool   `yaml:"json"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Window: WindowConfig{
			Width:      1280,
			Height:     720,
			Fullscreen: false,
			VSync:      true,
			FPSLimit:   0,
		},
		Terrain: TerrainConfig{
			IonServer:       "https://api.cesium.com",
			IonAssetID:      1,
			Projection:      "geographic",
			Origin:          "tms",
			MaxZoom:         14,
			MaxConcurrent:   6,
			CacheSize:       512,
			FailureCooldown: 30 * time.Second,
			RequestTimeout:  30 * time.Second,
			Exaggeration:    1,
			SkirtMinDepth:   50,
			SkirtDepthScale: 0.1,
		},
		Raster: RasterConfig{
			URL:           "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png",
			Subdomains:    []string{"a", "b", "c"},
			MaxZoom:       19,
			MaxEntries:    512,
			MaxConcurrent: 6,
			PreloadRetry:  5 * time.Second,
		},
		LOD: LODConfig{
			BaseZoom:      0,
			SplitRatio:    2,
			TileBudget:    256,
			MoveThreshold: 10,
		},
		Blend: BlendConfig{
			Fraction:     0.25,
			SkirtEpsilon: 0.5,
			GridSize:     128,
		},
		View: ViewConfig{
			Lon:    7.6586,
			Lat:    45.9763,
			Height: 20000,
		},
		Logging: LoggingConfig{
			Level:   "info",
			LogFile: "",
		},
	}
}

// TerrainScheme parses the terrain projection and origin.
func (c *Config) TerrainScheme() (tile.Scheme, error) {
	p, err := tile.ParseProjection(c.Terrain.Projection)
	if err != nil {
		return tile.Scheme{}, err
	}
	o, err := tile.ParseOrigin(c.Terrain.Origin)
	if err != nil {
		return tile.Scheme{}, err
	}
	return tile.Scheme{Projection: p, Origin: o}, nil
}

// Validate checks value ranges and returns every problem found.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
		}
	}

	check(c.Window.Width > 0 && c.Window.Height > 0, "window size %dx%d", c.Window.Width, c.Window.Height)
	check(c.Window.FPSLimit >= 0, "fps_limit %d", c.Window.FPSLimit)

	if _, err := c.TerrainScheme(); err != nil {
		errs = append(errs, fmt.Errorf("%w: terrain: %v", ErrInvalid, err))
	}
	check(c.Terrain.Endpoint != "" || (c.Terrain.IonAssetID > 0 && c.Terrain.IonToken != ""),
		"terrain needs an endpoint or an ion asset and token")
	check(c.Terrain.MaxZoom <= tile.MaxZoom, "terrain max_zoom %d > %d", c.Terrain.MaxZoom, tile.MaxZoom)
	check(c.Terrain.MaxConcurrent > 0, "terrain max_concurrent %d", c.Terrain.MaxConcurrent)
	check(c.Terrain.CacheSize > 0, "terrain cache_size %d", c.Terrain.CacheSize)
	check(c.Terrain.FailureCooldown >= 0, "terrain failure_cooldown %s", c.Terrain.FailureCooldown)
	check(c.Terrain.Exaggeration > 0, "terrain exaggeration %g", c.Terrain.Exaggeration)
	check(c.Terrain.SkirtMinDepth >= 0 && c.Terrain.SkirtDepthScale >= 0, "terrain skirt depth")

	check(c.Raster.URL != "", "raster url is empty")
	check(c.Raster.MaxZoom <= tile.MaxZoom, "raster max_zoom %d > %d", c.Raster.MaxZoom, tile.MaxZoom)
	check(c.Raster.MaxEntries > 0, "raster max_entries %d", c.Raster.MaxEntries)
	check(c.Raster.MaxConcurrent > 0, "raster max_concurrent %d", c.Raster.MaxConcurrent)
	check(c.Raster.MaxTextureSize >= 0, "raster max_texture_size %d", c.Raster.MaxTextureSize)

	check(c.LOD.BaseZoom <= c.Terrain.MaxZoom, "lod base_zoom %d > terrain max_zoom %d", c.LOD.BaseZoom, c.Terrain.MaxZoom)
	check(c.LOD.SplitRatio > 0, "lod split_ratio %g", c.LOD.SplitRatio)
	check(c.LOD.TileBudget >= 4, "lod tile_budget %d", c.LOD.TileBudget)
	check(c.LOD.MoveThreshold >= 0, "lod move_threshold %g", c.LOD.MoveThreshold)

	check(c.Blend.Fraction >= 0 && c.Blend.Fraction <= 1, "blend fraction %g", c.Blend.Fraction)
	check(c.Blend.SkirtEpsilon >= 0, "blend skirt_epsilon %g", c.Blend.SkirtEpsilon)
	check(c.Blend.GridSize > 0, "blend grid_size %d", c.Blend.GridSize)

	check(c.View.Lon >= -180 && c.View.Lon <= 180, "view lon %g", c.View.Lon)
	check(c.View.Lat >= -90 && c.View.Lat <= 90, "view lat %g", c.View.Lat)
	check(c.View.Height > 0, "view height %g", c.View.Height)

	return errors.Join(errs...)
}
