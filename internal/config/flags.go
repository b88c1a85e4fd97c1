package config

import (
	"flag"
	"strconv"
)

// optionalFloat is a float flag that remembers whether it was given, so zero can be set.
type optionalFloat struct {
	value float64
	set   bool
}

func (f *optionalFloat) String() string {
	if !f.set {
		return ""
	}
	return strconv.FormatFloat(f.value, 'g', -1, 64)
}

func (f *optionalFloat) Set(s string) error {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	f.value, f.set = v, true
	return nil
}

var (
	flagConfig     = flag.String("config", "", "Path to config file")
	flagDebug      = flag.Bool("debug", false, "Enable debug logging")
	flagEndpoint   = flag.String("endpoint", "", "Terrain tile base URL (skips ion)")
	flagIonToken   = flag.String("ion-token", "", "Cesium ion access token")
	flagIonAsset   = flag.Int("ion-asset", 0, "Cesium ion terrain asset id")
	flagRasterURL  = flag.String("raster-url", "", "Raster tile URL template")
	flagMaxZoom    = flag.Int("max-zoom", -1, "Deepest terrain zoom to request")
	flagWindowed   = flag.Bool("windowed", false, "Run in windowed mode")
	flagFullscreen = flag.Bool("fullscreen", false, "Run in fullscreen mode")
	flagWidth      = flag.Int("width", 0, "Window width")
	flagHeightPx   = flag.Int("height-px", 0, "Window height")

	flagLon    = &optionalFloat{}
	flagLat    = &optionalFloat{}
	flagHeight = &optionalFloat{}
)

func init() {
	flag.Var(flagLon, "lon", "Initial longitude in degrees")
	flag.Var(flagLat, "lat", "Initial latitude in degrees")
	flag.Var(flagHeight, "height", "Initial camera height in metres")
}

// ParseFlags parses command-line flags. Call this early in main().
func ParseFlags() {
	flag.Parse()
}

// ConfigPath returns the explicit config path if provided via --config flag.
func ConfigPath() string {
	return *flagConfig
}

// applyFlags applies CLI flag overrides to the config.
func applyFlags(cfg *Config) {
	if *flagDebug {
		cfg.Logging.Level = "debug"
	}
	if *flagEndpoint != "" {
		cfg.Terrain.Endpoint = *flagEndpoint
	}
	if *flagIonToken != "" {
		cfg.Terrain.IonToken = *flagIonToken
	}
	if *flagIonAsset > 0 {
		cfg.Terrain.IonAssetID = *flagIonAsset
	}
	if *flagRasterURL != "" {
		cfg.Raster.URL = *flagRasterURL
	}
	if *flagMaxZoom >= 0 {
		cfg.Terrain.MaxZoom = uint32(*flagMaxZoom)
	}
	if *flagWindowed {
		cfg.Window.Fullscreen = false
	}
	if *flagFullscreen {
		cfg.Window.Fullscreen = true
	}
	if *flagWidth > 0 {
		cfg.Window.Width = *flagWidth
	}
	if *flagHeightPx > 0 {
		cfg.Window.Height = *flagHeightPx
	}
	if flagLon.set {
		cfg.View.Lon = flagLon.value
	}
	if flagLat.set {
		cfg.View.Lat = flagLat.value
	}
	if flagHeight.set {
		cfg.View.Height = flagHeight.value
	}
}
