// Package main is the entry point for the tilestream terrain viewer.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-gl/gl/v4.1-core/gl"
	"github.com/veandco/go-sdl2/sdl"
	"go.uber.org/zap"

	"github.com/Faultbox/tilestream/internal/config"
	"github.com/Faultbox/tilestream/internal/engine/camera"
	"github.com/Faultbox/tilestream/internal/engine/debug"
	"github.com/Faultbox/tilestream/internal/engine/input"
	"github.com/Faultbox/tilestream/internal/engine/lod"
	"github.com/Faultbox/tilestream/internal/engine/terrain"
	"github.com/Faultbox/tilestream/internal/engine/texture/gltexture"
	"github.com/Faultbox/tilestream/internal/engine/window"
	"github.com/Faultbox/tilestream/internal/logger"
	"github.com/Faultbox/tilestream/internal/network"
	"github.com/Faultbox/tilestream/internal/streaming/raster"
	tstream "github.com/Faultbox/tilestream/internal/streaming/terrain"
	"github.com/Faultbox/tilestream/internal/viewer"
	"github.com/Faultbox/tilestream/pkg/geo"
	"github.com/Faultbox/tilestream/pkg/tile"
)

func main() {
	// Parse CLI flags first
	config.ParseFlags()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}

	fileCfg := logger.FileConfig{}
	if cfg.Logging.LogFile != "" {
		fileCfg = logger.DefaultFileConfig(cfg.Logging.LogFile)
		fileCfg.JSON = cfg.Logging.JSON
	}
	if err := logger.InitWithFileConfig(cfg.Logging.Level, fileCfg, true); err != nil {
		fmt.Fprintf(os.Stderr, "Logger error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("=== tilestream viewer ===")
	logger.Sugar.Debugf("Config: %+v", cfg)

	if err := run(cfg); err != nil {
		logger.Error("viewer error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("viewer closed normally")
}

// app holds everything the frame loop touches.
type app struct {
	cfg     *config.Config
	win     *window.Window
	input   *input.Input
	camera  *camera.GlobeCamera
	viewer  *viewer.Viewer
	terrain *tstream.Manager
	raster  *raster.Cache
	shots   *debug.ScreenshotCapture
	capture bool
}

func run(cfg *config.Config) error {
	scheme, err := cfg.TerrainScheme()
	if err != nil {
		return err
	}

	win, err := window.New(window.Config{
		Title:      "tilestream",
		Width:      cfg.Window.Width,
		Height:     cfg.Window.Height,
		Fullscreen: cfg.Window.Fullscreen,
		VSync:      cfg.Window.VSync,
	}, logger.Named("window"))
	if err != nil {
		return err
	}
	defer win.Close()

	if err := gl.Init(); err != nil {
		return fmt.Errorf("gl init: %w", err)
	}
	logger.Info("OpenGL ready", zap.String("version", gl.GoStr(gl.GetString(gl.VERSION))))

	fetcher := network.NewHTTPFetcher(network.WithLogger(logger.Named("http")))

	var resolver network.EndpointResolver
	if cfg.Terrain.Endpoint != "" {
		resolver = network.StaticEndpoint{URL: cfg.Terrain.Endpoint}
	} else {
		resolver = network.NewIonResolver(fetcher, cfg.Terrain.IonServer, cfg.Terrain.IonAssetID, cfg.Terrain.IonToken)
	}

	origin := geo.Geodetic{Lon: cfg.View.Lon, Lat: cfg.View.Lat}
	assemble := terrain.AssembleOptions{
		Scheme:          scheme,
		Frame:           geo.NewFrame(origin),
		Exaggeration:    cfg.Terrain.Exaggeration,
		SkirtMinDepth:   cfg.Terrain.SkirtMinDepth,
		SkirtDepthScale: cfg.Terrain.SkirtDepthScale,
	}

	var view *viewer.Viewer
	manager := tstream.New(tstream.Config{
		Scheme:                scheme,
		MaxZoom:               cfg.Terrain.MaxZoom,
		MaxConcurrentRequests: cfg.Terrain.MaxConcurrent,
		CacheSize:             cfg.Terrain.CacheSize,
		FailureCooldown:       cfg.Terrain.FailureCooldown,
		RequestTimeout:        cfg.Terrain.RequestTimeout,
	}, fetcher, resolver,
		tstream.WithLogger(logger.Named("terrain")),
		tstream.WithAssembleOptions(assemble),
		tstream.WithOnReady(func(tile.Coord) { view.MarkDirty() }),
	)
	defer manager.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Terrain.RequestTimeout)
	err = manager.Start(ctx)
	cancel()
	if err != nil {
		return fmt.Errorf("terrain endpoint: %w", err)
	}

	rcfg := raster.DefaultConfig()
	rcfg.URL = network.Template{Pattern: cfg.Raster.URL, Subdomains: cfg.Raster.Subdomains}
	rcfg.MaxEntries = cfg.Raster.MaxEntries
	rcfg.MaxConcurrent = cfg.Raster.MaxConcurrent
	rcfg.MaxTextureSize = cfg.Raster.MaxTextureSize
	rcfg.PreloadRetry = cfg.Raster.PreloadRetry
	cache := raster.New(rcfg, fetcher, gltexture.Uploader{Mipmaps: true}, logger.Named("raster"))
	defer cache.Close()

	vcfg := viewer.DefaultConfig()
	vcfg.MaxZoom = cfg.Terrain.MaxZoom
	vcfg.MoveThreshold = cfg.LOD.MoveThreshold
	vcfg.RasterScheme = rcfg.Scheme
	vcfg.RasterMaxZoom = cfg.Raster.MaxZoom
	vcfg.Assemble = assemble
	vcfg.Blend = terrain.BlendOptions{
		Scheme:       scheme,
		Fraction:     cfg.Blend.Fraction,
		SkirtEpsilon: cfg.Blend.SkirtEpsilon,
		GridSize:     cfg.Blend.GridSize,
	}
	builder := lod.Builder{
		Scheme:     scheme,
		BaseZoom:   cfg.LOD.BaseZoom,
		SplitRatio: cfg.LOD.SplitRatio,
		TileBudget: cfg.LOD.TileBudget,
	}
	view = viewer.New(vcfg, builder, manager, cache, origin, logger.Named("viewer"))

	a := &app{
		cfg:     cfg,
		win:     win,
		input:   input.New(),
		camera:  camera.NewGlobeCamera(cfg.View.Lon, cfg.View.Lat, cfg.View.Height),
		viewer:  view,
		terrain: manager,
		raster:  cache,
		shots:   debug.NewScreenshotCapture("screenshots", "tilestream"),
	}
	a.loop()
	return nil
}

func (a *app) loop() {
	var frameBudget time.Duration
	if a.cfg.Window.FPSLimit > 0 {
		frameBudget = time.Second / time.Duration(a.cfg.Window.FPSLimit)
	}

	frames := 0
	lastTitle := time.Now()
	for {
		start := time.Now()
		if a.input.Update() {
			return
		}
		a.handleInput()

		res := a.viewer.Frame(a.camera.Viewpoint())
		a.draw(res)
		if a.capture {
			a.screenshot()
			a.capture = false
		}
		a.win.SwapBuffers()

		frames++
		if since := time.Since(lastTitle); since >= time.Second {
			a.updateTitle(res, float64(frames)/since.Seconds())
			frames = 0
			lastTitle = time.Now()
		}

		if frameBudget > 0 {
			if rest := frameBudget - time.Since(start); rest > 0 {
				time.Sleep(rest)
			}
		}
	}
}

func (a *app) handleInput() {
	for _, e := range a.input.Events() {
		switch e.Type {
		case input.EventDrag:
			a.camera.HandleDrag(e.DX, e.DY)
		case input.EventRotate:
			a.camera.HandleRotate(e.DX, e.DY)
		case input.EventZoom:
			a.camera.HandleZoom(e.DY)
		case input.EventWindowResize:
			logger.Debug("window resized", zap.Int("width", e.Width), zap.Int("height", e.Height))
		}
	}

	if a.input.IsKeyPressed(sdl.SCANCODE_F1) {
		a.viewer.SetOutlines(!a.viewer.Outlines())
	}
	if a.input.IsKeyPressed(sdl.SCANCODE_F12) {
		a.capture = true
	}

	var forward, right float64
	if input.IsKeyHeld(sdl.SCANCODE_W) || input.IsKeyHeld(sdl.SCANCODE_UP) {
		forward++
	}
	if input.IsKeyHeld(sdl.SCANCODE_S) || input.IsKeyHeld(sdl.SCANCODE_DOWN) {
		forward--
	}
	if input.IsKeyHeld(sdl.SCANCODE_D) || input.IsKeyHeld(sdl.SCANCODE_RIGHT) {
		right++
	}
	if input.IsKeyHeld(sdl.SCANCODE_A) || input.IsKeyHeld(sdl.SCANCODE_LEFT) {
		right--
	}
	if forward != 0 || right != 0 {
		a.camera.HandleMovement(forward, right)
	}
}

// draw clears the frame. Mesh drawing belongs to the host renderer; the layers and
// textures in res are what it consumes.
func (a *app) draw(res viewer.FrameResult) {
	w, h := a.win.DrawableSize()
	gl.Viewport(0, 0, int32(w), int32(h))
	gl.ClearColor(0.53, 0.68, 0.85, 1)
	gl.Clear(gl.COLOR_BUFFER_BIT | gl.DEPTH_BUFFER_BIT)

	if res.Dirty {
		vertices := 0
		for _, l := range res.Layers {
			vertices += l.VertexCount()
		}
		logger.Debug("terrain updated",
			zap.Int("layers", len(res.Layers)),
			zap.Int("vertices", vertices),
			zap.Int("outline_vertices", len(res.Outlines)))
	}
}

func (a *app) screenshot() {
	w, h := a.win.DrawableSize()
	pixels := make([]byte, w*h*4)
	gl.ReadPixels(0, 0, int32(w), int32(h), gl.RGBA, gl.UNSIGNED_BYTE, gl.Ptr(pixels))

	path, err := a.shots.CaptureFromPixels(pixels, w, h)
	if err != nil {
		logger.Warn("screenshot failed", zap.Error(err))
		return
	}
	logger.Info("screenshot saved", zap.String("path", path))
}

func (a *app) updateTitle(res viewer.FrameResult, fps float64) {
	s := a.terrain.Stats()
	a.win.SetTitle(fmt.Sprintf("tilestream  %.5f, %.5f  %.0fm  |  %d tiles  %d cached  %d loading  %d raster  |  %.0f fps",
		a.camera.Lon, a.camera.Lat, a.camera.Height,
		len(res.Leaves), s.Cached, s.Loading+s.Queued, a.raster.Len(), fps))
}
