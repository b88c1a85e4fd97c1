// Package raster caches basemap image tiles and serves ancestor crops while
// finer tiles are still loading.
package raster

import (
	"context"
	"image"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"

	"github.com/Faultbox/tilestream/internal/engine/texture"
	"github.com/Faultbox/tilestream/internal/network"
	"github.com/Faultbox/tilestream/pkg/tile"
)

// Config configures a Cache.
type Config struct {
	URL    network.Template
	Scheme tile.Scheme
	Header http.Header
	// MaxEntries caps the cache size. Zoom 0 and 1 tiles are never evicted.
	MaxEntries int
	// MaxConcurrent bounds simultaneous fetches.
	MaxConcurrent int
	// MaxTextureSize scales larger images down; 0 keeps them as served.
	MaxTextureSize int
	// PreloadRetry is the wait before re-requesting a failed zoom 0 or 1 tile.
	PreloadRetry time.Duration
}

// DefaultConfig returns settings for a standard 256px slippy-map source.
func DefaultConfig() Config {
	return Config{
		URL: network.Template{
			Pattern:    "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png",
			Subdomains: []string{"a", "b", "c"},
		},
		Scheme:        tile.WebMercator,
		MaxEntries:    512,
		MaxConcurrent: 6,
		PreloadRetry:  5 * time.Second,
	}
}

// protectedZoom is the deepest zoom whose tiles are preloaded and never evicted.
const protectedZoom = 1

// Fallback is a texture plus the sub-rectangle of it that covers the requested tile.
type Fallback struct {
	Texture  texture.Handle
	UVOffset [2]float32
	UVScale  float32
	// Exact is true when Texture is the requested tile itself.
	Exact bool
	// Source is the tile the texture belongs to.
	Source tile.Coord
}

type entry struct {
	handle   texture.Handle
	zoom     uint32
	lastUsed time.Time
	seq      uint64
}

type result struct {
	coord tile.Coord
	img   *image.RGBA
	err   error
}

// Cache is a keyed texture cache. Loads run on a bounded pool; decoded images are
// handed back through Update, which must run on the thread that owns the Uploader.
type Cache struct {
	cfg      Config
	fetcher  network.Fetcher
	uploader texture.Uploader
	log      *zap.Logger
	now      func() time.Time

	pool    pond.Pool
	results chan result
	ctx     context.Context
	cancel  context.CancelFunc

	mu          sync.Mutex
	entries     map[tile.Coord]*entry
	loading     map[tile.Coord]bool
	preload     []tile.Coord
	nextPreload time.Time
	seq         uint64
	closed      bool
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a cache and starts loading every zoom 0 and 1 tile.
func New(cfg Config, fetcher network.Fetcher, uploader texture.Uploader, log *zap.Logger, opts ...Option) *Cache {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Cache{
		cfg:      cfg,
		fetcher:  fetcher,
		uploader: uploader,
		log:      log,
		now:      time.Now,
		pool:     pond.NewPool(cfg.MaxConcurrent),
		results:  make(chan result, 4*cfg.MaxConcurrent),
		ctx:      ctx,
		cancel:   cancel,
		entries:  make(map[tile.Coord]*entry),
		loading:  make(map[tile.Coord]bool),
	}
	for _, opt := range opts {
		opt(c)
	}

	for z := uint32(0); z <= protectedZoom; z++ {
		c.preload = append(c.preload, cfg.Scheme.Root(z)...)
	}
	c.mu.Lock()
	for _, p := range c.preload {
		c.requestLocked(p)
	}
	c.nextPreload = c.now().Add(cfg.PreloadRetry)
	c.mu.Unlock()

	return c
}

// GetTile returns the texture for coord if it is cached and starts a load if not.
// coord is wrapped into the grid first.
func (c *Cache) GetTile(coord tile.Coord) (texture.Handle, bool) {
	coord = c.cfg.Scheme.Wrap(coord)

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[coord]; ok {
		c.touchLocked(e)
		return e.handle, true
	}
	c.requestLocked(coord)
	return 0, false
}

// GetTileWithFallback returns the tile's own texture, or the nearest cached ancestor
// with the UV rectangle that covers coord. A miss starts a load of coord itself.
// coord is wrapped into the grid first, so any coord resolves once preload is done.
func (c *Cache) GetTileWithFallback(coord tile.Coord) (Fallback, bool) {
	coord = c.cfg.Scheme.Wrap(coord)

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[coord]; ok {
		c.touchLocked(e)
		return Fallback{Texture: e.handle, UVScale: 1, Exact: true, Source: coord}, true
	}
	c.requestLocked(coord)

	row := c.cfg.Scheme.XYZY(coord)
	for d := uint32(1); d <= coord.Z; d++ {
		a := coord.Ancestor(d)
		e, ok := c.entries[a]
		if !ok {
			continue
		}
		c.touchLocked(e)
		n := uint64(1) << d
		scale := 1 / float32(n)
		return Fallback{
			Texture:  e.handle,
			UVOffset: [2]float32{float32(uint64(coord.X)%n) * scale, float32(uint64(row)%n) * scale},
			UVScale:  scale,
			Source:   a,
		}, true
	}
	return Fallback{}, false
}

// Update uploads finished loads, evicts old entries and retries missing preload tiles.
// It must be called from the thread that owns the Uploader.
func (c *Cache) Update() int {
	uploaded := 0
	for {
		select {
		case r := <-c.results:
			if c.finish(r) {
				uploaded++
			}
		default:
			c.retryPreload()
			return uploaded
		}
	}
}

func (c *Cache) finish(r result) bool {
	if r.err != nil {
		c.log.Warn("raster tile failed", zap.Stringer("tile", r.coord), zap.Error(r.err))
		c.mu.Lock()
		delete(c.loading, r.coord)
		c.mu.Unlock()
		return false
	}

	h, err := c.uploader.Upload(r.img)

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.loading, r.coord)
	if err != nil {
		c.log.Warn("raster upload failed", zap.Stringer("tile", r.coord), zap.Error(err))
		return false
	}
	if c.closed {
		c.uploader.Free(h)
		return false
	}
	if old, ok := c.entries[r.coord]; ok {
		c.uploader.Free(old.handle)
	}
	e := &entry{handle: h, zoom: r.coord.Z}
	c.touchLocked(e)
	c.entries[r.coord] = e
	c.evictLocked()
	return true
}

func (c *Cache) retryPreload() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if c.closed || now.Before(c.nextPreload) {
		return
	}
	c.nextPreload = now.Add(c.cfg.PreloadRetry)
	for _, p := range c.preload {
		if _, ok := c.entries[p]; !ok {
			c.requestLocked(p)
		}
	}
}

// evictLocked drops least recently used entries above MaxEntries, skipping protected zooms.
func (c *Cache) evictLocked() {
	if c.cfg.MaxEntries <= 0 || len(c.entries) <= c.cfg.MaxEntries {
		return
	}
	victims := make([]tile.Coord, 0, len(c.entries))
	for k, e := range c.entries {
		if e.zoom > protectedZoom {
			victims = append(victims, k)
		}
	}
	sort.Slice(victims, func(i, j int) bool {
		return c.entries[victims[i]].seq < c.entries[victims[j]].seq
	})
	for _, k := range victims {
		if len(c.entries) <= c.cfg.MaxEntries {
			break
		}
		c.uploader.Free(c.entries[k].handle)
		delete(c.entries, k)
		c.log.Debug("raster tile evicted", zap.Stringer("tile", k))
	}
}

func (c *Cache) touchLocked(e *entry) {
	c.seq++
	e.seq = c.seq
	e.lastUsed = c.now()
}

func (c *Cache) requestLocked(coord tile.Coord) {
	if c.closed || c.loading[coord] {
		return
	}
	c.loading[coord] = true
	url := c.cfg.URL.URL(coord, c.cfg.Scheme)
	c.pool.Submit(func() {
		r := result{coord: coord}
		data, err := c.fetcher.Fetch(c.ctx, url, c.cfg.Header)
		if err == nil {
			r.img, _, err = texture.Decode(data, c.cfg.MaxTextureSize)
		}
		r.err = err
		select {
		case c.results <- r:
		case <-c.ctx.Done():
		}
	})
}

// PreloadComplete reports whether every zoom 0 and 1 tile is cached.
func (c *Cache) PreloadComplete() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.preload {
		if _, ok := c.entries[p]; !ok {
			return false
		}
	}
	return true
}

// Len returns the number of cached textures.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Loading returns the number of loads in flight or waiting for Update.
func (c *Cache) Loading() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.loading)
}

// LastUsed returns when coord was last served, for diagnostics.
func (c *Cache) LastUsed(coord tile.Coord) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[coord]
	if !ok {
		return time.Time{}, false
	}
	return e.lastUsed, true
}

// Close stops loading and frees every texture. It must be called from the Update thread.
func (c *Cache) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.pool.StopAndWait()

	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		c.uploader.Free(e.handle)
		delete(c.entries, k)
	}
	c.loading = make(map[tile.Coord]bool)
}
