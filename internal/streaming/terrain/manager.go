// Package terrain loads quantized-mesh tiles with bounded concurrency and keeps the
// decoded tiles in an LRU cache. Meshes are assembled on first use and rebuilt when a
// same-zoom neighbour enters or leaves the cache.
//
// Every tile key is in at most one of four places at a time: the cache, the loading
// set, the FIFO queue, or the failed map with its retry time. All transitions happen
// under one mutex.
package terrain

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"

	tmesh "github.com/Faultbox/tilestream/internal/engine/terrain"
	"github.com/Faultbox/tilestream/internal/network"
	"github.com/Faultbox/tilestream/pkg/quantizedmesh"
	"github.com/Faultbox/tilestream/pkg/tile"
)

// Config configures a Manager.
type Config struct {
	Scheme tile.Scheme
	// MaxZoom is the deepest zoom the source serves. Deeper requests are clamped.
	MaxZoom               uint32
	MaxConcurrentRequests int
	// CacheSize caps the number of cached meshes.
	CacheSize int
	// FailureCooldown is how long a failed tile is left alone before it may be retried.
	FailureCooldown time.Duration
	// RequestTimeout bounds one fetch.
	RequestTimeout time.Duration
}

// DefaultConfig returns settings for a geographic TMS terrain source.
func DefaultConfig() Config {
	return Config{
		Scheme:                tile.Scheme{Projection: tile.Geographic, Origin: tile.TMS},
		MaxZoom:               14,
		MaxConcurrentRequests: 6,
		CacheSize:             512,
		FailureCooldown:       30 * time.Second,
		RequestTimeout:        30 * time.Second,
	}
}

// State is where a tile key currently lives.
type State int

// Tile states.
const (
	Unrequested State = iota
	Queued
	Loading
	Cached
	Failed
)

func (s State) String() string {
	switch s {
	case Queued:
		return "queued"
	case Loading:
		return "loading"
	case Cached:
		return "cached"
	case Failed:
		return "failed"
	default:
		return "unrequested"
	}
}

// Stats counts manager activity.
type Stats struct {
	Cached  int
	Loading int
	Queued  int
	Failed  int

	Loaded       uint64
	Flat         uint64
	Placeholders uint64
	Errors       uint64
	Evicted      uint64
	// Assembled counts meshes built by GetCachedTile.
	Assembled uint64
}

type cacheEntry struct {
	tile *quantizedmesh.Tile
	// mesh is nil until first requested and after a neighbour change.
	mesh     *tmesh.MeshData
	gen      uint64
	lastUsed uint64
}

// Manager owns the terrain cache and its loaders.
type Manager struct {
	cfg      Config
	fetcher  network.Fetcher
	resolver network.EndpointResolver
	log      *zap.Logger
	now      func() time.Time
	onReady  func(tile.Coord)
	assemble tmesh.AssembleOptions

	pool   pond.Pool
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	cache   map[tile.Coord]*cacheEntry
	loading map[tile.Coord]bool
	queued  map[tile.Coord]bool
	queue   []tile.Coord
	failed  map[tile.Coord]time.Time
	active  int
	seq     uint64
	stats   Stats
	closed  bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithClock replaces time.Now for cooldown bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithOnReady registers a callback run after a tile is cached. It runs on a loader
// goroutine without the manager lock held.
func WithOnReady(fn func(tile.Coord)) Option {
	return func(m *Manager) { m.onReady = fn }
}

// WithAssembleOptions sets how meshes are built. The scheme is always taken from Config.
func WithAssembleOptions(o tmesh.AssembleOptions) Option {
	return func(m *Manager) { m.assemble = o }
}

// New creates a manager. Loads start on the first RequestTile.
func New(cfg Config, fetcher network.Fetcher, resolver network.EndpointResolver, opts ...Option) *Manager {
	if cfg.MaxConcurrentRequests <= 0 {
		cfg.MaxConcurrentRequests = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:      cfg,
		fetcher:  fetcher,
		resolver: resolver,
		log:      zap.NewNop(),
		now:      time.Now,
		assemble: tmesh.DefaultAssembleOptions(),
		pool:     pond.NewPool(cfg.MaxConcurrentRequests),
		ctx:      ctx,
		cancel:   cancel,
		cache:    make(map[tile.Coord]*cacheEntry),
		loading:  make(map[tile.Coord]bool),
		queued:   make(map[tile.Coord]bool),
		failed:   make(map[tile.Coord]time.Time),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.assemble.Scheme = cfg.Scheme
	return m
}

// Start resolves the endpoint once so configuration errors surface at startup.
func (m *Manager) Start(ctx context.Context) error {
	ep, err := m.resolver.Resolve(ctx)
	if err != nil {
		return err
	}
	m.log.Info("terrain endpoint resolved", zap.String("url", ep.URL), zap.Strings("attributions", ep.Attributions))
	return nil
}

// key wraps c into the grid and clamps it to MaxZoom.
func (m *Manager) key(c tile.Coord) tile.Coord {
	return m.cfg.Scheme.Wrap(c).ClampZoom(m.cfg.MaxZoom)
}

// RequestTile asks for a tile without blocking. The coord is wrapped into the grid and
// requests deeper than MaxZoom are clamped to their ancestor. Cached, loading and
// queued tiles are left alone, as are failed tiles still inside their cooldown.
func (m *Manager) RequestTile(c tile.Coord) {
	c = m.key(c)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	if _, ok := m.cache[c]; ok {
		return
	}
	if m.loading[c] || m.queued[c] {
		return
	}
	if retryAfter, ok := m.failed[c]; ok {
		if m.now().Before(retryAfter) {
			return
		}
		delete(m.failed, c)
	}

	m.queued[c] = true
	m.queue = append(m.queue, c)
	m.pumpLocked()
}

// pumpLocked starts queued loads until the concurrency cap is reached.
func (m *Manager) pumpLocked() {
	for m.active < m.cfg.MaxConcurrentRequests && len(m.queue) > 0 && !m.closed {
		c := m.queue[0]
		m.queue = m.queue[1:]
		delete(m.queued, c)

		m.loading[c] = true
		m.active++
		m.pool.Submit(func() { m.load(c) })
	}
}

// GetCachedTile returns the assembled mesh for c, clamped to MaxZoom. It never starts a
// load. The mesh is built on first use with skirts on the sides whose same-zoom
// neighbour is not cached, and kept until a neighbour arrives or is evicted.
func (m *Manager) GetCachedTile(c tile.Coord) (*tmesh.MeshData, bool) {
	c = m.key(c)

	m.mu.Lock()
	e, ok := m.cache[c]
	if !ok {
		m.mu.Unlock()
		return nil, false
	}
	m.touchLocked(e)
	if e.mesh != nil {
		mesh := e.mesh
		m.mu.Unlock()
		return mesh, true
	}
	gen := e.gen
	neighbors := tmesh.FindNeighbors(m.cfg.Scheme, c, func(n tile.Coord) bool {
		_, ok := m.cache[n]
		return ok
	})
	m.mu.Unlock()

	mesh := tmesh.Assemble(e.tile, c, neighbors, m.assemble)

	m.mu.Lock()
	m.stats.Assembled++
	if m.cache[c] == e && e.gen == gen {
		e.mesh = mesh
	}
	m.mu.Unlock()
	return mesh, true
}

// invalidateNeighborsLocked drops the meshes of c's same-zoom neighbours, whose skirts
// depend on whether c is cached.
func (m *Manager) invalidateNeighborsLocked(c tile.Coord) {
	for _, side := range tile.Sides {
		n, ok := m.cfg.Scheme.Neighbor(c, side)
		if !ok {
			continue
		}
		if e, ok := m.cache[n]; ok {
			e.mesh = nil
			e.gen++
		}
	}
}

// CachedTileData returns the decoded tile for c, clamped to MaxZoom.
func (m *Manager) CachedTileData(c tile.Coord) (*quantizedmesh.Tile, bool) {
	c = m.key(c)

	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.cache[c]
	if !ok {
		return nil, false
	}
	m.touchLocked(e)
	return e.tile, true
}

// State reports where c currently lives.
func (m *Manager) State(c tile.Coord) State {
	c = m.key(c)

	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.cache[c] != nil:
		return Cached
	case m.loading[c]:
		return Loading
	case m.queued[c]:
		return Queued
	}
	if _, ok := m.failed[c]; ok {
		return Failed
	}
	return Unrequested
}

// Stats returns a snapshot of the manager's counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	s.Cached = len(m.cache)
	s.Loading = len(m.loading)
	s.Queued = len(m.queue)
	s.Failed = len(m.failed)
	return s
}

// CachedCoords returns every cached key ordered by zoom, x, then y.
func (m *Manager) CachedCoords() []tile.Coord {
	m.mu.Lock()
	out := make([]tile.Coord, 0, len(m.cache))
	for c := range m.cache {
		out = append(out, c)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// Close drops queued requests and waits for in-flight loads to finish.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	for _, c := range m.queue {
		delete(m.queued, c)
	}
	m.queue = nil
	m.mu.Unlock()

	m.pool.StopAndWait()
	m.cancel()
}

func (m *Manager) touchLocked(e *cacheEntry) {
	m.seq++
	e.lastUsed = m.seq
}

// evictLocked drops least recently used meshes above CacheSize.
func (m *Manager) evictLocked() {
	if m.cfg.CacheSize <= 0 || len(m.cache) <= m.cfg.CacheSize {
		return
	}
	keys := make([]tile.Coord, 0, len(m.cache))
	for k := range m.cache {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return m.cache[keys[i]].lastUsed < m.cache[keys[j]].lastUsed
	})
	for _, k := range keys[:len(keys)-m.cfg.CacheSize] {
		delete(m.cache, k)
		m.invalidateNeighborsLocked(k)
		m.stats.Evicted++
		m.log.Debug("terrain tile evicted", zap.Stringer("tile", k))
	}
}
