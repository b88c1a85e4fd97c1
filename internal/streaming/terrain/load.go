package terrain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Faultbox/tilestream/internal/network"
	"github.com/Faultbox/tilestream/pkg/quantizedmesh"
	"github.com/Faultbox/tilestream/pkg/tile"
)

// tileKind records how a loaded tile came to be.
type tileKind int

const (
	kindDecoded tileKind = iota
	kindFlat
	kindPlaceholder
)

// load runs on a pool worker. It never returns an error; failures land in the failed map.
func (m *Manager) load(c tile.Coord) {
	start := time.Now()
	t, kind, err := m.fetchTile(c)
	if err != nil {
		m.fail(c, err)
		return
	}

	m.mu.Lock()
	delete(m.loading, c)
	m.active--
	e := &cacheEntry{tile: t}
	m.cache[c] = e
	m.invalidateNeighborsLocked(c)
	m.touchLocked(e)
	m.stats.Loaded++
	switch kind {
	case kindFlat:
		m.stats.Flat++
	case kindPlaceholder:
		m.stats.Placeholders++
	}
	m.evictLocked()
	m.pumpLocked()
	m.mu.Unlock()

	m.log.Debug("terrain tile ready",
		zap.Stringer("tile", c),
		zap.Int("vertices", t.VertexCount()),
		zap.Int("triangles", t.TriangleCount()),
		zap.Duration("took", time.Since(start)))

	if m.onReady != nil {
		m.onReady(c)
	}
}

// fetchTile resolves, downloads and decodes one tile. A missing tile is a flat tile at
// sea level; a tile whose indices are out of range is replaced by a flat placeholder.
func (m *Manager) fetchTile(c tile.Coord) (*quantizedmesh.Tile, tileKind, error) {
	ctx := m.ctx
	if m.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.RequestTimeout)
		defer cancel()
	}

	ep, err := m.resolver.Resolve(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("resolve endpoint: %w", err)
	}

	data, err := m.fetcher.Fetch(ctx, ep.TileURL(c, m.cfg.Scheme), ep.Header())
	if errors.Is(err, network.ErrNotFound) {
		return quantizedmesh.Flat(0), kindFlat, nil
	}
	if err != nil {
		return nil, 0, err
	}

	t, err := quantizedmesh.DecodeMaybeGzip(data)
	if err != nil {
		return nil, 0, fmt.Errorf("decode %s: %w", c, err)
	}

	if err := quantizedmesh.ValidateIndices(t); err != nil {
		h := quantizedmesh.PlaceholderHeight(t.Header)
		m.log.Warn("terrain tile has invalid indices, using flat placeholder",
			zap.Stringer("tile", c),
			zap.Float32("height", h),
			zap.Error(err))
		return quantizedmesh.Flat(h), kindPlaceholder, nil
	}
	return t, kindDecoded, nil
}

// fail moves c from loading into the failed map until the cooldown expires.
func (m *Manager) fail(c tile.Coord, err error) {
	m.mu.Lock()
	delete(m.loading, c)
	m.active--
	retryAfter := m.now().Add(m.cfg.FailureCooldown)
	m.failed[c] = retryAfter
	m.stats.Errors++
	m.pumpLocked()
	m.mu.Unlock()

	m.log.Warn("terrain tile failed",
		zap.Stringer("tile", c),
		zap.Time("retry_after", retryAfter),
		zap.Error(err))
}
