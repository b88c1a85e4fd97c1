package terrain

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Faultbox/tilestream/internal/network"
	"github.com/Faultbox/tilestream/pkg/quantizedmesh"
	"github.com/Faultbox/tilestream/pkg/tile"
)

const baseURL = "mem://terrain/"

var geographic = tile.Scheme{Projection: tile.Geographic, Origin: tile.TMS}

func tileURL(c tile.Coord) string {
	return network.Endpoint{URL: baseURL}.TileURL(c, geographic)
}

func encodedFlat(t *testing.T, h float32) []byte {
	t.Helper()
	data, err := quantizedmesh.Encode(quantizedmesh.Flat(h))
	require.NoError(t, err)
	return data
}

// fakeFetcher answers from a handler. When gated, every fetch waits for a release.
type fakeFetcher struct {
	mu       sync.Mutex
	handler  func(url string) ([]byte, error)
	counts   map[string]int
	inflight int
	peak     int
	order    []string
	gate     chan struct{}
}

func newFakeFetcher(handler func(url string) ([]byte, error)) *fakeFetcher {
	return &fakeFetcher{handler: handler, counts: make(map[string]int)}
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string, header http.Header) ([]byte, error) {
	f.mu.Lock()
	f.counts[url]++
	f.order = append(f.order, url)
	f.inflight++
	if f.inflight > f.peak {
		f.peak = f.inflight
	}
	gate := f.gate
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inflight--
		f.mu.Unlock()
	}()

	if header.Get("Accept") != network.TerrainAccept {
		return nil, errors.New("missing accept header")
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.handler(url)
}

func (f *fakeFetcher) count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[url]
}

func (f *fakeFetcher) stats() (inflight, peak int, order []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inflight, f.peak, append([]string(nil), f.order...)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxZoom = 8
	cfg.MaxConcurrentRequests = 2
	cfg.CacheSize = 64
	cfg.FailureCooldown = time.Minute
	cfg.RequestTimeout = 5 * time.Second
	return cfg
}

func newTestManager(t *testing.T, cfg Config, f network.Fetcher, opts ...Option) *Manager {
	t.Helper()
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	m := New(cfg, f, network.StaticEndpoint{URL: baseURL}, opts...)
	t.Cleanup(m.Close)
	return m
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 5*time.Second, time.Millisecond)
}

// checkExclusive asserts that no key sits in two places at once.
func checkExclusive(t *testing.T, m *Manager) {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()

	assert.Len(t, m.queued, len(m.queue))
	assert.Equal(t, m.active, len(m.loading))
	seen := make(map[tile.Coord]string)
	mark := func(c tile.Coord, where string) {
		if prev, ok := seen[c]; ok {
			t.Errorf("tile %s is both %s and %s", c, prev, where)
		}
		seen[c] = where
	}
	for c := range m.cache {
		mark(c, "cached")
	}
	for c := range m.loading {
		mark(c, "loading")
	}
	for _, c := range m.queue {
		mark(c, "queued")
	}
	for c := range m.failed {
		mark(c, "failed")
	}
}

func TestRequestClampsToMaxZoom(t *testing.T) {
	f := newFakeFetcher(func(string) ([]byte, error) { return encodedFlat(t, 10), nil })
	m := newTestManager(t, testConfig(), f)

	deep := tile.Coord{Z: 10, X: 512, Y: 512}
	want := tile.Coord{Z: 8, X: 128, Y: 128}
	m.RequestTile(deep)

	waitFor(t, func() bool { return m.State(want) == Cached })
	assert.Equal(t, Cached, m.State(deep))
	assert.Equal(t, 1, f.count(tileURL(want)))

	mesh, ok := m.GetCachedTile(deep)
	require.True(t, ok)
	assert.Equal(t, []tile.Coord{want}, mesh.Coords)
	assert.Equal(t, uint32(8), mesh.Zoom)

	data, ok := m.CachedTileData(deep)
	require.True(t, ok)
	assert.InDelta(t, 10, data.HeightAt(0), 1e-6)
}

func TestRequestIsIdempotent(t *testing.T) {
	f := newFakeFetcher(func(string) ([]byte, error) { return encodedFlat(t, 0), nil })
	f.gate = make(chan struct{})
	m := newTestManager(t, testConfig(), f)

	c := tile.Coord{Z: 3, X: 2, Y: 1}
	for i := 0; i < 5; i++ {
		m.RequestTile(c)
	}
	waitFor(t, func() bool { return f.count(tileURL(c)) == 1 })
	assert.Equal(t, Loading, m.State(c))

	close(f.gate)
	waitFor(t, func() bool { return m.State(c) == Cached })

	m.RequestTile(c)
	m.RequestTile(c)
	assert.Equal(t, 1, f.count(tileURL(c)))
	assert.Equal(t, uint64(1), m.Stats().Loaded)
}

func TestConcurrencyCapAndFIFO(t *testing.T) {
	f := newFakeFetcher(func(string) ([]byte, error) { return encodedFlat(t, 0), nil })
	f.gate = make(chan struct{})
	m := newTestManager(t, testConfig(), f)

	var coords []tile.Coord
	for x := uint32(0); x < 6; x++ {
		c := tile.Coord{Z: 4, X: x, Y: 3}
		coords = append(coords, c)
		m.RequestTile(c)
	}

	waitFor(t, func() bool {
		inflight, _, _ := f.stats()
		return inflight == 2
	})
	checkExclusive(t, m)
	assert.Equal(t, Loading, m.State(coords[0]))
	assert.Equal(t, Loading, m.State(coords[1]))
	for _, c := range coords[2:] {
		assert.Equal(t, Queued, m.State(c))
	}
	s := m.Stats()
	assert.Equal(t, 2, s.Loading)
	assert.Equal(t, 4, s.Queued)

	// Each completion starts the oldest queued request.
	for i := range coords {
		f.gate <- struct{}{}
		waitFor(t, func() bool { return m.Stats().Loaded == uint64(i+1) })
		checkExclusive(t, m)
		for j, c := range coords {
			if j >= i+3 {
				assert.Equal(t, Queued, m.State(c), "tile %d after %d completions", j, i+1)
			}
		}
	}
	waitFor(t, func() bool { return m.Stats().Cached == len(coords) })
	checkExclusive(t, m)

	_, peak, _ := f.stats()
	assert.Equal(t, 2, peak)
}

func TestFailureCooldown(t *testing.T) {
	var mu sync.Mutex
	failing := true
	f := newFakeFetcher(func(string) ([]byte, error) {
		mu.Lock()
		defer mu.Unlock()
		if failing {
			return nil, &network.StatusError{URL: "x", StatusCode: 503, Status: "503 Service Unavailable"}
		}
		return encodedFlat(t, 0), nil
	})
	clock := &fakeClock{now: time.Unix(1000, 0)}
	m := newTestManager(t, testConfig(), f, WithClock(clock.Now))

	c := tile.Coord{Z: 5, X: 7, Y: 9}
	m.RequestTile(c)
	waitFor(t, func() bool { return m.State(c) == Failed })
	assert.Equal(t, uint64(1), m.Stats().Errors)

	clock.Advance(30 * time.Second)
	m.RequestTile(c)
	assert.Equal(t, Failed, m.State(c))
	assert.Equal(t, 1, f.count(tileURL(c)))

	mu.Lock()
	failing = false
	mu.Unlock()

	clock.Advance(31 * time.Second)
	m.RequestTile(c)
	waitFor(t, func() bool { return m.State(c) == Cached })
	assert.Equal(t, 2, f.count(tileURL(c)))
	assert.Equal(t, 0, m.Stats().Failed)
	checkExclusive(t, m)
}

func TestNotFoundIsFlat(t *testing.T) {
	f := newFakeFetcher(func(url string) ([]byte, error) {
		return nil, fmt.Errorf("%w: %s", network.ErrNotFound, url)
	})
	m := newTestManager(t, testConfig(), f)

	c := tile.Coord{Z: 2, X: 1, Y: 1}
	m.RequestTile(c)
	waitFor(t, func() bool { return m.State(c) == Cached })

	data, ok := m.CachedTileData(c)
	require.True(t, ok)
	assert.Equal(t, 4, data.VertexCount())
	assert.InDelta(t, 0, data.HeightAt(0), 1e-9)
	assert.Equal(t, uint64(1), m.Stats().Flat)
	assert.Equal(t, uint64(0), m.Stats().Errors)
}

func TestCorruptIndicesUsePlaceholder(t *testing.T) {
	data := encodedFlat(t, 123)
	// The second triangle index code sits after the header, vertex data and triangle count.
	off := quantizedmesh.HeaderSize + 4 + 3*4*2 + 4 + 2
	binary.LittleEndian.PutUint16(data[off:], 500)

	f := newFakeFetcher(func(string) ([]byte, error) { return data, nil })
	m := newTestManager(t, testConfig(), f)

	c := tile.Coord{Z: 6, X: 10, Y: 20}
	m.RequestTile(c)
	waitFor(t, func() bool { return m.State(c) == Cached })

	got, ok := m.CachedTileData(c)
	require.True(t, ok)
	require.NoError(t, quantizedmesh.ValidateIndices(got))
	assert.Equal(t, []uint32{0, 1, 2, 2, 1, 3}, got.Indices)
	assert.InDelta(t, 123, got.HeightAt(3), 1e-3)
	assert.Equal(t, uint64(1), m.Stats().Placeholders)
}

func TestDecodeErrorFails(t *testing.T) {
	f := newFakeFetcher(func(string) ([]byte, error) { return []byte("not a tile"), nil })
	m := newTestManager(t, testConfig(), f)

	c := tile.Coord{Z: 1, X: 0, Y: 0}
	m.RequestTile(c)
	waitFor(t, func() bool { return m.State(c) == Failed })
	_, ok := m.GetCachedTile(c)
	assert.False(t, ok)
}

func TestGzipPayload(t *testing.T) {
	raw := encodedFlat(t, 42)
	gz := gzipBytes(t, raw)
	f := newFakeFetcher(func(string) ([]byte, error) { return gz, nil })
	m := newTestManager(t, testConfig(), f)

	c := tile.Coord{Z: 3, X: 3, Y: 3}
	m.RequestTile(c)
	waitFor(t, func() bool { return m.State(c) == Cached })
	data, _ := m.CachedTileData(c)
	assert.InDelta(t, 42, data.HeightAt(0), 1e-3)
}

func countSkirts(t *testing.T, m *Manager, c tile.Coord) int {
	t.Helper()
	mesh, ok := m.GetCachedTile(c)
	require.True(t, ok)
	n := 0
	for _, s := range mesh.Skirt {
		if s {
			n++
		}
	}
	return n
}

func TestMeshesAssembleLazily(t *testing.T) {
	f := newFakeFetcher(func(string) ([]byte, error) { return encodedFlat(t, 0), nil })
	m := newTestManager(t, testConfig(), f)

	c := tile.Coord{Z: 3, X: 4, Y: 2}
	m.RequestTile(c)
	waitFor(t, func() bool { return m.State(c) == Cached })
	assert.Equal(t, uint64(0), m.Stats().Assembled)

	first, ok := m.GetCachedTile(c)
	require.True(t, ok)
	second, ok := m.GetCachedTile(c)
	require.True(t, ok)
	assert.Same(t, first, second)
	assert.Equal(t, uint64(1), m.Stats().Assembled)
}

func TestNeighborsSuppressSkirts(t *testing.T) {
	f := newFakeFetcher(func(string) ([]byte, error) { return encodedFlat(t, 0), nil })
	cfg := testConfig()
	cfg.MaxConcurrentRequests = 1
	cfg.CacheSize = 2
	m := newTestManager(t, cfg, f)

	load := func(c tile.Coord) {
		m.RequestTile(c)
		waitFor(t, func() bool { return m.State(c) == Cached })
	}
	a := tile.Coord{Z: 4, X: 5, Y: 5}
	b := tile.Coord{Z: 4, X: 6, Y: 5}
	far := tile.Coord{Z: 4, X: 0, Y: 0}

	// A flat tile has two vertices per edge.
	load(a)
	assert.Equal(t, 8, countSkirts(t, m, a))

	load(b)
	assert.Equal(t, 6, countSkirts(t, m, b))
	assert.Equal(t, 6, countSkirts(t, m, a), "a keeps no skirt toward b once b is cached")

	// b is least recently used, so loading far evicts it and a grows its skirt back.
	load(far)
	require.Equal(t, Unrequested, m.State(b))
	assert.Equal(t, 8, countSkirts(t, m, a))
	assert.Equal(t, uint64(4), m.Stats().Assembled)
}

func TestRequestWrapsIntoGrid(t *testing.T) {
	f := newFakeFetcher(func(string) ([]byte, error) { return encodedFlat(t, 0), nil })
	m := newTestManager(t, testConfig(), f)

	cases := []struct {
		in, want tile.Coord
	}{
		{tile.Coord{Z: 3, X: 17, Y: 2}, tile.Coord{Z: 3, X: 1, Y: 2}},
		{tile.Coord{Z: 2, X: 0, Y: 100}, tile.Coord{Z: 2, X: 0, Y: 3}},
		{tile.Coord{Z: 40, X: 0, Y: 0}, tile.Coord{Z: 8, X: 0, Y: 0}},
	}
	for _, tc := range cases {
		m.RequestTile(tc.in)
		waitFor(t, func() bool { return m.State(tc.want) == Cached })
		assert.Equal(t, Cached, m.State(tc.in))
		assert.Equal(t, 1, f.count(tileURL(tc.want)))

		mesh, ok := m.GetCachedTile(tc.in)
		require.True(t, ok)
		assert.Equal(t, []tile.Coord{tc.want}, mesh.Coords)
	}
	assert.Equal(t, 0, f.count(tileURL(tile.Coord{Z: 3, X: 17, Y: 2})))
}

func TestKeysStayExclusiveAcrossTransitions(t *testing.T) {
	var mu sync.Mutex
	failing := true
	f := newFakeFetcher(func(string) ([]byte, error) {
		mu.Lock()
		defer mu.Unlock()
		if failing {
			return nil, &network.StatusError{URL: "x", StatusCode: 503, Status: "503 Service Unavailable"}
		}
		return encodedFlat(t, 0), nil
	})
	f.gate = make(chan struct{})
	clock := &fakeClock{now: time.Unix(1000, 0)}
	cfg := testConfig()
	cfg.MaxConcurrentRequests = 1
	m := newTestManager(t, cfg, f, WithClock(clock.Now))

	a := tile.Coord{Z: 5, X: 1, Y: 1}
	b := tile.Coord{Z: 5, X: 2, Y: 1}

	m.RequestTile(a)
	m.RequestTile(b)
	waitFor(t, func() bool { return f.count(tileURL(a)) == 1 })
	checkExclusive(t, m)
	assert.Equal(t, Loading, m.State(a))
	assert.Equal(t, Queued, m.State(b))

	f.gate <- struct{}{}
	waitFor(t, func() bool { return m.State(a) == Failed && f.count(tileURL(b)) == 1 })
	checkExclusive(t, m)
	assert.Equal(t, Loading, m.State(b))

	m.RequestTile(a)
	checkExclusive(t, m)
	assert.Equal(t, Failed, m.State(a))

	f.gate <- struct{}{}
	waitFor(t, func() bool { return m.State(b) == Failed })
	checkExclusive(t, m)

	mu.Lock()
	failing = false
	mu.Unlock()
	clock.Advance(2 * time.Minute)

	m.RequestTile(a)
	m.RequestTile(b)
	waitFor(t, func() bool { return f.count(tileURL(a)) == 2 })
	checkExclusive(t, m)
	assert.Equal(t, Loading, m.State(a))
	assert.Equal(t, Queued, m.State(b))

	f.gate <- struct{}{}
	f.gate <- struct{}{}
	waitFor(t, func() bool { return m.State(a) == Cached && m.State(b) == Cached })
	checkExclusive(t, m)
	assert.Equal(t, 0, m.Stats().Failed)
}

func TestLRUEviction(t *testing.T) {
	f := newFakeFetcher(func(string) ([]byte, error) { return encodedFlat(t, 0), nil })
	cfg := testConfig()
	cfg.CacheSize = 2
	m := newTestManager(t, cfg, f)

	load := func(c tile.Coord) {
		m.RequestTile(c)
		waitFor(t, func() bool { return m.State(c) == Cached })
	}
	a := tile.Coord{Z: 2, X: 0, Y: 0}
	b := tile.Coord{Z: 2, X: 1, Y: 0}
	c := tile.Coord{Z: 2, X: 2, Y: 0}

	load(a)
	load(b)
	_, ok := m.GetCachedTile(a)
	require.True(t, ok)
	load(c)

	assert.Equal(t, uint64(1), m.Stats().Evicted)
	assert.Equal(t, Cached, m.State(a))
	assert.Equal(t, Unrequested, m.State(b))
	assert.Equal(t, Cached, m.State(c))
	assert.Equal(t, []tile.Coord{a, c}, m.CachedCoords())
}

func TestOnReady(t *testing.T) {
	f := newFakeFetcher(func(string) ([]byte, error) { return encodedFlat(t, 0), nil })
	ready := make(chan tile.Coord, 1)
	m := newTestManager(t, testConfig(), f, WithOnReady(func(c tile.Coord) { ready <- c }))

	c := tile.Coord{Z: 3, X: 1, Y: 2}
	m.RequestTile(c)
	select {
	case got := <-ready:
		assert.Equal(t, c, got)
		assert.Equal(t, Cached, m.State(c))
	case <-time.After(5 * time.Second):
		t.Fatal("OnReady not called")
	}
}

func TestStart(t *testing.T) {
	f := newFakeFetcher(func(string) ([]byte, error) { return nil, nil })

	m := New(testConfig(), f, network.StaticEndpoint{}, WithLogger(zaptest.NewLogger(t)))
	defer m.Close()
	assert.ErrorIs(t, m.Start(context.Background()), network.ErrEndpoint)

	ok := newTestManager(t, testConfig(), f)
	assert.NoError(t, ok.Start(context.Background()))
}

func TestCloseStopsRequests(t *testing.T) {
	f := newFakeFetcher(func(string) ([]byte, error) { return encodedFlat(t, 0), nil })
	m := newTestManager(t, testConfig(), f)

	c := tile.Coord{Z: 1, X: 1, Y: 0}
	m.RequestTile(c)
	m.Close()
	m.Close()

	d := tile.Coord{Z: 1, X: 2, Y: 0}
	m.RequestTile(d)
	assert.Equal(t, Unrequested, m.State(d))
	assert.Equal(t, 0, f.count(tileURL(d)))
}

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "unrequested", Unrequested.String())
	assert.Equal(t, "queued", Queued.String())
	assert.Equal(t, "loading", Loading.String())
	assert.Equal(t, "cached", Cached.String())
	assert.Equal(t, "failed", Failed.String())
}
