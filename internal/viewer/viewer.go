// Package viewer runs the per-frame streaming loop: viewpoint to tile set, tile set to
// requests, cached tiles to blended terrain layers and raster textures.
package viewer

import (
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/Faultbox/tilestream/internal/engine/debug"
	"github.com/Faultbox/tilestream/internal/engine/lod"
	"github.com/Faultbox/tilestream/internal/engine/terrain"
	"github.com/Faultbox/tilestream/internal/streaming/raster"
	"github.com/Faultbox/tilestream/pkg/geo"
	"github.com/Faultbox/tilestream/pkg/quantizedmesh"
	"github.com/Faultbox/tilestream/pkg/tile"
)

// TerrainSource is the part of the terrain manager the viewer uses. The viewer reads
// decoded tiles and assembles one welded mesh per zoom itself, so skirts follow the
// current leaf set instead of whatever else happens to be cached.
type TerrainSource interface {
	RequestTile(c tile.Coord)
	CachedTileData(c tile.Coord) (*quantizedmesh.Tile, bool)
}

// RasterSource is the part of the raster cache the viewer uses.
type RasterSource interface {
	GetTileWithFallback(c tile.Coord) (raster.Fallback, bool)
	Update() int
}

// Config configures a Viewer.
type Config struct {
	// MaxZoom caps the LOD refinement.
	MaxZoom uint32
	// MoveThreshold is how far the eye moves, in metres, before the tile set is rebuilt.
	MoveThreshold float64
	// RasterScheme and RasterMaxZoom describe the basemap grid.
	RasterScheme  tile.Scheme
	RasterMaxZoom uint32

	Assemble terrain.AssembleOptions
	Blend    terrain.BlendOptions

	// Outlines publishes leaf borders for a debug overlay.
	Outlines bool
}

// DefaultConfig returns settings for a geographic terrain source over a web-mercator basemap.
func DefaultConfig() Config {
	return Config{
		MaxZoom:       14,
		MoveThreshold: 10,
		RasterScheme:  tile.WebMercator,
		RasterMaxZoom: 19,
		Assemble:      terrain.DefaultAssembleOptions(),
		Blend:         terrain.DefaultBlendOptions(),
	}
}

// TexturedTile pairs a terrain leaf with the raster texture that covers it.
type TexturedTile struct {
	Terrain tile.Coord
	Raster  tile.Coord
	Texture raster.Fallback
	// OK is false while not even a root raster tile is loaded.
	OK bool
}

// FrameResult is what one frame publishes to the renderer.
type FrameResult struct {
	// Leaves is the current LOD tile set.
	Leaves []tile.Coord
	// Layers holds one welded mesh per zoom, coarsest first, already blended.
	Layers []*terrain.MeshData
	// Textures has one entry per leaf.
	Textures []TexturedTile
	// Dirty is set when Layers were rebuilt this frame.
	Dirty bool
	// Missing counts leaves with no cached tile at any ancestor.
	Missing int
	// Outlines traces the leaves when enabled in Config.
	Outlines []debug.LineVertex
}

const outlineSegments = 8

// Viewer owns the frame loop state. It is not safe for concurrent use apart from MarkDirty.
type Viewer struct {
	cfg     Config
	builder lod.Builder
	terrain TerrainSource
	raster  RasterSource
	log     *zap.Logger
	origin  *geo.Frame

	eye       *geo.Geodetic
	leaves    []tile.Coord
	signature string
	layers    []*terrain.MeshData
	outlines  []debug.LineVertex
	dirty     atomic.Bool
}

// New creates a viewer whose meshes and LOD priorities share one tangent frame. The frame
// comes from cfg.Assemble.Frame when set and is otherwise anchored on the ground at origin.
func New(cfg Config, builder lod.Builder, terr TerrainSource, ras RasterSource, origin geo.Geodetic, log *zap.Logger) *Viewer {
	if log == nil {
		log = zap.NewNop()
	}
	frame := cfg.Assemble.Frame
	if frame == nil {
		frame = geo.NewFrame(geo.Geodetic{Lon: origin.Lon, Lat: origin.Lat})
	}
	builder.Frame = frame
	cfg.Assemble.Frame = frame
	cfg.Assemble.Scheme = builder.Scheme
	cfg.Blend.Scheme = builder.Scheme

	return &Viewer{
		cfg:     cfg,
		builder: builder,
		terrain: terr,
		raster:  ras,
		log:     log,
		origin:  frame,
	}
}

// Origin returns the shared tangent frame.
func (v *Viewer) Origin() *geo.Frame {
	return v.origin
}

// SetOutlines turns the leaf outline overlay on or off.
func (v *Viewer) SetOutlines(on bool) {
	v.cfg.Outlines = on
}

// Outlines reports whether the leaf outline overlay is on.
func (v *Viewer) Outlines() bool {
	return v.cfg.Outlines
}

// AssembleOptions returns the options meshes are built with, including the shared frame.
func (v *Viewer) AssembleOptions() terrain.AssembleOptions {
	return v.cfg.Assemble
}

// MarkDirty forces the next frame to rebuild its layers. It may be called from any
// goroutine, typically a terrain ready callback.
func (v *Viewer) MarkDirty() {
	v.dirty.Store(true)
}

// Frame advances one frame for the viewpoint.
func (v *Viewer) Frame(vp lod.Viewpoint) FrameResult {
	if v.raster != nil {
		v.raster.Update()
	}

	eye := geo.Geodetic{Lon: vp.Lon, Lat: vp.Lat, Height: vp.Height}
	if v.eye == nil || geo.ToECEF(*v.eye).Distance(geo.ToECEF(eye)) > v.cfg.MoveThreshold {
		v.leaves = v.builder.Build(vp, v.cfg.MaxZoom).Coords()
		v.eye = &eye
		v.log.Debug("tile set rebuilt",
			zap.Float64("lon", vp.Lon),
			zap.Float64("lat", vp.Lat),
			zap.Float64("height", vp.Height),
			zap.Int("leaves", len(v.leaves)))
		v.outlines = nil
	}

	for _, c := range v.leaves {
		v.terrain.RequestTile(c)
	}

	res := FrameResult{
		Leaves:   v.leaves,
		Textures: v.textures(),
	}
	if v.cfg.Outlines {
		if v.outlines == nil {
			v.outlines = debug.TileOutlines(v.leaves, v.builder.Scheme, v.origin, 0, outlineSegments)
		}
		res.Outlines = v.outlines
	}

	byZoom, missing := v.collect()
	res.Missing = missing

	sig := signature(byZoom)
	if v.dirty.Swap(false) || sig != v.signature {
		v.layers = v.buildLayers(byZoom)
		v.signature = sig
		res.Dirty = true
	}
	res.Layers = v.layers
	return res
}

// textures looks up a raster texture for every leaf at the raster tile under its center.
func (v *Viewer) textures() []TexturedTile {
	if v.raster == nil {
		return nil
	}
	out := make([]TexturedTile, 0, len(v.leaves))
	for _, c := range v.leaves {
		center := v.builder.Scheme.Center(c)
		rc := v.cfg.RasterScheme.At(center[0], center[1], min(c.Z, v.cfg.RasterMaxZoom))
		fb, ok := v.raster.GetTileWithFallback(rc)
		out = append(out, TexturedTile{Terrain: c, Raster: rc, Texture: fb, OK: ok})
	}
	return out
}

// collect finds cached data for each leaf, falling back to the nearest cached ancestor.
func (v *Viewer) collect() (map[uint32]map[tile.Coord]*quantizedmesh.Tile, int) {
	byZoom := make(map[uint32]map[tile.Coord]*quantizedmesh.Tile)
	missing := 0
	for _, leaf := range v.leaves {
		c := leaf.ClampZoom(v.cfg.MaxZoom)
		for {
			if t, ok := v.terrain.CachedTileData(c); ok {
				if byZoom[c.Z] == nil {
					byZoom[c.Z] = make(map[tile.Coord]*quantizedmesh.Tile)
				}
				byZoom[c.Z][c] = t
				break
			}
			if c.Z == 0 {
				missing++
				break
			}
			c = c.Parent()
		}
	}
	return byZoom, missing
}

// buildLayers welds each zoom into one mesh and blends finer layers into coarser ones.
func (v *Viewer) buildLayers(byZoom map[uint32]map[tile.Coord]*quantizedmesh.Tile) []*terrain.MeshData {
	zooms := make([]uint32, 0, len(byZoom))
	for z := range byZoom {
		zooms = append(zooms, z)
	}
	sort.Slice(zooms, func(i, j int) bool { return zooms[i] < zooms[j] })

	layers := make([]*terrain.MeshData, 0, len(zooms))
	for _, z := range zooms {
		if m := terrain.AssembleSet(byZoom[z], v.cfg.Assemble); m != nil {
			layers = append(layers, m)
		}
	}
	if len(layers) > 1 {
		terrain.BlendStack(layers[:len(layers)-1], layers[len(layers)-1], v.cfg.Blend)
	}

	v.log.Debug("terrain layers rebuilt", zap.Int("layers", len(layers)))
	return layers
}

// signature identifies the contributing tile set so unchanged frames skip the rebuild.
func signature(byZoom map[uint32]map[tile.Coord]*quantizedmesh.Tile) string {
	keys := make([]uint64, 0)
	for _, tiles := range byZoom {
		for c := range tiles {
			keys = append(keys, c.Key())
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(strconv.FormatUint(k, 36))
		b.WriteByte(',')
	}
	return b.String()
}
