// qmtool is a CLI utility for inspecting and producing quantized-mesh terrain tiles.
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"

	"github.com/Faultbox/tilestream/internal/engine/lod"
	"github.com/Faultbox/tilestream/internal/engine/terrain"
	"github.com/Faultbox/tilestream/internal/logger"
	"github.com/Faultbox/tilestream/internal/network"
	"github.com/Faultbox/tilestream/pkg/quantizedmesh"
	"github.com/Faultbox/tilestream/pkg/tile"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "info":
		cmdInfo(args)
	case "flat":
		cmdFlat(args)
	case "encode", "reencode":
		cmdEncode(args)
	case "fetch", "get":
		cmdFetch(args)
	case "assemble":
		cmdAssemble(args)
	case "lod":
		cmdLOD(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`qmtool - quantized-mesh terrain tile utility

Usage:
  qmtool <command> [options]

Commands:
  info <file.terrain>                       Show header, counts and extensions
  flat [-z] <height> <out.terrain>          Write a flat placeholder tile
  encode [-z] <in.terrain> <out.terrain>    Decode, reorder and re-encode a tile
  fetch [options] <z/x/y>                   Download a tile and show its info
  assemble [-scheme s] <file> <z/x/y>       Build the mesh for a tile and show its stats
  lod [options]                             Print the tile set for a viewpoint

Examples:
  qmtool info 12/2176/1447.terrain
  qmtool flat -z 0 sea.terrain
  qmtool fetch -endpoint https://example.com/terrain/ -o tile.terrain 8/271/180
  qmtool fetch -ion-asset 1 -ion-token $ION_TOKEN 0/0/0
  qmtool lod -lon 7.66 -lat 45.98 -height 5000 -max-zoom 14`)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func readTile(path string) (*quantizedmesh.Tile, int) {
	data, err := os.ReadFile(path)
	if err != nil {
		fail(err)
	}
	t, err := quantizedmesh.DecodeMaybeGzip(data)
	if err != nil {
		fail(err)
	}
	return t, len(data)
}

func writeTile(path string, t *quantizedmesh.Tile, compress bool) {
	data, err := quantizedmesh.Encode(t)
	if err != nil {
		fail(err)
	}
	if compress {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			fail(err)
		}
		if err := zw.Close(); err != nil {
			fail(err)
		}
		data = buf.Bytes()
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		fail(err)
	}
	fmt.Printf("Wrote %s (%d bytes)\n", path, len(data))
}

func printTile(name string, t *quantizedmesh.Tile, size int) {
	h := t.Header
	fmt.Printf("Tile:      %s\n", name)
	fmt.Printf("Size:      %d bytes\n", size)
	fmt.Printf("Vertices:  %d\n", t.VertexCount())
	fmt.Printf("Triangles: %d\n", t.TriangleCount())
	fmt.Printf("Heights:   %.2f .. %.2f m\n", h.MinimumHeight, h.MaximumHeight)
	fmt.Printf("Center:    %.3f %.3f %.3f\n", h.CenterX, h.CenterY, h.CenterZ)
	fmt.Printf("Sphere:    r=%.3f\n", h.BoundingSphereRadius)

	west, south, east, north := t.EdgeIndices()
	fmt.Printf("Edges:     west=%d south=%d east=%d north=%d\n", len(west), len(south), len(east), len(north))

	ext := t.Extensions
	fmt.Println("Extensions:")
	fmt.Printf("  normals    %v\n", ext.HasNormals())
	switch len(ext.WaterMask) {
	case 0:
		fmt.Println("  watermask  none")
	case 1:
		fmt.Printf("  watermask  uniform %d\n", ext.WaterMask[0])
	default:
		fmt.Printf("  watermask  %d bytes\n", len(ext.WaterMask))
	}
	if ext.Metadata != nil {
		fmt.Printf("  metadata   %d availability levels\n", len(ext.Metadata.Available))
	}

	if err := quantizedmesh.ValidateIndices(t); err != nil {
		fmt.Printf("Invalid:   %v\n", err)
	}
}

func cmdInfo(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: qmtool info <file.terrain>")
		os.Exit(1)
	}
	t, size := readTile(args[0])
	printTile(args[0], t, size)
}

func cmdFlat(args []string) {
	fs := flag.NewFlagSet("flat", flag.ExitOnError)
	compress := fs.Bool("z", false, "Gzip the output")
	fs.Parse(args)

	if fs.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "Usage: qmtool flat [-z] <height> <out.terrain>")
		os.Exit(1)
	}
	var height float32
	if _, err := fmt.Sscanf(fs.Arg(0), "%g", &height); err != nil {
		fail(fmt.Errorf("bad height %q: %w", fs.Arg(0), err))
	}
	writeTile(fs.Arg(1), quantizedmesh.Flat(height), *compress)
}

func cmdEncode(args []string) {
	fs := flag.NewFlagSet("encode", flag.ExitOnError)
	compress := fs.Bool("z", false, "Gzip the output")
	fs.Parse(args)

	if fs.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "Usage: qmtool encode [-z] <in.terrain> <out.terrain>")
		os.Exit(1)
	}
	t, _ := readTile(fs.Arg(0))
	reordered, err := quantizedmesh.Reorder(t)
	if err != nil {
		fail(err)
	}
	writeTile(fs.Arg(1), reordered, *compress)
}

func parseScheme(projection, origin string) tile.Scheme {
	p, err := tile.ParseProjection(projection)
	if err != nil {
		fail(err)
	}
	o, err := tile.ParseOrigin(origin)
	if err != nil {
		fail(err)
	}
	return tile.Scheme{Projection: p, Origin: o}
}

func cmdFetch(args []string) {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	endpoint := fs.String("endpoint", "", "Terrain base URL")
	ionServer := fs.String("ion-server", network.DefaultIonServer, "Cesium ion API server")
	ionAsset := fs.Int("ion-asset", 0, "Cesium ion asset id")
	ionToken := fs.String("ion-token", os.Getenv("ION_TOKEN"), "Cesium ion access token")
	out := fs.String("o", "", "Write the raw response to this file")
	timeout := fs.Duration("timeout", 30*time.Second, "Request timeout")
	verbose := fs.Bool("v", false, "Log requests")
	fs.Parse(args)

	if fs.NArg() < 1 || (*endpoint == "" && *ionAsset == 0) {
		fmt.Fprintln(os.Stderr, "Usage: qmtool fetch (-endpoint URL | -ion-asset ID -ion-token T) [-o out] <z/x/y>")
		os.Exit(1)
	}
	coord, err := tile.ParseCoord(fs.Arg(0))
	if err != nil {
		fail(err)
	}

	level := "warn"
	if *verbose {
		level = "debug"
	}
	log, err := logger.New(level, logger.FileConfig{}, true)
	if err != nil {
		fail(err)
	}
	defer log.Sync()

	fetcher := network.NewHTTPFetcher(network.WithTimeout(*timeout), network.WithLogger(log))
	var resolver network.EndpointResolver = network.StaticEndpoint{URL: *endpoint}
	if *endpoint == "" {
		resolver = network.NewIonResolver(fetcher, *ionServer, *ionAsset, *ionToken)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	ep, err := resolver.Resolve(ctx)
	if err != nil {
		fail(err)
	}
	scheme := tile.Scheme{Projection: tile.Geographic, Origin: tile.TMS}
	url := ep.TileURL(coord, scheme)
	log.Debug("fetching tile", zap.String("url", url))

	data, err := fetcher.Fetch(ctx, url, ep.Header())
	if err != nil {
		fail(err)
	}
	if *out != "" {
		if err := os.WriteFile(*out, data, 0644); err != nil {
			fail(err)
		}
	}

	t, err := quantizedmesh.DecodeMaybeGzip(data)
	if err != nil {
		fail(err)
	}
	printTile(url, t, len(data))
	for _, a := range ep.Attributions {
		fmt.Printf("Attribution: %s\n", a)
	}
}

func cmdAssemble(args []string) {
	fs := flag.NewFlagSet("assemble", flag.ExitOnError)
	projection := fs.String("projection", "geographic", "Tile projection (geographic|mercator)")
	origin := fs.String("origin", "tms", "Row origin (tms|xyz)")
	exaggeration := fs.Float64("exaggeration", 1, "Vertical exaggeration")
	fs.Parse(args)

	if fs.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "Usage: qmtool assemble [-projection p] [-origin o] <file.terrain> <z/x/y>")
		os.Exit(1)
	}
	t, _ := readTile(fs.Arg(0))
	coord, err := tile.ParseCoord(fs.Arg(1))
	if err != nil {
		fail(err)
	}

	opts := terrain.DefaultAssembleOptions()
	opts.Scheme = parseScheme(*projection, *origin)
	opts.Exaggeration = *exaggeration
	m := terrain.Assemble(t, coord, terrain.Neighbors{}, opts)

	skirts := 0
	for _, s := range m.Skirt {
		if s {
			skirts++
		}
	}
	fmt.Printf("Tile:      %s\n", coord)
	fmt.Printf("Bounds:    %.6f,%.6f .. %.6f,%.6f\n", m.Bounds.Min[0], m.Bounds.Min[1], m.Bounds.Max[0], m.Bounds.Max[1])
	fmt.Printf("Vertices:  %d (%d skirt)\n", m.VertexCount(), skirts)
	fmt.Printf("Triangles: %d\n", m.TriangleCount())
	fmt.Printf("Heights:   %.2f .. %.2f m\n", m.MinHeight, m.MaxHeight)
}

func cmdLOD(args []string) {
	fs := flag.NewFlagSet("lod", flag.ExitOnError)
	lon := fs.Float64("lon", 0, "Longitude in degrees")
	lat := fs.Float64("lat", 0, "Latitude in degrees")
	height := fs.Float64("height", 10000, "Height above the ellipsoid in metres")
	maxZoom := fs.Uint("max-zoom", 14, "Deepest zoom")
	baseZoom := fs.Uint("base-zoom", 0, "Starting zoom")
	split := fs.Float64("split", 2, "Split ratio")
	budget := fs.Int("budget", 256, "Tile budget")
	projection := fs.String("projection", "geographic", "Tile projection (geographic|mercator)")
	origin := fs.String("origin", "tms", "Row origin (tms|xyz)")
	fs.Parse(args)

	b := lod.Builder{
		Scheme:     parseScheme(*projection, *origin),
		BaseZoom:   uint32(*baseZoom),
		SplitRatio: *split,
		TileBudget: *budget,
	}
	set := b.Build(lod.Viewpoint{Lon: *lon, Lat: *lat, Height: *height}, uint32(*maxZoom))

	fmt.Printf("Leaves: %d\n", set.Len())
	var z uint32 = ^uint32(0)
	for _, c := range set.Coords() {
		if c.Z != z {
			z = c.Z
			fmt.Printf("zoom %d: %d tiles\n", z, len(set[z]))
		}
		fmt.Printf("  %s\n", c)
	}
}
