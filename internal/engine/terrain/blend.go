package terrain

import (
	"github.com/Faultbox/tilestream/pkg/tile"
)

// BlendOptions controls cross-resolution blending.
type BlendOptions struct {
	Scheme tile.Scheme
	// Fraction of the coarser tile's angular width used as the blend band.
	Fraction float64
	// Width overrides the derived band width, in degrees, when positive.
	Width float64
	// SkirtEpsilon is how far skirts sit below the coarser surface, in metres.
	SkirtEpsilon float64
	// GridSize is the sampler grid resolution; 0 selects DefaultGridSize.
	GridSize int
}

// DefaultBlendOptions returns the standard blend settings.
func DefaultBlendOptions() BlendOptions {
	return BlendOptions{
		Scheme:       tile.Scheme{Projection: tile.Geographic, Origin: tile.TMS},
		Fraction:     0.25,
		SkirtEpsilon: 0.5,
		GridSize:     DefaultGridSize,
	}
}

// Smoothstep is the cubic Hermite ramp from 0 at e0 to 1 at e1.
func Smoothstep(e0, e1, x float64) float64 {
	if e1 == e0 {
		if x < e0 {
			return 0
		}
		return 1
	}
	t := (x - e0) / (e1 - e0)
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return t * t * (3 - 2*t)
}

// BlendWidth returns the blend band in degrees for tiles blending toward coarserZoom.
func BlendWidth(coarserZoom uint32, s tile.Scheme, fraction float64) float64 {
	return s.AngularWidth(coarserZoom) * fraction
}

func (o BlendOptions) width(coarserZoom uint32) float64 {
	if o.Width > 0 {
		return o.Width
	}
	return BlendWidth(coarserZoom, o.Scheme, o.Fraction)
}

// Blend pulls the open-edge band of fine toward the coarse surface and returns the
// number of vertices changed. Vertices at distance 0 from an open edge land exactly on
// the coarse surface; vertices at or beyond the band width keep their height. Skirts
// snap to SkirtEpsilon below the coarse surface. Only z, Heights and Normals change.
func Blend(coarse *HeightSampler, fine *MeshData, opts BlendOptions) int {
	if coarse == nil || coarse.mesh == nil {
		return 0
	}
	return blendWith(coarse.Sample, fine, opts.width(coarse.mesh.Zoom), opts.SkirtEpsilon)
}

func blendWith(sample func(lon, lat float64) (float64, bool), fine *MeshData, width, eps float64) int {
	if fine == nil {
		return 0
	}
	changed := 0
	for i := 0; i < fine.VertexCount(); i++ {
		d := fine.EdgeDistance[i]
		if !fine.Skirt[i] && d >= width {
			continue
		}
		lon, lat := fine.LonLat(i)
		coarseH, ok := sample(lon, lat)
		if !ok {
			continue
		}
		if fine.Skirt[i] {
			fine.setHeight(i, coarseH-eps)
		} else {
			t := Smoothstep(0, width, d)
			fine.setHeight(i, coarseH+(fine.Heights[i]-coarseH)*t)
		}
		changed++
	}
	if changed > 0 {
		ComputeNormals(fine)
	}
	return changed
}

// BlendStack blends each layer toward the layers before it, coarsest first, then blends
// detail toward the whole stack. Each vertex samples the finest earlier layer whose
// surface contains it. Vertices that no earlier layer covers keep their height.
func BlendStack(layers []*MeshData, detail *MeshData, opts BlendOptions) {
	samplers := make([]*HeightSampler, 0, len(layers))
	for _, layer := range layers {
		if layer == nil {
			continue
		}
		if len(samplers) > 0 {
			blendWith(stackSampler(samplers), layer, opts.width(samplers[len(samplers)-1].mesh.Zoom), opts.SkirtEpsilon)
		}
		samplers = append(samplers, NewHeightSampler(layer, opts.GridSize))
	}
	if detail != nil && len(samplers) > 0 {
		blendWith(stackSampler(samplers), detail, opts.width(samplers[len(samplers)-1].mesh.Zoom), opts.SkirtEpsilon)
	}
}

func stackSampler(samplers []*HeightSampler) func(lon, lat float64) (float64, bool) {
	return func(lon, lat float64) (float64, bool) {
		for j := len(samplers) - 1; j >= 0; j-- {
			if h, found := samplers[j].Locate(lon, lat); found {
				return h, true
			}
		}
		for j := len(samplers) - 1; j >= 0; j-- {
			if samplers[j].Covers(lon, lat) {
				return samplers[j].nearest(lon, lat), true
			}
		}
		return 0, false
	}
}
