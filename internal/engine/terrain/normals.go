package terrain

import vmath "github.com/Faultbox/tilestream/pkg/math"

var up = vmath.Vec3{Z: 1}

// ComputeNormals recomputes per-vertex normals as the area-weighted average of the
// adjacent surface faces. Skirt vertices always point up.
func ComputeNormals(m *MeshData) {
	n := m.VertexCount()
	sums := make([]vmath.Vec3, n)

	for t := 0; t+2 < len(m.Indices); t += 3 {
		i0, i1, i2 := int(m.Indices[t]), int(m.Indices[t+1]), int(m.Indices[t+2])
		if m.Skirt[i0] || m.Skirt[i1] || m.Skirt[i2] {
			continue
		}
		p0 := m.Position(i0)
		// Cross product length is twice the area, which gives the weighting.
		face := m.Position(i1).Sub(p0).Cross(m.Position(i2).Sub(p0))
		sums[i0] = sums[i0].Add(face)
		sums[i1] = sums[i1].Add(face)
		sums[i2] = sums[i2].Add(face)
	}

	if cap(m.Normals) < 3*n {
		m.Normals = make([]float32, 3*n)
	}
	m.Normals = m.Normals[:3*n]
	for i, s := range sums {
		nv := up
		if !m.Skirt[i] && s.Length() > 1e-12 {
			nv = s.Normalize()
		}
		f := nv.Float32()
		copy(m.Normals[3*i:3*i+3], f[:])
	}
}

// Normal returns the normal of vertex i.
func (m *MeshData) Normal(i int) vmath.Vec3 {
	return vmath.Vec3{X: float64(m.Normals[3*i]), Y: float64(m.Normals[3*i+1]), Z: float64(m.Normals[3*i+2])}
}
