package math

import (
	"math"
	"testing"
)

func TestVec2Add(t *testing.T) {
	a := Vec2{1, 2}
	b := Vec2{3, 4}
	got := a.Add(b)
	want := Vec2{4, 6}
	if got != want {
		t.Errorf("Vec2.Add() = %v, want %v", got, want)
	}
}

func TestVec2Length(t *testing.T) {
	v := Vec2{3, 4}
	if got := v.Length(); got != 5 {
		t.Errorf("Vec2.Length() = %v, want 5", got)
	}
}

func TestVec3Cross(t *testing.T) {
	x := Vec3{1, 0, 0}
	y := Vec3{0, 1, 0}
	got := x.Cross(y)
	want := Vec3{0, 0, 1}
	if got != want {
		t.Errorf("Vec3.Cross() = %v, want %v", got, want)
	}
}

func TestVec3Normalize(t *testing.T) {
	n := Vec3{3, 4, 12}.Normalize()
	if l := n.Length(); math.Abs(l-1) > 1e-12 {
		t.Errorf("Vec3.Normalize().Length() = %v, want 1", l)
	}
	if (Vec3{}).Normalize() != (Vec3{}) {
		t.Error("zero vector should normalize to zero")
	}
}

func TestBarycentric(t *testing.T) {
	a, b, c := Vec2{0, 0}, Vec2{1, 0}, Vec2{0, 1}

	tests := []struct {
		name       string
		p          Vec2
		w0, w1, w2 float64
	}{
		{"vertex a", Vec2{0, 0}, 1, 0, 0},
		{"vertex b", Vec2{1, 0}, 0, 1, 0},
		{"vertex c", Vec2{0, 1}, 0, 0, 1},
		{"centroid", Vec2{1.0 / 3, 1.0 / 3}, 1.0 / 3, 1.0 / 3, 1.0 / 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w0, w1, w2, ok := Barycentric(tt.p, a, b, c)
			if !ok {
				t.Fatal("unexpected degenerate triangle")
			}
			if math.Abs(w0-tt.w0) > 1e-12 || math.Abs(w1-tt.w1) > 1e-12 || math.Abs(w2-tt.w2) > 1e-12 {
				t.Errorf("got (%v, %v, %v), want (%v, %v, %v)", w0, w1, w2, tt.w0, tt.w1, tt.w2)
			}
		})
	}

	if _, _, _, ok := Barycentric(Vec2{}, a, a, a); ok {
		t.Error("expected degenerate triangle to report !ok")
	}
}
