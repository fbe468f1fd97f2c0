package core

import (
	"math"
	"testing"
)

func TestVec2DistanceTo(t *testing.T) {
	a := Vec2{X: 0, Y: 0}
	b := Vec2{X: 3, Y: 4}
	if got := a.DistanceTo(b); got != 5 {
		t.Fatalf("DistanceTo = %g, want 5", got)
	}
	if got := b.DistanceTo(a); got != 5 {
		t.Fatalf("distance is not symmetric: %g", got)
	}
	if got := a.DistanceTo(a); got != 0 {
		t.Fatalf("self distance = %g, want 0", got)
	}
}

func TestVec2NormAndSub(t *testing.T) {
	v := Vec2{X: -3, Y: 4}
	if got := v.Norm(); got != 5 {
		t.Fatalf("Norm = %g, want 5", got)
	}

	d := Vec2{X: 10, Y: 2}.Sub(Vec2{X: 4, Y: 7})
	if d.X != 6 || d.Y != -5 {
		t.Fatalf("Sub = %+v, want {6 -5}", d)
	}
	if got := d.Norm(); math.Abs(got-math.Sqrt(61)) > 1e-12 {
		t.Fatalf("Sub norm = %g, want sqrt(61)", got)
	}
}
