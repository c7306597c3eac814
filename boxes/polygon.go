package boxes

import (
	"math"
	"sort"
)

// Polygon is a convex polygon with vertices in counter-clockwise order.
type Polygon []Point

// cross returns the z component of (a - o) x (b - o).
func cross(o, a, b Point) float64 {
	return (a.X-o.X)*(b.Y-o.Y) - (a.Y-o.Y)*(b.X-o.X)
}

// ConvexHull returns the counter-clockwise convex hull of the points using the
// monotone chain algorithm. Collinear and duplicate points are dropped, so a
// degenerate input (all points on a line) yields fewer than 3 vertices.
func ConvexHull(points []Point) Polygon {
	pts := make([]Point, len(points))
	copy(pts, points)
	sort.Slice(pts, func(i, j int) bool {
		if pts[i].X != pts[j].X {
			return pts[i].X < pts[j].X
		}
		return pts[i].Y < pts[j].Y
	})

	if len(pts) < 3 {
		return Polygon(pts)
	}

	hull := make([]Point, 0, 2*len(pts))
	// Lower hull.
	for _, p := range pts {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	// Upper hull.
	lower := len(hull) + 1
	for i := len(pts) - 2; i >= 0; i-- {
		p := pts[i]
		for len(hull) >= lower && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}

	// The last point repeats the first.
	return Polygon(hull[:len(hull)-1])
}

// Area returns the absolute shoelace area. Fewer than 3 vertices have no area.
func (p Polygon) Area() float64 {
	if len(p) < 3 {
		return 0
	}
	var sum float64
	for i := range p {
		j := (i + 1) % len(p)
		sum += p[i].X*p[j].Y - p[j].X*p[i].Y
	}
	return math.Abs(sum) / 2
}

// Clip intersects p with the convex polygon clip (Sutherland-Hodgman).
// Both polygons must be convex and counter-clockwise, as returned by ConvexHull.
func (p Polygon) Clip(clip Polygon) Polygon {
	if len(p) < 3 || len(clip) < 3 {
		return nil
	}

	out := make(Polygon, len(p))
	copy(out, p)

	for i := range clip {
		if len(out) == 0 {
			return nil
		}
		a := clip[i]
		b := clip[(i+1)%len(clip)]

		in := out
		out = make(Polygon, 0, len(in)+1)
		prev := in[len(in)-1]
		prevInside := cross(a, b, prev) >= 0
		for _, cur := range in {
			curInside := cross(a, b, cur) >= 0
			switch {
			case curInside && !prevInside:
				out = append(out, intersect(prev, cur, a, b), cur)
			case curInside:
				out = append(out, cur)
			case prevInside:
				out = append(out, intersect(prev, cur, a, b))
			}
			prev = cur
			prevInside = curInside
		}
	}
	return out
}

// intersect returns the point where segment pq crosses the infinite line ab.
// Callers only use it when p and q lie on opposite sides of ab.
func intersect(p, q, a, b Point) Point {
	dp := cross(a, b, p)
	dq := cross(a, b, q)
	den := dp - dq
	if den == 0 {
		return q
	}
	t := dp / den
	return Point{X: p.X + t*(q.X-p.X), Y: p.Y + t*(q.Y-p.Y)}
}
