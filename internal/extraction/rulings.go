package extraction

import (
	"math"

	"github.com/ledongthuc/pdf"
)

// axisTolerance is how far a stroked segment may lean and still count as a
// horizontal or vertical ruling line
const axisTolerance = 1.0

// affine is a PDF transformation matrix [a b c d e f]
type affine struct {
	a, b, c, d, e, f float64
}

var identity = affine{a: 1, d: 1}

// then returns m followed by n, the order the cm operator concatenates in
func (m affine) then(n affine) affine {
	return affine{
		a: m.a*n.a + m.b*n.c,
		b: m.a*n.b + m.b*n.d,
		c: m.c*n.a + m.d*n.c,
		d: m.c*n.b + m.d*n.d,
		e: m.e*n.a + m.f*n.c + n.e,
		f: m.e*n.b + m.f*n.d + n.f,
	}
}

func (m affine) apply(x, y float64) pdf.Point {
	return pdf.Point{X: m.a*x + m.c*y + m.e, Y: m.b*x + m.d*y + m.f}
}

// keepsAxes reports whether m maps horizontal and vertical lines onto
// horizontal and vertical lines
func (m affine) keepsAxes() bool {
	const eps = 1e-9
	return (math.Abs(m.b) < eps && math.Abs(m.c) < eps) || (math.Abs(m.a) < eps && math.Abs(m.d) < eps)
}

// rulingWalker collects the painted ruling lines of a content stream in
// device space
type rulingWalker struct {
	ctm   affine
	stack []affine
	path  []pdf.Rect
	start pdf.Point
	cur   pdf.Point
	rules []pdf.Rect
}

// segment adds the line from p to q when it is axis aligned. Lines become
// zero-thickness rectangles.
func (w *rulingWalker) segment(p, q pdf.Point) {
	if math.Abs(p.Y-q.Y) > axisTolerance && math.Abs(p.X-q.X) > axisTolerance {
		return
	}
	if p == q {
		return
	}
	w.path = append(w.path, pdf.Rect{
		Min: pdf.Point{X: math.Min(p.X, q.X), Y: math.Min(p.Y, q.Y)},
		Max: pdf.Point{X: math.Max(p.X, q.X), Y: math.Max(p.Y, q.Y)},
	})
}

func (w *rulingWalker) rect(x, y, width, height float64) {
	p0 := w.ctm.apply(x, y)
	p1 := w.ctm.apply(x+width, y)
	p2 := w.ctm.apply(x+width, y+height)
	p3 := w.ctm.apply(x, y+height)
	if w.ctm.keepsAxes() {
		w.path = append(w.path, pdf.Rect{
			Min: pdf.Point{X: math.Min(p0.X, p2.X), Y: math.Min(p0.Y, p2.Y)},
			Max: pdf.Point{X: math.Max(p0.X, p2.X), Y: math.Max(p0.Y, p2.Y)},
		})
	} else {
		w.segment(p0, p1)
		w.segment(p1, p2)
		w.segment(p2, p3)
		w.segment(p3, p0)
	}
	w.start, w.cur = p0, p0
}

func (w *rulingWalker) paint() {
	w.rules = append(w.rules, w.path...)
	w.discard()
}

func (w *rulingWalker) discard() {
	w.path = w.path[:0]
}

func (w *rulingWalker) do(stk *pdf.Stack, op string) {
	n := stk.Len()
	args := make([]float64, n)
	for i := n - 1; i >= 0; i-- {
		args[i] = stk.Pop().Float64()
	}

	switch op {
	case "q":
		w.stack = append(w.stack, w.ctm)
	case "Q":
		if len(w.stack) > 0 {
			w.ctm = w.stack[len(w.stack)-1]
			w.stack = w.stack[:len(w.stack)-1]
		}
	case "cm":
		if n == 6 {
			w.ctm = affine{args[0], args[1], args[2], args[3], args[4], args[5]}.then(w.ctm)
		}
	case "m":
		if n == 2 {
			w.cur = w.ctm.apply(args[0], args[1])
			w.start = w.cur
		}
	case "l":
		if n == 2 {
			p := w.ctm.apply(args[0], args[1])
			w.segment(w.cur, p)
			w.cur = p
		}
	case "c":
		if n == 6 {
			w.cur = w.ctm.apply(args[4], args[5])
		}
	case "v", "y":
		if n == 4 {
			w.cur = w.ctm.apply(args[2], args[3])
		}
	case "h":
		w.segment(w.cur, w.start)
		w.cur = w.start
	case "re":
		if n == 4 {
			w.rect(args[0], args[1], args[2], args[3])
		}
	case "s", "b", "b*":
		w.segment(w.cur, w.start)
		w.paint()
	case "S", "f", "F", "f*", "B", "B*":
		w.paint()
	case "n":
		w.discard()
	}
}

// pageRulings walks the content streams of page and returns every painted
// rectangle and axis-aligned line in device space, the space glyph
// positions are reported in
func pageRulings(page pdf.Page) []pdf.Rect {
	w := &rulingWalker{ctm: identity}
	contents := page.V.Key("Contents")
	if contents.Kind() == pdf.Array {
		for i := 0; i < contents.Len(); i++ {
			pdf.Interpret(contents.Index(i), w.do)
		}
	} else {
		pdf.Interpret(contents, w.do)
	}
	return w.rules
}
