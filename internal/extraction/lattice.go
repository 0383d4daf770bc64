package extraction

import (
	"math"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Detector finds ruled tables from the rectangles and glyphs of a page.
// Coordinates are PDF user space: Y grows upwards.
type Detector struct {
	// SnapTolerance merges parallel ruling lines closer than this
	SnapTolerance float64
	// JoinTolerance bridges gaps between collinear segments
	JoinTolerance float64
	// EdgeThickness is the width below which a rectangle is a single ruling line
	EdgeThickness float64
	// IntersectionTolerance lets lines that stop short still cross
	IntersectionTolerance float64
}

// DefaultDetector returns tolerances that suit DANFE style invoices
func DefaultDetector() Detector {
	return Detector{
		SnapTolerance:         3,
		JoinTolerance:         3,
		EdgeThickness:         2,
		IntersectionTolerance: 3,
	}
}

type edge struct {
	pos, start, end float64
}

type point struct {
	x, y float64
}

type cell struct {
	x0, y0, x1, y1 float64
}

func (c cell) contains(x, y float64) bool {
	return x >= c.x0 && x <= c.x1 && y >= c.y0 && y <= c.y1
}

func (c cell) corners() [4]point {
	return [4]point{{c.x0, c.y0}, {c.x0, c.y1}, {c.x1, c.y0}, {c.x1, c.y1}}
}

// Detect returns the tables found on a page, top to bottom then left to right.
// Groups made of a single cell are not tables.
func (d Detector) Detect(rects []pdf.Rect, texts []pdf.Text) []Table {
	hs, vs := d.edges(rects)
	hs, vs = d.merge(hs), d.merge(vs)
	hIndex, vIndex := indexEdges(hs), indexEdges(vs)

	points := d.intersections(hs, vs)
	cells := d.cells(points, hIndex, vIndex)

	var groups [][]cell
	for _, g := range groupCells(cells) {
		if len(g) > 1 {
			groups = append(groups, g)
		}
	}
	sort.SliceStable(groups, func(i, j int) bool {
		ti, li := bounds(groups[i])
		tj, lj := bounds(groups[j])
		if ti != tj {
			return ti > tj
		}
		return li < lj
	})

	tables := make([]Table, 0, len(groups))
	for _, g := range groups {
		tables = append(tables, layoutTable(g, texts))
	}
	return tables
}

// edges turns rectangles into horizontal and vertical ruling segments
func (d Detector) edges(rects []pdf.Rect) (hs, vs []edge) {
	for _, r := range rects {
		x0, x1 := math.Min(r.Min.X, r.Max.X), math.Max(r.Min.X, r.Max.X)
		y0, y1 := math.Min(r.Min.Y, r.Max.Y), math.Max(r.Min.Y, r.Max.Y)
		w, h := x1-x0, y1-y0

		switch {
		case h <= d.EdgeThickness && w > h:
			hs = append(hs, edge{pos: (y0 + y1) / 2, start: x0, end: x1})
		case w <= d.EdgeThickness && h > w:
			vs = append(vs, edge{pos: (x0 + x1) / 2, start: y0, end: y1})
		case w > d.EdgeThickness && h > d.EdgeThickness:
			hs = append(hs, edge{pos: y0, start: x0, end: x1}, edge{pos: y1, start: x0, end: x1})
			vs = append(vs, edge{pos: x0, start: y0, end: y1}, edge{pos: x1, start: y0, end: y1})
		}
	}
	return hs, vs
}

// merge snaps nearby parallel edges onto one line and joins overlapping segments
func (d Detector) merge(edges []edge) []edge {
	if len(edges) == 0 {
		return nil
	}
	sorted := append([]edge(nil), edges...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].pos < sorted[j].pos })

	var snapped []edge
	cluster := []edge{sorted[0]}
	flush := func() {
		var sum float64
		for _, e := range cluster {
			sum += e.pos
		}
		mean := sum / float64(len(cluster))
		for _, e := range cluster {
			snapped = append(snapped, edge{pos: mean, start: e.start, end: e.end})
		}
	}
	for _, e := range sorted[1:] {
		if e.pos-cluster[len(cluster)-1].pos <= d.SnapTolerance {
			cluster = append(cluster, e)
			continue
		}
		flush()
		cluster = []edge{e}
	}
	flush()

	sort.Slice(snapped, func(i, j int) bool {
		if snapped[i].pos != snapped[j].pos {
			return snapped[i].pos < snapped[j].pos
		}
		return snapped[i].start < snapped[j].start
	})

	merged := []edge{snapped[0]}
	for _, e := range snapped[1:] {
		last := &merged[len(merged)-1]
		if e.pos == last.pos && e.start <= last.end+d.JoinTolerance {
			last.end = math.Max(last.end, e.end)
			continue
		}
		merged = append(merged, e)
	}
	return merged
}

func indexEdges(edges []edge) map[float64][]edge {
	index := make(map[float64][]edge)
	for _, e := range edges {
		index[e.pos] = append(index[e.pos], e)
	}
	return index
}

// intersections returns the crossing points of horizontal and vertical edges
func (d Detector) intersections(hs, vs []edge) []point {
	tol := d.IntersectionTolerance
	seen := make(map[point]bool)
	var points []point
	for _, v := range vs {
		for _, h := range hs {
			if v.pos < h.start-tol || v.pos > h.end+tol {
				continue
			}
			if h.pos < v.start-tol || h.pos > v.end+tol {
				continue
			}
			p := point{x: v.pos, y: h.pos}
			if !seen[p] {
				seen[p] = true
				points = append(points, p)
			}
		}
	}
	return points
}

// connected reports whether a single edge on line pos spans a..b
func (d Detector) connected(index map[float64][]edge, pos, a, b float64) bool {
	lo, hi := math.Min(a, b), math.Max(a, b)
	for _, e := range index[pos] {
		if e.start-d.IntersectionTolerance <= lo && e.end+d.IntersectionTolerance >= hi {
			return true
		}
	}
	return false
}

// cells finds, for every grid point, the smallest enclosed rectangle having
// that point as its top-left corner
func (d Detector) cells(points []point, hIndex, vIndex map[float64][]edge) []cell {
	sort.Slice(points, func(i, j int) bool {
		if points[i].y != points[j].y {
			return points[i].y > points[j].y
		}
		return points[i].x < points[j].x
	})

	exists := make(map[point]bool, len(points))
	rows := make(map[float64][]float64)
	cols := make(map[float64][]float64)
	for _, p := range points {
		exists[p] = true
		rows[p.y] = append(rows[p.y], p.x) // ascending x
		cols[p.x] = append(cols[p.x], p.y) // descending y
	}

	var cells []cell
	for _, p := range points {
	search:
		for _, by := range cols[p.x] {
			if by >= p.y || !d.connected(vIndex, p.x, p.y, by) {
				continue
			}
			for _, rx := range rows[p.y] {
				if rx <= p.x || !d.connected(hIndex, p.y, p.x, rx) {
					continue
				}
				if !exists[point{x: rx, y: by}] {
					continue
				}
				if d.connected(hIndex, by, p.x, rx) && d.connected(vIndex, rx, by, p.y) {
					cells = append(cells, cell{x0: p.x, y0: by, x1: rx, y1: p.y})
					break search
				}
			}
		}
	}
	return cells
}

// groupCells joins cells that share a corner, preserving first-seen order
func groupCells(cells []cell) [][]cell {
	parent := make([]int, len(cells))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}

	owner := make(map[point]int)
	for i, c := range cells {
		for _, corner := range c.corners() {
			if j, ok := owner[corner]; ok {
				parent[find(i)] = find(j)
			} else {
				owner[corner] = i
			}
		}
	}

	order := []int{}
	byRoot := make(map[int][]cell)
	for i, c := range cells {
		root := find(i)
		if _, ok := byRoot[root]; !ok {
			order = append(order, root)
		}
		byRoot[root] = append(byRoot[root], c)
	}

	groups := make([][]cell, 0, len(order))
	for _, root := range order {
		groups = append(groups, byRoot[root])
	}
	return groups
}

// bounds returns the top edge and left edge of a group of cells
func bounds(cells []cell) (top, left float64) {
	top, left = math.Inf(-1), math.Inf(1)
	for _, c := range cells {
		top = math.Max(top, c.y1)
		left = math.Min(left, c.x0)
	}
	return top, left
}

// layoutTable arranges cells on rows by top edge and columns by left edge
func layoutTable(cells []cell, texts []pdf.Text) Table {
	var tops, lefts []float64
	seenTop, seenLeft := map[float64]bool{}, map[float64]bool{}
	for _, c := range cells {
		if !seenTop[c.y1] {
			seenTop[c.y1] = true
			tops = append(tops, c.y1)
		}
		if !seenLeft[c.x0] {
			seenLeft[c.x0] = true
			lefts = append(lefts, c.x0)
		}
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(tops)))
	sort.Float64s(lefts)

	rowOf := make(map[float64]int, len(tops))
	for i, t := range tops {
		rowOf[t] = i
	}
	colOf := make(map[float64]int, len(lefts))
	for i, l := range lefts {
		colOf[l] = i
	}

	glyphs := make([][]pdf.Text, len(cells))
	for _, t := range texts {
		x, y := midpoint(t)
		for i, c := range cells {
			if c.contains(x, y) {
				glyphs[i] = append(glyphs[i], t)
				break
			}
		}
	}

	table := make(Table, len(tops))
	for i := range table {
		table[i] = make([]string, len(lefts))
	}
	for i, c := range cells {
		table[rowOf[c.y1]][colOf[c.x0]] = cellText(glyphs[i])
	}
	return table
}

func midpoint(t pdf.Text) (float64, float64) {
	return t.X + glyphWidth(t)/2, t.Y + t.FontSize*0.3
}

func glyphWidth(t pdf.Text) float64 {
	if t.W > 0 {
		return t.W
	}
	return t.FontSize * 0.5
}

// cellText renders glyphs as lines top to bottom joined by "\n"
func cellText(glyphs []pdf.Text) string {
	if len(glyphs) == 0 {
		return ""
	}
	sorted := append([]pdf.Text(nil), glyphs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Y > sorted[j].Y })

	var lines [][]pdf.Text
	for _, g := range sorted {
		if n := len(lines); n > 0 {
			ref := lines[n-1][0]
			if math.Abs(ref.Y-g.Y) <= math.Max(ref.FontSize, 1)*0.5 {
				lines[n-1] = append(lines[n-1], g)
				continue
			}
		}
		lines = append(lines, []pdf.Text{g})
	}

	out := make([]string, 0, len(lines))
	for _, line := range lines {
		sort.SliceStable(line, func(i, j int) bool { return line[i].X < line[j].X })
		var b strings.Builder
		prevEnd := math.Inf(-1)
		for _, g := range line {
			gap := g.X - prevEnd
			s := b.String()
			if b.Len() > 0 && gap > math.Max(g.FontSize*0.2, 0.5) && !strings.HasSuffix(s, " ") && !strings.HasPrefix(g.S, " ") {
				b.WriteByte(' ')
			}
			b.WriteString(g.S)
			prevEnd = g.X + glyphWidth(g)
		}
		if text := strings.TrimSpace(b.String()); text != "" {
			out = append(out, text)
		}
	}
	return strings.Join(out, "\n")
}
