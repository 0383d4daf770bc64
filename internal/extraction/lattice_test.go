package extraction

import (
	"github.com/ledongthuc/pdf"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func hline(y, x0, x1 float64) pdf.Rect {
	return pdf.Rect{Min: pdf.Point{X: x0, Y: y - 0.5}, Max: pdf.Point{X: x1, Y: y + 0.5}}
}

func vline(x, y0, y1 float64) pdf.Rect {
	return pdf.Rect{Min: pdf.Point{X: x - 0.5, Y: y0}, Max: pdf.Point{X: x + 0.5, Y: y1}}
}

func glyph(s string, x, y float64) pdf.Text {
	return pdf.Text{Font: "Helvetica", FontSize: 6, X: x, Y: y, W: 6, S: s}
}

var _ = Describe("Detector", func() {
	var (
		rects  []pdf.Rect
		texts  []pdf.Text
		tables []Table
	)

	JustBeforeEach(func() {
		tables = DefaultDetector().Detect(rects, texts)
	})

	When("the page has a ruled grid and a boxed table", func() {
		BeforeEach(func() {
			rects = []pdf.Rect{
				// lower table: one box split in two
				{Min: pdf.Point{X: 0, Y: 0}, Max: pdf.Point{X: 50, Y: 20}},
				vline(25, 0, 20),
				// upper table: a 2x2 grid drawn with slightly misaligned lines
				hline(100, 0, 200),
				hline(80.8, 0, 120),
				hline(80, 118, 200),
				hline(60, 0, 200),
				vline(0, 60, 100),
				vline(100.5, 60, 100),
				vline(200, 60, 100),
				// a lone box is not a table
				{Min: pdf.Point{X: 300, Y: 300}, Max: pdf.Point{X: 350, Y: 320}},
			}
			texts = []pdf.Text{
				glyph("A", 10, 92),
				glyph("B", 16, 92),
				glyph("C", 30, 92),
				glyph("D", 10, 84),
				glyph("E", 110, 92),
				glyph("F", 110, 70),
				glyph("L", 5, 8),
				glyph("R", 30, 8),
				glyph("X", 500, 500),
			}
		})

		It("should find both tables, top first", func() {
			Expect(tables).To(HaveLen(2))
		})

		It("should lay out the grid by rows and columns", func() {
			Expect(tables[0]).To(Equal(Table{
				{"AB C\nD", "E"},
				{"", "F"},
			}))
		})

		It("should split a box by its inner ruling", func() {
			Expect(tables[1]).To(Equal(Table{{"L", "R"}}))
		})
	})

	When("the page has no ruling", func() {
		BeforeEach(func() {
			rects = nil
			texts = []pdf.Text{glyph("A", 10, 10)}
		})

		It("should find no tables", func() {
			Expect(tables).To(BeEmpty())
		})
	})
})

var _ = Describe("PDFTableReader", func() {
	var (
		data   []byte
		tables []Table
		err    error
	)

	JustBeforeEach(func() {
		tables, err = NewPDFTableReader().FirstPageTables(data)
	})

	When("the content is empty", func() {
		BeforeEach(func() {
			data = nil
		})

		It("should return an error", func() {
			Expect(err).To(HaveOccurred())
			Expect(tables).To(BeNil())
		})
	})

	When("the content is not a PDF", func() {
		BeforeEach(func() {
			data = []byte("<nfeProc/>")
		})

		It("should return an error", func() {
			Expect(err).To(HaveOccurred())
		})
	})
})

var _ = Describe("Table", func() {
	table := Table{{"a", "b"}, {"c"}}

	It("should resolve negative indexes from the end", func() {
		v, ok := table.Cell(-1, -1)
		Expect(ok).To(BeTrue())
		Expect(v).To(Equal("c"))
	})

	It("should report cells out of range", func() {
		_, ok := table.Cell(1, 1)
		Expect(ok).To(BeFalse())
		_, ok = table.Cell(-3, 0)
		Expect(ok).To(BeFalse())
	})
})
