package extraction

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/cost-tracker/internal/invoice"
)

// pdfDocument builds a one page PDF around a content stream. The page font
// is a fixed pitch Courier with 600 unit glyphs.
func pdfDocument(content string) []byte {
	widths := strings.TrimSpace(strings.Repeat("600 ", 95))
	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 600 800] /Resources << /Font << /F1 5 0 R >> >> /Contents 4 0 R >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
		fmt.Sprintf("<< /Type /Font /Subtype /Type1 /BaseFont /Courier /FirstChar 32 /LastChar 126 /Widths [%s] >>", widths),
	}

	var b bytes.Buffer
	b.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&b, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return b.Bytes()
}

// gridText labels a 2x2 grid spanning x 100..400 and y 660..740
const gridText = `BT /F1 10 Tf 110 715 Td (DESCRICAO) Tj ET
BT /F1 10 Tf 260 715 Td (VALOR) Tj ET
BT /F1 10 Tf 110 675 Td (PREGO) Tj ET
BT /F1 10 Tf 260 675 Td (0,05) Tj ET`

const (
	boxedGrid = `0.5 w
100 700 150 40 re 250 700 150 40 re 100 660 150 40 re 250 660 150 40 re S
` + gridText

	// rules drawn in a y-down space, text in the page space
	flippedGrid = `q 1 0 0 -1 0 800 cm
100 60 150 40 re 250 60 150 40 re 100 100 150 40 re 250 100 150 40 re S
Q
` + gridText

	scaledGrid = "0.5 0 0 0.5 0 0 cm\n" + boxedGrid

	strokedGrid = `100 740 m 400 740 l 100 700 m 400 700 l 100 660 m 400 660 l
100 660 m 100 740 l 250 660 m 250 740 l 400 660 m 400 740 l S
` + gridText

	unpaintedGrid = `100 740 m 400 740 l 100 700 m 400 700 l 100 660 m 400 660 l
100 660 m 100 740 l 250 660 m 250 740 l 400 660 m 400 740 l n
` + gridText
)

const gridLayouts = `
- name: second-table
  header: &header
    access_key: {value: "1"}
    issuer_name: {value: "CASA DOS PREGOS"}
    issuer_tax_id: {value: "11.222.333/0001-44"}
    issue_date: {value: "01/02/2024"}
  items:
    table: 1
    header_row: 0
    first_row: 1
    columns: &columns
      product_code: {col: 0}
      product_description: {header: "DESCRICAO"}
      tariff_code: {col: 0}
      fiscal_operation_code: {col: 0}
      unit_of_measure: {col: 0}
      quantity: {col: 1}
      unit_price: {header: "VALOR"}
      total_price: {col: 1}

- name: price-grid
  signature:
    - cell: {table: 0, row: 0, col: 1}
      contains: "VALOR"
  header: *header
  items:
    table: 0
    header_row: 0
    first_row: 1
    columns: *columns
`

var _ = Describe("PDFTableReader with generated documents", func() {
	var (
		content string
		tables  []Table
		err     error
	)

	expected := []Table{{
		{"DESCRICAO", "VALOR"},
		{"PREGO", "0,05"},
	}}

	JustBeforeEach(func() {
		tables, err = NewPDFTableReader().FirstPageTables(pdfDocument(content))
	})

	When("the grid is drawn with rectangles", func() {
		BeforeEach(func() {
			content = boxedGrid
		})

		It("should read every cell", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(tables).To(Equal(expected))
		})

		It("should let a layout extract the items", func() {
			layouts, err := LoadLayouts(strings.NewReader(gridLayouts))
			Expect(err).NotTo(HaveOccurred())

			match := NewDispatcher(layouts).Dispatch(tables)
			Expect(match.Layout).To(Equal("price-grid"))
			Expect(match.Attempts).To(HaveLen(1))
			Expect(match.Items).To(HaveLen(1))
			Expect(match.Items[0].Values[invoice.FieldProductDescription]).To(Equal("PREGO"))
			Expect(match.Items[0].Values[invoice.FieldUnitPrice]).To(Equal("0,05"))
		})
	})

	When("the rules are drawn under a flipped transform", func() {
		BeforeEach(func() {
			content = flippedGrid
		})

		It("should place the rules in page space", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(tables).To(Equal(expected))
		})
	})

	When("the whole page is scaled", func() {
		BeforeEach(func() {
			content = scaledGrid
		})

		It("should scale rules and glyphs together", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(tables).To(Equal(expected))
		})
	})

	When("the grid is stroked with lines", func() {
		BeforeEach(func() {
			content = strokedGrid
		})

		It("should turn the segments into rules", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(tables).To(Equal(expected))
		})

		It("should dispatch to the same layout", func() {
			layouts, err := LoadLayouts(strings.NewReader(gridLayouts))
			Expect(err).NotTo(HaveOccurred())
			Expect(NewDispatcher(layouts).Dispatch(tables).Layout).To(Equal("price-grid"))
		})
	})

	When("the path is never painted", func() {
		BeforeEach(func() {
			content = unpaintedGrid
		})

		It("should find no tables", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(tables).To(BeEmpty())
		})
	})
})

var _ = Describe("affine", func() {
	It("should apply cm operands after the current transform", func() {
		scaled := affine{a: 2, d: 2}
		moved := affine{a: 1, d: 1, e: 10, f: 20}
		ctm := scaled.then(moved)
		Expect(ctm.apply(1, 1)).To(Equal(pdf.Point{X: 12, Y: 22}))
	})

	It("should know which transforms keep lines axis aligned", func() {
		Expect(affine{a: 1, d: -1}.keepsAxes()).To(BeTrue())
		Expect(affine{b: 1, c: -1}.keepsAxes()).To(BeTrue())
		Expect(affine{a: 0.7, b: 0.7, c: -0.7, d: 0.7}.keepsAxes()).To(BeFalse())
	})
})
