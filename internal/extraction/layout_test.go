package extraction

import (
	"errors"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/cost-tracker/internal/invoice"
)

func layoutNamed(name string) Layout {
	for _, l := range DefaultLayouts() {
		if l.Name == name {
			return l
		}
	}
	Fail("no layout named " + name)
	return Layout{}
}

func column(items []invoice.RawLineItem, f invoice.Field) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.Values[f]
	}
	return out
}

var _ = Describe("DefaultLayouts", func() {
	It("should keep the templates in priority order", func() {
		names := []string{}
		for _, l := range DefaultLayouts() {
			names = append(names, l.Name)
		}
		Expect(names).To(Equal([]string{
			"danfe-stacked-columns",
			"danfe-receipt-stub",
			"danfe-single-line-items",
			"danfe-fixed-issuer",
		}))
	})
})

var _ = Describe("Layout", func() {
	var (
		layout Layout
		tables []Table
		items  []invoice.RawLineItem
		err    error
	)

	JustBeforeEach(func() {
		items, err = layout.Extract(tables)
	})

	When("extracting a stacked columns invoice", func() {
		BeforeEach(func() {
			layout = layoutNamed("danfe-stacked-columns")
			tables = stackedColumnsTables()
		})

		It("should explode the item cell into one row per line", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(column(items, invoice.FieldProductCode)).To(Equal([]string{"M-1", "M-2"}))
			Expect(column(items, invoice.FieldProductDescription)).To(Equal([]string{"- TABUA PINUS 30CM", "CAIBRO 5X5"}))
			Expect(column(items, invoice.FieldUnitPrice)).To(Equal([]string{"18,5000", "9,9000"}))
		})

		It("should read the header cells", func() {
			Expect(items[0].Values).To(HaveKeyWithValue(invoice.FieldIssuerName, "MADEIREIRA PINHO LTDA"))
			Expect(items[0].Values).To(HaveKeyWithValue(invoice.FieldIssuerTaxID, "12.345.678/0001-90"))
			Expect(items[0].Values).To(HaveKeyWithValue(invoice.FieldIssueDate, "10/06/2024"))
			Expect(items[1].Values).To(HaveKeyWithValue(invoice.FieldAccessKey, "3524 0612 3456 7800 0190 5500 1000 0012 3410 0001 2345"))
		})

		It("should tag items with the PDF origin", func() {
			for _, item := range items {
				Expect(item.Origin).To(Equal(invoice.OriginPDF))
			}
		})
	})

	When("extracting a receipt stub invoice", func() {
		BeforeEach(func() {
			layout = layoutNamed("danfe-receipt-stub")
			tables = receiptStubTables()
		})

		It("should strip the receipt wording from the issuer", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(items[0].Values).To(HaveKeyWithValue(invoice.FieldIssuerName, "CASA DOS PARAFUSOS"))
		})

		It("should take every third description line", func() {
			Expect(column(items, invoice.FieldProductDescription)).To(Equal([]string{"PARAFUSO SEXTAVADO", "PORCA SEXTAVADA"}))
		})

		It("should read fixed columns", func() {
			Expect(column(items, invoice.FieldFiscalOperationCode)).To(Equal([]string{"5102", "5102"}))
			Expect(column(items, invoice.FieldTotalPrice)).To(Equal([]string{"45,00", "15,00"}))
			Expect(items[0].Values).To(HaveKeyWithValue(invoice.FieldAccessKey, "35240698765432000110550010000099991000099999"))
		})
	})

	When("extracting a single line items invoice", func() {
		BeforeEach(func() {
			layout = layoutNamed("danfe-single-line-items")
			tables = singleLineItemsTables()
		})

		It("should drop blank rows", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(column(items, invoice.FieldProductCode)).To(Equal([]string{"F-1", "F-2"}))
		})

		It("should match headers that wrap onto two lines", func() {
			Expect(column(items, invoice.FieldProductDescription)).To(Equal([]string{`DOBRADICA 3"`, "FECHADURA EXTERNA"}))
		})

		It("should apply the column steps", func() {
			Expect(column(items, invoice.FieldQuantity)).To(Equal([]string{"6,0000", "1,0000"}))
			Expect(column(items, invoice.FieldTotalPrice)).To(Equal([]string{"45,00", "89,90"}))
		})

		It("should apply the header steps", func() {
			Expect(items[0].Values).To(HaveKeyWithValue(invoice.FieldIssuerName, "FERRAGENS CENTRAL LTDA"))
			Expect(items[0].Values).To(HaveKeyWithValue(invoice.FieldIssuerTaxID, "11.222.333/0001-44"))
			Expect(items[0].Values).To(HaveKeyWithValue(invoice.FieldIssueDate, "21/02/2024"))
			Expect(items[0].Values).To(HaveKeyWithValue(invoice.FieldAccessKey, "3524 0211 2223 3300 0144 5500 1000 1234 5610 0012 3456"))
		})
	})

	When("extracting a fixed issuer invoice", func() {
		BeforeEach(func() {
			layout = layoutNamed("danfe-fixed-issuer")
			tables = fixedIssuerTables()
		})

		It("should use the constant header values", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(items[0].Values).To(HaveKeyWithValue(invoice.FieldIssuerTaxID, "11.908.486/0001-87"))
			Expect(items[0].Values).To(HaveKeyWithValue(invoice.FieldAccessKey, "0000000000000000000"))
			Expect(items[0].Values).To(HaveKeyWithValue(invoice.FieldIssuerName, "DEPOSITO SAO JORGE"))
			Expect(items[0].Values).To(HaveKeyWithValue(invoice.FieldIssueDate, "15/04/2024"))
		})

		It("should split prices out of one column", func() {
			Expect(items).To(HaveLen(1))
			Expect(items[0].Values).To(HaveKeyWithValue(invoice.FieldUnitPrice, "32,90"))
			Expect(items[0].Values).To(HaveKeyWithValue(invoice.FieldTotalPrice, "329,00"))
			Expect(items[0].Values).To(HaveKeyWithValue(invoice.FieldQuantity, "10,0000"))
		})
	})

	When("the signature does not match", func() {
		BeforeEach(func() {
			layout = layoutNamed("danfe-fixed-issuer")
			tables = receiptStubTables()
		})

		It("should return a mismatch", func() {
			Expect(err).To(MatchError(ErrLayoutMismatch))
			Expect(items).To(BeNil())
		})
	})

	When("a header cell is out of range", func() {
		BeforeEach(func() {
			layout = layoutNamed("danfe-stacked-columns")
			tables = receiptStubTables()
		})

		It("should name the layout in the mismatch", func() {
			var mismatch *MismatchError
			Expect(errors.As(err, &mismatch)).To(BeTrue())
			Expect(mismatch.Layout).To(Equal("danfe-stacked-columns"))
			Expect(mismatch.Reason).To(ContainSubstring("access_key"))
		})
	})

	When("a header column is missing", func() {
		BeforeEach(func() {
			layout = layoutNamed("danfe-stacked-columns")
			tables = stackedColumnsTables()
			tables[3][0][5] = "QTD"
		})

		It("should return a mismatch", func() {
			Expect(err).To(MatchError(ErrLayoutMismatch))
			Expect(err.Error()).To(ContainSubstring(`"QUANT"`))
		})
	})

	When("exploded columns disagree on length", func() {
		BeforeEach(func() {
			layout = layoutNamed("danfe-stacked-columns")
			tables = stackedColumnsTables()
			tables[3][1][6] = "18,5000"
		})

		It("should return a mismatch under the strict policy", func() {
			Expect(err).To(MatchError(ErrLayoutMismatch))
		})

		When("the layout truncates", func() {
			BeforeEach(func() {
				layout.Items.Policy = PolicyTruncate
			})

			It("should keep as many rows as the shortest column", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(column(items, invoice.FieldProductCode)).To(Equal([]string{"M-1"}))
			})
		})
	})

	When("the item table holds no product", func() {
		BeforeEach(func() {
			layout = layoutNamed("danfe-single-line-items")
			tables = singleLineItemsTables()
			tables[3] = tables[3][:2]
		})

		It("should return a mismatch", func() {
			Expect(err).To(MatchError(ErrLayoutMismatch))
		})
	})

	When("an item step does not apply", func() {
		BeforeEach(func() {
			layout = layoutNamed("danfe-fixed-issuer")
			tables = fixedIssuerTables()
			tables[8][1][6] = "32,90"
		})

		It("should leave the value absent", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(items[0].Values).To(HaveKeyWithValue(invoice.FieldUnitPrice, "32,90"))
			Expect(items[0].Values).NotTo(HaveKey(invoice.FieldTotalPrice))
		})
	})
})

var _ = Describe("LoadLayouts", func() {
	var (
		document string
		layouts  []Layout
		err      error
	)

	JustBeforeEach(func() {
		layouts, err = LoadLayouts(strings.NewReader(document))
	})

	When("a layout lacks a field", func() {
		BeforeEach(func() {
			document = `
- name: partial
  header:
    access_key: {value: "0"}
  items:
    table: 0
    columns:
      product_code: {col: 0}
`
		})

		It("should reject it", func() {
			Expect(err).To(MatchError(ContainSubstring("missing header field issuer_name")))
			Expect(layouts).To(BeNil())
		})
	})

	When("a layout has an unknown key", func() {
		BeforeEach(func() {
			document = `
- name: typo
  headr: {}
`
		})

		It("should reject it", func() {
			Expect(err).To(HaveOccurred())
		})
	})

	When("the list is empty", func() {
		BeforeEach(func() {
			document = "[]"
		})

		It("should reject it", func() {
			Expect(err).To(MatchError("no layouts defined"))
		})
	})

	When("names repeat", func() {
		BeforeEach(func() {
			var b strings.Builder
			b.WriteString("- name: a\n")
			b.WriteString("  header:\n")
			for _, f := range invoice.HeaderFields {
				b.WriteString("    " + string(f) + ": {value: x}\n")
			}
			b.WriteString("  items:\n    table: 0\n    columns:\n")
			for _, f := range invoice.ItemFields {
				b.WriteString("      " + string(f) + ": {col: 0}\n")
			}
			document = b.String() + b.String()
		})

		It("should reject them", func() {
			Expect(err).To(MatchError("duplicate layout a"))
		})
	})
})
