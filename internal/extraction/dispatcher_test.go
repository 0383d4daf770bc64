package extraction

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/cost-tracker/internal/invoice"
)

var _ = Describe("Dispatcher", func() {
	var (
		dispatcher *Dispatcher
		tables     []Table
		match      Match
	)

	BeforeEach(func() {
		dispatcher = NewDispatcher(DefaultLayouts())
	})

	JustBeforeEach(func() {
		match = dispatcher.Dispatch(tables)
	})

	When("the first layout fits", func() {
		BeforeEach(func() {
			tables = stackedColumnsTables()
		})

		It("should accept it without recording attempts", func() {
			Expect(match.Matched()).To(BeTrue())
			Expect(match.Layout).To(Equal("danfe-stacked-columns"))
			Expect(match.Attempts).To(BeEmpty())
			Expect(match.Err()).NotTo(HaveOccurred())
		})
	})

	When("only the second layout fits", func() {
		BeforeEach(func() {
			tables = receiptStubTables()
		})

		It("should accept the second layout", func() {
			Expect(match.Layout).To(Equal("danfe-receipt-stub"))
			Expect(match.Items).To(HaveLen(2))
		})

		It("should record the first layout's mismatch", func() {
			Expect(match.Attempts).To(HaveLen(1))
			Expect(match.Attempts[0]).To(MatchError(ErrLayoutMismatch))
		})
	})

	When("the later layouts fit", func() {
		It("should pick the third for single line items", func() {
			match = dispatcher.Dispatch(singleLineItemsTables())
			Expect(match.Layout).To(Equal("danfe-single-line-items"))
			Expect(match.Attempts).To(HaveLen(2))
		})

		It("should pick the fourth for the fixed issuer", func() {
			match = dispatcher.Dispatch(fixedIssuerTables())
			Expect(match.Layout).To(Equal("danfe-fixed-issuer"))
			Expect(match.Attempts).To(HaveLen(3))
		})
	})

	When("two layouts could fit", func() {
		BeforeEach(func() {
			first := layoutNamed("danfe-receipt-stub")
			second := first
			second.Name = "receipt-stub-copy"
			dispatcher = NewDispatcher([]Layout{first, second})
			tables = receiptStubTables()
		})

		It("should stop at the first", func() {
			Expect(match.Layout).To(Equal("danfe-receipt-stub"))
		})
	})

	When("no layout fits", func() {
		BeforeEach(func() {
			tables = []Table{{{"UNRELATED"}}}
		})

		It("should be exhausted", func() {
			Expect(match.Matched()).To(BeFalse())
			Expect(match.Items).To(BeEmpty())
			Expect(match.Attempts).To(HaveLen(4))
		})

		It("should report every attempt", func() {
			err := match.Err()
			Expect(err).To(MatchError(ErrLayoutExhausted))
			Expect(errors.Is(err, ErrLayoutMismatch)).To(BeTrue())
			for _, name := range dispatcher.Layouts() {
				Expect(err.Error()).To(ContainSubstring(name))
			}
		})
	})

	When("the page has no tables", func() {
		BeforeEach(func() {
			tables = nil
		})

		It("should be exhausted", func() {
			Expect(match.Err()).To(MatchError(ErrLayoutExhausted))
			Expect(match.Items).To(Equal([]invoice.RawLineItem(nil)))
		})
	})
})
