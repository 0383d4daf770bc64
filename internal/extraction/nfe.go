package extraction

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/zombor/cost-tracker/internal/invoice"
)

// NFeNamespace is the XML namespace of Brazilian electronic invoices
const NFeNamespace = "http://www.portalfiscal.inf.br/nfe"

type nfeInfo struct {
	ID   string `xml:"Id,attr"`
	Ide  nfeIde `xml:"ide"`
	Emit struct {
		Name  *string `xml:"xNome"`
		TaxID *string `xml:"CNPJ"`
	} `xml:"emit"`
	Details []nfeDetail `xml:"det"`
}

type nfeIde struct {
	IssuedAt *string `xml:"dhEmi"`
	// dEmi is the date-only element of layout versions before 3.10
	IssuedOn *string `xml:"dEmi"`
}

type nfeDetail struct {
	Item    string      `xml:"nItem,attr"`
	Product *nfeProduct `xml:"prod"`
}

type nfeProduct struct {
	Code        *string `xml:"cProd"`
	Description *string `xml:"xProd"`
	NCM         *string `xml:"NCM"`
	CFOP        *string `xml:"CFOP"`
	Unit        *string `xml:"uCom"`
	Quantity    *string `xml:"qCom"`
	UnitPrice   *string `xml:"vUnCom"`
	TotalPrice  *string `xml:"vProd"`
}

// ExtractNFe reads one NF-e document, bare or wrapped in nfeProc. A missing
// infNFe element is ErrMalformedDocument. Detail blocks lacking a product
// field are logged and skipped.
func ExtractNFe(r io.Reader, filename string) ([]invoice.RawLineItem, error) {
	info, err := findInfNFe(xml.NewDecoder(r))
	if err != nil {
		return nil, err
	}

	header, err := info.header()
	if err != nil {
		return nil, err
	}

	items := make([]invoice.RawLineItem, 0, len(info.Details))
	for i, det := range info.Details {
		values, err := det.values()
		if err != nil {
			slog.Warn("Skipping invoice item", "filename", filename, "item", detailNumber(det, i), "reason", err)
			continue
		}

		item := invoice.NewRawLineItem(invoice.OriginXML)
		for f, v := range header {
			item.Values[f] = v
		}
		for f, v := range values {
			item.Values[f] = v
		}
		items = append(items, item)
	}
	return items, nil
}

func findInfNFe(dec *xml.Decoder) (*nfeInfo, error) {
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: no infNFe element", ErrMalformedDocument)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
		}

		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "infNFe" || start.Name.Space != NFeNamespace {
			continue
		}

		var info nfeInfo
		if err := dec.DecodeElement(&info, &start); err != nil {
			return nil, fmt.Errorf("%w: decoding infNFe: %v", ErrMalformedDocument, err)
		}
		return &info, nil
	}
}

func (n *nfeInfo) header() (map[invoice.Field]string, error) {
	issued := n.Ide.IssuedAt
	if issued == nil {
		issued = n.Ide.IssuedOn
	}

	fields := []struct {
		field invoice.Field
		value *string
		name  string
	}{
		{invoice.FieldIssuerName, n.Emit.Name, "emit/xNome"},
		{invoice.FieldIssuerTaxID, n.Emit.TaxID, "emit/CNPJ"},
		{invoice.FieldIssueDate, issued, "ide/dhEmi"},
	}

	header := map[invoice.Field]string{invoice.FieldAccessKey: n.ID}
	for _, f := range fields {
		if f.value == nil {
			return nil, fmt.Errorf("%w: missing %s", ErrMalformedDocument, f.name)
		}
		header[f.field] = strings.TrimSpace(*f.value)
	}
	return header, nil
}

func (d nfeDetail) values() (map[invoice.Field]string, error) {
	p := d.Product
	if p == nil {
		return nil, errors.New("missing prod")
	}

	fields := []struct {
		field invoice.Field
		value *string
		name  string
	}{
		{invoice.FieldProductCode, p.Code, "cProd"},
		{invoice.FieldProductDescription, p.Description, "xProd"},
		{invoice.FieldTariffCode, p.NCM, "NCM"},
		{invoice.FieldFiscalOperationCode, p.CFOP, "CFOP"},
		{invoice.FieldUnitOfMeasure, p.Unit, "uCom"},
		{invoice.FieldQuantity, p.Quantity, "qCom"},
		{invoice.FieldUnitPrice, p.UnitPrice, "vUnCom"},
		{invoice.FieldTotalPrice, p.TotalPrice, "vProd"},
	}

	values := make(map[invoice.Field]string, len(fields))
	for _, f := range fields {
		if f.value == nil {
			return nil, fmt.Errorf("missing prod/%s", f.name)
		}
		values[f.field] = strings.TrimSpace(*f.value)
	}
	return values, nil
}

func detailNumber(d nfeDetail, i int) string {
	if d.Item != "" {
		return d.Item
	}
	return fmt.Sprint(i + 1)
}
