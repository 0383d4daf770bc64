package ledger

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"regexp"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/cost-tracker/internal/costing"
	"github.com/zombor/cost-tracker/internal/invoice"
	"github.com/zombor/cost-tracker/internal/pipeline"
	"github.com/zombor/cost-tracker/internal/store"
)

var _ = Describe("Server", func() {
	var (
		st          store.Store
		processor   *mockProcessor
		service     *Service
		auth        BasicAuth
		ghttpServer *ghttp.Server
	)

	setupServer := func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
		service = NewServiceWithDeps(st, processor, newMockStorage(), mockPreviewer{}, &mockIDGenerator{}, &mockTimeSource{now: now})
		server := NewServerWithMux(service, auth, []string{"https://app.example.com"}, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		// Route every request so a test may issue several
		for _, method := range []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"} {
			ghttpServer.RouteToHandler(method, regexp.MustCompile(`.*`), server.ServeHTTP)
		}
	}

	do := func(method, path, contentType string, body io.Reader) *http.Response {
		req, err := http.NewRequest(method, ghttpServer.URL()+path, body)
		Expect(err).NotTo(HaveOccurred())
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(resp.Body.Close)
		return resp
	}

	errorOf := func(resp *http.Response) string {
		var body map[string]string
		Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
		return body["error"]
	}

	BeforeEach(func() {
		st = newTestStore()
		processor = &mockProcessor{}
		auth = BasicAuth{}
	})

	JustBeforeEach(func() {
		setupServer()
	})

	AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
			ghttpServer = nil
		}
	})

	Describe("GET /healthz", func() {
		It("should return status OK", func() {
			resp := do("GET", "/healthz", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})

	Describe("POST /api/uploads", func() {
		upload := func(names ...string) *http.Response {
			var b bytes.Buffer
			writer := multipart.NewWriter(&b)
			for _, name := range names {
				part, _ := writer.CreateFormFile("files[]", name)
				part.Write([]byte("data of " + name))
			}
			writer.Close()
			return do("POST", "/api/uploads", writer.FormDataContentType(), &b)
		}

		When("upload succeeds", func() {
			BeforeEach(func() {
				processor.batch = &pipeline.Batch{
					Items:     []invoice.LineItem{lineItem("TINTA", "100")},
					Documents: []pipeline.DocumentResult{{Filename: "nota.xml", Route: pipeline.RouteXML, Rows: 1}},
				}
			})

			It("should report rows and files", func() {
				resp := upload("nota.xml")
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))

				var result UploadResult
				Expect(json.NewDecoder(resp.Body).Decode(&result)).To(Succeed())
				Expect(result.Rows).To(Equal(1))
				Expect(result.Files).To(Equal(1))
				Expect(result.Message).To(ContainSubstring("1 rows saved"))
				Expect(processor.docs[0].Data).To(Equal([]byte("data of nota.xml")))
			})
		})

		When("nothing is extracted", func() {
			BeforeEach(func() {
				processor.batch = &pipeline.Batch{Documents: []pipeline.DocumentResult{{Filename: "x.pdf", Route: pipeline.RoutePDF}}}
				processor.err = fmt.Errorf("%w from 1 documents", pipeline.ErrEmptyBatch)
			})

			It("should return Bad Request", func() {
				resp := upload("x.pdf")
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(errorOf(resp)).To(ContainSubstring("no valid data extracted"))
			})
		})

		When("no files are attached", func() {
			It("should return Bad Request", func() {
				resp := upload()
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(errorOf(resp)).To(Equal("No files found"))
			})
		})

		When("the body is not multipart", func() {
			It("should return Bad Request", func() {
				resp := do("POST", "/api/uploads", "application/json", strings.NewReader("{}"))
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})
	})

	Describe("line item routes", func() {
		var saved []invoice.LineItem

		BeforeEach(func() {
			var err error
			saved, err = st.AppendLineItems(context.Background(), []invoice.LineItem{lineItem("TINTA", "100")})
			Expect(err).NotTo(HaveOccurred())
			st.UpsertMapping(context.Background(), invoice.AttributeMapping{ProductDescription: "TINTA", GrossWeight: dec("4"), StandardUnit: invoice.UnitLiter})
		})

		It("should list the cost view", func() {
			resp := do("GET", "/api/materials", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var rows []costing.MaterialCost
			Expect(json.NewDecoder(resp.Body).Decode(&rows)).To(Succeed())
			Expect(rows).To(HaveLen(1))
			Expect(rows[0].CostPerStandardUnit.Decimal.String()).To(Equal("25"))
		})

		It("should list raw line items", func() {
			resp := do("GET", "/api/line-items", "", nil)
			var items []invoice.LineItem
			Expect(json.NewDecoder(resp.Body).Decode(&items)).To(Succeed())
			Expect(items).To(HaveLen(1))
		})

		It("should update a line item", func() {
			resp := do("PUT", fmt.Sprintf("/api/materials/%d", saved[0].ID), "application/json", strings.NewReader(`{"unit_price": "80"}`))
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var item invoice.LineItem
			Expect(json.NewDecoder(resp.Body).Decode(&item)).To(Succeed())
			Expect(item.UnitPrice.Decimal.String()).To(Equal("80"))
		})

		It("should reject a bad id", func() {
			resp := do("PUT", "/api/materials/abc", "application/json", strings.NewReader(`{}`))
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("should return Not Found for unknown ids", func() {
			resp := do("DELETE", "/api/materials/999", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("should delete all line items", func() {
			resp := do("DELETE", "/api/materials", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			items, _ := st.ListLineItems(context.Background())
			Expect(items).To(BeEmpty())
		})

		It("should export csv", func() {
			resp := do("GET", "/api/export.csv", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(HavePrefix("text/csv"))
			body, _ := io.ReadAll(resp.Body)
			Expect(string(body)).To(HavePrefix("access_key;"))
		})

		It("should export xlsx", func() {
			resp := do("GET", "/api/export.xlsx", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Disposition")).To(ContainSubstring("line_items.xlsx"))
		})
	})

	Describe("POST /api/manual-entries", func() {
		It("should accept a single object", func() {
			resp := do("POST", "/api/manual-entries", "application/json",
				strings.NewReader(`{"product_description": "PARAFUSO", "quantity": 2, "unit_price": "0.5"}`))
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			items, _ := st.ListLineItems(context.Background())
			Expect(items).To(HaveLen(1))
			Expect(items[0].TotalPrice.Decimal.String()).To(Equal("1"))
		})

		It("should accept an array", func() {
			resp := do("POST", "/api/manual-entries", "application/json",
				strings.NewReader(`[{"product_description": "A"}, {"product_description": ""}, {"product_description": "B"}]`))
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var body map[string]any
			Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
			Expect(body["rows"]).To(BeNumerically("==", 2))
		})

		It("should reject an empty array", func() {
			resp := do("POST", "/api/manual-entries", "application/json", strings.NewReader(`[]`))
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("attribute mapping routes", func() {
		It("should create then update", func() {
			body := `{"product_description": "TINTA", "gross_weight": "18", "standard_unit": "LT"}`
			resp := do("POST", "/api/attribute-mappings", "application/json", strings.NewReader(body))
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			resp = do("POST", "/api/attribute-mappings", "application/json", strings.NewReader(body))
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("should require a description", func() {
			resp := do("POST", "/api/attribute-mappings", "application/json", strings.NewReader(`{"standard_unit": "UN"}`))
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(errorOf(resp)).To(ContainSubstring("product description is required"))
		})

		It("should delete by description", func() {
			st.UpsertMapping(context.Background(), invoice.AttributeMapping{ProductDescription: "TINTA ACRILICA", StandardUnit: invoice.UnitLiter})
			resp := do("DELETE", "/api/attribute-mappings/TINTA%20ACRILICA", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))

			resp = do("DELETE", "/api/attribute-mappings/TINTA%20ACRILICA", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})
	})

	Describe("product routes", func() {
		var saved []invoice.LineItem

		BeforeEach(func() {
			saved, _ = st.AppendLineItems(context.Background(), []invoice.LineItem{lineItem("PREGO", "0.05")})
			st.UpsertMapping(context.Background(), invoice.AttributeMapping{ProductDescription: "PREGO", StandardUnit: invoice.UnitEach})
		})

		It("should create and price a product", func() {
			body := fmt.Sprintf(`{"name": "Caixa", "materials": [{"line_item_id": %d, "quantity_used": "100", "unit": "UN"}]}`, saved[0].ID)
			resp := do("POST", "/api/products", "application/json", strings.NewReader(body))
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			var p invoice.Product
			Expect(json.NewDecoder(resp.Body).Decode(&p)).To(Succeed())

			resp = do("GET", fmt.Sprintf("/api/products/%d", p.ID), "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			var cost costing.ProductCost
			Expect(json.NewDecoder(resp.Body).Decode(&cost)).To(Succeed())
			Expect(cost.TotalCost.String()).To(Equal("5"))
			Expect(cost.Materials[0].ProductDescription).To(Equal("PREGO"))
		})

		It("should return Not Found for unknown products", func() {
			resp := do("GET", "/api/products/42", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("should reject materials for unknown line items", func() {
			resp := do("POST", "/api/products", "application/json", strings.NewReader(`{"name": "Caixa", "materials": [{"line_item_id": 77}]}`))
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("should list products", func() {
			service.CreateProduct(context.Background(), "Caixa", nil)
			resp := do("GET", "/api/products", "", nil)
			var list []ProductSummary
			Expect(json.NewDecoder(resp.Body).Decode(&list)).To(Succeed())
			Expect(list).To(HaveLen(1))
			Expect(list[0].Name).To(Equal("Caixa"))
		})
	})

	Describe("suggestions", func() {
		BeforeEach(func() {
			st.AppendLineItems(context.Background(), []invoice.LineItem{lineItem("PREGO", "0.05")})
		})

		It("should list issuers", func() {
			resp := do("GET", "/api/suggestions/issuers", "", nil)
			var out []IssuerSuggestion
			Expect(json.NewDecoder(resp.Body).Decode(&out)).To(Succeed())
			Expect(out).To(HaveLen(1))
		})

		It("should list product codes", func() {
			resp := do("GET", "/api/suggestions/product-codes", "", nil)
			var out []ProductCodeSuggestion
			Expect(json.NewDecoder(resp.Body).Decode(&out)).To(Succeed())
			Expect(out).To(Equal([]ProductCodeSuggestion{{ProductCode: "P-PREGO"}}))
		})
	})

	Describe("authentication", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "admin", Password: "secret"}
		})

		It("should reject requests without credentials", func() {
			resp := do("GET", "/api/materials", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
		})

		It("should accept valid credentials", func() {
			req, _ := http.NewRequest("GET", ghttpServer.URL()+"/api/materials", nil)
			req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("admin:secret")))
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("should leave the health check open", func() {
			resp := do("GET", "/healthz", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})

	Describe("CORS", func() {
		It("should answer preflight requests for allowed origins", func() {
			req, _ := http.NewRequest("OPTIONS", ghttpServer.URL()+"/api/products", nil)
			req.Header.Set("Origin", "https://app.example.com")
			req.Header.Set("Access-Control-Request-Method", "POST")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("https://app.example.com"))
		})

		It("should not allow other origins", func() {
			req, _ := http.NewRequest("GET", ghttpServer.URL()+"/healthz", nil)
			req.Header.Set("Origin", "https://evil.example.com")
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(BeEmpty())
		})
	})
})
