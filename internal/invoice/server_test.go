package invoice

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"regexp"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
	"github.com/zombor/invoice-extractor/internal/acquire"
	"github.com/zombor/invoice-extractor/internal/business"
)

var _ = Describe("Server", func() {
	var (
		store       *business.MemoryStore
		resolver    *business.Resolver
		registry    *business.Registry
		service     *Service
		server      *Server
		auth        BasicAuth
		ghttpServer *ghttp.Server
	)

	setupServer := func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
		server = NewServerWithMux(service, registry, auth, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		for _, method := range []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"} {
			ghttpServer.RouteToHandler(method, regexp.MustCompile(`^/`), server.Handler().ServeHTTP)
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

	decode := func(resp *http.Response, v any) {
		Expect(json.NewDecoder(resp.Body).Decode(v)).To(Succeed())
	}

	BeforeEach(func() {
		store = business.NewMemoryStore()
		resolver = business.NewResolver(store, business.DefaultResolverConfig())
		registry = business.NewRegistry(store, resolver)
		_, err := registry.Add(context.Background(), &business.Record{
			CanonicalName: "rona",
			Keywords:      []business.Keyword{{Text: "RONA", Tier: business.TierExact}},
		})
		Expect(err).NotTo(HaveOccurred())

		pipeline := acquire.NewPipeline(acquire.Config{}, acquire.TextStrategy{})
		service = NewServiceWithDeps(pipeline, resolver, Config{}, &fixedTime{t: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)})
		auth = BasicAuth{}
		setupServer()
	})

	AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
			ghttpServer = nil
		}
	})

	Describe("POST /api/extract", func() {
		When("the body is plain text", func() {
			It("should return the extracted invoice", func() {
				resp := do("POST", "/api/extract", "text/plain; charset=utf-8", strings.NewReader(ronaInvoice))
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))

				var body struct {
					Fields  map[string]*string `json:"fields"`
					IsValid bool               `json:"is_valid"`
				}
				decode(resp, &body)
				Expect(*body.Fields["company"]).To(Equal("rona"))
				Expect(*body.Fields["total"]).To(Equal("1076.43"))
				Expect(*body.Fields["date"]).To(Equal("2024-03-15"))
				Expect(body.IsValid).To(BeTrue())
			})
		})

		When("a file is uploaded", func() {
			It("should acquire and extract it", func() {
				var buf bytes.Buffer
				mw := multipart.NewWriter(&buf)
				fw, err := mw.CreateFormFile("file", "rona.txt")
				Expect(err).NotTo(HaveOccurred())
				_, err = fw.Write([]byte(ronaInvoice))
				Expect(err).NotTo(HaveOccurred())
				Expect(mw.Close()).To(Succeed())

				resp := do("POST", "/api/extract", mw.FormDataContentType(), &buf)
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				var body struct {
					Source string `json:"source"`
					Method string `json:"method"`
				}
				decode(resp, &body)
				Expect(body.Source).To(Equal("rona.txt"))
				Expect(body.Method).To(Equal("text"))
			})
		})

		When("no file is provided", func() {
			It("should return Bad Request", func() {
				var buf bytes.Buffer
				mw := multipart.NewWriter(&buf)
				Expect(mw.Close()).To(Succeed())

				resp := do("POST", "/api/extract", mw.FormDataContentType(), &buf)
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			})
		})

		When("no text can be acquired", func() {
			It("should return Unprocessable Entity", func() {
				var buf bytes.Buffer
				mw := multipart.NewWriter(&buf)
				fw, err := mw.CreateFormFile("file", "scan.png")
				Expect(err).NotTo(HaveOccurred())
				_, err = fw.Write([]byte("\x89PNG\r\n\x1a\n"))
				Expect(err).NotTo(HaveOccurred())
				Expect(mw.Close()).To(Succeed())

				resp := do("POST", "/api/extract", mw.FormDataContentType(), &buf)
				Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
			})
		})
	})

	Describe("POST /api/resolve", func() {
		It("should return the match", func() {
			resp := do("POST", "/api/resolve", "text/plain", strings.NewReader("RONA Inc."))
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var body struct {
				Match *business.MatchResult `json:"match"`
			}
			decode(resp, &body)
			Expect(body.Match.CanonicalName).To(Equal("rona"))
			Expect(body.Match.Tier).To(Equal(business.TierExact))
		})

		It("should return a null match for unknown text", func() {
			resp := do("POST", "/api/resolve", "text/plain", strings.NewReader("Acme"))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(body).To(MatchJSON(`{"match": null}`))
		})
	})

	Describe("businesses", func() {
		It("should list businesses", func() {
			resp := do("GET", "/api/businesses", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var records []*business.Record
			decode(resp, &records)
			Expect(records).To(HaveLen(1))
			Expect(records[0].CanonicalName).To(Equal("rona"))
		})

		It("should create a business and make it resolvable", func() {
			resp := do("POST", "/api/businesses", "application/json", strings.NewReader(
				`{"canonical_name": "home depot", "keywords": [{"text": "Home Depot", "tier": "variant"}]}`))
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			var created business.Record
			decode(resp, &created)
			Expect(created.ID).NotTo(BeEmpty())

			match, ok := resolver.Resolve("THE HOME DEPOT")
			Expect(ok).To(BeTrue())
			Expect(match.BusinessID).To(Equal(created.ID))
		})

		It("should reject a duplicate name with Conflict", func() {
			resp := do("POST", "/api/businesses", "application/json", strings.NewReader(
				`{"canonical_name": "RONA", "keywords": []}`))
			Expect(resp.StatusCode).To(Equal(http.StatusConflict))
		})

		It("should reject an invalid body", func() {
			resp := do("POST", "/api/businesses", "application/json", strings.NewReader(`{"name": 1}`))
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("should return Not Found for unknown IDs", func() {
			resp := do("GET", "/api/businesses/missing", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		When("working on an existing business", func() {
			var id string

			BeforeEach(func() {
				records, err := registry.List(context.Background())
				Expect(err).NotTo(HaveOccurred())
				id = records[0].ID
			})

			It("should add and remove keywords", func() {
				resp := do("POST", "/api/businesses/"+id+"/keywords", "application/json", strings.NewReader(
					`{"text": "Rona l'entrepot", "tier": "variant"}`))
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				var rec business.Record
				decode(resp, &rec)
				Expect(rec.Keywords).To(HaveLen(2))

				resp = do("DELETE", "/api/businesses/"+id+"/keywords", "application/json", strings.NewReader(
					`{"text": "RONA", "tier": "exact"}`))
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				_, ok := resolver.Resolve("RONA")
				Expect(ok).To(BeFalse())
			})

			It("should return Not Found when removing a missing keyword", func() {
				resp := do("DELETE", "/api/businesses/"+id+"/keywords", "application/json", strings.NewReader(
					`{"text": "BMR", "tier": "exact"}`))
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			})

			It("should set indicators", func() {
				resp := do("PUT", "/api/businesses/"+id+"/indicators", "application/json", strings.NewReader(
					`{"indicators": ["quincaillerie"]}`))
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				rec, err := registry.Get(context.Background(), id)
				Expect(err).NotTo(HaveOccurred())
				Expect(rec.Indicators).To(Equal([]string{"quincaillerie"}))
			})

			It("should update the business", func() {
				resp := do("PUT", "/api/businesses/"+id, "application/json", strings.NewReader(
					`{"canonical_name": "rona inc", "keywords": [{"text": "RONA", "tier": "exact"}]}`))
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				match, ok := resolver.Resolve("RONA")
				Expect(ok).To(BeTrue())
				Expect(match.CanonicalName).To(Equal("rona inc"))
			})

			It("should delete the business", func() {
				resp := do("DELETE", "/api/businesses/"+id, "", nil)
				Expect(resp.StatusCode).To(Equal(http.StatusNoContent))

				_, ok := resolver.Resolve("RONA")
				Expect(ok).To(BeFalse())
			})
		})
	})

	Describe("weights", func() {
		It("should return the current weights", func() {
			resp := do("GET", "/api/weights", "", nil)
			var w business.Weights
			decode(resp, &w)
			Expect(w).To(Equal(business.DefaultWeights()))
		})

		It("should reject weights out of order", func() {
			resp := do("PUT", "/api/weights", "application/json", strings.NewReader(
				`{"exact_match": 0.5, "variant_match": 0.8, "fuzzy_match": 0.6}`))
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("should store valid weights", func() {
			resp := do("PUT", "/api/weights", "application/json", strings.NewReader(
				`{"exact_match": 0.9, "variant_match": 0.8, "fuzzy_match": 0.6}`))
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			match, _ := resolver.Resolve("RONA")
			Expect(match.Confidence).To(Equal(0.9))
		})
	})

	Describe("mapping", func() {
		It("should export the registry", func() {
			resp := do("GET", "/api/mapping", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var m business.Mapping
			decode(resp, &m)
			Expect(m.Businesses).To(HaveLen(1))
			Expect(m.ConfidenceWeights).NotTo(BeNil())
		})

		It("should replace the registry on import", func() {
			resp := do("PUT", "/api/mapping?replace=true", "application/json", strings.NewReader(`{
				"businesses": [{"canonical_name": "bmr", "keywords": [{"keyword": "BMR", "match_type": "exact"}]}]
			}`))
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var m business.Mapping
			decode(resp, &m)
			Expect(m.Businesses).To(HaveLen(1))
			Expect(m.Businesses[0].CanonicalName).To(Equal("bmr"))
		})

		It("should reject documents that fail the schema", func() {
			resp := do("PUT", "/api/mapping", "application/json", strings.NewReader(`{"businesses": [{}]}`))
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("operations", func() {
		It("should serve metrics", func() {
			service.ExtractText(ronaInvoice)
			resp := do("GET", "/metrics", "", nil)
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(ContainSubstring("invoice_extractions_total"))
		})

		It("should answer CORS preflight requests", func() {
			resp := do("OPTIONS", "/api/extract", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})
	})

	Describe("basic auth", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "admin", Password: "secret"}
			setupServer()
		})

		It("should reject requests without credentials", func() {
			resp := do("GET", "/api/businesses", "", nil)
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
		})

		It("should accept valid credentials", func() {
			req, err := http.NewRequest("GET", ghttpServer.URL()+"/api/businesses", nil)
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("admin:secret")))
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})
	})
})
