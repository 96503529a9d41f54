package invoice_test

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
	"github.com/zombor/invoice-extractor/internal/acquire"
	"github.com/zombor/invoice-extractor/internal/business"
	"github.com/zombor/invoice-extractor/internal/invoice"
	"github.com/zombor/invoice-extractor/internal/scanning"
)

// mockRecognizer transcribes every page to the same text
type mockRecognizer struct {
	text  string
	pages int
}

func (m *mockRecognizer) Recognize(ctx context.Context, png []byte) (string, error) {
	m.pages++
	return m.text, nil
}

func (m *mockRecognizer) Close() error {
	return nil
}

const scannedInvoice = `RONA Inc.
Facture n° 2024-0317
Date: 15/03/2024
Sous-total: 936,30
TOTAL À PAYER: 1,076,43`

const mapping = `{
	"businesses": [
		{
			"canonical_name": "rona",
			"keywords": [{"keyword": "RONA", "match_type": "exact", "case_sensitive": false, "fuzzy_matching": false}],
			"indicators": ["quincaillerie"]
		}
	],
	"confidence_weights": {"exact_match": 1.0, "variant_match": 0.8, "fuzzy_match": 0.6}
}`

func samplePNG() []byte {
	img := image.NewGray(image.Rect(0, 0, 40, 20))
	for x := 0; x < 40; x++ {
		img.Set(x, 10, color.Black)
	}
	var buf bytes.Buffer
	Expect(png.Encode(&buf, img)).To(Succeed())
	return buf.Bytes()
}

var _ = Describe("Integration", func() {
	var (
		tempDir    string
		store      *business.BoltStore
		resolver   *business.Resolver
		registry   *business.Registry
		recognizer *mockRecognizer
		service    *invoice.Service
		server     *invoice.Server
		ghServer   *ghttp.Server
	)

	BeforeEach(func() {
		tempDir = GinkgoT().TempDir()

		var err error
		store, err = business.NewBoltStore(filepath.Join(tempDir, "businesses.db"))
		Expect(err).NotTo(HaveOccurred())

		resolver = business.NewResolver(store, business.DefaultResolverConfig())
		Expect(resolver.Rebuild(context.Background())).To(Succeed())
		registry = business.NewRegistry(store, resolver)

		mappingPath := filepath.Join(tempDir, "mapping.json")
		Expect(os.WriteFile(mappingPath, []byte(mapping), 0600)).To(Succeed())
		m, err := business.LoadMappingFile(mappingPath)
		Expect(err).NotTo(HaveOccurred())
		Expect(registry.Import(context.Background(), m, true)).To(Succeed())

		recognizer = &mockRecognizer{text: scannedInvoice}
		pipeline, err := acquire.NewPipelineFromNames(acquire.Config{}, []string{"text", "ocr"}, acquire.StrategyOptions{
			Recognizer: recognizer,
			Render:     scanning.RenderOptions{MinHeight: 20},
		})
		Expect(err).NotTo(HaveOccurred())

		service = invoice.NewService(pipeline, resolver, invoice.Config{})
		server = invoice.NewServer(service, registry, invoice.BasicAuth{})
		ghServer = ghttp.NewServer()
	})

	AfterEach(func() {
		if ghServer != nil {
			ghServer.Close()
		}
		if store != nil {
			store.Close()
		}
	})

	It("should extract an uploaded scan against the imported registry", func() {
		ghServer.AppendHandlers(server.ServeHTTP)

		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		part, err := writer.CreateFormFile("file", "scan.png")
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write(samplePNG())
		Expect(err).NotTo(HaveOccurred())
		Expect(writer.Close()).To(Succeed())

		req, err := http.NewRequest("POST", ghServer.URL()+"/api/extract", body)
		Expect(err).NotTo(HaveOccurred())
		req.Header.Set("Content-Type", writer.FormDataContentType())

		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		respBody, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())

		var result struct {
			Fields     map[string]*string    `json:"fields"`
			Confidence map[string]float64    `json:"confidence"`
			IsValid    bool                  `json:"is_valid"`
			Method     string                `json:"method"`
			Match      *business.MatchResult `json:"match"`
		}
		Expect(json.Unmarshal(respBody, &result)).To(Succeed())

		Expect(result.Method).To(Equal("ocr"))
		Expect(recognizer.pages).To(Equal(1))
		Expect(*result.Fields["company"]).To(Equal("rona"))
		Expect(*result.Fields["total"]).To(Equal("1076.43"))
		Expect(*result.Fields["date"]).To(Equal("2024-03-15"))
		Expect(*result.Fields["invoice_number"]).To(Equal("2024-0317"))
		Expect(result.Match.Tier).To(Equal(business.TierExact))
		Expect(result.Confidence["company"]).To(Equal(1.0))
		Expect(result.IsValid).To(BeTrue())
	})

	It("should keep the registry across reopening the store", func() {
		Expect(store.Close()).To(Succeed())

		reopened, err := business.NewBoltStore(filepath.Join(tempDir, "businesses.db"))
		Expect(err).NotTo(HaveOccurred())
		store = reopened

		fresh := business.NewResolver(store, business.DefaultResolverConfig())
		Expect(fresh.Rebuild(context.Background())).To(Succeed())
		match, ok := fresh.Resolve("RONA Inc.")
		Expect(ok).To(BeTrue())
		Expect(match.CanonicalName).To(Equal("rona"))
	})

	It("should extract a batch of files from disk", func() {
		var paths []string
		for _, name := range []string{"one.png", "two.png"} {
			path := filepath.Join(tempDir, name)
			Expect(os.WriteFile(path, samplePNG(), 0600)).To(Succeed())
			paths = append(paths, path)
		}

		results := service.ExtractBatch(context.Background(), paths)
		Expect(results).To(HaveLen(2))
		for _, r := range results {
			Expect(r.Err).NotTo(HaveOccurred())
			Expect(r.Invoice.IsValid).To(BeTrue())
		}
	})
})
