package invoice

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/zombor/invoice-extractor/internal/acquire"
	"github.com/zombor/invoice-extractor/internal/amount"
	"github.com/zombor/invoice-extractor/internal/business"
)

const ronaInvoice = `RONA Inc.
1234 boul. Industriel
Laval QC H7L 4S3
Facture n° 2024-0317
Date: 15/03/2024
Sous-total: 936,30
TPS: 46,82
TVQ: 93,31
TOTAL À PAYER: 1,076,43`

type fixedTime struct {
	t time.Time
}

func (f *fixedTime) Now() time.Time {
	return f.t
}

// mockAcquirer returns a canned result
type mockAcquirer struct {
	result acquire.Result
	err    error
	calls  int
	docs   []acquire.Document
}

func (m *mockAcquirer) Acquire(ctx context.Context, doc acquire.Document) (acquire.Result, error) {
	m.calls++
	m.docs = append(m.docs, doc)
	return m.result, m.err
}

func newRonaResolver() *business.Resolver {
	store := business.NewMemoryStore()
	Expect(store.Save(context.Background(), &business.Record{
		ID:            "b-rona",
		CanonicalName: "rona",
		Keywords:      []business.Keyword{{Text: "RONA", Tier: business.TierExact}},
	})).To(Succeed())
	resolver := business.NewResolver(store, business.DefaultResolverConfig())
	Expect(resolver.Rebuild(context.Background())).To(Succeed())
	return resolver
}

var _ = Describe("Service", func() {
	var (
		acquirer *mockAcquirer
		resolver *business.Resolver
		cfg      Config
		service  *Service
		clock    *fixedTime
	)

	BeforeEach(func() {
		acquirer = &mockAcquirer{}
		resolver = newRonaResolver()
		cfg = Config{}
		clock = &fixedTime{t: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)}
	})

	JustBeforeEach(func() {
		service = NewServiceWithDeps(acquirer, resolver, cfg, clock)
	})

	Describe("ExtractText", func() {
		It("should extract the RONA invoice", func() {
			inv := service.ExtractText(ronaInvoice)

			Expect(*inv.Company).To(Equal("rona"))
			Expect(inv.Match.Tier).To(Equal(business.TierExact))
			Expect(inv.Match.Confidence).To(Equal(1.0))
			Expect(inv.Total.String()).To(Equal("1076.43"))
			Expect(inv.Date.Format("2006-01-02")).To(Equal("2024-03-15"))
			Expect(*inv.InvoiceNumber).To(Equal("2024-0317"))
			Expect(inv.IsValid).To(BeTrue())
			Expect(inv.OverallConfidence).To(BeNumerically("~", 0.98, 1e-9))
		})

		It("should leave the date empty when there is none", func() {
			inv := service.ExtractText("RONA Inc.\nTOTAL: 12.50")

			Expect(inv.Date).To(BeNil())
			Expect(inv.IsValid).To(BeFalse())
			Expect(*inv.Company).To(Equal("rona"))
			Expect(inv.Total.String()).To(Equal("12.5"))
		})

		It("should leave the company empty for unknown businesses", func() {
			inv := service.ExtractText("Acme Corp\nDate: 2024-01-10\nTotal $40.00")

			Expect(inv.Company).To(BeNil())
			Expect(inv.Match).To(BeNil())
			Expect(inv.IsValid).To(BeFalse())
			Expect(inv.Date).NotTo(BeNil())
		})

		It("should keep an implausible total at low confidence", func() {
			inv := service.ExtractText("RONA\nDate: 2024-01-10\nTOTAL: 5000000.00")

			Expect(inv.Total).NotTo(BeNil())
			Expect(inv.FieldConfidence[FieldTotal]).To(Equal(0.3))
			Expect(inv.IsValid).To(BeFalse())
		})

		It("should keep a zero total at low confidence", func() {
			inv := service.ExtractText("RONA\nDate: 2024-01-10\nTotal 0.00")

			Expect(inv.Total).NotTo(BeNil())
			Expect(inv.Total.IsZero()).To(BeTrue())
			Expect(inv.FieldConfidence[FieldTotal]).To(Equal(0.3))
			Expect(inv.IsValid).To(BeFalse())
		})

		When("the largest policy is configured", func() {
			BeforeEach(func() {
				cfg.Policy = amount.LargestPolicy{}
			})

			It("should pick the largest amount", func() {
				inv := service.ExtractText("RONA\nTotal: 10.00\nAmount: $15.00")
				Expect(inv.Total.String()).To(Equal("15"))
			})
		})

		When("there is no resolver", func() {
			It("should still extract the other fields", func() {
				service = NewServiceWithDeps(acquirer, nil, cfg, clock)
				inv := service.ExtractText(ronaInvoice)
				Expect(inv.Company).To(BeNil())
				Expect(inv.Total).NotTo(BeNil())
			})
		})
	})

	Describe("ExtractDocument", func() {
		var (
			doc acquire.Document
			inv ExtractedInvoice
			err error
		)

		BeforeEach(func() {
			doc = acquire.Document{Path: "/tmp/rona.pdf", ContentType: "application/pdf"}
		})

		JustBeforeEach(func() {
			inv, err = service.ExtractDocument(context.Background(), doc)
		})

		When("acquisition succeeds", func() {
			BeforeEach(func() {
				acquirer.result = acquire.Result{Text: ronaInvoice, Strategy: "fitz", Attempts: 1}
			})

			It("should extract the fields and record the method", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(inv.Method).To(Equal("fitz"))
				Expect(inv.Source).To(Equal("rona.pdf"))
				Expect(inv.IsValid).To(BeTrue())
			})
		})

		When("every strategy fails", func() {
			BeforeEach(func() {
				acquirer.err = acquire.ErrNoTextExtracted
			})

			It("should return ErrNoTextExtracted", func() {
				Expect(errors.Is(err, acquire.ErrNoTextExtracted)).To(BeTrue())
			})
		})

		When("the document is corrupt", func() {
			BeforeEach(func() {
				acquirer.err = acquire.Permanent(errors.New("corrupt xref table"))
			})

			It("should surface it as ErrNoTextExtracted", func() {
				Expect(errors.Is(err, acquire.ErrNoTextExtracted)).To(BeTrue())
				Expect(err.Error()).To(ContainSubstring("corrupt xref table"))
			})
		})

		When("a budget is set", func() {
			BeforeEach(func() {
				cfg.Budget = time.Minute
			})

			It("should acquire under a deadline", func() {
				budgeted := &deadlineAcquirer{}
				svc := NewServiceWithDeps(budgeted, resolver, cfg, clock)
				_, err := svc.ExtractDocument(context.Background(), doc)
				Expect(err).NotTo(HaveOccurred())
				_, ok := budgeted.ctx.Deadline()
				Expect(ok).To(BeTrue())
			})
		})
	})

	Describe("ExtractBatch", func() {
		var (
			dir   string
			paths []string
		)

		BeforeEach(func() {
			dir = GinkgoT().TempDir()
			paths = nil
			for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
				path := filepath.Join(dir, name)
				Expect(os.WriteFile(path, []byte(ronaInvoice), 0600)).To(Succeed())
				paths = append(paths, path)
			}
			paths = append(paths, filepath.Join(dir, "missing.txt"))
			cfg.Concurrency = 2
		})

		It("should extract every file and report failures per file", func() {
			pipeline := acquire.NewPipeline(acquire.Config{}, acquire.TextStrategy{})
			svc := NewServiceWithDeps(pipeline, resolver, cfg, clock)

			results := svc.ExtractBatch(context.Background(), paths)
			Expect(results).To(HaveLen(4))
			for _, r := range results[:3] {
				Expect(r.Err).NotTo(HaveOccurred())
				Expect(r.Invoice.IsValid).To(BeTrue())
				Expect(r.Invoice.Method).To(Equal("text"))
			}
			Expect(results[0].Path).To(Equal(paths[0]))
			Expect(errors.Is(results[3].Err, acquire.ErrNoTextExtracted)).To(BeTrue())
		})
	})
})

// deadlineAcquirer records whether it was called with a deadline
type deadlineAcquirer struct {
	ctx context.Context
}

func (d *deadlineAcquirer) Acquire(ctx context.Context, doc acquire.Document) (acquire.Result, error) {
	d.ctx = ctx
	return acquire.Result{Text: "RONA"}, nil
}
