package business

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Registry", func() {
	var (
		ctx      context.Context
		store    *MemoryStore
		resolver *Resolver
		registry *Registry
		clock    *fixedTime
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = NewMemoryStore()
		resolver = NewResolver(store, DefaultResolverConfig())
		clock = &fixedTime{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
		registry = NewRegistryWithDeps(store, resolver, &sequentialIDs{}, clock)
	})

	rona := func() *Record {
		return &Record{
			CanonicalName: "rona",
			Keywords:      []Keyword{{Text: "RONA", Tier: TierExact}},
		}
	}

	Describe("Add", func() {
		var (
			added *Record
			err   error
		)

		JustBeforeEach(func() {
			added, err = registry.Add(ctx, rona())
		})

		It("should assign an ID and timestamps", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(added.ID).To(Equal("biz-1"))
			Expect(added.CreatedAt).To(Equal(clock.t))
			Expect(added.UpdatedAt).To(Equal(clock.t))
		})

		It("should make the business resolvable", func() {
			res, ok := resolver.Resolve("RONA Inc.")
			Expect(ok).To(BeTrue())
			Expect(res.BusinessID).To(Equal("biz-1"))
		})

		It("should reject a second business with the same name", func() {
			dup := rona()
			dup.CanonicalName = "  RONA "
			_, err := registry.Add(ctx, dup)
			Expect(errors.Is(err, ErrDuplicateName)).To(BeTrue())

			records, _ := registry.List(ctx)
			Expect(records).To(HaveLen(1))
		})

		It("should reject invalid records", func() {
			_, err := registry.Add(ctx, &Record{CanonicalName: ""})
			Expect(errors.Is(err, ErrInvalidRecord)).To(BeTrue())
		})
	})

	Describe("Update", func() {
		var id string

		BeforeEach(func() {
			added, err := registry.Add(ctx, rona())
			Expect(err).NotTo(HaveOccurred())
			id = added.ID
			clock.t = clock.t.Add(time.Hour)
		})

		It("should keep the creation time", func() {
			rec := rona()
			rec.ID = id
			rec.CanonicalName = "rona inc"
			updated, err := registry.Update(ctx, rec)
			Expect(err).NotTo(HaveOccurred())
			Expect(updated.CreatedAt).To(Equal(clock.t.Add(-time.Hour)))
			Expect(updated.UpdatedAt).To(Equal(clock.t))

			res, ok := resolver.Resolve("RONA")
			Expect(ok).To(BeTrue())
			Expect(res.CanonicalName).To(Equal("rona inc"))
		})

		It("should return ErrNotFound for unknown IDs", func() {
			rec := rona()
			rec.ID = "missing"
			_, err := registry.Update(ctx, rec)
			Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
		})
	})

	Describe("keywords", func() {
		var id string

		BeforeEach(func() {
			added, err := registry.Add(ctx, rona())
			Expect(err).NotTo(HaveOccurred())
			id = added.ID
		})

		It("should add a keyword and rebuild", func() {
			_, ok := resolver.Resolve("Reno Depot")
			Expect(ok).To(BeFalse())

			rec, err := registry.AddKeyword(ctx, id, Keyword{Text: "Réno-Dépôt", Tier: TierVariant})
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Keywords).To(HaveLen(2))

			res, ok := resolver.Resolve("RENO-DEPOT Laval")
			Expect(ok).To(BeTrue())
			Expect(res.Tier).To(Equal(TierVariant))
		})

		It("should reject a duplicate keyword", func() {
			_, err := registry.AddKeyword(ctx, id, Keyword{Text: "rona", Tier: TierExact})
			Expect(errors.Is(err, ErrDuplicateKeyword)).To(BeTrue())
		})

		It("should remove a keyword", func() {
			rec, err := registry.RemoveKeyword(ctx, id, Keyword{Text: "rona", Tier: TierExact})
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Keywords).To(BeEmpty())

			_, ok := resolver.Resolve("RONA")
			Expect(ok).To(BeFalse())
		})

		It("should report a missing keyword", func() {
			_, err := registry.RemoveKeyword(ctx, id, Keyword{Text: "RONA", Tier: TierVariant})
			Expect(errors.Is(err, ErrKeywordNotPresent)).To(BeTrue())
		})

		It("should set indicators", func() {
			rec, err := registry.SetIndicators(ctx, id, []string{"quincaillerie"})
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Indicators).To(Equal([]string{"quincaillerie"}))

			res, ok := resolver.Resolve("Ronna\nquincaillerie")
			Expect(ok).To(BeTrue())
			Expect(res.Tier).To(Equal(TierFuzzy))
		})
	})

	Describe("Remove", func() {
		It("should delete and rebuild", func() {
			added, err := registry.Add(ctx, rona())
			Expect(err).NotTo(HaveOccurred())
			Expect(registry.Remove(ctx, added.ID)).To(Succeed())

			_, ok := resolver.Resolve("RONA")
			Expect(ok).To(BeFalse())
		})

		It("should return ErrNotFound for unknown IDs", func() {
			Expect(errors.Is(registry.Remove(ctx, "missing"), ErrNotFound)).To(BeTrue())
		})
	})

	Describe("SetWeights", func() {
		It("should reject weights out of order", func() {
			err := registry.SetWeights(ctx, Weights{Exact: 0.5, Variant: 0.6, Fuzzy: 0.1})
			Expect(errors.Is(err, ErrInvalidWeights)).To(BeTrue())
		})

		It("should apply new weights to resolutions", func() {
			_, err := registry.Add(ctx, rona())
			Expect(err).NotTo(HaveOccurred())
			Expect(registry.SetWeights(ctx, Weights{Exact: 0.9, Variant: 0.7, Fuzzy: 0.5})).To(Succeed())

			res, _ := resolver.Resolve("RONA")
			Expect(res.Confidence).To(Equal(0.9))
			Expect(registry.Weights(ctx)).To(Equal(Weights{Exact: 0.9, Variant: 0.7, Fuzzy: 0.5}))
		})
	})

	Describe("Import and Export", func() {
		var mapping *Mapping

		BeforeEach(func() {
			mapping = &Mapping{
				Businesses: []MappingBusiness{
					{
						CanonicalName: "rona",
						Keywords:      []MappingKeyword{{Keyword: "RONA", MatchType: TierExact}},
						Indicators:    []string{"quincaillerie"},
					},
					{
						CanonicalName: "home depot",
						Keywords:      []MappingKeyword{{Keyword: "Home Depot", MatchType: TierVariant}},
					},
				},
				ConfidenceWeights: &Weights{Exact: 1, Variant: 0.75, Fuzzy: 0.5},
			}
		})

		It("should load every business and the weights", func() {
			Expect(registry.Import(ctx, mapping, false)).To(Succeed())

			records, err := registry.List(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(2))

			res, ok := resolver.Resolve("HOME DEPOT")
			Expect(ok).To(BeTrue())
			Expect(res.Confidence).To(Equal(0.75))
		})

		It("should update existing businesses by name", func() {
			added, err := registry.Add(ctx, rona())
			Expect(err).NotTo(HaveOccurred())
			Expect(registry.Import(ctx, mapping, false)).To(Succeed())

			rec, err := registry.Get(ctx, added.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.Indicators).To(Equal([]string{"quincaillerie"}))
		})

		It("should keep unlisted businesses when merging", func() {
			_, err := registry.Add(ctx, &Record{CanonicalName: "bmr"})
			Expect(err).NotTo(HaveOccurred())
			Expect(registry.Import(ctx, mapping, false)).To(Succeed())

			records, _ := registry.List(ctx)
			Expect(records).To(HaveLen(3))
		})

		It("should drop unlisted businesses when replacing", func() {
			_, err := registry.Add(ctx, &Record{CanonicalName: "bmr"})
			Expect(err).NotTo(HaveOccurred())
			Expect(registry.Import(ctx, mapping, true)).To(Succeed())

			records, _ := registry.List(ctx)
			Expect(records).To(HaveLen(2))
		})

		It("should reject duplicate names in the mapping", func() {
			mapping.Businesses[1].CanonicalName = "RONA"
			err := registry.Import(ctx, mapping, false)
			Expect(errors.Is(err, ErrDuplicateName)).To(BeTrue())

			records, _ := registry.List(ctx)
			Expect(records).To(BeEmpty())
		})

		It("should reject invalid weights before writing", func() {
			mapping.ConfidenceWeights = &Weights{Exact: 0.5, Variant: 0.5, Fuzzy: 0.5}
			Expect(errors.Is(registry.Import(ctx, mapping, false), ErrInvalidWeights)).To(BeTrue())

			records, _ := registry.List(ctx)
			Expect(records).To(BeEmpty())
		})

		When("the store fails partway through", func() {
			It("should rebuild the index from what was written", func() {
				limited := &saveLimitStore{MemoryStore: NewMemoryStore(), limit: 1, err: errors.New("disk full")}
				limitedResolver := NewResolver(limited, DefaultResolverConfig())
				limitedRegistry := NewRegistryWithDeps(limited, limitedResolver, &sequentialIDs{}, clock)

				err := limitedRegistry.Import(ctx, mapping, false)
				Expect(err).To(MatchError(ContainSubstring("disk full")))

				records, _ := limited.List(ctx)
				Expect(records).To(HaveLen(1))
				Expect(limitedResolver.Generation()).To(Equal(uint64(1)))

				res, ok := limitedResolver.Resolve("RONA Inc.")
				Expect(ok).To(BeTrue())
				Expect(res.CanonicalName).To(Equal("rona"))
			})
		})

		It("should export what was imported", func() {
			Expect(registry.Import(ctx, mapping, false)).To(Succeed())

			exported, err := registry.Export(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(exported.Businesses).To(HaveLen(2))
			Expect(exported.Businesses[0].ID).NotTo(BeEmpty())
			Expect(exported.Businesses[0].Keywords).To(Equal(mapping.Businesses[0].Keywords))
			Expect(*exported.ConfidenceWeights).To(Equal(*mapping.ConfidenceWeights))
		})
	})
})
