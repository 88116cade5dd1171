package card

import (
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"cardscan/internal/batch"
	"cardscan/internal/extract"
)

var _ = Describe("BoltDB", func() {
	var db *BoltDB

	BeforeEach(func() {
		path := filepath.Join(GinkgoT().TempDir(), "test.db")
		var err error
		db, err = NewBoltDB(path)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		Expect(db.Close()).To(Succeed())
	})

	Describe("SaveBatch and GetBatch", func() {
		It("round-trips a batch", func() {
			b := &Batch{
				ID:     "batch-1",
				Status: StatusPending,
				Items: []ImageItem{
					{ID: "img-1", Filename: "alice.jpg", MimeType: "image/jpeg", StoredName: "img-1_alice.jpg", Size: 7},
				},
				CreatedAt: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
				UpdatedAt: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
			}
			Expect(db.SaveBatch(b)).To(Succeed())

			got, err := db.GetBatch("batch-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(b))
		})

		It("round-trips processed outcomes", func() {
			b := &Batch{
				ID:     "batch-1",
				Status: StatusComplete,
				Items:  []ImageItem{{ID: "img-1"}, {ID: "img-2"}},
				Outcomes: batch.Result{
					{SourceImageID: "img-1", Filename: "alice.jpg", Record: &extract.Record{SourceImageID: "img-1", Name: "Alice"}},
					{SourceImageID: "img-2", Filename: "bob.jpg", ErrorKind: "timeout", Message: "deadline exceeded"},
				},
			}
			Expect(db.SaveBatch(b)).To(Succeed())

			got, err := db.GetBatch("batch-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Outcomes).To(HaveLen(2))
			Expect(got.Outcomes[0].Record.Name).To(Equal("Alice"))
			Expect(got.Outcomes[1].ErrorKind).To(Equal("timeout"))
		})

		It("overwrites on save with the same ID", func() {
			b := &Batch{ID: "batch-1", Status: StatusPending}
			Expect(db.SaveBatch(b)).To(Succeed())

			b.Status = StatusComplete
			Expect(db.SaveBatch(b)).To(Succeed())

			got, err := db.GetBatch("batch-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(got.Status).To(Equal(StatusComplete))
		})

		It("returns an error for a missing batch", func() {
			_, err := db.GetBatch("nonexistent")
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("batch not found"))
		})
	})

	Describe("ListBatches", func() {
		It("returns an empty slice when there are no batches", func() {
			batches, err := db.ListBatches()
			Expect(err).NotTo(HaveOccurred())
			Expect(batches).To(BeEmpty())
			Expect(batches).NotTo(BeNil())
		})

		It("returns every saved batch", func() {
			Expect(db.SaveBatch(&Batch{ID: "batch-1"})).To(Succeed())
			Expect(db.SaveBatch(&Batch{ID: "batch-2"})).To(Succeed())

			batches, err := db.ListBatches()
			Expect(err).NotTo(HaveOccurred())
			Expect(batches).To(HaveLen(2))
		})
	})

	Describe("DeleteBatch", func() {
		It("removes a batch", func() {
			Expect(db.SaveBatch(&Batch{ID: "batch-1"})).To(Succeed())
			Expect(db.DeleteBatch("batch-1")).To(Succeed())

			_, err := db.GetBatch("batch-1")
			Expect(err).To(HaveOccurred())
		})

		It("is a no-op for a missing batch", func() {
			Expect(db.DeleteBatch("nonexistent")).To(Succeed())
		})
	})
})
