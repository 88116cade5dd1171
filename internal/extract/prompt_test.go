package extract

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("BuildPrompt", func() {
	var (
		schema Schema
		prompt string
	)

	BeforeEach(func() {
		schema = ContactSchema()
	})

	JustBeforeEach(func() {
		prompt = BuildPrompt(schema)
	})

	It("is deterministic for the same schema", func() {
		Expect(BuildPrompt(schema)).To(Equal(prompt))
	})

	It("names every schema field", func() {
		for _, f := range schema {
			Expect(prompt).To(ContainSubstring(`"` + f.Key + `"`))
		}
	})

	It("includes every field description", func() {
		for _, f := range schema {
			Expect(prompt).To(ContainSubstring(f.Description))
		}
	})

	It("asks for a machine-parseable JSON object", func() {
		Expect(prompt).To(ContainSubstring("JSON object"))
	})

	It("instructs the model to use empty strings rather than inventing data", func() {
		Expect(prompt).To(ContainSubstring(`empty string ""`))
		Expect(prompt).To(ContainSubstring("Never invent data"))
	})

	It("forbids markdown code blocks", func() {
		Expect(prompt).To(ContainSubstring("Do not use markdown code blocks"))
	})

	When("the schema has different fields", func() {
		BeforeEach(func() {
			schema = Schema{
				{Key: "fax", Description: "the fax number"},
			}
		})

		It("only names those fields", func() {
			Expect(prompt).To(ContainSubstring(`"fax"`))
			Expect(prompt).NotTo(ContainSubstring(`"email"`))
		})
	})
})
