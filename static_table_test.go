package qpack

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("StaticTable", func() {
	It("has 99 entries", func() {
		Expect(staticTableEntries).To(HaveLen(99))
		Expect(staticTableEntries[0]).To(Equal(HeaderField{Name: ":authority"}))
		Expect(staticTableEntries[27]).To(Equal(HeaderField{Name: ":status", Value: "404"}))
		Expect(staticTableEntries[85]).To(Equal(HeaderField{
			Name:  "content-security-policy",
			Value: "script-src 'none'; object-src 'none'; base-uri 'none'",
		}))
		Expect(staticTableEntries[98]).To(Equal(HeaderField{Name: "x-frame-options", Value: "sameorigin"}))
	})

	It("verifies that encoderMap has a value for every staticTableEntries entry", func() {
		for idx, hf := range staticTableEntries {
			iv, ok := encoderMap[hf.Name]
			Expect(ok).To(BeTrue())
			Expect(staticTableEntries[iv.idx].Name).To(Equal(hf.Name))
			Expect(iv.idx).To(BeNumerically("<=", idx))
			Expect(iv.values).To(HaveKeyWithValue(hf.Value, uint8(idx)))
		}
	})

	It("verifies that staticTableEntries has a value for every encoderMap entry", func() {
		for name, indexAndVal := range encoderMap {
			Expect(staticTableEntries[indexAndVal.idx].Name).To(Equal(name))
			for value, id := range indexAndVal.values {
				Expect(staticTableEntries[id].Name).To(Equal(name))
				Expect(staticTableEntries[id].Value).To(Equal(value))
			}
		}
	})

	It("finds exact matches", func() {
		idx, exact, found := staticLookup(HeaderField{Name: ":method", Value: "POST"})
		Expect(found).To(BeTrue())
		Expect(exact).To(BeTrue())
		Expect(idx).To(BeEquivalentTo(20))
		idx, exact, found = staticLookup(HeaderField{Name: ":authority"})
		Expect(found).To(BeTrue())
		Expect(exact).To(BeTrue())
		Expect(idx).To(BeZero())
	})

	It("returns the first name match", func() {
		idx, exact, found := staticLookup(HeaderField{Name: ":method", Value: "PATCH"})
		Expect(found).To(BeTrue())
		Expect(exact).To(BeFalse())
		Expect(idx).To(BeEquivalentTo(15))
		idx, exact, found = staticLookup(HeaderField{Name: ":status", Value: "418"})
		Expect(found).To(BeTrue())
		Expect(exact).To(BeFalse())
		Expect(idx).To(BeEquivalentTo(24))
	})

	It("doesn't find unknown names", func() {
		_, _, found := staticLookup(HeaderField{Name: "foobar", Value: "lorem ipsum"})
		Expect(found).To(BeFalse())
		// names are case sensitive
		_, _, found = staticLookup(HeaderField{Name: "Content-Type", Value: "text/css"})
		Expect(found).To(BeFalse())
	})
})
