package qpack

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Header Field", func() {
	It("says if it is pseudo", func() {
		Expect((HeaderField{Name: ":status"}).IsPseudo()).To(BeTrue())
		Expect((HeaderField{Name: ":authority"}).IsPseudo()).To(BeTrue())
		Expect((HeaderField{Name: ":foobar"}).IsPseudo()).To(BeTrue())
		Expect((HeaderField{Name: "status"}).IsPseudo()).To(BeFalse())
		Expect((HeaderField{Name: "foobar"}).IsPseudo()).To(BeFalse())
		Expect((HeaderField{}).IsPseudo()).To(BeFalse())
	})

	It("calculates the size", func() {
		Expect((HeaderField{}).Size()).To(BeEquivalentTo(32))
		Expect((HeaderField{Name: "foo", Value: "bar"}).Size()).To(BeEquivalentTo(38))
	})

	It("compares name and value", func() {
		Expect(HeaderField{Name: "foo", Value: "bar"}).To(Equal(HeaderField{Name: "foo", Value: "bar"}))
		Expect(HeaderField{Name: "foo", Value: "bar"}).ToNot(Equal(HeaderField{Name: "foo", Value: "baz"}))
	})
})
