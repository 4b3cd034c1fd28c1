package self

import (
	"bytes"
	"fmt"
	"io"

	"golang.org/x/exp/rand"

	"github.com/marcreichelt/qpack"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func randomString(l int) string {
	const charset = "abcdefghijklmnopqrstuvwxyz" +
		"ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789-_/;= "
	s := make([]byte, l)
	for i := range s {
		s[i] = charset[rand.Intn(len(charset))]
	}
	return string(s)
}

func decodeAll(decoder *qpack.Decoder, data []byte) []qpack.HeaderField {
	decode := decoder.Decode(data)
	var hfs []qpack.HeaderField
	for {
		hf, err := decode()
		if err == io.EOF {
			return hfs
		}
		ExpectWithOffset(1, err).ToNot(HaveOccurred())
		hfs = append(hfs, hf)
	}
}

var _ = Describe("Self Tests", func() {
	var (
		// for the encoder
		output  *bytes.Buffer
		encoder *qpack.Encoder
		// for the decoder
		decoder *qpack.Decoder
	)

	BeforeEach(func() {
		output = &bytes.Buffer{}
		encoder = qpack.NewEncoder(output)
		decoder = qpack.NewDecoder()
	})

	It("encodes and decodes a single header", func() {
		hf := qpack.HeaderField{Name: "foo", Value: "bar"}
		Expect(encoder.WriteField(hf)).To(Succeed())
		Expect(encoder.Close()).To(Succeed())
		Expect(decodeAll(decoder, output.Bytes())).To(Equal([]qpack.HeaderField{hf}))
	})

	It("encodes and decodes multiple headers", func() {
		var hfs []qpack.HeaderField
		for range 100 {
			hf := qpack.HeaderField{Name: randomString(1 + rand.Intn(20)), Value: randomString(rand.Intn(100))}
			hfs = append(hfs, hf)
			Expect(encoder.WriteField(hf)).To(Succeed())
		}
		Expect(encoder.Close()).To(Succeed())
		Expect(decodeAll(decoder, output.Bytes())).To(Equal(hfs))
	})

	It("encodes and decodes large headers", func() {
		hf := qpack.HeaderField{Name: randomString(1000), Value: randomString(100000)}
		Expect(encoder.WriteField(hf)).To(Succeed())
		Expect(encoder.Close()).To(Succeed())
		Expect(decodeAll(decoder, output.Bytes())).To(Equal([]qpack.HeaderField{hf}))
	})

	It("encodes and decodes all entries of the static table", func() {
		for _, hf := range staticTable {
			Expect(encoder.WriteField(hf)).To(Succeed())
		}
		Expect(encoder.Close()).To(Succeed())
		// every field is a single byte indexed field line
		Expect(output.Len()).To(BeNumerically("<=", 2+len(staticTable)*2))
		Expect(decodeAll(decoder, output.Bytes())).To(Equal(staticTable))
	})

	It("encodes and decodes static names with custom values", func() {
		var hfs []qpack.HeaderField
		for range 50 {
			hf := staticTable[rand.Intn(len(staticTable))]
			hf.Value = randomString(rand.Intn(50))
			hfs = append(hfs, hf)
			Expect(encoder.WriteField(hf)).To(Succeed())
		}
		Expect(encoder.Close()).To(Succeed())
		Expect(decodeAll(decoder, output.Bytes())).To(Equal(hfs))
	})

	for _, conf := range []qpack.EncoderConfig{
		{MaxDynamicTableCapacity: 64, AcknowledgementMode: qpack.AcknowledgementImmediate},
		{MaxDynamicTableCapacity: 300, MaxBlockedStreams: 2},
		{MaxDynamicTableCapacity: 4096, MaxBlockedStreams: 16},
		{MaxDynamicTableCapacity: 16384, AcknowledgementMode: qpack.AcknowledgementImmediate},
	} {
		Context(fmt.Sprintf("using a dynamic table with capacity %d, %d blocked streams, acknowledgement mode %s", conf.MaxDynamicTableCapacity, conf.MaxBlockedStreams, conf.AcknowledgementMode), func() {
			var encoderStream *bytes.Buffer

			BeforeEach(func() {
				encoderStream = &bytes.Buffer{}
				encoder = qpack.NewEncoder(output, qpack.WithConfig(conf), qpack.WithEncoderStream(encoderStream))
				decoder = qpack.NewDecoder(qpack.WithMaxTableCapacity(conf.MaxDynamicTableCapacity))
			})

			It("encodes and decodes many field sections", func() {
				names := make([]string, 10)
				values := make([]string, 20)
				for i := range names {
					names[i] = randomString(1 + rand.Intn(15))
				}
				for i := range values {
					values[i] = randomString(rand.Intn(30))
				}

				for i := range 500 {
					streamID := uint64(4 * i)
					hfs := make([]qpack.HeaderField, 1+rand.Intn(10))
					for j := range hfs {
						hfs[j] = qpack.HeaderField{Name: names[rand.Intn(len(names))], Value: values[rand.Intn(len(values))]}
					}
					prefix, lines, err := encoder.EncodeFieldSection(streamID, hfs)
					Expect(err).ToNot(HaveOccurred())
					Expect(decoder.HandleEncoderInstructions(encoderStream.Bytes())).To(Succeed())
					encoderStream.Reset()
					Expect(decodeAll(decoder, append(prefix, lines...))).To(Equal(hfs))
					Expect(decoder.InsertCount()).To(Equal(encoder.InsertCount()))
					Expect(uint64(encoder.BlockedStreams())).To(BeNumerically("<=", conf.MaxBlockedStreams))

					if prefix[0] != 0 && rand.Intn(3) > 0 {
						Expect(encoder.SectionAcknowledged(streamID)).To(Succeed())
					}
				}
			})

			It("decodes field sections that arrive before the encoder instructions", func() {
				if conf.AcknowledgementMode == qpack.AcknowledgementImmediate && conf.MaxDynamicTableCapacity < 1024 {
					Skip("entries are evicted before the field sections are decoded")
				}
				type section struct {
					hfs  []qpack.HeaderField
					data []byte
				}
				var sections []section
				for i := range 10 {
					hfs := []qpack.HeaderField{
						{Name: ":authority", Value: "quic.example"},
						{Name: "x-request-id", Value: fmt.Sprintf("%d", i%3)},
					}
					prefix, lines, err := encoder.EncodeFieldSection(uint64(4*i), hfs)
					Expect(err).ToNot(HaveOccurred())
					sections = append(sections, section{hfs: hfs, data: append(prefix, lines...)})
				}
				for _, s := range sections {
					decode := decoder.Decode(s.data)
					hf, err := decode()
					if err != nil {
						Expect(err).To(MatchError(qpack.ErrBlocked))
						continue
					}
					Expect(hf).To(Equal(s.hfs[0]))
				}
				Expect(decoder.HandleEncoderInstructions(encoderStream.Bytes())).To(Succeed())
				for _, s := range sections {
					Expect(decodeAll(decoder, s.data)).To(Equal(s.hfs))
				}
			})
		})
	}
})
