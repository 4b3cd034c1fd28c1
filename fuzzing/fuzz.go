package qpack

import (
	"bytes"
	"fmt"
	"io"
	"reflect"

	"github.com/marcreichelt/qpack"
)

const tableCapacity = 256

func Fuzz(data []byte) int {
	decoder := qpack.NewDecoder()
	decode := decoder.Decode(data)
	var fields []qpack.HeaderField
	for {
		hf, err := decode()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0
		}
		fields = append(fields, hf)
	}
	if len(fields) == 0 {
		return 0
	}

	// encode the fields twice, so that the second section references the dynamic table
	var encoderStream bytes.Buffer
	encoder := qpack.NewEncoder(io.Discard,
		qpack.WithConfig(qpack.EncoderConfig{
			MaxDynamicTableCapacity: tableCapacity,
			MaxBlockedStreams:       1,
		}),
		qpack.WithEncoderStream(&encoderStream),
	)
	decoder2 := qpack.NewDecoder(qpack.WithMaxTableCapacity(tableCapacity))
	for streamID := uint64(0); streamID < 2; streamID++ {
		prefix, lines, err := encoder.EncodeFieldSection(streamID, fields)
		if err != nil {
			panic(err)
		}
		if err := decoder2.HandleEncoderInstructions(encoderStream.Bytes()); err != nil {
			panic(err)
		}
		encoderStream.Reset()

		decode2 := decoder2.Decode(append(prefix, lines...))
		var encodedFields []qpack.HeaderField
		for {
			hf, err := decode2()
			if err == io.EOF {
				break
			}
			if err != nil {
				fmt.Printf("Fields: %#v\n", fields)
				panic(err)
			}
			encodedFields = append(encodedFields, hf)
		}
		if !reflect.DeepEqual(fields, encodedFields) {
			fmt.Printf("%#v vs %#v", fields, encodedFields)
			panic("unequal")
		}
	}
	return 0
}
