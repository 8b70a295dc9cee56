package htsmsg_test

import (
	"bytes"
	"errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/antenna/htsmsg"
)

var _ = Describe("Writer", func() {
	Describe("Encode()", func() {
		It("frames an empty message as a zero length body", func() {
			frame, err := htsmsg.Encode(htsmsg.Message{})
			Expect(err).To(Succeed())
			Expect(frame).To(Equal([]byte{0, 0, 0, 0}))
		})

		It("encodes a string field", func() {
			frame, err := htsmsg.Encode(htsmsg.Message{"method": "hello"})
			Expect(err).To(Succeed())

			expected := []byte{0, 0, 0, 17}
			expected = append(expected, 3, 6, 0, 0, 0, 5)
			expected = append(expected, []byte("methodhello")...)
			Expect(frame).To(Equal(expected))
		})

		It("encodes integers big-endian with leading zeros trimmed", func() {
			frame, err := htsmsg.Encode(htsmsg.Message{"seq": int64(256)})
			Expect(err).To(Succeed())

			expected := []byte{0, 0, 0, 11}
			expected = append(expected, 2, 3, 0, 0, 0, 2)
			expected = append(expected, []byte("seq")...)
			expected = append(expected, 1, 0)
			Expect(frame).To(Equal(expected))
		})

		It("encodes zero as an empty integer payload", func() {
			frame, err := htsmsg.Encode(htsmsg.Message{"epg": int64(0)})
			Expect(err).To(Succeed())

			expected := []byte{0, 0, 0, 9}
			expected = append(expected, 2, 3, 0, 0, 0, 0)
			expected = append(expected, []byte("epg")...)
			Expect(frame).To(Equal(expected))
		})

		It("encodes negative integers as a full 8 byte payload", func() {
			frame, err := htsmsg.Encode(htsmsg.Message{"tz": int64(-1)})
			Expect(err).To(Succeed())

			expected := []byte{0, 0, 0, 16}
			expected = append(expected, 2, 2, 0, 0, 0, 8)
			expected = append(expected, []byte("tz")...)
			expected = append(expected, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff)
			Expect(frame).To(Equal(expected))
		})

		It("writes map fields in lexicographic name order", func() {
			frame, err := htsmsg.Encode(htsmsg.Message{
				"b": "x",
				"a": int64(1),
			})
			Expect(err).To(Succeed())

			expected := []byte{0, 0, 0, 16}
			expected = append(expected, 2, 1, 0, 0, 0, 1, 'a', 1)
			expected = append(expected, 3, 1, 0, 0, 0, 1, 'b', 'x')
			Expect(frame).To(Equal(expected))
		})

		It("refuses values it cannot serialise", func() {
			_, err := htsmsg.Encode(htsmsg.Message{"oops": 1.5})
			Expect(errors.Is(err, htsmsg.ErrUnsupportedValue)).To(BeTrue())
		})
	})

	Describe("Write()", func() {
		It("writes the encoded frame to the writer", func() {
			w := bytes.NewBuffer(nil)

			Expect(htsmsg.Write(w, htsmsg.Message{"method": "hello"})).To(Succeed())

			decoded, err := htsmsg.ReadMessage(w)
			Expect(err).To(Succeed())
			Expect(decoded).To(Equal(htsmsg.Message{"method": "hello"}))
		})
	})

	Describe("round trips", func() {
		It("survives nested maps, lists, blobs and integers", func() {
			original := htsmsg.Message{
				"method":    "channelAdd",
				"channelId": int64(10),
				"digest":    []byte{0xde, 0xad, 0xbe, 0xef},
				"services": []interface{}{
					htsmsg.Message{"name": "South/530/BBC TWO", "type": "SDTV"},
					htsmsg.Message{"name": "South/530/BBC ONE", "type": "SDTV"},
				},
				"tags": []interface{}{int64(1), int64(2)},
			}

			frame, err := htsmsg.Encode(original)
			Expect(err).To(Succeed())

			decoded, err := htsmsg.ReadMessage(bytes.NewReader(frame))
			Expect(err).To(Succeed())
			Expect(decoded).To(Equal(original))
		})
	})
})
