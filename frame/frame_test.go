package frame

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	long := bytes.Repeat([]byte{0x11}, 600)
	zeros := make([]byte, 300)

	tests := []struct {
		name    string
		payload []byte
	}{
		{"single byte", []byte{0x01}},
		{"zero byte", []byte{0x00}},
		{"mixed", []byte{0x00, 0x01, 0x00, 0x00, 0xFF, 0x02}},
		{"exactly one block", bytes.Repeat([]byte{0xAB}, 254)},
		{"long run", long},
		{"all zeros", zeros},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc := Encode(tt.payload)
			require.NotEmpty(t, enc)
			assert.Equal(t, byte(Delimiter), enc[len(enc)-1])
			assert.NotContains(t, enc[:len(enc)-1], byte(Delimiter), "stuffed body contains a delimiter")

			got, err := Decode(enc)
			require.NoError(t, err)
			assert.Equal(t, tt.payload, got)
		})
	}
}

func TestDecodeRejectsBitFlips(t *testing.T) {
	enc := Encode([]byte{0x03, 0x00, 0x80, 0x00, 0x00, 0xDE, 0xAD, 0xBE, 0xEF, 0x00, 0x01})
	body := enc[:len(enc)-1]

	for i := range body {
		for bit := 0; bit < 8; bit++ {
			flipped := append([]byte(nil), body...)
			flipped[i] ^= 1 << bit
			_, err := Decode(flipped)
			assert.Error(t, err, "flip of bit %d in byte %d was accepted", bit, i)
		}
	}
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode([]byte{0x02, 0x01})
	assert.ErrorIs(t, err, ErrTruncated)

	_, err = Decode([]byte{0x05, 0x01})
	assert.ErrorIs(t, err, ErrCorrupt)

	enc := Encode([]byte{0x01, 0x02, 0x03})
	enc[1] ^= 0x40
	_, err = Decode(enc)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestAccumulator(t *testing.T) {
	acc := NewAccumulator(64)
	stream := append(Encode([]byte{0x01, 0x02}), Encode([]byte{0x00, 0x07})...)

	var frames [][]byte
	for _, b := range stream {
		payload, err := acc.Push(b)
		require.NoError(t, err)
		if payload != nil {
			frames = append(frames, payload)
		}
	}
	assert.Equal(t, [][]byte{{0x01, 0x02}, {0x00, 0x07}}, frames)
	assert.Zero(t, acc.Pending())
}

func TestAccumulatorOverfillResyncs(t *testing.T) {
	acc := NewAccumulator(8)

	var errs []error
	var frames [][]byte
	stream := append(Encode(bytes.Repeat([]byte{0x01}, 20)), Encode([]byte{0x09})...)
	for _, b := range stream {
		payload, err := acc.Push(b)
		if err != nil {
			errs = append(errs, err)
		}
		if payload != nil {
			frames = append(frames, payload)
		}
	}
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrOverfill)
	assert.Equal(t, [][]byte{{0x09}}, frames)
}

func TestAccumulatorDropsCorruptFrame(t *testing.T) {
	acc := NewAccumulator(0)
	bad := Encode([]byte{0x01, 0x02, 0x03})
	bad[2] ^= 0x01

	var lastErr error
	for _, b := range bad {
		_, err := acc.Push(b)
		if err != nil {
			lastErr = err
		}
	}
	assert.ErrorIs(t, lastErr, ErrCorrupt)

	var got []byte
	for _, b := range Encode([]byte{0x04}) {
		payload, err := acc.Push(b)
		require.NoError(t, err)
		if payload != nil {
			got = payload
		}
	}
	assert.Equal(t, []byte{0x04}, got)
}

func TestReader(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(Encode([]byte{0x01}))
	buf.Write(Encode([]byte{0x02, 0x00}))
	buf.Write(Encode([]byte{0x03})[:2])

	r := NewReader(&buf, 0)
	got, err := r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01}, got)

	got, err = r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02, 0x00}, got)

	_, err = r.ReadFrame()
	assert.ErrorIs(t, err, ErrTruncated)

	_, err = r.ReadFrame()
	assert.Equal(t, io.EOF, err)
}

func TestEncodedSize(t *testing.T) {
	for _, n := range []int{1, 249, 250, 251, 2048, 5000} {
		noZeros := bytes.Repeat([]byte{0x7F}, n)
		assert.LessOrEqual(t, len(Encode(noZeros))-1, EncodedSize(n), "payload of %d bytes", n)
		assert.LessOrEqual(t, len(Encode(make([]byte, n)))-1, EncodedSize(n), "payload of %d zeros", n)
	}
}

func TestReaderSetMax(t *testing.T) {
	var buf bytes.Buffer
	big := bytes.Repeat([]byte{0x42}, 100)
	buf.Write(Encode(big))
	buf.Write(Encode(big))

	r := NewReader(&buf, 64)
	_, err := r.ReadFrame()
	assert.ErrorIs(t, err, ErrOverfill)

	r.SetMax(EncodedSize(len(big)))
	got, err := r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, big, got)
}
