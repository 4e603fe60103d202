// Copyright ©2024 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package scalers describes and handles the binary stream of latched
// counter values recorded during CT2 acquisitions.
//
// A stream starts with a small header (magic, version, number of
// counters per record) followed by fixed-size records: the capture
// time, the interrupt bits that triggered the capture and the latched
// counter values.
package scalers // import "github.com/go-daq/ct2/internal/scalers"

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// Version is the stream format version this package writes.
	Version = 1

	hdrSize = 6 // magic + version + counters
)

var magic = [4]byte{'C', 'T', '2', 'S'}

// Header describes one scaler stream.
type Header struct {
	Version  uint8
	Counters uint8 // counter values per record
}

// Record is one capture of the latched counters.
type Record struct {
	Stamp  int64  // capture time, ns since the Unix epoch
	Bits   uint32 // interrupt bits that triggered the capture
	Values []uint32
}

// Encoder writes scaler records to an output stream.
type Encoder struct {
	w   io.Writer
	hdr Header
	buf []byte
}

// NewEncoder writes the stream header for records of the given number
// of counters to w and returns an encoder for the records.
func NewEncoder(w io.Writer, counters int) (*Encoder, error) {
	if counters <= 0 || counters > 255 {
		return nil, fmt.Errorf("scalers: invalid number of counters %d", counters)
	}

	var hdr [hdrSize]byte
	copy(hdr[:], magic[:])
	hdr[4] = Version
	hdr[5] = uint8(counters)
	_, err := w.Write(hdr[:])
	if err != nil {
		return nil, fmt.Errorf("scalers: could not write stream header: %w", err)
	}

	enc := &Encoder{
		w:   w,
		hdr: Header{Version: Version, Counters: uint8(counters)},
		buf: make([]byte, recSize(counters)),
	}
	return enc, nil
}

// Header returns the header of the stream under encoding.
func (enc *Encoder) Header() Header { return enc.hdr }

// Encode appends one record to the stream.
func (enc *Encoder) Encode(rec *Record) error {
	if len(rec.Values) != int(enc.hdr.Counters) {
		return fmt.Errorf("scalers: invalid record size: got %d values, want %d",
			len(rec.Values), enc.hdr.Counters,
		)
	}

	buf := enc.buf
	binary.LittleEndian.PutUint64(buf[0:8], uint64(rec.Stamp))
	binary.LittleEndian.PutUint32(buf[8:12], rec.Bits)
	for i, v := range rec.Values {
		binary.LittleEndian.PutUint32(buf[12+4*i:], v)
	}

	_, err := enc.w.Write(buf)
	if err != nil {
		return fmt.Errorf("scalers: could not write record: %w", err)
	}
	return nil
}

// Decoder reads scaler records from an input stream.
type Decoder struct {
	r   io.Reader
	hdr Header
	buf []byte
}

// NewDecoder reads the stream header from r and returns a decoder for
// the records that follow.
func NewDecoder(r io.Reader) (*Decoder, error) {
	var hdr [hdrSize]byte
	_, err := io.ReadFull(r, hdr[:])
	if err != nil {
		return nil, fmt.Errorf("scalers: could not read stream header: %w", err)
	}
	if [4]byte{hdr[0], hdr[1], hdr[2], hdr[3]} != magic {
		return nil, fmt.Errorf("scalers: invalid stream magic %q", hdr[:4])
	}
	if hdr[4] != Version {
		return nil, fmt.Errorf("scalers: unknown stream version %d", hdr[4])
	}
	if hdr[5] == 0 {
		return nil, fmt.Errorf("scalers: invalid number of counters %d", hdr[5])
	}

	dec := &Decoder{
		r:   r,
		hdr: Header{Version: hdr[4], Counters: hdr[5]},
		buf: make([]byte, recSize(int(hdr[5]))),
	}
	return dec, nil
}

// Header returns the header of the stream under decoding.
func (dec *Decoder) Header() Header { return dec.hdr }

// Decode reads the next record into rec, growing rec.Values as
// needed.  It returns io.EOF at the end of the stream.
func (dec *Decoder) Decode(rec *Record) error {
	_, err := io.ReadFull(dec.r, dec.buf)
	switch {
	case err == io.EOF:
		return io.EOF
	case err != nil:
		return fmt.Errorf("scalers: could not read record: %w", err)
	}

	buf := dec.buf
	rec.Stamp = int64(binary.LittleEndian.Uint64(buf[0:8]))
	rec.Bits = binary.LittleEndian.Uint32(buf[8:12])

	n := int(dec.hdr.Counters)
	if cap(rec.Values) < n {
		rec.Values = make([]uint32, n)
	}
	rec.Values = rec.Values[:n]
	for i := range rec.Values {
		rec.Values[i] = binary.LittleEndian.Uint32(buf[12+4*i:])
	}
	return nil
}

func recSize(counters int) int {
	return 8 + 4 + 4*counters
}

// MarshalBinary encodes one standalone record, prefixed with its
// number of counter values.
func (rec *Record) MarshalBinary() ([]byte, error) {
	if n := len(rec.Values); n == 0 || n > 255 {
		return nil, fmt.Errorf("scalers: invalid number of counters %d", n)
	}

	buf := make([]byte, 1+recSize(len(rec.Values)))
	buf[0] = uint8(len(rec.Values))
	binary.LittleEndian.PutUint64(buf[1:9], uint64(rec.Stamp))
	binary.LittleEndian.PutUint32(buf[9:13], rec.Bits)
	for i, v := range rec.Values {
		binary.LittleEndian.PutUint32(buf[13+4*i:], v)
	}
	return buf, nil
}

// UnmarshalBinary decodes a standalone record produced by
// MarshalBinary.
func (rec *Record) UnmarshalBinary(buf []byte) error {
	if len(buf) < 1 {
		return fmt.Errorf("scalers: record too short")
	}
	n := int(buf[0])
	if n == 0 || len(buf) != 1+recSize(n) {
		return fmt.Errorf("scalers: invalid record length %d", len(buf))
	}

	rec.Stamp = int64(binary.LittleEndian.Uint64(buf[1:9]))
	rec.Bits = binary.LittleEndian.Uint32(buf[9:13])
	if cap(rec.Values) < n {
		rec.Values = make([]uint32, n)
	}
	rec.Values = rec.Values[:n]
	for i := range rec.Values {
		rec.Values[i] = binary.LittleEndian.Uint32(buf[13+4*i:])
	}
	return nil
}
