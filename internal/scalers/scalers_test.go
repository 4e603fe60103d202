// Copyright ©2024 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package scalers

import (
	"bytes"
	"io"
	"reflect"
	"strings"
	"testing"
)

func TestStream(t *testing.T) {
	recs := []Record{
		{Stamp: 1000, Bits: 0x001, Values: []uint32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}},
		{Stamp: 2000, Bits: 0x800, Values: []uint32{2, 4, 6, 8, 10, 12, 14, 16, 18, 20, 22, 24}},
		{Stamp: 3000, Bits: 0x003, Values: []uint32{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 42}},
	}

	buf := new(bytes.Buffer)
	enc, err := NewEncoder(buf, 12)
	if err != nil {
		t.Fatalf("could not create encoder: %+v", err)
	}
	for i, rec := range recs {
		err = enc.Encode(&rec)
		if err != nil {
			t.Fatalf("could not encode record %d: %+v", i, err)
		}
	}

	dec, err := NewDecoder(buf)
	if err != nil {
		t.Fatalf("could not create decoder: %+v", err)
	}
	if got, want := dec.Header(), (Header{Version: Version, Counters: 12}); got != want {
		t.Fatalf("invalid stream header: got=%v, want=%v", got, want)
	}

	var got Record
	for i, want := range recs {
		err = dec.Decode(&got)
		if err != nil {
			t.Fatalf("could not decode record %d: %+v", i, err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("invalid record %d:\ngot= %v\nwant=%v", i, got, want)
		}
	}

	err = dec.Decode(&got)
	if err != io.EOF {
		t.Fatalf("expected EOF after last record, got: %+v", err)
	}
}

func TestEncodeInvalidRecord(t *testing.T) {
	enc, err := NewEncoder(new(bytes.Buffer), 12)
	if err != nil {
		t.Fatalf("could not create encoder: %+v", err)
	}

	err = enc.Encode(&Record{Values: []uint32{1, 2, 3}})
	if err == nil {
		t.Fatalf("expected an error for a short record")
	}
}

func TestStandaloneRecord(t *testing.T) {
	want := Record{Stamp: 1234, Bits: 0x201, Values: []uint32{7, 8, 9}}
	raw, err := want.MarshalBinary()
	if err != nil {
		t.Fatalf("could not marshal record: %+v", err)
	}

	var got Record
	err = got.UnmarshalBinary(raw)
	if err != nil {
		t.Fatalf("could not unmarshal record: %+v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid record:\ngot= %v\nwant=%v", got, want)
	}

	var rec Record
	_, err = rec.MarshalBinary()
	if err == nil {
		t.Fatalf("expected an error marshaling an empty record")
	}

	err = rec.UnmarshalBinary(raw[:4])
	if err == nil {
		t.Fatalf("expected an error unmarshaling a truncated record")
	}
}

func TestDecodeInvalidHeader(t *testing.T) {
	for _, tc := range []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "empty",
			raw:  "",
			want: "could not read stream header",
		},
		{
			name: "bad-magic",
			raw:  "NOPE\x01\x0c",
			want: "invalid stream magic",
		},
		{
			name: "bad-version",
			raw:  "CT2S\x7f\x0c",
			want: "unknown stream version",
		},
		{
			name: "no-counters",
			raw:  "CT2S\x01\x00",
			want: "invalid number of counters",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewDecoder(strings.NewReader(tc.raw))
			if err == nil {
				t.Fatalf("expected an error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("invalid error: got=%q, want substring %q", err.Error(), tc.want)
			}
		})
	}
}
