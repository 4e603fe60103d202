// Copyright ©2024 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package card

import (
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"testing"
)

func TestServerFail(t *testing.T) {
	reg := NewRegistry(quiet())
	err := Serve(":invalid", reg, "p201-0")
	if err == nil {
		t.Fatal("expected an error")
	}
}

func TestServer(t *testing.T) {
	reg := NewRegistry(quiet())
	dev, err := reg.Attach(newFakeBus(P201))
	if err != nil {
		t.Fatalf("could not attach card: %+v", err)
	}
	t.Cleanup(func() { _ = reg.Close() })

	srv, err := newServer("127.0.0.1:0", reg, dev.Name())
	if err != nil {
		t.Fatalf("could not create control server: %+v", err)
	}
	srv.msg = quietLogger()
	go func() { _ = srv.serve() }()
	t.Cleanup(srv.close)

	conn, err := net.Dial("tcp", srv.ctl.Addr().String())
	if err != nil {
		t.Fatalf("could not dial control server: %+v", err)
	}
	defer conn.Close()

	dec := json.NewDecoder(conn)

	type reply struct {
		Msg  string          `json:"msg"`
		Data json.RawMessage `json:"data"`
	}

	send := func(req string) reply {
		t.Helper()
		_, err := conn.Write([]byte(req))
		if err != nil {
			t.Fatalf("could not send request %s: %+v", req, err)
		}
		var rep reply
		err = dec.Decode(&rep)
		if err != nil {
			t.Fatalf("could not decode reply to %s: %+v", req, err)
		}
		return rep
	}

	if rep := send(`{"name": "grant"}`); rep.Msg != "ok" {
		t.Fatalf("could not grant: %q", rep.Msg)
	}

	rep := send(fmt.Sprintf(
		`{"name": "write", "args": {"off": %d, "values": [1, 2, 3]}}`,
		RegLen1+RegConfCmpt,
	))
	if rep.Msg != "ok" {
		t.Fatalf("could not write: %q", rep.Msg)
	}
	var n int
	if err := json.Unmarshal(rep.Data, &n); err != nil || n != 3 {
		t.Fatalf("invalid write reply: n=%d err=%+v", n, err)
	}

	rep = send(fmt.Sprintf(
		`{"name": "read", "args": {"off": %d, "n": 3}}`,
		RegLen1+RegConfCmpt,
	))
	if rep.Msg != "ok" {
		t.Fatalf("could not read: %q", rep.Msg)
	}
	var vals []uint32
	if err := json.Unmarshal(rep.Data, &vals); err != nil {
		t.Fatalf("invalid read reply: %+v", err)
	}
	if got, want := fmt.Sprint(vals), "[1 2 3]"; got != want {
		t.Fatalf("invalid read values: got=%s, want=%s", got, want)
	}

	// reading the interrupt status register is out of bounds
	rep = send(fmt.Sprintf(`{"name": "read", "args": {"off": %d, "n": 1}}`, RegCtrlIt))
	if !strings.Contains(rep.Msg, "out of bounds") {
		t.Fatalf("invalid error reply: %q", rep.Msg)
	}

	rep = send(`{"name": "read", "args": {"off": 0, "n": 0}}`)
	if !strings.Contains(rep.Msg, "invalid register count") {
		t.Fatalf("invalid error reply: %q", rep.Msg)
	}

	rep = send(`{"name": "status"}`)
	if rep.Msg != "ok" {
		t.Fatalf("could not get status: %q", rep.Msg)
	}
	var info Info
	if err := json.Unmarshal(rep.Data, &info); err != nil {
		t.Fatalf("invalid status reply: %+v", err)
	}
	if got, want := info.Name, dev.Name(); got != want {
		t.Fatalf("invalid status name: got=%q, want=%q", got, want)
	}
	if !info.Exclusive {
		t.Fatalf("status misses the granted token")
	}

	if rep := send(`{"name": "revoke"}`); rep.Msg != "ok" {
		t.Fatalf("could not revoke: %q", rep.Msg)
	}

	if rep := send(`{"name": "frobnicate"}`); !strings.Contains(rep.Msg, "unknown command") {
		t.Fatalf("invalid error reply: %q", rep.Msg)
	}

	// missing payload
	if rep := send(`{"name": "enable-int"}`); !strings.Contains(rep.Msg, "missing") {
		t.Fatalf("invalid error reply: %q", rep.Msg)
	}
}
