// Copyright ©2024 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package card

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strings"
)

// server exposes one device of a registry over a JSON-over-TCP
// control connection.  Each connection runs its own session.
type server struct {
	ctl net.Listener
	msg *log.Logger

	reg  *Registry
	name string
}

// Serve listens on addr and serves control sessions for the device
// registered under name in reg.
func Serve(addr string, reg *Registry, name string) error {
	srv, err := newServer(addr, reg, name)
	if err != nil {
		return fmt.Errorf("ct2: could not create control server: %w", err)
	}
	return srv.serve()
}

func newServer(addr string, reg *Registry, name string) (*server, error) {
	ctl, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("ct2: could not listen on %q: %w", addr, err)
	}

	srv := &server{
		ctl:  ctl,
		msg:  log.New(os.Stdout, "ct2-srv: ", 0),
		reg:  reg,
		name: name,
	}
	return srv, nil
}

func (srv *server) serve() error {
	defer srv.close()

	for {
		conn, err := srv.ctl.Accept()
		if err != nil {
			return fmt.Errorf("ct2: could not accept connection: %w", err)
		}

		err = srv.handle(conn)
		if err != nil {
			srv.msg.Printf("could not serve %v: %+v", conn.RemoteAddr(), err)
			continue
		}
	}
}

func (srv *server) handle(conn net.Conn) error {
	defer conn.Close()
	srv.msg.Printf("serving %v...", conn.RemoteAddr())
	defer srv.msg.Printf("serving %v... [done]", conn.RemoteAddr())

	dev, ok := srv.reg.Device(srv.name)
	if !ok {
		err := fmt.Errorf("ct2: no device %q in registry", srv.name)
		srv.reply(conn, err)
		return err
	}

	dcc, err := dev.Open()
	if err != nil {
		srv.reply(conn, err)
		return fmt.Errorf("ct2: could not open session on %q: %w", srv.name, err)
	}
	defer dcc.Close()

	ctx := context.Background()

loop:
	for {
		var req struct {
			Name string           `json:"name"`
			Args *json.RawMessage `json:"args"`
		}

		err = json.NewDecoder(conn).Decode(&req)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break loop
			}
			srv.msg.Printf("could not decode command request: %+v", err)
			srv.reply(conn, err)
			continue
		}
		srv.msg.Printf("received request: name=%q", req.Name)

		switch strings.ToLower(req.Name) {
		case "grant":
			srv.reply(conn, dcc.Grant(ctx))

		case "revoke":
			srv.reply(conn, dcc.Revoke(ctx))

		case "reset":
			srv.reply(conn, dcc.Reset(ctx))

		case "enable-int":
			var args struct {
				Capacity int `json:"capacity"`
			}
			err = srv.decode(conn, req.Name, req.Args, &args)
			if err != nil {
				continue
			}
			srv.reply(conn, dcc.EnableInterrupts(ctx, args.Capacity))

		case "disable-int":
			srv.reply(conn, dcc.DisableInterrupts(ctx))

		case "ack":
			nt, err := dcc.AckInterrupt(ctx)
			srv.replyData(conn, err, map[string]interface{}{
				"bits":  nt.Bits,
				"stamp": nt.Stamp,
			})

		case "read":
			var args struct {
				Off int64 `json:"off"`
				N   int   `json:"n"`
			}
			err = srv.decode(conn, req.Name, req.Args, &args)
			if err != nil {
				continue
			}
			if args.N <= 0 || args.N > RegLen+FifoLen {
				srv.reply(conn, fmt.Errorf("invalid register count %d", args.N))
				continue
			}
			buf := make([]uint32, args.N)
			n, err := dcc.ReadRegs(ctx, args.Off, buf)
			srv.replyData(conn, err, buf[:n])

		case "write":
			var args struct {
				Off    int64    `json:"off"`
				Values []uint32 `json:"values"`
			}
			err = srv.decode(conn, req.Name, req.Args, &args)
			if err != nil {
				continue
			}
			n, err := dcc.WriteRegs(ctx, args.Off, args.Values)
			srv.replyData(conn, err, n)

		case "status":
			srv.replyData(conn, nil, dev.Info())

		default:
			srv.msg.Printf("unknown command name=%q", req.Name)
			srv.reply(conn, fmt.Errorf("unknown command %q", req.Name))
			continue
		}
	}

	return nil
}

func (srv *server) decode(conn net.Conn, name string, raw *json.RawMessage, dst interface{}) error {
	if raw == nil {
		err := fmt.Errorf("missing %q payload", name)
		srv.reply(conn, err)
		return err
	}
	err := json.Unmarshal(*raw, dst)
	if err != nil {
		srv.msg.Printf("could not decode %q payload: %+v", name, err)
		srv.reply(conn, err)
		return err
	}
	return nil
}

func (srv *server) reply(conn net.Conn, err error) {
	srv.replyData(conn, err, nil)
}

func (srv *server) replyData(conn net.Conn, err error, data interface{}) {
	rep := struct {
		Msg  string      `json:"msg"`
		Data interface{} `json:"data,omitempty"`
	}{Msg: "ok", Data: data}
	if err != nil {
		rep.Msg = fmt.Sprintf("%+v", err)
		rep.Data = nil
	}

	_ = json.NewEncoder(conn).Encode(rep)
}

func (srv *server) close() {
	_ = srv.ctl.Close()
}
