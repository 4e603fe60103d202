// Copyright ©2024 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package daq exposes CT2 counter/timer cards as a TDAQ data source.
//
// A Server drives one or more cards through the usual run-control
// state machine (/config, /init, /start, ...) and publishes the
// latched counter values of each acquisition as scaler records on its
// /scalers output end-point.
package daq // import "github.com/go-daq/ct2/daq"

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-daq/ct2/card"
	"github.com/go-daq/ct2/conddb"
	"github.com/go-daq/ct2/internal/scalers"
	"github.com/go-daq/tdaq"
	"golang.org/x/sync/errgroup"
)

// CountersAll selects every counter channel of a card.
const CountersAll = 0xfff

// Server drives a set of CT2 cards on behalf of a TDAQ run-control.
type Server struct {
	name string
	freq time.Duration

	scan func() ([]card.Bus, error)

	db     *conddb.DB
	preset string

	reg   *card.Registry
	buses []card.Bus

	mu   sync.Mutex
	dccs map[string]*card.DCC
	data chan []byte
	n    int // records published so far
}

// New creates a server named name, discovering cards with the scan
// function on /config.
func New(name string, scan func() ([]card.Bus, error), opts ...Option) *Server {
	srv := &Server{
		name: name,
		freq: 100 * time.Millisecond,
		scan: scan,
	}
	for _, opt := range opts {
		opt(srv)
	}
	return srv
}

// Option configures a Server.
type Option func(*Server)

// WithFreq sets the polling period of the readout loop.
func WithFreq(freq time.Duration) Option {
	return func(srv *Server) {
		srv.freq = freq
	}
}

// WithCondDB configures counters from the given conditions database
// preset during /init.  An empty preset name selects the most recent
// one.
func WithCondDB(db *conddb.DB, preset string) Option {
	return func(srv *Server) {
		srv.db = db
		srv.preset = preset
	}
}

func (srv *Server) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")

	buses, err := srv.scan()
	if err != nil {
		ctx.Msg.Errorf("could not scan for cards: %+v", err)
		return fmt.Errorf("could not scan for cards: %w", err)
	}
	if len(buses) == 0 {
		return fmt.Errorf("no CT2 card found")
	}

	for _, bus := range buses {
		ctx.Msg.Infof("found %v card", bus.Variant())
	}
	srv.buses = buses
	return nil
}

func (srv *Server) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")

	if srv.reg != nil {
		srv.close(ctx)
	}

	srv.reg = card.NewRegistry()
	srv.dccs = make(map[string]*card.DCC, len(srv.buses))
	srv.data = make(chan []byte, 1024)
	srv.n = 0

	for _, bus := range srv.buses {
		dev, err := srv.reg.Attach(bus)
		if err != nil {
			ctx.Msg.Errorf("could not attach %v card: %+v", bus.Variant(), err)
			return fmt.Errorf("could not attach %v card: %w", bus.Variant(), err)
		}

		dcc, err := dev.Open()
		if err != nil {
			return fmt.Errorf("could not open session on %q: %w", dev.Name(), err)
		}
		err = dcc.Grant(ctx.Ctx)
		if err != nil {
			return fmt.Errorf("could not take exclusive access on %q: %w", dev.Name(), err)
		}

		err = srv.applyPreset(ctx, dcc)
		if err != nil {
			return err
		}

		srv.dccs[dev.Name()] = dcc
		ctx.Msg.Infof("card %q ready", dev.Name())
	}
	return nil
}

func (srv *Server) applyPreset(ctx tdaq.Context, dcc *card.DCC) error {
	if srv.db == nil {
		return nil
	}

	name := srv.preset
	if name == "" {
		var err error
		name, err = srv.db.LastPreset(ctx.Ctx)
		if err != nil {
			return fmt.Errorf("could not find last counters preset: %w", err)
		}
	}

	dev := dcc.Device()
	counters, err := srv.db.CounterConfig(ctx.Ctx, name, dev.Variant().String())
	if err != nil {
		return fmt.Errorf("could not load counters preset %q: %w", name, err)
	}
	err = dcc.ApplyCounters(ctx.Ctx, counters)
	if err != nil {
		return fmt.Errorf("could not apply counters preset %q to %q: %w",
			name, dev.Name(), err,
		)
	}
	ctx.Msg.Infof("applied counters preset %q to %q", name, dev.Name())
	return nil
}

func (srv *Server) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")
	for _, name := range srv.names() {
		dcc := srv.session(name)
		err := dcc.DisableInterrupts(ctx.Ctx)
		if err != nil {
			return fmt.Errorf("could not disable interrupts on %q: %w", name, err)
		}
		err = dcc.Reset(ctx.Ctx)
		if err != nil {
			return fmt.Errorf("could not reset %q: %w", name, err)
		}
	}
	return nil
}

func (srv *Server) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /start command...")
	for _, name := range srv.names() {
		dcc := srv.session(name)
		err := dcc.EnableInterrupts(ctx.Ctx, 0)
		if err != nil {
			return fmt.Errorf("could not enable interrupts on %q: %w", name, err)
		}
		err = dcc.EnableCounters(ctx.Ctx, CountersAll)
		if err != nil {
			return fmt.Errorf("could not enable counters on %q: %w", name, err)
		}
		err = dcc.StartCounters(ctx.Ctx, CountersAll)
		if err != nil {
			return fmt.Errorf("could not start counters on %q: %w", name, err)
		}
	}
	return nil
}

func (srv *Server) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	n := srv.records()
	ctx.Msg.Debugf("received /stop command... -> n=%d", n)
	for _, name := range srv.names() {
		dcc := srv.session(name)
		err := dcc.StopCounters(ctx.Ctx, CountersAll)
		if err != nil {
			return fmt.Errorf("could not stop counters on %q: %w", name, err)
		}
		err = dcc.DisableCounters(ctx.Ctx, CountersAll)
		if err != nil {
			return fmt.Errorf("could not disable counters on %q: %w", name, err)
		}
		err = dcc.DisableInterrupts(ctx.Ctx)
		if err != nil {
			return fmt.Errorf("could not disable interrupts on %q: %w", name, err)
		}
	}
	return nil
}

func (srv *Server) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")
	srv.close(ctx)
	return nil
}

func (srv *Server) close(ctx tdaq.Context) {
	for _, name := range srv.names() {
		dcc := srv.session(name)
		err := dcc.Close()
		if err != nil {
			ctx.Msg.Errorf("could not close session on %q: %+v", name, err)
		}
	}
	srv.mu.Lock()
	srv.dccs = nil
	srv.mu.Unlock()

	if srv.reg != nil {
		err := srv.reg.Close()
		if err != nil {
			ctx.Msg.Errorf("could not close cards: %+v", err)
		}
		srv.reg = nil
	}
}

// Scalers publishes scaler records on the /scalers output end-point.
func (srv *Server) Scalers(ctx tdaq.Context, dst *tdaq.Frame) error {
	select {
	case <-ctx.Ctx.Done():
		dst.Body = nil
		return nil
	case data := <-srv.data:
		dst.Body = data
	}
	return nil
}

// Run is the readout loop: it polls every card for accumulated
// interrupts, latches and reads the counters and publishes one scaler
// record per capture.
func (srv *Server) Run(ctx tdaq.Context) error {
	for {
		select {
		case <-ctx.Ctx.Done():
			return nil
		case <-time.After(srv.freq):
		}

		err := srv.poll(ctx)
		if err != nil {
			ctx.Msg.Errorf("could not poll cards: %+v", err)
		}
	}
}

func (srv *Server) poll(ctx tdaq.Context) error {
	grp, gctx := errgroup.WithContext(ctx.Ctx)
	for _, name := range srv.names() {
		dcc := srv.session(name)
		grp.Go(func() error {
			return srv.readout(gctx, dcc)
		})
	}
	return grp.Wait()
}

func (srv *Server) readout(ctx context.Context, dcc *card.DCC) error {
	rd, _ := dcc.Ready()
	if !rd {
		return nil
	}

	nt, err := dcc.AckInterrupt(ctx)
	if err != nil {
		return fmt.Errorf("could not acknowledge interrupts on %q: %w",
			dcc.Device().Name(), err,
		)
	}

	err = dcc.LatchCounters(ctx)
	if err != nil {
		return fmt.Errorf("could not latch counters on %q: %w",
			dcc.Device().Name(), err,
		)
	}
	vals, err := dcc.ReadLatches(ctx)
	if err != nil {
		return fmt.Errorf("could not read latches on %q: %w",
			dcc.Device().Name(), err,
		)
	}

	rec := scalers.Record{
		Stamp:  nt.Stamp.UnixNano(),
		Bits:   nt.Bits,
		Values: vals,
	}
	raw, err := rec.MarshalBinary()
	if err != nil {
		return fmt.Errorf("could not marshal scaler record: %w", err)
	}

	select {
	case srv.data <- raw:
		srv.mu.Lock()
		srv.n++
		srv.mu.Unlock()
	default:
		// downstream lags, drop the record
	}
	return nil
}

func (srv *Server) names() []string {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	names := make([]string, 0, len(srv.dccs))
	for name := range srv.dccs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (srv *Server) session(name string) *card.DCC {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.dccs[name]
}

func (srv *Server) records() int {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.n
}
