// Copyright ©2024 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package card

import (
	"fmt"
	"log"
	"sort"
	"sync"
)

// Registry tracks the set of attached devices and hands out their
// names.  Independent registries are fully isolated from each other.
type Registry struct {
	msg *log.Logger

	mu   sync.Mutex
	devs map[string]*Device
	next map[Variant]int
}

// NewRegistry creates an empty device registry.
func NewRegistry(opts ...Option) *Registry {
	cfg := newConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return &Registry{
		msg:  cfg.msg,
		devs: make(map[string]*Device),
		next: make(map[Variant]int),
	}
}

// Attach brings up the card behind bus and adds it to the registry.
// On failure every resource acquired up to that point has been
// released again.
func (reg *Registry) Attach(bus Bus, opts ...Option) (*Device, error) {
	cfg := newConfig()
	cfg.msg = reg.msg
	for _, opt := range opts {
		opt(cfg)
	}

	dev := &Device{
		msg:     cfg.msg,
		cfg:     *cfg,
		variant: bus.Variant(),
		bus:     bus,
		reg:     reg,
	}
	dev.stages = dev.initStages()

	err := dev.attach()
	if err != nil {
		return nil, err
	}

	reg.msg.Printf("attached %v card as %q", dev.variant, dev.name)
	return dev, nil
}

// allocName reserves the next device name for the given variant.
// Names are never reused within one registry.
func (reg *Registry) allocName(v Variant) string {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	n := reg.next[v]
	reg.next[v]++
	return fmt.Sprintf("%s-%d", v.basename(), n)
}

func (reg *Registry) add(dev *Device) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if _, dup := reg.devs[dev.name]; dup {
		return fmt.Errorf("ct2: device %q already registered", dev.name)
	}
	reg.devs[dev.name] = dev
	return nil
}

func (reg *Registry) remove(dev *Device) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.devs, dev.name)
}

// Device returns the attached device with the given name.
func (reg *Registry) Device(name string) (*Device, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	dev, ok := reg.devs[name]
	return dev, ok
}

// Devices returns the attached devices, sorted by name.
func (reg *Registry) Devices() []*Device {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	devs := make([]*Device, 0, len(reg.devs))
	for _, dev := range reg.devs {
		devs = append(devs, dev)
	}
	sort.Slice(devs, func(i, j int) bool {
		return devs[i].name < devs[j].name
	})
	return devs
}

// Close detaches every device of the registry, returning the first
// error it encounters while carrying on with the rest.
func (reg *Registry) Close() error {
	var first error
	for _, dev := range reg.Devices() {
		err := dev.Close()
		if err != nil {
			reg.msg.Printf("could not close device %q: %+v", dev.name, err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}
