// Copyright ©2024 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command ct2-sql inspects the counter presets stored in the CT2
// conditions database.
package main // import "github.com/go-daq/ct2/cmd/ct2-sql"

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/go-daq/ct2/card"
	"github.com/go-daq/ct2/conddb"
)

const dbname = "ct2srv"

func main() {
	log.SetPrefix("ct2-sql: ")
	log.SetFlags(0)

	var (
		preset  = flag.String("preset", "", "counters preset to inspect (default: most recent)")
		variant = flag.String("variant", "P201", "card variant to inspect (C208 or P201)")
	)

	flag.Parse()

	v, err := variantOf(*variant)
	if err != nil {
		log.Fatalf("%+v", err)
	}

	db, err := conddb.Open(dbname)
	if err != nil {
		log.Fatalf("could not open CT2 db: %+v", err)
	}
	defer db.Close()

	err = doQuery(db, *preset, v)
	if err != nil {
		log.Fatalf("could not do query: %+v", err)
	}
}

func variantOf(name string) (card.Variant, error) {
	switch name {
	case "C208", "c208":
		return card.C208, nil
	case "P201", "p201":
		return card.P201, nil
	}
	return 0, fmt.Errorf("unknown card variant %q", name)
}

func doQuery(db *conddb.DB, preset string, variant card.Variant) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if preset == "" {
		v, err := db.LastPreset(ctx)
		if err != nil {
			return fmt.Errorf("could not get last preset name: %w", err)
		}
		preset = v
		log.Printf("preset: %q", preset)
	}

	counters, err := db.CounterConfig(ctx, preset, variant.String())
	if err != nil {
		return fmt.Errorf("could not get counters cfg (preset=%q, variant=%v): %w",
			preset, variant, err,
		)
	}
	log.Printf("counters: %d", len(counters))
	for i, cnt := range counters {
		log.Printf("row[%d]: %v", i, cnt)
	}

	return nil
}
