// Copyright ©2024 The go-daq Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package conddb holds types to describe the condition and
// configuration database for CT2 counter cards.
package conddb // import "github.com/go-daq/ct2/conddb"

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

const (
	host = "localhost"
)

var (
	usr = "username"
	pwd = "s3cr3t"

	drvName = "mysql"
)

// DB exposes convenience methods to easily retrieve configuration
// presets for CT2 cards from the conditions database.
type DB struct {
	db   *sql.DB
	name string
}

// Open opens a connection to the conditions database dbname.
func Open(dbname string) (*DB, error) {
	db, err := sql.Open(drvName, dsn(dbname))
	if err != nil {
		return nil, fmt.Errorf("conddb: could not open %q db: %w", dbname, err)
	}

	err = ping(db, dbname)
	if err != nil {
		return nil, fmt.Errorf("conddb: could not ping %q db: %w", dbname, err)
	}

	return &DB{db: db, name: dbname}, nil
}

func dsn(db string) string {
	return fmt.Sprintf("%s:%s@tcp(%s)/%s", usr, pwd, host, db)
}

func ping(db *sql.DB, dbname string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("conddb: could not ping %q db: %w", dbname, err)
	}

	return nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return db.db.QueryContext(ctx, query, args...)
}

// LastPreset returns the name of the most recently recorded
// configuration preset.
func (db *DB) LastPreset(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	preset := ""
	rows, err := db.db.QueryContext(
		ctx,
		"SELECT name FROM presets ORDER BY datetime DESC LIMIT 1",
	)
	if err != nil {
		return preset, fmt.Errorf("conddb: could not query preset: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		err = rows.Scan(&preset)
		if err != nil {
			return preset, fmt.Errorf("conddb: could not get preset value: %w", err)
		}
	}

	if err := rows.Err(); err != nil {
		return preset, fmt.Errorf("conddb: could not scan db for preset: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return preset, fmt.Errorf("conddb: context error while retrieving preset: %w", err)
	}

	return preset, nil
}

// CounterConfig returns the per-channel counter configuration of the
// given preset for the given card variant ("C208" or "P201").
func (db *DB) CounterConfig(ctx context.Context, preset, variant string) ([]Counter, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var (
		cfg []Counter
		err error
	)

	rows, err := db.db.QueryContext(
		ctx,
		`
SELECT counters.channel, counters.conf, counters.cmp, counters.latch
FROM counters
JOIN presets ON presets.identifier=counters.preset
WHERE (
	presets.name=? AND counters.variant=?
)
ORDER BY counters.channel
`,
		preset, variant,
	)
	if err != nil {
		return cfg, fmt.Errorf("conddb: could not run counter cfg query: %w", err)
	}
	defer rows.Close()

	i := 0
	for rows.Next() {
		var cnt Counter
		err = rows.Scan(&cnt.Channel, &cnt.Conf, &cnt.Compare, &cnt.Latch)
		if err != nil {
			return cfg, fmt.Errorf("conddb: could not scan row %d for counter cfg: %w", i, err)
		}
		i++

		cfg = append(cfg, cnt)
	}

	if err := rows.Err(); err != nil {
		return cfg, fmt.Errorf("conddb: could not scan db for counter cfg: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return cfg, fmt.Errorf("conddb: context error while retrieving counter cfg: %w", err)
	}

	return cfg, nil
}
