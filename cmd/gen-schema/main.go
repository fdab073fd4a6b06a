// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parlor Contributors

// Command gen-schema writes a JSON Schema file for every inbound event
// payload.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/parlor/parlor/internal/protocol"
)

func main() {
	outDir := pflag.String("out", filepath.Join("schemas", "events"), "output directory")
	pflag.Parse()

	written, err := generate(*outDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating schemas: %v\n", err)
		os.Exit(1)
	}
	for _, path := range written {
		fmt.Printf("Generated %s\n", path)
	}
}

// generate writes one <event>.schema.json per inbound event into dir and
// returns the written paths.
func generate(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, oops.With("dir", dir).Wrapf(err, "create directory")
	}

	events := protocol.SchemaEvents()
	written := make([]string, 0, len(events))
	for _, event := range events {
		schema, err := protocol.GenerateSchema(event)
		if err != nil {
			return nil, err
		}
		path := filepath.Join(dir, event+".schema.json")
		if err := os.WriteFile(path, schema, 0o600); err != nil {
			return nil, oops.With("path", path).Wrapf(err, "write schema")
		}
		written = append(written, path)
	}
	return written, nil
}
