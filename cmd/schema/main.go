// Command schema writes JSON Schemas for the station and track input files.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/invopop/jsonschema"

	"github.com/cxd309/tms-railenv/internal/loader"
)

// StationFile is the wrapped form of the stations input.
type StationFile struct {
	Stations []loader.StationRecord `json:"stations"`
}

// TrackFile is the wrapped form of the tracks input.
type TrackFile struct {
	Tracks []loader.TrackRecord `json:"tracks"`
}

func main() {
	var outDir string
	flag.StringVar(&outDir, "out", "", "directory to write the JSON schemas to")
	flag.Parse()

	if outDir == "" {
		fmt.Fprintln(os.Stderr, "--out is required")
		os.Exit(1)
	}

	for name, schema := range buildSchemas() {
		if err := writeSchema(filepath.Join(outDir, name), schema); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write schema: %v\n", err)
			os.Exit(1)
		}
	}
}

func buildSchemas() map[string]*jsonschema.Schema {
	reflector := jsonschema.Reflector{AllowAdditionalProperties: true}

	stations := reflector.Reflect(new(StationFile))
	stations.Title = "Railway stations"
	stations.Description = "Station records read by the network loader"

	tracks := reflector.Reflect(new(TrackFile))
	tracks.Title = "Railway tracks"
	tracks.Description = "Track records read by the network loader"

	return map[string]*jsonschema.Schema{
		"stations.schema.json": stations,
		"tracks.schema.json":   tracks,
	}
}

func writeSchema(outPath string, schema *jsonschema.Schema) error {
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create schema directory: %w", err)
	}

	tmpPath := outPath + ".tmp"
	if err := os.WriteFile(tmpPath, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write temp schema: %w", err)
	}

	if err := os.Rename(tmpPath, outPath); err != nil {
		return fmt.Errorf("replace schema: %w", err)
	}

	return nil
}
