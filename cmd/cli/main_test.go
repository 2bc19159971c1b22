package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/cxd309/tms-railenv/internal/engine"
)

const lineInput = `{
	"simulation_meta": {"simulation_id": "cli"},
	"network": {
		"stations": [
			{"name": "A", "importance_score": 100},
			{"name": "B", "importance_score": 90}
		],
		"tracks": [{"from": "A", "to": "B", "length": 10, "speed_limit": 100}]
	}
}`

func TestRunAppliesConfigOptions(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "input.json")
	cfg := filepath.Join(dir, "railenv.yaml")
	if err := os.WriteFile(in, []byte(lineInput), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(cfg, []byte("environment:\n  time_budget: 3\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := run(in, cfg, "error", true, &out); err != nil {
		t.Fatal(err)
	}
	var log engine.SimulationLog
	if err := json.Unmarshal(out.Bytes(), &log); err != nil {
		t.Fatal(err)
	}
	if len(log.Output) != 3 || log.Summary.Arrived != 0 {
		t.Fatalf("got %d rows, summary %+v; want 3 rows cut by the time budget", len(log.Output), log.Summary)
	}
}

func TestRunWithoutConfigUsesDefaults(t *testing.T) {
	in := filepath.Join(t.TempDir(), "input.json")
	if err := os.WriteFile(in, []byte(lineInput), 0o644); err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	if err := run(in, "", "error", false, &out); err != nil {
		t.Fatal(err)
	}
	var log engine.SimulationLog
	if err := json.Unmarshal(out.Bytes(), &log); err != nil {
		t.Fatal(err)
	}
	if log.Summary.Arrived != 1 || len(log.Output) != 6 {
		t.Fatalf("summary %+v after %d rows", log.Summary, len(log.Output))
	}
}

func TestRunRejectsBadInput(t *testing.T) {
	in := filepath.Join(t.TempDir(), "input.json")
	if err := os.WriteFile(in, []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := run(in, "", "error", false, &bytes.Buffer{}); err == nil {
		t.Fatal("expected malformed JSON to fail")
	}

	if err := os.WriteFile(in, []byte(lineInput), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := run(in, "", "loud", false, &bytes.Buffer{}); err == nil {
		t.Fatal("expected an unknown log level to fail")
	}
}

func TestRunAppliesConfigLoaderOptions(t *testing.T) {
	const input = `{
		"network": {
			"stations": [
				{"name": "A", "importance_score": 100, "lat": 51.5, "lon": -0.1},
				{"name": "B", "importance_score": 90, "lat": 51.6, "lon": -0.1}
			],
			"tracks": [{"coords": [[-0.1, 51.5], [-0.1, 51.6]]}]
		}
	}`
	dir := t.TempDir()
	in := filepath.Join(dir, "input.json")
	cfg := filepath.Join(dir, "railenv.yaml")
	if err := os.WriteFile(in, []byte(input), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(cfg, []byte("loader:\n  coords_lon_lat: true\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := run(in, cfg, "error", false, &out); err != nil {
		t.Fatal(err)
	}
	var log engine.SimulationLog
	if err := json.Unmarshal(out.Bytes(), &log); err != nil {
		t.Fatal(err)
	}
	// About 11.1 km at the default 80 km/h takes 9 ticks.
	if log.Summary.Arrived != 1 || len(log.Output) != 9 {
		t.Fatalf("summary %+v after %d rows, want arrival over the A-B track in 9 ticks",
			log.Summary, len(log.Output))
	}
	if route := log.Output[0].TrainLogs[0].Route; len(route) != 2 || route[0] != "A" || route[1] != "B" {
		t.Fatalf("route = %v, want [A B]", route)
	}
}
