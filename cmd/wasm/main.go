//go:build js && wasm

// Command wasm exposes the railway environment to the browser. It registers
// two global JavaScript functions:
//
//	runSimulation(inputJSON) -> logJSON
//	loadNetwork(networkJSON) -> statsJSON
//
// runSimulation has the same contract as the CLI. loadNetwork validates a
// {stations, tracks} document and reports what the loader kept and skipped.
package main

import (
	"encoding/json"
	"syscall/js"

	"github.com/cxd309/tms-railenv/internal/engine"
	"github.com/cxd309/tms-railenv/internal/loader"
)

func main() {
	js.Global().Set("runSimulation", js.FuncOf(runSimulation))
	js.Global().Set("loadNetwork", js.FuncOf(loadNetwork))
	select {}
}

func runSimulation(_ js.Value, args []js.Value) any {
	if len(args) < 1 {
		return jsError("no input provided")
	}
	result, err := engine.RunJSON(args[0].String())
	if err != nil {
		return jsError(err.Error())
	}
	return result
}

func loadNetwork(_ js.Value, args []js.Value) any {
	if len(args) < 1 {
		return jsError("no network provided")
	}
	var data engine.NetworkData
	if err := json.Unmarshal([]byte(args[0].String()), &data); err != nil {
		return jsError("invalid network JSON: " + err.Error())
	}
	net, err := loader.New(loader.DefaultOptions(), nil, nil, nil).Load(data.Stations, data.Tracks)
	if err != nil {
		return jsError(err.Error())
	}
	out, err := json.Marshal(net.Stats)
	if err != nil {
		return jsError(err.Error())
	}
	return string(out)
}

func jsError(msg string) map[string]any { return map[string]any{"error": msg} }
