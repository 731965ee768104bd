package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/eventui/server/internal/progression"
	"github.com/eventui/server/pkg/core"
)

// definitionsFile is the object form of the definitions file. A bare JSON
// array of missions is accepted as well.
type definitionsFile struct {
	Missions []*core.MissionDefinition `json:"missions"`
}

func readDefinitions(path string) ([]*core.MissionDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definitions: %w", err)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var defs []*core.MissionDefinition
		if err := json.Unmarshal(trimmed, &defs); err != nil {
			return nil, fmt.Errorf("decode definitions %s: %w", path, err)
		}
		return defs, nil
	}

	var f definitionsFile
	if err := json.Unmarshal(trimmed, &f); err != nil {
		return nil, fmt.Errorf("decode definitions %s: %w", path, err)
	}
	return f.Missions, nil
}

// loadDefinitions reads path into the engine. Rejected missions are logged
// by the engine and do not fail the load.
func loadDefinitions(engine *progression.Engine, path string) (progression.LoadReport, error) {
	defs, err := readDefinitions(path)
	if err != nil {
		return progression.LoadReport{}, err
	}
	// drop nil entries from "missions": [null]
	kept := defs[:0]
	for _, d := range defs {
		if d != nil {
			kept = append(kept, d)
		}
	}
	report := engine.Load(kept)
	Logger.Info("Loaded mission definitions",
		"path", path,
		"loaded", report.Loaded,
		"rejected", len(report.Rejected),
		"warnings", len(report.Warnings))
	return report, nil
}
