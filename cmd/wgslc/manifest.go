package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// manifest lists shaders to compile in one run.
//
//	[[shader]]
//	source  = "scale.wgsl"
//	output  = "scale.spv"
//	defines = ["const SCALE: u32 = 3u;"]
type manifest struct {
	Defines []string `toml:"defines"`
	Shaders []job    `toml:"shader"`
}

// job is one shader to compile. Paths are relative to the manifest.
type job struct {
	Source  string   `toml:"source"`
	Output  string   `toml:"output"`
	Defines []string `toml:"defines"`
}

func loadManifest(path string) ([]job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(m.Shaders) == 0 {
		return nil, fmt.Errorf("%s: no [[shader]] entries", path)
	}

	base := filepath.Dir(path)
	jobs := make([]job, 0, len(m.Shaders))
	for i, j := range m.Shaders {
		if j.Source == "" {
			return nil, fmt.Errorf("%s: shader %d: %w", path, i, errors.New("missing source"))
		}
		j.Source = filepath.Join(base, j.Source)
		if j.Output == "" {
			j.Output = spvPath(j.Source)
		} else {
			j.Output = filepath.Join(base, j.Output)
		}
		j.Defines = append(append([]string(nil), m.Defines...), j.Defines...)
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func spvPath(source string) string {
	return strings.TrimSuffix(source, filepath.Ext(source)) + ".spv"
}
