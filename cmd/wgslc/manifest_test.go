package main

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func writeManifest(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shaders.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadManifest(t *testing.T) {
	path := writeManifest(t, `
defines = ["const N: u32 = 64u;"]

[[shader]]
source = "scale.wgsl"
defines = ["const SCALE: u32 = 3u;"]

[[shader]]
source = "sub/sum.wgsl"
output = "out/sum.spv"
`)
	base := filepath.Dir(path)

	jobs, err := loadManifest(path)
	if err != nil {
		t.Fatalf("loadManifest: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("got %d jobs, want 2", len(jobs))
	}

	if got, want := jobs[0].Source, filepath.Join(base, "scale.wgsl"); got != want {
		t.Errorf("jobs[0].Source = %q, want %q", got, want)
	}
	if got, want := jobs[0].Output, filepath.Join(base, "scale.spv"); got != want {
		t.Errorf("jobs[0].Output = %q, want %q", got, want)
	}
	wantDefines := []string{"const N: u32 = 64u;", "const SCALE: u32 = 3u;"}
	if !slices.Equal(jobs[0].Defines, wantDefines) {
		t.Errorf("jobs[0].Defines = %q, want %q", jobs[0].Defines, wantDefines)
	}

	if got, want := jobs[1].Output, filepath.Join(base, "out", "sum.spv"); got != want {
		t.Errorf("jobs[1].Output = %q, want %q", got, want)
	}
	if !slices.Equal(jobs[1].Defines, wantDefines[:1]) {
		t.Errorf("jobs[1].Defines = %q, want %q", jobs[1].Defines, wantDefines[:1])
	}
}

func TestLoadManifestErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty", ``},
		{"missing source", "[[shader]]\noutput = \"a.spv\"\n"},
		{"bad toml", "[[shader]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := loadManifest(writeManifest(t, tt.body)); err == nil {
				t.Error("expected error")
			}
		})
	}

	if _, err := loadManifest(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestIsOutput(t *testing.T) {
	jobs := []job{{Source: "/s/a.wgsl", Output: "/s/a.spv"}}
	if !isOutput(jobs, "/s/./a.spv") {
		t.Error("output not recognized")
	}
	if isOutput(jobs, "/s/a.wgsl") {
		t.Error("source treated as output")
	}
}

func TestSpvPath(t *testing.T) {
	if got := spvPath("dir/scale.wgsl"); got != "dir/scale.spv" {
		t.Errorf("spvPath = %q", got)
	}
}
