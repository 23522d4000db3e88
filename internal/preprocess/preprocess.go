// Package preprocess loads compute shader source text.
//
// It strips the "#[compute]" stage marker, expands #include "file"
// directives relative to the including file, and injects argument lines
// after the #version directive.
package preprocess

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/gogpu/compute/gpucore"
)

// MaxIncludeDepth bounds include nesting.
const MaxIncludeDepth = 32

const (
	computeMarker    = "#[compute]"
	includeDirective = "#include"
	versionDirective = "#version"
)

var (
	// ErrShaderRead is returned when a shader or included file cannot be read.
	ErrShaderRead = errors.New("preprocess: cannot read shader")

	// ErrCircularInclude is returned when a file includes itself, directly
	// or through other files.
	ErrCircularInclude = errors.New("preprocess: circular include")

	// ErrIncludeDepth is returned when includes nest deeper than MaxIncludeDepth.
	ErrIncludeDepth = errors.New("preprocess: include depth exceeded")
)

// Load reads the shader at name from fsys and expands its includes.
func Load(fsys fs.FS, name string) (string, error) {
	return expand(fsys, path.Clean(name), nil)
}

// Expand is Load under the name used by callers that already hold a
// loaded root and only want include resolution.
func Expand(fsys fs.FS, name string) (string, error) {
	return Load(fsys, name)
}

// Source loads name, injects args and tags the result for the compute stage.
func Source(fsys fs.FS, name string, args []string) (*gpucore.ShaderSource, error) {
	code, err := Load(fsys, name)
	if err != nil {
		return nil, err
	}
	return &gpucore.ShaderSource{
		Name:     name,
		Language: gpucore.LanguageWGSL,
		Code:     InjectArgs(code, args),
	}, nil
}

func expand(fsys fs.FS, name string, stack []string) (string, error) {
	if slices.Contains(stack, name) {
		return "", fmt.Errorf("%w: %s", ErrCircularInclude, strings.Join(append(stack, name), " -> "))
	}
	if len(stack) >= MaxIncludeDepth {
		return "", fmt.Errorf("%w: %s", ErrIncludeDepth, name)
	}

	code, err := readText(fsys, name)
	if err != nil {
		return "", err
	}
	code, _ = strings.CutPrefix(code, computeMarker)

	stack = append(stack, name)
	dir := path.Dir(name)

	var b strings.Builder
	for {
		pos := strings.Index(code, includeDirective)
		if pos < 0 {
			b.WriteString(code)
			break
		}

		lineEnd := strings.IndexByte(code[pos:], '\n')
		if lineEnd < 0 {
			lineEnd = len(code)
		} else {
			lineEnd += pos
		}

		// A line comment before the directive disables it for the rest of the line.
		lineStart := strings.LastIndexByte(code[:pos], '\n') + 1
		if strings.Contains(code[lineStart:pos], "//") {
			b.WriteString(code[:lineEnd])
			code = code[lineEnd:]
			continue
		}

		target := strings.TrimSpace(code[pos+len(includeDirective) : lineEnd])
		target = strings.TrimSpace(strings.Trim(target, `"`))
		if target == "" {
			return "", fmt.Errorf("%w: %s: empty %s", ErrShaderRead, name, includeDirective)
		}

		included, err := expand(fsys, path.Join(dir, target), stack)
		if err != nil {
			return "", err
		}

		b.WriteString(code[:pos])
		b.WriteString(included)
		code = code[lineEnd:]
	}
	return b.String(), nil
}

// readText reads a file as text. A byte order mark selects UTF-16 or
// UTF-8 and is removed; text without one is read as UTF-8.
func readText(fsys fs.FS, name string) (string, error) {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrShaderRead, name, err)
	}
	decoded, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), data)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrShaderRead, name, err)
	}
	return string(decoded), nil
}

// InjectArgs inserts args as separate lines right after the first line
// containing #version. Without a #version line they are prepended.
func InjectArgs(code string, args []string) string {
	if len(args) == 0 {
		return code
	}

	var block strings.Builder
	block.WriteByte('\n')
	for _, a := range args {
		block.WriteString(a)
		block.WriteByte('\n')
	}

	pos := 0
	if v := strings.Index(code, versionDirective); v >= 0 {
		if nl := strings.IndexByte(code[v:], '\n'); nl >= 0 {
			pos = v + nl
		}
	}
	return code[:pos] + block.String() + code[pos:]
}
