// Package shaderc turns compute shader sources into SPIR-V words.
package shaderc

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/gogpu/naga"

	"github.com/gogpu/compute/gpucore"
)

// spirvMagic is the first word of every SPIR-V module.
const spirvMagic = 0x07230203

// DefaultCacheSize is the number of compiled modules a Compiler keeps.
const DefaultCacheSize = 32

var (
	// ErrEmptySource is returned for a source with no code.
	ErrEmptySource = errors.New("shaderc: empty shader source")

	// ErrInvalidSPIRV is returned when precompiled bytes are not a SPIR-V module.
	ErrInvalidSPIRV = errors.New("shaderc: invalid SPIR-V")
)

// Compiler compiles WGSL with naga and caches the result by source hash,
// so that instances built from the same preprocessed text share the work.
// A Compiler is safe for concurrent use.
type Compiler struct {
	cache *lru.Cache[[sha256.Size]byte, []uint32]

	compile func(string) ([]byte, error)
}

// NewCompiler creates a compiler that keeps up to size modules.
func NewCompiler(size int) *Compiler {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, _ := lru.New[[sha256.Size]byte, []uint32](size)
	return &Compiler{cache: cache, compile: naga.Compile}
}

// Compile returns the SPIR-V words for src.
//
// WGSL sources are compiled; SPIR-V sources carry the module bytes in Code
// and are decoded. The returned slice is shared with the cache and must
// not be modified.
func (c *Compiler) Compile(src *gpucore.ShaderSource) ([]uint32, error) {
	if src == nil || src.Code == "" {
		return nil, ErrEmptySource
	}
	if src.Language == gpucore.LanguageSPIRV {
		return DecodeSPIRV([]byte(src.Code))
	}

	key := sha256.Sum256([]byte(src.Code))
	if words, ok := c.cache.Get(key); ok {
		return words, nil
	}

	spirvBytes, err := c.compile(src.Code)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", src.Name, err)
	}
	words, err := DecodeSPIRV(spirvBytes)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", src.Name, err)
	}
	c.cache.Add(key, words)
	return words, nil
}

// Len returns the number of cached modules.
func (c *Compiler) Len() int { return c.cache.Len() }

// Purge drops all cached modules.
func (c *Compiler) Purge() { c.cache.Purge() }

// DecodeSPIRV converts a little-endian SPIR-V byte stream to words.
func DecodeSPIRV(data []byte) ([]uint32, error) {
	if len(data) < 4 || len(data)%4 != 0 {
		return nil, fmt.Errorf("%w: length %d is not a positive multiple of 4", ErrInvalidSPIRV, len(data))
	}
	words := make([]uint32, len(data)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	if words[0] != spirvMagic {
		return nil, fmt.Errorf("%w: bad magic %#08x", ErrInvalidSPIRV, words[0])
	}
	return words, nil
}
