// Command wgslc preprocesses compute shaders and compiles them to SPIR-V.
//
// It resolves #include directives, injects -D lines after #version and
// writes the SPIR-V module, or with -E the preprocessed text. With
// -manifest it compiles every shader listed in a TOML file, and with -watch
// it keeps rebuilding them as their sources change.
//
// Usage:
//
//	wgslc [-E] [-D line]... [-o out.spv] shader.wgsl
//	wgslc [-D line]... [-watch] -manifest shaders.toml
package main

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/gogpu/compute/gpucore"
	"github.com/gogpu/compute/internal/preprocess"
	"github.com/gogpu/compute/internal/shaderc"
)

const usage = `usage: wgslc [-E] [-D line]... [-o out.spv] shader.wgsl
       wgslc [-D line]... [-watch] -manifest shaders.toml`

func main() {
	var (
		output       = flag.String("o", "", "output file (default: input with .spv extension, or stdout with -E)")
		preprocOnly  = flag.Bool("E", false, "print preprocessed source instead of compiling")
		manifestPath = flag.String("manifest", "", "TOML file listing shaders to compile")
		watchMode    = flag.Bool("watch", false, "rebuild when sources change")
		args         []string
	)
	flag.Func("D", "line to inject after #version (repeatable)", func(s string) error {
		args = append(args, s)
		return nil
	})
	flag.Parse()
	log.SetFlags(0)

	var jobs []job
	switch {
	case *manifestPath != "" && flag.NArg() == 0 && !*preprocOnly && *output == "":
		var err error
		if jobs, err = loadManifest(*manifestPath); err != nil {
			log.Fatalf("wgslc: %v", err)
		}
		for i := range jobs {
			jobs[i].Defines = append(append([]string(nil), args...), jobs[i].Defines...)
		}
	case *manifestPath == "" && flag.NArg() == 1:
		input := flag.Arg(0)
		if *preprocOnly {
			if err := preprocessOnly(input, *output, args); err != nil {
				log.Fatalf("wgslc: %v", err)
			}
			return
		}
		out := *output
		if out == "" {
			out = spvPath(input)
		}
		jobs = []job{{Source: input, Output: out, Defines: args}}
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	compiler := shaderc.NewCompiler(len(jobs))
	build := func(jobs []job) (failed int) {
		for _, j := range jobs {
			if err := compileJob(compiler, j); err != nil {
				log.Printf("wgslc: %v", err)
				failed++
			}
		}
		return failed
	}

	if !*watchMode {
		if build(jobs) > 0 {
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	build(jobs)
	if err := watch(ctx, jobs, func(jobs []job) { build(jobs) }); err != nil {
		log.Fatalf("wgslc: %v", err)
	}
}

func load(input string, args []string) (*gpucore.ShaderSource, error) {
	abs, err := filepath.Abs(input)
	if err != nil {
		return nil, err
	}
	dir, name := filepath.Split(abs)
	return preprocess.Source(os.DirFS(dir), name, args)
}

func preprocessOnly(input, output string, args []string) error {
	src, err := load(input, args)
	if err != nil {
		return err
	}
	if output == "" {
		fmt.Print(src.Code)
		return nil
	}
	return os.WriteFile(output, []byte(src.Code), 0o644)
}

func compileJob(compiler *shaderc.Compiler, j job) error {
	src, err := load(j.Source, j.Defines)
	if err != nil {
		return err
	}
	words, err := compiler.Compile(src)
	if err != nil {
		return err
	}
	out := make([]byte, 0, len(words)*4)
	for _, w := range words {
		out = binary.LittleEndian.AppendUint32(out, w)
	}
	if err := os.WriteFile(j.Output, out, 0o644); err != nil {
		return err
	}
	log.Printf("wrote %s (%d words)", j.Output, len(words))
	return nil
}
