package emit

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tinyrange/ppcrecomp/internal/buildmanifest"
	"github.com/tinyrange/ppcrecomp/internal/ppc"
)

// BuildProgram lowers every function in graph into a Program ready for
// WriteProgram/WriteFiles.
func BuildProgram(graph *ppc.FunctionGraph, opts LowerOptions) Program {
	prog := Program{FuncMappings: map[uint32]string{}}
	for _, fn := range graph.Functions {
		m := LowerFunction(fn, opts)
		prog.Methods = append(prog.Methods, m)
		prog.FuncMappings[fn.EntryAddr] = m.Name
	}
	return prog
}

// WriteFiles emits one Go source file per function into outDir plus a
// function-table init file, recording every generated path in a
// buildmanifest.Manifest (spec.md §6 "Persisted state").
func WriteFiles(outDir string, pkg string, prog Program) (*buildmanifest.Manifest, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("emit: creating output directory %q: %w", outDir, err)
	}

	man := buildmanifest.New()

	for _, m := range prog.Methods {
		path := filepath.Join(outDir, m.Name+".go")
		if err := writeMethodFile(path, pkg, m); err != nil {
			return nil, err
		}
		man.AddGenerated(path)
	}

	tablePath := filepath.Join(outDir, "zz_function_table.go")
	f, err := os.Create(tablePath)
	if err != nil {
		return nil, fmt.Errorf("emit: creating %q: %w", tablePath, err)
	}
	defer f.Close()

	empty := Program{FuncMappings: prog.FuncMappings}
	if err := WriteProgram(f, pkg, empty); err != nil {
		return nil, fmt.Errorf("emit: writing function table: %w", err)
	}
	man.AddGenerated(tablePath)

	return man, nil
}

func writeMethodFile(path, pkg string, m Method) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("emit: creating %q: %w", path, err)
	}
	defer f.Close()

	single := Program{Methods: []Method{m}}
	p := &printer{w: bufio.NewWriter(f), pkg: pkg}
	p.printf("// Code generated by the recompiler. DO NOT EDIT.\n\n")
	p.printf("package %s\n\n", pkg)
	p.printf("import \"github.com/tinyrange/ppcrecomp/internal/guest\"\n\n")
	for _, mm := range single.Methods {
		p.printMethod(mm)
	}
	return p.w.Flush()
}
