package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/tetratelabs/wasmplan"
	"github.com/tetratelabs/wasmplan/internal/wasm"
)

func newInspectCommand(vp *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect FILE...",
		Short: "Compile modules and print what they declare",
		Long: `Compile each module and print its signatures, imports, functions, memory, exports, data segments and
start function. Modules are compiled concurrently, and printed in the order given.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd, vp, args)
		},
	}
}

func runInspect(cmd *cobra.Command, vp *viper.Viper, paths []string) error {
	config, err := newConfig(vp, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	reports := make([][]byte, len(paths))
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			source, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			compiled, err := wasmplan.CompileModule(source, config)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			var buf bytes.Buffer
			printModule(&buf, path, compiled)
			reports[i] = buf.Bytes()
			return nil
		})
	}
	err = g.Wait()

	for _, report := range reports {
		if report != nil {
			if _, werr := cmd.OutOrStdout().Write(report); werr != nil {
				return werr
			}
		}
	}
	return err
}

func printModule(w io.Writer, path string, m *wasmplan.CompiledModule) {
	fmt.Fprintf(w, "%s (%s)\n", path, m.Backend())

	fmt.Fprintf(w, "signatures: %d\n", len(m.Signatures()))
	for i, sig := range m.Signatures() {
		fmt.Fprintf(w, "  %d: %s\n", i, sig)
	}

	fmt.Fprintf(w, "imports: %d\n", len(m.Imports()))
	for i, imp := range m.Imports() {
		fmt.Fprintf(w, "  %d: %s", i, imp)
		if f, ok := imp.Desc.(*wasm.FunctionImport); ok {
			fmt.Fprintf(w, " function[%d] %s", f.FunctionIndex, f.Signature)
		}
		fmt.Fprintln(w)
	}

	code := m.Code()
	ranges := m.FunctionRanges()
	fmt.Fprintf(w, "functions: %d\n", len(code))
	for i, c := range code {
		fmt.Fprintf(w, "  %d: %s", c.Index, c.Signature)
		if c.Imported {
			fmt.Fprint(w, " import")
		} else {
			r := ranges[i-(len(code)-len(ranges))]
			fmt.Fprintf(w, " body [%d, %d)", r.Start, r.End)
		}
		fmt.Fprintf(w, " size %d calls %d", c.Size, c.Calls)
		if c.HasEntryThunk {
			fmt.Fprint(w, " entry-thunk")
		}
		fmt.Fprintln(w)
	}

	if mem := m.Memory(); mem != nil {
		fmt.Fprintf(w, "memory: initial %d", mem.Initial)
		if mem.HasMaximum {
			fmt.Fprintf(w, " max %d", mem.Maximum)
		}
		if mem.IsImport {
			fmt.Fprint(w, " import")
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "exports: %d\n", len(m.Exports()))
	for _, e := range m.Exports() {
		switch desc := e.Desc.(type) {
		case *wasm.FunctionExport:
			fmt.Fprintf(w, "  %q: function[%d]\n", e.Field, desc.FunctionIndex)
		case *wasm.MemoryExport:
			fmt.Fprintf(w, "  %q: memory[%d]\n", e.Field, desc.MemoryIndex)
		}
	}

	fmt.Fprintf(w, "data: %d\n", len(m.Data()))
	for i, d := range m.Data() {
		fmt.Fprintf(w, "  %d: offset %d size %d\n", i, d.Offset, len(d.Init))
	}

	if index, ok := m.StartFunction(); ok {
		fmt.Fprintf(w, "start: function[%d]\n", index)
	}
}
