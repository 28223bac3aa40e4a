package main

import (
	"fmt"
	"io"
	"math"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tetratelabs/wasmplan"
	"github.com/tetratelabs/wasmplan/internal/wasm"
)

func newCallCommand(vp *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "call FILE EXPORT [ARG...]",
		Short: "Instantiate a module and call one of its exported functions",
		Long: `Instantiate the module with the interpreter, then call the exported function with the given args, which are
parsed as the types of its params. Results are printed one per line. Imported functions are left unbound.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCall(cmd, vp, args[0], args[1], args[2:])
		},
	}
}

func runCall(cmd *cobra.Command, vp *viper.Viper, path, name string, args []string) error {
	config, err := newConfig(vp, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	source, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	compiled, err := wasmplan.CompileModule(source, config)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	ctx := cmd.Context()
	instance, err := compiled.Instantiate(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	fn, ok := instance.ExportedFunction(name)
	if !ok {
		return fmt.Errorf("%s: no exported function %q", path, name)
	}

	sig := fn.Signature()
	if len(args) != len(sig.Params) {
		return fmt.Errorf("%q has type %s: expected %d args, but got %d", name, sig, len(sig.Params), len(args))
	}
	params := make([]uint64, len(args))
	for i, arg := range args {
		if params[i], err = parseValue(sig.Params[i], arg); err != nil {
			return fmt.Errorf("arg %d: %w", i, err)
		}
	}

	results, err := fn.Call(ctx, params...)
	if err != nil {
		return err
	}
	for i, r := range results {
		printValue(cmd.OutOrStdout(), sig.Results()[i], r)
	}
	return nil
}

// parseValue encodes s as a value of type t. Integers may be signed or unsigned.
func parseValue(t wasm.ValueType, s string) (uint64, error) {
	switch t {
	case wasm.ValueTypeI32:
		if v, err := strconv.ParseInt(s, 0, 32); err == nil {
			return uint64(uint32(v)), nil
		}
		v, err := strconv.ParseUint(s, 0, 32)
		return v, err
	case wasm.ValueTypeI64:
		if v, err := strconv.ParseInt(s, 0, 64); err == nil {
			return uint64(v), nil
		}
		return strconv.ParseUint(s, 0, 64)
	case wasm.ValueTypeF32:
		v, err := strconv.ParseFloat(s, 32)
		return uint64(math.Float32bits(float32(v))), err
	case wasm.ValueTypeF64:
		v, err := strconv.ParseFloat(s, 64)
		return math.Float64bits(v), err
	}
	return 0, fmt.Errorf("unsupported value type %s", wasm.ValueTypeName(t))
}

func printValue(w io.Writer, t wasm.ValueType, v uint64) {
	switch t {
	case wasm.ValueTypeI32:
		fmt.Fprintln(w, int32(v))
	case wasm.ValueTypeI64:
		fmt.Fprintln(w, int64(v))
	case wasm.ValueTypeF32:
		fmt.Fprintln(w, math.Float32frombits(uint32(v)))
	case wasm.ValueTypeF64:
		fmt.Fprintln(w, math.Float64frombits(v))
	}
}
