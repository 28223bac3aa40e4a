package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tetratelabs/wasmplan"
)

func main() {
	doMain(os.Args[1:], os.Stdout, os.Stderr, os.Exit)
}

// doMain is separated out for the purpose of unit testing.
func doMain(args []string, stdOut, stdErr io.Writer, exit func(code int)) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cmd := newRootCommand(stdOut, stdErr)
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stdErr, "error: %v\n", err)
		exit(1)
		return
	}
	exit(0)
}

// Flag names, also the keys of viper. Each can be set with a WASMPLAN_ environment variable, ex. WASMPLAN_LOG_LEVEL.
const (
	flagBackend          = "backend"
	flagLogLevel         = "log-level"
	flagMemoryLimitPages = "memory-limit-pages"
)

func newRootCommand(stdOut, stdErr io.Writer) *cobra.Command {
	vp := viper.New()
	root := &cobra.Command{
		Use:           "wasmplan",
		Short:         "Compile WebAssembly 1.0 (20191205) binary modules",
		Long:          "wasmplan parses, validates, compiles and links WebAssembly 1.0 (20191205) binary modules.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdOut)
	root.SetErr(stdErr)

	flags := root.PersistentFlags()
	flags.String(flagBackend, wasmplan.BackendInterpreter.String(), "backend to compile functions with: interpreter or compiler")
	flags.String(flagLogLevel, "warn", "log level: debug, info, warn or error")
	flags.Uint32(flagMemoryLimitPages, 65536, "maximum pages of a memory")
	bindFlags(vp, flags)

	root.AddCommand(newInspectCommand(vp), newCallCommand(vp))
	return root
}

// bindFlags makes vp read each flag, falling back to its WASMPLAN_ environment variable.
func bindFlags(vp *viper.Viper, flags *pflag.FlagSet) {
	vp.SetEnvPrefix("wasmplan")
	vp.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	vp.AutomaticEnv()
	// BindPFlags only fails on a nil flag.
	_ = vp.BindPFlags(flags)
}

// newConfig builds the wasmplan.Config of the persistent flags, logging to stdErr.
func newConfig(vp *viper.Viper, stdErr io.Writer) (*wasmplan.Config, error) {
	backend, err := wasmplan.ParseBackend(vp.GetString(flagBackend))
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(vp.GetString(flagLogLevel), stdErr)
	if err != nil {
		return nil, err
	}
	return wasmplan.NewConfig().
		WithBackend(backend).
		WithLogger(logger).
		WithMemoryLimitPages(vp.GetUint32(flagMemoryLimitPages)), nil
}

func newLogger(level string, w io.Writer) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", flagLogLevel, err)
	}
	encoder := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	return zap.New(zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(w)), lvl)), nil
}
