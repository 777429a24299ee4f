// Command trapline runs built-in sample guests to demonstrate how faults and
// interrupts inside guest code come back as ordinary errors on the host side.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wasmkit/trapline/engine"
	"github.com/wasmkit/trapline/watchdog"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		log.Fatalf("trapline: %v", err)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "trapline <command> [arguments]",
		Short:         "trapline demonstrates trap and interrupt recovery for guest calls.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Example:       "trapline run loop --timeout 2s",
	}
	rootCmd.AddCommand(newRunCommand())
	return rootCmd
}

func newRunCommand() *cobra.Command {
	var timeout time.Duration
	var verbose bool

	runCmd := &cobra.Command{
		Use:   "run <sum|loop|oob|nested>",
		Short: "run a built-in sample guest and print its outcome",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return run(args[0], timeout, verbose)
		},
	}
	runCmd.Flags().DurationVar(&timeout, "timeout", 2*time.Second, "interrupt the guest after this duration")
	runCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log interrupt deliveries")
	return runCmd
}

func run(name string, timeout time.Duration, verbose bool) error {
	e := engine.NewEngine().WithMemory(1, nil)
	if err := registerSamples(e); err != nil {
		return err
	}

	logger := zap.NewNop()
	if verbose {
		var err error
		if logger, err = zap.NewDevelopment(); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	handle := e.InterruptHandle()
	defer handle.Close() //nolint:errcheck
	stop := watchdog.New(logger).Guard(ctx, handle)
	defer stop()

	results, err := e.Call(name)
	if err != nil {
		fmt.Printf("aborted (%s): %v\n", e.Trap().Code(), err)
		return nil
	}
	fmt.Printf("completed: %v\n", results)
	return nil
}

func registerSamples(e *engine.Engine) error {
	if err := e.RegisterGuestFunction("sum", 0, 1, func(e *engine.Engine) {
		var total uint64
		for i := uint64(1); i <= 100; i++ {
			e.CheckPoint()
			total += i
		}
		e.Push(total)
	}); err != nil {
		return err
	}
	if err := e.RegisterGuestFunction("loop", 0, 0, func(e *engine.Engine) {
		for {
			e.CheckPoint()
		}
	}); err != nil {
		return err
	}
	if err := e.RegisterGuestFunction("oob", 0, 0, func(e *engine.Engine) {
		e.StoreUint32(uint32(engine.PageSize), 0xdead)
	}); err != nil {
		return err
	}
	if err := e.RegisterGuestFunction("inner", 0, 0, func(e *engine.Engine) {
		e.Unreachable()
	}); err != nil {
		return err
	}
	if err := e.RegisterHostFunction("bridge", func(ctx *engine.HostFunctionCallContext) {
		if _, err := ctx.Engine.Call("inner"); err != nil {
			ctx.Engine.RaiseTrap()
		}
	}); err != nil {
		return err
	}
	return e.RegisterGuestFunction("nested", 0, 0, func(e *engine.Engine) {
		e.CallFunction("bridge")
	})
}
