//go:build amd64 && cgo && !windows

// Wasmtime can only be used in amd64 with CGO
// Wasmer doesn't link on Windows
package vs

import (
	"errors"
	"testing"

	"github.com/bytecodealliance/wasmtime-go"
	"github.com/stretchr/testify/require"
	"github.com/wasmerio/wasmer-go/wasmer"

	"github.com/wasmkit/trapline/engine"
)

// trapWasm is the binary encoding of:
//
//	(module (func (export "trap") unreachable))
//
// kept inline so the comparison needs no build step.
var trapWasm = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00, // magic, version
	0x01, 0x04, 0x01, 0x60, 0x00, 0x00, // type section: () -> ()
	0x03, 0x02, 0x01, 0x00, // function section: one func, type 0
	0x07, 0x08, 0x01, 0x04, 't', 'r', 'a', 'p', 0x00, 0x00, // export "trap"
	0x0a, 0x05, 0x01, 0x03, 0x00, 0x00, 0x0b, // code: unreachable, end
}

// TestTrapRecovery ensures the code in BenchmarkTrapRecovery works as
// expected: each runtime turns the unreachable instruction into an error and
// stays usable for the next call.
func TestTrapRecovery(t *testing.T) {
	t.Run("trapline", func(t *testing.T) {
		e, err := newTraplineForTrapBench()
		require.NoError(t, err)

		for i := 0; i < 100; i++ {
			_, err := e.Call("trap")
			require.Error(t, err)
		}
	})

	t.Run("wasmer-go", func(t *testing.T) {
		store, instance, fn, err := newWasmerForTrapBench()
		require.NoError(t, err)
		defer store.Close()
		defer instance.Close()

		for i := 0; i < 100; i++ {
			_, err := fn()
			require.Error(t, err)
		}
	})

	t.Run("wasmtime-go", func(t *testing.T) {
		store, run, err := newWasmtimeForTrapBench()
		require.NoError(t, err)

		for i := 0; i < 100; i++ {
			_, err := run.Call(store)
			require.Error(t, err)
		}
	})
}

// BenchmarkTrapRecovery benchmarks the round trip of calling a function that
// traps immediately and recovering the error on the host side.
func BenchmarkTrapRecovery(b *testing.B) {
	b.Run("trapline", func(b *testing.B) {
		e, err := newTraplineForTrapBench()
		if err != nil {
			b.Fatal(err)
		}
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			if _, err := e.Call("trap"); err == nil {
				b.Fatal("expected trap")
			}
		}
	})

	b.Run("wasmer-go", func(b *testing.B) {
		store, instance, fn, err := newWasmerForTrapBench()
		if err != nil {
			b.Fatal(err)
		}
		defer store.Close()
		defer instance.Close()
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			if _, err := fn(); err == nil {
				b.Fatal("expected trap")
			}
		}
	})

	b.Run("wasmtime-go", func(b *testing.B) {
		store, run, err := newWasmtimeForTrapBench()
		if err != nil {
			b.Fatal(err)
		}
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			if _, err := run.Call(store); err == nil {
				b.Fatal("expected trap")
			}
		}
	})
}

func newTraplineForTrapBench() (*engine.Engine, error) {
	e := engine.NewEngine()
	if err := e.RegisterGuestFunction("trap", 0, 0, func(e *engine.Engine) {
		e.Unreachable()
	}); err != nil {
		return nil, err
	}
	return e, nil
}

// newWasmerForTrapBench returns the store and instance that scope the
// trapping function.
// Note: these should be closed
func newWasmerForTrapBench() (*wasmer.Store, *wasmer.Instance, wasmer.NativeFunction, error) {
	store := wasmer.NewStore(wasmer.NewEngine())
	importObject := wasmer.NewImportObject()
	module, err := wasmer.NewModule(store, trapWasm)
	if err != nil {
		return nil, nil, nil, err
	}
	instance, err := wasmer.NewInstance(module, importObject)
	if err != nil {
		return nil, nil, nil, err
	}
	f, err := instance.Exports.GetFunction("trap")
	if err != nil {
		return nil, nil, nil, err
	}
	if f == nil {
		return nil, nil, nil, errors.New("not a function")
	}
	return store, instance, f, nil
}

func newWasmtimeForTrapBench() (*wasmtime.Store, *wasmtime.Func, error) {
	store := wasmtime.NewStore(wasmtime.NewEngine())
	module, err := wasmtime.NewModule(store.Engine, trapWasm)
	if err != nil {
		return nil, nil, err
	}

	instance, err := wasmtime.NewInstance(store, module, nil)
	if err != nil {
		return nil, nil, err
	}

	run := instance.GetFunc(store, "trap")
	if run == nil {
		return nil, nil, errors.New("not a function")
	}
	return store, run, nil
}
