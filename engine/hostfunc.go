package engine

import (
	"fmt"
	"math"
	"reflect"
)

// HostFunctionCallContext is the first argument of every host function. It
// exposes the guest's memory and the engine, so a host function can call back
// into guest code through Engine.Call, which re-enters under a fresh
// trampoline scope as the nesting contract requires.
type HostFunctionCallContext struct {
	Memory *MemoryInstance
	Engine *Engine
}

type hostFunction struct {
	fn reflect.Value
}

var hostCtxType = reflect.TypeOf(&HostFunctionCallContext{})

// RegisterHostFunction makes a Go function callable from guest code. fn must
// take *HostFunctionCallContext as its first parameter; remaining parameters
// and all results must be uint32, uint64, int32, int64, float32 or float64.
func (e *Engine) RegisterHostFunction(name string, fn interface{}) error {
	if _, ok := e.functions[name]; ok {
		return fmt.Errorf("function %q already registered", name)
	}

	v := reflect.ValueOf(fn)
	tp := v.Type()
	if tp.Kind() != reflect.Func {
		return fmt.Errorf("host function %q must be a func, was %s", name, tp.Kind())
	}
	if tp.NumIn() == 0 || tp.In(0) != hostCtxType {
		return fmt.Errorf("host function %q must take *HostFunctionCallContext as its first param", name)
	}
	for i := 1; i < tp.NumIn(); i++ {
		if !isNumericKind(tp.In(i).Kind()) {
			return fmt.Errorf("host function %q param %d: unsupported type %s", name, i, tp.In(i))
		}
	}
	for i := 0; i < tp.NumOut(); i++ {
		if !isNumericKind(tp.Out(i).Kind()) {
			return fmt.Errorf("host function %q result %d: unsupported type %s", name, i, tp.Out(i))
		}
	}

	e.functions[name] = &compiledFunction{
		name:         name,
		paramCount:   uint64(tp.NumIn() - 1),
		resultCount:  uint64(tp.NumOut()),
		hostFunction: &hostFunction{fn: v},
	}
	return nil
}

func isNumericKind(k reflect.Kind) bool {
	switch k {
	case reflect.Uint32, reflect.Uint64, reflect.Int32, reflect.Int64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// execHostFunction pops the arguments off the value stack in reverse order,
// invokes the host function, and pushes its results back, following the
// stack-machine convention guest code uses.
func (e *Engine) execHostFunction(h *hostFunction) {
	tp := h.fn.Type()
	in := make([]reflect.Value, tp.NumIn())

	for i := len(in) - 1; i >= 1; i-- {
		raw := e.Pop()
		val := reflect.New(tp.In(i)).Elem()
		switch tp.In(i).Kind() {
		case reflect.Float64:
			val.SetFloat(math.Float64frombits(raw))
		case reflect.Float32:
			val.SetFloat(float64(math.Float32frombits(uint32(raw))))
		case reflect.Uint32, reflect.Uint64:
			val.SetUint(raw)
		case reflect.Int32, reflect.Int64:
			val.SetInt(int64(raw))
		}
		in[i] = val
	}

	in[0] = reflect.ValueOf(&HostFunctionCallContext{Memory: e.memory, Engine: e})

	for _, ret := range h.fn.Call(in) {
		switch ret.Kind() {
		case reflect.Float64:
			e.Push(math.Float64bits(ret.Float()))
		case reflect.Float32:
			e.Push(uint64(math.Float32bits(float32(ret.Float()))))
		case reflect.Uint32, reflect.Uint64:
			e.Push(ret.Uint())
		case reflect.Int32, reflect.Int64:
			e.Push(uint64(ret.Int()))
		}
	}
}
