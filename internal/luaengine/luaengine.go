// Package luaengine runs gopher-lua scoring scripts in a pooled VM: a
// channel-backed pool of *lua.LState, a small "decency" API table
// registered into each VM, and a timeout-guarded PCall into a well-known
// script function.
package luaengine

import (
	"context"
	"fmt"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// Engine runs a single Lua script against a pool of VMs.
type Engine struct {
	scriptPath string
	pool       chan *lua.LState
	maxVMs     int
}

// New loads scriptPath and pre-creates poolSize VMs, each with the script
// already executed once so top-level function definitions are in scope.
func New(scriptPath string, poolSize int) (*Engine, error) {
	if poolSize <= 0 {
		poolSize = 5
	}
	e := &Engine{scriptPath: scriptPath, pool: make(chan *lua.LState, poolSize), maxVMs: poolSize}

	for i := 0; i < poolSize; i++ {
		vm, err := e.newVM()
		if err != nil {
			e.Close()
			return nil, err
		}
		e.pool <- vm
	}
	return e, nil
}

func (e *Engine) newVM() (*lua.LState, error) {
	vm := lua.NewState()
	registerAPI(vm)
	if err := vm.DoFile(e.scriptPath); err != nil {
		vm.Close()
		return nil, fmt.Errorf("luaengine: load %s: %w", e.scriptPath, err)
	}
	return vm, nil
}

func (e *Engine) acquire() (*lua.LState, error) {
	select {
	case vm := <-e.pool:
		return vm, nil
	default:
		return e.newVM()
	}
}

func (e *Engine) release(vm *lua.LState) {
	select {
	case e.pool <- vm:
	default:
		vm.Close()
	}
}

// Call invokes fnName with a table built from fields, expecting the
// script to return a table with at least a numeric "score" field. It
// returns the raw returned table's fields as a generic map.
func (e *Engine) Call(ctx context.Context, fnName string, timeout time.Duration, fields map[string]string) (map[string]any, error) {
	vm, err := e.acquire()
	if err != nil {
		return nil, err
	}
	defer e.release(vm)

	fn := vm.GetGlobal(fnName)
	if fn.Type() != lua.LTFunction {
		return nil, fmt.Errorf("luaengine: function %s not defined in %s", fnName, e.scriptPath)
	}

	arg := vm.NewTable()
	for k, v := range fields {
		vm.SetField(arg, k, lua.LString(v))
	}

	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type callResult struct {
		val lua.LValue
		err error
	}
	done := make(chan callResult, 1)

	go func() {
		vm.Push(fn)
		vm.Push(arg)
		err := vm.PCall(1, 1, nil)
		if err != nil {
			done <- callResult{err: err}
			return
		}
		ret := vm.Get(-1)
		vm.Pop(1)
		done <- callResult{val: ret}
	}()

	select {
	case <-runCtx.Done():
		return nil, fmt.Errorf("luaengine: %s timed out after %s", fnName, timeout)
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("luaengine: %s: %w", fnName, res.err)
		}
		return tableToMap(vm, res.val)
	}
}

func (e *Engine) Close() {
	close(e.pool)
	for vm := range e.pool {
		vm.Close()
	}
}

func tableToMap(vm *lua.LState, v lua.LValue) (map[string]any, error) {
	tbl, ok := v.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("luaengine: script must return a table")
	}
	out := make(map[string]any)
	tbl.ForEach(func(k, val lua.LValue) {
		key, ok := k.(lua.LString)
		if !ok {
			return
		}
		switch val.Type() {
		case lua.LTNumber:
			out[string(key)] = float64(val.(lua.LNumber))
		case lua.LTString:
			out[string(key)] = string(val.(lua.LString))
		case lua.LTBool:
			out[string(key)] = bool(val.(lua.LBool))
		}
	})
	return out, nil
}

func registerAPI(vm *lua.LState) {
	tbl := vm.NewTable()
	vm.SetGlobal("decency", tbl)
	vm.SetField(tbl, "contains", vm.NewFunction(luaContains))
	vm.SetField(tbl, "domain_from_email", vm.NewFunction(luaDomainFromEmail))
}

func luaContains(vm *lua.LState) int {
	haystack := vm.CheckString(1)
	needle := vm.CheckString(2)
	vm.Push(lua.LBool(strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))))
	return 1
}

func luaDomainFromEmail(vm *lua.LState) int {
	addr := vm.CheckString(1)
	parts := strings.Split(addr, "@")
	if len(parts) == 2 {
		vm.Push(lua.LString(parts[1]))
	} else {
		vm.Push(lua.LString(""))
	}
	return 1
}
