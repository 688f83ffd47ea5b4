// Package examplesvc is a scriptable call_service/lookup target backing
// tests and examples: each registered method is a JavaScript function body
// run in a fresh goja VM per call, receiving its args as a global "args"
// array and returning the value of the last expression. It demonstrates
// the serviceregistry.Service contract without requiring a real external
// collaborator, in the spirit of the teacher's TEE script engine.
package examplesvc

import (
	"context"
	"fmt"
	"sync"

	"github.com/dop251/goja"

	"github.com/ruleforge/engine/internal/engerrors"
)

// ScriptService implements serviceregistry.Service by evaluating a
// per-method JavaScript source string against the call's args.
type ScriptService struct {
	mu      sync.Mutex
	methods map[string]string
}

// New creates an empty ScriptService.
func New() *ScriptService {
	return &ScriptService{methods: make(map[string]string)}
}

// RegisterMethod defines method as the given JavaScript expression/body.
// The script sees "args" (the call's argument list) and must evaluate to
// the method's return value.
func (s *ScriptService) RegisterMethod(method, script string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.methods[method] = script
}

// Call runs the named method's script in a fresh VM, isolating each
// invocation (mirrors the teacher's per-request goja.New()).
func (s *ScriptService) Call(_ context.Context, method string, args []interface{}) (interface{}, error) {
	s.mu.Lock()
	script, ok := s.methods[method]
	s.mu.Unlock()
	if !ok {
		return nil, engerrors.NotFound("script method", method)
	}

	vm := goja.New()
	if err := vm.Set("args", args); err != nil {
		return nil, engerrors.Wrap(engerrors.CodeServiceUnavailable, "binding script args", 503, err)
	}

	value, err := vm.RunString(script)
	if err != nil {
		return nil, engerrors.Wrap(engerrors.CodeServiceUnavailable, fmt.Sprintf("script method %q failed", method), 503, err)
	}
	return value.Export(), nil
}
