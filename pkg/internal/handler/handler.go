// Package handler provides reflection-based task handler execution.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/jdziat/crewrun/pkg/core"
)

var (
	contextType     = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType       = reflect.TypeOf((*error)(nil)).Elem()
	persistableType = reflect.TypeOf((*core.Persistable)(nil)).Elem()
	taskInputType   = reflect.TypeOf(core.TaskInput{})
)

// Handler holds metadata about a registered task handler.
type Handler struct {
	Fn         reflect.Value
	ArgsType   reflect.Type
	HasContext bool
	HasResult  bool
}

// NewHandler creates a Handler from a function.
func NewHandler(fn any) (*Handler, error) {
	if fn == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}

	fnVal := reflect.ValueOf(fn)
	if fnVal.Kind() != reflect.Func {
		return nil, fmt.Errorf("handler must be a function")
	}
	if fnVal.IsNil() {
		return nil, fmt.Errorf("handler function cannot be nil")
	}

	fnType := fnVal.Type()
	h := &Handler{Fn: fnVal}

	numIn := fnType.NumIn()
	if numIn < 1 || numIn > 2 {
		return nil, fmt.Errorf("handler must have 1-2 arguments")
	}
	argIdx := 0
	if fnType.In(0).Implements(contextType) {
		h.HasContext = true
		argIdx = 1
	}
	if argIdx >= numIn {
		return nil, fmt.Errorf("handler must take an argument after the context")
	}
	if numIn == 2 && !h.HasContext {
		return nil, fmt.Errorf("handler with two arguments must take a context first")
	}
	h.ArgsType = fnType.In(argIdx)

	switch fnType.NumOut() {
	case 1:
		if !fnType.Out(0).Implements(errorType) {
			return nil, fmt.Errorf("handler must return error")
		}
	case 2:
		if !fnType.Out(1).Implements(errorType) {
			return nil, fmt.Errorf("handler must return (R, error)")
		}
		h.HasResult = true
	default:
		return nil, fmt.Errorf("handler must return error or (R, error)")
	}

	return h, nil
}

// Execute runs the handler for one task attempt.
func (h *Handler) Execute(ctx context.Context, input core.TaskInput) (core.Persistable, error) {
	if !h.Fn.IsValid() || h.Fn.IsNil() {
		return nil, fmt.Errorf("handler function is nil or invalid")
	}

	var args []reflect.Value
	if h.HasContext {
		args = append(args, reflect.ValueOf(ctx))
	}

	argVal, err := h.buildArgs(input)
	if err != nil {
		return nil, core.NoRetry(err)
	}
	args = append(args, argVal)

	results := h.Fn.Call(args)

	errVal := results[len(results)-1]
	if !errVal.IsNil() {
		return nil, errVal.Interface().(error)
	}
	if !h.HasResult {
		return core.Text(""), nil
	}
	return toPersistable(results[0]), nil
}

func (h *Handler) buildArgs(input core.TaskInput) (reflect.Value, error) {
	if h.ArgsType == taskInputType {
		return reflect.ValueOf(input), nil
	}

	raw, err := json.Marshal(input)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("failed to marshal task input: %w", err)
	}
	argPtr := reflect.New(h.ArgsType)
	if err := json.Unmarshal(raw, argPtr.Interface()); err != nil {
		return reflect.Value{}, fmt.Errorf("failed to unmarshal args: %w", err)
	}
	return argPtr.Elem(), nil
}

func toPersistable(v reflect.Value) core.Persistable {
	if v.Type().Implements(persistableType) {
		if v.Kind() == reflect.Interface || v.Kind() == reflect.Pointer {
			if v.IsNil() {
				return core.Text("")
			}
		}
		return v.Interface().(core.Persistable)
	}
	if v.Kind() == reflect.String {
		return core.Text(v.String())
	}
	return core.JSON{Value: v.Interface()}
}
