// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package reflection

import (
	"context"
	"errors"
	"math"

	"github.com/holomush/polyload/internal/signature"
)

// ErrNilInvoker is returned when calling a function that has no implementation.
var ErrNilInvoker = errors.New("function has no invoker")

// Invoker implements a function's call.
type Invoker func(ctx context.Context, args ...any) (any, error)

// Function is a named callable discovered in a module.
type Function struct {
	name   string
	sig    *signature.Signature
	invoke Invoker
}

// NewFunction creates a function. sig may be nil when the plugin cannot
// describe the function's shape.
func NewFunction(name string, sig *signature.Signature, invoke Invoker) *Function {
	return &Function{name: name, sig: sig, invoke: invoke}
}

// Name returns the function name.
func (f *Function) Name() string { return f.name }

// Signature returns the declared signature, or nil.
func (f *Function) Signature() *signature.Signature { return f.sig }

// Call invokes the function.
func (f *Function) Call(ctx context.Context, args ...any) (any, error) {
	if f.invoke == nil {
		return nil, ErrNilInvoker
	}
	return f.invoke(ctx, args...)
}

// ToInt interprets a call result as an integer. Floats qualify only when
// they hold an integral value.
func ToInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint:
		return int(n), true //nolint:gosec // result codes are small
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		return int(n), true //nolint:gosec // result codes are small
	case float32:
		return floatToInt(float64(n))
	case float64:
		return floatToInt(n)
	default:
		return 0, false
	}
}

func floatToInt(f float64) (int, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}
