// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package reflection

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToInt(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want int
		ok   bool
	}{
		{"int", 3, 3, true},
		{"int64", int64(-2), -2, true},
		{"uint8", uint8(7), 7, true},
		{"integral float", float64(4), 4, true},
		{"fractional float", 4.5, 0, false},
		{"nan", math.NaN(), 0, false},
		{"string", "1", 0, false},
		{"nil", nil, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ToInt(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFunction_CallWithoutInvoker(t *testing.T) {
	fn := NewFunction("f", nil, nil)
	_, err := fn.Call(context.Background())
	assert.ErrorIs(t, err, ErrNilInvoker)
}

func TestType_ReleaseRunsOnce(t *testing.T) {
	calls := 0
	typ := NewType("T", KindInt, WithRelease(func() { calls++ }))
	typ.Release()
	typ.Release()
	assert.Equal(t, 1, calls)
	assert.Equal(t, "int", typ.Kind().String())
	assert.Equal(t, "unknown", Kind(200).String())
}

func TestParseKind(t *testing.T) {
	for k := KindAny; k <= KindObject; k++ {
		got, ok := ParseKind(k.String())
		assert.True(t, ok, k.String())
		assert.Equal(t, k, got)
	}
	_, ok := ParseKind("complex")
	assert.False(t, ok)
}
