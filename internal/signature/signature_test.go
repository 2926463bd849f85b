// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package signature

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		want   string
		params int
	}{
		{"typed params and return", "add(a: int, b: int) -> int", "add(a: int, b: int) -> int", 2},
		{"no params", "tick()", "tick() -> any", 0},
		{"untyped param", "echo(x)", "echo(x: any) -> any", 1},
		{"dotted name", "math.max(a: float, b: float) -> float", "math.max(a: float, b: float) -> float", 2},
		{"extra whitespace", "  greet ( name : string )  ->  string ", "greet(name: string) -> string", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig, err := Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, sig.String())
			assert.Equal(t, tt.params, sig.Arity())
		})
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"missing parens", "add"},
		{"unknown param type", "add(a: integer)"},
		{"unknown return type", "add(a: int) -> number"},
		{"duplicate param", "add(a: int, a: int)"},
		{"trailing comma", "add(a: int,)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.input)
			assert.Error(t, err)
		})
	}
}

func TestMustParse_Panics(t *testing.T) {
	assert.Panics(t, func() { MustParse("(") })
	assert.NotPanics(t, func() { MustParse("ok()") })
}

func TestSignature_Types(t *testing.T) {
	sig := MustParse("mix(a: int, b: string, c: int) -> string")
	assert.Equal(t, []string{"int", "string"}, sig.Types())

	assert.Equal(t, []string{"any"}, MustParse("f()").Types())
}
