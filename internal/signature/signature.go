// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package signature parses textual function signatures used to describe
// functions that cross the host/plugin boundary.
//
// Grammar:
//
//	name "(" [ param { "," param } ] ")" [ "->" type ]
//	param = ident [ ":" type ]
//
// Parameters without a type and missing return types default to "any".
package signature

import (
	"fmt"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
	"github.com/samber/oops"
)

// Type names accepted in signatures.
const (
	TypeAny      = "any"
	TypeNull     = "null"
	TypeBool     = "bool"
	TypeInt      = "int"
	TypeFloat    = "float"
	TypeString   = "string"
	TypeBuffer   = "buffer"
	TypeArray    = "array"
	TypeMap      = "map"
	TypeFunction = "function"
)

var knownTypes = map[string]struct{}{
	TypeAny: {}, TypeNull: {}, TypeBool: {}, TypeInt: {}, TypeFloat: {},
	TypeString: {}, TypeBuffer: {}, TypeArray: {}, TypeMap: {}, TypeFunction: {},
}

// sigLexer keeps "->" as one token; the default text/scanner lexer splits it.
var sigLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Arrow", Pattern: `->`},
	{Name: "Ident", Pattern: `[a-zA-Z_][\w.]*`},
	{Name: "Punct", Pattern: `[(),:]`},
	{Name: "whitespace", Pattern: `\s+`},
})

type signatureAST struct {
	Name   string      `parser:"@Ident"`
	Params []*paramAST `parser:"'(' ( @@ ( ',' @@ )* )? ')'"`
	Return string      `parser:"( '->' @Ident )?"`
}

type paramAST struct {
	Name string `parser:"@Ident"`
	Type string `parser:"( ':' @Ident )?"`
}

var parser = participle.MustBuild[signatureAST](participle.Lexer(sigLexer))

// Param is a named, typed function parameter.
type Param struct {
	Name string
	Type string
}

// Signature describes a function's name, parameters, and return type.
type Signature struct {
	Name   string
	Params []Param
	Return string
}

// Parse parses a signature such as "greet(name: string, times: int) -> string".
func Parse(text string) (*Signature, error) {
	ast, err := parser.ParseString("", text)
	if err != nil {
		return nil, oops.In("signature").With("signature", text).Wrapf(err, "parsing signature")
	}

	sig := &Signature{
		Name:   ast.Name,
		Params: make([]Param, 0, len(ast.Params)),
		Return: orAny(ast.Return),
	}
	seen := make(map[string]struct{}, len(ast.Params))
	for _, p := range ast.Params {
		if _, dup := seen[p.Name]; dup {
			return nil, oops.In("signature").With("signature", text).Errorf("duplicate parameter %q", p.Name)
		}
		seen[p.Name] = struct{}{}
		sig.Params = append(sig.Params, Param{Name: p.Name, Type: orAny(p.Type)})
	}

	if err := sig.Validate(); err != nil {
		return nil, err
	}
	return sig, nil
}

// MustParse is like Parse but panics on error. Intended for static tables.
func MustParse(text string) *Signature {
	sig, err := Parse(text)
	if err != nil {
		panic(fmt.Sprintf("signature.MustParse(%q): %v", text, err))
	}
	return sig
}

// Validate checks that every type name is known.
func (s *Signature) Validate() error {
	for _, p := range s.Params {
		if !IsKnownType(p.Type) {
			return oops.In("signature").With("function", s.Name).Errorf("parameter %q has unknown type %q", p.Name, p.Type)
		}
	}
	if !IsKnownType(s.Return) {
		return oops.In("signature").With("function", s.Name).Errorf("unknown return type %q", s.Return)
	}
	return nil
}

// Arity returns the number of parameters.
func (s *Signature) Arity() int {
	return len(s.Params)
}

// Types returns the distinct type names the signature uses, parameters
// first, in order of appearance.
func (s *Signature) Types() []string {
	seen := make(map[string]struct{}, len(s.Params)+1)
	out := make([]string, 0, len(s.Params)+1)
	add := func(t string) {
		if _, ok := seen[t]; ok {
			return
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	for _, p := range s.Params {
		add(p.Type)
	}
	add(s.Return)
	return out
}

// String renders the signature in canonical form.
func (s *Signature) String() string {
	var b strings.Builder
	b.WriteString(s.Name)
	b.WriteByte('(')
	for i, p := range s.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.Name)
		b.WriteString(": ")
		b.WriteString(p.Type)
	}
	b.WriteString(") -> ")
	b.WriteString(s.Return)
	return b.String()
}

// IsKnownType reports whether name is a valid signature type.
func IsKnownType(name string) bool {
	_, ok := knownTypes[name]
	return ok
}

func orAny(t string) string {
	if t == "" {
		return TypeAny
	}
	return t
}
