package signal

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidOperator is returned for an operator outside the closed set.
var ErrInvalidOperator = errors.New("invalid comparison operator")

// Operator is a comparison applied as op(value, threshold).
type Operator int

const (
	OpInvalid Operator = iota
	OpGT
	OpGE
	OpLT
	OpLE
	OpEQ
)

var opNames = map[Operator]string{
	OpGT: "gt",
	OpGE: "ge",
	OpLT: "lt",
	OpLE: "le",
	OpEQ: "eq",
}

var opAliases = map[string]Operator{
	"gt": OpGT, ">": OpGT,
	"ge": OpGE, ">=": OpGE,
	"lt": OpLT, "<": OpLT,
	"le": OpLE, "<=": OpLE,
	"eq": OpEQ, "==": OpEQ, "=": OpEQ,
}

// ParseOperator accepts gt|ge|lt|le|eq (any case) or > >= < <= ==.
func ParseOperator(s string) (Operator, error) {
	op, ok := opAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return OpInvalid, fmt.Errorf("%w: %q", ErrInvalidOperator, s)
	}
	return op, nil
}

// Valid reports whether op is one of the five comparisons.
func (op Operator) Valid() bool {
	_, ok := opNames[op]
	return ok
}

// Apply evaluates op(value, threshold). EQ is exact float equality.
func (op Operator) Apply(value, threshold float64) bool {
	switch op {
	case OpGT:
		return value > threshold
	case OpGE:
		return value >= threshold
	case OpLT:
		return value < threshold
	case OpLE:
		return value <= threshold
	case OpEQ:
		return value == threshold
	}
	return false
}

func (op Operator) String() string {
	if name, ok := opNames[op]; ok {
		return name
	}
	return "invalid"
}

// MarshalText makes operators serialise as their short names in JSON and YAML.
func (op Operator) MarshalText() ([]byte, error) {
	if !op.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidOperator, int(op))
	}
	return []byte(op.String()), nil
}

// UnmarshalText parses any form accepted by ParseOperator.
func (op *Operator) UnmarshalText(text []byte) error {
	parsed, err := ParseOperator(string(text))
	if err != nil {
		return err
	}
	*op = parsed
	return nil
}
