package indicator

import (
	"fmt"
	"sort"

	"autotrader/internal/frame"
	"autotrader/internal/model"
)

// Frame is the part of frame.Store the engine reads and writes.
type Frame interface {
	GroupByInstrument() map[model.Instrument]frame.Series
	SetColumn(inst model.Instrument, ts int64, name string, v model.Value) error
}

// Engine keeps the registered indicator definitions, ordered by first
// registration and keyed by output column, and writes their columns into a
// Frame. Not safe for concurrent use.
type Engine struct {
	frame Frame
	defs  []Definition
	index map[string]int // column → position in defs
}

// NewEngine creates an engine over the given frame.
func NewEngine(f Frame) *Engine {
	return &Engine{
		frame: f,
		index: make(map[string]int, 8),
	}
}

// Register stores a definition and computes its column. A definition with
// the same column name is replaced in place (last write wins).
func (e *Engine) Register(def Definition) error {
	def = def.Normalize()
	if err := def.Validate(); err != nil {
		return fmt.Errorf("register %s: %w", def.Column, err)
	}
	if i, ok := e.index[def.Column]; ok {
		e.defs[i] = def
	} else {
		e.index[def.Column] = len(e.defs)
		e.defs = append(e.defs, def)
	}
	return e.Compute(def)
}

// Unregister forgets a definition. Values already written stay in the
// frame. Returns false if no definition has that column.
func (e *Engine) Unregister(column string) bool {
	i, ok := e.index[column]
	if !ok {
		return false
	}
	e.defs = append(e.defs[:i], e.defs[i+1:]...)
	delete(e.index, column)
	for j := i; j < len(e.defs); j++ {
		e.index[e.defs[j].Column] = j
	}
	return true
}

// Compute writes the definition's column for every instrument group.
// Rows without enough history get an absent value.
func (e *Engine) Compute(def Definition) error {
	def = def.Normalize()
	if err := def.Validate(); err != nil {
		return fmt.Errorf("compute %s: %w", def.Column, err)
	}

	groups := e.frame.GroupByInstrument()
	insts := make([]model.Instrument, 0, len(groups))
	for inst := range groups {
		insts = append(insts, inst)
	}
	sort.Slice(insts, func(i, j int) bool { return insts[i] < insts[j] })

	calc := newCalculator(def)
	for _, inst := range insts {
		series := groups[inst]
		calc.Reset()
		for i := 0; i < series.Len(); i++ {
			b := series.At(i)
			calc.Update(b.Close)
			v := model.None()
			if calc.Ready() {
				v = model.Some(calc.Value())
			}
			if err := e.frame.SetColumn(inst, b.Timestamp, def.Column, v); err != nil {
				return fmt.Errorf("compute %s: %w", def.Column, err)
			}
		}
	}
	return nil
}

// Refresh recomputes every registered column in registration order.
func (e *Engine) Refresh() error {
	for _, def := range e.defs {
		if err := e.Compute(def); err != nil {
			return err
		}
	}
	return nil
}

// Definitions returns the registered definitions in registration order.
func (e *Engine) Definitions() []Definition {
	out := make([]Definition, len(e.defs))
	copy(out, e.defs)
	return out
}

// Definition returns the definition producing a column.
func (e *Engine) Definition(column string) (Definition, bool) {
	i, ok := e.index[column]
	if !ok {
		return Definition{}, false
	}
	return e.defs[i], true
}

// Len returns the number of registered definitions.
func (e *Engine) Len() int { return len(e.defs) }
