// Package signal evaluates buy/sell threshold rules against the latest
// indicator values of each instrument.
//
// Rules are keyed by indicator column name. Evaluation is stateless: every
// call re-derives events from the source's current rows, and both a Buy and
// a Sell may fire for the same rule in one pass. Conflict resolution belongs
// to the trade-execution side.
package signal

import (
	"fmt"
	"iter"

	"autotrader/internal/model"
)

// Rule holds the thresholds for one indicator column.
type Rule struct {
	Indicator     string   `json:"indicator" yaml:"indicator"`
	BuyThreshold  float64  `json:"buy" yaml:"buy"`
	SellThreshold float64  `json:"sell" yaml:"sell"`
	BuyOp         Operator `json:"buy_op" yaml:"buy_op"`
	SellOp        Operator `json:"sell_op" yaml:"sell_op"`
}

// Validate checks the rule's name and operators.
func (r Rule) Validate() error {
	if r.Indicator == "" {
		return fmt.Errorf("%w: empty indicator name", ErrInvalidRule)
	}
	if !r.BuyOp.Valid() {
		return fmt.Errorf("rule %s buy: %w", r.Indicator, ErrInvalidOperator)
	}
	if !r.SellOp.Valid() {
		return fmt.Errorf("rule %s sell: %w", r.Indicator, ErrInvalidOperator)
	}
	return nil
}

// Source is what the evaluator reads: instruments and their latest rows.
type Source interface {
	Instruments() []model.Instrument
	Latest(inst model.Instrument) (model.Row, bool)
}

// Evaluator holds rules in registration order.
type Evaluator struct {
	rules []Rule
	index map[string]int
}

// NewEvaluator creates an empty evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{index: make(map[string]int)}
}

// SetRule upserts the rule for an indicator.
func (e *Evaluator) SetRule(indicator string, buy, sell float64, buyOp, sellOp Operator) error {
	return e.Put(Rule{
		Indicator:     indicator,
		BuyThreshold:  buy,
		SellThreshold: sell,
		BuyOp:         buyOp,
		SellOp:        sellOp,
	})
}

// Put upserts a rule value. A replaced rule keeps its evaluation position.
func (e *Evaluator) Put(r Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if i, ok := e.index[r.Indicator]; ok {
		e.rules[i] = r
		return nil
	}
	e.index[r.Indicator] = len(e.rules)
	e.rules = append(e.rules, r)
	return nil
}

// GetRule returns the rule for an indicator.
func (e *Evaluator) GetRule(indicator string) (Rule, bool) {
	i, ok := e.index[indicator]
	if !ok {
		return Rule{}, false
	}
	return e.rules[i], true
}

// Rules returns a copy of all rules keyed by indicator name.
func (e *Evaluator) Rules() map[string]Rule {
	out := make(map[string]Rule, len(e.rules))
	for _, r := range e.rules {
		out[r.Indicator] = r
	}
	return out
}

// List returns the rules in registration order.
func (e *Evaluator) List() []Rule {
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// RemoveRule deletes a rule. Returns false if none existed.
func (e *Evaluator) RemoveRule(indicator string) bool {
	i, ok := e.index[indicator]
	if !ok {
		return false
	}
	e.rules = append(e.rules[:i], e.rules[i+1:]...)
	delete(e.index, indicator)
	for j := i; j < len(e.rules); j++ {
		e.index[e.rules[j].Indicator] = j
	}
	return true
}

// Evaluate lazily yields events for every instrument (in src order) and
// every rule (in registration order). Rules whose column has no value on
// the latest row are skipped. The rule set is captured when Evaluate is
// called; rows are read as the sequence is consumed.
func (e *Evaluator) Evaluate(src Source) iter.Seq[model.SignalEvent] {
	rules := e.List()
	return func(yield func(model.SignalEvent) bool) {
		if len(rules) == 0 {
			return
		}
		for _, inst := range src.Instruments() {
			row, ok := src.Latest(inst)
			if !ok {
				continue
			}
			for _, r := range rules {
				v, ok := row.Column(r.Indicator)
				if !ok {
					continue
				}
				if r.BuyOp.Apply(v, r.BuyThreshold) {
					if !yield(newEvent(row, r.Indicator, model.SignalBuy, v)) {
						return
					}
				}
				if r.SellOp.Apply(v, r.SellThreshold) {
					if !yield(newEvent(row, r.Indicator, model.SignalSell, v)) {
						return
					}
				}
			}
		}
	}
}

// Collect evaluates and gathers all events into a slice.
func (e *Evaluator) Collect(src Source) []model.SignalEvent {
	var out []model.SignalEvent
	for ev := range e.Evaluate(src) {
		out = append(out, ev)
	}
	return out
}

func newEvent(row model.Row, indicator string, kind model.SignalKind, v float64) model.SignalEvent {
	return model.SignalEvent{
		Instrument: row.Instrument,
		Indicator:  indicator,
		Kind:       kind,
		Value:      v,
		Timestamp:  row.Timestamp,
	}
}
