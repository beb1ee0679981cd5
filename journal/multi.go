package journal

import "errors"

// Multi fans each record out to several journals. Every sink is attempted;
// errors are joined.
type Multi []Journal

func (m Multi) each(fn func(Journal) error) error {
	var errs []error
	for _, j := range m {
		if err := fn(j); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) RecordSignal(s SignalRecord) error {
	return m.each(func(j Journal) error { return j.RecordSignal(s) })
}

func (m Multi) RecordDecision(d DecisionRecord) error {
	return m.each(func(j Journal) error { return j.RecordDecision(d) })
}

func (m Multi) RecordTransition(t TransitionRecord) error {
	return m.each(func(j Journal) error { return j.RecordTransition(t) })
}

func (m Multi) RecordPosition(p PositionRecord) error {
	return m.each(func(j Journal) error { return j.RecordPosition(p) })
}

func (m Multi) Close() error {
	return m.each(func(j Journal) error { return j.Close() })
}
