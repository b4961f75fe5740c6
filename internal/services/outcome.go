package services

// Outcome reports how a best-effort side effect ended. Callers log it; it is
// never turned into a request failure.
type Outcome struct {
	Err error
}

func Succeeded() Outcome { return Outcome{} }

func Ignored(err error) Outcome { return Outcome{Err: err} }

func (o Outcome) OK() bool { return o.Err == nil }
