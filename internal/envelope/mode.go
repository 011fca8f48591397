// internal/envelope/mode.go
package envelope

// ExplainHeader is the per-call header that selects explain mode.
const ExplainHeader = "explain"

// explainValue is compared as an exact, case-sensitive string. "true" and
// boolean true do not select explain mode.
const explainValue = "True"

// Mode selects the field name of every frame produced by one Frame call.
type Mode int

const (
	ModePredict Mode = iota
	ModeExplain
)

// Field returns the output envelope key for the mode.
func (m Mode) Field() string {
	if m == ModeExplain {
		return "explanations"
	}
	return "predictions"
}

func (m Mode) String() string {
	if m == ModeExplain {
		return "explain"
	}
	return "predict"
}

// HeaderLookup gives access to the headers of the current call.
type HeaderLookup interface {
	Header(key string) (any, bool)
}

// HeaderFunc adapts a function to HeaderLookup.
type HeaderFunc func(key string) (any, bool)

func (f HeaderFunc) Header(key string) (any, bool) { return f(key) }

// Headers is a static HeaderLookup.
type Headers map[string]any

func (h Headers) Header(key string) (any, bool) {
	v, ok := h[key]
	return v, ok
}

// HeadersFor returns the headers that select mode m.
func HeadersFor(m Mode) Headers {
	if m == ModeExplain {
		return Headers{ExplainHeader: explainValue}
	}
	return Headers{}
}

// ModeOf reads the explain header once. A nil lookup means predict.
func ModeOf(lookup HeaderLookup) Mode {
	if lookup == nil {
		return ModePredict
	}
	v, ok := lookup.Header(ExplainHeader)
	if !ok {
		return ModePredict
	}
	if s, ok := v.(string); ok && s == explainValue {
		return ModeExplain
	}
	return ModePredict
}
