// internal/envelope/frame.go
package envelope

import (
	"encoding/json"
	"fmt"
)

// OutputFrame is the output envelope of one client request.
type OutputFrame struct {
	Mode    Mode
	Results []any
}

// MarshalJSON encodes the frame as {"predictions": [...]} or {"explanations": [...]}.
func (f OutputFrame) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.Map())
}

// Map returns the frame as a plain object.
func (f OutputFrame) Map() map[string]any {
	results := f.Results
	if results == nil {
		results = []any{}
	}
	return map[string]any{f.Mode.Field(): results}
}

// Frame slices flat results back into one frame per ledger entry. The mode is
// looked up once and applies to every frame of the call.
func Frame(results []any, ledger Ledger, lookup HeaderLookup) ([]OutputFrame, error) {
	return FrameMode(results, ledger, ModeOf(lookup))
}

// FrameMode is Frame with an already resolved mode. Results beyond the ledger
// total are left unused; a ledger asking for more than is available fails.
func FrameMode(results []any, ledger Ledger, mode Mode) ([]OutputFrame, error) {
	want := ledger.Total()
	if want > len(results) {
		return nil, &LengthMismatchError{Want: want, Have: len(results)}
	}

	frames := make([]OutputFrame, 0, len(ledger))
	cursor := 0
	for i, n := range ledger {
		if n < 0 {
			return nil, &LengthMismatchError{Want: want, Have: len(results), Reason: fmt.Sprintf("negative ledger entry %d at %d", n, i)}
		}
		end := cursor + n
		if end > len(results) {
			return nil, &LengthMismatchError{Want: end, Have: len(results)}
		}
		frames = append(frames, OutputFrame{Mode: mode, Results: results[cursor:end:end]})
		cursor = end
	}
	return frames, nil
}
