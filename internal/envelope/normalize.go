// internal/envelope/normalize.go

// Package envelope converts between multi-instance inference requests and the
// flat batch consumed by a model, and frames flat results back per request.
//
// The ledger returned by Normalize must be passed to the Frame call of the same
// cycle. Nothing in this package keeps it between calls, so one cycle per
// in-flight batch can run concurrently without coordination.
package envelope

// Batch is the ordered concatenation of every request's instances.
type Batch []any

// Ledger holds the number of instances contributed by each request, in request order.
type Ledger []int

// Total returns the number of flat items the ledger accounts for.
func (l Ledger) Total() int {
	total := 0
	for _, n := range l {
		total += n
	}
	return total
}

// Options tunes how Normalize recognises inline-encoded instances.
type Options struct {
	// Base64Inline reserves {"data": {"b64": "..."}} for inline payloads so
	// JSON transports, which cannot carry raw bytes, can send them. When
	// off, that shape is an ordinary direct instance.
	Base64Inline bool
}

// Normalize is NormalizeWith using the default Options.
func Normalize(batch []RawRequest) (Batch, Ledger, error) {
	return NormalizeWith(batch, Options{})
}

// NormalizeWith flattens the instances of every request into one batch and records
// how many instances each request contributed. Inline-encoded instances are
// decoded in place. The first malformed request or undecodable instance aborts
// the whole batch.
func NormalizeWith(batch []RawRequest, opts Options) (Batch, Ledger, error) {
	flat := make(Batch, 0, len(batch))
	ledger := make(Ledger, 0, len(batch))

	for i, req := range batch {
		rows, err := req.instances(i)
		if err != nil {
			return nil, nil, err
		}

		for j, row := range rows {
			v, err := ParseInstanceWith(row, opts).Resolve()
			if err != nil {
				return nil, nil, &DecodeError{Request: i, Instance: j, Err: err}
			}
			flat = append(flat, v)
		}
		ledger = append(ledger, len(rows))
	}

	return flat, ledger, nil
}
