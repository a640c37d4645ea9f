package icd10

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ParseSearchResponse decodes a search body of the form
//
//	[matchCount, fieldNames, extraData, [[code, description], ...]]
//
// It returns (nil, nil) when matchCount is zero.
func ParseSearchResponse(body []byte) (*Match, error) {
	var envelope []json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(envelope) < 4 {
		return nil, fmt.Errorf("%w: expected 4 elements, got %d", ErrMalformedResponse, len(envelope))
	}

	dec := json.NewDecoder(bytes.NewReader(envelope[0]))
	dec.UseNumber()
	var count json.Number
	if err := dec.Decode(&count); err != nil {
		return nil, fmt.Errorf("%w: match count: %v", ErrMalformedResponse, err)
	}
	total, err := count.Int64()
	if err != nil || total < 0 {
		return nil, fmt.Errorf("%w: match count %q is not a non-negative integer", ErrMalformedResponse, count.String())
	}
	if total == 0 {
		return nil, nil
	}

	var rows [][]json.RawMessage
	if err := json.Unmarshal(envelope[3], &rows); err != nil {
		return nil, fmt.Errorf("%w: rows: %v", ErrMalformedResponse, err)
	}
	if len(rows) == 0 || len(rows[0]) < 2 {
		return nil, fmt.Errorf("%w: count is %d but no [code, description] row", ErrMalformedResponse, total)
	}

	m := &Match{Total: int(total)}
	if isNull(rows[0][1]) {
		return nil, fmt.Errorf("%w: row description is null", ErrMalformedResponse)
	}
	if err := json.Unmarshal(rows[0][0], &m.Code); err != nil {
		return nil, fmt.Errorf("%w: row code: %v", ErrMalformedResponse, err)
	}
	if err := json.Unmarshal(rows[0][1], &m.Description); err != nil {
		return nil, fmt.Errorf("%w: row description: %v", ErrMalformedResponse, err)
	}
	return m, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(bytes.TrimSpace(raw)) == "null"
}
