package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformed is returned by Decode when the payload is not a well-formed
// ndt7 measurement message.
var ErrMalformed = errors.New("malformed measurement message")

// Decode parses the payload of an ndt7 textual message. Unknown fields are
// ignored and absent fields stay absent, so that a consumer can tell "not
// reported" from "reported as zero". The returned error wraps ErrMalformed
// when the payload is not valid JSON or violates the expected field types.
func Decode(data []byte) (Measurement, error) {
	var m Measurement
	if err := json.Unmarshal(data, &m); err != nil {
		return Measurement{}, fmt.Errorf("%w: %s", ErrMalformed, err)
	}
	return m, nil
}

// Encode serialises a Measurement as the payload of an ndt7 textual
// message. Encode never emits a field that Decode would reject.
func Encode(m Measurement) ([]byte, error) {
	return json.Marshal(m)
}
