package tools

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// decodeJSON unmarshals a tool's raw input into T, wrapping any error with
// context every tool's Execute can share instead of repeating it.
func decodeJSON[T any](input []byte) (T, error) {
	var v T
	if err := json.Unmarshal(input, &v); err != nil {
		return v, errors.Wrap(err, "invalid tool input")
	}
	return v, nil
}
