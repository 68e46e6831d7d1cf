package core

import (
	"encoding/json"
	"fmt"
)

// Text is a plain-text task output.
type Text string

// Persist implements Persistable.
func (t Text) Persist() (string, error) {
	return string(t), nil
}

// JSON is a structured task output stored as its JSON encoding.
type JSON struct {
	Value any
}

// Persist implements Persistable.
func (j JSON) Persist() (string, error) {
	b, err := json.Marshal(j.Value)
	if err != nil {
		return "", fmt.Errorf("persist output: %w", err)
	}
	return string(b), nil
}
