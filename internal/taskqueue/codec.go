package taskqueue

import (
	"bytes"
	"encoding/gob"
)

// EncodeTrigger gob-encodes a Trigger.
func EncodeTrigger(t Trigger) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&t); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeTrigger gob-decodes a Trigger.
func DecodeTrigger(data []byte) (*Trigger, error) {
	var t Trigger
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&t); err != nil {
		return nil, err
	}
	return &t, nil
}
