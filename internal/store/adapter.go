package store

import (
	"bytes"
	"encoding/json"
	"fmt"

	"qms/qalert/internal/models"
)

// Record stores answer either with a bare JSON array or with the array
// wrapped in an object under one of these keys. Single records follow the
// same rule with an object in place of the array.
var envelopeKeys = []string{"data", "items", "records", "results", "record", "item"}

const maxEnvelopeDepth = 2

// DecodeEntries normalises a listing response into entries. Unknown
// shapes fail with ErrMalformedResponse instead of decoding as empty.
func DecodeEntries(body []byte) ([]models.QueueEntry, error) {
	entries, err := decodeSequence[models.QueueEntry](body, 0)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if err := checkEntry(entries[i]); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

func DecodeSubjects(body []byte) ([]models.Subject, error) {
	subjects, err := decodeSequence[models.Subject](body, 0)
	if err != nil {
		return nil, err
	}
	for _, subject := range subjects {
		if subject.ID == "" {
			return nil, fmt.Errorf("%w: subject without id", ErrMalformedResponse)
		}
	}
	return subjects, nil
}

func DecodeEntry(body []byte) (models.QueueEntry, error) {
	raw, err := unwrapObject(body, 0)
	if err != nil {
		return models.QueueEntry{}, err
	}
	var entry models.QueueEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return models.QueueEntry{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if err := checkEntry(entry); err != nil {
		return models.QueueEntry{}, err
	}
	return entry, nil
}

func checkEntry(entry models.QueueEntry) error {
	if entry.ID == "" {
		return fmt.Errorf("%w: entry without id", ErrMalformedResponse)
	}
	if !models.IsKnownStatus(entry.Status) {
		return fmt.Errorf("%w: entry %s has unknown status %q", ErrMalformedResponse, entry.ID, entry.Status)
	}
	return nil
}

func decodeSequence[T any](body []byte, depth int) ([]T, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrMalformedResponse)
	}
	switch trimmed[0] {
	case '[':
		var items []T
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		if items == nil {
			items = []T{}
		}
		return items, nil
	case '{':
		if depth >= maxEnvelopeDepth {
			return nil, fmt.Errorf("%w: envelope nested too deep", ErrMalformedResponse)
		}
		var envelope map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &envelope); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
		for _, key := range envelopeKeys {
			if inner, ok := envelope[key]; ok {
				return decodeSequence[T](inner, depth+1)
			}
		}
		return nil, fmt.Errorf("%w: object without a known collection key", ErrMalformedResponse)
	default:
		return nil, fmt.Errorf("%w: expected array or object", ErrMalformedResponse)
	}
}

func unwrapObject(body []byte, depth int) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: expected object", ErrMalformedResponse)
	}
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if _, ok := envelope["id"]; ok {
		return json.RawMessage(trimmed), nil
	}
	if depth >= maxEnvelopeDepth {
		return nil, fmt.Errorf("%w: envelope nested too deep", ErrMalformedResponse)
	}
	for _, key := range envelopeKeys {
		if inner, ok := envelope[key]; ok {
			return unwrapObject(inner, depth+1)
		}
	}
	return nil, fmt.Errorf("%w: object without id or known record key", ErrMalformedResponse)
}
