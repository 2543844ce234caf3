package store

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const entryJSON = `{"id":"e1","subject_id":"s1","service_date":"2026-01-12","created_at":"2026-01-12T09:00:00Z","status":"waiting","sequence_number":1,"visit_reason":"fever","frozen_wait_estimate":"10 mins"}`

func TestDecodeEntriesShapes(t *testing.T) {
	cases := []struct {
		name string
		body string
		want int
	}{
		{"bare array", `[` + entryJSON + `]`, 1},
		{"data envelope", `{"data":[` + entryJSON + `]}`, 1},
		{"items envelope", `{"items":[` + entryJSON + `,` + entryJSON + `]}`, 2},
		{"nested envelope", `{"data":{"records":[` + entryJSON + `]}}`, 1},
		{"empty array", `[]`, 0},
		{"empty envelope", `{"results":[]}`, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			entries, err := DecodeEntries([]byte(tc.body))
			require.NoError(t, err)
			assert.Len(t, entries, tc.want)
			assert.NotNil(t, entries)
		})
	}
}

func TestDecodeEntriesRejectsUnknownShapes(t *testing.T) {
	bodies := []string{
		``,
		`null`,
		`"entries"`,
		`{"entries":[]}`,
		`{"data":null}`,
		`{"data":{"data":{"data":[]}}}`,
		`[{"id":"e1","status":"paused"}]`,
		`[{"status":"waiting"}]`,
	}
	for _, body := range bodies {
		_, err := DecodeEntries([]byte(body))
		if !errors.Is(err, ErrMalformedResponse) {
			t.Fatalf("DecodeEntries(%q) err=%v, want ErrMalformedResponse", body, err)
		}
	}
}

func TestDecodeEntry(t *testing.T) {
	for _, body := range []string{entryJSON, `{"data":` + entryJSON + `}`, `{"record":` + entryJSON + `}`} {
		entry, err := DecodeEntry([]byte(body))
		require.NoError(t, err)
		assert.Equal(t, "e1", entry.ID)
		assert.Equal(t, "2026-01-12", entry.ServiceDate.String())
	}
	_, err := DecodeEntry([]byte(`[` + entryJSON + `]`))
	assert.ErrorIs(t, err, ErrMalformedResponse)
	_, err = DecodeEntry([]byte(`{"ok":true}`))
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestDecodeSubjects(t *testing.T) {
	subjects, err := DecodeSubjects([]byte(`{"data":[{"id":"s1","display_name":"Ani","phone":"0812"}]}`))
	require.NoError(t, err)
	require.Len(t, subjects, 1)
	assert.Equal(t, "0812", subjects[0].Phone)

	_, err = DecodeSubjects([]byte(`[{"display_name":"nobody"}]`))
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestRejectedField(t *testing.T) {
	err := ValidationRejected("visit_reason", "too long")
	field, ok := RejectedField(err)
	assert.True(t, ok)
	assert.Equal(t, "visit_reason", field)

	_, ok = RejectedField(ErrNetworkFailure)
	assert.False(t, ok)
}
