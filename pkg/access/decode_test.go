package access

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeList(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		count   int
		wantErr bool
	}{
		{"array", `[{"id":1},{"id":2}]`, 2, false},
		{"envelope", `{"loans":[{"id":1}],"total":1}`, 1, false},
		{"empty array", `[]`, 0, false},
		{"wrong envelope", `{"items":[{"id":1}]}`, 0, true},
		{"envelope not array", `{"loans":{"id":1}}`, 0, true},
		{"scalar", `42`, 0, true},
		{"empty", ``, 0, true},
		{"broken", `[{"id":`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := decodeList(json.RawMessage(tt.body), "loans")
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnexpectedShape)
				return
			}
			require.NoError(t, err)
			assert.Len(t, items, tt.count)
		})
	}
}

func TestDecodeObject(t *testing.T) {
	p, err := decodeObject(json.RawMessage(`{"loan":{"id":"7","personName":"Ana"}}`), "loan")
	require.NoError(t, err)
	assert.Equal(t, "7", p.String("id"))

	p, err = decodeObject(json.RawMessage(`{"_id":"8"}`), "loan")
	require.NoError(t, err)
	assert.Equal(t, "8", p.String("_id"))

	_, err = decodeObject(json.RawMessage(`[1]`), "loan")
	assert.ErrorIs(t, err, ErrUnexpectedShape)
}
