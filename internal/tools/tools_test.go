package tools

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want Tool
	}{
		{"Proxy", Proxy},
		{"repeater", Repeater},
		{"  INTRUDER ", Intruder},
		{"idle", Idle},
		{"Extensions", Extensions},
	}
	for _, tt := range tests {
		got, err := Parse(tt.in)
		require.NoError(t, err, "Parse(%q)", tt.in)
		assert.Equal(t, tt.want, got, "Parse(%q)", tt.in)
	}
}

func TestParseUnknown(t *testing.T) {
	_, err := Parse("spider")
	assert.Error(t, err)
}

func TestAllExcludesIdleInRankOrder(t *testing.T) {
	all := All()
	require.Len(t, all, 8)
	assert.NotContains(t, all, Idle)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].Rank(), all[i].Rank(), "All() not in rank order at %d", i)
	}
}

func TestStringInvalid(t *testing.T) {
	assert.Equal(t, "Tool(99)", Tool(99).String())
}

func TestJSONText(t *testing.T) {
	raw, err := json.Marshal([]Tool{Scanner, Proxy})
	require.NoError(t, err)
	assert.JSONEq(t, `["Scanner","Proxy"]`, string(raw))

	var got []Tool
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, []Tool{Scanner, Proxy}, got)
}
