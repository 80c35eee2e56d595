package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusResponse_Readiness(t *testing.T) {
	tests := []struct {
		name string
		body string
		want Readiness
	}{
		{name: "ready", body: `{"ready":true,"stage":"done"}`, want: Ready},
		{name: "not ready with stage", body: `{"ready":false,"stage":"parsing"}`, want: NotReady},
		{name: "ready flag absent", body: `{"stage":"embedding"}`, want: NotReady},
		{name: "null error", body: `{"ready":false,"error":null}`, want: NotReady},
		{name: "empty error", body: `{"ready":false,"error":""}`, want: NotReady},
		{name: "backend error", body: `{"ready":false,"error":"no text","stage":"error"}`, want: Failed},
		{name: "ready wins over stale error", body: `{"ready":true,"error":"old"}`, want: Ready},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp StatusResponse
			require.NoError(t, json.Unmarshal([]byte(tt.body), &resp))
			assert.Equal(t, tt.want, resp.Readiness())
		})
	}
}

func TestStatusResponse_StageAbsentVsPresent(t *testing.T) {
	var absent, present StatusResponse
	require.NoError(t, json.Unmarshal([]byte(`{"ready":false}`), &absent))
	require.NoError(t, json.Unmarshal([]byte(`{"ready":false,"stage":""}`), &present))

	assert.Nil(t, absent.Stage)
	require.NotNil(t, present.Stage)
	assert.Equal(t, "", *present.Stage)
}

func TestUploadEntry_CloneIsDeep(t *testing.T) {
	size := int64(42)
	e := NewUploadEntry("abc", "doc.pdf", SourceKindPDF, &size, time.Now())

	c := e.Clone()
	*c.Size = 7
	*c.Stage = "embedding"

	assert.Equal(t, int64(42), *e.Size)
	assert.Equal(t, StageParsing, e.StageName())
	assert.Equal(t, EntryStatusIndexing, c.Status)
}

func TestEntryStatus_Terminal(t *testing.T) {
	assert.True(t, EntryStatusSuccess.Terminal())
	assert.True(t, EntryStatusError.Terminal())
	assert.False(t, EntryStatusIndexing.Terminal())
	assert.False(t, EntryStatusExhausted.Terminal())
}
