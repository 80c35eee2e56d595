package upload

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitBatch_RejectsOversizeBatch(t *testing.T) {
	tr, mb, fake := newTestTracker(t, nil)

	items := make([]Item, 6)
	for i := range items {
		items[i] = URLItem("https://example.com/doc")
	}

	results := tr.SubmitBatch(context.Background(), items)
	require.Len(t, results, 6)
	for _, r := range results {
		var serr *SubmissionError
		require.ErrorAs(t, r.Err, &serr)
		assert.Equal(t, CodeBatchTooLarge, serr.Code)
		assert.Nil(t, r.Entry)
	}
	assert.True(t, Failed(results))
	assert.Empty(t, mb.Submissions())
	assert.Equal(t, 0, fake.Pending())
}

func TestSubmitBatch_PerItemResultsInOrder(t *testing.T) {
	tr, mb, fake := newTestTracker(t, nil)

	items := []Item{
		BytesItem("notes.pdf", buildPDF(1, 0)),
		BytesItem("essay.docx", []byte("PK")),
		URLItem("https://example.com/article"),
	}

	results := tr.SubmitBatch(context.Background(), items)
	require.Len(t, results, 3)

	assert.Equal(t, "notes.pdf", results[0].Item)
	require.NoError(t, results[0].Err)
	require.NotNil(t, results[0].Entry)

	var serr *SubmissionError
	require.ErrorAs(t, results[1].Err, &serr)
	assert.Equal(t, CodeUnsupportedType, serr.Code)
	assert.Nil(t, results[1].Entry)

	require.NoError(t, results[2].Err)
	assert.Equal(t, "https://example.com/article", results[2].Entry.Name)

	assert.True(t, Failed(results))
	assert.Len(t, mb.Submissions(), 2)
	assert.Len(t, tr.Entries(), 2)
	assert.Equal(t, 2, fake.Pending())
}

func TestSubmitBatch_AllAccepted(t *testing.T) {
	tr, _, _ := newTestTracker(t, nil)

	results := tr.SubmitBatch(context.Background(), []Item{
		URLItem("https://example.com/a"),
		URLItem("https://example.com/b"),
	})

	assert.False(t, Failed(results))
	assert.Len(t, tr.Entries(), 2)
}
