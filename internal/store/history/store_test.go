package history

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imagereader/internal/analysis"
	"imagereader/internal/prompt"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "data", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordSuccessAndGet(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	at := time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)
	res := &analysis.Result{
		ID:    "res-1",
		Model: "ollama:llava:7b",
		Texts: map[prompt.Label]string{
			prompt.LabelDescribe:  "desc-text",
			prompt.LabelExtract:   "extract-text",
			prompt.LabelSummarize: "summary-text",
		},
	}
	require.NoError(t, s.Record(ctx, analysis.Outcome{
		SessionID:    "sess",
		Filename:     "receipt.jpg",
		SourceFormat: "jpeg",
		Width:        640,
		Height:       480,
		Model:        res.Model,
		Result:       res,
		Elapsed:      1500 * time.Millisecond,
		At:           at,
	}))

	rec, err := s.Get(ctx, "res-1")
	require.NoError(t, err)
	assert.Equal(t, "complete", rec.Status)
	assert.Equal(t, "receipt.jpg", rec.Filename)
	assert.Equal(t, 640, rec.Width)
	assert.Equal(t, int64(1500), rec.ElapsedMS)
	assert.Equal(t, "summary-text", rec.Texts["summarize"])
	assert.True(t, at.Equal(rec.CreatedAt))
}

func TestRecordFailureHasNoTexts(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	require.NoError(t, s.Record(ctx, analysis.Outcome{
		SessionID: "sess",
		Filename:  "a.png",
		Failure:   &analysis.Failure{Reason: analysis.ReasonInference, Kind: analysis.KindModelUnavailable, Label: prompt.LabelExtract, Detail: "timed out"},
		At:        time.Now(),
	}))
	recs, err := s.RecentForSession(ctx, "sess", 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "model_unavailable", recs[0].Status)
	assert.Equal(t, "extract", recs[0].FailureLabel)
	assert.Empty(t, recs[0].Texts)
	assert.NotEmpty(t, recs[0].ID)
}

func TestRecentNewestFirstWithLimit(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Save(ctx, Record{
			SessionID: "sess",
			Filename:  filepath.Join("img", string(rune('a'+i))+".png"),
			Status:    "complete",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	recs, err := s.RecentForSession(ctx, "sess", 3)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "img/e.png", recs[0].Filename)
	assert.Equal(t, "img/c.png", recs[2].Filename)
}

func TestRecentForSessionIsolatesSessions(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, Record{
		SessionID: "alice",
		Filename:  "passport.png",
		Status:    "complete",
		Texts:     map[string]string{"extract": "SECRET 1234"},
	}))
	require.NoError(t, s.Save(ctx, Record{SessionID: "bob", Filename: "cat.png", Status: "complete"}))

	recs, err := s.RecentForSession(ctx, "bob", 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "cat.png", recs[0].Filename)

	recs, err = s.RecentForSession(ctx, "", 10)
	require.NoError(t, err)
	assert.Empty(t, recs)

	alice, err := s.RecentForSession(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, alice, 1)
	raw, err := json.Marshal(alice[0])
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "alice")
	assert.NotContains(t, string(raw), "session_id")
}

func TestGetMissing(t *testing.T) {
	s := openStore(t)
	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(" ")
	assert.Error(t, err)
}
