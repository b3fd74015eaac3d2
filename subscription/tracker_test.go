package subscription

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrackNew_IdempotentOnSameClientSubID(t *testing.T) {
	tr := New()
	tr.TrackNew("0xabc", "1", []byte(`["newHeads"]`))
	tr.TrackNew("0xabc", "1", []byte(`["newHeads"]`))

	assert.Equal(t, 1, tr.Len())
	clientID, ok := tr.TranslateToClient("0xabc")
	assert.True(t, ok)
	assert.Equal(t, "0xabc", clientID)
}

func TestTranslateToClient_UnknownIDReturnsFalse(t *testing.T) {
	tr := New()
	_, ok := tr.TranslateToClient("0xdeadbeef")
	assert.False(t, ok)
}

func TestMapUpstreamID_AddsMappingWithoutNewRecord(t *testing.T) {
	tr := New()
	tr.TrackNew("0xabc", "1", []byte(`["newHeads"]`))

	tr.MapUpstreamID("0xnew", "0xabc")

	clientID, ok := tr.TranslateToClient("0xnew")
	assert.True(t, ok)
	assert.Equal(t, "0xabc", clientID)
	assert.Equal(t, 1, tr.Len())

	upstreamID, ok := tr.RewriteUnsubscribeParam("0xabc")
	assert.True(t, ok)
	assert.Equal(t, "0xnew", upstreamID)
}

func TestRewriteUnsubscribeParam_UnknownClientID(t *testing.T) {
	tr := New()
	_, ok := tr.RewriteUnsubscribeParam("0xabc")
	assert.False(t, ok)
}

func TestRemove_DeletesRecordAndUpstreamMapping(t *testing.T) {
	tr := New()
	tr.TrackNew("0xabc", "1", []byte(`["newHeads"]`))

	tr.Remove("0xabc")

	assert.Equal(t, 0, tr.Len())
	_, ok := tr.TranslateToClient("0xabc")
	assert.False(t, ok)
	_, ok = tr.RewriteUnsubscribeParam("0xabc")
	assert.False(t, ok)
}

func TestRemove_Unknown_NoPanic(t *testing.T) {
	tr := New()
	assert.NotPanics(t, func() { tr.Remove("nope") })
}

func TestSnapshotForReplay_PreservesInsertionOrder(t *testing.T) {
	tr := New()
	tr.TrackNew("sub-1", "1", []byte(`["newHeads"]`))
	tr.TrackNew("sub-2", "2", []byte(`["logs",{}]`))
	tr.TrackNew("sub-3", "3", []byte(`["newPendingTransactions"]`))

	snap := tr.SnapshotForReplay()
	assert.Len(t, snap, 3)
	assert.Equal(t, "sub-1", snap[0].ClientSubID)
	assert.Equal(t, "sub-2", snap[1].ClientSubID)
	assert.Equal(t, "sub-3", snap[2].ClientSubID)
}

func TestSnapshotForReplay_SkipsRemoved(t *testing.T) {
	tr := New()
	tr.TrackNew("sub-1", "1", []byte(`["newHeads"]`))
	tr.TrackNew("sub-2", "2", []byte(`["logs",{}]`))
	tr.Remove("sub-1")

	snap := tr.SnapshotForReplay()
	assert.Len(t, snap, 1)
	assert.Equal(t, "sub-2", snap[0].ClientSubID)
}

func TestClearUpstreamMappings_RecordsSurviveButUpstreamLookupDoesNot(t *testing.T) {
	tr := New()
	tr.TrackNew("0xabc", "1", []byte(`["newHeads"]`))

	tr.ClearUpstreamMappings()

	_, ok := tr.TranslateToClient("0xabc")
	assert.False(t, ok, "upstream mapping should be wiped")
	assert.Equal(t, 1, tr.Len(), "record itself should survive")

	snap := tr.SnapshotForReplay()
	assert.Len(t, snap, 1)
	assert.Equal(t, "0xabc", snap[0].ClientSubID)
}

func TestReplayFlow_MapUpstreamIDAfterClear(t *testing.T) {
	tr := New()
	tr.TrackNew("0xabc", "1", []byte(`["newHeads"]`))
	tr.ClearUpstreamMappings()

	for _, rec := range tr.SnapshotForReplay() {
		tr.MapUpstreamID("0xfresh-"+rec.ClientSubID, rec.ClientSubID)
	}

	clientID, ok := tr.TranslateToClient("0xfresh-0xabc")
	assert.True(t, ok)
	assert.Equal(t, "0xabc", clientID)
}
