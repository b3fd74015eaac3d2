// Package subscription implements the bidirectional mapping between
// upstream-assigned eth_subscribe ids and the stable id handed to the
// client, plus the replay roster used across reconnection (spec §4.5).
package subscription

// Record is one live client subscription.
type Record struct {
	ClientSubID   string
	RPCID         interface{} // the client's original eth_subscribe id, numeric or string
	Params        []byte
	UpstreamSubID string
}

// Tracker is owned by exactly one WebSocket connection's main loop; the
// only other writer is that connection's in-flight reconnection future
// inserting replay mappings. Tracker does no locking of its own: the
// owning connection guards it with a single mutex, which is enough since
// contention is one task at a time (spec §5, subscription tracker policy).
type Tracker struct {
	// order preserves insertion order for SnapshotForReplay; records is
	// keyed by ClientSubID.
	order   []string
	records map[string]*Record

	// upstreamToClient maps the current upstream's subscription id to
	// the stable client id. Wiped wholesale on reconnection by
	// ClearUpstreamMappings; the records survive.
	upstreamToClient map[string]string
}

// New returns an empty Tracker.
func New() *Tracker {
	return &Tracker{
		records:          make(map[string]*Record),
		upstreamToClient: make(map[string]string),
	}
}

// TrackNew records a brand-new subscription whose client-facing id
// equals the first upstream id it was ever assigned. Idempotent on a
// repeated ClientSubID — a second call updates params but does not
// duplicate the insertion-order slot.
func (t *Tracker) TrackNew(clientSubID string, rpcID interface{}, params []byte) {
	if _, exists := t.records[clientSubID]; !exists {
		t.order = append(t.order, clientSubID)
	}
	t.records[clientSubID] = &Record{
		ClientSubID:   clientSubID,
		RPCID:         rpcID,
		Params:        params,
		UpstreamSubID: clientSubID,
	}
	t.upstreamToClient[clientSubID] = clientSubID
}

// MapUpstreamID records an additional upstream_sub_id -> client_sub_id
// mapping without creating a new subscription record. Used when a
// replayed eth_subscribe on the new upstream returns a fresh id.
func (t *Tracker) MapUpstreamID(newUpstreamSubID, clientSubID string) {
	t.upstreamToClient[newUpstreamSubID] = clientSubID
	if rec, ok := t.records[clientSubID]; ok {
		rec.UpstreamSubID = newUpstreamSubID
	}
}

// TranslateToClient looks up the client-facing id for a notification
// that arrived bearing an upstream subscription id. ok is false when the
// id belongs to a subscription the client has already cancelled, or a
// stale race from the previous upstream.
func (t *Tracker) TranslateToClient(upstreamSubID string) (clientSubID string, ok bool) {
	clientSubID, ok = t.upstreamToClient[upstreamSubID]
	return
}

// RewriteUnsubscribeParam returns the current upstream subscription id
// for a client-issued eth_unsubscribe, so its params[0] can be rewritten
// before forwarding.
func (t *Tracker) RewriteUnsubscribeParam(clientSubID string) (upstreamSubID string, ok bool) {
	rec, ok := t.records[clientSubID]
	if !ok {
		return "", false
	}
	return rec.UpstreamSubID, true
}

// Remove destroys a subscription record on its eth_unsubscribe response.
func (t *Tracker) Remove(clientSubID string) {
	rec, ok := t.records[clientSubID]
	if !ok {
		return
	}
	delete(t.upstreamToClient, rec.UpstreamSubID)
	delete(t.records, clientSubID)
	for i, id := range t.order {
		if id == clientSubID {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

// SnapshotForReplay returns every live subscription record in the
// stable order it was first created, for replay against a new upstream
// after reconnection.
func (t *Tracker) SnapshotForReplay() []Record {
	out := make([]Record, 0, len(t.order))
	for _, id := range t.order {
		if rec, ok := t.records[id]; ok {
			out = append(out, *rec)
		}
	}
	return out
}

// ClearUpstreamMappings wipes every upstream_sub_id -> client_sub_id
// entry ahead of a reconnect; the set of client_sub_ids, and their
// records, survives so replay can re-establish them on the new upstream.
func (t *Tracker) ClearUpstreamMappings() {
	t.upstreamToClient = make(map[string]string)
}

// Len reports the number of live subscriptions.
func (t *Tracker) Len() int {
	return len(t.order)
}
