package common

// NodeKind distinguishes the two protocol families vixy proxies.
type NodeKind string

const (
	KindEL NodeKind = "el"
	KindCL NodeKind = "cl"
)

// NodeRole is a topology property, not runtime state (§4.1): it never
// changes after config load, and selection always re-reads it from the
// frozen topology rather than from anything the health monitor writes.
type NodeRole string

const (
	RolePrimary NodeRole = "primary"
	RoleBackup  NodeRole = "backup"
)

// Upstream is the immutable, post-validation description of one
// configured node. EL nodes may carry a WsURL; CL nodes never do
// (CL WebSocket proxying is explicitly out of scope).
type Upstream struct {
	Name    string
	Kind    NodeKind
	Role    NodeRole
	HTTPURL string
	WSURL   string // empty for CL, optional for EL
}

// HasWS reports whether this upstream declares a WebSocket endpoint.
func (u *Upstream) HasWS() bool {
	return u.WSURL != ""
}
