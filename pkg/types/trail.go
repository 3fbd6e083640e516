package types

import "time"

// LocationKind names what a trail is anchored to.
type LocationKind string

const (
	LocationFile    LocationKind = "file"
	LocationFunc    LocationKind = "function"
	LocationClass   LocationKind = "class"
	LocationConcept LocationKind = "concept"
	LocationTag     LocationKind = "tag"
)

// Scent categorizes a trail.
type Scent string

const (
	ScentDiscovery Scent = "discovery"
	ScentWarning   Scent = "warning"
	ScentBlocker   Scent = "blocker"
	ScentHot       Scent = "hot"
	ScentCold      Scent = "cold"
)

// Trail is an append-only, time-decayed record associating an agent
// action with a location. Strength is written raw; decay is applied at
// read time (see internal/trail).
type Trail struct {
	ID           string       `json:"id"`
	RunID        string       `json:"run_id,omitempty"`
	Location     string       `json:"location"`
	LocationKind LocationKind `json:"location_kind"`
	Scent        Scent        `json:"scent"`
	Strength     float64      `json:"strength"`
	AgentID      string       `json:"agent_id"`
	NodeID       string       `json:"node_id,omitempty"`
	Message      string       `json:"message,omitempty"`
	Tags         []string     `json:"tags,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	ExpiresAt    *time.Time   `json:"expires_at,omitempty"`
}
