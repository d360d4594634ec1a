package models

// Peer is one reachable device as shown by the peer list.
type Peer struct {
	IP   string `json:"ip"`
	Name string `json:"name"`
}
