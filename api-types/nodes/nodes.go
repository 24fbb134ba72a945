package nodes

import "encoding/json"

// Counts of current entries in a node.
type Counts struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Processed  int `json:"processed"`
	Error      int `json:"error"`

	Train int `json:"train"`
	Test  int `json:"test"`

	Total int `json:"total"`
}

type Summary struct {
	NodeId    string `json:"nodeId"`
	ProjectId string `json:"projectId"`
	Name      string `json:"name"`
	Type      string `json:"type"`

	// config of the node. Its shape depends on Type.
	Config json.RawMessage `json:"config"`

	// true when the node has not been processed since its config is changed.
	Stale bool `json:"stale"`

	Counts Counts `json:"counts"`
}

// Stats of a node.
type Stats struct {
	NodeId string `json:"nodeId"`
	Counts Counts `json:"counts"`

	// ids of ancestor and descendant nodes, nearest first.
	Upstream   []string `json:"upstream"`
	Downstream []string `json:"downstream"`

	// Dataset node only. tokens of TRAIN entries matched by pruning rules.
	PrunedTokens *int `json:"prunedTokens,omitempty"`
}

// Enqueued tells the node is going to be processed.
type Enqueued struct {
	NodeId string `json:"nodeId"`

	// true when outputs of the node are going to be recomputed.
	InvalidateData bool `json:"invalidateData"`
}
