// Package retrieval is the pass-through sink for retrieval feedback.
// Outcome events carry the query and node ids that fed the task; this
// core forwards them unchanged to whatever knowledge store is wired in
// and never interprets the ids itself.
package retrieval

import (
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// Feedback receives one signal per retrieved node id on each outcome.
// Implemented by the external memory/knowledge collaborator.
type Feedback interface {
	RecordHit(query, nodeID string, helpful bool)
}

// NopFeedback is the default collaborator: it counts and logs at debug
// level, keeping the learning plane fully functional without a wired
// knowledge store.
type NopFeedback struct {
	hits atomic.Int64
}

// NewNopFeedback creates the logging no-op sink.
func NewNopFeedback() *NopFeedback {
	return &NopFeedback{}
}

// RecordHit implements Feedback.
func (n *NopFeedback) RecordHit(query, nodeID string, helpful bool) {
	n.hits.Add(1)
	log.Debug().
		Str("query", query).
		Str("node_id", nodeID).
		Bool("helpful", helpful).
		Msg("Retrieval feedback recorded")
}

// Hits returns how many signals have been forwarded.
func (n *NopFeedback) Hits() int64 {
	return n.hits.Load()
}
