// Package compliance builds the JSON payload a containment chain hands to
// an external compliance collector once it exits: a summary of the chain
// plus its full event trail.
package compliance

import (
	"encoding/json"
	"time"

	"github.com/amabito/veronica-core-sub002/internal/safetytypes"
)

// ChainSummary carries the fields a ContextSnapshot doesn't know about on
// its own — service/team/model labels and tags are operator-supplied
// metadata, not something the execution context tracks internally.
type ChainSummary struct {
	Service      string
	Team         string
	Model        string
	Tags         []string
	GraphSummary map[string]any
}

type chainPayload struct {
	ChainID      string         `json:"chain_id"`
	RequestID    string         `json:"request_id"`
	StepCount    int            `json:"step_count"`
	CostUSD      float64        `json:"cost_usd"`
	RetriesUsed  int            `json:"retries_used"`
	Aborted      bool           `json:"aborted"`
	AbortReason  string         `json:"abort_reason,omitempty"`
	ElapsedMS    int64          `json:"elapsed_ms"`
	StartedAt    string         `json:"started_at"`
	Service      string         `json:"service,omitempty"`
	Team         string         `json:"team,omitempty"`
	Model        string         `json:"model,omitempty"`
	Tags         []string       `json:"tags,omitempty"`
	GraphSummary map[string]any `json:"graph_summary,omitempty"`
}

type eventPayload struct {
	EventType string         `json:"event_type"`
	Decision  string         `json:"decision"`
	Reason    string         `json:"reason"`
	Hook      string         `json:"hook,omitempty"`
	RequestID string         `json:"request_id"`
	TS        string         `json:"ts"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type exportPayload struct {
	Chain  chainPayload   `json:"chain"`
	Events []eventPayload `json:"events"`
}

// BuildPayload serializes a chain's snapshot into the documented compliance
// export shape. startedAt is carried separately because ContextSnapshot
// only exposes elapsed duration, not a wall-clock start time.
func BuildPayload(snapshot safetytypes.ContextSnapshot, startedAt time.Time, summary ChainSummary) ([]byte, error) {
	events := make([]eventPayload, 0, len(snapshot.Events))
	for _, e := range snapshot.Events {
		events = append(events, eventPayload{
			EventType: e.EventType,
			Decision:  string(e.Decision),
			Reason:    e.Reason,
			Hook:      e.Hook,
			RequestID: e.RequestID,
			TS:        e.TS.UTC().Format(time.RFC3339Nano),
			Metadata:  e.Metadata,
		})
	}

	payload := exportPayload{
		Chain: chainPayload{
			ChainID:      snapshot.ChainID,
			RequestID:    snapshot.RequestID,
			StepCount:    snapshot.StepCount,
			CostUSD:      snapshot.CostUSDAccumulated,
			RetriesUsed:  snapshot.RetriesUsed,
			Aborted:      snapshot.Aborted,
			AbortReason:  snapshot.AbortReason,
			ElapsedMS:    snapshot.ElapsedMS,
			StartedAt:    startedAt.UTC().Format(time.RFC3339Nano),
			Service:      summary.Service,
			Team:         summary.Team,
			Model:        summary.Model,
			Tags:         summary.Tags,
			GraphSummary: summary.GraphSummary,
		},
		Events: events,
	}

	return json.Marshal(payload)
}
