// Package bridge carries sync traffic between processes over WebSocket.
//
// The bridge exposes the engine to UI processes that cannot link it
// directly: requests (perform a sync, check online status) flow
// client-to-server and get a correlated response; events (sync status,
// sync requested) are broadcast server-to-client. All traffic uses one
// envelope shape on a fixed, whitelisted set of channels.
package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/pokevault/pokevault/internal/schema"
	"github.com/pokevault/pokevault/internal/syncer"
)

// Kind discriminates the three envelope flavors.
type Kind string

const (
	// KindRequest is a client-to-server call expecting a response.
	KindRequest Kind = "request"

	// KindResponse answers a request, correlated by envelope id.
	KindResponse Kind = "response"

	// KindEvent is a fire-and-forget broadcast. Events carry no id.
	KindEvent Kind = "event"
)

// The channel whitelist. Traffic on any other channel is rejected
// before it reaches a handler.
const (
	// ChannelPerformSync dispatches caller-supplied mutations.
	ChannelPerformSync = "perform-sync"

	// ChannelTriggerSync runs a full local sync cycle.
	ChannelTriggerSync = "trigger-sync"

	// ChannelSyncStatus broadcasts sync progress events.
	ChannelSyncStatus = "sync-status"

	// ChannelSyncRequested asks connected peers to start a sync.
	ChannelSyncRequested = "sync-requested"

	// ChannelCheckOnline reports remote reachability.
	ChannelCheckOnline = "check-online-status"

	// ChannelAppInfo reports the host application's name and version.
	ChannelAppInfo = "get-app-info"
)

var knownChannels = map[string]bool{
	ChannelPerformSync:   true,
	ChannelTriggerSync:   true,
	ChannelSyncStatus:    true,
	ChannelSyncRequested: true,
	ChannelCheckOnline:   true,
	ChannelAppInfo:       true,
}

// KnownChannel reports whether name is on the channel whitelist.
func KnownChannel(name string) bool {
	return knownChannels[name]
}

// Envelope is the single wire shape for all bridge traffic.
type Envelope struct {
	Kind    Kind            `json:"kind"`
	ID      uint64          `json:"id,omitempty"`
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Validate rejects malformed envelopes before any handler runs.
func (e *Envelope) Validate() error {
	switch e.Kind {
	case KindRequest, KindResponse:
		if e.ID == 0 {
			return fmt.Errorf("%s envelope requires an id", e.Kind)
		}
	case KindEvent:
	default:
		return fmt.Errorf("unknown envelope kind %q", e.Kind)
	}
	if !KnownChannel(e.Channel) {
		return fmt.Errorf("unknown channel %q", e.Channel)
	}
	return nil
}

// WireMutation is the cross-process form of a queued mutation.
type WireMutation struct {
	ID        string          `json:"id"`
	Operation string          `json:"operation"` // create | update | delete
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// SyncReport breaks a sync outcome down per mutation.
type SyncReport struct {
	Successful []string                `json:"successful"`
	Failed     []syncer.FailedMutation `json:"failed"`
	Total      int                     `json:"total"`
}

// SyncOutcome is the response payload for perform-sync and
// trigger-sync requests.
type SyncOutcome struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    *SyncReport `json:"data,omitempty"`
}

// OnlineStatus is the response payload for check-online-status.
// Timestamp records when the check was made, in unix milliseconds.
type OnlineStatus struct {
	Online    bool  `json:"online"`
	Timestamp int64 `json:"timestamp"`
}

// AppInfo is the response payload for get-app-info.
type AppInfo struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	Platform string `json:"platform"`
}

// toMutations converts wire mutations into engine mutations, rejecting
// the whole batch on the first malformed entry.
func toMutations(wire []WireMutation, collection string) ([]*schema.Mutation, error) {
	muts := make([]*schema.Mutation, 0, len(wire))
	for i, w := range wire {
		m := &schema.Mutation{
			ID:        w.ID,
			Entity:    collection,
			Type:      schema.MutationType(w.Operation),
			Payload:   w.Data,
			Timestamp: w.Timestamp,
		}
		if err := m.Validate(); err != nil {
			return nil, fmt.Errorf("mutation %d: %w", i, err)
		}
		muts = append(muts, m)
	}
	return muts, nil
}

// outcomeFromResult folds a sync result into its wire form.
func outcomeFromResult(result *syncer.Result) *SyncOutcome {
	report := &SyncReport{
		Successful: result.Successful,
		Failed:     result.Failed,
		Total:      result.Total,
	}
	if report.Successful == nil {
		report.Successful = []string{}
	}
	if report.Failed == nil {
		report.Failed = []syncer.FailedMutation{}
	}

	out := &SyncOutcome{Success: len(result.Failed) == 0, Data: report}
	if !out.Success {
		out.Message = fmt.Sprintf("%d of %d mutations failed", len(result.Failed), result.Total)
	} else {
		out.Message = fmt.Sprintf("synced %d mutations", len(result.Successful))
	}
	return out
}
