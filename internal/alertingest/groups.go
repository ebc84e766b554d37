package alertingest

import (
	"context"
	"time"

	"github.com/flowgrid/flowplane/internal/store"
)

// groupHistoryLimit bounds how many recent events feed group derivation;
// alert history beyond this is assumed irrelevant to current group state.
const groupHistoryLimit = 5000

// Group is the derived per-identifier view returned by GET /alerts/groups.
type Group struct {
	Identifier     string `json:"identifier"`
	LatestStatus   string `json:"latest_status"`
	LatestSeverity string `json:"latest_severity"`
	EffectiveStatus string `json:"effective_status"`
	EventCount     int    `json:"event_count"`
}

// Groups derives one Group per distinct identifier from event history plus
// manual resolution overrides (§4.6): resolved wins only while no newer
// active-status event exists.
func (ig *Ingester) Groups(ctx context.Context) ([]Group, error) {
	events, err := ig.store.ListAlertEvents(ctx, groupHistoryLimit)
	if err != nil {
		return nil, err
	}
	states, err := ig.store.ListAlertGroupStates(ctx)
	if err != nil {
		return nil, err
	}
	resolvedAt := make(map[string]*time.Time, len(states))
	isResolved := make(map[string]bool, len(states))
	for _, st := range states {
		isResolved[st.Identifier] = st.Resolved
		resolvedAt[st.Identifier] = st.ResolvedAt
	}

	type acc struct {
		latest         *store.AlertEvent
		count          int
		newerActiveAfterResolve bool
	}
	byID := make(map[string]*acc)

	// events are ordered newest-first by ListAlertEvents; the first time we
	// see an identifier it is therefore the latest event for that group.
	for _, e := range events {
		a, ok := byID[e.Identifier]
		if !ok {
			a = &acc{}
			byID[e.Identifier] = a
		}
		if a.latest == nil {
			a.latest = e
		}
		a.count++
		if ra := resolvedAt[e.Identifier]; ra != nil && e.ReceivedAt.After(*ra) && isActiveStatus(e.AlertStatus) {
			a.newerActiveAfterResolve = true
		}
	}

	out := make([]Group, 0, len(byID))
	for id, a := range byID {
		g := Group{
			Identifier:     id,
			LatestStatus:   a.latest.AlertStatus,
			LatestSeverity: a.latest.SeverityNormalized,
			EventCount:     a.count,
		}
		switch {
		case isResolved[id] && !a.newerActiveAfterResolve:
			g.EffectiveStatus = "resolved"
		default:
			g.EffectiveStatus = a.latest.AlertStatus
		}
		out = append(out, g)
	}
	return out, nil
}
