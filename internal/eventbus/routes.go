package eventbus

import "StockAlert/internal/domain/events"

const (
	routePrices    = "prices"
	routeLifecycle = "alerts.lifecycle"
	routeTriggered = "alerts.triggered"
	routeSystem    = "system"
)

var routes = map[events.Kind]string{
	events.PriceUpdate:    routePrices,
	events.AlertCreated:   routeLifecycle,
	events.AlertUpdated:   routeLifecycle,
	events.AlertDeleted:   routeLifecycle,
	events.AlertTriggered: routeTriggered,
	events.WorkerStarted:  routeSystem,
	events.WorkerStopped:  routeSystem,
	events.WorkerError:    routeSystem,
}

// ChannelFor maps an event kind to its broker channel. Unknown kinds map to "".
func ChannelFor(prefix string, k events.Kind) string {
	r, ok := routes[k]
	if !ok {
		return ""
	}
	if prefix == "" {
		return r
	}
	return prefix + "." + r
}

// Channels lists every distinct broker channel under prefix.
func Channels(prefix string) []string {
	seen := make(map[string]struct{}, 4)
	out := make([]string, 0, 4)
	for _, r := range []string{routePrices, routeLifecycle, routeTriggered, routeSystem} {
		ch := r
		if prefix != "" {
			ch = prefix + "." + r
		}
		if _, ok := seen[ch]; ok {
			continue
		}
		seen[ch] = struct{}{}
		out = append(out, ch)
	}
	return out
}

// partitionKey keeps one instrument's updates on one partition.
func partitionKey(ev events.Event) []byte {
	switch p := ev.Payload.(type) {
	case events.PricePayload:
		return []byte(p.InstrumentKey)
	case events.LifecyclePayload:
		return []byte(p.InstrumentKey)
	case events.TriggeredPayload:
		return []byte(p.AlertID)
	case events.WorkerPayload:
		return []byte(p.Worker)
	default:
		return []byte(ev.ID)
	}
}
