package domain

import (
	"sort"
	"strings"
)

// Status is an order's position in the fulfillment lifecycle.
type Status string

const (
	StatusNew             Status = "NEW"
	StatusPaid            Status = "PAID"
	StatusPacking         Status = "PACKING"
	StatusReadyToShip     Status = "READY_TO_SHIP"
	StatusShipped         Status = "SHIPPED"
	StatusDelivered       Status = "DELIVERED"
	StatusCancelled       Status = "CANCELLED"
	StatusDeliveryFailed  Status = "DELIVERY_FAILED"
	StatusToReturn        Status = "TO_RETURN"
	StatusReturnInitiated Status = "RETURN_INITIATED"
	StatusReturned        Status = "RETURNED"
)

// transitions is the single source of truth for lifecycle legality.
// Terminal states map to an empty set.
var transitions = map[Status][]Status{
	StatusNew:             {StatusPaid, StatusCancelled},
	StatusPaid:            {StatusPacking, StatusCancelled},
	StatusPacking:         {StatusReadyToShip, StatusShipped},
	StatusReadyToShip:     {StatusShipped, StatusDeliveryFailed},
	StatusShipped:         {StatusDelivered, StatusDeliveryFailed, StatusToReturn},
	StatusDelivered:       {StatusReturned},
	StatusDeliveryFailed:  {StatusToReturn, StatusReturned},
	StatusToReturn:        {StatusReturnInitiated, StatusReturned},
	StatusReturnInitiated: {StatusReturned},
	StatusCancelled:       {},
	StatusReturned:        {},
}

// returnEligible lists the statuses from which a return may be recorded.
var returnEligible = map[Status]bool{
	StatusShipped:         true,
	StatusDelivered:       true,
	StatusDeliveryFailed:  true,
	StatusToReturn:        true,
	StatusReturnInitiated: true,
}

var statusGroups = map[string][]Status{
	"pending":       {StatusNew, StatusPaid},
	"to_pack":       {StatusPacking},
	"ready_to_ship": {StatusReadyToShip},
	"in_transit":    {StatusShipped},
	"completed":     {StatusDelivered},
	"returns":       {StatusDeliveryFailed, StatusToReturn, StatusReturnInitiated, StatusReturned},
	"cancelled":     {StatusCancelled},
}

// AllStatuses returns every known status in lifecycle order.
func AllStatuses() []Status {
	return []Status{
		StatusNew, StatusPaid, StatusPacking, StatusReadyToShip, StatusShipped,
		StatusDelivered, StatusCancelled, StatusDeliveryFailed, StatusToReturn,
		StatusReturnInitiated, StatusReturned,
	}
}

// ParseStatus normalises a label such as "ready_to_ship" or "Ready To Ship".
func ParseStatus(label string) (Status, bool) {
	normalized := strings.ToUpper(strings.TrimSpace(label))
	normalized = strings.NewReplacer(" ", "_", "-", "_").Replace(normalized)
	s := Status(normalized)
	if _, ok := transitions[s]; !ok {
		return s, false
	}
	return s, true
}

// IsKnown reports whether s appears in the transition table.
func (s Status) IsKnown() bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal reports whether no transition leaves s.
func (s Status) IsTerminal() bool {
	targets, ok := transitions[s]
	return ok && len(targets) == 0
}

// CanInitiateReturn reports whether a return may be recorded against an order in s.
func (s Status) CanInitiateReturn() bool {
	return returnEligible[s]
}

// ValidateTransition checks current -> target against the transition table.
// It returns nil when the move is allowed, otherwise a VALIDATION *Error carrying
// UNKNOWN_STATE, TERMINAL_STATE or ILLEGAL_TRANSITION.
func ValidateTransition(current, target Status) error {
	if !current.IsKnown() {
		return Validation(ReasonUnknownState, "unknown current status %q", current)
	}
	if !target.IsKnown() {
		return Validation(ReasonUnknownState, "unknown target status %q", target)
	}
	if current.IsTerminal() {
		return Validation(ReasonTerminalState, "status %s is terminal", current)
	}
	for _, allowed := range transitions[current] {
		if allowed == target {
			return nil
		}
	}
	return Validation(ReasonIllegalTransition, "transition %s -> %s is not allowed", current, target)
}

// AllowedTargets returns the statuses reachable in one step from current.
func AllowedTargets(current Status) []Status {
	targets := transitions[current]
	out := make([]Status, len(targets))
	copy(out, targets)
	return out
}

// StatusGroup expands a named group into its statuses. "all" and "" expand to nil,
// meaning no status constraint.
func StatusGroup(name string) ([]Status, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || key == "all" {
		return nil, true
	}
	statuses, ok := statusGroups[key]
	if !ok {
		return nil, false
	}
	out := make([]Status, len(statuses))
	copy(out, statuses)
	return out, true
}

// StatusGroupNames lists the supported group names, sorted.
func StatusGroupNames() []string {
	names := make([]string, 0, len(statusGroups)+1)
	for name := range statusGroups {
		names = append(names, name)
	}
	names = append(names, "all")
	sort.Strings(names)
	return names
}

// returnHops are the statuses a return may pass through on its way to a later
// return status.
var returnHops = map[Status]bool{
	StatusToReturn:        true,
	StatusReturnInitiated: true,
}

// ReturnPath returns the shortest sequence of legal hops from current to target,
// excluding current. Intermediate hops are restricted to TO_RETURN and
// RETURN_INITIATED so a return never passes through a delivery outcome. When
// no such path exists the direct transition's rejection is returned.
func ReturnPath(current, target Status) ([]Status, error) {
	direct := ValidateTransition(current, target)
	if direct == nil {
		return []Status{target}, nil
	}
	if ReasonOf(direct) != ReasonIllegalTransition {
		return nil, direct
	}

	prev := map[Status]Status{current: current}
	queue := []Status{current}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		for _, next := range transitions[node] {
			if _, seen := prev[next]; seen {
				continue
			}
			if next != target && !returnHops[next] {
				continue
			}
			prev[next] = node
			if next == target {
				return unwindPath(prev, current, target), nil
			}
			queue = append(queue, next)
		}
	}
	return nil, direct
}

func unwindPath(prev map[Status]Status, from, to Status) []Status {
	var path []Status
	for s := to; s != from; s = prev[s] {
		path = append(path, s)
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}
