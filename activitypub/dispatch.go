package activitypub

import "fmt"

// Outcome is the result of handling one inbox activity. Expected
// non-error results are modeled here instead of as errors so the queue
// worker never confuses "deliberately ignored" with "retry me".
type Outcome int

const (
	// OutcomeIgnored: no handler applied the activity; nothing is persisted.
	OutcomeIgnored Outcome = iota
	// OutcomeApplied: side effects ran; the activity record is persisted.
	OutcomeApplied
	// OutcomeSuppressed: deliberately dropped (blocked, admission
	// rejected, dedup); nothing is persisted, and that is final.
	OutcomeSuppressed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeSuppressed:
		return "suppressed"
	default:
		return "ignored"
	}
}

// ObjectHandler processes activities for one (activityType, objectType)
// pair.
type ObjectHandler interface {
	HandleCreate(in *Inbound) (Outcome, error)
	HandleUpdate(in *Inbound) (Outcome, error)
	HandleDelete(in *Inbound) (Outcome, error)
}

// Dispatcher maps "<ActivityType>:<ObjectType>" keys to handlers.
// Registration is explicit at construction; a duplicate registration
// for the same key wins over the earlier one.
type Dispatcher struct {
	handlers map[string]ObjectHandler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]ObjectHandler)}
}

func (d *Dispatcher) Register(activityType, objectType string, h ObjectHandler) {
	d.handlers[dispatchKey(activityType, objectType)] = h
}

// Dispatch routes the inbound activity to a registered handler. The
// second return is false when no handler matched and the caller must
// fall back to built-in processing.
func (d *Dispatcher) Dispatch(in *Inbound) (Outcome, bool, error) {
	h, ok := d.handlers[dispatchKey(in.Activity.Type, in.ObjectType)]
	if !ok {
		return OutcomeIgnored, false, nil
	}

	switch in.Activity.Type {
	case "Create":
		out, err := h.HandleCreate(in)
		return out, true, err
	case "Update":
		out, err := h.HandleUpdate(in)
		return out, true, err
	case "Delete":
		out, err := h.HandleDelete(in)
		return out, true, err
	default:
		return OutcomeIgnored, false, nil
	}
}

func dispatchKey(activityType, objectType string) string {
	return fmt.Sprintf("%s:%s", activityType, objectType)
}
