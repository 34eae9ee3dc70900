package otc

import "nftlend/core/types"

const (
	EventTypeInstanceCreated     = "otc.instance_created"
	EventTypeInstanceInitialized = "otc.instance_initialized"
	EventTypeClaimed             = "otc.claimed"
)

type otcEvent struct {
	evt *types.Event
}

func (e *otcEvent) EventType() string {
	if e == nil || e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e *otcEvent) Event() *types.Event { return e.evt }

func NewInstanceCreatedEvent(i *Instance) *otcEvent {
	return &otcEvent{evt: &types.Event{Type: EventTypeInstanceCreated, Attributes: map[string]string{
		"id":      i.ID,
		"address": i.Address.Hex(),
	}}}
}

func NewInstanceInitializedEvent(i *Instance) *otcEvent {
	return &otcEvent{evt: &types.Event{Type: EventTypeInstanceInitialized, Attributes: map[string]string{
		"id":     i.ID,
		"lender": i.Lender.Hex(),
	}}}
}

func NewClaimedEvent(i *Instance, lid string) *otcEvent {
	return &otcEvent{evt: &types.Event{Type: EventTypeClaimed, Attributes: map[string]string{
		"id":     i.ID,
		"lender": i.Lender.Hex(),
		"lid":    lid,
	}}}
}
