package events

// Event enumerates topics published by the engine.
type Event string

const (
	// EventSnapshot carries the engine state after every tick.
	EventSnapshot Event = "engine.snapshot"
	// EventSignal carries the strategy output of a tick.
	EventSignal         Event = "strategy.signal"
	EventPositionOpened Event = "position.opened"
	EventPositionClosed Event = "position.closed"
	EventOrderFilled    Event = "order.filled"
	EventOrderRejected  Event = "order.rejected"
	EventRiskAlert      Event = "risk.alert"
)
