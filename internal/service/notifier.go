package service

// Notifier pushes events to everyone subscribed to a room. The websocket
// hub implements it; tests and tools that don't care pass nil and get the
// no-op.
type Notifier interface {
	Notify(room string, event string, payload any)
}

type NoopNotifier struct{}

func (NoopNotifier) Notify(string, string, any) {}
