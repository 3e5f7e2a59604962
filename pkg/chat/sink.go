package chat

// Sink receives the output of a turn as it happens.
type Sink interface {
	// OnFragment is called once per non-empty fragment, in arrival order.
	OnFragment(text string)

	// OnError is called once when a turn fails after the user message was accepted.
	OnError(err error)
}

// SinkFunc adapts a fragment callback to a Sink that ignores errors.
type SinkFunc func(text string)

func (f SinkFunc) OnFragment(text string) { f(text) }

func (f SinkFunc) OnError(error) {}

type nopSink struct{}

func (nopSink) OnFragment(string) {}

func (nopSink) OnError(error) {}
