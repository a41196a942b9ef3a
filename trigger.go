package mockmc

import "sync"

// A Trigger is a one-shot shutdown signal shared by the server and any
// number of response engines. The zero value is ready for use.
//
// Set is idempotent: posting a trigger that is already set has no effect.
type Trigger struct {
	once sync.Once

	init sync.Once
	ch   chan struct{}
}

// NewTrigger constructs a new unset trigger.
func NewTrigger() *Trigger { return new(Trigger) }

func (t *Trigger) ready() chan struct{} {
	t.init.Do(func() { t.ch = make(chan struct{}) })
	return t.ch
}

// Set posts the trigger. It is safe to call Set concurrently and more than
// once; only the first call has any effect.
func (t *Trigger) Set() { t.once.Do(func() { close(t.ready()) }) }

// Ready returns a channel that is closed once the trigger has been set.
func (t *Trigger) Ready() <-chan struct{} { return t.ready() }

// IsSet reports whether the trigger has been set.
func (t *Trigger) IsSet() bool {
	select {
	case <-t.ready():
		return true
	default:
		return false
	}
}
