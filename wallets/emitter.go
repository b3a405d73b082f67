package wallets

import (
	"sync"
	"sync/atomic"

	"github.com/ipfs-force-community/nebula-gateway/types"
)

type subscription struct {
	handler types.EventHandler
	active  atomic.Bool
}

// Emitter dispatches wallet events to subscribers in subscription order.
// Every subscription gets its own handle, releasing it twice is a no-op.
type Emitter struct {
	lk   sync.Mutex
	subs map[types.WalletEvent][]*subscription
}

func NewEmitter() *Emitter {
	return &Emitter{subs: make(map[types.WalletEvent][]*subscription)}
}

func (e *Emitter) Subscribe(event types.WalletEvent, handler types.EventHandler) types.Unsubscribe {
	sub := &subscription{handler: handler}
	sub.active.Store(true)

	e.lk.Lock()
	e.subs[event] = append(e.subs[event], sub)
	e.lk.Unlock()

	return func() {
		if !sub.active.CompareAndSwap(true, false) {
			return
		}

		e.lk.Lock()
		defer e.lk.Unlock()
		subs := e.subs[event]
		for i, item := range subs {
			if item == sub {
				e.subs[event] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
	}
}

// Emit calls the handlers synchronously. Handlers released by an earlier
// handler of the same round are skipped.
func (e *Emitter) Emit(event types.WalletEvent, data interface{}) {
	e.lk.Lock()
	snapshot := append([]*subscription(nil), e.subs[event]...)
	e.lk.Unlock()

	for _, sub := range snapshot {
		if sub.active.Load() {
			sub.handler(data)
		}
	}
}

// ListenerCount reports the live subscriptions for event.
func (e *Emitter) ListenerCount(event types.WalletEvent) int {
	e.lk.Lock()
	defer e.lk.Unlock()
	return len(e.subs[event])
}
