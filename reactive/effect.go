package reactive

// Effect runs fn every time one of deps changes. When runOnInit is set fn
// also runs once before Effect returns. The returned func detaches fn from
// every dependency.
func Effect(fn func(), deps []Subscribable, runOnInit bool) (stop func()) {
	if runOnInit {
		fn()
	}

	unsubs := make([]func(), 0, len(deps))
	for _, dep := range deps {
		unsubs = append(unsubs, dep.Subscribe(fn))
	}

	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}

// ComputedStore is a read only store derived from other stores.
type ComputedStore[T any] struct {
	store *Store[T]
	stop  func()
}

var _ Subscribable = (*ComputedStore[int])(nil)

// Computed builds a store whose value is recomputed from compute whenever
// one of deps changes.
func Computed[T any](compute func() T, deps []Subscribable) *ComputedStore[T] {
	c := &ComputedStore[T]{store: NewStore(compute())}
	c.stop = Effect(func() {
		c.store.Set(compute())
	}, deps, false)
	return c
}

func (c *ComputedStore[T]) Get() T {
	return c.store.Get()
}

func (c *ComputedStore[T]) Subscribe(fn func()) func() {
	return c.store.Subscribe(fn)
}

// Stop detaches the store from its dependencies. The last value stays readable.
func (c *ComputedStore[T]) Stop() {
	c.stop()
}
