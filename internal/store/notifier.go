package store

import "sync"

// Notifier delivers snapshots to a callback sequentially on its own
// goroutine. Push never blocks, so producers may call it while holding locks.
type Notifier struct {
	fn func(Snapshot)

	mu    sync.Mutex
	queue []Snapshot

	wake chan struct{}
	done chan struct{}
	once sync.Once
}

// NewNotifier starts a delivery goroutine for fn.
func NewNotifier(fn func(Snapshot)) *Notifier {
	n := &Notifier{
		fn:   fn,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go n.run()
	return n
}

// Push queues a snapshot for delivery.
func (n *Notifier) Push(s Snapshot) {
	n.mu.Lock()
	select {
	case <-n.done:
		n.mu.Unlock()
		return
	default:
	}
	n.queue = append(n.queue, s)
	n.mu.Unlock()

	select {
	case n.wake <- struct{}{}:
	default:
	}
}

// Cancel stops delivery. No callback starts after Cancel returns; a callback
// already running is allowed to finish.
func (n *Notifier) Cancel() {
	n.once.Do(func() {
		n.mu.Lock()
		close(n.done)
		n.queue = nil
		n.mu.Unlock()
	})
}

func (n *Notifier) run() {
	for {
		select {
		case <-n.done:
			return
		case <-n.wake:
		}

		for {
			n.mu.Lock()
			if len(n.queue) == 0 {
				n.mu.Unlock()
				break
			}
			select {
			case <-n.done:
				n.mu.Unlock()
				return
			default:
			}
			s := n.queue[0]
			n.queue = n.queue[1:]
			n.mu.Unlock()

			n.fn(s)
		}
	}
}
