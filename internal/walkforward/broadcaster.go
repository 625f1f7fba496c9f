package walkforward

import (
	"sync"

	"walkforward-lab/internal/domain"
)

const subscriberBuffer = 16

// broadcaster fans run status views out to subscribers.
// Slow subscribers miss intermediate updates; the terminal view is always delivered.
type broadcaster struct {
	mu   sync.Mutex
	subs map[string]map[chan domain.RunStatusView]struct{}
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[string]map[chan domain.RunStatusView]struct{})}
}

func (b *broadcaster) subscribe(runID string) (<-chan domain.RunStatusView, func()) {
	ch := make(chan domain.RunStatusView, subscriberBuffer)

	b.mu.Lock()
	if b.subs[runID] == nil {
		b.subs[runID] = make(map[chan domain.RunStatusView]struct{})
	}
	b.subs[runID][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if set, ok := b.subs[runID]; ok {
				if _, ok := set[ch]; ok {
					delete(set, ch)
					close(ch)
				}
				if len(set) == 0 {
					delete(b.subs, runID)
				}
			}
		})
	}
	return ch, cancel
}

// publish delivers v without blocking. A terminal view closes every subscription of the run.
func (b *broadcaster) publish(v domain.RunStatusView) {
	b.mu.Lock()
	defer b.mu.Unlock()

	set := b.subs[v.RunID]
	for ch := range set {
		if v.Status.IsTerminal() {
			// Make room so the final view is never dropped.
			select {
			case ch <- v:
			default:
				select {
				case <-ch:
				default:
				}
				ch <- v
			}
			close(ch)
			continue
		}
		select {
		case ch <- v:
		default:
		}
	}
	if v.Status.IsTerminal() {
		delete(b.subs, v.RunID)
	}
}

func (b *broadcaster) subscribers(runID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[runID])
}
