package websocket

import "sync"

// roomWork runs room lifecycle calls off the hub loop. Work for one room
// runs in submission order; different rooms run independently.
type roomWork struct {
	mu      sync.Mutex
	pending map[string][]func()
	wg      sync.WaitGroup
}

func newRoomWork() *roomWork {
	return &roomWork{pending: make(map[string][]func())}
}

func (w *roomWork) run(sessionID string, fn func()) {
	w.mu.Lock()
	queue, busy := w.pending[sessionID]
	w.pending[sessionID] = append(queue, fn)
	w.mu.Unlock()

	if busy {
		return
	}

	w.wg.Add(1)
	go w.drain(sessionID)
}

// a room has a drainer for as long as its key is present
func (w *roomWork) drain(sessionID string) {
	defer w.wg.Done()

	for {
		w.mu.Lock()
		queue := w.pending[sessionID]
		if len(queue) == 0 {
			delete(w.pending, sessionID)
			w.mu.Unlock()
			return
		}
		fn := queue[0]
		w.pending[sessionID] = queue[1:]
		w.mu.Unlock()

		fn()
	}
}

// wait blocks until every queued call has run.
func (w *roomWork) wait() {
	w.wg.Wait()
}
