package pairing

// waitingQueue is a FIFO of connection ids in which an id appears at most
// once.
type waitingQueue struct {
	ids    []ConnID
	queued map[ConnID]struct{}
}

func newWaitingQueue() *waitingQueue {
	return &waitingQueue{queued: make(map[ConnID]struct{})}
}

func (q *waitingQueue) push(id ConnID) bool {
	if _, ok := q.queued[id]; ok {
		return false
	}
	q.ids = append(q.ids, id)
	q.queued[id] = struct{}{}
	return true
}

func (q *waitingQueue) pop() (ConnID, bool) {
	if len(q.ids) == 0 {
		return "", false
	}
	id := q.ids[0]
	q.ids[0] = ""
	q.ids = q.ids[1:]
	if len(q.ids) == 0 {
		q.ids = nil
	}
	delete(q.queued, id)
	return id, true
}

func (q *waitingQueue) remove(id ConnID) bool {
	if _, ok := q.queued[id]; !ok {
		return false
	}
	delete(q.queued, id)
	for i, queued := range q.ids {
		if queued == id {
			q.ids = append(q.ids[:i], q.ids[i+1:]...)
			break
		}
	}
	return true
}

func (q *waitingQueue) contains(id ConnID) bool {
	_, ok := q.queued[id]
	return ok
}

func (q *waitingQueue) len() int { return len(q.ids) }

func (q *waitingQueue) snapshot() []ConnID {
	return append([]ConnID(nil), q.ids...)
}
