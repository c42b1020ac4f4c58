package threads

// readyQueues es una cola FIFO por nivel de prioridad.
type readyQueues struct {
	buckets [PriMax + 1][]*Thread
	count   int
}

func (q *readyQueues) push(t *Thread) {
	q.buckets[t.priority] = append(q.buckets[t.priority], t)
	q.count++
}

// pop saca el primer hilo del nivel más alto no vacío.
func (q *readyQueues) pop() *Thread {
	for p := PriMax; p >= PriMin; p-- {
		b := q.buckets[p]
		if len(b) == 0 {
			continue
		}
		t := b[0]
		b[0] = nil
		q.buckets[p] = b[1:]
		q.count--
		return t
	}
	return nil
}

// remove saca t del nivel prio. Devuelve false si no estaba.
func (q *readyQueues) remove(t *Thread, prio int) bool {
	b := q.buckets[prio]
	for i, x := range b {
		if x == t {
			q.buckets[prio] = append(b[:i:i], b[i+1:]...)
			q.count--
			return true
		}
	}
	return false
}

// maxPriority devuelve el nivel más alto con hilos listos, o -1.
func (q *readyQueues) maxPriority() int {
	for p := PriMax; p >= PriMin; p-- {
		if len(q.buckets[p]) > 0 {
			return p
		}
	}
	return -1
}

func (q *readyQueues) len() int { return q.count }
