package batching

import "github.com/vincentbai/regrets-agent/internal/models"

// queue holds envelopes not yet claimed by a closed batch, FIFO per tab.
// Tabs are visited in the order they were first seen.
type queue struct {
	byTab map[int][]models.Envelope
	order []int
}

func newQueue() *queue {
	return &queue{byTab: make(map[int][]models.Envelope)}
}

func (q *queue) push(env models.Envelope) {
	if _, ok := q.byTab[env.TabID]; !ok {
		q.order = append(q.order, env.TabID)
	}
	q.byTab[env.TabID] = append(q.byTab[env.TabID], env)
}

func (q *queue) tabs() []int {
	return append([]int(nil), q.order...)
}

// take removes and returns every envelope queued for tab.
func (q *queue) take(tab int) []models.Envelope {
	entries := q.byTab[tab]
	q.byTab[tab] = nil
	return entries
}

// restore puts back the entries of tab that stay queued after a tick.
// A tab left without entries loses its place in the visiting order.
func (q *queue) restore(tab int, entries []models.Envelope) {
	if len(entries) > 0 {
		q.byTab[tab] = entries
		return
	}
	delete(q.byTab, tab)
	for i, t := range q.order {
		if t == tab {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
}

func (q *queue) tabLen(tab int) int {
	return len(q.byTab[tab])
}

func (q *queue) len() int {
	n := 0
	for _, entries := range q.byTab {
		n += len(entries)
	}
	return n
}

func (q *queue) reset() {
	q.byTab = make(map[int][]models.Envelope)
	q.order = nil
}
