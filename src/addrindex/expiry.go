package addrindex

import (
	"container/list"
	"time"

	"github.com/0xb10c/mempool-addrindex/src/types"
)

// expiryQueue keeps one entry per indexed transaction in arrival order.
// Old transactions are taken from the front, new ones go to the back.
type expiryQueue struct {
	entries *list.List
	byTxID  map[types.Hash32]*list.Element
}

func newExpiryQueue() *expiryQueue {
	return &expiryQueue{
		entries: list.New(),
		byTxID:  map[types.Hash32]*list.Element{},
	}
}

// recordArrival appends txid. Timestamps must not decrease; if the clock
// steps back, the entry takes the timestamp of the current back entry.
func (q *expiryQueue) recordArrival(txid types.Hash32, timestamp time.Time) {
	if back := q.entries.Back(); back != nil {
		if last := back.Value.(types.TimestampedEntry).FirstSeen; timestamp.Before(last) {
			timestamp = last
		}
	}
	q.byTxID[txid] = q.entries.PushBack(types.TimestampedEntry{
		TxID:      txid,
		FirstSeen: timestamp,
	})
}

func (q *expiryQueue) contains(txid types.Hash32) bool {
	_, ok := q.byTxID[txid]
	return ok
}

// remove drops the entry of txid and reports whether there was one.
func (q *expiryQueue) remove(txid types.Hash32) bool {
	e, ok := q.byTxID[txid]
	if !ok {
		return false
	}
	q.entries.Remove(e)
	delete(q.byTxID, txid)
	return true
}

// evictExpired pops entries from the front as long as they are at least
// `lifetime` old at `now` and calls onExpired for each of them. It returns
// the number of evicted entries.
func (q *expiryQueue) evictExpired(now time.Time, lifetime time.Duration, onExpired func(types.Hash32)) int {
	n := 0
	for front := q.entries.Front(); front != nil; front = q.entries.Front() {
		entry := front.Value.(types.TimestampedEntry)
		if now.Before(entry.FirstSeen.Add(lifetime)) {
			// everything behind front arrived later
			break
		}
		q.entries.Remove(front)
		delete(q.byTxID, entry.TxID)
		onExpired(entry.TxID)
		n++
	}
	return n
}

func (q *expiryQueue) len() int {
	return q.entries.Len()
}

// snapshot returns the entries oldest first.
func (q *expiryQueue) snapshot() []types.TimestampedEntry {
	res := make([]types.TimestampedEntry, 0, q.entries.Len())
	for e := q.entries.Front(); e != nil; e = e.Next() {
		res = append(res, e.Value.(types.TimestampedEntry))
	}
	return res
}
