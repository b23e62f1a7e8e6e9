// Package chat implements chat rooms with a bounded in-memory history.
package chat

import (
	"sort"
	"sync"
)

const DefaultMaxRecords = 50

type Seq int64

type Record struct {
	Seq         Seq
	Timestamp   int64
	UserID      string
	Username    string
	DisplayName string
	Content     string
	HTML        string
	Type        string
}

type Room struct {
	ID         string
	MaxRecords int

	// RecordCallback is called for every member, the sender included, after a record is added.
	RecordCallback func(receiverID string, roomID string, record Record)

	records   []Record
	members   map[string]struct{}
	firstSeq  Seq
	lastSeq   Seq
	lastIndex int

	mux sync.RWMutex
}

type Config struct {
	ID             string
	MaxRecords     int
	RecordCallback func(receiverID string, roomID string, record Record)
}

func New(config Config) *Room {
	if config.MaxRecords <= 0 {
		config.MaxRecords = DefaultMaxRecords
	}
	return &Room{
		ID:             config.ID,
		MaxRecords:     config.MaxRecords,
		RecordCallback: config.RecordCallback,
		members:        make(map[string]struct{}),
		lastIndex:      -1,
		firstSeq:       -1,
		lastSeq:        -1,
	}
}

// AddRecord stores record in the ring buffer, dropping the oldest one when full,
// and hands it to RecordCallback for each member.
func (r *Room) AddRecord(record Record) Record {
	r.mux.Lock()
	r.lastSeq++
	record.Seq = r.lastSeq

	if len(r.records) < r.MaxRecords {
		if r.firstSeq == -1 {
			r.firstSeq = r.lastSeq
		}
		r.records = append(r.records, record)
		r.lastIndex++
	} else {
		r.firstSeq++
		r.lastIndex = (r.lastIndex + 1) % r.MaxRecords
		r.records[r.lastIndex] = record
	}

	receivers := r.membersLocked()
	callback := r.RecordCallback
	r.mux.Unlock()

	if callback != nil {
		for _, id := range receivers {
			callback(id, r.ID, record)
		}
	}
	return record
}

// copyRange copies count records starting at seq from. Caller holds the lock.
func (r *Room) copyRange(from Seq, count int) []Record {
	result := make([]Record, count)
	if count == 0 {
		return result
	}

	head := 0
	if len(r.records) == r.MaxRecords {
		head = (r.lastIndex + 1) % r.MaxRecords
	}
	start := (head + int(from-r.firstSeq)) % len(r.records)

	n := copy(result, r.records[start:])
	if n < count {
		copy(result[n:], r.records[:count-n])
	}
	return result
}

// GetRecords returns records with from <= Seq < to that are still in the buffer.
func (r *Room) GetRecords(from, to Seq) []Record {
	r.mux.RLock()
	defer r.mux.RUnlock()

	if r.firstSeq == -1 {
		return []Record{}
	}
	from = max(from, r.firstSeq)
	to = min(to, r.lastSeq+1)
	if from >= to {
		return []Record{}
	}
	return r.copyRange(from, int(to-from))
}

// GetLastRecords returns up to count most recent records, oldest first.
func (r *Room) GetLastRecords(count int) []Record {
	r.mux.RLock()
	defer r.mux.RUnlock()

	if r.lastSeq == -1 || count <= 0 {
		return []Record{}
	}
	count = min(count, int(r.lastSeq-r.firstSeq+1))
	return r.copyRange(r.lastSeq-Seq(count)+1, count)
}

// Join adds the user to the room and reports whether they were not a member before.
func (r *Room) Join(userID string) bool {
	r.mux.Lock()
	defer r.mux.Unlock()

	if _, ok := r.members[userID]; ok {
		return false
	}
	r.members[userID] = struct{}{}
	return true
}

func (r *Room) Leave(userID string) {
	r.mux.Lock()
	defer r.mux.Unlock()
	delete(r.members, userID)
}

func (r *Room) IsMember(userID string) bool {
	r.mux.RLock()
	defer r.mux.RUnlock()
	_, ok := r.members[userID]
	return ok
}

// Members returns the sorted member IDs.
func (r *Room) Members() []string {
	r.mux.RLock()
	defer r.mux.RUnlock()
	return r.membersLocked()
}

func (r *Room) membersLocked() []string {
	ids := make([]string, 0, len(r.members))
	for id := range r.members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Room) Empty() bool {
	r.mux.RLock()
	defer r.mux.RUnlock()
	return len(r.members) == 0
}
