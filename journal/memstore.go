package journal

import (
	"fmt"
	"sort"
	"sync"
)

type MemStoreDriver struct {
	data   map[int64]*Record
	lastId int64
	locker *sync.Mutex
}

func NewMemStoreDriver() *MemStoreDriver {
	mem := new(MemStoreDriver)
	mem.locker = new(sync.Mutex)
	mem.data = make(map[int64]*Record)
	mem.lastId = 0
	return mem
}

func (m *MemStoreDriver) Save(rec *Record) (err error) {
	defer m.locker.Unlock()
	m.locker.Lock()
	if rec.Id > 0 {
		if _, ok := m.data[rec.Id]; !ok {
			return fmt.Errorf("Update record %d fail, the record is not exists.", rec.Id)
		}
	} else {
		m.lastId++
		rec.Id = m.lastId
	}
	saved := *rec
	m.data[rec.Id] = &saved
	return
}

func (m *MemStoreDriver) Get(id int64) (rec Record, err error) {
	defer m.locker.Unlock()
	m.locker.Lock()
	return m.get(id)
}

func (m *MemStoreDriver) get(id int64) (rec Record, err error) {
	r, ok := m.data[id]
	if !ok {
		err = fmt.Errorf("Record %d not exists.", id)
		return
	}
	rec = *r
	return
}

func (m *MemStoreDriver) Delete(id int64) (err error) {
	defer m.locker.Unlock()
	m.locker.Lock()
	if _, ok := m.data[id]; !ok {
		return fmt.Errorf("Record %d not exists.", id)
	}
	delete(m.data, id)
	return
}

func (m *MemStoreDriver) NewIterator() RecordIterator {
	m.locker.Lock()
	ids := make([]int64, 0, len(m.data))
	for id := range m.data {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return &MemIterator{
		ids:    ids,
		m:      m,
		cursor: 0,
	}
}

func (m *MemStoreDriver) Close() error {
	return nil
}

type MemIterator struct {
	ids    []int64
	m      *MemStoreDriver
	cursor int
	rec    Record
	err    error
}

func (iter *MemIterator) Next() bool {
	if len(iter.ids) <= iter.cursor {
		return false
	}
	iter.rec, iter.err = iter.m.get(iter.ids[iter.cursor])
	if iter.err != nil {
		return false
	}
	iter.cursor++
	return true
}

func (iter *MemIterator) Value() Record {
	return iter.rec
}

func (iter *MemIterator) Error() error {
	return iter.err
}

func (iter *MemIterator) Close() {
	iter.m.locker.Unlock()
}
