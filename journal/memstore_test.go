package journal

import (
	"testing"
)

func TestMemStoreSaveGet(t *testing.T) {
	m := NewMemStoreDriver()
	rec := Record{Dir: "SEND", Peer: 1, Chunks: 4, Bytes: 200000}
	if err := m.Save(&rec); err != nil {
		t.Fatal(err)
	}
	if rec.Id != 1 {
		t.Fatalf("Save: except id 1, got %d", rec.Id)
	}
	got, err := m.Get(1)
	if err != nil {
		t.Fatal(err)
	}
	if got.Bytes != 200000 || got.Dir != "SEND" || got.Peer != 1 {
		t.Fatalf("Get: got %+v", got)
	}
}

func TestMemStoreUpdateMissing(t *testing.T) {
	m := NewMemStoreDriver()
	rec := Record{Id: 42}
	if err := m.Save(&rec); err == nil {
		t.Fatalf("Save: except error for missing record 42")
	}
}

func TestMemStoreDelete(t *testing.T) {
	m := NewMemStoreDriver()
	rec := Record{Dir: "RECV", Peer: 0}
	m.Save(&rec)
	if err := m.Delete(rec.Id); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Get(rec.Id); err == nil {
		t.Fatalf("Get: except error after delete")
	}
	if err := m.Delete(rec.Id); err == nil {
		t.Fatalf("Delete: except error for missing record")
	}
}

func TestMemStoreIterator(t *testing.T) {
	m := NewMemStoreDriver()
	for i := 0; i < 3; i++ {
		rec := Record{Dir: "SEND", Peer: i}
		m.Save(&rec)
	}
	iter := m.NewIterator()
	var count int
	var lastId int64
	for iter.Next() {
		rec := iter.Value()
		if rec.Id <= lastId {
			t.Fatalf("iterator: ids not increasing: %d after %d", rec.Id, lastId)
		}
		lastId = rec.Id
		count++
	}
	iter.Close()
	if count != 3 {
		t.Fatalf("iterator: except 3 records, got %d", count)
	}
}

func TestRecordRoundTrip(t *testing.T) {
	rec := Record{Id: 7, Dir: "RECV", Peer: 2, Tag: 0, Chunks: 1, Bytes: 5}
	got, err := NewRecord(rec.MarshalBytes())
	if err != nil {
		t.Fatal(err)
	}
	if got != rec {
		t.Fatalf("round trip: except %+v, got %+v", rec, got)
	}
}
