// Package journal records finished transfer streams. The daemon
// appends one Record per completed SEND/RECV stream; the status API's
// /journal endpoint reads them back ('mpih status' does not show
// them). Storage is pluggable through the Driver interface.
package journal

import (
	"encoding/json"
)

// Record describes one completed stream on a channel.
type Record struct {
	Id         int64  `json:"id"`
	Dir        string `json:"dir"`
	Peer       int    `json:"peer"`
	Tag        int    `json:"tag"`
	Chunks     int64  `json:"chunks"`
	Bytes      int64  `json:"bytes"`
	StartedAt  int64  `json:"started_at"`
	FinishedAt int64  `json:"finished_at"`
}

func NewRecord(payload []byte) (rec Record, err error) {
	err = json.Unmarshal(payload, &rec)
	return
}

func (rec Record) MarshalBytes() (data []byte) {
	data, _ = json.Marshal(rec)
	return
}

// Driver stores records. Save assigns Id when it is zero.
type Driver interface {
	Save(*Record) error
	Get(id int64) (Record, error)
	Delete(id int64) error
	NewIterator() RecordIterator
	Close() error
}

type Iterator interface {
	Next() bool
}

type RecordIterator interface {
	Iterator
	Value() Record
	Error() error
	Close()
}
