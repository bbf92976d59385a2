package leveldb

import (
	"os"
	"strconv"

	"github.com/benvvalk/mpih/journal"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/util"
)

const PRE_STREAM = "stream:"
const PRE_SEQUENCE = "sequence:"

type LevelDBDriver struct {
	db *leveldb.DB
}

func NewLevelDBDriver(dbpath string) (LevelDBDriver, error) {
	var db *leveldb.DB
	var err error

	_, err = os.Stat(dbpath)

	if err == nil || os.IsExist(err) {
		db, err = leveldb.RecoverFile(dbpath, nil)
	} else {
		db, err = leveldb.OpenFile(dbpath, nil)
	}
	if err != nil {
		return LevelDBDriver{}, err
	}
	return LevelDBDriver{
		db: db,
	}, nil
}

func (l LevelDBDriver) Save(rec *journal.Record) (err error) {
	batch := new(leveldb.Batch)
	if rec.Id == 0 {
		lastId, e := l.db.Get([]byte(PRE_SEQUENCE+"STREAM"), nil)
		if e != nil || lastId == nil {
			rec.Id = 1
		} else {
			id, _ := strconv.ParseInt(string(lastId), 10, 64)
			rec.Id = id + 1
		}
		batch.Put([]byte(PRE_SEQUENCE+"STREAM"), []byte(strconv.FormatInt(rec.Id, 10)))
	}
	batch.Put([]byte(PRE_STREAM+strconv.FormatInt(rec.Id, 10)), rec.MarshalBytes())
	err = l.db.Write(batch, nil)
	return
}

func (l LevelDBDriver) Get(id int64) (rec journal.Record, err error) {
	var data []byte
	var key = PRE_STREAM + strconv.FormatInt(id, 10)
	data, err = l.db.Get([]byte(key), nil)
	if err != nil {
		return
	}
	rec, err = journal.NewRecord(data)
	return
}

func (l LevelDBDriver) Delete(id int64) (err error) {
	return l.db.Delete([]byte(PRE_STREAM+strconv.FormatInt(id, 10)), nil)
}

func (l LevelDBDriver) NewIterator() journal.RecordIterator {
	iter := l.db.NewIterator(util.BytesPrefix([]byte(PRE_STREAM)), nil)
	return &LevelDBIterator{
		iter: iter,
	}
}

func (l LevelDBDriver) Close() error {
	err := l.db.Close()
	return err
}

type LevelDBIterator struct {
	iter iterator.Iterator
}

func (iter *LevelDBIterator) Next() bool {
	return iter.iter.Next()
}

func (iter *LevelDBIterator) Value() (rec journal.Record) {
	rec, _ = journal.NewRecord(iter.iter.Value())
	return
}

func (iter *LevelDBIterator) Error() error {
	return iter.iter.Error()
}

func (iter *LevelDBIterator) Close() {
	iter.iter.Release()
}
