package redis

import (
	"strconv"
	"strings"
	"sync"

	"github.com/benvvalk/mpih/journal"
	"github.com/garyburd/redigo/redis"
	"github.com/golang/groupcache/lru"
)

const REDIS_PREFIX = "mpih:stream:"

type RedisDriver struct {
	pool     *redis.Pool
	RWLocker *sync.Mutex
	cache    *lru.Cache
}

func NewRedisDriver(server string) RedisDriver {
	parts := strings.SplitN(server, "://", 2)
	addr := parts[len(parts)-1]
	pool := redis.NewPool(func() (conn redis.Conn, err error) {
		conn, err = redis.Dial("tcp", addr)
		return
	}, 3)
	var cache = lru.New(1000)
	var RWLocker = new(sync.Mutex)

	return RedisDriver{pool: pool, cache: cache, RWLocker: RWLocker}
}

func (r RedisDriver) get(id int64) (rec journal.Record, err error) {
	var data []byte
	var conn = r.pool.Get()
	defer conn.Close()
	var key = REDIS_PREFIX + strconv.FormatInt(id, 10)
	if val, hit := r.cache.Get(key); hit {
		return val.(journal.Record), nil
	}
	data, err = redis.Bytes(conn.Do("GET", key))
	if err != nil {
		return
	}
	rec, err = journal.NewRecord(data)
	if err == nil {
		r.cache.Add(key, rec)
	}
	return
}

func (r RedisDriver) Save(rec *journal.Record) (err error) {
	defer r.RWLocker.Unlock()
	r.RWLocker.Lock()
	var conn = r.pool.Get()
	defer conn.Close()
	if rec.Id == 0 {
		rec.Id, err = redis.Int64(conn.Do("INCRBY", REDIS_PREFIX+"sequence", 1))
		if err != nil {
			return
		}
	}
	var key = REDIS_PREFIX + strconv.FormatInt(rec.Id, 10)
	r.cache.Remove(key)
	_, err = conn.Do("SET", key, rec.MarshalBytes())
	if err == nil {
		_, err = conn.Do("ZADD", REDIS_PREFIX+"ID", rec.Id,
			strconv.FormatInt(rec.Id, 10))
	}
	return
}

func (r RedisDriver) Get(id int64) (rec journal.Record, err error) {
	defer r.RWLocker.Unlock()
	r.RWLocker.Lock()
	rec, err = r.get(id)
	return
}

func (r RedisDriver) Delete(id int64) (err error) {
	defer r.RWLocker.Unlock()
	r.RWLocker.Lock()
	var key = REDIS_PREFIX + strconv.FormatInt(id, 10)
	var conn = r.pool.Get()
	defer conn.Close()
	_, err = conn.Do("DEL", key)
	conn.Do("ZREM", REDIS_PREFIX+"ID", strconv.FormatInt(id, 10))
	r.cache.Remove(key)
	return
}

func (r RedisDriver) NewIterator() journal.RecordIterator {
	r.RWLocker.Lock()
	return &RedisIterator{
		cursor:    0,
		cacheRecs: make([]journal.Record, 0),
		start:     0,
		limit:     20,
		err:       nil,
		r:         r,
	}
}

func (r RedisDriver) Close() error {
	return r.pool.Close()
}

type RedisIterator struct {
	cursor    int
	err       error
	cacheRecs []journal.Record
	start     int
	limit     int
	r         RedisDriver
}

func (iter *RedisIterator) Next() bool {
	iter.cursor += 1
	if len(iter.cacheRecs) > 0 && len(iter.cacheRecs) > iter.cursor {
		return true
	}
	start := iter.start
	stop := iter.start + iter.limit - 1
	iter.start = iter.start + iter.limit

	var conn = iter.r.pool.Get()
	defer conn.Close()

	reply, err := redis.Values(conn.Do("ZRANGE", REDIS_PREFIX+"ID",
		start, stop, "WITHSCORES"))
	if err != nil || len(reply) == 0 {
		return false
	}
	var id int64
	recs := make([]journal.Record, len(reply)/2)
	for k, v := range reply {
		if k%2 == 1 {
			id, _ = strconv.ParseInt(string(v.([]byte)), 10, 0)
			recs[(k-1)/2], _ = iter.r.get(id)
		}
	}
	iter.cacheRecs = recs
	iter.cursor = 0
	return true
}

func (iter *RedisIterator) Value() journal.Record {
	return iter.cacheRecs[iter.cursor]
}

func (iter *RedisIterator) Error() error {
	return iter.err
}

func (iter *RedisIterator) Close() {
	iter.r.RWLocker.Unlock()
}
