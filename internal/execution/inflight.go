package execution

import (
	"fmt"
	"hash/fnv"
	"sync"
	"time"
)

// ErrDuplicateInFlight 同一 key 的请求仍在 in-flight（或在 TTL 窗口内）
// 用于防止警报触发和手工操作撞在一起导致的重复下单
var ErrDuplicateInFlight = fmt.Errorf("duplicate in-flight")

// InFlightDeduper 短时间窗口内的确定性去重
// 分片 map 加短 TTL，清理惰性进行；交易场景里误判的代价高，
// 所以用精确 key 匹配而不是位图哈希
type InFlightDeduper struct {
	ttl    time.Duration
	shards []inFlightShard
}

type inFlightShard struct {
	mu sync.Mutex
	m  map[string]time.Time // key -> expiresAt
}

func NewInFlightDeduper(ttl time.Duration, shardCount int) *InFlightDeduper {
	if ttl <= 0 {
		ttl = 2 * time.Second
	}
	if shardCount <= 0 {
		shardCount = 16
	}
	d := &InFlightDeduper{ttl: ttl, shards: make([]inFlightShard, shardCount)}
	for i := range d.shards {
		d.shards[i].m = make(map[string]time.Time)
	}
	return d
}

// TryAcquire 占用 key，窗口内重复占用返回 ErrDuplicateInFlight
func (d *InFlightDeduper) TryAcquire(key string) error {
	sh := d.shard(key)
	now := time.Now()

	sh.mu.Lock()
	defer sh.mu.Unlock()

	if exp, ok := sh.m[key]; ok && now.Before(exp) {
		return ErrDuplicateInFlight
	}
	// 惰性清理过期条目
	for k, exp := range sh.m {
		if now.After(exp) {
			delete(sh.m, k)
		}
	}
	sh.m[key] = now.Add(d.ttl)
	return nil
}

// Release 提前释放 key（订单已有结果，不必等 TTL）
func (d *InFlightDeduper) Release(key string) {
	sh := d.shard(key)
	sh.mu.Lock()
	delete(sh.m, key)
	sh.mu.Unlock()
}

func (d *InFlightDeduper) shard(key string) *inFlightShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &d.shards[h.Sum32()%uint32(len(d.shards))]
}

// orderKey (用户, 资产, 方向) 级别的去重粒度
func orderKey(userID int64, tokenID, side string) string {
	return fmt.Sprintf("%d:%s:%s", userID, tokenID, side)
}
