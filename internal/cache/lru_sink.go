package cache

import (
	"context"
	"sync"
	"time"

	"github.com/Elenore23/dshackle/internal/protocol"
	"github.com/Elenore23/dshackle/internal/upstreams"
	"github.com/bytedance/sonic"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/samber/lo"
)

type item struct {
	value    []byte
	expireAt *time.Time
}

// LRUSink is the default, process-local CacheSink: a bounded in-memory LRU
// with a background sweep evicting anything past its ttl. Heads are kept
// separately since they're replaced far more often than they're evicted.
type LRUSink struct {
	cache *lru.Cache[string, item]
	ttl   time.Duration

	mu    sync.RWMutex
	heads map[string]*protocol.BlockRef
}

func NewLRUSink(size int, ttl time.Duration) (*LRUSink, error) {
	cache, err := lru.New[string, item](size)
	if err != nil {
		return nil, err
	}
	sink := &LRUSink{
		cache: cache,
		ttl:   ttl,
		heads: map[string]*protocol.BlockRef{},
	}
	go sink.removeExpired()
	return sink, nil
}

// Put stores head under a chain+tag slot, reusing the same bounded LRU the
// sink keeps for everything else rather than a second storage structure.
func (s *LRUSink) Put(_ context.Context, chain string, tag upstreams.Tag, head *protocol.BlockRef) error {
	raw, err := sonic.Marshal(head)
	if err != nil {
		return err
	}
	var expireAt *time.Time
	if s.ttl > 0 {
		expireAt = lo.ToPtr(time.Now().Add(s.ttl))
	}
	s.cache.Add(tagKey(chain, tag), item{value: raw, expireAt: expireAt})
	return nil
}

// Tagged looks up a head previously stored under Put, reporting false on a
// miss or an expired entry.
func (s *LRUSink) Tagged(chain string, tag upstreams.Tag) (*protocol.BlockRef, bool) {
	it, ok := s.cache.Get(tagKey(chain, tag))
	if !ok {
		return nil, false
	}
	if it.expireAt != nil && time.Now().After(*it.expireAt) {
		return nil, false
	}
	head := &protocol.BlockRef{}
	if err := sonic.Unmarshal(it.value, head); err != nil {
		return nil, false
	}
	return head, true
}

func tagKey(chain string, tag upstreams.Tag) string {
	return chain + ":" + string(tag)
}

func (s *LRUSink) SetHead(_ context.Context, chain string, head *protocol.BlockRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heads[chain] = head
	return nil
}

func (s *LRUSink) GetHead(chain string) *protocol.BlockRef {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.heads[chain]
}

func (s *LRUSink) removeExpired() {
	if s.ttl <= 0 {
		return
	}
	for {
		<-time.After(s.ttl)
		for _, key := range s.cache.Keys() {
			if it, ok := s.cache.Peek(key); ok && it.expireAt != nil && time.Now().After(*it.expireAt) {
				s.cache.Remove(key)
			}
		}
	}
}
