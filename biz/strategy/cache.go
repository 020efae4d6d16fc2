package strategy

import (
	"crypto/sha256"
	"encoding/hex"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru"

	"github.com/gogogo1024/ai-trader/biz/metrics"
)

const DefaultCacheSize = 256

// Cache 以源码 SHA-256 为键缓存编译结果
// 命中时再比对源码，不一致则重新编译并替换
type Cache struct {
	lru    *lru.Cache
	hits   atomic.Int64
	misses atomic.Int64
}

type cacheEntry struct {
	source  string
	program *Program
}

func NewCache(size int) *Cache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	l, err := lru.New(size)
	if err != nil {
		// size > 0 时不会出错
		panic(err)
	}
	return &Cache{lru: l}
}

func cacheKey(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}

// Get 返回编译好的规则，编译失败不入缓存
func (c *Cache) Get(source string) (*Program, error) {
	key := cacheKey(source)
	if v, ok := c.lru.Get(key); ok {
		if e := v.(*cacheEntry); e.source == source {
			c.hits.Add(1)
			metrics.CompileCache.WithLabelValues("hit").Inc()
			return e.program, nil
		}
	}
	c.misses.Add(1)
	metrics.CompileCache.WithLabelValues("miss").Inc()
	prog, err := Compile(source)
	if err != nil {
		return nil, err
	}
	c.lru.Add(key, &cacheEntry{source: source, program: prog})
	return prog, nil
}

// Validate 通过缓存编译，只返回错误
func (c *Cache) Validate(source string) error {
	_, err := c.Get(source)
	return err
}

func (c *Cache) Len() int {
	return c.lru.Len()
}

func (c *Cache) Purge() {
	c.lru.Purge()
}

func (c *Cache) Hits() int64 {
	return c.hits.Load()
}

func (c *Cache) Misses() int64 {
	return c.misses.Load()
}
