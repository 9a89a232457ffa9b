package fetch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"safelink/pkg/common"
	"safelink/pkg/rank"
)

// Resource keys.
const (
	KeyDomain = "domain"
	KeyPage   = "page"
	KeyRank   = "rank"
	KeyIndex  = "index"
)

type latched struct {
	val any
	err error
}

// Cache memoizes the shared resources of one extraction call. The first
// result for a key, failure included, is latched and never overwritten;
// concurrent requesters for the same key wait on a single fetch.
type Cache struct {
	src      Sources
	target   *common.Target
	timeouts Timeouts

	group   singleflight.Group
	mu      sync.Mutex
	results map[string]latched
}

// NewCache returns an empty cache for target. Use one cache per call.
func NewCache(src Sources, target *common.Target, timeouts Timeouts) *Cache {
	return &Cache{
		src:      src,
		target:   target,
		timeouts: timeouts,
		results:  make(map[string]latched),
	}
}

func (c *Cache) Domain(ctx context.Context) (*DomainRecord, error) {
	v, err := c.load(ctx, KeyDomain, c.timeouts.Domain, func(ctx context.Context) (any, error) {
		return c.src.LookupDomain(ctx, c.target)
	})
	rec, _ := v.(*DomainRecord)
	return rec, err
}

func (c *Cache) Page(ctx context.Context) (*PageSnapshot, error) {
	v, err := c.load(ctx, KeyPage, c.timeouts.Page, func(ctx context.Context) (any, error) {
		return c.src.FetchPage(ctx, c.target)
	})
	snap, _ := v.(*PageSnapshot)
	return snap, err
}

func (c *Cache) Rank(ctx context.Context) (*rank.Result, error) {
	v, err := c.load(ctx, KeyRank, c.timeouts.External, func(ctx context.Context) (any, error) {
		return c.src.LookupRank(ctx, c.target)
	})
	res, _ := v.(*rank.Result)
	return res, err
}

func (c *Cache) Index(ctx context.Context) (*IndexRecord, error) {
	v, err := c.load(ctx, KeyIndex, c.timeouts.External, func(ctx context.Context) (any, error) {
		return c.src.LookupIndex(ctx, c.target)
	})
	rec, _ := v.(*IndexRecord)
	return rec, err
}

// Latched reports whether key already holds a result.
func (c *Cache) Latched(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.results[key]
	return ok
}

func (c *Cache) lookup(key string) (latched, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.results[key]
	return r, ok
}

func (c *Cache) load(ctx context.Context, key string, timeout time.Duration, fn func(context.Context) (any, error)) (any, error) {
	if r, ok := c.lookup(key); ok {
		return r.val, r.err
	}

	ch := c.group.DoChan(key, func() (v any, err error) {
		if r, ok := c.lookup(key); ok {
			return r.val, r.err
		}
		defer func() {
			if p := recover(); p != nil {
				v, err = nil, fmt.Errorf("%s fetch panicked: %v", key, p)
			}
			c.mu.Lock()
			if _, ok := c.results[key]; !ok {
				c.results[key] = latched{val: v, err: err}
			}
			c.mu.Unlock()
		}()

		fctx := ctx
		if timeout > 0 {
			var cancel context.CancelFunc
			fctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		v, err = fn(fctx)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		return v, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.Val, res.Err
	}
}
