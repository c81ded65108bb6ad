// Copyright 2023 Sneller, Inc.
//
//  Licensed under the Apache License, Version 2.0 (the "License");
//  you may not use this file except in compliance with the License.
//  You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
//  Unless required by applicable law or agreed to in writing, software
//  distributed under the License is distributed on an "AS IS" BASIS,
//  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//  See the License for the specific language governing permissions and
//  limitations under the License.

package jit

import (
	"errors"
	"sync"

	"github.com/shapevm/shapevm/eval"
	"github.com/shapevm/shapevm/tape"
)

type cacheKey struct {
	digest [32]byte
	mode   eval.Mode
}

type cacheEntry struct {
	r   *Routine
	err error
}

// Cache holds compiled routines keyed by tape
// contents and mode, so that equal tapes (for
// example the same region simplified twice) are
// compiled once. Compilation failures are cached
// too. A Cache is safe for concurrent use.
type Cache struct {
	opts []Option

	lock    sync.Mutex
	entries map[cacheKey]cacheEntry
	closed  bool
	hits    int
	misses  int
}

// NewCache returns an empty cache that compiles
// with opts.
func NewCache(opts ...Option) *Cache {
	return &Cache{
		opts:    opts,
		entries: make(map[cacheKey]cacheEntry),
	}
}

// ErrCacheClosed is returned by Get after Close.
var ErrCacheClosed = errors.New("jit: cache closed")

// Get returns the routine for t in mode, compiling
// it on first use. The caller owns one reference to
// the result and must Close it.
func (c *Cache) Get(t *tape.Tape, mode eval.Mode) (*Routine, error) {
	key := cacheKey{digest: t.Digest(), mode: mode}
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.closed {
		return nil, ErrCacheClosed
	}
	if e, ok := c.entries[key]; ok {
		c.hits++
		if e.err != nil {
			return nil, e.err
		}
		return e.r.Retain(), nil
	}
	c.misses++
	r, err := Compile(t, mode, c.opts...)
	c.entries[key] = cacheEntry{r: r, err: err}
	if err != nil {
		warnf("jit: caching failure for %s tape of %d instructions: %s", mode, t.Len(), err)
		return nil, err
	}
	return r.Retain(), nil
}

// Len returns the number of cached entries,
// failures included.
func (c *Cache) Len() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return len(c.entries)
}

// Stats returns the number of lookups that
// found an entry and the number that did not.
func (c *Cache) Stats() (hits, misses int) {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.hits, c.misses
}

// Size returns the total size of the mapped code.
func (c *Cache) Size() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	n := 0
	for _, e := range c.entries {
		if e.r != nil {
			n += e.r.Size()
		}
	}
	return n
}

// Close drops the cache's reference to every
// routine. Routines still held by callers stay
// valid until they are closed.
func (c *Cache) Close() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	var errs []error
	for k, e := range c.entries {
		if e.r != nil {
			if err := e.r.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		delete(c.entries, k)
	}
	return errors.Join(errs...)
}
