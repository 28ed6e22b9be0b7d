// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package contentcache keeps the contents of recently closed files in
// memory, so that opening them again does not go back to the store.
package contentcache

import (
	"container/list"
	"fmt"
	"reflect"
	"sync"
)

// Cache is an LRU cache of file contents keyed by file name and weighted by
// content length. Safe for concurrent access.
//
// Must be created with New.
type Cache struct {
	/////////////////////////
	// Constant data
	/////////////////////////

	// INVARIANT: capacity > 0
	capacity uint64

	/////////////////////////
	// Mutable state
	/////////////////////////

	mu sync.Mutex

	// List of cache entries, with least recently used at the tail.
	//
	// INVARIANT: Each element is of type entry
	//
	// GUARDED_BY(mu)
	entries list.List

	// Index of elements by name.
	//
	// INVARIANT: For each k, v: v.Value.(entry).name == k
	// INVARIANT: Contains all and only the elements of entries
	//
	// GUARDED_BY(mu)
	index map[string]*list.Element

	// INVARIANT: usedSize == sum of len(e.content) over entries
	// INVARIANT: usedSize <= capacity
	//
	// GUARDED_BY(mu)
	usedSize uint64
}

type entry struct {
	name    string
	content []byte
}

// New returns a cache holding at most capacity bytes of content, which must
// be greater than zero.
func New(capacity uint64) *Cache {
	if capacity == 0 {
		panic("zero capacity")
	}

	return &Cache{
		capacity: capacity,
		index:    make(map[string]*list.Element),
	}
}

// CheckInvariants panics if any internal invariant has been violated.
//
// LOCKS_EXCLUDED(c.mu)
func (c *Cache) CheckInvariants() {
	c.mu.Lock()
	defer c.mu.Unlock()

	// INVARIANT: capacity > 0
	if !(c.capacity > 0) {
		panic(fmt.Sprintf("Invalid capacity: %v", c.capacity))
	}

	var used uint64
	for e := c.entries.Front(); e != nil; e = e.Next() {
		// INVARIANT: Each element is of type entry
		en, ok := e.Value.(entry)
		if !ok {
			panic(fmt.Sprintf("Unexpected element type: %v", reflect.TypeOf(e.Value)))
		}

		// INVARIANT: For each k, v: v.Value.(entry).name == k
		if c.index[en.name] != e {
			panic(fmt.Sprintf("Mismatch for name %q", en.name))
		}
		used += uint64(len(en.content))
	}

	// INVARIANT: Contains all and only the elements of entries
	if c.entries.Len() != len(c.index) {
		panic(fmt.Sprintf("Length mismatch: %v vs. %v", c.entries.Len(), len(c.index)))
	}

	// INVARIANT: usedSize == sum of len(e.content) over entries
	if used != c.usedSize {
		panic(fmt.Sprintf("Used size %v, entries hold %v", c.usedSize, used))
	}

	// INVARIANT: usedSize <= capacity
	if c.usedSize > c.capacity {
		panic(fmt.Sprintf("Size %v over capacity %v", c.usedSize, c.capacity))
	}
}

// LOCKS_REQUIRED(c.mu)
func (c *Cache) remove(e *list.Element) string {
	en := e.Value.(entry)
	c.usedSize -= uint64(len(en.content))
	c.entries.Remove(e)
	delete(c.index, en.name)
	return en.name
}

////////////////////////////////////////////////////////////////////////
// Public interface
////////////////////////////////////////////////////////////////////////

// Insert stores a copy of content under name, replacing any previous entry,
// and returns the names evicted to make room. Content larger than the whole
// cache is not stored, and any previous entry for name is dropped.
//
// LOCKS_EXCLUDED(c.mu)
func (c *Cache) Insert(name string, content []byte) (evicted []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.index[name]; ok {
		c.remove(e)
	}

	size := uint64(len(content))
	if size > c.capacity {
		return
	}

	for c.usedSize+size > c.capacity {
		evicted = append(evicted, c.remove(c.entries.Back()))
	}

	c.index[name] = c.entries.PushFront(entry{
		name:    name,
		content: append([]byte(nil), content...),
	})
	c.usedSize += size
	return
}

// Erase drops any entry for name and reports whether there was one.
//
// LOCKS_EXCLUDED(c.mu)
func (c *Cache) Erase(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.index[name]
	if ok {
		c.remove(e)
	}
	return ok
}

// LookUp returns a copy of the content cached for name and marks it most
// recently used.
//
// LOCKS_EXCLUDED(c.mu)
func (c *Cache) LookUp(name string) (content []byte, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.index[name]
	if !ok {
		return
	}

	c.entries.MoveToFront(e)
	content = append([]byte{}, e.Value.(entry).content...)
	return
}

// Usage returns the number of cached files and their total size.
//
// LOCKS_EXCLUDED(c.mu)
func (c *Cache) Usage() (files int, bytes uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len(), c.usedSize
}
