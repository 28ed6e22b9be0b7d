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

package contentcache_test

import (
	"strings"
	"testing"

	"github.com/kcore-project/kcore/internal/contentcache"
	. "github.com/jacobsa/oglematchers"
	. "github.com/jacobsa/ogletest"
)

func TestCache(t *testing.T) { RunTests(t) }

////////////////////////////////////////////////////////////////////////
// Boilerplate
////////////////////////////////////////////////////////////////////////

const capacity = 50

type CacheTest struct {
	cache *contentcache.Cache
}

func init() { RegisterTestSuite(&CacheTest{}) }

func (t *CacheTest) SetUp(ti *TestInfo) {
	t.cache = contentcache.New(capacity)
}

func (t *CacheTest) TearDown() {
	t.cache.CheckInvariants()
}

func content(n int) []byte {
	return []byte(strings.Repeat("x", n))
}

func (t *CacheTest) lookUpLen(name string) int {
	c, ok := t.cache.LookUp(name)
	if !ok {
		return -1
	}
	return len(c)
}

////////////////////////////////////////////////////////////////////////
// Tests
////////////////////////////////////////////////////////////////////////

func (t *CacheTest) LookUpInEmptyCache() {
	_, ok := t.cache.LookUp("")
	ExpectFalse(ok)
	_, ok = t.cache.LookUp("taco")
	ExpectFalse(ok)
}

func (t *CacheTest) ZeroCapacity() {
	ExpectThat(
		func() { contentcache.New(0) },
		Panics(HasSubstr("zero capacity")),
	)
}

func (t *CacheTest) EmptyFile() {
	t.cache.Insert("empty", nil)

	c, ok := t.cache.LookUp("empty")
	ExpectTrue(ok)
	ExpectEq(0, len(c))
}

func (t *CacheTest) FillUpToCapacity() {
	t.cache.Insert("burrito", content(4))
	t.cache.Insert("taco", content(20))
	t.cache.Insert("enchilada", content(26))

	ExpectEq(4, t.lookUpLen("burrito"))
	ExpectEq(20, t.lookUpLen("taco"))
	ExpectEq(26, t.lookUpLen("enchilada"))

	files, bytes := t.cache.Usage()
	ExpectEq(3, files)
	ExpectEq(capacity, bytes)
}

func (t *CacheTest) ExpiresLeastRecentlyUsed() {
	t.cache.Insert("burrito", content(4))
	t.cache.Insert("taco", content(20))      // Least recent
	t.cache.Insert("enchilada", content(26)) // Second most recent
	AssertEq(4, t.lookUpLen("burrito"))      // Most recent

	evicted := t.cache.Insert("queso", content(5))

	ExpectThat(evicted, ElementsAre("taco"))
	ExpectEq(-1, t.lookUpLen("taco"))
	ExpectEq(4, t.lookUpLen("burrito"))
	ExpectEq(26, t.lookUpLen("enchilada"))
	ExpectEq(5, t.lookUpLen("queso"))
}

func (t *CacheTest) Overwrite() {
	AssertEq(0, len(t.cache.Insert("burrito", content(4))))
	AssertEq(0, len(t.cache.Insert("taco", content(20))))
	AssertEq(0, len(t.cache.Insert("enchilada", content(20))))
	AssertEq(0, len(t.cache.Insert("burrito", content(6))))

	// Growing an entry evicts the least recently used other entry.
	evicted := t.cache.Insert("burrito", content(12))

	ExpectThat(evicted, ElementsAre("taco"))
	ExpectEq(12, t.lookUpLen("burrito"))
	ExpectEq(20, t.lookUpLen("enchilada"))
}

func (t *CacheTest) TooLargeDropsOldEntry() {
	t.cache.Insert("burrito", content(4))

	evicted := t.cache.Insert("burrito", content(capacity+1))

	ExpectEq(0, len(evicted))
	ExpectEq(-1, t.lookUpLen("burrito"))
}

func (t *CacheTest) Erase() {
	t.cache.Insert("burrito", content(4))

	ExpectTrue(t.cache.Erase("burrito"))
	ExpectFalse(t.cache.Erase("burrito"))
	ExpectEq(-1, t.lookUpLen("burrito"))
}

func (t *CacheTest) ContentIsCopied() {
	c := []byte("abc")
	t.cache.Insert("taco", c)
	c[0] = 'z'

	got, _ := t.cache.LookUp("taco")
	got[1] = 'z'

	again, _ := t.cache.LookUp("taco")
	ExpectEq("abc", string(again))
}
