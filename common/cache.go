// Copyright 2025 The vellum Authors
// This file is part of the vellum library.
//
// The vellum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The vellum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the vellum library. If not, see <http://www.gnu.org/licenses/>.

package common

import (
	lru "github.com/hashicorp/golang-lru"
)

type CacheType int

const (
	LRUCacheType CacheType = iota
	ARCCacheType
)

// DefaultCacheType is set by flag.
var DefaultCacheType = LRUCacheType

// Cache is the common cache interface for block, QC and message caches.
type Cache interface {
	Add(key interface{}, value interface{}) (evicted bool)
	Get(key interface{}) (value interface{}, ok bool)
	Contains(key interface{}) bool
	Remove(key interface{})
	Purge()
}

type lruCache struct {
	lru *lru.Cache
}

func (cache *lruCache) Add(key interface{}, value interface{}) (evicted bool) {
	return cache.lru.Add(key, value)
}

func (cache *lruCache) Get(key interface{}) (value interface{}, ok bool) {
	value, ok = cache.lru.Get(key)
	return
}

func (cache *lruCache) Contains(key interface{}) bool {
	return cache.lru.Contains(key)
}

func (cache *lruCache) Remove(key interface{}) {
	cache.lru.Remove(key)
}

func (cache *lruCache) Purge() {
	cache.lru.Purge()
}

type arcCache struct {
	arc *lru.ARCCache
}

func (cache *arcCache) Add(key interface{}, value interface{}) (evicted bool) {
	cache.arc.Add(key, value)
	return false
}

func (cache *arcCache) Get(key interface{}) (value interface{}, ok bool) {
	value, ok = cache.arc.Get(key)
	return
}

func (cache *arcCache) Contains(key interface{}) bool {
	return cache.arc.Contains(key)
}

func (cache *arcCache) Remove(key interface{}) {
	cache.arc.Remove(key)
}

func (cache *arcCache) Purge() {
	cache.arc.Purge()
}

// NewCache creates a cache of the default type with the given size.
func NewCache(size int) Cache {
	return NewCacheWithType(DefaultCacheType, size)
}

func NewCacheWithType(cacheType CacheType, size int) Cache {
	if size <= 0 {
		size = 1
	}
	switch cacheType {
	case ARCCacheType:
		arc, _ := lru.NewARC(size)
		return &arcCache{arc: arc}
	default:
		cache, _ := lru.New(size)
		return &lruCache{lru: cache}
	}
}
