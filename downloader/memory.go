package downloader

import (
	"context"
	"sync"
	"time"
)

// Caches downloaded files in memory. With caching enabled, concurrent
// callers asking for the same URL within the TTL share one download.
type MemoryDownloader struct {
	mutex sync.Mutex
	cache map[string]downloaderCacheEntry

	TimeNow func() time.Time
}

func NewMemoryDownloader() *MemoryDownloader {
	return &MemoryDownloader{
		cache:   make(map[string]downloaderCacheEntry),
		TimeNow: time.Now,
	}
}

type downloaderCacheEntry struct {
	data       []byte
	expiration time.Time
}

func (d *MemoryDownloader) Get(
	ctx context.Context,
	url string,
	headers map[string]string,
	options GetOptions,
) ([]byte, error) {
	if !options.Cache || options.CacheTTL <= 0 {
		return HTTPGet(ctx, url, headers, options)
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()

	if entry, ok := d.cache[url]; ok {
		if entry.expiration.After(d.TimeNow()) {
			return entry.data, nil
		}
		delete(d.cache, url)
	}

	body, err := HTTPGet(ctx, url, headers, options)
	if err != nil {
		return nil, err
	}

	d.cache[url] = downloaderCacheEntry{
		data:       body,
		expiration: d.TimeNow().Add(options.CacheTTL),
	}

	return body, nil
}
