package literature

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/evigraph/backend/pkg/common"

	gocache "github.com/patrickmn/go-cache"
)

const (
	searchTTL   = 24 * time.Hour
	paperTTL    = gocache.NoExpiration
	failureTTL  = time.Hour
	fullTextTTL = 24 * time.Hour
)

// fetchFailure marks a paper id whose fetch failed, so broken ids are not
// retried on every run within the marker's TTL.
type fetchFailure struct {
	Err string
	At  time.Time
}

// fullTextOutcome records the result of full-text resolution for a paper:
// either the resolved text or the fact that all strategies were exhausted.
type fullTextOutcome struct {
	Text      string
	Exhausted bool
}

// Cache is the shared literature cache: search results, papers, fetch
// failure markers, and full-text outcomes, each under its own key prefix.
type Cache struct {
	cache *gocache.Cache
}

// NewCache creates a literature cache with the given cleanup interval.
func NewCache(cleanupInterval time.Duration) *Cache {
	return &Cache{
		cache: gocache.New(gocache.NoExpiration, cleanupInterval),
	}
}

func searchKey(query string, max int) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%d", query, max))
	return "search:" + hex.EncodeToString(sum[:])
}

func (c *Cache) GetSearch(query string, max int) (*SearchResult, bool) {
	if val, found := c.cache.Get(searchKey(query, max)); found {
		return val.(*SearchResult), true
	}
	return nil, false
}

func (c *Cache) SetSearch(query string, max int, result *SearchResult) {
	c.cache.Set(searchKey(query, max), result, searchTTL)
}

func (c *Cache) GetPaper(id string) (*common.Paper, bool) {
	if val, found := c.cache.Get("paper:" + id); found {
		return val.(*common.Paper), true
	}
	return nil, false
}

func (c *Cache) SetPaper(paper *common.Paper) {
	c.cache.Set("paper:"+paper.ID, paper, paperTTL)
}

func (c *Cache) GetFailure(id string) (*fetchFailure, bool) {
	if val, found := c.cache.Get("failure:" + id); found {
		return val.(*fetchFailure), true
	}
	return nil, false
}

func (c *Cache) SetFailure(id string, err error) {
	c.cache.Set("failure:"+id, &fetchFailure{
		Err: err.Error(),
		At:  time.Now(),
	}, failureTTL)
}

func (c *Cache) ClearFailure(id string) {
	c.cache.Delete("failure:" + id)
}

func (c *Cache) GetFullText(id string) (*fullTextOutcome, bool) {
	if val, found := c.cache.Get("fulltext:" + id); found {
		return val.(*fullTextOutcome), true
	}
	return nil, false
}

func (c *Cache) SetFullText(id string, outcome *fullTextOutcome) {
	c.cache.Set("fulltext:"+id, outcome, fullTextTTL)
}
