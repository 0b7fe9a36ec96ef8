package literature

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/evigraph/backend/internal/util"
	"github.com/evigraph/backend/pkg/common"
	"github.com/evigraph/backend/pkg/logger"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// ErrPaperNotFound indicates the bibliographic API has no record for an id.
var ErrPaperNotFound = errors.New("paper not found")

const (
	defaultTimeout   = 30 * time.Second
	defaultDelay     = 350 * time.Millisecond
	maxResponseBytes = 8 << 20
	fetchTries       = 3
	fetchBaseDelay   = 500 * time.Millisecond
)

// SearchResult is the outcome of one bibliographic search.
type SearchResult struct {
	Total int      `json:"total"`
	IDs   []string `json:"ids"`
}

// Client talks to an external bibliographic REST API. All results are cached;
// concurrent fetches of the same uncached id are collapsed into one upstream
// call.
type Client struct {
	baseURL    string
	archiveURL string
	landingURL string

	httpClient *http.Client
	cache      *Cache
	limiter    *rate.Limiter
	group      singleflight.Group

	s3Client *s3.Client
}

// NewClientParams contains configuration for creating a literature Client.
//
// BaseURL is the search/metadata REST endpoint. ArchiveURL is the alternate
// full-text REST endpoint. LandingURL is the publisher landing-page base used
// as the last full-text fallback. S3Client may be nil when no archival bucket
// is configured.
type NewClientParams struct {
	BaseURL    string
	ArchiveURL string
	LandingURL string

	Timeout      time.Duration
	RequestDelay time.Duration

	S3Client *s3.Client
}

// NewClient creates a literature client with its own cache and politeness
// rate limiter.
func NewClient(params NewClientParams) *Client {
	timeout := params.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	delay := params.RequestDelay
	if delay <= 0 {
		delay = defaultDelay
	}

	return &Client{
		baseURL:    params.BaseURL,
		archiveURL: params.ArchiveURL,
		landingURL: params.LandingURL,

		httpClient: &http.Client{Timeout: timeout},
		cache:      NewCache(10 * time.Minute),
		limiter:    rate.NewLimiter(rate.Every(delay), 1),

		s3Client: params.S3Client,
	}
}

type searchResponse struct {
	HitCount   int `json:"hitCount"`
	ResultList struct {
		Result []struct {
			ID string `json:"id"`
		} `json:"result"`
	} `json:"resultList"`
}

// Search queries the bibliographic API and returns the total hit count plus
// up to max result ids. Results are cached for 24 hours per (query, max).
func (c *Client) Search(ctx context.Context, query string, max int) (*SearchResult, error) {
	if cached, ok := c.cache.GetSearch(query, max); ok {
		logger.Debug("[Literature] Search cache hit", "query", query, "max", max)
		return cached, nil
	}

	params := url.Values{}
	params.Set("query", query)
	params.Set("format", "json")
	params.Set("pageSize", strconv.Itoa(max))
	endpoint := c.baseURL + "/search?" + params.Encode()

	body, err := util.RetryWithBackoff(ctx, fetchTries, fetchBaseDelay, func(ctx context.Context) ([]byte, error) {
		return c.getBody(ctx, endpoint)
	})
	if err != nil {
		return nil, fmt.Errorf("literature search failed: %w", err)
	}

	var parsed searchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse search response: %w", err)
	}

	result := &SearchResult{Total: parsed.HitCount}
	for _, r := range parsed.ResultList.Result {
		result.IDs = append(result.IDs, r.ID)
		if len(result.IDs) >= max {
			break
		}
	}

	c.cache.SetSearch(query, max, result)
	logger.Info("[Literature] Search completed", "query", query, "total", result.Total, "returned", len(result.IDs))
	return result, nil
}

type paperResponse struct {
	Result struct {
		ID         string `json:"id"`
		Title      string `json:"title"`
		Abstract   string `json:"abstractText"`
		PubYear    string `json:"pubYear"`
		Journal    string `json:"journalTitle"`
		AuthorList struct {
			Author []struct {
				FullName string `json:"fullName"`
			} `json:"author"`
		} `json:"authorList"`
	} `json:"result"`
}

// Fetch returns the paper for id, from cache when possible. A cached failure
// marker short-circuits until it expires. Concurrent fetches of the same
// uncached id issue exactly one upstream call.
func (c *Client) Fetch(ctx context.Context, id string, force bool) (*common.Paper, error) {
	if !force {
		if paper, ok := c.cache.GetPaper(id); ok {
			return paper, nil
		}
		if failure, ok := c.cache.GetFailure(id); ok {
			return nil, fmt.Errorf("paper %s previously failed at %s: %s", id, failure.At.Format(time.RFC3339), failure.Err)
		}
	} else {
		c.cache.ClearFailure(id)
	}

	result, err, _ := c.group.Do(id, func() (any, error) {
		if !force {
			if paper, ok := c.cache.GetPaper(id); ok {
				return paper, nil
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		paper, err := c.fetchRemote(ctx, id)
		if err != nil {
			c.cache.SetFailure(id, err)
			return nil, err
		}

		c.cache.SetPaper(paper)
		return paper, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*common.Paper), nil
}

func (c *Client) fetchRemote(ctx context.Context, id string) (*common.Paper, error) {
	endpoint := c.baseURL + "/article/" + url.PathEscape(id) + "?format=json"

	body, err := util.RetryWithBackoff(ctx, fetchTries, fetchBaseDelay, func(ctx context.Context) ([]byte, error) {
		return c.getBody(ctx, endpoint)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch paper %s: %w", id, err)
	}

	var parsed paperResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse paper %s: %w", id, err)
	}
	if parsed.Result.ID == "" && parsed.Result.Title == "" {
		return nil, fmt.Errorf("paper %s: %w", id, ErrPaperNotFound)
	}

	year, _ := strconv.Atoi(parsed.Result.PubYear)
	paper := &common.Paper{
		ID:        id,
		Title:     parsed.Result.Title,
		Abstract:  parsed.Result.Abstract,
		Year:      year,
		Journal:   parsed.Result.Journal,
		FetchedAt: time.Now(),
	}
	for _, a := range parsed.Result.AuthorList.Author {
		paper.Authors = append(paper.Authors, a.FullName)
	}

	return paper, nil
}

// FetchMany fetches papers sequentially with the politeness delay between
// requests. Item failures are logged and skipped; onProgress receives the
// number of completed items (successful or not) after each one.
func (c *Client) FetchMany(ctx context.Context, ids []string, force bool, onProgress func(done, total int)) ([]*common.Paper, error) {
	papers := make([]*common.Paper, 0, len(ids))

	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return papers, err
		}

		paper, err := c.Fetch(ctx, id, force)
		if err != nil {
			logger.Warn("[Literature] Paper fetch failed", "id", id, "error", err)
		} else {
			papers = append(papers, paper)
		}

		if onProgress != nil {
			onProgress(i+1, len(ids))
		}
	}

	return papers, nil
}

func (c *Client) getBody(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json, application/xml, text/html")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	// A 404 will not heal with backoff; Permanent stops the retry loop on
	// the first attempt while keeping errors.Is(err, ErrPaperNotFound) true
	// for callers.
	if resp.StatusCode == http.StatusNotFound {
		return nil, util.Permanent(ErrPaperNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status: %d %s", resp.StatusCode, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}

	return body, nil
}
