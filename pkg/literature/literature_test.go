package literature

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/evigraph/backend/pkg/common"
)

func paperFixture(id string) *common.Paper {
	return &common.Paper{
		ID:       id,
		Title:    "Fixture paper",
		Abstract: "Fixture abstract.",
		Year:     2022,
	}
}

func testClient(baseURL string) *Client {
	return NewClient(NewClientParams{
		BaseURL:      baseURL,
		Timeout:      5 * time.Second,
		RequestDelay: time.Millisecond,
	})
}

func TestFetch_CachesPaper(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, `{"result":{"id":"PMC1","title":"Metformin and longevity","abstractText":"A cohort study.","pubYear":"2023","journalTitle":"Cell"}}`)
	}))
	defer server.Close()

	client := testClient(server.URL)
	ctx := context.Background()

	first, err := client.Fetch(ctx, "PMC1", false)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	second, err := client.Fetch(ctx, "PMC1", false)
	if err != nil {
		t.Fatalf("Fetch() second call error = %v", err)
	}

	if got := calls.Load(); got != 1 {
		t.Fatalf("expected exactly one upstream call, got %d", got)
	}
	if first != second {
		t.Fatalf("expected second fetch to return the cached paper")
	}
	if first.Title != "Metformin and longevity" || first.Year != 2023 {
		t.Fatalf("unexpected paper: %+v", first)
	}
}

func TestFetch_ForceRefreshBypassesCache(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, `{"result":{"id":"PMC1","title":"T","abstractText":"A","pubYear":"2020"}}`)
	}))
	defer server.Close()

	client := testClient(server.URL)
	ctx := context.Background()

	if _, err := client.Fetch(ctx, "PMC1", false); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if _, err := client.Fetch(ctx, "PMC1", true); err != nil {
		t.Fatalf("Fetch(force) error = %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected two upstream calls with force refresh, got %d", got)
	}
}

func TestFetch_FailureIsCached(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer server.Close()

	client := testClient(server.URL)
	ctx := context.Background()

	if _, err := client.Fetch(ctx, "BROKEN", false); err == nil {
		t.Fatalf("Fetch() expected error for missing paper")
	}
	callsAfterFirst := calls.Load()

	if _, err := client.Fetch(ctx, "BROKEN", false); err == nil {
		t.Fatalf("Fetch() expected cached failure error")
	}
	if calls.Load() != callsAfterFirst {
		t.Fatalf("expected no additional upstream calls for a cached failure")
	}
}

func TestFetch_MissingPaperIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer server.Close()

	client := testClient(server.URL)

	_, err := client.Fetch(context.Background(), "GONE", false)
	if !errors.Is(err, ErrPaperNotFound) {
		t.Fatalf("Fetch() error = %v, want ErrPaperNotFound", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected a single upstream call for a missing paper, got %d (404 must not be retried)", got)
	}
}

func TestFetch_ConcurrentSingleFlight(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		time.Sleep(50 * time.Millisecond)
		fmt.Fprint(w, `{"result":{"id":"PMC9","title":"Shared","abstractText":"A","pubYear":"2021"}}`)
	}))
	defer server.Close()

	client := testClient(server.URL)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := client.Fetch(ctx, "PMC9", false); err != nil {
				t.Errorf("Fetch() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Fatalf("expected one upstream call for concurrent fetches, got %d", got)
	}
}

func TestSearch_CachesByQueryAndMax(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, `{"hitCount":2,"resultList":{"result":[{"id":"A"},{"id":"B"}]}}`)
	}))
	defer server.Close()

	client := testClient(server.URL)
	ctx := context.Background()

	first, err := client.Search(ctx, "metformin longevity", 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if first.Total != 2 || len(first.IDs) != 2 {
		t.Fatalf("Search() got = %+v", first)
	}

	if _, err := client.Search(ctx, "metformin longevity", 10); err != nil {
		t.Fatalf("Search() second call error = %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected one upstream call for repeated search, got %d", got)
	}

	// Different max is a different cache entry.
	if _, err := client.Search(ctx, "metformin longevity", 5); err != nil {
		t.Fatalf("Search() with different max error = %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected a new upstream call for a different max, got %d", got)
	}
}

func TestFetchMany_SkipsFailedAndReportsProgress(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "BAD") {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"result":{"id":"X","title":"T","abstractText":"A","pubYear":"2022"}}`)
	}))
	defer server.Close()

	client := testClient(server.URL)
	ctx := context.Background()

	var progress []int
	papers, err := client.FetchMany(ctx, []string{"OK1", "BAD", "OK2"}, false, func(done, total int) {
		if total != 3 {
			t.Errorf("onProgress total = %d, want 3", total)
		}
		progress = append(progress, done)
	})
	if err != nil {
		t.Fatalf("FetchMany() error = %v", err)
	}

	if len(papers) != 2 {
		t.Fatalf("FetchMany() returned %d papers, want 2", len(papers))
	}
	if len(progress) != 3 || progress[0] != 1 || progress[2] != 3 {
		t.Fatalf("FetchMany() progress = %v, want [1 2 3]", progress)
	}
}

func TestFetchFullText_StrategyOrderAndCaching(t *testing.T) {
	longText := strings.Repeat("Full body sentence. ", 100)

	var xmlCalls, biocCalls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/fullTextXML"):
			xmlCalls.Add(1)
			http.Error(w, "not open access", http.StatusForbidden)
		case strings.HasSuffix(r.URL.Path, "/bioc"):
			biocCalls.Add(1)
			fmt.Fprintf(w, `{"documents":[{"passages":[{"text":%q}]}]}`, longText)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := testClient(server.URL)
	ctx := context.Background()
	paper := paperFixture("PMC7")

	text, ok := client.FetchFullText(ctx, paper)
	if !ok {
		t.Fatalf("FetchFullText() expected success via bioc strategy")
	}
	if !strings.Contains(text, "Full body sentence.") {
		t.Fatalf("FetchFullText() unexpected text: %.80s", text)
	}
	if xmlCalls.Load() == 0 {
		t.Fatalf("expected document-xml strategy to be tried first")
	}

	biocAfterFirst := biocCalls.Load()
	if _, ok := client.FetchFullText(ctx, paper); !ok {
		t.Fatalf("FetchFullText() cached outcome lost")
	}
	if biocCalls.Load() != biocAfterFirst {
		t.Fatalf("expected cached full text, got another upstream call")
	}
}

func TestFetchFullText_ExhaustionIsCached(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer server.Close()

	client := testClient(server.URL)
	ctx := context.Background()
	paper := paperFixture("PMC8")

	if _, ok := client.FetchFullText(ctx, paper); ok {
		t.Fatalf("FetchFullText() expected exhaustion")
	}
	callsAfterFirst := calls.Load()

	if _, ok := client.FetchFullText(ctx, paper); ok {
		t.Fatalf("FetchFullText() expected cached exhaustion")
	}
	if calls.Load() != callsAfterFirst {
		t.Fatalf("expected no new strategy calls after cached exhaustion")
	}
}
