package engine

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/IshaanNene/scrapegoat-spiders/internal/config"
	"github.com/IshaanNene/scrapegoat-spiders/internal/fetcher"
	"github.com/IshaanNene/scrapegoat-spiders/internal/parser"
	"github.com/IshaanNene/scrapegoat-spiders/internal/pipeline"
	"github.com/IshaanNene/scrapegoat-spiders/internal/spider"
	"github.com/IshaanNene/scrapegoat-spiders/internal/storage"
	"github.com/IshaanNene/scrapegoat-spiders/internal/types"
)

const quoteHTML = `<div class="quote">
  <span class="text">%s</span>
  <span>by <small class="author">%s</small></span>
  <div class="tags">Tags: %s</div>
</div>`

func quotesSite(t *testing.T) *httptest.Server {
	t.Helper()

	page := func(next string, quotes ...[3]string) string {
		var b strings.Builder
		b.WriteString(`<html><body>`)
		for _, q := range quotes {
			var tags strings.Builder
			for _, tag := range strings.Fields(q[2]) {
				fmt.Fprintf(&tags, `<a class="tag" href="/tag/%s/">%s</a>`, tag, tag)
			}
			fmt.Fprintf(&b, quoteHTML, q[0], q[1], tags.String())
		}
		if next != "" {
			fmt.Fprintf(&b, `<ul class="pager"><li class="next"><a href="%s">Next →</a></li></ul>`, next)
		}
		b.WriteString(`</body></html>`)
		return b.String()
	}

	pages := map[string]string{
		"/tag/inspirational/page/1/": page("/tag/inspirational/page/2/",
			[3]string{"“Be yourself.”", "Oscar Wilde", "be-yourself honesty"},
			[3]string{"  “Hello”  ", "jane", ""},
		),
		"/tag/inspirational/page/2/": page("/private/",
			[3]string{"“The end.”", "Albert Einstein", "life"},
		),
		"/private/": page("", [3]string{"secret", "nobody", ""}),
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			fmt.Fprint(w, "User-agent: *\nDisallow: /private\n")
			return
		}
		body, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestQuotesCrawlToJSONL(t *testing.T) {
	srv := quotesSite(t)

	cfg := config.DefaultConfig()
	cfg.Engine.Concurrency = 1
	cfg.Engine.RequestTimeout = 5 * time.Second

	sp, err := spider.Lookup(cfg, "advance_quotes")
	require.NoError(t, err)

	f, err := fetcher.NewHTTPFetcher(cfg, nil, testLogger)
	require.NoError(t, err)
	defer f.Close()

	ex, err := parser.NewExtractor(sp.Name, sp.Schema, sp.SpiderConfig, testLogger)
	require.NoError(t, err)

	pipe, err := pipeline.Build(sp.Pipeline, testLogger)
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "quotes.jsonl")
	sink, err := storage.NewJSONLStorage(out, true, testLogger)
	require.NoError(t, err)

	e := New(&cfg.Engine, f, ex, testLogger)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for rec, err := range e.Crawl(ctx, []string{srv.URL + "/tag/inspirational/page/1/"}) {
		require.NoError(t, err)
		processed, err := pipe.Process(rec)
		require.NoError(t, err)
		require.NotNil(t, processed)
		require.NoError(t, sink.Store([]*types.Record{processed}))
	}
	require.NoError(t, sink.Close())

	file, err := os.Open(out)
	require.NoError(t, err)
	defer file.Close()

	var lines []string
	sc := bufio.NewScanner(file)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.NoError(t, sc.Err())

	require.Equal(t, []string{
		`{"author":"OSCAR WILDE","text":"Be yourself.","tags":["be-yourself","honesty"]}`,
		`{"author":"JANE","text":"Hello","tags":[]}`,
		`{"author":"ALBERT EINSTEIN","text":"The end.","tags":["life"]}`,
	}, lines)

	require.EqualValues(t, 2, e.Metrics().RequestsTotal.Load())
	require.EqualValues(t, 1, e.Metrics().URLsFiltered.Load(), "robots.txt should block /private/")
}

func TestHTMLDumpCrawl(t *testing.T) {
	srv := quotesSite(t)

	cfg := config.DefaultConfig()
	cfg.Engine.RespectRobotsTxt = false

	f, err := fetcher.NewHTTPFetcher(cfg, nil, testLogger)
	require.NoError(t, err)
	defer f.Close()

	dir := filepath.Join(t.TempDir(), "html_files")
	dump, err := storage.NewHTMLDump(dir, "quotes", true, testLogger)
	require.NoError(t, err)

	hook := func(resp *types.Response) error {
		_, err := dump.Save(resp)
		return err
	}

	e := New(&cfg.Engine, f, nil, testLogger, WithResponseHook(hook))
	seeds := []string{
		srv.URL + "/tag/inspirational/page/1/",
		srv.URL + "/tag/inspirational/page/2/",
	}
	for _, err := range e.Crawl(context.Background(), seeds) {
		require.NoError(t, err)
	}

	require.Equal(t, 2, dump.Count())
	for _, name := range []string{"quotes-1.html", "quotes-2.html"} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err)
		require.Contains(t, string(data), `class="quote"`)
	}
}

func TestTimedOutRequestIsRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			select {
			case <-time.After(400 * time.Millisecond):
			case <-r.Context().Done():
				return
			}
		}
		fmt.Fprint(w, `<html><body>ok</body></html>`)
	}))
	defer srv.Close()

	cfg := config.DefaultConfig()
	cfg.Engine.RespectRobotsTxt = false
	cfg.Engine.RequestTimeout = 100 * time.Millisecond
	cfg.Engine.MaxRetries = 2
	cfg.Engine.RetryDelay = 10 * time.Millisecond

	f, err := fetcher.NewHTTPFetcher(cfg, nil, testLogger)
	require.NoError(t, err)
	defer f.Close()

	var pages atomic.Int32
	hook := func(*types.Response) error {
		pages.Add(1)
		return nil
	}

	e := New(&cfg.Engine, f, nil, testLogger, WithResponseHook(hook))
	for _, err := range e.Crawl(context.Background(), []string{srv.URL + "/page/1/"}) {
		require.NoError(t, err)
	}

	require.EqualValues(t, 2, hits.Load())
	require.EqualValues(t, 1, pages.Load())
	require.EqualValues(t, 1, e.Metrics().RequestsRetried.Load())
	require.Zero(t, e.Metrics().RequestsFailed.Load())
}
