package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/IshaanNene/scrapegoat-spiders/internal/types"
)

// HTMLDump saves raw page bodies, one file per page, named
// <prefix>-<last path segment>.html. Without overwrite, pages whose file
// already exists are left alone.
type HTMLDump struct {
	dir       string
	prefix    string
	overwrite bool
	mu        sync.Mutex
	count     int
	logger    *slog.Logger
}

// NewHTMLDump creates the dump directory if needed.
func NewHTMLDump(dir, prefix string, overwrite bool, logger *slog.Logger) (*HTMLDump, error) {
	if prefix == "" {
		prefix = "page"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &types.StorageError{Backend: "html", Err: fmt.Errorf("create output dir: %w", err)}
	}
	return &HTMLDump{
		dir:       dir,
		prefix:    prefix,
		overwrite: overwrite,
		logger:    logger.With("component", "html_dump"),
	}, nil
}

func (d *HTMLDump) Name() string { return "html" }

// FileName derives the dump file name from a page URL:
// https://quotes.toscrape.com/page/2/ -> quotes-2.html.
func FileName(prefix, pageURL string) string {
	segment := "index"
	if u, err := url.Parse(pageURL); err == nil {
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		if last := parts[len(parts)-1]; last != "" {
			segment = last
		}
	}
	segment = strings.TrimSuffix(segment, ".html")
	segment = strings.Map(func(r rune) rune {
		if r == os.PathSeparator || r == ':' {
			return '_'
		}
		return r
	}, segment)
	return prefix + "-" + segment + ".html"
}

// Save writes the exact response bytes and returns the file path. A page
// skipped because its file exists returns "".
func (d *HTMLDump) Save(resp *types.Response) (string, error) {
	path := filepath.Join(d.dir, FileName(d.prefix, resp.URL()))

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if !d.overwrite {
		flags = os.O_CREATE | os.O_WRONLY | os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if errors.Is(err, fs.ErrExist) {
		d.logger.Debug("file exists, page skipped", "path", path)
		return "", nil
	}
	if err != nil {
		return "", &types.StorageError{Backend: "html", Err: fmt.Errorf("open %s: %w", path, err)}
	}
	_, err = f.Write(resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", &types.StorageError{Backend: "html", Err: fmt.Errorf("write %s: %w", path, err)}
	}

	d.mu.Lock()
	d.count++
	d.mu.Unlock()

	d.logger.Info("saved file", "path", path, "bytes", len(resp.Body))
	return path, nil
}

// Count returns the number of pages saved.
func (d *HTMLDump) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.count
}
