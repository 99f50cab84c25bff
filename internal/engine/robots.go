package engine

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RobotsManager answers robots.txt questions for the crawl. Each origin's
// file is fetched once and kept for the manager's lifetime; an origin
// whose file cannot be fetched allows everything.
type RobotsManager struct {
	enabled bool
	agent   string
	client  *http.Client

	mu    sync.RWMutex
	rules map[string]*robotsRules // by "scheme://host"
}

// robotsRules is the group of a robots.txt that applies to us.
type robotsRules struct {
	allow      []string
	disallow   []string
	crawlDelay time.Duration
}

// NewRobotsManager creates a manager. userAgent is sent with robots.txt
// requests; its product token also selects the matching group.
func NewRobotsManager(enabled bool, userAgent string) *RobotsManager {
	return &RobotsManager{
		enabled: enabled,
		agent:   userAgent,
		client:  &http.Client{Timeout: 10 * time.Second},
		rules:   make(map[string]*robotsRules),
	}
}

// IsAllowed reports whether rawURL may be fetched.
func (rm *RobotsManager) IsAllowed(ctx context.Context, rawURL string) bool {
	if !rm.enabled {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	rules := rm.lookup(ctx, u.Scheme+"://"+u.Host)
	if rules == nil {
		return true
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return rules.allows(path)
}

// CrawlDelay returns the Crawl-delay an origin asked for, or zero.
func (rm *RobotsManager) CrawlDelay(origin string) time.Duration {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	if rules := rm.rules[origin]; rules != nil {
		return rules.crawlDelay
	}
	return 0
}

func (rm *RobotsManager) lookup(ctx context.Context, origin string) *robotsRules {
	rm.mu.RLock()
	rules, ok := rm.rules[origin]
	rm.mu.RUnlock()
	if ok {
		return rules
	}

	rules = rm.fetch(ctx, origin)

	rm.mu.Lock()
	rm.rules[origin] = rules
	rm.mu.Unlock()
	return rules
}

func (rm *RobotsManager) fetch(ctx context.Context, origin string) *robotsRules {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		return nil
	}
	if rm.agent != "" {
		req.Header.Set("User-Agent", rm.agent)
	}

	resp, err := rm.client.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil
	}
	return parseRobots(io.LimitReader(resp.Body, 512*1024), productToken(rm.agent))
}

// productToken returns the lowercased name part of a User-Agent header,
// e.g. "scrapegoat-spiders" for "scrapegoat-spiders/1.0".
func productToken(userAgent string) string {
	token, _, _ := strings.Cut(strings.TrimSpace(userAgent), "/")
	token, _, _ = strings.Cut(token, " ")
	return strings.ToLower(token)
}

// parseRobots reads the rules of the groups addressed to "*" or to agent.
// Consecutive User-agent lines share one group.
func parseRobots(r io.Reader, agent string) *robotsRules {
	rules := &robotsRules{}
	matched, inAgents := false, false

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line, _, _ := strings.Cut(sc.Text(), "#")
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		if key == "user-agent" {
			if !inAgents {
				matched = false
			}
			inAgents = true
			ua := strings.ToLower(value)
			if ua == "*" || (agent != "" && strings.Contains(ua, agent)) {
				matched = true
			}
			continue
		}
		inAgents = false
		if !matched {
			continue
		}

		switch key {
		case "allow":
			if value != "" {
				rules.allow = append(rules.allow, value)
			}
		case "disallow":
			if value != "" {
				rules.disallow = append(rules.disallow, value)
			}
		case "crawl-delay":
			if secs, err := strconv.ParseFloat(value, 64); err == nil && secs > 0 {
				rules.crawlDelay = time.Duration(secs * float64(time.Second))
			}
		}
	}
	return rules
}

// allows applies the longest matching rule; Allow wins ties.
func (r *robotsRules) allows(path string) bool {
	best, allowed := -1, true
	for _, p := range r.disallow {
		if len(p) > best && matchRobotsPattern(p, path) {
			best, allowed = len(p), false
		}
	}
	for _, p := range r.allow {
		if len(p) >= best && matchRobotsPattern(p, path) {
			best, allowed = len(p), true
		}
	}
	return allowed
}

// matchRobotsPattern matches a path against a robots.txt pattern with
// "*" wildcards and an optional "$" end anchor.
func matchRobotsPattern(pattern, path string) bool {
	if pattern == "" {
		return false
	}
	anchored := strings.HasSuffix(pattern, "$")
	pattern = strings.TrimSuffix(pattern, "$")

	parts := strings.Split(pattern, "*")
	rest, ok := strings.CutPrefix(path, parts[0])
	if !ok {
		return false
	}
	if len(parts) == 1 {
		return !anchored || rest == ""
	}
	for _, part := range parts[1 : len(parts)-1] {
		i := strings.Index(rest, part)
		if i < 0 {
			return false
		}
		rest = rest[i+len(part):]
	}
	last := parts[len(parts)-1]
	if anchored {
		return strings.HasSuffix(rest, last)
	}
	return strings.Contains(rest, last)
}
