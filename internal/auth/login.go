// Package auth performs the one-shot form login that precedes an
// authenticated crawl. Cookies land in the shared session store, so the
// crawl fetcher reuses them.
package auth

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"

	"github.com/IshaanNene/scrapegoat-spiders/internal/config"
	"github.com/IshaanNene/scrapegoat-spiders/internal/fetcher"
	"github.com/IshaanNene/scrapegoat-spiders/internal/types"
)

// Result describes a completed login attempt.
type Result struct {
	Success    bool
	StatusCode int
	// FinalURL is where the form submission ended up after redirects.
	FinalURL string
}

// Client submits a login form over a resty client bound to the shared
// cookie store.
type Client struct {
	http   *resty.Client
	cfg    config.LoginConfig
	logger *slog.Logger
}

// NewClient creates a login client. userAgent may be empty.
func NewClient(cfg config.LoginConfig, sessions *fetcher.Sessions, userAgent string, timeout time.Duration, logger *slog.Logger) *Client {
	client := resty.New()
	client.SetCookieJar(sessions)
	client.SetTimeout(timeout)
	client.SetRedirectPolicy(resty.FlexibleRedirectPolicy(10))
	if userAgent != "" {
		client.SetHeader("User-Agent", userAgent)
	}

	return &Client{
		http:   client,
		cfg:    cfg,
		logger: logger.With("component", "auth"),
	}
}

// Login fetches the login page, fills the form with the configured
// credentials and submits it. A rejected login is reported through
// Result.Success and logged; only transport and form errors are returned.
func (c *Client) Login(ctx context.Context) (*Result, error) {
	res, err := c.http.R().
		SetContext(ctx).
		Get(c.cfg.URL)
	if err != nil {
		return nil, &types.LoginError{Step: "fetch form", URL: c.cfg.URL, Err: err}
	}
	if !res.IsSuccess() {
		return nil, &types.LoginError{Step: "fetch form", URL: c.cfg.URL, Err: fmt.Errorf("HTTP %d", res.StatusCode())}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body()))
	if err != nil {
		return nil, &types.LoginError{Step: "parse form", URL: c.cfg.URL, Err: err}
	}

	selector := c.cfg.FormSelector
	if selector == "" {
		selector = "form"
	}
	form := doc.Find(selector).First()
	if form.Length() == 0 {
		return nil, &types.LoginError{Step: "find form", URL: c.cfg.URL, Err: fmt.Errorf("%w: %q", types.ErrFormNotFound, selector)}
	}

	values := FormValues(form)
	values.Set(fieldOr(c.cfg.UsernameField, "username"), c.cfg.Username)
	values.Set(fieldOr(c.cfg.PasswordField, "password"), c.cfg.Password)

	action, err := formAction(form, finalURL(res, c.cfg.URL))
	if err != nil {
		return nil, &types.LoginError{Step: "resolve action", URL: c.cfg.URL, Err: err}
	}

	req := c.http.R().SetContext(ctx)
	method := strings.ToUpper(form.AttrOr("method", http.MethodPost))
	if method == http.MethodGet {
		res, err = req.SetQueryParamsFromValues(values).Get(action)
	} else {
		res, err = req.SetFormDataFromValues(values).Post(action)
	}
	if err != nil {
		return nil, &types.LoginError{Step: "submit", URL: action, Err: err}
	}

	result := &Result{
		StatusCode: res.StatusCode(),
		FinalURL:   finalURL(res, action),
	}
	marker := c.cfg.SuccessMarker
	if marker == "" {
		marker = "Logout"
	}
	result.Success = res.IsSuccess() && bytes.Contains(res.Body(), []byte(marker))

	if result.Success {
		c.logger.Info("login succeeded", "user", c.cfg.Username, "url", result.FinalURL)
	} else {
		c.logger.Error("login failed", "user", c.cfg.Username, "url", result.FinalURL, "status", result.StatusCode, "marker", marker)
	}
	return result, nil
}

// AfterLoginURL resolves the configured post-login page against the
// login URL.
func AfterLoginURL(cfg config.LoginConfig) (string, error) {
	if cfg.AfterLogin == "" {
		return "", nil
	}
	base, err := url.Parse(cfg.URL)
	if err != nil {
		return "", fmt.Errorf("%w %q: %v", types.ErrInvalidURL, cfg.URL, err)
	}
	ref, err := url.Parse(cfg.AfterLogin)
	if err != nil {
		return "", fmt.Errorf("%w %q: %v", types.ErrInvalidURL, cfg.AfterLogin, err)
	}
	return base.ResolveReference(ref).String(), nil
}

// FormValues collects the values a browser would submit for the form's
// own fields: hidden inputs such as CSRF tokens, text defaults and
// checked boxes. Buttons are left out.
func FormValues(form *goquery.Selection) url.Values {
	values := url.Values{}
	form.Find("input[name], textarea[name], select[name]").Each(func(_ int, s *goquery.Selection) {
		name, _ := s.Attr("name")
		switch goquery.NodeName(s) {
		case "textarea":
			values.Add(name, s.Text())
			return
		case "select":
			opt := s.Find("option[selected]").First()
			if opt.Length() == 0 {
				opt = s.Find("option").First()
			}
			if opt.Length() > 0 {
				values.Add(name, opt.AttrOr("value", strings.TrimSpace(opt.Text())))
			}
			return
		}

		switch strings.ToLower(s.AttrOr("type", "text")) {
		case "submit", "button", "image", "reset", "file":
			return
		case "checkbox", "radio":
			if _, checked := s.Attr("checked"); !checked {
				return
			}
			values.Add(name, s.AttrOr("value", "on"))
		default:
			values.Add(name, s.AttrOr("value", ""))
		}
	})
	return values
}

func formAction(form *goquery.Selection, pageURL string) (string, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return "", err
	}
	action := strings.TrimSpace(form.AttrOr("action", ""))
	if action == "" {
		return base.String(), nil
	}
	ref, err := url.Parse(action)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}

func finalURL(res *resty.Response, fallback string) string {
	if res.RawResponse != nil && res.RawResponse.Request != nil && res.RawResponse.Request.URL != nil {
		return res.RawResponse.Request.URL.String()
	}
	return fallback
}

func fieldOr(name, def string) string {
	if name == "" {
		return def
	}
	return name
}
