package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"PartsScanner/internal/config"
	"PartsScanner/internal/domain"
	"PartsScanner/internal/ports"
)

const (
	searchInputSelector = "input#quicksearch"
	resultLinkSelector  = "td > a"
	specSectionSelector = "div.sectioncontainer"

	inputSettle = time.Second
)

var resultRowSelectors = map[domain.Category]string{
	domain.CategoryCPU: "div.tablewrapper > table > tbody > tr",
	domain.CategoryGPU: "div#ajaxresults > table > tbody > tr",
}

// Session drives a single browser page. Calls are serialized.
type Session struct {
	cfg       config.BrowserConfig
	searchURL string
	browser   *rod.Browser
	page      *rod.Page
	logger    *slog.Logger
	mu        sync.Mutex
}

var (
	_ ports.Fetcher     = (*Session)(nil)
	_ ports.SpecBrowser = (*Session)(nil)
)

// NewSession launches Chromium and opens the page every call reuses.
// searchURL is a format string receiving the lowercase category.
func NewSession(cfg config.BrowserConfig, searchURL string, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	l := launcher.New().
		Headless(!cfg.ShowWindow).
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Set("no-sandbox").
		Set("disable-blink-features", "AutomationControlled")
	if cfg.Bin != "" {
		l = l.Bin(cfg.Bin)
	}
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := connectOrKill(browser.Connect, l.Kill); err != nil {
		return nil, err
	}

	var page *rod.Page
	if cfg.DisableStealth {
		page, err = browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	} else {
		page, err = stealth.Page(browser)
	}
	if err != nil {
		_ = browser.Close()
		l.Kill()
		return nil, fmt.Errorf("open page: %w", err)
	}

	logger.Info("browser ready", "headless", !cfg.ShowWindow, "stealth", !cfg.DisableStealth)
	return &Session{
		cfg:       cfg,
		searchURL: searchURL,
		browser:   browser,
		page:      page,
		logger:    logger,
	}, nil
}

// connectOrKill stops the launched process when the protocol connection fails.
func connectOrKill(connect func() error, kill func()) error {
	if err := connect(); err != nil {
		kill()
		return fmt.Errorf("connect browser: %w", err)
	}
	return nil
}

// Fetch navigates to rawURL, waits for the load event and returns the document.
func (s *Session) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	page := s.page.Context(ctx).Timeout(s.cfg.NavigationTimeout)
	defer page.CancelTimeout()

	if err := page.Navigate(rawURL); err != nil {
		return nil, fmt.Errorf("navigate %s: %w", rawURL, err)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("wait load %s: %w", rawURL, err)
	}
	html, err := page.HTML()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rawURL, err)
	}
	s.logger.Debug("browser fetch complete", "url", rawURL, "size", len(html))
	return []byte(html), nil
}

// LookupSpecs types model into the site search and opens the first result.
// A search without result rows before the wait expires reports found=false.
func (s *Session) LookupSpecs(ctx context.Context, category domain.Category, model string) ([]byte, bool, error) {
	rowSelector, ok := resultRowSelectors[category]
	if !ok {
		return nil, false, fmt.Errorf("lookup specs: no search layout for %s", category)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	page := s.page.Context(ctx)
	nav := page.Timeout(s.cfg.NavigationTimeout)
	defer nav.CancelTimeout()

	searchURL := fmt.Sprintf(s.searchURL, category.Lower())
	if err := nav.Navigate(searchURL); err != nil {
		return nil, false, fmt.Errorf("navigate %s: %w", searchURL, err)
	}
	if err := nav.WaitLoad(); err != nil {
		return nil, false, fmt.Errorf("wait load %s: %w", searchURL, err)
	}

	input, err := nav.Element(searchInputSelector)
	if err != nil {
		return nil, false, fmt.Errorf("search input: %w", err)
	}
	if err := input.Input(model); err != nil {
		return nil, false, fmt.Errorf("type model: %w", err)
	}
	// The quick search filters as it types; let it settle before waiting on rows.
	select {
	case <-time.After(inputSettle):
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}

	wait := s.searchWait()
	results := page.Timeout(wait)
	defer results.CancelTimeout()

	row, err := results.Element(rowSelector)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			s.logger.Info("no search result", "model", model, "waited", wait)
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("search results: %w", err)
	}

	link, err := row.Element(resultLinkSelector)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("result link: %w", err)
	}
	if err := link.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return nil, false, fmt.Errorf("open result: %w", err)
	}
	if _, err := nav.Element(specSectionSelector); err != nil {
		return nil, false, fmt.Errorf("spec page: %w", err)
	}

	html, err := nav.HTML()
	if err != nil {
		return nil, false, fmt.Errorf("read spec page: %w", err)
	}
	return []byte(html), true, nil
}

// Pause returns a random wait to leave between two lookups.
func (s *Session) Pause() time.Duration {
	return s.searchWait()
}

// searchWait picks a random wait in [SearchTimeoutMin, SearchTimeoutMax].
func (s *Session) searchWait() time.Duration {
	low, high := s.cfg.SearchTimeoutMin, s.cfg.SearchTimeoutMax
	if high <= low {
		return low
	}
	return low + rand.N(high-low+1)
}

// Close shuts the browser down.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.browser == nil {
		return nil
	}
	err := s.browser.Close()
	s.browser, s.page = nil, nil
	return err
}
