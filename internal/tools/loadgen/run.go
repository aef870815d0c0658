package loadgen

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/sync/errgroup"
)

// Config drives one traffic run against a live server.
type Config struct {
	BaseURL     string
	Profile     string
	Duration    time.Duration
	RPS         int
	Concurrency int
	Seed        int64
}

type Result struct {
	TotalRequests int
	Failures      int
	StatusClasses map[string]int
	PerRoute      map[string]int
	Elapsed       time.Duration
}

type request struct {
	name   string
	method string
	path   string
	body   string
}

// Run fires synthetic auth traffic at the target. Requests deliberately mix
// successes and rejections so rate-limit and error paths get exercised too.
func Run(ctx context.Context, cfg Config) (*Result, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 10
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Duration <= 0 {
		cfg.Duration = 10 * time.Second
	}
	profile := normalizeProfile(cfg.Profile)

	runCtx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	rng := rand.New(rand.NewSource(cfg.Seed))
	var rngMu sync.Mutex
	pick := func() request {
		rngMu.Lock()
		defer rngMu.Unlock()
		return pickRequest(rng, profile)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	ticker := time.NewTicker(time.Second / time.Duration(cfg.RPS))
	defer ticker.Stop()

	var mu sync.Mutex
	result := &Result{
		StatusClasses: make(map[string]int),
		PerRoute:      make(map[string]int),
	}

	work := make(chan request)
	g, gctx := errgroup.WithContext(runCtx)
	for i := 0; i < cfg.Concurrency; i++ {
		g.Go(func() error {
			for req := range work {
				status := fire(gctx, client, cfg.BaseURL, req)
				mu.Lock()
				result.TotalRequests++
				result.PerRoute[req.name]++
				result.StatusClasses[classifyStatusClass(status)]++
				if status == 0 || status >= 500 {
					result.Failures++
				}
				mu.Unlock()
			}
			return nil
		})
	}

	start := time.Now()
feed:
	for {
		select {
		case <-runCtx.Done():
			break feed
		case <-ticker.C:
			select {
			case work <- pick():
			case <-runCtx.Done():
				break feed
			}
		}
	}
	close(work)
	if err := g.Wait(); err != nil {
		return result, err
	}
	result.Elapsed = time.Since(start)
	return result, nil
}

func pickRequest(rng *rand.Rand, profile string) request {
	health := request{name: "health_live", method: http.MethodGet, path: "/health/live"}
	login := request{
		name:   "auth_login",
		method: http.MethodPost,
		path:   "/api/v1/auth/login",
		body:   fmt.Sprintf(`{"identifier":"loadgen-%d","password":"wrong-password"}`, rng.Intn(1000)),
	}
	forgot := request{
		name:   "password_forgot",
		method: http.MethodPost,
		path:   "/api/v1/password/forgot",
		body:   fmt.Sprintf(`{"email":"loadgen-%d@example.com"}`, rng.Intn(1000)),
	}
	register := request{
		name:   "auth_register",
		method: http.MethodPost,
		path:   "/api/v1/auth/register",
		body:   fmt.Sprintf(`{"username":"loadgen-%d","email":"loadgen-%d@example.com","password":"loadgen-pass-1"}`, rng.Intn(100000), rng.Intn(100000)),
	}

	switch profile {
	case "health":
		return health
	case "auth":
		switch rng.Intn(3) {
		case 0:
			return register
		case 1:
			return forgot
		default:
			return login
		}
	default: // mixed
		switch rng.Intn(4) {
		case 0:
			return health
		case 1:
			return register
		case 2:
			return forgot
		default:
			return login
		}
	}
}

func fire(ctx context.Context, client *http.Client, baseURL string, req request) int {
	var body io.Reader
	if req.body != "" {
		body = bytes.NewReader([]byte(req.body))
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, baseURL+req.path, body)
	if err != nil {
		return 0
	}
	if req.body != "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return 0
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return resp.StatusCode
}

func classifyStatusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500 && status < 600:
		return "5xx"
	default:
		return "other"
	}
}

func normalizeProfile(profile string) string {
	p := strings.ToLower(strings.TrimSpace(profile))
	if p == "" {
		return "mixed"
	}
	return p
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	valueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
)

// Report renders the run summary for the terminal.
func Report(res *Result) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("loadgen summary") + "\n")
	b.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render("elapsed:"), valueStyle.Render(res.Elapsed.Round(time.Millisecond).String())))
	b.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render("requests:"), valueStyle.Render(fmt.Sprintf("%d", res.TotalRequests))))
	failures := fmt.Sprintf("%d", res.Failures)
	if res.Failures > 0 {
		failures = warnStyle.Render(failures)
	}
	b.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render("failures:"), failures))

	classes := make([]string, 0, len(res.StatusClasses))
	for class := range res.StatusClasses {
		classes = append(classes, class)
	}
	sort.Strings(classes)
	for _, class := range classes {
		b.WriteString(fmt.Sprintf("  %s %s\n", labelStyle.Render(class+":"), valueStyle.Render(fmt.Sprintf("%d", res.StatusClasses[class]))))
	}

	routes := make([]string, 0, len(res.PerRoute))
	for route := range res.PerRoute {
		routes = append(routes, route)
	}
	sort.Strings(routes)
	for _, route := range routes {
		b.WriteString(fmt.Sprintf("  %s %s\n", labelStyle.Render(route+":"), valueStyle.Render(fmt.Sprintf("%d", res.PerRoute[route]))))
	}
	return b.String()
}
