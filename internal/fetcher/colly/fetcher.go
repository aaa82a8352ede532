// Package collyfetcher implements the portal link lister and the archive
// downloader using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/suitesparse-dataset/internal/metrics"
	"github.com/JakeFAU/suitesparse-dataset/internal/policy/ratelimit"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// RequestsPerSecond throttles requests per host; <= 0 disables throttling.
	RequestsPerSecond float64
}

// Fetcher performs single GET requests through a Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	limiter       *ratelimit.Limiter
	logger        *zap.Logger
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false))
	// Archives are far larger than colly's default body cap, and overwrite runs
	// fetch the same URL again.
	c.MaxBodySize = 0
	c.AllowURLRevisit = true
	c.WithTransport(newHTTPTransport())
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	c.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		limiter:       ratelimit.New(ratelimit.Config{DefaultRPS: cfg.RequestsPerSecond, DefaultBurst: 1}),
		logger:        logger,
	}
}

// Download fetches url and returns the full response body. Non-2xx responses
// and transport errors are returned as errors.
func (f *Fetcher) Download(ctx context.Context, url string) ([]byte, error) {
	var (
		body     []byte
		fetchErr error
	)
	collector := f.baseCollector.Clone()
	f.configureDownloadHooks(collector, &body, &fetchErr)

	start := time.Now()
	if err := f.visit(ctx, collector, url, &fetchErr); err != nil {
		return nil, err
	}
	metrics.ObserveDownload(int64(len(body)), time.Since(start).Seconds())
	f.logger.Debug("downloaded", zap.String("url", url), zap.Int("bytes", len(body)))
	return body, nil
}

func (f *Fetcher) configureDownloadHooks(hooks collectorHooks, body *[]byte, fetchErr *error) {
	hooks.OnResponse(func(r *colly.Response) {
		*body = append([]byte(nil), r.Body...)
	})
	hooks.OnError(func(r *colly.Response, err error) {
		if err == nil {
			err = errors.New("unknown colly error")
		}
		if r != nil && r.StatusCode != 0 {
			err = fmt.Errorf("status %d: %w", r.StatusCode, err)
		}
		*fetchErr = err
	})
}

// visit waits for the rate limiter and runs the collector, honoring ctx.
func (f *Fetcher) visit(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	if err := f.limiter.Wait(ctx, url); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
