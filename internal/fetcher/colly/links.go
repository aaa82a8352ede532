package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
)

// Portal page layout: one download cell per matrix inside the listing table;
// the last anchor in each cell points at the Matrix Market archive.
const (
	DownloadCellSelector = "#matrices .column-download"
	PageSizeParam        = "per_page"
	PageSizeAll          = "All"
)

// LinkLister scrapes archive links from the collection portal.
type LinkLister struct {
	fetcher   *Fetcher
	portalURL string
}

// NewLinkLister builds a lister for the portal index page.
func NewLinkLister(fetcher *Fetcher, portalURL string) *LinkLister {
	return &LinkLister{fetcher: fetcher, portalURL: portalURL}
}

// ListLinks loads the index with every matrix on a single page and returns
// the archive hrefs, resolved to absolute URLs, in page order.
func (l *LinkLister) ListLinks(ctx context.Context) ([]string, error) {
	target, err := l.indexURL()
	if err != nil {
		return nil, err
	}
	var (
		links    []string
		fetchErr error
	)
	collector := l.fetcher.baseCollector.Clone()
	collector.OnHTML(DownloadCellSelector, func(e *colly.HTMLElement) {
		if href := lastHref(e); href != "" {
			links = append(links, e.Request.AbsoluteURL(href))
		}
	})
	collector.OnError(func(_ *colly.Response, err error) {
		if err == nil {
			err = errors.New("unknown colly error")
		}
		fetchErr = err
	})

	if err := l.fetcher.visit(ctx, collector, target, &fetchErr); err != nil {
		return nil, err
	}
	if links == nil {
		links = []string{}
	}
	l.fetcher.logger.Info("portal index scraped", zap.String("url", target), zap.Int("links", len(links)))
	return links, nil
}

func (l *LinkLister) indexURL() (string, error) {
	u, err := url.Parse(l.portalURL)
	if err != nil {
		return "", fmt.Errorf("parse portal url: %w", err)
	}
	q := u.Query()
	q.Set(PageSizeParam, PageSizeAll)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func lastHref(e *colly.HTMLElement) string {
	var href string
	e.ForEach("a", func(_ int, a *colly.HTMLElement) {
		href = a.Attr("href")
	})
	return href
}
