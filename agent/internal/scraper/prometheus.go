package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/tagalarm/tagalarm/agent/internal/config"
	"github.com/tagalarm/tagalarm/agent/internal/security"
	"github.com/tagalarm/tagalarm/pkg/tagrpc"
)

// CertDaysLeftTag is appended to the source prefix for the certificate
// expiry tag published by HTTPS sources.
const CertDaysLeftTag = "cert_days_left"

// Scraper polls one source and turns its metric families into tag updates.
type Scraper struct {
	src       config.Source
	client    *http.Client
	checkCert bool
	now       func() time.Time
}

// New returns a Scraper for src. The HTTP client is built once and reused.
func New(src config.Source) (*Scraper, error) {
	client, err := buildHTTPClient(src)
	if err != nil {
		return nil, fmt.Errorf("scraper %q: build http client: %w", src.ID, err)
	}
	u, err := url.Parse(src.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("scraper %q: parse endpoint: %w", src.ID, err)
	}
	return &Scraper{
		src:       src,
		client:    client,
		checkCert: u.Scheme == "https",
		now:       time.Now,
	}, nil
}

// ID returns the source identifier.
func (s *Scraper) ID() string { return s.src.ID }

// Scrape fetches the source once. With explicit tag mappings, each mapping
// yields one update summing the samples that match its labels; a mapping
// whose metric is absent is skipped. Without mappings, every counter, gauge
// or untyped family becomes a tag named prefix + family name.
//
// All updates of one scrape share the scrape timestamp.
func (s *Scraper) Scrape(ctx context.Context) ([]tagrpc.Update, error) {
	mfs, err := fetchMetrics(ctx, s.client, s.src.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("scrape %q: %w", s.src.ID, err)
	}
	ts := s.now().UTC()

	var updates []tagrpc.Update
	if len(s.src.Tags) > 0 {
		updates = s.mapped(mfs, ts)
	} else {
		updates = s.all(mfs, ts)
	}

	if s.checkCert {
		if cs := security.Check(ctx, s.src); cs != nil && cs.Status != security.StatusUnreachable {
			updates = append(updates, tagrpc.Update{
				Tag:       s.src.Prefix + CertDaysLeftTag,
				Value:     float64(cs.DaysLeft),
				Timestamp: ts,
			})
		}
	}
	return updates, nil
}

func (s *Scraper) mapped(mfs map[string]*dto.MetricFamily, ts time.Time) []tagrpc.Update {
	updates := make([]tagrpc.Update, 0, len(s.src.Tags))
	for _, m := range s.src.Tags {
		v, ok := sumFamily(mfs[m.Metric], m.Labels)
		if !ok {
			slog.Debug("scraper: mapped metric not present", "source", s.src.ID, "tag", m.Name, "metric", m.Metric)
			continue
		}
		updates = append(updates, tagrpc.Update{Tag: s.src.Prefix + m.Name, Value: v, Timestamp: ts})
	}
	return updates
}

func (s *Scraper) all(mfs map[string]*dto.MetricFamily, ts time.Time) []tagrpc.Update {
	names := make([]string, 0, len(mfs))
	for name := range mfs {
		names = append(names, name)
	}
	sort.Strings(names)

	updates := make([]tagrpc.Update, 0, len(names))
	for _, name := range names {
		v, ok := sumFamily(mfs[name], nil)
		if !ok {
			continue
		}
		updates = append(updates, tagrpc.Update{Tag: s.src.Prefix + name, Value: v, Timestamp: ts})
	}
	return updates
}
