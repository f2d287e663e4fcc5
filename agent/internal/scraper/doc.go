// Package scraper polls endpoints that serve the Prometheus text exposition
// format and converts what it finds into tag updates for the server.
//
// New(config.Source) builds a Scraper with an HTTP client configured for
// the source's auth mode (mtls, apikey, bearer, basic) in base.go.
// Scraper.Scrape parses the response with expfmt and maps metric families
// to tags, either through the source's explicit tag mappings or, when none
// are configured, one tag per family. HTTPS sources also report the days
// left on the serving certificate as <prefix>cert_days_left.
package scraper
