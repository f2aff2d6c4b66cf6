// Package metrics provides the centralized Prometheus metrics registry
// for the archive crawler. All metrics are defined in their respective
// packages (fetch, crawler) to maintain modularity and avoid circular
// dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the crawler.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Fetch Metrics (pkg/fetch):
//   - archive_pages_fetched_total{outcome} (Counter): Page fetches by outcome
//     (success, transient, malformed, fatal)
//   - archive_page_fetch_duration_seconds (Histogram): Page fetch duration
//
// Crawl Metrics (pkg/crawler):
//   - archive_partitions_completed_total (Counter): Partitions crawled to exhaustion
//   - archive_partitions_abandoned_total (Counter): Partitions abandoned on a fatal response
//   - archive_records_written_total (Counter): Records flushed to the record sink
//   - archive_transient_retries_total (Counter): Retries caused by the overload signal
//   - archive_malformed_pages_total (Counter): Responses that failed to parse
//   - archive_page_gaps_total (Counter): Pages skipped after exhausting the retry budget
//
// Example Prometheus Queries:
//
//   # Fetch Success Rate
//   sum(rate(archive_pages_fetched_total{outcome="success"}[5m])) /
//   sum(rate(archive_pages_fetched_total[5m]))
//
//   # Crawl Throughput
//   rate(archive_records_written_total[5m])
//
//   # Overload Pressure
//   rate(archive_transient_retries_total[5m])
//
//   # P95 Page Latency
//   histogram_quantile(0.95, rate(archive_page_fetch_duration_seconds_bucket[5m]))
//
//   # Data Gaps
//   increase(archive_page_gaps_total[1h])
