// Package main hosts the mtxset command line.
//
// Architecture overview:
//   - Index: internal/catalog persists the portal's archive links to meta.json the first time they are needed.
//     The links come from the Colly-based lister in internal/fetcher/colly, which scrapes the listing with every
//     matrix on one page. Requests share per-host token buckets from internal/policy/ratelimit.
//   - Acquisition: internal/pipeline runs fetch, size filter and extract for each entry in order. The first failing
//     stage stops that entry only; the outcome (run ID, stage, error) goes to the outcome log (memory or Postgres).
//   - Cache: internal/archive writes archives and extracted matrices atomically under two roots keyed by the
//     entry's relative path and only keeps square coordinate matrices. A file lock keeps two runs apart.
//   - Products: internal/raster renders sparsity images on spy.workers goroutines; internal/dataset downsamples
//     matrices into fixed-size features and writes xs/ys/mapper JSON through a BlobStore (local or GCS), then
//     publishes a notice (memory or Pub/Sub).
//   - Plumbing: Viper loads config from a YAML file and MTXSET_* env vars; zap provides structured logging;
//     Prometheus metrics are served on metrics.addr when set.
//
// Quick checklist:
//   - mtxset init --byte-max 20050815
//   - mtxset spy --shape 1024
//   - mtxset dataset --config config.yaml
package main
