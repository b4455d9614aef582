// Package internal contains the implementation packages for splitpack.
//
// # Package Organization
//
// The internal packages are organized by build stage:
//
//   - config: Configuration loading, defaults and validation
//   - resolve: Specifier resolution against module dirs, aliases and externals
//   - transform: Transform chains (esbuild, external commands) and import scanning
//   - cache: Two-tier transform cache (LRU memory, msgpack on disk)
//   - asset: Inline-or-emit decisions and hashed filenames for binary modules
//   - module: The module graph and canonical ordering
//   - graph: Concurrent graph construction from entry points
//   - split: Entry, async and shared chunk partitioning
//   - css: Stylesheet extraction, ordering and purging
//   - emit: Runtime, chunk rendering, manifest and atomic output, publishing
//   - bundler: One build pass over all of the above
//   - metrics: Prometheus collectors for build passes
//   - watcher: Debounced file system events for watch mode
//   - logging, errors, validation, version: Shared support code
//
// # Data Flow
//
// A build pass is strictly staged:
//
//   - graph asks resolve, transform and asset for every reachable module
//   - split partitions the finished graph
//   - css builds one stylesheet bundle per entry and async chunk
//   - emit renders, hashes and swaps the output directory in one step
//
// No stage starts before the previous one has finished, and nothing in the
// output directory changes unless every stage succeeded.
package internal
