// Package driven defines the outbound ports the pipeline core depends on:
// the durable queue, the dedup seen-set, the token budget ledger, metadata
// and object storage, the feed client, the external completion call, and the
// metrics sink. Adapters live under internal/adapters/driven.
package driven
