// Package store defines interfaces for data persistence operations.
// These interfaces abstract the underlying data storage mechanism from
// the ingestion pipelines, allowing business rules to remain independent
// of specific database technologies or persistence details.
//
// Work that must observe committed state (async imports, parse requests)
// is registered with AfterCommit and runs only once the surrounding
// transaction is durable.
package store
