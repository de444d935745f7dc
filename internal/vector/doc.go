// Package vector talks to the embedding service and the Qdrant vector store.
//
// Every write goes through Upsert, which embeds the content once, searches
// the target collection with that same vector and replaces the best match
// when its cosine score reaches the dedup threshold. The dedup-then-write
// sequence runs under a Locker keyed by collection: LocalLocker covers a
// single process, RedisLocker covers several instances sharing one store.
//
// Transport failures and non-2xx responses surface as *UpstreamError. A
// missing collection is not an error for reads: Search and Scroll return
// nothing, Delete succeeds.
package vector
