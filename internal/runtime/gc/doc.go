// Package gc implements the cyclic reference-counting collector used by the
// managed runtime.
//
// Every heap value lives in a generation-checked slot map and is addressed by
// a Handle. Mutators maintain owning counts through Retain, Release and
// Replace. Released objects are queued into a candidate pool, and a driver
// (a background goroutine, or incremental steps taken from mutator call
// sites) periodically runs a trial-deletion cycle over a pool snapshot:
//
//	swap -> cascade -> init -> decrement -> mark -> break -> free
//
// The cascade phase frees candidates nobody owns without scanning them and
// sets aside the candidates this cycle does not scan. Those wait in a delay
// pool until a full cycle, which comes every FullScanEvery cycles.
//
// Objects whose counts are fully explained by references from inside the
// work set are unreachable, even when they form cycles. Their outgoing edges
// are broken, their payloads finalized, and their slots handed to the
// deferred deleter, which recycles memory only once no lock-free reader can
// still observe it.
package gc
