// Package audit maintains the tamper-evident access trail: an
// append-only JSONL file where each record is hash-chained to its
// predecessor.
//
// # Chain construction
//
//	record[0]          record[1]          record[2]
//	prev_hash: ""      prev_hash: h0      prev_hash: h1
//	hash:      h0 ───► hash:      h1 ───► hash:      h2
//
// Each hash is the hex SHA-256 of the record's canonical form: a
// compact JSON object with keys sorted alphabetically
// (action, file, prev_hash, status, timestamp, user) and the hash
// field omitted. The canonical form is frozen; changing it would
// invalidate every log already on disk.
//
// Editing any stored field changes the recomputed hash; editing the
// stored hash breaks the successor's back-link; deleting a line
// orphans the next back-link. Verify walks the file and reports the
// first broken line plus every line implicated after it.
//
// # Durability
//
// Append serializes writers with a mutex and fsyncs each line before
// returning. The access broker withholds key material whenever the
// append fails, so no grant can exist without its record. A crash can
// still tear the final line; Open tolerates a torn tail by resuming
// the chain from the last parseable record, and the verifier reports
// the torn line as corrupt rather than refusing to run.
//
// # Record shape
//
//	{"timestamp":1724457600,"user":"<id>","file":"report.txt",
//	 "action":"ACCESS","status":"GRANTED_REWRAP",
//	 "prev_hash":"<hex>","hash":"<hex>"}
//
// Timestamps are unix seconds. Actions are ACCESS, REVOKE and
// REVOKE_USER; statuses cover the grant and every denial class (see
// pkg/types). Denied requests are first-class records: removing a
// denial breaks the chain exactly like removing a grant.
//
// # See Also
//
//   - pkg/broker: appends on every mediation outcome
//   - cmd/medlock: `medlock audit verify` runs VerifyFile
package audit
