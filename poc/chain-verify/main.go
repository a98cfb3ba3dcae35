package main

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"
	"strings"
	"time"
)

// Proof of concept for the hash-chained audit trail: every record
// carries the hash of its predecessor, so editing any line breaks
// verification from that line on, no matter what is appended later.

type record struct {
	Timestamp int64  `json:"timestamp"`
	User      string `json:"user"`
	File      string `json:"file"`
	Action    string `json:"action"`
	Status    string `json:"status"`
	PrevHash  string `json:"prev_hash"`
	Hash      string `json:"hash"`
}

func main() {
	log.Println("=== Medlock Audit Chain POC ===")
	log.Println()

	// Build a short trail the way the server does: one JSON line per
	// decision, each hashed over its fields plus the previous hash.
	log.Println("1. Appending five records...")
	now := time.Now().Unix()
	events := []record{
		{Timestamp: now, User: "u-patient", File: "scan.dat", Action: "ACCESS", Status: "SUCCESS"},
		{Timestamp: now + 1, User: "u-doctor", File: "scan.dat", Action: "ACCESS", Status: "GRANTED_REWRAP"},
		{Timestamp: now + 2, User: "u-intern", File: "scan.dat", Action: "ACCESS", Status: "DENIED_POLICY"},
		{Timestamp: now + 3, User: "u-patient", File: "scan.dat", Action: "REVOKE_USER", Status: "SUCCESS"},
		{Timestamp: now + 4, User: "u-doctor", File: "scan.dat", Action: "ACCESS", Status: "DENIED_REVOKED"},
	}

	var lines []string
	prev := ""
	for _, rec := range events {
		rec.PrevHash = prev
		rec.Hash = chainHash(rec)
		prev = rec.Hash
		line, err := json.Marshal(rec)
		if err != nil {
			log.Fatalf("Failed to marshal record: %v", err)
		}
		lines = append(lines, string(line))
	}
	log.Printf("✓ Trail built: %d records, genesis back-link is the empty string", len(lines))

	log.Println("\n2. Verifying the untouched trail...")
	if broken := verify(lines); len(broken) != 0 {
		log.Fatalf("Fresh trail should verify, got broken lines %v", broken)
	}
	log.Println("✓ Every hash and back-link checks out")

	// An attacker with file access rewrites one decision in place.
	log.Println("\n3. Tampering with line 2 (denial -> grant)...")
	tampered := make([]string, len(lines))
	copy(tampered, lines)
	tampered[2] = strings.Replace(tampered[2], "DENIED_POLICY", "GRANTED_REWRAP", 1)

	broken := verify(tampered)
	if len(broken) == 0 {
		log.Fatal("Tampered trail verified clean")
	}
	log.Printf("✓ Verification flags line %d and the %d lines after it", broken[0], len(broken)-1)

	// Re-hashing the edited line does not help: its recorded hash
	// then disagrees with the back-link stored in line 3.
	log.Println("\n4. Re-hashing the edited line to cover the edit...")
	var rec record
	if err := json.Unmarshal([]byte(tampered[2]), &rec); err != nil {
		log.Fatalf("Failed to unmarshal tampered line: %v", err)
	}
	rec.Hash = chainHash(rec)
	fixed, err := json.Marshal(rec)
	if err != nil {
		log.Fatalf("Failed to marshal re-hashed line: %v", err)
	}
	tampered[2] = string(fixed)

	broken = verify(tampered)
	if len(broken) == 0 {
		log.Fatal("Re-hashed tampering went undetected")
	}
	log.Printf("✓ Chain still breaks, now at line %d: the successor's back-link no longer matches", broken[0])

	log.Println("\n5. Appending honest records after the tamper...")
	extra := record{
		Timestamp: now + 5, User: "u-doctor", File: "scan.dat",
		Action: "ACCESS", Status: "DENIED_REVOKED",
	}
	var last record
	if err := json.Unmarshal([]byte(tampered[len(tampered)-1]), &last); err != nil {
		log.Fatalf("Failed to unmarshal last line: %v", err)
	}
	extra.PrevHash = last.Hash
	extra.Hash = chainHash(extra)
	line, err := json.Marshal(extra)
	if err != nil {
		log.Fatalf("Failed to marshal appended record: %v", err)
	}
	tampered = append(tampered, string(line))

	broken = verify(tampered)
	if len(broken) == 0 {
		log.Fatal("Appending hid the tamper")
	}
	log.Printf("✓ The break at line %d stays visible and taints every later record, the honest append included", broken[0])

	log.Println("\n✅ POC complete!")
	log.Println("In-place edits are detectable forever; only truncation plus")
	log.Println("a full rebuild could hide one, and that changes every hash.")
}

// chainHash hashes the canonical form of a record: compact JSON with
// keys in alphabetical order and the hash field omitted.
func chainHash(rec record) string {
	payload := map[string]any{
		"action":    rec.Action,
		"file":      rec.File,
		"prev_hash": rec.PrevHash,
		"status":    rec.Status,
		"timestamp": rec.Timestamp,
		"user":      rec.User,
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		log.Fatalf("Failed to encode canonical record: %v", err)
	}
	sum := sha256.Sum256(bytes.TrimSuffix(buf.Bytes(), []byte("\n")))
	return hex.EncodeToString(sum[:])
}

// verify recomputes the chain from the genesis link, returning the
// 0-based indices of lines that fail against it. Once a line breaks,
// the recomputed chain diverges from the stored one, so every later
// line is implicated too.
func verify(lines []string) []int {
	var broken []int
	prev := ""
	for i, line := range lines {
		var rec record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			broken = append(broken, i)
			continue
		}
		trusted := rec
		trusted.PrevHash = prev
		want := chainHash(trusted)
		if rec.Hash != want || rec.PrevHash != prev {
			broken = append(broken, i)
		}
		prev = want
	}
	return broken
}
