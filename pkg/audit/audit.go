package audit

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/caretrust/medlock/pkg/log"
	"github.com/caretrust/medlock/pkg/metrics"
	"github.com/caretrust/medlock/pkg/types"
)

// Log is an append-only, hash-chained audit trail stored as one JSON
// record per line. Every record carries the hash of its predecessor,
// so any in-place edit breaks the chain from that point on.
type Log struct {
	path     string
	f        *os.File
	lastHash string
	// Set when the existing file does not end in a newline; the next
	// append writes a guard so it starts on a fresh line.
	needsNewline bool
	// Set after a failed append; cleared by the next success so the
	// health registry tracks transient faults like a full disk.
	degraded bool
	mu       sync.Mutex
	logger   zerolog.Logger
}

// Report is the result of a chain verification pass. Indices are
// 0-based line numbers in the log file.
type Report struct {
	// OK is true only when every line parses and every link holds.
	OK bool
	// FirstBroken is the first line whose hash or back-link fails
	// recomputation, -1 when the chain is intact.
	FirstBroken int
	// Broken lists every line that fails against the recomputed
	// chain. A break taints everything after it, so records
	// downstream of the first mismatch appear here too.
	Broken []int
	// Records counts the parseable records.
	Records int
	// Corrupt lists lines that are not valid JSON records.
	Corrupt []int
}

// Open opens (or creates) the audit log and recovers the chain state
// by scanning existing records. A torn final line is tolerated: the
// chain continues from the last parseable record.
func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}

	l := &Log{
		path:   path,
		f:      f,
		logger: log.WithComponent("audit"),
	}

	entries, corrupt, err := scanFile(path)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to recover audit chain: %w", err)
	}
	if len(entries) > 0 {
		l.lastHash = entries[len(entries)-1].rec.Hash
	}
	if len(corrupt) > 0 {
		l.logger.Warn().Ints("lines", corrupt).Msg("Audit log contains unparseable lines")
	}

	l.needsNewline, err = missingFinalNewline(path)
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	metrics.RegisterComponent("audit", true, "audit log open")
	return l, nil
}

// Close releases the underlying file handle.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}

// Append writes one audit record and fsyncs it before returning. The
// record's hash covers its own fields plus the hash of the previous
// record, with "" as the genesis back-link. Callers on the access
// path must treat an error here as fatal to the operation being
// audited.
func (l *Log) Append(user, file string, action types.AuditAction, status types.AuditStatus) (types.AuditRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec := types.AuditRecord{
		Timestamp: time.Now().Unix(),
		User:      user,
		File:      file,
		Action:    action,
		Status:    status,
		PrevHash:  l.lastHash,
	}

	hash, err := chainHash(rec)
	if err != nil {
		l.appendFailed(err)
		return types.AuditRecord{}, fmt.Errorf("failed to hash audit record: %w", err)
	}
	rec.Hash = hash

	line, err := marshalLine(rec)
	if err != nil {
		l.appendFailed(err)
		return types.AuditRecord{}, fmt.Errorf("failed to marshal audit record: %w", err)
	}

	if l.needsNewline {
		if _, err := l.f.WriteString("\n"); err != nil {
			l.appendFailed(err)
			return types.AuditRecord{}, fmt.Errorf("failed to write audit record: %w", err)
		}
		l.needsNewline = false
	}

	if _, err := l.f.Write(line); err != nil {
		l.appendFailed(err)
		return types.AuditRecord{}, fmt.Errorf("failed to write audit record: %w", err)
	}
	if err := l.f.Sync(); err != nil {
		l.appendFailed(err)
		return types.AuditRecord{}, fmt.Errorf("failed to sync audit log: %w", err)
	}

	l.lastHash = rec.Hash
	if l.degraded {
		l.degraded = false
		metrics.UpdateComponent("audit", true, "audit log open")
	}
	metrics.AuditRecordsTotal.WithLabelValues(string(action)).Inc()
	return rec, nil
}

// appendFailed counts a failed append and marks the audit component
// unhealthy. The broker withholds grants while appends fail, so this
// also drives /ready to not_ready. Caller holds the mutex.
func (l *Log) appendFailed(err error) {
	metrics.AuditAppendFailures.Inc()
	if !l.degraded {
		l.degraded = true
		metrics.UpdateComponent("audit", false, "append failed: "+err.Error())
	}
}

// Scan returns every parseable record in storage order, plus the line
// numbers of unparseable lines. Corruption does not stop the scan.
func (l *Log) Scan() ([]types.AuditRecord, []int, error) {
	return ReadFile(l.path)
}

// ReadFile reads a log file without opening it for appending and
// returns every parseable record in storage order, plus the line
// numbers of unparseable lines. A missing file reads as empty.
func ReadFile(path string) ([]types.AuditRecord, []int, error) {
	entries, corrupt, err := scanFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	records := make([]types.AuditRecord, len(entries))
	for i, e := range entries {
		records[i] = e.rec
	}
	return records, corrupt, nil
}

// Recent returns up to n parseable records, newest first.
func (l *Log) Recent(n int) ([]types.AuditRecord, error) {
	records, _, err := l.Scan()
	if err != nil {
		return nil, err
	}
	if n > len(records) {
		n = len(records)
	}
	out := make([]types.AuditRecord, 0, n)
	for i := len(records) - 1; i >= len(records)-n; i-- {
		out = append(out, records[i])
	}
	return out, nil
}

// Verify recomputes every record's hash and back-link in storage
// order and reports every line where the chain fails.
func (l *Log) Verify() (Report, error) {
	return VerifyFile(l.path)
}

// VerifyFile verifies a log file without opening it for appending.
// A missing file verifies clean: an empty chain has nothing to break.
func VerifyFile(path string) (Report, error) {
	report := Report{OK: true, FirstBroken: -1}

	entries, corrupt, err := scanFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return report, nil
		}
		return Report{}, err
	}

	report.Records = len(entries)
	report.Corrupt = corrupt

	prev := ""
	for _, e := range entries {
		// Hash over the trusted back-link, not the stored one, so the
		// recomputed chain diverges from the file at the first break
		// and stays diverged: everything downstream of an edited
		// record is reported, not just the record itself.
		trusted := e.rec
		trusted.PrevHash = prev
		want, err := chainHash(trusted)
		if err != nil {
			return Report{}, fmt.Errorf("failed to hash record at line %d: %w", e.line, err)
		}
		if e.rec.Hash != want || e.rec.PrevHash != prev {
			report.Broken = append(report.Broken, e.line)
			if report.FirstBroken == -1 {
				report.FirstBroken = e.line
			}
		}
		prev = want
	}

	report.OK = len(report.Broken) == 0 && len(report.Corrupt) == 0
	return report, nil
}

// chainHash computes the hex SHA-256 of a record's canonical form:
// a compact JSON object with keys in alphabetical order and the hash
// field omitted. Changing this serialization invalidates every
// existing log, so it is frozen.
func chainHash(rec types.AuditRecord) (string, error) {
	payload := map[string]any{
		"action":    rec.Action,
		"file":      rec.File,
		"prev_hash": rec.PrevHash,
		"status":    rec.Status,
		"timestamp": rec.Timestamp,
		"user":      rec.User,
	}
	canonical, err := encodeCompact(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// marshalLine renders one record as a single JSON line including the
// trailing newline.
func marshalLine(rec types.AuditRecord) ([]byte, error) {
	data, err := encodeCompact(rec)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// encodeCompact marshals without HTML escaping so logged values
// appear byte-for-byte as given.
func encodeCompact(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

type scanEntry struct {
	line int
	rec  types.AuditRecord
}

// scanFile reads every line, classifying each as a record or as
// corrupt. Uses a Reader rather than a Scanner so an oversized
// corrupt line cannot abort the scan.
func scanFile(path string) ([]scanEntry, []int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = f.Close() }()

	var (
		entries []scanEntry
		corrupt []int
	)
	r := bufio.NewReader(f)
	line := 0
	for {
		text, err := r.ReadString('\n')
		if text != "" {
			trimmed := strings.TrimRight(text, "\r\n")
			if trimmed != "" {
				var rec types.AuditRecord
				if jsonErr := json.Unmarshal([]byte(trimmed), &rec); jsonErr != nil {
					corrupt = append(corrupt, line)
				} else {
					entries = append(entries, scanEntry{line: line, rec: rec})
				}
			}
			line++
		}
		if err == io.EOF {
			return entries, corrupt, nil
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read audit log: %w", err)
		}
	}
}

func missingFinalNewline(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return false, fmt.Errorf("failed to stat audit log: %w", err)
	}
	if info.Size() == 0 {
		return false, nil
	}

	buf := make([]byte, 1)
	if _, err := f.ReadAt(buf, info.Size()-1); err != nil {
		return false, fmt.Errorf("failed to read audit log tail: %w", err)
	}
	return buf[0] != '\n', nil
}
