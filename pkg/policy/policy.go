package policy

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/caretrust/medlock/pkg/types"
)

// keyPattern constrains clause keys to identifier-like tokens.
var keyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Clause is a single key:value requirement. An attribute bag satisfies
// the clause when it carries exactly that value under that key.
type Clause struct {
	Key   string
	Value string
}

func (c Clause) String() string {
	return c.Key + ":" + c.Value
}

// Policy is a conjunction of clauses. Every clause must hold for the
// policy to be satisfied; an empty policy is unrepresentable because
// Parse rejects it.
type Policy []Clause

// Parse compiles a policy expression of the form
//
//	key:value AND key:value AND ...
//
// into its clause list. The separator is the bare token AND, so a key
// or value containing the substring "AND" is untouched; a value that
// IS the separator token is rejected. Values under the Role key are
// canonicalized to title case so that "Role:doctor" and "Role:Doctor"
// compare equal against attribute bags, which always carry the
// title-cased form. The revocation sentinel value is kept verbatim and
// is only legal under the Role key.
func Parse(expr string) (Policy, error) {
	fields := strings.Fields(expr)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty policy")
	}

	var p Policy
	wantClause := true
	for _, f := range fields {
		if wantClause {
			c, err := parseClause(f)
			if err != nil {
				return nil, err
			}
			p = append(p, c)
		} else if f != "AND" {
			return nil, fmt.Errorf("expected AND between clauses, got %q", f)
		}
		wantClause = !wantClause
	}
	if wantClause {
		return nil, fmt.Errorf("trailing AND in policy")
	}
	return p, nil
}

func parseClause(tok string) (Clause, error) {
	if tok == "AND" {
		return Clause{}, fmt.Errorf("expected clause, got AND")
	}
	key, value, ok := strings.Cut(tok, ":")
	if !ok {
		return Clause{}, fmt.Errorf("clause %q missing ':'", tok)
	}
	if !keyPattern.MatchString(key) {
		return Clause{}, fmt.Errorf("invalid clause key %q", key)
	}
	if value == "" {
		return Clause{}, fmt.Errorf("clause %q has empty value", tok)
	}
	if value == "AND" {
		return Clause{}, fmt.Errorf("clause %q uses the separator token as value", tok)
	}
	if value == types.RevokedSentinelValue {
		if key != types.RoleAttributeKey {
			return Clause{}, fmt.Errorf("sentinel value only valid under %s", types.RoleAttributeKey)
		}
		return Clause{Key: key, Value: value}, nil
	}
	if key == types.RoleAttributeKey {
		value = titleCase(value)
	}
	return Clause{Key: key, Value: value}, nil
}

// titleCase uppercases the first byte and lowercases the rest, turning
// "doctor", "DOCTOR" and "Doctor" into the same attribute form.
func titleCase(s string) string {
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}

// Evaluate reports whether the attribute bag satisfies every clause.
// A missing key never satisfies its clause.
func (p Policy) Evaluate(attrs map[string]string) bool {
	for _, c := range p {
		v, ok := attrs[c.Key]
		if !ok || v != c.Value {
			return false
		}
	}
	return true
}

func (p Policy) String() string {
	parts := make([]string, len(p))
	for i, c := range p {
		parts[i] = c.String()
	}
	return strings.Join(parts, " AND ")
}

// IsSentinel reports whether the expression is exactly the blanket
// revocation policy that no attribute bag can ever satisfy.
func IsSentinel(expr string) bool {
	return strings.TrimSpace(expr) == types.PolicySentinelRevoked
}

// Satisfies evaluates a raw policy expression against an attribute
// bag. The blanket revocation sentinel satisfies nothing, and any
// parse failure denies: an unenforceable policy must never grant
// access.
func Satisfies(expr string, attrs map[string]string) bool {
	if IsSentinel(expr) {
		return false
	}
	p, err := Parse(expr)
	if err != nil {
		return false
	}
	return p.Evaluate(attrs)
}
