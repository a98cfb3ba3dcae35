// Package policy parses and evaluates the conjunctive access policies
// attached to every stored object.
//
// # Grammar
//
// A policy is one or more clauses joined by the bare token AND:
//
//	policy := clause ("AND" clause)*
//	clause := key ":" value
//	key    := [A-Za-z_][A-Za-z0-9_]*
//	value  := any non-empty token without whitespace
//
// Tokens are whitespace separated, so AND only acts as a separator
// when it stands alone; "Dept:RANDD" is a single clause. Values may
// contain further colons ("Shift:08:00-16:00").
//
// # Evaluation
//
// Evaluation is a pure conjunction over an attribute bag:
//
//	Role:Doctor AND Dept:Cardiology
//	        |              |
//	        v              v
//	  attrs["Role"]   attrs["Dept"]
//	   == "Doctor"  && == "Cardiology"  -> satisfied
//
// A key absent from the bag fails its clause. There is no OR, no
// negation and no wildcard; anything the grammar cannot express is
// expressed by attribute design instead.
//
// # Fail closed
//
// Satisfies treats any parse failure as a denial. A policy that cannot
// be enforced must never grant access, so callers on the access path
// use Satisfies rather than handling parse errors themselves.
//
// Role clause values are canonicalized to title case at parse time
// ("Role:doctor" and "Role:Doctor" are the same clause). The reserved
// value __REVOKED__ is only legal under the Role key; the full blanket
// policy "Role:__REVOKED__" satisfies nothing, both because Satisfies
// rejects it outright and because identity never hands out the
// sentinel as a real attribute value.
//
// # See Also
//
//   - pkg/broker: evaluates policies during access mediation
//   - pkg/identity: builds the attribute bags policies run against
//   - pkg/types: sentinel and attribute key constants
package policy
