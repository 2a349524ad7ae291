package manifest

import (
	"fmt"
	"sort"
	"strings"
)

// Op is a version comparison operator.
type Op string

const (
	OpEq         Op = "=="
	OpNe         Op = "!="
	OpGe         Op = ">="
	OpLe         Op = "<="
	OpGt         Op = ">"
	OpLt         Op = "<"
	OpCompatible Op = "~="
	OpArbitrary  Op = "==="
)

// ops is ordered so longer operators match before their prefixes.
var ops = []Op{OpArbitrary, OpCompatible, OpEq, OpNe, OpGe, OpLe, OpGt, OpLt}

// Clause is one "op version" term.
type Clause struct {
	Op      Op
	Version string
}

func (c Clause) String() string { return string(c.Op) + c.Version }

// Constraint is a conjunction of clauses. The zero value accepts any version.
type Constraint struct {
	Clauses []Clause
}

// IsAny reports whether the constraint accepts every version.
func (c Constraint) IsAny() bool { return len(c.Clauses) == 0 }

// IsPinned reports whether the constraint names exactly one version.
func (c Constraint) IsPinned() bool {
	if len(c.Clauses) != 1 {
		return false
	}
	cl := c.Clauses[0]
	return cl.Op == OpArbitrary || (cl.Op == OpEq && !strings.HasSuffix(cl.Version, ".*"))
}

func (c Constraint) String() string {
	parts := make([]string, 0, len(c.Clauses))
	for _, cl := range c.Clauses {
		parts = append(parts, cl.String())
	}
	return strings.Join(parts, ",")
}

// ParseConstraint parses a comma separated specifier list such as
// ">=1.0,<2" or "==0.110.*". An empty string yields the any-constraint.
func ParseConstraint(s string) (Constraint, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Constraint{}, nil
	}
	var out Constraint
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return Constraint{}, fmt.Errorf("empty clause in %q", s)
		}
		cl, err := parseClause(part)
		if err != nil {
			return Constraint{}, err
		}
		out.Clauses = append(out.Clauses, cl)
	}
	return out, nil
}

func parseClause(s string) (Clause, error) {
	for _, op := range ops {
		if !strings.HasPrefix(s, string(op)) {
			continue
		}
		v := strings.TrimSpace(strings.TrimPrefix(s, string(op)))
		if v == "" {
			return Clause{}, fmt.Errorf("missing version after %q", op)
		}
		if op == OpArbitrary {
			return Clause{Op: op, Version: v}, nil
		}
		if strings.HasSuffix(v, ".*") {
			if op != OpEq && op != OpNe {
				return Clause{}, fmt.Errorf("wildcard only allowed with == or !=: %q", s)
			}
			if _, err := ParseVersion(strings.TrimSuffix(v, ".*")); err != nil {
				return Clause{}, err
			}
			return Clause{Op: op, Version: v}, nil
		}
		pv, err := ParseVersion(v)
		if err != nil {
			return Clause{}, err
		}
		if pv.Local != "" && op != OpEq && op != OpNe {
			return Clause{}, fmt.Errorf("local version only allowed with == or !=: %q", s)
		}
		if op == OpCompatible && len(pv.Release) < 2 {
			return Clause{}, fmt.Errorf("~= needs at least two release segments: %q", s)
		}
		return Clause{Op: op, Version: v}, nil
	}
	return Clause{}, fmt.Errorf("unknown operator in %q", s)
}

// ValidVersion reports whether v is a version this package can compare.
func ValidVersion(v string) bool {
	_, err := ParseVersion(v)
	return err == nil
}

// Allows reports whether version satisfies every clause. Only "==="
// clauses can match a version that does not parse.
func (c Constraint) Allows(version string) bool {
	v, err := ParseVersion(version)
	if err != nil && c.IsAny() {
		return false
	}
	for _, cl := range c.Clauses {
		if cl.Op == OpArbitrary {
			if !strings.EqualFold(strings.TrimSpace(version), cl.Version) {
				return false
			}
			continue
		}
		if err != nil || !cl.allows(v) {
			return false
		}
	}
	return true
}

func (cl Clause) allows(v Version) bool {
	if strings.HasSuffix(cl.Version, ".*") {
		prefix, _ := ParseVersion(strings.TrimSuffix(cl.Version, ".*"))
		in := hasReleasePrefix(v, prefix)
		if cl.Op == OpNe {
			return !in
		}
		return in
	}
	want, _ := ParseVersion(cl.Version)
	pub := v.Public()
	switch cl.Op {
	case OpEq, OpNe:
		have := pub
		if want.Local != "" {
			have = v
		}
		eq := have.Compare(want) == 0
		if cl.Op == OpNe {
			return !eq
		}
		return eq
	case OpGe:
		return pub.Compare(want) >= 0
	case OpLe:
		return pub.Compare(want) <= 0
	case OpGt:
		if pub.Compare(want) <= 0 {
			return false
		}
		// >V does not admit post releases of V itself.
		return want.IsPostrelease() || !pub.IsPostrelease() || !sameBase(pub, want)
	case OpLt:
		if pub.Compare(want) >= 0 {
			return false
		}
		// <V does not admit pre releases of V itself.
		return want.IsPrerelease() || !pub.IsPrerelease() || !sameRelease(pub, want)
	case OpCompatible:
		if pub.Compare(want) < 0 {
			return false
		}
		prefix := Version{Epoch: want.Epoch, Release: want.Release[:len(want.Release)-1]}
		return hasReleasePrefix(pub, prefix)
	}
	return false
}

func sameRelease(a, b Version) bool {
	return a.Epoch == b.Epoch && compareRelease(a.Release, b.Release) == 0
}

func sameBase(a, b Version) bool {
	return sameRelease(a, b) && a.PreKind == b.PreKind && a.PreNum == b.PreNum
}

// Best returns the highest version in candidates the constraint allows.
// Prereleases are picked when a clause names one explicitly, or when no
// final release is acceptable.
func (c Constraint) Best(candidates []string) (string, bool) {
	wantPre := false
	for _, cl := range c.Clauses {
		if cl.Op == OpArbitrary {
			continue
		}
		if v, err := ParseVersion(strings.TrimSuffix(cl.Version, ".*")); err == nil && v.IsPrerelease() {
			wantPre = true
		}
	}
	type cand struct {
		raw string
		v   Version
	}
	var finals, pres []cand
	for _, raw := range candidates {
		v, err := ParseVersion(raw)
		if err != nil || !c.Allows(raw) {
			continue
		}
		if v.IsPrerelease() && !wantPre {
			pres = append(pres, cand{raw, v})
			continue
		}
		finals = append(finals, cand{raw, v})
	}
	if len(finals) == 0 {
		finals = pres
	}
	if len(finals) == 0 {
		return "", false
	}
	sort.Slice(finals, func(i, j int) bool {
		if cmp := finals[i].v.Compare(finals[j].v); cmp != 0 {
			return cmp > 0
		}
		return finals[i].raw < finals[j].raw
	})
	return finals[0].raw, true
}
