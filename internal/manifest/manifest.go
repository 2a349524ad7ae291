// Package manifest parses dependency manifests: an ordered list of package
// requirements, one per line, each a name with an optional version
// constraint ("fastapi", "uvicorn[standard]>=0.20,<1", "pydantic~=2.5").
package manifest

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"
)

// Requirement is a single manifest entry.
type Requirement struct {
	// Name is the normalized package name (lower case, runs of "-_." folded to "-").
	Name string
	// Raw is the name exactly as written.
	Raw string
	// Extras are the normalized, sorted optional feature sets ("standard").
	Extras []string
	// Constraint is empty when any version is acceptable.
	Constraint Constraint
	// Line is the 1-based source line, for error messages.
	Line int
}

// String renders the entry in installer syntax: name[extra,...]constraint.
func (r Requirement) String() string {
	s := r.Name
	if len(r.Extras) > 0 {
		s += "[" + strings.Join(r.Extras, ",") + "]"
	}
	if !r.Constraint.IsAny() {
		s += r.Constraint.String()
	}
	return s
}

// Manifest is an ordered list of requirements. Order is preserved from the
// source and drives install order.
type Manifest struct {
	Requirements []Requirement
}

// Names returns the normalized names in manifest order.
func (m *Manifest) Names() []string {
	if m == nil {
		return nil
	}
	out := make([]string, 0, len(m.Requirements))
	for _, r := range m.Requirements {
		out = append(out, r.Name)
	}
	return out
}

// Len reports the number of requirements.
func (m *Manifest) Len() int {
	if m == nil {
		return 0
	}
	return len(m.Requirements)
}

var (
	reName      = regexp.MustCompile(`^([A-Za-z0-9][A-Za-z0-9._-]*)\s*(\[[^\]]*\])?\s*(.*)$`)
	reSeparator = regexp.MustCompile(`[-_.]+`)
	reExtra     = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9._-]*[A-Za-z0-9])?$`)
)

// NormalizeName folds a package name to its canonical comparison form.
func NormalizeName(name string) string {
	return strings.ToLower(reSeparator.ReplaceAllString(strings.TrimSpace(name), "-"))
}

// Parse reads a manifest. Blank lines and "#" comments are ignored, as are
// environment markers after ";". Duplicate names are rejected.
func Parse(r io.Reader) (*Manifest, error) {
	m := &Manifest{}
	seen := map[string]int{}
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		if i := strings.Index(line, ";"); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "-") {
			return nil, fmt.Errorf("line %d: installer options are not supported: %q", lineNo, line)
		}
		req, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		req.Line = lineNo
		if prev, dup := seen[req.Name]; dup {
			return nil, fmt.Errorf("line %d: duplicate requirement %q (first on line %d)", lineNo, req.Name, prev)
		}
		seen[req.Name] = lineNo
		m.Requirements = append(m.Requirements, req)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return m, nil
}

// ParseFile reads the manifest at path.
func ParseFile(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m, err := Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// MustParse is Parse for literals in tests and defaults.
func MustParse(src string) *Manifest {
	m, err := Parse(strings.NewReader(src))
	if err != nil {
		panic(err)
	}
	return m
}

func parseLine(line string) (Requirement, error) {
	match := reName.FindStringSubmatch(line)
	if match == nil {
		return Requirement{}, fmt.Errorf("invalid requirement %q", line)
	}
	extras, err := parseExtras(match[2])
	if err != nil {
		return Requirement{}, fmt.Errorf("requirement %q: %w", match[1], err)
	}
	c, err := ParseConstraint(match[3])
	if err != nil {
		return Requirement{}, fmt.Errorf("requirement %q: %w", match[1], err)
	}
	return Requirement{
		Name:       NormalizeName(match[1]),
		Raw:        match[1],
		Extras:     extras,
		Constraint: c,
	}, nil
}

func parseExtras(group string) ([]string, error) {
	inner := strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(group, "["), "]"))
	if inner == "" {
		return nil, nil
	}
	seen := map[string]bool{}
	var out []string
	for _, e := range strings.Split(inner, ",") {
		e = strings.TrimSpace(e)
		if !reExtra.MatchString(e) {
			return nil, fmt.Errorf("invalid extra %q", e)
		}
		n := NormalizeName(e)
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out, nil
}
