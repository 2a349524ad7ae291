package manifest

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Version is a parsed PEP 440 version: [N!]N(.N)*[{a|b|rc}N][.postN][.devN][+local].
type Version struct {
	Epoch   int
	Release []int
	// PreKind is "a", "b" or "rc"; empty for final releases.
	PreKind string
	PreNum  int
	// Post and Dev are -1 when absent.
	Post  int
	Dev   int
	Local string
}

var reVersion = regexp.MustCompile(`(?i)^v?` +
	`(?:(?P<epoch>[0-9]+)!)?` +
	`(?P<release>[0-9]+(?:\.[0-9]+)*)` +
	`(?P<pre>[-_.]?(?P<pre_l>alpha|beta|preview|pre|rc|a|b|c)[-_.]?(?P<pre_n>[0-9]+)?)?` +
	`(?P<post>(?:-(?P<post_n1>[0-9]+))|(?:[-_.]?(?P<post_l>post|rev|r)[-_.]?(?P<post_n2>[0-9]+)?))?` +
	`(?P<dev>[-_.]?dev[-_.]?(?P<dev_n>[0-9]+)?)?` +
	`(?:\+(?P<local>[a-z0-9]+(?:[-_.][a-z0-9]+)*))?$`)

// ParseVersion parses s in any of the spellings PEP 440 normalizes.
func ParseVersion(s string) (Version, error) {
	s = strings.TrimSpace(s)
	m := reVersion.FindStringSubmatch(s)
	if m == nil {
		return Version{}, fmt.Errorf("invalid version %q", s)
	}
	group := func(name string) string { return m[reVersion.SubexpIndex(name)] }

	v := Version{Post: -1, Dev: -1}
	if e := group("epoch"); e != "" {
		v.Epoch = atoi(e)
	}
	for _, seg := range strings.Split(group("release"), ".") {
		v.Release = append(v.Release, atoi(seg))
	}
	if group("pre") != "" {
		switch strings.ToLower(group("pre_l")) {
		case "a", "alpha":
			v.PreKind = "a"
		case "b", "beta":
			v.PreKind = "b"
		default:
			v.PreKind = "rc"
		}
		v.PreNum = atoi(group("pre_n"))
	}
	if group("post") != "" {
		v.Post = atoi(group("post_n1") + group("post_n2"))
	}
	if group("dev") != "" {
		v.Dev = atoi(group("dev_n"))
	}
	v.Local = strings.ToLower(strings.NewReplacer("-", ".", "_", ".").Replace(group("local")))
	return v, nil
}

func atoi(s string) int {
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

// IsPrerelease reports whether v is a pre or dev release.
func (v Version) IsPrerelease() bool { return v.PreKind != "" || v.Dev >= 0 }

// IsPostrelease reports whether v carries a post segment.
func (v Version) IsPostrelease() bool { return v.Post >= 0 }

// Public drops the local segment.
func (v Version) Public() Version {
	v.Local = ""
	return v
}

func (v Version) String() string {
	var b strings.Builder
	if v.Epoch != 0 {
		fmt.Fprintf(&b, "%d!", v.Epoch)
	}
	for i, n := range v.Release {
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(strconv.Itoa(n))
	}
	if v.PreKind != "" {
		fmt.Fprintf(&b, "%s%d", v.PreKind, v.PreNum)
	}
	if v.Post >= 0 {
		fmt.Fprintf(&b, ".post%d", v.Post)
	}
	if v.Dev >= 0 {
		fmt.Fprintf(&b, ".dev%d", v.Dev)
	}
	if v.Local != "" {
		b.WriteString("+" + v.Local)
	}
	return b.String()
}

// Compare orders versions the way PEP 440 does: -1, 0 or +1.
func (v Version) Compare(o Version) int {
	if c := cmpInt(v.Epoch, o.Epoch); c != 0 {
		return c
	}
	if c := compareRelease(v.Release, o.Release); c != 0 {
		return c
	}
	if c := cmpInt(v.preRank(), o.preRank()); c != 0 {
		return c
	}
	if v.PreKind != "" && o.PreKind != "" {
		if c := cmpInt(v.PreNum, o.PreNum); c != 0 {
			return c
		}
	}
	if c := cmpInt(v.Post, o.Post); c != 0 {
		return c
	}
	if c := cmpInt(devRank(v.Dev), devRank(o.Dev)); c != 0 {
		return c
	}
	return compareLocal(v.Local, o.Local)
}

// preRank places dev-only releases before alphas and finals after rc.
func (v Version) preRank() int {
	switch v.PreKind {
	case "a":
		return 1
	case "b":
		return 2
	case "rc":
		return 3
	}
	if v.Dev >= 0 && v.Post < 0 {
		return 0
	}
	return 4
}

func devRank(dev int) int {
	if dev < 0 {
		return int(^uint(0) >> 1)
	}
	return dev
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// compareRelease compares release segments with missing ones read as zero.
func compareRelease(a, b []int) int {
	n := max(len(a), len(b))
	for i := 0; i < n; i++ {
		var x, y int
		if i < len(a) {
			x = a[i]
		}
		if i < len(b) {
			y = b[i]
		}
		if c := cmpInt(x, y); c != 0 {
			return c
		}
	}
	return 0
}

// compareLocal sorts numeric segments above alphanumeric ones and an absent
// local label below any present one.
func compareLocal(a, b string) int {
	if a == b {
		return 0
	}
	if a == "" {
		return -1
	}
	if b == "" {
		return 1
	}
	as, bs := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(as) && i < len(bs); i++ {
		an, aErr := strconv.Atoi(as[i])
		bn, bErr := strconv.Atoi(bs[i])
		switch {
		case aErr == nil && bErr == nil:
			if c := cmpInt(an, bn); c != 0 {
				return c
			}
		case aErr == nil:
			return 1
		case bErr == nil:
			return -1
		default:
			if c := strings.Compare(as[i], bs[i]); c != 0 {
				return c
			}
		}
	}
	return cmpInt(len(as), len(bs))
}

// hasReleasePrefix reports whether v's epoch matches p's and v's release
// starts with p's release, zero padded.
func hasReleasePrefix(v, p Version) bool {
	if v.Epoch != p.Epoch {
		return false
	}
	for i, n := range p.Release {
		have := 0
		if i < len(v.Release) {
			have = v.Release[i]
		}
		if have != n {
			return false
		}
	}
	return true
}
