package pkgspec

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/blang/semver/v4"
)

// Ecosystem is a package ecosystem. Names are only compared within the same ecosystem.
type Ecosystem string

const (
	// Pip is the Python package index.
	Pip Ecosystem = "pip"
	// Conda is a conda channel installed with micromamba.
	Conda Ecosystem = "conda"
	// Apt is the Debian package archive.
	Apt Ecosystem = "apt"
)

var (
	nameRE = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9._+-]*[A-Za-z0-9+])?$`)
	// pipExtrasRE splits "name[extra,...]" into the name and the extras.
	pipExtrasRE = regexp.MustCompile(`^([^\[\]]+)(?:\[([A-Za-z0-9._, -]*)\])?$`)
	// pipNormRE follows PEP 503 name normalization.
	pipNormRE = regexp.MustCompile(`[-_.]+`)
)

// Spec is a package specifier.
type Spec struct {
	Ecosystem Ecosystem
	Name      string
	// Extras are the optional features of a pip package.
	Extras []string
	// Version is empty when the package is not pinned.
	Version string
}

// Pinned returns true if the package is pinned to a version.
func (s Spec) Pinned() bool {
	return s.Version != ""
}

// String returns the specifier in the syntax of its ecosystem.
func (s Spec) String() string {
	name := s.Name
	if len(s.Extras) > 0 {
		name += "[" + strings.Join(s.Extras, ",") + "]"
	}
	if !s.Pinned() {
		return name
	}
	if s.Ecosystem == Pip {
		return name + "==" + s.Version
	}
	return name + "=" + s.Version
}

// Parse parses a package specifier. Pip specifiers are "name", "name==version" or
// "name[extra,...]==version". Conda specifiers are "name", "name=version" or "name==version".
// Apt specifiers are "name" or "name=version".
func Parse(eco Ecosystem, s string) (Spec, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Spec{}, fmt.Errorf("empty package specifier")
	}

	var sep string
	switch eco {
	case Pip:
		sep = "=="
	case Conda:
		sep = "="
		if strings.Contains(s, "==") {
			sep = "=="
		}
	case Apt:
		sep = "="
	default:
		return Spec{}, fmt.Errorf("unsupported ecosystem: %q", eco)
	}
	name, version, found := strings.Cut(s, sep)
	if found && version == "" {
		return Spec{}, fmt.Errorf("%s: missing version in %q", eco, s)
	}
	if strings.ContainsAny(version, "=<>!~ ") {
		return Spec{}, fmt.Errorf("%s: only exact pins are supported: %q", eco, s)
	}

	var extras []string
	if eco == Pip {
		m := pipExtrasRE.FindStringSubmatch(name)
		if m == nil {
			return Spec{}, fmt.Errorf("%s: invalid extras in %q", eco, s)
		}
		name = m[1]
		if m[2] != "" {
			for _, e := range strings.Split(m[2], ",") {
				if e = strings.TrimSpace(e); e != "" {
					extras = append(extras, e)
				}
			}
		}
	}
	if !nameRE.MatchString(name) {
		return Spec{}, fmt.Errorf("%s: invalid package name in %q", eco, s)
	}

	if eco == Pip {
		name = pipNormRE.ReplaceAllString(strings.ToLower(name), "-")
	} else {
		name = strings.ToLower(name)
	}
	return Spec{Ecosystem: eco, Name: name, Extras: extras, Version: version}, nil
}

// CheckConflicts returns an error if a package is pinned to more than one version in the same
// ecosystem. Identical pins and unpinned duplicates are allowed.
func CheckConflicts(specs []Spec) error {
	type key struct {
		eco  Ecosystem
		name string
	}
	pins := map[key][]string{}
	for _, s := range specs {
		if !s.Pinned() {
			continue
		}
		k := key{eco: s.Ecosystem, name: s.Name}
		var dup bool
		for _, v := range pins[k] {
			if SameVersion(v, s.Version) {
				dup = true
				break
			}
		}
		if !dup {
			pins[k] = append(pins[k], s.Version)
		}
	}

	var conflicts []string
	for k, vs := range pins {
		if len(vs) < 2 {
			continue
		}
		conflicts = append(conflicts, fmt.Sprintf("%s package %q pinned to %s", k.eco, k.name, strings.Join(vs, ", ")))
	}
	if len(conflicts) == 0 {
		return nil
	}
	sort.Strings(conflicts)
	return fmt.Errorf("conflicting package versions: %s", strings.Join(conflicts, "; "))
}

// SameVersion returns true if the two versions are equal. Versions that parse as semantic
// versions are compared semantically (e.g., "11.8" equals "11.8.0").
func SameVersion(a, b string) bool {
	if a == b {
		return true
	}
	va, err := semver.ParseTolerant(a)
	if err != nil {
		return false
	}
	vb, err := semver.ParseTolerant(b)
	if err != nil {
		return false
	}
	return va.Equals(vb) && buildMeta(va) == buildMeta(vb)
}

func buildMeta(v semver.Version) string {
	return strings.Join(v.Build, ".")
}
