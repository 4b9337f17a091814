// Package nextver computes the next semantic version of a project from the
// state of its Git repository: commit graph topology, branch configuration,
// release tags and commit message conventions.
package nextver

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/blang/semver"
)

// VersionField names the component of a semantic version to increment.
type VersionField int

const (
	VersionFieldNone VersionField = iota
	VersionFieldPatch
	VersionFieldMinor
	VersionFieldMajor
)

func (f VersionField) String() string {
	switch f {
	case VersionFieldNone:
		return "None"
	case VersionFieldPatch:
		return "Patch"
	case VersionFieldMinor:
		return "Minor"
	case VersionFieldMajor:
		return "Major"
	default:
		return "Unknown"
	}
}

func maxVersionField(a, b VersionField) VersionField {
	if b > a {
		return b
	}
	return a
}

// SemanticVersionFormat selects how strictly version strings are parsed.
type SemanticVersionFormat int

const (
	// FormatStrict requires full SemVer 2.0 compliance.
	FormatStrict SemanticVersionFormat = iota
	// FormatLoose tolerates a leading "v" and missing minor or patch parts.
	FormatLoose
)

func (f SemanticVersionFormat) String() string {
	if f == FormatLoose {
		return "Loose"
	}
	return "Strict"
}

// PreReleaseTag is the ordered pre-release portion of a semantic version: a
// name plus an optional number. Either part may be absent; "0.0.0-4" carries
// a number with no name.
type PreReleaseTag struct {
	Name      string
	Number    int
	HasNumber bool
}

// HasTag reports whether any pre-release portion is present.
func (t PreReleaseTag) HasTag() bool {
	return t.Name != "" || t.HasNumber
}

func (t PreReleaseTag) String() string {
	switch {
	case t.Name != "" && t.HasNumber:
		return fmt.Sprintf("%s.%d", t.Name, t.Number)
	case t.HasNumber:
		return strconv.Itoa(t.Number)
	default:
		return t.Name
	}
}

// Compare orders pre-release tags per SemVer 2.0, with the convention that an
// absent tag is higher than any present one.
func (t PreReleaseTag) Compare(other PreReleaseTag) int {
	if !t.HasTag() && !other.HasTag() {
		return 0
	}
	if !t.HasTag() {
		return 1
	}
	if !other.HasTag() {
		return -1
	}
	if c := comparePreReleaseNames(t.Name, other.Name); c != 0 {
		return c
	}
	switch {
	case t.HasNumber && other.HasNumber:
		switch {
		case t.Number < other.Number:
			return -1
		case t.Number > other.Number:
			return 1
		}
		return 0
	case t.HasNumber:
		return 1
	case other.HasNumber:
		return -1
	}
	return 0
}

// comparePreReleaseNames orders names as SemVer identifiers: an empty name
// stands for a purely numeric identifier and sorts below any alphanumeric one.
func comparePreReleaseNames(a, b string) int {
	if a == b {
		return 0
	}
	if a == "" {
		return -1
	}
	if b == "" {
		return 1
	}
	return strings.Compare(a, b)
}

// labelEquals reports whether a pre-release name matches a configured label,
// case-insensitively. A nil label and an empty one are equivalent.
func labelEquals(name string, label *string) bool {
	want := ""
	if label != nil {
		want = *label
	}
	return strings.EqualFold(name, want)
}

// BuildMetadata is the non-ordering portion of a computed version.
type BuildMetadata struct {
	CommitsSinceVersionSource int
	VersionSourceSha          string
	Branch                    string
	Sha                       string
	ShortSha                  string
	CommitDate                time.Time
	UncommittedChanges        int
}

// SemanticVersion is an immutable semantic version value with an optional
// pre-release tag and build metadata. Build metadata never participates in
// ordering.
type SemanticVersion struct {
	Major      int
	Minor      int
	Patch      int
	PreRelease PreReleaseTag
	Build      BuildMetadata
}

// Compare totally orders versions per SemVer 2.0, with the empty pre-release
// tag comparing higher than any non-empty one.
func (v SemanticVersion) Compare(other SemanticVersion) int {
	if c := compareTriples(v, other); c != 0 {
		return c
	}
	return v.PreRelease.Compare(other.PreRelease)
}

func compareTriples(a, b SemanticVersion) int {
	for _, p := range [][2]int{{a.Major, b.Major}, {a.Minor, b.Minor}, {a.Patch, b.Patch}} {
		switch {
		case p[0] < p[1]:
			return -1
		case p[0] > p[1]:
			return 1
		}
	}
	return 0
}

// LessThan reports whether v orders strictly below other.
func (v SemanticVersion) LessThan(other SemanticVersion) bool {
	return v.Compare(other) < 0
}

// Equal reports ordering equality; build metadata is not considered.
func (v SemanticVersion) Equal(other SemanticVersion) bool {
	return v.Compare(other) == 0
}

// IsPreRelease reports whether v carries a pre-release tag.
func (v SemanticVersion) IsPreRelease() bool {
	return v.PreRelease.HasTag()
}

// IsMatchForBranchSpecificLabel reports whether v may stand for the given
// label: a version with no pre-release tag matches every label, otherwise
// the pre-release name must equal the label case-insensitively. A nil label
// and an empty one are equivalent.
func (v SemanticVersion) IsMatchForBranchSpecificLabel(label *string) bool {
	return !v.PreRelease.HasTag() || labelEquals(v.PreRelease.Name, label)
}

// String renders the canonical form: {major}.{minor}.{patch}[-{tag}].
func (v SemanticVersion) String() string {
	s := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.PreRelease.HasTag() {
		s += "-" + v.PreRelease.String()
	}
	return s
}

// MajorMinorPatch renders the bare triple.
func (v SemanticVersion) MajorMinorPatch() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// FullSemVer renders the canonical form plus "+{commits-since-source}" when
// the metadata records a non-zero distance.
func (v SemanticVersion) FullSemVer() string {
	s := v.String()
	if v.Build.CommitsSinceVersionSource > 0 {
		s += "+" + strconv.Itoa(v.Build.CommitsSinceVersionSource)
	}
	return s
}

// Increment returns a copy with field bumped, lower fields zeroed and the
// pre-release tag advanced for label. VersionFieldNone leaves the triple
// untouched and counts a numbered pre-release tag up by one. force advances
// the tag even when v already carries the target label unchanged.
func (v SemanticVersion) Increment(field VersionField, label *string, force bool) SemanticVersion {
	next := v
	switch field {
	case VersionFieldPatch:
		next.Patch++
	case VersionFieldMinor:
		next.Minor++
		next.Patch = 0
	case VersionFieldMajor:
		next.Major++
		next.Minor = 0
		next.Patch = 0
	}
	next.PreRelease = v.PreRelease.advance(field, label, force)
	return next
}

// advance computes the pre-release tag after an increment. A bump of any
// field resets the tag for the label; VersionFieldNone counts an existing
// tag up or, under force, starts one.
func (t PreReleaseTag) advance(field VersionField, label *string, force bool) PreReleaseTag {
	if field != VersionFieldNone {
		return newPreReleaseTag(label)
	}
	if t.HasTag() {
		if labelEquals(t.Name, label) {
			t.Number++
			t.HasNumber = true
			return t
		}
		return newPreReleaseTag(label)
	}
	if force {
		return newPreReleaseTag(label)
	}
	return t
}

// newPreReleaseTag builds the first tag for a label: nil yields a bare
// numbered tag, an explicitly empty label yields no tag (a stable version)
// and a literal label yields {label, 1}.
func newPreReleaseTag(label *string) PreReleaseTag {
	if label == nil {
		return PreReleaseTag{Number: 1, HasNumber: true}
	}
	if *label == "" {
		return PreReleaseTag{}
	}
	return PreReleaseTag{Name: *label, Number: 1, HasNumber: true}
}

// FloorTo lifts the major/minor/patch triple to at least alt's, ignoring
// pre-release tags in the comparison.
func (v SemanticVersion) FloorTo(alt SemanticVersion) SemanticVersion {
	if compareTriples(v, alt) < 0 {
		v.Major = alt.Major
		v.Minor = alt.Minor
		v.Patch = alt.Patch
	}
	return v
}

var looseVersionRe = regexp.MustCompile(`^[vV]?(\d+)(?:\.(\d+))?(?:\.(\d+))?(?:-([0-9A-Za-z][0-9A-Za-z.-]*))?(?:\+([0-9A-Za-z][0-9A-Za-z.-]*))?$`)

// ParseSemanticVersion parses s as a semantic version after stripping
// tagPrefix. The strict format delegates SemVer 2.0 validation to
// blang/semver; the loose format additionally tolerates a leading "v" and
// missing minor or patch components.
func ParseSemanticVersion(s, tagPrefix string, format SemanticVersionFormat) (SemanticVersion, error) {
	trimmed := s
	if tagPrefix != "" {
		trimmed = strings.TrimPrefix(trimmed, tagPrefix)
	}

	if format == FormatLoose {
		return parseLoose(trimmed)
	}

	parsed, err := semver.Parse(trimmed)
	if err != nil {
		return SemanticVersion{}, fmt.Errorf("parsing %q as a strict semantic version: %w", s, err)
	}

	out := SemanticVersion{
		Major:      int(parsed.Major),
		Minor:      int(parsed.Minor),
		Patch:      int(parsed.Patch),
		PreRelease: preReleaseFromIdentifiers(prVersionStrings(parsed.Pre)),
	}
	applyBuildIdentifiers(&out, parsed.Build)
	return out, nil
}

func prVersionStrings(pre []semver.PRVersion) []string {
	out := make([]string, 0, len(pre))
	for _, p := range pre {
		if p.IsNumeric() {
			out = append(out, strconv.FormatUint(p.VersionNum, 10))
		} else {
			out = append(out, p.VersionStr)
		}
	}
	return out
}

func parseLoose(s string) (SemanticVersion, error) {
	m := looseVersionRe.FindStringSubmatch(s)
	if m == nil {
		return SemanticVersion{}, fmt.Errorf("parsing %q as a loose semantic version", s)
	}

	out := SemanticVersion{}
	out.Major, _ = strconv.Atoi(m[1])
	if m[2] != "" {
		out.Minor, _ = strconv.Atoi(m[2])
	}
	if m[3] != "" {
		out.Patch, _ = strconv.Atoi(m[3])
	}
	if m[4] != "" {
		out.PreRelease = preReleaseFromIdentifiers(strings.Split(m[4], "."))
	}
	if m[5] != "" {
		applyBuildIdentifiers(&out, strings.Split(m[5], "."))
	}
	return out, nil
}

// preReleaseFromIdentifiers folds dot-separated pre-release identifiers into
// a tag: a trailing numeric identifier becomes the number, everything before
// it the name.
func preReleaseFromIdentifiers(parts []string) PreReleaseTag {
	if len(parts) == 0 {
		return PreReleaseTag{}
	}
	last := parts[len(parts)-1]
	if n, err := strconv.Atoi(last); err == nil {
		return PreReleaseTag{
			Name:      strings.Join(parts[:len(parts)-1], "."),
			Number:    n,
			HasNumber: true,
		}
	}
	return PreReleaseTag{Name: strings.Join(parts, ".")}
}

// applyBuildIdentifiers reads recognised build metadata back from its
// rendered form. A leading numeric identifier is the commits-since count.
func applyBuildIdentifiers(v *SemanticVersion, parts []string) {
	for i := 0; i < len(parts); i++ {
		switch {
		case i == 0 && isNumeric(parts[i]):
			v.Build.CommitsSinceVersionSource, _ = strconv.Atoi(parts[i])
		case parts[i] == "Branch" && i+1 < len(parts):
			i++
			v.Build.Branch = parts[i]
		case parts[i] == "Sha" && i+1 < len(parts):
			i++
			v.Build.Sha = parts[i]
		}
	}
}

func isNumeric(s string) bool {
	_, err := strconv.Atoi(s)
	return err == nil
}
