package nextver

import (
	"fmt"
	"log/slog"
	"regexp"
)

// BaseVersion is one strategy's candidate: the version to count forward
// from, with the rationale arbitration needs.
type BaseVersion struct {
	Source             string
	ShouldIncrement    bool
	SemanticVersion    SemanticVersion
	BaseVersionSource  *Commit
	BranchNameOverride string

	// Trunk-based candidates resolve their increment during iteration and
	// carry it explicitly instead of deferring to the increment finder.
	ExplicitIncrement          bool
	Increment                  VersionField
	Label                      *string
	ForceIncrement             bool
	AlternativeSemanticVersion *SemanticVersion
}

// NextVersion pairs an incremented candidate with the base it came from and
// the configuration that produced it; it is the unit of arbitration.
type NextVersion struct {
	IncrementedVersion SemanticVersion
	BaseVersion        BaseVersion
	Configuration      EffectiveConfiguration
}

// calcContext bundles the read-only inputs every strategy consumes.
type calcContext struct {
	cfg    *Config
	repo   Repository
	tags   *TaggedVersionRepository
	branch *Branch
	head   *Commit
	logger *slog.Logger
}

// baseVersionsForKind runs one configured strategy. Strategies form a
// closed set; dispatch is by kind.
func baseVersionsForKind(c *calcContext, kind VersionStrategyKind, ec EffectiveConfiguration) ([]BaseVersion, error) {
	switch kind {
	case StrategyFallback:
		return fallbackVersions(), nil
	case StrategyConfiguredNextVersion:
		return configuredNextVersions(c, ec)
	case StrategyMergeMessage:
		return mergeMessageVersions(c, ec), nil
	case StrategyTaggedVersion:
		return taggedVersions(c, ec), nil
	case StrategyTrackReleaseBranches:
		return trackReleaseBranchesVersions(c, ec), nil
	case StrategyVersionInBranchName:
		return versionInBranchNameVersions(c, ec), nil
	case StrategyTrunkBased:
		return trunkBasedVersions(c, ec)
	default:
		return nil, &ConfigurationError{Reason: fmt.Sprintf("unknown version strategy %d", kind)}
	}
}

// fallbackVersions guarantees every branch at least one candidate.
func fallbackVersions() []BaseVersion {
	return []BaseVersion{{
		Source:          "Fallback, 0.0.0",
		ShouldIncrement: true,
	}}
}

// configuredNextVersions surfaces the next-version configuration field. The
// field is a bare version string and is skipped when the current commit is
// tagged, so a release tag always wins over stale configuration.
func configuredNextVersions(c *calcContext, ec EffectiveConfiguration) ([]BaseVersion, error) {
	if ec.NextVersion == "" {
		return nil, nil
	}
	if len(c.tags.TaggedVersions(ec.TagPrefix, ec.SemanticVersionFormat, ec.Ignore)[c.head.Sha]) > 0 {
		c.logger.Debug("next-version configured but the current commit is tagged, skipping")
		return nil, nil
	}
	version, err := ParseSemanticVersion(ec.NextVersion, "", ec.SemanticVersionFormat)
	if err != nil {
		return nil, fmt.Errorf("parsing next-version %q: %w", ec.NextVersion, err)
	}
	return []BaseVersion{{
		Source:          "NextVersion in configuration",
		ShouldIncrement: false,
		SemanticVersion: version,
	}}, nil
}

// currentCommitTagVersions yields the highest tag on HEAD whose label
// matches the branch's.
func currentCommitTagVersions(c *calcContext, ec EffectiveConfiguration, label *string) []BaseVersion {
	var best *SemanticVersionWithTag
	for _, v := range c.tags.TaggedVersions(ec.TagPrefix, ec.SemanticVersionFormat, ec.Ignore)[c.head.Sha] {
		if !v.Version.IsMatchForBranchSpecificLabel(label) {
			continue
		}
		v := v
		if best == nil || best.Version.LessThan(v.Version) {
			best = &v
		}
	}
	if best == nil {
		return nil
	}
	return []BaseVersion{{
		Source:            fmt.Sprintf("Git tag %q on current commit", best.Tag),
		ShouldIncrement:   false,
		SemanticVersion:   best.Version,
		BaseVersionSource: best.Commit,
	}}
}

// taggedVersions yields the current commit's own tag plus the highest prior
// tag among AllTaggedVersions' sources (the branch and, as configured, merge
// targets, release branches and main branches).
func taggedVersions(c *calcContext, ec EffectiveConfiguration) []BaseVersion {
	label := ec.EffectiveLabel("")
	out := currentCommitTagVersions(c, ec, label)

	all := c.tags.AllTaggedVersions(c.cfg, ec, c.branch, label, c.head.When)
	if len(all) > 0 {
		best := all[len(all)-1]
		out = append(out, BaseVersion{
			Source:            fmt.Sprintf("Git tag %q", best.Tag),
			ShouldIncrement:   true,
			SemanticVersion:   best.Version,
			BaseVersionSource: best.Commit,
		})
	}
	return out
}

var mergeMessageRes = []*regexp.Regexp{
	regexp.MustCompile(`^Merge (?:branch|tag) '([^']+)'`),
	regexp.MustCompile(`^Merge remote-tracking branch '([^']+)'`),
	regexp.MustCompile(`^Merge pull request #\d+ (?:in \S+ )?from (\S+)`),
	regexp.MustCompile(`^Merged (?:in|PR \d+:) (\S+)`),
}

// mergeMessageVersions parses versions embedded in merge commit messages,
// e.g. "Merge branch 'release/1.2.0'".
func mergeMessageVersions(c *calcContext, ec EffectiveConfiguration) []BaseVersion {
	var out []BaseVersion
	for _, commit := range c.branch.Commits {
		if !commit.IsMergeCommit() {
			continue
		}
		ref, ok := mergedRefFromMessage(commit.Message)
		if !ok {
			continue
		}
		version, _, ok := extractVersionFromBranchName(ref, ec.TagPrefix)
		if !ok {
			c.logger.Debug("merge message carries no version", "ref", ref)
			continue
		}
		out = append(out, BaseVersion{
			Source:            fmt.Sprintf("Merge message %q", ref),
			ShouldIncrement:   true,
			SemanticVersion:   version,
			BaseVersionSource: commit,
		})
	}
	return out
}

func mergedRefFromMessage(message string) (string, bool) {
	for _, re := range mergeMessageRes {
		if m := re.FindStringSubmatch(message); m != nil {
			return m[1], true
		}
	}
	return "", false
}

// versionInBranchNameVersions extracts a version embedded in the branch
// name, e.g. "release/1.2.3" or "support/2.x". The remainder of the name
// becomes a branch name override so labels derive from it rather than the
// literal branch.
func versionInBranchNameVersions(c *calcContext, ec EffectiveConfiguration) []BaseVersion {
	name := c.branch.Name.Friendly
	if ec.BranchNameOverride != "" {
		name = ec.BranchNameOverride
	}
	version, remainder, ok := extractVersionFromBranchName(name, ec.TagPrefix)
	if !ok {
		return nil
	}
	return []BaseVersion{{
		Source:             fmt.Sprintf("Version in branch name %q", name),
		ShouldIncrement:    false,
		SemanticVersion:    version,
		BranchNameOverride: remainder,
	}}
}

// trackReleaseBranchesVersions surfaces candidates from release branches
// when the branch configuration tracks them: versions embedded in release
// branch names plus versions tagged on the release branches.
func trackReleaseBranchesVersions(c *calcContext, ec EffectiveConfiguration) []BaseVersion {
	if !ec.TracksReleaseBranches {
		return nil
	}
	var out []BaseVersion
	for _, rb := range ReleaseBranches(c.repo, c.cfg, c.branch) {
		version, remainder, ok := extractVersionFromBranchName(rb.Name.Friendly, ec.TagPrefix)
		if !ok {
			continue
		}
		out = append(out, BaseVersion{
			Source:             fmt.Sprintf("Release branch %q", rb.Name.Friendly),
			ShouldIncrement:    true,
			SemanticVersion:    version,
			BaseVersionSource:  rb.Tip,
			BranchNameOverride: remainder,
		})
	}
	for _, v := range c.tags.TaggedVersionsOfReleaseBranches(c.cfg, ec, c.branch) {
		out = append(out, BaseVersion{
			Source:            fmt.Sprintf("Git tag %q on release branch", v.Tag),
			ShouldIncrement:   true,
			SemanticVersion:   v.Version,
			BaseVersionSource: v.Commit,
		})
	}
	return out
}

// trunkBasedVersions runs a trunk-based iteration over the branch and emits
// its summary as a single explicit candidate.
func trunkBasedVersions(c *calcContext, ec EffectiveConfiguration) ([]BaseVersion, error) {
	iteration, err := newTrunkBasedIteration(c, ec)
	if err != nil {
		return nil, err
	}
	base, err := iteration.Run()
	if err != nil {
		return nil, err
	}
	return []BaseVersion{base}, nil
}
