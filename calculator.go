package nextver

import (
	"log/slog"
)

// Calculator computes the next semantic version for the repository's
// current branch. It is a pure function of the configuration and the
// repository snapshot; running it twice yields the same result.
type Calculator struct {
	cfg    *Config
	repo   Repository
	tags   *TaggedVersionRepository
	logger *slog.Logger
}

// NewCalculator wires a calculator over a configuration and a repository
// snapshot. A nil logger discards diagnostics.
func NewCalculator(cfg *Config, repo Repository, logger *slog.Logger) *Calculator {
	logger = orDiscard(logger)
	return &Calculator{
		cfg:    cfg,
		repo:   repo,
		tags:   NewTaggedVersionRepository(repo, logger),
		logger: logger,
	}
}

// NextVersion runs the calculation for the current branch.
func (c *Calculator) NextVersion() (SemanticVersion, error) {
	if err := c.cfg.Validate(); err != nil {
		return SemanticVersion{}, err
	}

	branch := c.repo.CurrentBranch()
	if branch == nil || branch.Tip == nil {
		name := ""
		if branch != nil {
			name = branch.Name.Friendly
		}
		return SemanticVersion{}, &RepositoryError{Branch: name, Reason: "the current branch has no tip"}
	}
	head := branch.Tip

	ecs, err := c.cfg.EffectiveConfigurations(branch.Name.Friendly)
	if err != nil {
		return SemanticVersion{}, err
	}

	cc := &calcContext{cfg: c.cfg, repo: c.repo, tags: c.tags, branch: branch, head: head, logger: c.logger}

	// Tag-on-HEAD short-circuit, taken when the increment is known up
	// front. The Inherit case repeats the check after resolution.
	primary := ecs[0]
	if primary.PreventIncrementWhenCurrentCommitTagged && primary.Increment != IncrementInherit {
		if v, ok := c.taggedOnHead(cc, primary, primary.EffectiveLabel("")); ok {
			c.logger.Debug("current commit is tagged, skipping calculation", "version", v.String())
			return c.finishTagged(cc, primary, v), nil
		}
	}

	var candidates []NextVersion
	for _, ec := range ecs {
		for _, kind := range c.cfg.VersionStrategies {
			bases, strategyErr := baseVersionsForKind(cc, kind, ec)
			if strategyErr != nil {
				return SemanticVersion{}, strategyErr
			}
			for _, base := range bases {
				if reason, ignored := ec.Ignore.excluded(base.BaseVersionSource); ignored {
					c.logger.Info("ignoring base version", "source", base.Source, "reason", reason)
					continue
				}
				candidates = append(candidates, c.nextVersionFor(cc, ec, base))
			}
		}
	}
	if len(candidates) == 0 {
		return SemanticVersion{}, &RepositoryError{Branch: branch.Name.Friendly, Reason: "no base versions could be determined"}
	}

	winner := arbitrate(candidates)
	c.logger.Debug("base version arbitration",
		"source", winner.BaseVersion.Source,
		"version", winner.IncrementedVersion.String())

	if winner.Configuration.PreventIncrementWhenCurrentCommitTagged && winner.Configuration.Increment == IncrementInherit {
		label := winner.Configuration.EffectiveLabel(winner.BaseVersion.BranchNameOverride)
		if v, ok := c.taggedOnHead(cc, winner.Configuration, label); ok {
			c.logger.Debug("current commit is tagged, discarding calculated version", "version", v.String())
			return c.finishTagged(cc, winner.Configuration, v), nil
		}
	}

	winner.IncrementedVersion = c.applyTaggedFloor(cc, winner)
	return c.applyDeploymentMode(cc, winner), nil
}

// nextVersionFor increments one candidate into an arbitration unit.
// Explicit candidates resolved their increment during trunk iteration; the
// rest defer to the increment finder.
func (c *Calculator) nextVersionFor(cc *calcContext, ec EffectiveConfiguration, base BaseVersion) NextVersion {
	label := ec.EffectiveLabel(base.BranchNameOverride)
	var incremented SemanticVersion
	switch {
	case base.ExplicitIncrement:
		incremented = base.SemanticVersion
		if base.ShouldIncrement {
			incremented = incremented.Increment(base.Increment, base.Label, base.ForceIncrement)
		}
		if base.AlternativeSemanticVersion != nil {
			incremented = incremented.FloorTo(*base.AlternativeSemanticVersion)
		}
	case base.ShouldIncrement:
		field := findIncrement(cc, ec, base, label)
		incremented = base.SemanticVersion.Increment(field, label, false)
	default:
		incremented = base.SemanticVersion
	}
	return NextVersion{IncrementedVersion: incremented, BaseVersion: base, Configuration: ec}
}

// arbitrate picks the winner: the highest incremented version; among equals,
// the one whose source commit is oldest. When nothing at the maximum has a
// source and the winner is stable, candidates with stable bases are
// preferred, by highest incremented version then newest source.
func arbitrate(candidates []NextVersion) NextVersion {
	max := candidates[0]
	for _, cand := range candidates[1:] {
		if max.IncrementedVersion.LessThan(cand.IncrementedVersion) {
			max = cand
		}
	}

	var atMaxWithSource []NextVersion
	for _, cand := range candidates {
		if cand.IncrementedVersion.Equal(max.IncrementedVersion) && cand.BaseVersion.BaseVersionSource != nil {
			atMaxWithSource = append(atMaxWithSource, cand)
		}
	}
	if len(atMaxWithSource) > 0 {
		// Oldest source wins: it maximises the commits-since count.
		best := atMaxWithSource[0]
		for _, cand := range atMaxWithSource[1:] {
			if cand.BaseVersion.BaseVersionSource.When.Before(best.BaseVersion.BaseVersionSource.When) {
				best = cand
			}
		}
		return best
	}

	if !max.IncrementedVersion.IsPreRelease() {
		var stable []NextVersion
		for _, cand := range candidates {
			if cand.BaseVersion.BaseVersionSource != nil && !cand.BaseVersion.SemanticVersion.IsPreRelease() {
				stable = append(stable, cand)
			}
		}
		if len(stable) > 0 {
			best := stable[0]
			for _, cand := range stable[1:] {
				switch cmp := best.IncrementedVersion.Compare(cand.IncrementedVersion); {
				case cmp < 0:
					best = cand
				case cmp == 0:
					if best.BaseVersion.BaseVersionSource.When.Before(cand.BaseVersion.BaseVersionSource.When) {
						best = cand
					}
				}
			}
			return best
		}
	}

	return max
}

// taggedOnHead returns the highest version tagged on HEAD matching label.
func (c *Calculator) taggedOnHead(cc *calcContext, ec EffectiveConfiguration, label *string) (SemanticVersion, bool) {
	var best *SemanticVersion
	for _, v := range c.tags.TaggedVersions(ec.TagPrefix, ec.SemanticVersionFormat, ec.Ignore)[cc.head.Sha] {
		if !v.Version.IsMatchForBranchSpecificLabel(label) {
			continue
		}
		v := v
		if best == nil || best.LessThan(v.Version) {
			best = &v.Version
		}
	}
	if best == nil {
		return SemanticVersion{}, false
	}
	return *best, true
}

// finishTagged wraps a preserved HEAD tag with fresh build metadata.
func (c *Calculator) finishTagged(cc *calcContext, ec EffectiveConfiguration, v SemanticVersion) SemanticVersion {
	if ec.DeploymentMode == ContinuousDeployment {
		v.PreRelease = PreReleaseTag{}
	}
	v.Build = c.buildMetadata(cc, cc.head, 0)
	return v
}

// applyTaggedFloor lifts the winner's triple to the highest version tagged
// on the branch that is not ignored and not newer than HEAD.
func (c *Calculator) applyTaggedFloor(cc *calcContext, winner NextVersion) SemanticVersion {
	ec := winner.Configuration
	v := winner.IncrementedVersion
	for _, vs := range c.tags.TaggedVersionsOfBranch(cc.branch, ec.TagPrefix, ec.SemanticVersionFormat, ec.Ignore) {
		for _, tagged := range vs {
			if tagged.Commit.When.After(cc.head.When) {
				continue
			}
			v = v.FloorTo(tagged.Version)
		}
	}
	return v
}

// applyDeploymentMode produces the final version from the winner.
func (c *Calculator) applyDeploymentMode(cc *calcContext, winner NextVersion) SemanticVersion {
	ec := winner.Configuration
	v := winner.IncrementedVersion
	source := winner.BaseVersion.BaseVersionSource
	distance := commitsSince(cc.branch, source)

	switch ec.DeploymentMode {
	case ContinuousDelivery:
		if v.PreRelease.HasTag() {
			label := ec.EffectiveLabel(winner.BaseVersion.BranchNameOverride)
			v.PreRelease.Number = c.distanceSinceLastMatchingTag(cc, ec, label, distance)
			v.PreRelease.HasNumber = true
		}
		v.Build = c.buildMetadata(cc, source, 0)
	case ContinuousDeployment:
		v.PreRelease = PreReleaseTag{}
		v.Build = c.buildMetadata(cc, source, distance)
	default: // ManualDeployment
		if distance == 0 && source != nil && source.Sha == cc.head.Sha && wasIncremented(winner.BaseVersion) {
			// A tag on HEAD whose label did not match still anchors the
			// version; the label switch itself counts as one commit.
			distance = 1
		}
		v.Build = c.buildMetadata(cc, source, distance)
	}
	return v
}

// wasIncremented reports whether arbitration's winner actually moved past
// its base.
func wasIncremented(base BaseVersion) bool {
	if base.ExplicitIncrement {
		return base.Increment != VersionFieldNone
	}
	return base.ShouldIncrement
}

// commitsSince counts the commits strictly after source up to and including
// the branch tip. A nil source counts the whole branch.
func commitsSince(branch *Branch, source *Commit) int {
	if source == nil {
		return len(branch.Commits)
	}
	count := 0
	for _, c := range branch.Commits {
		if c.Sha == source.Sha {
			return count
		}
		count++
	}
	return count
}

// distanceSinceLastMatchingTag counts commits from the tip back to the most
// recent commit carrying a tag that matches label.
func (c *Calculator) distanceSinceLastMatchingTag(cc *calcContext, ec EffectiveConfiguration, label *string, fallback int) int {
	tagged := c.tags.TaggedVersionsOfBranch(cc.branch, ec.TagPrefix, ec.SemanticVersionFormat, ec.Ignore)
	count := 0
	for _, commit := range cc.branch.Commits {
		for _, v := range tagged[commit.Sha] {
			if v.Version.IsMatchForBranchSpecificLabel(label) {
				return count
			}
		}
		count++
	}
	return fallback
}

func (c *Calculator) buildMetadata(cc *calcContext, source *Commit, commitsSinceSource int) BuildMetadata {
	meta := BuildMetadata{
		CommitsSinceVersionSource: commitsSinceSource,
		Branch:                    cc.branch.Name.Friendly,
		Sha:                       cc.head.Sha,
		ShortSha:                  cc.head.ShortSha,
		CommitDate:                cc.head.When,
		UncommittedChanges:        cc.repo.UncommittedCount(),
	}
	if source != nil {
		meta.VersionSourceSha = source.Sha
	}
	return meta
}
