package nextver

import "fmt"

// TrunkBasedCommit is one step of a trunk-based iteration: a commit, the
// configuration in effect for it and, for merge commits, the iteration over
// the branch that was merged in.
type TrunkBasedCommit struct {
	Commit         *Commit
	Config         EffectiveConfiguration
	ChildIteration *TrunkBasedIteration
	OnMainBranch   bool
}

// TrunkBasedIteration is the linearised first-parent walk of a branch from
// the oldest relevant ancestor to its tip, oldest first.
type TrunkBasedIteration struct {
	Commits []*TrunkBasedCommit

	ec        EffectiveConfiguration
	label     *string
	increment VersionField
	tagged    map[string][]SemanticVersionWithTag
	bumps     *bumpMessageMatcher
	isChild   bool
}

// newTrunkBasedIteration builds the iteration for the calculation's current
// branch. Ignored commits are dropped from the walk; merge commits get a
// child iteration over the commits they brought in.
func newTrunkBasedIteration(c *calcContext, ec EffectiveConfiguration) (*TrunkBasedIteration, error) {
	increment := ec.Increment
	if increment == IncrementInherit {
		increment = c.cfg.Increment
	}
	it := &TrunkBasedIteration{
		ec:        ec,
		label:     ec.EffectiveLabel(""),
		increment: increment.Field(),
		tagged:    c.tags.TaggedVersionsOfBranch(c.branch, ec.TagPrefix, ec.SemanticVersionFormat, ec.Ignore),
		bumps:     newBumpMessageMatcher(c.cfg),
	}
	for _, commit := range firstParentChain(c.repo, c.branch) {
		if reason, ignored := ec.Ignore.excluded(commit); ignored {
			c.logger.Info("skipping commit", "reason", reason)
			continue
		}
		tc := &TrunkBasedCommit{
			Commit:       commit,
			Config:       ec,
			OnMainBranch: ec.IsMainBranch,
		}
		if merged := mergedCommits(c.repo, commit); len(merged) > 0 {
			tc.ChildIteration = it.childIteration(merged, ec)
		}
		it.Commits = append(it.Commits, tc)
	}
	return it, nil
}

func (it *TrunkBasedIteration) childIteration(commits []*Commit, ec EffectiveConfiguration) *TrunkBasedIteration {
	child := &TrunkBasedIteration{
		ec:        ec,
		label:     it.label,
		increment: it.increment,
		tagged:    it.tagged,
		bumps:     it.bumps,
		isChild:   true,
	}
	for _, commit := range commits {
		child.Commits = append(child.Commits, &TrunkBasedCommit{Commit: commit, Config: ec})
	}
	return child
}

// trunkContext is the mutable state threaded through the incrementers.
type trunkContext struct {
	baseVersionSource *Commit
	semanticVersion   SemanticVersion
	label             *string
	increment         VersionField
	forceIncrement    bool
	hasIncrement      bool

	// taggedVersion is the matching version tagged on the commit under
	// inspection, nil when the commit carries none.
	taggedVersion *SemanticVersionWithTag
}

// trunkIncrement is one recorded increment decision.
type trunkIncrement struct {
	shouldIncrement bool
	increment       VersionField
	force           bool
	setLabel        bool
	label           *string
	// anchor re-bases the rolling version on a tagged value.
	anchor *SemanticVersion
	source *Commit
}

func (ctx *trunkContext) apply(rec trunkIncrement) {
	if rec.anchor != nil {
		ctx.semanticVersion = *rec.anchor
		ctx.baseVersionSource = rec.source
		ctx.increment = VersionFieldNone
		ctx.forceIncrement = false
		ctx.hasIncrement = false
	}
	if rec.setLabel {
		ctx.label = rec.label
	}
	if rec.shouldIncrement {
		ctx.increment = maxVersionField(ctx.increment, rec.increment)
		ctx.forceIncrement = ctx.forceIncrement || rec.force
		ctx.hasIncrement = true
		ctx.semanticVersion = ctx.semanticVersion.Increment(rec.increment, ctx.label, rec.force)
	}
}

// trunkIncrementer pairs a precondition with the increments it records. The
// list is ordered and the last entry always matches: the first match wins,
// so exactly one fires per commit.
type trunkIncrementer struct {
	name    string
	match   func(it *TrunkBasedIteration, c *TrunkBasedCommit, ctx *trunkContext) bool
	produce func(it *TrunkBasedIteration, c *TrunkBasedCommit, ctx *trunkContext) ([]trunkIncrement, error)
}

func trunkIncrementersList() []trunkIncrementer {
	return []trunkIncrementer{
		{
			name: "commit-on-trunk-with-stable-tag",
			match: func(it *TrunkBasedIteration, c *TrunkBasedCommit, ctx *trunkContext) bool {
				return c.OnMainBranch && c.ChildIteration == nil && ctx.taggedVersion != nil && !ctx.taggedVersion.Version.IsPreRelease()
			},
			produce: func(it *TrunkBasedIteration, c *TrunkBasedCommit, ctx *trunkContext) ([]trunkIncrement, error) {
				v := ctx.taggedVersion.Version
				return []trunkIncrement{{anchor: &v, source: c.Commit, setLabel: true, label: it.label}}, nil
			},
		},
		{
			name: "commit-on-trunk-with-pre-release-tag",
			match: func(it *TrunkBasedIteration, c *TrunkBasedCommit, ctx *trunkContext) bool {
				return c.OnMainBranch && c.ChildIteration == nil && ctx.taggedVersion != nil && ctx.taggedVersion.Version.IsPreRelease()
			},
			produce: func(it *TrunkBasedIteration, c *TrunkBasedCommit, ctx *trunkContext) ([]trunkIncrement, error) {
				v := ctx.taggedVersion.Version
				return []trunkIncrement{{anchor: &v, source: c.Commit}}, nil
			},
		},
		{
			name: "commit-on-trunk-with-bump-message",
			match: func(it *TrunkBasedIteration, c *TrunkBasedCommit, ctx *trunkContext) bool {
				if c.ChildIteration != nil {
					return false
				}
				if !bumpMessagesConsidered(c.Config.CommitMessageIncrementing, c.Commit) {
					return false
				}
				_, found := it.bumps.find(c.Commit.Message)
				return found
			},
			produce: func(it *TrunkBasedIteration, c *TrunkBasedCommit, ctx *trunkContext) ([]trunkIncrement, error) {
				field, _ := it.bumps.find(c.Commit.Message)
				if field == VersionFieldNone {
					// +semver: none; the commit explicitly contributes nothing.
					return []trunkIncrement{{}}, nil
				}
				return []trunkIncrement{{shouldIncrement: true, increment: field, force: true, setLabel: true, label: it.label}}, nil
			},
		},
		{
			name: "merge-commit-on-trunk",
			match: func(it *TrunkBasedIteration, c *TrunkBasedCommit, ctx *trunkContext) bool {
				return c.ChildIteration != nil
			},
			produce: func(it *TrunkBasedIteration, c *TrunkBasedCommit, ctx *trunkContext) ([]trunkIncrement, error) {
				childCtx := &trunkContext{label: it.label}
				if err := c.ChildIteration.walk(childCtx); err != nil {
					return nil, err
				}
				var recs []trunkIncrement
				if childCtx.baseVersionSource != nil {
					v := childCtx.semanticVersion
					recs = append(recs, trunkIncrement{anchor: &v, source: childCtx.baseVersionSource})
				}
				// The merge applies the child's aggregated increment once.
				increment := childCtx.increment
				if !childCtx.hasIncrement {
					increment = it.increment
				}
				recs = append(recs, trunkIncrement{shouldIncrement: true, increment: increment, force: childCtx.forceIncrement})
				return recs, nil
			},
		},
		{
			name: "commit-on-trunk",
			match: func(it *TrunkBasedIteration, c *TrunkBasedCommit, ctx *trunkContext) bool {
				return true
			},
			produce: func(it *TrunkBasedIteration, c *TrunkBasedCommit, ctx *trunkContext) ([]trunkIncrement, error) {
				return []trunkIncrement{{shouldIncrement: true, increment: it.increment, setLabel: true, label: it.label}}, nil
			},
		},
	}
}

// walk advances the context over every commit of the iteration.
func (it *TrunkBasedIteration) walk(ctx *trunkContext) error {
	for i, tc := range it.Commits {
		if !it.isChild && i == 0 && ctx.baseVersionSource == nil {
			// From-nothing versions anchor at the oldest commit walked.
			ctx.baseVersionSource = tc.Commit
		}
		ctx.taggedVersion = it.bestTagAt(tc.Commit)

		matched := false
		for _, incrementer := range trunkIncrementersList() {
			if !incrementer.match(it, tc, ctx) {
				continue
			}
			recs, err := incrementer.produce(it, tc, ctx)
			if err != nil {
				return fmt.Errorf("%s at %s: %w", incrementer.name, tc.Commit.ShortSha, err)
			}
			for _, rec := range recs {
				ctx.apply(rec)
			}
			matched = true
			break
		}
		if !matched {
			return fmt.Errorf("no incrementer matched commit %s", tc.Commit.ShortSha)
		}
	}
	return nil
}

// bestTagAt returns the highest version tagged on the commit whose label
// matches the iteration's.
func (it *TrunkBasedIteration) bestTagAt(c *Commit) *SemanticVersionWithTag {
	var best *SemanticVersionWithTag
	for _, v := range it.tagged[c.Sha] {
		if !v.Version.IsMatchForBranchSpecificLabel(it.label) {
			continue
		}
		v := v
		if best == nil || best.Version.LessThan(v.Version) {
			best = &v
		}
	}
	return best
}

// highestSkippedTag returns the highest version tagged on the walked branch
// whose label did not match; its triple still floors the result.
func (it *TrunkBasedIteration) highestSkippedTag() *SemanticVersion {
	var best *SemanticVersion
	for _, vs := range it.tagged {
		for _, v := range vs {
			if v.Version.IsMatchForBranchSpecificLabel(it.label) {
				continue
			}
			v := v
			if best == nil || best.LessThan(v.Version) {
				best = &v.Version
			}
		}
	}
	return best
}

// Run walks the iteration and summarises it as a single explicit candidate:
// the rolled-forward version, the aggregated increment, the label in effect
// and the commit that last anchored the version.
func (it *TrunkBasedIteration) Run() (BaseVersion, error) {
	ctx := &trunkContext{label: it.label}
	if err := it.walk(ctx); err != nil {
		return BaseVersion{}, err
	}
	base := BaseVersion{
		Source:            "TrunkBased",
		ShouldIncrement:   false,
		SemanticVersion:   ctx.semanticVersion,
		BaseVersionSource: ctx.baseVersionSource,
		ExplicitIncrement: true,
		Increment:         ctx.increment,
		Label:             ctx.label,
		ForceIncrement:    ctx.forceIncrement,
	}
	if alt := it.highestSkippedTag(); alt != nil {
		base.AlternativeSemanticVersion = alt
	}
	return base, nil
}
