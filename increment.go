package nextver

import "regexp"

// bumpMessageMatcher holds the compiled bump directive patterns for one
// configuration.
type bumpMessageMatcher struct {
	major *regexp.Regexp
	minor *regexp.Regexp
	patch *regexp.Regexp
	none  *regexp.Regexp
}

func newBumpMessageMatcher(cfg *Config) *bumpMessageMatcher {
	compile := func(pattern, fallback string) *regexp.Regexp {
		if pattern == "" {
			pattern = fallback
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return regexp.MustCompile(fallback)
		}
		return re
	}
	return &bumpMessageMatcher{
		major: compile(cfg.MajorVersionBumpMessage, defaultMajorBumpMessage),
		minor: compile(cfg.MinorVersionBumpMessage, defaultMinorBumpMessage),
		patch: compile(cfg.PatchVersionBumpMessage, defaultPatchBumpMessage),
		none:  compile(cfg.NoBumpMessage, defaultNoBumpMessage),
	}
}

// find returns the strongest directive in the message. An explicit "none"
// directive returns (VersionFieldNone, true); an absent directive returns
// (VersionFieldNone, false).
func (m *bumpMessageMatcher) find(message string) (VersionField, bool) {
	switch {
	case m.major.MatchString(message):
		return VersionFieldMajor, true
	case m.minor.MatchString(message):
		return VersionFieldMinor, true
	case m.patch.MatchString(message):
		return VersionFieldPatch, true
	case m.none.MatchString(message):
		return VersionFieldNone, true
	}
	return VersionFieldNone, false
}

// bumpMessagesConsidered reports whether directives in the commit's message
// are honoured under the given mode. MergeMessageOnly and Disabled behave
// identically for non-merge commits.
func bumpMessagesConsidered(mode CommitMessageIncrementMode, c *Commit) bool {
	switch mode {
	case CommitMessageIncrementEnabled:
		return true
	case CommitMessageIncrementMergeMessageOnly:
		return c.IsMergeCommit()
	default:
		return false
	}
}

// findIncrement resolves the field to increment for one candidate. An
// explicit non-Inherit increment on the effective configuration wins;
// otherwise the strongest bump directive between the base version source
// (exclusive) and HEAD (inclusive) decides; otherwise a base that already
// matches the target label with no intervening commits is preserved; and
// failing all of that, the global increment applies.
func findIncrement(c *calcContext, ec EffectiveConfiguration, base BaseVersion, label *string) VersionField {
	if ec.Increment != IncrementInherit {
		return ec.Increment.Field()
	}

	commits := commitsAfter(c.branch, base.BaseVersionSource)
	matcher := newBumpMessageMatcher(c.cfg)
	best := VersionFieldNone
	found := false
	for _, commit := range commits {
		if !bumpMessagesConsidered(ec.CommitMessageIncrementing, commit) {
			continue
		}
		if field, ok := matcher.find(commit.Message); ok {
			found = true
			best = maxVersionField(best, field)
		}
	}
	if found {
		return best
	}
	if len(commits) == 0 && base.SemanticVersion.IsMatchForBranchSpecificLabel(label) && !base.ForceIncrement {
		return VersionFieldNone
	}
	return c.cfg.Increment.Field()
}

// commitsAfter returns the branch commits strictly after source up to and
// including the tip, oldest first. A nil source yields the whole walk.
func commitsAfter(branch *Branch, source *Commit) []*Commit {
	var newestFirst []*Commit
	for _, c := range branch.Commits {
		if source != nil && c.Sha == source.Sha {
			break
		}
		newestFirst = append(newestFirst, c)
	}
	out := make([]*Commit, 0, len(newestFirst))
	for i := len(newestFirst) - 1; i >= 0; i-- {
		out = append(out, newestFirst[i])
	}
	return out
}
