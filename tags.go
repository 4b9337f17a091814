package nextver

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// SemanticVersionWithTag binds a parsed version to the commit and tag it was
// read from.
type SemanticVersionWithTag struct {
	Version SemanticVersion
	Tag     string
	Commit  *Commit
}

type taggedVersionsKey struct {
	branch string
	prefix string
	format SemanticVersionFormat
}

type globalTagsKey struct {
	prefix string
	format SemanticVersionFormat
}

// TaggedVersionRepository extracts release tags from the repository view,
// parses them as versions and offers cached, filtered lookups scoped by
// branch, merge target or branch class. Lookups are safe for concurrent use;
// racing producers may compute a value twice but only the first insert
// survives, and values are immutable once inserted.
type TaggedVersionRepository struct {
	repo   Repository
	logger *slog.Logger

	branchCache      sync.Map // taggedVersionsKey -> map[string][]SemanticVersionWithTag
	mergeTargetCache sync.Map // taggedVersionsKey -> map[string][]SemanticVersionWithTag
	globalCache      sync.Map // globalTagsKey -> map[string][]SemanticVersionWithTag
}

// NewTaggedVersionRepository builds a repository over the given view. A nil
// logger discards diagnostics.
func NewTaggedVersionRepository(repo Repository, logger *slog.Logger) *TaggedVersionRepository {
	return &TaggedVersionRepository{repo: repo, logger: orDiscard(logger)}
}

// AllTaggedVersions composes, in order: versions tagged on the branch;
// versions on merge targets when the configuration tracks them; versions on
// all release branches when the configuration tracks release branches; and,
// for branches that are neither main nor release, versions on all main
// branches. The result is de-duplicated, restricted to versions matching
// label whose commits are not newer than notOlderThan, and sorted ascending.
func (r *TaggedVersionRepository) AllTaggedVersions(cfg *Config, ec EffectiveConfiguration, branch *Branch, label *string, notOlderThan time.Time) []SemanticVersionWithTag {
	var combined []SemanticVersionWithTag
	for _, vs := range r.TaggedVersionsOfBranch(branch, ec.TagPrefix, ec.SemanticVersionFormat, ec.Ignore) {
		combined = append(combined, vs...)
	}
	if ec.TrackMergeTarget {
		for _, vs := range r.TaggedVersionsOfMergeTarget(branch, ec.TagPrefix, ec.SemanticVersionFormat, ec.Ignore) {
			combined = append(combined, vs...)
		}
	}
	if ec.TracksReleaseBranches {
		combined = append(combined, r.TaggedVersionsOfReleaseBranches(cfg, ec, branch)...)
	}
	if !ec.IsMainBranch && !ec.IsReleaseBranch {
		combined = append(combined, r.TaggedVersionsOfMainBranches(cfg, ec, branch)...)
	}

	seen := make(map[string]struct{}, len(combined))
	out := make([]SemanticVersionWithTag, 0, len(combined))
	for _, v := range combined {
		if !v.Version.IsMatchForBranchSpecificLabel(label) {
			continue
		}
		if v.Commit != nil && v.Commit.When.After(notOlderThan) {
			continue
		}
		key := v.Commit.Sha + "\x00" + v.Tag
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if c := out[i].Version.Compare(out[j].Version); c != 0 {
			return c < 0
		}
		return out[i].Commit.When.Before(out[j].Commit.When)
	})
	return out
}

// TaggedVersionsOfBranch returns the versions tagged on commits reachable
// from the branch, keyed by commit sha. Cached per (branch, prefix, format).
func (r *TaggedVersionRepository) TaggedVersionsOfBranch(branch *Branch, prefix string, format SemanticVersionFormat, ignore IgnoreConfig) map[string][]SemanticVersionWithTag {
	key := taggedVersionsKey{branch: branch.Name.Canonical, prefix: prefix, format: format}
	if cached, ok := r.branchCache.Load(key); ok {
		r.logger.Debug("tagged versions cache hit", "branch", branch.Name.Friendly, "prefix", prefix, "format", format.String())
		return cached.(map[string][]SemanticVersionWithTag)
	}

	global := r.TaggedVersions(prefix, format, ignore)
	byCommit := map[string][]SemanticVersionWithTag{}
	for _, c := range branch.Commits {
		if reason, ignored := ignore.excluded(c); ignored {
			r.logger.Info("skipping commit", "reason", reason)
			continue
		}
		if vs, ok := global[c.Sha]; ok {
			byCommit[c.Sha] = vs
		}
	}

	actual, _ := r.branchCache.LoadOrStore(key, byCommit)
	return actual.(map[string][]SemanticVersionWithTag)
}

// TaggedVersionsOfMergeTarget returns versions whose tagged commit is a
// parent of a commit on the branch, keyed by the child commit's sha. Cached
// per (branch, prefix, format).
func (r *TaggedVersionRepository) TaggedVersionsOfMergeTarget(branch *Branch, prefix string, format SemanticVersionFormat, ignore IgnoreConfig) map[string][]SemanticVersionWithTag {
	key := taggedVersionsKey{branch: branch.Name.Canonical, prefix: prefix, format: format}
	if cached, ok := r.mergeTargetCache.Load(key); ok {
		r.logger.Debug("merge target tagged versions cache hit", "branch", branch.Name.Friendly, "prefix", prefix, "format", format.String())
		return cached.(map[string][]SemanticVersionWithTag)
	}

	global := r.TaggedVersions(prefix, format, ignore)
	byCommit := map[string][]SemanticVersionWithTag{}
	for _, c := range branch.Commits {
		if reason, ignored := ignore.excluded(c); ignored {
			r.logger.Info("skipping commit", "reason", reason)
			continue
		}
		for _, parent := range c.Parents {
			for _, v := range global[parent] {
				// Record against the child so distances count from the
				// merge, not the tagged commit itself.
				byCommit[c.Sha] = append(byCommit[c.Sha], SemanticVersionWithTag{Version: v.Version, Tag: v.Tag, Commit: c})
			}
		}
	}

	actual, _ := r.mergeTargetCache.LoadOrStore(key, byCommit)
	return actual.(map[string][]SemanticVersionWithTag)
}

// TaggedVersionsOfMainBranches unions the tagged versions of every main
// branch other than the one queried.
func (r *TaggedVersionRepository) TaggedVersionsOfMainBranches(cfg *Config, ec EffectiveConfiguration, exclude *Branch) []SemanticVersionWithTag {
	return r.taggedVersionsOfBranchClass(MainBranches(r.repo, cfg, exclude), ec)
}

// TaggedVersionsOfReleaseBranches unions the tagged versions of every
// release branch other than the one queried.
func (r *TaggedVersionRepository) TaggedVersionsOfReleaseBranches(cfg *Config, ec EffectiveConfiguration, exclude *Branch) []SemanticVersionWithTag {
	return r.taggedVersionsOfBranchClass(ReleaseBranches(r.repo, cfg, exclude), ec)
}

func (r *TaggedVersionRepository) taggedVersionsOfBranchClass(branches []*Branch, ec EffectiveConfiguration) []SemanticVersionWithTag {
	var out []SemanticVersionWithTag
	for _, b := range branches {
		for _, vs := range r.TaggedVersionsOfBranch(b, ec.TagPrefix, ec.SemanticVersionFormat, ec.Ignore) {
			out = append(out, vs...)
		}
	}
	return out
}

// TaggedVersions parses every tag in the repository, keyed by the commit it
// points at. Unparseable tags are dropped; ignored commits are filtered.
// Cached per (prefix, format).
func (r *TaggedVersionRepository) TaggedVersions(prefix string, format SemanticVersionFormat, ignore IgnoreConfig) map[string][]SemanticVersionWithTag {
	key := globalTagsKey{prefix: prefix, format: format}
	if cached, ok := r.globalCache.Load(key); ok {
		r.logger.Debug("global tagged versions cache hit", "prefix", prefix, "format", format.String())
		return cached.(map[string][]SemanticVersionWithTag)
	}

	byCommit := map[string][]SemanticVersionWithTag{}
	for _, tag := range r.repo.Tags() {
		commit, ok := r.repo.Commit(tag.Sha)
		if !ok {
			continue
		}
		if reason, ignored := ignore.excluded(commit); ignored {
			r.logger.Info("skipping tag", "tag", tag.Name, "reason", reason)
			continue
		}
		version, err := ParseSemanticVersion(tag.Name, prefix, format)
		if err != nil {
			r.logger.Debug("tag is not a version", "tag", tag.Name, "error", err)
			continue
		}
		byCommit[commit.Sha] = append(byCommit[commit.Sha], SemanticVersionWithTag{
			Version: version,
			Tag:     tag.Name,
			Commit:  commit,
		})
	}

	actual, _ := r.globalCache.LoadOrStore(key, byCommit)
	return actual.(map[string][]SemanticVersionWithTag)
}
