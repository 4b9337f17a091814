package nextver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// scenarioConfig builds a trunk-based manual-deployment configuration with
// the given increment and label on the main branch.
func scenarioConfig(increment IncrementStrategy, label *string, mode CommitMessageIncrementMode) *Config {
	cfg := DefaultConfig()
	cfg.VersionStrategies = []VersionStrategyKind{StrategyFallback, StrategyTrunkBased}
	cfg.CommitMessageIncrementing = mode
	main := cfg.Branches["main"]
	main.Increment = increment
	main.Label = label
	cfg.Branches["main"] = main
	return cfg
}

func TestNextVersionTrunkScenarios(t *testing.T) {
	type scenario struct {
		name      string
		setup     func(t *testing.T, r *testRepo)
		increment IncrementStrategy
		label     *string
		mode      CommitMessageIncrementMode
		want      string
	}

	tagOnHead := func(t *testing.T, r *testRepo) {
		hash, err := r.MakeCommit("A")
		require.NoError(t, err)
		require.NoError(t, r.Tag("0.0.0-4", hash))
	}
	stableTagOnHead := func(t *testing.T, r *testRepo) {
		_, err := r.MakeCommit("A")
		require.NoError(t, err)
		hash, err := r.MakeCommit("B")
		require.NoError(t, err)
		require.NoError(t, r.Tag("0.2.0", hash))
	}
	bumpHistory := func(t *testing.T, r *testRepo) {
		_, err := r.MakeCommit("A\n\n+semver: major")
		require.NoError(t, err)
		_, err = r.MakeCommit("B")
		require.NoError(t, err)
	}

	scenarios := []scenario{
		{
			name:      "Pre-release tag on HEAD is preserved for a matching label",
			setup:     tagOnHead,
			increment: IncrementMajor,
			label:     nil,
			mode:      CommitMessageIncrementEnabled,
			want:      "0.0.0-4",
		},
		{
			name:      "Pre-release tag on HEAD with a label switch recalculates",
			setup:     tagOnHead,
			increment: IncrementMinor,
			label:     strPtr("foo"),
			mode:      CommitMessageIncrementEnabled,
			want:      "0.1.0-foo.1+1",
		},
		{
			name:      "Stable tag on HEAD is preserved for any label",
			setup:     stableTagOnHead,
			increment: IncrementMajor,
			label:     strPtr("bar"),
			mode:      CommitMessageIncrementEnabled,
			want:      "0.2.0",
		},
		{
			name:      "Bump message applies when incrementing is enabled",
			setup:     bumpHistory,
			increment: IncrementNone,
			label:     nil,
			mode:      CommitMessageIncrementEnabled,
			want:      "1.0.0-2+1",
		},
		{
			name:      "Bump message is ignored when incrementing is disabled",
			setup:     bumpHistory,
			increment: IncrementMinor,
			label:     strPtr("foo"),
			mode:      CommitMessageIncrementDisabled,
			want:      "0.2.0-foo.1+1",
		},
		{
			name:      "Bump message on a non-merge is ignored under MergeMessageOnly",
			setup:     bumpHistory,
			increment: IncrementMajor,
			label:     strPtr("bar"),
			mode:      CommitMessageIncrementMergeMessageOnly,
			want:      "2.0.0-bar.1+1",
		},
	}

	for _, sc := range scenarios {
		sc := sc
		t.Run(sc.name, func(t *testing.T) {
			t.Parallel()

			r, err := newTestRepo()
			require.NoError(t, err)
			sc.setup(t, r)

			repo, err := r.Load()
			require.NoError(t, err)

			cfg := scenarioConfig(sc.increment, sc.label, sc.mode)
			version, err := NewCalculator(cfg, repo, nil).NextVersion()
			require.NoError(t, err)
			require.Equal(t, sc.want, version.FullSemVer())
		})
	}
}

func TestNextVersionTaggedShortCircuit(t *testing.T) {
	t.Run("ContinuousDeployment strips the preserved pre-release", func(t *testing.T) {
		r, err := newTestRepo()
		require.NoError(t, err)
		hash, err := r.MakeCommit("release")
		require.NoError(t, err)
		require.NoError(t, r.Tag("v1.2.0-beta.3", hash))

		repo, err := r.Load()
		require.NoError(t, err)

		cfg := scenarioConfig(IncrementMinor, strPtr("beta"), CommitMessageIncrementEnabled)
		cfg.DeploymentMode = ContinuousDeployment
		version, err := NewCalculator(cfg, repo, nil).NextVersion()
		require.NoError(t, err)
		require.Equal(t, "1.2.0", version.FullSemVer())
	})

	t.Run("Short-circuit fills fresh build metadata", func(t *testing.T) {
		r, err := newTestRepo()
		require.NoError(t, err)
		hash, err := r.MakeCommit("release")
		require.NoError(t, err)
		require.NoError(t, r.Tag("v1.0.0", hash))

		repo, err := r.Load()
		require.NoError(t, err)

		version, err := NewCalculator(scenarioConfig(IncrementPatch, strPtr(""), CommitMessageIncrementEnabled), repo, nil).NextVersion()
		require.NoError(t, err)
		require.Equal(t, "1.0.0", version.FullSemVer())
		require.Equal(t, hash.String(), version.Build.Sha)
		require.Equal(t, hash.String(), version.Build.VersionSourceSha)
		require.Equal(t, "master", version.Build.Branch)
		require.Zero(t, version.Build.CommitsSinceVersionSource)
	})

	t.Run("Disabling prevent-increment keeps calculating", func(t *testing.T) {
		r, err := newTestRepo()
		require.NoError(t, err)
		hash, err := r.MakeCommit("release")
		require.NoError(t, err)
		require.NoError(t, r.Tag("v1.0.0", hash))

		repo, err := r.Load()
		require.NoError(t, err)

		cfg := DefaultConfig()
		cfg.VersionStrategies = []VersionStrategyKind{StrategyFallback, StrategyTaggedVersion}
		cfg.PreventIncrementWhenCurrentCommitTagged = false
		prevent := false
		main := cfg.Branches["main"]
		main.PreventIncrementWhenCurrentCommitTagged = &prevent
		cfg.Branches["main"] = main

		version, err := NewCalculator(cfg, repo, nil).NextVersion()
		require.NoError(t, err)
		require.Equal(t, "1.0.1+1", version.FullSemVer())
	})
}

func TestNextVersionCommitsSinceSource(t *testing.T) {
	r, err := newTestRepo()
	require.NoError(t, err)
	hash, err := r.MakeCommit("release")
	require.NoError(t, err)
	require.NoError(t, r.Tag("v1.0.0", hash))
	_, err = r.MakeCommit("work")
	require.NoError(t, err)
	_, err = r.MakeCommit("more work")
	require.NoError(t, err)

	repo, err := r.Load()
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.VersionStrategies = []VersionStrategyKind{StrategyFallback, StrategyTaggedVersion}

	version, err := NewCalculator(cfg, repo, nil).NextVersion()
	require.NoError(t, err)
	// Two commits strictly between the tagged source and HEAD inclusive.
	require.Equal(t, "1.0.1+2", version.FullSemVer())
	require.Equal(t, hash.String(), version.Build.VersionSourceSha)
	require.Equal(t, 2, version.Build.CommitsSinceVersionSource)
}

func TestNextVersionDeploymentModes(t *testing.T) {
	setup := func(t *testing.T) Repository {
		r, err := newTestRepo()
		require.NoError(t, err)
		hash, err := r.MakeCommit("release")
		require.NoError(t, err)
		require.NoError(t, r.Tag("v1.1.0-beta.1", hash))
		_, err = r.MakeCommit("work")
		require.NoError(t, err)
		_, err = r.MakeCommit("more work")
		require.NoError(t, err)

		repo, err := r.Load()
		require.NoError(t, err)
		return repo
	}

	config := func(mode DeploymentMode) *Config {
		cfg := DefaultConfig()
		cfg.VersionStrategies = []VersionStrategyKind{StrategyFallback, StrategyTaggedVersion}
		cfg.DeploymentMode = mode
		main := cfg.Branches["main"]
		main.Increment = IncrementMinor
		main.Label = strPtr("beta")
		cfg.Branches["main"] = main
		return cfg
	}

	t.Run("Manual keeps the incremented tag and counts commits", func(t *testing.T) {
		version, err := NewCalculator(config(ManualDeployment), setup(t), nil).NextVersion()
		require.NoError(t, err)
		require.Equal(t, "1.2.0-beta.1+2", version.FullSemVer())
	})

	t.Run("ContinuousDelivery numbers the tag by tag distance", func(t *testing.T) {
		version, err := NewCalculator(config(ContinuousDelivery), setup(t), nil).NextVersion()
		require.NoError(t, err)
		// Two commits since the last beta tag; commits-since is cleared.
		require.Equal(t, "1.2.0-beta.2", version.FullSemVer())
		require.Zero(t, version.Build.CommitsSinceVersionSource)
	})

	t.Run("ContinuousDeployment strips the tag", func(t *testing.T) {
		version, err := NewCalculator(config(ContinuousDeployment), setup(t), nil).NextVersion()
		require.NoError(t, err)
		require.Equal(t, "1.2.0+2", version.FullSemVer())
	})
}

func TestNextVersionStrategies(t *testing.T) {
	t.Run("ConfiguredNextVersion floors the result", func(t *testing.T) {
		r, err := newTestRepo()
		require.NoError(t, err)
		_, err = r.MakeCommit("only commit")
		require.NoError(t, err)

		repo, err := r.Load()
		require.NoError(t, err)

		cfg := DefaultConfig()
		cfg.NextVersion = "2.0.0"
		cfg.VersionStrategies = []VersionStrategyKind{StrategyFallback, StrategyConfiguredNextVersion}

		version, err := NewCalculator(cfg, repo, nil).NextVersion()
		require.NoError(t, err)
		require.Equal(t, "2.0.0+1", version.FullSemVer())
	})

	t.Run("MergeMessage picks the version out of a merge", func(t *testing.T) {
		g := newGraph().
			commit("a", "a").
			commit("b", "b", "a").
			commit("m", "Merge branch 'release/1.2.0'", "a", "b").
			commit("n", "after the merge", "m")
		repo := g.repo(map[string]string{"master": "n"}, "master")

		cfg := DefaultConfig()
		cfg.VersionStrategies = []VersionStrategyKind{StrategyFallback, StrategyMergeMessage}

		version, err := NewCalculator(cfg, repo, nil).NextVersion()
		require.NoError(t, err)
		require.Equal(t, "1.2.1+1", version.FullSemVer())
	})

	t.Run("VersionInBranchName seeds release branches", func(t *testing.T) {
		g := newGraph().
			commit("a", "a").
			commit("b", "b", "a")
		repo := g.repo(map[string]string{"release/2.1.0": "b"}, "release/2.1.0")

		cfg := DefaultConfig()
		cfg.VersionStrategies = []VersionStrategyKind{StrategyFallback, StrategyVersionInBranchName}

		version, err := NewCalculator(cfg, repo, nil).NextVersion()
		require.NoError(t, err)
		require.Equal(t, "2.1.0", version.String())
	})

	t.Run("No strategies is a repository error", func(t *testing.T) {
		r, err := newTestRepo()
		require.NoError(t, err)
		_, err = r.MakeCommit("only commit")
		require.NoError(t, err)

		repo, err := r.Load()
		require.NoError(t, err)

		cfg := DefaultConfig()
		cfg.VersionStrategies = nil

		_, err = NewCalculator(cfg, repo, nil).NextVersion()
		var repoErr *RepositoryError
		require.ErrorAs(t, err, &repoErr)
		require.Equal(t, "master", repoErr.Branch)
	})
}

func TestArbitrate(t *testing.T) {
	when := func(min int) time.Time {
		return time.Date(2024, 1, 1, 12, min, 0, 0, time.UTC)
	}
	commitAt := func(sha string, min int) *Commit {
		return &Commit{Sha: sha, ShortSha: sha, When: when(min)}
	}
	version := func(s string) SemanticVersion {
		v, err := ParseSemanticVersion(s, "", FormatStrict)
		if err != nil {
			panic(err)
		}
		return v
	}

	t.Run("Highest incremented version wins", func(t *testing.T) {
		got := arbitrate([]NextVersion{
			{IncrementedVersion: version("1.0.0")},
			{IncrementedVersion: version("2.0.0")},
			{IncrementedVersion: version("1.5.0")},
		})
		require.Equal(t, "2.0.0", got.IncrementedVersion.String())
	})

	t.Run("Ties prefer the oldest source", func(t *testing.T) {
		old := commitAt("old", 0)
		recent := commitAt("new", 30)
		got := arbitrate([]NextVersion{
			{IncrementedVersion: version("1.0.0"), BaseVersion: BaseVersion{BaseVersionSource: recent}},
			{IncrementedVersion: version("1.0.0"), BaseVersion: BaseVersion{BaseVersionSource: old}},
			{IncrementedVersion: version("1.0.0")},
		})
		require.Equal(t, "old", got.BaseVersion.BaseVersionSource.Sha)
	})

	t.Run("Sourceless maximum falls back to stable bases", func(t *testing.T) {
		src := commitAt("src", 0)
		got := arbitrate([]NextVersion{
			{IncrementedVersion: version("2.0.0")},
			{
				IncrementedVersion: version("1.0.0"),
				BaseVersion:        BaseVersion{SemanticVersion: version("0.9.0"), BaseVersionSource: src},
			},
		})
		require.Equal(t, "src", got.BaseVersion.BaseVersionSource.Sha)
	})

	t.Run("Nothing but sourceless candidates returns the maximum", func(t *testing.T) {
		got := arbitrate([]NextVersion{
			{IncrementedVersion: version("0.1.0-rc.1")},
			{IncrementedVersion: version("0.2.0-rc.1")},
		})
		require.Equal(t, "0.2.0-rc.1", got.IncrementedVersion.String())
	})
}

func TestNextVersionNoTip(t *testing.T) {
	repo := &fakeRepository{commits: map[string]*Commit{}}
	_, err := NewCalculator(DefaultConfig(), repo, nil).NextVersion()
	var repoErr *RepositoryError
	require.ErrorAs(t, err, &repoErr)
}
