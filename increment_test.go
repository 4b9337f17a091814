package nextver

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBumpMessageMatcher(t *testing.T) {
	m := newBumpMessageMatcher(DefaultConfig())

	tests := []struct {
		message string
		want    VersionField
		found   bool
	}{
		{message: "a change\n\n+semver: major", want: VersionFieldMajor, found: true},
		{message: "+semver: breaking", want: VersionFieldMajor, found: true},
		{message: "+semver: minor", want: VersionFieldMinor, found: true},
		{message: "+semver: feature", want: VersionFieldMinor, found: true},
		{message: "+semver: patch", want: VersionFieldPatch, found: true},
		{message: "+semver: fix", want: VersionFieldPatch, found: true},
		{message: "+semver: none", want: VersionFieldNone, found: true},
		{message: "+semver: skip", want: VersionFieldNone, found: true},
		{message: "+semver:major", want: VersionFieldMajor, found: true},
		{message: "an ordinary commit", want: VersionFieldNone, found: false},
	}
	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			got, found := m.find(tt.message)
			require.Equal(t, tt.found, found)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestBumpMessagesConsidered(t *testing.T) {
	plain := &Commit{Parents: []string{"a"}}
	merge := &Commit{Parents: []string{"a", "b"}}

	require.True(t, bumpMessagesConsidered(CommitMessageIncrementEnabled, plain))
	require.True(t, bumpMessagesConsidered(CommitMessageIncrementEnabled, merge))
	require.False(t, bumpMessagesConsidered(CommitMessageIncrementDisabled, plain))
	require.False(t, bumpMessagesConsidered(CommitMessageIncrementDisabled, merge))
	// MergeMessageOnly and Disabled behave identically for non-merges.
	require.False(t, bumpMessagesConsidered(CommitMessageIncrementMergeMessageOnly, plain))
	require.True(t, bumpMessagesConsidered(CommitMessageIncrementMergeMessageOnly, merge))
}

func TestFindIncrement(t *testing.T) {
	build := func(cfg *Config, messages ...string) *calcContext {
		g := newGraph()
		var prev []string
		for i, msg := range messages {
			sha := string(rune('a' + i))
			g.commit(sha, msg, prev...)
			prev = []string{sha}
		}
		repo := g.repo(map[string]string{"master": prev[0]}, "master")
		return &calcContext{
			cfg:    cfg,
			repo:   repo,
			tags:   NewTaggedVersionRepository(repo, nil),
			branch: repo.CurrentBranch(),
			head:   repo.Head(),
			logger: discardLogger,
		}
	}

	t.Run("Explicit increment wins over directives", func(t *testing.T) {
		cfg := DefaultConfig()
		cc := build(cfg, "+semver: major")
		ec := EffectiveConfiguration{Increment: IncrementMinor, CommitMessageIncrementing: CommitMessageIncrementEnabled}
		got := findIncrement(cc, ec, BaseVersion{ShouldIncrement: true}, nil)
		require.Equal(t, VersionFieldMinor, got)
	})

	t.Run("Inherit takes the strongest directive", func(t *testing.T) {
		cfg := DefaultConfig()
		cc := build(cfg, "+semver: patch", "+semver: minor", "nothing here")
		ec := EffectiveConfiguration{Increment: IncrementInherit, CommitMessageIncrementing: CommitMessageIncrementEnabled}
		got := findIncrement(cc, ec, BaseVersion{ShouldIncrement: true}, nil)
		require.Equal(t, VersionFieldMinor, got)
	})

	t.Run("Inherit honours the increment mode", func(t *testing.T) {
		cfg := DefaultConfig()
		cc := build(cfg, "+semver: major")
		ec := EffectiveConfiguration{Increment: IncrementInherit, CommitMessageIncrementing: CommitMessageIncrementDisabled}
		got := findIncrement(cc, ec, BaseVersion{ShouldIncrement: true}, nil)
		// No directives considered, no commits-free identity: the global
		// increment applies.
		require.Equal(t, VersionFieldPatch, got)
	})

	t.Run("Directive scan starts after the version source", func(t *testing.T) {
		cfg := DefaultConfig()
		cc := build(cfg, "+semver: major", "+semver: patch")
		source, _ := cc.repo.Commit("a")
		ec := EffectiveConfiguration{Increment: IncrementInherit, CommitMessageIncrementing: CommitMessageIncrementEnabled}
		got := findIncrement(cc, ec, BaseVersion{ShouldIncrement: true, BaseVersionSource: source}, nil)
		require.Equal(t, VersionFieldPatch, got)
	})

	t.Run("Matching label with no intervening commits is preserved", func(t *testing.T) {
		cfg := DefaultConfig()
		cc := build(cfg, "tip")
		head := cc.head
		base := BaseVersion{
			ShouldIncrement:   true,
			SemanticVersion:   SemanticVersion{Major: 1, PreRelease: PreReleaseTag{Name: "foo", Number: 1, HasNumber: true}},
			BaseVersionSource: head,
		}
		ec := EffectiveConfiguration{Increment: IncrementInherit, CommitMessageIncrementing: CommitMessageIncrementEnabled}
		got := findIncrement(cc, ec, base, strPtr("foo"))
		require.Equal(t, VersionFieldNone, got)
	})
}

func TestCommitsAfter(t *testing.T) {
	g := newGraph().
		commit("a", "a").
		commit("b", "b", "a").
		commit("c", "c", "b")
	repo := g.repo(map[string]string{"master": "c"}, "master")
	branch := repo.CurrentBranch()

	t.Run("From a source", func(t *testing.T) {
		source, _ := repo.Commit("a")
		got := commitsAfter(branch, source)
		require.Len(t, got, 2)
		require.Equal(t, "b", got[0].Sha)
		require.Equal(t, "c", got[1].Sha)
	})

	t.Run("Nil source yields the whole walk", func(t *testing.T) {
		got := commitsAfter(branch, nil)
		require.Len(t, got, 3)
		require.Equal(t, "a", got[0].Sha)
	})

	t.Run("Source at the tip yields nothing", func(t *testing.T) {
		got := commitsAfter(branch, branch.Tip)
		require.Empty(t, got)
	})
}
