package nextver

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	t.Run("Main branches match", func(t *testing.T) {
		for _, name := range []string{"main", "master"} {
			bc, ok := cfg.branchConfigFor(name)
			require.True(t, ok, "branch %q", name)
			require.True(t, bc.IsMainBranch)
		}
	})

	t.Run("Release branches match", func(t *testing.T) {
		bc, ok := cfg.branchConfigFor("release/1.2.0")
		require.True(t, ok)
		require.True(t, bc.IsReleaseBranch)
	})

	t.Run("Feature branches inherit their increment", func(t *testing.T) {
		bc, ok := cfg.branchConfigFor("feature/shiny")
		require.True(t, ok)
		require.Equal(t, IncrementInherit, bc.Increment)
	})

	t.Run("Unknown branches fall back to no config", func(t *testing.T) {
		_, ok := cfg.branchConfigFor("wip")
		require.False(t, ok)
	})
}

func TestLoadConfig(t *testing.T) {
	t.Run("Overrides defaults", func(t *testing.T) {
		yaml := `
next-version: 2.0.0
tag-prefix: ""
deployment-mode: ContinuousDelivery
increment: Minor
commit-message-incrementing: MergeMessageOnly
version-strategy: [Fallback, TrunkBased]
branches:
  main:
    regex: ^trunk$
    increment: Major
    is-main-branch: true
`
		cfg, err := LoadConfig(strings.NewReader(yaml))
		require.NoError(t, err)
		require.Equal(t, "2.0.0", cfg.NextVersion)
		require.Equal(t, ContinuousDelivery, cfg.DeploymentMode)
		require.Equal(t, IncrementMinor, cfg.Increment)
		require.Equal(t, CommitMessageIncrementMergeMessageOnly, cfg.CommitMessageIncrementing)
		require.Equal(t, []VersionStrategyKind{StrategyFallback, StrategyTrunkBased}, cfg.VersionStrategies)

		bc, ok := cfg.branchConfigFor("trunk")
		require.True(t, ok)
		require.Equal(t, IncrementMajor, bc.Increment)
	})

	t.Run("Empty input keeps the defaults", func(t *testing.T) {
		cfg, err := LoadConfig(strings.NewReader(""))
		require.NoError(t, err)
		require.Equal(t, "v", cfg.TagPrefix)
		require.Equal(t, ManualDeployment, cfg.DeploymentMode)
	})

	t.Run("Unknown deployment mode is a configuration error", func(t *testing.T) {
		_, err := LoadConfig(strings.NewReader("deployment-mode: YOLO\n"))
		require.Error(t, err)
		require.Contains(t, err.Error(), "unknown deployment mode")
	})

	t.Run("Top-level Inherit is a configuration error", func(t *testing.T) {
		_, err := LoadConfig(strings.NewReader("increment: Inherit\n"))
		require.Error(t, err)
		var cfgErr *ConfigurationError
		require.ErrorAs(t, err, &cfgErr)
	})

	t.Run("Unknown semantic version format is rejected", func(t *testing.T) {
		_, err := LoadConfig(strings.NewReader("semantic-version-format: sloppy\n"))
		require.Error(t, err)
	})
}

func TestEffectiveConfigurations(t *testing.T) {
	t.Run("Branch overrides merge over globals", func(t *testing.T) {
		cfg := DefaultConfig()
		ecs, err := cfg.EffectiveConfigurations("main")
		require.NoError(t, err)
		require.Len(t, ecs, 1)
		ec := ecs[0]
		require.True(t, ec.IsMainBranch)
		require.Equal(t, IncrementPatch, ec.Increment)
		require.NotNil(t, ec.Label)
		require.Equal(t, "", *ec.Label)
	})

	t.Run("Inherit survives to the effective level", func(t *testing.T) {
		cfg := DefaultConfig()
		ecs, err := cfg.EffectiveConfigurations("feature/shiny")
		require.NoError(t, err)
		require.Equal(t, IncrementInherit, ecs[0].Increment)
	})

	t.Run("Unmatched branches use the globals", func(t *testing.T) {
		cfg := DefaultConfig()
		ecs, err := cfg.EffectiveConfigurations("wip")
		require.NoError(t, err)
		require.Equal(t, IncrementPatch, ecs[0].Increment)
		require.False(t, ecs[0].IsMainBranch)
	})
}

func TestEffectiveLabel(t *testing.T) {
	t.Run("BranchName template substitutes", func(t *testing.T) {
		label := "{BranchName}"
		ec := EffectiveConfiguration{Branch: "feature/shiny-thing", Label: &label}
		got := ec.EffectiveLabel("")
		require.NotNil(t, got)
		require.Equal(t, "shiny-thing", *got)
	})

	t.Run("Override takes precedence over the branch", func(t *testing.T) {
		label := "{BranchName}"
		ec := EffectiveConfiguration{Branch: "develop", Label: &label}
		got := ec.EffectiveLabel("release/2.1")
		require.NotNil(t, got)
		require.Equal(t, "2-1", *got)
	})

	t.Run("Nil label stays nil", func(t *testing.T) {
		ec := EffectiveConfiguration{Branch: "main"}
		require.Nil(t, ec.EffectiveLabel(""))
	})
}

func TestIgnoreConfig(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	old := &Commit{Sha: "aaa", ShortSha: "aaa", When: now.Add(-48 * time.Hour)}
	recent := &Commit{Sha: "bbb", ShortSha: "bbb", When: now}

	t.Run("Sha filter", func(t *testing.T) {
		ic := IgnoreConfig{Shas: []string{"AAA"}}
		reason, ignored := ic.excluded(old)
		require.True(t, ignored)
		require.Contains(t, reason, "ignore list")
		_, ignored = ic.excluded(recent)
		require.False(t, ignored)
	})

	t.Run("Before filter", func(t *testing.T) {
		cutoff := now.Add(-time.Hour)
		ic := IgnoreConfig{Before: &cutoff}
		_, ignored := ic.excluded(old)
		require.True(t, ignored)
		_, ignored = ic.excluded(recent)
		require.False(t, ignored)
	})

	t.Run("Nil commits are never ignored", func(t *testing.T) {
		cutoff := now
		ic := IgnoreConfig{Shas: []string{"aaa"}, Before: &cutoff}
		_, ignored := ic.excluded(nil)
		require.False(t, ignored)
	})

	t.Run("No rules yields no filters", func(t *testing.T) {
		require.Empty(t, IgnoreConfig{}.Filters())
	})
}
