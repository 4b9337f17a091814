package nextver

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// IncrementStrategy is the configured increment for a branch. Unlike a
// VersionField it can be Inherit, which defers the decision to the branch
// the configuration inherits from.
type IncrementStrategy int

const (
	IncrementInherit IncrementStrategy = iota
	IncrementNone
	IncrementPatch
	IncrementMinor
	IncrementMajor
)

func (s IncrementStrategy) String() string {
	switch s {
	case IncrementNone:
		return "None"
	case IncrementPatch:
		return "Patch"
	case IncrementMinor:
		return "Minor"
	case IncrementMajor:
		return "Major"
	case IncrementInherit:
		return "Inherit"
	default:
		return "Unknown"
	}
}

// Field converts the strategy to the version field it bumps. Inherit and
// None both map to VersionFieldNone.
func (s IncrementStrategy) Field() VersionField {
	switch s {
	case IncrementPatch:
		return VersionFieldPatch
	case IncrementMinor:
		return VersionFieldMinor
	case IncrementMajor:
		return VersionFieldMajor
	default:
		return VersionFieldNone
	}
}

// ParseIncrementStrategy parses a string form, case-insensitively.
func ParseIncrementStrategy(s string) (IncrementStrategy, error) {
	switch strings.ToLower(s) {
	case "inherit":
		return IncrementInherit, nil
	case "none":
		return IncrementNone, nil
	case "patch":
		return IncrementPatch, nil
	case "minor":
		return IncrementMinor, nil
	case "major":
		return IncrementMajor, nil
	default:
		return 0, &ConfigurationError{Reason: fmt.Sprintf("unknown increment strategy %q", s)}
	}
}

func (s *IncrementStrategy) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := ParseIncrementStrategy(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// DeploymentMode selects the post-processor applied to the winning version.
type DeploymentMode int

const (
	ManualDeployment DeploymentMode = iota
	ContinuousDelivery
	ContinuousDeployment
)

func (m DeploymentMode) String() string {
	switch m {
	case ManualDeployment:
		return "ManualDeployment"
	case ContinuousDelivery:
		return "ContinuousDelivery"
	case ContinuousDeployment:
		return "ContinuousDeployment"
	default:
		return "Unknown"
	}
}

// ParseDeploymentMode parses a string form, case-insensitively.
func ParseDeploymentMode(s string) (DeploymentMode, error) {
	switch strings.ToLower(s) {
	case "manualdeployment", "manual-deployment":
		return ManualDeployment, nil
	case "continuousdelivery", "continuous-delivery":
		return ContinuousDelivery, nil
	case "continuousdeployment", "continuous-deployment":
		return ContinuousDeployment, nil
	default:
		return 0, &ConfigurationError{Reason: fmt.Sprintf("unknown deployment mode %q", s)}
	}
}

func (m *DeploymentMode) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := ParseDeploymentMode(raw)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// CommitMessageIncrementMode controls whether bump directives in commit
// messages are considered.
type CommitMessageIncrementMode int

const (
	CommitMessageIncrementEnabled CommitMessageIncrementMode = iota
	CommitMessageIncrementDisabled
	CommitMessageIncrementMergeMessageOnly
)

func (m CommitMessageIncrementMode) String() string {
	switch m {
	case CommitMessageIncrementEnabled:
		return "Enabled"
	case CommitMessageIncrementDisabled:
		return "Disabled"
	case CommitMessageIncrementMergeMessageOnly:
		return "MergeMessageOnly"
	default:
		return "Unknown"
	}
}

// ParseCommitMessageIncrementMode parses a string form, case-insensitively.
func ParseCommitMessageIncrementMode(s string) (CommitMessageIncrementMode, error) {
	switch strings.ToLower(s) {
	case "enabled":
		return CommitMessageIncrementEnabled, nil
	case "disabled":
		return CommitMessageIncrementDisabled, nil
	case "mergemessageonly", "merge-message-only":
		return CommitMessageIncrementMergeMessageOnly, nil
	default:
		return 0, &ConfigurationError{Reason: fmt.Sprintf("unknown commit message increment mode %q", s)}
	}
}

func (m *CommitMessageIncrementMode) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := ParseCommitMessageIncrementMode(raw)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// VersionStrategyKind names one base-version strategy.
type VersionStrategyKind int

const (
	StrategyFallback VersionStrategyKind = iota
	StrategyConfiguredNextVersion
	StrategyMergeMessage
	StrategyTaggedVersion
	StrategyTrackReleaseBranches
	StrategyVersionInBranchName
	StrategyTrunkBased
)

func (k VersionStrategyKind) String() string {
	switch k {
	case StrategyFallback:
		return "Fallback"
	case StrategyConfiguredNextVersion:
		return "ConfiguredNextVersion"
	case StrategyMergeMessage:
		return "MergeMessage"
	case StrategyTaggedVersion:
		return "TaggedVersion"
	case StrategyTrackReleaseBranches:
		return "TrackReleaseBranches"
	case StrategyVersionInBranchName:
		return "VersionInBranchName"
	case StrategyTrunkBased:
		return "TrunkBased"
	default:
		return "Unknown"
	}
}

// ParseVersionStrategyKind parses a string form, case-insensitively.
func ParseVersionStrategyKind(s string) (VersionStrategyKind, error) {
	switch strings.ToLower(s) {
	case "fallback":
		return StrategyFallback, nil
	case "configurednextversion", "configured-next-version":
		return StrategyConfiguredNextVersion, nil
	case "mergemessage", "merge-message":
		return StrategyMergeMessage, nil
	case "taggedversion", "tagged-version":
		return StrategyTaggedVersion, nil
	case "trackreleasebranches", "track-release-branches":
		return StrategyTrackReleaseBranches, nil
	case "versioninbranchname", "version-in-branch-name":
		return StrategyVersionInBranchName, nil
	case "trunkbased", "trunk-based":
		return StrategyTrunkBased, nil
	default:
		return 0, &ConfigurationError{Reason: fmt.Sprintf("unknown version strategy %q", s)}
	}
}

func (k *VersionStrategyKind) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := ParseVersionStrategyKind(raw)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// IgnoreConfig excludes commits from consideration: by sha, or anything
// committed before a cutoff.
type IgnoreConfig struct {
	Shas   []string   `yaml:"sha"`
	Before *time.Time `yaml:"commits-before"`
}

// IgnoreFilter reports whether a commit is excluded, and why.
type IgnoreFilter func(c *Commit) (reason string, ignored bool)

// Filters returns the ignore predicates as a sequence. A nil commit is never
// ignored; candidates without a source commit cannot be excluded by sha or
// age.
func (ic IgnoreConfig) Filters() []IgnoreFilter {
	var filters []IgnoreFilter
	if len(ic.Shas) > 0 {
		shas := make(map[string]struct{}, len(ic.Shas))
		for _, sha := range ic.Shas {
			shas[strings.ToLower(sha)] = struct{}{}
		}
		filters = append(filters, func(c *Commit) (string, bool) {
			if c == nil {
				return "", false
			}
			if _, ok := shas[strings.ToLower(c.Sha)]; ok {
				return fmt.Sprintf("commit %s is in the ignore list", c.ShortSha), true
			}
			return "", false
		})
	}
	if ic.Before != nil {
		before := *ic.Before
		filters = append(filters, func(c *Commit) (string, bool) {
			if c == nil {
				return "", false
			}
			if c.When.Before(before) {
				return fmt.Sprintf("commit %s predates the ignore cutoff %s", c.ShortSha, before.Format(time.RFC3339)), true
			}
			return "", false
		})
	}
	return filters
}

// excluded runs every filter and returns the first reason that applies.
func (ic IgnoreConfig) excluded(c *Commit) (string, bool) {
	for _, filter := range ic.Filters() {
		if reason, ignored := filter(c); ignored {
			return reason, true
		}
	}
	return "", false
}

// BranchConfig is the per-branch portion of the configuration. Pointer
// fields distinguish "unset, fall back to global" from an explicit value.
type BranchConfig struct {
	Regex                                   string                      `yaml:"regex"`
	Label                                   *string                     `yaml:"label"`
	Increment                               IncrementStrategy           `yaml:"increment"`
	DeploymentMode                          *DeploymentMode             `yaml:"deployment-mode"`
	PreventIncrementWhenCurrentCommitTagged *bool                       `yaml:"prevent-increment-when-current-commit-tagged"`
	CommitMessageIncrementing               *CommitMessageIncrementMode `yaml:"commit-message-incrementing"`
	TrackMergeTarget                        bool                        `yaml:"track-merge-target"`
	TracksReleaseBranches                   bool                        `yaml:"tracks-release-branches"`
	IsMainBranch                            bool                        `yaml:"is-main-branch"`
	IsReleaseBranch                         bool                        `yaml:"is-release-branch"`
}

// Config is the parsed, immutable configuration the kernel consumes.
type Config struct {
	NextVersion                             string                     `yaml:"next-version"`
	TagPrefix                               string                     `yaml:"tag-prefix"`
	SemanticVersionFormat                   SemanticVersionFormat      `yaml:"-"`
	SemanticVersionFormatName               string                     `yaml:"semantic-version-format"`
	DeploymentMode                          DeploymentMode             `yaml:"deployment-mode"`
	Increment                               IncrementStrategy          `yaml:"increment"`
	Label                                   *string                    `yaml:"label"`
	CommitMessageIncrementing               CommitMessageIncrementMode `yaml:"commit-message-incrementing"`
	PreventIncrementWhenCurrentCommitTagged bool                       `yaml:"prevent-increment-when-current-commit-tagged"`
	VersionStrategies                       []VersionStrategyKind      `yaml:"version-strategy"`
	MajorVersionBumpMessage                 string                     `yaml:"major-version-bump-message"`
	MinorVersionBumpMessage                 string                     `yaml:"minor-version-bump-message"`
	PatchVersionBumpMessage                 string                     `yaml:"patch-version-bump-message"`
	NoBumpMessage                           string                     `yaml:"no-bump-message"`
	Ignore                                  IgnoreConfig               `yaml:"ignore"`
	Branches                                map[string]BranchConfig    `yaml:"branches"`
}

// Default bump directives, overridable per configuration file.
const (
	defaultMajorBumpMessage = `\+semver:\s?(breaking|major)`
	defaultMinorBumpMessage = `\+semver:\s?(feature|minor)`
	defaultPatchBumpMessage = `\+semver:\s?(fix|patch)`
	defaultNoBumpMessage    = `\+semver:\s?(none|skip)`
)

// branchPriority fixes the match order for the well-known branch keys;
// custom keys are tried afterwards in name order.
var branchPriority = []string{"main", "release", "develop", "hotfix", "support", "feature"}

// DefaultConfig returns the configuration used when no file is supplied:
// trunk-style mainlines, release and support branches carrying versions in
// their names, and feature branches labelled after themselves.
func DefaultConfig() *Config {
	mainLabel := ""
	featureLabel := "{BranchName}"
	developLabel := "alpha"
	releaseLabel := "beta"
	hotfixLabel := "beta"
	return &Config{
		TagPrefix:                               "v",
		SemanticVersionFormat:                   FormatStrict,
		DeploymentMode:                          ManualDeployment,
		Increment:                               IncrementPatch,
		CommitMessageIncrementing:               CommitMessageIncrementEnabled,
		PreventIncrementWhenCurrentCommitTagged: true,
		VersionStrategies: []VersionStrategyKind{
			StrategyFallback,
			StrategyConfiguredNextVersion,
			StrategyMergeMessage,
			StrategyTaggedVersion,
			StrategyVersionInBranchName,
		},
		MajorVersionBumpMessage: defaultMajorBumpMessage,
		MinorVersionBumpMessage: defaultMinorBumpMessage,
		PatchVersionBumpMessage: defaultPatchBumpMessage,
		NoBumpMessage:           defaultNoBumpMessage,
		Branches: map[string]BranchConfig{
			"main": {
				Regex:        `^master$|^main$`,
				Label:        &mainLabel,
				Increment:    IncrementPatch,
				IsMainBranch: true,
			},
			"develop": {
				Regex:                 `^dev(elop)?(ment)?$`,
				Label:                 &developLabel,
				Increment:             IncrementMinor,
				TrackMergeTarget:      true,
				TracksReleaseBranches: true,
			},
			"release": {
				Regex:           `^releases?[/-]`,
				Label:           &releaseLabel,
				Increment:       IncrementNone,
				IsReleaseBranch: true,
			},
			"feature": {
				Regex:     `^features?[/-]`,
				Label:     &featureLabel,
				Increment: IncrementInherit,
			},
			"hotfix": {
				Regex:     `^hotfix(es)?[/-]`,
				Label:     &hotfixLabel,
				Increment: IncrementPatch,
			},
			"support": {
				Regex:        `^support[/-]`,
				Increment:    IncrementPatch,
				IsMainBranch: true,
			},
		},
	}
}

// LoadConfig reads a YAML configuration. Top-level fields left unset keep
// the defaults from DefaultConfig; a branch entry given in the file replaces
// the default entry of the same key as a whole, so its unset fields are zero.
func LoadConfig(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(r)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decoding configuration: %w", err)
	}
	if cfg.SemanticVersionFormatName != "" {
		switch strings.ToLower(cfg.SemanticVersionFormatName) {
		case "strict":
			cfg.SemanticVersionFormat = FormatStrict
		case "loose":
			cfg.SemanticVersionFormat = FormatLoose
		default:
			return nil, &ConfigurationError{Reason: fmt.Sprintf("unknown semantic version format %q", cfg.SemanticVersionFormatName)}
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFile reads a YAML configuration from path.
func LoadConfigFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening configuration file: %w", err)
	}
	defer f.Close()
	return LoadConfig(f)
}

// Validate checks combinations no calculation can satisfy.
func (c *Config) Validate() error {
	if c.Increment == IncrementInherit {
		return &ConfigurationError{Reason: "the top-level increment cannot be Inherit; there is nothing to inherit from"}
	}
	for name, bc := range c.Branches {
		if bc.Regex == "" {
			return &ConfigurationError{Reason: fmt.Sprintf("branch configuration %q has no regex", name)}
		}
		if _, err := regexp.Compile(bc.Regex); err != nil {
			return &ConfigurationError{Reason: fmt.Sprintf("branch configuration %q has an invalid regex: %v", name, err)}
		}
	}
	return nil
}

// branchConfigFor returns the first branch configuration whose regex matches
// the friendly branch name, trying well-known keys first.
func (c *Config) branchConfigFor(branchName string) (BranchConfig, bool) {
	tried := make(map[string]struct{}, len(c.Branches))
	ordered := make([]string, 0, len(c.Branches))
	for _, key := range branchPriority {
		if _, ok := c.Branches[key]; ok {
			ordered = append(ordered, key)
			tried[key] = struct{}{}
		}
	}
	var rest []string
	for key := range c.Branches {
		if _, ok := tried[key]; !ok {
			rest = append(rest, key)
		}
	}
	sort.Strings(rest)
	ordered = append(ordered, rest...)

	for _, key := range ordered {
		bc := c.Branches[key]
		re, err := regexp.Compile(bc.Regex)
		if err != nil {
			continue
		}
		if re.MatchString(branchName) {
			return bc, true
		}
	}
	return BranchConfig{}, false
}

// EffectiveConfiguration is the immutable merge of the global configuration
// and one branch's configuration.
type EffectiveConfiguration struct {
	Branch                                  string
	BranchNameOverride                      string
	Label                                   *string
	Increment                               IncrementStrategy
	DeploymentMode                          DeploymentMode
	CommitMessageIncrementing               CommitMessageIncrementMode
	TagPrefix                               string
	SemanticVersionFormat                   SemanticVersionFormat
	PreventIncrementWhenCurrentCommitTagged bool
	TrackMergeTarget                        bool
	TracksReleaseBranches                   bool
	IsMainBranch                            bool
	IsReleaseBranch                         bool
	NextVersion                             string
	Ignore                                  IgnoreConfig
}

// EffectiveLabel resolves the label for a branch name, substituting
// {BranchName} with the override when one is set. A nil label stays nil:
// increments then number a bare pre-release tag.
func (ec EffectiveConfiguration) EffectiveLabel(branchNameOverride string) *string {
	if ec.Label == nil {
		return nil
	}
	name := ec.Branch
	if branchNameOverride != "" {
		name = branchNameOverride
	} else if ec.BranchNameOverride != "" {
		name = ec.BranchNameOverride
	}
	resolved := strings.ReplaceAll(*ec.Label, "{BranchName}", sanitizeLabelPart(name))
	return &resolved
}

// sanitizeLabelPart makes a branch name usable as a pre-release identifier.
func sanitizeLabelPart(name string) string {
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}

// EffectiveConfigurations resolves the branch configurations relevant to the
// named branch. The first entry is the branch's own merged configuration. A
// branch-level Inherit increment survives into the effective configuration;
// the increment finder resolves it against the commit history.
func (c *Config) EffectiveConfigurations(branchName string) ([]EffectiveConfiguration, error) {
	bc, matched := c.branchConfigFor(branchName)

	ec := EffectiveConfiguration{
		Branch:                                  branchName,
		Label:                                   c.Label,
		Increment:                               c.Increment,
		DeploymentMode:                          c.DeploymentMode,
		CommitMessageIncrementing:               c.CommitMessageIncrementing,
		TagPrefix:                               c.TagPrefix,
		SemanticVersionFormat:                   c.SemanticVersionFormat,
		PreventIncrementWhenCurrentCommitTagged: c.PreventIncrementWhenCurrentCommitTagged,
		TrackMergeTarget:                        bc.TrackMergeTarget,
		TracksReleaseBranches:                   bc.TracksReleaseBranches,
		IsMainBranch:                            bc.IsMainBranch,
		IsReleaseBranch:                         bc.IsReleaseBranch,
		NextVersion:                             c.NextVersion,
		Ignore:                                  c.Ignore,
	}
	if bc.Label != nil {
		ec.Label = bc.Label
	}
	if matched {
		// Branch-level Inherit is preserved; the increment finder
		// resolves it against the commit history later.
		ec.Increment = bc.Increment
	}
	if bc.DeploymentMode != nil {
		ec.DeploymentMode = *bc.DeploymentMode
	}
	if bc.PreventIncrementWhenCurrentCommitTagged != nil {
		ec.PreventIncrementWhenCurrentCommitTagged = *bc.PreventIncrementWhenCurrentCommitTagged
	}
	if bc.CommitMessageIncrementing != nil {
		ec.CommitMessageIncrementing = *bc.CommitMessageIncrementing
	}
	return []EffectiveConfiguration{ec}, nil
}
