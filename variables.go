package nextver

import (
	"strconv"
	"time"
)

// Variables is the flattened output surface of a calculation, one field per
// consumable value.
type Variables struct {
	Major                     int    `json:"major"`
	Minor                     int    `json:"minor"`
	Patch                     int    `json:"patch"`
	PreReleaseTag             string `json:"pre_release_tag"`
	PreReleaseLabel           string `json:"pre_release_label"`
	PreReleaseNumber          string `json:"pre_release_number"`
	MajorMinorPatch           string `json:"major_minor_patch"`
	SemVer                    string `json:"semver"`
	FullSemVer                string `json:"full_semver"`
	BranchName                string `json:"branch_name"`
	Sha                       string `json:"sha"`
	ShortSha                  string `json:"short_sha"`
	VersionSourceSha          string `json:"version_source_sha"`
	CommitsSinceVersionSource int    `json:"commits_since_version_source"`
	UncommittedChanges        int    `json:"uncommitted_changes"`
	CommitDate                string `json:"commit_date"`
}

// NewVariables flattens a computed version for output.
func NewVariables(v SemanticVersion) Variables {
	number := ""
	if v.PreRelease.HasNumber {
		number = strconv.Itoa(v.PreRelease.Number)
	}
	commitDate := ""
	if !v.Build.CommitDate.IsZero() {
		commitDate = v.Build.CommitDate.UTC().Format(time.RFC3339)
	}
	return Variables{
		Major:                     v.Major,
		Minor:                     v.Minor,
		Patch:                     v.Patch,
		PreReleaseTag:             v.PreRelease.String(),
		PreReleaseLabel:           v.PreRelease.Name,
		PreReleaseNumber:          number,
		MajorMinorPatch:           v.MajorMinorPatch(),
		SemVer:                    v.String(),
		FullSemVer:                v.FullSemVer(),
		BranchName:                v.Build.Branch,
		Sha:                       v.Build.Sha,
		ShortSha:                  v.Build.ShortSha,
		VersionSourceSha:          v.Build.VersionSourceSha,
		CommitsSinceVersionSource: v.Build.CommitsSinceVersionSource,
		UncommittedChanges:        v.Build.UncommittedChanges,
		CommitDate:                commitDate,
	}
}
