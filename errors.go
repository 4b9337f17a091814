package nextver

import "fmt"

// ConfigurationError reports a configuration that cannot produce a version,
// such as a top-level Inherit increment with nothing to inherit from.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration: " + e.Reason
}

// RepositoryError reports a repository state the calculator cannot work
// with, such as a current branch with no tip or a branch on which no base
// version could be determined.
type RepositoryError struct {
	Branch string
	Reason string
}

func (e *RepositoryError) Error() string {
	if e.Branch == "" {
		return "repository: " + e.Reason
	}
	return fmt.Sprintf("repository: branch %q: %s", e.Branch, e.Reason)
}
