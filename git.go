package nextver

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Commit is an immutable snapshot of one commit.
type Commit struct {
	Sha      string
	ShortSha string
	When     time.Time
	Message  string
	Parents  []string
}

// IsMergeCommit reports whether the commit has more than one parent.
func (c *Commit) IsMergeCommit() bool {
	return len(c.Parents) > 1
}

// BranchName carries both forms of a branch name: "refs/heads/main" and
// "main".
type BranchName struct {
	Canonical string
	Friendly  string
}

// Branch is a snapshot of one branch: its name, tip and the full ancestor
// walk from the tip, newest first.
type Branch struct {
	Name    BranchName
	Tip     *Commit
	Commits []*Commit
}

// Tag is a tag name paired with the commit it points at; annotated tags are
// peeled to their target.
type Tag struct {
	Name string
	Sha  string
}

// Repository is the read-only view of a Git repository the kernel consumes.
// Implementations resolve eagerly; no method blocks on I/O.
type Repository interface {
	Head() *Commit
	CurrentBranch() *Branch
	Branches() []*Branch
	Tags() []Tag
	// Commit looks a commit up by sha in the snapshot.
	Commit(sha string) (*Commit, bool)
	UncommittedCount() int
}

// OpenRepository opens a Git repository at the specified path.
func OpenRepository(path string) (*git.Repository, error) {
	return git.PlainOpenWithOptions(path, &git.PlainOpenOptions{
		DetectDotGit:          true,
		EnableDotGitCommonDir: true,
	})
}

// gitRepository is the go-git backed Repository. Every commit reachable
// from a branch is loaded up front so calculation never touches the object
// store.
type gitRepository struct {
	head        *Commit
	current     *Branch
	branches    []*Branch
	tags        []Tag
	commits     map[string]*Commit
	uncommitted int
}

// LoadRepository captures a read-only snapshot of repo for version
// calculation.
func LoadRepository(repo *git.Repository) (Repository, error) {
	snapshot := &gitRepository{commits: map[string]*Commit{}}

	headRef, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolving HEAD: %w", err)
	}

	branchIter, err := repo.Branches()
	if err != nil {
		return nil, fmt.Errorf("listing branches: %w", err)
	}
	err = branchIter.ForEach(func(ref *plumbing.Reference) error {
		branch, walkErr := snapshot.loadBranch(repo, ref)
		if walkErr != nil {
			return walkErr
		}
		snapshot.branches = append(snapshot.branches, branch)
		if ref.Name() == headRef.Name() {
			snapshot.current = branch
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking branches: %w", err)
	}

	if snapshot.current == nil {
		// Detached HEAD: synthesise a branch so the walk still works.
		branch, walkErr := snapshot.loadBranch(repo, headRef)
		if walkErr != nil {
			return nil, fmt.Errorf("walking detached HEAD: %w", walkErr)
		}
		branch.Name = BranchName{Canonical: "(no branch)", Friendly: "(no branch)"}
		snapshot.current = branch
	}
	snapshot.head = snapshot.current.Tip

	snapshot.tags, err = loadTags(repo)
	if err != nil {
		return nil, fmt.Errorf("listing tags: %w", err)
	}

	snapshot.uncommitted, err = countUncommitted(repo)
	if err != nil {
		return nil, fmt.Errorf("counting uncommitted changes: %w", err)
	}

	return snapshot, nil
}

func (r *gitRepository) loadBranch(repo *git.Repository, ref *plumbing.Reference) (*Branch, error) {
	tip, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("resolving tip of %s: %w", ref.Name().Short(), err)
	}

	branch := &Branch{
		Name: BranchName{
			Canonical: ref.Name().String(),
			Friendly:  ref.Name().Short(),
		},
	}

	walker := object.NewCommitPreorderIter(tip, nil, nil)
	err = walker.ForEach(func(c *object.Commit) error {
		branch.Commits = append(branch.Commits, r.intern(c))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", ref.Name().Short(), err)
	}
	branch.Tip = branch.Commits[0]
	// The preorder walk visits merged-in commits after the first-parent
	// chain; order by commit time so the walk is newest first.
	sort.SliceStable(branch.Commits, func(i, j int) bool {
		return branch.Commits[i].When.After(branch.Commits[j].When)
	})
	return branch, nil
}

// intern converts a go-git commit, reusing the snapshot's copy when the
// commit was already seen on another branch.
func (r *gitRepository) intern(c *object.Commit) *Commit {
	sha := c.Hash.String()
	if existing, ok := r.commits[sha]; ok {
		return existing
	}
	parents := make([]string, 0, len(c.ParentHashes))
	for _, p := range c.ParentHashes {
		parents = append(parents, p.String())
	}
	commit := &Commit{
		Sha:      sha,
		ShortSha: sha[:7],
		When:     c.Committer.When,
		Message:  c.Message,
		Parents:  parents,
	}
	r.commits[sha] = commit
	return commit
}

func loadTags(repo *git.Repository) ([]Tag, error) {
	iter, err := repo.Tags()
	if err != nil {
		return nil, err
	}

	var tags []Tag
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		if ref.Type() != plumbing.HashReference {
			return nil
		}
		target := ref.Hash()
		obj, tagErr := repo.TagObject(ref.Hash())
		switch tagErr {
		case nil:
			// Annotated tag: peel to the commit.
			target = obj.Target
		case plumbing.ErrObjectNotFound:
			// Lightweight tag.
		default:
			return tagErr
		}
		tags = append(tags, Tag{Name: ref.Name().Short(), Sha: target.String()})
		return nil
	})
	return tags, err
}

func countUncommitted(repo *git.Repository) (int, error) {
	workTree, err := repo.Worktree()
	if err != nil {
		if err == git.ErrIsBareRepository {
			return 0, nil
		}
		return 0, err
	}
	status, err := workTree.Status()
	if err != nil {
		return 0, err
	}
	count := 0
	for _, s := range status {
		if s.Worktree != git.Unmodified || s.Staging != git.Unmodified {
			count++
		}
	}
	return count, nil
}

func (r *gitRepository) Head() *Commit          { return r.head }
func (r *gitRepository) CurrentBranch() *Branch { return r.current }
func (r *gitRepository) Branches() []*Branch    { return r.branches }
func (r *gitRepository) Tags() []Tag            { return r.tags }
func (r *gitRepository) UncommittedCount() int  { return r.uncommitted }

func (r *gitRepository) Commit(sha string) (*Commit, bool) {
	c, ok := r.commits[sha]
	return c, ok
}

// MainBranches returns the branches whose configuration marks them as
// mainlines, excluding any listed.
func MainBranches(repo Repository, cfg *Config, exclude ...*Branch) []*Branch {
	return branchesOfClass(repo, cfg, exclude, func(bc BranchConfig) bool { return bc.IsMainBranch })
}

// ReleaseBranches returns the branches whose configuration marks them as
// release branches, excluding any listed.
func ReleaseBranches(repo Repository, cfg *Config, exclude ...*Branch) []*Branch {
	return branchesOfClass(repo, cfg, exclude, func(bc BranchConfig) bool { return bc.IsReleaseBranch })
}

func branchesOfClass(repo Repository, cfg *Config, exclude []*Branch, class func(BranchConfig) bool) []*Branch {
	excluded := make(map[string]struct{}, len(exclude))
	for _, b := range exclude {
		if b != nil {
			excluded[b.Name.Canonical] = struct{}{}
		}
	}
	var out []*Branch
	for _, b := range repo.Branches() {
		if _, skip := excluded[b.Name.Canonical]; skip {
			continue
		}
		if bc, ok := cfg.branchConfigFor(b.Name.Friendly); ok && class(bc) {
			out = append(out, b)
		}
	}
	return out
}

// firstParentChain linearises a branch: the chain from the tip following
// first parents only, returned oldest first.
func firstParentChain(repo Repository, branch *Branch) []*Commit {
	var chain []*Commit
	c := branch.Tip
	for c != nil {
		chain = append(chain, c)
		if len(c.Parents) == 0 {
			break
		}
		next, ok := repo.Commit(c.Parents[0])
		if !ok {
			break
		}
		c = next
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// mergedCommits returns the commits a merge commit brought in: reachable
// from its second parent but not from its first, oldest first.
func mergedCommits(repo Repository, merge *Commit) []*Commit {
	if !merge.IsMergeCommit() {
		return nil
	}
	mainline := map[string]struct{}{}
	var mark func(sha string)
	mark = func(sha string) {
		if _, seen := mainline[sha]; seen {
			return
		}
		mainline[sha] = struct{}{}
		if c, ok := repo.Commit(sha); ok {
			for _, p := range c.Parents {
				mark(p)
			}
		}
	}
	mark(merge.Parents[0])

	var out []*Commit
	seen := map[string]struct{}{}
	var walk func(sha string)
	walk = func(sha string) {
		if _, done := seen[sha]; done {
			return
		}
		seen[sha] = struct{}{}
		if _, onMainline := mainline[sha]; onMainline {
			return
		}
		c, ok := repo.Commit(sha)
		if !ok {
			return
		}
		for _, p := range c.Parents {
			walk(p)
		}
		out = append(out, c)
	}
	for _, p := range merge.Parents[1:] {
		walk(p)
	}
	return out
}

var versionInBranchNameRe = regexp.MustCompile(`\d+(?:\.\d+)*(?:\.x)?`)

// extractVersionFromBranchName pulls an embedded semantic version out of a
// friendly branch name such as "release/1.2.3" or "support/2.x". The
// remainder of the name, with the version and stray separators removed, is
// returned for use as a branch name override.
func extractVersionFromBranchName(name, tagPrefix string) (SemanticVersion, string, bool) {
	m := versionInBranchNameRe.FindStringIndex(name)
	if m == nil {
		return SemanticVersion{}, "", false
	}
	raw := strings.TrimSuffix(name[m[0]:m[1]], ".x")
	version, err := ParseSemanticVersion(raw, tagPrefix, FormatLoose)
	if err != nil {
		return SemanticVersion{}, "", false
	}
	remainder := strings.Trim(name[:m[0]]+name[m[1]:], "/-")
	return version, remainder, true
}
