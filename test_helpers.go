package nextver

import (
	"fmt"
	"sort"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"
)

// testRepo builds in-memory git repositories for fixtures with linear
// history. Commits get strictly increasing timestamps so ordering by commit
// time is deterministic.
type testRepo struct {
	repo  *git.Repository
	wt    *git.Worktree
	clock time.Time
	n     int
}

func newTestRepo() (*testRepo, error) {
	storage := memory.NewStorage()
	fs := memfs.New()
	repo, err := git.Init(storage, fs)
	if err != nil {
		return nil, err
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, err
	}
	return &testRepo{
		repo:  repo,
		wt:    wt,
		clock: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	}, nil
}

// MakeCommit writes a file and commits it with the given message.
func (r *testRepo) MakeCommit(message string) (plumbing.Hash, error) {
	r.n++
	r.clock = r.clock.Add(time.Minute)

	filename := fmt.Sprintf("file_%d.txt", r.n)
	if err := writeFile(r.wt.Filesystem, filename, fmt.Sprintf("content %d", r.n)); err != nil {
		return plumbing.ZeroHash, err
	}
	if _, err := r.wt.Add(filename); err != nil {
		return plumbing.ZeroHash, err
	}

	sig := &object.Signature{Name: "test", Email: "test@example.com", When: r.clock}
	return r.wt.Commit(message, &git.CommitOptions{Author: sig, Committer: sig})
}

// Tag creates a lightweight tag pointing at the given commit.
func (r *testRepo) Tag(name string, at plumbing.Hash) error {
	_, err := r.repo.CreateTag(name, at, nil)
	return err
}

// Load snapshots the repository for calculation.
func (r *testRepo) Load() (Repository, error) {
	return LoadRepository(r.repo)
}

// writeFile writes content to a file in the given filesystem.
func writeFile(fs billy.Filesystem, filename, content string) error {
	file, err := fs.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	_, err = file.Write([]byte(content))
	return err
}

// fakeRepository is an in-memory Repository for graph-shaped fixtures the
// go-git worktree API cannot produce, such as merge commits and multiple
// branches without checkouts.
type fakeRepository struct {
	head        *Commit
	current     *Branch
	branches    []*Branch
	tags        []Tag
	commits     map[string]*Commit
	uncommitted int
}

func (r *fakeRepository) Head() *Commit          { return r.head }
func (r *fakeRepository) CurrentBranch() *Branch { return r.current }
func (r *fakeRepository) Branches() []*Branch    { return r.branches }
func (r *fakeRepository) Tags() []Tag            { return r.tags }
func (r *fakeRepository) UncommittedCount() int  { return r.uncommitted }

func (r *fakeRepository) Commit(sha string) (*Commit, bool) {
	c, ok := r.commits[sha]
	return c, ok
}

// graphBuilder assembles a fakeRepository commit by commit. Shas are given
// literally ("a", "b") to keep fixtures readable.
type graphBuilder struct {
	commits map[string]*Commit
	tags    []Tag
	clock   time.Time
}

func newGraph() *graphBuilder {
	return &graphBuilder{
		commits: map[string]*Commit{},
		clock:   time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (g *graphBuilder) commit(sha, message string, parents ...string) *graphBuilder {
	g.clock = g.clock.Add(time.Minute)
	g.commits[sha] = &Commit{
		Sha:      sha,
		ShortSha: sha,
		When:     g.clock,
		Message:  message,
		Parents:  parents,
	}
	return g
}

func (g *graphBuilder) tag(name, sha string) *graphBuilder {
	g.tags = append(g.tags, Tag{Name: name, Sha: sha})
	return g
}

// repo finalises the graph: the named branches are created with full
// ancestor walks and the first one becomes current.
func (g *graphBuilder) repo(branchTips map[string]string, currentBranch string) *fakeRepository {
	fake := &fakeRepository{commits: g.commits, tags: g.tags}

	names := make([]string, 0, len(branchTips))
	for name := range branchTips {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		tip := g.commits[branchTips[name]]
		branch := &Branch{
			Name:    BranchName{Canonical: "refs/heads/" + name, Friendly: name},
			Tip:     tip,
			Commits: g.reachableFrom(tip),
		}
		fake.branches = append(fake.branches, branch)
		if name == currentBranch {
			fake.current = branch
			fake.head = tip
		}
	}
	return fake
}

// reachableFrom walks the full ancestry, newest first.
func (g *graphBuilder) reachableFrom(tip *Commit) []*Commit {
	seen := map[string]struct{}{}
	var out []*Commit
	var walk func(sha string)
	walk = func(sha string) {
		if _, done := seen[sha]; done {
			return
		}
		seen[sha] = struct{}{}
		c, ok := g.commits[sha]
		if !ok {
			return
		}
		out = append(out, c)
		for _, p := range c.Parents {
			walk(p)
		}
	}
	walk(tip.Sha)
	sort.SliceStable(out, func(i, j int) bool { return out[i].When.After(out[j].When) })
	return out
}
