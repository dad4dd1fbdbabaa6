package stack

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	felerrors "thoreinstein.com/fel/pkg/errors"
	"thoreinstein.com/fel/pkg/identity"
)

// IdentityResolver resolves the identity of a commit without side effects.
type IdentityResolver interface {
	Peek(ctx context.Context, commit string) (*identity.Identity, error)
}

// BuildOption configures Build.
type BuildOption func(*builder)

// WithLogger sets the logger Build reports warnings to.
func WithLogger(logger *slog.Logger) BuildOption {
	return func(b *builder) {
		b.logger = logger
	}
}

// WithUpstreamRef walks stacks against ref instead of the upstream branch
// name, typically the upstream's remote-tracking ref. The graph still
// reports the branch name as its upstream.
func WithUpstreamRef(ref string) BuildOption {
	return func(b *builder) {
		b.upstreamRef = ref
	}
}

type builder struct {
	repo        CommitReader
	ids         IdentityResolver
	logger      *slog.Logger
	upstreamRef string
	graph       *Graph
	// owners maps entry ids to the node that first claimed them.
	owners map[string]NodeID
}

// Build walks every stack and merges the walks into one graph. A commit
// reachable from several stacks becomes a single node; stacks diverge where
// their commits stop being identical.
//
// Stacks are processed in the order given and duplicates are ignored.
// Building never writes to the identity store or the repository.
func Build(ctx context.Context, repo CommitReader, ids IdentityResolver, stacks []string, upstream string, opts ...BuildOption) (*Graph, error) {
	b := &builder{
		repo:   repo,
		ids:    ids,
		logger: slog.Default(),
		graph:  newGraph(upstream),
		owners: make(map[string]NodeID),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.upstreamRef == "" {
		b.upstreamRef = upstream
	}

	for _, name := range stacks {
		if slices.Contains(b.graph.names, name) {
			continue
		}
		if err := b.addStack(ctx, name); err != nil {
			return nil, err
		}
	}
	return b.graph, nil
}

func (b *builder) addStack(ctx context.Context, name string) error {
	w, err := NewWalker(ctx, b.repo, name, b.upstreamRef)
	if err != nil {
		return err
	}
	commits, err := w.Collect(ctx)
	if err != nil {
		return err
	}

	g := b.graph
	g.names = append(g.names, name)
	g.bases[name] = w.MergeBase()
	g.tips[name] = w.Tip()

	parent := NoParent
	path := make([]NodeID, 0, len(commits))
	for i := len(commits) - 1; i >= 0; i-- {
		c := commits[i]

		if id, ok := g.byHash[c.Hash]; ok {
			existing := g.nodes[id]
			if existing.Parent != parent {
				return felerrors.NewStackError(felerrors.KindInconsistentTopology,
					fmt.Sprintf("commit sits on %s in one stack and on %s in another",
						b.describeParent(existing.Parent, g.bases[existing.Stack]), b.describeParent(parent, w.MergeBase()))).
					WithRef(name).WithCommit(c.Hash)
			}
			existing.Stacks = append(existing.Stacks, name)
			path = append(path, id)
			parent = id
			continue
		}

		n := &Node{
			Commit:   c,
			Kind:     KindNew,
			Parent:   parent,
			Stack:    name,
			Position: len(path) + 1,
			Stacks:   []string{name},
		}

		ident, err := b.ids.Peek(ctx, c.Hash)
		if err != nil {
			return felerrors.Wrapf(err, "failed to resolve identity of %s", c.ShortHash())
		}
		if ident != nil {
			if prev, dup := b.owners[ident.EntryID]; dup {
				// two commits resolve to one entry (for example a commit was
				// cherry-picked); the earlier node keeps the entry
				b.logger.Warn("commit resolves to an entry already claimed in this graph; treating it as new",
					"commit", c.ShortHash(),
					"entry", ident.EntryID,
					"claimed_by", g.nodes[prev].Commit.ShortHash())
			} else {
				n.Kind = KindTracked
				n.Identity = ident
			}
		}

		id := g.add(n)
		if n.Kind == KindTracked {
			b.owners[ident.EntryID] = id
		}
		path = append(path, id)
		parent = id
	}

	g.stacks[name] = path
	return nil
}

func (b *builder) describeParent(id NodeID, base string) string {
	if id == NoParent {
		return "merge base " + felerrors.ShortHash(base)
	}
	return b.graph.nodes[id].Commit.ShortHash()
}
