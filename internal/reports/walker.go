package reports

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/dataverse-reports/dataverse-reports/internal/dataverse"
)

// ContentsLister fetches the immediate child objects of a dataverse node.
// *dataverse.Client satisfies it.
type ContentsLister interface {
	GetDataverseContents(ctx context.Context, identifier string) ([]dataverse.DVObject, error)
}

// Visitor receives tree nodes during a walk. VisitDataverse is called for the
// current node before any of its children are visited; VisitDataset is called
// for dataset children, which are leaves in this model. A returned error
// skips the node's subtree (for dataverses) or the single dataset — siblings
// are always still visited.
type Visitor interface {
	VisitDataverse(ctx context.Context, identifier string) error
	VisitDataset(ctx context.Context, parentIdentifier string, object dataverse.DVObject) error
}

// Walker performs a single-threaded depth-first pre-order traversal of the
// dataverse tree. Each node is visited exactly once: a defensive visited set
// keyed by node identifier guards against the remote hierarchy accidentally
// presenting the same node twice.
type Walker struct {
	lister ContentsLister
}

// NewWalker creates a walker over the given contents source.
func NewWalker(lister ContentsLister) *Walker {
	return &Walker{lister: lister}
}

// Walk traverses the tree rooted at rootIdentifier, invoking the visitor at
// every node. Remote failures inside one subtree are logged and confined to
// that subtree; the walk itself only fails on a missing root identifier or a
// cancelled context.
func (w *Walker) Walk(ctx context.Context, rootIdentifier string, visitor Visitor) error {
	if rootIdentifier == "" {
		return fmt.Errorf("root dataverse identifier is required")
	}
	visited := make(map[string]struct{})
	return w.walk(ctx, rootIdentifier, visitor, visited)
}

func (w *Walker) walk(ctx context.Context, identifier string, visitor Visitor, visited map[string]struct{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, seen := visited[identifier]; seen {
		slog.Warn("dataverse already visited, skipping repeated node", "identifier", identifier)
		return nil
	}
	visited[identifier] = struct{}{}

	slog.Debug("visiting dataverse", "identifier", identifier)
	if err := visitor.VisitDataverse(ctx, identifier); err != nil {
		slog.Warn("failed to process dataverse, skipping its subtree",
			"identifier", identifier, "error", err)
		return nil
	}

	contents, err := w.lister.GetDataverseContents(ctx, identifier)
	if err != nil {
		slog.Warn("failed to list dataverse contents, skipping its children",
			"identifier", identifier, "error", err)
		return nil
	}

	for _, object := range contents {
		switch object.Type {
		case "dataverse":
			if err := w.walk(ctx, strconv.FormatInt(object.ID, 10), visitor, visited); err != nil {
				return err
			}
		case "dataset":
			if err := visitor.VisitDataset(ctx, identifier, object); err != nil {
				slog.Warn("failed to process dataset, skipping it",
					"dataset", object.ID, "dataverse", identifier, "error", err)
			}
		default:
			slog.Debug("skipping unknown child object type",
				"type", object.Type, "id", object.ID, "dataverse", identifier)
		}
	}
	return nil
}
