package issues

import (
	"context"
	"errors"

	"github.com/bryanwahyu/shopwatch/internal/domain/pages"
)

// ErrNotFound is returned when an issue does not exist.
var ErrNotFound = errors.New("issue not found")

// Visibility is the explicit predicate every list query takes; there is no
// ambient filter hiding resolved rows.
type Visibility string

const (
	VisibilityActive Visibility = "active" // open + acknowledged
	VisibilityAll    Visibility = "all"
)

// Repository port for the issue ledger.
type Repository interface {
	Save(ctx context.Context, i *Issue) error
	Get(ctx context.Context, id IssueID) (*Issue, error)
	// ActiveByPage returns open and acknowledged issues for a page.
	ActiveByPage(ctx context.Context, pageID pages.PageID) ([]*Issue, error)
	ListByPage(ctx context.Context, pageID pages.PageID, vis Visibility) ([]*Issue, error)
}
