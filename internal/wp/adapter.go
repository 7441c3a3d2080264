// Package wp provides the publish adapter contract and its WordPress
// REST API implementation.
package wp

import (
	"context"
	"time"

	"github.com/jonathan/blog-autopilot/internal/types"
)

// TaxonomyKind selects which term collection to resolve against.
type TaxonomyKind string

const (
	TaxonomyCategory TaxonomyKind = "categories"
	TaxonomyTag      TaxonomyKind = "tags"
)

// TermRef is a stable remote identifier for a category or tag.
type TermRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// MediaRef is a stable remote identifier for an uploaded attachment.
type MediaRef struct {
	ID        int64  `json:"id"`
	SourceURL string `json:"source_url,omitempty"`
}

// EffectiveStatus is the platform's resolved view of a post after a
// schedule change, read back for drift verification.
type EffectiveStatus struct {
	Status string     `json:"status"`
	Date   *time.Time `json:"date,omitempty"`
}

// Adapter is the contract any remote content platform must satisfy.
// Every mutating call is idempotent with respect to its key: calling
// UpsertPost twice with the same fingerprint produces one remote post,
// and UploadMedia twice with the same content hash one attachment.
// Implementations surface failures as *types.StepError so the executor
// can apply the retry policy by kind.
type Adapter interface {
	// UpsertPost creates a remote post when prior is nil and updates the
	// referenced post otherwise.
	UpsertPost(ctx context.Context, fingerprint string, draft types.ContentDraft, prior *types.PostRef) (types.PostRef, error)

	// UploadMedia stores an attachment and returns its remote id.
	UploadMedia(ctx context.Context, contentHash string, data []byte, filename, mime, altText string) (MediaRef, error)

	// ResolveTaxonomy returns stable ids for the named terms, creating
	// missing ones. Matching is case-insensitive; when several existing
	// terms match a name the first by creation order wins.
	ResolveTaxonomy(ctx context.Context, kind TaxonomyKind, names []string) ([]TermRef, error)

	// SetSchedule applies the requested publish mode and datetime and
	// returns the platform's resolved effective status.
	SetSchedule(ctx context.Context, ref types.PostRef, spec types.ScheduleSpec) (EffectiveStatus, error)

	// ReadPost re-reads the post's effective publish status for
	// schedule-fidelity verification.
	ReadPost(ctx context.Context, ref types.PostRef) (EffectiveStatus, error)
}
