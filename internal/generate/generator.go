// Package generate defines the narrow capability interfaces for the
// content-producing collaborators and their Gemini implementation. The
// executor only depends on the interfaces, so any provider can be
// substituted without touching pipeline code.
package generate

import (
	"context"

	"github.com/jonathan/blog-autopilot/internal/types"
)

// Researcher gathers background notes and angle ideas for a topic.
type Researcher interface {
	Research(ctx context.Context, draft types.ContentDraft) (types.ContentDraft, error)
}

// Outliner produces the section outline from topic and research notes.
type Outliner interface {
	Outline(ctx context.Context, draft types.ContentDraft) (types.ContentDraft, error)
}

// Writer produces the HTML body from the outline.
type Writer interface {
	Write(ctx context.Context, draft types.ContentDraft) (types.ContentDraft, error)
}

// SEORewriter produces the SEO metadata pass: title, excerpt, slug and
// keywords.
type SEORewriter interface {
	Rewrite(ctx context.Context, draft types.ContentDraft) (types.ContentDraft, error)
}

// Suite bundles the four generation capabilities the pipeline needs.
type Suite struct {
	Researcher Researcher
	Outliner   Outliner
	Writer     Writer
	SEO        SEORewriter
}
