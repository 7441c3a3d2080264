package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// ImageAsset is a local image plus, once uploaded, its remote media id.
type ImageAsset struct {
	Path        string `json:"path"`
	AltText     string `json:"alt_text"`
	Featured    bool   `json:"featured,omitempty"`
	ContentHash string `json:"content_hash,omitempty"`
	RemoteID    int64  `json:"remote_id,omitempty"`
}

// ContentDraft is the evolving post payload. Drafts move between steps
// by value: a step never mutates the draft it received, it returns a
// copy with Version incremented. The snapshot persisted with each step
// outcome is therefore sufficient to resume from any boundary.
type ContentDraft struct {
	Version       int          `json:"version"`
	Topic         string       `json:"topic"`
	Title         string       `json:"title,omitempty"`
	ResearchNotes []string     `json:"research_notes,omitempty"`
	Outline       []string     `json:"outline,omitempty"`
	BodyHTML      string       `json:"body_html,omitempty"`
	Excerpt       string       `json:"excerpt,omitempty"`
	Slug          string       `json:"slug,omitempty"`
	SEOKeywords   []string     `json:"seo_keywords,omitempty"`
	Categories    []string     `json:"categories,omitempty"`
	Tags          []string     `json:"tags,omitempty"`
	CategoryIDs   []int64      `json:"category_ids,omitempty"`
	TagIDs        []int64      `json:"tag_ids,omitempty"`
	Images        []ImageAsset `json:"images,omitempty"`
	Schedule      ScheduleSpec `json:"schedule"`
}

// NewDraft seeds a version-1 draft from an accepted job.
func NewDraft(job *Job) ContentDraft {
	return ContentDraft{
		Version:    1,
		Topic:      job.Topic,
		Categories: append([]string(nil), job.Categories...),
		Tags:       append([]string(nil), job.Tags...),
		Schedule:   job.Schedule,
	}
}

// Next returns a deep copy of d with the version bumped, ready for the
// next step to fill in.
func (d ContentDraft) Next() ContentDraft {
	out := d
	out.Version = d.Version + 1
	out.ResearchNotes = append([]string(nil), d.ResearchNotes...)
	out.Outline = append([]string(nil), d.Outline...)
	out.SEOKeywords = append([]string(nil), d.SEOKeywords...)
	out.Categories = append([]string(nil), d.Categories...)
	out.Tags = append([]string(nil), d.Tags...)
	out.CategoryIDs = append([]int64(nil), d.CategoryIDs...)
	out.TagIDs = append([]int64(nil), d.TagIDs...)
	out.Images = append([]ImageAsset(nil), d.Images...)
	return out
}

// FeaturedImage returns the asset marked as featured, or nil.
func (d *ContentDraft) FeaturedImage() *ImageAsset {
	for i := range d.Images {
		if d.Images[i].Featured {
			return &d.Images[i]
		}
	}
	return nil
}

// Fingerprint derives the stable idempotency key used for remote post
// creation. It covers the job identity and the slug so a replayed run
// for the same job maps onto the same remote post.
func Fingerprint(jobID uuid.UUID, d ContentDraft) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\n%s\n%s\n", jobID, d.Topic, d.Slug)
	return hex.EncodeToString(h.Sum(nil))
}

// ContentHash hashes raw bytes for the media idempotency ledger.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

var slugStrip = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify converts a title into a URL-safe slug.
func Slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = slugStrip.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}
