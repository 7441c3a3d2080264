// Package media selects featured images for drafts and computes the
// content hashes used as media idempotency keys.
package media

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonathan/blog-autopilot/internal/types"
)

// Selector picks a featured image for a draft. Implementations may
// synthesize images or choose from a local library; a draft without a
// matching image is returned unchanged, not failed.
type Selector interface {
	Select(ctx context.Context, draft types.ContentDraft) (types.ContentDraft, error)
}

// Reader loads the bytes and MIME type of a selected asset for upload.
type Reader interface {
	Read(ctx context.Context, asset types.ImageAsset) (data []byte, mimeType string, err error)
}

// LocalLibrary picks images from a directory by filename keyword match
// against the draft's topic and keywords.
type LocalLibrary struct {
	Dir string
}

var _ Selector = (*LocalLibrary)(nil)
var _ Reader = (*LocalLibrary)(nil)

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".webp": true, ".gif": true}

// Select scans the library for the best filename match. The chosen
// asset is hashed immediately so the idempotency key is stable across
// replays even if the file later changes.
func (l *LocalLibrary) Select(_ context.Context, draft types.ContentDraft) (types.ContentDraft, error) {
	if l.Dir == "" {
		return draft.Next(), nil
	}
	entries, err := os.ReadDir(l.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return draft.Next(), nil
		}
		return draft, types.Transient("reading image library", err)
	}

	keywords := append([]string{draft.Topic}, draft.SEOKeywords...)
	best := ""
	bestScore := 0
	for _, entry := range entries {
		if entry.IsDir() || !imageExts[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		score := matchScore(entry.Name(), keywords)
		if best == "" || score > bestScore {
			best, bestScore = entry.Name(), score
		}
	}
	if best == "" {
		return draft.Next(), nil
	}

	path := filepath.Join(l.Dir, best)
	data, err := os.ReadFile(path)
	if err != nil {
		return draft, types.Transient("reading image "+path, err)
	}

	out := draft.Next()
	out.Images = append(out.Images, types.ImageAsset{
		Path:        path,
		AltText:     fmt.Sprintf("%s - featured image", draft.Topic),
		Featured:    true,
		ContentHash: types.ContentHash(data),
	})
	return out, nil
}

// Read loads the asset bytes for upload.
func (l *LocalLibrary) Read(_ context.Context, asset types.ImageAsset) ([]byte, string, error) {
	data, err := os.ReadFile(asset.Path)
	if err != nil {
		return nil, "", types.Transient("reading image "+asset.Path, err)
	}
	mimeType := mime.TypeByExtension(filepath.Ext(asset.Path))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return data, mimeType, nil
}

func matchScore(name string, keywords []string) int {
	lower := strings.ToLower(name)
	score := 0
	for _, kw := range keywords {
		for _, word := range strings.Fields(strings.ToLower(kw)) {
			if len(word) >= 3 && strings.Contains(lower, word) {
				score++
			}
		}
	}
	return score
}
