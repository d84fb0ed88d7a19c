package collector

import (
	"context"

	"github.com/uplens/uplens/internal/core"
)

// Stub is a canned core.Collector for dev mode and configuration previews.
type Stub struct {
	Candidates map[string][]core.Candidate
	Details    map[string]core.VideoDetail
	Creators   map[string]core.CreatorInfo
	Subtitles  map[string]string
}

// NewStub returns a stub with no content. The maps are ready to be seeded.
func NewStub() *Stub {
	return &Stub{
		Candidates: map[string][]core.Candidate{},
		Details:    map[string]core.VideoDetail{},
		Creators:   map[string]core.CreatorInfo{},
		Subtitles:  map[string]string{},
	}
}

// Search returns the canned candidates for keyword.
func (s *Stub) Search(_ context.Context, keyword string, _ core.TaskScope) ([]core.Candidate, error) {
	return s.Candidates[keyword], nil
}

// Detail returns the canned detail for bvid.
func (s *Stub) Detail(_ context.Context, bvid string) (core.VideoDetail, error) {
	return s.Details[bvid], nil
}

// Stats returns the canned detail's stats.
func (s *Stub) Stats(_ context.Context, bvid string) (core.Stats, error) {
	return s.Details[bvid].Stats, nil
}

// CreatorInfo returns the canned creator info for upID.
func (s *Stub) CreatorInfo(_ context.Context, upID string) (core.CreatorInfo, error) {
	return s.Creators[upID], nil
}

// Subtitle returns the canned subtitle text for bvid.
func (s *Stub) Subtitle(_ context.Context, bvid string) (string, error) {
	return s.Subtitles[bvid], nil
}
