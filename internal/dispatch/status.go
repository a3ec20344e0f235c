package dispatch

import (
	"sync"
	"time"
)

// RepoProgress is a point-in-time view of one repository's indexing.
type RepoProgress struct {
	RepositoryID string    `json:"repository_id"`
	Stage        string    `json:"stage"` // indexing | idle
	FilesTotal   int       `json:"files_total"`
	FilesDone    int       `json:"files_done"`
	StartedAt    time.Time `json:"started_at,omitempty"`
	FinishedAt   time.Time `json:"finished_at,omitempty"`
}

// Status tracks indexing progress per repository for get_status.
type Status struct {
	mu    sync.RWMutex
	repos map[string]*RepoProgress
}

// NewStatus creates an empty tracker.
func NewStatus() *Status {
	return &Status{repos: make(map[string]*RepoProgress)}
}

// BeginRepo marks a repository as indexing.
func (s *Status) BeginRepo(repoID string, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.repos[repoID] = &RepoProgress{
		RepositoryID: repoID,
		Stage:        "indexing",
		FilesTotal:   total,
		StartedAt:    time.Now(),
	}
}

// FileDone counts one finished file.
func (s *Status) FileDone(repoID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.repos[repoID]; ok {
		p.FilesDone++
	}
}

// EndRepo marks a repository idle.
func (s *Status) EndRepo(repoID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.repos[repoID]; ok {
		p.Stage = "idle"
		p.FinishedAt = time.Now()
	}
}

// Snapshot returns a copy of every repository's progress.
func (s *Status) Snapshot() []RepoProgress {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RepoProgress, 0, len(s.repos))
	for _, p := range s.repos {
		out = append(out, *p)
	}
	return out
}
