package services

import (
	"sort"
	"strings"
	"sync"
	"time"

	"picpic.sync/internal/core/domain"
)

// SortKey selects the ordering of the derived job view.
type SortKey string

const (
	SortBySubmittedAt SortKey = "submitted_at"
	SortByName        SortKey = "name"
	SortByStatus      SortKey = "status"
	SortByProgress    SortKey = "progress"
	SortByPriority    SortKey = "priority"
)

// FilterOptions narrows the derived job view. Zero-length allow-lists admit
// everything; the status toggles apply on top of the allow-lists.
type FilterOptions struct {
	ShowCompleted bool
	ShowFailed    bool
	Statuses      []domain.JobStatus
	Priorities    []int
	Workspaces    []string
	Search        string
}

// DefaultFilters shows everything.
func DefaultFilters() FilterOptions {
	return FilterOptions{ShowCompleted: true, ShowFailed: true}
}

// JobStore is the authoritative client-side cache of jobs. Confirmed server
// state goes through Upsert (full replace, last-confirmed-wins); live
// patches go through ApplyLiveUpdate (field merge). Both paths serialize on
// the store's lock, so there is no concurrent-write race.
type JobStore struct {
	mu sync.RWMutex

	jobs  map[string]*domain.Job
	order []string // insertion order, kept for list rendering

	byWorkspace map[string][]string

	selected      string
	expanded      map[string]struct{}
	multiSelected map[string]struct{}

	// shadows holds the pre-patch copy of each live-updated job for
	// reconciliation and diffing.
	shadows map[string]domain.Job

	filters  FilterOptions
	sortKey  SortKey
	sortDesc bool

	now func() time.Time
}

func NewJobStore() *JobStore {
	return &JobStore{
		jobs:          make(map[string]*domain.Job),
		byWorkspace:   make(map[string][]string),
		expanded:      make(map[string]struct{}),
		multiSelected: make(map[string]struct{}),
		shadows:       make(map[string]domain.Job),
		filters:       DefaultFilters(),
		sortKey:       SortBySubmittedAt,
		sortDesc:      true,
		now:           time.Now,
	}
}

// SetAll replaces the whole collection, discarding anything the server no
// longer reports. Selection and expansion survive only for keys that still
// exist; the workspace index is rebuilt from scratch.
func (s *JobStore) SetAll(jobs []*domain.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs = make(map[string]*domain.Job, len(jobs))
	s.order = s.order[:0]
	s.byWorkspace = make(map[string][]string)
	s.shadows = make(map[string]domain.Job)

	for _, j := range jobs {
		if j == nil || j.ID == "" {
			continue
		}
		if _, dup := s.jobs[j.ID]; dup {
			continue
		}
		c := *j
		c.Progress = domain.ClampProgress(c.Progress)
		s.stampTerminal(&c)
		s.jobs[c.ID] = &c
		s.order = append(s.order, c.ID)
		s.byWorkspace[c.WorkspaceID] = append(s.byWorkspace[c.WorkspaceID], c.ID)
	}

	if _, ok := s.jobs[s.selected]; !ok {
		s.selected = ""
	}
	for id := range s.expanded {
		if _, ok := s.jobs[id]; !ok {
			delete(s.expanded, id)
		}
	}
	for id := range s.multiSelected {
		if _, ok := s.jobs[id]; !ok {
			delete(s.multiSelected, id)
		}
	}
}

// Upsert inserts or fully replaces one job. This is the path for confirmed
// server responses, which always win over speculative local state.
func (s *JobStore) Upsert(job *domain.Job) {
	if job == nil || job.ID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *job
	c.Progress = domain.ClampProgress(c.Progress)
	s.stampTerminal(&c)

	if old, ok := s.jobs[c.ID]; ok {
		if old.WorkspaceID != c.WorkspaceID {
			s.dropFromWorkspaceLocked(old.WorkspaceID, c.ID)
			s.byWorkspace[c.WorkspaceID] = append(s.byWorkspace[c.WorkspaceID], c.ID)
		}
	} else {
		s.order = append(s.order, c.ID)
		s.byWorkspace[c.WorkspaceID] = append(s.byWorkspace[c.WorkspaceID], c.ID)
	}
	s.jobs[c.ID] = &c
}

// Patch merges fields into an existing job. A patch for an unknown key is
// dropped silently; the server's full fetch is the recovery path for that.
func (s *JobStore) Patch(id string, patch domain.JobPatch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.patchLocked(id, patch)
}

// ApplyLiveUpdate is Patch plus a retained shadow of the pre-patch job.
// It is the sole entry point for inbound job_update frames.
func (s *JobStore) ApplyLiveUpdate(id string, patch domain.JobPatch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return false
	}
	s.shadows[id] = *job
	return s.patchLocked(id, patch)
}

// Shadow returns the retained pre-patch copy for a live-updated job.
func (s *JobStore) Shadow(id string) (domain.Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.shadows[id]
	return j, ok
}

// Remove deletes a job and every reference to it: insertion order, the
// workspace index, selection, expansion, multi-select, and its shadow.
func (s *JobStore) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return
	}
	delete(s.jobs, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.dropFromWorkspaceLocked(job.WorkspaceID, id)
	if s.selected == id {
		s.selected = ""
	}
	delete(s.expanded, id)
	delete(s.multiSelected, id)
	delete(s.shadows, id)
}

// Get returns a copy of one job.
func (s *JobStore) Get(id string) (domain.Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, false
	}
	return *j, true
}

// Len returns the number of cached jobs.
func (s *JobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// WorkspaceJobs returns the ids cached for one workspace, insertion order.
func (s *JobStore) WorkspaceJobs(workspaceID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byWorkspace[workspaceID]
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

func (s *JobStore) patchLocked(id string, patch domain.JobPatch) bool {
	job, ok := s.jobs[id]
	if !ok {
		return false
	}
	if patch.Name != nil {
		job.Name = *patch.Name
	}
	if patch.Description != nil {
		job.Description = *patch.Description
	}
	if patch.Priority != nil {
		job.Priority = *patch.Priority
	}
	if patch.Software != nil {
		job.Software = patch.Software
	}
	if patch.Metrics != nil {
		m := *patch.Metrics
		job.Metrics = &m
	}
	if patch.WorkspaceID != nil && *patch.WorkspaceID != job.WorkspaceID {
		s.dropFromWorkspaceLocked(job.WorkspaceID, id)
		job.WorkspaceID = *patch.WorkspaceID
		s.byWorkspace[job.WorkspaceID] = append(s.byWorkspace[job.WorkspaceID], id)
	}
	if patch.Progress != nil {
		job.Progress = domain.ClampProgress(*patch.Progress)
	}
	if patch.Status != nil {
		job.Status = *patch.Status
	}
	s.stampTerminal(job)
	job.UpdatedAt = s.now()
	return true
}

// stampTerminal records CompletedAt the first time a terminal status is
// observed and coerces a completed job's progress to 100.
func (s *JobStore) stampTerminal(job *domain.Job) {
	if !job.Status.Terminal() {
		return
	}
	if job.CompletedAt == nil {
		t := s.now()
		job.CompletedAt = &t
	}
	if job.Status == domain.JobStatusCompleted && job.Progress < 100 {
		job.Progress = 100
	}
}

func (s *JobStore) dropFromWorkspaceLocked(workspaceID, id string) {
	ids := s.byWorkspace[workspaceID]
	for i, wid := range ids {
		if wid == id {
			s.byWorkspace[workspaceID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(s.byWorkspace[workspaceID]) == 0 {
		delete(s.byWorkspace, workspaceID)
	}
}

// SetFilters replaces the view filters.
func (s *JobStore) SetFilters(f FilterOptions) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters = f
}

// SetSort replaces the view ordering.
func (s *JobStore) SetSort(key SortKey, desc bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sortKey = key
	s.sortDesc = desc
}

// View returns the filtered, sorted projection of the cache. It is
// recomputed on every call; consumers poll it at render frequency.
func (s *JobStore) View() []domain.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Job, 0, len(s.order))
	for _, id := range s.order {
		job := s.jobs[id]
		if s.matchesLocked(job) {
			out = append(out, *job)
		}
	}
	s.sortLocked(out)
	return out
}

// Stats counts cached jobs by status, computed on demand.
func (s *JobStore) Stats() map[domain.JobStatus]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[domain.JobStatus]int)
	for _, job := range s.jobs {
		stats[job.Status]++
	}
	return stats
}

func (s *JobStore) matchesLocked(job *domain.Job) bool {
	f := s.filters
	if !f.ShowCompleted && job.Status == domain.JobStatusCompleted {
		return false
	}
	if !f.ShowFailed && job.Status == domain.JobStatusFailed {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, job.Status) {
		return false
	}
	if len(f.Priorities) > 0 && !containsInt(f.Priorities, job.Priority) {
		return false
	}
	if len(f.Workspaces) > 0 && !containsString(f.Workspaces, job.WorkspaceID) {
		return false
	}
	if f.Search != "" && !matchesSearch(job, f.Search) {
		return false
	}
	return true
}

// matchesSearch does a case-insensitive substring match across the job
// name, description and software names.
func matchesSearch(job *domain.Job, term string) bool {
	term = strings.ToLower(term)
	if strings.Contains(strings.ToLower(job.Name), term) {
		return true
	}
	if strings.Contains(strings.ToLower(job.Description), term) {
		return true
	}
	for _, sw := range job.Software {
		if strings.Contains(strings.ToLower(sw), term) {
			return true
		}
	}
	return false
}

func (s *JobStore) sortLocked(jobs []domain.Job) {
	key, desc := s.sortKey, s.sortDesc
	sort.SliceStable(jobs, func(i, j int) bool {
		var less bool
		switch key {
		case SortByName:
			less = jobs[i].Name < jobs[j].Name
		case SortByStatus:
			less = jobs[i].Status < jobs[j].Status
		case SortByProgress:
			less = jobs[i].Progress < jobs[j].Progress
		case SortByPriority:
			less = jobs[i].Priority < jobs[j].Priority
		default:
			less = jobs[i].SubmittedAt.Before(jobs[j].SubmittedAt)
		}
		if desc {
			return !less && !equalByKey(key, jobs[i], jobs[j])
		}
		return less
	})
}

func equalByKey(key SortKey, a, b domain.Job) bool {
	switch key {
	case SortByName:
		return a.Name == b.Name
	case SortByStatus:
		return a.Status == b.Status
	case SortByProgress:
		return a.Progress == b.Progress
	case SortByPriority:
		return a.Priority == b.Priority
	default:
		return a.SubmittedAt.Equal(b.SubmittedAt)
	}
}

// Select marks one job as the current selection; unknown ids clear it.
func (s *JobStore) Select(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; ok {
		s.selected = id
	} else {
		s.selected = ""
	}
}

// Selected returns the currently selected job id, empty when none.
func (s *JobStore) Selected() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected
}

// ToggleExpanded flips a job's row expansion state.
func (s *JobStore) ToggleExpanded(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return
	}
	if _, on := s.expanded[id]; on {
		delete(s.expanded, id)
	} else {
		s.expanded[id] = struct{}{}
	}
}

// IsExpanded reports a job's row expansion state.
func (s *JobStore) IsExpanded(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, on := s.expanded[id]
	return on
}

// ToggleMultiSelect flips a job's membership in the multi-selection.
func (s *JobStore) ToggleMultiSelect(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return
	}
	if _, on := s.multiSelected[id]; on {
		delete(s.multiSelected, id)
	} else {
		s.multiSelected[id] = struct{}{}
	}
}

// MultiSelected returns the multi-selected ids in insertion order.
func (s *JobStore) MultiSelected() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.multiSelected))
	for _, id := range s.order {
		if _, on := s.multiSelected[id]; on {
			out = append(out, id)
		}
	}
	return out
}

func containsStatus(list []domain.JobStatus, v domain.JobStatus) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func containsInt(list []int, v int) bool {
	for _, n := range list {
		if n == v {
			return true
		}
	}
	return false
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
