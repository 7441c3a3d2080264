package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/blog-autopilot/internal/db"
	"github.com/jonathan/blog-autopilot/internal/types"
)

// createJobRequest is the job submission payload.
type createJobRequest struct {
	Topic      string     `json:"topic"`
	Mode       string     `json:"mode"`
	At         *time.Time `json:"at,omitempty"`
	Categories []string   `json:"categories,omitempty"`
	Tags       []string   `json:"tags,omitempty"`
	Tone       string     `json:"tone,omitempty"`
	Language   string     `json:"language,omitempty"`
	CronExpr   string     `json:"cron_expr,omitempty"`
}

func (req *createJobRequest) toJob() (*types.Job, error) {
	if req.Topic == "" {
		return nil, errors.New("topic is required")
	}
	mode := types.ScheduleMode(req.Mode)
	if mode == "" {
		mode = types.ModeDraft
	}
	switch mode {
	case types.ModeDraft, types.ModePublish, types.ModeSchedule:
	default:
		return nil, errors.New("mode must be draft, publish or schedule")
	}
	if mode == types.ModeSchedule && req.At == nil {
		return nil, errors.New("schedule mode requires an 'at' datetime")
	}
	if mode != types.ModeSchedule && req.At != nil {
		return nil, errors.New("'at' is only valid with schedule mode")
	}

	return &types.Job{
		ID:         uuid.New(),
		Topic:      req.Topic,
		Schedule:   types.ScheduleSpec{Mode: mode, At: req.At},
		Categories: req.Categories,
		Tags:       req.Tags,
		Tone:       req.Tone,
		Language:   req.Language,
		CronExpr:   req.CronExpr,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// handleCreateJob accepts a job and arms its trigger. The pipeline runs
// asynchronously; poll the job's runs for progress.
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	job, err := req.toJob()
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.sched.Submit(r.Context(), job); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}
	s.jsonResponse(w, http.StatusAccepted, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.store.ListJobs(r.Context(), 100)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	job, err := s.store.GetJob(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		s.errorResponse(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.jsonResponse(w, http.StatusOK, job)
}

func (s *Server) handleListJobRuns(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	runs, err := s.store.ListRuns(r.Context(), id)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"runs": runs})
}

// handleCancelJob sets the cancel flag; the running pipeline honors it
// at its next step boundary.
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if err := s.store.RequestCancel(r.Context(), id); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			s.errorResponse(w, http.StatusNotFound, "job not found")
			return
		}
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.jsonResponse(w, http.StatusAccepted, map[string]string{"status": "cancel requested"})
}

// handleReplayJob starts a from-scratch replay. Prior terminal runs are
// superseded; remote artifacts are updated in place via the ledger.
func (s *Server) handleReplayJob(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if _, err := s.store.GetJob(r.Context(), id); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			s.errorResponse(w, http.StatusNotFound, "job not found")
			return
		}
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	go func() {
		result, err := s.replayer.FromScratch(context.Background(), id)
		if err != nil {
			log.Printf("replay job %s: %v", id, err)
			return
		}
		log.Printf("replay job %s finished: %s", id, result.Status)
	}()
	s.jsonResponse(w, http.StatusAccepted, map[string]string{"status": "replay started"})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	run, err := s.store.GetRun(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		s.errorResponse(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.jsonResponse(w, http.StatusOK, run)
}

func (s *Server) handleListOutcomes(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	outcomes, err := s.store.ListOutcomes(r.Context(), id)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"outcomes": outcomes})
}

// handleReplayRun resumes a failed or replayable run from its last
// durable step.
func (s *Server) handleReplayRun(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	run, err := s.store.GetRun(r.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		s.errorResponse(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !run.Status.Terminal() || run.Status == types.RunSucceeded {
		s.errorResponse(w, http.StatusConflict, "run is not replayable, status: "+string(run.Status))
		return
	}
	go func() {
		result, err := s.replayer.Resume(context.Background(), id)
		if err != nil {
			log.Printf("replay run %s: %v", id, err)
			return
		}
		log.Printf("replay run %s finished: %s", id, result.Status)
	}()
	s.jsonResponse(w, http.StatusAccepted, map[string]string{"status": "replay started"})
}
