package engine

import (
	"encoding/json"
	"fmt"

	"github.com/drummonds/elibrary/database"
	"github.com/drummonds/elibrary/engine/imagecache"
)

// RenderResult is stored as the result of a completed render job
type RenderResult struct {
	Kind  Kind              `json:"kind"`
	Pages []imagecache.Page `json:"pages"`
}

// JobPresenter shows job outcomes by writing them to the job store, clients poll /api/jobs/:id.
// It is safe for concurrent use so it runs with the Inline poster.
type JobPresenter struct {
	DB database.Repository
}

// ShowLoading records a pending render job under the dispatcher's id
func (p *JobPresenter) ShowLoading(job *RenderJob) {
	row := &database.Job{
		ID:        job.ID,
		Type:      database.JobTypeRender,
		Status:    database.JobStatusPending,
		Source:    job.Path,
		Message:   fmt.Sprintf("Rendering %s", job.FileName()),
		CreatedAt: job.CreatedAt,
	}
	if err := p.DB.InsertJob(row); err != nil {
		Logger.Error("Failed to record render job", "jobID", job.ID.String(), "error", err)
	}
}

// ShowProgress updates the percentage, the first call marks the job running
func (p *JobPresenter) ShowProgress(job *RenderJob, done, total int) {
	if done == 0 {
		message := fmt.Sprintf("Rendering %s", job.FileName())
		if err := p.DB.UpdateJobStatus(job.ID, database.JobStatusRunning, message); err != nil {
			Logger.Error("Failed to update job status", "jobID", job.ID.String(), "error", err)
		}
		if err := p.DB.SetJobTotalSteps(job.ID, total); err != nil {
			Logger.Error("Failed to record job page count", "jobID", job.ID.String(), "error", err)
		}
	}
	progress := 0
	if total > 0 {
		progress = done * 100 / total
	}
	step := fmt.Sprintf("Rendering %s %d of %d", job.Kind.Prefix(), done, total)
	if err := p.DB.UpdateJobProgress(job.ID, progress, step); err != nil {
		Logger.Error("Failed to update job progress", "jobID", job.ID.String(), "error", err)
	}
}

// ShowImages completes the job with the ordered page list
func (p *JobPresenter) ShowImages(job *RenderJob, pages []imagecache.Page) {
	result, err := json.Marshal(RenderResult{Kind: job.Kind, Pages: pages})
	if err != nil {
		Logger.Error("Failed to encode render result", "jobID", job.ID.String(), "error", err)
		p.ShowError(job, ErrorTitle, err.Error())
		return
	}
	if err := p.DB.CompleteJob(job.ID, string(result)); err != nil {
		Logger.Error("Failed to complete job", "jobID", job.ID.String(), "error", err)
	}
	p.delivered(job)
}

// ShowError fails the job. Errors raised before a job exists are only logged,
// the HTTP handler already answered them.
func (p *JobPresenter) ShowError(job *RenderJob, title, message string) {
	if job == nil {
		Logger.Warn("Render request rejected", "title", title, "message", message)
		return
	}
	if err := p.DB.UpdateJobError(job.ID, message); err != nil {
		Logger.Error("Failed to record job error", "jobID", job.ID.String(), "error", err)
	}
	p.delivered(job)
}

func (p *JobPresenter) delivered(job *RenderJob) {
	if err := p.DB.MarkJobDelivered(job.ID); err != nil {
		Logger.Error("Failed to mark job delivered", "jobID", job.ID.String(), "error", err)
	}
}

// DecodeRenderResult parses the result column of a completed render job
func DecodeRenderResult(job *database.Job) (*RenderResult, error) {
	if job.Type != database.JobTypeRender {
		return nil, fmt.Errorf("job %s is a %s job", job.ID, job.Type)
	}
	if job.Status != database.JobStatusCompleted {
		return nil, fmt.Errorf("job %s is %s", job.ID, job.Status)
	}
	var result RenderResult
	if err := json.Unmarshal([]byte(job.Result), &result); err != nil {
		return nil, fmt.Errorf("job %s has an invalid result: %w", job.ID, err)
	}
	return &result, nil
}
