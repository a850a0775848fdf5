package engine

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/robfig/cron/v3"

	"github.com/drummonds/elibrary/database"
)

const defaultRetention = 24 * time.Hour

// InitializeSchedules starts the cron job that sweeps old render output.
// It returns nil when the sweep is disabled, otherwise the caller stops the returned cron.
func (serverHandler *ServerHandler) InitializeSchedules() *cron.Cron {
	cfg := serverHandler.ServerConfig.HousekeepingConfig
	if cfg.RenderRetentionHours <= 0 || cfg.SweepIntervalMinutes <= 0 {
		Logger.Info("Render sweep disabled", "retention_hours", cfg.RenderRetentionHours, "interval_minutes", cfg.SweepIntervalMinutes)
		return nil
	}

	c := cron.New()
	var sweepJob cron.Job
	sweepJob = cron.FuncJob(serverHandler.sweepJobFunc)
	sweepJob = cron.NewChain(cron.SkipIfStillRunning(cron.DefaultLogger)).Then(sweepJob) //ensure we don't kick off another if old one is still running
	if _, err := c.AddJob(fmt.Sprintf("@every %dm", cfg.SweepIntervalMinutes), sweepJob); err != nil {
		Logger.Error("Failed to schedule render sweep", "error", err)
		return nil
	}
	Logger.Info("Adding render sweep scheduler", "interval_minutes", cfg.SweepIntervalMinutes, "retention_hours", cfg.RenderRetentionHours)
	c.Start()
	return c
}

func (serverHandler *ServerHandler) sweepJobFunc() {
	job, err := serverHandler.DB.CreateJob(database.JobTypeCleanup, "Scheduled render sweep")
	if err != nil {
		Logger.Error("Failed to create cleanup job", "error", err)
		return
	}
	serverHandler.cleanupJobFuncWithTracking(job.ID)
}

func (serverHandler *ServerHandler) retention() time.Duration {
	hours := serverHandler.ServerConfig.RenderRetentionHours
	if hours <= 0 {
		return defaultRetention
	}
	return time.Duration(hours) * time.Hour
}

// cleanupJobFuncWithTracking removes render directories and finished jobs older than the retention
func (serverHandler *ServerHandler) cleanupJobFuncWithTracking(jobID ulid.ULID) {
	db := serverHandler.DB
	defer func() {
		if r := recover(); r != nil {
			Logger.Error("Panic recovered in cleanup job", "panic", r, "jobID", jobID)
			db.UpdateJobError(jobID, fmt.Sprintf("Panic: %v", r))
		}
	}()

	retention := serverHandler.retention()
	db.UpdateJobStatus(jobID, database.JobStatusRunning, "Removing old render directories")

	removed, err := serverHandler.Converter.Cache.Sweep(retention)
	if err != nil {
		Logger.Error("Render sweep failed", "error", err)
		db.UpdateJobError(jobID, fmt.Sprintf("Failed to sweep render directory: %v", err))
		return
	}
	db.UpdateJobProgress(jobID, 50, "Removing old jobs")

	deleted, err := db.DeleteOldJobs(retention)
	if err != nil {
		Logger.Error("Job cleanup failed", "error", err)
		db.UpdateJobError(jobID, fmt.Sprintf("Failed to delete old jobs: %v", err))
		return
	}

	result, _ := json.Marshal(map[string]int{
		"directories": removed,
		"jobs":        deleted,
	})
	Logger.Info("Render cleanup complete", "directories", removed, "jobs", deleted, "retention", retention)
	db.CompleteJob(jobID, string(result))
}
