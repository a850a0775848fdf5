package engine

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/oklog/ulid/v2"

	"github.com/drummonds/elibrary/database"
	"github.com/drummonds/elibrary/library"
)

// RenderRequest selects one file of the library
type RenderRequest struct {
	Grade   int    `json:"grade"`
	Quarter int    `json:"quarter"`
	Subject string `json:"subject"`
	Week    int    `json:"week"`
	File    string `json:"file"`
}

// PageLink is a rendered page as seen by clients
type PageLink struct {
	Index  int    `json:"index"`
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// StartRender selects a file and starts rendering it in the background
// @Summary Render a library file
// @Description Start converting a slide deck or document into page images. Poll /jobs/{id} for the outcome.
// @Tags Render
// @Accept json
// @Produce json
// @Param request body RenderRequest true "Library location and file name"
// @Success 202 {object} map[string]interface{} "Job created with job ID"
// @Failure 400 {object} map[string]interface{} "Invalid location or unsupported file"
// @Failure 404 {object} map[string]interface{} "File not found"
// @Router /render [post]
func (serverHandler *ServerHandler) StartRender(c echo.Context) error {
	var request RenderRequest
	if err := c.Bind(&request); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "Invalid request body",
		})
	}
	loc := library.Location{
		Grade:   request.Grade,
		Quarter: request.Quarter,
		Subject: request.Subject,
		Week:    request.Week,
	}

	job, err := serverHandler.Dispatcher.Select(loc, request.File)
	if err != nil {
		var formatErr *FormatError
		switch {
		case errors.Is(err, library.ErrFileNotFound):
			return c.JSON(http.StatusNotFound, map[string]interface{}{
				"error": fmt.Sprintf("File not found: %s", filepath.Join(loc.Dir(serverHandler.Library.Base), filepath.Base(request.File))),
			})
		case errors.Is(err, library.ErrInvalidLocation), errors.As(err, &formatErr):
			return c.JSON(http.StatusBadRequest, map[string]interface{}{
				"error": err.Error(),
			})
		}
		Logger.Error("Failed to start render", "file", request.File, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "Failed to start render",
		})
	}

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"message": "Render started",
		"jobId":   job.ID.String(),
		"kind":    job.Kind,
		"title":   library.ShortTitle(job.FileName(), 60),
	})
}

// GetRenderPages lists the page images of a completed render job
// @Summary Get rendered pages
// @Tags Render
// @Produce json
// @Param id path string true "Job ID (ULID)"
// @Success 200 {object} map[string]interface{} "Kind and ordered pages"
// @Failure 404 {object} map[string]interface{} "Job not found"
// @Failure 409 {object} map[string]interface{} "Job has not completed"
// @Router /render/{id} [get]
func (serverHandler *ServerHandler) GetRenderPages(c echo.Context) error {
	job, result, status, err := serverHandler.renderResult(c.Param("id"))
	if err != nil {
		return c.JSON(status, map[string]interface{}{
			"error": err.Error(),
		})
	}
	links := make([]PageLink, 0, len(result.Pages))
	for _, page := range result.Pages {
		links = append(links, PageLink{
			Index:  page.Index,
			URL:    fmt.Sprintf("/api/render/%s/pages/%d", job.ID, page.Index),
			Width:  page.Width,
			Height: page.Height,
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"jobId": job.ID.String(),
		"kind":  result.Kind,
		"pages": links,
	})
}

// GetRenderPage serves one PNG of a completed render job
// @Summary Get a rendered page image
// @Tags Render
// @Produce png
// @Param id path string true "Job ID (ULID)"
// @Param page path int true "1 based page or slide number"
// @Success 200 {file} file "PNG image"
// @Failure 404 {object} map[string]interface{} "Job or page not found"
// @Router /render/{id}/pages/{page} [get]
func (serverHandler *ServerHandler) GetRenderPage(c echo.Context) error {
	_, result, status, err := serverHandler.renderResult(c.Param("id"))
	if err != nil {
		return c.JSON(status, map[string]interface{}{
			"error": err.Error(),
		})
	}
	index, err := strconv.Atoi(c.Param("page"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error": "Invalid page number",
		})
	}
	for _, page := range result.Pages {
		if page.Index != index {
			continue
		}
		if !serverHandler.inRenderDir(page.Path) {
			Logger.Warn("Refusing to serve file outside the render directory", "path", page.Path)
			return c.JSON(http.StatusForbidden, map[string]interface{}{
				"error": "Page is not available",
			})
		}
		return c.File(page.Path)
	}
	return c.JSON(http.StatusNotFound, map[string]interface{}{
		"error": "Page not found",
	})
}

// renderResult loads a completed render job, the status is meant for the response when err is set
func (serverHandler *ServerHandler) renderResult(id string) (*database.Job, *RenderResult, int, error) {
	jobID, err := ulid.Parse(id)
	if err != nil {
		return nil, nil, http.StatusBadRequest, errors.New("Invalid job ID format")
	}
	job, err := serverHandler.DB.GetJob(jobID)
	if err != nil {
		if errors.Is(err, database.ErrJobNotFound) {
			return nil, nil, http.StatusNotFound, errors.New("Job not found")
		}
		Logger.Error("Failed to get job", "jobID", id, "error", err)
		return nil, nil, http.StatusInternalServerError, errors.New("Failed to retrieve job")
	}
	if job.Type != database.JobTypeRender {
		return nil, nil, http.StatusNotFound, errors.New("Job is not a render job")
	}
	if job.Status != database.JobStatusCompleted {
		return nil, nil, http.StatusConflict, fmt.Errorf("Job is %s", job.Status)
	}
	result, err := DecodeRenderResult(job)
	if err != nil {
		Logger.Error("Failed to decode render result", "jobID", id, "error", err)
		return nil, nil, http.StatusInternalServerError, errors.New("Invalid render result")
	}
	return job, result, http.StatusOK, nil
}

func (serverHandler *ServerHandler) inRenderDir(path string) bool {
	root, err := filepath.Abs(serverHandler.Converter.Cache.Root)
	if err != nil {
		return false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
