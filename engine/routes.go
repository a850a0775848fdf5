package engine

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/drummonds/elibrary/database"
	"github.com/drummonds/elibrary/internal/build"
)

// NewEcho creates the echo instance with JSON 404s for the API
func NewEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
		}
		if code == http.StatusNotFound && strings.HasPrefix(c.Request().URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, map[string]string{
				"error":   "Not Found",
				"message": "The requested API endpoint does not exist",
				"path":    c.Request().URL.Path,
			})
			return
		}
		e.DefaultHTTPErrorHandler(err, c)
	}
	return e
}

// RegisterRoutes adds middleware and every API route to serverHandler.Echo
func (serverHandler *ServerHandler) RegisterRoutes() {
	e := serverHandler.Echo
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.DefaultCORSConfig))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				Logger.Warn("Request failed", "method", v.Method, "uri", v.URI, "status", v.Status, "error", v.Error)
				return nil
			}
			Logger.Debug("Request", "method", v.Method, "uri", v.URI, "status", v.Status)
			return nil
		},
	}))

	// Admin API routes
	e.GET("/api/health", serverHandler.GetHealth)
	e.GET("/api/about", serverHandler.GetAboutInfo)
	e.POST("/api/clean", serverHandler.CleanRenders)

	// Library browsing
	e.GET("/api/library/grades", serverHandler.GetGrades)
	e.GET("/api/library/grades/:grade/quarters", serverHandler.GetQuarters)
	e.GET("/api/library/grades/:grade/quarters/:quarter/subjects", serverHandler.GetSubjects)
	e.GET("/api/library/weeks", serverHandler.GetWeeks)
	e.GET("/api/library/files", serverHandler.GetFiles)

	// Rendering
	e.POST("/api/render", serverHandler.StartRender)
	e.GET("/api/render/:id", serverHandler.GetRenderPages)
	e.GET("/api/render/:id/pages/:page", serverHandler.GetRenderPage)

	// Job tracking API routes
	e.GET("/api/jobs", serverHandler.GetRecentJobs)
	e.GET("/api/jobs/active", serverHandler.GetActiveJobs)
	e.GET("/api/jobs/:id", serverHandler.GetJob)
}

// GetHealth is the liveness probe
// @Summary Health check
// @Tags Admin
// @Produce json
// @Success 200 {object} map[string]interface{} "ok"
// @Router /health [get]
func (serverHandler *ServerHandler) GetHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status": "ok",
	})
}

// GetAboutInfo returns information about the application configuration
// @Summary Get application information
// @Description Retrieve information about the application configuration, version, render back-ends and database
// @Tags Admin
// @Accept json
// @Produce json
// @Success 200 {object} map[string]interface{} "Application information"
// @Router /about [get]
func (serverHandler *ServerHandler) GetAboutInfo(c echo.Context) error {
	cfg := serverHandler.ServerConfig

	pdfBackend := ""
	if serverHandler.Converter != nil && serverHandler.Converter.PDF != nil {
		pdfBackend = serverHandler.Converter.PDF.Name()
	}
	nativeRender := serverHandler.Converter != nil && serverHandler.Converter.Native.Available()

	aboutInfo := map[string]interface{}{
		"version":      build.Version,
		"pdfBackend":   pdfBackend,
		"nativeRender": nativeRender,
		"sofficePath":  cfg.SofficePath,
		"zoom":         cfg.Zoom,
		"dpi":          cfg.DPI(),
		"maxWidth":     cfg.MaxWidth,
		"slideWidth":   cfg.SlideWidth,
		"databaseType": cfg.DatabaseType,
		"databaseHost": cfg.DatabaseHost,
		"databasePort": cfg.DatabasePort,
		"databaseName": cfg.DatabaseDbname,
		"libraryPath":  cfg.LibraryPath,
		"renderPath":   cfg.RenderDir,
	}

	return c.JSON(http.StatusOK, aboutInfo)
}

// CleanRenders removes old render output and job rows now instead of waiting for the schedule
// @Summary Clean old renders
// @Description Remove render directories and finished jobs older than the retention
// @Tags Admin
// @Accept json
// @Produce json
// @Success 200 {object} map[string]interface{} "Job created with jobId"
// @Failure 500 {object} map[string]interface{} "Internal server error"
// @Router /clean [post]
func (serverHandler *ServerHandler) CleanRenders(c echo.Context) error {
	Logger.Info("Render cleanup triggered via API")

	job, err := serverHandler.DB.CreateJob(database.JobTypeCleanup, "Starting render cleanup")
	if err != nil {
		Logger.Error("Failed to create cleanup job", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"error": "Failed to create cleanup job",
		})
	}

	go serverHandler.cleanupJobFuncWithTracking(job.ID)

	return c.JSON(http.StatusOK, map[string]interface{}{
		"message": "Render cleanup started",
		"jobId":   job.ID.String(),
	})
}
