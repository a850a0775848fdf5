package engine

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/drummonds/elibrary/config"
	"github.com/drummonds/elibrary/database"
	"github.com/drummonds/elibrary/engine/imagecache"
	"github.com/drummonds/elibrary/internal/testdocs"
	"github.com/drummonds/elibrary/library"
)

type testServer struct {
	e       *echo.Echo
	handler *ServerHandler
	pdf     *fakePDF
	loc     library.Location
}

// setupTestServer creates a server on an in-memory sqlite database and a fake PDF back-end
func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	db, err := database.NewRepository(config.ServerConfig{DatabaseType: "sqlite", DatabaseDbname: ":memory:"})
	if err != nil {
		t.Fatalf("Failed to open sqlite repository: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	base := t.TempDir()
	renderDir := t.TempDir()
	cache, err := imagecache.New(renderDir, 0)
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	pdf := &fakePDF{pages: 2}
	converter := &Converter{PDF: pdf, Cache: cache, DPI: 144, SlideWidth: 320}
	lib := library.New(base, nil)

	serverConfig := config.ServerConfig{
		DatabaseType: "sqlite",
		LibraryPath:  base,
		RenderConfig: config.RenderConfig{
			RenderDir:  renderDir,
			Zoom:       2,
			SlideWidth: 320,
			PDFBackend: "fake",
		},
		HousekeepingConfig: config.HousekeepingConfig{
			RenderRetentionHours: 1,
			SweepIntervalMinutes: 10,
		},
	}

	e := NewEcho()
	serverHandler := &ServerHandler{
		DB:           db,
		Echo:         e,
		ServerConfig: serverConfig,
		Library:      lib,
		Converter:    converter,
		Dispatcher:   NewDispatcher(lib, converter, &JobPresenter{DB: db}, Inline),
	}
	serverHandler.RegisterRoutes()
	// runs before the database closes
	t.Cleanup(serverHandler.Dispatcher.Wait)

	return &testServer{
		e:       e,
		handler: serverHandler,
		pdf:     pdf,
		loc:     library.Location{Grade: 11, Quarter: 1, Subject: "Earth Science", Week: 3},
	}
}

func (s *testServer) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("Failed to parse response: %v\nBody: %s", err, rec.Body.String())
	}
}

func (s *testServer) write(t *testing.T, name string, data []byte) {
	t.Helper()
	testdocs.WriteFile(t, s.loc.Dir(s.handler.Library.Base), name, data)
}

// render posts a render request and waits for the dispatcher to deliver it
func (s *testServer) render(t *testing.T, file string) string {
	t.Helper()
	body := `{"grade": 11, "quarter": 1, "subject": "Earth Science", "week": 3, "file": "` + file + `"}`
	rec := s.do(t, http.MethodPost, "/api/render", body)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var response map[string]interface{}
	decode(t, rec, &response)
	jobID, _ := response["jobId"].(string)
	if jobID == "" {
		t.Fatalf("Response missing jobId: %s", rec.Body.String())
	}

	done := make(chan struct{})
	go func() {
		s.handler.Dispatcher.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("Render job did not finish")
	}
	return jobID
}

func TestHealthAndAbout(t *testing.T) {
	s := setupTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}

	rec = s.do(t, http.MethodGet, "/api/about", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	var about map[string]interface{}
	decode(t, rec, &about)
	if about["pdfBackend"] != "fake" {
		t.Errorf("Expected fake backend, got %v", about["pdfBackend"])
	}
	if about["dpi"] != float64(144) {
		t.Errorf("Expected dpi 144, got %v", about["dpi"])
	}
	if about["nativeRender"] != false {
		t.Errorf("Expected native rendering off, got %v", about["nativeRender"])
	}

	t.Run("Unknown API route", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/api/nothing-here", "")
		if rec.Code != http.StatusNotFound {
			t.Errorf("Expected status 404, got %d", rec.Code)
		}
		var response map[string]string
		decode(t, rec, &response)
		if response["path"] != "/api/nothing-here" {
			t.Errorf("Unexpected 404 body: %v", response)
		}
	})
}

func TestLibraryRoutes(t *testing.T) {
	s := setupTestServer(t)

	t.Run("Grades", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/api/library/grades", "")
		var grades []int
		decode(t, rec, &grades)
		if len(grades) != 2 || grades[0] != 11 || grades[1] != 12 {
			t.Errorf("Expected grades 11 and 12, got %v", grades)
		}
	})

	t.Run("Quarters", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/api/library/grades/11/quarters", "")
		var quarters []map[string]interface{}
		decode(t, rec, &quarters)
		if len(quarters) != 4 || quarters[2]["name"] != "3rd Quarter" {
			t.Errorf("Unexpected quarters %v", quarters)
		}
		if rec := s.do(t, http.MethodGet, "/api/library/grades/13/quarters", ""); rec.Code != http.StatusBadRequest {
			t.Errorf("Expected status 400 for unknown grade, got %d", rec.Code)
		}
	})

	t.Run("Subjects", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/api/library/grades/11/quarters/1/subjects", "")
		var subjects []string
		decode(t, rec, &subjects)
		found := false
		for _, subject := range subjects {
			found = found || subject == "Earth Science"
		}
		if !found {
			t.Errorf("Earth Science missing from %v", subjects)
		}
		if rec := s.do(t, http.MethodGet, "/api/library/grades/11/quarters/5/subjects", ""); rec.Code != http.StatusBadRequest {
			t.Errorf("Expected status 400 for quarter 5, got %d", rec.Code)
		}
	})

	t.Run("Weeks", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/api/library/weeks", "")
		var weeks []int
		decode(t, rec, &weeks)
		if len(weeks) != 8 || weeks[7] != 8 {
			t.Errorf("Expected weeks 1..8, got %v", weeks)
		}
	})

	t.Run("Files", func(t *testing.T) {
		target := "/api/library/files?grade=11&quarter=1&subject=Earth+Science&week=3"
		rec := s.do(t, http.MethodGet, target, "")
		var empty struct {
			Files []string `json:"files"`
		}
		decode(t, rec, &empty)
		if rec.Code != http.StatusOK || empty.Files == nil || len(empty.Files) != 0 {
			t.Fatalf("Expected an empty list for a missing folder, got %d %s", rec.Code, rec.Body.String())
		}

		s.write(t, "b-lesson.pdf", testdocs.PDF(1))
		s.write(t, "a-slides.pptx", testdocs.PPTX([]testdocs.Slide{{Title: "One"}}))
		s.write(t, "notes.txt", []byte("not listed"))

		rec = s.do(t, http.MethodGet, target, "")
		var listing struct {
			Title string   `json:"title"`
			Files []string `json:"files"`
		}
		decode(t, rec, &listing)
		if strings.Join(listing.Files, ",") != "a-slides.pptx,b-lesson.pdf" {
			t.Errorf("Unexpected files %v", listing.Files)
		}
		if listing.Title != "Grade 11 - 1st Quarter - Earth Science - Week 3" {
			t.Errorf("Unexpected title %q", listing.Title)
		}
	})

	t.Run("Files invalid location", func(t *testing.T) {
		for _, target := range []string{
			"/api/library/files?grade=11&quarter=1&subject=Earth+Science&week=9",
			"/api/library/files?grade=11&quarter=3&subject=Earth+Science&week=1",
			"/api/library/files?grade=eleven&quarter=1&subject=PE&week=1",
			"/api/library/files?grade=11&quarter=1&week=1",
		} {
			if rec := s.do(t, http.MethodGet, target, ""); rec.Code != http.StatusBadRequest {
				t.Errorf("%s: expected status 400, got %d", target, rec.Code)
			}
		}
	})
}

func TestRenderRoutes(t *testing.T) {
	s := setupTestServer(t)
	s.write(t, "lesson.pdf", testdocs.PDF(2))

	jobID := s.render(t, "lesson.pdf")

	t.Run("Job completed and delivered", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/api/jobs/"+jobID, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", rec.Code)
		}
		var job database.Job
		decode(t, rec, &job)
		if job.Status != database.JobStatusCompleted || job.Progress != 100 {
			t.Errorf("Expected completed job, got %s at %d%%", job.Status, job.Progress)
		}
		if job.Type != database.JobTypeRender || filepath.Base(job.Source) != "lesson.pdf" {
			t.Errorf("Unexpected job %s for %s", job.Type, job.Source)
		}
		if job.DeliveredAt == nil {
			t.Error("Expected deliveredAt to be set")
		}
		if job.TotalSteps != 2 {
			t.Errorf("Expected 2 total steps, got %d", job.TotalSteps)
		}
	})

	t.Run("Page list", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/api/render/"+jobID, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
		}
		var response struct {
			Kind  Kind       `json:"kind"`
			Pages []PageLink `json:"pages"`
		}
		decode(t, rec, &response)
		if response.Kind != KindPagedDocument || len(response.Pages) != 2 {
			t.Fatalf("Unexpected result %s with %d pages", response.Kind, len(response.Pages))
		}
		if response.Pages[1].URL != "/api/render/"+jobID+"/pages/2" {
			t.Errorf("Unexpected page URL %s", response.Pages[1].URL)
		}
	})

	t.Run("Page image", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/api/render/"+jobID+"/pages/1", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", rec.Code)
		}
		if ct := rec.Header().Get(echo.HeaderContentType); ct != "image/png" {
			t.Errorf("Expected image/png, got %s", ct)
		}
		if !strings.HasPrefix(rec.Body.String(), "\x89PNG") {
			t.Error("Body is not a PNG")
		}
		if rec := s.do(t, http.MethodGet, "/api/render/"+jobID+"/pages/9", ""); rec.Code != http.StatusNotFound {
			t.Errorf("Expected status 404 for a missing page, got %d", rec.Code)
		}
	})
}

func TestRenderRouteErrors(t *testing.T) {
	s := setupTestServer(t)
	s.write(t, "notes.txt", []byte("plain text"))

	tests := []struct {
		name   string
		body   string
		status int
		error  string
	}{
		{"Missing file", `{"grade": 11, "quarter": 1, "subject": "Earth Science", "week": 3, "file": "gone.pdf"}`, http.StatusNotFound, "File not found: "},
		{"Unsupported file", `{"grade": 11, "quarter": 1, "subject": "Earth Science", "week": 3, "file": "notes.txt"}`, http.StatusBadRequest, "unsupported"},
		{"Invalid location", `{"grade": 11, "quarter": 5, "subject": "Earth Science", "week": 3, "file": "a.pdf"}`, http.StatusBadRequest, "quarter 5"},
		{"Bad body", `{"grade": "eleven"`, http.StatusBadRequest, "Invalid request body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/render", tt.body)
			if rec.Code != tt.status {
				t.Fatalf("Expected status %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
			var response map[string]interface{}
			decode(t, rec, &response)
			if msg, _ := response["error"].(string); !strings.Contains(strings.ToLower(msg), strings.ToLower(tt.error)) {
				t.Errorf("Expected error containing %q, got %q", tt.error, msg)
			}
		})
	}

	rec := s.do(t, http.MethodGet, "/api/jobs", "")
	var jobs []database.Job
	decode(t, rec, &jobs)
	if len(jobs) != 0 {
		t.Errorf("Rejected requests must not create jobs, got %d", len(jobs))
	}
}

func TestRenderFailure(t *testing.T) {
	s := setupTestServer(t)
	s.pdf.failAt = 2
	s.write(t, "broken.pdf", testdocs.PDF(2))

	jobID := s.render(t, "broken.pdf")

	rec := s.do(t, http.MethodGet, "/api/jobs/"+jobID, "")
	var job database.Job
	decode(t, rec, &job)
	if job.Status != database.JobStatusFailed {
		t.Fatalf("Expected failed job, got %s", job.Status)
	}
	if !strings.HasPrefix(job.Error, "Failed to convert PDF: ") {
		t.Errorf("Unexpected error %q", job.Error)
	}
	if job.DeliveredAt == nil {
		t.Error("Expected deliveredAt to be set")
	}

	if rec := s.do(t, http.MethodGet, "/api/render/"+jobID, ""); rec.Code != http.StatusConflict {
		t.Errorf("Expected status 409 for a failed job, got %d", rec.Code)
	}
	entries, err := os.ReadDir(s.handler.Converter.Cache.Root)
	if err != nil {
		t.Fatalf("Failed to read render dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Failed job left %d entries in the render dir", len(entries))
	}
}

func TestJobRoutes(t *testing.T) {
	s := setupTestServer(t)

	if rec := s.do(t, http.MethodGet, "/api/jobs/not-a-ulid", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rec.Code)
	}
	if rec := s.do(t, http.MethodGet, "/api/jobs/01ARZ3NDEKTSV4RRFFQ69G5FAV", ""); rec.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rec.Code)
	}
	if rec := s.do(t, http.MethodGet, "/api/render/01ARZ3NDEKTSV4RRFFQ69G5FAV/pages/1", ""); rec.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rec.Code)
	}

	rec := s.do(t, http.MethodGet, "/api/jobs/active", "")
	var active []database.Job
	decode(t, rec, &active)
	if active == nil || len(active) != 0 {
		t.Errorf("Expected an empty active list, got %s", rec.Body.String())
	}
}

func TestCleanupJob(t *testing.T) {
	s := setupTestServer(t)
	root := s.handler.Converter.Cache.Root

	old := filepath.Join(root, "old-job")
	fresh := filepath.Join(root, "fresh-job")
	for _, dir := range []string{old, fresh} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("Failed to create %s: %v", dir, err)
		}
	}
	stale := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(old, stale, stale); err != nil {
		t.Fatalf("Failed to age directory: %v", err)
	}

	job, err := s.handler.DB.CreateJob(database.JobTypeCleanup, "test sweep")
	if err != nil {
		t.Fatalf("Failed to create job: %v", err)
	}
	s.handler.cleanupJobFuncWithTracking(job.ID)

	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Errorf("Expected %s to be swept", old)
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Errorf("Expected %s to survive: %v", fresh, err)
	}

	finished, err := s.handler.DB.GetJob(job.ID)
	if err != nil {
		t.Fatalf("Failed to get job: %v", err)
	}
	if finished.Status != database.JobStatusCompleted {
		t.Fatalf("Expected completed cleanup, got %s (%s)", finished.Status, finished.Error)
	}
	var result map[string]int
	if err := json.Unmarshal([]byte(finished.Result), &result); err != nil {
		t.Fatalf("Invalid result %q: %v", finished.Result, err)
	}
	if result["directories"] != 1 {
		t.Errorf("Expected 1 swept directory, got %d", result["directories"])
	}
}

func TestInitializeSchedules(t *testing.T) {
	s := setupTestServer(t)
	c := s.handler.InitializeSchedules()
	if c == nil {
		t.Fatal("Expected a running schedule")
	}
	defer c.Stop()
	if len(c.Entries()) != 1 {
		t.Errorf("Expected 1 scheduled job, got %d", len(c.Entries()))
	}

	s.handler.ServerConfig.RenderRetentionHours = 0
	if c := s.handler.InitializeSchedules(); c != nil {
		c.Stop()
		t.Error("Expected no schedule when retention is 0")
	}
}

func TestStartupChecks(t *testing.T) {
	s := setupTestServer(t)
	s.handler.ServerConfig.RenderDir = filepath.Join(t.TempDir(), "nested", "render")
	if err := s.handler.StartupChecks(); err != nil {
		t.Fatalf("StartupChecks failed: %v", err)
	}
	if info, err := os.Stat(s.handler.ServerConfig.RenderDir); err != nil || !info.IsDir() {
		t.Errorf("Expected render dir to be created: %v", err)
	}

	file := testdocs.WriteFile(t, t.TempDir(), "library", []byte("x"))
	s.handler.ServerConfig.LibraryPath = file
	if err := s.handler.StartupChecks(); err == nil {
		t.Error("Expected an error when the library path is a file")
	}
}
