package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Logger is global since we will need it everywhere
var Logger = slog.Default()

// ServerConfig contains all of the server settings
type ServerConfig struct {
	ListenAddrIP     string
	ListenAddrPort   string
	DatabaseType     string
	DatabaseHost     string
	DatabasePort     string
	DatabaseUser     string
	DatabasePassword string
	DatabaseDbname   string
	DatabaseSslmode  string
	LibraryPath      string // absolute path to the library root
	CatalogFile      string // optional YAML curriculum catalog
	RenderConfig
	HousekeepingConfig
}

// RenderConfig holds everything the rendering pipeline needs
type RenderConfig struct {
	RenderDir    string  // absolute path, one sub folder per job
	Zoom         float64 // paged document zoom, 1.0 == 72 DPI
	MaxWidth     int     // 0 disables downsizing
	SlideWidth   int     // fallback slide canvas width in pixels
	PDFBackend   string  // pdfium or fitz
	NativeRender bool
	SofficePath  string // empty when no presentation suite was found
}

// HousekeepingConfig controls the sweep of old render output
type HousekeepingConfig struct {
	RenderRetentionHours int // 0 disables the sweep
	SweepIntervalMinutes int
}

// DPI converts the zoom factor into the DPI understood by the PDF back-ends
func (r RenderConfig) DPI() int {
	if r.Zoom <= 0 {
		return 72
	}
	return int(72 * r.Zoom)
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	boolVal, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return boolVal
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intVal, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intVal
}

// getEnvFloat gets a float environment variable with a default value
func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	floatVal, err := strconv.ParseFloat(value, 64)
	if err != nil || floatVal <= 0 {
		return defaultValue
	}
	return floatVal
}

// SetupServer loads configuration and returns ServerConfig and Logger
func SetupServer() (ServerConfig, *slog.Logger) {
	// Load .env file (silently ignore if doesn't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load("config.env")

	logger := setupLogging()
	Logger = logger

	serverConfigLive := ServerConfig{}

	// Server configuration
	serverConfigLive.ListenAddrPort = getEnv("SERVER_PORT", "8000")
	serverConfigLive.ListenAddrIP = getEnv("SERVER_ADDR", "")

	// Database configuration, jobs only so sqlite is plenty
	serverConfigLive.DatabaseType = getEnv("DATABASE_TYPE", "sqlite")
	serverConfigLive.DatabaseHost = getEnv("DATABASE_HOST", "localhost")
	serverConfigLive.DatabasePort = getEnv("DATABASE_PORT", "5432")
	serverConfigLive.DatabaseUser = getEnv("DATABASE_USER", "elibrary")
	serverConfigLive.DatabasePassword = getEnv("DATABASE_PASSWORD", "")
	serverConfigLive.DatabaseDbname = getEnv("DATABASE_NAME", "databases/elibrary.sqlite")
	serverConfigLive.DatabaseSslmode = getEnv("DATABASE_SSLMODE", "disable")

	logger.Info("Database configuration loaded", "type", serverConfigLive.DatabaseType)

	libraryPath, err := filepath.Abs(filepath.ToSlash(getEnv("LIBRARY_PATH", "GregorELibrary")))
	if err != nil {
		logger.Error("Failed creating absolute path for library directory", "error", err)
	}
	serverConfigLive.LibraryPath = libraryPath
	serverConfigLive.CatalogFile = getEnv("CATALOG_FILE", "")

	serverConfigLive.RenderConfig = LoadRenderConfig(logger)
	serverConfigLive.RenderRetentionHours = getEnvInt("RENDER_RETENTION_HOURS", 24)
	serverConfigLive.SweepIntervalMinutes = getEnvInt("SWEEP_INTERVAL_MINUTES", 30)

	fmt.Println("\n========================================")
	fmt.Println("   e-library - Document Viewer Service")
	fmt.Println("========================================")
	fmt.Printf("Server will start on: %s:%s\n", serverConfigLive.ListenAddrIP, serverConfigLive.ListenAddrPort)
	if serverConfigLive.ListenAddrIP == "" {
		fmt.Println("(Listening on all network interfaces)")
	}
	fmt.Printf("Library: %s\n", serverConfigLive.LibraryPath)
	fmt.Printf("Rendered pages: %s\n", serverConfigLive.RenderDir)
	fmt.Println("Initializing...")

	return serverConfigLive, logger
}

// LoadRenderConfig reads the rendering settings, shared by the server and the CLI
func LoadRenderConfig(logger *slog.Logger) RenderConfig {
	renderConfig := RenderConfig{}

	renderDir := filepath.ToSlash(getEnv("RENDER_DIR", filepath.Join(os.TempDir(), "elibrary-render")))
	renderDirAbs, err := filepath.Abs(renderDir)
	if err != nil {
		logger.Error("Failed creating absolute path for render directory", "path", renderDir, "error", err)
		renderDirAbs = renderDir
	}
	renderConfig.RenderDir = renderDirAbs

	renderConfig.Zoom = getEnvFloat("RENDER_ZOOM", 2.0)
	renderConfig.MaxWidth = getEnvInt("RENDER_MAX_WIDTH", 0)
	renderConfig.SlideWidth = getEnvInt("SLIDE_WIDTH", 960)

	backend := strings.ToLower(getEnv("PDF_BACKEND", "pdfium"))
	switch backend {
	case "pdfium", "fitz":
	default:
		logger.Warn("Unknown PDF backend, using pdfium", "backend", backend)
		backend = "pdfium"
	}
	renderConfig.PDFBackend = backend

	renderConfig.NativeRender = getEnvBool("NATIVE_RENDER", true)
	if renderConfig.NativeRender {
		renderConfig.SofficePath = findSoffice(getEnv("SOFFICE_PATH", ""), logger)
	}
	if renderConfig.SofficePath != "" {
		logger.Info("Presentation suite found, native slide rendering enabled", "path", renderConfig.SofficePath)
	} else {
		logger.Info("No presentation suite, slides use the fallback renderer")
	}

	logger.Info("Render configuration loaded",
		"dir", renderConfig.RenderDir,
		"zoom", renderConfig.Zoom,
		"backend", renderConfig.PDFBackend)
	return renderConfig
}

// findSoffice returns the configured presentation suite binary or searches PATH for one
func findSoffice(configured string, logger *slog.Logger) string {
	if configured != "" {
		if err := checkExecutables(configured, logger); err != nil {
			return ""
		}
		return configured
	}
	for _, name := range []string{"soffice", "libreoffice"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	return ""
}

// setupLogging configures the application logger
func setupLogging() *slog.Logger {
	logLevel := getEnv("LOG_LEVEL", "info")
	level := ParseLevel(logLevel)

	handlerOptions := &slog.HandlerOptions{Level: level}

	logOutput := getEnv("LOG_OUTPUT", "stdout")
	var logWriter io.Writer

	if logOutput == "stdout" {
		logWriter = os.Stdout
	} else {
		logPath, err := filepath.Abs(filepath.ToSlash(getEnv("LOG_FILE", "elibrary.log")))
		if err != nil {
			fmt.Printf("Error creating log file path: %v\n", err)
			logWriter = os.Stdout
		} else {
			logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
			if err != nil {
				fmt.Printf("Failed to open log file: %v\n", err)
				logWriter = os.Stdout
			} else {
				logWriter = logFile
				fmt.Println("Logging to file: ", logPath)
			}
		}
	}

	handler := slog.NewTextHandler(logWriter, handlerOptions)
	return slog.New(handler)
}

// ParseLevel maps a LOG_LEVEL value onto a slog level, defaulting to debug
func ParseLevel(logLevel string) slog.Level {
	switch strings.ToLower(logLevel) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelDebug
	}
}

// checkExecutables verifies that an executable exists at the given path
func checkExecutables(path string, logger *slog.Logger) error {
	info, err := os.Stat(path)
	if err != nil {
		logger.Error("Cannot find executable at location specified", "path", path)
		return err
	}
	if info.IsDir() {
		logger.Error("Executable path is a directory", "path", path)
		return fmt.Errorf("%s is a directory", path)
	}
	logger.Debug("Executable found", "path", path)
	return nil
}
