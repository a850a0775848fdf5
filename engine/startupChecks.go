package engine

import (
	"fmt"
	"os"
	"runtime"

	"github.com/drummonds/elibrary/config"
	"github.com/drummonds/elibrary/engine/slides"
)

// StartupChecks performs all the checks to make sure everything works
func (serverHandler *ServerHandler) StartupChecks() error {
	serverConfig := serverHandler.ServerConfig
	sofficeChecks(serverConfig)
	if err := libraryDirectoryChecks(serverConfig); err != nil {
		return err
	}
	return renderDirectoryChecks(serverConfig)
}

func sofficeChecks(serverConfig config.ServerConfig) {
	if !serverConfig.NativeRender {
		Logger.Info("Native slide rendering switched off, slides use the fallback renderer")
		return
	}
	if !slides.IsDesktop(runtime.GOOS) {
		Logger.Info("Native slide rendering needs a desktop OS, slides use the fallback renderer", "os", runtime.GOOS)
		return
	}
	if serverConfig.SofficePath == "" {
		Logger.Info("Presentation suite not found, slides use the fallback renderer")
		return
	}
	info, err := os.Stat(serverConfig.SofficePath)
	if err != nil || info.IsDir() {
		Logger.Warn("Presentation suite executable not usable, slides use the fallback renderer", "path", serverConfig.SofficePath, "error", err)
		return
	}
	Logger.Info("Presentation suite found, native slide rendering enabled", "path", serverConfig.SofficePath)
}

// libraryDirectoryChecks warns when the library is missing, browsing then lists no files
func libraryDirectoryChecks(serverConfig config.ServerConfig) error {
	if serverConfig.LibraryPath == "" {
		Logger.Warn("Library path not configured")
		return nil
	}

	libraryInfo, err := os.Stat(serverConfig.LibraryPath)
	if err != nil {
		if os.IsNotExist(err) {
			Logger.Warn("Library directory does not exist, every week will be empty", "path", serverConfig.LibraryPath)
			return nil
		}
		Logger.Error("Error checking library directory", "path", serverConfig.LibraryPath, "error", err)
		return err
	}

	if !libraryInfo.IsDir() {
		Logger.Error("Library path exists but is not a directory", "path", serverConfig.LibraryPath)
		return fmt.Errorf("library path is not a directory: %s", serverConfig.LibraryPath)
	}

	Logger.Info("Library directory exists", "path", serverConfig.LibraryPath)
	return nil
}

// renderDirectoryChecks ensures the render directory exists
func renderDirectoryChecks(serverConfig config.ServerConfig) error {
	if serverConfig.RenderDir == "" {
		Logger.Warn("Render path not configured, using the system temp directory")
		return nil
	}

	renderInfo, err := os.Stat(serverConfig.RenderDir)
	if err != nil {
		if os.IsNotExist(err) {
			Logger.Info("Creating render directory", "path", serverConfig.RenderDir)
			err = os.MkdirAll(serverConfig.RenderDir, 0755)
			if err != nil {
				Logger.Error("Failed to create render directory", "path", serverConfig.RenderDir, "error", err)
				return err
			}
			Logger.Info("Render directory created successfully", "path", serverConfig.RenderDir)
			return nil
		}
		Logger.Error("Error checking render directory", "path", serverConfig.RenderDir, "error", err)
		return err
	}

	if !renderInfo.IsDir() {
		Logger.Error("Render path exists but is not a directory", "path", serverConfig.RenderDir)
		return fmt.Errorf("render path is not a directory: %s", serverConfig.RenderDir)
	}

	Logger.Info("Render directory exists", "path", serverConfig.RenderDir)
	return nil
}
