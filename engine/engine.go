package engine

import (
	"log/slog"

	"github.com/labstack/echo/v4"

	"github.com/drummonds/elibrary/config"
	"github.com/drummonds/elibrary/database"
	"github.com/drummonds/elibrary/library"
)

// Logger is global since we will need it everywhere
var Logger = slog.Default()

// ServerHandler will inject the variables needed into routes
type ServerHandler struct {
	DB           database.Repository
	Echo         *echo.Echo
	ServerConfig config.ServerConfig
	Library      *library.Library
	Converter    *Converter
	Dispatcher   *Dispatcher
}

// NewServerHandler loads the catalog, builds the render pipeline and a dispatcher
// that records every job in db
func NewServerHandler(db database.Repository, e *echo.Echo, serverConfig config.ServerConfig) (*ServerHandler, error) {
	catalog, err := library.LoadCatalog(serverConfig.CatalogFile)
	if err != nil {
		return nil, err
	}
	converter, err := NewConverter(serverConfig.RenderConfig)
	if err != nil {
		return nil, err
	}
	lib := library.New(serverConfig.LibraryPath, catalog)
	return &ServerHandler{
		DB:           db,
		Echo:         e,
		ServerConfig: serverConfig,
		Library:      lib,
		Converter:    converter,
		Dispatcher:   NewDispatcher(lib, converter, &JobPresenter{DB: db}, Inline),
	}, nil
}

// Close waits for running render jobs and releases the PDF back-end
func (serverHandler *ServerHandler) Close() error {
	if serverHandler.Dispatcher != nil {
		serverHandler.Dispatcher.Wait()
	}
	if serverHandler.Converter != nil {
		return serverHandler.Converter.Close()
	}
	return nil
}
