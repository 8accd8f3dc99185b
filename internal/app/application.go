package app

import (
	"context"
	"errors"
	"fmt"
	"log"

	"supportchat/internal/api"
	"supportchat/internal/client"
	"supportchat/internal/config"
	"supportchat/internal/database"
	"supportchat/internal/directory"
	"supportchat/internal/metrics"
	"supportchat/internal/websocket"
	pkgdatabase "supportchat/pkg/database"
	"supportchat/pkg/interfaces"
	"supportchat/pkg/types"
)

// ErrNoCredentials is returned when no credential provider is supplied.
var ErrNoCredentials = errors.New("credential provider is required")

// Options carries the pieces the configuration file cannot express.
type Options struct {
	Credentials interfaces.CredentialProvider
	// Self is the local display name; own typing echoes are ignored.
	Self string

	OnTypingChange    func()
	OnDirectoryChange func()

	// NewChannel overrides the transport factory.
	NewChannel client.ChannelFactory
}

// Application coordinates all client components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config    *config.Config
	archive   *database.Manager
	apiClient *api.Client
	directory *directory.Directory
	client    *client.Client
	metrics   *metrics.Server
}

// NewApplication builds every component without touching the network.
// Initialization order: Archive → REST client → Directory → Chat client
func NewApplication(cfg *config.Config, opts Options) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if opts.Credentials == nil {
		return nil, ErrNoCredentials
	}

	app := &Application{config: cfg}

	// STEP 1: Open the local archive (optional)
	if cfg.Archive.Enabled {
		archive, err := OpenArchive(cfg)
		if err != nil {
			return nil, err
		}
		app.archive = archive
		log.Printf("Transcript archive opened at %s", cfg.Archive.Path)
	}

	// STEP 2: Admin connections get the REST client and session directory
	// ARCHITECTURAL DISCOVERY: Customers never see the directory, so neither
	// the poller nor the REST client exists for them
	if cfg.IsAdmin() {
		apiClient, err := api.NewClient(cfg.API.BaseURL, opts.Credentials, cfg.API.Timeout)
		if err != nil {
			app.closeArchive()
			return nil, fmt.Errorf("failed to initialize REST client: %w", err)
		}
		app.apiClient = apiClient

		dirOpts := directory.Options{
			API:          apiClient,
			PollInterval: cfg.Directory.PollInterval,
			OnChange:     opts.OnDirectoryChange,
		}
		if app.archive != nil {
			dirOpts.Archiver = app.archive
		}
		dir, err := directory.New(dirOpts)
		if err != nil {
			app.closeArchive()
			return nil, fmt.Errorf("failed to initialize session directory: %w", err)
		}
		app.directory = dir
	}

	// STEP 3: Chat client with its registry, router, typing tracker and hub
	clientOpts := client.Options{
		Role:              types.Role(cfg.Channel.Role),
		Credentials:       opts.Credentials,
		Self:              opts.Self,
		Channel:           ChannelOptions(cfg),
		NewChannel:        opts.NewChannel,
		TypingDebounce:    cfg.Typing.Debounce,
		TypingVisibility:  cfg.Typing.Visibility,
		OnTypingChange:    opts.OnTypingChange,
		MessagesPerMinute: cfg.Limits.MessagesPerMinute,
	}
	if cfg.Limits.MessagesPerMinute == 0 {
		// Configured zero means unlimited; the client treats zero as "default"
		clientOpts.MessagesPerMinute = -1
	}
	if app.directory != nil {
		clientOpts.Directory = app.directory
	}
	chat, err := client.New(clientOpts)
	if err != nil {
		app.closeArchive()
		return nil, fmt.Errorf("failed to initialize chat client: %w", err)
	}
	app.client = chat

	return app, nil
}

// Start brings the application online
// Metrics first so connection attempts are counted, then the directory poller,
// then the channel
func (app *Application) Start(ctx context.Context) error {
	log.Printf("Starting supportchat: role=%s url=%s", app.config.Channel.Role, app.config.Channel.URL)

	// STEP 1: Metrics endpoint
	if app.config.Metrics.Enabled {
		app.metrics = metrics.StartServer(app.config.Metrics.Addr, app.config.Metrics.Path)
	}

	// STEP 2: Directory polling (admin)
	if app.directory != nil {
		if err := app.directory.Start(ctx); err != nil {
			app.stopMetrics(ctx)
			return fmt.Errorf("failed to start session directory: %w", err)
		}
	}

	// STEP 3: Real-time channel
	if err := app.client.InitializeConnection(ctx); err != nil {
		if app.directory != nil {
			app.directory.Stop()
		}
		app.stopMetrics(ctx)
		return fmt.Errorf("failed to connect: %w", err)
	}

	log.Printf("supportchat started")
	return nil
}

// Stop shuts down in reverse dependency order: Channel → Directory → Metrics → Archive
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("Shutting down supportchat")

	// STEP 1: Close the channel and clear session state
	if err := app.client.Close(); err != nil {
		log.Printf("Chat client shutdown error: %v", err)
	}

	// STEP 2: Stop directory polling
	if app.directory != nil {
		app.directory.Stop()
	}

	// STEP 3: Metrics endpoint
	app.stopMetrics(ctx)

	// STEP 4: Close the archive
	app.closeArchive()

	log.Printf("supportchat shutdown complete")
	return nil
}

func (app *Application) stopMetrics(ctx context.Context) {
	if app.metrics == nil {
		return
	}
	if err := app.metrics.Shutdown(ctx); err != nil {
		log.Printf("Metrics server shutdown error: %v", err)
	}
	app.metrics = nil
}

func (app *Application) closeArchive() {
	if app.archive == nil {
		return
	}
	if err := app.archive.Close(); err != nil {
		log.Printf("Archive shutdown error: %v", err)
	}
}

// Client returns the chat client.
func (app *Application) Client() *client.Client { return app.client }

// Directory returns the session directory; nil for customer connections.
func (app *Application) Directory() *directory.Directory { return app.directory }

// Archive returns the transcript archive; nil when disabled.
func (app *Application) Archive() *database.Manager { return app.archive }

// Config returns the effective configuration.
func (app *Application) Config() *config.Config { return app.config }

// ChannelOptions maps the channel section onto transport options. Role and
// credentials are filled in by the client.
func ChannelOptions(cfg *config.Config) websocket.ChannelOptions {
	ch := cfg.Channel
	return websocket.ChannelOptions{
		URL:                  ch.URL,
		HandshakeTimeout:     ch.HandshakeTimeout,
		ReconnectInitial:     ch.ReconnectInitial,
		ReconnectMaxInterval: ch.ReconnectMaxInterval,
		ReconnectMaxElapsed:  ch.ReconnectMaxElapsed,
		InvokeTimeout:        ch.InvokeTimeout,
		EventBuffer:          ch.EventBuffer,
		Connection: websocket.ConnectionOptions{
			WriteTimeout: ch.WriteTimeout,
			ReadTimeout:  ch.ReadTimeout,
			PingInterval: ch.PingInterval,
			BufferSize:   ch.BufferSize,
		},
	}
}

// OpenArchive opens the sqlite archive named by the archive section.
func OpenArchive(cfg *config.Config) (*database.Manager, error) {
	dbConfig := pkgdatabase.DefaultConfig()
	dbConfig.DatabasePath = cfg.Archive.Path

	archive, err := database.NewManager(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	return archive, nil
}
