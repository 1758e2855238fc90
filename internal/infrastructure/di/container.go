package di

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"

	storagegateway "github.com/YoshitsuguKoike/quotacycle/internal/adapter/gateway/storage"
	"github.com/YoshitsuguKoike/quotacycle/internal/app"
	appconfig "github.com/YoshitsuguKoike/quotacycle/internal/app/config"
	"github.com/YoshitsuguKoike/quotacycle/internal/application/port/output"
	"github.com/YoshitsuguKoike/quotacycle/internal/application/service"
	appworkflow "github.com/YoshitsuguKoike/quotacycle/internal/application/workflow"
	"github.com/YoshitsuguKoike/quotacycle/internal/domain/repository"
	domainservice "github.com/YoshitsuguKoike/quotacycle/internal/domain/service"
	sqliterepo "github.com/YoshitsuguKoike/quotacycle/internal/infrastructure/persistence/sqlite"
	"github.com/YoshitsuguKoike/quotacycle/internal/infrastructure/queue"
	"github.com/YoshitsuguKoike/quotacycle/internal/infrastructure/transaction"
	"github.com/YoshitsuguKoike/quotacycle/internal/jobs"
	"github.com/YoshitsuguKoike/quotacycle/internal/workflow"
)

// Container is the DI container that holds all dependencies
// This implements manual dependency injection for Clean Architecture
type Container struct {
	// Infrastructure Layer - Database
	db *sql.DB

	// Infrastructure Layer - Repositories (SQLite implementations)
	jobRepo   repository.JobExecutionRepository
	stateRepo repository.CycleStateRepository

	// Infrastructure Layer - Gateways
	statusGateway output.StatusGateway

	// Infrastructure Layer - Transaction Manager
	txManager output.TransactionManager

	// Application Layer - Services
	publisher *service.StatusPublisher
	janitor   *service.StaleExecutionJanitor
	manager   *appworkflow.WorkflowManager

	// Step IDs are scoped to a workflow, so each one gets its own job
	// registry, coordinator and engine
	registries map[string]*jobs.Registry
	engines    map[string]*service.CycleEngine

	logger app.Logger
	fs     afero.Fs
	config Config
}

// Config holds configuration for the container
type Config struct {
	App    appconfig.Config
	Logger app.Logger
	Fs     afero.Fs // Filesystem for workflow files and the file status sink (default: OS)

	// StatusGateway replaces the sink selected by App.StatusSink() when set
	StatusGateway output.StatusGateway
}

// NewContainer creates and initializes the DI container
func NewContainer(ctx context.Context, config Config) (*Container, error) {
	if config.App == nil {
		return nil, errors.New("container: configuration is required")
	}
	c := &Container{
		config:     config,
		logger:     config.Logger,
		fs:         config.Fs,
		registries: make(map[string]*jobs.Registry),
		engines:    make(map[string]*service.CycleEngine),
	}
	if c.logger == nil {
		c.logger = app.NopLogger()
	}
	if c.fs == nil {
		c.fs = afero.NewOsFs()
	}

	// Initialize dependencies in dependency order
	if err := c.initializeInfrastructure(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize infrastructure: %w", err)
	}
	c.initializeApplication()
	return c, nil
}

// initializeInfrastructure opens the database and builds the status sink
func (c *Container) initializeInfrastructure(ctx context.Context) error {
	cfg := c.config.App

	db, err := sqliterepo.Open(cfg.DBPath())
	if err != nil {
		return err
	}
	c.db = db
	c.jobRepo = sqliterepo.NewJobExecutionRepository(db)
	c.stateRepo = sqliterepo.NewCycleStateRepository(db)
	c.txManager = transaction.NewSQLiteTransactionManager(db)

	if c.config.StatusGateway != nil {
		c.statusGateway = c.config.StatusGateway
		return nil
	}
	gateway, err := c.buildStatusGateway(ctx)
	if err != nil {
		return err
	}
	c.statusGateway = gateway
	return nil
}

func (c *Container) buildStatusGateway(ctx context.Context) (output.StatusGateway, error) {
	cfg := c.config.App
	switch cfg.StatusSink() {
	case "s3":
		gateway, err := storagegateway.NewS3StatusGateway(ctx, storagegateway.S3Config{
			BucketName: cfg.S3Bucket(),
			Prefix:     cfg.S3Prefix(),
			Region:     cfg.S3Region(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 status gateway: %w", err)
		}
		return gateway, nil
	case "memory":
		return storagegateway.NewMemoryStatusGateway(), nil
	default:
		gateway, err := storagegateway.NewLocalStatusGateway(c.fs, cfg.Home())
		if err != nil {
			return nil, fmt.Errorf("failed to create local status gateway: %w", err)
		}
		return gateway, nil
	}
}

// initializeApplication builds the services shared by every workflow
func (c *Container) initializeApplication() {
	cfg := c.config.App

	c.publisher = service.NewStatusPublisher(c.statusGateway, c.logger, cfg.ProgressPublishInterval())

	c.janitor = service.NewStaleExecutionJanitor(c.jobRepo, c.logger, service.JanitorConfig{
		SweepInterval:  cfg.JanitorInterval(),
		RunningCeiling: cfg.JanitorCeiling(),
	})

	c.manager = appworkflow.NewWorkflowManager(c.logger)
	c.manager.RegisterService(c.janitor)
	c.manager.RegisterService(c.publisher)
}

// LoadDefinitions reads the configured workflow files. Relative paths are
// resolved against the home directory; with none configured every
// workflows/*.yaml under home is loaded.
func (c *Container) LoadDefinitions() ([]*workflow.Definition, error) {
	home := c.config.App.Home()
	var paths []string
	for _, p := range c.config.App.Workflows() {
		if !filepath.IsAbs(p) {
			p = filepath.Join(home, p)
		}
		paths = append(paths, p)
	}
	if len(paths) == 0 {
		matches, err := afero.Glob(c.fs, filepath.Join(home, "workflows", "*.yaml"))
		if err != nil {
			return nil, fmt.Errorf("find workflow files: %w", err)
		}
		sort.Strings(matches)
		paths = matches
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no workflow files configured or found in %s", filepath.Join(home, "workflows"))
	}

	defs := make([]*workflow.Definition, 0, len(paths))
	for _, p := range paths {
		def, err := workflow.Load(c.fs, p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// RegisterWorkflow binds the definition's command jobs and registers a
// supervised engine for it
func (c *Container) RegisterWorkflow(def *workflow.Definition) error {
	cfg := c.config.App
	w := def.Workflow()
	if n := cfg.MaxCycles(); n > 0 {
		w.MaxCycles = &n
	}
	if err := w.Validate(); err != nil {
		return err
	}
	if _, exists := c.engines[w.Name]; exists {
		return fmt.Errorf("workflow %s already registered", w.Name)
	}

	apiQueue := queue.NewRateLimitedQueue(queue.Config{Rate: cfg.APIRate(), Burst: cfg.APIBurst()}, c.logger)

	registry := jobs.NewRegistry()
	cmdConfig := jobs.DefaultCommandConfig()
	cmdConfig.QuotaExitCode = cfg.QuotaExitCode()
	cmdConfig.Env = []string{"QC_WORKFLOW=" + w.Name, "QC_HOME=" + cfg.Home()}
	if err := registry.RegisterCommands(def.Commands(), apiQueue, cmdConfig); err != nil {
		return err
	}

	ids := make([]string, 0, len(w.Steps))
	for _, s := range w.Steps {
		if !s.Skipped {
			ids = append(ids, s.StepID)
		}
	}
	if missing := registry.Missing(ids); len(missing) > 0 {
		c.logger.Warn("[%s] steps without a job will fail when run: %v", w.Name, missing)
	}

	coordConfig := service.DefaultCoordinatorConfig()
	coordConfig.StepTimeout = cfg.StepTimeout()
	coordConfig.StaleThreshold = cfg.StaleThreshold()
	coordinator := service.NewJobExecutionCoordinator(
		c.jobRepo, registry, domainservice.NewQuotaClassifier(), c.txManager, c.logger, coordConfig)
	recovery := service.NewRecoveryController(c.stateRepo, c.jobRepo, coordinator, c.logger, cfg.StaleThreshold())

	engineConfig := service.DefaultEngineConfig()
	engineConfig.PausePollInterval = cfg.PausePollInterval()
	engineConfig.ProgressPublishInterval = cfg.ProgressPublishInterval()
	engine := service.NewCycleEngine(service.EngineDeps{
		StateRepo:   c.stateRepo,
		JobRepo:     c.jobRepo,
		Coordinator: coordinator,
		Publisher:   c.publisher,
		Queue:       apiQueue,
		Logger:      c.logger,
	}, engineConfig)
	engine.AddPauseCondition(service.QuotaSignalPauseCondition())
	engine.AddContinueCondition(service.QuotaWindowContinueCondition())

	supervision := appworkflow.DefaultWorkflowConfig(w.Name)
	supervision.RestartBackoff = cfg.RestartBackoff()
	supervision.MaxRestarts = cfg.MaxRestarts()
	supervision.HeartbeatInterval = cfg.HeartbeatInterval()

	runner := appworkflow.NewEngineRunner(w, recovery, engine, c.logger)
	if err := c.manager.RegisterWorkflow(runner, supervision); err != nil {
		return err
	}
	c.engines[w.Name] = engine
	c.registries[w.Name] = registry
	return nil
}

// Run supervises every registered workflow until ctx is cancelled or all finish
func (c *Container) Run(ctx context.Context) error {
	return c.manager.Run(ctx)
}

// GetManager returns the workflow manager
func (c *Container) GetManager() *appworkflow.WorkflowManager {
	return c.manager
}

// GetEngine returns the engine of the named workflow
func (c *Container) GetEngine(name string) (*service.CycleEngine, bool) {
	e, ok := c.engines[name]
	return e, ok
}

// GetRegistry returns the job registry of the named workflow so callers can
// bind in-process jobs before Run
func (c *Container) GetRegistry(name string) (*jobs.Registry, bool) {
	r, ok := c.registries[name]
	return r, ok
}

// GetStatusGateway returns the status sink
func (c *Container) GetStatusGateway() output.StatusGateway {
	return c.statusGateway
}

// GetPublisher returns the status publisher
func (c *Container) GetPublisher() *service.StatusPublisher {
	return c.publisher
}

// GetStateRepository returns the cycle state repository
func (c *Container) GetStateRepository() repository.CycleStateRepository {
	return c.stateRepo
}

// GetJobExecutionRepository returns the job execution record store
func (c *Container) GetJobExecutionRepository() repository.JobExecutionRepository {
	return c.jobRepo
}

// Close closes all resources held by the container
func (c *Container) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}
