// -----------------------------------------------------------------------
// gentrack - generation job submission and lifecycle tracking CLI
// -----------------------------------------------------------------------

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ternarybob/arbor"
	"gopkg.in/yaml.v3"

	"github.com/ternarybob/gentrack/internal/backend"
	"github.com/ternarybob/gentrack/internal/common"
	"github.com/ternarybob/gentrack/internal/interfaces"
	"github.com/ternarybob/gentrack/internal/models"
	"github.com/ternarybob/gentrack/internal/services/events"
	"github.com/ternarybob/gentrack/internal/services/maintenance"
	badgerstorage "github.com/ternarybob/gentrack/internal/storage/badger"
	"github.com/ternarybob/gentrack/internal/tracker"
)

// configPaths is a custom flag type that allows multiple -config flags
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	// Command-line flags
	configFiles  configPaths // Multiple -config flags supported
	jobFile      = flag.String("f", "", "Job request file (YAML) for the submit command")
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")

	// Global state
	config *common.Config
	logger arbor.ILogger
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("gentrack version %s\n", common.GetVersion())
		os.Exit(0)
	}

	// Auto-discover config file if not specified
	if len(configFiles) == 0 {
		if _, err := os.Stat("gentrack.toml"); err == nil {
			configFiles = append(configFiles, "gentrack.toml")
		}
	}

	var err error
	config, err = common.LoadFromFiles(configFiles...)
	if err != nil {
		tempLogger := arbor.NewLogger()
		tempLogger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger = common.InitLogger(config)
	common.PrintBanner(common.LoadVersionFromFile())

	command := flag.Arg(0)
	if command == "" {
		command = "track"
	}

	if err := run(command); err != nil {
		logger.Fatal().Err(err).Str("command", command).Msg("Command failed")
	}
}

func run(command string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backendClient, err := backend.NewClient(&config.Backend, logger)
	if err != nil {
		return err
	}

	// status and cancel are one-shot operations without local tracking
	switch command {
	case "status":
		return runStatus(ctx, backendClient)
	case "cancel":
		return runCancel(ctx, backendClient)
	}

	db, err := badgerstorage.NewBadgerDB(logger, &config.Storage.Badger)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer db.Close()

	store := badgerstorage.NewStartTimeStorage(db, logger)
	eventService := events.NewService(logger)
	defer eventService.Close()

	if config.Maintenance.Enabled {
		sweep := maintenance.NewService(config, store, db.RunGC, logger)
		if err := sweep.Start(config.Maintenance.Schedule); err != nil {
			logger.Warn().Err(err).Msg("Failed to schedule maintenance sweep")
		} else {
			defer sweep.Stop()
		}
	}

	trk := tracker.New(config, backendClient, store, eventService, logger)

	done := make(chan struct{})
	subscribeProgress(eventService, done)

	if err := trk.Start(ctx); err != nil {
		return err
	}
	defer trk.Stop()

	switch command {
	case "submit":
		req, err := loadJobRequest(*jobFile)
		if err != nil {
			return err
		}
		jobID, err := trk.Submit(ctx, req)
		if err != nil {
			return err
		}
		logger.Info().Str("job_id", jobID).Msg("Job submitted")

	case "track":
		if trk.TrackedJobID() == "" {
			logger.Info().Msg("No in-flight job to track")
			return nil
		}

	default:
		return fmt.Errorf("unknown command: %s (expected submit, track, status or cancel)", command)
	}

	// Follow the job to a terminal state or until interrupted
	select {
	case <-done:
		printFinalState(trk.State())
	case <-ctx.Done():
		logger.Info().Msg("Interrupted")
	}
	return nil
}

// subscribeProgress wires CLI output to tracker events
func subscribeProgress(eventService interfaces.EventService, done chan struct{}) {
	eventService.Subscribe(interfaces.EventStateChanged, func(ctx context.Context, event interfaces.Event) error {
		if state, ok := event.Payload.(*models.JobState); ok && state != nil {
			logger.Info().
				Str("status", string(state.Status)).
				Int("progress", state.Progress).
				Str("stage", state.CurrentStage).
				Msg("Job progress")
		}
		return nil
	})
	eventService.Subscribe(interfaces.EventJobDetached, func(ctx context.Context, event interfaces.Event) error {
		close(done)
		return nil
	})
}

func runStatus(ctx context.Context, client interfaces.BackendClient) error {
	job, err := client.FindActiveJob(ctx, config.Tracking.RecoveryWindowDuration())
	if err != nil {
		if err == interfaces.ErrNoActiveJob {
			fmt.Println("no active job")
			return nil
		}
		return err
	}

	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func runCancel(ctx context.Context, client interfaces.BackendClient) error {
	job, err := client.FindActiveJob(ctx, config.Tracking.RecoveryWindowDuration())
	if err != nil {
		if err == interfaces.ErrNoActiveJob {
			fmt.Println("no active job to cancel")
			return nil
		}
		return err
	}

	if err := client.CancelJob(ctx, job.ID); err != nil {
		return err
	}
	logger.Info().Str("job_id", job.ID).Msg("Job cancelled")
	return nil
}

// loadJobRequest reads a YAML job request file
func loadJobRequest(path string) (*models.JobRequest, error) {
	if path == "" {
		return nil, fmt.Errorf("submit requires a job request file (-f job.yaml)")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read job request file: %w", err)
	}

	var req models.JobRequest
	if err := yaml.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to parse job request file: %w", err)
	}
	return &req, nil
}

func printFinalState(state *models.JobState) {
	if state == nil {
		return
	}

	logger.Info().
		Str("job_id", state.ID).
		Str("status", string(state.Status)).
		Int("progress", state.Progress).
		Msg("Job finished")

	for _, asset := range state.Outputs {
		fmt.Println(asset.URL)
	}
	if state.ErrorMessage != "" {
		fmt.Fprintln(os.Stderr, "error:", state.ErrorMessage)
	}
}
