package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/semaphore"

	"github.com/kalambet/intelliinspect/internal/api"
	"github.com/kalambet/intelliinspect/internal/config"
	"github.com/kalambet/intelliinspect/internal/evaluate"
	"github.com/kalambet/intelliinspect/internal/jobs"
	"github.com/kalambet/intelliinspect/internal/pipeline"
	"github.com/kalambet/intelliinspect/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"start"},
	Short:   "Start the HTTP server and job worker (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(cmd.Context())
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server state, artifacts and the latest training outcome",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "intelliinspect.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func serverAddr(cfg config.Config) string {
	return net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
}

// gatedTrainer makes queued jobs wait for any training started over HTTP.
type gatedTrainer struct {
	svc  *pipeline.Service
	gate *semaphore.Weighted
}

func (g gatedTrainer) TrainJob(ctx context.Context, jobID string) (evaluate.Record, error) {
	if err := g.gate.Acquire(ctx, 1); err != nil {
		return evaluate.Record{}, err
	}
	defer g.gate.Release(1)
	return g.svc.TrainJob(ctx, jobID)
}

func runServer(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := log.With().Str("component", "server").Logger()
	logger.Info().Str("version", version).Str("data_dir", cfg.Storage.DataDir).Msg("starting")

	// Refuse to start twice on the same port.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get("http://" + serverAddr(cfg) + "/health"); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("intelliinspect is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		return fmt.Errorf("server already running on %s", serverAddr(cfg))
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn().Err(err).Msg("closing storage")
		}
	}()

	svc := pipeline.New(pipelineConfig(cfg), store)
	gate := semaphore.NewWeighted(1)

	worker := jobs.NewWorker(store, gatedTrainer{svc: svc, gate: gate}, cfg.Jobs.PollInterval)
	workerDone := make(chan struct{})
	go func() {
		worker.Run(ctx)
		close(workerDone)
	}()

	handler := api.NewHandler(api.Deps{
		Service:   svc,
		Jobs:      store,
		Token:     cfg.Server.Token,
		TrainGate: gate,
	})

	ln, err := net.Listen("tcp", serverAddr(cfg))
	if err != nil {
		return fmt.Errorf("listening on %s: %w", serverAddr(cfg), err)
	}
	if cfg.Server.MaxConns > 0 {
		ln = netutil.LimitListener(ln, cfg.Server.MaxConns)
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", ln.Addr().String()).Int("max_conns", cfg.Server.MaxConns).Msg("listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)
	<-workerDone
	return err
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("intelliinspect is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop intelliinspect (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to intelliinspect (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client := apiClientFor(cfg)
	client.retryFor = 0

	var rep pipeline.StatusReport
	if resp, err := client.get(ctx, "/status"); err == nil {
		printStatus("Server", "running on %s", serverAddr(cfg))
		if err := decodeJSON(resp, &rep); err != nil {
			return err
		}
	} else {
		printStatus("Server", "stopped")
		svc, store, err := newLocalService(cfg)
		if err != nil {
			return err
		}
		defer store.Close()
		if rep, err = svc.Status(ctx); err != nil {
			return err
		}
	}

	printStatusReport(rep)
	return nil
}
