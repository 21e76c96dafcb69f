package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/stephnangue/stash/config"
	"github.com/stephnangue/stash/core"
	stashhttp "github.com/stephnangue/stash/http"
	"github.com/stephnangue/stash/listener"
	"github.com/stephnangue/stash/listener/api"
	log "github.com/stephnangue/stash/logger"
	"github.com/stephnangue/stash/plugin"
)

const (
	// Subsystem names for logging
	subsystemCore     = "core"
	subsystemListener = "listener"
)

var (
	configPath string

	ServerCmd = &cobra.Command{
		Use:   "server",
		Short: "This command starts a stash server that responds to API requests",
		Long: `
Usage: stash server [options]

  This command starts a stash server that responds to API requests.

  Start a server with a configuration file:

      $ stash server --config=/etc/stash/config.hcl
  `,
		RunE: run,
	}

	wg sync.WaitGroup

	cleanupGuard sync.Once
)

func init() {
	ServerCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (e.g., path/to/stash.hcl)")
}

func run(cmd *cobra.Command, args []string) error {
	if configPath == "" {
		return fmt.Errorf("config file path is required. Use -c or --config flag")
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", configPath)
	}

	conf, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// construct the logger with the gate closed during initialization
	logger := buildGatedLogger(conf)

	infoKeys := make([]string, 0, 8)
	info := make(map[string]string)
	info["log level"] = conf.LogLevel
	infoKeys = append(infoKeys, "log level")
	info["log format"] = conf.LogFormat
	infoKeys = append(infoKeys, "log format")
	if conf.LogFile != "" {
		info["log file"] = conf.LogFile
		infoKeys = append(infoKeys, "log file")
	}

	newCore := core.NewCore(&core.CoreConfig{
		Logger: logger.WithSystem(subsystemCore),
	})

	// Attach the storage plugin. A driver configuration error aborts
	// startup here.
	pluginConfig, err := buildPluginConfig(conf, logger)
	if err != nil {
		return err
	}
	storagePlugin := plugin.New(pluginConfig)
	if err := newCore.RegisterPlugin(cmd.Context(), storagePlugin); err != nil {
		return fmt.Errorf("failed to attach storage: %w", err)
	}

	info["storage"] = conf.Storage.Type
	infoKeys = append(infoKeys, "storage")
	info["mounts"] = fmt.Sprintf("%d", len(conf.Mounts)+1)
	infoKeys = append(infoKeys, "mounts")

	httpHandler := stashhttp.Handler(&stashhttp.HandlerProperties{
		Core:   newCore,
		Logger: logger.WithSystem("http"),
	})

	lns, err := initListeners(httpHandler, conf, logger, &infoKeys, &info)
	if err != nil {
		return err
	}

	// Shutdown error tracking
	var shutdownErrs []error
	var shutdownErrsMu sync.Mutex

	// Make sure we close all listeners from this point on
	listenerCloseFunc := func() {
		for _, ln := range lns {
			if err := ln.Stop(); err != nil {
				shutdownErrsMu.Lock()
				shutdownErrs = append(shutdownErrs, fmt.Errorf("failed to stop %s listener at %s: %w", ln.Type(), ln.Addr(), err))
				shutdownErrsMu.Unlock()
			}
		}
	}
	defer cleanupGuard.Do(listenerCloseFunc)

	sort.Strings(infoKeys)
	fmt.Fprintf(cmd.OutOrStdout(), "\n==> Stash server configuration:\n\n")

	titleCaser := cases.Title(language.English, cases.NoLower)
	for _, k := range infoKeys {
		fmt.Fprintf(cmd.OutOrStdout(), "%24s: %s\n", titleCaser.String(k), info[k])
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	errChan := make(chan error, len(lns))
	var listenerErrs []error
	var listenerErrsMu sync.Mutex
	totalListeners := len(lns)

	for _, ln := range lns {
		ln := ln
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ln.Start(ctx); err != nil {
				errChan <- err
			}
		}()
	}

	fmt.Fprintf(cmd.OutOrStdout(), "\n==> Stash server started! Log data will stream in below:\n")
	logger.OpenGate()

	// Wait for shutdown
	shutdownTriggered := false
	for !shutdownTriggered {
		select {
		case err := <-errChan:
			listenerErrsMu.Lock()
			listenerErrs = append(listenerErrs, err)
			failedCount := len(listenerErrs)
			listenerErrsMu.Unlock()

			// Only trigger shutdown if all listeners have failed
			if failedCount >= totalListeners {
				fmt.Fprintf(cmd.OutOrStdout(), "All listeners have failed, triggering shutdown\n")
				shutdownTriggered = true
				cancel()
			}
		case <-ctx.Done():
			fmt.Fprintf(cmd.OutOrStdout(), "Stash shutdown triggered\n")
			shutdownTriggered = true
			cancel()
		}
	}

	// Stop the listeners so that we don't process further client requests
	cleanupGuard.Do(listenerCloseFunc)

	// Wait for all listener goroutines to finish and collect any
	// remaining errors
	wg.Wait()
	close(errChan)
	for err := range errChan {
		listenerErrsMu.Lock()
		listenerErrs = append(listenerErrs, err)
		listenerErrsMu.Unlock()
	}
	if len(listenerErrs) > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "Listener errors occurred during runtime: %v\n", errors.Join(listenerErrs...))
	}

	// Shutdown the core. This runs the storage plugin's close hook:
	// the optional close callback first, then unwatch, unmount-all
	// and dispose.
	if err := newCore.Shutdown(context.Background()); err != nil {
		shutdownErrsMu.Lock()
		shutdownErrs = append(shutdownErrs, fmt.Errorf("core shutdown failed: %w", err))
		shutdownErrsMu.Unlock()
	}

	if len(shutdownErrs) > 0 {
		aggregated := errors.Join(shutdownErrs...)
		fmt.Fprintf(cmd.OutOrStdout(), "Shutdown completed with errors: %v\n", aggregated)
		return aggregated
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Server shutdown completed successfully\n")
	return nil
}

func buildGatedLogger(conf *config.Config) *log.GatedLogger {
	logConfig := &log.Config{
		Level:   log.ParseLogLevel(conf.LogLevel),
		Format:  log.ParseOutputFormat(conf.LogFormat),
		System:  subsystemCore,
		Outputs: []io.Writer{os.Stdout},
	}
	if conf.LogFile != "" {
		logConfig.FileConfig = &log.FileConfig{
			Filename:   conf.LogFile,
			MaxSize:    conf.LogRotateMegabytes,
			MaxAge:     conf.LogRotationPeriod,
			MaxBackups: conf.LogRotateMaxFiles,
		}
	}

	gateConfig := log.GatedWriterConfig{
		Underlying:    os.Stdout,
		InitialState:  log.GateClosed,
		MaxBufferSize: 10 * 1024 * 1024, // 10MB buffer for initialization logs
	}

	return log.NewGatedLogger(logConfig, gateConfig)
}

func buildPluginConfig(conf *config.Config, logger *log.GatedLogger) (*plugin.Config, error) {
	if conf.Storage == nil {
		return nil, errors.New("a storage driver must be specified")
	}

	mounts := make([]plugin.MountConfig, 0, len(conf.Mounts))
	for _, m := range conf.Mounts {
		mounts = append(mounts, plugin.MountConfig{
			Base:    m.Base,
			Driver:  m.Type,
			Options: m.Config(),
		})
	}

	return &plugin.Config{
		Driver:  conf.Storage.Type,
		Options: conf.Storage.Config(),
		Mounts:  mounts,
		Logger:  logger.WithSystem("storage"),
	}, nil
}

func initListeners(httpHandler http.Handler, conf *config.Config, logger *log.GatedLogger, infoKeys *[]string, info *map[string]string) ([]listener.Listener, error) {
	lns := make([]listener.Listener, 0, len(conf.Listeners))

	for _, lnConfig := range conf.Listeners {
		ln, err := api.NewApiListener(api.ApiListenerConfig{
			Logger:  logger.WithSystem(subsystemListener),
			Address: lnConfig.Address,
		}, httpHandler)
		if err != nil {
			return nil, fmt.Errorf("error initializing listener %q: %w", lnConfig.Name, err)
		}
		lns = append(lns, ln)

		key := fmt.Sprintf("listener %s", lnConfig.Name)
		(*info)[key] = lnConfig.Address
		*infoKeys = append(*infoKeys, key)
	}

	if len(lns) == 0 {
		return nil, errors.New("at least one listener must be configured")
	}

	return lns, nil
}
