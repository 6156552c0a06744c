package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"tripdemand.dev/trips"
	"tripdemand.dev/trips/config"
	"tripdemand.dev/trips/downloader"
	"tripdemand.dev/trips/storage"
)

var rootCmd = &cobra.Command{
	Use:               "tripsvc",
	Short:             "Trip demand service",
	Long:              "Loads trip points from a shared drive and serves queries over them",
	SilenceUsage:      true,
	PersistentPreRunE: initLogging,
}

var (
	configPath string
	csvHandle  string
	jsonHandle string
	backend    string
	cacheFile  string
	headers    []string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yml", "YAML config file")
	rootCmd.PersistentFlags().StringVarP(&csvHandle, "csv-id", "", "", "Drive handle of the trip CSV")
	rootCmd.PersistentFlags().StringVarP(&jsonHandle, "json-id", "", "", "Drive handle of the auxiliary JSON")
	rootCmd.PersistentFlags().StringVarP(&backend, "storage", "", "", "Snapshot storage: memory, sqlite or postgres")
	rootCmd.PersistentFlags().StringVarP(&cacheFile, "cache-file", "", "", "Cache downloads in this file")
	rootCmd.PersistentFlags().StringSliceVarP(
		&headers,
		"header",
		"",
		[]string{},
		"HTTP header sent with downloads",
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func initLogging(cmd *cobra.Command, args []string) error {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	return nil
}

func parseHeaders(headers []string) (map[string]string, error) {
	parsed := map[string]string{}
	for _, header := range headers {
		parts := strings.SplitN(header, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("'%s' is not on form <key>:<value>", header)
		}
		parsed[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return parsed, nil
}

// Loads the config file and applies command line overrides.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}

	flags := cmd.Flags()
	if flags.Changed("csv-id") {
		cfg.Dataset.CSVHandle = csvHandle
	}
	if flags.Changed("json-id") {
		cfg.Dataset.JSONHandle = jsonHandle
	}
	if flags.Changed("storage") {
		cfg.Storage.Backend = backend
	}
	if flags.Changed("cache-file") {
		cfg.Dataset.CacheFile = cacheFile
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}

	return cfg, nil
}

func buildStorage(cfg config.StorageConfig) (storage.Storage, error) {
	switch cfg.Backend {
	case "memory":
		return storage.NewMemoryStorage(), nil
	case "sqlite":
		return storage.NewSQLiteStorage(storage.SQLiteConfig{OnDisk: true, Directory: cfg.SQLiteDir})
	case "postgres":
		return storage.NewPSQLStorage(cfg.PostgresDSN, false)
	}
	return nil, fmt.Errorf("unknown storage backend '%s'", cfg.Backend)
}

func buildDrive(cfg config.DatasetConfig) *downloader.Drive {
	drive := downloader.NewDrive()
	drive.BaseURL = cfg.BaseURL
	drive.Options.Timeout = cfg.Timeout()
	drive.Options.MaxSize = cfg.MaxSize()
	return drive
}

func buildManager(cfg config.Config) (*trips.Manager, error) {
	s, err := buildStorage(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("creating storage: %w", err)
	}

	h, err := parseHeaders(headers)
	if err != nil {
		return nil, fmt.Errorf("invalid header: %w", err)
	}

	manager := trips.NewManager(s, cfg.Dataset.CSVHandle, cfg.Dataset.JSONHandle)
	manager.Headers = h
	manager.Drive = buildDrive(cfg.Dataset)
	manager.Downloader = manager.Drive
	manager.Timeout = cfg.Dataset.Timeout()
	manager.MaxSize = cfg.Dataset.MaxSize()
	manager.CacheTTL = cfg.Dataset.CacheTTL()

	if cfg.Dataset.CacheFile != "" {
		fs, err := downloader.NewFilesystem(cfg.Dataset.CacheFile, manager.Drive)
		if err != nil {
			return nil, fmt.Errorf("creating download cache: %w", err)
		}
		manager.Downloader = fs
		manager.Cache = true
	}

	return manager, nil
}
