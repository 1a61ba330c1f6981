// Package main is the carelens CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/hyperjump/carelens/internal/assistant"
	"github.com/hyperjump/carelens/internal/cli"
	"github.com/hyperjump/carelens/internal/config"
	"github.com/hyperjump/carelens/internal/docstore"
	"github.com/hyperjump/carelens/internal/embedding"
	"github.com/hyperjump/carelens/internal/extract"
	"github.com/hyperjump/carelens/internal/ingest"
	"github.com/hyperjump/carelens/internal/keyword"
	"github.com/hyperjump/carelens/internal/models"
	"github.com/hyperjump/carelens/internal/query"
	"github.com/hyperjump/carelens/internal/server"
	"github.com/hyperjump/carelens/internal/storage"
	"github.com/hyperjump/carelens/internal/trend"
	"github.com/hyperjump/carelens/internal/vector"
	"github.com/hyperjump/carelens/internal/watcher"
	"github.com/hyperjump/carelens/pkg/utils"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/carelens/config.yaml"
	defaultServerURL  = "http://localhost:8080"
)

// loadConfig loads config from path. When path is the default, config.yaml in the current
// directory wins if present, and a missing default file yields the built-in defaults.
// Returns the config and the path that was actually loaded ("" for built-in defaults).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		if _, statErr := os.Stat(path); errors.Is(statErr, fs.ErrNotExist) {
			cfg := &config.Config{}
			if err := config.ApplyEnv(cfg); err != nil {
				return nil, "", err
			}
			config.ApplyDefaults(cfg)
			return cfg, "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	// A .env next to the binary supplies API keys; it is optional.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "ingest":
		runIngest()
	case "ask":
		runAsk()
	case "trend":
		runTrend()
	case "summary":
		runSummary()
	case "search":
		runSearch()
	case "analytics":
		runAnalytics()
	case "delete":
		runDelete()
	case "watch":
		runWatch()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("carelens version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func parseFormat(s string) cli.OutputFormat {
	format, err := cli.ParseOutputFormat(s)
	if err != nil {
		fatalf("%v", err)
	}
	return format
}

// openLocal loads config and wires components for commands that run without a server.
func openLocal(configPath string) (*Components, *zap.Logger) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		fatalf("Failed to load config: %v", err)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fatalf("Failed to create logger: %v", err)
	}
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		fatalf("Failed to initialize: %v", err)
	}
	return components, logger
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (routing decisions, inbox events, etc.)")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fatalf("Failed to load config: %v", err)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	inbox := watcher.NewInbox(
		cfg.Watch.Directories,
		cfg.Watch.Extensions,
		cfg.Watch.RecursiveOrDefault(),
		components.Service,
		watcher.WithLogger(logger),
	)
	if err := inbox.Start(ctx); err != nil {
		logger.Fatal("Failed to start inbox watcher", zap.Error(err))
	}
	go inbox.SyncExistingFiles()

	srv := server.NewServer(components.Service, cfg, logger, inbox, resolvedConfigPath)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
}

// argsReorder moves any flags (and their values) that appear after positional arguments
// to the front so that flag.Parse() sees them. Go's flag package stops at the first
// non-flag argument, so "carelens ask P001 is sleep improving -output json" would
// otherwise leave -output unparsed.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// joinArgs joins positional args with spaces so multi-word questions work the same with
// or without shell quoting.
func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	recordType := fs.String("type", "", "record type of table files (default: inferred from the file name)")
	patientID := fs.String("patient", "", "patient id for attachments (default: the patient subdirectory)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(argsReorder(os.Args[2:]))
	format := parseFormat(*outputFormat)

	if fs.NArg() < 1 {
		fatalf("Usage: carelens ingest [flags] <file-or-directory>...")
	}
	var rt models.RecordType
	if *recordType != "" {
		var err error
		if rt, err = models.ParseRecordType(*recordType); err != nil {
			fatalf("%v", err)
		}
	}

	if !ingestAll(*configPath, fs.Args(), rt, *patientID, format) {
		os.Exit(1)
	}
}

// ingestAll ingests every path and reports whether all of them succeeded.
func ingestAll(configPath string, paths []string, rt models.RecordType, patientID string, format cli.OutputFormat) bool {
	components, logger := openLocal(configPath)
	defer logger.Sync()
	defer components.Close()

	ctx := context.Background()
	ok := true
	for _, path := range paths {
		for _, res := range ingestPath(ctx, components.Service, components.Config.Watch.Extensions, path, rt, patientID) {
			if res.err != nil {
				fmt.Fprintf(os.Stderr, "%s: %v\n", res.path, res.err)
				ok = false
				continue
			}
			if err := cli.WriteIngestResult(os.Stdout, res.result, format); err != nil {
				fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
				return false
			}
		}
	}
	return ok
}

type ingestOutcome struct {
	path   string
	result *models.IngestResult
	err    error
}

// ingestPath ingests one file, or every matching file under a directory. Tables go through
// table ingestion; other files are attachments of patientID or, when empty, of the
// patient subdirectory they sit in.
func ingestPath(ctx context.Context, svc *assistant.Service, exts []string, path string, rt models.RecordType, patientID string) []ingestOutcome {
	info, err := os.Stat(path)
	if err != nil {
		return []ingestOutcome{{path: path, err: err}}
	}
	if !info.IsDir() {
		// A lone attachment takes its patient from the directory it sits in.
		return []ingestOutcome{ingestOne(ctx, svc, filepath.Dir(filepath.Dir(path)), path, rt, patientID)}
	}
	var out []ingestOutcome
	walkErr := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !hasExtension(p, exts) {
			return nil
		}
		out = append(out, ingestOne(ctx, svc, path, p, rt, patientID))
		return nil
	})
	if walkErr != nil {
		out = append(out, ingestOutcome{path: path, err: walkErr})
	}
	return out
}

func ingestOne(ctx context.Context, svc *assistant.Service, root, path string, rt models.RecordType, patientID string) ingestOutcome {
	o := ingestOutcome{path: path}
	if ingest.IsTable(filepath.Ext(path)) {
		o.result, o.err = svc.IngestFile(ctx, path, rt)
		return o
	}
	if patientID == "" {
		if patientID, o.err = watcher.PatientFromPath(root, path); o.err != nil {
			return o
		}
	}
	o.result, o.err = svc.IngestDocument(ctx, patientID, path)
	return o
}

func hasExtension(path string, exts []string) bool {
	if len(exts) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range exts {
		if "."+strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}

func runAsk() {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (for direct storage mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = use direct storage when server is not running)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(argsReorder(os.Args[2:]))
	format := parseFormat(*outputFormat)

	if fs.NArg() < 2 {
		fatalf("Usage: carelens ask [flags] <patient-id> <question>")
	}
	patientID := fs.Arg(0)
	question := joinArgs(fs.Args()[1:])

	var ans query.Answer
	if *serverURL != "" {
		// The server holds the Bleve and SQLite locks while running.
		if err := newClient(*serverURL).postJSON("/api/v1/patients/"+patientID+"/answer",
			map[string]string{"query": question}, &ans); err != nil {
			fatalf("Ask failed: %v", err)
		}
	} else {
		components, logger := openLocal(*configPath)
		defer logger.Sync()
		defer components.Close()
		ans = components.Service.Answer(context.Background(), patientID, question)
	}
	if err := cli.WriteAnswer(os.Stdout, ans, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func runTrend() {
	fs := flag.NewFlagSet("trend", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (for direct storage mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = use direct storage)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(argsReorder(os.Args[2:]))
	format := parseFormat(*outputFormat)

	if fs.NArg() < 2 {
		fatalf("Usage: carelens trend [flags] <patient-id> <PHQ9|GAD7>")
	}
	patientID := fs.Arg(0)
	inst, err := trend.ParseInstrument(fs.Arg(1))
	if err != nil {
		fatalf("%v", err)
	}

	var res trend.Result
	if *serverURL != "" {
		if err := newClient(*serverURL).getJSON("/api/v1/patients/"+patientID+"/trend/"+string(inst), &res); err != nil {
			fatalf("Trend failed: %v", err)
		}
	} else {
		components, logger := openLocal(*configPath)
		defer logger.Sync()
		defer components.Close()
		res = components.Service.GetTrend(context.Background(), patientID, inst)
	}
	if err := cli.WriteTrend(os.Stdout, res, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func runSummary() {
	fs := flag.NewFlagSet("summary", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (for direct storage mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = use direct storage)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(argsReorder(os.Args[2:]))
	format := parseFormat(*outputFormat)

	if fs.NArg() < 1 {
		fatalf("Usage: carelens summary [flags] <patient-id>")
	}
	patientID := fs.Arg(0)

	var out query.Outcome
	if *serverURL != "" {
		var resp struct {
			Summary        string `json:"summary"`
			FoundDocuments int    `json:"found_documents"`
		}
		if err := newClient(*serverURL).getJSON("/api/v1/patients/"+patientID+"/summary", &resp); err != nil {
			fatalf("Summary failed: %v", err)
		}
		out = query.Outcome{Text: resp.Summary, Found: resp.FoundDocuments}
	} else {
		components, logger := openLocal(*configPath)
		defer logger.Sync()
		defer components.Close()
		out = components.Service.ClientSummary(context.Background(), patientID)
	}
	if err := cli.WriteSummary(os.Stdout, patientID, out, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (for direct storage mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = use direct storage)")
	limit := fs.Int("limit", 0, "number of results (default from config)")
	keywordOnly := fs.Bool("keyword", false, "full-text search instead of semantic search")
	patientID := fs.String("patient", "", "only documents of this patient")
	recordType := fs.String("type", "", "only documents of this record type")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(argsReorder(os.Args[2:]))
	format := parseFormat(*outputFormat)

	q := &models.SearchQuery{
		Query:   joinArgs(fs.Args()),
		Limit:   *limit,
		Keyword: *keywordOnly,
	}
	if q.Query == "" {
		fatalf("Usage: carelens search [flags] <query>")
	}
	if *patientID != "" || *recordType != "" {
		q.Filter = models.Filter{}
		if *patientID != "" {
			q.Filter[models.MetaPatientID] = *patientID
		}
		if *recordType != "" {
			rt, err := models.ParseRecordType(*recordType)
			if err != nil {
				fatalf("%v", err)
			}
			q.Filter[models.MetaType] = string(rt)
		}
	}

	var resp *models.SearchResponse
	if *serverURL != "" {
		resp = &models.SearchResponse{}
		if err := newClient(*serverURL).postJSON("/api/v1/search", q, resp); err != nil {
			fatalf("Search failed: %v", err)
		}
	} else {
		components, logger := openLocal(*configPath)
		defer logger.Sync()
		defer components.Close()
		var err error
		if resp, err = components.Service.Search(context.Background(), q); err != nil {
			fatalf("Search failed: %v", err)
		}
	}
	if err := cli.WriteSearchResults(os.Stdout, resp, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func runAnalytics() {
	fs := flag.NewFlagSet("analytics", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (for direct storage mode)")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = use direct storage)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])
	format := parseFormat(*outputFormat)

	a := &models.Analytics{}
	if *serverURL != "" {
		if err := newClient(*serverURL).getJSON("/api/v1/analytics", a); err != nil {
			fatalf("Analytics failed: %v", err)
		}
	} else {
		components, logger := openLocal(*configPath)
		defer logger.Sync()
		defer components.Close()
		var err error
		if a, err = components.Service.Analytics(context.Background()); err != nil {
			fatalf("Analytics failed: %v", err)
		}
	}
	if err := cli.WriteAnalytics(os.Stdout, a, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func runDelete() {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fatalf("Usage: carelens delete [flags] <document-id>")
	}
	docID := fs.Arg(0)

	components, logger := openLocal(*configPath)
	defer logger.Sync()
	defer components.Close()

	if !components.Service.Delete(context.Background(), docID) {
		fatalf("Deletion failed: %s not found", docID)
	}
	fmt.Printf("Document deleted: %s\n", docID)
}

// statusConfigResponse holds configuration info returned by status.
type statusConfigResponse struct {
	EmbeddingProvider   string `json:"embedding_provider,omitempty"`
	EmbeddingDimensions int    `json:"embedding_dimensions,omitempty"`
	ChunkSize           int    `json:"chunk_size,omitempty"`
	ChunkOverlap        int    `json:"chunk_overlap,omitempty"`
	DatabasePath        string `json:"database_path,omitempty"`
	BleveIndexPath      string `json:"bleve_index_path,omitempty"`
	VectorIndexPath     string `json:"vector_index_path,omitempty"`
}

// statusResponse is the shape of GET /api/v1/status response. Rows is only filled in
// direct storage mode.
type statusResponse struct {
	Documents      int64                 `json:"documents"`
	Rows           map[string]int64      `json:"mirror_rows,omitempty"`
	DiskUsageBytes *int64                `json:"disk_usage_bytes,omitempty"`
	Config         *statusConfigResponse `json:"config,omitempty"`
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = use direct storage)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])
	format := parseFormat(*outputFormat)

	var status statusResponse
	if *serverURL != "" {
		if err := newClient(*serverURL).getJSON("/api/v1/status", &status); err != nil {
			fatalf("Status failed: %v", err)
		}
	} else {
		var err error
		if status, err = localStatus(*configPath); err != nil {
			fatalf("Status failed: %v", err)
		}
	}
	if format == cli.OutputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(status); err != nil {
			fatalf("Output failed: %v", err)
		}
		return
	}
	writeStatusText(status)
}

func localStatus(configPath string) (statusResponse, error) {
	components, logger := openLocal(configPath)
	defer logger.Sync()
	defer components.Close()

	ctx := context.Background()
	cfg := components.Config
	docCount, err := components.Storage.CountDocuments(ctx)
	if err != nil {
		return statusResponse{}, fmt.Errorf("count documents: %w", err)
	}
	status := statusResponse{
		Documents: docCount,
		Rows:      make(map[string]int64),
		Config: &statusConfigResponse{
			EmbeddingProvider:   cfg.Embedding.Provider,
			EmbeddingDimensions: cfg.Embedding.Dimensions,
			ChunkSize:           cfg.Ingest.ChunkSize,
			ChunkOverlap:        cfg.Ingest.ChunkOverlap,
			DatabasePath:        cfg.Storage.DatabasePath,
			BleveIndexPath:      cfg.Storage.BleveIndexPath,
			VectorIndexPath:     cfg.Storage.VectorIndexPath,
		},
	}
	for _, table := range []string{
		storage.TableAppointments,
		storage.TableAppointmentSummary,
		storage.TablePatientAggregates,
		storage.TableMeasureResponses,
	} {
		n, err := components.Storage.CountRows(ctx, table)
		if err != nil {
			return statusResponse{}, fmt.Errorf("count %s: %w", table, err)
		}
		status.Rows[table] = n
	}
	diskBytes, err := storage.DiskUsageBytes(cfg.Storage.DatabasePath, cfg.Storage.BleveIndexPath, cfg.Storage.VectorIndexPath)
	if err == nil {
		status.DiskUsageBytes = &diskBytes
	}
	return status, nil
}

func writeStatusText(status statusResponse) {
	fmt.Printf("documents:          %d   # count of stored documents\n", status.Documents)
	for _, table := range []string{
		storage.TableAppointments,
		storage.TableAppointmentSummary,
		storage.TablePatientAggregates,
		storage.TableMeasureResponses,
	} {
		if n, ok := status.Rows[table]; ok {
			fmt.Printf("%-20s%d   # mirror rows\n", table+":", n)
		}
	}
	if status.DiskUsageBytes != nil {
		fmt.Printf("disk_usage_bytes:   %d   # storage + indices on disk\n", *status.DiskUsageBytes)
	}
	if status.Config == nil {
		return
	}
	c := status.Config
	fmt.Println()
	fmt.Println("# configuration")
	if c.EmbeddingProvider != "" {
		fmt.Printf("embedding_provider: %s\n", c.EmbeddingProvider)
	}
	if c.EmbeddingDimensions > 0 {
		fmt.Printf("embedding_dims:     %d\n", c.EmbeddingDimensions)
	}
	if c.ChunkSize > 0 {
		fmt.Printf("chunk_size:         %d\n", c.ChunkSize)
	}
	if c.ChunkOverlap > 0 {
		fmt.Printf("chunk_overlap:      %d\n", c.ChunkOverlap)
	}
	if c.DatabasePath != "" {
		fmt.Printf("database_path:      %s\n", c.DatabasePath)
	}
	if c.BleveIndexPath != "" {
		fmt.Printf("bleve_index_path:   %s\n", c.BleveIndexPath)
	}
	if c.VectorIndexPath != "" {
		fmt.Printf("vector_index_path:  %s\n", c.VectorIndexPath)
	}
}

func runWatch() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: carelens watch <add|remove|list> [path]")
		fmt.Println("  carelens watch add <path>     Add an inbox directory")
		fmt.Println("  carelens watch remove <path>  Remove an inbox directory")
		fmt.Println("  carelens watch list           List inbox directories")
		os.Exit(1)
	}
	sub := os.Args[2]
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	noSync := fs.Bool("no-sync", false, "do not ingest files already in the directory")
	_ = fs.Parse(argsReorder(os.Args[3:]))
	c := newClient(*serverURL)
	switch sub {
	case "add":
		if fs.NArg() < 1 {
			fatalf("Usage: carelens watch add <path>")
		}
		path, _ := filepath.Abs(fs.Arg(0))
		if err := c.postJSON("/api/v1/watch/directories",
			map[string]interface{}{"path": path, "sync": !*noSync}, nil); err != nil {
			fatalf("Add failed: %v", err)
		}
		fmt.Printf("Added: %s\n", path)
	case "remove":
		if fs.NArg() < 1 {
			fatalf("Usage: carelens watch remove <path>")
		}
		path, _ := filepath.Abs(fs.Arg(0))
		if err := c.deleteJSON("/api/v1/watch/directories?path="+url.QueryEscape(path), nil); err != nil {
			fatalf("Remove failed: %v", err)
		}
		fmt.Printf("Removed: %s\n", path)
	case "list":
		var out struct {
			Directories []string `json:"directories"`
		}
		if err := c.getJSON("/api/v1/watch/directories", &out); err != nil {
			fatalf("List failed: %v", err)
		}
		for _, d := range out.Directories {
			fmt.Println(d)
		}
	default:
		fatalf("Unknown watch subcommand: %s", sub)
	}
}

// Components holds initialized services.
type Components struct {
	Config   *config.Config
	Storage  *storage.SQLiteStorage
	Embedder embedding.Embedder
	Store    *docstore.Store
	Service  *assistant.Service
}

// Close flushes the vector index and releases storage and the embedder.
func (c *Components) Close() {
	if c.Store != nil {
		_ = c.Store.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	st, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	embedder, err := embedding.New(embedding.Options{
		Provider:   cfg.Embedding.Provider,
		Dimensions: cfg.Embedding.Dimensions,
		CacheSize:  cfg.Embedding.CacheSize,
		ModelPath:  cfg.Embedding.ModelPath,
		MaxTokens:  cfg.Embedding.MaxTokens,
		BaseURL:    cfg.Embedding.OpenAI.BaseURL,
		Model:      cfg.Embedding.OpenAI.Model,
		APIKeyEnv:  cfg.Embedding.OpenAI.APIKeyEnv,
		Timeout:    cfg.Embedding.OpenAI.Timeout,
	})
	if err != nil {
		// Search degrades but ingestion and the mirror keep working on the hashing provider.
		logger.Warn("embedding provider unavailable, falling back to hashing",
			zap.String("provider", cfg.Embedding.Provider), zap.Error(err))
		if embedder, err = embedding.NewHashingEmbedder(cfg.Embedding.Dimensions); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("failed to initialize embedder: %w", err)
		}
	}

	vectorIndex, err := vector.NewVectorIndex(cfg.Storage.VectorIndexType, embedder.Dimensions())
	if err != nil {
		_ = st.Close()
		_ = embedder.Close()
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}
	keywordIndex, err := keyword.NewBleveIndex(cfg.Storage.BleveIndexPath)
	if err != nil {
		_ = st.Close()
		_ = embedder.Close()
		return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
	}

	store := docstore.New(st, embedder, vectorIndex,
		docstore.WithKeywordIndex(keywordIndex),
		docstore.WithVectorPath(cfg.Storage.VectorIndexPath),
		docstore.WithLimits(cfg.Store.DefaultLimit, cfg.Store.MaxLimit),
		docstore.WithLogger(logger),
	)
	reembedded, err := store.Open(context.Background())
	if err != nil {
		_ = store.Close()
		_ = embedder.Close()
		return nil, fmt.Errorf("failed to open document store: %w", err)
	}
	logger.Info("document store opened",
		zap.Int("documents", store.Count(context.Background())),
		zap.Int("reembedded", reembedded),
		zap.String("embedding_provider", cfg.Embedding.Provider))

	pipeline := ingest.NewPipeline(store, extract.NewExtractor(),
		ingest.WithMirror(st),
		ingest.WithChunking(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap),
		ingest.WithLogger(logger),
	)
	router := query.NewRouter(store,
		query.WithSearchLimit(cfg.Query.SearchLimit),
		query.WithRecentSessions(cfg.Query.RecentSessions),
		query.WithLogger(logger),
	)
	svc := assistant.New(store, pipeline, router, assistant.WithLogger(logger))

	return &Components{
		Config:   cfg,
		Storage:  st,
		Embedder: embedder,
		Store:    store,
		Service:  svc,
	}, nil
}

func printUsage() {
	fmt.Println(`carelens - Clinical notes question answering over appointment and assessment exports

Usage:
  carelens server [flags]                         Start the HTTP server and inbox watcher
  carelens ingest [flags] <file-or-dir>...        Ingest CSV/XLSX exports and attachments
  carelens ask [flags] <patient> <question>       Answer a question about a patient
  carelens trend [flags] <patient> <PHQ9|GAD7>    Baseline-to-latest assessment trend
  carelens summary [flags] <patient>              Client treatment summary
  carelens search [flags] <query>                 Search stored documents
  carelens analytics [flags]                      Corpus and provider analytics
  carelens delete [flags] <id>                    Delete a document
  carelens status [flags]                         Show storage and index status
  carelens watch <add|remove|list>                Manage inbox directories
  carelens version                                Show version
  carelens help                                   Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/carelens/config.yaml)
  --server string    Server URL (default: http://localhost:8080). Use --server "" for direct storage.
  --output string    Output format: text or json (default: text)

Server Flags:
  --debug            Enable debug logging

Ingest Flags:
  --type string      Record type of table files (default: inferred from the file name)
  --patient string   Patient id for attachments (default: the patient subdirectory)

Search Flags:
  --limit int        Number of results
  --keyword          Full-text search instead of semantic search
  --patient string   Only documents of this patient
  --type string      Only documents of this record type

Examples:
  carelens server
  carelens ingest exports/patient_appointments.csv exports/client_measures.csv
  carelens ingest --patient P001 referral.pdf
  carelens ask P001 Is sleep improving?
  carelens trend --output json P001 PHQ9
  carelens search --patient P001 --keyword homework
  carelens watch add /path/to/inbox`)
}
