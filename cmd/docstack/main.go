// Package main is the docstack CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Cyb3rDudu/docstack/internal/auth"
	"github.com/Cyb3rDudu/docstack/internal/config"
	"github.com/Cyb3rDudu/docstack/internal/indexstore"
	"github.com/Cyb3rDudu/docstack/internal/ingest"
	"github.com/Cyb3rDudu/docstack/internal/models"
	"github.com/Cyb3rDudu/docstack/internal/pipeline"
	"github.com/Cyb3rDudu/docstack/internal/provision"
	"github.com/Cyb3rDudu/docstack/internal/runtime"
	"github.com/Cyb3rDudu/docstack/internal/server"
	"github.com/Cyb3rDudu/docstack/internal/storage"
	"github.com/Cyb3rDudu/docstack/internal/watcher"
	"github.com/Cyb3rDudu/docstack/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/docstack/config.yaml"

// loadConfig loads config from path. When path is the default, it first
// looks for config.yaml in the current directory (for development); if that
// exists it is used. Returns the config and the path actually loaded.
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
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "login":
		runLogin()
	case "stores":
		runStores()
	case "upload":
		runUpload()
	case "query":
		runQuery()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("docstack version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// Components holds initialized services.
type Components struct {
	Storage     storage.Storage
	Index       indexstore.Client
	Runtime     runtime.Client
	Auth        *auth.Service
	Provisioner *provision.Provisioner
	Tracker     *ingest.Tracker
	Pipelines   *pipeline.Manager
}

func (c *Components) Close() {
	if c.Index != nil {
		_ = c.Index.Close()
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	store, err := storage.NewSQLiteStorage(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	index, err := indexstore.NewClient(cfg.IndexStore, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize index store: %w", err)
	}
	rt := runtime.NewHTTPClient(cfg.Runtime, logger)
	renderer := pipeline.NewRenderer(cfg.IndexStore.URL)
	authSvc := auth.NewService(store,
		time.Duration(cfg.Auth.SessionExpireHours)*time.Hour,
		cfg.Auth.BcryptCost, logger)

	return &Components{
		Storage:     store,
		Index:       index,
		Runtime:     rt,
		Auth:        authSvc,
		Provisioner: provision.NewProvisioner(store, index, rt, renderer, cfg.IndexStore.URL, logger),
		Tracker:     ingest.NewTracker(store, index, rt, logger),
		Pipelines:   pipeline.NewManager(store, rt, renderer, logger),
	}, nil
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
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

	var inbox *watcher.Inbox
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.StoreSlug != "" {
		inbox = watcher.NewInbox(cfg.Watch, components.Tracker, components.Storage, logger)
		inboxCtx, inboxCancel := context.WithCancel(context.Background())
		defer inboxCancel()
		if err := inbox.Start(inboxCtx); err != nil {
			logger.Fatal("Failed to start inbox watcher", zap.Error(err))
		}
		logger.Info("inbox watching",
			zap.Strings("directories", inbox.Directories()),
			zap.String("store_slug", cfg.Watch.StoreSlug))
	}

	srv := server.NewServer(
		cfg,
		components.Storage,
		components.Index,
		components.Runtime,
		components.Auth,
		components.Provisioner,
		components.Tracker,
		components.Pipelines,
		logger,
	)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	// Sweep expired sessions periodically.
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				if _, err := components.Auth.CleanupExpired(sweepCtx); err != nil {
					logger.Warn("session cleanup failed", zap.Error(err))
				}
			}
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	if inbox != nil {
		inbox.Stop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

// API client helpers for the remaining subcommands. They always go through
// the HTTP API so the server keeps exclusive ownership of the database.

func apiRequest(method, serverURL, path, token string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequest(method, strings.TrimRight(serverURL, "/")+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return http.DefaultClient.Do(req)
}

func apiJSON(method, serverURL, path, token string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	resp, err := apiRequest(method, serverURL, path, token, body, "application/json")
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out != nil {
		return json.Unmarshal(raw, out)
	}
	return nil
}

func tokenFromEnv(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv("DOCSTACK_TOKEN")
}

func runLogin() {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	register := fs.Bool("register", false, "create the account first")
	_ = fs.Parse(os.Args[2:])

	if *email == "" || *password == "" {
		fmt.Println("Usage: docstack login --email <email> --password <password> [--register]")
		os.Exit(1)
	}
	if *register {
		err := apiJSON(http.MethodPost, *serverURL, "/api/v1/auth/register", "",
			map[string]string{"email": *email, "password": *password}, nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Registration failed: %v\n", err)
			os.Exit(1)
		}
	}
	var out struct {
		AccessToken string `json:"access_token"`
	}
	err := apiJSON(http.MethodPost, *serverURL, "/api/v1/auth/login", "",
		map[string]string{"email": *email, "password": *password}, &out)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Login failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(out.AccessToken)
	fmt.Fprintln(os.Stderr, "export DOCSTACK_TOKEN=<token above> to use it with other commands")
}

func runStores() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: docstack stores <list|create|delete> [flags]")
		os.Exit(1)
	}
	sub := os.Args[2]
	fs := flag.NewFlagSet("stores", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	tokenFlag := fs.String("token", "", "bearer token (or DOCSTACK_TOKEN)")
	name := fs.String("name", "", "store name (create)")
	description := fs.String("description", "", "store description (create)")
	model := fs.String("model", "", "embedding model (create, optional)")
	_ = fs.Parse(os.Args[3:])
	token := tokenFromEnv(*tokenFlag)

	switch sub {
	case "list":
		var out struct {
			Docstores []*models.Store `json:"docstores"`
		}
		if err := apiJSON(http.MethodGet, *serverURL, "/api/v1/docstores", token, nil, &out); err != nil {
			fmt.Fprintf(os.Stderr, "List failed: %v\n", err)
			os.Exit(1)
		}
		for _, st := range out.Docstores {
			fmt.Printf("%s  %-20s  docs=%d  chunks=%d  %s\n",
				st.ID, st.Slug, st.DocumentCount, st.ChunkCount, st.Name)
		}
	case "create":
		if *name == "" {
			fmt.Println("Usage: docstack stores create --name <name> [--description ...] [--model ...]")
			os.Exit(1)
		}
		payload := map[string]string{"name": *name, "description": *description}
		if *model != "" {
			payload["embedder_model"] = *model
		}
		var st models.Store
		if err := apiJSON(http.MethodPost, *serverURL, "/api/v1/docstores", token, payload, &st); err != nil {
			fmt.Fprintf(os.Stderr, "Create failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Created store %s (slug %s, index %s)\n", st.ID, st.Slug, st.IndexName)
	case "delete":
		if fs.NArg() < 1 {
			fmt.Println("Usage: docstack stores delete <store-id>")
			os.Exit(1)
		}
		id := fs.Arg(0)
		if err := apiJSON(http.MethodDelete, *serverURL, "/api/v1/docstores/"+id, token, nil, nil); err != nil {
			fmt.Fprintf(os.Stderr, "Delete failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Deleted store %s\n", id)
	default:
		fmt.Printf("Unknown stores subcommand: %s\n", sub)
		os.Exit(1)
	}
}

func runUpload() {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	tokenFlag := fs.String("token", "", "bearer token (or DOCSTACK_TOKEN)")
	storeID := fs.String("store", "", "target store ID")
	_ = fs.Parse(os.Args[2:])
	token := tokenFromEnv(*tokenFlag)

	if *storeID == "" || fs.NArg() < 1 {
		fmt.Println("Usage: docstack upload --store <store-id> <file> [file...]")
		os.Exit(1)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, path := range fs.Args() {
		content, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read %s: %v\n", path, err)
			os.Exit(1)
		}
		part, err := mw.CreateFormFile("files", filepath.Base(path))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Upload failed: %v\n", err)
			os.Exit(1)
		}
		if _, err := part.Write(content); err != nil {
			fmt.Fprintf(os.Stderr, "Upload failed: %v\n", err)
			os.Exit(1)
		}
	}
	if err := mw.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Upload failed: %v\n", err)
		os.Exit(1)
	}

	resp, err := apiRequest(http.MethodPost, *serverURL,
		"/api/v1/docstores/"+*storeID+"/documents", token, &buf, mw.FormDataContentType())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Upload failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusCreated {
		fmt.Fprintf(os.Stderr, "Upload failed (%d): %s\n", resp.StatusCode, strings.TrimSpace(string(raw)))
		os.Exit(1)
	}
	var out struct {
		Documents []*models.Document `json:"documents"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		fmt.Fprintf(os.Stderr, "Parse failed: %v\n", err)
		os.Exit(1)
	}
	for _, d := range out.Documents {
		fmt.Printf("%s  %-10s  %s\n", d.ID, d.Status, d.Filename)
	}
}

func runQuery() {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	tokenFlag := fs.String("token", "", "bearer token (or DOCSTACK_TOKEN)")
	storeID := fs.String("store", "", "target store ID")
	topK := fs.Int("top-k", 10, "number of results")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])
	token := tokenFromEnv(*tokenFlag)

	if *storeID == "" || fs.NArg() < 1 {
		fmt.Println("Usage: docstack query --store <store-id> <query text>")
		os.Exit(1)
	}
	queryStr := strings.TrimSpace(strings.Join(fs.Args(), " "))

	var result runtime.QueryResult
	err := apiJSON(http.MethodPost, *serverURL, "/api/v1/docstores/"+*storeID+"/query", token,
		map[string]interface{}{"query": queryStr, "top_k": *topK}, &result)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Query failed: %v\n", err)
		os.Exit(1)
	}

	switch *outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
	case "text":
		if len(result.Documents) == 0 {
			fmt.Println("No results.")
			return
		}
		for i, doc := range result.Documents {
			fmt.Printf("%2d. [%.3f] %s\n", i+1, doc.Score,
				utils.Truncate(strings.TrimSpace(doc.Content), 200))
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	tokenFlag := fs.String("token", "", "bearer token (or DOCSTACK_TOKEN)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])
	token := tokenFromEnv(*tokenFlag)

	var status map[string]interface{}
	if err := apiJSON(http.MethodGet, *serverURL, "/api/v1/status", token, nil, &status); err != nil {
		fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
		os.Exit(1)
	}

	switch *outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(status); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
	case "text":
		for _, key := range []string{"docstores", "documents", "chunks", "total_size_bytes", "disk_usage_bytes"} {
			if v, ok := status[key]; ok {
				fmt.Printf("%-18s %v\n", key+":", v)
			}
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`docstack - document store provisioning and ingestion service

Usage:
  docstack server [flags]                    Start the HTTP server
  docstack login [flags]                     Log in and print a bearer token
  docstack stores <list|create|delete>       Manage document stores
  docstack upload --store <id> <file...>     Upload documents to a store
  docstack query --store <id> <query>        Query a store
  docstack status [flags]                    Show service status
  docstack version                           Show version
  docstack help                              Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/docstack/config.yaml)
  --debug            Enable debug logging

Client Flags (login, stores, upload, query, status):
  --server string    Server URL (default: http://localhost:8080)
  --token string     Bearer token; falls back to the DOCSTACK_TOKEN env var

Examples:
  docstack server
  docstack login --email you@example.com --password secret --register
  docstack stores create --name "My Notes"
  docstack stores list
  docstack upload --store <store-id> report.pdf notes.txt
  docstack query --store <store-id> "what does the report conclude?"
  docstack status --output json`)
}
