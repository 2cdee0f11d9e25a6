// Command agentcore is the headless driver: it loads configuration,
// wires the tool registry and provider registry, resolves a session, and
// runs the agent loop against stdin/stdout. It has no TUI, no LSP host,
// and no raw per-provider HTTP transport -- those surfaces are out of
// scope (spec.md Non-goals); what remains is the full agent loop, tool
// execution, session persistence, and the file-memory index.
package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/corewright/agentcore/internal/agentloop"
	"github.com/corewright/agentcore/internal/config"
	"github.com/corewright/agentcore/internal/daemon"
	"github.com/corewright/agentcore/internal/delta"
	"github.com/corewright/agentcore/internal/indexer"
	"github.com/corewright/agentcore/internal/loopdetect"
	"github.com/corewright/agentcore/internal/mcptools"
	"github.com/corewright/agentcore/internal/message"
	"github.com/corewright/agentcore/internal/provider"
	"github.com/corewright/agentcore/internal/shell"
	"github.com/corewright/agentcore/internal/store"
	"github.com/corewright/agentcore/internal/toolexec"
	"github.com/corewright/agentcore/internal/treesitter"
)

func main() {
	if err := setupFileLogging(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to setup logging: %v\n", err)
	}

	flagSession := flag.String("s", "", "resume a session by ID")
	flagList := flag.Bool("l", false, "list sessions")
	flagContinue := flag.Bool("c", false, "continue most recent session")
	flagPrompt := flag.String("p", "", "run a single prompt non-interactively and exit")
	flag.StringVar(flagSession, "session", "", "resume a session by ID")
	flag.BoolVar(flagList, "list", false, "list sessions")
	flag.BoolVar(flagContinue, "continue", false, "continue most recent session")
	flag.StringVar(flagPrompt, "prompt", "", "run a single prompt non-interactively and exit")
	flag.Parse()

	configPath, err := resolveConfigPath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	creds, err := config.LoadCredentials()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading credentials: %v\n", err)
		os.Exit(1)
	}

	registry := buildRegistry(cfg, creds)
	providerName, providerCfg := resolveProvider(cfg, registry)
	prov, err := registry.Create(providerName, providerCfg.Model, provider.Options{Temperature: providerCfg.Temperature})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating provider %q: %v\n", providerName, err)
		os.Exit(1)
	}

	svc := setupServices(cfg)
	defer svc.webCache.Close()

	if *flagList {
		listSessions(svc.webCache)
		return
	}

	projectRoot, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error resolving project root: %v\n", err)
		os.Exit(1)
	}

	tsIndex := treesitter.NewIndex(projectRoot)
	if err := tsIndex.Build(); err != nil {
		log.Warn().Err(err).Msg("tree-sitter index build failed, continuing without symbols")
	}
	svc.readHandler.SetTSIndex(tsIndex)
	svc.editHandler.SetTSIndex(tsIndex)

	indexStore, err := indexer.NewIndexStore(indexDirOrDefault())
	if err != nil {
		log.Warn().Err(err).Msg("failed to open index store, recall memory disabled")
	}

	recallSender, recallReceiver := indexer.NewRecallChannel(0)
	var persisted *indexer.PersistedIndex
	if indexStore != nil {
		persisted, err = indexStore.LoadOrCreate(projectRoot)
		if err != nil {
			log.Warn().Err(err).Msg("failed to load project index")
		}
	}
	recallProcessor := indexer.NewRecallProcessor(recallReceiver)

	var daemonHandle *daemon.Handle
	idxCfg := cfg.IndexerOrDefault()
	if indexStore != nil && idxCfg.Enabled {
		d := daemon.New(projectRoot, daemon.Config{
			Enabled:             idxCfg.Enabled,
			DebounceMs:          idxCfg.DebounceMs,
			PersistIntervalSecs: idxCfg.PersistIntervalSecs,
			BatchSize:           idxCfg.BatchSize,
			IgnorePatterns:      idxCfg.IgnorePatterns,
			Extensions:          idxCfg.Extensions,
		}, indexStore)
		daemonHandle, err = d.Start()
		if err != nil {
			log.Warn().Err(err).Msg("file-watch daemon did not start")
			daemonHandle = nil
		}
	}
	if daemonHandle != nil {
		defer daemonHandle.Stop()
	}

	sessionID, history := resolveSession(*flagSession, *flagContinue, svc.webCache)
	svc.deltaTracker.SetSession(sessionID)

	conv := message.New(systemPrompt())
	for _, m := range history {
		conv.Append(m)
	}

	executor := toolexec.NewExecutor()
	executor.Register(svc.readHandler)
	executor.Register(svc.editHandler)
	executor.Register(svc.shellHandler)
	executor.Register(mcptools.GitStatusHandler{})
	executor.Register(mcptools.GitDiffHandler{})
	executor.Register(mcptools.NewGrepHandler())
	executor.Register(mcptools.NewTodoWriteHandler(svc.scratchpad))
	executor.Register(mcptools.NewWebFetchHandler(svc.webCache))
	executor.Register(mcptools.NewWebSearchHandler(svc.webCache, creds.GetAPIKey("web_search"), cfg.MCP.Upstream))
	executor.Register(mcptools.NewSubAgentHandler(prov, providerCfg.Model, executor))

	tc := toolexec.ToolContext{
		WorkingDir:   projectRoot,
		ProjectRoot:  projectRoot,
		SessionID:    sessionID,
		RecallSender: recallSender,
	}

	observer := &stdoutObserver{}
	settings := agentloop.DefaultSettings()
	interrupted := &atomic.Bool{}
	activeCaps := allToolNames(executor)

	runTurn := func(userText string) {
		conv.Append(message.NewUserText(userText))
		beforeCount := conv.Len()

		ok, err := agentloop.RunAgentLoop(context.Background(), prov, providerCfg.Model, conv, executor, settings, nil, false, activeCaps, interrupted, tc, observer)
		if err != nil {
			fmt.Fprintf(os.Stderr, "\nagent error: %v\n", err)
		}
		if !ok {
			fmt.Fprintln(os.Stderr, "\n(turn cancelled)")
		}

		persistNewMessages(svc.webCache, sessionID, conv, beforeCount)

		pr := recallProcessor.ProcessPending()
		if persisted != nil && pr.HasBoosts() {
			persisted.ApplyRecallBoosts(pr)
		}
		if indexStore != nil && persisted != nil {
			if err := indexStore.Save(persisted); err != nil {
				log.Warn().Err(err).Msg("failed to persist index")
			}
		}
	}

	if *flagPrompt != "" {
		runTurn(*flagPrompt)
		return
	}

	fmt.Printf("agentcore ready (session %s, provider %s/%s). Ctrl-D to exit.\n", sessionID, providerName, providerCfg.Model)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := scanner.Text()
		if line == "" {
			continue
		}
		runTurn(line)
	}
}

// resolveConfigPath mirrors the teacher's ./config.toml-first, then
// $DataDir/config.toml resolution order.
func resolveConfigPath() (string, error) {
	if _, err := os.Stat("config.toml"); err == nil {
		return "config.toml", nil
	}
	dir, err := config.DataDir()
	if err != nil {
		return "", err
	}
	candidate := filepath.Join(dir, "config.toml")
	if _, err := os.Stat(candidate); err == nil {
		return candidate, nil
	}
	return "", fmt.Errorf("no config.toml found (looked in . and %s)", dir)
}

// buildRegistry registers one MockFactory per configured provider name.
// Raw per-provider HTTP transport is out of scope (spec.md Non-goals); the
// mock provider exercises the full contract (streaming, tool use, token
// counting) without a live backend.
func buildRegistry(cfg *config.Config, creds *config.Credentials) *provider.Registry {
	registry := provider.NewRegistry()
	for name := range cfg.Providers {
		response := "Ready."
		if creds.GetAPIKey(name) != "" {
			response = "Authenticated and ready."
		}
		registry.RegisterFactory(provider.NewMockFactory(name, response))
	}
	return registry
}

func resolveProvider(cfg *config.Config, registry *provider.Registry) (string, config.ProviderConfig) {
	name := cfg.DefaultProvider
	if name == "" {
		all := registry.List()
		if len(all) == 0 {
			fmt.Fprintln(os.Stderr, "Error: no providers configured")
			os.Exit(1)
		}
		name = all[0]
	}
	providerCfg, ok := cfg.Providers[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "Error: provider %q not found in config\n", name)
		os.Exit(1)
	}
	return name, providerCfg
}

// services bundles the long-lived collaborators shared across tool
// handlers and the session loop, mirroring the teacher's own services
// struct.
type services struct {
	webCache     *store.Cache
	deltaTracker *delta.Tracker
	scratchpad   *mcptools.Scratchpad
	readHandler  *mcptools.ReadHandler
	editHandler  *mcptools.EditHandler
	shellHandler *mcptools.ShellHandler
}

func setupServices(cfg *config.Config) services {
	webCache := openWebCache(cfg)
	dt := delta.New(webCache.DB())
	tracker := mcptools.NewFileReadTracker()
	sh := shell.New("", shell.DefaultBlockFuncs())

	return services{
		webCache:     webCache,
		deltaTracker: dt,
		scratchpad:   &mcptools.Scratchpad{},
		readHandler:  mcptools.NewReadHandler(tracker),
		editHandler:  mcptools.NewEditHandler(tracker, dt),
		shellHandler: mcptools.NewShellHandler(sh, dt),
	}
}

func openWebCache(cfg *config.Config) *store.Cache {
	dir, err := config.EnsureDataDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating data directory: %v\n", err)
		os.Exit(1)
	}
	ttl := time.Duration(cfg.Cache.CacheTTLOrDefault()) * time.Hour
	cache, err := store.Open(filepath.Join(dir, "cache.db"), ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening cache: %v\n", err)
		os.Exit(1)
	}
	return cache
}

func indexDirOrDefault() string {
	dir, err := indexer.DefaultIndexDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "agentcore-index")
	}
	return dir
}

func newSessionID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		log.Warn().Err(err).Msg("crypto/rand unavailable, falling back to timestamp session id")
		return fmt.Sprintf("%x", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

func resolveSession(flagSession string, flagContinue bool, db *store.Cache) (string, []message.Message) {
	switch {
	case flagSession != "":
		exists, err := db.SessionExists(flagSession)
		if err != nil || !exists {
			fmt.Fprintf(os.Stderr, "Error: session %q not found\n", flagSession)
			os.Exit(1)
		}
		msgs, err := db.LoadMessages(flagSession)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading session: %v\n", err)
			os.Exit(1)
		}
		return flagSession, store.ToConversationMessages(msgs)

	case flagContinue:
		id, err := db.LatestSessionID()
		if err != nil || id == "" {
			fmt.Fprintln(os.Stderr, "Error: no previous session to continue")
			os.Exit(1)
		}
		msgs, err := db.LoadMessages(id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading session: %v\n", err)
			os.Exit(1)
		}
		return id, store.ToConversationMessages(msgs)

	default:
		id := newSessionID()
		if err := db.CreateSession(id); err != nil {
			log.Warn().Err(err).Msg("failed to persist new session record")
		}
		return id, nil
	}
}

func listSessions(db *store.Cache) {
	if db == nil {
		return
	}
	sessions, err := db.ListSessions()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing sessions: %v\n", err)
		os.Exit(1)
	}
	for _, s := range sessions {
		fmt.Printf("%s  %s  %s\n", s.ID, s.Timestamp.Format("2006-01-02 15:04"), s.Preview)
	}
}

// persistNewMessages saves every message appended to conv since
// beforeCount, translating message.Message back into the stored row shape.
func persistNewMessages(db *store.Cache, sessionID string, conv *message.Conversation, beforeCount int) {
	for _, m := range conv.Messages[beforeCount:] {
		role := string(m.Role)
		text := m.Text()
		for _, block := range m.Content {
			switch block.Kind {
			case message.BlockToolResult:
				for _, part := range block.ToolResultParts {
					db.SaveMessage(sessionID, store.SessionMessage{
						Role:       "user",
						Content:    part.Text,
						ToolCallID: block.ToolResultForID,
						CreatedAt:  m.Timestamp,
					})
				}
			case message.BlockToolUse:
				db.SaveMessage(sessionID, store.SessionMessage{
					Role:      role,
					Content:   text,
					CreatedAt: m.Timestamp,
				})
			}
		}
		if text != "" {
			db.SaveMessage(sessionID, store.SessionMessage{
				Role:      role,
				Content:   text,
				CreatedAt: m.Timestamp,
			})
		}
	}
}

func allToolNames(executor *toolexec.Executor) []string {
	defs := executor.Tools()
	names := make([]string, 0, len(defs))
	for _, d := range defs {
		names = append(names, d.Name)
	}
	return names
}

func systemPrompt() string {
	return "You are agentcore, a coding assistant with file, shell, search, and sub-agent tools. Be direct and make the requested changes."
}

func setupFileLogging() error {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	dir, err := config.EnsureDataDir()
	if err != nil {
		return err
	}
	logDir := filepath.Join(dir, "logs")
	if err := os.MkdirAll(logDir, 0750); err != nil {
		return err
	}
	path := filepath.Join(logDir, "agentcore.log")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	log.Logger = log.Output(file)
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	return nil
}

// stdoutObserver prints streamed text and tool activity to stdout, the
// headless stand-in for the teacher's TUI renderer.
type stdoutObserver struct{}

func (stdoutObserver) OnResponsePrefix(string) {}

func (stdoutObserver) OnTextDelta(text string) {
	fmt.Print(text)
}

func (stdoutObserver) OnStreamTick() {}

func (stdoutObserver) OnRateLimited(delaySeconds float64) {
	fmt.Fprintf(os.Stderr, "\n(rate limited, retrying in %.1fs)\n", delaySeconds)
}

func (stdoutObserver) OnContextTooLong(current, limit int) {
	fmt.Fprintf(os.Stderr, "\n(context too long: %d tokens over %d limit, trimming)\n", current, limit)
}

func (stdoutObserver) OnContextTrimmed(removed int) {
	fmt.Fprintf(os.Stderr, "(trimmed %d messages to fit context)\n", removed)
}

func (stdoutObserver) OnTurn() {}

func (stdoutObserver) OnToolPhaseStart() {
	fmt.Println()
}

func (stdoutObserver) OnToolInvocation(name string, _ []byte) {
	fmt.Printf("  -> %s\n", name)
}

func (stdoutObserver) OnToolResult(name string, output toolexec.Output) {
	if output.IsError {
		fmt.Printf("  x  %s failed: %s\n", name, output.Text)
	}
}

func (stdoutObserver) OnLoopDetected(d loopdetect.Detection) {
	fmt.Fprintf(os.Stderr, "(loop detected, breaking: %+v)\n", d)
}

func (stdoutObserver) OnLoopRecovery() {
	fmt.Fprintln(os.Stderr, "(recovered from loop detection)")
}

func (stdoutObserver) OnAgentComplete() {
	fmt.Println()
}
