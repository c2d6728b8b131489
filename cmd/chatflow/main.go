package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"chatflow/internal/app"
	"chatflow/pkg/banner"
	"chatflow/pkg/config"
	"chatflow/pkg/logger"
	"chatflow/pkg/models"
	"chatflow/pkg/notify"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	cfgFlag := flag.String("config", "", "path to config file")
	dbFlag := flag.String("db", "", "override storage db path")
	backendFlag := flag.String("backend", "", "override backend base URL")
	modeFlag := flag.String("mode", "", "approval mode: auto or review")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("chatflow %s (commit %s, built %s)\n", version, commit, buildDate)
		return
	}

	_ = godotenv.Load(".env")

	cfgSet := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			cfgSet = true
		}
	})
	cfgPath := config.ResolveConfigPath(*cfgFlag, cfgSet)

	eff, err := config.LoadEffective(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *dbFlag != "" {
		eff.Config.Storage.DBPath = *dbFlag
	}
	if *backendFlag != "" {
		eff.Config.Backend.BaseURL = *backendFlag
	}
	if *modeFlag != "" {
		eff.Config.Chat.Mode = *modeFlag
	}

	logger.InitWithLevel(eff.Config.Logging.Level)
	banner.Print(eff, version)

	a, err := app.New(eff, notify.LogNotifier{})
	if err != nil {
		logger.Error("startup_failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := a.Run(ctx); err != nil {
			logger.Error("run_failed", "error", err)
		}
	}()

	repl(ctx, a)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown_incomplete", "error", err)
	}
}

// repl reads queries from stdin and prints the conversation transcript
// after each one settles. Ctrl-D or the signal context ends the loop.
func repl(ctx context.Context, a *app.App) {
	sc := bufio.NewScanner(os.Stdin)
	fmt.Println("Type a query and press enter. Ctrl-D to quit.")
	for {
		fmt.Print("> ")
		if !sc.Scan() {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		queryID, err := a.Controller().StartQuery(ctx, text)
		if err != nil {
			fmt.Fprintf(os.Stderr, "query failed: %v\n", err)
			continue
		}
		logger.Info("query_submitted", "query_id", queryID)

		// Give the stream a moment to settle, then render what we have.
		time.Sleep(500 * time.Millisecond)
		printTranscript(a)
	}
}

func printTranscript(a *app.App) {
	log := a.Controller().Log()
	if log == nil {
		return
	}
	for _, m := range log.Snapshot() {
		switch m.Role {
		case models.RoleUser:
			fmt.Printf("[you] %s\n", m.Content)
		case models.RoleSystem:
			fmt.Printf("[agents] %d step(s)\n", len(m.ThinkingLog))
			for _, s := range m.ThinkingLog {
				fmt.Printf("  - %s (%s): %s\n", s.AgentType, s.Status, s.Message)
			}
		default:
			fmt.Printf("[assistant] %s\n", m.Content)
		}
	}
}
