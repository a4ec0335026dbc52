package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joshp123/gohome-aircloud/internal/config"
	"github.com/joshp123/gohome-aircloud/internal/session"
	"github.com/joshp123/gohome-aircloud/plugins/aircloud"
)

func sessionMain(args []string) {
	if len(args) == 0 {
		sessionUsage()
		os.Exit(2)
	}

	switch args[0] {
	case "show":
		sessionShowCmd(args[1:])
	case "clear":
		sessionClearCmd(args[1:])
	default:
		sessionUsage()
		os.Exit(2)
	}
}

func sessionUsage() {
	fmt.Println("gohome session <command> [args]")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  show [--config <path>] [--json]")
	fmt.Println("  clear --account <email> [--config <path>]")
}

type sessionSummary struct {
	Account         string    `json:"account"`
	Path            string    `json:"path"`
	Present         bool      `json:"present"`
	HasRefreshToken bool      `json:"has_refresh_token"`
	Expiry          time.Time `json:"expiry,omitempty"`
	Error           string    `json:"error,omitempty"`
}

func sessionShowCmd(args []string) {
	flags := flag.NewFlagSet("show", flag.ExitOnError)
	configPath := flags.String("config", config.DefaultPath, "Path to config.yaml")
	jsonOut := flags.Bool("json", false, "Output JSON to stdout")
	_ = flags.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal("session", err)
	}
	if cfg.AirCloud == nil {
		fatal("session", errors.New("config has no aircloud section"))
	}

	summaries := make([]sessionSummary, 0, len(cfg.AirCloud.Accounts))
	for _, account := range cfg.AirCloud.Accounts {
		summaries = append(summaries, summarizeSession(cfg.Session.StateDir, account.UniqueID()))
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(summaries); err != nil {
			fatal("session", err)
		}
		return
	}
	for _, s := range summaries {
		switch {
		case s.Error != "":
			fmt.Printf("%s\terror: %s\n", s.Account, s.Error)
		case !s.Present:
			fmt.Printf("%s\tno session\n", s.Account)
		default:
			fmt.Printf("%s\texpires %s\trefresh=%t\n", s.Account, s.Expiry.Format(time.RFC3339), s.HasRefreshToken)
		}
	}
}

func summarizeSession(dir, account string) sessionSummary {
	path := session.StatePath(dir, aircloud.Domain, account)
	summary := sessionSummary{Account: account, Path: path}
	state, err := session.LoadState(path)
	switch {
	case errors.Is(err, session.ErrStateNotFound):
		return summary
	case err != nil:
		summary.Error = err.Error()
		return summary
	}
	summary.Present = true
	summary.HasRefreshToken = state.RefreshToken != ""
	summary.Expiry = state.Expiry
	return summary
}

func sessionClearCmd(args []string) {
	flags := flag.NewFlagSet("clear", flag.ExitOnError)
	configPath := flags.String("config", config.DefaultPath, "Path to config.yaml")
	account := flags.String("account", "", "Account email")
	_ = flags.Parse(args)

	if *account == "" {
		sessionUsage()
		os.Exit(2)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal("session", err)
	}

	path := session.StatePath(cfg.Session.StateDir, aircloud.Domain, config.AirCloudAccount{Email: *account}.UniqueID())
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		fatal("session", err)
	}
	fmt.Printf("cleared %s\n", path)
}
