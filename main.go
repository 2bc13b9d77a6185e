package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ttulttul/localgpt/internal/audit"
	"github.com/ttulttul/localgpt/internal/completion"
	"github.com/ttulttul/localgpt/internal/config"
	"github.com/ttulttul/localgpt/internal/fileutil"
	"github.com/ttulttul/localgpt/internal/logger"
	"github.com/ttulttul/localgpt/internal/sandbox"
	"github.com/ttulttul/localgpt/internal/security"
	"github.com/ttulttul/localgpt/internal/telemetry"
	"github.com/ttulttul/localgpt/internal/tui"
	"github.com/ttulttul/localgpt/internal/tui/spinner"
)

// Version is set at build time via ldflags: -X main.Version=x.y.z
var Version = "1.0.0"

func main() {
	// argv[0] dispatch: when re-exec'd as the sandbox sentinel, enter the
	// child path before anything else touches process state.
	if filepath.Base(os.Args[0]) == sandbox.Sentinel {
		sandbox.ChildMain(os.Args)
		return // unreachable; ChildMain execs or exits
	}

	if completion.Run() {
		return
	}

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "md":
		runMd(os.Args[2:])
	case "sandbox":
		runSandbox(os.Args[2:])
	case "init":
		runInit(os.Args[2:])
	case "completion":
		runCompletion(os.Args[2:])
	case "version", "-v", "--version":
		fmt.Printf("localgpt %s\n", Version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`localgpt - local AI assistant trust boundary

Usage:
  localgpt init                 Create the state dir, device key, and workspace
  localgpt md sign              Sign LocalGPT.md with the device key
  localgpt md verify            Verify the LocalGPT.md signature
  localgpt md audit             Show the security audit log
      --json                    Output as JSON
      --filter <action>         Filter by action (e.g. write_blocked)
      --export <file>           Write a zstd-compressed copy of the log
  localgpt md status            Show security posture
  localgpt sandbox status       Show sandbox capabilities and configuration
  localgpt sandbox test         Run sandbox enforcement smoke tests
  localgpt completion           Install shell tab-completion (--uninstall to remove)
  localgpt version              Print version`)
}

// loadConfig reads the configuration, honoring LOCALGPT_CONFIG.
func loadConfig() *config.Config {
	cfg, err := config.Load(os.Getenv("LOCALGPT_CONFIG"))
	if err != nil {
		tui.PrintError(fmt.Sprintf("config: %v", err))
		os.Exit(1)
	}
	logger.SetGlobalLevelFromString(string(cfg.Log.Level))
	if cfg.Log.NoColor {
		logger.SetColored(false)
		tui.SetPlainMode(true)
	}
	return cfg
}

// ==================== init ====================

func runInit(args []string) {
	flags := flag.NewFlagSet("init", flag.ExitOnError)
	noColor := flags.Bool("no-color", false, "disable colored output")
	flags.Parse(args)
	if *noColor {
		tui.SetPlainMode(true)
	}

	cfg := loadConfig()
	if err := fileutil.SecureMkdirAll(cfg.Paths.StateDir); err != nil {
		tui.PrintError(fmt.Sprintf("create state dir: %v", err))
		os.Exit(1)
	}
	if err := os.MkdirAll(cfg.Paths.Workspace, 0755); err != nil {
		tui.PrintError(fmt.Sprintf("create workspace: %v", err))
		os.Exit(1)
	}
	if err := security.EnsureDeviceKey(cfg.Paths.StateDir); err != nil {
		tui.PrintError(err.Error())
		os.Exit(1)
	}

	auditLog := audit.New(cfg.Paths.StateDir)
	auditLog.AppendBestEffort(audit.ActionCreated, "", "cli", "workspace initialized")

	tui.PrintSuccess(fmt.Sprintf("initialized %s", cfg.Paths.StateDir))
}

// ==================== md ====================

func runMd(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: localgpt md <sign|verify|audit|status>")
		os.Exit(1)
	}
	switch args[0] {
	case "sign":
		mdSign()
	case "verify":
		mdVerify()
	case "audit":
		mdAudit(args[1:])
	case "status":
		mdStatus()
	default:
		fmt.Fprintf(os.Stderr, "unknown md command: %s\n", args[0])
		os.Exit(1)
	}
}

func mdSign() {
	cfg := loadConfig()
	auditLog := audit.New(cfg.Paths.StateDir)

	if err := security.EnsureDeviceKey(cfg.Paths.StateDir); err != nil {
		tui.PrintError(err.Error())
		os.Exit(1)
	}

	policyPath := filepath.Join(cfg.Paths.Workspace, security.PolicyFilename)
	if _, err := os.Stat(policyPath); err != nil {
		tui.PrintError(fmt.Sprintf("no %s found at %s - create it first", security.PolicyFilename, policyPath))
		os.Exit(1)
	}

	manifest, err := security.Sign(cfg.Paths.StateDir, cfg.Paths.Workspace, "cli")
	if err != nil {
		tui.PrintError(err.Error())
		os.Exit(1)
	}

	auditLog.AppendBestEffort(audit.ActionSigned, manifest.ContentSHA256, "cli", "")

	tui.PrintSuccess(fmt.Sprintf("signed %s (sha256: %s | hmac: %s)",
		security.PolicyFilename, manifest.ContentSHA256[:16], manifest.HMACSHA256[:16]))
}

func mdVerify() {
	cfg := loadConfig()
	auditLog := audit.New(cfg.Paths.StateDir)

	v := security.VerifyAndAudit(cfg.Paths.Workspace, cfg.Paths.StateDir, auditLog, "cli")

	switch v.State {
	case security.StateValid:
		tui.PrintSuccess(fmt.Sprintf("policy VALID (%d chars)", len(v.Content)))
	case security.StateUnsigned:
		tui.PrintWarning("policy UNSIGNED - run `localgpt md sign` to activate")
	case security.StateTamperDetected:
		tui.PrintError("policy TAMPER DETECTED - the file changed after signing; re-sign with `localgpt md sign`")
	case security.StateMissing:
		tui.PrintWarning(fmt.Sprintf("policy MISSING - no %s found, using hardcoded security only", security.PolicyFilename))
	case security.StateManifestCorrupted:
		tui.PrintError("policy MANIFEST CORRUPTED - re-sign with `localgpt md sign`")
	case security.StateSuspiciousContent:
		tui.PrintError(fmt.Sprintf("policy REJECTED (suspicious content: %s)", strings.Join(v.Patterns, ", ")))
	}

	if v.State != security.StateValid {
		os.Exit(1)
	}
}

func mdAudit(args []string) {
	flags := flag.NewFlagSet("audit", flag.ExitOnError)
	jsonOut := flags.Bool("json", false, "output as JSON")
	filter := flags.String("filter", "", "filter by action type")
	export := flags.String("export", "", "write a zstd-compressed copy of the log")
	flags.Parse(args)

	cfg := loadConfig()
	auditLog := audit.New(cfg.Paths.StateDir)

	if *export != "" {
		if err := auditLog.ExportFile(*export); err != nil {
			tui.PrintError(err.Error())
			os.Exit(1)
		}
		tui.PrintSuccess(fmt.Sprintf("exported audit log to %s", *export))
		return
	}

	records, err := auditLog.Read()
	if err != nil {
		tui.PrintError(err.Error())
		os.Exit(1)
	}

	// Chain verification runs on the full log, before filtering.
	report, err := auditLog.Verify()
	if err != nil {
		tui.PrintError(err.Error())
		os.Exit(1)
	}
	brokenAt := make(map[int]bool, len(report.Broken))
	for _, i := range report.Broken {
		brokenAt[i] = true
	}

	type row struct {
		index int
		entry *audit.Entry
	}
	var rows []row
	for i, rec := range records {
		if rec.Entry == nil {
			if *filter == "" {
				rows = append(rows, row{index: i})
			}
			continue
		}
		if *filter != "" && string(rec.Entry.Action) != *filter {
			continue
		}
		rows = append(rows, row{index: i, entry: rec.Entry})
	}

	if len(rows) == 0 {
		if *filter != "" {
			fmt.Println("No audit log entries matching filter.")
		} else {
			fmt.Println("No audit log entries.")
		}
		return
	}

	if *jsonOut {
		var entries []*audit.Entry
		for _, r := range rows {
			if r.entry != nil {
				entries = append(entries, r.entry)
			}
		}
		out, _ := json.MarshalIndent(entries, "", "  ")
		fmt.Println(string(out))
		return
	}

	label := fmt.Sprintf("Security Audit Log (%d entries", len(rows))
	if *filter != "" {
		label += fmt.Sprintf(", filter: %s", *filter)
	}
	fmt.Println(label + "):")
	fmt.Println()

	for _, r := range rows {
		if r.entry == nil {
			fmt.Printf("  %s line %d unparseable %s\n",
				tui.StyleError.Render("✗"), r.index+1, tui.StyleMuted.Render("[corrupted]"))
			continue
		}
		e := r.entry
		mark := ""
		if brokenAt[r.index] {
			mark = " " + tui.StyleError.Render("[CHAIN BROKEN]")
		}
		if e.Action == audit.ActionChainRecovery {
			mark += " " + tui.StyleWarning.Render("[new segment]")
		}
		sha := e.ContentSHA256
		if len(sha) >= 16 {
			sha = sha[:16]
		}
		detail := ""
		if e.Detail != "" {
			detail = " - " + e.Detail
		}
		fmt.Printf("  %s %s (source: %s, sha256: %s)%s%s\n",
			e.TS, e.Action, e.Source, sha, mark, detail)
	}

	fmt.Println()
	if report.Intact() {
		tui.PrintSuccess(fmt.Sprintf("chain integrity: INTACT (%d segment(s))", report.Segments))
	} else {
		tui.PrintError(fmt.Sprintf("chain integrity: %d corrupted line(s), %d broken link(s), %d segment(s)",
			len(report.Corrupted), len(report.Broken), report.Segments))
	}
}

func mdStatus() {
	cfg := loadConfig()

	fmt.Println(tui.StyleTitle.Render("Security Status:"))

	policyPath := filepath.Join(cfg.Paths.Workspace, security.PolicyFilename)
	if _, err := os.Stat(policyPath); err == nil {
		v := security.LoadAndVerify(cfg.Paths.Workspace, cfg.Paths.StateDir)
		status := map[security.State]string{
			security.StateValid:             "Valid (signed and verified)",
			security.StateUnsigned:          "Unsigned (run `localgpt md sign`)",
			security.StateTamperDetected:    "TAMPER DETECTED",
			security.StateManifestCorrupted: "Manifest corrupted",
			security.StateSuspiciousContent: "Rejected (suspicious content)",
		}[v.State]

		signedAt := "N/A"
		if m, err := security.ReadManifest(cfg.Paths.Workspace); err == nil {
			signedAt = m.SignedAt
		}
		fmt.Printf("  Policy:     %s (exists)\n", policyPath)
		fmt.Printf("  Signature:  %s (signed: %s)\n", status, signedAt)
	} else {
		fmt.Println("  Policy:     Not created")
	}

	if _, err := os.Stat(filepath.Join(cfg.Paths.StateDir, security.DeviceKeyFilename)); err == nil {
		fmt.Println("  Device Key: Present")
	} else {
		fmt.Println("  Device Key: Missing (run `localgpt init`)")
	}

	auditLog := audit.New(cfg.Paths.StateDir)
	report, err := auditLog.Verify()
	switch {
	case err != nil:
		fmt.Printf("  Audit Log:  unreadable (%v)\n", err)
	case report.Entries == 0:
		fmt.Println("  Audit Log:  Empty")
	case report.Intact():
		fmt.Printf("  Audit Log:  %d entries, chain intact\n", report.Entries)
	default:
		fmt.Printf("  Audit Log:  %d entries, CHAIN BROKEN\n", report.Entries)
	}

	fmt.Printf("  Protected:  %d workspace files, %d external paths\n",
		len(security.ProtectedFiles), len(security.ProtectedExternalPaths))

	if cfg.Telemetry.Enabled {
		if secrets, err := config.LoadSecrets(); err == nil {
			if store, err := telemetryOpen(cfg, secrets.DBKey); err == nil {
				if n, err := store.Count(); err == nil {
					fmt.Printf("  Telemetry:  %d executions recorded\n", n)
				}
				store.Close()
			}
		}
	}
}

func telemetryOpen(cfg *config.Config, key string) (*telemetry.Storage, error) {
	return telemetry.NewStorage(cfg.Telemetry.DBPath, key)
}

// ==================== sandbox ====================

func runSandbox(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: localgpt sandbox <status|test>")
		os.Exit(1)
	}
	switch args[0] {
	case "status":
		sandboxStatus()
	case "test":
		sandboxTest()
	default:
		fmt.Fprintf(os.Stderr, "unknown sandbox command: %s\n", args[0])
		os.Exit(1)
	}
}

func sandboxStatus() {
	cfg := loadConfig()
	caps := sandbox.Detect()

	fmt.Println(tui.StyleTitle.Render("Sandbox Capabilities:"))
	for _, line := range caps.StatusLines() {
		fmt.Println(line)
	}
	fmt.Println()

	effective := caps.EffectiveLevel(cfg.Sandbox.Level)
	fmt.Println(tui.StyleTitle.Render("Configuration:"))
	fmt.Printf("  Enabled:     %v\n", cfg.Sandbox.Enabled)
	fmt.Printf("  Mode:        %s\n", cfg.Sandbox.Mode)
	fmt.Printf("  Level:       %s (config: %s)\n", effective, cfg.Sandbox.Level)
	fmt.Printf("  Mechanism:   %s\n", caps.Platform())
	fmt.Printf("  Timeout:     %ds\n", cfg.Sandbox.TimeoutSecs)
	fmt.Printf("  Max output:  %d bytes\n", cfg.Sandbox.MaxOutputBytes)
	fmt.Printf("  Max fsize:   %d bytes\n", cfg.Sandbox.MaxFileSizeBytes)
	fmt.Printf("  Max procs:   %d\n", cfg.Sandbox.MaxProcesses)
	fmt.Printf("  Network:     %s\n", cfg.Sandbox.Network.Policy)
	if len(cfg.Sandbox.AllowPaths.Read) > 0 {
		fmt.Printf("  Extra read:  %v\n", cfg.Sandbox.AllowPaths.Read)
	}
	if len(cfg.Sandbox.AllowPaths.Write) > 0 {
		fmt.Printf("  Extra write: %v\n", cfg.Sandbox.AllowPaths.Write)
	}
}

func sandboxTest() {
	cfg := loadConfig()
	caps := sandbox.Detect()
	effective := caps.EffectiveLevel(cfg.Sandbox.Level)

	if !cfg.Sandbox.Enabled || effective == 0 {
		tui.PrintWarning("sandbox is disabled or no kernel support available; skipping enforcement tests")
		return
	}

	policy := sandbox.Resolve(&cfg.Sandbox, cfg.Paths.Workspace, effective)
	if err := os.MkdirAll(cfg.Paths.Workspace, 0755); err != nil {
		tui.PrintError(fmt.Sprintf("create workspace: %v", err))
		os.Exit(1)
	}

	tui.PrintInfo(fmt.Sprintf("running sandbox smoke tests (workspace: %s, level: %s)",
		cfg.Paths.Workspace, effective))

	var results []sandbox.CheckResult
	err := spinner.Run("exercising sandbox", "smoke tests complete", func() error {
		results = sandbox.SelfTest(context.Background(), &policy)
		return nil
	})
	if err != nil {
		tui.PrintError(err.Error())
		os.Exit(1)
	}

	passed, failed := 0, 0
	for i, r := range results {
		label := fmt.Sprintf("  [%d/%d] %-34s", i+1, len(results), r.Name+":")
		switch {
		case r.Skipped:
			fmt.Printf("%s %s (%s)\n", label, tui.StyleMuted.Render("skipped"), r.Detail)
			passed++
		case r.Passed:
			fmt.Printf("%s %s\n", label, tui.StyleSuccess.Render("ok"))
			passed++
		default:
			detail := r.Detail
			if len(detail) > 100 {
				detail = detail[:100]
			}
			fmt.Printf("%s %s (%s)\n", label, tui.StyleError.Render("FAIL"), strings.TrimSpace(detail))
			failed++
		}
	}

	fmt.Println()
	if failed == 0 {
		tui.PrintSuccess(fmt.Sprintf("all %d checks passed", passed))
	} else {
		tui.PrintError(fmt.Sprintf("%d passed, %d failed", passed, failed))
		os.Exit(1)
	}
}

// ==================== completion ====================

func runCompletion(args []string) {
	flags := flag.NewFlagSet("completion", flag.ExitOnError)
	uninstall := flags.Bool("uninstall", false, "remove shell completion")
	flags.Parse(args)

	if *uninstall {
		if err := completion.Uninstall(); err != nil {
			tui.PrintError(err.Error())
			os.Exit(1)
		}
		tui.PrintSuccess("shell completion removed")
		return
	}
	if err := completion.Install(); err != nil {
		tui.PrintError(err.Error())
		os.Exit(1)
	}
	tui.PrintSuccess("shell completion installed - restart your shell")
}
