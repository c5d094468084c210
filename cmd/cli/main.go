package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/quailsql/QuailDB"
	"github.com/quailsql/QuailDB/config"
	"github.com/quailsql/QuailDB/db"
	"github.com/quailsql/QuailDB/dump"
	"github.com/quailsql/QuailDB/logging"
	"github.com/quailsql/QuailDB/ps"
	"github.com/quailsql/QuailDB/sql"
)

const (
	PromptColor  = "\033[36m" // Cyan
	ErrorColor   = "\033[31m" // Red
	SuccessColor = "\033[32m" // Green
	ResetColor   = "\033[0m"
	BoldColor    = "\033[1m"
)

// Version is set at build time via -ldflags
var Version = "dev"

const maxHistory = 1000

// CLI holds the CLI state
type CLI struct {
	instance    *QuailDB.Instance
	engine      *db.Engine
	cfg         *config.Config
	logger      *logging.Logger
	out         io.Writer
	history     []string
	historyFile string
}

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file")
	baseDir := flag.String("baseDir", "", "Base directory for snapshots (memory when empty)")
	gitUrl := flag.String("gitUrl", "", "Git URL to clone snapshots from")
	sqlFile := flag.String("sqlFile", "", "SQL file to execute (non-interactive)")
	userName := flag.String("name", "", "Author name for snapshots")
	userEmail := flag.String("email", "", "Author email for snapshots")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%sError: %v%s\n", ErrorColor, err, ResetColor)
		os.Exit(1)
	}
	if *baseDir != "" {
		cfg.Persistence.BaseDir = *baseDir
	}
	if *gitUrl != "" {
		cfg.Persistence.GitURL = *gitUrl
	}
	if *userName != "" {
		cfg.Identity.Name = *userName
	}
	if *userEmail != "" {
		cfg.Identity.Email = *userEmail
	}

	logger := logging.New(cfg.Logging, Version)

	printBanner()

	persistence, err := openPersistence(cfg.Persistence)
	if err != nil {
		fmt.Printf("%sError: %v%s\n", ErrorColor, err, ResetColor)
		os.Exit(1)
	}

	instance := QuailDB.Open(&persistence)
	if err := instance.Load(); err != nil {
		fmt.Printf("%sError loading snapshot: %v%s\n", ErrorColor, err, ResetColor)
		os.Exit(1)
	}

	cli := newCLI(instance, cfg, logger, os.Stdout)
	cli.historyFile = getHistoryPath()
	cli.loadHistory()

	// Execute SQL file if provided
	if *sqlFile != "" {
		if err := cli.runFile(*sqlFile); err != nil {
			fmt.Printf("%sError running file: %v%s\n", ErrorColor, err, ResetColor)
			os.Exit(1)
		}
		if cfg.Persistence.AutoSave {
			cli.save("")
		}
		return
	}

	cli.run()
}

func openPersistence(cfg config.PersistenceConfig) (ps.Persistence, error) {
	if cfg.BaseDir == "" {
		fmt.Printf("%sUsing memory persistence%s\n", SuccessColor, ResetColor)
		return ps.NewMemoryPersistence()
	}

	fmt.Printf("%sUsing file persistence: %s%s\n", SuccessColor, cfg.BaseDir, ResetColor)
	var gitUrl *string
	if cfg.GitURL != "" {
		gitUrl = &cfg.GitURL
	}
	return ps.NewFilePersistence(cfg.BaseDir, gitUrl)
}

func newCLI(instance *QuailDB.Instance, cfg *config.Config, logger *logging.Logger, out io.Writer) *CLI {
	opts := []db.Option{db.WithLogger(logger.Logger)}
	if cfg.Persistence.AutoSave {
		opts = append(opts, db.WithObserver(instance.AutoSave(cfg.Identity, logger.Logger)))
	}

	return &CLI{
		instance: instance,
		engine:   instance.Engine(opts...),
		cfg:      cfg,
		logger:   logger,
		out:      out,
		history:  make([]string, 0),
	}
}

func printBanner() {
	fmt.Println()
	bannerWidth := 39 // inner width of the banner box
	versionLine := fmt.Sprintf("QuailDB v%s", Version)
	padding := bannerWidth - len(versionLine) - 2 // -2 for "  " margins
	if padding < 0 {
		padding = 0
	}
	leftPad := padding / 2
	rightPad := padding - leftPad

	fmt.Printf("%s%s╔═══════════════════════════════════════╗%s\n", BoldColor, PromptColor, ResetColor)
	fmt.Printf("%s%s║ %*s%s%*s ║%s\n", BoldColor, PromptColor, leftPad, "", versionLine, rightPad, "", ResetColor)
	fmt.Printf("%s%s║   In-memory SQL with git snapshots    ║%s\n", BoldColor, PromptColor, ResetColor)
	fmt.Printf("%s%s╚═══════════════════════════════════════╝%s\n", BoldColor, PromptColor, ResetColor)
	fmt.Println()
	fmt.Println("Type .help for commands, .quit to exit")
	fmt.Println()
}

func (cli *CLI) run() {
	reader := bufio.NewReader(os.Stdin)
	var multiLineBuffer strings.Builder

	for {
		prompt := cli.getPrompt(multiLineBuffer.Len() > 0)
		fmt.Fprint(cli.out, prompt)

		input, err := reader.ReadString('\n')
		if err != nil {
			fmt.Fprintf(cli.out, "\n%sGoodbye!%s\n", SuccessColor, ResetColor)
			cli.saveHistory()
			return
		}

		input = strings.TrimSuffix(input, "\n")
		input = strings.TrimSuffix(input, "\r")

		if strings.TrimSpace(input) == "" {
			continue
		}

		// Dot commands are only recognised outside a multi-line statement
		if multiLineBuffer.Len() == 0 && strings.HasPrefix(strings.TrimSpace(input), ".") {
			if cli.handleCommand(input) {
				continue
			}
		}

		// Multi-line support: accumulate until we see a semicolon
		multiLineBuffer.WriteString(input)

		trimmed := strings.TrimSpace(multiLineBuffer.String())
		if !strings.HasSuffix(trimmed, ";") {
			multiLineBuffer.WriteString(" ")
			continue
		}

		query := strings.TrimSuffix(trimmed, ";")
		multiLineBuffer.Reset()

		if strings.TrimSpace(query) == "" {
			continue
		}

		cli.addToHistory(query + ";")
		cli.execute(query)
	}
}

func (cli *CLI) execute(query string) {
	result, err := cli.engine.Execute(query)
	if err != nil {
		fmt.Fprintf(cli.out, "%s✗ %s%s\n", ErrorColor, db.Render(nil, err), ResetColor)
		return
	}
	result.Display()
}

func (cli *CLI) getPrompt(multiLine bool) string {
	if multiLine {
		return fmt.Sprintf("%s   ...>%s ", PromptColor, ResetColor)
	}

	dbPart := ""
	if current := cli.engine.CurrentDatabase(); current != "" {
		dbPart = fmt.Sprintf(" (%s)", current)
	}

	return fmt.Sprintf("%squaildb%s>%s ", PromptColor, dbPart, ResetColor)
}

func (cli *CLI) errorf(format string, args ...any) {
	fmt.Fprintf(cli.out, "%s✗ "+format+"%s\n", append([]any{ErrorColor}, append(args, ResetColor)...)...)
}

func (cli *CLI) successf(format string, args ...any) {
	fmt.Fprintf(cli.out, "%s✓ "+format+"%s\n", append([]any{SuccessColor}, append(args, ResetColor)...)...)
}

// handleCommand runs a dot command. It always reports the input as handled;
// unknown commands print an error.
func (cli *CLI) handleCommand(input string) bool {
	parts := strings.Fields(strings.TrimSpace(input))
	if len(parts) == 0 {
		return true
	}
	args := parts[1:]

	switch strings.ToLower(parts[0]) {
	case ".quit", ".exit", ".q":
		fmt.Fprintf(cli.out, "%sGoodbye!%s\n", SuccessColor, ResetColor)
		cli.saveHistory()
		os.Exit(0)

	case ".help", ".h", ".?":
		cli.printHelp()

	case ".tables":
		switch {
		case len(args) > 0:
			cli.execute("SHOW TABLES IN " + args[0])
		case cli.engine.CurrentDatabase() != "":
			cli.execute("SHOW TABLES")
		default:
			cli.errorf("Usage: .tables <database>")
		}

	case ".databases", ".dbs":
		cli.execute("SHOW DATABASES")

	case ".use":
		if len(args) == 0 {
			cli.errorf("Usage: .use <database>")
			break
		}
		if err := cli.engine.Use(args[0]); err != nil {
			cli.errorf("%s", db.Render(nil, err))
			break
		}
		cli.successf("Using database: %s", args[0])

	case ".clear", ".cls":
		fmt.Fprint(cli.out, "\033[H\033[2J")

	case ".history":
		cli.printHistory()

	case ".log":
		limit := 10
		if len(args) > 0 {
			if n, err := strconv.Atoi(args[0]); err == nil {
				limit = n
			}
		}
		cli.printLog(limit)

	case ".save":
		cli.save(strings.Join(args, " "))

	case ".snapshot":
		if len(args) == 0 {
			cli.printSnapshots()
			break
		}
		if err := cli.instance.Persistence.Snapshot(args[0], nil); err != nil {
			cli.errorf("Error: %v", err)
			break
		}
		cli.successf("Snapshot %s created", args[0])

	case ".recover":
		if len(args) == 0 {
			cli.errorf("Usage: .recover <snapshot>")
			break
		}
		if err := cli.instance.Persistence.Recover(cli.instance.Registry, args[0]); err != nil {
			cli.errorf("Error: %v", err)
			break
		}
		cli.successf("Recovered snapshot %s", args[0])

	case ".restore":
		if len(args) == 0 {
			cli.errorf("Usage: .restore <id|snapshot> [database] [table]")
			break
		}
		cli.restore(args[0], args[1:])

	case ".read":
		if len(args) == 0 {
			cli.errorf("Usage: .read <file.sql>")
			break
		}
		if err := cli.runFile(args[0]); err != nil {
			cli.errorf("Error: %v", err)
		}

	case ".import":
		if len(args) < 3 {
			cli.errorf("Usage: .import <sql|json> <database> <path>")
			break
		}
		cli.importDump(args[0], args[1], args[2])

	case ".export":
		if len(args) < 2 {
			cli.errorf("Usage: .export <sql|json|sqlite> <database|*> [path]")
			break
		}
		path := ""
		if len(args) > 2 {
			path = args[2]
		}
		cli.exportDump(args[0], args[1], path)

	case ".version":
		fmt.Fprintf(cli.out, "QuailDB version %s\n", Version)

	default:
		cli.errorf("Unknown command: %s (type .help for commands)", parts[0])
	}

	return true
}

func (cli *CLI) printHelp() {
	w := cli.out
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s%sSpecial Commands:%s\n", BoldColor, PromptColor, ResetColor)
	fmt.Fprintln(w, "  .help, .h                          Show this help message")
	fmt.Fprintln(w, "  .quit, .exit                       Exit the CLI")
	fmt.Fprintln(w, "  .databases                         List all databases")
	fmt.Fprintln(w, "  .tables [db]                       List tables in a database")
	fmt.Fprintln(w, "  .use <db>                          Set the current database")
	fmt.Fprintln(w, "  .read <file>                       Execute SQL statements from a file")
	fmt.Fprintln(w, "  .import <sql|json> <db> <path>     Load a dump into a database")
	fmt.Fprintln(w, "  .export <fmt> <db|*> [path]        Write sql, json or sqlite dumps")
	fmt.Fprintln(w, "  .save [message]                    Save a snapshot")
	fmt.Fprintln(w, "  .log [n]                           Show snapshot history")
	fmt.Fprintln(w, "  .snapshot [name]                   Tag the latest snapshot, or list tags")
	fmt.Fprintln(w, "  .recover <name>                    Load a tagged snapshot")
	fmt.Fprintln(w, "  .restore <id> [db] [table]         Rewind to a snapshot")
	fmt.Fprintln(w, "  .history                           Show command history")
	fmt.Fprintln(w, "  .clear                             Clear the screen")
	fmt.Fprintln(w, "  .version                           Show version info")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s%sSQL Commands:%s\n", BoldColor, PromptColor, ResetColor)
	fmt.Fprintln(w, "  CREATE DATABASE <name>;  DROP DATABASE <name>;  USE <name>;")
	fmt.Fprintln(w, "  CREATE TABLE <table> (<column> <type> [constraints], ...);")
	fmt.Fprintln(w, "  ALTER TABLE <table> ADD|DROP|MODIFY|CHANGE|RENAME ...;")
	fmt.Fprintln(w, "  DROP TABLE <table>;  DESCRIBE <table>;")
	fmt.Fprintln(w, "  INSERT INTO <table> [(<cols>)] VALUES (<vals>), ...;")
	fmt.Fprintln(w, "  SELECT <cols> FROM <table> [WHERE ...] [GROUP BY ...] [ORDER BY ...] [LIMIT n];")
	fmt.Fprintln(w, "  UPDATE <table> SET <col>=<val>, ... [WHERE ...];")
	fmt.Fprintln(w, "  DELETE FROM <table> [WHERE ...];")
	fmt.Fprintln(w, "  SHOW DATABASES;  SHOW TABLES [IN <db>];")
	fmt.Fprintln(w)
}

func (cli *CLI) save(message string) {
	txn, err := cli.instance.Save(cli.cfg.Identity, message)
	switch {
	case errors.Is(err, ps.ErrNoChanges):
		fmt.Fprintf(cli.out, "No changes since %s\n", txn.ShortId())
	case err != nil:
		cli.errorf("Error: %v", err)
	default:
		cli.logger.Info("snapshot saved", "id", txn.Id, "message", txn.Message)
		cli.successf("Saved %s %s", txn.ShortId(), txn.Message)
	}
}

func (cli *CLI) printLog(limit int) {
	history, err := cli.instance.Persistence.History(limit)
	if err != nil {
		cli.errorf("Error: %v", err)
		return
	}
	if len(history) == 0 {
		fmt.Fprintln(cli.out, "No snapshots saved")
		return
	}
	for _, txn := range history {
		fmt.Fprintf(cli.out, "  %s  %s  %-30s %s\n",
			txn.ShortId(), txn.When.Format("2006-01-02 15:04:05"), txn.Author, txn.Message)
	}
}

func (cli *CLI) printSnapshots() {
	snapshots, err := cli.instance.Persistence.Snapshots()
	if err != nil {
		cli.errorf("Error: %v", err)
		return
	}
	if len(snapshots) == 0 {
		fmt.Fprintln(cli.out, "No snapshots tagged")
		return
	}
	for _, name := range snapshots {
		fmt.Fprintf(cli.out, "  %s\n", name)
	}
}

func (cli *CLI) restore(revision string, scope []string) {
	txn, err := cli.instance.Persistence.FindTransaction(revision)
	if err != nil {
		cli.errorf("Error: %v", err)
		return
	}

	var database, table *string
	if len(scope) > 0 {
		database = &scope[0]
	}
	if len(scope) > 1 {
		table = &scope[1]
	}

	if err := cli.instance.Persistence.Restore(cli.instance.Registry, txn, database, table); err != nil {
		cli.errorf("Error: %v", err)
		return
	}

	target := "all databases"
	if database != nil {
		target = *database
		if table != nil {
			target += "." + *table
		}
	}
	cli.successf("Restored %s to %s", target, txn.ShortId())
}

func (cli *CLI) s3Options() *dump.S3Options {
	return &dump.S3Options{
		AccessKey: cli.cfg.S3.AccessKey,
		SecretKey: cli.cfg.S3.SecretKey,
		Region:    cli.cfg.S3.Region,
		Endpoint:  cli.cfg.S3.Endpoint,
	}
}

func (cli *CLI) importDump(formatName, database, path string) {
	format, err := dump.ParseFormat(formatName)
	if err != nil {
		cli.errorf("Error: %v", err)
		return
	}

	report, err := dump.Import(context.Background(), cli.engine, format, database, path, cli.s3Options())
	if err != nil {
		cli.errorf("%s", db.Render(nil, err))
		return
	}
	for _, line := range report.Errors {
		fmt.Fprintf(cli.out, "%s  %s%s\n", ErrorColor, line, ResetColor)
	}
	cli.successf("%s", report.Message)
}

func (cli *CLI) exportDump(formatName, database, path string) {
	format, err := dump.ParseFormat(formatName)
	if err != nil {
		cli.errorf("Error: %v", err)
		return
	}

	message, err := dump.Export(context.Background(), cli.instance.Registry, format, database, path, cli.s3Options())
	if err != nil {
		cli.errorf("%s", db.Render(nil, err))
		return
	}
	cli.successf("%s", message)
}

func (cli *CLI) addToHistory(cmd string) {
	// Don't add duplicates of the last command
	if len(cli.history) > 0 && cli.history[len(cli.history)-1] == cmd {
		return
	}
	cli.history = append(cli.history, cmd)

	if len(cli.history) > maxHistory {
		cli.history = cli.history[len(cli.history)-maxHistory:]
	}
}

func (cli *CLI) printHistory() {
	if len(cli.history) == 0 {
		fmt.Fprintln(cli.out, "No command history")
		return
	}

	start := 0
	if len(cli.history) > 20 {
		start = len(cli.history) - 20
	}

	for i := start; i < len(cli.history); i++ {
		fmt.Fprintf(cli.out, "  %3d  %s\n", i+1, cli.history[i])
	}
}

func getHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".quaildb_history")
}

func (cli *CLI) loadHistory() {
	if cli.historyFile == "" {
		return
	}

	file, err := os.Open(cli.historyFile)
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		cli.history = append(cli.history, scanner.Text())
	}
}

func (cli *CLI) saveHistory() {
	if cli.historyFile == "" {
		return
	}

	file, err := os.Create(cli.historyFile)
	if err != nil {
		cli.logger.Warn("failed to save history", "path", cli.historyFile, "error", err)
		return
	}
	defer file.Close()

	start := 0
	if len(cli.history) > maxHistory {
		start = len(cli.history) - maxHistory
	}

	for i := start; i < len(cli.history); i++ {
		_, _ = file.WriteString(cli.history[i] + "\n")
	}
}

// runFile executes the statements of a SQL script and prints one compact
// line per statement. Failed statements do not stop the script.
func (cli *CLI) runFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	statements := sql.SplitStatements(string(data))

	successCount := 0
	errorCount := 0

	for i, stmt := range statements {
		result, err := cli.engine.Execute(stmt)
		if err != nil {
			fmt.Fprintf(cli.out, "%s[%d] ✗ %s%s\n", ErrorColor, i+1, truncate(stmt, 50), ResetColor)
			fmt.Fprintf(cli.out, "      %s\n", db.Render(nil, err))
			errorCount++
			continue
		}

		successCount++
		fmt.Fprintf(cli.out, "%s[%d] ✓ %s%s%s\n", SuccessColor, i+1, truncate(stmt, 50), summarize(result), ResetColor)
	}

	fmt.Fprintf(cli.out, "\n%s✓ Script complete: %d succeeded, %d failed%s\n",
		SuccessColor, successCount, errorCount, ResetColor)

	return nil
}

// summarize renders the counters of a result as a parenthesised suffix.
func summarize(result db.Result) string {
	switch r := result.(type) {
	case db.CommitResult:
		var details []string
		if r.DatabasesCreated > 0 {
			details = append(details, fmt.Sprintf("%d db created", r.DatabasesCreated))
		}
		if r.DatabasesDeleted > 0 {
			details = append(details, fmt.Sprintf("%d db deleted", r.DatabasesDeleted))
		}
		if r.TablesCreated > 0 {
			details = append(details, fmt.Sprintf("%d table created", r.TablesCreated))
		}
		if r.TablesDeleted > 0 {
			details = append(details, fmt.Sprintf("%d table deleted", r.TablesDeleted))
		}
		if r.TablesAltered > 0 {
			details = append(details, fmt.Sprintf("%d table altered", r.TablesAltered))
		}
		if r.RecordsWritten > 0 {
			details = append(details, fmt.Sprintf("%d written", r.RecordsWritten))
		}
		if r.RecordsDeleted > 0 {
			details = append(details, fmt.Sprintf("%d deleted", r.RecordsDeleted))
		}
		if len(details) == 0 {
			return ""
		}
		return " (" + strings.Join(details, ", ") + ")"
	case db.QueryResult:
		return fmt.Sprintf(" (%d rows)", r.RecordsRead)
	default:
		return ""
	}
}

// truncate shortens a string to max length with ellipsis
func truncate(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\t", " ")
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
