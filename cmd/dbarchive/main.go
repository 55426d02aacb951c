// Command dbarchive exports, inspects and restores XML database archives
// from the command line, using the same configuration as the server.
//
//	dbarchive tables
//	dbarchive export [-o archive.xml] [-table a,b]
//	dbarchive inspect archive.xml
//	dbarchive restore -yes archive.xml
//
// A path of "-" means stdin or stdout. Logs go to stderr.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/JonMunkholm/dbarchive/internal/application"
	"github.com/JonMunkholm/dbarchive/internal/config"
	"github.com/JonMunkholm/dbarchive/internal/core"
	"github.com/JonMunkholm/dbarchive/internal/logging"
	"github.com/joho/godotenv"
)

const usage = `usage: dbarchive <command> [flags]

commands:
  tables                         list the registered tables
  export [-o file] [-table a,b]  write an archive (default stdout)
  inspect <file>                 summarize an archive without touching the database
  restore -yes <file>            replace table contents with the archive
`

var errUsage = errors.New("invalid usage")

func main() {
	godotenv.Overload()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr, openApp))
}

func openApp(ctx context.Context) (*application.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logging.Setup(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	return application.New(ctx, cfg)
}

// run executes one command and returns the process exit code.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer, newApp func(context.Context) (*application.App, error)) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}

	cmd, args := args[0], args[1:]
	var handler func(context.Context, *core.Service, []string, io.Reader, io.Writer) error
	switch cmd {
	case "tables":
		handler = runTables
	case "export":
		handler = runExport
	case "inspect":
		handler = runInspect
	case "restore":
		handler = runRestore
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", cmd, usage)
		return 2
	}

	app, err := newApp(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "dbarchive: %v\n", err)
		return 1
	}
	defer app.Close()

	if err := handler(ctx, app.Service, args, stdin, stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintf(stderr, "dbarchive %s: %v\n\n%s", cmd, err, usage)
			return 2
		}
		slog.Debug("command failed", "command", cmd, "error", err)
		if core.IsUserFacing(err) {
			fmt.Fprintf(stderr, "dbarchive %s: %s\n", cmd, core.FormatUserError(err))
		} else {
			fmt.Fprintf(stderr, "dbarchive %s: %v\n", cmd, err)
		}
		return 1
	}
	return 0
}

func runTables(_ context.Context, svc *core.Service, args []string, _ io.Reader, stdout io.Writer) error {
	if len(args) != 0 {
		return fmt.Errorf("%w: tables takes no arguments", errUsage)
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TABLE\tPRIMARY KEY")
	for _, spec := range svc.Tables() {
		fmt.Fprintf(tw, "%s\t%s\n", spec.Name, spec.PrimaryKey)
	}
	return tw.Flush()
}

func runExport(ctx context.Context, svc *core.Service, args []string, _ io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	out := fs.String("o", "-", "output file")
	tables := fs.String("table", "", "comma-separated tables to export (default all)")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() != 0 {
		return fmt.Errorf("%w: unexpected argument %q", errUsage, fs.Arg(0))
	}

	var w io.WriteCloser = nopWriteCloser{stdout}
	if *out != "-" {
		f, err := os.Create(*out)
		if err != nil {
			return err
		}
		w = f
	}

	res, err := svc.Export(ctx, w, core.ExportOptions{Tables: splitTables(*tables)})
	if err != nil {
		if *out != "-" {
			os.Remove(*out)
		}
		return err
	}
	slog.Info("export complete",
		"job_id", res.JobID,
		"tables", res.Tables,
		"rows", res.Rows,
		"bytes", res.Bytes,
		"output", *out,
	)
	return nil
}

func runInspect(ctx context.Context, svc *core.Service, args []string, stdin io.Reader, stdout io.Writer) error {
	r, size, err := openArchive(args, stdin)
	if err != nil {
		return err
	}
	res, err := svc.Inspect(ctx, r, size)
	if err != nil {
		return err
	}
	return printJSON(stdout, res)
}

func runRestore(ctx context.Context, svc *core.Service, args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("restore", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	yes := fs.Bool("yes", false, "confirm replacing table contents")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if !*yes {
		return fmt.Errorf("%w: restore deletes existing rows; pass -yes to confirm", errUsage)
	}

	r, size, err := openArchive(fs.Args(), stdin)
	if err != nil {
		return err
	}
	res, err := svc.Restore(ctx, r, size)
	if err != nil {
		return err
	}
	return printJSON(stdout, res)
}

// openArchive opens the single path argument, or stdin for "-".
func openArchive(args []string, stdin io.Reader) (io.ReadCloser, int64, error) {
	if len(args) != 1 {
		return nil, 0, fmt.Errorf("%w: want exactly one archive path", errUsage)
	}
	if args[0] == "-" {
		return io.NopCloser(stdin), 0, nil
	}
	f, err := os.Open(args[0])
	if err != nil {
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, info.Size(), nil
}

func splitTables(list string) []string {
	var names []string
	for _, name := range strings.Split(list, ",") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
