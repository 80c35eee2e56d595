// Command upload submits documents and links to StudyLM and waits until they are ready.
//
//	upload [-config path] [-base-url url] [-url link]... file...
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/studylm/uploader/internal/backend"
	"github.com/studylm/uploader/internal/config"
	"github.com/studylm/uploader/internal/logging"
	"github.com/studylm/uploader/internal/models"
	"github.com/studylm/uploader/internal/upload"
)

type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("upload", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "XML or YAML config file (defaults plus environment when empty)")
	baseURL := fs.String("base-url", "", "StudyLM API base URL, overrides the config")
	logLevel := fs.String("log-level", "warn", "log level for diagnostics on stderr")
	var links stringList
	fs.Var(&links, "url", "link to ingest (repeatable)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 && len(links) == 0 {
		fmt.Fprintln(stderr, "usage: upload [-config path] [-base-url url] [-url link]... file...")
		return 2
	}

	var (
		cfg *config.AppConfig
		err error
	)
	if *configPath != "" {
		cfg, err = config.LoadConfig(*configPath)
	} else {
		cfg, err = config.LoadDefaults()
	}
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}
	if *baseURL != "" {
		cfg.Backend.BaseURL = *baseURL
	}

	logger := logging.NewLoggerTo(stderr, *logLevel)
	opts, err := cfg.TrackerOptions()
	if err != nil {
		fmt.Fprintf(stderr, "config: %v\n", err)
		return 1
	}
	opts.Logger = logger
	// Entries must outlive the run for the summary.
	opts.DisplayTimeout = 0

	tracker := upload.New(backend.NewClient(cfg.Backend.BaseURL, cfg.RequestTimeout(), logger), opts)
	defer tracker.CancelAll()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		tracker.CancelAll()
	}()

	failed := false
	var items []upload.Item
	for _, path := range fs.Args() {
		it, err := upload.OpenFile(path)
		if err != nil {
			fmt.Fprintf(stderr, "%s: %v\n", path, err)
			failed = true
			continue
		}
		defer it.Close()
		items = append(items, it)
	}
	for _, link := range links {
		items = append(items, upload.URLItem(link))
	}

	sub := tracker.Subscribe()
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		printEvents(stdout, sub)
	}()

	var ids []string
	for _, r := range tracker.SubmitBatch(ctx, items) {
		if r.Err != nil {
			fmt.Fprintf(stderr, "%s: %v\n", r.Item, r.Err)
			failed = true
			continue
		}
		ids = append(ids, r.Entry.ID)
	}

	if err := tracker.Await(ctx, ids...); err != nil {
		fmt.Fprintf(stderr, "interrupted: %v\n", err)
		tracker.CancelAll()
		<-printed
		return 130
	}
	tracker.Unsubscribe(sub)
	<-printed

	for _, id := range ids {
		entry, ok := tracker.Get(id)
		if !ok {
			continue
		}
		fmt.Fprintln(stdout, summaryLine(entry))
		if entry.Status != models.EntryStatusSuccess {
			failed = true
		}
	}

	if failed {
		return 1
	}
	return 0
}

// printEvents writes one line per status or stage change until sub closes.
func printEvents(w io.Writer, sub *upload.Subscription) {
	last := make(map[string]string)
	for ev := range sub.C {
		if ev.Type != upload.EventEntryUpdated {
			continue
		}
		state := string(ev.Entry.Status) + "/" + ev.Entry.StageName()
		if last[ev.Entry.ID] == state {
			continue
		}
		last[ev.Entry.ID] = state
		fmt.Fprintf(w, "%-10s %s (%s) stage=%s\n", ev.Entry.Status, ev.Entry.Name, ev.Entry.ID, stageOrDash(ev.Entry))
	}
}

func summaryLine(e models.UploadEntry) string {
	size := "link"
	if e.Size != nil {
		size = humanize.IBytes(uint64(*e.Size))
	}
	line := fmt.Sprintf("%s  %s  %s  %s after %d checks", e.ID, e.Name, size, e.Status, e.Attempts)
	if e.Error != "" {
		line += ": " + e.Error
	}
	return line
}

func stageOrDash(e models.UploadEntry) string {
	if s := e.StageName(); s != "" {
		return s
	}
	return "-"
}
