// Command-line interface to the wsiview whole-slide tile server.
// Provides serve, index, browse, token, and about commands.

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	humanize "github.com/dustin/go-humanize"

	"github.com/pathviewer/wsiview/dicomweb"
	"github.com/pathviewer/wsiview/pyramid"
	"github.com/pathviewer/wsiview/server"
	"github.com/pathviewer/wsiview/tilesource"
	"github.com/pathviewer/wsiview/wsi"
)

var (
	// Display usage if true.
	showHelp = flag.Bool("help", false, "")

	// Run in verbose mode if true.
	runVerbose = flag.Bool("verbose", false, "")

	// Address for http communication.  Overrides any config setting.
	httpAddress = flag.String("http", "", "")

	// Maximum number of studies indexed concurrently.
	numFetch = flag.Int("fetch", 4, "")
)

const helpMessage = `
wsiview serves whole-slide image pyramids stored in DICOMweb stores as tiles

Usage: wsiview [options] <command>

      -http       =string   Address for HTTP communication, overriding config.
      -fetch      =number   Maximum number of studies indexed concurrently.
      -verbose    (flag)    Run in verbose mode.
  -h, -help       (flag)    Show help message

Commands:

	about
	help
	serve  <config path>
	index  <config path> <store> <study uid> [<study uid> ...]
	browse <config path> [<location> [<dataset> [<store id>]]]
	token  <config path> <user>

A store is given as projects/<project>/locations/<location>/datasets/<dataset>/dicomStores/<store>.
`

var usage = func() {
	fmt.Print(helpMessage)
}

func main() {
	flag.BoolVar(showHelp, "h", false, "Show help message")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() >= 1 && strings.ToLower(flag.Args()[0]) == "help" {
		*showHelp = true
	}

	if *runVerbose {
		wsi.Verbose = true
		wsi.SetLogMode(wsi.DebugMode)
	}
	if *showHelp || flag.NArg() == 0 {
		flag.Usage()
		os.Exit(0)
	}

	// Capture ctrl+c and other interrupts.  Then handle graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		log.Printf("Stop signal captured.  Shutting down...\n")
	}()

	command := wsi.Command(flag.Args())
	if err := DoCommand(ctx, command); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

// DoCommand serves as a switchboard for commands.
func DoCommand(ctx context.Context, cmd wsi.Command) error {
	if len(cmd) == 0 {
		return fmt.Errorf("Blank command!")
	}
	switch cmd.Name() {
	case "serve":
		return DoServe(ctx, cmd)
	case "index":
		return DoIndex(ctx, cmd)
	case "browse":
		return DoBrowse(ctx, cmd)
	case "token":
		return DoToken(cmd)
	case "about":
		fmt.Printf("wsiview %s\n", server.Version)
		return nil
	default:
		return fmt.Errorf("unknown command %q: see 'wsiview help'", cmd.Name())
	}
}

// loadConfig loads the configuration given as the first argument and starts logging.
func loadConfig(cmd wsi.Command) error {
	configPath := cmd.Argument(1)
	if configPath == "" {
		return fmt.Errorf("%s command must be followed by the path to the TOML configuration file", cmd.Name())
	}
	if err := server.LoadConfig(configPath); err != nil {
		return err
	}
	logConfig := server.LogConfig()
	logConfig.SetLogger()
	if *httpAddress != "" {
		server.SetHTTPAddress(*httpAddress)
	}
	return nil
}

// DoServe loads the configuration then serves HTTP requests until interrupted.
func DoServe(ctx context.Context, cmd wsi.Command) error {
	if err := loadConfig(cmd); err != nil {
		return err
	}
	if err := server.Initialize(ctx); err != nil {
		return err
	}
	defer wsi.Shutdown()
	defer server.Shutdown()
	return server.Serve(ctx)
}

// DoIndex collects and indexes studies, printing a summary of each pyramid.  Any
// configured archive is filled as a side effect.
func DoIndex(ctx context.Context, cmd wsi.Command) error {
	var configPath, store string
	studies := cmd.CommandArgs(&configPath, &store)
	if store == "" || len(studies) == 0 {
		return fmt.Errorf("index command must be followed by config path, store, and one or more study UIDs")
	}
	if err := loadConfig(cmd); err != nil {
		return err
	}
	if err := server.Initialize(ctx); err != nil {
		return err
	}
	defer server.Shutdown()
	collector, err := server.Collector()
	if err != nil {
		return err
	}
	results := collector.CollectEach(ctx, dicomweb.StorePath(store), studies, *numFetch)
	failed, err := writeIndexSummary(os.Stdout, results, server.PyramidOptions())
	if err != nil {
		return err
	}
	if failed != 0 {
		return fmt.Errorf("%d of %d studies could not be indexed", failed, len(results))
	}
	return nil
}

// writeIndexSummary builds the pyramid of each collected study and writes one table row
// per study, including those that failed to collect or build.  It returns the number
// of failed studies.
func writeIndexSummary(out io.Writer, results []dicomweb.StudyResult, opts pyramid.Options) (failed int, err error) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STUDY\tSERIES\tINSTANCES\tLEVELS\tSIZE\tTILE\tTILES\tSTATUS")
	for _, r := range results {
		if r.Err != nil {
			failed++
			fmt.Fprintf(w, "%s\t\t\t\t\t\t\t%v\n", r.Study, r.Err)
			continue
		}
		col := r.Collection
		idx, err := pyramid.Build(col.Instances, opts)
		if err != nil {
			failed++
			fmt.Fprintf(w, "%s\t%s\t%d\t\t\t\t\t%v\n", r.Study, col.Series.Series, len(col.Instances), err)
			continue
		}
		src := tilesource.New(idx, col.Series)
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d x %d\t%s\t%s\tok\n", r.Study, col.Series.Series,
			len(col.Instances), idx.NumLevels(), src.Width(), src.Height(), idx.TileSize(),
			humanize.Comma(int64(idx.NumTiles())))
	}
	return failed, w.Flush()
}

// DoBrowse lists the locations of the configured project, the datasets of a location,
// the DICOM stores of a dataset, or the studies of a store.
func DoBrowse(ctx context.Context, cmd wsi.Command) error {
	var configPath, location, dataset, storeID string
	cmd.CommandArgs(&configPath, &location, &dataset, &storeID)
	if err := loadConfig(cmd); err != nil {
		return err
	}
	if err := server.Initialize(ctx); err != nil {
		return err
	}
	defer server.Shutdown()
	project := server.DicomWebConfig().Project

	if storeID != "" {
		client, err := server.Client()
		if err != nil {
			return err
		}
		store := dicomweb.StoreName(project, location, dataset, storeID)
		studies, err := client.Studies(ctx, dicomweb.StorePath(store))
		if err != nil {
			return err
		}
		for _, study := range studies {
			fmt.Printf("%s\t%s\t%s\n", study.UID, study.Date, study.Description)
		}
		return nil
	}

	browser, err := server.Browser()
	if err != nil {
		return err
	}
	var resources []dicomweb.Resource
	switch {
	case dataset != "":
		resources, err = browser.DicomStores(ctx, dicomweb.DatasetName(project, location, dataset))
	case location != "":
		resources, err = browser.Datasets(ctx, dicomweb.LocationName(project, location))
	default:
		resources, err = browser.Locations(ctx, dicomweb.ProjectName(project))
	}
	if err != nil {
		return err
	}
	for _, r := range resources {
		fmt.Printf("%s\t%s\n", r.ID, r.Name)
	}
	return nil
}

// DoToken prints a JWT for the given user signed with the configured secret key.
func DoToken(cmd wsi.Command) error {
	var configPath, user string
	cmd.CommandArgs(&configPath, &user)
	if user == "" {
		return fmt.Errorf("token command must be followed by config path and user name")
	}
	if err := server.LoadConfig(configPath); err != nil {
		return err
	}
	token, err := server.GenerateJWT(user)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
