// Converts the BDD100K 100K images with their box and polygon labels to a Supervisely project and
// uploads it, or writes it to a local directory.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/sensorable/slyconv"
)

var (
	settingsPath  string   // The TOML settings file.
	localDirPath  string   // Write the project below this directory instead of uploading it.
	ledgerPath    string   // The sqlite upload ledger.
	tfRecordDir   string   // The TFRecord export directory.
	archivePaths  []string // Archives to unpack before converting.
	stagingDir    string   // Holds the downloaded archives named in the settings.
	batchSizeFlag int      // Overrides the batch size from the settings.
)

func init() {
	flag.Usage = func() {
		_, _ = fmt.Fprintf(os.Stderr, "Usage of %s:\n", filepath.Base(os.Args[0]))
		_, _ = fmt.Fprintf(os.Stderr, "  upload:\t\t-settings <file> (with %s, %s and %s set)\n",
			slyconv.EnvServerAddress, slyconv.EnvAPIToken, slyconv.EnvWorkspaceID)
		_, _ = fmt.Fprintln(os.Stderr, "  local project:\t-settings <file> -local <dir>")
		_, _ = fmt.Fprintln(os.Stderr)
		flag.PrintDefaults()
	}

	printUsageAndExit := func(msg ...interface{}) {
		log.Print(msg...)
		flag.Usage()
		os.Exit(1)
	}

	flag.StringVar(&settingsPath, "settings", settingsPath,
		"The `path` to the TOML settings file (built-in BDD100K defaults if empty)")
	flag.StringVar(&localDirPath, "local", localDirPath,
		"Write the project to this directory `path` instead of uploading it")
	flag.StringVar(&ledgerPath, "ledger", ledgerPath,
		"The `path` to a sqlite file recording every uploaded image (overrides the settings)")
	flag.StringVar(&tfRecordDir, "tfrecord-dir", tfRecordDir,
		"Also export the box labels as TFRecord files to this directory `path`")
	unpack := flag.String("unpack", "",
		"Comma-separated archive paths (`path[,...]`) to unpack before converting")
	flag.StringVar(&stagingDir, "staging", stagingDir,
		"The directory `path` with the downloaded archives named in the settings (default: the parent of data_dir)")
	flag.IntVar(&batchSizeFlag, "batch-size", 0,
		"The number of images per upload request (overrides the settings)")

	flag.Parse()

	if *unpack != "" {
		for _, p := range strings.Split(*unpack, ",") {
			archivePaths = append(archivePaths, filepath.Clean(p))
		}
	}
	if batchSizeFlag < 0 {
		printUsageAndExit("Invalid value for -batch-size")
	}
	if localDirPath != "" {
		localDirPath = filepath.Clean(localDirPath)
	}
}

func main() {
	settings, err := slyconv.LoadSettings(settingsPath)
	if err != nil {
		log.Fatal("Failed to load the settings: ", err)
	}

	// Stage archives.
	for _, p := range archivePaths {
		if _, err := slyconv.UnpackIfArchive(p); err != nil {
			log.Fatal("Failed to unpack the archive: ", err)
		}
	}
	urls, err := settings.DownloadURLs()
	if err != nil {
		log.Fatal(err)
	}
	if stagingDir == "" {
		stagingDir = filepath.Dir(settings.DataDir)
	}
	if _, err := slyconv.StageArchives(stagingDir, urls); err != nil {
		log.Fatal("Failed to stage the archives: ", err)
	}
	overrides := &slyconv.Settings{
		BatchSize:   batchSizeFlag,
		LedgerPath:  ledgerPath,
		TFRecordDir: tfRecordDir,
	}
	settings.Merge(overrides)

	// Select the target.
	var api slyconv.API
	if localDirPath != "" {
		if api, err = slyconv.NewLocalProject(localDirPath); err != nil {
			log.Fatal(err)
		}
	} else {
		if err := settings.ValidateServer(); err != nil {
			log.Fatal("Incomplete server settings: ", err)
		}
		if api, err = slyconv.NewHTTPClient(settings.Server.Address, settings.Server.Token); err != nil {
			log.Fatal(err)
		}
	}

	uploader := &slyconv.Uploader{API: api, Settings: settings}
	if settings.LedgerPath != "" {
		ledger, err := slyconv.OpenLedger(settings.LedgerPath)
		if err != nil {
			log.Fatal("Failed to open the ledger: ", err)
		}
		defer ledger.Close()
		uploader.Recorder = ledger
	}

	if settings.HideDataset {
		log.Print("The project is marked as hidden")
	}

	result, err := uploader.Run(context.Background())
	if err != nil {
		log.Fatal("Conversion failed: ", err)
	}

	for _, ds := range result.Datasets {
		log.Printf("Dataset %q: %d images, %d annotations", ds.Dataset.Name, ds.Images,
			ds.Annotations)
	}
	log.Printf("Successfully created project %q (id %d)", result.Project.Name, result.Project.ID)
}
