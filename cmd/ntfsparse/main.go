package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/blang/semver"
	"github.com/creativeprojects/go-selfupdate"
	"github.com/spf13/cobra"

	"github.com/s0up4200/go-ntfs/internal/ntfs"
	"github.com/s0up4200/go-ntfs/internal/report"
	"github.com/s0up4200/go-ntfs/internal/settings"
	"github.com/s0up4200/go-ntfs/internal/source"
	"github.com/s0up4200/go-ntfs/internal/util"
)

var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	s := settings.Default()
	var listFlag string

	root := &cobra.Command{
		Use:   "ntfsparse image",
		Short: "Inspect and extract files from a raw NTFS image or device",
		Example: `  ntfsparse \\.\c: -f 0 --fetch-file
  ntfsparse \\.\c: -s $MFT --fetch-file
  ntfsparse image.ntfs -s "C:\pagefile.sys" --fetch-file
  ntfsparse image.ntfs -f 123 --list=3`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("list") {
				depth, err := parseListDepth(listFlag)
				if err != nil {
					return err
				}
				s.ListDepth = depth
			}
			return run(args[0], s)
		},
	}

	root.Flags().Int64VarP(&s.FileRecord, "filerecord", "f", -1, "Dump info for file record number")
	root.Flags().StringVarP(&s.SearchPath, "search", "s", "", "Search path, traversing directories")
	root.Flags().BoolVarP(&s.DumpReparse, "reparse", "r", false, "Dump $Reparse file data")
	root.Flags().BoolVarP(&s.FetchFile, "fetch-file", "w", false, "Fetch all file's streams")
	root.Flags().StringVarP(&listFlag, "list", "l", "", "List files to the given recursion depth (-1 for full recursion)")
	root.Flags().Lookup("list").NoOptDefVal = "2"
	root.Flags().BoolVarP(&s.Quiet, "quiet", "q", false, "No logging")
	root.Flags().StringVarP(&s.LogFile, "log-file", "L", settings.DefaultLogFile, "Write to this logfile")

	root.MarkFlagsMutuallyExclusive("filerecord", "search", "reparse")
	root.MarkFlagsMutuallyExclusive("quiet", "log-file")

	root.AddCommand(newUpdateCommand())
	return root
}

func parseListDepth(s string) (int, error) {
	var depth int
	if _, err := fmt.Sscanf(s, "%d", &depth); err != nil {
		return 0, fmt.Errorf("invalid list depth %q", s)
	}
	return depth, nil
}

func newUpdateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Update ntfsparse to the latest release",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSelfUpdate(cmd.Context())
		},
	}
}

func runSelfUpdate(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if version == "" || version == "dev" {
		return errors.New("self-update is only available in release builds")
	}

	if _, err := semver.ParseTolerant(version); err != nil {
		return fmt.Errorf("could not parse version: %w", err)
	}

	latest, found, err := selfupdate.DetectLatest(ctx, selfupdate.ParseSlug("s0up4200/go-ntfs"))
	if err != nil {
		return fmt.Errorf("error occurred while detecting version: %w", err)
	}
	if !found {
		return fmt.Errorf("latest version for %s/%s could not be found from github repository", "s0up4200/go-ntfs", version)
	}

	if latest.LessOrEqual(version) {
		fmt.Printf("Current binary is the latest version: %s\n", version)
		return nil
	}

	exe, err := selfupdate.ExecutablePath()
	if err != nil {
		return fmt.Errorf("could not locate executable path: %w", err)
	}

	if err := selfupdate.UpdateTo(ctx, latest.AssetURL, latest.AssetName, exe); err != nil {
		return fmt.Errorf("error occurred while updating binary: %w", err)
	}

	fmt.Printf("Successfully updated to version: %s\n", latest.Version())
	return nil
}

func run(image string, s settings.Settings) error {
	logger, closeLog, err := openLogger(s)
	if err != nil {
		return err
	}
	defer closeLog()

	src, closeSrc, err := openSource(image)
	if err != nil {
		return err
	}
	defer closeSrc()

	vol, err := ntfs.New(src, ntfs.Options{Logger: logger})
	if err != nil {
		return err
	}

	var rec *ntfs.FileRecord

	switch {
	case s.FileRecord >= 0:
		rec, err = vol.FileRecord(uint64(s.FileRecord))
		if err != nil {
			return err
		}
		if rec == nil {
			fmt.Println("file was not found.")
		} else {
			report.WriteRecord(os.Stdout, vol, rec)
		}

	case s.SearchPath != "":
		rec, err = vol.Resolve(cleanSearchPath(s.SearchPath))
		if err != nil {
			return err
		}
		if rec == nil {
			fmt.Println("file was not found.")
		}

	case s.DumpReparse:
		points, err := vol.ReparsePoints()
		if err != nil {
			return err
		}
		if points == nil {
			fmt.Println("Nothing to print, check debug log file.")
		} else {
			report.WriteReparse(os.Stdout, points)
		}
	}

	if s.ListDepth != 0 && rec != nil {
		report.WriteTree(os.Stdout, rec.DisplayName(), vol.ListDir(rec, s.ListDepth))
	}

	if s.FetchFile {
		fetchStreams(vol, rec)
	}

	fmt.Println("\ndone, see log file.")
	return nil
}

// cleanSearchPath strips surrounding quotes and a leading drive prefix
// ("C:\") from a search path.
func cleanSearchPath(path string) string {
	if len(path) >= 2 && path[0] == '"' && path[len(path)-1] == '"' {
		path = path[1 : len(path)-1]
	}
	if len(path) > 3 && path[1] == ':' && path[2] == '\\' {
		path = path[3:]
	}
	return path
}

// openSource prefers a read-only memory mapping and falls back to plain
// positional reads for raw devices that cannot be mapped.
func openSource(image string) (source.Source, func(), error) {
	if m, err := source.OpenMapped(image); err == nil {
		return m, func() { m.Close() }, nil
	}
	f, err := source.OpenFile(image)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}

func openLogger(s settings.Settings) (*log.Logger, func(), error) {
	if s.Quiet {
		return log.New(io.Discard, "", 0), func() {}, nil
	}
	f, err := os.Create(s.LogFile)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot open log file: %w", err)
	}
	return log.New(f, "", log.LstdFlags), func() { f.Close() }, nil
}

func fetchStreams(vol *ntfs.Volume, rec *ntfs.FileRecord) {
	if rec == nil {
		fmt.Println("file was not found, nothing to fetch.")
		return
	}

	filename := rec.DisplayName()
	for _, stream := range rec.StreamNames() {
		saveName := filename
		displayName := filename
		if stream != "" {
			saveName = filename + "_" + stream
			displayName = filename + ":" + stream
		}

		size, _ := vol.StreamSize(rec, stream)
		fmt.Printf("fetching file %q, size %s bytes...\n", displayName, util.FormatNumber(int64(size)))

		r, ok := vol.OpenStream(rec, stream)
		if !ok {
			continue
		}
		out, err := os.Create(saveName)
		if err != nil {
			fmt.Printf("cannot create %q: %v\n", saveName, err)
			continue
		}
		if _, err := r.WriteTo(out); err != nil {
			fmt.Printf("error fetching %q: %v\n", displayName, err)
		}
		out.Close()
	}
}
