// Command cachefileio is a small inspection tool over the cache engine:
// open, write, read and doom entries by key directly from the shell,
// the way a developer would exercise the engine without wiring it into
// a full browser cache.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cachefileio/cachefileio/internal/config"
	"github.com/cachefileio/cachefileio/iomanager"
)

var (
	cfgPath string
	opts    config.Options
)

func main() {
	root := &cobra.Command{
		Use:   "cachefileio",
		Short: "Inspect and drive a disk-backed content-addressed cache engine",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			rootFlag := opts.Root
			if cfgPath != "" {
				loaded, err := config.Load(cfgPath)
				if err != nil {
					return err
				}
				opts = loaded
			} else {
				opts = config.Default()
			}
			if rootFlag != "" {
				opts.Root = rootFlag
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&opts.Root, "root", "", "cache root directory (overrides config)")

	root.AddCommand(openCmd(), writeCmd(), readCmd(), doomCmd(), lsCmd(), serveCmd())

	if err := root.Execute(); err != nil {
		logrus.Fatal(err)
	}
}

func effectiveRoot() string {
	if opts.Root != "" {
		return opts.Root
	}
	return config.Default().Root
}

func startManager() (*iomanager.Manager, error) {
	var mgrOpts []iomanager.Option
	if opts.AccessJournal {
		mgrOpts = append(mgrOpts, iomanager.WithAccessJournal(effectiveRoot()))
	}
	return iomanager.Init(effectiveRoot(), iomanager.NewCallbackCompleter(), mgrOpts...)
}

func openCmd() *cobra.Command {
	var create, createNew, priority bool
	cmd := &cobra.Command{
		Use:   "open <key>",
		Short: "Open (or create) a cache entry by key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := startManager()
			if err != nil {
				return err
			}
			defer mgr.Shutdown()

			flags := iomanager.FlagOpen
			switch {
			case createNew:
				flags = iomanager.FlagCreateNew
			case create:
				flags = iomanager.FlagCreate
			}
			if priority {
				flags |= iomanager.FlagPriority
			}

			l := newSyncListener()
			mgr.OpenFile(args[0], flags, l)
			h, _, err := l.wait()
			if err != nil {
				return err
			}
			fmt.Printf("digest=%s size=%d exists=%v doomed=%v\n", h.Digest(), h.FileSize(), h.FileExists(), h.IsDoomed())
			mgr.ReleaseHandle(h)
			return nil
		},
	}
	cmd.Flags().BoolVar(&create, "create", false, "create if missing, else adopt existing")
	cmd.Flags().BoolVar(&createNew, "create-new", false, "doom any existing entry and allocate fresh")
	cmd.Flags().BoolVar(&priority, "priority", false, "dispatch at the priority tier")
	return cmd
}

func writeCmd() *cobra.Command {
	var offset int64
	var validate bool
	cmd := &cobra.Command{
		Use:   "write <key> <data>",
		Short: "Write data to a cache entry, creating it if needed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := startManager()
			if err != nil {
				return err
			}
			defer mgr.Shutdown()

			ol := newSyncListener()
			mgr.OpenFile(args[0], iomanager.FlagCreate, ol)
			h, _, err := ol.wait()
			if err != nil {
				return err
			}
			defer mgr.ReleaseHandle(h)

			data := []byte(args[1])
			wl := newSyncListener()
			mgr.Write(h, offset, data, len(data), validate, wl)
			if _, _, err := wl.wait(); err != nil {
				return err
			}
			fmt.Printf("wrote %d bytes to %s\n", len(data), h.Digest())
			return nil
		},
	}
	cmd.Flags().Int64Var(&offset, "offset", 0, "byte offset to write at")
	cmd.Flags().BoolVar(&validate, "validate", true, "clear the invalid flag on success")
	return cmd
}

func readCmd() *cobra.Command {
	var offset int64
	var count int
	cmd := &cobra.Command{
		Use:   "read <key>",
		Short: "Read bytes from a cache entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := startManager()
			if err != nil {
				return err
			}
			defer mgr.Shutdown()

			ol := newSyncListener()
			mgr.OpenFile(args[0], iomanager.FlagOpen, ol)
			h, _, err := ol.wait()
			if err != nil {
				return err
			}
			defer mgr.ReleaseHandle(h)

			if count <= 0 {
				count = int(h.FileSize())
			}
			buf := make([]byte, count)
			rl := newSyncListener()
			mgr.Read(h, offset, buf, count, rl)
			_, data, err := rl.wait()
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(data)
			return err
		},
	}
	cmd.Flags().Int64Var(&offset, "offset", 0, "byte offset to read from")
	cmd.Flags().IntVar(&count, "count", 0, "bytes to read (default: whole file)")
	return cmd
}

func doomCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doom <key>",
		Short: "Doom (two-phase delete) a cache entry by key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := startManager()
			if err != nil {
				return err
			}
			defer mgr.Shutdown()

			dl := newSyncListener()
			mgr.DoomFileByKey(args[0], dl)
			_, _, err = dl.wait()
			return err
		},
	}
	return cmd
}

func lsCmd() *cobra.Command {
	var doomed bool
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List cache entries (or doomed files)",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := startManager()
			if err != nil {
				return err
			}
			defer mgr.Shutdown()

			mode := iomanager.EnumerateEntries
			if doomed {
				mode = iomanager.EnumerateDoomed
			}
			it, err := mgr.EnumerateEntryFiles(mode)
			if err != nil {
				return err
			}
			for {
				path, ok := it.Next()
				if !ok {
					break
				}
				fmt.Println(path)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&doomed, "doomed", false, "list doomed/ instead of entries/")
	return cmd
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the engine and serve Prometheus metrics until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := prometheus.NewRegistry()
			mgrOpts := []iomanager.Option{iomanager.WithMetricsRegisterer(reg)}
			if opts.AccessJournal {
				mgrOpts = append(mgrOpts, iomanager.WithAccessJournal(effectiveRoot()))
			}
			mgr, err := iomanager.Init(effectiveRoot(), iomanager.NewCallbackCompleter(), mgrOpts...)
			if err != nil {
				return err
			}
			defer mgr.Shutdown()

			addr := opts.MetricsAddr
			if addr == "" {
				addr = ":9180"
			}
			http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			logrus.WithField("addr", addr).Info("cachefileio: serving metrics")
			return http.ListenAndServe(addr, nil)
		},
	}
	return cmd
}
