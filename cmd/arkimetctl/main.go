// Command arkimetctl is a thin smoke-test CLI over internal/dataset: init
// a dataset directory, acquire length-delimited raw messages from a
// file, query them back, and run check/repack. It is not a front-end in
// the sense spec.md excludes — no matcher expression language, no HTTP
// surface — just enough wiring to drive the engine end to end.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"arkimet/internal/dataset"
	"arkimet/internal/index"
	"arkimet/internal/manifest"
	"arkimet/internal/matcher"
	"arkimet/internal/metadata"
	"arkimet/internal/scanner"
	"arkimet/internal/segment"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "init":
		cmdInit(os.Args[2:])
	case "acquire":
		cmdAcquire(os.Args[2:])
	case "query":
		cmdQuery(os.Args[2:])
	case "check":
		cmdCheck(os.Args[2:])
	case "repack":
		cmdRepack(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: arkimetctl <init|acquire|query|check|repack> [flags]")
}

func cmdInit(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	root := fs.String("root", "", "dataset root directory")
	fs.Parse(args)
	if *root == "" {
		fmt.Fprintln(os.Stderr, "init: -root is required")
		os.Exit(2)
	}
	if err := os.MkdirAll(*root, 0755); err != nil {
		fatal(err)
	}
	if _, err := index.Open(*root, []metadata.ItemCode{metadata.ItemOrigin}); err != nil {
		fatal(err)
	}
	fmt.Printf("initialized dataset at %s\n", *root)
}

func cmdAcquire(args []string) {
	fs := flag.NewFlagSet("acquire", flag.ExitOnError)
	root := fs.String("root", "", "dataset root directory")
	input := fs.String("file", "", "length-delimited raw message file")
	fs.Parse(args)

	cfg, mgr, idx, man, log := openDataset(*root)
	defer idx.Close()
	defer man.Close()

	f, err := os.Open(*input)
	if err != nil {
		fatal(err)
	}
	defer f.Close()

	w := dataset.NewWriter(cfg, mgr, idx, man, log)
	raw := scanner.Raw{Format: metadata.FormatGRIB, ReftimeForMsg: func([]byte) metadata.Reftime {
		return metadata.Position(time.Now().UTC())
	}}

	count := 0
	err = raw.ScanPipe(f, func(md *metadata.Metadata, data []byte) error {
		outcome, err := w.Acquire(md, data)
		if err != nil {
			return err
		}
		fmt.Printf("message %d: %s\n", count, outcome)
		count++
		return nil
	})
	if err != nil {
		fatal(err)
	}
}

func cmdQuery(args []string) {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	root := fs.String("root", "", "dataset root directory")
	fs.Parse(args)

	cfg, mgr, idx, man, _ := openDataset(*root)
	defer idx.Close()
	defer man.Close()

	r := dataset.NewReader(cfg, mgr, idx, man, nil)
	err := r.QueryData(matcher.AllMatcher{}, func(md *metadata.Metadata) error {
		fmt.Println(md.Source.String())
		return nil
	})
	if err != nil {
		fatal(err)
	}
}

func cmdCheck(args []string) {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	root := fs.String("root", "", "dataset root directory")
	fix := fs.Bool("fix", false, "apply minimal safe repairs")
	fs.Parse(args)

	cfg, mgr, idx, man, log := openDataset(*root)
	defer idx.Close()
	defer man.Close()

	c := dataset.NewChecker(cfg, mgr, idx, man, nil, nil, nil, log)
	reporter := dataset.Reporter{
		SegmentOK:        func(p string) { fmt.Printf("OK        %s\n", p) },
		SegmentRescanned: func(p string) { fmt.Printf("RESCANNED %s\n", p) },
		SegmentDeleted:   func(p string) { fmt.Printf("DEINDEXED %s\n", p) },
		SegmentManualIntervention: func(p string, s segment.State) {
			fmt.Printf("MANUAL    %s (%s)\n", p, s)
		},
	}
	if err := c.Check(reporter, *fix); err != nil {
		fatal(err)
	}
}

func cmdRepack(args []string) {
	fs := flag.NewFlagSet("repack", flag.ExitOnError)
	root := fs.String("root", "", "dataset root directory")
	doIt := fs.Bool("do-it", false, "apply the repack instead of reporting only")
	fs.Parse(args)

	cfg, mgr, idx, man, log := openDataset(*root)
	defer idx.Close()
	defer man.Close()

	c := dataset.NewChecker(cfg, mgr, idx, man, nil, nil, nil, log)
	reporter := dataset.Reporter{
		SegmentOK:       func(p string) { fmt.Printf("OK       %s\n", p) },
		SegmentRepacked: func(p string) { fmt.Printf("REPACKED %s\n", p) },
		SegmentArchived: func(p string) { fmt.Printf("ARCHIVED %s\n", p) },
		SegmentDeleted:  func(p string) { fmt.Printf("DELETED  %s\n", p) },
	}
	if err := c.Repack(reporter, *doIt); err != nil {
		fatal(err)
	}
}

func openDataset(root string) (dataset.Config, *segment.Manager, *index.Index, manifest.Manifest, *zap.SugaredLogger) {
	if root == "" {
		fmt.Fprintln(os.Stderr, "-root is required")
		os.Exit(2)
	}
	l, _ := zap.NewProduction()
	log := l.Sugar()

	cfg := dataset.NewConfig(root, dataset.WithUniqueKeys(metadata.ItemOrigin))
	mgr := segment.NewManager(root)
	idx, err := index.Open(root, cfg.UniqueKeys)
	if err != nil {
		fatal(err)
	}
	man, err := manifest.OpenPlain(root)
	if err != nil {
		fatal(err)
	}
	return cfg, mgr, idx, man, log
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
