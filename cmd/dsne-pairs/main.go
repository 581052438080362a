// Command dsne-pairs packs image folders into domain archives, builds pair datasets
// from a YAML run file and walks them through the batch loader.
//
//	dsne-pairs pack -in ./mnist_m/train -out mnist_m.dsne -size 28
//	dsne-pairs inspect -config run.yaml
//	dsne-pairs walk -config run.yaml -epochs 2
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/schollz/progressbar/v3"
	"github.com/tsawler/go-dsne/config"
	"github.com/tsawler/go-dsne/logging"
	"github.com/tsawler/go-dsne/vision/dataloader"
	"github.com/tsawler/go-dsne/vision/dataset"
	"github.com/tsawler/go-dsne/vision/storage"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "pack":
		err = runPack(os.Args[2:])
	case "inspect":
		err = runInspect(os.Args[2:])
	case "walk":
		err = runWalk(os.Args[2:])
	case "-h", "--help", "help":
		usage()
		return
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		log.Fatalf("%s failed: %v", os.Args[1], err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: dsne-pairs <pack|inspect|walk> [flags]")
	fmt.Fprintln(os.Stderr, "  pack     convert a class-per-directory image folder into a domain archive")
	fmt.Fprintln(os.Stderr, "  inspect  build the pair dataset described by a run file and print a summary")
	fmt.Fprintln(os.Stderr, "  walk     iterate the pair dataset in batches")
}

func runPack(args []string) error {
	fs := flag.NewFlagSet("pack", flag.ExitOnError)
	in := fs.String("in", "", "image folder with one subdirectory per class")
	out := fs.String("out", "", "output archive file, or store directory with -store")
	size := fs.Int("size", 32, "square image size after center crop")
	channels := fs.Int("channels", 3, "1 for greyscale, 3 for RGB")
	dtypeName := fs.String("dtype", "uint8", "stored image dtype: uint8, float16 or float32")
	workers := fs.Int("workers", 4, "decode workers")
	asStore := fs.Bool("store", false, "write a pebble store directory instead of an archive")
	fs.Parse(args)

	if *in == "" || *out == "" {
		return fmt.Errorf("%w: -in and -out are required", dataset.ErrConfiguration)
	}
	dtype, err := storage.ParseDType(*dtypeName)
	if err != nil {
		return err
	}

	folder, err := storage.ScanImageFolder(*in, nil)
	if err != nil {
		return err
	}
	fmt.Print(folder)

	start := time.Now()
	bar := progressbar.Default(int64(folder.NumClasses()), "Decoding classes")
	d, err := folder.PackFolder(*size, *channels, *workers, dtype, func(string) { bar.Add(1) })
	if err != nil {
		return err
	}
	bar.Finish()

	if err := storage.SaveDomain(d, *out, "", "", dtype, *asStore); err != nil {
		return err
	}
	fmt.Printf("Wrote %d samples (%s decoded) to %s in %s\n",
		d.Len(), humanize.Bytes(d.Bytes()), *out, time.Since(start).Round(time.Millisecond))
	return nil
}

func buildFromConfig(path string) (config.Config, *dataset.PairDataset, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, nil, err
	}
	src, tgt, err := cfg.LoadDomains()
	if err != nil {
		return cfg, nil, err
	}
	opts, err := cfg.PairOptions()
	if err != nil {
		return cfg, nil, err
	}
	pd, err := dataset.NewPairDataset(src, tgt, opts)
	return cfg, pd, err
}

func runInspect(args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	cfgPath := fs.String("config", "", "run file (YAML)")
	fs.Parse(args)

	_, pd, err := buildFromConfig(*cfgPath)
	if err != nil {
		return err
	}
	fmt.Print(pd.Summary())
	return nil
}

func runWalk(args []string) error {
	fs := flag.NewFlagSet("walk", flag.ExitOnError)
	cfgPath := fs.String("config", "", "run file (YAML)")
	epochs := fs.Int("epochs", 1, "epochs to iterate")
	stack := fs.Bool("stack", true, "stack each batch into contiguous buffers")
	fs.Parse(args)

	cfg, pd, err := buildFromConfig(*cfgPath)
	if err != nil {
		return err
	}
	logger := logging.New("walk", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.Handler()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server stopped", "error", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		logger.Info("serving metrics", "addr", cfg.MetricsAddr)
	}

	loader, err := dataloader.NewLoader[dataset.PairSample](pd, cfg.LoaderConfig())
	if err != nil {
		return err
	}

	var buf *dataloader.PairBatch
	for epoch := 0; epoch < *epochs; epoch++ {
		if epoch > 0 {
			loader.Reset()
		}
		bar := progressbar.NewOptions(loader.Len(),
			progressbar.OptionSetDescription(fmt.Sprintf("Epoch %d/%d", epoch+1, *epochs)),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("batches"),
		)

		intra := 0
		for batch := range loader.Iterator(ctx) {
			if *stack {
				if buf, err = dataloader.StackPairs(buf, batch.Samples); err != nil {
					return err
				}
			}
			for _, s := range batch.Samples {
				if s.Intraclass() {
					intra++
				}
			}
			bar.Add(1)
		}
		bar.Finish()

		if err := loader.Err(); err != nil {
			if errors.Is(err, context.Canceled) {
				logger.Info("interrupted", "epoch", epoch)
				return nil
			}
			return err
		}
		logger.Info("epoch done", "epoch", epoch, "pairs", pd.Len(), "intraclass", intra, "cache", loader.Stats())
	}
	return nil
}
