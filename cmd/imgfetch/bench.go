package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math/rand/v2"
	nethttp "net/http"
	"net/http/httptest"
	"os"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/meigma/imgfetch"
	"github.com/meigma/imgfetch/cache"
	"github.com/meigma/imgfetch/cache/disk"
	imghttp "github.com/meigma/imgfetch/http"
)

type benchOptions struct {
	images      int
	size        int
	passes      int
	concurrency int
	latency     time.Duration
	bandwidth   string
	dedupe      bool
	memoryBytes int64
	compress    bool
	seed        uint64
	cpuProfile  string
	memProfile  string
	traceFile   string
}

func newBenchCmd(root *rootOptions) *cobra.Command {
	opts := benchOptions{}
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Fetch generated images from a local server through a fresh disk cache",
		Long: `Serves generated noise PNGs from a local HTTP server and fetches all of
them once cold, then again for each warm pass. Each pass prints operations,
bytes and throughput. --latency and --bandwidth slow the server down to
mimic a remote image host.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBench(cmd, root, opts)
		},
	}
	flags := cmd.Flags()
	flags.IntVar(&opts.images, "images", 64, "number of distinct images")
	flags.IntVar(&opts.size, "size", 256, "image width and height in pixels")
	flags.IntVar(&opts.passes, "passes", 3, "passes over all images; the first is cold")
	flags.IntVarP(&opts.concurrency, "concurrency", "c", 8, "concurrent fetches")
	flags.DurationVar(&opts.latency, "latency", 0, "delay before the server answers each image request")
	flags.StringVar(&opts.bandwidth, "bandwidth", "", "server bytes/sec per image response (e.g. 10MBps)")
	flags.BoolVar(&opts.dedupe, "dedupe", false, "share downloads among concurrent requests for one image")
	flags.Int64Var(&opts.memoryBytes, "memory-cache", 0, "decoded image cache size in bytes (0 disables)")
	flags.BoolVar(&opts.compress, "compress", false, "store disk entries as zstd frames")
	flags.Uint64Var(&opts.seed, "seed", 1, "random seed for generated images")
	flags.StringVar(&opts.cpuProfile, "cpuprofile", "", "write CPU profile to file")
	flags.StringVar(&opts.memProfile, "memprofile", "", "write heap profile to file")
	flags.StringVar(&opts.traceFile, "trace", "", "write execution trace to file")
	return cmd
}

//nolint:gocritic // options are copied once per run
func runBench(cmd *cobra.Command, root *rootOptions, opts benchOptions) (err error) {
	ctx := cmd.Context()
	if opts.images < 1 || opts.size < 1 || opts.passes < 1 || opts.concurrency < 1 {
		return errors.New("images, size, passes and concurrency must be >= 1")
	}
	bps, err := parseBandwidth(opts.bandwidth)
	if err != nil {
		return err
	}

	server, urls, err := serveImages(opts.images, opts.size, opts.seed, opts.latency, bps)
	if err != nil {
		return err
	}
	defer server.Close()

	dir, err := os.MkdirTemp("", "imgfetch-bench-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.RemoveAll(dir) }()

	var diskOpts []disk.Option
	if opts.compress {
		diskOpts = append(diskOpts, disk.WithCompression())
	}
	dc, err := disk.New(dir, diskOpts...)
	if err != nil {
		return err
	}
	fetcherOpts := []imgfetch.Option{
		imgfetch.WithLogger(root.logger),
		imgfetch.WithCache(cache.NewInstrumented(dc, "disk")),
		imgfetch.WithSource(imghttp.New(imghttp.WithLogger(root.logger))),
		imgfetch.WithSyncCacheWrites(),
	}
	if opts.dedupe {
		fetcherOpts = append(fetcherOpts, imgfetch.WithDeduplication())
	}
	if opts.memoryBytes > 0 {
		fetcherOpts = append(fetcherOpts, imgfetch.WithMemoryCache(opts.memoryBytes))
	}
	f, err := imgfetch.New(fetcherOpts...)
	if err != nil {
		return err
	}

	stop, err := startProfiles(opts)
	if err != nil {
		return err
	}
	defer stop()

	out := cmd.OutOrStdout()
	for pass := range opts.passes {
		stats, err := benchPass(ctx, f, urls, opts.concurrency)
		if err != nil {
			return fmt.Errorf("pass %d: %w", pass, err)
		}
		phase := "warm"
		if pass == 0 {
			phase = "cold"
		}
		fmt.Fprintf(out, "pass=%d phase=%s ops=%d bytes=%d elapsed=%s throughput=%.2f MB/s\n",
			pass, phase, stats.ops, stats.bytes, stats.elapsed.Round(time.Microsecond),
			float64(stats.bytes)/(1024*1024)/stats.elapsed.Seconds(),
		)
	}
	fmt.Fprintf(out, "disk cache: %d bytes in %s\n", dc.SizeBytes(), dir)

	if opts.memProfile != "" {
		return writeHeapProfile(opts.memProfile)
	}
	return nil
}

type benchStats struct {
	ops     int
	bytes   int64
	elapsed time.Duration
}

func benchPass(ctx context.Context, f *imgfetch.Fetcher, urls []imgfetch.URL, concurrency int) (benchStats, error) {
	var total atomic.Int64
	start := time.Now()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, u := range urls {
		g.Go(func() error {
			img, err := f.Fetch(ctx, u, nil)
			if err != nil {
				return err
			}
			total.Add(int64(img.Size))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return benchStats{}, err
	}
	return benchStats{ops: len(urls), bytes: total.Load(), elapsed: time.Since(start)}, nil
}

// serveImages starts a server for n generated size x size PNGs that answers
// as slowly as latency and bytesPerSecond ask.
func serveImages(n, size int, seed uint64, latency time.Duration, bytesPerSecond int64) (*httptest.Server, []imgfetch.URL, error) {
	images := make([][]byte, n)
	for i := range n {
		data, err := noisePNG(size, rand.New(rand.NewPCG(seed, uint64(i)))) //nolint:gosec // reproducible test data
		if err != nil {
			return nil, nil, err
		}
		images[i] = data
	}

	mux := nethttp.NewServeMux()
	mux.HandleFunc("GET /img/{id}", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		id, err := strconv.Atoi(r.PathValue("id"))
		if err != nil || id < 0 || id >= len(images) {
			nethttp.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		nethttp.ServeContent(w, r, "", time.Time{}, bytes.NewReader(images[id]))
	})
	server := httptest.NewServer(slowOrigin(mux, latency, bytesPerSecond))

	urls := make([]imgfetch.URL, n)
	for i := range n {
		u, err := imgfetch.ParseURL(server.URL + "/img/" + strconv.Itoa(i))
		if err != nil {
			server.Close()
			return nil, nil, err
		}
		urls[i] = u
	}
	return server, urls, nil
}

func noisePNG(size int, rng *rand.Rand) ([]byte, error) {
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	for y := range size {
		for x := range size {
			v := rng.Uint32()
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(v), G: uint8(v >> 8), B: uint8(v >> 16), A: 255}) //nolint:gosec // truncation intended
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

//nolint:gocritic // options are copied once per run
func startProfiles(opts benchOptions) (func(), error) {
	var stops []func()
	stop := func() {
		for i := len(stops) - 1; i >= 0; i-- {
			stops[i]()
		}
	}

	if opts.cpuProfile != "" {
		cpuFile, err := os.Create(opts.cpuProfile)
		if err != nil {
			return nil, err
		}
		if err := pprof.StartCPUProfile(cpuFile); err != nil {
			_ = cpuFile.Close()
			return nil, err
		}
		stops = append(stops, func() {
			pprof.StopCPUProfile()
			_ = cpuFile.Close()
		})
	}

	if opts.traceFile != "" {
		traceFile, err := os.Create(opts.traceFile)
		if err != nil {
			stop()
			return nil, err
		}
		if err := trace.Start(traceFile); err != nil {
			_ = traceFile.Close()
			stop()
			return nil, err
		}
		stops = append(stops, func() {
			trace.Stop()
			_ = traceFile.Close()
		})
	}
	return stop, nil
}

func writeHeapProfile(path string) (err error) {
	runtime.GC()
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer closeFile(f, &err)
	return pprof.WriteHeapProfile(f)
}
