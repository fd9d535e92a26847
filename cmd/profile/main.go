// Command profile runs a synthetic write and scan workload against a data
// store and captures runtime profiles while it runs.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"runtime"
	"runtime/pprof"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/ajitpratap0/datastore/pkg/config"
	"github.com/ajitpratap0/datastore/pkg/datastore"
	"github.com/ajitpratap0/datastore/pkg/logger"
	"github.com/ajitpratap0/datastore/pkg/schema"
	"github.com/ajitpratap0/datastore/pkg/types"
)

func main() {
	// Command-line flags
	var (
		root         = flag.String("root", "", "Storage root (default a temporary directory)")
		tables       = flag.Int("tables", 4, "Number of tables written in parallel")
		records      = flag.Int("records", 100000, "Records per table")
		columns      = flag.Int("columns", 8, "Value columns per record")
		compression  = flag.String("compression", "snappy", "Parquet compression codec")
		outputDir    = flag.String("output", "./profiles", "Output directory for profiles")
		profileTypes = flag.String("types", "cpu,memory", "Profile types (cpu,memory,block,mutex,goroutine,all)")
		cpuFile      = flag.String("cpuprofile", "", "Write CPU profile to file")
		memFile      = flag.String("memprofile", "", "Write memory profile to file")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -types cpu -records 1000000\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -cpuprofile cpu.prof -memprofile mem.prof -compression zstd\n", os.Args[0])
	}

	flag.Parse()

	kinds := parseProfileTypes(*profileTypes)
	if slices.Contains(kinds, "block") {
		runtime.SetBlockProfileRate(1)
	}
	if slices.Contains(kinds, "mutex") {
		runtime.SetMutexProfileFraction(1)
	}

	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}

	dir := *root
	if dir == "" {
		tmp, err := os.MkdirTemp("", "datastore-profile-")
		if err != nil {
			log.Fatalf("Failed to create storage root: %v", err)
		}
		defer os.RemoveAll(tmp)
		dir = tmp
	}

	if *cpuFile != "" || slices.Contains(kinds, "cpu") {
		cpuProfileFile := *cpuFile
		if cpuProfileFile == "" {
			cpuProfileFile = fmt.Sprintf("%s/cpu.prof", *outputDir)
		}

		f, err := os.Create(cpuProfileFile)
		if err != nil {
			log.Fatalf("Failed to create CPU profile: %v", err)
		}
		defer f.Close()

		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatalf("Failed to start CPU profile: %v", err)
		}
		defer pprof.StopCPUProfile()

		fmt.Printf("CPU profiling enabled, writing to: %s\n", cpuProfileFile)
	}

	cfg := config.NewConfig(dir)
	cfg.Storage.Compression = *compression
	cfg.Logging.Level = "warn"
	if err := logger.Init(cfg.Logging.Logger()); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := runWorkload(cfg, *tables, *records, *columns); err != nil {
		log.Fatalf("Workload failed: %v", err)
	}
	reportProcess()

	if *memFile != "" || slices.Contains(kinds, "memory") {
		memProfileFile := *memFile
		if memProfileFile == "" {
			memProfileFile = fmt.Sprintf("%s/mem.prof", *outputDir)
		}

		f, err := os.Create(memProfileFile)
		if err != nil {
			log.Fatalf("Failed to create memory profile: %v", err)
		}
		defer f.Close()

		runtime.GC() // Get up-to-date statistics
		if err := pprof.WriteHeapProfile(f); err != nil {
			log.Fatalf("Failed to write memory profile: %v", err)
		}

		fmt.Printf("Memory profile written to: %s\n", memProfileFile)
	}

	for _, kind := range kinds {
		switch kind {
		case "block", "mutex", "goroutine":
			writeProfile(kind, fmt.Sprintf("%s/%s.prof", *outputDir, kind))
		}
	}

	fmt.Printf("Profiling completed successfully\n")
}

// runWorkload writes records into several tables through their writers,
// dumps the store and scans every table back from disk.
func runWorkload(cfg *config.Config, tables, records, columns int) error {
	store, err := datastore.Open(*cfg)
	if err != nil {
		return err
	}

	names := make([]string, tables)
	for i := range names {
		names[i] = fmt.Sprintf("profile/t%d", i)
	}

	start := time.Now()
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, name := range names {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := writeTable(store, name, records, columns); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if len(errs) > 0 {
		return errs[0]
	}
	written := time.Since(start)

	start = time.Now()
	if err := store.Close(); err != nil {
		return err
	}
	dumped := time.Since(start)

	// reopen so the scan reads files instead of memory
	store, err = datastore.Open(*cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	descs := make([]datastore.TableDesc, 0, len(names))
	for _, name := range names {
		descs = append(descs, datastore.TableDesc{Name: name})
	}
	start = time.Now()
	seq, err := store.ScanTables(descs, datastore.ScanOptions{})
	if err != nil {
		return err
	}
	rows := 0
	for _, err := range seq {
		if err != nil {
			return err
		}
		rows++
	}
	scanned := time.Since(start)

	total := float64(tables * records)
	fmt.Printf("Wrote %d records in %v (%.0f records/s)\n", tables*records, written, total/written.Seconds())
	fmt.Printf("Dumped %d tables in %v\n", tables, dumped)
	fmt.Printf("Scanned %d rows in %v (%.0f rows/s)\n", rows, scanned, float64(rows)/scanned.Seconds())
	return nil
}

func writeTable(store *datastore.Store, name string, records, columns int) error {
	w, err := store.Writer(name, schema.New("id", schema.Column{Name: "id", Type: types.Int64}))
	if err != nil {
		return err
	}
	for i := 0; i < records; i++ {
		r := types.Record{"id": types.Int64Value(int64(i))}
		for c := 0; c < columns; c++ {
			switch c % 3 {
			case 0:
				r[fmt.Sprintf("c%d", c)] = types.Int64Value(int64(i * c))
			case 1:
				r[fmt.Sprintf("c%d", c)] = types.Float64Value(float64(i) / float64(c+1))
			default:
				r[fmt.Sprintf("c%d", c)] = types.String(fmt.Sprintf("%s-%d-%d", name, i, c))
			}
		}
		if err := w.Insert(r); err != nil {
			w.Close()
			return err
		}
	}
	return w.Close()
}

// reportProcess prints the resource usage of this process.
func reportProcess() {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		log.Printf("Failed to inspect process: %v", err)
		return
	}
	if mem, err := p.MemoryInfo(); err == nil {
		fmt.Printf("Resident memory: %.1f MiB\n", float64(mem.RSS)/(1<<20))
	}
	if cpu, err := p.Times(); err == nil {
		fmt.Printf("CPU time: user %.2fs, system %.2fs\n", cpu.User, cpu.System)
	}
	if threads, err := p.NumThreads(); err == nil {
		fmt.Printf("Threads: %d\n", threads)
	}
}

// writeProfile writes a specific profile type to file
func writeProfile(profileName, filename string) {
	profile := pprof.Lookup(profileName)
	if profile == nil {
		fmt.Printf("Profile %s not found\n", profileName)
		return
	}

	f, err := os.Create(filename)
	if err != nil {
		log.Printf("Failed to create %s profile: %v", profileName, err)
		return
	}
	defer f.Close()

	if err := profile.WriteTo(f, 0); err != nil {
		log.Printf("Failed to write %s profile: %v", profileName, err)
		return
	}

	fmt.Printf("%s profile written to: %s\n", profileName, filename)
}

// parseProfileTypes parses the profile types string
func parseProfileTypes(typesStr string) []string {
	if typesStr == "all" {
		return []string{"cpu", "memory", "block", "mutex", "goroutine"}
	}

	parts := strings.Split(typesStr, ",")
	kinds := make([]string, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		switch part {
		case "cpu", "memory", "mem", "block", "mutex", "goroutine":
			if part == "mem" {
				part = "memory"
			}
			kinds = append(kinds, part)
		}
	}

	return kinds
}
