// Command admin operates on chunk stores offline: import legacy region
// files, inspect dimensions, and export or restore archives. The server
// should not hold the store open while these run; bolt takes an exclusive
// file lock either way.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"ironcraft.dev/internal/compress"
	"ironcraft.dev/internal/index"
	"ironcraft.dev/internal/store"
	"ironcraft.dev/internal/store/archive"
	"ironcraft.dev/internal/store/region"
	"ironcraft.dev/internal/world"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "import":
			importCmd(os.Args[2:])
			return
		case "export":
			exportCmd(os.Args[2:])
			return
		case "restore":
			restoreCmd(os.Args[2:])
			return
		case "stat":
			statCmd(os.Args[2:])
			return
		}
	}
	statCmd(os.Args[1:])
}

func statCmd(args []string) {
	fs := flag.NewFlagSet("stat", flag.ExitOnError)
	storePath := fs.String("store", "data/chunks.db", "chunk store path")
	dim := fs.String("dim", "", "single dimension (optional)")
	_ = fs.Parse(args)

	st, err := store.Open(*storePath, store.Options{ReadOnly: true})
	if err != nil {
		fmt.Fprintln(os.Stderr, "open store:", err)
		os.Exit(1)
	}
	defer st.Close()

	dims := []string{*dim}
	if *dim == "" {
		dims, err = st.Dimensions()
		if err != nil {
			fmt.Fprintln(os.Stderr, "list dimensions:", err)
			os.Exit(1)
		}
	}
	if len(dims) == 0 {
		fmt.Println("store is empty")
		return
	}
	for _, d := range dims {
		n, err := st.Count(d)
		if err != nil {
			fmt.Fprintln(os.Stderr, "count:", err)
			os.Exit(1)
		}
		meta, err := st.Meta(d)
		if err != nil {
			fmt.Fprintln(os.Stderr, "meta:", err)
			os.Exit(1)
		}
		last := "never"
		if meta != nil && meta.LastWriteUnix > 0 {
			last = time.Unix(meta.LastWriteUnix, 0).UTC().Format(time.RFC3339)
		}
		fmt.Printf("%s: chunks=%d last_write=%s\n", d, n, last)
	}
}

func importCmd(args []string) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	storePath := fs.String("store", "data/chunks.db", "chunk store path")
	dim := fs.String("dim", "overworld", "destination dimension")
	scheme := fs.String("scheme", "zstd", "store compression scheme")
	workers := fs.Int("workers", 0, "entries in flight per file (0 = one per cpu)")
	indexPath := fs.String("index", "", "sqlite index to record runs in (optional)")
	_ = fs.Parse(args)

	paths, err := expandRegions(fs.Args())
	if err != nil {
		fmt.Fprintln(os.Stderr, "resolve inputs:", err)
		os.Exit(1)
	}
	if len(paths) == 0 {
		fmt.Fprintln(os.Stderr, "missing region files (pass files or a directory)")
		os.Exit(2)
	}

	sc, err := compress.ParseScheme(*scheme)
	if err != nil {
		fmt.Fprintln(os.Stderr, "bad -scheme:", err)
		os.Exit(2)
	}

	st, err := store.Open(*storePath, store.Options{})
	if err != nil {
		fmt.Fprintln(os.Stderr, "open store:", err)
		os.Exit(1)
	}
	defer st.Close()

	var idx *index.Index
	if *indexPath != "" {
		idx, err = index.Open(*indexPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "open index:", err)
			os.Exit(1)
		}
		defer idx.Close()
	}

	gate := world.NewCPUGate(0)
	totalImported, totalWarnings := 0, 0
	for _, p := range paths {
		start := time.Now()
		res, err := region.ImportFile(context.Background(), st, *dim, p, region.Options{
			Scheme:  sc,
			Gate:    gate,
			Workers: *workers,
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, "import:", err)
			os.Exit(1)
		}
		for _, w := range res.Warnings {
			fmt.Fprintf(os.Stderr, "warn %s: %v\n", filepath.Base(p), w)
		}
		idx.RecordImportRun(index.ImportRun{
			Dim:        *dim,
			Path:       p,
			Imported:   res.Imported,
			Warnings:   len(res.Warnings),
			StartedAt:  start,
			FinishedAt: time.Now(),
		})
		fmt.Printf("import ok: file=%s imported=%d skipped=%d warnings=%d in=%s\n",
			filepath.Base(p), res.Imported, res.Skipped, len(res.Warnings),
			time.Since(start).Round(time.Millisecond))
		totalImported += res.Imported
		totalWarnings += len(res.Warnings)
	}
	if len(paths) > 1 {
		fmt.Printf("import total: files=%d imported=%d warnings=%d\n",
			len(paths), totalImported, totalWarnings)
	}
}

func exportCmd(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	storePath := fs.String("store", "data/chunks.db", "chunk store path")
	dim := fs.String("dim", "overworld", "dimension to export")
	out := fs.String("out", "", "archive path to write")
	_ = fs.Parse(args)

	if *out == "" {
		fmt.Fprintln(os.Stderr, "missing -out")
		os.Exit(2)
	}

	st, err := store.Open(*storePath, store.Options{ReadOnly: true})
	if err != nil {
		fmt.Fprintln(os.Stderr, "open store:", err)
		os.Exit(1)
	}
	defer st.Close()

	n, err := archive.Export(st, *dim, *out)
	if err != nil {
		fmt.Fprintln(os.Stderr, "export:", err)
		os.Exit(1)
	}
	fmt.Printf("export ok: dim=%s chunks=%d out=%s\n", *dim, n, *out)
}

func restoreCmd(args []string) {
	fs := flag.NewFlagSet("restore", flag.ExitOnError)
	storePath := fs.String("store", "data/chunks.db", "chunk store path")
	in := fs.String("in", "", "archive path to read")
	_ = fs.Parse(args)

	if *in == "" {
		fmt.Fprintln(os.Stderr, "missing -in")
		os.Exit(2)
	}

	st, err := store.Open(*storePath, store.Options{})
	if err != nil {
		fmt.Fprintln(os.Stderr, "open store:", err)
		os.Exit(1)
	}
	defer st.Close()

	hdr, n, err := archive.Restore(st, *in)
	if err != nil {
		fmt.Fprintln(os.Stderr, "restore:", err)
		os.Exit(1)
	}
	fmt.Printf("restore ok: dim=%s chunks=%d archived_at=%s\n",
		hdr.Dim, n, time.Unix(hdr.CreatedUnix, 0).UTC().Format(time.RFC3339))
}

// expandRegions resolves positional arguments to region files; a directory
// expands to its r.*.mcr and r.*.mca entries.
func expandRegions(args []string) ([]string, error) {
	var out []string
	for _, a := range args {
		info, err := os.Stat(a)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			out = append(out, a)
			continue
		}
		for _, pat := range []string{"r.*.mcr", "r.*.mca"} {
			m, _ := filepath.Glob(filepath.Join(a, pat))
			out = append(out, m...)
		}
	}
	return out, nil
}
