package main

import (
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/willibrandon/rbscope/pkg/image"
	"github.com/willibrandon/rbscope/pkg/layout"
	"github.com/willibrandon/rbscope/pkg/memory"
	"github.com/willibrandon/rbscope/pkg/record"
	"github.com/willibrandon/rbscope/pkg/simtree"
)

// Record layouts of the sample tables. Both embed their tree entry at
// simtree.DefaultEntryOffset.
const (
	threadBase memory.Address = 0x10000000
	procBase   memory.Address = 0x20000000

	thrStateOff = 0
	thrIDOff    = 8
	thrTinfoOff = 56
	thrKspOff   = 64
	thrProcOff  = 72

	procIDOff     = 8
	procPgtOff    = 56
	procNameOff   = 64
	procMasterOff = 96
)

var sampleNames = []string{"init", "shell", "idle", "pager", "netd", "logger", "cron", "getty"}

func sampleCommand() *cli.Command {
	return &cli.Command{
		Name:  "sample",
		Usage: "Write a simulated thread and process table image with a matching config",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "dir", Value: ".", Usage: "Output directory"},
			&cli.IntFlag{Name: "threads", Value: 8, Usage: "Number of threads"},
			&cli.IntFlag{Name: "procs", Value: 4, Usage: "Number of processes"},
			&cli.Uint64Flag{Name: "seed", Value: 1, Usage: "Seed for the insertion order"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			compression, err := image.ParseCompression(cfg.Image.Compression)
			if err != nil {
				return err
			}
			files, err := writeSample(sampleOptions{
				Dir:         c.String("dir"),
				Threads:     c.Int("threads"),
				Procs:       c.Int("procs"),
				Seed:        c.Uint64("seed"),
				Arch:        cfg.Arch(),
				Compression: compression,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "image:   %s\noffsets: %s\nconfig:  %s\n", files.Image, files.Offsets, files.Config)
			return nil
		},
	}
}

type sampleOptions struct {
	Dir         string
	Threads     int
	Procs       int
	Seed        uint64
	Arch        image.Arch
	Compression image.CompressionType
}

type sampleFiles struct {
	Image, Offsets, Config string
}

// writeSample builds a process table and a thread table whose threads point
// at their processes, then writes the image, an offsets header for both
// entries and a config naming the two tree heads.
func writeSample(opts sampleOptions) (sampleFiles, error) {
	if opts.Procs < 1 || opts.Threads < 0 {
		return sampleFiles{}, fmt.Errorf("need at least one process and no negative thread count")
	}
	if opts.Procs > simtree.DefaultCapacity || opts.Threads > simtree.DefaultCapacity {
		return sampleFiles{}, fmt.Errorf("at most %d threads and processes", simtree.DefaultCapacity)
	}
	dir, err := filepath.Abs(opts.Dir)
	if err != nil {
		return sampleFiles{}, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return sampleFiles{}, err
	}

	img := image.New(opts.Arch)
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed))

	procs, err := simtree.NewInImage(img, simtree.Config{Base: procBase, KeyOffset: procIDOff, KeySize: 4})
	if err != nil {
		return sampleFiles{}, err
	}
	procRecs := make([]memory.Address, opts.Procs)
	for _, i := range rng.Perm(opts.Procs) {
		pid := uint64(i + 1)
		n, err := procs.Insert(pid)
		if err != nil {
			return sampleFiles{}, err
		}
		rec := procs.RecordOf(n)
		procRecs[i] = rec
		name := sampleNames[i%len(sampleNames)]
		if i >= len(sampleNames) {
			name = fmt.Sprintf("%s%d", name, i/len(sampleNames))
		}
		if err := img.WritePointer(rec.Add(procPgtOff), memory.Address(0x80200000+pid*0x1000)); err != nil {
			return sampleFiles{}, err
		}
		if err := img.Write(rec.Add(procNameOff), append([]byte(name), 0)); err != nil {
			return sampleFiles{}, err
		}
	}
	// every process but the first is mastered by it
	for i := 1; i < opts.Procs; i++ {
		if err := img.WritePointer(procRecs[i].Add(procMasterOff), procRecs[0]); err != nil {
			return sampleFiles{}, err
		}
	}

	threads, err := simtree.NewInImage(img, simtree.Config{Base: threadBase, KeyOffset: thrIDOff, KeySize: 8})
	if err != nil {
		return sampleFiles{}, err
	}
	for _, i := range rng.Perm(opts.Threads) {
		tid := uint64(i + 1)
		n, err := threads.Insert(tid)
		if err != nil {
			return sampleFiles{}, err
		}
		rec := threads.RecordOf(n)
		writes := []struct {
			off  int64
			size int
			v    uint64
		}{
			{thrStateOff, 4, uint64(i % 6)},
			{thrTinfoOff, opts.Arch.PointerSize, 0x80400000 + tid*0x100},
			{thrKspOff, opts.Arch.PointerSize, 0x80800000 + tid*0x2000 - 0x40},
			{thrProcOff, opts.Arch.PointerSize, uint64(procRecs[i%opts.Procs])},
		}
		for _, w := range writes {
			if err := img.WriteUint(rec.Add(w.off), w.size, w.v); err != nil {
				return sampleFiles{}, err
			}
		}
	}

	files := sampleFiles{
		Image:   filepath.Join(dir, "sample.img"),
		Offsets: filepath.Join(dir, "offsets.h"),
		Config:  filepath.Join(dir, "rbscope.yaml"),
	}
	f, err := os.Create(files.Image)
	if err != nil {
		return sampleFiles{}, err
	}
	if err := img.Save(f, opts.Compression); err != nil {
		f.Close()
		return sampleFiles{}, err
	}
	if err := f.Close(); err != nil {
		return sampleFiles{}, err
	}

	if err := os.WriteFile(files.Offsets, []byte(offsetsHeader(threads.Entry(), procs.Entry())), 0644); err != nil {
		return sampleFiles{}, err
	}

	doc, err := yaml.Marshal(sampleConfig(opts.Arch, files.Offsets, threads.Head(), procs.Head()))
	if err != nil {
		return sampleFiles{}, err
	}
	if err := os.WriteFile(files.Config, doc, 0644); err != nil {
		return sampleFiles{}, err
	}
	return files, nil
}

// offsetsHeader writes the entry offsets the way the kernel build generates
// them.
func offsetsHeader(thr, proc layout.EntryDescriptor) string {
	var b strings.Builder
	b.WriteString("#ifndef _SAMPLE_ASM_OFFSET_H\n#define _SAMPLE_ASM_OFFSET_H\n\n")
	define := func(name string, v int64, expr string) {
		fmt.Fprintf(&b, "#define %s (%d) /*< %s */\n", name, v, expr)
	}
	for _, e := range []struct {
		prefix, typ string
		d           layout.EntryDescriptor
	}{
		{"THR", "struct _thread", thr},
		{"PROC", "struct _proc", proc},
	} {
		define(e.prefix+"_ENT_LEFT", e.d.LeftOffset, "__asm_offsetof("+e.typ+", ent.rbe_left)")
		define(e.prefix+"_ENT_RIGHT", e.d.RightOffset, "__asm_offsetof("+e.typ+", ent.rbe_right)")
		define(e.prefix+"_ENT_PARENT", e.d.ParentOffset, "__asm_offsetof("+e.typ+", ent.rbe_parent)")
	}
	define("RBHEAD_ROOT", thr.RootOffset, "__asm_offsetof(struct _thrdb_tree, rbh_root)")
	b.WriteString("\n#endif\n")
	return b.String()
}

func sampleConfig(arch image.Arch, offsets string, thrHead, procHead memory.Address) map[string]any {
	byteOrder := "little"
	if arch.BigEndian {
		byteOrder = "big"
	}
	entry := func(prefix string) map[string]string {
		return map[string]string{
			layout.KeyLeft:   prefix + "_ENT_LEFT",
			layout.KeyRight:  prefix + "_ENT_RIGHT",
			layout.KeyParent: prefix + "_ENT_PARENT",
			layout.KeyRecord: "0",
			layout.KeyRoot:   "RBHEAD_ROOT",
		}
	}
	field := func(off int64, size int) map[string]any {
		return map[string]any{"offset": fmt.Sprint(off), "size": size}
	}
	ps := arch.PointerSize
	return map[string]any{
		"target":  map[string]any{"pointer_size": ps, "byte_order": byteOrder},
		"offsets": offsets,
		"trees": map[string]any{
			"_thrdb_tree": map[string]any{
				"kind":        record.KindThread.String(),
				"entry_field": "ent",
				"entry":       entry("THR"),
				"fields": map[string]any{
					record.FieldState:      field(thrStateOff, 4),
					record.FieldID:         field(thrIDOff, 8),
					record.FieldThreadInfo: field(thrTinfoOff, ps),
					record.FieldKernelSP:   field(thrKspOff, ps),
					record.FieldProcess:    field(thrProcOff, ps),
				},
			},
			"_procdb_tree": map[string]any{
				"kind":        record.KindProcess.String(),
				"entry_field": "ent",
				"entry":       entry("PROC"),
				"fields": map[string]any{
					record.FieldID:        field(procIDOff, 4),
					record.FieldPageTable: field(procPgtOff, ps),
					record.FieldName:      field(procNameOff, record.DefaultNameLen),
					record.FieldMaster:    field(procMasterOff, ps),
				},
			},
		},
		"symbols": []map[string]string{
			{"name": "&g_thrdb.head", "addr": thrHead.String(), "type": "struct _thrdb_tree *"},
			{"name": "&g_procdb.head", "addr": procHead.String(), "type": "struct _procdb_tree *"},
		},
	}
}
