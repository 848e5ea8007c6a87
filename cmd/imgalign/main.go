// Command imgalign aligns base images to target images by warping them
// through a deformable grid, and writes the warped results.
//
// Single pair:
//
//	imgalign -base a.png -target b.png -out a-aligned.tif
//
// Several pairs at once, written next to each base as "<name> (aligned)":
//
//	imgalign -base a.png,b.png -target ref.png,ref.png -workers 2
//
// With -chain, pair i+1 is aligned to the result of pair i, which suits
// exposure brackets sorted from the brightest to the darkest image.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	aligner "github.com/bean-mhm/img-aligner-sub001"
	"github.com/bean-mhm/img-aligner-sub001/backend"
	_ "github.com/bean-mhm/img-aligner-sub001/backend/cpu"
	_ "github.com/bean-mhm/img-aligner-sub001/backend/wgpu"
	"github.com/bean-mhm/img-aligner-sub001/gpucore"
)

const alignedSuffix = " (aligned)"

type options struct {
	bases, targets []string
	out            string
	outExt         string
	diffOut        string
	backend        string
	chain          bool
	workers        int
	verbose        bool
	fenceTimeout   time.Duration

	cfg    aligner.Config
	params aligner.RunParams
}

func parseFlags() (*options, error) {
	o := &options{cfg: aligner.DefaultConfig(), params: aligner.DefaultRunParams()}
	var base, target string
	var baseMul, targetMul float64
	flag.StringVar(&base, "base", "", "base image(s) to warp, comma separated")
	flag.StringVar(&target, "target", "", "target image(s) to align to, comma separated")
	flag.StringVar(&o.out, "out", "", "output file (single pair) or output directory (several pairs)")
	flag.StringVar(&o.outExt, "out-ext", "", "output extension in batch mode, e.g. .tif (default: same as base)")
	flag.StringVar(&o.diffOut, "save-diff", "", "write the final difference map of a single pair to this file")
	flag.StringVar(&o.backend, "backend", "", "device backend: "+strings.Join(backend.Available(), ", ")+" (default: best available)")
	flag.BoolVar(&o.chain, "chain", false, "align each pair to the result of the previous one")
	flag.IntVar(&o.workers, "workers", 1, "pairs aligned at once")
	flag.BoolVar(&o.verbose, "v", false, "verbose logging")
	flag.DurationVar(&o.fenceTimeout, "fence-timeout", gpucore.DefaultFenceTimeout, "maximum wait for one device submission")

	flag.IntVar(&o.cfg.WorkingArea, "interm-res", o.cfg.WorkingArea, "pixel budget of the working resolution")
	flag.IntVar(&o.cfg.GridResolution, "grid-res", o.cfg.GridResolution, "grid cells along the smaller axis")
	flag.Float64Var(&o.cfg.GridPadding, "grid-padding", o.cfg.GridPadding, "grid padding as a fraction of the larger axis")
	flag.IntVar(&o.cfg.CostArea, "cost-res", o.cfg.CostArea, "texel budget of the cost level")
	flag.Uint64Var(&o.cfg.Seed, "seed", 0, "random seed")
	flag.Float64Var(&baseMul, "base-mul", 1, "base image luminance multiplier")
	flag.Float64Var(&targetMul, "target-mul", 1, "target image luminance multiplier")
	flag.Float64Var(&o.cfg.LocalMaxGuard, "local-max-guard", 0, "reject changes that grow the largest regional difference by more than this fraction (0: off)")

	flag.Float64Var(&o.params.WarpStrength, "warp-strength", o.params.WarpStrength, "initial warp strength")
	flag.Float64Var(&o.params.WarpStrengthDecay, "warp-strength-decay", o.params.WarpStrengthDecay, "warp strength decay per iteration")
	flag.Float64Var(&o.params.MinWarpStrength, "min-warp-strength", o.params.MinWarpStrength, "minimum warp strength")
	flag.Float64Var(&o.params.MinChangeInCost, "min-change-in-cost", o.params.MinChangeInCost, "stop when the cost improves less than this over the change window (0: off)")
	flag.IntVar(&o.params.ChangeWindow, "change-window", o.params.ChangeWindow, "iterations the change in cost is measured over")
	flag.IntVar(&o.params.MaxIterations, "max-iters", 0, "maximum warp iterations (0: unlimited)")
	flag.DurationVar(&o.params.MaxRuntime, "max-runtime", 0, "maximum run time per pair (0: unlimited)")
	flag.IntVar(&o.params.TransformIterations, "transform-iters", 0, "global transform trials before warping")
	flag.Float64Var(&o.params.ScaleJitter, "scale-jitter", o.params.ScaleJitter, "transform scale jitter")
	flag.Float64Var(&o.params.RotationJitter, "rotation-jitter", o.params.RotationJitter, "transform rotation jitter in degrees")
	flag.Float64Var(&o.params.OffsetJitter, "offset-jitter", o.params.OffsetJitter, "transform offset jitter")
	flag.Parse()

	o.bases, o.targets = splitList(base), splitList(target)
	o.cfg.BaseMul, o.cfg.TargetMul = float32(baseMul), float32(targetMul)
	switch {
	case len(o.bases) == 0 || len(o.targets) == 0:
		return nil, errors.New("-base and -target are required")
	case len(o.bases) != len(o.targets):
		return nil, fmt.Errorf("%d base images but %d target images", len(o.bases), len(o.targets))
	case len(o.bases) == 1 && o.out == "":
		return nil, errors.New("-out is required")
	case len(o.bases) > 1 && o.diffOut != "":
		return nil, errors.New("-save-diff only works with a single pair")
	}
	return o, o.cfg.Validate()
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func main() {
	o, err := parseFlags()
	if err != nil {
		fmt.Fprintln(os.Stderr, "imgalign:", err)
		flag.Usage()
		os.Exit(2)
	}

	level := slog.LevelInfo
	if o.verbose {
		level = slog.LevelDebug
	}
	aligner.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, o); err != nil {
		log.Fatalf("imgalign: %v", err)
	}
}

func run(ctx context.Context, o *options) error {
	opened, err := openDevice(o.backend)
	if err != nil {
		return err
	}
	defer opened.Device.Close()
	for _, skipped := range opened.Skipped {
		aligner.Logger().Warn("imgalign: backend unavailable, falling back", "err", skipped)
	}
	aligner.Logger().Info("imgalign: using backend", "backend", opened.Name, "adapter", adapterName(opened.Device))
	queue := gpucore.NewQueue(opened.Device, gpucore.WithFenceTimeout(o.fenceTimeout))

	switch {
	case len(o.bases) == 1:
		return alignPair(ctx, queue, o)
	case o.chain:
		return alignChain(ctx, queue, o)
	default:
		return alignAll(ctx, queue, o)
	}
}

func openDevice(name string) (*backend.Opened, error) {
	if name == "" {
		return backend.OpenDefault()
	}
	return backend.Open(name)
}

func adapterName(d gpucore.Device) string {
	if a, ok := d.(interface{ AdapterName() string }); ok {
		return a.AdapterName()
	}
	return d.Name()
}

func loadPair(base, target string) (aligner.Images, error) {
	bw, bh, bp, err := loadLinear(base)
	if err != nil {
		return aligner.Images{}, err
	}
	tw, th, tp, err := loadLinear(target)
	if err != nil {
		return aligner.Images{}, err
	}
	if bw != tw || bh != th {
		return aligner.Images{}, fmt.Errorf("%s is %dx%d but %s is %dx%d", base, bw, bh, target, tw, th)
	}
	return aligner.Images{Width: bw, Height: bh, Base: bp, Target: tp}, nil
}

func (o *options) runParams(name string) aligner.RunParams {
	p := o.params
	var last time.Time
	p.Progress = func(pr aligner.Progress) {
		if time.Since(last) < time.Second {
			return
		}
		last = time.Now()
		aligner.Logger().Info("imgalign: progress", "pair", name, "iteration", pr.Iteration,
			"good", pr.Good, "cost", pr.Cost.AvgDiff, "warp_strength", pr.WarpStrength)
	}
	return p
}

func alignPair(ctx context.Context, queue *gpucore.Queue, o *options) error {
	imgs, err := loadPair(o.bases[0], o.targets[0])
	if err != nil {
		return err
	}
	eng, err := aligner.NewEngine(queue, imgs, aligner.WithConfig(o.cfg))
	if err != nil {
		return err
	}
	defer eng.Close()

	stats, err := eng.Run(ctx, o.runParams(o.bases[0]))
	if err != nil {
		return err
	}
	printStats(o.bases[0], stats)

	pix, err := eng.RenderFullResolution()
	if err != nil {
		return err
	}
	if err := saveLinear(o.out, imgs.Width, imgs.Height, pix); err != nil {
		return err
	}
	if o.diffOut == "" {
		return nil
	}
	canvas, err := eng.ReadView(aligner.ViewDifference)
	if err != nil {
		return err
	}
	workW, workH := eng.WorkingSize()
	return saveImage(o.diffOut, differenceMap(canvas, eng.CanvasSize(), workW, workH, imgs.Width, imgs.Height))
}

// alignChain aligns the pairs one after another; from the second pair on
// the target is the warped result of the previous pair.
func alignChain(ctx context.Context, queue *gpucore.Queue, o *options) error {
	var prev *chainLink
	for i, base := range o.bases {
		imgs, err := loadPair(base, o.targets[i])
		if err != nil {
			return err
		}
		if imgs, err = chainTarget(base, imgs, prev); err != nil {
			return err
		}
		results, _, err := aligner.AlignBatch(ctx, queue, []aligner.BatchJob{{
			Name:    base,
			Images:  imgs,
			Options: []aligner.Option{aligner.WithConfig(o.cfg)},
			Params:  o.runParams(base),
		}}, 1)
		if err != nil {
			return err
		}
		r := results[0]
		if r.Err != nil {
			return r.Err
		}
		printStats(base, r.Stats)
		if err := saveLinear(alignedPath(base, o.out, alignedSuffix, o.outExt), imgs.Width, imgs.Height, r.Pixels); err != nil {
			return err
		}
		prev = &chainLink{name: base, width: imgs.Width, height: imgs.Height, pixels: r.Pixels}
	}
	return nil
}

// chainLink is the aligned result of one pair in chain mode.
type chainLink struct {
	name          string
	width, height int
	pixels        []float32
}

// chainTarget makes prev the target of the pair loaded for base. The first
// pair has no previous result and is returned unchanged.
func chainTarget(base string, imgs aligner.Images, prev *chainLink) (aligner.Images, error) {
	if prev == nil {
		return imgs, nil
	}
	if prev.width != imgs.Width || prev.height != imgs.Height {
		return aligner.Images{}, fmt.Errorf("cannot chain %s (%dx%d) onto the aligned %s (%dx%d)",
			base, imgs.Width, imgs.Height, prev.name, prev.width, prev.height)
	}
	imgs.Target = prev.pixels
	return imgs, nil
}

func alignAll(ctx context.Context, queue *gpucore.Queue, o *options) error {
	jobs := make([]aligner.BatchJob, len(o.bases))
	for i, base := range o.bases {
		imgs, err := loadPair(base, o.targets[i])
		if err != nil {
			return err
		}
		jobs[i] = aligner.BatchJob{
			Name:    base,
			Images:  imgs,
			Options: []aligner.Option{aligner.WithConfig(o.cfg)},
			Params:  o.runParams(base),
		}
	}

	results, summary, err := aligner.AlignBatch(ctx, queue, jobs, o.workers)
	if err != nil {
		return err
	}
	var errs []error
	for i, r := range results {
		if r.Err != nil {
			errs = append(errs, r.Err)
			continue
		}
		printStats(r.Name, r.Stats)
		im := jobs[i].Images
		if err := saveLinear(alignedPath(r.Name, o.out, alignedSuffix, o.outExt), im.Width, im.Height, r.Pixels); err != nil {
			errs = append(errs, err)
		}
	}
	fmt.Printf("%d pairs, %d failed, mean cost %.6f (stddev %.6f), max %.6f\n",
		summary.Jobs, summary.Failed, summary.MeanCost, summary.StdDevCost, summary.MaxCost)
	return errors.Join(errs...)
}

func printStats(name string, s aligner.RunStats) {
	fmt.Printf("%s: %s after %d iterations (%d good) in %s\n",
		name, s.StopReason, s.Iterations, s.GoodIterations, s.Elapsed.Round(time.Millisecond))
	fmt.Printf("  cost %.6f -> %.6f, final warp strength %.6g\n",
		s.InitialCost.AvgDiff, s.FinalCost.AvgDiff, s.FinalWarpStrength)
	if s.TransformIterations > 0 {
		fmt.Printf("  transform %s (%d of %d trials kept)\n", s.Transform, s.GoodTransforms, s.TransformIterations)
	}
}
