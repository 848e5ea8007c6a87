package aligner

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/bean-mhm/img-aligner-sub001/gpucore"
	"github.com/bean-mhm/img-aligner-sub001/internal/parallel"
)

// BatchJob is one image pair of a batch.
type BatchJob struct {
	Name    string
	Images  Images
	Options []Option
	Params  RunParams
}

// BatchResult is the outcome of one job. Pixels holds the full-resolution
// warped image when Err is nil.
type BatchResult struct {
	Name   string
	Stats  RunStats
	Pixels []float32
	Err    error
}

// BatchSummary aggregates the final costs of the successful jobs.
type BatchSummary struct {
	Jobs       int
	Failed     int
	MeanCost   float64
	StdDevCost float64
	MaxCost    float64
}

// AlignBatch aligns every job on its own engine. Up to workers engines run
// at once, each with its own command encoder and fence; all of them share
// queue, which serializes their submissions. Results are in job order.
func AlignBatch(ctx context.Context, queue *gpucore.Queue, jobs []BatchJob, workers int) ([]BatchResult, BatchSummary, error) {
	if queue == nil {
		return nil, BatchSummary{}, fmt.Errorf("%w: nil queue", ErrInvalidArgument)
	}
	if workers < 1 {
		workers = 1
	}
	results := make([]BatchResult, len(jobs))
	tasks := make([]parallel.Job, len(jobs))
	for i := range jobs {
		results[i].Name = jobs[i].Name
		tasks[i] = func(ctx context.Context, worker int) error {
			Logger().Debug("aligner: batch job started", "job", jobs[i].Name, "worker", worker)
			stats, pixels, err := alignOne(ctx, queue, jobs[i])
			results[i].Stats, results[i].Pixels = stats, pixels
			return err
		}
	}

	pool := parallel.NewWorkerPool(min(workers, max(len(jobs), 1)))
	defer pool.Close()
	errs := pool.RunAll(ctx, tasks)

	summary := BatchSummary{Jobs: len(jobs)}
	costs := make([]float64, 0, len(jobs))
	for i, err := range errs {
		if err != nil {
			results[i].Err = fmt.Errorf("job %q: %w", jobs[i].Name, err)
			results[i].Pixels = nil
			summary.Failed++
			continue
		}
		c := results[i].Stats.FinalCost.AvgDiff
		costs = append(costs, c)
		summary.MaxCost = max(summary.MaxCost, c)
	}
	switch len(costs) {
	case 0:
	case 1:
		summary.MeanCost = costs[0]
	default:
		summary.MeanCost, summary.StdDevCost = stat.MeanStdDev(costs, nil)
	}
	Logger().Info("aligner: batch finished", "jobs", summary.Jobs, "failed", summary.Failed,
		"mean_cost", summary.MeanCost)
	return results, summary, nil
}

func alignOne(ctx context.Context, queue *gpucore.Queue, job BatchJob) (RunStats, []float32, error) {
	eng, err := NewEngine(queue, job.Images, job.Options...)
	if err != nil {
		return RunStats{}, nil, err
	}
	defer eng.Close()
	stats, err := eng.Run(ctx, job.Params)
	if err != nil {
		return stats, nil, err
	}
	pixels, err := eng.RenderFullResolution()
	return stats, pixels, err
}
