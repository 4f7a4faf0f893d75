// Package heuristic scores files by size, churn and recency.
//
// Each factor is turned into a percentile rank over all files, the three
// ranks are summed, and the sums are ranked again and scaled so the score
// never contributes more than MaxContribution to a fused ranking.
package heuristic

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/repoctx/internal/repository"
	"github.com/fyrsmithlabs/repoctx/internal/snippet"
)

// Defaults.
const (
	DefaultLineCap         = 1000
	DefaultMaxContribution = 0.1
)

// Config tunes the heuristic.
type Config struct {
	LineCap         int
	MaxContribution float64
}

// DefaultConfig returns the default heuristic settings.
func DefaultConfig() Config {
	return Config{LineCap: DefaultLineCap, MaxContribution: DefaultMaxContribution}
}

// FileStats are the raw inputs for one file.
type FileStats struct {
	Path         string
	Lines        int
	Commits      int
	LastModified time.Time
}

// Collect gathers stats for files from repo history. A file whose history
// cannot be read, or that has none, counts one commit and takes the oldest
// modification time seen in the repository.
func Collect(ctx context.Context, repo repository.Repo, files []repository.File, logger *zap.Logger) ([]FileStats, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	stats := make([]FileStats, len(files))
	var oldest time.Time
	var missing []int

	for i, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		stats[i] = FileStats{Path: f.Path, Lines: snippet.LineCount(f.Content), Commits: 1}

		history, err := repo.CommitHistory(ctx, f.Path)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Warn("reading commit history", zap.String("path", f.Path), zap.Error(err))
		}
		if len(history) == 0 {
			missing = append(missing, i)
			continue
		}

		stats[i].Commits = len(history) + 1
		last := history[0].When
		for _, c := range history[1:] {
			if c.When.After(last) {
				last = c.When
			}
		}
		stats[i].LastModified = last
		if oldest.IsZero() || last.Before(oldest) {
			oldest = last
		}
	}

	for _, i := range missing {
		stats[i].LastModified = oldest
	}
	return stats, nil
}

// Score returns the heuristic score for every file, keyed by path. Scores
// lie in [0, cfg.MaxContribution].
func Score(stats []FileStats, now time.Time, cfg Config) map[string]float64 {
	if cfg.LineCap <= 0 {
		cfg.LineCap = DefaultLineCap
	}
	if cfg.MaxContribution < 0 {
		cfg.MaxContribution = 0
	}
	if len(stats) == 0 {
		return map[string]float64{}
	}

	lines := make([]float64, len(stats))
	commits := make([]float64, len(stats))
	recency := make([]float64, len(stats))
	for i, s := range stats {
		lines[i] = float64(min(s.Lines, cfg.LineCap))
		commits[i] = float64(s.Commits)
		recency[i] = Recency(s.LastModified, now)
	}

	lp, cp, rp := PercentileRanks(lines), PercentileRanks(commits), PercentileRanks(recency)
	sums := make([]float64, len(stats))
	for i := range stats {
		sums[i] = lp[i] + cp[i] + rp[i]
	}

	final := PercentileRanks(sums)
	out := make(map[string]float64, len(stats))
	for i, s := range stats {
		out[s.Path] = final[i] * cfg.MaxContribution
	}
	return out
}

// Recency is 1/(hours since last+1). Future times count as now; the zero
// time scores 0.
func Recency(last, now time.Time) float64 {
	if last.IsZero() {
		return 0
	}
	hours := now.Sub(last).Hours()
	if hours < 0 {
		hours = 0
	}
	return 1 / (hours + 1)
}

// PercentileRanks maps each value to its rank among values, scaled to
// [0, 1]. Tied values share the average of their ranks. A single value
// ranks 1.
func PercentileRanks(values []float64) []float64 {
	n := len(values)
	out := make([]float64, n)
	if n == 0 {
		return out
	}
	if n == 1 {
		out[0] = 1
		return out
	}

	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return values[idx[a]] < values[idx[b]] })

	for lo := 0; lo < n; {
		hi := lo
		for hi+1 < n && values[idx[hi+1]] == values[idx[lo]] {
			hi++
		}
		avg := float64(lo+hi) / 2
		for k := lo; k <= hi; k++ {
			out[idx[k]] = avg / float64(n-1)
		}
		lo = hi + 1
	}
	return out
}
