package blobstore

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultCoalesceGap merges ranges closer than 1MiB into one request.
	DefaultCoalesceGap int64 = 1024 * 1024
	// DefaultFetchParallelism bounds concurrent requests of GetRangesCoalesced.
	DefaultFetchParallelism = 10
)

// Range is a half-open byte range [Start, End).
type Range struct {
	Start int64
	End   int64
}

// Len returns the number of bytes in r.
func (r Range) Len() int64 {
	if r.End <= r.Start {
		return 0
	}
	return r.End - r.Start
}

// Empty reports whether r covers no bytes.
func (r Range) Empty() bool {
	return r.End <= r.Start
}

// Intersect returns the overlap of r and o. The result may be empty.
func (r Range) Intersect(o Range) Range {
	out := Range{Start: max(r.Start, o.Start), End: min(r.End, o.End)}
	if out.End < out.Start {
		out.End = out.Start
	}
	return out
}

// Shift moves r by -off, turning absolute offsets into offsets relative to off.
func (r Range) Shift(off int64) Range {
	return Range{Start: r.Start - off, End: r.End - off}
}

func (r Range) String() string {
	return fmt.Sprintf("[%d, %d)", r.Start, r.End)
}

// Validate checks r against an object of the given size. A range may end
// beyond size; it may not start beyond it.
func (r Range) Validate(size int64) error {
	if r.Start < 0 || r.End < r.Start {
		return fmt.Errorf("%w: %s", ErrInvalidRange, r)
	}
	if r.Start > size {
		return fmt.Errorf("%w: %s starts beyond object size %d", ErrInvalidRange, r, size)
	}
	return nil
}

// Clip limits r to [0, size).
func (r Range) Clip(size int64) Range {
	return Range{Start: min(r.Start, size), End: min(r.End, size)}
}

// GetRangesCoalesced resolves ranges with as few fetches as possible.
//
// Ranges separated by less than gap bytes are merged into a single fetch;
// merged fetches run concurrently, at most parallelism at a time. Results are
// sliced back out and returned in input order. A fetch may return fewer bytes
// than requested at the end of an object.
func GetRangesCoalesced(
	ctx context.Context,
	ranges []Range,
	gap int64,
	parallelism int,
	fetch func(ctx context.Context, r Range) ([]byte, error),
) ([][]byte, error) {
	if len(ranges) == 0 {
		return nil, nil
	}
	for _, r := range ranges {
		if r.Start < 0 || r.End < r.Start {
			return nil, fmt.Errorf("%w: %s", ErrInvalidRange, r)
		}
	}
	if parallelism <= 0 {
		parallelism = DefaultFetchParallelism
	}

	merged := coalesce(ranges, gap)
	fetched := make([][]byte, len(merged))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)

	for i, m := range merged {
		g.Go(func() error {
			data, err := fetch(gctx, m)
			if err != nil {
				return err
			}
			fetched[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([][]byte, len(ranges))
	for i, r := range ranges {
		// merged is sorted by start; find the last fetch starting at or before r.
		j := sort.Search(len(merged), func(k int) bool { return merged[k].Start > r.Start }) - 1
		data := fetched[j]
		lo := min(r.Start-merged[j].Start, int64(len(data)))
		hi := min(r.End-merged[j].Start, int64(len(data)))
		out[i] = data[lo:hi]
	}
	return out, nil
}

// coalesce sorts ranges and merges those separated by less than gap.
func coalesce(ranges []Range, gap int64) []Range {
	sorted := make([]Range, len(ranges))
	copy(sorted, ranges)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	out := []Range{sorted[0]}
	for _, r := range sorted[1:] {
		last := &out[len(out)-1]
		if r.Start <= last.End+gap {
			last.End = max(last.End, r.End)
			continue
		}
		out = append(out, r)
	}
	return out
}
