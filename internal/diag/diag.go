// Package diag periodically dumps a pprof-format snapshot of per-group
// stored-page usage, so an operator can load eswap's memory footprint
// into the standard pprof toolchain (`go tool pprof -top`) alongside
// CPU/heap profiles of the process embedding it.
//
// Grounded on the teacher module's own direct dependency on
// github.com/google/pprof (biscuit's build tooling uses pprof-family
// profiling during development); this package keeps that dependency
// exercised in the ported domain instead of dropping it, using
// profile.Profile as a generic "indexed counter samples" container
// rather than a CPU/heap profile specifically.
package diag

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/pprof/profile"
)

// Sampler supplies the current stored-page count for every live group,
// keyed by group id. internal/group.Registry plus internal/area's
// per-group accounting satisfy this indirectly through a small adapter
// the caller provides (diag has no direct dependency on either, to
// keep it usable from tests without wiring a whole Area).
type Sampler interface {
	Samples() map[uint32]int64
}

// Dumper periodically snapshots a Sampler to a pprof profile file.
type Dumper struct {
	Sampler  Sampler
	Dir      string
	Interval time.Duration

	seq int
}

// New returns a Dumper that writes snapshots into dir every interval.
func New(s Sampler, dir string, interval time.Duration) *Dumper {
	return &Dumper{Sampler: s, Dir: dir, Interval: interval}
}

// Snapshot builds one profile.Profile sample per group, valued by its
// currently stored pages.
func (d *Dumper) Snapshot(now time.Time) *profile.Profile {
	samples := d.Sampler.Samples()

	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "stored_pages", Unit: "count"},
		},
		TimeNanos: now.UnixNano(),
	}

	groupIDs := make([]uint32, 0, len(samples))
	for gid := range samples {
		groupIDs = append(groupIDs, gid)
	}

	for i, gid := range groupIDs {
		fn := &profile.Function{
			ID:   uint64(i + 1),
			Name: fmt.Sprintf("group-%d", gid),
		}
		loc := &profile.Location{
			ID:   uint64(i + 1),
			Line: []profile.Line{{Function: fn}},
		}
		p.Function = append(p.Function, fn)
		p.Location = append(p.Location, loc)
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{samples[gid]},
		})
	}
	return p
}

// Write snapshots now and writes it to a timestamped file under Dir.
func (d *Dumper) Write(now time.Time) error {
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return err
	}
	d.seq++
	path := filepath.Join(d.Dir, fmt.Sprintf("eswap-%d-%d.pprof", now.Unix(), d.seq))
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return d.Snapshot(now).Write(f)
}

// Run writes a snapshot every Interval until ctx is canceled.
func (d *Dumper) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if err := d.Write(now); err != nil {
				return err
			}
		}
	}
}
