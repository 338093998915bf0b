package collect

import (
	"context"
	"fmt"

	"github.com/harrowsec/ghtrail/internal/evidence"
)

// CollectSnapshots lists Wayback captures of a URL and wraps them in a
// single snapshot observation. from and to are YYYYMMDD bounds, either may
// be empty.
func (f *Factory) CollectSnapshots(ctx context.Context, target, from, to string, limit int) (*evidence.SnapshotObservation, error) {
	captures, err := f.wayback.Search(ctx, target, from, to, limit)
	if err != nil {
		return nil, err
	}

	snapshots := make([]evidence.Snapshot, 0, len(captures))
	for _, c := range captures {
		snapshots = append(snapshots, evidence.Snapshot{
			Timestamp:  c.Timestamp,
			Original:   c.Original,
			Digest:     c.Digest,
			MimeType:   c.MimeType,
			StatusCode: c.StatusCode,
			Length:     c.Length,
		})
	}

	obs := &evidence.SnapshotObservation{
		ObservationBase: evidence.ObservationBase{
			EvidenceID:   evidence.ComputeID(evidence.KindSnapshot, target),
			ObservedWhen: f.now(),
			ObservedBy:   evidence.SourceWayback,
			ObservedWhat: fmt.Sprintf("%d wayback capture(s) of %s", len(snapshots), target),
			Verification: evidence.Verification{
				Source:    evidence.SourceWayback,
				URL:       target,
				Query:     fmt.Sprintf("url=%s from=%s to=%s", target, from, to),
				QueriedAt: f.now(),
			},
		},
		ObservationType: evidence.KindSnapshot,
		OriginalURL:     target,
		Snapshots:       snapshots,
		TotalSnapshots:  len(snapshots),
	}
	if err := obs.Validate(); err != nil {
		return nil, err
	}
	return obs, nil
}

// SnapshotContent fetches the archived body of target at an exact capture
// timestamp (YYYYMMDDHHMMSS). It builds no evidence on its own; callers
// feed the content into IOC substantiation when the live page is gone.
func (f *Factory) SnapshotContent(ctx context.Context, target, timestamp string) (string, error) {
	return f.wayback.Snapshot(ctx, target, timestamp)
}
