package registry

import (
	"context"
	"fmt"
	"io"

	"silentfeed/internal/model"
	"silentfeed/internal/opml"
	"silentfeed/internal/storage"
	"silentfeed/internal/txn"
	"silentfeed/internal/urlnorm"
)

// ImportSummary reports an OPML import. Duplicates are entries whose feed
// already existed; they are still subscribed if they were not.
type ImportSummary struct {
	Total      int `json:"total"`
	Added      int `json:"added"`
	Duplicates int `json:"duplicates"`
	Failed     int `json:"failed"`
}

// ImportOPML subscribes every feed listed in an OPML document with source
// imported. Entries are stored in batches of Options.BatchSize, one atomic
// scope per batch; a failed batch is counted and the import continues.
func (r *Registry) ImportOPML(ctx context.Context, src io.Reader, name string) (ImportSummary, error) {
	descs, err := opml.Parse(src, name, r.clock())
	if err != nil {
		observe("import_opml", err)
		return ImportSummary{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	sum := ImportSummary{Total: len(descs)}
	valid := descs[:0]
	for _, d := range descs {
		if err := urlnorm.Validate(d.URL); err != nil {
			r.log.Warn("skip opml entry", "url", d.URL, "error", err)
			sum.Failed++
			continue
		}
		valid = append(valid, d)
	}

	err = txn.ProcessBatches(ctx, valid, r.opts.BatchSize, func(ctx context.Context, batch []model.FeedDescriptor) error {
		var added, dups int
		err := r.txn.RunAtomic(ctx, feedsScope, func(tx storage.Tx) error {
			added, dups = 0, 0
			for _, d := range batch {
				_, existed, err := r.subscribeDescriptor(ctx, tx, d, model.SourceImported)
				if err != nil {
					return err
				}
				if existed {
					dups++
				} else {
					added++
				}
			}
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.log.Error("import batch failed", "size", len(batch), "error", err)
			sum.Failed += len(batch)
			return nil
		}
		sum.Added += added
		sum.Duplicates += dups
		return nil
	})
	r.stats.Invalidate()
	observe("import_opml", err)
	if err != nil {
		return sum, fmt.Errorf("import opml: %w", err)
	}
	r.log.Info("opml imported",
		"total", sum.Total, "added", sum.Added, "duplicates", sum.Duplicates, "failed", sum.Failed)
	return sum, nil
}

// ExportOPML renders the subscribed feeds as an OPML document.
func (r *Registry) ExportOPML(ctx context.Context) ([]byte, error) {
	feeds, err := r.GetFeeds(ctx, model.FeedSubscribed)
	if err != nil {
		return nil, err
	}
	return opml.Export("silentfeed subscriptions", feeds, r.clock())
}
