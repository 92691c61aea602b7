// Package dedup collapses identical image XObjects of a PDF into a single
// stored copy and retargets page resources at it.
package dedup

import (
	"context"
	"errors"
	"fmt"

	"github.com/wudi/pdfshrink/codec"
	"github.com/wudi/pdfshrink/ir/raw"
	"github.com/wudi/pdfshrink/observability"
)

// DefaultMinImageBytes is the smallest stream size considered worth merging.
const DefaultMinImageBytes = 10000

var ErrInvalidConfig = errors.New("invalid dedup config")

type Config struct {
	MinImageBytes int
	Prune         PrunePolicy
}

func DefaultConfig() Config {
	return Config{MinImageBytes: DefaultMinImageBytes, Prune: PruneSafe}
}

func (c Config) Validate() error {
	if c.MinImageBytes < 0 {
		return fmt.Errorf("%w: MinImageBytes must be >= 0, got %d", ErrInvalidConfig, c.MinImageBytes)
	}
	switch c.Prune {
	case PruneSafe, PruneAlways:
	default:
		return fmt.Errorf("%w: unknown prune policy %v", ErrInvalidConfig, c.Prune)
	}
	return nil
}

type Option func(*Deduplicator)

func WithLogger(l observability.Logger) Option {
	return func(d *Deduplicator) {
		if l != nil {
			d.logger = l
		}
	}
}

func WithTracer(t observability.Tracer) Option {
	return func(d *Deduplicator) {
		if t != nil {
			d.tracer = t
		}
	}
}

// GroupReport describes one set of identical images.
type GroupReport struct {
	Canonical    raw.ObjectRef   `json:"canonical"`
	Redundant    []raw.ObjectRef `json:"redundant"`
	ByteLength   int             `json:"byte_length"`
	Rewritten    int             `json:"rewritten_entries"`
	Undiscovered []raw.ObjectRef `json:"undiscovered,omitempty"`
	Pruned       []raw.ObjectRef `json:"pruned,omitempty"`
	PruneSkipped bool            `json:"prune_skipped,omitempty"`
}

type Report struct {
	DryRun           bool          `json:"dry_run,omitempty"`
	Candidates       int           `json:"candidates"`
	Groups           []GroupReport `json:"groups"`
	RewrittenEntries int           `json:"rewritten_entries"`
	PrunedObjects    int           `json:"pruned_objects"`
	// BytesSaved counts stream payload bytes removed; for a dry run it is
	// the upper bound reached if every redundant member is pruned.
	BytesSaved int64 `json:"bytes_saved"`
}

type Deduplicator struct {
	cfg    Config
	logger observability.Logger
	tracer observability.Tracer
}

func New(cfg Config, opts ...Option) *Deduplicator {
	d := &Deduplicator{
		cfg:    cfg,
		logger: observability.NopLogger{},
		tracer: observability.NopTracer(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run deduplicates doc in place. Running it again on the result changes
// nothing.
func (d *Deduplicator) Run(ctx context.Context, doc *codec.Document) (*Report, error) {
	if err := d.cfg.Validate(); err != nil {
		return nil, err
	}
	report, groups := d.analyze(ctx, doc)
	if len(groups) == 0 {
		return report, nil
	}

	acc := NewAccessor(doc)
	_, span := d.tracer.StartSpan(ctx, observability.SpanRewrite)
	for i, g := range groups {
		if err := ctx.Err(); err != nil {
			span.SetError(err)
			span.Finish()
			return nil, err
		}
		res := RewriteGroup(acc, g)
		gr := &report.Groups[i]
		gr.Rewritten = res.Rewritten
		gr.Undiscovered = res.Undiscovered
		report.RewrittenEntries += res.Rewritten
		for _, ref := range res.Undiscovered {
			d.logger.Debug("redundant image not referenced from any page",
				observability.Stringer("ref", ref),
				observability.Stringer("canonical", g.Canonical))
		}
	}
	span.SetTag("rewritten", report.RewrittenEntries)
	span.Finish()

	_, span = d.tracer.StartSpan(ctx, observability.SpanPrune)
	defer span.Finish()
	skipped := planPrune(doc, groups, d.cfg.Prune)
	for i, g := range groups {
		res := PruneGroup(doc, g, skipped[i])
		gr := &report.Groups[i]
		gr.Pruned = res.Pruned
		gr.PruneSkipped = res.Skipped
		if res.Skipped {
			d.logger.Warn("keeping redundant images that are still referenced",
				observability.Stringer("canonical", g.Canonical),
				observability.Int("members", len(g.Redundant)))
		}
		for _, ref := range res.Absent {
			d.logger.Debug("redundant image already absent", observability.Stringer("ref", ref))
		}
		report.PrunedObjects += len(res.Pruned)
		report.BytesSaved += int64(len(res.Pruned)) * int64(g.ByteLength)
	}
	span.SetTag("pruned", report.PrunedObjects)

	d.logger.Info("images deduplicated",
		observability.Int("groups", len(groups)),
		observability.Int("rewritten", report.RewrittenEntries),
		observability.Int("pruned", report.PrunedObjects),
		observability.Int64("bytes_saved", report.BytesSaved))
	return report, nil
}

// Analyze reports the groups Run would merge without touching doc.
func (d *Deduplicator) Analyze(ctx context.Context, doc *codec.Document) (*Report, error) {
	if err := d.cfg.Validate(); err != nil {
		return nil, err
	}
	report, groups := d.analyze(ctx, doc)
	report.DryRun = true
	acc := NewAccessor(doc)
	for i, g := range groups {
		gr := &report.Groups[i]
		for _, ref := range g.Redundant {
			n := len(acc.Usages(ref))
			if n == 0 {
				gr.Undiscovered = append(gr.Undiscovered, ref)
			}
			gr.Rewritten += n
		}
		report.RewrittenEntries += gr.Rewritten
		report.BytesSaved += int64(len(g.Redundant)) * int64(g.ByteLength)
	}
	return report, nil
}

func (d *Deduplicator) analyze(ctx context.Context, doc *codec.Document) (*Report, []DuplicateGroup) {
	_, span := d.tracer.StartSpan(ctx, observability.SpanFilter)
	images := FilterImages(doc, d.cfg.MinImageBytes)
	span.SetTag("candidates", len(images))
	span.Finish()

	_, span = d.tracer.StartSpan(ctx, observability.SpanGroup)
	groups := GroupDuplicates(images)
	span.SetTag("groups", len(groups))
	span.Finish()

	d.logger.Debug("image candidates grouped",
		observability.Int("candidates", len(images)),
		observability.Int("groups", len(groups)),
		observability.Int("min_bytes", d.cfg.MinImageBytes))

	report := &Report{Candidates: len(images), Groups: make([]GroupReport, len(groups))}
	for i, g := range groups {
		report.Groups[i] = GroupReport{
			Canonical:  g.Canonical,
			Redundant:  g.Redundant,
			ByteLength: g.ByteLength,
		}
	}
	return report, groups
}
