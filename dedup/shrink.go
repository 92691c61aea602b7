package dedup

import (
	"context"

	"github.com/wudi/pdfshrink/codec"
)

// Shrink loads input, merges duplicate images and returns the rewritten
// file. Load failures wrap codec.ErrMalformedDocument or codec.ErrEncrypted;
// save failures wrap codec.ErrSerialization.
func Shrink(ctx context.Context, input []byte, cfg Config, opts ...Option) ([]byte, *Report, error) {
	d := New(cfg, opts...)
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	doc, err := codec.Load(ctx, input, codec.WithLogger(d.logger), codec.WithTracer(d.tracer))
	if err != nil {
		return nil, nil, err
	}
	report, err := d.Run(ctx, doc)
	if err != nil {
		return nil, nil, err
	}
	out, err := doc.Save()
	if err != nil {
		return nil, report, err
	}
	return out, report, nil
}
