package tts

import (
	"bytes"
	"context"

	"golang.org/x/sync/singleflight"
)

// Compile-time check that Dedupe implements Synthesizer.
var _ Synthesizer = (*Dedupe)(nil)

// Dedupe merges identical concurrent requests into one backend call. Each
// caller receives its own copy of the audio. The shared call keeps the values
// of the caller that started it but not its cancellation; a caller whose
// context ends stops waiting without failing the others.
type Dedupe struct {
	next  Synthesizer
	group singleflight.Group
}

// NewDedupe wraps next.
func NewDedupe(next Synthesizer) *Dedupe {
	return &Dedupe{next: next}
}

// Synthesize returns the audio for req, sharing an in-flight call for an
// identical request when there is one.
func (d *Dedupe) Synthesize(ctx context.Context, req Request) (*Audio, error) {
	shared := context.WithoutCancel(ctx)
	ch := d.group.DoChan(req.key(), func() (any, error) {
		return d.next.Synthesize(shared, req)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		a := res.Val.(*Audio)
		return &Audio{Data: bytes.Clone(a.Data), MimeType: a.MimeType}, nil
	}
}
