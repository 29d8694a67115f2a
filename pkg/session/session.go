// Package session sequences conversion requests for one interactive editing
// session. Every parameter change produces an immutable request tagged with a
// monotonically increasing sequence number; a finished conversion becomes
// visible only if no newer request was issued in the meantime. The session
// holds exactly one live output handle. When the newest request fails, both
// the parameters and the output return to the last applied request.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/menta2k/webp-converter/internal/utils"
	"github.com/menta2k/webp-converter/pkg/cropper"
	"github.com/menta2k/webp-converter/pkg/types"
)

// ErrClosed is returned by operations on a closed session
var ErrClosed = errors.New("session closed")

// Engine performs the decode, crop and conversion stages
type Engine interface {
	Load(ctx context.Context, data []byte) (*types.Raster, error)
	Crop(source *types.Raster, region types.CropRegion) (*types.Raster, types.PixelCropRegion, error)
	Convert(ctx context.Context, req types.ConversionRequest) (*types.EncodedImage, error)
}

// Options are the style defaults a session starts from and returns to on Reset
type Options struct {
	Mask       types.MaskShape
	Quality    float64
	LockAspect bool
}

// DefaultOptions returns no mask, default quality and a locked aspect ratio
func DefaultOptions() Options {
	return Options{Mask: types.NoMask(), Quality: types.DefaultQuality, LockAspect: true}
}

// Outcome reports what happened to one request
type Outcome struct {
	Seq     uint64
	Applied bool
	Handle  *Handle
}

// state is replaced wholesale on every edit; a snapshot is never mutated
type state struct {
	name       string
	original   *types.Raster
	cropped    *types.Raster
	crop       *types.PixelCropRegion
	target     types.Dimensions
	mask       types.MaskShape
	quality    float64
	lockAspect bool
	seq        uint64
}

func (st state) source() *types.Raster {
	if st.cropped != nil {
		return st.cropped
	}
	return st.original
}

// Session is safe for concurrent use
type Session struct {
	engine   Engine
	planner  *cropper.Planner
	defaults Options

	mu sync.Mutex
	// st holds the newest requested parameters, good those of the last
	// applied request
	st      state
	good    state
	seq     uint64
	prep    uint64
	current *Handle
	live    int
	closed  bool
}

// New creates a session over engine starting from opts
func New(engine Engine, opts Options) *Session {
	if opts.Quality <= 0 || opts.Quality > 1 {
		opts.Quality = types.DefaultQuality
	}
	return &Session{
		engine:   engine,
		planner:  cropper.New(),
		defaults: opts,
		st:       initialState(opts),
		good:     initialState(opts),
	}
}

func initialState(opts Options) state {
	return state{mask: opts.Mask, quality: opts.Quality, lockAspect: opts.LockAspect}
}

// LoadOptions shape a freshly loaded source before its first conversion
type LoadOptions struct {
	// Crop is applied to the new source when set
	Crop *types.CropRegion
	// Aspect locks Crop to width/height. Without Crop the largest centered
	// region of that aspect is used.
	Aspect float64
	// Width and Height override the natural size; a zero side follows the
	// source aspect ratio
	Width  int
	Height int
}

// LoadSource decodes data as the new source image, clears any crop and sets
// the target to the natural size
func (s *Session) LoadSource(ctx context.Context, name string, data []byte) (*Outcome, error) {
	return s.LoadSourceWith(ctx, name, data, LoadOptions{})
}

// LoadSourceWith is LoadSource with a crop and target size applied in the
// same request
func (s *Session) LoadSourceWith(ctx context.Context, name string, data []byte, opts LoadOptions) (*Outcome, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.prep++
	prep := s.prep
	s.mu.Unlock()

	raster, err := s.engine.Load(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", name, err)
	}

	var region *types.CropRegion
	switch {
	case opts.Crop != nil:
		r := *opts.Crop
		if opts.Aspect > 0 {
			r.AspectLock = opts.Aspect
		}
		region = &r
	case opts.Aspect > 0:
		r := s.planner.CenterAspectCrop(raster.Dimensions(), opts.Aspect)
		region = &r
	}

	var cropped *types.Raster
	var crop *types.PixelCropRegion
	source := raster
	if region != nil {
		out, px, err := s.engine.Crop(raster, *region)
		if err != nil {
			return nil, err
		}
		cropped, crop, source = out, &px, out
	}
	target := source.Dimensions().Fit(opts.Width, opts.Height)
	if err := target.Validate(); err != nil {
		return nil, err
	}

	return s.commit(ctx, func(st *state) (bool, error) {
		if prep != s.prep {
			return false, nil
		}
		st.name = name
		st.original = raster
		st.cropped = cropped
		st.crop = crop
		st.target = target
		return true, nil
	})
}

// ApplyCrop crops the original source (never a previous crop) and makes the
// result the current source with its own size as the target
func (s *Session) ApplyCrop(ctx context.Context, region types.CropRegion) (*Outcome, error) {
	return s.ApplyDisplayCrop(ctx, region, types.Dimensions{})
}

// ApplyDisplayCrop is ApplyCrop for a region drawn on a preview of the
// original shown at display size. Pixel regions are scaled to natural pixels;
// an invalid display size means the region is already natural.
func (s *Session) ApplyDisplayCrop(ctx context.Context, region types.CropRegion, display types.Dimensions) (*Outcome, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	original := s.st.original
	if original == nil {
		s.mu.Unlock()
		return nil, types.ErrNoSource
	}
	s.prep++
	prep := s.prep
	s.mu.Unlock()

	region = cropper.ScaleFromDisplay(region, display, original.Dimensions())
	cropped, px, err := s.engine.Crop(original, region)
	if err != nil {
		return nil, err
	}

	return s.commit(ctx, func(st *state) (bool, error) {
		if prep != s.prep || st.original != original {
			return false, nil
		}
		st.cropped = cropped
		st.crop = &px
		st.target = cropped.Dimensions()
		return true, nil
	})
}

// ClearCrop returns to the original source at its natural size
func (s *Session) ClearCrop(ctx context.Context) (*Outcome, error) {
	return s.commit(ctx, func(st *state) (bool, error) {
		if st.original == nil {
			return false, types.ErrNoSource
		}
		st.cropped = nil
		st.crop = nil
		st.target = st.original.Dimensions()
		return true, nil
	})
}

// SetDimensions sets the target size. Non-positive sizes are rejected and
// leave the session untouched.
func (s *Session) SetDimensions(ctx context.Context, d types.Dimensions) (*Outcome, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return s.commit(ctx, func(st *state) (bool, error) {
		if st.source() == nil {
			return false, types.ErrNoSource
		}
		st.target = d
		return true, nil
	})
}

// SetWidth edits the target width; with the aspect lock on the height follows
// the current source's aspect ratio
func (s *Session) SetWidth(ctx context.Context, width int) (*Outcome, error) {
	return s.commit(ctx, func(st *state) (bool, error) {
		src := st.source()
		if src == nil {
			return false, types.ErrNoSource
		}
		d := st.target.WithWidth(width, st.aspect())
		if err := d.Validate(); err != nil {
			return false, err
		}
		st.target = d
		return true, nil
	})
}

// SetHeight edits the target height; with the aspect lock on the width
// follows the current source's aspect ratio
func (s *Session) SetHeight(ctx context.Context, height int) (*Outcome, error) {
	return s.commit(ctx, func(st *state) (bool, error) {
		src := st.source()
		if src == nil {
			return false, types.ErrNoSource
		}
		d := st.target.WithHeight(height, st.aspect())
		if err := d.Validate(); err != nil {
			return false, err
		}
		st.target = d
		return true, nil
	})
}

func (st state) aspect() float64 {
	if !st.lockAspect || st.source() == nil {
		return 0
	}
	return st.source().Dimensions().AspectRatio()
}

// SetMask changes the clip shape
func (s *Session) SetMask(ctx context.Context, mask types.MaskShape) (*Outcome, error) {
	mask.Radius = types.ClampRadius(mask.Radius)
	return s.commit(ctx, func(st *state) (bool, error) {
		st.mask = mask
		return st.source() != nil, nil
	})
}

// SetQuality changes the encoder quality, which must be in (0,1]
func (s *Session) SetQuality(ctx context.Context, quality float64) (*Outcome, error) {
	if quality <= 0 || quality > 1 {
		return nil, fmt.Errorf("%w: quality %v outside (0,1]", types.ErrInvalidInput, quality)
	}
	return s.commit(ctx, func(st *state) (bool, error) {
		st.quality = quality
		return st.source() != nil, nil
	})
}

// SetLockAspect toggles the aspect lock used by SetWidth and SetHeight
func (s *Session) SetLockAspect(locked bool) {
	s.mu.Lock()
	s.st.lockAspect = locked
	s.good.lockAspect = locked
	s.mu.Unlock()
}

// SuggestCrop returns the initial crop region for the current source: square
// and centered for circle masks, the default inset otherwise
func (s *Session) SuggestCrop() (types.CropRegion, error) {
	s.mu.Lock()
	st := s.st
	s.mu.Unlock()

	if st.original == nil {
		return types.CropRegion{}, types.ErrNoSource
	}
	aspect := 0.0
	if st.mask.Kind == types.MaskCircle {
		aspect = cropper.Square.Ratio()
	}
	return s.planner.CenterAspectCrop(st.original.Dimensions(), aspect), nil
}

// Reset releases the live output, forgets the source and restores the
// default style. Requests in flight are discarded when they finish.
func (s *Session) Reset(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.prep++
	s.releaseCurrent(ctx)
	s.st = initialState(s.defaults)
	s.st.seq = s.seq
	s.good = s.st
}

// Close releases the live output; later operations fail with ErrClosed
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.seq++
	s.prep++
	s.releaseCurrent(context.Background())
	return nil
}

// Current returns the live output handle, or nil
func (s *Session) Current() *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// LiveHandles returns the number of unreleased handles the session owns
func (s *Session) LiveHandles() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

// Snapshot is a read-only view of the session parameters
type Snapshot struct {
	Name       string                 `json:"name"`
	HasSource  bool                   `json:"has_source"`
	Natural    types.Dimensions       `json:"natural"`
	Source     types.Dimensions       `json:"source"`
	Target     types.Dimensions       `json:"target"`
	Crop       *types.PixelCropRegion `json:"crop,omitempty"`
	Mask       types.MaskShape        `json:"mask"`
	Quality    float64                `json:"quality"`
	LockAspect bool                   `json:"lock_aspect"`
	Seq        uint64                 `json:"seq"`
	OutputID   string                 `json:"output_id,omitempty"`
	OutputName string                 `json:"output_name,omitempty"`
	OutputSize int                    `json:"output_size"`
}

// Snapshot returns the current parameters and output summary
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.st
	snap := Snapshot{
		Name:       st.name,
		HasSource:  st.original != nil,
		Target:     st.target,
		Crop:       st.crop,
		Mask:       st.mask,
		Quality:    st.quality,
		LockAspect: st.lockAspect,
		Seq:        st.seq,
	}
	if st.original != nil {
		snap.Natural = st.original.Dimensions()
		snap.Source = st.source().Dimensions()
	}
	if s.current != nil {
		snap.OutputID = s.current.ID
		snap.OutputName = s.current.Name
		snap.OutputSize = s.current.Size()
	}
	return snap
}

// commit applies edit to a copy of the state, issues a request for it and
// runs the conversion. edit reports whether a conversion should run.
func (s *Session) commit(ctx context.Context, edit func(st *state) (bool, error)) (*Outcome, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	next := s.st
	convert, err := edit(&next)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if !convert {
		// no request was issued, so the edit holds for the applied state too
		good := s.good
		if _, err := edit(&good); err == nil {
			s.good = good
		}
		s.st = next
		s.mu.Unlock()
		return &Outcome{Seq: next.seq}, nil
	}
	s.seq++
	next.seq = s.seq
	s.st = next
	req := types.ConversionRequest{
		Seq:     s.seq,
		Source:  next.source(),
		Target:  next.target,
		Mask:    next.mask,
		Quality: next.quality,
	}
	name := utils.DownloadName(next.name, "webp")
	s.mu.Unlock()

	log.Ctx(ctx).Debug().
		Uint64("seq", req.Seq).
		Str("target", req.Target.String()).
		Str("mask", req.Mask.String()).
		Msg("conversion requested")

	encoded, err := s.engine.Convert(ctx, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	if req.Seq != s.seq || s.closed {
		log.Ctx(ctx).Debug().Uint64("seq", req.Seq).Uint64("latest", s.seq).Msg("discarding stale result")
		return &Outcome{Seq: req.Seq}, nil
	}
	if err != nil {
		s.st = s.good
		log.Ctx(ctx).Debug().Uint64("seq", req.Seq).Uint64("restored", s.good.seq).Msg("conversion failed, restoring last applied parameters")
		return nil, err
	}
	s.good = s.st

	h := newHandle(req.Seq, name, encoded)
	prev := s.current
	s.current = h
	s.live++
	if prev != nil {
		prev.release()
		s.live--
		log.Ctx(ctx).Debug().Str("handle", prev.ID).Msg("released previous output")
	}
	return &Outcome{Seq: req.Seq, Applied: true, Handle: h}, nil
}

// releaseCurrent must be called with s.mu held
func (s *Session) releaseCurrent(ctx context.Context) {
	if s.current == nil {
		return
	}
	s.current.release()
	log.Ctx(ctx).Debug().Str("handle", s.current.ID).Msg("released output")
	s.current = nil
	s.live--
}
