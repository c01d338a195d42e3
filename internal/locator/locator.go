// Package locator grounds natural-language element descriptions to screen
// coordinates by asking a multimodal model for a bounding box.
package locator

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/api/schemas"
	"github.com/xkilldash9x/deskpilot/internal/agent"
	"github.com/xkilldash9x/deskpilot/internal/llmutil"
	"github.com/xkilldash9x/deskpilot/internal/screen"
)

// BoundingBox is the model's answer, in pixels of the image it was shown.
type BoundingBox struct {
	Left       float64  `json:"left"`
	Top        float64  `json:"top"`
	Right      float64  `json:"right"`
	Bottom     float64  `json:"bottom"`
	Confidence *float64 `json:"confidence,omitempty"`
	Found      *bool    `json:"found,omitempty"`

	// ElementType and ClickType are informational.
	ElementType string `json:"element_type,omitempty"`
	ClickType   string `json:"click_type,omitempty"`
}

// Options tunes a Resolver.
type Options struct {
	MinConfidence float64
	Annotate      bool
	Timeout       time.Duration
	Encode        screen.EncodeOptions
}

// Resolver implements agent.ElementResolver.
type Resolver struct {
	client schemas.LLMClient
	camera *screen.Camera
	opts   Options
	logger *zap.Logger
}

var _ agent.ElementResolver = (*Resolver)(nil)

// New creates a resolver. The camera should write to the click locator
// artifact directory so annotated copies land next to their source frames.
func New(client schemas.LLMClient, camera *screen.Camera, opts Options, logger *zap.Logger) (*Resolver, error) {
	if client == nil {
		return nil, errors.New("locator requires an LLM client")
	}
	if camera == nil || camera.Capturer() == nil {
		return nil, errors.New("locator requires a camera")
	}
	if opts.MinConfidence < 0 || opts.MinConfidence > 1 {
		return nil, fmt.Errorf("min confidence %.2f out of range [0,1]", opts.MinConfidence)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{client: client, camera: camera, opts: opts, logger: logger.Named("locator")}, nil
}

// Locate returns the screen point at the centre of the element matching
// description. Elements the model cannot see, or sees with too little
// confidence, yield an error wrapping agent.ErrElementNotFound.
func (r *Resolver) Locate(ctx context.Context, description string) (schemas.Point, error) {
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	shot, err := r.camera.Snap(ctx)
	if err != nil {
		return schemas.Point{}, err
	}
	enc, err := screen.EncodeForModel(shot.Image, r.opts.Encode)
	if err != nil {
		return schemas.Point{}, fmt.Errorf("encoding screenshot: %w", err)
	}

	resp, err := r.client.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: locateSystemPrompt,
		UserPrompt:   buildLocatePrompt(description, enc.Width, enc.Height),
		Images:       []schemas.ImagePart{{MIMEType: enc.MIMEType, Data: enc.Data}},
		Tier:         schemas.TierFast,
		Options:      schemas.GenerationOptions{ForceJSONFormat: true, Temperature: 0.1},
	})
	if err != nil {
		return schemas.Point{}, fmt.Errorf("locator model call failed: %w", err)
	}

	box, err := llmutil.ParseJSONResponse[BoundingBox](resp)
	if err != nil {
		return schemas.Point{}, fmt.Errorf("unreadable locator reply %q: %w", llmutil.Truncate(resp, 200), err)
	}

	rect, err := r.validate(box, enc.Width, enc.Height)
	if err != nil {
		r.logger.Info("Element not located.", zap.String("description", description), zap.Error(err))
		return schemas.Point{}, fmt.Errorf("%q: %w", description, err)
	}

	screenW, screenH, err := r.camera.Capturer().Size(ctx)
	if err != nil {
		return schemas.Point{}, fmt.Errorf("reading screen size: %w", err)
	}
	cx := (rect.Min.X + rect.Max.X) / 2
	cy := (rect.Min.Y + rect.Max.Y) / 2
	pt := schemas.Point{
		X: scale(cx, enc.Width, screenW),
		Y: scale(cy, enc.Height, screenH),
	}

	if r.opts.Annotate && shot.Path != "" {
		r.saveAnnotated(shot, rect, image.Pt(cx, cy), enc.Width, enc.Height)
	}

	r.logger.Debug("Element located.",
		zap.String("description", description),
		zap.Int("x", pt.X), zap.Int("y", pt.Y),
		zap.String("element_type", box.ElementType))
	return pt, nil
}

// validate turns a reply into a rectangle clamped to the image.
func (r *Resolver) validate(box BoundingBox, w, h int) (image.Rectangle, error) {
	if box.Found != nil && !*box.Found {
		return image.Rectangle{}, fmt.Errorf("model reports element not visible: %w", agent.ErrElementNotFound)
	}
	if box.Confidence != nil && *box.Confidence < r.opts.MinConfidence {
		return image.Rectangle{}, fmt.Errorf("confidence %.2f below %.2f: %w", *box.Confidence, r.opts.MinConfidence, agent.ErrElementNotFound)
	}
	rect := image.Rect(
		int(math.Round(box.Left)), int(math.Round(box.Top)),
		int(math.Round(box.Right)), int(math.Round(box.Bottom)),
	).Intersect(image.Rect(0, 0, w, h))
	if rect.Empty() {
		return image.Rectangle{}, fmt.Errorf("degenerate box (%.0f,%.0f,%.0f,%.0f): %w",
			box.Left, box.Top, box.Right, box.Bottom, agent.ErrElementNotFound)
	}
	return rect, nil
}

// saveAnnotated draws the box and target on the full-resolution frame.
// Failures are only logged.
func (r *Resolver) saveAnnotated(shot *schemas.Screenshot, rect image.Rectangle, target image.Point, encW, encH int) {
	b := shot.Image.Bounds()
	sx := func(v int) int { return b.Min.X + scale(v, encW, b.Dx()) }
	sy := func(v int) int { return b.Min.Y + scale(v, encH, b.Dy()) }

	box := image.Rect(sx(rect.Min.X), sy(rect.Min.Y), sx(rect.Max.X), sy(rect.Max.Y))
	annotated := screen.Annotate(shot.Image, box, image.Pt(sx(target.X), sy(target.Y)))
	path, err := r.camera.Save(annotated, "_clicked")
	if err != nil {
		r.logger.Warn("Failed to save annotated screenshot.", zap.Error(err))
		return
	}
	r.logger.Debug("Annotated screenshot saved.", zap.String("path", path))
}

// scale maps v from a space of size from to a space of size to.
func scale(v, from, to int) int {
	if from <= 0 {
		return v
	}
	return int(math.Round(float64(v) * float64(to) / float64(from)))
}
