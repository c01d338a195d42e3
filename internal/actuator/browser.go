package actuator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/deskpilot/internal/config"
)

// wheelNotch is the pixel distance of one wheel notch in the browser.
const wheelNotch = 100.0

// Executor is the CDP surface used by Browser.
type Executor interface {
	Run(ctx context.Context, actions ...chromedp.Action) error
	CaptureScreenshot(ctx context.Context) ([]byte, error)
	Viewport(ctx context.Context) (*page.VisualViewport, error)
}

// cdpExecutor runs actions on a chromedp tab.
type cdpExecutor struct {
	ctx context.Context
}

func (e *cdpExecutor) Run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := CombineContext(e.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

func (e *cdpExecutor) CaptureScreenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	err := e.Run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		buf, err = page.CaptureScreenshot().WithFormat(page.CaptureScreenshotFormatPng).Do(c)
		return err
	}))
	return buf, err
}

func (e *cdpExecutor) Viewport(ctx context.Context) (*page.VisualViewport, error) {
	var vp *page.VisualViewport
	err := e.Run(ctx, chromedp.ActionFunc(func(c context.Context) error {
		var err error
		_, _, _, _, vp, _, err = page.GetLayoutMetrics().Do(c)
		return err
	}))
	return vp, err
}

// CombineContext returns a context carrying primary's values that is
// cancelled when either primary or secondary is done. chromedp needs the tab
// context's values; the caller's context carries the deadline.
func CombineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(primary)
	stop := context.AfterFunc(secondary, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// Browser drives a single Chrome page through CDP input events.
type Browser struct {
	exec   Executor
	logger *zap.Logger

	mu           sync.Mutex
	lastX, lastY float64
	hasPointer   bool

	closers []context.CancelFunc
}

// NewBrowser launches Chrome, sizes the viewport and opens cfg.StartURL.
func NewBrowser(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Browser, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(cfg)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	b := NewBrowserWithExecutor(&cdpExecutor{ctx: tabCtx}, logger)
	b.closers = []context.CancelFunc{tabCancel, allocCancel}

	start := cfg.StartURL
	if start == "" {
		start = "about:blank"
	}
	tasks := chromedp.Tasks{}
	if cfg.ViewportWidth > 0 && cfg.ViewportHeight > 0 {
		tasks = append(tasks, chromedp.EmulateViewport(int64(cfg.ViewportWidth), int64(cfg.ViewportHeight)))
	}
	tasks = append(tasks, chromedp.Navigate(start))

	if err := b.exec.Run(ctx, tasks); err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	b.logger.Info("Browser ready.", zap.String("url", start), zap.Bool("headless", cfg.Headless))
	return b, nil
}

// NewBrowserWithExecutor wraps an existing executor.
func NewBrowserWithExecutor(exec Executor, logger *zap.Logger) *Browser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Browser{exec: exec, logger: logger.Named("browser_actuator")}
}

// allocatorOptions translates the config into chromedp allocator options.
func allocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("headless", cfg.Headless),
	)
	if cfg.ViewportWidth > 0 && cfg.ViewportHeight > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight))
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	for _, arg := range cfg.Args {
		arg = strings.TrimLeft(arg, "-")
		if arg == "" {
			continue
		}
		if name, value, ok := strings.Cut(arg, "="); ok {
			opts = append(opts, chromedp.Flag(name, value))
			continue
		}
		opts = append(opts, chromedp.Flag(arg, true))
	}
	return opts
}

func (b *Browser) Click(ctx context.Context, x, y int) error {
	return b.click(ctx, float64(x), float64(y), 1)
}

func (b *Browser) DoubleClick(ctx context.Context, x, y int) error {
	return b.click(ctx, float64(x), float64(y), 2)
}

func (b *Browser) click(ctx context.Context, x, y float64, count int64) error {
	actions := []chromedp.Action{input.DispatchMouseEvent(input.MouseMoved, x, y)}
	for i := int64(1); i <= count; i++ {
		actions = append(actions,
			input.DispatchMouseEvent(input.MousePressed, x, y).WithButton(input.Left).WithButtons(1).WithClickCount(i),
			input.DispatchMouseEvent(input.MouseReleased, x, y).WithButton(input.Left).WithClickCount(i),
		)
	}
	if err := b.exec.Run(ctx, actions...); err != nil {
		return fmt.Errorf("mouse click at (%.0f, %.0f): %w", x, y, err)
	}
	b.mu.Lock()
	b.lastX, b.lastY, b.hasPointer = x, y, true
	b.mu.Unlock()
	return nil
}

func (b *Browser) PressKey(ctx context.Context, key string) error {
	return b.Hotkey(ctx, key)
}

// Hotkey presses keys down in order, carrying modifier state, and releases
// them in reverse.
func (b *Browser) Hotkey(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return errors.New("hotkey requires at least one key")
	}
	norm, err := normalizeAll(keys)
	if err != nil {
		return err
	}

	var mods input.Modifier
	downs := make([]chromedp.Action, 0, len(norm))
	ups := make([]chromedp.Action, 0, len(norm))
	for _, k := range norm {
		def := keyDefinition(k)
		mods |= modifierBit(k)
		down := input.DispatchKeyEvent(input.KeyDown).
			WithKey(def.key).
			WithCode(def.code).
			WithWindowsVirtualKeyCode(def.vk).
			WithModifiers(mods)
		// Text is only produced when no command modifier is held.
		if def.text != "" && mods&^input.ModifierShift == 0 {
			down = down.WithText(def.text)
		}
		downs = append(downs, down)
		ups = append(ups, input.DispatchKeyEvent(input.KeyUp).
			WithKey(def.key).
			WithCode(def.code).
			WithWindowsVirtualKeyCode(def.vk).
			WithModifiers(mods))
	}
	actions := downs
	for i := len(ups) - 1; i >= 0; i-- {
		actions = append(actions, ups[i])
	}
	if err := b.exec.Run(ctx, actions...); err != nil {
		return fmt.Errorf("key sequence %v: %w", norm, err)
	}
	return nil
}

func (b *Browser) TypeText(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	if err := b.exec.Run(ctx, input.InsertText(text)); err != nil {
		return fmt.Errorf("insert text: %w", err)
	}
	return nil
}

// Scroll scrolls vertically by amount notches; positive is up.
func (b *Browser) Scroll(ctx context.Context, amount int) error {
	// A positive wheel delta scrolls the page down.
	return b.wheel(ctx, 0, -float64(amount)*wheelNotch)
}

// HScroll scrolls horizontally by amount notches; positive is right.
func (b *Browser) HScroll(ctx context.Context, amount int) error {
	return b.wheel(ctx, float64(amount)*wheelNotch, 0)
}

func (b *Browser) wheel(ctx context.Context, dx, dy float64) error {
	if dx == 0 && dy == 0 {
		return nil
	}
	x, y, err := b.pointer(ctx)
	if err != nil {
		return err
	}
	ev := input.DispatchMouseEvent(input.MouseWheel, x, y).WithDeltaX(dx).WithDeltaY(dy)
	if err := b.exec.Run(ctx, ev); err != nil {
		return fmt.Errorf("mouse wheel: %w", err)
	}
	return nil
}

// pointer is the last clicked position, or the viewport centre before any click.
func (b *Browser) pointer(ctx context.Context) (float64, float64, error) {
	b.mu.Lock()
	x, y, ok := b.lastX, b.lastY, b.hasPointer
	b.mu.Unlock()
	if ok {
		return x, y, nil
	}
	w, h, err := b.Size(ctx)
	if err != nil {
		return 0, 0, err
	}
	return float64(w) / 2, float64(h) / 2, nil
}

// Capture returns the rendered viewport.
func (b *Browser) Capture(ctx context.Context) (image.Image, error) {
	buf, err := b.exec.CaptureScreenshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to capture page: %w", err)
	}
	img, err := png.Decode(bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("failed to decode page capture: %w", err)
	}
	return img, nil
}

// Size reports the viewport in CSS pixels, the space of input events.
func (b *Browser) Size(ctx context.Context) (int, int, error) {
	vp, err := b.exec.Viewport(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read layout metrics: %w", err)
	}
	if vp == nil || vp.ClientWidth <= 0 || vp.ClientHeight <= 0 {
		return 0, 0, errors.New("viewport size unavailable")
	}
	return int(vp.ClientWidth), int(vp.ClientHeight), nil
}

// Close shuts the tab and the browser process.
func (b *Browser) Close() error {
	for _, c := range b.closers {
		c()
	}
	b.closers = nil
	return nil
}

type keyDef struct {
	key  string
	code string
	text string
	vk   int64
}

var browserKeys = map[string]keyDef{
	"enter":       {key: "Enter", code: "Enter", text: "\r", vk: 13},
	"tab":         {key: "Tab", code: "Tab", vk: 9},
	"esc":         {key: "Escape", code: "Escape", vk: 27},
	"space":       {key: " ", code: "Space", text: " ", vk: 32},
	"backspace":   {key: "Backspace", code: "Backspace", vk: 8},
	"delete":      {key: "Delete", code: "Delete", vk: 46},
	"insert":      {key: "Insert", code: "Insert", vk: 45},
	"up":          {key: "ArrowUp", code: "ArrowUp", vk: 38},
	"down":        {key: "ArrowDown", code: "ArrowDown", vk: 40},
	"left":        {key: "ArrowLeft", code: "ArrowLeft", vk: 37},
	"right":       {key: "ArrowRight", code: "ArrowRight", vk: 39},
	"home":        {key: "Home", code: "Home", vk: 36},
	"end":         {key: "End", code: "End", vk: 35},
	"pageup":      {key: "PageUp", code: "PageUp", vk: 33},
	"pagedown":    {key: "PageDown", code: "PageDown", vk: 34},
	"capslock":    {key: "CapsLock", code: "CapsLock", vk: 20},
	"printscreen": {key: "PrintScreen", code: "PrintScreen", vk: 44},
	"ctrl":        {key: "Control", code: "ControlLeft", vk: 17},
	"shift":       {key: "Shift", code: "ShiftLeft", vk: 16},
	"alt":         {key: "Alt", code: "AltLeft", vk: 18},
	"cmd":         {key: "Meta", code: "MetaLeft", vk: 91},
}

// keyDefinition describes a canonical key name as a DOM key event.
func keyDefinition(k string) keyDef {
	if def, ok := browserKeys[k]; ok {
		return def
	}
	if len(k) > 1 && k[0] == 'f' {
		var n int
		if _, err := fmt.Sscanf(k, "f%d", &n); err == nil && n >= 1 && n <= 12 {
			return keyDef{key: strings.ToUpper(k), code: strings.ToUpper(k), vk: int64(111 + n)}
		}
	}
	r, _ := utf8.DecodeRuneInString(k)
	def := keyDef{key: k, text: k}
	switch {
	case r >= 'a' && r <= 'z':
		def.code = "Key" + string(unicode.ToUpper(r))
		def.vk = int64(unicode.ToUpper(r))
	case r >= '0' && r <= '9':
		def.code = "Digit" + k
		def.vk = int64(r)
	}
	return def
}

func modifierBit(k string) input.Modifier {
	switch k {
	case "alt":
		return input.ModifierAlt
	case "ctrl":
		return input.ModifierCtrl
	case "cmd":
		return input.ModifierMeta
	case "shift":
		return input.ModifierShift
	}
	return input.ModifierNone
}
