package display

import (
	"time"

	"go.uber.org/zap"

	"github.com/agrinet/field-controller/internal/task"
)

// Driver ships a rendered frame to the display peripheral.
type Driver interface {
	WriteLines(lines []string) error
	Close() error
}

// PresenterConfig tunes the presenter task.
type PresenterConfig struct {
	Cadence time.Duration

	// RotateEvery is how long each view stays up.
	RotateEvery time.Duration

	// ErrorAfter is how long an error must stay active before the error
	// view takes priority over rotation.
	ErrorAfter time.Duration
}

// Presenter renders one frame per cycle: the error view when an error has
// been active past the display timeout, otherwise the current rotation view.
// A peripheral write failure is the presenter's own problem; it is logged
// and never surfaced as a system error.
type Presenter struct {
	cfg      PresenterConfig
	renderer Renderer
	driver   Driver
	status   func(now time.Time) Status
	log      *zap.SugaredLogger

	view       View
	lastRotate time.Time
	lastFrame  []string
}

// NewPresenter creates the display task. status supplies the snapshot and
// aggregated error as of the given tick time, so the rendered error age
// matches the supervisor's recovery clock.
func NewPresenter(cfg PresenterConfig, renderer Renderer, driver Driver, status func(now time.Time) Status, log *zap.SugaredLogger) *Presenter {
	return &Presenter{
		cfg:      cfg,
		renderer: renderer,
		driver:   driver,
		status:   status,
		log:      log,
	}
}

func (p *Presenter) Name() string           { return "display" }
func (p *Presenter) Cadence() time.Duration { return p.cfg.Cadence }

// LastFrame returns the most recently written frame.
func (p *Presenter) LastFrame() []string { return p.lastFrame }

// CurrentView returns the rotation position.
func (p *Presenter) CurrentView() View { return p.view }

// Step renders and writes one frame.
func (p *Presenter) Step(now time.Time) task.Outcome {
	st := p.status(now)

	var frame []string
	if st.Err != task.CodeNone && st.ErrFor >= p.cfg.ErrorAfter {
		frame = p.renderer.RenderError(st)
	} else {
		if p.lastRotate.IsZero() {
			p.lastRotate = now
		} else if now.Sub(p.lastRotate) >= p.cfg.RotateEvery {
			p.view = (p.view + 1) % viewCount
			p.lastRotate = now
		}
		frame = p.renderer.Render(p.view, st)
	}

	p.lastFrame = frame
	if err := p.driver.WriteLines(frame); err != nil {
		p.log.Warnw("display write failed", "error", err)
	}
	return task.Complete()
}
