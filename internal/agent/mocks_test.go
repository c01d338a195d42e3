package agent

import (
	"context"
	"image"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/deskpilot/api/schemas"
)

// -- Decision Source Mock --

type MockDecisionSource struct {
	mock.Mock
}

func (m *MockDecisionSource) Decide(ctx context.Context, prompt string, shot *schemas.Screenshot) (string, error) {
	args := m.Called(ctx, prompt, shot)
	return args.String(0), args.Error(1)
}

// replies queues raw model replies, returned in order.
func (m *MockDecisionSource) replies(raws ...string) *MockDecisionSource {
	for _, r := range raws {
		m.On("Decide", mock.Anything, mock.Anything, mock.Anything).Return(r, nil).Once()
	}
	return m
}

// prompts returns every prompt the source was asked, in order.
func (m *MockDecisionSource) prompts() []string {
	var out []string
	for _, c := range m.Calls {
		out = append(out, c.Arguments.String(1))
	}
	return out
}

// -- Actuator Mock --

type MockActuator struct {
	mock.Mock
}

func (m *MockActuator) Click(ctx context.Context, x, y int) error {
	return m.Called(ctx, x, y).Error(0)
}

func (m *MockActuator) DoubleClick(ctx context.Context, x, y int) error {
	return m.Called(ctx, x, y).Error(0)
}

func (m *MockActuator) PressKey(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func (m *MockActuator) Hotkey(ctx context.Context, keys ...string) error {
	return m.Called(ctx, keys).Error(0)
}

func (m *MockActuator) TypeText(ctx context.Context, text string) error {
	return m.Called(ctx, text).Error(0)
}

func (m *MockActuator) Scroll(ctx context.Context, amount int) error {
	return m.Called(ctx, amount).Error(0)
}

func (m *MockActuator) HScroll(ctx context.Context, amount int) error {
	return m.Called(ctx, amount).Error(0)
}

// -- Element Resolver Mock --

type MockResolver struct {
	mock.Mock
}

func (m *MockResolver) Locate(ctx context.Context, description string) (schemas.Point, error) {
	args := m.Called(ctx, description)
	return args.Get(0).(schemas.Point), args.Error(1)
}

// -- Limiter Mock --

type MockLimiter struct {
	mock.Mock
}

func (m *MockLimiter) Acquire(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// -- Snapshotter Mock --

type MockSnapshotter struct {
	mock.Mock
}

func (m *MockSnapshotter) Snap(ctx context.Context) (*schemas.Screenshot, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*schemas.Screenshot), args.Error(1)
}

// blankSnapshotter always returns the same small frame.
func blankSnapshotter() *MockSnapshotter {
	m := new(MockSnapshotter)
	shot := &schemas.Screenshot{Image: image.NewRGBA(image.Rect(0, 0, 8, 8))}
	m.On("Snap", mock.Anything).Return(shot, nil)
	return m
}

// -- Action Executor Mock --

type MockExecutor struct {
	mock.Mock
}

func (m *MockExecutor) Dispatch(ctx context.Context, rec schemas.ActionRecord) error {
	return m.Called(ctx, rec).Error(0)
}

// -- Journal Mock --

type MockJournal struct {
	mock.Mock
}

func (m *MockJournal) BeginRun(ctx context.Context, run schemas.Run) error {
	return m.Called(ctx, run).Error(0)
}

func (m *MockJournal) AppendStep(ctx context.Context, runID string, seq int, rec schemas.StepRecord) error {
	return m.Called(ctx, runID, seq, rec).Error(0)
}

func (m *MockJournal) AppendAction(ctx context.Context, runID string, step, seq int, rec schemas.ActionRecord) error {
	return m.Called(ctx, runID, step, seq, rec).Error(0)
}

func (m *MockJournal) FinishRun(ctx context.Context, runID string, status schemas.RunStatus, message string, at time.Time) error {
	return m.Called(ctx, runID, status, message, at).Error(0)
}
