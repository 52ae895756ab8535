package autofill

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/formpilot/api/schemas"
)

func testOptions() Options {
	opts := DefaultOptions()
	opts.Timings = Timings{}
	opts.IdleTimeout = 200 * time.Millisecond
	return opts
}

func newTestNavigator(t *testing.T, page *fakePage) *Navigator {
	t.Helper()
	return NewNavigator(page, testOptions(), nil, zaptest.NewLogger(t))
}

func TestFindProceed(t *testing.T) {
	tests := []struct {
		name       string
		candidates []string
		want       string
		found      bool
	}{
		{"plain next", []string{"Back", "Next"}, "Next", true},
		{"case and whitespace", []string{"  save AND\n continue  "}, "  save AND\n continue  ", true},
		{"first in document order", []string{"Submit application", "Continue"}, "Submit application", true},
		{"word boundary", []string{"Nextdoor deals", "Continued reading"}, "", false},
		{"month navigation excluded", []string{"Next month", "Previous year", "Done"}, "Done", true},
		{"nothing", []string{"Cancel", "Back"}, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := newFakePage()
			page.candidates = nil
			for i, text := range tt.candidates {
				page.candidates = append(page.candidates, schemas.ProceedCandidate{Handle: string(rune('a' + i)), Text: text, Tag: "button"})
			}
			got, found, err := newTestNavigator(t, page).FindProceed(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.found, found)
			assert.Equal(t, tt.want, got.Text)
		})
	}
}

func TestFingerprint_IgnoresValidationErrors(t *testing.T) {
	clean := fingerprint("Step 2  of 4\nPersonal details", nil)
	withErr := fingerprint("Step 2 of 4 Personal details This field is required", []string{"This field is required"})
	assert.Equal(t, clean, withErr)
	assert.NotEqual(t, clean, fingerprint("Step 3 of 4 Address", nil))
}

func TestAdvance_NoProceedControl(t *testing.T) {
	page := newFakePage()
	page.candidates = []schemas.ProceedCandidate{{Handle: "b", Text: "Back"}}
	page.controls = []schemas.RawControl{textControl("h1", "email", "Email")}

	opts := testOptions()
	opts.Timings.NavigationSettle = time.Minute
	nav := NewNavigator(page, opts, nil, zaptest.NewLogger(t))

	start := time.Now()
	verdict, err := nav.Advance(context.Background(), NewStepState())
	require.NoError(t, err)
	assert.Equal(t, schemas.DecisionStopped, verdict.Decision)
	assert.ErrorIs(t, verdict.Err, ErrNoProceedControl)
	assert.Less(t, time.Since(start), time.Second, "must not wait for a settle")
	assert.Empty(t, page.Calls())
}

func TestAdvance_Continue(t *testing.T) {
	t.Run("text change", func(t *testing.T) {
		page := newFakePage()
		page.onActivate = func(p *fakePage) { p.body = "Step two" }
		verdict, err := newTestNavigator(t, page).Advance(context.Background(), NewStepState())
		require.NoError(t, err)
		assert.Equal(t, schemas.DecisionContinue, verdict.Decision)
		assert.Equal(t, []string{"ActivateInPage next"}, page.Calls())
	})

	t.Run("url change", func(t *testing.T) {
		page := newFakePage()
		page.onActivate = func(p *fakePage) { p.url = "https://forms.example.com/apply/2" }
		verdict, err := newTestNavigator(t, page).Advance(context.Background(), NewStepState())
		require.NoError(t, err)
		assert.Equal(t, schemas.DecisionContinue, verdict.Decision)
	})

	t.Run("falls back to a direct click", func(t *testing.T) {
		page := newFakePage()
		page.inPageFails = true
		page.onActivate = func(p *fakePage) { p.body = "Step two" }
		verdict, err := newTestNavigator(t, page).Advance(context.Background(), NewStepState())
		require.NoError(t, err)
		assert.Equal(t, schemas.DecisionContinue, verdict.Decision)
		assert.Equal(t, []string{"ActivateInPage next", "Click next"}, page.Calls())
	})
}

func TestAdvance_CorrectUntilCap(t *testing.T) {
	page := newFakePage()
	page.onActivate = func(p *fakePage) { p.errors = []string{"Invalid phone", "Invalid phone", "Required"} }
	nav := newTestNavigator(t, page)
	state := NewStepState()

	verdict, err := nav.Advance(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, schemas.DecisionCorrect, verdict.Decision, "errors appearing are not a step change")
	assert.Equal(t, []string{"Invalid phone", "Required"}, verdict.Errors)

	state.CorrectionAttempts = 2
	verdict, err = nav.Advance(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, schemas.DecisionStopped, verdict.Decision)
	assert.ErrorIs(t, verdict.Err, ErrStalledProgress)
}

func TestAdvance_StalledWithoutErrors(t *testing.T) {
	page := newFakePage()
	verdict, err := newTestNavigator(t, page).Advance(context.Background(), NewStepState())
	require.NoError(t, err)
	assert.Equal(t, schemas.DecisionStopped, verdict.Decision)
	assert.ErrorIs(t, verdict.Err, ErrStalledProgress)
}

func TestAdvance_ContextCancelledDuringSettle(t *testing.T) {
	page := newFakePage()
	opts := testOptions()
	opts.Timings.NavigationSettle = time.Minute
	nav := NewNavigator(page, opts, nil, zaptest.NewLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := nav.Advance(ctx, NewStepState())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
