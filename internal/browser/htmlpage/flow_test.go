package htmlpage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/formpilot/internal/assets"
	"github.com/xkilldash9x/formpilot/internal/autofill"
	"github.com/xkilldash9x/formpilot/internal/valuesource"
)

const stepOne = `<html><head><title>Apply</title></head><body>
<h1>Step 1 of 2: About you</h1>
<form method="post" action="/apply/1">
  <label for="first">First name</label><input id="first" name="first">
  <label for="email">Email address</label><input id="email" type="email" name="email">
  <fieldset><legend>Preferred contact</legend>
    <label><input type="radio" name="contact" value="email"> Email</label>
    <label><input type="radio" name="contact" value="phone"> Phone</label>
  </fieldset>
  <label for="state">State</label>
  <select id="state" name="state"><option value="">Choose...</option><option>California</option><option>Texas</option></select>
  <input type="hidden" name="csrf" value="t0k3n">
  <button type="submit">Next</button>
</form></body></html>`

const stepTwo = `<html><head><title>Apply</title></head><body>
<h1>Step 2 of 2: Details</h1>
%s
<form method="post" action="/apply/2" enctype="multipart/form-data">
  <label for="phone">Phone number</label><input id="phone" type="tel" name="phone">
  <label for="resume">Resume</label><input id="resume" type="file" name="resume">
  <label><input type="checkbox" name="terms" value="yes"> I agree to the terms</label>
  <button type="submit">Submit application</button>
</form></body></html>`

const thanks = `<html><body><h1>Thank you</h1><p>Your application was received.</p></body></html>`

// applicationServer is a two-step form that rejects the first submission of
// step two.
type applicationServer struct {
	mu          sync.Mutex
	stepOne     map[string]string
	submissions []map[string]string
	uploads     []string
}

func (a *applicationServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/apply":
		_, _ = io.WriteString(w, stepOne)

	case r.Method == http.MethodPost && r.URL.Path == "/apply/1":
		_ = r.ParseForm()
		a.mu.Lock()
		a.stepOne = map[string]string{
			"first":   r.PostForm.Get("first"),
			"email":   r.PostForm.Get("email"),
			"contact": r.PostForm.Get("contact"),
			"state":   r.PostForm.Get("state"),
			"csrf":    r.PostForm.Get("csrf"),
		}
		a.mu.Unlock()
		http.Redirect(w, r, "/apply/2", http.StatusSeeOther)

	case r.Method == http.MethodGet && r.URL.Path == "/apply/2":
		_, _ = fmt.Fprintf(w, stepTwo, "")

	case r.Method == http.MethodPost && r.URL.Path == "/apply/2":
		_ = r.ParseMultipartForm(1 << 20)
		a.mu.Lock()
		a.submissions = append(a.submissions, map[string]string{
			"phone": r.FormValue("phone"),
			"terms": r.FormValue("terms"),
		})
		if _, header, err := r.FormFile("resume"); err == nil {
			a.uploads = append(a.uploads, header.Filename)
		}
		attempt := len(a.submissions)
		a.mu.Unlock()

		if attempt == 1 {
			_, _ = fmt.Fprintf(w, stepTwo, `<div class="error">Enter a valid phone number</div>`)
			return
		}
		_, _ = io.WriteString(w, thanks)

	default:
		http.NotFound(w, r)
	}
}

func TestEngine_StaticMultiStepFlow(t *testing.T) {
	app := &applicationServer{}
	srv := httptest.NewServer(app)
	defer srv.Close()

	logger := zaptest.NewLogger(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	session := New(5*time.Second, logger)
	defer session.Close()
	require.NoError(t, session.Navigate(ctx, srv.URL+"/apply"))

	opts := autofill.DefaultOptions()
	opts.Timings = autofill.Timings{}
	opts.IdleTimeout = 100 * time.Millisecond

	engine := autofill.NewEngine(session, valuesource.New(nil, logger), assets.DefaultSample(), opts, logger, nil)
	report, err := engine.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Steps)
	assert.Equal(t, 1, report.Corrections)
	assert.Equal(t, autofill.StopIdle, report.StopReason)
	assert.Equal(t, srv.URL+"/apply", report.StartURL)
	assert.Equal(t, srv.URL+"/apply/2", report.FinalURL)

	app.mu.Lock()
	defer app.mu.Unlock()
	assert.Equal(t, map[string]string{
		"first":   "Alex",
		"email":   "alex@example.com",
		"contact": "email",
		"state":   "California",
		"csrf":    "t0k3n",
	}, app.stepOne)

	require.Len(t, app.submissions, 2)
	for _, sub := range app.submissions {
		assert.Equal(t, "1234567890", sub["phone"])
		assert.Equal(t, "yes", sub["terms"])
	}
	assert.Equal(t, []string{"sample.pdf"}, app.uploads, "the sample is attached once per step")
}
