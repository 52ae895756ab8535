package cmd

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/formpilot/api/schemas"
	"github.com/xkilldash9x/formpilot/internal/autofill"
)

const testConfig = `
logger:
  level: error
metrics:
  enabled: false
engine:
  idle_timeout: 100ms
  timings:
    pre_field: 0s
    after_checkbox: 0s
    after_radio: 0s
    dropdown_open: 0s
    key_interval: 0s
    after_dropdown: 0s
    after_text: 0s
    blur_delay: 0s
    after_upload: 0s
    post_fill: 0s
    navigation_settle: 0s
    correction_settle: 0s
    mutation_settle: 0s
`

const signupPage = `<html><body>
<form method="post" action="/done">
  <label for="first">First name</label><input id="first" name="first">
  <label for="email">Email</label><input id="email" type="email" name="email">
  <button type="submit">Continue</button>
</form></body></html>`

// signupServer records the single submission of a one-step form.
type signupServer struct {
	mu       sync.Mutex
	received map[string]string
}

func (s *signupServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/":
		_, _ = io.WriteString(w, signupPage)
	case r.Method == http.MethodPost && r.URL.Path == "/done":
		_ = r.ParseForm()
		s.mu.Lock()
		s.received = map[string]string{"first": r.PostForm.Get("first"), "email": r.PostForm.Get("email")}
		s.mu.Unlock()
		_, _ = io.WriteString(w, `<html><body><p>Welcome aboard.</p></body></html>`)
	default:
		http.NotFound(w, r)
	}
}

// executeCommand runs a pristine command tree with args and returns stdout.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("FORMPILOT_LLM_API_KEY", "")
	t.Setenv("FORMPILOT_DATABASE_URL", "")

	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(testConfig), 0o600))

	root := NewRootCommand()
	out := new(bytes.Buffer)
	root.SetOut(out)
	root.SetErr(io.Discard)
	root.SetArgs(append([]string{"--config", cfgPath}, args...))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func TestRootCommand_Version(t *testing.T) {
	out, err := executeCommand(t, "--version")
	require.NoError(t, err)
	assert.Equal(t, "formpilot version dev\n", out)

	out, err = executeCommand(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "formpilot version dev\n", out)
}

func TestRootCommand_Subcommands(t *testing.T) {
	root := NewRootCommand()
	names := make([]string, 0)
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"fill", "inspect", "serve", "version"})
}

func TestRootCommand_InvalidConfig(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("engine:\n  max_steps: 0\n"), 0o600))

	root := NewRootCommand()
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"--config", cfgPath, "fill", "--static", "http://127.0.0.1:1"})
	err := root.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_steps")
}

func TestFillCommand_RequiresURL(t *testing.T) {
	_, err := executeCommand(t, "fill")
	require.Error(t, err)
}

func TestFillCommand_StaticRun(t *testing.T) {
	app := &signupServer{}
	srv := httptest.NewServer(app)
	defer srv.Close()

	outPath := filepath.Join(t.TempDir(), "report.json")
	_, err := executeCommand(t, "fill", "--static", "--no-persist", "--output", outPath, srv.URL+"/")
	require.NoError(t, err)

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	var report schemas.FlowReport
	require.NoError(t, json.Unmarshal(data, &report))

	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, schemas.RunCompleted, report.Status)
	assert.Equal(t, 1, report.Steps)
	assert.Equal(t, autofill.StopIdle, report.StopReason)
	assert.Equal(t, srv.URL+"/done", report.FinalURL)

	app.mu.Lock()
	defer app.mu.Unlock()
	assert.Equal(t, map[string]string{"first": "Alex", "email": "alex@example.com"}, app.received)
}

func TestFillCommand_UnreachableURLFails(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	target := srv.URL + "/"
	srv.Close()

	out, err := executeCommand(t, "fill", "--static", "--no-persist", target)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed")
	assert.Contains(t, out, `"status": "failed"`)
}

func TestInspectCommand_Static(t *testing.T) {
	srv := httptest.NewServer(&signupServer{})
	defer srv.Close()

	out, err := executeCommand(t, "inspect", srv.URL+"/")
	require.NoError(t, err)

	var inspection Inspection
	require.NoError(t, json.Unmarshal([]byte(out), &inspection))
	require.Len(t, inspection.Fields, 2)
	assert.Equal(t, "first", inspection.Fields[0].Identifier)
	assert.Equal(t, "First name", inspection.Fields[0].Label)
	assert.Equal(t, "email", inspection.Fields[1].Identifier)
	require.NotNil(t, inspection.Proceed)
	assert.Equal(t, "Continue", inspection.Proceed.Text)
}

func TestFillCommand_TextFormat(t *testing.T) {
	srv := httptest.NewServer(&signupServer{})
	defer srv.Close()

	out, err := executeCommand(t, "fill", "--static", "--no-persist", "--format", "text", srv.URL+"/")
	require.NoError(t, err)
	assert.Contains(t, out, ": completed\n")
	assert.Contains(t, out, "stopped:     idle timeout")
}

func TestFillCommand_UnknownFormat(t *testing.T) {
	srv := httptest.NewServer(&signupServer{})
	defer srv.Close()

	_, err := executeCommand(t, "fill", "--static", "--no-persist", "--format", "xml", srv.URL+"/")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported output format")
}
