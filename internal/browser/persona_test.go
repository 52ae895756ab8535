package browser

import (
	"testing"

	"github.com/chromedp/cdproto/emulation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/formpilot/internal/config"
)

func TestPersona_Tasks(t *testing.T) {
	t.Run("zero persona", func(t *testing.T) {
		assert.Empty(t, PersonaFromConfig(config.NewDefaultConfig().Browser()).Tasks())
	})

	t.Run("full persona", func(t *testing.T) {
		p := Persona{
			UserAgent: "Mozilla/5.0 (X11; Linux x86_64)",
			Platform:  "Linux x86_64",
			Languages: []string{"de-DE", "de", "en"},
			Timezone:  "Europe/Berlin",
			Locale:    "de-DE",
		}
		tasks := p.Tasks()
		require.Len(t, tasks, 3)

		ua, ok := tasks[0].(*emulation.SetUserAgentOverrideParams)
		require.True(t, ok)
		assert.Equal(t, "Mozilla/5.0 (X11; Linux x86_64)", ua.UserAgent)
		assert.Equal(t, "Linux x86_64", ua.Platform)
		assert.Equal(t, "de-DE,de;q=0.9,en;q=0.8", ua.AcceptLanguage)

		tz, ok := tasks[1].(*emulation.SetTimezoneOverrideParams)
		require.True(t, ok)
		assert.Equal(t, "Europe/Berlin", tz.TimezoneID)

		locale, ok := tasks[2].(*emulation.SetLocaleOverrideParams)
		require.True(t, ok)
		assert.Equal(t, "de-DE", locale.Locale)
	})

	t.Run("timezone only", func(t *testing.T) {
		tasks := Persona{Timezone: "UTC", Languages: []string{"en"}}.Tasks()
		require.Len(t, tasks, 1)
	})
}
