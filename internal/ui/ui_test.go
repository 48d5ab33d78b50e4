package ui

import (
	"os"
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/stretchr/testify/assert"
)

func TestShouldUseColor_Env(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	assert.False(t, ShouldUseColor())
}

func TestShouldUseColor_Force(t *testing.T) {
	t.Setenv("NO_COLOR", "")
	os.Unsetenv("NO_COLOR")
	t.Setenv("CLICOLOR", "")
	t.Setenv("CLICOLOR_FORCE", "1")
	assert.True(t, ShouldUseColor())
}

func TestMeter(t *testing.T) {
	lipgloss.SetColorProfile(termenv.Ascii)

	assert.Equal(t, "█████░░░░░", Meter(50, 100, 10))
	assert.Equal(t, "██████████", Meter(150, 100, 10))
	assert.Equal(t, "░░░░░░░░░░", Meter(-3, 100, 10))
	assert.Empty(t, Meter(10, 0, 10))
}

func TestField(t *testing.T) {
	lipgloss.SetColorProfile(termenv.Ascii)

	line := Field("Zone", "Deep Archive")
	assert.True(t, strings.HasPrefix(line, "  Zone:"))
	assert.True(t, strings.HasSuffix(line, "Deep Archive"))
}

func TestIconsPlainWithoutTTY(t *testing.T) {
	lipgloss.SetColorProfile(termenv.Ascii)
	t.Setenv("GESHER_NO_ICONS", "1")
	assert.Equal(t, "[ok]", RenderPassIcon())
	assert.Equal(t, "[fail]", RenderFailIcon())
}
