package printer

import (
	"bytes"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// capture redirects output with colors disabled so assertions see plain text
func capture(t *testing.T) (*bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	var out, errOut bytes.Buffer
	restore := SetOutput(&out, &errOut)

	noColor := color.NoColor
	color.NoColor = true
	t.Cleanup(func() {
		restore()
		color.NoColor = noColor
	})
	return &out, &errOut
}

func TestError(t *testing.T) {
	t.Run("returns error with title", func(t *testing.T) {
		_, errOut := capture(t)
		err := Error("Test Error", "This is a test error", []string{})
		require.Error(t, err)
		require.Equal(t, "Test Error", err.Error())
		assert.Contains(t, errOut.String(), "This is a test error")
		assert.NotContains(t, errOut.String(), "Either")
	})

	t.Run("single suggestion is printed bare", func(t *testing.T) {
		_, errOut := capture(t)
		err := Error("Test Error", "Explanation", []string{"Try this fix"})
		require.Equal(t, "Test Error", err.Error())
		assert.Contains(t, errOut.String(), "\nTry this fix\n")
	})

	t.Run("multiple suggestions are numbered", func(t *testing.T) {
		_, errOut := capture(t)
		err := Error("Test Error", "Explanation", []string{
			"First option",
			"Second option",
		})
		require.Equal(t, "Test Error", err.Error())
		assert.Contains(t, errOut.String(), "Either:\n  1. First option\n  2. Second option\n")
	})
}

func TestErrorWithContext(t *testing.T) {
	_, errOut := capture(t)
	err := ErrorWithContext("Test Error", "Explanation", map[string]string{"Instance": "village"}, []string{"Fix it"})
	require.Equal(t, "Test Error", err.Error())
	assert.Contains(t, errOut.String(), "  Instance: village\n")
}

func TestMessages(t *testing.T) {
	out, _ := capture(t)

	Success("done\n")
	Success("✓ already marked\n")
	Warning("careful\n")
	Step("next\n")
	Info("%d items\n", 3)

	assert.Equal(t, "✓ done\n✓ already marked\n⚠️  careful\n→ next\n3 items\n", out.String())
}

func TestState(t *testing.T) {
	capture(t)
	for _, s := range []string{"announced", "evaluating", "awarded", "completed", "failed", "expired", "other"} {
		assert.Equal(t, s, State(s))
	}
}
