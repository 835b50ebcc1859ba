package commands

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"

	"github.com/dyluth/huddle/internal/printer"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func init() {
	color.NoColor = true
}

// resetFlags restores every flag to its default so package-level flag
// variables do not leak between tests
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

// setContext hands ctx to every command; cobra only fills in a
// subcommand's context when it has none yet
func setContext(cmd *cobra.Command, ctx context.Context) {
	cmd.SetContext(ctx)
	for _, sub := range cmd.Commands() {
		setContext(sub, ctx)
	}
}

// executeCommand runs the CLI with args and returns what a user would see
// on stdout and stderr.
func executeCommand(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	err := executeCommandContext(context.Background(), t, out, errOut, args...)
	return out.String(), errOut.String(), err
}

func executeCommandContext(ctx context.Context, t *testing.T, out, errOut io.Writer, args ...string) error {
	t.Helper()
	resetFlags(rootCmd)
	setContext(rootCmd, ctx)

	restore := printer.SetOutput(out, errOut)
	defer restore()

	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	_, err := rootCmd.ExecuteContextC(ctx)
	return err
}

// syncBuffer is a bytes.Buffer safe to share with a running command
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
