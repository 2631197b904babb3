package history

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/openmon/notifyd/logging"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testLogger(t *testing.T) *logging.Logger {
	return logging.NewLogger(zaptest.NewLogger(t).Sugar())
}

func TestLogWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notify-history.log")

	w, err := NewLogWriter(path, testLogger(t))
	require.NoError(t, err)

	w.Sent("mail", hostContext())
	w.Result("mail", hostContext(), 0, []string{"done"})
	require.NoError(t, w.Close())

	payload, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(string(payload), "\n"), "\n")
	require.Len(t, lines, 2)

	linePattern := regexp.MustCompile(`^\[\d+\] `)
	require.Regexp(t, linePattern, lines[0])
	require.True(t, strings.HasSuffix(lines[0], "HOST NOTIFICATION: hh;gw;DOWN;mail;CRITICAL - Plugin timed out"))
	require.True(t, strings.HasSuffix(lines[1], "HOST NOTIFICATION RESULT: hh;gw;0;mail;done;done"))
}

func TestLogWriterAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notify-history.log")

	for i := 0; i < 2; i++ {
		w, err := NewLogWriter(path, testLogger(t))
		require.NoError(t, err)
		w.Sent("mail", hostContext())
		require.NoError(t, w.Close())
	}

	payload, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, 2, strings.Count(string(payload), "HOST NOTIFICATION"))
}
