package plugin

import (
	"os"
	"strings"
	"testing"

	"github.com/openmon/notifyd/event"
	"github.com/stretchr/testify/require"
)

func TestEnviron(t *testing.T) {
	c := event.Context{
		"HOSTNAME":  "gw",
		"WHAT":      "HOST",
		"HOSTSTATE": "DOWN",
	}

	require.Equal(t, []string{
		"NOTIFY_HOSTNAME=gw",
		"NOTIFY_HOSTSTATE=DOWN",
		"NOTIFY_WHAT=HOST",
	}, Environ(c))
}

func TestEnvironTruncatesOversizedValues(t *testing.T) {
	limit := 32 * os.Getpagesize() / 2

	c := event.Context{
		"LONG_PLUGIN_OUTPUT": strings.Repeat("x", limit+1000),
		"SHORT":              strings.Repeat("y", limit),
	}

	env := Environ(c)
	require.Len(t, env, 2)

	long := strings.TrimPrefix(env[0], "NOTIFY_LONG_PLUGIN_OUTPUT=")
	require.Len(t, long, limit+len(truncationNotice))
	require.True(t, strings.HasSuffix(long, truncationNotice))

	short := strings.TrimPrefix(env[1], "NOTIFY_SHORT=")
	require.Len(t, short, limit)
	require.False(t, strings.Contains(short, "Attention"))
}
