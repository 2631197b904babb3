package event

import (
	"bufio"
	"io"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestFromEnviron(t *testing.T) {
	environ := []string{
		"PATH=/usr/bin",
		"NOTIFY_HOSTNAME=gw",
		"NOTIFY_SERVICEDESC=$SERVICEDESC$",
		"NOTIFY_HOSTOUTPUT=down since $X",
		"NOTIFY_EMPTY=",
		"BROKEN",
	}

	c := FromEnviron(environ)
	require.Equal(t, Context{
		"HOSTNAME":   "gw",
		"HOSTOUTPUT": "down since $X",
		"EMPTY":      "",
	}, c)
}

func TestRead(t *testing.T) {
	input := "HOSTNAME=gw\nHOSTOUTPUT=line one\\nline two\nBACKSLASH=a\\\\nb\n"

	c, err := Read(strings.NewReader(input))
	require.NoError(t, err)
	require.Equal(t, Context{
		"HOSTNAME":   "gw",
		"HOSTOUTPUT": "line one\nline two",
		"BACKSLASH":  `a\nb`,
	}, c)
}

func TestReadEmpty(t *testing.T) {
	c, err := Read(strings.NewReader(""))
	require.NoError(t, err)
	require.Empty(t, c)
}

func TestReadMalformed(t *testing.T) {
	_, err := Read(strings.NewReader("NOEQUALSIGN\n"))
	require.Error(t, err)
}

func TestReadBlock(t *testing.T) {
	br := bufio.NewReader(strings.NewReader("A=1\nB=2\n\nC=3\n\n"))

	first, err := ReadBlock(br)
	require.NoError(t, err)
	require.Equal(t, Context{"A": "1", "B": "2"}, first)

	second, err := ReadBlock(br)
	require.NoError(t, err)
	require.Equal(t, Context{"C": "3"}, second)

	_, err = ReadBlock(br)
	require.True(t, errors.Is(err, io.EOF))
}

func TestReadBlockUnterminated(t *testing.T) {
	// A block ending at EOF without a trailing blank line still counts.
	br := bufio.NewReader(strings.NewReader("A=1"))

	c, err := ReadBlock(br)
	require.NoError(t, err)
	require.Equal(t, Context{"A": "1"}, c)
}

func TestReadBlockSkipsLeadingBlankLines(t *testing.T) {
	br := bufio.NewReader(strings.NewReader("\n\nA=1\n\n"))

	c, err := ReadBlock(br)
	require.NoError(t, err)
	require.Equal(t, Context{"A": "1"}, c)
}

func TestExpandBackslashes(t *testing.T) {
	require.Equal(t, "plain", expandBackslashes("plain"))
	require.Equal(t, "a\nb", expandBackslashes(`a\nb`))
	require.Equal(t, `a\b`, expandBackslashes(`a\\b`))
	require.Equal(t, `a\nb`, expandBackslashes(`a\\nb`))
}

func TestIsDeadMacro(t *testing.T) {
	require.True(t, isDeadMacro("$HOSTNAME$"))
	require.True(t, isDeadMacro("$HOST_NAME$"))
	require.False(t, isDeadMacro("$5.00$"))
	require.False(t, isDeadMacro("$$"))
	require.False(t, isDeadMacro("HOSTNAME"))
	require.False(t, isDeadMacro("$HOSTNAME"))
}
