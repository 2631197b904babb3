package event

import (
	"bufio"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// EnvPrefix marks context variables in the process environment and in plugin environments.
const EnvPrefix = "NOTIFY_"

// FromEnviron builds a raw context from an environment variable snapshot as
// produced by os.Environ(). Only variables with the NOTIFY_ prefix are taken,
// stripped of that prefix. Unexpanded core macros like "$SERVICEDESC$" are dropped.
func FromEnviron(environ []string) Context {
	context := Context{}
	for _, kv := range environ {
		key, value, found := strings.Cut(kv, "=")
		if !found || !strings.HasPrefix(key, EnvPrefix) {
			continue
		}
		if isDeadMacro(value) {
			continue
		}

		context[strings.TrimPrefix(key, EnvPrefix)] = value
	}

	return context
}

// Read builds a raw context from a line-oriented KEY=value stream, reading until EOF.
// Values use the pipe encoding of the core: backslash-escaped newlines.
func Read(r io.Reader) (Context, error) {
	br := bufio.NewReader(r)

	context, err := ReadBlock(br)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if context == nil {
		return Context{}, nil
	}

	return context, nil
}

// ReadBlock reads one blank-line-terminated block of KEY=value lines from br.
// It returns io.EOF once the stream is exhausted without yielding another context.
// This is the framing used by the keepalive event source.
func ReadBlock(br *bufio.Reader) (Context, error) {
	var context Context

	for {
		line, err := br.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if err != nil {
				if context != nil {
					return context, nil
				}
				if errors.Is(err, io.EOF) {
					return nil, io.EOF
				}
				return nil, errors.Wrap(err, "can't read notification context")
			}
			if context != nil {
				// Blank line terminates the block.
				return context, nil
			}
			continue
		}

		key, value, found := strings.Cut(line, "=")
		if !found {
			return nil, errors.Errorf("malformed context line %q", line)
		}

		if context == nil {
			context = Context{}
		}
		context[key] = expandBackslashes(value)

		if err != nil {
			return context, nil
		}
	}
}

// expandBackslashes decodes the core's pipe encoding: "\n" becomes a newline,
// "\\" a backslash. A plain replace chain would expand "\\n" wrongly, hence the detour.
func expandBackslashes(value string) string {
	value = strings.ReplaceAll(value, `\\`, "\x00")
	value = strings.ReplaceAll(value, `\n`, "\n")
	return strings.ReplaceAll(value, "\x00", `\`)
}

// isDeadMacro reports whether value is an unexpanded core macro like "$HOSTNAME$".
func isDeadMacro(value string) bool {
	if len(value) < 3 || value[0] != '$' || value[len(value)-1] != '$' {
		return false
	}

	for _, r := range value[1 : len(value)-1] {
		if (r < 'A' || r > 'Z') && r != '_' {
			return false
		}
	}

	return true
}
