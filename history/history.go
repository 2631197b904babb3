// Package history records every notification and its delivery result in the
// monitoring history, one entry per contact and notification. Bulked
// notifications get one entry per contained notification so that later
// analysis stays precise.
package history

import (
	"fmt"
	"strings"

	"github.com/openmon/notifyd/event"
)

// Writer appends notification history entries.
type Writer interface {
	// Sent records that a notification is being handed to a plugin.
	Sent(plugin string, c event.Context)

	// Result records the plugin's exit code and output for a notification.
	Result(plugin string, c event.Context, exitCode int, output []string)

	// Close releases the writer's resources.
	Close() error
}

// Message formats the history line announcing a notification:
//
//	HOST NOTIFICATION: <contact>;<host>;<state>;<plugin>;<output>
//	SERVICE NOTIFICATION: <contact>;<host>;<service>;<state>;<plugin>;<output>
func Message(plugin string, c event.Context) string {
	contact := c["CONTACTNAME"]
	hostname := c["HOSTNAME"]

	if service := c["SERVICEDESC"]; service != "" {
		return fmt.Sprintf("SERVICE NOTIFICATION: %s;%s;%s;%s;%s;%s",
			contact, hostname, service, c["SERVICESTATE"], plugin, c["SERVICEOUTPUT"])
	}

	return fmt.Sprintf("HOST NOTIFICATION: %s;%s;%s;%s;%s",
		contact, hostname, c["HOSTSTATE"], plugin, c["HOSTOUTPUT"])
}

// ResultMessage formats the history line for a delivery result. The exit code
// takes the state's place; the last output line doubles as short output, the
// full output becomes the comment field.
func ResultMessage(plugin string, c event.Context, exitCode int, output []string) string {
	contact := c["CONTACTNAME"]
	hostname := c["HOSTNAME"]

	shortOutput := ""
	if len(output) > 0 {
		shortOutput = output[len(output)-1]
	}
	comment := strings.Join(output, " -- ")

	if service := c["SERVICEDESC"]; service != "" {
		return fmt.Sprintf("SERVICE NOTIFICATION RESULT: %s;%s;%s;%d;%s;%s;%s",
			contact, hostname, service, exitCode, plugin, shortOutput, comment)
	}

	return fmt.Sprintf("HOST NOTIFICATION RESULT: %s;%s;%d;%s;%s;%s",
		contact, hostname, exitCode, plugin, shortOutput, comment)
}

// NopWriter discards all entries.
type NopWriter struct{}

func (NopWriter) Sent(string, event.Context)                  {}
func (NopWriter) Result(string, event.Context, int, []string) {}
func (NopWriter) Close() error                                { return nil }

// MultiWriter fans entries out to several writers.
type MultiWriter []Writer

func (m MultiWriter) Sent(plugin string, c event.Context) {
	for _, w := range m {
		w.Sent(plugin, c)
	}
}

func (m MultiWriter) Result(plugin string, c event.Context, exitCode int, output []string) {
	for _, w := range m {
		w.Result(plugin, c, exitCode, output)
	}
}

func (m MultiWriter) Close() error {
	var firstErr error
	for _, w := range m {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}
