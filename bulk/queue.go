// Package bulk accumulates notifications on disk until a bulk is ripe and
// then delivers all of them with a single plugin invocation.
//
// A bulk is identified by its directory below the queue root:
//
//	<root>/<contact>/<plugin>/<interval>,<count>[,<dimension>,<value>...]
//	<root>/<contact>/<plugin>/timeperiod:<name>,<count>[,<dimension>,<value>...]
//
// Two rules with identical bulking options share the same bulk. Each queued
// notification is one JSON file named by a fresh UUID inside that directory.
package bulk

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/openmon/notifyd/event"
	"github.com/openmon/notifyd/logging"
	"github.com/openmon/notifyd/rule"
	"github.com/openmon/notifyd/timeperiod"
	"github.com/pkg/errors"
)

// Entry is the on-disk payload of one queued notification.
type Entry struct {
	Parameters *rule.PluginParameters `json:"parameters"`
	Context    event.Context          `json:"context"`
}

// Queue is the bulk spool below one root directory.
type Queue struct {
	root   string
	oracle timeperiod.Oracle
	logger *logging.Logger
}

// NewQueue returns a Queue rooted at root. The oracle decides ripeness of
// timeperiod-based bulks.
func NewQueue(root string, oracle timeperiod.Oracle, logger *logging.Logger) *Queue {
	return &Queue{root: root, oracle: oracle, logger: logger}
}

// Root returns the queue's root directory.
func (q *Queue) Root() string {
	return q.root
}

// Add stores a notification for later bulk delivery. The bulk directory is
// derived from the contact, the plugin and the bulking options; creating the
// file is atomic so that a concurrent flush never reads a half-written entry.
func (q *Queue) Add(pluginName string, params *rule.PluginParameters, c event.Context, spec *rule.BulkSpec) error {
	c = c.Copy()
	if spec.Subject != "" {
		c["PARAMETER_BULK_SUBJECT"] = spec.Subject
	}

	parts := q.bulkParts(pluginName, c, spec)
	q.logger.Infof("    --> storing for bulk notification %s", strings.Join(parts, "|"))

	dirname := q.dirname(parts)
	if err := os.MkdirAll(dirname, 0o755); err != nil {
		return errors.Wrapf(err, "cannot create bulk directory %s", dirname)
	}

	payload, err := json.Marshal(Entry{Parameters: params, Context: c})
	if err != nil {
		return errors.Wrap(err, "cannot encode bulk entry")
	}

	filename := filepath.Join(dirname, uuid.New().String())
	if err := os.WriteFile(filename+".new", append(payload, '\n'), 0o644); err != nil {
		return errors.Wrapf(err, "cannot write bulk entry %s", filename)
	}
	if err := os.Rename(filename+".new", filename); err != nil {
		return errors.Wrapf(err, "cannot finalize bulk entry %s", filename)
	}

	q.logger.Infof("        - stored in %s", filename)

	return nil
}

// bulkParts builds the path elements identifying the bulk: contact, plugin,
// ripeness horizon, maximum count and the configured grouping dimensions.
func (q *Queue) bulkParts(pluginName string, c event.Context, spec *rule.BulkSpec) []string {
	what := c["WHAT"]

	parts := []string{c["CONTACTNAME"], pluginName}
	if spec.Method == rule.BulkTimeperiod {
		parts = append(parts, "timeperiod:"+spec.Timeperiod, strconv.Itoa(spec.Count))
	} else {
		parts = append(parts, strconv.Itoa(int(spec.Interval.Seconds())), strconv.Itoa(spec.Count))
	}

	groupBy := spec.GroupBy
	if contains(groupBy, "host") {
		parts = append(parts, "host", c["HOSTNAME"])
	} else if contains(groupBy, "folder") {
		parts = append(parts, "folder", watoFolder(c))
	}
	if contains(groupBy, "service") {
		parts = append(parts, "service", c["SERVICEDESC"])
	}
	if contains(groupBy, "sl") {
		parts = append(parts, "sl", c[what+"_SL"])
	}
	if contains(groupBy, "check_type") {
		parts = append(parts, "check_type", strings.SplitN(c[what+"CHECKCOMMAND"], "!", 2)[0])
	}
	if contains(groupBy, "state") {
		parts = append(parts, "state", c[what+"STATE"])
	}
	if contains(groupBy, "ec_contact") {
		parts = append(parts, "ec_contact", c["EC_CONTACT"])
	}
	if contains(groupBy, "ec_comment") {
		parts = append(parts, "ec_comment", c["EC_COMMENT"])
	}

	// Custom macros may be given with or without their underscore prefix.
	// A service macro wins over the host macro of the same name; a service
	// notification without its own value falls back to the host's.
	for _, macro := range spec.GroupByCustom {
		macro = strings.ToUpper(strings.TrimLeft(macro, "_"))
		value, ok := c["SERVICE_"+macro]
		if !ok {
			value = c["HOST_"+macro]
		}
		parts = append(parts, strings.ToLower(macro), value)
	}

	return parts
}

// dirname joins the bulk path elements into the directory name. The contact
// and plugin stay path components; everything else collapses into one
// comma-separated component with slashes escaped.
func (q *Queue) dirname(parts []string) string {
	escaped := make([]string, len(parts)-2)
	for i, part := range parts[2:] {
		escaped[i] = strings.ReplaceAll(part, "/", "\\")
	}

	return filepath.Join(q.root, parts[0], parts[1], strings.Join(escaped, ","))
}

// watoFolder extracts the setup folder of the host from its tag list.
func watoFolder(c event.Context) string {
	for _, tag := range strings.Fields(c["HOSTTAGS"]) {
		if strings.HasPrefix(tag, "/wato/") {
			return strings.TrimSuffix(strings.TrimPrefix(tag, "/wato/"), "/")
		}
	}

	return ""
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}

	return false
}
