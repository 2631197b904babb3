package rule

import (
	"time"

	"github.com/goccy/go-yaml"
	"github.com/openmon/notifyd/logging"
	"github.com/openmon/notifyd/timeperiod"
)

// Bulking methods.
const (
	BulkAlways     = "always"
	BulkTimeperiod = "timeperiod"
)

// BulkSpec describes deferred, aggregated delivery for a rule's notifications.
//
// With method BulkAlways, notifications are queued unconditionally and the
// queue group becomes ripe by age (Interval) or size (Count). With method
// BulkTimeperiod, notifications are queued while the named timeperiod is
// active and the group becomes ripe when the period ends or Count is reached;
// Outside optionally takes over once the period has ended.
type BulkSpec struct {
	Method     string        `yaml:"method" json:"method"`
	Interval   time.Duration `yaml:"interval" json:"interval"`
	Count      int           `yaml:"count" json:"count"`
	Timeperiod string        `yaml:"timeperiod" json:"timeperiod,omitempty"`

	// GroupBy names the predefined bulk dimensions (host, folder, service, sl,
	// check_type, state, ec_contact, ec_comment); GroupByCustom adds custom
	// context macros as further dimensions.
	GroupBy       []string `yaml:"groupby" json:"groupby,omitempty"`
	GroupByCustom []string `yaml:"groupby_custom" json:"groupby_custom,omitempty"`

	// Subject overrides the bulk notification's subject, exported to the
	// plugin as PARAMETER_BULK_SUBJECT.
	Subject string `yaml:"bulk_subject" json:"bulk_subject,omitempty"`

	Outside *BulkSpec `yaml:"bulk_outside" json:"bulk_outside,omitempty"`
}

// UnmarshalYAML decodes a BulkSpec, accepting the legacy encoding:
// a bare mapping without a method is an "always" bulk.
func (b *BulkSpec) UnmarshalYAML(data []byte) error {
	type plain BulkSpec

	var p plain
	if err := yaml.Unmarshal(data, &p); err != nil {
		return err
	}

	if p.Method == "" {
		p.Method = BulkAlways
	}

	*b = BulkSpec(p)
	return nil
}

// ClassifyBulk decides whether the rule's notifications are delivered deferred
// and returns the effective bulk spec, or nil for immediate delivery.
//
// For timeperiod bulks the oracle is consulted. If that fails, the notification
// is bulked anyway: once the connection is available again and the period is
// not active, the queued notifications go out. Failing toward immediate
// delivery instead would flood contacts during a core outage.
func ClassifyBulk(r *Rule, oracle timeperiod.Oracle, logger *logging.Logger) *BulkSpec {
	bulk := r.Bulk
	if bulk == nil {
		return nil
	}

	method := bulk.Method
	if method == "" {
		method = BulkAlways
	}

	switch method {
	case BulkAlways:
		return bulk
	case BulkTimeperiod:
		active, err := oracle.Active(bulk.Timeperiod)
		if err != nil {
			logger.Infof("Error while checking activity of timeperiod %s: assuming active", bulk.Timeperiod)
			active = true
		}

		if active {
			return bulk
		}

		if outside := bulk.Outside; outside != nil {
			return outside
		}
		return nil
	default:
		logger.Infof("Unknown bulking method %q: assuming bulking is disabled", method)
		return nil
	}
}
