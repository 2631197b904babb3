package bulk

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// File is one queued notification inside a bulk directory.
type File struct {
	MTime time.Time
	UUID  string
}

// Bulk describes one bulk directory and its ripeness inputs.
type Bulk struct {
	Dir        string
	Age        time.Duration
	Interval   time.Duration // 0 for timeperiod-based bulks
	Timeperiod string        // "" for interval-based bulks
	Count      int
	Files      []File
}

// orphanMaxAge is how long an empty bulk directory may linger before removal.
const orphanMaxAge = time.Minute

// FindBulks scans the queue and returns all bulks, or with onlyRipe just the
// ones due for delivery. An interval bulk is ripe once its oldest entry
// reached the interval age or the entry count reached the limit; a timeperiod
// bulk is ripe once the timeperiod ended or the count is reached. When the
// timeperiod's activity cannot be determined the bulk is held back, so an
// ongoing core connection error delays bulk delivery rather than cutting
// bulks short.
func (q *Queue) FindBulks(onlyRipe bool, now time.Time) []Bulk {
	var bulks []Bulk

	for _, contact := range listVisible(q.root) {
		contactDir := filepath.Join(q.root, contact)
		for _, method := range listVisible(contactDir) {
			methodDir := filepath.Join(contactDir, method)
			for _, name := range listVisible(methodDir) {
				bulkDir := filepath.Join(methodDir, name)

				files, oldest := q.bulkFiles(bulkDir)
				if len(files) == 0 {
					q.removeIfOrphaned(bulkDir, now)
					continue
				}
				age := now.Sub(oldest)

				interval, period, count, ok := q.parseBulkName(methodDir, name)
				if !ok {
					continue
				}

				ripe := false
				switch {
				case period == "":
					switch {
					case age >= interval:
						q.logger.Infof("Bulk %s is ripe: age %d >= %d",
							bulkDir, int(age.Seconds()), int(interval.Seconds()))
						ripe = true
					case len(files) >= count:
						q.logger.Infof("Bulk %s is ripe: count %d >= %d", bulkDir, len(files), count)
						ripe = true
					default:
						q.logger.Infof("Bulk %s is not ripe yet (age: %d, count: %d)!",
							bulkDir, int(age.Seconds()), len(files))
					}
				default:
					active, err := q.oracle.Active(period)
					if err != nil {
						q.logger.Infof("Error while checking activity of timeperiod %s: assuming active", period)
						active = true
					}

					switch {
					case !active:
						q.logger.Infof("Bulk %s is ripe: timeperiod %s has ended", bulkDir, period)
						ripe = true
					case len(files) >= count:
						q.logger.Infof("Bulk %s is ripe: count %d >= %d", bulkDir, len(files), count)
						ripe = true
					default:
						q.logger.Debugf("Bulk %s is not ripe yet (timeperiod %s: active, count: %d)",
							bulkDir, period, len(files))
					}
				}

				if onlyRipe && !ripe {
					continue
				}

				bulks = append(bulks, Bulk{
					Dir:        bulkDir,
					Age:        age,
					Interval:   interval,
					Timeperiod: period,
					Count:      count,
					Files:      files,
				})
			}
		}
	}

	return bulks
}

// bulkFiles lists the finalized entries of a bulk directory sorted by
// modification time. Entries still being written (.new suffix) and foreign
// files are skipped.
func (q *Queue) bulkFiles(bulkDir string) ([]File, time.Time) {
	oldest := time.Now()

	var files []File
	for _, name := range listVisible(bulkDir) {
		if strings.HasSuffix(name, ".new") {
			continue
		}
		if len(name) != 36 { // 4ded0fa2-f0cd-4b6a-9812-54374a04069f
			q.logger.Infof("Skipping invalid notification file %s", filepath.Join(bulkDir, name))
			continue
		}

		info, err := os.Stat(filepath.Join(bulkDir, name))
		if err != nil {
			continue
		}

		files = append(files, File{MTime: info.ModTime(), UUID: name})
		if info.ModTime().Before(oldest) {
			oldest = info.ModTime()
		}
	}

	sort.Slice(files, func(i, j int) bool { return files[i].MTime.Before(files[j].MTime) })

	return files, oldest
}

// parseBulkName decodes the ripeness horizon and count from a bulk directory
// name, e.g. "60,10,host,localhost" or "timeperiod:late_night,1000".
func (q *Queue) parseBulkName(methodDir, name string) (time.Duration, string, int, bool) {
	parts := strings.Split(name, ",")
	if len(parts) < 2 {
		q.logger.Infof("Skipping invalid bulk directory %s", methodDir)
		return 0, "", 0, false
	}

	var (
		interval time.Duration
		period   string
	)
	if seconds, err := strconv.Atoi(parts[0]); err == nil {
		interval = time.Duration(seconds) * time.Second
	} else if entry := strings.Split(parts[0], ":"); len(entry) == 2 && entry[0] == "timeperiod" {
		period = entry[1]
	} else {
		q.logger.Infof("Skipping invalid bulk directory %s", methodDir)
		return 0, "", 0, false
	}

	count, err := strconv.Atoi(parts[1])
	if err != nil {
		q.logger.Infof("Skipping invalid bulk directory %s", methodDir)
		return 0, "", 0, false
	}

	return interval, period, count, true
}

// removeIfOrphaned removes an empty bulk directory that was not touched for a
// while. A freshly created directory whose first entry is still being written
// stays.
func (q *Queue) removeIfOrphaned(bulkDir string, now time.Time) {
	info, err := os.Stat(bulkDir)
	if err != nil {
		return
	}

	if now.Sub(info.ModTime()) > orphanMaxAge {
		q.logger.Infof("Warning: removing orphaned empty bulk directory %s", bulkDir)
		if err := os.Remove(bulkDir); err != nil {
			q.logger.Infof("    -> Error removing it: %s", err)
		}
	}
}

func listVisible(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Name(), ".") {
			names = append(names, entry.Name())
		}
	}

	return names
}
