package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/kbukum/devflow/event"
	"github.com/kbukum/devflow/logger"
	"github.com/kbukum/devflow/runstate"
)

// ReportContentType is the content type of archived reports.
const ReportContentType = "application/json"

const reportExt = ".json"

// ReportPath returns the object path of a run report: <prefix>/<flowID>/<runID>.json.
func ReportPath(prefix, flowID, runID string) string {
	return path.Join(prefix, flowID, runID+reportExt)
}

// IsReportPath reports whether p names an archived report.
func IsReportPath(p string) bool {
	return strings.HasSuffix(p, reportExt)
}

// Archiver writes the final report of every run to a Storage. It is an
// event subscriber; upload failures are logged and dropped.
type Archiver struct {
	storage Storage
	prefix  string
	log     *logger.Logger
	timeout time.Duration
}

// NewArchiver creates an archiver writing under prefix. An empty prefix
// uses DefaultPrefix.
func NewArchiver(s Storage, prefix string, log *logger.Logger) *Archiver {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Archiver{storage: s, prefix: prefix, log: log.WithComponent("archiver"), timeout: 30 * time.Second}
}

// Handle implements event.Subscriber.
func (a *Archiver) Handle(e event.Event) {
	if e.Type != event.RunFinished || e.Report == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	log := a.log.WithRun(e.RunID, e.FlowID)
	start := time.Now()
	p, err := a.Save(ctx, e.Report)
	if err != nil {
		log.Warn("report not archived", logger.ErrorFields("archive-report", err))
		return
	}
	fields := logger.DurationFields("archive-report", time.Since(start))
	fields["path"] = p
	log.Debug("report archived", fields)
}

// Save uploads rep and returns its object path.
func (a *Archiver) Save(ctx context.Context, rep *runstate.Report) (string, error) {
	if rep.RunID == "" || rep.FlowID == "" {
		return "", fmt.Errorf("archive: report needs a run id and a flow id")
	}
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return "", fmt.Errorf("archive: encode report: %w", err)
	}
	p := ReportPath(a.prefix, rep.FlowID, rep.RunID)
	if err := a.storage.Upload(ctx, p, bytes.NewReader(data)); err != nil {
		return "", err
	}
	return p, nil
}

// Load reads an archived report back.
func (a *Archiver) Load(ctx context.Context, flowID, runID string) (*runstate.Report, error) {
	rc, err := a.storage.Download(ctx, ReportPath(a.prefix, flowID, runID))
	if err != nil {
		return nil, err
	}
	defer rc.Close() //nolint:errcheck

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("archive: read report: %w", err)
	}
	var rep runstate.Report
	if err := json.Unmarshal(data, &rep); err != nil {
		return nil, fmt.Errorf("archive: decode report: %w", err)
	}
	return &rep, nil
}

// Runs lists the run ids archived for flowID, sorted.
func (a *Archiver) Runs(ctx context.Context, flowID string) ([]string, error) {
	dir := path.Join(a.prefix, flowID) + "/"
	files, err := a.storage.List(ctx, dir)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(files))
	for _, f := range files {
		rest := strings.TrimPrefix(f.Path, dir)
		if strings.Contains(rest, "/") || !IsReportPath(rest) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(rest, reportExt))
	}
	sort.Strings(ids)
	return ids, nil
}

var _ event.Subscriber = (*Archiver)(nil)
