// internal/reporting/junit.go
package reporting

import (
	"context"
	"fmt"
	"strconv"

	"github.com/beevik/etree"
)

// JUnitWriter renders the run as JUnit XML for CI systems.
type JUnitWriter struct {
	Path string
}

func NewJUnitWriter(path string) *JUnitWriter {
	return &JUnitWriter{Path: path}
}

// Build returns the JUnit document for run.
func (w *JUnitWriter) Build(run *Run) *etree.Document {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	s := run.Summary()
	suites := doc.CreateElement("testsuites")
	suite := suites.CreateElement("testsuite")
	suite.CreateAttr("name", run.Title)
	suite.CreateAttr("tests", strconv.Itoa(s.Total))
	suite.CreateAttr("failures", strconv.Itoa(s.Failed))
	suite.CreateAttr("errors", strconv.Itoa(s.Errors))
	suite.CreateAttr("skipped", strconv.Itoa(s.Skipped))
	suite.CreateAttr("time", seconds(run.Duration().Seconds()))
	suite.CreateAttr("timestamp", run.Started.Format("2006-01-02T15:04:05"))
	prop := suite.CreateElement("properties").CreateElement("property")
	prop.CreateAttr("name", "run_id")
	prop.CreateAttr("value", run.ID)

	for _, rec := range run.Records {
		tc := suite.CreateElement("testcase")
		tc.CreateAttr("classname", "dkm")
		tc.CreateAttr("name", rec.Title)
		tc.CreateAttr("time", seconds(rec.Duration.Seconds()))

		switch rec.Outcome() {
		case OutcomeFailed:
			f := tc.CreateElement("failure")
			f.CreateAttr("message", rec.Message())
			f.CreateAttr("type", string(rec.Phase()))
			f.SetText(rec.Message())
		case OutcomeError:
			e := tc.CreateElement("error")
			e.CreateAttr("message", rec.Message())
			e.CreateAttr("type", string(rec.Phase()))
			e.SetText(rec.Message())
		case OutcomeSkipped:
			tc.CreateElement("skipped").CreateAttr("message", rec.Message())
		}

		if log := rec.Log(); log != "" {
			tc.CreateElement("system-out").SetText(log)
		}
		if a := rec.Artifact(); a != nil {
			// Jenkins and GitLab both pick attachments up from this marker.
			tc.CreateElement("system-err").SetText(fmt.Sprintf("[[ATTACHMENT|%s]]", a.AbsPath))
		}
	}
	return doc
}

// Write renders run to w.Path.
func (w *JUnitWriter) Write(ctx context.Context, run *Run) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	doc := w.Build(run)
	doc.Indent(2)

	out, err := openOutput(w.Path)
	if err != nil {
		return err
	}
	if _, err := doc.WriteTo(out); err != nil {
		out.Close()
		return fmt.Errorf("failed to write junit report: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close junit report: %w", err)
	}
	return nil
}

func seconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
