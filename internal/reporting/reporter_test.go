// internal/reporting/reporter_test.go
package reporting

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRun(t *testing.T) *Run {
	t.Helper()
	run := NewRun("Test Automation DKM")

	passed := NewTestRecord("test_search", "TC 10671: DKM-Verify the search functionality", []string{"smoke"})
	require.NoError(t, passed.Finalize(OutcomePassed, "", "", "INFO\tStep 1: Login to DKM web url"))
	run.Add(passed)

	failed := NewTestRecord("test_golden_path", "TC 10591: Golden Path", []string{"smoke"})
	require.NoError(t, failed.Finalize(OutcomeFailed, PhaseCall, "Response code is 500 Response text: oops", "ERROR\t<b>not bold</b>"))
	require.NoError(t, failed.AttachArtifact(DiagnosticArtifact{
		Name:    ScreenshotName,
		Path:    "screenshots/call_TC_10591_20250101_120000.png",
		AbsPath: "/tmp/screenshots/call_TC_10591_20250101_120000.png",
	}))
	run.Add(failed)
	return run
}

func TestNew(t *testing.T) {
	w, err := New("html", "report.html", "")
	require.NoError(t, err)
	assert.IsType(t, &HTMLWriter{}, w)
	assert.Equal(t, DefaultTitle, w.(*HTMLWriter).Title)

	w, err = New("junit", "junit.xml", "")
	require.NoError(t, err)
	assert.IsType(t, &JUnitWriter{}, w)

	w, err = New("sarif", "out.sarif", "")
	assert.Error(t, err)
	assert.Nil(t, w)
	assert.Contains(t, err.Error(), "unsupported output format: sarif")
}

func TestHTMLWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "report.html")
	require.NoError(t, NewHTMLWriter(path, "").Write(context.Background(), sampleRun(t)))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	doc, err := goquery.NewDocumentFromReader(f)
	require.NoError(t, err)

	assert.Equal(t, DefaultTitle, doc.Find("title").Text())

	var headers []string
	doc.Find(resultsHeaderSelector).Each(func(_ int, s *goquery.Selection) {
		headers = append(headers, strings.TrimSpace(s.Text()))
	})
	assert.Equal(t, []string{"Result", "Test", "Duration", "Links"}, headers)

	rows := doc.Find("tbody.results-table-row")
	require.Equal(t, 2, rows.Length())

	passedRow := rows.Eq(0)
	assert.Equal(t, 0, passedRow.Find("a.image").Length(), "passing tests carry no screenshot")
	assert.Equal(t, "INFO\tStep 1: Login to DKM web url", passedRow.Find(".description pre").Text())

	failedRow := rows.Eq(1)
	link := failedRow.Find("a.image")
	require.Equal(t, 1, link.Length())
	assert.Equal(t, "Screenshot", link.Text())
	href, _ := link.Attr("href")
	assert.Equal(t, "screenshots/call_TC_10591_20250101_120000.png", href)
	assert.Equal(t, "ERROR\t<b>not bold</b>", failedRow.Find(".description pre").Text(), "log text must be escaped")
	assert.Equal(t, 0, failedRow.Find(".description b").Length())
	assert.Contains(t, failedRow.Text(), "Response code is 500")
}

func TestJUnitWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junit.xml")
	require.NoError(t, NewJUnitWriter(path).Write(context.Background(), sampleRun(t)))

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromFile(path))

	suite := doc.FindElement("//testsuite")
	require.NotNil(t, suite)
	assert.Equal(t, "2", suite.SelectAttrValue("tests", ""))
	assert.Equal(t, "1", suite.SelectAttrValue("failures", ""))
	assert.Equal(t, "0", suite.SelectAttrValue("errors", ""))

	cases := suite.SelectElements("testcase")
	require.Len(t, cases, 2)
	assert.Nil(t, cases[0].SelectElement("failure"))
	failure := cases[1].SelectElement("failure")
	require.NotNil(t, failure)
	assert.Equal(t, "call", failure.SelectAttrValue("type", ""))
	assert.Contains(t, cases[1].SelectElement("system-err").Text(), "[[ATTACHMENT|/tmp/screenshots/")
}

type fakeWriter struct {
	calls *atomic.Int32
	err   error
}

func (f fakeWriter) Write(ctx context.Context, run *Run) error {
	f.calls.Add(1)
	return f.err
}

func TestWriteAll(t *testing.T) {
	var calls atomic.Int32
	run := NewRun("t")

	require.NoError(t, WriteAll(context.Background(), run, fakeWriter{calls: &calls}, fakeWriter{calls: &calls}))
	assert.Equal(t, int32(2), calls.Load())

	boom := errors.New("disk full")
	err := WriteAll(context.Background(), run, fakeWriter{calls: &calls}, fakeWriter{calls: &calls, err: boom})
	assert.ErrorIs(t, err, boom)
}
