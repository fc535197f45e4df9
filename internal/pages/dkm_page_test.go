// internal/pages/dkm_page_test.go
package pages

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/microsoft/Document-Knowledge-Mining-Solution-Accelerator/internal/config"
	"github.com/microsoft/Document-Knowledge-Mining-Solution-Accelerator/internal/validator"
)

// fakeDriver records actions and answers queries from scripted state.
type fakeDriver struct {
	mu      sync.Mutex
	actions []string
	counts  map[string][]int
	visible map[string][]bool
	texts   map[string]string
	values  map[string]string
	enabled map[string]bool
	failOn  string
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		counts:  map[string][]int{},
		visible: map[string][]bool{},
		texts:   map[string]string{},
		values:  map[string]string{},
		enabled: map[string]bool{},
	}
}

func (f *fakeDriver) record(action string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, action)
	if f.failOn != "" && strings.HasPrefix(action, f.failOn) {
		return errors.New("element not found")
	}
	return nil
}

func (f *fakeDriver) Click(ctx context.Context, sel string) error { return f.record("click " + sel) }
func (f *fakeDriver) Fill(ctx context.Context, sel, text string) error {
	return f.record("fill " + sel + " = " + text)
}
func (f *fakeDriver) Press(ctx context.Context, sel, key string) error {
	return f.record("press " + sel + " " + key)
}
func (f *fakeDriver) WaitVisible(ctx context.Context, sel string) error {
	return f.record("wait " + sel)
}

func (f *fakeDriver) Text(ctx context.Context, sel string) (string, error) {
	return f.texts[sel], f.record("text " + sel)
}

func (f *fakeDriver) Value(ctx context.Context, sel string) (string, error) {
	return f.values[sel], f.record("value " + sel)
}

func (f *fakeDriver) ScrollToLast(ctx context.Context, sel string) error {
	return f.record("scroll " + sel)
}

func (f *fakeDriver) Enabled(ctx context.Context, sel string) (bool, error) {
	return f.enabled[sel], f.record("enabled " + sel)
}

// Count and Visible pop scripted values and repeat the last one.
func (f *fakeDriver) Count(ctx context.Context, sel string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seq := f.counts[sel]
	if len(seq) == 0 {
		return 0, nil
	}
	v := seq[0]
	if len(seq) > 1 {
		f.counts[sel] = seq[1:]
	}
	return v, nil
}

func (f *fakeDriver) Visible(ctx context.Context, sel string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seq := f.visible[sel]
	if len(seq) == 0 {
		return false, nil
	}
	v := seq[0]
	if len(seq) > 1 {
		f.visible[sel] = seq[1:]
	}
	return v, nil
}

type fakeValidator struct {
	questions []string
	err       error
}

func (v *fakeValidator) Validate(ctx context.Context, question string, expected int) (*validator.Outcome, error) {
	v.questions = append(v.questions, question)
	return &validator.Outcome{StatusCode: expected}, v.err
}

func newPage(t *testing.T, d Driver, v ResponseValidator) (*DKMPage, config.SelectorsConfig) {
	t.Helper()
	cfg := config.NewDefaultConfig().Pages()
	cfg.PollInterval = 5 * time.Millisecond
	cfg.ResponseTimeout = time.Second
	return New(d, v, cfg, zaptest.NewLogger(t)), cfg.Selectors
}

func TestValidateHomePage(t *testing.T) {
	d := newFakeDriver()
	p, sel := newPage(t, d, nil)

	d.counts[sel.DocumentRow] = []int{12}
	require.NoError(t, p.ValidateHomePage(context.Background()))
	assert.Equal(t, []string{"wait " + sel.HomeTitle, "wait " + sel.ChatInput}, d.actions)

	d.counts[sel.DocumentRow] = []int{0}
	err := p.ValidateHomePage(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no documents are displayed")
}

func TestAskAndWaitForResponse(t *testing.T) {
	d := newFakeDriver()
	v := &fakeValidator{}
	p, sel := newPage(t, d, v)
	ctx := context.Background()

	// Two answers on screen before asking, a third appears while still loading.
	d.counts[sel.AssistantMessage] = []int{2, 2, 3}
	d.visible[sel.ResponseLoading] = []bool{true, false}

	require.NoError(t, p.EnterQuestion(ctx, "What are the main factors?"))
	require.NoError(t, p.ClickSend(ctx))
	require.NoError(t, p.ValidateResponseStatus(ctx, "What are the main factors?"))
	require.NoError(t, p.WaitUntilResponseLoaded(ctx))

	assert.Equal(t, []string{
		"fill " + sel.ChatInput + " = What are the main factors?",
		"click " + sel.SendButton,
	}, d.actions)
	assert.Equal(t, []string{"What are the main factors?"}, v.questions)
}

func TestWaitUntilResponseLoaded_Timeout(t *testing.T) {
	d := newFakeDriver()
	p, sel := newPage(t, d, nil)
	p.timeout = 30 * time.Millisecond

	d.counts[sel.AssistantMessage] = []int{1}
	require.NoError(t, p.EnterQuestion(context.Background(), "q"))

	err := p.WaitUntilResponseLoaded(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrResponseTimeout)
}

func TestWaitUntilResponseLoaded_Canceled(t *testing.T) {
	d := newFakeDriver()
	p, _ := newPage(t, d, nil)
	p.chatBaseline = 10

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.WaitUntilResponseLoaded(ctx)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrResponseTimeout)
}

func TestValidateResponseStatus_PropagatesFailure(t *testing.T) {
	statusErr := &validator.StatusError{StatusCode: 500, Expected: 200, Text: "oops"}
	p, _ := newPage(t, newFakeDriver(), &fakeValidator{err: statusErr})

	err := p.ValidateResponseStatus(context.Background(), "q")
	assert.ErrorIs(t, err, statusErr)

	p, _ = newPage(t, newFakeDriver(), nil)
	assert.Error(t, p.ValidateResponseStatus(context.Background(), "q"))
}

func TestSuggestedQuestions(t *testing.T) {
	d := newFakeDriver()
	p, sel := newPage(t, d, nil)
	ctx := context.Background()

	d.texts[sel.SuggestedQuestion] = "How did housing costs change?"
	text, err := p.FollowUpQuestionText(ctx)
	require.NoError(t, err)
	assert.Equal(t, "How did housing costs change?", text)

	d.counts[sel.AssistantMessage] = []int{4}
	require.NoError(t, p.ClickSuggestedQuestion(ctx))
	assert.Equal(t, 4, p.chatBaseline)

	require.NoError(t, p.ClickNewTopic(ctx))
	assert.Zero(t, p.chatBaseline)

	d.texts[sel.SuggestedQuestion] = ""
	_, err = p.FollowUpQuestionText(ctx)
	assert.Error(t, err)
}

func TestSearchAndSelectDocuments(t *testing.T) {
	d := newFakeDriver()
	p, sel := newPage(t, d, nil)
	ctx := context.Background()

	require.NoError(t, p.EnterSearch(ctx, "housing"))
	require.NoError(t, p.SelectDocuments(ctx, "Housing Report.pdf"))
	require.NoError(t, p.ClickClearAll(ctx))

	assert.Equal(t, []string{
		"fill " + sel.SearchInput + " = housing",
		"press " + sel.SearchInput + " Enter",
		"click (//div[contains(@class,'documentCard')][.//*[contains(normalize-space(), 'Housing Report.pdf')]]//input[@type='checkbox'])[1]",
		"click " + sel.ClearAllButton,
	}, d.actions)

	d.failOn = "click ("
	err := p.SelectDocuments(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `failed to select document ""`)
}

func TestPopupChat(t *testing.T) {
	d := newFakeDriver()
	p, sel := newPage(t, d, nil)
	ctx := context.Background()

	d.counts[sel.PopupAssistantMessage] = []int{0, 1}
	require.NoError(t, p.OpenDetails(ctx, ""))
	require.NoError(t, p.OpenPopupChat(ctx))
	require.NoError(t, p.EnterPopupQuestion(ctx, "Summarize this contract"))
	require.NoError(t, p.WaitUntilPopupResponseLoaded(ctx))
	require.NoError(t, p.ClosePopup(ctx))

	assert.Equal(t, []string{
		"click (//div[contains(@class,'documentCard')][.//*[contains(normalize-space(), '')]]//button[normalize-space()='Details'])[1]",
		"wait " + sel.PopupDialog,
		"click " + sel.PopupChatTab,
		"wait " + sel.PopupChatInput,
		"fill " + sel.PopupChatInput + " = Summarize this contract",
		"press " + sel.PopupChatInput + " Enter",
		"click " + sel.ClosePopupButton,
	}, d.actions)
}

func TestSendButtonEnabled(t *testing.T) {
	d := newFakeDriver()
	p, sel := newPage(t, d, nil)

	enabled, err := p.SendButtonEnabled(context.Background())
	require.NoError(t, err)
	assert.False(t, enabled)

	d.enabled[sel.SendButton] = true
	enabled, err = p.SendButtonEnabled(context.Background())
	require.NoError(t, err)
	assert.True(t, enabled)
}

func TestXPathLiteral(t *testing.T) {
	assert.Equal(t, "'plain'", XPathLiteral("plain"))
	assert.Equal(t, `"it's"`, XPathLiteral("it's"))
	assert.Equal(t, `concat('say "it', "'", 's"')`, XPathLiteral(`say "it's"`))
	assert.Equal(t, "''", XPathLiteral(""))
}

func TestWaitForDocuments(t *testing.T) {
	d := newFakeDriver()
	p, sel := newPage(t, d, nil)
	ctx := context.Background()

	d.counts[sel.DocumentRow] = []int{40}
	require.NoError(t, p.ValidateHomePage(ctx))
	assert.Equal(t, 40, p.HomeDocumentCount())

	// The search result list replaces the full list after two polls.
	d.counts[sel.DocumentRow] = []int{40, 40, 6}
	n, ok, err := p.WaitForDocuments(ctx, func(n int) bool { return n < p.HomeDocumentCount() })
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 6, n)
	assert.Equal(t, 6, p.LastDocumentCount())

	p.timeout = 30 * time.Millisecond
	n, ok, err = p.WaitForDocuments(ctx, func(n int) bool { return n == 40 })
	require.NoError(t, err, "an unmet expectation is reported through ok")
	assert.False(t, ok)
	assert.Equal(t, 6, n)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, _, err = p.WaitForDocuments(canceled, func(int) bool { return false })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDocumentListOperations(t *testing.T) {
	d := newFakeDriver()
	p, sel := newPage(t, d, nil)
	ctx := context.Background()

	d.counts[sel.DetailsButtons] = []int{7}
	n, err := p.DetailsButtonCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	d.visible[sel.Pagination] = []bool{true}
	visible, err := p.PaginationVisible(ctx)
	require.NoError(t, err)
	assert.True(t, visible)

	d.values[sel.SearchInput] = "Housing Report"
	text, err := p.SearchText(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Housing Report", text)

	require.NoError(t, p.ScrollDocuments(ctx))
	assert.Equal(t, []string{"value " + sel.SearchInput, "scroll " + sel.DocumentRow}, d.actions)

	d.failOn = "scroll"
	err = p.ScrollDocuments(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to scroll the document list")
}

func TestFilters(t *testing.T) {
	d := newFakeDriver()
	p, sel := newPage(t, d, nil)
	ctx := context.Background()

	require.NoError(t, p.ApplyFilters(ctx, "Document Type", "pdf", "docx"))
	require.NoError(t, p.SetTimeFilter(ctx, "Past 24 hours"))
	assert.Equal(t, []string{
		"click " + fmt.Sprintf(sel.FilterGroup, "'Document Type'"),
		"click " + fmt.Sprintf(sel.FilterOption, "'pdf'"),
		"click " + fmt.Sprintf(sel.FilterOption, "'docx'"),
		"click " + sel.TimeFilterDropdown,
		"click " + fmt.Sprintf(sel.TimeFilterOption, "'Past 24 hours'"),
	}, d.actions)

	assert.Error(t, p.ApplyFilters(ctx, "Document Type"), "at least one value is needed")

	d.failOn = "click ("
	err := p.ApplyFilters(ctx, "Keywords", "Housing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"Housing"`)
}

func TestPopupTabsAndCitations(t *testing.T) {
	d := newFakeDriver()
	p, sel := newPage(t, d, nil)
	ctx := context.Background()

	aiTab := fmt.Sprintf(sel.PopupTab, "'AI Knowledge'")
	d.visible[aiTab] = []bool{true}
	visible, err := p.PopupTabVisible(ctx, "AI Knowledge")
	require.NoError(t, err)
	assert.True(t, visible)

	require.NoError(t, p.OpenPopupTab(ctx, "Document"))
	assert.Equal(t, []string{"click " + fmt.Sprintf(sel.PopupTab, "'Document'")}, d.actions)

	d.counts[sel.PopupAssistantMessage] = []int{2}
	n, err := p.PopupMessageCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	d.counts[sel.Citation] = []int{0}
	n, err = p.CitationCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
