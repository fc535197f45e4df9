// internal/pages/dkm_page.go
package pages

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/microsoft/Document-Knowledge-Mining-Solution-Accelerator/internal/config"
	"github.com/microsoft/Document-Knowledge-Mining-Solution-Accelerator/internal/validator"
)

// ErrResponseTimeout is returned when an answer does not finish rendering in time.
var ErrResponseTimeout = errors.New("response did not finish loading")

// maxDocumentSettle bounds how long a document count waits for the list to update.
const maxDocumentSettle = 30 * time.Second

// Driver is the subset of *browser.Session the page object drives.
type Driver interface {
	Click(ctx context.Context, sel string) error
	Fill(ctx context.Context, sel, text string) error
	Press(ctx context.Context, sel, key string) error
	Text(ctx context.Context, sel string) (string, error)
	Value(ctx context.Context, sel string) (string, error)
	ScrollToLast(ctx context.Context, sel string) error
	Visible(ctx context.Context, sel string) (bool, error)
	Count(ctx context.Context, sel string) (int, error)
	WaitVisible(ctx context.Context, sel string) error
	Enabled(ctx context.Context, sel string) (bool, error)
}

// ResponseValidator checks the chat API out of band. *validator.Validator satisfies it.
type ResponseValidator interface {
	Validate(ctx context.Context, question string, expectedStatus int) (*validator.Outcome, error)
}

// DKMPage drives the Document Knowledge Mining UI. It is not safe for
// concurrent use, matching the single shared browser tab.
type DKMPage struct {
	driver    Driver
	validator ResponseValidator
	logger    *zap.Logger
	sel       config.SelectorsConfig
	poll      time.Duration
	timeout   time.Duration

	// Assistant message counts taken before the last question was sent.
	chatBaseline  int
	popupBaseline int

	// Document counts seen on the home page and by the last count.
	homeDocuments int
	lastDocuments int
}

// New binds a page object to driver.
func New(driver Driver, v ResponseValidator, cfg config.PagesConfig, logger *zap.Logger) *DKMPage {
	return &DKMPage{
		driver:    driver,
		validator: v,
		logger:    logger.Named("dkm_page"),
		sel:       cfg.Selectors,
		poll:      cfg.PollInterval,
		timeout:   cfg.ResponseTimeout,
	}
}

// ValidateHomePage checks that the landing page rendered with its document list.
func (p *DKMPage) ValidateHomePage(ctx context.Context) error {
	if err := p.driver.WaitVisible(ctx, p.sel.HomeTitle); err != nil {
		return fmt.Errorf("home page title not displayed: %w", err)
	}
	if err := p.driver.WaitVisible(ctx, p.sel.ChatInput); err != nil {
		return fmt.Errorf("chat input not displayed: %w", err)
	}
	n, err := p.driver.Count(ctx, p.sel.DocumentRow)
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.New("no documents are displayed on the home page")
	}
	p.homeDocuments, p.lastDocuments = n, n
	p.logger.Info("Home page loaded.", zap.Int("documents", n))
	return nil
}

// EnterQuestion types question into the chat input.
func (p *DKMPage) EnterQuestion(ctx context.Context, question string) error {
	n, err := p.driver.Count(ctx, p.sel.AssistantMessage)
	if err != nil {
		return err
	}
	p.chatBaseline = n
	if err := p.driver.Fill(ctx, p.sel.ChatInput, question); err != nil {
		return err
	}
	p.logger.Info("Entered question.", zap.String("question", question))
	return nil
}

// ClickSend submits the chat input.
func (p *DKMPage) ClickSend(ctx context.Context) error {
	return p.driver.Click(ctx, p.sel.SendButton)
}

// SendButtonEnabled reports whether the send button accepts clicks.
func (p *DKMPage) SendButtonEnabled(ctx context.Context) (bool, error) {
	return p.driver.Enabled(ctx, p.sel.SendButton)
}

// ValidateResponseStatus posts question to the chat API and requires a 200.
func (p *DKMPage) ValidateResponseStatus(ctx context.Context, question string) error {
	if p.validator == nil {
		return errors.New("no response validator configured")
	}
	_, err := p.validator.Validate(ctx, question, 200)
	return err
}

// WaitUntilResponseLoaded blocks until a new assistant message exists and no
// loading indicator is visible.
func (p *DKMPage) WaitUntilResponseLoaded(ctx context.Context) error {
	return p.waitForAnswer(ctx, p.sel.AssistantMessage, p.sel.ResponseLoading, p.chatBaseline)
}

// WaitUntilPopupResponseLoaded is WaitUntilResponseLoaded for the details popup.
func (p *DKMPage) WaitUntilPopupResponseLoaded(ctx context.Context) error {
	return p.waitForAnswer(ctx, p.sel.PopupAssistantMessage, p.sel.PopupLoading, p.popupBaseline)
}

func (p *DKMPage) waitForAnswer(parent context.Context, messageSel, loadingSel string, baseline int) error {
	start := time.Now()
	done, err := p.pollUntil(parent, p.timeout, func(ctx context.Context) (bool, error) {
		n, err := p.driver.Count(ctx, messageSel)
		if err != nil || n <= baseline {
			return false, err
		}
		loading, err := p.driver.Visible(ctx, loadingSel)
		return !loading, err
	})
	if err != nil {
		return err
	}
	if !done {
		return fmt.Errorf("%w after %s", ErrResponseTimeout, p.timeout)
	}
	p.logger.Info("Response loaded.", zap.Duration("elapsed", time.Since(start)))
	return nil
}

// pollUntil calls cond at the poll interval until it reports true. It returns
// false with a nil error when timeout expires first.
func (p *DKMPage) pollUntil(parent context.Context, timeout time.Duration, cond func(ctx context.Context) (bool, error)) (bool, error) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	limiter := rate.NewLimiter(rate.Every(p.poll), 1)
	for {
		// Wait also fails early when the next tick would land past the deadline.
		if err := limiter.Wait(ctx); err != nil {
			if parent.Err() != nil {
				return false, parent.Err()
			}
			return false, nil
		}
		done, err := cond(ctx)
		if err != nil {
			return false, err
		}
		if done {
			return true, nil
		}
	}
}

// ClickNewTopic starts a fresh conversation.
func (p *DKMPage) ClickNewTopic(ctx context.Context) error {
	if err := p.driver.Click(ctx, p.sel.NewTopicButton); err != nil {
		return err
	}
	p.chatBaseline = 0
	return nil
}

// FollowUpQuestionText returns the first suggested follow-up question.
func (p *DKMPage) FollowUpQuestionText(ctx context.Context) (string, error) {
	text, err := p.driver.Text(ctx, p.sel.SuggestedQuestion)
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", errors.New("suggested question is empty")
	}
	return text, nil
}

// ClickSuggestedQuestion asks the first suggested follow-up question.
func (p *DKMPage) ClickSuggestedQuestion(ctx context.Context) error {
	n, err := p.driver.Count(ctx, p.sel.AssistantMessage)
	if err != nil {
		return err
	}
	p.chatBaseline = n
	return p.driver.Click(ctx, p.sel.SuggestedQuestion)
}

// EnterSearch filters the document list by text.
func (p *DKMPage) EnterSearch(ctx context.Context, text string) error {
	if err := p.driver.Fill(ctx, p.sel.SearchInput, text); err != nil {
		return err
	}
	if err := p.driver.Press(ctx, p.sel.SearchInput, "Enter"); err != nil {
		return err
	}
	p.logger.Info("Searched documents.", zap.String("query", text))
	return nil
}

// ClickClearAll resets the search and filters.
func (p *DKMPage) ClickClearAll(ctx context.Context) error {
	return p.driver.Click(ctx, p.sel.ClearAllButton)
}

// SelectDocuments ticks the checkbox of every named document. An empty name
// selects the first document in the list.
func (p *DKMPage) SelectDocuments(ctx context.Context, names ...string) error {
	if len(names) == 0 {
		names = []string{""}
	}
	for _, name := range names {
		sel := fmt.Sprintf(p.sel.DocumentCheckbox, XPathLiteral(name))
		if err := p.driver.Click(ctx, sel); err != nil {
			return fmt.Errorf("failed to select document %q: %w", name, err)
		}
	}
	return nil
}

// OpenDetails opens the details popup of the named document, or of the first
// document when name is empty.
func (p *DKMPage) OpenDetails(ctx context.Context, name string) error {
	if err := p.driver.Click(ctx, fmt.Sprintf(p.sel.DetailsButton, XPathLiteral(name))); err != nil {
		return fmt.Errorf("failed to open details of %q: %w", name, err)
	}
	return p.driver.WaitVisible(ctx, p.sel.PopupDialog)
}

// OpenPopupChat switches the details popup to its chat tab.
func (p *DKMPage) OpenPopupChat(ctx context.Context) error {
	if err := p.driver.Click(ctx, p.sel.PopupChatTab); err != nil {
		return err
	}
	return p.driver.WaitVisible(ctx, p.sel.PopupChatInput)
}

// EnterPopupQuestion asks question in the popup chat.
func (p *DKMPage) EnterPopupQuestion(ctx context.Context, question string) error {
	n, err := p.driver.Count(ctx, p.sel.PopupAssistantMessage)
	if err != nil {
		return err
	}
	p.popupBaseline = n
	if err := p.driver.Fill(ctx, p.sel.PopupChatInput, question); err != nil {
		return err
	}
	if err := p.driver.Press(ctx, p.sel.PopupChatInput, "Enter"); err != nil {
		return err
	}
	p.logger.Info("Entered popup question.", zap.String("question", question))
	return nil
}

// ClosePopup dismisses the details popup.
func (p *DKMPage) ClosePopup(ctx context.Context) error {
	return p.driver.Click(ctx, p.sel.ClosePopupButton)
}

// HomeDocumentCount returns the number of documents listed when the home page was validated.
func (p *DKMPage) HomeDocumentCount() int { return p.homeDocuments }

// LastDocumentCount returns the result of the previous document count.
func (p *DKMPage) LastDocumentCount() int { return p.lastDocuments }

// WaitForDocuments polls the document list until want accepts its size, for at
// most the settle timeout. It returns the last count seen and whether want held.
func (p *DKMPage) WaitForDocuments(ctx context.Context, want func(n int) bool) (int, bool, error) {
	n := 0
	ok, err := p.pollUntil(ctx, p.settleTimeout(), func(ctx context.Context) (bool, error) {
		var err error
		n, err = p.driver.Count(ctx, p.sel.DocumentRow)
		if err != nil {
			return false, err
		}
		return want(n), nil
	})
	if err != nil {
		return 0, false, err
	}
	p.lastDocuments = n
	p.logger.Info("Counted documents.", zap.Int("documents", n), zap.Bool("expected", ok))
	return n, ok, nil
}

func (p *DKMPage) settleTimeout() time.Duration {
	if p.timeout < maxDocumentSettle {
		return p.timeout
	}
	return maxDocumentSettle
}

// DetailsButtonCount returns how many documents offer a Details button.
func (p *DKMPage) DetailsButtonCount(ctx context.Context) (int, error) {
	return p.driver.Count(ctx, p.sel.DetailsButtons)
}

// ScrollDocuments scrolls to the last document in the list.
func (p *DKMPage) ScrollDocuments(ctx context.Context) error {
	if err := p.driver.ScrollToLast(ctx, p.sel.DocumentRow); err != nil {
		return fmt.Errorf("failed to scroll the document list: %w", err)
	}
	return nil
}

// PaginationVisible reports whether the document list shows paging controls.
func (p *DKMPage) PaginationVisible(ctx context.Context) (bool, error) {
	return p.driver.Visible(ctx, p.sel.Pagination)
}

// SearchText returns what the search box currently holds.
func (p *DKMPage) SearchText(ctx context.Context) (string, error) {
	return p.driver.Value(ctx, p.sel.SearchInput)
}

// ApplyFilters expands the named left pane filter group and ticks every value.
// Values of one group combine with OR.
func (p *DKMPage) ApplyFilters(ctx context.Context, group string, values ...string) error {
	if len(values) == 0 {
		return errors.New("no filter values given")
	}
	if err := p.driver.Click(ctx, fmt.Sprintf(p.sel.FilterGroup, XPathLiteral(group))); err != nil {
		return fmt.Errorf("failed to expand filter %q: %w", group, err)
	}
	for _, v := range values {
		if err := p.driver.Click(ctx, fmt.Sprintf(p.sel.FilterOption, XPathLiteral(v))); err != nil {
			return fmt.Errorf("failed to apply filter %q: %w", v, err)
		}
	}
	p.logger.Info("Applied filters.", zap.String("group", group), zap.Strings("values", values))
	return nil
}

// SetTimeFilter picks option from the time range dropdown.
func (p *DKMPage) SetTimeFilter(ctx context.Context, option string) error {
	if err := p.driver.Click(ctx, p.sel.TimeFilterDropdown); err != nil {
		return fmt.Errorf("failed to open the time filter: %w", err)
	}
	if err := p.driver.Click(ctx, fmt.Sprintf(p.sel.TimeFilterOption, XPathLiteral(option))); err != nil {
		return fmt.Errorf("failed to pick time filter %q: %w", option, err)
	}
	return nil
}

// OpenPopupTab switches the details popup to the named tab.
func (p *DKMPage) OpenPopupTab(ctx context.Context, name string) error {
	if err := p.driver.Click(ctx, fmt.Sprintf(p.sel.PopupTab, XPathLiteral(name))); err != nil {
		return fmt.Errorf("failed to open popup tab %q: %w", name, err)
	}
	return nil
}

// PopupTabVisible reports whether the details popup shows the named tab.
func (p *DKMPage) PopupTabVisible(ctx context.Context, name string) (bool, error) {
	return p.driver.Visible(ctx, fmt.Sprintf(p.sel.PopupTab, XPathLiteral(name)))
}

// PopupMessageCount returns how many answers the popup chat shows.
func (p *DKMPage) PopupMessageCount(ctx context.Context) (int, error) {
	return p.driver.Count(ctx, p.sel.PopupAssistantMessage)
}

// CitationCount returns how many references or citations the chat answers show.
func (p *DKMPage) CitationCount(ctx context.Context) (int, error) {
	return p.driver.Count(ctx, p.sel.Citation)
}

// XPathLiteral quotes s as an XPath 1.0 string literal. XPath has no escape
// sequences, so strings holding both quote kinds are built with concat().
func XPathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	quoted := make([]string, 0, 2*len(parts)-1)
	for i, part := range parts {
		if i > 0 {
			quoted = append(quoted, `"'"`)
		}
		quoted = append(quoted, "'"+part+"'")
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}
