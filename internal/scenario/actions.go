// internal/scenario/actions.go
package scenario

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/microsoft/Document-Knowledge-Mining-Solution-Accelerator/internal/orchestrator"
	"github.com/microsoft/Document-Knowledge-Mining-Solution-Accelerator/internal/pages"
)

type action struct {
	// check validates the arguments at load time, nil when none are needed.
	check func(Args) error
	run   func(t *orchestrator.T, p *pages.DKMPage, a Args) error
}

func needQuestion(a Args) error {
	if a.Question == "" {
		return errors.New("args.question is required")
	}
	return nil
}

var actions = map[string]action{
	"validate_home_page": {run: func(t *orchestrator.T, p *pages.DKMPage, _ Args) error {
		return p.ValidateHomePage(t.Context())
	}},
	"ask": {check: needQuestion, run: ask},
	"enter_question": {run: func(t *orchestrator.T, p *pages.DKMPage, a Args) error {
		return p.EnterQuestion(t.Context(), a.Question)
	}},
	"click_send": {run: func(t *orchestrator.T, p *pages.DKMPage, _ Args) error {
		return p.ClickSend(t.Context())
	}},
	"validate_response": {check: needQuestion, run: func(t *orchestrator.T, p *pages.DKMPage, a Args) error {
		return p.ValidateResponseStatus(t.Context(), a.Question)
	}},
	"wait_until_response_loaded": {run: func(t *orchestrator.T, p *pages.DKMPage, _ Args) error {
		return p.WaitUntilResponseLoaded(t.Context())
	}},
	"new_topic": {run: func(t *orchestrator.T, p *pages.DKMPage, _ Args) error {
		return p.ClickNewTopic(t.Context())
	}},
	"search": {
		check: func(a Args) error {
			if a.Query == "" {
				return errors.New("args.query is required")
			}
			return nil
		},
		run: func(t *orchestrator.T, p *pages.DKMPage, a Args) error {
			return p.EnterSearch(t.Context(), a.Query)
		},
	},
	"clear_all": {run: func(t *orchestrator.T, p *pages.DKMPage, _ Args) error {
		return p.ClickClearAll(t.Context())
	}},
	"select_documents": {run: func(t *orchestrator.T, p *pages.DKMPage, a Args) error {
		return p.SelectDocuments(t.Context(), a.Documents...)
	}},
	"click_suggested_question": {run: clickSuggestedQuestion},
	"open_details": {run: func(t *orchestrator.T, p *pages.DKMPage, a Args) error {
		return p.OpenDetails(t.Context(), a.Document)
	}},
	"popup_chat": {check: needQuestion, run: popupChat},
	"close_popup": {run: func(t *orchestrator.T, p *pages.DKMPage, _ Args) error {
		return p.ClosePopup(t.Context())
	}},
	"check_send_enabled": {
		check: func(a Args) error {
			if a.Enabled == nil {
				return errors.New("args.enabled is required")
			}
			return nil
		},
		run: func(t *orchestrator.T, p *pages.DKMPage, a Args) error {
			enabled, err := p.SendButtonEnabled(t.Context())
			if err != nil {
				return err
			}
			t.CheckEqual(*a.Enabled, enabled, "send button enabled")
			return nil
		},
	},
	"scroll_documents": {run: func(t *orchestrator.T, p *pages.DKMPage, _ Args) error {
		return p.ScrollDocuments(t.Context())
	}},
	"check_pagination": {run: func(t *orchestrator.T, p *pages.DKMPage, _ Args) error {
		visible, err := p.PaginationVisible(t.Context())
		if err != nil {
			return err
		}
		t.Check(visible, "document list shows no pagination controls")
		return nil
	}},
	"check_document_count": {check: checkDocumentCountArgs, run: checkDocumentCount},
	"check_details_buttons": {run: func(t *orchestrator.T, p *pages.DKMPage, _ Args) error {
		ctx := t.Context()
		docs, _, err := p.WaitForDocuments(ctx, func(n int) bool { return n > 0 })
		if err != nil {
			return err
		}
		buttons, err := p.DetailsButtonCount(ctx)
		if err != nil {
			return err
		}
		t.CheckEqual(docs, buttons, "documents with a Details button")
		return nil
	}},
	"check_search_cleared": {run: func(t *orchestrator.T, p *pages.DKMPage, _ Args) error {
		text, err := p.SearchText(t.Context())
		if err != nil {
			return err
		}
		t.CheckEqual("", text, "search box text")
		return nil
	}},
	"apply_filters": {
		check: func(a Args) error {
			if a.Group == "" || len(a.Filters) == 0 {
				return errors.New("args.group and args.filters are required")
			}
			return nil
		},
		run: func(t *orchestrator.T, p *pages.DKMPage, a Args) error {
			return p.ApplyFilters(t.Context(), a.Group, a.Filters...)
		},
	},
	"time_filter": {
		check: func(a Args) error {
			if a.Option == "" {
				return errors.New("args.option is required")
			}
			return nil
		},
		run: func(t *orchestrator.T, p *pages.DKMPage, a Args) error {
			return p.SetTimeFilter(t.Context(), a.Option)
		},
	},
	"open_popup_tab": {
		check: func(a Args) error {
			if a.Tab == "" {
				return errors.New("args.tab is required")
			}
			return nil
		},
		run: func(t *orchestrator.T, p *pages.DKMPage, a Args) error {
			return p.OpenPopupTab(t.Context(), a.Tab)
		},
	},
	"check_popup_tabs": {
		check: func(a Args) error {
			if len(a.Tabs) == 0 {
				return errors.New("args.tabs is required")
			}
			return nil
		},
		run: func(t *orchestrator.T, p *pages.DKMPage, a Args) error {
			for _, tab := range a.Tabs {
				visible, err := p.PopupTabVisible(t.Context(), tab)
				if err != nil {
					return err
				}
				t.Check(visible, "popup tab %q is not displayed", tab)
			}
			return nil
		},
	},
	"check_popup_messages": {run: func(t *orchestrator.T, p *pages.DKMPage, a Args) error {
		least := 1
		if a.Min != nil {
			least = *a.Min
		}
		n, err := p.PopupMessageCount(t.Context())
		if err != nil {
			return err
		}
		t.Check(n >= least, "popup chat shows %d answers, want at least %d", n, least)
		return nil
	}},
	"check_no_citations": {run: func(t *orchestrator.T, p *pages.DKMPage, _ Args) error {
		n, err := p.CitationCount(t.Context())
		if err != nil {
			return err
		}
		t.CheckEqual(0, n, "references or citations in the chat answers")
		return nil
	}},
	"sleep": {
		check: func(a Args) error {
			if a.Duration <= 0 {
				return errors.New("args.duration must be positive")
			}
			return nil
		},
		run: func(t *orchestrator.T, _ *pages.DKMPage, a Args) error {
			timer := time.NewTimer(a.Duration)
			defer timer.Stop()
			select {
			case <-t.Context().Done():
				return t.Context().Err()
			case <-timer.C:
				return nil
			}
		},
	},
}

func perform(t *orchestrator.T, step Step) error {
	a, ok := actions[step.Action]
	if !ok {
		return fmt.Errorf("unknown action %q", step.Action)
	}
	return a.run(t, t.Page(), step.Args)
}

func checkDocumentCountArgs(a Args) error {
	if a.Min == nil && a.Compare == "" {
		return errors.New("args.min or args.compare is required")
	}
	switch a.Compare {
	case "", "fewer", "same", "more":
	default:
		return fmt.Errorf("args.compare must be fewer, same or more, got %q", a.Compare)
	}
	switch a.Against {
	case "", "home", "previous":
	default:
		return fmt.Errorf("args.against must be home or previous, got %q", a.Against)
	}
	return nil
}

// checkDocumentCount waits for the document list to reach the expected size,
// compared with the home page or with the previous count, and records a
// failure when it never does.
func checkDocumentCount(t *orchestrator.T, p *pages.DKMPage, a Args) error {
	base, where := p.HomeDocumentCount(), "on the home page"
	if a.Against == "previous" {
		base, where = p.LastDocumentCount(), "in the previous count"
	}

	var want []string
	if a.Min != nil {
		want = append(want, fmt.Sprintf("at least %d", *a.Min))
	}
	switch a.Compare {
	case "fewer", "more":
		want = append(want, fmt.Sprintf("%s than the %d %s", a.Compare, base, where))
	case "same":
		want = append(want, fmt.Sprintf("the %d %s", base, where))
	}

	n, ok, err := p.WaitForDocuments(t.Context(), func(n int) bool {
		if a.Min != nil && n < *a.Min {
			return false
		}
		switch a.Compare {
		case "fewer":
			return n < base
		case "more":
			return n > base
		case "same":
			return n == base
		}
		return true
	})
	if err != nil {
		return err
	}
	t.Check(ok, "document count = %d, want %s", n, strings.Join(want, " and "))
	return nil
}

// ask is the usual chat round trip: type, send, check the API and wait for the answer.
func ask(t *orchestrator.T, p *pages.DKMPage, a Args) error {
	ctx := t.Context()
	if err := p.EnterQuestion(ctx, a.Question); err != nil {
		return err
	}
	if err := p.ClickSend(ctx); err != nil {
		return err
	}
	if a.validateResponse() {
		if err := p.ValidateResponseStatus(ctx, a.Question); err != nil {
			return err
		}
	}
	return p.WaitUntilResponseLoaded(ctx)
}

func clickSuggestedQuestion(t *orchestrator.T, p *pages.DKMPage, a Args) error {
	ctx := t.Context()
	question, err := p.FollowUpQuestionText(ctx)
	if err != nil {
		return err
	}
	t.Logf("Follow-up question: %s", question)
	if err := p.ClickSuggestedQuestion(ctx); err != nil {
		return err
	}
	if a.validateResponse() {
		if err := p.ValidateResponseStatus(ctx, question); err != nil {
			return err
		}
	}
	return p.WaitUntilResponseLoaded(ctx)
}

func popupChat(t *orchestrator.T, p *pages.DKMPage, a Args) error {
	ctx := t.Context()
	if err := p.OpenPopupChat(ctx); err != nil {
		return err
	}
	if err := p.EnterPopupQuestion(ctx, a.Question); err != nil {
		return err
	}
	if a.validateResponse() {
		if err := p.ValidateResponseStatus(ctx, a.Question); err != nil {
			return err
		}
	}
	return p.WaitUntilPopupResponseLoaded(ctx)
}
