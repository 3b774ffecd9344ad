// Package bridge carries commands from the outside world (HTTP, MCP, the
// toolbar relay) to the page that owns a document, and their replies back.
package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/hazyhaar/phrasemark/phrase"
)

// Action names a bridge command.
type Action string

const (
	UpdatePhrases       Action = "updatePhrases"
	ToggleHighlights    Action = "toggleHighlights"
	RemoveHighlights    Action = "removeHighlights"
	ToggleSelectionMode Action = "toggleSelectionMode"
	GetSelectedText     Action = "getSelectedText"
)

// Actions lists every supported action.
var Actions = []Action{UpdatePhrases, ToggleHighlights, RemoveHighlights, ToggleSelectionMode, GetSelectedText}

var (
	// ErrUnknownAction is returned for actions outside Actions.
	ErrUnknownAction = errors.New("bridge: unknown action")
	// ErrNoPage is returned when no page answers to the requested id.
	ErrNoPage = errors.New("bridge: no such page")
)

// Request is one command.
type Request struct {
	Action       Action      `json:"action"`
	PhraseStyles *phrase.Map `json:"phraseStyles,omitempty"`
}

// Response is the reply to a command. getSelectedText answers with
// SelectedText only; the other actions answer with Success.
type Response struct {
	Success      bool    `json:"success,omitempty"`
	SelectedText *string `json:"selectedText,omitempty"`
	Error        string  `json:"error,omitempty"`
}

// Target is a page able to execute commands.
type Target interface {
	// UpdatePhrases re-applies highlights with m.
	UpdatePhrases(ctx context.Context, m *phrase.Map) error
	ToggleHighlights(ctx context.Context) error
	RemoveHighlights(ctx context.Context) error
	ToggleSelectionMode(ctx context.Context) error
	// SelectedText is the trimmed text of the live selection.
	SelectedText(ctx context.Context) (string, error)
}

// Resolver finds the page with the given id.
type Resolver func(pageID string) (Target, bool)

// Dispatch runs req against t. Failures are reported both in the response
// and as the returned error.
func Dispatch(ctx context.Context, t Target, req Request) (Response, error) {
	var err error
	switch req.Action {
	case UpdatePhrases:
		m := req.PhraseStyles
		if m == nil {
			m = phrase.NewMap()
		}
		err = t.UpdatePhrases(ctx, m)
	case ToggleHighlights:
		err = t.ToggleHighlights(ctx)
	case RemoveHighlights:
		err = t.RemoveHighlights(ctx)
	case ToggleSelectionMode:
		err = t.ToggleSelectionMode(ctx)
	case GetSelectedText:
		text, gerr := t.SelectedText(ctx)
		if gerr != nil {
			return Response{Error: gerr.Error()}, gerr
		}
		return Response{SelectedText: &text}, nil
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownAction, req.Action)
	}
	if err != nil {
		return Response{Error: err.Error()}, err
	}
	return Response{Success: true}, nil
}

// Send resolves pageID and dispatches req to it.
func Send(ctx context.Context, resolve Resolver, pageID string, req Request) (Response, error) {
	t, ok := resolve(pageID)
	if !ok {
		err := fmt.Errorf("%w: %s", ErrNoPage, pageID)
		return Response{Error: err.Error()}, err
	}
	return Dispatch(ctx, t, req)
}

// Relay forwards a toolbar-button click to a page: it toggles the
// visibility of the page's highlights.
func Relay(ctx context.Context, resolve Resolver, pageID string) (Response, error) {
	return Send(ctx, resolve, pageID, Request{Action: ToggleHighlights})
}

// Broadcast dispatches req to every target and joins their errors.
func Broadcast(ctx context.Context, targets []Target, req Request) error {
	var errs []error
	for _, t := range targets {
		if _, err := Dispatch(ctx, t, req); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
