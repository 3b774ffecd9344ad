package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hazyhaar/phrasemark/phrase"
)

type fakeTarget struct {
	calls    []Action
	phrases  *phrase.Map
	selected string
	fail     error
}

func (f *fakeTarget) UpdatePhrases(_ context.Context, m *phrase.Map) error {
	f.calls = append(f.calls, UpdatePhrases)
	f.phrases = m
	return f.fail
}

func (f *fakeTarget) ToggleHighlights(context.Context) error {
	f.calls = append(f.calls, ToggleHighlights)
	return f.fail
}

func (f *fakeTarget) RemoveHighlights(context.Context) error {
	f.calls = append(f.calls, RemoveHighlights)
	return f.fail
}

func (f *fakeTarget) ToggleSelectionMode(context.Context) error {
	f.calls = append(f.calls, ToggleSelectionMode)
	return f.fail
}

func (f *fakeTarget) SelectedText(context.Context) (string, error) {
	f.calls = append(f.calls, GetSelectedText)
	return f.selected, f.fail
}

func TestDispatch_Actions(t *testing.T) {
	for _, a := range []Action{UpdatePhrases, ToggleHighlights, RemoveHighlights, ToggleSelectionMode} {
		ft := &fakeTarget{}
		resp, err := Dispatch(context.Background(), ft, Request{Action: a})
		if err != nil || !resp.Success {
			t.Fatalf("%s: got (%+v, %v)", a, resp, err)
		}
		if len(ft.calls) != 1 || ft.calls[0] != a {
			t.Fatalf("%s: calls %v", a, ft.calls)
		}
	}
}

func TestDispatch_UpdatePhrasesNilMapIsEmpty(t *testing.T) {
	ft := &fakeTarget{}
	if _, err := Dispatch(context.Background(), ft, Request{Action: UpdatePhrases}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if ft.phrases == nil || ft.phrases.Len() != 0 {
		t.Fatal("nil phrase map should arrive as an empty map")
	}
}

func TestDispatch_SelectedText(t *testing.T) {
	ft := &fakeTarget{selected: "quick"}
	resp, err := Dispatch(context.Background(), ft, Request{Action: GetSelectedText})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	data, _ := json.Marshal(resp)
	if string(data) != `{"selectedText":"quick"}` {
		t.Fatalf("response: got %s", data)
	}
}

func TestDispatch_EmptySelectionStillAnswers(t *testing.T) {
	resp, _ := Dispatch(context.Background(), &fakeTarget{}, Request{Action: GetSelectedText})
	data, _ := json.Marshal(resp)
	if string(data) != `{"selectedText":""}` {
		t.Fatalf("response: got %s", data)
	}
}

func TestDispatch_UnknownAction(t *testing.T) {
	resp, err := Dispatch(context.Background(), &fakeTarget{}, Request{Action: "explode"})
	if !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("err: got %v, want ErrUnknownAction", err)
	}
	if resp.Success || resp.Error == "" {
		t.Fatalf("response: got %+v", resp)
	}
}

func TestRequest_DecodeKeepsOrder(t *testing.T) {
	var req Request
	err := json.Unmarshal([]byte(`{"action":"updatePhrases","phraseStyles":{"zeta":"a","alpha":"b"}}`), &req)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	keys := req.PhraseStyles.Keys()
	if len(keys) != 2 || keys[0] != "zeta" {
		t.Fatalf("keys: got %v", keys)
	}
}

func TestRelay_TogglesPage(t *testing.T) {
	ft := &fakeTarget{}
	resolve := func(id string) (Target, bool) {
		if id == "p1" {
			return ft, true
		}
		return nil, false
	}
	if _, err := Relay(context.Background(), resolve, "p1"); err != nil {
		t.Fatalf("Relay: %v", err)
	}
	if len(ft.calls) != 1 || ft.calls[0] != ToggleHighlights {
		t.Fatalf("calls: got %v", ft.calls)
	}
	if _, err := Relay(context.Background(), resolve, "nope"); !errors.Is(err, ErrNoPage) {
		t.Fatalf("unknown page: got %v, want ErrNoPage", err)
	}
}

func TestBroadcast_JoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	ok, bad := &fakeTarget{}, &fakeTarget{fail: boom}
	err := Broadcast(context.Background(), []Target{ok, bad}, Request{Action: RemoveHighlights})
	if !errors.Is(err, boom) {
		t.Fatalf("err: got %v, want boom", err)
	}
	if len(ok.calls) != 1 {
		t.Fatal("healthy target skipped")
	}
}
