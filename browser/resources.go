package browser

import (
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// blockResources fails requests whose resource type is listed in types.
// The returned router stops with the page.
func blockResources(page *rod.Page, types []string) (*rod.HijackRouter, error) {
	set := make(map[string]bool, len(types))
	for _, t := range types {
		set[strings.ToLower(strings.TrimSpace(t))] = true
	}
	router := page.HijackRequests()
	err := router.Add("*", "", func(h *rod.Hijack) {
		if blocked(set, string(h.Request.Type())) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	if err != nil {
		return nil, err
	}
	go router.Run()
	return router, nil
}

// blocked maps CDP resource types onto the configured names.
func blocked(set map[string]bool, resType string) bool {
	t := strings.ToLower(resType)
	switch t {
	case "image":
		return set["images"]
	case "font":
		return set["fonts"]
	case "media":
		return set["media"]
	case "stylesheet":
		return set["stylesheets"]
	}
	return set[t]
}
