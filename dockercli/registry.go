// ABOUTME: Best-effort Docker Hub tag lookup used to inform base-image choices.
// ABOUTME: Any failure yields an empty tag list; correctness never depends on this.
package dockercli

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const hubBaseURL = "https://hub.docker.com/v2/repositories"

// TagClient fetches verified tags for an image from Docker Hub.
type TagClient struct {
	http    *http.Client
	baseURL string
}

// NewTagClient creates a TagClient with a short request timeout.
func NewTagClient() *TagClient {
	return &TagClient{
		http:    &http.Client{Timeout: 10 * time.Second},
		baseURL: hubBaseURL,
	}
}

// NewTagClientWith creates a TagClient against a custom endpoint (tests).
func NewTagClientWith(hc *http.Client, baseURL string) *TagClient {
	return &TagClient{http: hc, baseURL: strings.TrimRight(baseURL, "/")}
}

type tagPage struct {
	Results []struct {
		Name string `json:"name"`
	} `json:"results"`
}

// Tags returns up to one page of tag names for the image, most recent
// first. Library images ("python") resolve under the "library" namespace.
// Every failure path returns nil.
func (t *TagClient) Tags(ctx context.Context, image string) []string {
	repo := image
	if !strings.Contains(repo, "/") {
		repo = "library/" + repo
	}
	// Registry-qualified names (ghcr.io/..., quay.io/...) are not on Hub.
	if parts := strings.SplitN(repo, "/", 2); strings.Contains(parts[0], ".") {
		return nil
	}

	u := fmt.Sprintf("%s/%s/tags?page_size=%d&ordering=last_updated", t.baseURL, url.PathEscape(repo), 50)
	u = strings.ReplaceAll(u, "%2F", "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil
	}
	resp, err := t.http.Do(req)
	if err != nil {
		log.Printf("component=dockercli.tags action=lookup_failed image=%s err=%v", image, err)
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil
	}

	var page tagPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil
	}
	tags := make([]string, 0, len(page.Results))
	for _, r := range page.Results {
		tags = append(tags, r.Name)
	}
	return tags
}
