package dedup

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

// GistStore keeps the processed-id list in a single file of a GitHub gist.
type GistStore struct {
	client   *resty.Client
	gistID   string
	filename string
}

var _ Store = (*GistStore)(nil)

type gistResponse struct {
	Files map[string]struct {
		Content   string `json:"content"`
		Truncated bool   `json:"truncated"`
	} `json:"files"`
}

type gistPatch struct {
	Files map[string]gistFile `json:"files"`
}

type gistFile struct {
	Content string `json:"content"`
}

// NewGistStore creates a gist-backed store authenticated with a personal
// access token.
func NewGistStore(token, gistID, filename string) *GistStore {
	return &GistStore{
		client: resty.New().
			SetBaseURL("https://api.github.com").
			SetTimeout(30*time.Second).
			SetHeader("Accept", "application/vnd.github+json").
			SetHeader("User-Agent", "poll-detector-bot/1.0").
			SetAuthToken(token),
		gistID:   gistID,
		filename: filename,
	}
}

// Fetch downloads the gist and parses the id file. A missing file inside an
// existing gist yields an empty set; transport and API errors are returned
// to the caller, which treats them as an empty snapshot.
func (g *GistStore) Fetch(ctx context.Context) (map[string]struct{}, error) {
	resp, err := g.client.R().
		SetContext(ctx).
		Get("/gists/" + g.gistID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch gist %s: %w", g.gistID, err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("gist API returned status %d: %s", resp.StatusCode(), string(resp.Body()))
	}

	var gist gistResponse
	if err := json.Unmarshal(resp.Body(), &gist); err != nil {
		return nil, fmt.Errorf("failed to parse gist response: %w", err)
	}

	file, ok := gist.Files[g.filename]
	if !ok {
		logrus.Infof("Gist %s has no file %s yet, starting with an empty id set", g.gistID, g.filename)
		return map[string]struct{}{}, nil
	}
	if file.Truncated {
		return nil, fmt.Errorf("gist file %s is truncated, refusing to use a partial id list", g.filename)
	}

	ids := parseIDList(file.Content)
	logrus.Infof("Fetched %d processed tweet ids from gist", len(ids))
	return ids, nil
}

// Update writes back the sorted union of the snapshot and the new ids.
func (g *GistStore) Update(ctx context.Context, existing map[string]struct{}, newIDs []string) error {
	patch := gistPatch{
		Files: map[string]gistFile{
			g.filename: {Content: encodeIDList(existing, newIDs)},
		},
	}

	resp, err := g.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(patch).
		Patch("/gists/" + g.gistID)
	if err != nil {
		return fmt.Errorf("failed to update gist %s: %w", g.gistID, err)
	}
	if resp.StatusCode() != 200 {
		return fmt.Errorf("gist API returned status %d: %s", resp.StatusCode(), string(resp.Body()))
	}

	logrus.Infof("Updated gist with %d newly processed tweet ids", len(newIDs))
	return nil
}

// baseURL overrides the API endpoint, used by tests.
func (g *GistStore) baseURL(url string) *GistStore {
	g.client.SetBaseURL(url)
	return g
}
