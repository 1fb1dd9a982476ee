// SPDX-License-Identifier: Apache-2.0

package braintrust

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/d-gangz/glowing-braintrust/internal/eval"
	"github.com/d-gangz/glowing-braintrust/internal/invoke"
)

const datasetPageSize = 100

type datasetList struct {
	Objects []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"objects"`
}

type fetchRequest struct {
	Limit  int    `json:"limit"`
	Cursor string `json:"cursor,omitempty"`
}

type fetchResponse struct {
	Events []datasetEvent `json:"events"`
	Cursor string         `json:"cursor"`
}

type datasetEvent struct {
	ID       string          `json:"id"`
	Input    json.RawMessage `json:"input"`
	Expected any             `json:"expected"`
	Metadata map[string]any  `json:"metadata"`
}

// Dataset returns a lazily fetched remote dataset. It is read on the first
// Load and cached afterwards.
func (c *Client) Dataset(project, name string) *eval.Lazy {
	return eval.NewLazy(func(ctx context.Context) ([]eval.Case, error) {
		return c.FetchDataset(ctx, project, name)
	})
}

// FetchDataset reads every record of the named dataset.
func (c *Client) FetchDataset(ctx context.Context, project, name string) ([]eval.Case, error) {
	id, err := c.datasetID(ctx, project, name)
	if err != nil {
		return nil, err
	}

	var cases []eval.Case
	cursor := ""
	for {
		var page fetchResponse
		if err := c.getJSON(ctx, http.MethodPost, "/v1/dataset/"+url.PathEscape(id)+"/fetch",
			fetchRequest{Limit: datasetPageSize, Cursor: cursor}, &page); err != nil {
			return nil, fmt.Errorf("fetch dataset %s/%s: %w", project, name, err)
		}
		for _, ev := range page.Events {
			cases = append(cases, eval.Case{
				ID:       ev.ID,
				Input:    inputOf(ev.Input),
				Expected: ev.Expected,
				Metadata: ev.Metadata,
			})
		}
		if page.Cursor == "" || len(page.Events) == 0 {
			break
		}
		cursor = page.Cursor
	}

	c.logger.Info("dataset fetched",
		"project", project,
		"dataset", name,
		"records", len(cases),
	)
	return cases, nil
}

func (c *Client) datasetID(ctx context.Context, project, name string) (string, error) {
	q := url.Values{}
	q.Set("project_name", project)
	q.Set("dataset_name", name)

	var list datasetList
	if err := c.getJSON(ctx, http.MethodGet, "/v1/dataset?"+q.Encode(), nil, &list); err != nil {
		return "", fmt.Errorf("look up dataset %s/%s: %w", project, name, err)
	}
	for _, obj := range list.Objects {
		if obj.Name == name || name == "" {
			return obj.ID, nil
		}
	}
	return "", fmt.Errorf("dataset %s/%s not found", project, name)
}

func (c *Client) getJSON(ctx context.Context, method, path string, payload, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.do(ctx, method, path, payload, false)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// inputOf flattens a dataset input into an invocation record. Object members
// that are not strings become compact JSON; a scalar input is kept under
// "input".
func inputOf(raw json.RawMessage) invoke.Input {
	if trimmed := strings.TrimSpace(string(raw)); trimmed == "" || trimmed == "null" {
		return invoke.Input{}
	}

	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err == nil && obj != nil {
		return invoke.Input(invoke.Record(obj).Fields())
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return invoke.Input{"input": s}
	}
	return invoke.Input{"input": string(raw)}
}
