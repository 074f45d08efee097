// Package worklog is the narrow capability interface for the external
// worklog CLI (spec §6). The core never parses the backing data file —
// only this interface's CLI-backed implementation does, and only by
// shelling out.
package worklog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Comment is one entry in a work item's ordered comment history.
type Comment struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Item is the subset of the external WorkItem record the core consumes.
type Item struct {
	ID                string    `json:"id"`
	Title             string    `json:"title"`
	Description       string    `json:"description"`
	Status            string    `json:"status"`
	Stage             string    `json:"stage"`
	Assignee          string    `json:"assignee"`
	Priority          int       `json:"priority"`
	Tags              []string  `json:"tags"`
	UpdatedAt         time.Time `json:"updated_at"`
	Comments          []Comment `json:"comments"`
	Children          []string  `json:"children"`
	IssueType         string    `json:"issue_type"`
	GitHubIssueNumber int       `json:"github_issue_number,omitempty"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
}

// DescriptionLength returns len(Description) without callers needing
// to know the field is sometimes absent from older worklog responses.
func (i Item) DescriptionLength() int {
	return len(i.Description)
}

// LatestComment returns the most recent comment, if any.
func (i Item) LatestComment() (Comment, bool) {
	if len(i.Comments) == 0 {
		return Comment{}, false
	}
	return i.Comments[len(i.Comments)-1], true
}

// UpdateFields is the partial-update payload for Update.
type UpdateFields struct {
	Status               string
	Stage                string
	Assignee             string
	Priority             *int
	Description          string
	NeedsProducerReview  *bool
}

// Client is the capability interface the engine/poller depend on. Tests
// substitute a fake implementation instead of shelling out.
type Client interface {
	Show(ctx context.Context, id string) (Item, error)
	List(ctx context.Context, opts ListOptions) ([]Item, error)
	Next(ctx context.Context, n int) ([]Item, error)
	InProgress(ctx context.Context) ([]Item, error)
	Update(ctx context.Context, id string, fields UpdateFields) error
	AddTags(ctx context.Context, id string, tags []string) error
	CommentAdd(ctx context.Context, id, body, author string) error
	Close(ctx context.Context, ids []string, reason string) error
}

// ListOptions filters the `list` subcommand.
type ListOptions struct {
	Status   string
	Stage    string
	Tags     string
	Assignee string
	Parent   string
	N        int
}

// CLIClient shells out to the configured worklog binary.
type CLIClient struct {
	Bin string
}

// NewCLIClient constructs a CLIClient for the given binary name/path.
func NewCLIClient(bin string) *CLIClient {
	return &CLIClient{Bin: bin}
}

func (c *CLIClient) run(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, c.Bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("worklog CLI %v: %w: %s", args, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// Show implements Client.
func (c *CLIClient) Show(ctx context.Context, id string) (Item, error) {
	out, err := c.run(ctx, "show", id, "--json")
	if err != nil {
		return Item{}, err
	}
	var item Item
	if err := json.Unmarshal(out, &item); err != nil {
		return Item{}, fmt.Errorf("parse worklog show output: %w", err)
	}
	return item, nil
}

// List implements Client. It tolerates both a bare list and a
// dict-wrapped `{"items": [...]}` response shape, deduping by id.
func (c *CLIClient) List(ctx context.Context, opts ListOptions) ([]Item, error) {
	args := []string{"list", "--json"}
	if opts.Status != "" {
		args = append(args, "--status", opts.Status)
	}
	if opts.Stage != "" {
		args = append(args, "--stage", opts.Stage)
	}
	if opts.Tags != "" {
		args = append(args, "--tags", opts.Tags)
	}
	if opts.Assignee != "" {
		args = append(args, "--assignee", opts.Assignee)
	}
	if opts.Parent != "" {
		args = append(args, "--parent", opts.Parent)
	}
	if opts.N > 0 {
		args = append(args, "-n", fmt.Sprintf("%d", opts.N))
	}
	out, err := c.run(ctx, args...)
	if err != nil {
		return nil, err
	}
	return parseItemList(out)
}

// Next implements Client.
func (c *CLIClient) Next(ctx context.Context, n int) ([]Item, error) {
	args := []string{"next", "--json"}
	if n > 0 {
		args = append(args, "-n", fmt.Sprintf("%d", n))
	}
	out, err := c.run(ctx, args...)
	if err != nil {
		return nil, err
	}
	return parseItemList(out)
}

// InProgress implements Client.
func (c *CLIClient) InProgress(ctx context.Context) ([]Item, error) {
	out, err := c.run(ctx, "in_progress", "--json")
	if err != nil {
		return nil, err
	}
	return parseItemList(out)
}

// Update implements Client.
func (c *CLIClient) Update(ctx context.Context, id string, fields UpdateFields) error {
	args := []string{"update", id, "--json"}
	if fields.Status != "" {
		args = append(args, "--status", fields.Status)
	}
	if fields.Stage != "" {
		args = append(args, "--stage", fields.Stage)
	}
	if fields.Assignee != "" {
		args = append(args, "--assignee", fields.Assignee)
	}
	if fields.Priority != nil {
		args = append(args, "--priority", fmt.Sprintf("%d", *fields.Priority))
	}
	if fields.Description != "" {
		args = append(args, "--description", fields.Description)
	}
	if fields.NeedsProducerReview != nil {
		args = append(args, "--needs-producer-review", fmt.Sprintf("%t", *fields.NeedsProducerReview))
	}
	_, err := c.run(ctx, args...)
	return err
}

// AddTags implements Client by layering new tags onto an item's
// existing set through the `update --add-tags` flag; tags already
// present are left alone (worklog CLI's own dedup applies). A no-op
// for an empty tags slice saves a round trip.
func (c *CLIClient) AddTags(ctx context.Context, id string, tags []string) error {
	if len(tags) == 0 {
		return nil
	}
	_, err := c.run(ctx, "update", id, "--add-tags", strings.Join(tags, ","), "--json")
	return err
}

// CommentAdd implements Client.
func (c *CLIClient) CommentAdd(ctx context.Context, id, body, author string) error {
	_, err := c.run(ctx, "comment", "add", id, "--comment", body, "--author", author, "--json")
	return err
}

// Close implements Client.
func (c *CLIClient) Close(ctx context.Context, ids []string, reason string) error {
	args := append([]string{"close"}, ids...)
	args = append(args, "--reason", reason, "--json")
	_, err := c.run(ctx, args...)
	return err
}

func parseItemList(out []byte) ([]Item, error) {
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) == 0 {
		return nil, nil
	}

	var items []Item
	if err := json.Unmarshal(trimmed, &items); err == nil {
		return dedupByID(items), nil
	}

	var wrapped struct {
		Items []Item `json:"items"`
	}
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, fmt.Errorf("parse worklog item list: %w", err)
	}
	return dedupByID(wrapped.Items), nil
}

func dedupByID(items []Item) []Item {
	seen := make(map[string]bool, len(items))
	out := make([]Item, 0, len(items))
	for _, item := range items {
		if seen[item.ID] {
			continue
		}
		seen[item.ID] = true
		out = append(out, item)
	}
	return out
}

var _ Client = (*CLIClient)(nil)
