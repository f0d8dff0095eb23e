// SPDX-FileCopyrightText: Copyright 2025 Airweave, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package github ingests a GitHub repository: the repository record, its
// file tree as code entities, and its issues as incremental chunk entities
// watermarked on updated_at.
package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"

	"github.com/airweave/airweave-go/pkg/auth"
	"github.com/airweave/airweave-go/pkg/core"
	"github.com/airweave/airweave-go/pkg/entity"
	"github.com/airweave/airweave-go/pkg/logger"
	"github.com/airweave/airweave-go/pkg/sources"
)

const (
	shortName      = "github"
	defaultAPIBase = "https://api.github.com"
	perPage        = 100

	// maxBlobSize skips generated or vendored giants that drown the index.
	maxBlobSize = 1 << 20
)

func init() {
	sources.DefaultRegistry.MustRegister(sources.Descriptor{
		ShortName:   shortName,
		DisplayName: "GitHub",
		AuthVariants: []core.AuthVariant{
			core.AuthOAuthBrowser,
			core.AuthOAuthToken,
			core.AuthProvider,
		},
		TemplateFields:     []string{"repo_name"},
		DefaultCursorField: "updated_at",
		RetryAfterRefresh:  true,
		New:                New,
	})
}

type source struct {
	repoName string
	branch   string
	apiBase  string

	client  *sources.HTTPClient
	token   string
	tracker *sources.CursorTracker
	guard   sources.StreamGuard
	logger  *slog.Logger
}

// New builds a GitHub source. OAuth connections carry a token manager and
// get reactive refresh; token and provider connections fall back to the
// static access_token credential field.
func New(_ context.Context, deps sources.Deps) (sources.Source, error) {
	repoName := stringField(deps.Config, "repo_name")
	if !strings.Contains(repoName, "/") {
		return nil, fmt.Errorf("%w: repo_name must be owner/repo, got %q", core.ErrValidation, repoName)
	}
	if deps.CursorField != "" && deps.CursorField != "updated_at" {
		return nil, fmt.Errorf("%w: github orders issues by updated_at only, got cursor field %q", core.ErrValidation, deps.CursorField)
	}

	apiBase := stringField(deps.Config, "api_base")
	if apiBase == "" {
		apiBase = defaultAPIBase
	}

	opts := []sources.HTTPOption{sources.WithRateLimit(5, 5)}
	var token string
	if deps.Tokens != nil {
		opts = append(opts, sources.WithTokenManager(deps.Tokens, true))
	} else {
		token = stringField(deps.Credentials, auth.FieldAccessToken)
		if token == "" {
			return nil, fmt.Errorf("%w: github requires an access token", core.ErrValidation)
		}
	}

	log := deps.Logger
	if log == nil {
		log = logger.Get()
	}
	return &source{
		repoName: repoName,
		branch:   stringField(deps.Config, "branch"),
		apiBase:  strings.TrimSuffix(apiBase, "/"),
		client:   sources.NewHTTPClient(opts...),
		token:    token,
		tracker:  sources.NewCursorTracker(deps.Cursor),
		logger:   log,
	}, nil
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func (s *source) ShortName() string { return shortName }

// Validate resolves the authenticated user, the lightest call that proves
// the token works.
func (s *source) Validate(ctx context.Context) error {
	var me struct {
		Login string `json:"login"`
	}
	if _, err := s.getJSON(ctx, s.apiBase+"/user", &me); err != nil {
		return fmt.Errorf("validating github token: %w", err)
	}
	s.logger.Debug("github token validated", "login", me.Login)
	return nil
}

func (s *source) DefaultCursorField() string { return "updated_at" }

func (s *source) ValidateCursorField(field string) error {
	if field != "updated_at" {
		return fmt.Errorf("%w: github supports only the updated_at cursor field, got %q", core.ErrValidation, field)
	}
	return nil
}

func (s *source) CursorState() map[string]any { return s.tracker.Snapshot() }

func (s *source) Stream(ctx context.Context) (*sources.Stream, error) {
	if !s.guard.Acquire() {
		return nil, sources.ErrStreamConsumed
	}
	return sources.Run(ctx, func(ctx context.Context, emit *sources.Emitter) error {
		repo, err := s.fetchRepo(ctx)
		if err != nil {
			return err
		}
		if err := emit.Emit(ctx, s.repoEntity(repo)); err != nil {
			return err
		}

		branch := s.branch
		if branch == "" {
			branch = repo.DefaultBranch
		}
		if err := s.streamTree(ctx, emit, repo, branch); err != nil {
			return err
		}
		return s.streamIssues(ctx, emit, repo)
	}), nil
}

func (s *source) fetchRepo(ctx context.Context) (*repoInfo, error) {
	var repo repoInfo
	if _, err := s.getJSON(ctx, s.apiBase+"/repos/"+s.repoName, &repo); err != nil {
		return nil, fmt.Errorf("fetching repository %s: %w", s.repoName, err)
	}
	return &repo, nil
}

func (s *source) repoEntity(repo *repoInfo) *entity.Entity {
	return &entity.Entity{
		EntityID: "repo:" + repo.FullName,
		Kind:     entity.KindChunk,
		Payload: map[string]any{
			"full_name":      repo.FullName,
			"description":    repo.Description,
			"default_branch": repo.DefaultBranch,
			"language":       repo.Language,
			"stars":          repo.StargazersCount,
			"private":        repo.Private,
			"updated_at":     repo.UpdatedAt,
		},
		EmbeddableText: strings.TrimSpace(repo.FullName + "\n" + repo.Description),
		URL:            repo.HTMLURL,
	}
}

func (s *source) repoBreadcrumb(repo *repoInfo) entity.Breadcrumb {
	return entity.Breadcrumb{
		EntityID: "repo:" + repo.FullName,
		Name:     repo.FullName,
		Type:     "repository",
	}
}

// streamTree walks the recursive git tree of the branch and emits one code
// file entity per text blob. Content is left to the framework's file
// materialization stage.
func (s *source) streamTree(ctx context.Context, emit *sources.Emitter, repo *repoInfo, branch string) error {
	var tree treeResponse
	treeURL := fmt.Sprintf("%s/repos/%s/git/trees/%s?recursive=1", s.apiBase, s.repoName, url.PathEscape(branch))
	if _, err := s.getJSON(ctx, treeURL, &tree); err != nil {
		return fmt.Errorf("fetching tree of %s@%s: %w", s.repoName, branch, err)
	}
	if tree.Truncated {
		s.logger.Warn("github tree truncated, large repository partially indexed",
			"repo", s.repoName, "branch", branch)
	}

	crumb := s.repoBreadcrumb(repo)
	for _, node := range tree.Tree {
		if node.Type != "blob" {
			continue
		}
		if isBinaryPath(node.Path) {
			continue
		}
		if node.Size > maxBlobSize {
			s.logger.Debug("skipping oversized blob", "path", node.Path, "size", node.Size)
			continue
		}
		if err := emit.Emit(ctx, s.blobEntity(repo, branch, node, crumb)); err != nil {
			return err
		}
	}
	return nil
}

func (s *source) blobEntity(repo *repoInfo, branch string, node treeNode, crumb entity.Breadcrumb) *entity.Entity {
	contentsURL := fmt.Sprintf("%s/repos/%s/contents/%s?ref=%s",
		s.apiBase, s.repoName, escapePath(node.Path), url.QueryEscape(branch))

	headers := map[string]string{"Accept": "application/vnd.github.raw"}
	if s.token != "" {
		headers["Authorization"] = "Bearer " + s.token
	}

	return &entity.Entity{
		EntityID:    "blob:" + node.Path,
		Kind:        entity.KindCodeFile,
		Breadcrumbs: []entity.Breadcrumb{crumb},
		Payload: map[string]any{
			"path": node.Path,
			"sha":  node.SHA,
			"size": node.Size,
			"mode": node.Mode,
		},
		File: &entity.File{
			Name:        path.Base(node.Path),
			Size:        node.Size,
			DownloadURL: contentsURL,
			Headers:     headers,
			Checksum:    node.SHA,
		},
		Code: &entity.Code{
			RepoName: repo.FullName,
			Path:     node.Path,
			Language: languageForPath(node.Path),
		},
		URL: fmt.Sprintf("https://github.com/%s/blob/%s/%s", repo.FullName, branch, node.Path),
	}
}

// streamIssues pages through issues sorted by updated_at ascending, resuming
// from the stored watermark. GitHub's since filter is inclusive, so the
// boundary issue is re-fetched and deduplicated by the hash diff.
func (s *source) streamIssues(ctx context.Context, emit *sources.Emitter, repo *repoInfo) error {
	crumb := s.repoBreadcrumb(repo)

	next := fmt.Sprintf("%s/repos/%s/issues?state=all&sort=updated&direction=asc&per_page=%d",
		s.apiBase, s.repoName, perPage)
	if since, ok := s.tracker.Value("issues"); ok {
		next += "&since=" + url.QueryEscape(fmt.Sprintf("%v", since))
	}

	for next != "" {
		var page []issue
		header, err := s.getJSON(ctx, next, &page)
		if err != nil {
			return fmt.Errorf("fetching issues of %s: %w", s.repoName, err)
		}
		for i := range page {
			if err := emit.Emit(ctx, s.issueEntity(&page[i], crumb)); err != nil {
				return err
			}
			s.tracker.Observe("issues", page[i].UpdatedAt)
		}
		next = parseNextLink(header)
	}
	return nil
}

func (s *source) issueEntity(is *issue, crumb entity.Breadcrumb) *entity.Entity {
	labels := make([]string, len(is.Labels))
	for i, l := range is.Labels {
		labels[i] = l.Name
	}

	return &entity.Entity{
		EntityID:    fmt.Sprintf("issue:%d", is.Number),
		Kind:        entity.KindChunk,
		Breadcrumbs: []entity.Breadcrumb{crumb},
		Payload: map[string]any{
			"number":          is.Number,
			"title":           is.Title,
			"state":           is.State,
			"body":            is.Body,
			"author":          is.User.Login,
			"labels":          labels,
			"comments":        is.Comments,
			"created_at":      is.CreatedAt,
			"updated_at":      is.UpdatedAt,
			"is_pull_request": is.PullRequest != nil,
		},
		EmbeddableText: strings.TrimSpace(fmt.Sprintf("#%d %s\n%s", is.Number, is.Title, is.Body)),
		URL:            is.HTMLURL,
	}
}

// escapePath escapes each path segment while keeping the separators.
func escapePath(p string) string {
	segments := strings.Split(p, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.Join(segments, "/")
}
