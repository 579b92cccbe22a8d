package stash

import (
	"time"

	"pierre/internal/pipeline"
	"pierre/internal/pullrequest"
)

func toRecord(w pullRequest, scope pipeline.Scope) pullrequest.PullRequest {
	projectKey := w.ToRef.Repository.Project.Key
	if projectKey == "" {
		projectKey = scope.Project
	}
	slug := w.ToRef.Repository.Slug
	if slug == "" {
		slug = scope.Repo
	}

	pr := pullrequest.PullRequest{
		ID:          w.ID,
		Project:     projectKey,
		Repo:        slug,
		Title:       w.Title,
		Description: w.Description,
		State:       w.State,
		Author: pullrequest.Author{
			Name:        w.Author.User.Name,
			DisplayName: w.Author.User.DisplayName,
			Link:        w.Author.User.Links.self(),
		},
		Link:      w.Links.self(),
		CreatedAt: fromMillis(w.CreatedDate),
		UpdatedAt: fromMillis(w.UpdatedDate),
	}
	for _, r := range w.Reviewers {
		if r.User.Name != "" {
			pr.Reviewers = append(pr.Reviewers, r.User.Name)
		}
	}
	return pr
}

func fromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
