// Package store holds the abstract persistence surface of spec §6's store
// schema (conversations, messages, prd_stories, loops, permission_rules,
// commentary_history, artifacts) plus two implementations: an in-memory
// default (internal/store/memory) and a Postgres-backed one
// (internal/store/pgstore) built on pgx/v5.
package store

import (
	"regexp"

	"github.com/google/uuid"

	"github.com/agentgate/agentgate/pkg/api"
)

var artifactPattern = regexp.MustCompile(`(?s)<artifact\s+type="(plan|diff|screenshot|walkthrough)"\s+title="([^"]*)">(.*?)</artifact>`)

// ExtractArtifacts scans an assistant message's text for <artifact> blocks
// per spec §6 and returns one api.Artifact per match, ready to persist.
func ExtractArtifacts(conversationID, messageID, text string) []api.Artifact {
	matches := artifactPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}

	artifacts := make([]api.Artifact, 0, len(matches))
	for _, m := range matches {
		artifacts = append(artifacts, api.Artifact{
			ID:             uuid.NewString(),
			ConversationID: conversationID,
			MessageID:      messageID,
			Type:           m[1],
			Title:          m[2],
			Content:        m[3],
		})
	}
	return artifacts
}
