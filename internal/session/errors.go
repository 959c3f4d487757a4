package session

import (
	"fmt"

	"github.com/agentgate/agentgate/internal/common/errkind"
)

func errNotFound(sessionID string) error {
	return errkind.Wrap(errkind.NotFound, fmt.Errorf("session %s not found", sessionID))
}

func errTerminated(sessionID string) error {
	return errkind.Wrap(errkind.Terminated, fmt.Errorf("session %s is terminated", sessionID))
}

func errSpawn(sessionID string, cause error) error {
	return errkind.Wrap(errkind.SpawnError, fmt.Errorf("session %s: failed to spawn agent subprocess: %w", sessionID, cause))
}
