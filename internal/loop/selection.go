package loop

import (
	"fmt"
	"sort"

	"github.com/agentgate/agentgate/pkg/api"
)

// ErrCycle is returned by ValidateDependencies when a workspace's stories
// contain a dependsOn cycle. Runner does not call ValidateDependencies; a
// cyclic set that reaches the loop leaves no story eligible, and SelectNext
// reports that as a stall.
type ErrCycle struct {
	Cycle []string
}

func (e *ErrCycle) Error() string {
	return fmt.Sprintf("user story dependency cycle detected: %v", e.Cycle)
}

// ValidateDependencies rejects a story set whose dependsOn edges form a
// cycle, via a standard three-color DFS.
func ValidateDependencies(stories []api.UserStory) error {
	byID := make(map[string]api.UserStory, len(stories))
	for _, s := range stories {
		byID[s.ID] = s
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(stories))
	var path []string

	var visit func(id string) error
	visit = func(id string) error {
		switch color[id] {
		case black:
			return nil
		case gray:
			cycle := append(append([]string{}, path...), id)
			return &ErrCycle{Cycle: cycle}
		}
		color[id] = gray
		path = append(path, id)
		for _, dep := range byID[id].DependsOn {
			if _, ok := byID[dep]; !ok {
				continue
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		color[id] = black
		return nil
	}

	for _, s := range stories {
		if color[s.ID] == white {
			if err := visit(s.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// SelectNext picks the next eligible story: status pending, attempts <
// maxAttempts, and every dependency completed. Among eligible stories,
// priority (critical < high < medium < low) then stable sort order wins.
// Returns (nil, false, false) when no story is eligible but the set is
// exhausted (success); (nil, false, true) when none is eligible but at
// least one remains pending/in-progress (stall → loop failure).
func SelectNext(stories []api.UserStory) (next *api.UserStory, ok bool, stalled bool) {
	byID := make(map[string]api.UserStory, len(stories))
	for _, s := range stories {
		byID[s.ID] = s
	}

	var eligible []api.UserStory
	incomplete := false

	for _, s := range stories {
		switch s.Status {
		case api.StoryCompleted, api.StorySkipped:
			continue
		case api.StoryPending:
			incomplete = true
		case api.StoryInProgress:
			incomplete = true
			continue
		case api.StoryFailed:
			continue
		}
		if s.Status != api.StoryPending {
			continue
		}
		if s.Attempts >= s.MaxAttempts && s.MaxAttempts > 0 {
			continue
		}
		if !dependenciesSatisfied(s, byID) {
			continue
		}
		eligible = append(eligible, s)
	}

	if len(eligible) == 0 {
		return nil, false, incomplete
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		pi, pj := eligible[i].Priority.Rank(), eligible[j].Priority.Rank()
		if pi != pj {
			return pi < pj
		}
		return eligible[i].SortOrder < eligible[j].SortOrder
	})

	chosen := eligible[0]
	return &chosen, true, false
}

func dependenciesSatisfied(s api.UserStory, byID map[string]api.UserStory) bool {
	for _, dep := range s.DependsOn {
		depStory, ok := byID[dep]
		if !ok {
			continue
		}
		if depStory.Status != api.StoryCompleted {
			return false
		}
	}
	return true
}
