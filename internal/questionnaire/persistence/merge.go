package persistence

import "advisory-portal/internal/questionnaire/answers"

// Merge combines a local and a remote snapshot. Remote values win key by key
// for answers and goal details; keys present only locally survive. Goals are
// merged by id: remote order first, then goals only the local copy knows.
func Merge(local, remote *Snapshot) (*Snapshot, Source) {
	switch {
	case local == nil && remote == nil:
		return nil, SourceEmpty
	case remote == nil:
		return local, SourceLocal
	case local == nil:
		return remote, SourceRemote
	}

	merged := &Snapshot{
		SessionID: local.SessionID,
		Completed: remote.Completed,
		UpdatedAt: remote.UpdatedAt,
		State: answers.State{
			Answers:     make(map[string]interface{}, len(local.Answers)+len(remote.Answers)),
			GoalDetails: make(map[string]answers.GoalDetail, len(local.GoalDetails)+len(remote.GoalDetails)),
		},
	}
	if local.UpdatedAt.After(merged.UpdatedAt) {
		merged.UpdatedAt = local.UpdatedAt
	}

	for k, v := range local.Answers {
		merged.Answers[k] = v
	}
	for k, v := range remote.Answers {
		merged.Answers[k] = v
	}

	for id, d := range local.GoalDetails {
		merged.GoalDetails[id] = d
	}
	for id, d := range remote.GoalDetails {
		merged.GoalDetails[id] = d
	}

	seen := make(map[string]bool, len(remote.Goals))
	for _, g := range remote.Goals {
		seen[g.ID] = true
		merged.Goals = append(merged.Goals, g)
	}
	for _, g := range local.Goals {
		if !seen[g.ID] {
			seen[g.ID] = true
			merged.Goals = append(merged.Goals, g)
		}
	}

	return merged, SourceMerged
}
