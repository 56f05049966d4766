package provider

import "github.com/erg0nix/palaver/internal/core"

// mergeConsecutiveRoles folds adjacent messages with the same role into one, for
// chat templates that reject two user (or assistant) messages in a row.
func mergeConsecutiveRoles(messages []core.Turn) []core.Turn {
	if len(messages) <= 1 {
		return messages
	}

	result := []core.Turn{messages[0]}

	for i := 1; i < len(messages); i++ {
		current := messages[i]
		previous := &result[len(result)-1]

		if current.Role == previous.Role {
			mergeTurns(previous, current)
		} else {
			result = append(result, current)
		}
	}

	return result
}

func mergeTurns(target *core.Turn, source core.Turn) {
	if target.Content != "" && source.Content != "" {
		target.Content += "\n\n" + source.Content
	} else {
		target.Content += source.Content
	}
}
