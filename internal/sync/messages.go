package sync

import (
	"fmt"
	"strings"
)

// AutomationCommitTag marks every commit this engine creates. Tooling scrapes
// commit history for it, so the token and the field order of the message
// templates below are stable.
const AutomationCommitTag = "[[ commit created by automation ]]"

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

// initialCommitMessage is the first pull of a mapping into the VMR.
func initialCommitMessage(mappingName, remoteURI, sha string) string {
	return fmt.Sprintf("[%s] Initial pull of the individual repository (%s)\n\nOriginal commit: %s/commit/%s\n\n%s\n",
		mappingName, shortSHA(sha), remoteURI, sha, AutomationCommitTag)
}

// updateCommitMessage records a sync from one revision to another.
func updateCommitMessage(mappingName, remoteURI, oldSHA, newSHA string) string {
	return fmt.Sprintf("[%s] Sync %s → %s\n\nOriginal commit: %s/commit/%s\n\n%s\n",
		mappingName, shortSHA(oldSHA), shortSHA(newSHA), remoteURI, newSHA, AutomationCommitTag)
}

// mergeBackMessage summarizes a whole work branch when it lands on the
// original branch as one squashed commit.
func mergeBackMessage(synced []syncedMapping) string {
	names := make([]string, len(synced))
	revs := make([]string, len(synced))
	for i, s := range synced {
		names[i] = s.Name
		revs[i] = shortSHA(s.SHA)
	}
	return fmt.Sprintf("[%s] Sync to %s\n\n%s\n",
		strings.Join(names, ", "), strings.Join(revs, ", "), AutomationCommitTag)
}

type syncedMapping struct {
	Name string
	SHA  string
}
