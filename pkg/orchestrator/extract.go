package orchestrator

import (
	"regexp"
	"strings"

	"github.com/harun/memori/pkg/domain"
	"github.com/harun/memori/pkg/memstore"
)

var (
	identifierRe  = regexp.MustCompile(`\b[A-Z]{2,5}-\d+\b`)
	properNameRe  = regexp.MustCompile(`\b[A-Z][a-z]+(?: [A-Z][a-z]+)+\b`)
	placeholderRe = regexp.MustCompile(`^\[[A-Z_]+_\d+\]$`)
	statusClaimRe = regexp.MustCompile(`(?i)\bstatus (?:is|was) ([a-z_]+)`)
	sentenceRe    = regexp.MustCompile(`[.!?\n]+`)
)

// extractMentions pulls candidate entity mentions out of a message:
// primary identifiers like ORD-1001 and multi-word proper names.
func extractMentions(text string) []string {
	seen := make(map[string]bool)
	var mentions []string

	add := func(m string) {
		m = strings.TrimSpace(m)
		if m == "" || placeholderRe.MatchString(m) || seen[strings.ToLower(m)] {
			return
		}
		seen[strings.ToLower(m)] = true
		mentions = append(mentions, m)
	}

	for _, m := range identifierRe.FindAllString(text, -1) {
		add(m)
	}
	for _, m := range properNameRe.FindAllString(text, -1) {
		add(m)
	}
	return mentions
}

// extraction rule names recorded as unit provenance
const (
	rulePreference = "preference"
	ruleCommitment = "commitment"
	ruleTodo       = "todo"
	ruleClaim      = "entity_claim"
	ruleEpisodic   = "episodic"
)

var (
	preferenceCues = []string{"prefer", "prefers", "always", "never", "usually", "like to", "likes to", "rather"}
	todoCues       = []string{"remind me", "don't forget", "need to", "needs to", "follow up", "to-do", "todo"}
	commitmentCues = []string{"i will", "we will", "i'll", "we'll", "i promise", "we promise", "i commit"}
	claimCues      = []string{" is ", " are ", " was ", " moved ", " changed ", " now "}
)

// extractCandidates turns one redacted user message into candidate
// memory units. Each sentence is classified by simple cue rules; the
// whole message is kept as an episodic unit regardless so nothing said
// is ever unfindable.
func extractCandidates(userID, clean, sourceEvent string, refs []domain.EntityRef) []memstore.MemoryUnit {
	var units []memstore.MemoryUnit

	var entity *domain.EntityRef
	if len(refs) > 0 {
		entity = &refs[0]
	}

	for _, raw := range sentenceRe.Split(clean, -1) {
		sentence := strings.TrimSpace(raw)
		if len(sentence) < 8 {
			continue
		}
		lower := strings.ToLower(sentence)

		switch {
		case containsAny(lower, todoCues):
			units = append(units, memstore.MemoryUnit{
				UserID: userID, Kind: memstore.KindTodo, Text: sentence,
				Entity: entity, Importance: 0.6,
				SourceEvent: sourceEvent, Rule: ruleTodo,
			})
		case containsAny(lower, commitmentCues):
			units = append(units, memstore.MemoryUnit{
				UserID: userID, Kind: memstore.KindCommitment, Text: sentence,
				Entity: entity, Importance: 0.7,
				SourceEvent: sourceEvent, Rule: ruleCommitment,
			})
		case containsAny(lower, preferenceCues):
			units = append(units, memstore.MemoryUnit{
				UserID: userID, Kind: memstore.KindProfile, Text: sentence,
				Entity: entity, Importance: 0.7,
				SourceEvent: sourceEvent, Rule: rulePreference,
			})
		case entity != nil && containsAny(lower, claimCues):
			u := memstore.MemoryUnit{
				UserID: userID, Kind: memstore.KindSemantic, Text: sentence,
				Entity: entity, Importance: 0.6,
				SourceEvent: sourceEvent, Rule: ruleClaim,
			}
			if m := statusClaimRe.FindStringSubmatch(sentence); m != nil {
				u.Attribute = "status"
				u.Value = strings.ToLower(m[1])
			}
			units = append(units, u)
		}
	}

	units = append(units, memstore.MemoryUnit{
		UserID: userID, Kind: memstore.KindEpisodic, Text: clean,
		Entity: entity, Importance: 0.4,
		SourceEvent: sourceEvent, Rule: ruleEpisodic,
	})
	return units
}

func containsAny(s string, cues []string) bool {
	for _, cue := range cues {
		if strings.Contains(s, cue) {
			return true
		}
	}
	return false
}
