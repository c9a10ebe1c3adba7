package summarize

import (
	"strings"

	"github.com/cloudwego/eino/schema"
)

const (
	sectionSummary   = "Summary"
	sectionDecisions = "Key Decisions"
	sectionActions   = "Action Items"
)

const systemPrompt = `You are a meeting assistant. You read meeting transcripts and produce
faithful, concise minutes. Only report what the transcript supports.`

const instructionTemplate = `Analyze the following meeting transcript and answer with exactly three
sections, in this order, using these headings:

## Summary
A concise paragraph summarizing the entire meeting.

## Key Decisions
One bullet ("- ") per finalized decision made in the meeting.
Write "- None" if no decision was made.

## Action Items
One bullet ("- ") per assigned task, formatted as "Owner: task".
Use "TBD" as the owner when nobody was named.
Write "- None" if no task was assigned.

Do not add any other sections or commentary.

TRANSCRIPT:
---
{{transcript}}
---`

func buildMessages(transcript string) []*schema.Message {
	return []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(strings.Replace(instructionTemplate, "{{transcript}}", transcript, 1)),
	}
}
