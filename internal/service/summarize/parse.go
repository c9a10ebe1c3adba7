package summarize

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"meetscribe/internal/models"
)

var (
	bulletPrefix  = regexp.MustCompile(`^\s*(?:[-*•+]|\d+[.)])\s+`)
	headingNumber = regexp.MustCompile(`^\d+[.)]\s*`)
)

// Parse turns raw model output into a StructuredSummary. It accepts the
// labeled three-section text form and a JSON object with summary,
// key_decisions and action_items keys. All three sections must be present
// and non-empty; otherwise ErrMalformedOutput is returned and no partial
// summary escapes.
func Parse(raw string) (*models.StructuredSummary, error) {
	text := stripFence(strings.TrimSpace(raw))
	if text == "" {
		return nil, fmt.Errorf("%w: empty response", models.ErrMalformedOutput)
	}

	var (
		sum *models.StructuredSummary
		err error
	)
	if strings.HasPrefix(text, "{") {
		sum, err = parseJSON(text)
	} else {
		sum, err = parseSections(text)
	}
	if err != nil {
		return nil, err
	}
	if err := validate(sum); err != nil {
		return nil, err
	}
	return sum, nil
}

func stripFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		text = text[nl+1:]
	} else {
		text = ""
	}
	text = strings.TrimSpace(text)
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

type jsonSummary struct {
	Summary      json.RawMessage `json:"summary"`
	KeyDecisions json.RawMessage `json:"key_decisions"`
	ActionItems  json.RawMessage `json:"action_items"`
}

func parseJSON(text string) (*models.StructuredSummary, error) {
	var payload jsonSummary
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return nil, fmt.Errorf("%w: decode json: %v", models.ErrMalformedOutput, err)
	}
	var summary string
	if len(payload.Summary) > 0 {
		if err := json.Unmarshal(payload.Summary, &summary); err != nil {
			return nil, fmt.Errorf("%w: summary is not a string", models.ErrMalformedOutput)
		}
	}
	decisions, err := jsonItems(payload.KeyDecisions)
	if err != nil {
		return nil, fmt.Errorf("%w: key_decisions: %v", models.ErrMalformedOutput, err)
	}
	actions, err := jsonItems(payload.ActionItems)
	if err != nil {
		return nil, fmt.Errorf("%w: action_items: %v", models.ErrMalformedOutput, err)
	}
	return &models.StructuredSummary{
		Summary:      strings.TrimSpace(summary),
		KeyDecisions: decisions,
		ActionItems:  actions,
	}, nil
}

// jsonItems accepts a list of strings or a list of {task, owner} objects.
func jsonItems(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var values []json.RawMessage
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("not a list")
	}
	items := make([]string, 0, len(values))
	for _, v := range values {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			if item := cleanItem(s); item != "" {
				items = append(items, item)
			}
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal(v, &obj); err != nil {
			return nil, fmt.Errorf("unsupported item %s", string(v))
		}
		task := firstString(obj, "task", "item", "decision", "description", "text")
		if task == "" {
			return nil, fmt.Errorf("item without text")
		}
		if owner := firstString(obj, "owner", "person_responsible", "assignee", "person"); owner != "" {
			task = owner + ": " + task
		}
		items = append(items, task)
	}
	return items, nil
}

func firstString(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := obj[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func parseSections(text string) (*models.StructuredSummary, error) {
	sections := map[string][]string{}
	current := ""
	for _, line := range strings.Split(text, "\n") {
		label, rest, ok := headingLabel(line)
		if ok {
			if _, seen := sections[label]; seen {
				// a repeated section is dropped with its body
				current = ""
				continue
			}
			current = label
			sections[label] = nil
			if rest != "" {
				sections[label] = append(sections[label], rest)
			}
			continue
		}
		if current == "" {
			continue
		}
		sections[current] = append(sections[current], line)
	}

	for _, label := range []string{sectionSummary, sectionDecisions, sectionActions} {
		if _, ok := sections[label]; !ok {
			return nil, fmt.Errorf("%w: missing %q section", models.ErrMalformedOutput, label)
		}
	}

	var paragraph []string
	for _, line := range sections[sectionSummary] {
		if l := strings.TrimSpace(line); l != "" {
			paragraph = append(paragraph, l)
		}
	}
	return &models.StructuredSummary{
		Summary:      strings.Join(paragraph, " "),
		KeyDecisions: listItems(sections[sectionDecisions]),
		ActionItems:  listItems(sections[sectionActions]),
	}, nil
}

// headingLabel recognizes section headings: "## Summary", "**1. Key
// Decisions**", "**Summary:** inline text" and a bare "Action Items:" line.
// A plain "Decisions: ..." line with text after the colon is prose.
func headingLabel(line string) (label, rest string, ok bool) {
	l := strings.TrimSpace(line)
	marked := false
	if strings.HasPrefix(l, "#") {
		l = strings.TrimSpace(strings.TrimLeft(l, "#"))
		marked = true
	}
	if strings.HasPrefix(l, "**") || strings.HasPrefix(l, "__") {
		marked = true
	}
	l = strings.TrimLeft(l, "*_ ")
	l = headingNumber.ReplaceAllString(l, "")
	if l == "" {
		return "", "", false
	}

	head, tail := l, ""
	if i := strings.Index(l, ":"); i >= 0 {
		head, tail = l[:i], l[i+1:]
	}
	label = canonicalLabel(strings.Trim(head, "*_ "))
	if label == "" {
		return "", "", false
	}
	rest = strings.TrimSpace(strings.Trim(strings.TrimSpace(tail), "*_"))
	if rest != "" && !marked {
		return "", "", false
	}
	return label, rest, true
}

func canonicalLabel(s string) string {
	switch strings.ToLower(strings.Join(strings.Fields(s), " ")) {
	case "summary", "meeting summary":
		return sectionSummary
	case "key decisions", "decisions":
		return sectionDecisions
	case "action items", "actions", "action points":
		return sectionActions
	}
	return ""
}

func listItems(lines []string) []string {
	var items []string
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if item := cleanItem(line); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func cleanItem(s string) string {
	s = bulletPrefix.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// validate rejects empty sections. "None" counts as an answer for the
// list sections since the prompt asks for it when there is nothing to list.
func validate(sum *models.StructuredSummary) error {
	if strings.TrimSpace(sum.Summary) == "" {
		return fmt.Errorf("%w: empty summary", models.ErrMalformedOutput)
	}
	if len(sum.KeyDecisions) == 0 {
		return fmt.Errorf("%w: no key decisions", models.ErrMalformedOutput)
	}
	if len(sum.ActionItems) == 0 {
		return fmt.Errorf("%w: no action items", models.ErrMalformedOutput)
	}
	return nil
}
