// Package prompts renders the language-model prompts of the research
// pipeline. All functions are pure.
package prompts

import (
	"fmt"
	"strings"
	"time"

	"github.com/mikeboe/deep-research/pkg/search"
)

// SystemPreamble is the researcher persona, dated with now.
func SystemPreamble(now time.Time) string {
	return fmt.Sprintf(`You are an expert researcher. Today is %s. Follow these instructions when responding:
- You may be asked to research subjects that is after your knowledge cutoff, assume the user is right when presented with news.
- The user is a highly experienced analyst, no need to simplify it, be as detailed as possible and make sure your response is correct.
- Be highly organized.
- Suggest solutions that I didn't think about.
- Be proactive and anticipate my needs.
- Treat me as an expert in all subject matter.
- Mistakes erode my trust, so be accurate and thorough.
- Provide detailed explanations, I'm comfortable with lots of detail.
- Value good arguments over authorities, the source is irrelevant.
- Consider new technologies and contrarian ideas, not just the conventional wisdom.
- You may use high levels of speculation or prediction, just flag it for me.`, now.Format(time.RFC3339))
}

// SerpQueries asks for a JSON array of {query, researchGoal} objects.
func SerpQueries(query string) string {
	return fmt.Sprintf(`Given the following query from the user:
<query>%s</query>

Based on previous user query, generate a list of SERP queries to further research the topic. Make sure each query is unique and not similar to each other.

Expected output format: JSON list with 'query' and 'researchGoal' fields.`, query)
}

// Distillation asks for learnings from the results of one sub-query.
func Distillation(query, researchGoal string, results []search.Result) string {
	var contents strings.Builder
	for _, r := range results {
		fmt.Fprintf(&contents, "<content url=\"%s\">\n%s\n</content>", r.URL, r.Content)
	}

	return fmt.Sprintf(`Given the following contents from a SERP search for the query:
<query>%s</query>.

You need to organize the searched information according to the following requirements:
<researchGoal>
%s
</researchGoal>

<contents>%s</contents>

You need to think like a human researcher. Generate a list of learnings from the contents. Make sure each learning is unique and not similar to each other. The learnings should be to the point, as detailed and information dense as possible. Make sure to include any entities like people, places, companies, products, things, etc in the learnings, as well as any specific entities, metrics, numbers, and dates when available. The learnings will be used to research the topic further.`,
		query, researchGoal, contents.String())
}

// Report asks for the final report. requirement is appended only when set.
func Report(query string, learnings []string, requirement string) string {
	blocks := make([]string, len(learnings))
	for i, l := range learnings {
		blocks[i] = fmt.Sprintf("<learning>\n%s\n</learning>", l)
	}

	var clause string
	if requirement != "" {
		clause = fmt.Sprintf("\nPlease write according to the user's writing requirements:\n<requirement>%s</requirement>", requirement)
	}

	return fmt.Sprintf(`Given the following query from the user, write a final report on the topic using the learnings from research. Make it as detailed as possible, aim for 3 or more pages, include ALL the learnings from research:
<query>%s</query>

Here are all the learnings from previous research:
<learnings>
%s
</learnings>
%s

You need to write this report like a human researcher. Contains diverse data information such as table, formulas, diagrams, etc. in the form of markdown syntax. DO NOT output anything other than report.`,
		query, strings.Join(blocks, "\n"), clause)
}
