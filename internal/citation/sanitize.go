package citation

import (
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	answerPolicyOnce sync.Once
	answerPolicy     *bluemonday.Policy
)

// AnswerPolicy returns the sanitization policy applied to every text run
// before it is treated as renderable markup. The generated text comes
// from a third-party service, so script-bearing and otherwise unsafe
// tags are stripped while structural formatting (lists, paragraphs,
// emphasis, code) survives. Cached to avoid rebuilding per fragment.
func AnswerPolicy() *bluemonday.Policy {
	answerPolicyOnce.Do(func() {
		policy := bluemonday.UGCPolicy()
		policy.AllowAttrs("class").OnElements("code", "pre")
		policy.AllowURLSchemes("http", "https", "mailto")
		policy.AllowRelativeURLs(true)
		policy.RequireParseableURLs(true)
		policy.AddTargetBlankToFullyQualifiedLinks(true)
		answerPolicy = policy
	})
	return answerPolicy
}

// SanitizeRun cleans one text run with AnswerPolicy.
func SanitizeRun(s string) string {
	return AnswerPolicy().Sanitize(s)
}
