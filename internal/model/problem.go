package model

// Supported topics. TopicUnknown is what the parser reports when it cannot
// classify a problem.
const (
	TopicAlgebra       = "algebra"
	TopicProbability   = "probability"
	TopicCalculus      = "calculus"
	TopicLinearAlgebra = "linear_algebra"
	TopicUnknown       = "unknown"
)

// SupportedTopic reports whether topic is one the guardrail accepts.
func SupportedTopic(topic string) bool {
	switch topic {
	case TopicAlgebra, TopicProbability, TopicCalculus, TopicLinearAlgebra, TopicUnknown:
		return true
	}
	return false
}

// ParsedProblem is the parser stage output.
type ParsedProblem struct {
	ProblemText          string   `json:"problem_text"`
	Topic                string   `json:"topic"`
	Subtopic             string   `json:"subtopic"`
	Variables            []string `json:"variables"`
	Constraints          []string `json:"constraints"`
	Clarity              float64  `json:"clarity_score"`
	NeedsClarification   bool     `json:"needs_clarification"`
	ClarificationMessage string   `json:"clarification_message,omitempty"`
}

// Routing is the router stage output.
type Routing struct {
	Topic       string   `json:"topic"`
	Subtopic    string   `json:"subtopic"`
	Difficulty  string   `json:"difficulty"`
	Strategy    string   `json:"strategy"`
	ToolsNeeded []string `json:"tools_needed,omitempty"`
	Reasoning   string   `json:"reasoning,omitempty"`
}

// Step is one numbered line of a worked solution.
type Step struct {
	Number      int    `json:"step"`
	Description string `json:"description"`
	Result      string `json:"result,omitempty"`
}

// Solution is the solver stage output.
type Solution struct {
	Text      string   `json:"solution"`
	Answer    string   `json:"answer"`
	Steps     []Step   `json:"steps"`
	ToolsUsed []string `json:"tools_used,omitempty"`
}

// CheckResult is the outcome of one verifier check.
type CheckResult struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Details string `json:"details"`
}

// Verification is the verifier stage output.
type Verification struct {
	Checks    []CheckResult `json:"checks"`
	Passed    int           `json:"passed"`
	Total     int           `json:"total"`
	Aggregate float64       `json:"aggregate"`
	IsCorrect bool          `json:"is_correct"`
}

// Explanation is the explainer stage output.
type Explanation struct {
	Text string `json:"explanation"`
}

// Evaluation is the optional self-assessment produced after explanation.
type Evaluation struct {
	Correctness     int      `json:"correctness"`
	Clarity         int      `json:"clarity"`
	Completeness    int      `json:"completeness"`
	Efficiency      int      `json:"efficiency"`
	Strengths       []string `json:"strengths"`
	Improvements    []string `json:"improvements"`
	Recommendations []string `json:"recommendations"`
}

// Document is one knowledge base hit.
type Document struct {
	ID        string  `json:"id,omitempty"`
	Content   string  `json:"content"`
	Source    string  `json:"source"`
	Topic     string  `json:"topic,omitempty"`
	Relevance float64 `json:"relevance"`
}

// SimilarSolution is one memory hit: a previously solved problem.
type SimilarSolution struct {
	ID         string  `json:"id,omitempty"`
	Problem    string  `json:"problem"`
	Solution   string  `json:"solution"`
	Similarity float64 `json:"similarity"`
}
