package problems

import (
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/codementor/backend/internal/execution"
)

// Difficulty grades a problem.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// ParseDifficulty validates raw; empty input defaults to easy.
func ParseDifficulty(raw string) (Difficulty, bool) {
	switch Difficulty(strings.ToLower(strings.TrimSpace(raw))) {
	case "", DifficultyEasy:
		return DifficultyEasy, true
	case DifficultyMedium:
		return DifficultyMedium, true
	case DifficultyHard:
		return DifficultyHard, true
	default:
		return "", false
	}
}

// SubmissionStatus is the verdict of a submission.
type SubmissionStatus string

const (
	StatusAccepted     SubmissionStatus = "accepted"
	StatusWrongAnswer  SubmissionStatus = "wrong_answer"
	StatusRuntimeError SubmissionStatus = "runtime_error"
)

// Problem is a practice problem with its test cases.
type Problem struct {
	ID          string               `gorm:"column:id;primaryKey;size:64;not null" json:"id"`
	Slug        string               `gorm:"column:slug;size:120;not null;uniqueIndex" json:"slug"`
	Title       string               `gorm:"column:title;size:200;not null" json:"title"`
	Description string               `gorm:"column:description;type:text" json:"description"`
	Difficulty  Difficulty           `gorm:"column:difficulty;size:16;not null;index" json:"difficulty"`
	TestCases   []execution.TestCase `gorm:"column:test_cases;type:text;serializer:json" json:"testCases"`
	AuthorID    string               `gorm:"column:author_id;size:64;not null" json:"authorId"`
	CreatedAt   time.Time            `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time            `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

// TableName exposes the table backing problems.
func (Problem) TableName() string {
	return "problems"
}

// WithoutHiddenCases returns a copy of the problem exposing only visible test cases.
func (p Problem) WithoutHiddenCases() Problem {
	visible := make([]execution.TestCase, 0, len(p.TestCases))
	for _, testCase := range p.TestCases {
		if !testCase.Hidden {
			visible = append(visible, testCase)
		}
	}
	p.TestCases = visible
	return p
}

// Submission records one graded attempt.
type Submission struct {
	ID          string                 `gorm:"column:id;primaryKey;size:64;not null" json:"id"`
	UserID      string                 `gorm:"column:user_id;size:64;not null;index" json:"userId"`
	ProblemID   string                 `gorm:"column:problem_id;size:64;not null;index" json:"problemId"`
	ProblemSlug string                 `gorm:"column:problem_slug;size:120;not null" json:"problemSlug"`
	Language    string                 `gorm:"column:language;size:32;not null" json:"language"`
	Code        string                 `gorm:"column:code;type:text" json:"code"`
	Status      SubmissionStatus       `gorm:"column:status;size:32;not null" json:"status"`
	Passed      int                    `gorm:"column:passed;not null" json:"passed"`
	Total       int                    `gorm:"column:total;not null" json:"total"`
	Results     []execution.CaseResult `gorm:"column:results;type:text;serializer:json" json:"results"`
	CreatedAt   time.Time              `gorm:"column:created_at;not null" json:"createdAt"`
}

// TableName exposes the table backing submissions.
func (Submission) TableName() string {
	return "submissions"
}

func verdict(results []execution.CaseResult) SubmissionStatus {
	passed := execution.CountPassed(results)
	if passed == len(results) {
		return StatusAccepted
	}
	for _, result := range results {
		if result.Errored {
			return StatusRuntimeError
		}
	}
	return StatusWrongAnswer
}

// Slugify derives a URL slug from a title.
func Slugify(title string) string {
	var builder strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(title)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			builder.WriteRune(r)
			dash = false
		case !dash && builder.Len() > 0:
			builder.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(builder.String(), "-")
}

// Redacted blanks the input and outputs of hidden test case results.
func (s Submission) Redacted() Submission {
	results := make([]execution.CaseResult, len(s.Results))
	for index, result := range s.Results {
		if result.Hidden {
			result.Input = ""
			result.ExpectedOutput = ""
			result.ActualOutput = ""
			result.Stderr = ""
		}
		results[index] = result
	}
	s.Results = results
	return s
}
