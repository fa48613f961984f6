package models

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Stage represents the current phase of a generation run
type Stage string

const (
	StageIdle                Stage = "idle"
	StageGeneratingSpec      Stage = "generating_spec"
	StageGeneratingCode      Stage = "generating_code"
	StageGeneratingMaterials Stage = "generating_materials"
	StageReady               Stage = "ready"
	StageError               Stage = "error"
)

// Terminal reports whether no provider work is outstanding in this stage
func (s Stage) Terminal() bool {
	return s == StageIdle || s == StageReady || s == StageError
}

// Artifact marks the last artifact a run produced successfully
type Artifact string

const (
	ArtifactNone      Artifact = "none"
	ArtifactSpec      Artifact = "spec"
	ArtifactCode      Artifact = "code"
	ArtifactMaterials Artifact = "materials"
)

// Complexity levels accepted in a ContentBasis
const (
	ComplexitySimple   = 1
	ComplexityStandard = 2
	ComplexityDetailed = 3
)

// ContentBasis is the immutable input of one generation run
type ContentBasis struct {
	VideoURL       string `json:"video_url,omitempty" validate:"omitempty,url,max=2048"`
	TopicOrDetails string `json:"topic_or_details,omitempty" validate:"max=4000"`
	Complexity     int    `json:"complexity" validate:"min=1,max=3"`
}

// HasVideo reports whether the basis carries a video reference
func (b ContentBasis) HasVideo() bool {
	return strings.TrimSpace(b.VideoURL) != ""
}

// HasTopic reports whether the basis carries topic or detail text
func (b ContentBasis) HasTopic() bool {
	return strings.TrimSpace(b.TopicOrDetails) != ""
}

// MaterialKind identifies one supplementary material
type MaterialKind string

const (
	MaterialLessonPlan MaterialKind = "lesson_plan"
	MaterialHandout    MaterialKind = "handout"
	MaterialQuiz       MaterialKind = "quiz"
)

// AllMaterialKinds lists every material kind in presentation order
var AllMaterialKinds = []MaterialKind{MaterialLessonPlan, MaterialHandout, MaterialQuiz}

// MaterialRequest selects which materials a run produces
type MaterialRequest struct {
	LessonPlan bool `json:"lesson_plan"`
	Handout    bool `json:"handout"`
	Quiz       bool `json:"quiz"`
}

// Requested reports whether the given kind is selected
func (r MaterialRequest) Requested(kind MaterialKind) bool {
	switch kind {
	case MaterialLessonPlan:
		return r.LessonPlan
	case MaterialHandout:
		return r.Handout
	case MaterialQuiz:
		return r.Quiz
	}
	return false
}

// Kinds returns the selected kinds in presentation order
func (r MaterialRequest) Kinds() []MaterialKind {
	kinds := make([]MaterialKind, 0, len(AllMaterialKinds))
	for _, k := range AllMaterialKinds {
		if r.Requested(k) {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// MaterialStatus is the lifecycle state of one material
type MaterialStatus string

const (
	MaterialNotRequested MaterialStatus = "not_requested"
	MaterialPending      MaterialStatus = "pending"
	MaterialReady        MaterialStatus = "ready"
	MaterialFailed       MaterialStatus = "failed"
)

// MaterialResult holds the outcome of one material branch.
// Text is set for narrative kinds, Quiz for the quiz.
type MaterialResult struct {
	Kind   MaterialKind   `json:"kind"`
	Status MaterialStatus `json:"status"`
	Text   string         `json:"text,omitempty"`
	Quiz   []QuizItem     `json:"quiz,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// NotRequested builds the result for an unselected kind
func NotRequested(kind MaterialKind) MaterialResult {
	return MaterialResult{Kind: kind, Status: MaterialNotRequested}
}

// Pending builds the result for a branch that has not finished
func Pending(kind MaterialKind) MaterialResult {
	return MaterialResult{Kind: kind, Status: MaterialPending}
}

// Failed builds a failed result carrying the error message
func Failed(kind MaterialKind, message string) MaterialResult {
	return MaterialResult{Kind: kind, Status: MaterialFailed, Error: message}
}

// QuizItem is one multiple-choice question
type QuizItem struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correctAnswer"`
	Explanation   string   `json:"explanation,omitempty"`
}

// Validate checks that the item is answerable
func (q QuizItem) Validate() error {
	if strings.TrimSpace(q.Question) == "" {
		return fmt.Errorf("question text is empty")
	}
	if len(q.Options) < 2 {
		return fmt.Errorf("question %q has %d options, need at least 2", q.Question, len(q.Options))
	}
	if !slices.Contains(q.Options, q.CorrectAnswer) {
		return fmt.Errorf("correct answer %q for question %q is not one of the options", q.CorrectAnswer, q.Question)
	}
	return nil
}

// Source is one grounding citation attached to a generated specification
type Source struct {
	URI   string `json:"uri"`
	Title string `json:"title,omitempty"`
}

// GenerationRun is the aggregate state of one run
type GenerationRun struct {
	ID           string                          `json:"id"`
	Epoch        uint64                          `json:"epoch"`
	Basis        ContentBasis                    `json:"basis"`
	Materials    MaterialRequest                 `json:"materials"`
	Stage        Stage                           `json:"stage"`
	Spec         string                          `json:"spec"`
	Code         string                          `json:"code"`
	Results      map[MaterialKind]MaterialResult `json:"results,omitempty"`
	Sources      []Source                        `json:"sources,omitempty"`
	Error        string                          `json:"error,omitempty"`
	LastArtifact Artifact                        `json:"last_artifact"`
	StartedAt    time.Time                       `json:"started_at"`
	UpdatedAt    time.Time                       `json:"updated_at"`
}

// Clone returns a deep copy safe to hand to other goroutines
func (r GenerationRun) Clone() GenerationRun {
	out := r
	if r.Results != nil {
		out.Results = make(map[MaterialKind]MaterialResult, len(r.Results))
		for k, v := range r.Results {
			v.Quiz = slices.Clone(v.Quiz)
			for i := range v.Quiz {
				v.Quiz[i].Options = slices.Clone(v.Quiz[i].Options)
			}
			out.Results[k] = v
		}
	}
	out.Sources = slices.Clone(r.Sources)
	return out
}

// Result returns the material result for a kind, NotRequested when absent
func (r GenerationRun) Result(kind MaterialKind) MaterialResult {
	if res, ok := r.Results[kind]; ok {
		return res
	}
	return NotRequested(kind)
}

// InteractionType tags an interaction record
type InteractionType string

const (
	InteractionPrompt   InteractionType = "PROMPT"
	InteractionResponse InteractionType = "RESPONSE"
	InteractionError    InteractionType = "ERROR"
)

// InteractionRecord is one entry of the provider interaction log
type InteractionRecord struct {
	ID        string          `json:"id"`
	RequestID string          `json:"request_id"`
	Timestamp time.Time       `json:"timestamp"`
	Type      InteractionType `json:"type"`
	Model     string          `json:"model"`
	Stage     string          `json:"stage,omitempty"`
	Data      any             `json:"data,omitempty"`
}
