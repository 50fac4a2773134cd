package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SurveyQuestion is one Likert item of the self-reflection survey.
type SurveyQuestion struct {
	Key       string `json:"key"`
	Construct string `json:"construct"`
	Text      string `json:"text"`
}

// SurveyQuestions lists the five Likert items in order.
var SurveyQuestions = [5]SurveyQuestion{
	{Key: "q1", Construct: "Strategic Thinking", Text: "Before typing my responses, I consciously planned my strategy using the LEARN model steps."},
	{Key: "q2", Construct: "Epistemic Vigilance", Text: "I critically evaluated the Coach's Notes for accuracy and realism before deciding whether to apply the advice."},
	{Key: "q3", Construct: "Intellectual Autonomy", Text: "I felt I was using my own professional judgment to solve the problem, rather than just doing whatever the AI wanted me to do to 'win'."},
	{Key: "q4", Construct: "Perceived Usefulness", Text: "This simulation helped me understand how to apply service recovery techniques better than a standard lecture."},
	{Key: "q5", Construct: "Perceived Ease of Use", Text: "The interface (Anger Meter, Chat) was intuitive and allowed me to focus on learning."},
}

// ReflectionPrompt is the open-ended survey question.
const ReflectionPrompt = "Describe a specific moment where you chose to ignore or modify the AI's advice because you felt your own judgment was better."

var (
	ErrSurveyRating     = errors.New("survey rating must be between 1 and 5")
	ErrSurveyReflection = errors.New("survey reflection is required")
)

// SurveyRecord is a completed self-reflection survey.
type SurveyRecord struct {
	Ratings     [5]int    `json:"ratings"`
	Reflection  string    `json:"reflection"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Validate checks that all six answers are present.
func (s *SurveyRecord) Validate() error {
	for i, r := range s.Ratings {
		if r < 1 || r > 5 {
			return fmt.Errorf("%w: %s is %d", ErrSurveyRating, SurveyQuestions[i].Key, r)
		}
	}
	if strings.TrimSpace(s.Reflection) == "" {
		return ErrSurveyReflection
	}
	return nil
}

// SurveyField is a single key/value pair of a flattened survey.
type SurveyField struct {
	Key   string
	Value string
}

// Fields flattens the survey into six key/value pairs, ratings first.
func (s *SurveyRecord) Fields() []SurveyField {
	fields := make([]SurveyField, 0, len(s.Ratings)+1)
	for i, r := range s.Ratings {
		fields = append(fields, SurveyField{
			Key:   SurveyQuestions[i].Construct,
			Value: strconv.Itoa(r) + "/5",
		})
	}
	return append(fields, SurveyField{Key: "Reflection", Value: s.Reflection})
}
