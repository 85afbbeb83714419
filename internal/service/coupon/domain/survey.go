// internal/service/coupon/domain/survey.go
package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// QuestionKind 决定了一个问题接受哪种答案。
type QuestionKind string

const (
	QuestionText         QuestionKind = "text"
	QuestionNumber       QuestionKind = "number"
	QuestionBoolean      QuestionKind = "boolean"
	QuestionSingleChoice QuestionKind = "single_choice"
	QuestionMultiChoice  QuestionKind = "multi_choice"
)

// Question 是租户问卷中的一个问题，OrderIndex 在租户内唯一。
type Question struct {
	ID         string
	TenantID   string
	Prompt     string
	Kind       QuestionKind
	Options    []string
	Required   bool
	Active     bool
	OrderIndex int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Validate 检查问题定义本身。
func (q *Question) Validate() error {
	if strings.TrimSpace(q.Prompt) == "" {
		return Invalid("prompt is required")
	}
	switch q.Kind {
	case QuestionText, QuestionNumber, QuestionBoolean:
		if len(q.Options) > 0 {
			return Invalid(fmt.Sprintf("%s questions take no options", q.Kind))
		}
	case QuestionSingleChoice, QuestionMultiChoice:
		if len(q.Options) < 2 {
			return Invalid("choice questions need at least two options")
		}
	default:
		return Invalid(fmt.Sprintf("unknown question kind %q", q.Kind))
	}
	return nil
}

// Accepts 检查答案的类型和取值是否匹配问题。
func (q *Question) Accepts(a Answer) error {
	mismatch := Invalid(fmt.Sprintf("question %s expects a %s answer", q.ID, q.Kind))
	switch q.Kind {
	case QuestionText:
		if a.Type != AnswerText {
			return mismatch
		}
	case QuestionNumber:
		if a.Type != AnswerNumber {
			return mismatch
		}
	case QuestionBoolean:
		if a.Type != AnswerBoolean {
			return mismatch
		}
	case QuestionSingleChoice:
		if a.Type != AnswerText || !contains(q.Options, a.Text) {
			return mismatch
		}
	case QuestionMultiChoice:
		if a.Type != AnswerArray {
			return mismatch
		}
		for _, v := range a.Array {
			if !contains(q.Options, v) {
				return Invalid(fmt.Sprintf("option %q is not offered by question %s", v, q.ID))
			}
		}
	default:
		return mismatch
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// AnswerType 是答案的标签。
type AnswerType string

const (
	AnswerText    AnswerType = "text"
	AnswerNumber  AnswerType = "number"
	AnswerBoolean AnswerType = "boolean"
	AnswerArray   AnswerType = "array"
)

// Answer 是一个带标签的变体，只有与 Type 对应的字段有意义。
// JSON 形式为 {"type": "...", "value": ...}。
type Answer struct {
	Type   AnswerType
	Text   string
	Number float64
	Bool   bool
	Array  []string
}

type answerJSON struct {
	Type  AnswerType      `json:"type"`
	Value json.RawMessage `json:"value"`
}

func (a Answer) MarshalJSON() ([]byte, error) {
	var v any
	switch a.Type {
	case AnswerText:
		v = a.Text
	case AnswerNumber:
		v = a.Number
	case AnswerBoolean:
		v = a.Bool
	case AnswerArray:
		arr := a.Array
		if arr == nil {
			arr = []string{}
		}
		v = arr
	default:
		return nil, fmt.Errorf("unknown answer type %q", a.Type)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(answerJSON{Type: a.Type, Value: raw})
}

func (a *Answer) UnmarshalJSON(data []byte) error {
	var aj answerJSON
	if err := json.Unmarshal(data, &aj); err != nil {
		return err
	}
	out := Answer{Type: aj.Type}
	var target any
	switch aj.Type {
	case AnswerText:
		target = &out.Text
	case AnswerNumber:
		target = &out.Number
	case AnswerBoolean:
		target = &out.Bool
	case AnswerArray:
		target = &out.Array
	default:
		return fmt.Errorf("unknown answer type %q", aj.Type)
	}
	if len(aj.Value) == 0 {
		return fmt.Errorf("answer of type %q has no value", aj.Type)
	}
	if err := json.Unmarshal(aj.Value, target); err != nil {
		return fmt.Errorf("answer value does not match type %q: %w", aj.Type, err)
	}
	*a = out
	return nil
}

// Response 是一条原始答卷记录，每个问题一行。
type Response struct {
	ID          string
	TenantID    string
	QuestionID  string
	Email       *string
	Answer      Answer
	SubmittedAt time.Time
}
