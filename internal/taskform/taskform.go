// Package taskform is a step-by-step form for building a task in a
// conversational front-end. It only collects and validates input; the
// caller creates the task once the form is confirmed.
package taskform

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/dukerupert/famhabit/internal/config"
	"github.com/dukerupert/famhabit/internal/model"
	"github.com/dukerupert/famhabit/internal/task"
)

type Step string

const (
	StepChild       Step = "child"
	StepTitle       Step = "title"
	StepDescription Step = "description"
	StepType        Step = "type"
	StepPoints      Step = "points"
	StepCoins       Step = "coins"
	StepConfirm     Step = "confirm"
	StepDone        Step = "done"
	StepCancelled   Step = "cancelled"
)

// Words accepted at any step or at the confirm step.
const (
	CancelWord  = "cancel"
	SkipWord    = "-"
	ConfirmWord = "yes"
)

var (
	ErrFinished     = errors.New("form is finished")
	ErrNotConfirmed = errors.New("form is not confirmed")
)

var next = map[Step]Step{
	StepChild:       StepTitle,
	StepTitle:       StepDescription,
	StepDescription: StepType,
	StepType:        StepPoints,
	StepPoints:      StepCoins,
	StepCoins:       StepConfirm,
	StepConfirm:     StepDone,
}

// Form holds the answers collected so far. The zero value is not usable;
// start with New.
type Form struct {
	step    Step
	rewards config.Rewards

	DependentID  int64
	Title        string
	Description  string
	EvidenceType model.EvidenceType
	Points       int
	Coins        int
}

func New(rewards config.Rewards) *Form {
	return &Form{step: StepChild, rewards: rewards}
}

func (f *Form) Step() Step {
	return f.step
}

func (f *Form) Finished() bool {
	return f.step == StepDone || f.step == StepCancelled
}

// Input answers the current step. An invalid answer returns a
// ValidationError-style message and leaves the form on the same step.
func (f *Form) Input(value string) error {
	if f.Finished() {
		return ErrFinished
	}
	value = strings.TrimSpace(value)
	if strings.EqualFold(value, CancelWord) {
		f.step = StepCancelled
		return nil
	}

	var err error
	switch f.step {
	case StepChild:
		f.DependentID, err = strconv.ParseInt(value, 10, 64)
		if err != nil || f.DependentID <= 0 {
			return errors.New("pick a child from the list")
		}
	case StepTitle:
		if n := utf8.RuneCountInString(value); n < 3 || n > 120 {
			return errors.New("title must be 3 to 120 characters")
		}
		f.Title = value
	case StepDescription:
		if value == SkipWord {
			value = ""
		}
		f.Description = value
	case StepType:
		et := model.EvidenceType(strings.ToLower(value))
		if !et.Valid() {
			return errors.New("type must be text, photo or video")
		}
		f.EvidenceType = et
	case StepPoints:
		if f.Points, err = parseBounded(value, f.rewards.MaxPoints); err != nil {
			return fmt.Errorf("points %w", err)
		}
	case StepCoins:
		if f.Coins, err = parseBounded(value, f.rewards.MaxCoins); err != nil {
			return fmt.Errorf("coins %w", err)
		}
	case StepConfirm:
		if !strings.EqualFold(value, ConfirmWord) {
			return fmt.Errorf("reply %q to create the task or %q to stop", ConfirmWord, CancelWord)
		}
	}

	f.step = next[f.step]
	return nil
}

// Params returns the create request once the form has been confirmed.
func (f *Form) Params(guardianID int64) (task.CreateParams, error) {
	if f.step != StepDone {
		return task.CreateParams{}, ErrNotConfirmed
	}
	return task.CreateParams{
		GuardianID:   guardianID,
		DependentID:  f.DependentID,
		Title:        f.Title,
		Description:  f.Description,
		EvidenceType: f.EvidenceType,
		Points:       f.Points,
		Coins:        f.Coins,
	}, nil
}

func parseBounded(value string, max int) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 || n > max {
		return 0, fmt.Errorf("must be a number from 0 to %d", max)
	}
	return n, nil
}
