package action

import (
	"fmt"
	"math"

	"github.com/Aimtara/teachmo-sub002/internal/features"
	"github.com/Aimtara/teachmo-sub002/internal/signal"
	"github.com/Aimtara/teachmo-sub002/internal/state"
)

// Input is what every lane builder sees.
type Input struct {
	State    state.OrchestratorState
	Signal   signal.Signal
	Features features.Vector
}

// blend holds the raw numbers for one candidate before clamping.
type blend struct {
	kid, relationship, school float64
	cognitive, emotional      float64
	minutes                   int
	parent, teacher           float64
}

// #region lanes
func notifyNow(in Input) (Type, blend) {
	f := in.Features
	return TypeNotifyNow, blend{
		kid:          0.3 + 0.4*f.Impact,
		relationship: 0.2,
		school:       0.4 + 0.5*f.Urgency,
		cognitive:    0.2 + 0.3*f.Effort,
		emotional:    0.2 + 0.3*f.EmotionHeat,
		minutes:      2,
		parent:       f.ParentBurden,
		teacher:      f.TeacherBurden,
	}
}

func addToDigest(in Input) (Type, blend) {
	f := in.Features
	return TypeAddToDigest, blend{
		kid:          0.2 * f.Impact,
		relationship: 0.3,
		school:       0.2 + 0.3*f.Urgency,
		cognitive:    0.05,
		emotional:    0.05,
		minutes:      1,
		parent:       0.5 * f.ParentBurden,
		teacher:      0.5 * f.TeacherBurden,
	}
}

func draftMessage(in Input) (Type, blend) {
	f := in.Features
	return TypeDraftMessage, blend{
		kid:          0.2 + 0.3*f.Impact,
		relationship: 0.5 + 0.4*f.EmotionHeat,
		school:       0.3,
		cognitive:    0.3,
		emotional:    0.3 + 0.3*f.EmotionHeat,
		minutes:      8,
		parent:       f.ParentBurden,
		teacher:      f.TeacherBurden,
	}
}

func createMicroTask(in Input, minMinutes int) (Type, blend) {
	f := in.Features
	return TypeCreateMicroTask, blend{
		kid:          0.3 + 0.4*f.Impact,
		relationship: 0.15,
		school:       0.5 + 0.4*f.Blocking,
		cognitive:    0.15 + 0.3*f.Effort,
		emotional:    0.1,
		minutes:      max(minMinutes, int(math.Round(30*f.Effort))),
		parent:       f.ParentBurden,
		teacher:      0.5 * f.TeacherBurden,
	}
}

func proposeMeeting(Input) (Type, blend) {
	return TypeProposeMeeting, blend{
		kid:          0.35,
		relationship: 0.45,
		school:       0.25,
		cognitive:    0.3,
		emotional:    0.2,
		minutes:      15,
		parent:       0.4,
		teacher:      0.4,
	}
}

func suggestConnectionMoment(Input) (Type, blend) {
	return TypeSuggestConnectionMoment, blend{
		kid:          0.5,
		relationship: 0.3,
		school:       0.05,
		cognitive:    0.1,
		emotional:    0.05,
		minutes:      10,
		parent:       0.2,
	}
}

func doNothing(Input) (Type, blend) {
	return TypeDoNothing, blend{}
}

// #endregion lanes

// #region copy
func title(t Type, sig signal.Signal) string {
	subject := sig.Common().Title
	if subject == "" {
		subject = string(sig.Type)
	}
	switch t {
	case TypeNotifyNow:
		return "Heads up: " + subject
	case TypeAddToDigest:
		return "Saved for your digest: " + subject
	case TypeDraftMessage:
		return "Draft a calm reply: " + subject
	case TypeCreateMicroTask:
		return "Quick task: " + subject
	case TypeProposeMeeting:
		return "Propose a check-in with school"
	case TypeSuggestConnectionMoment:
		return "Take ten minutes together"
	default:
		return "Nothing needed right now"
	}
}

func summary(t Type, in Input) string {
	switch t {
	case TypeDoNothing:
		return "No action keeps the load where it is."
	case TypeSuggestConnectionMoment, TypeProposeMeeting:
		return fmt.Sprintf("Things are calm (slack %.2f); a good moment to invest.", in.State.Slack)
	}
	if s := in.Signal.Common().Summary; s != "" {
		return s
	}
	return fmt.Sprintf("From a %s %s signal.", in.Signal.Source, in.Signal.Type)
}

// #endregion copy
