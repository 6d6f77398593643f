package pipeline

// UIAction is a control offered for a pipeline in a given status.
type UIAction string

const (
	UIStart    UIAction = "start"
	UIPause    UIAction = "pause"
	UIShutdown UIAction = "shutdown"
	UIEdit     UIAction = "edit"
	UIDelete   UIAction = "delete"
	// UISpinner marks a pending transition; nothing can be triggered.
	UISpinner UIAction = "spinner"
)

// Kind returns the lifecycle action behind a, if any.
func (a UIAction) Kind() (ActionKind, bool) {
	switch a {
	case UIStart:
		return ActionStart, true
	case UIPause:
		return ActionPause, true
	case UIShutdown:
		return ActionShutdown, true
	case UIDelete:
		return ActionDelete, true
	default:
		return "", false
	}
}

// AvailableActions lists the controls for a pipeline. programReady is true
// once the attached program compiled.
func AvailableActions(status ClientStatus, programReady bool) []UIAction {
	switch status {
	case StatusInactive:
		if programReady {
			return []UIAction{UIStart, UIEdit, UIDelete}
		}
		return []UIAction{UIEdit, UIDelete}
	case StatusProvisioning, StatusInitializing, StatusStarting, StatusPausing, StatusShuttingDown:
		return []UIAction{UISpinner, UIEdit}
	case StatusRunning:
		return []UIAction{UIPause, UIShutdown, UIEdit}
	case StatusPaused:
		if programReady {
			return []UIAction{UIStart, UIShutdown, UIEdit}
		}
		return []UIAction{UIEdit}
	case StatusFailed:
		return []UIAction{UIShutdown, UIEdit}
	case StatusUnknown, StatusCreateFailure, StatusStartupFailure:
		return []UIAction{UIEdit}
	default:
		return []UIAction{UIEdit}
	}
}

// Allows reports whether kind is offered for status.
func Allows(status ClientStatus, programReady bool, kind ActionKind) bool {
	for _, a := range AvailableActions(status, programReady) {
		if k, ok := a.Kind(); ok && k == kind {
			return true
		}
	}
	return false
}

// Tone is the color family of a status chip.
type Tone string

const (
	ToneNeutral   Tone = "neutral"
	ToneInfo      Tone = "info"
	ToneSecondary Tone = "secondary"
	ToneSuccess   Tone = "success"
	ToneError     Tone = "error"
)

type Chip struct {
	Label string
	Tone  Tone
}

// StatusChip returns how status is rendered. Inactive and paused pipelines
// whose program is not ready show as compiling.
func StatusChip(status ClientStatus, programReady bool) Chip {
	switch status {
	case StatusUnknown:
		return Chip{status.String(), ToneNeutral}
	case StatusInactive:
		if programReady {
			return Chip{status.String(), ToneNeutral}
		}
		return Chip{"Compiling", ToneInfo}
	case StatusPaused:
		if programReady {
			return Chip{status.String(), ToneInfo}
		}
		return Chip{"Compiling", ToneInfo}
	case StatusInitializing, StatusProvisioning, StatusStarting, StatusShuttingDown:
		return Chip{status.String(), ToneSecondary}
	case StatusPausing:
		return Chip{status.String(), ToneInfo}
	case StatusRunning:
		return Chip{status.String(), ToneSuccess}
	case StatusFailed, StatusCreateFailure, StatusStartupFailure:
		return Chip{status.String(), ToneError}
	default:
		return Chip{status.String(), ToneNeutral}
	}
}
