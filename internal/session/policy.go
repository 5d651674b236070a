package session

import (
	"time"

	"face-recorder/internal/models"
)

// Action - что сделать с записью после очередного кадра
type Action int

const (
	ActionNone Action = iota
	ActionStartRecording
	ActionContinueRecording
	ActionStopRecording
)

func (a Action) String() string {
	switch a {
	case ActionStartRecording:
		return "START_RECORDING"
	case ActionContinueRecording:
		return "CONTINUE_RECORDING"
	case ActionStopRecording:
		return "STOP_RECORDING"
	default:
		return "NONE"
	}
}

// State - изменяемое состояние одной сессии.
// Инвариант: Recording => Monitoring.
type State struct {
	Monitoring     bool
	Recording      bool
	AbsentFrames   int       // Подряд кадров без лица, растет только во время записи
	SessionStart   time.Time // Нулевое значение - сессии нет
	RecordingStart time.Time
	MaxFaces       int
}

// Policy - гистерезис старт/стоп записи.
// Threshold - сколько кадров подряд без лица завершают запись.
type Policy struct {
	Threshold int
}

// NewPolicy создает политику с порогом в кадрах (минимум 1)
func NewPolicy(threshold int) Policy {
	if threshold < 1 {
		threshold = 1
	}
	return Policy{Threshold: threshold}
}

// Transition - чистая функция: (состояние, детекция) -> (новое состояние, действие)
func (p Policy) Transition(state State, det models.DetectionResult, now time.Time) (State, Action) {
	if det.Present {
		state.AbsentFrames = 0
		if det.Count > state.MaxFaces {
			state.MaxFaces = det.Count
		}
		if !state.Recording {
			state.Recording = true
			state.RecordingStart = now
			return state, ActionStartRecording
		}
		return state, ActionContinueRecording
	}

	if !state.Recording {
		return state, ActionNone
	}

	state.AbsentFrames++
	if state.AbsentFrames >= p.Threshold {
		state.Recording = false
		state.AbsentFrames = 0
		state.RecordingStart = time.Time{}
		return state, ActionStopRecording
	}
	return state, ActionContinueRecording
}
