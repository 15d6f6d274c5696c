package form

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"glata-widget/internal/storage"
	"glata-widget/pkg/logger"
)

type State string

const (
	StateInactive  State = "inactive"
	StateActive    State = "active"
	StateSuspended State = "suspended"
	StateComplete  State = "complete"
)

var (
	ErrFormActive    = errors.New("form: another form is already in progress")
	ErrNoActiveForm  = errors.New("form: no form in progress")
	ErrNotSuspended  = errors.New("form: form is not suspended")
	ErrExitScheduled = errors.New("form: form is closing")
)

// ValidationError is a normal per-field failure; the form stays on the
// same field and the UI re-prompts.
type ValidationError struct {
	FieldID string
	Reason  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("field %s: %s", e.FieldID, e.Reason)
}

// Gate is an eligibility rule. A failing gate is not a validation
// error: it disqualifies the user and ends the form early.
type Gate struct {
	Check   func(value string) bool
	Message string
}

type Field struct {
	ID       string
	Prompt   string
	Required bool
	Pattern  *regexp.Regexp
	Gate     *Gate
}

// CollectedValue preserves completion order.
type CollectedValue struct {
	FieldID string `json:"field_id"`
	Value   string `json:"value"`
}

// Snapshot is the persisted suspended state.
type Snapshot struct {
	FormID     string           `json:"form_id"`
	FieldIndex int              `json:"field_index"`
	Values     []CollectedValue `json:"values"`
}

// Events are the machine's outbound notifications. Any may be nil.
// Handlers run synchronously under the machine's lock and must not call
// back into it.
type Events struct {
	// OnPrompt fires when a field becomes current.
	OnPrompt func(field Field)
	// OnComplete delivers the collected values exactly once per form.
	OnComplete func(formID string, values []CollectedValue)
	// OnGateExit fires immediately on a failed eligibility gate; the
	// transition to inactive follows after the configured delay.
	OnGateExit func(field Field, message string)
}

// Machine tracks at most one structured-collection flow per
// conversation: it can be interrupted mid-form, persisted, resumed,
// pivoted to a different form, or cancelled.
type Machine struct {
	mu sync.Mutex

	sessionID string
	store     storage.Store
	exitDelay time.Duration
	events    Events

	state      State
	formID     string
	fields     []Field
	fieldIndex int
	values     []CollectedValue

	exitTimer *time.Timer
	exiting   bool
}

func NewMachine(sessionID string, store storage.Store, exitDelay time.Duration, events Events) *Machine {
	return &Machine{
		sessionID: sessionID,
		store:     store,
		exitDelay: exitDelay,
		events:    events,
		state:     StateInactive,
	}
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) FieldIndex() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fieldIndex
}

func (m *Machine) Values() []CollectedValue {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CollectedValue(nil), m.values...)
}

// Start begins a new form. A form already active or suspended must be
// cancelled (or pivoted via SwitchTo) first.
func (m *Machine) Start(formID string, fields []Field) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateActive || m.state == StateSuspended {
		return ErrFormActive
	}
	if len(fields) == 0 {
		return fmt.Errorf("form %s has no fields", formID)
	}

	m.state = StateActive
	m.formID = formID
	m.fields = fields
	m.fieldIndex = 0
	m.values = nil
	m.exiting = false

	logger.WithComponent("form").Infof("form %s started (%d fields)", formID, len(fields))
	m.promptLocked()
	return nil
}

// Submit validates the answer for the current field and advances.
func (m *Machine) Submit(value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateActive {
		return ErrNoActiveForm
	}
	if m.exiting {
		return ErrExitScheduled
	}

	field := m.fields[m.fieldIndex]

	if field.Required && value == "" {
		return &ValidationError{FieldID: field.ID, Reason: "value is required"}
	}
	if field.Pattern != nil && value != "" && !field.Pattern.MatchString(value) {
		return &ValidationError{FieldID: field.ID, Reason: "value has the wrong format"}
	}

	if field.Gate != nil && !field.Gate.Check(value) {
		m.scheduleGateExitLocked(field)
		return nil
	}

	m.values = append(m.values, CollectedValue{FieldID: field.ID, Value: value})
	m.fieldIndex++

	if m.fieldIndex >= len(m.fields) {
		m.completeLocked()
		return nil
	}

	m.promptLocked()
	return nil
}

// Observe routes conversational input while a form is collecting: it
// classifies the text and either submits, suspends or cancels. The
// returned intent tells the caller what happened; IntentMistake is
// surfaced without a transition.
func (m *Machine) Observe(input string) (Intent, error) {
	if m.State() != StateActive {
		return IntentContinue, ErrNoActiveForm
	}

	intent := ClassifyInput(input)
	switch intent {
	case IntentCancel:
		return intent, m.Cancel()
	case IntentQuestion:
		return intent, m.Suspend()
	case IntentMistake:
		return intent, nil
	default:
		return intent, m.Submit(input)
	}
}

// Suspend snapshots the in-progress state and persists it so the
// conversation can wander before resuming.
func (m *Machine) Suspend() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateActive {
		return ErrNoActiveForm
	}

	snap := Snapshot{
		FormID:     m.formID,
		FieldIndex: m.fieldIndex,
		Values:     append([]CollectedValue(nil), m.values...),
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal form snapshot: %w", err)
	}
	if err := m.store.Put(m.sessionID, storage.KeyFormSnapshotPrefix+m.formID, data); err != nil {
		return fmt.Errorf("persist form snapshot: %w", err)
	}

	m.state = StateSuspended
	logger.WithComponent("form").Infof("form %s suspended at field %d", m.formID, m.fieldIndex)
	return nil
}

// Resume restores the suspended snapshot and discards it from storage.
func (m *Machine) Resume() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateSuspended {
		return ErrNotSuspended
	}

	key := storage.KeyFormSnapshotPrefix + m.formID
	data, err := m.store.Get(m.sessionID, key)
	if err != nil {
		return fmt.Errorf("load form snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decode form snapshot: %w", err)
	}

	m.fieldIndex = snap.FieldIndex
	m.values = snap.Values
	m.state = StateActive
	m.store.Delete(m.sessionID, key)

	logger.WithComponent("form").Infof("form %s resumed at field %d", m.formID, m.fieldIndex)
	m.promptLocked()
	return nil
}

// Cancel discards all in-progress state and any persisted snapshot,
// unconditionally. Cancelling with no form in progress is a no-op.
func (m *Machine) Cancel() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateActive && m.state != StateSuspended {
		return nil
	}

	if m.formID != "" {
		m.store.Delete(m.sessionID, storage.KeyFormSnapshotPrefix+m.formID)
	}
	logger.WithComponent("form").Infof("form %s cancelled", m.formID)
	m.resetLocked()
	return nil
}

// SwitchTo is the pivot transition: abandon the current form (active or
// suspended) and start a different one in a single step.
func (m *Machine) SwitchTo(formID string, fields []Field) error {
	if err := m.Cancel(); err != nil {
		return err
	}
	return m.Start(formID, fields)
}

func (m *Machine) completeLocked() {
	m.state = StateComplete
	values := append([]CollectedValue(nil), m.values...)
	formID := m.formID
	logger.WithComponent("form").Infof("form %s complete (%d values)", formID, len(values))

	if m.events.OnComplete != nil {
		m.events.OnComplete(formID, values)
	}

	// Complete is terminal for this session; yield immediately so the
	// next form can start.
	m.resetLocked()
}

func (m *Machine) scheduleGateExitLocked(field Field) {
	msg := field.Gate.Message
	if msg == "" {
		msg = "Unfortunately you are not eligible to continue."
	}
	logger.WithComponent("form").Infof("form %s: eligibility gate failed on %s", m.formID, field.ID)

	if m.events.OnGateExit != nil {
		m.events.OnGateExit(field, msg)
	}

	m.exiting = true
	m.exitTimer = time.AfterFunc(m.exitDelay, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.exiting {
			m.resetLocked()
		}
	})
}

func (m *Machine) promptLocked() {
	if m.events.OnPrompt != nil {
		m.events.OnPrompt(m.fields[m.fieldIndex])
	}
}

func (m *Machine) resetLocked() {
	if m.exitTimer != nil {
		m.exitTimer.Stop()
		m.exitTimer = nil
	}
	m.state = StateInactive
	m.formID = ""
	m.fields = nil
	m.fieldIndex = 0
	m.values = nil
	m.exiting = false
}
