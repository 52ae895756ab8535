package autofill

// StepState is the per-step memory of the engine: which fields were
// interacted with, which upload controls received the sample document,
// which groups are locked, and how many corrections were attempted.
// Reset is the only way it is cleared.
type StepState struct {
	interacted map[string]struct{}
	uploaded   map[string]struct{}
	locked     map[string]struct{}

	CorrectionAttempts int

	baseline    string
	baselineURL string
	hasBaseline bool
}

// NewStepState returns an empty state.
func NewStepState() *StepState {
	s := &StepState{}
	s.Reset()
	return s
}

// Reset clears all per-step memory. The baseline is kept.
func (s *StepState) Reset() {
	s.interacted = make(map[string]struct{})
	s.uploaded = make(map[string]struct{})
	s.locked = make(map[string]struct{})
	s.CorrectionAttempts = 0
}

// Observe compares the current fingerprint and URL against the baseline and
// resets when either changed. It reports whether a reset happened.
func (s *StepState) Observe(fingerprint, url string) bool {
	changed := s.hasBaseline && (fingerprint != s.baseline || url != s.baselineURL)
	if changed {
		s.Reset()
	}
	s.SetBaseline(fingerprint, url)
	return changed
}

// SetBaseline records what the current step looks like.
func (s *StepState) SetBaseline(fingerprint, url string) {
	s.baseline = fingerprint
	s.baselineURL = url
	s.hasBaseline = true
}

func (s *StepState) Interacted(key string) bool { return has(s.interacted, key) }
func (s *StepState) MarkInteracted(key string)  { s.interacted[key] = struct{}{} }
func (s *StepState) Uploaded(key string) bool   { return has(s.uploaded, key) }
func (s *StepState) MarkUploaded(key string)    { s.uploaded[key] = struct{}{} }
func (s *StepState) Locked(group string) bool   { return has(s.locked, group) }
func (s *StepState) Lock(group string)          { s.locked[group] = struct{}{} }

// Empty reports whether no memory has been recorded since the last reset.
func (s *StepState) Empty() bool {
	return len(s.interacted) == 0 && len(s.uploaded) == 0 && len(s.locked) == 0 && s.CorrectionAttempts == 0
}

// Counts returns the sizes of the interacted, uploaded and locked sets.
func (s *StepState) Counts() (interacted, uploaded, locked int) {
	return len(s.interacted), len(s.uploaded), len(s.locked)
}

func has(set map[string]struct{}, key string) bool {
	_, ok := set[key]
	return ok
}
