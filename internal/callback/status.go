package callback

import "fmt"

// Status is the closed set of states an editor callback can report.
type Status int

const (
	StatusEditing         Status = 1
	StatusReadyToSave     Status = 2
	StatusSaveError       Status = 3
	StatusClosedNoChanges Status = 4
	StatusForceSave       Status = 6
	StatusForceSaveError  Status = 7
)

// ParseStatus accepts only the codes above.
func ParseStatus(code int) (Status, error) {
	switch s := Status(code); s {
	case StatusEditing, StatusReadyToSave, StatusSaveError, StatusClosedNoChanges, StatusForceSave, StatusForceSaveError:
		return s, nil
	}
	return 0, fmt.Errorf("%w: %d", ErrUnknownStatus, code)
}

func (s Status) String() string {
	switch s {
	case StatusEditing:
		return "editing"
	case StatusReadyToSave:
		return "ready_to_save"
	case StatusSaveError:
		return "save_error"
	case StatusClosedNoChanges:
		return "closed_no_changes"
	case StatusForceSave:
		return "force_save"
	case StatusForceSaveError:
		return "force_save_error"
	}
	return "unknown"
}

// Saves reports whether the status carries content to commit.
func (s Status) Saves() bool {
	return s == StatusReadyToSave || s == StatusForceSave
}
