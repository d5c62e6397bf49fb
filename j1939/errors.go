package j1939

import (
	"errors"
	"fmt"
)

var (
	ErrZeroResolution = errors.New("resolution cannot be zero")
)

type UnknownSignalError struct {
	ID string
}

func (err UnknownSignalError) Error() string {
	return fmt.Sprintf("no such signal %s", err.ID)
}

type SignalDefinitionError struct {
	ID     string
	Reason string
}

func (err SignalDefinitionError) Error() string {
	if len(err.ID) == 0 {
		err.ID = "UNKOWN"
	}
	return fmt.Sprintf("invalid signal definition %s: %s", err.ID, err.Reason)
}
