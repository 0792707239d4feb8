package storage

import "errors"

// ErrCheckpointRegression is returned when a checkpoint write would move backwards.
var ErrCheckpointRegression = errors.New("checkpoint regression")
