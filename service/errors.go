package service

import "errors"

var (
	ErrNoDuration            = errors.New("bonus time needs a positive duration")
	ErrControllerUnreachable = errors.New("controller unreachable")
	// ErrOrphanSchedule is logged, never returned, when a schedule's device
	// no longer exists.
	ErrOrphanSchedule      = errors.New("schedule references a missing device")
	ErrPartialGrant        = errors.New("bonus time only partially granted, retry")
	ErrReconcileInProgress = errors.New("reconciliation already running")
)
