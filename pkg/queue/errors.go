package queue

import "errors"

var (
	ErrRepositoryNil          = errors.New("repository cannot be nil")
	ErrPayloadNil             = errors.New("payload cannot be nil")
	ErrPayloadMarshal         = errors.New("failed to marshal payload to JSON")
	ErrTaskCreate             = errors.New("failed to create task in storage")
	ErrInvalidPriority        = errors.New("priority must be between 0 and 100")
	ErrInvalidRetryPolicy     = errors.New("invalid retry policy")
	ErrHandlerNotFound        = errors.New("no handler registered for task type")
	ErrNoHandlers             = errors.New("no task handlers registered")
	ErrInvalidSchedule        = errors.New("invalid schedule format")
	ErrTaskAlreadyRegistered  = errors.New("task already registered")
	ErrSchedulerNotConfigured = errors.New("scheduler has no registered tasks")
	ErrNoTaskToClaim          = errors.New("no task to claim")
	ErrTaskNotFound           = errors.New("task not found")
	ErrInvalidTaskState       = errors.New("task is not in the expected state")
	ErrWorkerStarted          = errors.New("worker already started")
	ErrWorkerNotStarted       = errors.New("worker not started")
	ErrFailedToClaimTask      = errors.New("failed to claim task")
	ErrFailedToUpdateTask     = errors.New("failed to update task status")
	ErrFailedToMoveToDLQ      = errors.New("failed to move task to dead letter queue")
	ErrFailedToPurge          = errors.New("failed to purge tasks")
)
