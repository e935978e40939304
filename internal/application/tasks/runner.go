package tasks

import "log"

// Runner is the submission contract for detached units of work. The pipeline
// never awaits a submitted task; the task runs to completion or failure on
// its own.
type Runner interface {
	Submit(task func())
}

// GoRunner runs each task on its own goroutine.
type GoRunner struct{}

func (GoRunner) Submit(task func()) {
	go safeRun(task)
}

// safeRun keeps a panicking task from taking the process down.
func safeRun(task func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("background task panic: %v", r)
		}
	}()
	task()
}

// SyncRunner executes tasks inline. Used in tests so the background branch
// becomes deterministic.
type SyncRunner struct{}

func (SyncRunner) Submit(task func()) {
	safeRun(task)
}
