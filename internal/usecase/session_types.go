package usecase

import (
	"fmt"
	"sync"

	"voxpad/internal/domain"
)

// stateMachine enforces Idle -> Encoding -> Streaming -> {Succeeded | Failed}.
// Failed carries its reason; no other state does.
type stateMachine struct {
	mu      sync.Mutex
	state   domain.SessionState
	failure *domain.Error
	claimed bool
}

func newStateMachine() *stateMachine {
	return &stateMachine{state: domain.SessionStateIdle}
}

// claim reserves an idle machine for exactly one run.
func (m *stateMachine) claim() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claimed || m.state != domain.SessionStateIdle {
		return false
	}
	m.claimed = true
	return true
}

func (m *stateMachine) advance(next domain.SessionState) (domain.SessionStatus, error) {
	if next == domain.SessionStateFailed {
		return domain.SessionStatus{}, domain.NewError(domain.ErrorCodeInvalidState, "failed transition requires a reason", nil)
	}
	return m.transition(next, nil)
}

func (m *stateMachine) fail(reason *domain.Error) (domain.SessionStatus, error) {
	if reason == nil {
		return domain.SessionStatus{}, domain.NewError(domain.ErrorCodeInvalidState, "failed transition requires a reason", nil)
	}
	return m.transition(domain.SessionStateFailed, reason)
}

func (m *stateMachine) transition(next domain.SessionState, reason *domain.Error) (domain.SessionStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !canTransition(m.state, next) {
		return domain.SessionStatus{}, domain.NewError(domain.ErrorCodeInvalidState,
			fmt.Sprintf("illegal session transition %s -> %s", m.state, next), nil)
	}
	m.state = next
	m.failure = reason
	return domain.SessionStatus{State: m.state, Err: m.failure}, nil
}

func (m *stateMachine) status() domain.SessionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return domain.SessionStatus{State: m.state, Err: m.failure}
}

func canTransition(from domain.SessionState, to domain.SessionState) bool {
	switch from {
	case domain.SessionStateIdle:
		return to == domain.SessionStateEncoding || to == domain.SessionStateFailed
	case domain.SessionStateEncoding:
		return to == domain.SessionStateStreaming || to == domain.SessionStateFailed
	case domain.SessionStateStreaming:
		return to == domain.SessionStateSucceeded || to == domain.SessionStateFailed
	case domain.SessionStateSucceeded, domain.SessionStateFailed:
		return false
	default:
		return false
	}
}
