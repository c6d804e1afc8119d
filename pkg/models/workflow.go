package models

// DocumentType classifies a registered document by direction.
type DocumentType string

const (
	DocumentTypeIncoming DocumentType = "incoming"
	DocumentTypeOutgoing DocumentType = "outgoing"
	DocumentTypeInternal DocumentType = "internal"
)

// DocumentTypes returns every document type.
func DocumentTypes() []DocumentType {
	return []DocumentType{
		DocumentTypeIncoming,
		DocumentTypeOutgoing,
		DocumentTypeInternal,
	}
}

// Valid reports whether t is a known document type.
func (t DocumentType) Valid() bool {
	switch t {
	case DocumentTypeIncoming, DocumentTypeOutgoing, DocumentTypeInternal:
		return true
	}
	return false
}

// DocumentStatus is the lifecycle state of a document.
type DocumentStatus string

const (
	DocumentStatusDraft      DocumentStatus = "draft"
	DocumentStatusRegistered DocumentStatus = "registered"
	DocumentStatusInWork     DocumentStatus = "in_work"
	DocumentStatusResolved   DocumentStatus = "resolved"
	DocumentStatusArchived   DocumentStatus = "archived"
)

// Valid reports whether s is a known document status.
func (s DocumentStatus) Valid() bool {
	switch s {
	case DocumentStatusDraft,
		DocumentStatusRegistered,
		DocumentStatusInWork,
		DocumentStatusResolved,
		DocumentStatusArchived:
		return true
	}
	return false
}

// Priority is a business priority carried on a document.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// WorkflowAction is a routing action recorded against a document.
type WorkflowAction string

const (
	WorkflowActionSent     WorkflowAction = "sent"
	WorkflowActionReceived WorkflowAction = "received"
	WorkflowActionReturned WorkflowAction = "returned"
	WorkflowActionApproved WorkflowAction = "approved"
	WorkflowActionRejected WorkflowAction = "rejected"
	WorkflowActionResolved WorkflowAction = "resolved"
)

// WorkflowActions returns every workflow action.
func WorkflowActions() []WorkflowAction {
	return []WorkflowAction{
		WorkflowActionSent,
		WorkflowActionReceived,
		WorkflowActionReturned,
		WorkflowActionApproved,
		WorkflowActionRejected,
		WorkflowActionResolved,
	}
}

// Valid reports whether a is a known workflow action.
func (a WorkflowAction) Valid() bool {
	_, ok := a.transition()
	return ok
}

// AllowedFrom returns the document statuses an action may be applied to.
func (a WorkflowAction) AllowedFrom() []DocumentStatus {
	t, _ := a.transition()
	return t.from
}

// NextStatus returns the status a document moves to when the action is applied
// to a document in status from. ok is false when the transition is not allowed.
func (a WorkflowAction) NextStatus(from DocumentStatus) (next DocumentStatus, ok bool) {
	t, known := a.transition()
	if !known {
		return "", false
	}
	for _, s := range t.from {
		if s == from {
			return t.to, true
		}
	}
	return "", false
}

// IsResolution reports whether the action closes the routing cycle.
func (a WorkflowAction) IsResolution() bool {
	t, _ := a.transition()
	return t.to == DocumentStatusResolved
}

type transition struct {
	from []DocumentStatus
	to   DocumentStatus
}

func (a WorkflowAction) transition() (transition, bool) {
	switch a {
	case WorkflowActionSent:
		return transition{
			from: []DocumentStatus{DocumentStatusRegistered, DocumentStatusInWork},
			to:   DocumentStatusInWork,
		}, true
	case WorkflowActionReceived, WorkflowActionReturned:
		return transition{
			from: []DocumentStatus{DocumentStatusInWork},
			to:   DocumentStatusInWork,
		}, true
	case WorkflowActionApproved, WorkflowActionRejected, WorkflowActionResolved:
		return transition{
			from: []DocumentStatus{DocumentStatusInWork},
			to:   DocumentStatusResolved,
		}, true
	}
	return transition{}, false
}
