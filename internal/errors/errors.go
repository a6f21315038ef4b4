// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
)

// Error kinds, matched with errors.Is.
var (
	ErrNotFound               = errors.New("not found")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrDuplicateLead          = errors.New("duplicate lead")
	ErrDuplicateCampaign      = errors.New("duplicate campaign")
	ErrTemplateMissing        = errors.New("template missing")
	ErrDispatchFailure        = errors.New("dispatch failure")
	ErrInvalidInput           = errors.New("invalid input")
)

// ErrCampaignNotFound is returned for unknown campaign instance ids.
type ErrCampaignNotFound struct {
	CampaignID string
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %s not found", e.CampaignID)
}

func (e *ErrCampaignNotFound) Is(target error) bool { return target == ErrNotFound }

// Helper constructor
func NewCampaignNotFound(id string) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

type ErrLeadNotFound struct {
	LeadID string
}

func (e *ErrLeadNotFound) Error() string {
	return fmt.Sprintf("lead with ID %s not found", e.LeadID)
}

func (e *ErrLeadNotFound) Is(target error) bool { return target == ErrNotFound }

func NewLeadNotFound(id string) error {
	return &ErrLeadNotFound{LeadID: id}
}

type ErrTemplateNotFound struct {
	Name string
}

func (e *ErrTemplateNotFound) Error() string {
	return fmt.Sprintf("campaign template %q not found", e.Name)
}

func (e *ErrTemplateNotFound) Is(target error) bool { return target == ErrNotFound }

func NewTemplateNotFound(name string) error {
	return &ErrTemplateNotFound{Name: name}
}

// ErrStateTransition reports pause/resume misuse.
type ErrStateTransition struct {
	CampaignID string
	From       string
	To         string
}

func (e *ErrStateTransition) Error() string {
	return fmt.Sprintf("campaign %s cannot move from %s to %s", e.CampaignID, e.From, e.To)
}

func (e *ErrStateTransition) Is(target error) bool { return target == ErrInvalidStateTransition }

func NewStateTransition(id, from, to string) error {
	return &ErrStateTransition{CampaignID: id, From: from, To: to}
}

type ErrLeadExists struct {
	LeadID string
}

func (e *ErrLeadExists) Error() string {
	return fmt.Sprintf("lead with ID %s already exists", e.LeadID)
}

func (e *ErrLeadExists) Is(target error) bool { return target == ErrDuplicateLead }

func NewDuplicateLead(id string) error {
	return &ErrLeadExists{LeadID: id}
}

type ErrCampaignExists struct {
	CampaignID string
}

func (e *ErrCampaignExists) Error() string {
	return fmt.Sprintf("campaign with ID %s already exists", e.CampaignID)
}

func (e *ErrCampaignExists) Is(target error) bool { return target == ErrDuplicateCampaign }

func NewDuplicateCampaign(id string) error {
	return &ErrCampaignExists{CampaignID: id}
}

// ErrStructural marks an instance that can never make progress again,
// e.g. its template is gone or its lead no longer resolves.
type ErrStructural struct {
	CampaignID string
	Reason     string
}

func (e *ErrStructural) Error() string {
	return fmt.Sprintf("campaign %s: %s", e.CampaignID, e.Reason)
}

func (e *ErrStructural) Is(target error) bool { return target == ErrTemplateMissing }

func NewTemplateMissing(campaignID, reason string) error {
	return &ErrStructural{CampaignID: campaignID, Reason: reason}
}

// NewLeadMissing reports an instance whose lead no longer resolves. It is
// structural, so it matches ErrTemplateMissing as well.
func NewLeadMissing(campaignID, leadID string) error {
	return &ErrStructural{CampaignID: campaignID, Reason: fmt.Sprintf("lead %s not found", leadID)}
}

type ErrSendFailed struct {
	CampaignID string
	StepIndex  int
	Detail     string
}

func (e *ErrSendFailed) Error() string {
	return fmt.Sprintf("campaign %s step %d: dispatch failed: %s", e.CampaignID, e.StepIndex, e.Detail)
}

func (e *ErrSendFailed) Is(target error) bool { return target == ErrDispatchFailure }

func NewDispatchFailure(campaignID string, step int, detail string) error {
	return &ErrSendFailed{CampaignID: campaignID, StepIndex: step, Detail: detail}
}

type ErrValidation struct {
	Field  string
	Reason string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ErrValidation) Is(target error) bool { return target == ErrInvalidInput }

func NewValidation(field, reason string) error {
	return &ErrValidation{Field: field, Reason: reason}
}
