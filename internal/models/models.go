// Package models defines the core data structures for MetaCoach.
//
// It includes the API request and response envelopes shared by the HTTP layer and its tests.
package models

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// Validation constants for input validation
const (
	// MaxStatementLength defines the maximum number of runes accepted for a statement
	MaxStatementLength = 2000
	// MaxDraftFieldLength defines the maximum number of runes for a single free-text draft field
	MaxDraftFieldLength = 8000
	// MaxLifeWheelAreas defines the maximum number of life-wheel areas per user
	MaxLifeWheelAreas = 16
	// MaxLifeWheelValue defines the upper bound of a life-wheel rating
	MaxLifeWheelValue = 10
)

// Error variables for better error handling and testability
var (
	ErrEmptyStatement      = errors.New("statement cannot be empty")
	ErrStatementTooLong    = errors.New("statement exceeds maximum length")
	ErrDraftFieldTooLong   = errors.New("draft field exceeds maximum length")
	ErrTooManyAreas        = errors.New("too many life-wheel areas")
	ErrEmptyAreaName       = errors.New("life-wheel area name cannot be empty")
	ErrAreaValueOutOfRange = errors.New("life-wheel value out of range")
	// ErrPersistence marks an outcome that succeeded in memory but could not be stored.
	ErrPersistence = errors.New("persistence degraded")
)

// ValidateStatement checks a user statement before analysis.
func ValidateStatement(statement string) error {
	trimmed := strings.TrimSpace(statement)
	if trimmed == "" {
		return ErrEmptyStatement
	}
	if utf8.RuneCountInString(trimmed) > MaxStatementLength {
		return ErrStatementTooLong
	}
	return nil
}

// AnalyzeRequest is the body of a stateless analysis request.
type AnalyzeRequest struct {
	Statement    string           `json:"statement"`
	CurrentLevel ProficiencyLevel `json:"current_level,omitempty"`
	UserContext  *UserContext     `json:"user_context,omitempty"`
}

// Validate performs validation on an AnalyzeRequest.
func (r *AnalyzeRequest) Validate() error {
	if err := ValidateStatement(r.Statement); err != nil {
		return err
	}
	if r.CurrentLevel != 0 {
		return r.CurrentLevel.Validate()
	}
	return nil
}

// AnalyzeResponse is the result of the analyze, assess and feedback pipeline.
type AnalyzeResponse struct {
	Analysis   AnalysisResult  `json:"analysis"`
	Assessment LevelAssessment `json:"assessment"`
	Message    CoachMessage    `json:"message"`
}

// StatementRequest submits a statement within a workflow phase.
type StatementRequest struct {
	Statement   string       `json:"statement"`
	UserContext *UserContext `json:"user_context,omitempty"`
}

// Validate performs validation on a StatementRequest.
func (r *StatementRequest) Validate() error {
	return ValidateStatement(r.Statement)
}

// OpenWorkflowRequest opens or resumes a workflow.
type OpenWorkflowRequest struct {
	UserContext *UserContext `json:"user_context,omitempty"`
}

// LifeWheelRequest replaces the user's life-wheel ratings.
type LifeWheelRequest struct {
	Areas []LifeWheelArea `json:"areas"`
}

// Validate performs validation on a LifeWheelRequest.
func (r *LifeWheelRequest) Validate() error {
	if len(r.Areas) > MaxLifeWheelAreas {
		return ErrTooManyAreas
	}
	for _, a := range r.Areas {
		if strings.TrimSpace(a.Name) == "" {
			return ErrEmptyAreaName
		}
		if a.CurrentValue < 0 || a.CurrentValue > MaxLifeWheelValue || a.TargetValue < 0 || a.TargetValue > MaxLifeWheelValue {
			return ErrAreaValueOutOfRange
		}
	}
	return nil
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
	// APIStatusBlocked indicates a phase transition was refused by its validation gate.
	APIStatusBlocked APIStatus = "blocked"
	// APIStatusRecorded indicates data was successfully recorded via API.
	APIStatusRecorded APIStatus = "recorded"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{
		response: APIResponse{},
	}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithMessage(message).
		WithResult(result).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}

// Blocked creates a response for a transition refused by a phase gate.
func Blocked(reason string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusBlocked).
		WithMessage(reason).
		WithResult(result).
		Build()
}

// Recorded creates a recorded API response.
func Recorded() APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusRecorded).
		Build()
}
