package validation

// Flow documents are the wire shape of a flow as submitted by the builder
// UI or loaded from an external store. They are validated with
// go-playground/validator before being converted into core entities.

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/stepflow/stepflow/internal/core/flow"
)

// Validate is the shared validator instance with stepflow-specific rules.
var Validate *validator.Validate

var identPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

func init() {
	Validate = validator.New()

	Validate.RegisterValidation("step_id", validateStepID)
	Validate.RegisterValidation("step_target", validateStepTarget)
	Validate.RegisterValidation("flow_status", validateFlowStatus)
	Validate.RegisterValidation("block_type", validateBlockType)

	// Use JSON tags for field names in error reports
	Validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})
}

// FlowDocument is the external representation of a flow.
type FlowDocument struct {
	ID         string          `json:"id" validate:"required,step_id"`
	OwnerID    string          `json:"owner_id" validate:"required"`
	Title      string          `json:"title" validate:"required,min=1,max=200"`
	Status     string          `json:"status" validate:"omitempty,flow_status"`
	EntryPoint string          `json:"entry_point,omitempty" validate:"omitempty,step_id"`
	Icon       string          `json:"icon,omitempty" validate:"omitempty,max=500"`
	Nodes      []NodeDocument  `json:"nodes" validate:"dive"`
	Blocks     []BlockDocument `json:"blocks,omitempty" validate:"dive"`
}

// NodeDocument is the external representation of a content step.
type NodeDocument struct {
	ID          string           `json:"id" validate:"required,step_id"`
	Title       string           `json:"title" validate:"max=200"`
	Components  []flow.Component `json:"components,omitempty"`
	Connections []string         `json:"connections,omitempty" validate:"dive,step_target"`
}

// BlockDocument is the external representation of a logic block.
// The variant payloads are passed through; their shape is checked by the
// core LogicBlock.Validate during conversion.
type BlockDocument struct {
	ID        string              `json:"id" validate:"required,step_id"`
	Type      string              `json:"type" validate:"required,block_type"`
	IfElse    *flow.IfElseSpec    `json:"if_else,omitempty"`
	MultiPath *flow.MultiPathSpec `json:"multi_path,omitempty"`
	Score     *flow.ScoreSpec     `json:"score,omitempty"`
	ABTest    *flow.ABTestSpec    `json:"ab_test,omitempty"`
}

// ValidateDocument runs tag validation on a flow document.
func ValidateDocument(doc *FlowDocument) error {
	return Validate.Struct(doc)
}

// ToFlow converts a validated document into the core aggregate. Conversion
// re-runs core entity validation so bypassing ValidateDocument still cannot
// produce a malformed in-memory flow.
func (doc *FlowDocument) ToFlow() (*flow.Flow, error) {
	f := &flow.Flow{
		ID:         doc.ID,
		OwnerID:    doc.OwnerID,
		Title:      doc.Title,
		Status:     flow.Status(doc.Status),
		EntryPoint: doc.EntryPoint,
		Icon:       doc.Icon,
	}
	if f.Status == "" {
		f.Status = flow.StatusDraft
	}
	for _, nd := range doc.Nodes {
		node := &flow.Node{
			ID:          nd.ID,
			Title:       nd.Title,
			Components:  nd.Components,
			Connections: nd.Connections,
		}
		if err := f.AddNode(node); err != nil {
			return nil, err
		}
	}
	for _, bd := range doc.Blocks {
		block := &flow.LogicBlock{
			ID:        bd.ID,
			Type:      flow.BlockType(bd.Type),
			IfElse:    bd.IfElse,
			MultiPath: bd.MultiPath,
			Score:     bd.Score,
			ABTest:    bd.ABTest,
		}
		if err := f.AddLogicBlock(block); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Custom validation functions for stepflow-specific rules

func validateStepID(fl validator.FieldLevel) bool {
	id := fl.Field().String()
	if id == "" || id == flow.EndTarget {
		return false
	}
	return identPattern.MatchString(id) && len(id) <= 100
}

// validateStepTarget accepts everything validateStepID does, plus the end
// sentinel.
func validateStepTarget(fl validator.FieldLevel) bool {
	target := fl.Field().String()
	if target == flow.EndTarget {
		return true
	}
	return identPattern.MatchString(target) && len(target) <= 100
}

func validateFlowStatus(fl validator.FieldLevel) bool {
	switch flow.Status(fl.Field().String()) {
	case flow.StatusDraft, flow.StatusLive, flow.StatusArchived:
		return true
	}
	return false
}

func validateBlockType(fl validator.FieldLevel) bool {
	switch flow.BlockType(fl.Field().String()) {
	case flow.BlockIfElse, flow.BlockMultiPath, flow.BlockScoreThreshold, flow.BlockABTest:
		return true
	}
	return false
}
