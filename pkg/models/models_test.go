package models

import (
	"errors"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const requiredTag = "required"

func validationErrors(t *testing.T, v any) validator.ValidationErrors {
	t.Helper()

	err := validator.New(validator.WithRequiredStructEnabled()).Struct(v)
	if err == nil {
		return nil
	}

	var target validator.ValidationErrors
	require.True(t, errors.As(err, &target))

	return target
}

func hasFieldError(errs validator.ValidationErrors, field, tag string) bool {
	for _, fieldErr := range errs {
		if fieldErr.Field() == field && fieldErr.Tag() == tag {
			return true
		}
	}

	return false
}

func TestFlow_Validation(t *testing.T) {
	valid := &Flow{
		TenantID: "tenant-1",
		Name:     "Atendimento",
		Draft: FlowGraph{
			Nodes: []Node{{ID: "start", Type: NodeTypeStart}},
		},
	}
	assert.Empty(t, validationErrors(t, valid))

	short := *valid
	short.Name = "ab"
	assert.True(t, hasFieldError(validationErrors(t, &short), "Name", "min"))

	noTenant := *valid
	noTenant.TenantID = ""
	assert.True(t, hasFieldError(validationErrors(t, &noTenant), "TenantID", requiredTag))
}

func TestFlowGraph_ValidationDivesIntoNodesAndEdges(t *testing.T) {
	graph := FlowGraph{
		Nodes: []Node{{ID: "start"}},
		Edges: []Edge{{ID: "e1", Source: "start"}},
	}

	errs := validationErrors(t, &graph)
	assert.True(t, hasFieldError(errs, "Type", requiredTag))
	assert.True(t, hasFieldError(errs, "Target", requiredTag))
}

func TestTemplate_Validation(t *testing.T) {
	template := &Template{
		ID:      "menu",
		Text:    "Escolha uma opção",
		Buttons: []Button{{ID: "a", Label: "Vendas"}, {ID: "b"}},
	}

	errs := validationErrors(t, template)
	require.Len(t, errs, 1)
	assert.True(t, hasFieldError(errs, "Label", requiredTag))

	template.Buttons[1].Label = "Suporte"
	assert.Empty(t, validationErrors(t, template))
	assert.True(t, template.HasButtons())
}

func TestInboundEvent_Validation(t *testing.T) {
	event := &InboundEvent{Channel: ChannelTelegram, Text: "oi"}

	errs := validationErrors(t, event)
	assert.True(t, hasFieldError(errs, "TenantID", requiredTag))
	assert.True(t, hasFieldError(errs, "ChannelUserID", requiredTag))
	assert.False(t, hasFieldError(errs, "Channel", requiredTag))
}

func TestSchedule_Validation(t *testing.T) {
	schedule := &Schedule{
		Rules: map[string]DayRule{"seg": {Active: true, Start: "9:00", End: "18:00"}},
	}

	errs := validationErrors(t, schedule)
	assert.True(t, hasFieldError(errs, "Name", requiredTag))

	schedule.Name = "Comercial"
	assert.Empty(t, validationErrors(t, schedule))
}
