// SPDX-License-Identifier: MIT

package plantuml

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"github.com/umlgrade/umlgrade/internal/staruml"
)

func TestGenerate(t *testing.T) {
	m := &staruml.Model{
		Name: "Shop",
		Classifiers: []staruml.Classifier{
			{
				Name: "Order",
				Kind: "class",
				Attributes: []staruml.Attribute{
					{Name: "id", Type: "int", Visibility: "-"},
					{Name: "note", Visibility: "+"},
				},
				Operations: []staruml.Operation{
					{Name: "submit", ReturnType: "bool", Visibility: "+"},
					{Name: "cancel", Visibility: "#"},
				},
			},
			{
				Name: "Payable",
				Kind: "interface",
				Operations: []staruml.Operation{
					{Name: "pay", ReturnType: "void", Visibility: "+"},
				},
			},
			{
				Name:     "Status",
				Kind:     "enum",
				Literals: []string{"OPEN", "CLOSED"},
			},
		},
		Relationships: []staruml.Relationship{
			{Kind: staruml.RelationGeneralization, Source: "Order", Target: "Document"},
			{Kind: staruml.RelationRealization, Source: "Order", Target: "Payable"},
			{Kind: staruml.RelationAssociation, Source: "Order", Target: "Item", Label: "contains", TargetMultiplicity: "0..*"},
			{Kind: staruml.RelationDependency, Source: "Order", Target: "Status"},
		},
		Notes: []string{"draft model"},
	}

	want := strings.Join([]string{
		"@startuml",
		"title Shop",
		"",
		"class Order {",
		"  - id: int",
		"  + note",
		"  --",
		"  + submit(): bool",
		"  # cancel()",
		"}",
		"",
		"interface Payable {",
		"  + pay(): void",
		"}",
		"",
		"enum Status {",
		"  OPEN",
		"  CLOSED",
		"}",
		"",
		"Order --|> Document",
		"Order ..|> Payable",
		"Order --> Item : contains [0..*]",
		"Order ..> Status",
		"note top : draft model",
		"@enduml",
		"",
	}, "\n")

	got := Generate(m)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("output mismatch (-want +got):\n%s", diff)
	}
}

func TestGenerateEmptyModel(t *testing.T) {
	got := Generate(&staruml.Model{})
	assert.True(t, strings.HasPrefix(got, "@startuml\n"))
	assert.True(t, strings.HasSuffix(got, "@enduml\n"))
	assert.NotContains(t, got, "title")
}

func TestGenerateNoSeparatorWithoutAttributes(t *testing.T) {
	m := &staruml.Model{
		Classifiers: []staruml.Classifier{
			{
				Name:       "Service",
				Kind:       "class",
				Operations: []staruml.Operation{{Name: "run", Visibility: "+"}},
			},
		},
	}
	got := Generate(m)
	assert.NotContains(t, got, "--\n")
	assert.Contains(t, got, "  + run()\n")
}
