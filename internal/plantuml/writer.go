// SPDX-License-Identifier: MIT

// Package plantuml renders a parsed class-diagram model as PlantUML source
// text.
package plantuml

import (
	"fmt"
	"strings"

	"github.com/umlgrade/umlgrade/internal/staruml"
)

// Generate produces PlantUML source for the model. Classifiers appear in
// parse order, relationships and notes after them.
func Generate(m *staruml.Model) string {
	var b strings.Builder
	b.WriteString("@startuml\n")
	if m.Name != "" {
		fmt.Fprintf(&b, "title %s\n", m.Name)
	}
	b.WriteString("\n")

	for _, c := range m.Classifiers {
		writeClassifier(&b, c)
		b.WriteString("\n")
	}

	for _, r := range m.Relationships {
		b.WriteString(relationLine(r))
		b.WriteString("\n")
	}

	for _, n := range m.Notes {
		fmt.Fprintf(&b, "note top : %s\n", n)
	}

	b.WriteString("@enduml\n")
	return b.String()
}

func writeClassifier(b *strings.Builder, c staruml.Classifier) {
	keyword := "class"
	switch c.Kind {
	case "interface":
		keyword = "interface"
	case "enum":
		keyword = "enum"
	}
	fmt.Fprintf(b, "%s %s {\n", keyword, c.Name)

	for _, l := range c.Literals {
		fmt.Fprintf(b, "  %s\n", l)
	}

	for _, a := range c.Attributes {
		if a.Type != "" {
			fmt.Fprintf(b, "  %s %s: %s\n", a.Visibility, a.Name, a.Type)
		} else {
			fmt.Fprintf(b, "  %s %s\n", a.Visibility, a.Name)
		}
	}

	if len(c.Attributes) > 0 && len(c.Operations) > 0 {
		b.WriteString("  --\n")
	}

	for _, o := range c.Operations {
		if o.ReturnType != "" {
			fmt.Fprintf(b, "  %s %s(): %s\n", o.Visibility, o.Name, o.ReturnType)
		} else {
			fmt.Fprintf(b, "  %s %s()\n", o.Visibility, o.Name)
		}
	}

	b.WriteString("}\n")
}

func relationLine(r staruml.Relationship) string {
	var arrow string
	switch r.Kind {
	case staruml.RelationGeneralization:
		arrow = "--|>"
	case staruml.RelationRealization:
		arrow = "..|>"
	case staruml.RelationDependency:
		arrow = "..>"
	default:
		arrow = "-->"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s", r.Source, arrow, r.Target)
	if r.Label != "" {
		fmt.Fprintf(&b, " : %s", r.Label)
	}
	if m := multiplicity(r); m != "" {
		fmt.Fprintf(&b, " [%s]", m)
	}
	return b.String()
}

// multiplicity collapses the association-end multiplicities into the single
// bracket suffix the output format uses. The target side wins when both are
// set, which is the many side in typical exports.
func multiplicity(r staruml.Relationship) string {
	if r.TargetMultiplicity != "" {
		return r.TargetMultiplicity
	}
	return r.SourceMultiplicity
}
