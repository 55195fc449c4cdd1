// SPDX-License-Identifier: MIT

// Package staruml parses StarUML .mdj project files into a class-diagram
// model that can be written out as PlantUML.
package staruml

// Visibility markers as they appear in PlantUML output.
const (
	VisibilityPublic    = "+"
	VisibilityPrivate   = "-"
	VisibilityProtected = "#"
	VisibilityPackage   = "~"
)

// Attribute is a field of a classifier.
type Attribute struct {
	Name       string
	Type       string
	Visibility string
}

// Operation is a method of a classifier.
type Operation struct {
	Name       string
	ReturnType string
	Visibility string
}

// Classifier is a class, interface or enumeration found in the project.
type Classifier struct {
	ID         string
	Name       string
	Kind       string // "class", "interface" or "enum"
	Attributes []Attribute
	Operations []Operation
	Literals   []string // enumeration literals, empty otherwise
}

// RelationKind enumerates the UML relationship types the converter handles.
type RelationKind string

const (
	RelationGeneralization RelationKind = "generalization"
	RelationRealization    RelationKind = "realization"
	RelationAssociation    RelationKind = "association"
	RelationDependency     RelationKind = "dependency"
)

// Relationship links two classifiers by name.
type Relationship struct {
	Kind               RelationKind
	Source             string
	Target             string
	Label              string
	SourceMultiplicity string
	TargetMultiplicity string
}

// Model is the flattened class-diagram content of a .mdj project. Notes are
// only populated for models recovered from images, where the vision model may
// report free-text annotations.
type Model struct {
	Name          string
	Classifiers   []Classifier
	Relationships []Relationship
	Notes         []string
}
