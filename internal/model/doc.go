// Package model defines the portable entity types of a .zakapp.json file.
//
// Entities form a tagged union selected by the entityType discriminant:
// Asset, NisabRecord and Payment each carry their own field set and their
// own unique-key basis. Each collection of the export payload holds exactly
// one variant.
//
// Conversion to and from canon.Object lives here too. Fields the current
// schema does not know, and required fields an older schema did not write,
// are recorded as Drift and carried forward under metadata.legacy.
package model
