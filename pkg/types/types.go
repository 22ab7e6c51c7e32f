// Package types defines the core data structures for the Caligo anonymization
// engine. These types represent detected entities, entity groups, substitution
// audit entries, and the error taxonomy shared by every layer above.
package types

import "errors"

// Source identifies which detector produced an entity.
type Source string

// Detection source constants.
const (
	// SourcePattern marks entities found by the deterministic pattern extractor.
	SourcePattern Source = "pattern"

	// SourceModel marks entities found by the statistical NER model.
	SourceModel Source = "model"

	// SourceManual marks entities added by the user.
	SourceManual Source = "manual"
)

// ValidSources lists every valid detection source for validation.
var ValidSources = []Source{SourcePattern, SourceModel, SourceManual}

// IsValidSource checks if the given source is valid.
func IsValidSource(s Source) bool {
	for _, valid := range ValidSources {
		if valid == s {
			return true
		}
	}
	return false
}

// EntityType classifies the kind of sensitive data an entity covers.
type EntityType string

// Entity type constants - the closed set of anonymizable categories.
const (
	// EntityPerson covers names of natural persons.
	EntityPerson EntityType = "person"

	// EntityOrganization covers company, court and institution names.
	EntityOrganization EntityType = "organization"

	// EntityPhone covers phone numbers.
	EntityPhone EntityType = "phone"

	// EntityEmail covers email addresses.
	EntityEmail EntityType = "email"

	// EntityNationalID covers national identification numbers
	// (e.g. French social security numbers).
	EntityNationalID EntityType = "national-id"

	// EntityRegistryNumber covers business registry numbers
	// (SIRET, SIREN, RCS, intra-community VAT, APE/NAF codes).
	EntityRegistryNumber EntityType = "registry-number"

	// EntityAddress covers postal addresses.
	EntityAddress EntityType = "address"

	// EntityLegalReference covers docket and case references
	// (N° RG, Dossier n°, Article, Arrêt, ...).
	EntityLegalReference EntityType = "legal-reference"
)

// ValidEntityTypes lists every valid entity type for validation.
var ValidEntityTypes = []EntityType{
	EntityPerson,
	EntityOrganization,
	EntityPhone,
	EntityEmail,
	EntityNationalID,
	EntityRegistryNumber,
	EntityAddress,
	EntityLegalReference,
}

// IsValidEntityType checks if the given entity type is valid.
func IsValidEntityType(t EntityType) bool {
	for _, valid := range ValidEntityTypes {
		if valid == t {
			return true
		}
	}
	return false
}

// Error taxonomy shared across the registry, group manager and HTTP layer.
// Callers wrap these with fmt.Errorf("...: %w", Err...) and match with
// errors.Is.
var (
	// ErrValidation indicates malformed input: empty text, invalid offsets,
	// out-of-range confidence, empty group creation.
	ErrValidation = errors.New("validation error")

	// ErrConflict indicates a state conflict: entity already grouped, or a
	// duplicate entity at an identical span and source.
	ErrConflict = errors.New("conflict")

	// ErrNotFound indicates an unknown entity, group or session id.
	ErrNotFound = errors.New("not found")
)
