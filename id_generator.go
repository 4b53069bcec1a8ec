package promptloop

import "github.com/google/uuid"

// IDGenerator provides run identifiers used in logs and transcripts
type IDGenerator interface {
	// GenerateRunID generates a unique run identifier
	GenerateRunID() string
}

// DefaultIDGenerator implements IDGenerator using UUID v7
type DefaultIDGenerator struct{}

// GenerateRunID generates a run ID using UUID v7
func (g *DefaultIDGenerator) GenerateRunID() string {
	return uuid.Must(uuid.NewV7()).String()
}
