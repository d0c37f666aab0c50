package rooms

import (
	"strings"

	"github.com/google/uuid"
)

const generatedCodeLength = 8

// CodeGenerator issues new room codes.
type CodeGenerator interface {
	NewCode() (string, error)
}

type uuidCodeGenerator struct{}

// NewUUIDCodeGenerator constructs a CodeGenerator that derives short codes from random UUIDs.
func NewUUIDCodeGenerator() CodeGenerator {
	return &uuidCodeGenerator{}
}

func (g *uuidCodeGenerator) NewCode() (string, error) {
	value, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(value.String(), "-", "")[:generatedCodeLength], nil
}
